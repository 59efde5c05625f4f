package triage

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds Prometheus metrics for the triage subsystem.
type Metrics struct {
	TurnsTotal         *prometheus.CounterVec
	TurnDuration       *prometheus.HistogramVec
	TurnSymptoms       prometheus.Histogram
	TurnNewSymptoms    prometheus.Histogram
	SpecialtiesTotal   *prometheus.CounterVec
	LLMCallsTotal      *prometheus.CounterVec
	LLMTokensIn        *prometheus.CounterVec
	LLMTokensOut       *prometheus.CounterVec
	LLMDuration        *prometheus.HistogramVec
	SubmitsTotal       *prometheus.CounterVec
	NotificationsTotal *prometheus.CounterVec
}

// NewMetrics registers and returns triage metrics on the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		TurnsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "medtriage_turns_total",
			Help: "Total triage turns by outcome.",
		}, []string{"outcome"}),
		TurnDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "medtriage_turn_duration_seconds",
			Help:    "Duration of triage turns in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.25, 2, 10), // 0.25s .. ~128s
		}, []string{"outcome", "model"}),
		TurnSymptoms: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "medtriage_turn_symptoms",
			Help:    "Accumulated symptoms at the end of a turn.",
			Buckets: prometheus.LinearBuckets(0, 1, 11), // 0 .. 10
		}),
		TurnNewSymptoms: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "medtriage_turn_new_symptoms",
			Help:    "Symptoms added by a single turn.",
			Buckets: prometheus.LinearBuckets(0, 1, 6), // 0 .. 5
		}),
		SpecialtiesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "medtriage_specialties_total",
			Help: "Session specialty decisions by label.",
		}, []string{"specialty"}),
		LLMCallsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "medtriage_llm_calls_total",
			Help: "Total LLM provider calls by purpose and status.",
		}, []string{"purpose", "status"}),
		LLMTokensIn: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "medtriage_llm_tokens_input_total",
			Help: "Total LLM input tokens consumed.",
		}, []string{"purpose"}),
		LLMTokensOut: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "medtriage_llm_tokens_output_total",
			Help: "Total LLM output tokens consumed.",
		}, []string{"purpose"}),
		LLMDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "medtriage_llm_call_duration_seconds",
			Help:    "Duration of individual LLM calls in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10), // 0.1s .. ~51s
		}, []string{"purpose"}),
		SubmitsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "medtriage_submits_total",
			Help: "Total chat submissions by result.",
		}, []string{"result"}),
		NotificationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "medtriage_referral_notifications_total",
			Help: "Referral notifications by status.",
		}, []string{"status"}),
	}

	reg.MustRegister(
		m.TurnsTotal,
		m.TurnDuration,
		m.TurnSymptoms,
		m.TurnNewSymptoms,
		m.SpecialtiesTotal,
		m.LLMCallsTotal,
		m.LLMTokensIn,
		m.LLMTokensOut,
		m.LLMDuration,
		m.SubmitsTotal,
		m.NotificationsTotal,
	)

	return m
}

func status(failed bool) string {
	if failed {
		return "error"
	}
	return "success"
}

// Hooks returns an EngineHooks that increments the corresponding metrics.
func (m *Metrics) Hooks() EngineHooks {
	return EngineHooks{
		OnLLMCall: func(purpose string, inputTokens, outputTokens int, duration float64, failed bool) {
			m.LLMCallsTotal.WithLabelValues(purpose, status(failed)).Inc()
			m.LLMTokensIn.WithLabelValues(purpose).Add(float64(inputTokens))
			m.LLMTokensOut.WithLabelValues(purpose).Add(float64(outputTokens))
			m.LLMDuration.WithLabelValues(purpose).Observe(duration)
		},
		OnComplete: func(e *CompleteEvent) {
			m.TurnsTotal.WithLabelValues(string(e.Outcome)).Inc()
			m.TurnDuration.WithLabelValues(string(e.Outcome), e.Model).Observe(e.Duration)
			m.TurnSymptoms.Observe(float64(e.Symptoms))
			m.TurnNewSymptoms.Observe(float64(e.NewSymptoms))
			if e.Outcome == OutcomeMapped {
				m.SpecialtiesTotal.WithLabelValues(e.Specialty).Inc()
			}
		},
		OnSubmit: func(result string) {
			m.SubmitsTotal.WithLabelValues(result).Inc()
		},
		OnNotify: func(failed bool) {
			m.NotificationsTotal.WithLabelValues(status(failed)).Inc()
		},
	}
}
