package triage

import (
	"context"
	"encoding/json"
	"fmt"
	"iter"
	"slices"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/go-core/xerrors"

	"github.com/linnemanlabs/medtriage/internal/policy"
	"github.com/linnemanlabs/medtriage/internal/simindex"
	"github.com/linnemanlabs/medtriage/internal/specialty"
)

// OutcomeAbandoned marks a turn whose consumer stopped reading before the
// terminal event.
const OutcomeAbandoned Outcome = "abandoned"

const suggestionTBD = "TBD"

// EngineHooks receives observability callbacks. All fields are optional.
type EngineHooks struct {
	OnLLMCall  func(purpose string, inputTokens, outputTokens int, duration float64, failed bool)
	OnComplete func(e *CompleteEvent)
	OnSubmit   func(result string)
	OnNotify   func(failed bool)
}

// CompleteEvent summarises one finished turn.
type CompleteEvent struct {
	CorrelationID string
	Outcome       Outcome
	Model         string
	Duration      float64
	Symptoms      int
	NewSymptoms   int
	Specialty     string
}

// Turn is the input of one orchestrator run.
type Turn struct {
	CorrelationID string
	Messages      []Message
	Accumulated   []string
}

// Engine runs the per-turn state machine: extract, merge, gate, then either
// ask for more symptoms or map them to codes and a specialty. The index,
// resolver and policy are shared read-only across turns.
type Engine struct {
	gateway  *Gateway
	index    *simindex.Index
	resolver *specialty.Resolver
	policy   policy.Policy
	logger   log.Logger
	hooks    EngineHooks
}

// NewEngine creates a new triage engine with the given dependencies.
func NewEngine(gateway *Gateway, index *simindex.Index, resolver *specialty.Resolver, pol policy.Policy, logger log.Logger, hooks EngineHooks) *Engine {
	if gateway == nil {
		panic(xerrors.New("triage.NewEngine: gateway is nil"))
	}
	if index == nil {
		panic(xerrors.New("triage.NewEngine: index is nil"))
	}
	if resolver == nil {
		panic(xerrors.New("triage.NewEngine: resolver is nil"))
	}
	if logger == nil {
		logger = log.Nop()
	}
	return &Engine{
		gateway:  gateway,
		index:    index,
		resolver: resolver,
		policy:   pol,
		logger:   logger,
		hooks:    hooks,
	}
}

// Run returns the ordered events of one turn. Every path that is read to the
// end finishes with exactly one metadata event followed by one terminal
// event; failures and panics inside the turn become an error chunk on the
// same path. Stopping the iteration early abandons the turn.
func (e *Engine) Run(ctx context.Context, t *Turn) iter.Seq[Event] {
	return func(yield func(Event) bool) {
		ctx, span := tracer.Start(ctx, "triage.turn", trace.WithAttributes(
			attribute.String("medtriage.correlation_id", t.CorrelationID),
			attribute.Int("medtriage.turn.messages", len(t.Messages)),
			attribute.Int("medtriage.symptoms.input", len(t.Accumulated)),
		))
		defer span.End()

		r := &turnRun{
			engine:   e,
			yield:    yield,
			id:       t.CorrelationID,
			model:    e.gateway.Model(),
			symptoms: slices.Clone(t.Accumulated),
			logger:   e.logger.With("correlation_id", t.CorrelationID),
			start:    time.Now(),
		}
		defer r.complete(ctx, span)
		defer func() {
			if p := recover(); p != nil {
				r.recovered(ctx, p)
			}
		}()

		r.run(ctx, t)
	}
}

// MatchDiagnoses retrieves candidate codes for every mapping and assigns each
// symptom the specialty of its best code. A sentinel or blank diagnosis is
// searched by its symptom text instead.
func (e *Engine) MatchDiagnoses(mappings []DiagnosisMapping) []SymptomMatch {
	allowed := simindex.Prefixes(e.policy.AllowedPrefixes)
	out := make([]SymptomMatch, 0, len(mappings))
	for _, m := range mappings {
		query := m.Diagnosis
		if strings.TrimSpace(query) == "" || query == UnspecifiedDiagnosis {
			query = m.Symptom
		}
		candidates := e.index.QueryFloor(CleanForRetrieval(query), e.policy.TopK, allowed, e.policy.MinScore)

		sm := SymptomMatch{
			Symptom:    m.Symptom,
			Diagnosis:  m.Diagnosis,
			Candidates: candidates,
		}
		code := ""
		if len(candidates) > 0 {
			best := candidates[0]
			sm.Best = &best
			code = best.Code
		}
		sm.Specialty = e.resolver.Assign(code)
		out = append(out, sm)
	}
	return out
}

// Vote returns the match's contribution to the session specialty.
func (m SymptomMatch) Vote() specialty.Vote {
	if m.Best == nil {
		return specialty.Vote{}
	}
	return specialty.Vote{Code: m.Best.Code, Specialty: m.Specialty}
}

// turnRun is the mutable state of one Run.
type turnRun struct {
	engine *Engine
	yield  func(Event) bool
	logger log.Logger
	start  time.Time

	id    string
	model string

	symptoms  []string
	added     int
	specialty string

	outcome  Outcome
	stopped  bool
	inYield  bool
	finished bool
}

func (r *turnRun) run(ctx context.Context, t *Turn) {
	e := r.engine

	ext := e.gateway.ExtractSymptoms(ctx, t.Messages)
	if ext.Model != "" {
		r.model = ext.Model
	}

	if ext.Kind != ExtractionStructured {
		if len(t.Messages) > e.policy.OpeningTurnMaxMessages {
			r.logger.Warn(ctx, "symptom extraction failed, falling back",
				"kind", ext.Kind.String(),
				"reason", ext.Reason,
			)
			r.fallback(ctx, t.Messages)
			return
		}
		r.logger.Info(ctx, "no symptoms in opening turn", "kind", ext.Kind.String(), "reason", ext.Reason)
	}

	finish := FinishError
	if ext.Kind == ExtractionStructured && len(ext.Symptoms) > 0 {
		finish = FinishStop
	}
	if !r.emit(Event{Kind: EventStageDone, Stage: StageExtractionDone, FinishReason: finish}) {
		return
	}

	before := len(MergeSymptoms(t.Accumulated, nil))
	r.symptoms = MergeSymptoms(t.Accumulated, ext.Symptoms)
	r.added = len(r.symptoms) - before

	r.logger.Info(ctx, "symptoms merged",
		"extracted", len(ext.Symptoms),
		"added", r.added,
		"total", len(r.symptoms),
	)

	if len(r.symptoms) < e.policy.GateThreshold {
		r.emit(Event{Kind: EventFinal, Stage: StageFinal, Content: askMoreText(r.symptoms), FinishReason: FinishStop})
		r.finish(OutcomeAskMore)
		return
	}
	r.mapping(ctx)
}

func (r *turnRun) fallback(ctx context.Context, turn []Message) {
	if !r.emit(Event{Kind: EventFallbackContent, Stage: StageInfo, Content: fallbackInfoLine}) {
		return
	}
	for frag, err := range r.engine.gateway.Clarify(ctx, turn) {
		if err != nil {
			r.fail(ctx, fmt.Errorf("fallback conversation: %w", err))
			return
		}
		if frag.Model != "" {
			r.model = frag.Model
		}
		if frag.Text == "" {
			continue
		}
		if !r.emit(Event{Kind: EventFallbackContent, Stage: StageFallback, Content: frag.Text}) {
			return
		}
	}
	if !r.emit(Event{Kind: EventFallbackContent, Stage: StageFallbackDone, FinishReason: FinishStop}) {
		return
	}
	r.finish(OutcomeFallback)
}

func (r *turnRun) mapping(ctx context.Context) {
	e := r.engine

	mappings, model, err := e.gateway.MapToDiagnoses(ctx, r.symptoms)
	if model != "" {
		r.model = model
	}
	if err != nil {
		r.logger.Error(ctx, err, "diagnosis mapping failed, sending degraded payload", "symptoms", len(r.symptoms))
		r.final(ctx, DegradedPayload{
			Symptoms:     r.symptoms,
			ErrorMessage: degradedMessage,
			ICD10:        []string{},
		}, nil, OutcomeMappingFailed)
		return
	}

	matches := e.MatchDiagnoses(mappings)
	votes := make([]specialty.Vote, len(matches))
	items := make([]ICD10Item, len(matches))
	for i, m := range matches {
		votes[i] = m.Vote()
		items[i] = ICD10Item{
			Symptom:   m.Symptom,
			Diagnosis: m.Diagnosis,
			Specialty: m.Specialty,
		}
		if m.Best != nil {
			items[i].Code = m.Best.Code
			items[i].Label = m.Best.Description
			items[i].Score = m.Best.Score
		}
	}
	r.specialty = e.resolver.ResolveSession(votes)

	r.logger.Info(ctx, "symptoms mapped", "specialty", r.specialty, "codes", len(items))

	ref := &Referral{
		CorrelationID: r.id,
		Specialty:     r.specialty,
		Symptoms:      slices.Clone(r.symptoms),
		Items:         items,
		CreatedAt:     time.Now(),
	}
	r.final(ctx, FinalPayload{
		Symptoms: r.symptoms,
		Mappings: mappings,
		ICD10:    items,
		Appointment: Appointment{
			Specialty:     r.specialty,
			SuggestedDate: suggestionTBD,
			SuggestedTime: suggestionTBD,
		},
	}, ref, OutcomeMapped)
}

func (r *turnRun) final(ctx context.Context, payload any, ref *Referral, outcome Outcome) {
	body, err := json.Marshal(payload)
	if err != nil {
		r.fail(ctx, fmt.Errorf("encode final payload: %w", err))
		return
	}
	r.emit(Event{Kind: EventFinal, Stage: StageFinal, Content: string(body), FinishReason: FinishStop, Referral: ref})
	r.finish(outcome)
}

// fail emits the error chunk and closes the turn.
func (r *turnRun) fail(ctx context.Context, err error) {
	r.logger.Error(ctx, err, "triage turn failed")
	r.emit(Event{Kind: EventContent, Stage: StageError, Content: fmt.Sprintf(internalErrorFmt, err), FinishReason: FinishError})
	r.finish(OutcomeError)
}

func (r *turnRun) recovered(ctx context.Context, p any) {
	if r.inYield {
		// The consumer panicked; it is not ours to handle.
		panic(p)
	}
	if r.finished {
		r.logger.Error(ctx, fmt.Errorf("panic: %v", p), "panic after turn finished")
		return
	}
	r.fail(ctx, fmt.Errorf("%v", p))
}

// finish emits metadata and the terminal marker.
func (r *turnRun) finish(outcome Outcome) {
	r.outcome = outcome
	r.finished = true
	if r.emit(Event{Kind: EventMetadata, Symptoms: slices.Clone(r.symptoms)}) {
		r.emit(Event{Kind: EventTerminal})
	}
}

func (r *turnRun) emit(ev Event) bool {
	if r.stopped {
		return false
	}
	ev.CorrelationID = r.id
	if ev.Model == "" {
		ev.Model = r.model
	}
	if ev.Role == "" && ev.Kind != EventMetadata && ev.Kind != EventTerminal {
		ev.Role = "assistant"
	}
	ev.Created = time.Now()

	r.inYield = true
	ok := r.yield(ev)
	r.inYield = false
	if !ok {
		r.stopped = true
	}
	return ok
}

func (r *turnRun) complete(ctx context.Context, span trace.Span) {
	outcome := r.outcome
	if (r.stopped && !r.finished) || outcome == "" {
		outcome = OutcomeAbandoned
	}
	duration := time.Since(r.start).Seconds()

	span.SetAttributes(
		attribute.String("medtriage.outcome", string(outcome)),
		attribute.Int("medtriage.symptoms.output", len(r.symptoms)),
		attribute.Int("medtriage.symptoms.added", r.added),
		attribute.String("medtriage.specialty", r.specialty),
		attribute.String("gen_ai.response.model", r.model),
	)
	if outcome == OutcomeError {
		span.SetStatus(codes.Error, "triage turn failed")
	}

	r.logger.Info(ctx, "triage turn complete",
		"outcome", outcome,
		"duration", duration,
		"symptoms", len(r.symptoms),
		"added", r.added,
		"model", r.model,
	)

	if r.engine.hooks.OnComplete != nil {
		r.engine.hooks.OnComplete(&CompleteEvent{
			CorrelationID: r.id,
			Outcome:       outcome,
			Model:         r.model,
			Duration:      duration,
			Symptoms:      len(r.symptoms),
			NewSymptoms:   r.added,
			Specialty:     r.specialty,
		})
	}
}
