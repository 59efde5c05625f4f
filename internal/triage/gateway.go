package triage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"strings"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/go-core/xerrors"
)

var tracer = otel.Tracer("github.com/linnemanlabs/medtriage/internal/triage")

const (
	extractionMaxTokens = 512
	clarifyMaxTokens    = 512
	mappingMaxTokens    = 1024

	extractionTemperature = 0
	clarifyTemperature    = 0.5
	mappingTemperature    = 0
)

// ErrStreamConsumed is yielded when a clarification stream is ranged over a
// second time.
var ErrStreamConsumed = errors.New("triage: stream already consumed")

// ExtractionKind tags the result of a symptom extraction.
type ExtractionKind int

const (
	// ExtractionFailed means the call failed or returned no usable symptoms.
	ExtractionFailed ExtractionKind = iota
	// ExtractionStructured means a valid, non-empty symptom list was parsed.
	ExtractionStructured
	// ExtractionUnstructured means the backend answered with free text.
	ExtractionUnstructured
)

func (k ExtractionKind) String() string {
	switch k {
	case ExtractionStructured:
		return "structured"
	case ExtractionUnstructured:
		return "unstructured"
	default:
		return "failed"
	}
}

// Extraction is the tagged result of ExtractSymptoms. Symptoms is set for
// ExtractionStructured, Text for ExtractionUnstructured and Reason for the
// other two.
type Extraction struct {
	Kind     ExtractionKind
	Symptoms []string
	Text     string
	Reason   string
	Model    string
}

// Gateway turns provider calls into the three capabilities a turn needs:
// symptom extraction, fallback clarification and diagnosis mapping.
type Gateway struct {
	provider Provider
	logger   log.Logger
	hooks    EngineHooks
	minWords int
}

// NewGateway creates a gateway over provider. Diagnosis phrases shorter than
// minDiagnosisWords are replaced with UnspecifiedDiagnosis.
func NewGateway(provider Provider, logger log.Logger, hooks EngineHooks, minDiagnosisWords int) *Gateway {
	if provider == nil {
		panic(xerrors.New("triage.NewGateway: provider is nil"))
	}
	if logger == nil {
		logger = log.Nop()
	}
	return &Gateway{
		provider: provider,
		logger:   logger,
		hooks:    hooks,
		minWords: max(minDiagnosisWords, 1),
	}
}

// Model returns the provider's configured model label.
func (g *Gateway) Model() string {
	return g.provider.Model()
}

// ExtractSymptoms streams a structured extraction over turn, buffering every
// fragment until the done fragment before parsing. It never returns an error:
// transport and parse problems become ExtractionFailed or
// ExtractionUnstructured.
func (g *Gateway) ExtractSymptoms(ctx context.Context, turn []Message) Extraction {
	req := &LLMRequest{
		MaxTokens:   extractionMaxTokens,
		System:      extractionSystemPrompt,
		Messages:    turn,
		Temperature: extractionTemperature,
		Shape:       symptomShape,
	}
	ctx, span := g.startCall(ctx, "extract", req)
	start := time.Now()

	var (
		buf   strings.Builder
		final Fragment
		done  bool
		err   error
	)
	for frag, ferr := range g.provider.Stream(ctx, req) {
		if ferr != nil {
			err = ferr
			break
		}
		buf.WriteString(frag.Text)
		if frag.Done {
			final, done = frag, true
			break
		}
	}
	if err == nil && !done {
		err = errors.New("stream ended without a done fragment")
	}

	model := final.Model
	if model == "" {
		model = g.provider.Model()
	}

	var ext Extraction
	switch {
	case err != nil:
		ext = Extraction{Kind: ExtractionFailed, Reason: err.Error(), Model: model}
	default:
		ext = classifyExtraction(buf.String(), model)
	}

	span.SetAttributes(
		attribute.String("medtriage.extraction.kind", ext.Kind.String()),
		attribute.Int("medtriage.extraction.symptoms", len(ext.Symptoms)),
	)
	g.endCall(ctx, span, "extract", model, final.Usage, start, buf.String(), err)
	return ext
}

func classifyExtraction(raw, model string) Extraction {
	body := stripCodeFence(raw)
	if body == "" {
		return Extraction{Kind: ExtractionFailed, Reason: "empty response", Model: model}
	}
	symptoms, err := parseSymptoms(body)
	var syntaxErr *json.SyntaxError
	switch {
	case errors.As(err, &syntaxErr):
		return Extraction{Kind: ExtractionUnstructured, Text: raw, Reason: err.Error(), Model: model}
	case err != nil:
		return Extraction{Kind: ExtractionFailed, Reason: err.Error(), Model: model}
	}
	return Extraction{Kind: ExtractionStructured, Symptoms: symptoms, Model: model}
}

type symptomItem struct {
	Name string `json:"name"`
}

// UnmarshalJSON accepts {"name": "..."} or a bare string.
func (s *symptomItem) UnmarshalJSON(b []byte) error {
	if len(b) > 0 && b[0] == '"' {
		return json.Unmarshal(b, &s.Name)
	}
	type plain symptomItem
	return json.Unmarshal(b, (*plain)(s))
}

var (
	errNoSymptoms      = errors.New("no symptoms in response")
	errUnnamedSymptoms = errors.New("symptom without a name")
)

// parseSymptoms reads {"symptoms":[{"name":...}]} or a bare array. Every
// item must be named.
func parseSymptoms(body string) ([]string, error) {
	var items []symptomItem
	if strings.HasPrefix(body, "[") {
		if err := json.Unmarshal([]byte(body), &items); err != nil {
			return nil, err
		}
	} else {
		var list struct {
			Symptoms []symptomItem `json:"symptoms"`
		}
		if err := json.Unmarshal([]byte(body), &list); err != nil {
			return nil, err
		}
		items = list.Symptoms
	}
	if len(items) == 0 {
		return nil, errNoSymptoms
	}

	names := make([]string, 0, len(items))
	for _, it := range items {
		name := strings.TrimSpace(it.Name)
		if name == "" {
			return nil, errUnnamedSymptoms
		}
		names = append(names, name)
	}
	return names, nil
}

// stripCodeFence removes a surrounding markdown code fence that small models
// like to add around JSON.
func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

// Clarify streams a free-text request for more detail. The sequence is
// finite and can be ranged over once.
func (g *Gateway) Clarify(ctx context.Context, turn []Message) iter.Seq2[Fragment, error] {
	var used atomic.Bool
	return func(yield func(Fragment, error) bool) {
		if used.Swap(true) {
			yield(Fragment{}, ErrStreamConsumed)
			return
		}

		req := &LLMRequest{
			MaxTokens:   clarifyMaxTokens,
			System:      fallbackSystemPrompt,
			Messages:    turn,
			Temperature: clarifyTemperature,
		}
		ctx, span := g.startCall(ctx, "clarify", req)
		start := time.Now()

		var (
			final Fragment
			text  strings.Builder
			err   error
		)
		defer func() {
			model := final.Model
			if model == "" {
				model = g.provider.Model()
			}
			g.endCall(ctx, span, "clarify", model, final.Usage, start, text.String(), err)
		}()

		for frag, ferr := range g.provider.Stream(ctx, req) {
			if ferr != nil {
				err = ferr
				yield(Fragment{}, ferr)
				return
			}
			text.WriteString(frag.Text)
			if frag.Done {
				final = frag
			}
			if !yield(frag, nil) || frag.Done {
				return
			}
		}
	}
}

// MapToDiagnoses asks for one diagnosis phrase per symptom. The result is
// aligned with symptoms: entries the backend left out or answered too briefly
// carry UnspecifiedDiagnosis. A failed call or unparseable output is an
// error.
func (g *Gateway) MapToDiagnoses(ctx context.Context, symptoms []string) ([]DiagnosisMapping, string, error) {
	req := &LLMRequest{
		MaxTokens:   mappingMaxTokens,
		System:      buildMappingSystemPrompt(g.minWords),
		Messages:    []Message{{Role: "user", Content: buildMappingUserPrompt(symptoms)}},
		Temperature: mappingTemperature,
		Shape:       mappingShape,
	}
	ctx, span := g.startCall(ctx, "map", req)
	start := time.Now()

	resp, err := g.provider.Complete(ctx, req)
	if err != nil {
		g.endCall(ctx, span, "map", g.provider.Model(), Usage{}, start, "", err)
		return nil, g.provider.Model(), fmt.Errorf("map diagnoses: %w", err)
	}
	if resp == nil {
		err := errors.New("map diagnoses: provider returned no response")
		g.endCall(ctx, span, "map", g.provider.Model(), Usage{}, start, "", err)
		return nil, g.provider.Model(), err
	}

	model := resp.Model
	if model == "" {
		model = g.provider.Model()
	}
	parsed, err := parseMappings(resp.Text)
	if err != nil {
		err = fmt.Errorf("parse diagnoses: %w", err)
	}
	g.endCall(ctx, span, "map", model, resp.Usage, start, resp.Text, err)
	if err != nil {
		return nil, model, err
	}
	return alignMappings(symptoms, parsed, g.minWords), model, nil
}

func parseMappings(raw string) ([]DiagnosisMapping, error) {
	body := stripCodeFence(raw)
	if body == "" {
		return nil, errors.New("empty response")
	}
	var out struct {
		Mappings []DiagnosisMapping `json:"mappings"`
	}
	if err := json.Unmarshal([]byte(body), &out); err != nil {
		return nil, err
	}
	return out.Mappings, nil
}

// alignMappings returns exactly one mapping per symptom, in symptom order.
func alignMappings(symptoms []string, parsed []DiagnosisMapping, minWords int) []DiagnosisMapping {
	byKey := make(map[string]string, len(parsed))
	for _, m := range parsed {
		k := mappingKey(m.Symptom)
		if _, dup := byKey[k]; !dup {
			byKey[k] = strings.TrimSpace(m.Diagnosis)
		}
	}

	out := make([]DiagnosisMapping, len(symptoms))
	for i, s := range symptoms {
		d := byKey[mappingKey(s)]
		if countWords(d) < minWords {
			d = UnspecifiedDiagnosis
		}
		out[i] = DiagnosisMapping{Symptom: s, Diagnosis: d}
	}
	return out
}

func mappingKey(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func (g *Gateway) startCall(ctx context.Context, purpose string, req *LLMRequest) (context.Context, trace.Span) {
	ctx, span := tracer.Start(ctx, "llm.call", trace.WithAttributes(
		attribute.String("gen_ai.operation.name", "llm.call"),
		attribute.String("gen_ai.request.model", g.provider.Model()),
		attribute.Float64("gen_ai.request.temperature", req.Temperature),
		attribute.Int("gen_ai.request.max_tokens", req.MaxTokens),
		attribute.String("medtriage.llm.purpose", purpose),
		attribute.Int("medtriage.llm.messages", len(req.Messages)),
		attribute.Bool("medtriage.llm.structured", req.Shape != nil),
	))
	span.AddEvent("llm.request", trace.WithAttributes(
		attribute.String("llm.request.system", req.System),
	))
	return ctx, span
}

func (g *Gateway) endCall(ctx context.Context, span trace.Span, purpose, model string, usage Usage, start time.Time, body string, err error) {
	duration := time.Since(start).Seconds()

	span.SetAttributes(
		attribute.String("gen_ai.response.model", model),
		attribute.Int("gen_ai.usage.input_tokens", usage.InputTokens),
		attribute.Int("gen_ai.usage.output_tokens", usage.OutputTokens),
	)
	span.AddEvent("llm.response", trace.WithAttributes(
		attribute.String("llm.response.body", body),
	))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()

	if g.hooks.OnLLMCall != nil {
		g.hooks.OnLLMCall(purpose, usage.InputTokens, usage.OutputTokens, duration, err != nil)
	}

	if err != nil {
		g.logger.Error(ctx, err, "llm call failed", "purpose", purpose, "model", model, "duration", duration)
		return
	}
	g.logger.Info(ctx, "llm response",
		"purpose", purpose,
		"model", model,
		"input_tokens", usage.InputTokens,
		"output_tokens", usage.OutputTokens,
		"duration", duration,
	)
}
