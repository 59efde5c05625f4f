package triage

import (
	"context"
	"encoding/json"
	"iter"
	"sync"
	"testing"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/medtriage/internal/corpus"
	"github.com/linnemanlabs/medtriage/internal/policy"
	"github.com/linnemanlabs/medtriage/internal/simindex"
	"github.com/linnemanlabs/medtriage/internal/specialty"
)

const testModel = "llama3.2:1b"

// streamStep is one scripted Stream call: fragments, then err if set.
type streamStep struct {
	frags []Fragment
	err   error
}

// completeStep is one scripted Complete call.
type completeStep struct {
	resp  *LLMResponse
	err   error
	panic any
}

// mockProvider replays scripted calls in order.
type mockProvider struct {
	mu        sync.Mutex
	streams   []streamStep
	completes []completeStep
	requests  []*LLMRequest
}

func (m *mockProvider) Model() string { return testModel }

func (m *mockProvider) Stream(_ context.Context, req *LLMRequest) iter.Seq2[Fragment, error] {
	m.mu.Lock()
	m.requests = append(m.requests, req)
	var step streamStep
	if len(m.streams) > 0 {
		step, m.streams = m.streams[0], m.streams[1:]
	} else {
		step = streamStep{frags: []Fragment{{Done: true, Model: testModel}}}
	}
	m.mu.Unlock()

	return func(yield func(Fragment, error) bool) {
		for _, f := range step.frags {
			if !yield(f, nil) {
				return
			}
		}
		if step.err != nil {
			yield(Fragment{}, step.err)
		}
	}
}

func (m *mockProvider) Complete(_ context.Context, req *LLMRequest) (*LLMResponse, error) {
	m.mu.Lock()
	m.requests = append(m.requests, req)
	var step completeStep
	if len(m.completes) > 0 {
		step, m.completes = m.completes[0], m.completes[1:]
	} else {
		step = completeStep{resp: &LLMResponse{Text: `{"mappings":[]}`, Model: testModel}}
	}
	m.mu.Unlock()

	if step.panic != nil {
		panic(step.panic)
	}
	return step.resp, step.err
}

func (m *mockProvider) calls() []*LLMRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*LLMRequest(nil), m.requests...)
}

// jsonStream splits body into two fragments and closes with a done fragment.
func jsonStream(body string) streamStep {
	half := len(body) / 2
	return streamStep{frags: []Fragment{
		{Text: body[:half]},
		{Text: body[half:]},
		{Done: true, Model: testModel, Usage: Usage{InputTokens: 40, OutputTokens: 12}},
	}}
}

func symptomsStream(names ...string) streamStep {
	items := make([]map[string]string, len(names))
	for i, n := range names {
		items[i] = map[string]string{"name": n}
	}
	body, _ := json.Marshal(map[string]any{"symptoms": items})
	return jsonStream(string(body))
}

func textStream(parts ...string) streamStep {
	frags := make([]Fragment, 0, len(parts)+1)
	for _, p := range parts {
		frags = append(frags, Fragment{Text: p})
	}
	frags = append(frags, Fragment{Done: true, Model: testModel})
	return streamStep{frags: frags}
}

func mappingResponse(t *testing.T, pairs ...string) completeStep {
	t.Helper()
	if len(pairs)%2 != 0 {
		t.Fatal("mappingResponse needs symptom/diagnosis pairs")
	}
	var ms []DiagnosisMapping
	for i := 0; i < len(pairs); i += 2 {
		ms = append(ms, DiagnosisMapping{Symptom: pairs[i], Diagnosis: pairs[i+1]})
	}
	body, _ := json.Marshal(map[string]any{"mappings": ms})
	return completeStep{resp: &LLMResponse{Text: string(body), Model: testModel, Usage: Usage{InputTokens: 90, OutputTokens: 60}}}
}

func testCorpus() []corpus.Entry {
	return []corpus.Entry{
		{Code: "R07.9", Description: "chest pain unspecified"},
		{Code: "I20.9", Description: "angina pectoris, chest pain on exertion"},
		{Code: "I21.9", Description: "acute myocardial infarction, crushing chest pain"},
		{Code: "R05.9", Description: "cough unspecified"},
		{Code: "J20.9", Description: "acute bronchitis cough"},
		{Code: "R50.9", Description: "fever unspecified"},
		{Code: "J18.9", Description: "pneumonia with fever and cough"},
		{Code: "K35.80", Description: "acute appendicitis, abdominal pain"},
	}
}

func newTestEngine(t *testing.T, p Provider, hooks EngineHooks) *Engine {
	t.Helper()
	idx, err := simindex.Build(testCorpus())
	if err != nil {
		t.Fatalf("simindex.Build: %v", err)
	}
	pol := policy.Default()
	gw := NewGateway(p, log.Nop(), hooks, pol.MinDiagnosisWords)
	return NewEngine(gw, idx, specialty.New(pol), pol, log.Nop(), hooks)
}

func collect(seq iter.Seq[Event]) []Event {
	var out []Event
	for ev := range seq {
		out = append(out, ev)
	}
	return out
}

func kinds(events []Event) []EventKind {
	out := make([]EventKind, len(events))
	for i, ev := range events {
		out[i] = ev.Kind
	}
	return out
}

func userTurn(texts ...string) []Message {
	msgs := make([]Message, 0, len(texts))
	for i, t := range texts {
		role := "user"
		if i%2 == 1 {
			role = "assistant"
		}
		msgs = append(msgs, Message{Role: role, Content: t})
	}
	return msgs
}
