package triage

import (
	"context"
	"iter"
)

// Provider is the interface for any LLM backend.
type Provider interface {
	// Complete runs one non-streaming call.
	Complete(ctx context.Context, req *LLMRequest) (*LLMResponse, error)

	// Stream yields text fragments, then exactly one fragment with Done set.
	// An error ends the sequence.
	Stream(ctx context.Context, req *LLMRequest) iter.Seq2[Fragment, error]

	// Model is the label reported before a backend response names one.
	Model() string
}

// LLMRequest is the input to a provider call.
type LLMRequest struct {
	MaxTokens   int
	System      string
	Messages    []Message
	Temperature float64

	// Shape, when set, asks the backend for a single JSON object matching it.
	Shape *OutputShape
}

// OutputShape describes the JSON object a structured call must return.
type OutputShape struct {
	Name        string
	Description string
	Properties  map[string]any
	Required    []string
}

// JSONSchema returns the shape as a JSON schema object.
func (s *OutputShape) JSONSchema() map[string]any {
	return map[string]any{
		"type":       "object",
		"properties": s.Properties,
		"required":   s.Required,
	}
}

// LLMResponse is the output of a non-streaming call. For a shaped request
// Text holds the JSON object.
type LLMResponse struct {
	Text       string
	Model      string
	StopReason StopReason
	Usage      Usage
}

// Fragment is one piece of a streamed response. The final fragment has Done
// set and carries the model label and token usage.
type Fragment struct {
	Text  string
	Done  bool
	Model string
	Usage Usage
}

// StopReason indicates why the LLM stopped generating content.
type StopReason string

const (
	StopEnd       StopReason = "end_turn"
	StopMaxTokens StopReason = "max_tokens"
	StopToolUse   StopReason = "tool_use"
)

// Message is one role-tagged chat message.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}
