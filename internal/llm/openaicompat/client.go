// Package openaicompat implements the triage Provider for OpenAI-compatible
// chat completion endpoints, such as a local Ollama server.
package openaicompat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"
	"math"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/linnemanlabs/medtriage/internal/triage"
)

const (
	// DefaultBaseURL is the OpenAI-compatible endpoint of a local Ollama.
	DefaultBaseURL = "http://localhost:11434/v1"
	// DefaultModel is a small local model.
	DefaultModel = "llama3.2:1b"
)

// Client implements triage.Provider over go-openai.
type Client struct {
	client *openai.Client
	model  string
}

// New creates a client for baseURL. Ollama ignores the key, so an empty one
// is allowed.
func New(baseURL, apiKey, model string) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if model == "" {
		model = DefaultModel
	}
	cfg := openai.DefaultConfig(apiKey)
	cfg.BaseURL = strings.TrimRight(baseURL, "/")
	return &Client{
		client: openai.NewClientWithConfig(cfg),
		model:  model,
	}
}

// Model returns the configured model name.
func (c *Client) Model() string {
	return c.model
}

// Complete runs one chat completion.
func (c *Client) Complete(ctx context.Context, req *triage.LLMRequest) (*triage.LLMResponse, error) {
	resp, err := c.client.CreateChatCompletion(ctx, c.toRequest(req, false))
	if err != nil {
		return nil, fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, errors.New("chat completion: no choices")
	}

	model := resp.Model
	if model == "" {
		model = c.model
	}
	choice := resp.Choices[0]
	return &triage.LLMResponse{
		Text:       choice.Message.Content,
		Model:      model,
		StopReason: stopReason(choice.FinishReason),
		Usage: triage.Usage{
			InputTokens:  resp.Usage.PromptTokens,
			OutputTokens: resp.Usage.CompletionTokens,
		},
	}, nil
}

// Stream runs a streaming chat completion and yields content deltas. The
// endpoint does not report usage on streams, so the done fragment has none.
func (c *Client) Stream(ctx context.Context, req *triage.LLMRequest) iter.Seq2[triage.Fragment, error] {
	return func(yield func(triage.Fragment, error) bool) {
		stream, err := c.client.CreateChatCompletionStream(ctx, c.toRequest(req, true))
		if err != nil {
			yield(triage.Fragment{}, fmt.Errorf("chat completion stream: %w", err))
			return
		}
		defer stream.Close()

		model := c.model
		for {
			chunk, err := stream.Recv()
			if errors.Is(err, io.EOF) {
				break
			}
			if err != nil {
				yield(triage.Fragment{}, fmt.Errorf("chat completion stream: %w", err))
				return
			}
			if chunk.Model != "" {
				model = chunk.Model
			}
			for _, choice := range chunk.Choices {
				if choice.Delta.Content == "" {
					continue
				}
				if !yield(triage.Fragment{Text: choice.Delta.Content}, nil) {
					return
				}
			}
		}
		yield(triage.Fragment{Done: true, Model: model}, nil)
	}
}

func (c *Client) toRequest(req *triage.LLMRequest, stream bool) openai.ChatCompletionRequest {
	msgs := make([]openai.ChatCompletionMessage, 0, len(req.Messages)+1)
	if system := systemPrompt(req); system != "" {
		msgs = append(msgs, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: system})
	}
	for _, m := range req.Messages {
		role := m.Role
		if role != openai.ChatMessageRoleUser && role != openai.ChatMessageRoleAssistant {
			role = openai.ChatMessageRoleUser
		}
		msgs = append(msgs, openai.ChatCompletionMessage{Role: role, Content: m.Content})
	}

	out := openai.ChatCompletionRequest{
		Model:       c.model,
		Messages:    msgs,
		MaxTokens:   req.MaxTokens,
		Temperature: wireTemperature(req.Temperature),
		Stream:      stream,
	}
	if req.Shape != nil {
		out.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		}
	}
	return out
}

// wireTemperature keeps an explicit zero on the wire; the request field is
// omitempty, and a dropped zero means the backend's default.
func wireTemperature(t float64) float32 {
	if t == 0 {
		return math.SmallestNonzeroFloat32
	}
	return float32(t)
}

// systemPrompt appends the output schema for shaped requests; JSON mode only
// guarantees syntax, not structure.
func systemPrompt(req *triage.LLMRequest) string {
	if req.Shape == nil {
		return req.System
	}
	schema, err := json.Marshal(req.Shape.JSONSchema())
	if err != nil {
		return req.System
	}
	hint := fmt.Sprintf("Respond with a single JSON object matching this schema: %s", schema)
	if req.System == "" {
		return hint
	}
	return req.System + "\n\n" + hint
}

func stopReason(r openai.FinishReason) triage.StopReason {
	switch r {
	case openai.FinishReasonStop:
		return triage.StopEnd
	case openai.FinishReasonLength:
		return triage.StopMaxTokens
	case openai.FinishReasonToolCalls, openai.FinishReasonFunctionCall:
		return triage.StopToolUse
	default:
		return triage.StopReason(r)
	}
}

var _ triage.Provider = (*Client)(nil)
