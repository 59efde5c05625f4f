// Package claude implements the triage Provider on the Anthropic Messages API.
package claude

import (
	"context"
	"errors"
	"fmt"
	"iter"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/linnemanlabs/medtriage/internal/triage"
)

// Client implements the Provider interface for the Claude API.
type Client struct {
	client anthropic.Client
	model  string
}

// New creates a new Claude API client with the given API key and model name.
// Extra options are passed to the SDK, e.g. option.WithBaseURL in tests.
func New(apiKey, model string, opts ...option.RequestOption) *Client {
	opts = append([]option.RequestOption{option.WithAPIKey(apiKey)}, opts...)
	return &Client{
		client: anthropic.NewClient(opts...),
		model:  model,
	}
}

// Model returns the configured model name.
func (c *Client) Model() string {
	return c.model
}

// Complete runs one non-streaming Messages call. A shaped request forces the
// shape's tool and returns the tool input as Text.
func (c *Client) Complete(ctx context.Context, req *triage.LLMRequest) (*triage.LLMResponse, error) {
	msg, err := c.client.Messages.New(ctx, c.toSDKParams(req))
	if err != nil {
		return nil, fmt.Errorf("claude messages: %w", err)
	}
	return fromSDKResponse(msg), nil
}

// Stream runs a streaming Messages call. Text deltas and, for a shaped
// request, partial tool input are yielded as they arrive.
func (c *Client) Stream(ctx context.Context, req *triage.LLMRequest) iter.Seq2[triage.Fragment, error] {
	return func(yield func(triage.Fragment, error) bool) {
		stream := c.client.Messages.NewStreaming(ctx, c.toSDKParams(req))
		defer stream.Close()

		var acc anthropic.Message
		for stream.Next() {
			event := stream.Current()
			if err := acc.Accumulate(event); err != nil {
				yield(triage.Fragment{}, fmt.Errorf("claude stream: %w", err))
				return
			}

			ev, ok := event.AsAny().(anthropic.ContentBlockDeltaEvent)
			if !ok {
				continue
			}
			var text string
			switch d := ev.Delta.AsAny().(type) {
			case anthropic.TextDelta:
				text = d.Text
			case anthropic.InputJSONDelta:
				text = d.PartialJSON
			}
			if text == "" {
				continue
			}
			if !yield(triage.Fragment{Text: text}, nil) {
				return
			}
		}
		if err := stream.Err(); err != nil {
			yield(triage.Fragment{}, fmt.Errorf("claude stream: %w", err))
			return
		}
		if acc.ID == "" {
			yield(triage.Fragment{}, errors.New("claude stream: no message received"))
			return
		}

		model := string(acc.Model)
		if model == "" {
			model = c.model
		}
		yield(triage.Fragment{
			Done:  true,
			Model: model,
			Usage: triage.Usage{
				InputTokens:  int(acc.Usage.InputTokens),
				OutputTokens: int(acc.Usage.OutputTokens),
			},
		}, nil)
	}
}

func (c *Client) toSDKParams(req *triage.LLMRequest) anthropic.MessageNewParams {
	params := anthropic.MessageNewParams{
		Model:       anthropic.Model(c.model),
		MaxTokens:   int64(req.MaxTokens),
		Messages:    toSDKMessages(req.Messages),
		Temperature: anthropic.Float(req.Temperature),
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.System}}
	}
	if req.Shape != nil {
		params.Tools = []anthropic.ToolUnionParam{toSDKTool(req.Shape)}
		params.ToolChoice = anthropic.ToolChoiceUnionParam{
			OfTool: &anthropic.ToolChoiceToolParam{Name: req.Shape.Name},
		}
	}
	return params
}

func toSDKMessages(msgs []triage.Message) []anthropic.MessageParam {
	out := make([]anthropic.MessageParam, 0, len(msgs))
	for _, m := range msgs {
		block := anthropic.NewTextBlock(m.Content)
		if m.Role == "assistant" {
			out = append(out, anthropic.NewAssistantMessage(block))
		} else {
			out = append(out, anthropic.NewUserMessage(block))
		}
	}
	return out
}

func toSDKTool(shape *triage.OutputShape) anthropic.ToolUnionParam {
	return anthropic.ToolUnionParam{
		OfTool: &anthropic.ToolParam{
			Name:        shape.Name,
			Description: anthropic.String(shape.Description),
			InputSchema: anthropic.ToolInputSchemaParam{
				Properties: shape.Properties,
				Required:   shape.Required,
			},
		},
	}
}

func fromSDKResponse(msg *anthropic.Message) *triage.LLMResponse {
	resp := &triage.LLMResponse{
		Model:      string(msg.Model),
		StopReason: triage.StopReason(msg.StopReason),
		Usage: triage.Usage{
			InputTokens:  int(msg.Usage.InputTokens),
			OutputTokens: int(msg.Usage.OutputTokens),
		},
	}

	// A forced tool call carries the structured object; prefer it over text.
	for _, block := range msg.Content {
		if block.Type == "tool_use" && len(block.Input) > 0 {
			resp.Text = string(block.Input)
			return resp
		}
	}
	for _, block := range msg.Content {
		if block.Type == "text" {
			resp.Text += block.Text
		}
	}
	return resp
}

// compile-time check
var _ triage.Provider = (*Client)(nil)
