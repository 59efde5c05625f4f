package claude

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/linnemanlabs/medtriage/internal/triage"
)

func TestToSDKMessages_Roles(t *testing.T) {
	t.Parallel()

	msgs := []triage.Message{
		{Role: "user", Content: "I have a cough"},
		{Role: "assistant", Content: "Anything else?"},
		{Role: "system", Content: "coerced"},
	}

	result := toSDKMessages(msgs)

	if len(result) != 3 {
		t.Fatalf("len = %d, want 3", len(result))
	}
	wantRoles := []anthropic.MessageParamRole{"user", "assistant", "user"}
	for i, want := range wantRoles {
		if result[i].Role != want {
			t.Errorf("role[%d] = %q, want %q", i, result[i].Role, want)
		}
		if len(result[i].Content) != 1 || result[i].Content[0].OfText == nil {
			t.Fatalf("content[%d] should be one text block", i)
		}
		if result[i].Content[0].OfText.Text != msgs[i].Content {
			t.Errorf("text[%d] = %q, want %q", i, result[i].Content[0].OfText.Text, msgs[i].Content)
		}
	}
}

func TestToSDKParams_Shape(t *testing.T) {
	t.Parallel()

	c := New("key", "claude-test")
	shape := &triage.OutputShape{
		Name:        "record_symptoms",
		Description: "record symptoms",
		Properties:  map[string]any{"symptoms": map[string]any{"type": "array"}},
		Required:    []string{"symptoms"},
	}

	params := c.toSDKParams(&triage.LLMRequest{
		MaxTokens:   512,
		System:      "extract",
		Messages:    []triage.Message{{Role: "user", Content: "cough"}},
		Temperature: 0,
		Shape:       shape,
	})

	if params.Model != "claude-test" || params.MaxTokens != 512 {
		t.Errorf("model/max = %q/%d", params.Model, params.MaxTokens)
	}
	if len(params.System) != 1 || params.System[0].Text != "extract" {
		t.Errorf("system = %+v", params.System)
	}
	if len(params.Tools) != 1 || params.Tools[0].OfTool == nil {
		t.Fatal("expected one tool")
	}
	tool := params.Tools[0].OfTool
	if tool.Name != "record_symptoms" {
		t.Errorf("tool name = %q", tool.Name)
	}
	if !tool.Description.Valid() || tool.Description.Value != "record symptoms" {
		t.Errorf("description = %v", tool.Description)
	}
	if params.ToolChoice.OfTool == nil || params.ToolChoice.OfTool.Name != "record_symptoms" {
		t.Error("expected the shape's tool to be forced")
	}
}

func TestToSDKParams_NoShape(t *testing.T) {
	t.Parallel()

	params := New("key", "claude-test").toSDKParams(&triage.LLMRequest{MaxTokens: 10})
	if len(params.Tools) != 0 || params.ToolChoice.OfTool != nil {
		t.Error("unshaped request should not carry tools")
	}
	if len(params.System) != 0 {
		t.Error("empty system prompt should be omitted")
	}
}

func TestFromSDKResponse_TextContent(t *testing.T) {
	t.Parallel()

	msg := &anthropic.Message{
		Model: "claude-test",
		Content: []anthropic.ContentBlockUnion{
			{Type: "text", Text: "Could you "},
			{Type: "text", Text: "tell me more?"},
		},
		StopReason: anthropic.StopReasonEndTurn,
		Usage:      anthropic.Usage{InputTokens: 100, OutputTokens: 50},
	}

	result := fromSDKResponse(msg)

	if result.Text != "Could you tell me more?" {
		t.Errorf("text = %q", result.Text)
	}
	if result.Model != "claude-test" {
		t.Errorf("model = %q", result.Model)
	}
}

func TestFromSDKResponse_ToolUsePreferred(t *testing.T) {
	t.Parallel()

	msg := &anthropic.Message{
		Content: []anthropic.ContentBlockUnion{
			{Type: "text", Text: "here you go"},
			{
				Type:  "tool_use",
				ID:    "tu-99",
				Name:  "record_diagnoses",
				Input: json.RawMessage(`{"mappings":[]}`),
			},
		},
		StopReason: anthropic.StopReasonToolUse,
	}

	result := fromSDKResponse(msg)

	if result.Text != `{"mappings":[]}` {
		t.Errorf("text = %q, want tool input", result.Text)
	}
}

func TestFromSDKResponse_StopReasons(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		sdk      anthropic.StopReason
		expected triage.StopReason
	}{
		{"end_turn", anthropic.StopReasonEndTurn, triage.StopEnd},
		{"tool_use", anthropic.StopReasonToolUse, triage.StopToolUse},
		{"max_tokens", anthropic.StopReason("max_tokens"), triage.StopMaxTokens},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			result := fromSDKResponse(&anthropic.Message{StopReason: tt.sdk})
			if result.StopReason != tt.expected {
				t.Errorf("stop reason = %q, want %q", result.StopReason, tt.expected)
			}
		})
	}
}

func TestFromSDKResponse_Usage(t *testing.T) {
	t.Parallel()

	msg := &anthropic.Message{
		StopReason: anthropic.StopReasonEndTurn,
		Usage:      anthropic.Usage{InputTokens: 1234, OutputTokens: 567},
	}

	result := fromSDKResponse(msg)

	if result.Usage.InputTokens != 1234 {
		t.Errorf("input tokens = %d, want 1234", result.Usage.InputTokens)
	}
	if result.Usage.OutputTokens != 567 {
		t.Errorf("output tokens = %d, want 567", result.Usage.OutputTokens)
	}
}

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return New("test-key", "claude-test",
		option.WithBaseURL(srv.URL+"/"),
		option.WithMaxRetries(0),
	)
}

func TestComplete_ForcedTool(t *testing.T) {
	t.Parallel()

	var body map[string]any
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/v1/messages") {
			http.NotFound(w, r)
			return
		}
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &body)
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{
			"id": "msg_1", "type": "message", "role": "assistant", "model": "claude-test",
			"content": [{"type": "tool_use", "id": "tu_1", "name": "record_diagnoses",
				"input": {"mappings": [{"symptom": "cough", "diagnosis": "Acute bronchitis"}]}}],
			"stop_reason": "tool_use", "stop_sequence": null,
			"usage": {"input_tokens": 21, "output_tokens": 9}
		}`)
	})

	resp, err := c.Complete(context.Background(), &triage.LLMRequest{
		MaxTokens: 1024,
		Messages:  []triage.Message{{Role: "user", Content: "cough"}},
		Shape:     &triage.OutputShape{Name: "record_diagnoses", Properties: map[string]any{}},
	})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}

	var parsed struct {
		Mappings []triage.DiagnosisMapping `json:"mappings"`
	}
	if err := json.Unmarshal([]byte(resp.Text), &parsed); err != nil {
		t.Fatalf("tool input is not json: %v (%s)", err, resp.Text)
	}
	if len(parsed.Mappings) != 1 || parsed.Mappings[0].Diagnosis != "Acute bronchitis" {
		t.Errorf("mappings = %+v", parsed.Mappings)
	}
	if resp.Usage.InputTokens != 21 || resp.Usage.OutputTokens != 9 {
		t.Errorf("usage = %+v", resp.Usage)
	}
	if resp.StopReason != triage.StopToolUse {
		t.Errorf("stop = %q", resp.StopReason)
	}
	if choice, ok := body["tool_choice"].(map[string]any); !ok || choice["name"] != "record_diagnoses" {
		t.Errorf("tool_choice = %v", body["tool_choice"])
	}
}

func TestComplete_APIError(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = io.WriteString(w, `{"type":"error","error":{"type":"invalid_request_error","message":"bad"}}`)
	})

	if _, err := c.Complete(context.Background(), &triage.LLMRequest{MaxTokens: 10}); err == nil {
		t.Fatal("expected error")
	}
}

func sseEvent(w io.Writer, name, data string) {
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", name, data)
}

func TestStream_TextDeltas(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		sseEvent(w, "message_start", `{"type":"message_start","message":{"id":"msg_1","type":"message","role":"assistant","model":"claude-test","content":[],"stop_reason":null,"stop_sequence":null,"usage":{"input_tokens":12,"output_tokens":1}}}`)
		sseEvent(w, "content_block_start", `{"type":"content_block_start","index":0,"content_block":{"type":"text","text":""}}`)
		sseEvent(w, "content_block_delta", `{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"Tell me"}}`)
		sseEvent(w, "content_block_delta", `{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":" more"}}`)
		sseEvent(w, "content_block_stop", `{"type":"content_block_stop","index":0}`)
		sseEvent(w, "message_delta", `{"type":"message_delta","delta":{"stop_reason":"end_turn","stop_sequence":null},"usage":{"output_tokens":7}}`)
		sseEvent(w, "message_stop", `{"type":"message_stop"}`)
	})

	var (
		text  strings.Builder
		final triage.Fragment
		count int
	)
	for frag, err := range c.Stream(context.Background(), &triage.LLMRequest{MaxTokens: 64}) {
		if err != nil {
			t.Fatalf("stream: %v", err)
		}
		count++
		text.WriteString(frag.Text)
		if frag.Done {
			final = frag
		}
	}

	if text.String() != "Tell me more" {
		t.Errorf("text = %q", text.String())
	}
	if !final.Done || final.Model != "claude-test" {
		t.Errorf("final fragment = %+v", final)
	}
	if count != 3 {
		t.Errorf("fragments = %d, want 2 text + 1 done", count)
	}
}

func TestStream_InputJSONDeltas(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		sseEvent(w, "message_start", `{"type":"message_start","message":{"id":"msg_2","type":"message","role":"assistant","model":"claude-test","content":[],"stop_reason":null,"stop_sequence":null,"usage":{"input_tokens":5,"output_tokens":1}}}`)
		sseEvent(w, "content_block_start", `{"type":"content_block_start","index":0,"content_block":{"type":"tool_use","id":"tu_1","name":"record_symptoms","input":{}}}`)
		sseEvent(w, "content_block_delta", `{"type":"content_block_delta","index":0,"delta":{"type":"input_json_delta","partial_json":"{\"symptoms\":"}}`)
		sseEvent(w, "content_block_delta", `{"type":"content_block_delta","index":0,"delta":{"type":"input_json_delta","partial_json":"[\"cough\"]}"}}`)
		sseEvent(w, "content_block_stop", `{"type":"content_block_stop","index":0}`)
		sseEvent(w, "message_delta", `{"type":"message_delta","delta":{"stop_reason":"tool_use","stop_sequence":null},"usage":{"output_tokens":4}}`)
		sseEvent(w, "message_stop", `{"type":"message_stop"}`)
	})

	var text strings.Builder
	for frag, err := range c.Stream(context.Background(), &triage.LLMRequest{
		MaxTokens: 64,
		Shape:     &triage.OutputShape{Name: "record_symptoms"},
	}) {
		if err != nil {
			t.Fatalf("stream: %v", err)
		}
		text.WriteString(frag.Text)
	}

	if text.String() != `{"symptoms":["cough"]}` {
		t.Errorf("json = %q", text.String())
	}
}

func TestStream_HTTPError(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})

	var gotErr error
	for _, err := range c.Stream(context.Background(), &triage.LLMRequest{MaxTokens: 8}) {
		gotErr = err
	}
	if gotErr == nil {
		t.Fatal("expected stream error")
	}
}
