// Package sse renders triage events as OpenAI-style chat completion chunks
// on a text/event-stream response.
package sse

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/linnemanlabs/medtriage/internal/triage"
)

// ContentType is the media type of the stream.
const ContentType = "text/event-stream"

const (
	chunkObject  = "chat.completion.chunk"
	metadataType = "final_metadata"
	doneMarker   = "[DONE]"
)

// Chunk is one OpenAI-style completion chunk.
type Chunk struct {
	ID      string   `json:"id"`
	Object  string   `json:"object"`
	Created int64    `json:"created"`
	Model   string   `json:"model"`
	Choices []Choice `json:"choices"`
}

// Choice is the single choice carried by a chunk.
type Choice struct {
	Index        int     `json:"index"`
	Delta        Delta   `json:"delta"`
	FinishReason *string `json:"finish_reason"`
}

// Delta is the incremental message content. A pure finish marker has an
// empty delta.
type Delta struct {
	Role    string `json:"role,omitempty"`
	Content string `json:"content,omitempty"`
}

// Metadata is the out-of-band frame carrying the accumulated symptom set.
type Metadata struct {
	Type                string   `json:"type"`
	AccumulatedSymptoms []string `json:"accumulated_symptoms"`
}

// Writer frames events onto w and flushes after every frame when w supports
// it.
type Writer struct {
	w       io.Writer
	flusher http.Flusher
	entropy io.Reader
}

// NewWriter returns a Writer over w.
func NewWriter(w io.Writer) *Writer {
	f, _ := w.(http.Flusher)
	return &Writer{
		w:       w,
		flusher: f,
		entropy: ulid.DefaultEntropy(),
	}
}

// SetHeaders prepares an HTTP response for streaming.
func SetHeaders(h http.Header) {
	h.Set("Content-Type", ContentType)
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
}

// WriteEvent writes the frame for ev. The terminal event writes the [DONE]
// marker.
func (w *Writer) WriteEvent(ev triage.Event) error {
	switch ev.Kind {
	case triage.EventTerminal:
		return w.frame([]byte(doneMarker))
	case triage.EventMetadata:
		symptoms := ev.Symptoms
		if symptoms == nil {
			symptoms = []string{}
		}
		return w.writeJSON(Metadata{Type: metadataType, AccumulatedSymptoms: symptoms})
	default:
		return w.writeJSON(w.chunk(ev))
	}
}

func (w *Writer) chunk(ev triage.Event) Chunk {
	created := ev.Created
	if created.IsZero() {
		created = time.Now()
	}

	var finish *string
	delta := Delta{Role: ev.Role, Content: ev.Content}
	if ev.FinishReason != "" {
		reason := ev.FinishReason
		finish = &reason
		if ev.Content == "" {
			delta = Delta{}
		}
	}

	return Chunk{
		ID:      w.chunkID(ev.Stage, created),
		Object:  chunkObject,
		Created: created.Unix(),
		Model:   ev.Model,
		Choices: []Choice{{Index: 0, Delta: delta, FinishReason: finish}},
	}
}

func (w *Writer) chunkID(stage string, t time.Time) string {
	return fmt.Sprintf("chatcmpl-%s-%s", stage, ulid.MustNew(ulid.Timestamp(t), w.entropy))
}

func (w *Writer) writeJSON(v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode frame: %w", err)
	}
	return w.frame(b)
}

func (w *Writer) frame(data []byte) error {
	if _, err := fmt.Fprintf(w.w, "data: %s\n\n", data); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	if w.flusher != nil {
		w.flusher.Flush()
	}
	return nil
}
