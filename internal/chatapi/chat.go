package chatapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/linnemanlabs/medtriage/internal/sse"
	"github.com/linnemanlabs/medtriage/internal/triage"
)

const maxChatBody = 1 << 20

func (a *API) handleChat(w http.ResponseWriter, r *http.Request) {
	var req triage.ChatRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxChatBody)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid payload")
		return
	}

	span := trace.SpanFromContext(r.Context())
	span.SetAttributes(
		attribute.Int("medtriage.request.messages", len(req.Messages)),
		attribute.Int("medtriage.request.symptoms", len(req.AccumulatedSymptoms)),
	)

	events, err := a.svc.Handle(r.Context(), &req)
	if errors.Is(err, triage.ErrMissingMessages) {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err != nil {
		a.logger.Error(r.Context(), err, "failed to start triage turn")
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	sse.SetHeaders(w.Header())
	w.WriteHeader(http.StatusOK)

	out := sse.NewWriter(w)
	for ev := range events {
		if err := out.WriteEvent(ev); err != nil {
			// client went away; stopping the range abandons the turn
			a.logger.Warn(r.Context(), "stream write failed", "err", err, "correlation_id", ev.CorrelationID)
			return
		}
	}
}
