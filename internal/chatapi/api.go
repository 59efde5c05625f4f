package chatapi

import (
	"context"
	"encoding/json"
	"iter"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/go-core/xerrors"

	"github.com/linnemanlabs/medtriage/internal/policy"
	"github.com/linnemanlabs/medtriage/internal/simindex"
	"github.com/linnemanlabs/medtriage/internal/specialty"
	"github.com/linnemanlabs/medtriage/internal/triage"
)

// ChatService defines the business operations chatapi needs.
type ChatService interface {
	Handle(ctx context.Context, req *triage.ChatRequest) (iter.Seq[triage.Event], error)
}

// Reference is the read-only lookup data behind the search endpoints.
type Reference struct {
	Index    *simindex.Index
	Resolver *specialty.Resolver
	Policy   policy.Policy
}

// API holds dependencies for HTTP handlers.
type API struct {
	logger log.Logger
	svc    ChatService
	ref    Reference
}

// New creates a new API handler.
func New(logger log.Logger, svc ChatService, ref Reference) *API {
	if logger == nil {
		logger = log.Nop()
	}
	if svc == nil {
		panic(xerrors.New("chat service is required"))
	}
	if ref.Index == nil || ref.Resolver == nil {
		panic(xerrors.New("reference index and resolver are required"))
	}
	return &API{
		logger: logger,
		svc:    svc,
		ref:    ref,
	}
}

// RegisterRoutes attaches API endpoints to the router. /chat is kept for
// clients of the original unversioned endpoint.
func (a *API) RegisterRoutes(r chi.Router) {
	r.Post("/chat", a.handleChat)
	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/chat", a.handleChat)
		r.Get("/icd10/search", a.handleSearch)
		r.Get("/specialty/{code}", a.handleSpecialty)
	})
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	// nothing to do with errors here
	_ = json.NewEncoder(w).Encode(v)
}
