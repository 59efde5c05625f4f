package chatapi

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/linnemanlabs/medtriage/internal/simindex"
	"github.com/linnemanlabs/medtriage/internal/triage"
)

const maxSearchK = 50

// SearchMatch is one ranked code in a search response.
type SearchMatch struct {
	Code        string  `json:"code"`
	Description string  `json:"description"`
	Score       float64 `json:"score"`
	Specialty   string  `json:"specialty"`
}

func (a *API) handleSearch(w http.ResponseWriter, r *http.Request) {
	q := strings.TrimSpace(r.URL.Query().Get("q"))
	if q == "" {
		writeError(w, http.StatusBadRequest, "missing query parameter q")
		return
	}

	k := a.ref.Policy.TopK
	if raw := r.URL.Query().Get("k"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > maxSearchK {
			writeError(w, http.StatusBadRequest, "k must be an integer between 1 and 50")
			return
		}
		k = n
	}

	allowed := simindex.Prefixes(a.ref.Policy.AllowedPrefixes)
	matches := a.ref.Index.QueryFloor(triage.CleanForRetrieval(q), k, allowed, a.ref.Policy.MinScore)

	trace.SpanFromContext(r.Context()).SetAttributes(
		attribute.Int("medtriage.search.k", k),
		attribute.Int("medtriage.search.matches", len(matches)),
	)

	out := make([]SearchMatch, len(matches))
	for i, m := range matches {
		out[i] = SearchMatch{
			Code:        m.Code,
			Description: m.Description,
			Score:       m.Score,
			Specialty:   a.ref.Resolver.Assign(m.Code),
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"query":   q,
		"matches": out,
	})
}

func (a *API) handleSpecialty(w http.ResponseWriter, r *http.Request) {
	code := strings.ToUpper(strings.TrimSpace(chi.URLParam(r, "code")))
	resp := map[string]any{
		"code":      code,
		"specialty": a.ref.Resolver.Assign(code),
	}
	if m, ok := a.ref.Index.Lookup(code); ok {
		resp["description"] = m.Description
	}
	writeJSON(w, http.StatusOK, resp)
}
