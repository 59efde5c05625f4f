// Package specialty maps diagnostic codes to a referral specialty and picks
// one specialty for a whole session.
package specialty

import (
	"sort"
	"unicode/utf8"

	"github.com/linnemanlabs/medtriage/internal/policy"
)

// Vote is one symptom's contribution to the session decision. A vote with an
// empty Code had no best match and is ignored.
type Vote struct {
	Code      string
	Specialty string
}

// Resolver holds the chapter table and the tie-break order. It is immutable
// after New and safe for concurrent use.
type Resolver struct {
	table    map[rune]string
	rank     map[string]int
	fallback string
}

// New builds a Resolver from p's specialty table, priority list and default
// label.
func New(p policy.Policy) *Resolver {
	r := &Resolver{
		table:    make(map[rune]string, len(p.Specialties)),
		rank:     make(map[string]int, len(p.Priority)),
		fallback: p.DefaultSpecialty,
	}
	if r.fallback == "" {
		r.fallback = policy.DefaultSpecialty
	}
	for chapter, label := range p.Specialties {
		c, _ := utf8.DecodeRuneInString(chapter)
		r.table[c] = label
	}
	for i, label := range p.Priority {
		if _, dup := r.rank[label]; !dup {
			r.rank[label] = i
		}
	}
	return r
}

// Default returns the label used when no chapter matches.
func (r *Resolver) Default() string {
	return r.fallback
}

// Assign returns the specialty for code's chapter. An empty code or an
// unknown chapter yields the default label.
func (r *Resolver) Assign(code string) string {
	c, size := utf8.DecodeRuneInString(code)
	if size == 0 {
		return r.fallback
	}
	if label, ok := r.table[c]; ok {
		return label
	}
	return r.fallback
}

// ResolveSession picks the specialty backed by the most votes. Ties go to
// the label ranked highest in the priority list; labels outside the list
// rank after it in lexical order. No usable vote yields the default label.
func (r *Resolver) ResolveSession(votes []Vote) string {
	counts := make(map[string]int)
	for _, v := range votes {
		if v.Code == "" {
			continue
		}
		label := v.Specialty
		if label == "" {
			label = r.Assign(v.Code)
		}
		counts[label]++
	}
	if len(counts) == 0 {
		return r.fallback
	}

	best := 0
	for _, n := range counts {
		best = max(best, n)
	}
	var tied []string
	for label, n := range counts {
		if n == best {
			tied = append(tied, label)
		}
	}
	if len(tied) == 1 {
		return tied[0]
	}

	sort.Slice(tied, func(i, j int) bool {
		return r.less(tied[i], tied[j])
	})
	return tied[0]
}

// less orders labels by priority rank, unranked labels last and lexically.
func (r *Resolver) less(a, b string) bool {
	ra, okA := r.rank[a]
	rb, okB := r.rank[b]
	switch {
	case okA && okB:
		return ra < rb
	case okA != okB:
		return okA
	default:
		return a < b
	}
}
