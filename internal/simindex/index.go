// Package simindex ranks corpus entries against free text by cosine
// similarity of TF-IDF vectors.
//
// The vocabulary and IDF weights are fit once in Build and never change, so
// an Index is safe for any number of concurrent readers.
package simindex

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/linnemanlabs/medtriage/internal/corpus"
)

var (
	// ErrEmptyCorpus is returned by Build when there is nothing to index.
	ErrEmptyCorpus = errors.New("simindex: empty corpus")

	// ErrMalformedEntry is returned by Build for an entry without a code.
	ErrMalformedEntry = errors.New("simindex: malformed corpus entry")
)

// Match is one ranked corpus entry.
type Match struct {
	Code        string  `json:"code"`
	Description string  `json:"description"`
	Score       float64 `json:"score"`
}

// Prefixes is the set of code chapters a query may return, one character
// each. The empty set allows nothing.
type Prefixes string

// Allows reports whether code starts with one of the prefixes.
func (p Prefixes) Allows(code string) bool {
	r, size := utf8.DecodeRuneInString(code)
	if size == 0 {
		return false
	}
	return strings.ContainsRune(string(p), r)
}

type posting struct {
	doc    int
	weight float64
}

// Index is an immutable TF-IDF index over a corpus.
type Index struct {
	entries  []corpus.Entry
	vocab    map[string]int
	idf      []float64
	postings [][]posting
	byCode   map[string]int
}

// Build fits the vocabulary and IDF weights on entries and precomputes the
// normalised document vectors.
func Build(entries []corpus.Entry) (*Index, error) {
	if len(entries) == 0 {
		return nil, ErrEmptyCorpus
	}

	idx := &Index{
		entries: make([]corpus.Entry, len(entries)),
		vocab:   make(map[string]int),
		byCode:  make(map[string]int, len(entries)),
	}
	copy(idx.entries, entries)

	docs := make([]map[string]int, len(entries))
	df := make(map[string]int)
	for i, e := range idx.entries {
		if strings.TrimSpace(e.Code) == "" {
			return nil, fmt.Errorf("%w: entry %d has no code", ErrMalformedEntry, i)
		}
		if _, ok := idx.byCode[e.Code]; !ok {
			idx.byCode[e.Code] = i
		}

		counts := make(map[string]int)
		for _, tok := range Tokenize(e.Description) {
			counts[tok]++
		}
		for tok := range counts {
			df[tok]++
		}
		docs[i] = counts
	}

	// Term ids follow lexical order so builds are reproducible.
	terms := make([]string, 0, len(df))
	for tok := range df {
		terms = append(terms, tok)
	}
	sort.Strings(terms)

	n := float64(len(entries))
	idx.idf = make([]float64, len(terms))
	idx.postings = make([][]posting, len(terms))
	for id, tok := range terms {
		idx.vocab[tok] = id
		idx.idf[id] = math.Log((1+n)/(1+float64(df[tok]))) + 1
	}

	for d, counts := range docs {
		for _, tw := range idx.weigh(counts) {
			idx.postings[tw.id] = append(idx.postings[tw.id], posting{doc: d, weight: tw.weight})
		}
	}
	return idx, nil
}

type termWeight struct {
	id     int
	weight float64
}

// weigh turns raw term counts into an L2-normalised TF-IDF vector ordered by
// term id. Terms outside the vocabulary are ignored.
func (idx *Index) weigh(counts map[string]int) []termWeight {
	vec := make([]termWeight, 0, len(counts))
	var norm float64
	for tok, c := range counts {
		id, ok := idx.vocab[tok]
		if !ok {
			continue
		}
		w := float64(c) * idx.idf[id]
		vec = append(vec, termWeight{id: id, weight: w})
	}
	sort.Slice(vec, func(a, b int) bool { return vec[a].id < vec[b].id })
	for _, tw := range vec {
		norm += tw.weight * tw.weight
	}
	if norm == 0 {
		return vec
	}
	norm = math.Sqrt(norm)
	for i := range vec {
		vec[i].weight /= norm
	}
	return vec
}

// Len returns the number of indexed entries.
func (idx *Index) Len() int {
	return len(idx.entries)
}

// Lookup returns the first entry with the given code.
func (idx *Index) Lookup(code string) (corpus.Entry, bool) {
	i, ok := idx.byCode[code]
	if !ok {
		return corpus.Entry{}, false
	}
	return idx.entries[i], true
}

// Query returns up to k entries ranked by similarity to text, skipping codes
// outside allowed. Equal scores keep corpus order. A query with no usable
// tokens scores zero everywhere and still returns results.
func (idx *Index) Query(text string, k int, allowed Prefixes) []Match {
	return idx.QueryFloor(text, k, allowed, 0)
}

// QueryFloor is Query with matches scoring below minScore dropped.
func (idx *Index) QueryFloor(text string, k int, allowed Prefixes, minScore float64) []Match {
	if k <= 0 {
		return nil
	}

	counts := make(map[string]int)
	for _, tok := range Tokenize(text) {
		counts[tok]++
	}
	scores := make([]float64, len(idx.entries))
	for _, qw := range idx.weigh(counts) {
		for _, p := range idx.postings[qw.id] {
			scores[p.doc] += qw.weight * p.weight
		}
	}

	order := make([]int, len(idx.entries))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return scores[order[a]] > scores[order[b]]
	})

	out := make([]Match, 0, k)
	for _, d := range order {
		e := idx.entries[d]
		if !allowed.Allows(e.Code) {
			continue
		}
		s := clamp(scores[d])
		if s < minScore {
			// Ranking is descending, nothing further can qualify.
			break
		}
		out = append(out, Match{Code: e.Code, Description: e.Description, Score: s})
		if len(out) == k {
			break
		}
	}
	return out
}

func clamp(s float64) float64 {
	switch {
	case s < 0:
		return 0
	case s > 1:
		return 1
	default:
		return s
	}
}
