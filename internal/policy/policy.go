// Package policy holds the tunable constants of a triage turn: the gate
// threshold, retrieval filters, and the specialty tables. A Policy is built
// once at startup and shared read-only by every request.
package policy

import (
	"errors"
	"fmt"
	"os"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
)

const (
	// DefaultGateThreshold is the minimum number of accumulated symptoms
	// before diagnosis mapping is attempted.
	DefaultGateThreshold = 3

	// DefaultOpeningTurnMaxMessages bounds the message count of a turn that is
	// still treated as the opening of a conversation.
	DefaultOpeningTurnMaxMessages = 1

	DefaultTopK              = 3
	DefaultMinDiagnosisWords = 2
	DefaultSpecialty         = "General Practice"
)

// Policy is the full set of triage knobs.
type Policy struct {
	GateThreshold          int               `toml:"gate_threshold"`
	OpeningTurnMaxMessages int               `toml:"opening_turn_max_messages"`
	TopK                   int               `toml:"top_k"`
	AllowedPrefixes        string            `toml:"allowed_prefixes"`
	MinScore               float64           `toml:"min_score"`
	MinDiagnosisWords      int               `toml:"min_diagnosis_words"`
	DefaultSpecialty       string            `toml:"default_specialty"`
	Specialties            map[string]string `toml:"specialties"`
	Priority               []string          `toml:"priority"`
}

// Default returns the built-in policy. Only the R, I and J chapters are
// searched; the remaining specialty rows serve single-code lookups.
func Default() Policy {
	return Policy{
		GateThreshold:          DefaultGateThreshold,
		OpeningTurnMaxMessages: DefaultOpeningTurnMaxMessages,
		TopK:                   DefaultTopK,
		AllowedPrefixes:        "RIJ",
		MinScore:               0,
		MinDiagnosisWords:      DefaultMinDiagnosisWords,
		DefaultSpecialty:       DefaultSpecialty,
		Specialties: map[string]string{
			"R": "General Practice",
			"I": "Cardiology",
			"J": "Pulmonology",
			"G": "Neurology",
			"K": "Gastroenterology",
			"N": "Nephrology",
			"E": "Endocrinology",
			"F": "Psychiatry",
			"M": "Rheumatology",
			"L": "Dermatology",
		},
		// most clinically urgent first
		Priority: []string{
			"Cardiology",
			"Pulmonology",
			"Neurology",
			"Gastroenterology",
			"Nephrology",
			"Endocrinology",
			"Psychiatry",
			"Rheumatology",
			"Dermatology",
			"General Practice",
		},
	}
}

// overrides mirrors Policy with pointer fields so a file can set a subset.
type overrides struct {
	GateThreshold          *int              `toml:"gate_threshold"`
	OpeningTurnMaxMessages *int              `toml:"opening_turn_max_messages"`
	TopK                   *int              `toml:"top_k"`
	AllowedPrefixes        *string           `toml:"allowed_prefixes"`
	MinScore               *float64          `toml:"min_score"`
	MinDiagnosisWords      *int              `toml:"min_diagnosis_words"`
	DefaultSpecialty       *string           `toml:"default_specialty"`
	Specialties            map[string]string `toml:"specialties"`
	Priority               []string          `toml:"priority"`
}

// Load reads a TOML file and applies it on top of Default. Specialty rows
// are merged by chapter; a priority list replaces the default one.
func Load(path string) (Policy, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path comes from operator config
	if err != nil {
		return Policy{}, fmt.Errorf("read policy file: %w", err)
	}
	return Parse(data)
}

// Parse decodes TOML policy overrides on top of Default and validates the result.
func Parse(data []byte) (Policy, error) {
	var o overrides
	if err := toml.Unmarshal(data, &o); err != nil {
		return Policy{}, fmt.Errorf("decode policy: %w", err)
	}

	p := Default()
	if o.GateThreshold != nil {
		p.GateThreshold = *o.GateThreshold
	}
	if o.OpeningTurnMaxMessages != nil {
		p.OpeningTurnMaxMessages = *o.OpeningTurnMaxMessages
	}
	if o.TopK != nil {
		p.TopK = *o.TopK
	}
	if o.AllowedPrefixes != nil {
		p.AllowedPrefixes = *o.AllowedPrefixes
	}
	if o.MinScore != nil {
		p.MinScore = *o.MinScore
	}
	if o.MinDiagnosisWords != nil {
		p.MinDiagnosisWords = *o.MinDiagnosisWords
	}
	if o.DefaultSpecialty != nil {
		p.DefaultSpecialty = *o.DefaultSpecialty
	}
	for chapter, label := range o.Specialties {
		p.Specialties[strings.ToUpper(chapter)] = label
	}
	if len(o.Priority) > 0 {
		p.Priority = o.Priority
	}

	if err := p.Validate(); err != nil {
		return Policy{}, err
	}
	return p, nil
}

// Validate checks all policy fields for correctness.
func (p *Policy) Validate() error {
	var errs []error

	if p.GateThreshold < 1 {
		errs = append(errs, fmt.Errorf("invalid gate_threshold %d (must be >= 1)", p.GateThreshold))
	}
	if p.OpeningTurnMaxMessages < 0 {
		errs = append(errs, fmt.Errorf("invalid opening_turn_max_messages %d (must be >= 0)", p.OpeningTurnMaxMessages))
	}
	if p.TopK < 1 {
		errs = append(errs, fmt.Errorf("invalid top_k %d (must be >= 1)", p.TopK))
	}
	if p.AllowedPrefixes == "" {
		errs = append(errs, errors.New("allowed_prefixes must name at least one chapter"))
	}
	if p.MinScore < 0 || p.MinScore > 1 {
		errs = append(errs, fmt.Errorf("invalid min_score %v (must be 0..1)", p.MinScore))
	}
	if p.MinDiagnosisWords < 1 {
		errs = append(errs, fmt.Errorf("invalid min_diagnosis_words %d (must be >= 1)", p.MinDiagnosisWords))
	}
	if strings.TrimSpace(p.DefaultSpecialty) == "" {
		errs = append(errs, errors.New("default_specialty is required"))
	}
	for chapter, label := range p.Specialties {
		if len(chapter) != 1 {
			errs = append(errs, fmt.Errorf("specialty chapter %q must be a single character", chapter))
		}
		if strings.TrimSpace(label) == "" {
			errs = append(errs, fmt.Errorf("specialty for chapter %q is empty", chapter))
		}
	}
	seen := make(map[string]struct{}, len(p.Priority))
	for _, label := range p.Priority {
		if _, dup := seen[label]; dup {
			errs = append(errs, fmt.Errorf("priority lists %q twice", label))
		}
		seen[label] = struct{}{}
	}

	return errors.Join(errs...)
}
