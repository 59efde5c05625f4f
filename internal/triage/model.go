package triage

import (
	"time"

	"github.com/linnemanlabs/medtriage/internal/simindex"
)

// EventKind tags a protocol event.
type EventKind string

const (
	// EventContent is a partial-content or error-content chunk.
	EventContent EventKind = "content"

	// EventStageDone closes the symptom extraction stage.
	EventStageDone EventKind = "stage-done"

	// EventFallbackContent carries the fallback conversation, including its
	// closing fallback-done chunk.
	EventFallbackContent EventKind = "fallback-content"

	// EventFinal carries the final reply or payload.
	EventFinal EventKind = "final"

	// EventMetadata carries the updated accumulated symptoms.
	EventMetadata EventKind = "metadata"

	// EventTerminal is always the last event of a turn.
	EventTerminal EventKind = "terminal"
)

// Stage labels name the step that produced a chunk.
const (
	StageExtractionDone = "symptom-json-done"
	StageInfo           = "info"
	StageFallback       = "fallback"
	StageFallbackDone   = "fallback-done"
	StageFinal          = "final"
	StageError          = "error"
)

// Finish reasons.
const (
	FinishStop  = "stop"
	FinishError = "error"
)

// Event is one ordered element of a turn's output stream.
type Event struct {
	Kind          EventKind
	CorrelationID string
	Stage         string
	Model         string
	Role          string
	Content       string
	// FinishReason is empty while the chunk is not a finishing one.
	FinishReason string
	Created      time.Time

	// Symptoms is set on metadata events.
	Symptoms []string

	// Referral is set on the final event of a successful mapping.
	Referral *Referral
}

// Outcome is the terminal path a turn took.
type Outcome string

const (
	OutcomeAskMore       Outcome = "ask_more"
	OutcomeFallback      Outcome = "fallback"
	OutcomeMapped        Outcome = "mapped"
	OutcomeMappingFailed Outcome = "mapping_failed"
	OutcomeError         Outcome = "error"
)

// ChatRequest is one conversation turn plus the caller-carried state.
type ChatRequest struct {
	Messages            []Message `json:"messages"`
	AccumulatedSymptoms []string  `json:"accumulated_symptoms"`
}

// DiagnosisMapping pairs a symptom with its clinical diagnosis phrase.
type DiagnosisMapping struct {
	Symptom   string `json:"symptom"`
	Diagnosis string `json:"diagnosis"`
}

// SymptomMatch is the retrieval result for one symptom.
type SymptomMatch struct {
	Symptom    string
	Diagnosis  string
	Candidates []simindex.Match
	Best       *simindex.Match
	Specialty  string
}

// ICD10Item is one symptom's best code in the final payload.
type ICD10Item struct {
	Symptom   string  `json:"symptom"`
	Diagnosis string  `json:"diagnosis"`
	Code      string  `json:"icd10,omitempty"`
	Label     string  `json:"label,omitempty"`
	Score     float64 `json:"score"`
	Specialty string  `json:"specialty"`
}

// Appointment is the suggested referral.
type Appointment struct {
	Specialty     string `json:"specialty"`
	SuggestedDate string `json:"suggestedDate"`
	SuggestedTime string `json:"suggestedTime"`
}

// FinalPayload is the JSON content of the final event after mapping.
type FinalPayload struct {
	Symptoms    []string           `json:"symptoms"`
	Mappings    []DiagnosisMapping `json:"mappings"`
	ICD10       []ICD10Item        `json:"icd10"`
	Appointment Appointment        `json:"appointment"`
}

// DegradedPayload replaces FinalPayload when mapping fails.
type DegradedPayload struct {
	Symptoms     []string `json:"symptoms"`
	ErrorMessage string   `json:"error_message"`
	ICD10        []string `json:"icd10"`
	Appointment  struct{} `json:"appointment"`
}

// Referral is what a successful mapping recommends, handed to notifiers.
type Referral struct {
	CorrelationID string
	Specialty     string
	Symptoms      []string
	Items         []ICD10Item
	CreatedAt     time.Time
}
