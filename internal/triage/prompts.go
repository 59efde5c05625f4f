package triage

import (
	"encoding/json"
	"fmt"
	"strings"
)

const extractionSystemPrompt = `You are a careful clinical intake assistant. Your only task is to list the symptoms the patient explicitly reports as currently experiencing in their latest message.

Extract:
- explicitly named symptoms or complaints ("sharp chest pain", "dry cough")
- short descriptive phrases that clearly state a present health problem

Ignore:
- vague feelings without a concrete symptom ("I feel off", "not great today")
- symptoms of other people
- negated, past or hypothetical symptoms
- greetings, affirmations ("yes", "absolutely") and unrelated talk

Keep each symptom as a short phrase in the patient's own words. If nothing qualifies, return an empty list. Never invent symptoms.`

const fallbackSystemPrompt = extractionSystemPrompt + `

The structured attempt to identify symptoms in this conversation did not succeed. Reply conversationally instead: ask the patient to describe what they are feeling, or how you can help. Do not answer with JSON.`

const mappingSystemPrompt = `You are a clinical coding assistant. Convert every symptom in the input list into one clinical diagnosis phrase suitable for ICD-10 coding.

Rules:
1. Produce exactly one diagnosis phrase per symptom, at least %d words long, in standard clinical terminology.
2. Keep the symptom text exactly as given in the "symptom" field.
3. Add relevant qualifiers such as "unspecified", "acute" or "chronic".
4. Do not add symptoms or diagnoses that were not asked for.
5. If a symptom is too vague to map, use %q as its diagnosis.

Example input: ["chest pain", "persistent cough", "shortness of breath"]
Example output:
{"mappings": [
  {"symptom": "chest pain", "diagnosis": "Chest pain, unspecified location"},
  {"symptom": "persistent cough", "diagnosis": "Chronic productive cough"},
  {"symptom": "shortness of breath", "diagnosis": "Dyspnea on exertion, unspecified"}
]}`

// UnspecifiedDiagnosis replaces a missing or too short diagnosis phrase.
const UnspecifiedDiagnosis = "Diagnosis unspecified"

const (
	fallbackInfoLine = "I'm having a little trouble pinpointing specific symptoms. Let's try a different approach."
	greetingText     = "Hello! If you have any symptoms or health concerns, please let me know so I can assist you further."
	degradedMessage  = "I identified your symptoms, but encountered an issue providing detailed mappings. Please consult a healthcare professional."
	internalErrorFmt = "An unexpected server error occurred: %v"
)

var symptomShape = &OutputShape{
	Name:        "record_symptoms",
	Description: "Record the symptoms the patient reports in their latest message.",
	Properties: map[string]any{
		"symptoms": map[string]any{
			"type":        "array",
			"description": "Symptoms explicitly reported as present. Empty when there are none.",
			"items": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"name": map[string]any{"type": "string", "description": "Short symptom phrase."},
				},
				"required": []string{"name"},
			},
		},
	},
	Required: []string{"symptoms"},
}

var mappingShape = &OutputShape{
	Name:        "record_diagnoses",
	Description: "Record one clinical diagnosis phrase per symptom.",
	Properties: map[string]any{
		"mappings": map[string]any{
			"type": "array",
			"items": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"symptom":   map[string]any{"type": "string"},
					"diagnosis": map[string]any{"type": "string"},
				},
				"required": []string{"symptom", "diagnosis"},
			},
		},
	},
	Required: []string{"mappings"},
}

func buildMappingSystemPrompt(minWords int) string {
	return fmt.Sprintf(mappingSystemPrompt, minWords, UnspecifiedDiagnosis)
}

func buildMappingUserPrompt(symptoms []string) string {
	list, _ := json.Marshal(symptoms)
	return fmt.Sprintf("Provide diagnoses for these symptoms: %s", list)
}

// askMoreText is the reply for a turn that stays below the gate threshold.
func askMoreText(symptoms []string) string {
	if len(symptoms) == 0 {
		return greetingText
	}
	return fmt.Sprintf("I understand you're experiencing: %s. Could you please tell me about any other symptoms you might have?",
		strings.Join(symptoms, ", "))
}
