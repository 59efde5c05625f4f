// Package triage is the symptom triage core. It defines the Service (request
// validation, correlation ids, referral notification), the Engine (the
// per-turn state machine), the Gateway over an LLM Provider, and the event
// model a turn streams back.
package triage
