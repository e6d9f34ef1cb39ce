// Package pcard holds the patient card: the structured record the assistant
// maintains about the casualty across a conversation.
package pcard

import (
	"log/slog"
	"sort"
	"strings"
)

// Canonical card fields. Anything else coming back from the model is
// dropped during validation.
const (
	FieldTriage            = "TRIAGE"
	FieldInjury            = "IDENTIFIED_INJURY"
	FieldInjuryDescription = "IDENTIFIED_INJURY_DESCRIPTION"
	FieldPatientCondition  = "PATIENT_INJURY_DESCRIPTION"
	FieldInterventionPlan  = "INTERVENTION_PLAN"

	// FieldAttachment is a transit field: the function path uses it to
	// carry the attachment reference through the card and strips it before
	// the card reaches the conversation state.
	FieldAttachment = "ATTACHMENT"
)

var canonical = map[string]struct{}{
	FieldTriage:            {},
	FieldInjury:            {},
	FieldInjuryDescription: {},
	FieldPatientCondition:  {},
	FieldInterventionPlan:  {},
	FieldAttachment:        {},
}

// Card is a validated patient card. Values are always strings.
type Card map[string]string

// Validate projects a raw model payload onto the canonical field set.
// Non-string values and unknown keys are dropped with a warning. The second
// return is false when nothing canonical survives. Validating an already
// valid card returns it unchanged.
func Validate(raw map[string]any) (Card, bool) {
	if len(raw) == 0 {
		return nil, false
	}
	card := make(Card)
	for key, value := range raw {
		if _, ok := canonical[key]; !ok {
			slog.Warn("dropping unknown card field", "field", key)
			continue
		}
		s, ok := value.(string)
		if !ok {
			slog.Warn("dropping non-string card field", "field", key)
			continue
		}
		card[key] = s
	}
	if len(card) == 0 {
		return nil, false
	}
	return card, true
}

// Merge folds update into base, later values winning. Neither input is
// modified; the result is always a fresh card.
func Merge(base, update Card) Card {
	merged := make(Card, len(base)+len(update))
	for key, value := range base {
		merged[key] = value
	}
	for key, value := range update {
		merged[key] = value
	}
	return merged
}

// StripTransit returns a copy of the card without transit-only fields.
func StripTransit(card Card) Card {
	stripped := make(Card, len(card))
	for key, value := range card {
		if key == FieldAttachment {
			continue
		}
		stripped[key] = value
	}
	return stripped
}

// Format renders the card as sorted "KEY: value" lines for prompts and
// transcripts. Deterministic for a given card.
func Format(card Card) string {
	if len(card) == 0 {
		return ""
	}
	keys := make([]string, 0, len(card))
	for key := range card {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	var b strings.Builder
	for _, key := range keys {
		b.WriteString(key)
		b.WriteString(": ")
		b.WriteString(card[key])
		b.WriteString("\n")
	}
	return b.String()
}
