// Package parser extracts structured payloads from free-form model output.
// Model responses are never trusted to be clean JSON: payloads arrive inside
// marker blocks, surrounded by prose, or not at all. Every entry point here
// degrades to "nothing found" instead of failing.
package parser

import (
	"math"
	"regexp"
)

var (
	fcallBlock = regexp.MustCompile(`(?s)\[FCALL\](.*?)\[/FCALL\]`)
	pcardBlock = regexp.MustCompile(`(?s)\[PCARD\](.*?)\[/PCARD\]`)
)

// cardPlaceholder replaces extracted card blocks in the text shown to the
// user, so raw JSON never leaks into the transcript.
const cardPlaceholder = "[EDITED PATIENT CARD]"

// FCall is a function-call request extracted from model output.
type FCall struct {
	ID      int
	Remarks string
}

// Response is the structured view of one model reply.
type Response struct {
	// FCallFound reports that a function block was present, even when its
	// payload could not be decoded. FCall is nil in the malformed case.
	FCallFound bool
	FCall      *FCall

	// Card is the raw patient-card payload, nil when none was found.
	Card map[string]any

	// Text is the reply with card blocks collapsed to a placeholder.
	Text string
}

// ParseResponse decodes one model reply. When findFunction is set the first
// [FCALL] block wins and card extraction is skipped; otherwise the first
// [PCARD] block is used, falling back to the first bare JSON object anywhere
// in the text.
func ParseResponse(text string, findFunction bool) Response {
	if findFunction {
		if m := fcallBlock.FindStringSubmatch(text); m != nil {
			return Response{FCallFound: true, FCall: decodeFCall(m[1]), Text: text}
		}
	}

	out := Response{Text: text}
	if m := pcardBlock.FindStringSubmatch(text); m != nil {
		if value, ok := FirstObject(m[1]); ok {
			out.Card = value
			out.Text = pcardBlock.ReplaceAllString(text, cardPlaceholder)
		}
		return out
	}
	if value, ok := FirstObject(text); ok {
		out.Card = value
	}
	return out
}

// ParseAttachment returns the description string from the first object in
// text that carries a non-empty "description" field.
func ParseAttachment(text string) (string, bool) {
	for _, m := range Scan(text) {
		if desc, ok := m.Value["description"].(string); ok && desc != "" {
			return desc, true
		}
	}
	return "", false
}

// decodeFCall accepts upper- and lower-case field names; remarks defaults to
// empty. Returns nil when no object with an integer id is present.
func decodeFCall(block string) *FCall {
	value, ok := FirstObject(block)
	if !ok {
		return nil
	}
	id, ok := intField(value, "ID", "id")
	if !ok {
		return nil
	}
	call := &FCall{ID: id}
	for _, key := range []string{"REMARKS", "remarks"} {
		if s, ok := value[key].(string); ok {
			call.Remarks = s
			break
		}
	}
	return call
}

func intField(value map[string]any, keys ...string) (int, bool) {
	for _, key := range keys {
		raw, ok := value[key]
		if !ok {
			continue
		}
		f, ok := raw.(float64)
		if !ok || f != math.Trunc(f) {
			return 0, false
		}
		return int(f), true
	}
	return 0, false
}
