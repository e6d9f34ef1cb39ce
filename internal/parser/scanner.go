package parser

import "encoding/json"

// Match is one well-formed JSON object found in free text.
type Match struct {
	Start int
	End   int // exclusive
	Value map[string]any
}

// Scan walks text and returns every balanced-brace span that parses as a
// JSON object, in order of appearance. Malformed spans are skipped, never
// fatal; overlapping candidates inside a matched span are not re-reported.
// The scan is pure: same input, same matches.
func Scan(text string) []Match {
	var matches []Match
	for i := 0; i < len(text); i++ {
		if text[i] != '{' {
			continue
		}
		end, ok := balancedSpan(text, i)
		if ok {
			var value map[string]any
			if err := json.Unmarshal([]byte(text[i:end]), &value); err == nil {
				matches = append(matches, Match{Start: i, End: end, Value: value})
				i = end - 1
				continue
			}
		}
		// Malformed span: fall through and keep scanning inside it, so a
		// valid nested object is still found.
	}
	return matches
}

// FirstObject returns the first JSON object embedded in text.
func FirstObject(text string) (map[string]any, bool) {
	for i := 0; i < len(text); i++ {
		if text[i] != '{' {
			continue
		}
		if end, ok := balancedSpan(text, i); ok {
			var value map[string]any
			if err := json.Unmarshal([]byte(text[i:end]), &value); err == nil {
				return value, true
			}
		}
	}
	return nil, false
}

// balancedSpan returns the exclusive end of the brace-balanced span opening
// at start, tracking string literals and escapes so braces inside strings do
// not count.
func balancedSpan(text string, start int) (int, bool) {
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		c := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i + 1, true
			}
		}
	}
	return 0, false
}
