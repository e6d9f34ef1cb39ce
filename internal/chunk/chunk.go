// Package chunk splits text into token-bounded, overlapping segments sized to
// fit the embedding model's input limit.
package chunk

import (
	"encoding/json"
	"fmt"

	"github.com/kalambet/aidbud/internal/pcard"
	"github.com/kalambet/aidbud/internal/token"
)

// RecordOverhead reserves tokens for field and wrapper text when a structured
// turn record is chunked. Tunable constant, not derived.
const RecordOverhead = 50

// TurnRecord is the structured record persisted after a completed turn.
type TurnRecord struct {
	Query    string     `json:"query"`
	Response string     `json:"response,omitempty"`
	PCard    pcard.Card `json:"pcard,omitempty"`
}

// Splitter chunks text against a tokenizer and a token budget.
type Splitter struct {
	tok       token.Tokenizer
	maxTokens int
	overlap   int
}

// NewSplitter builds a Splitter. It rejects budgets under which chunking is
// undefined: callers must surface this as a configuration error, not retry.
func NewSplitter(tok token.Tokenizer, maxTokens, overlap int) (*Splitter, error) {
	if maxTokens <= 0 {
		return nil, fmt.Errorf("chunk: max tokens must be positive, got %d", maxTokens)
	}
	if overlap < 0 || overlap >= maxTokens {
		return nil, fmt.Errorf("chunk: overlap %d must be in [0, %d)", overlap, maxTokens)
	}
	if maxTokens-RecordOverhead <= 0 {
		return nil, fmt.Errorf("chunk: max tokens %d leaves no budget for the %d-token record overhead", maxTokens, RecordOverhead)
	}
	return &Splitter{tok: tok, maxTokens: maxTokens, overlap: overlap}, nil
}

// Split slices text into windows of at most maxTokens tokens, each window
// advancing by maxTokens-overlap. Text that already fits is returned as-is
// without re-encoding.
func (s *Splitter) Split(text string) []string {
	tokens := s.tok.Encode(text)
	if len(tokens) <= s.maxTokens {
		return []string{text}
	}
	return s.windows(tokens, s.maxTokens)
}

// SplitTurn chunks a structured turn record. A record whose combined token
// cost fits the budget serializes as a single chunk; otherwise the response
// and the card are chunked independently against the remaining budget, each
// chunk re-paired with the original query.
func (s *Splitter) SplitTurn(rec TurnRecord) ([]string, error) {
	queryTokens := s.tok.Encode(rec.Query)
	responseTokens := s.tok.Encode(rec.Response)
	cardText := pcard.Format(rec.PCard)
	cardTokens := s.tok.Encode(cardText)

	if len(queryTokens)+len(responseTokens)+len(cardTokens) <= s.maxTokens {
		return []string{serializeTurn(rec.Query, rec.Response, cardText)}, nil
	}

	budget := s.maxTokens - len(queryTokens) - RecordOverhead
	if budget <= 0 {
		return nil, fmt.Errorf("chunk: query of %d tokens leaves no budget under max tokens %d", len(queryTokens), s.maxTokens)
	}
	if budget-s.overlap <= 0 {
		return nil, fmt.Errorf("chunk: overlap %d swallows the %d-token record budget", s.overlap, budget)
	}

	var chunks []string
	if len(responseTokens) > 0 {
		for _, part := range s.windows(responseTokens, budget) {
			chunks = append(chunks, serializeTurn(rec.Query, part, ""))
		}
	}
	if len(cardTokens) > 0 {
		for _, part := range s.windows(cardTokens, budget) {
			chunks = append(chunks, serializeTurn(rec.Query, "", part))
		}
	}
	return chunks, nil
}

// SplitDescription chunks an attachment description as plain text.
func (s *Splitter) SplitDescription(description string) []string {
	return s.Split(description)
}

// windows slices tokens into decoded segments of at most size tokens,
// stepping by size-overlap. The last segment may be shorter.
func (s *Splitter) windows(tokens []string, size int) []string {
	step := size - s.overlap
	var out []string
	for start := 0; start < len(tokens); start += step {
		end := start + size
		if end > len(tokens) {
			end = len(tokens)
		}
		out = append(out, s.tok.Decode(tokens[start:end]))
		if end == len(tokens) {
			break
		}
	}
	return out
}

func serializeTurn(query, response, cardText string) string {
	payload := struct {
		Query    string `json:"query"`
		Response string `json:"response,omitempty"`
		PCard    string `json:"pcard,omitempty"`
	}{Query: query, Response: response, PCard: cardText}
	data, _ := json.Marshal(payload)
	return string(data)
}
