// Package conversation tracks the active conversation: its id, transcript,
// and the accumulated patient card.
package conversation

import (
	"sync"

	"github.com/kalambet/aidbud/internal/pcard"
)

// Role labels a transcript message author.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one transcript entry.
type Message struct {
	Role            Role     `json:"role"`
	Content         string   `json:"content"`
	AttachmentPaths []string `json:"attachment_paths,omitempty"`
}

// State holds the live conversation. The first conversation has id 1; every
// reset advances the id so vector-store scoping never collides with a
// previous conversation.
type State struct {
	mu       sync.Mutex
	id       int
	messages []Message
	card     pcard.Card
}

func New() *State {
	s := &State{}
	s.Reset()
	return s
}

// Reset starts a fresh conversation and returns its id. The transcript and
// patient card are cleared.
func (s *State) Reset() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.id++
	s.messages = nil
	s.card = nil
	return s.id
}

// ID returns the current conversation id.
func (s *State) ID() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.id
}

// Append adds one message to the transcript.
func (s *State) Append(msg Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, msg)
}

// Messages returns a copy of the transcript.
func (s *State) Messages() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Message, len(s.messages))
	copy(out, s.messages)
	return out
}

// UpdateCard folds update into the accumulated patient card, later values
// winning, and returns the merged card.
func (s *State) UpdateCard(update pcard.Card) pcard.Card {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.card = pcard.Merge(s.card, update)
	return s.card
}

// Card returns a copy of the accumulated patient card.
func (s *State) Card() pcard.Card {
	s.mu.Lock()
	defer s.mu.Unlock()
	return pcard.Merge(nil, s.card)
}
