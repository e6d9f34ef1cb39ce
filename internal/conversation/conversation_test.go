package conversation

import (
	"testing"

	"github.com/kalambet/aidbud/internal/pcard"
)

func TestIDsAdvanceOnReset(t *testing.T) {
	s := New()
	if s.ID() != 1 {
		t.Fatalf("first conversation id = %d, want 1", s.ID())
	}
	if id := s.Reset(); id != 2 {
		t.Fatalf("reset id = %d, want 2", id)
	}
	if id := s.Reset(); id != 3 {
		t.Fatalf("reset id = %d, want 3", id)
	}
}

func TestResetClearsTranscriptAndCard(t *testing.T) {
	s := New()
	s.Append(Message{Role: RoleUser, Content: "help"})
	s.UpdateCard(pcard.Card{"TRIAGE": "Red"})
	s.Reset()
	if len(s.Messages()) != 0 {
		t.Error("transcript survived reset")
	}
	if len(s.Card()) != 0 {
		t.Error("card survived reset")
	}
}

func TestCardAccumulatesAcrossTurns(t *testing.T) {
	s := New()
	s.UpdateCard(pcard.Card{"TRIAGE": "Yellow", "IDENTIFIED_INJURY": "sprain"})
	merged := s.UpdateCard(pcard.Card{"TRIAGE": "Red"})
	if merged["TRIAGE"] != "Red" || merged["IDENTIFIED_INJURY"] != "sprain" {
		t.Errorf("unexpected merged card: %v", merged)
	}
	// Mutating the returned copy must not touch internal state.
	snapshot := s.Card()
	snapshot["TRIAGE"] = "Green"
	if s.Card()["TRIAGE"] != "Red" {
		t.Error("card copy leaked internal state")
	}
}

func TestTranscriptOrder(t *testing.T) {
	s := New()
	s.Append(Message{Role: RoleUser, Content: "first", AttachmentPaths: []string{"a.jpg"}})
	s.Append(Message{Role: RoleAssistant, Content: "second"})
	msgs := s.Messages()
	if len(msgs) != 2 || msgs[0].Content != "first" || msgs[1].Content != "second" {
		t.Errorf("unexpected transcript: %v", msgs)
	}
	if len(msgs[0].AttachmentPaths) != 1 {
		t.Error("attachment paths lost")
	}
}
