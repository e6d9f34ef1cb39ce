package workflow

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/kalambet/aidbud/internal/chunk"
	"github.com/kalambet/aidbud/internal/embed"
	"github.com/kalambet/aidbud/internal/media"
	"github.com/kalambet/aidbud/internal/memory"
	"github.com/kalambet/aidbud/internal/prompt"
	"github.com/kalambet/aidbud/internal/situation"
)

type fakeGenerator struct {
	responses []string
	err       error
	prompts   []string
}

func (g *fakeGenerator) Generate(_ context.Context, p string, _ []media.Item) (string, error) {
	g.prompts = append(g.prompts, p)
	if g.err != nil {
		return "", g.err
	}
	if len(g.responses) == 0 {
		return "", errors.New("fake generator exhausted")
	}
	response := g.responses[0]
	g.responses = g.responses[1:]
	return response, nil
}

type fakeMemory struct {
	turns         []chunk.TurnRecord
	attachments   []embed.Attachment
	attachmentRec *memory.Record
	retrieveErr   error

	contextTurns       []string
	contextAttachIDs   []string
	contextAttachTexts []string
}

func (m *fakeMemory) InsertTurn(_ context.Context, rec chunk.TurnRecord, _ int) error {
	m.turns = append(m.turns, rec)
	return nil
}

func (m *fakeMemory) InsertAttachment(_ context.Context, att embed.Attachment, _ int) error {
	m.attachments = append(m.attachments, att)
	return nil
}

func (m *fakeMemory) RetrieveTurns(_ context.Context, _ string, _, _ int) ([]string, []string, error) {
	if m.retrieveErr != nil {
		return nil, nil, m.retrieveErr
	}
	return nil, m.contextTurns, nil
}

func (m *fakeMemory) RetrieveAttachments(_ context.Context, _ string, _, _ int) ([]string, []string, error) {
	if m.retrieveErr != nil {
		return nil, nil, m.retrieveErr
	}
	return m.contextAttachIDs, m.contextAttachTexts, nil
}

func (m *fakeMemory) GetAttachment(_ context.Context, id string) (memory.Record, bool, error) {
	if m.attachmentRec != nil && m.attachmentRec.ID == id {
		return *m.attachmentRec, true, nil
	}
	return memory.Record{}, false, nil
}

func newOrchestrator(t *testing.T, mem Memory, gen *fakeGenerator) *Orchestrator {
	t.Helper()
	state, err := situation.Load(filepath.Join(t.TempDir(), "situation.json"))
	if err != nil {
		t.Fatal(err)
	}
	return New(mem, gen, prompt.NewBuilder(state), media.NewPreparer(2, time.Second), 5)
}

func TestRunRejectsEmptyTurn(t *testing.T) {
	o := newOrchestrator(t, &fakeMemory{}, &fakeGenerator{})
	if _, err := o.Run(context.Background(), 1, "", nil); !errors.Is(err, ErrNoInput) {
		t.Fatalf("err = %v, want ErrNoInput", err)
	}
}

func TestTextTurnWithCard(t *testing.T) {
	mem := &fakeMemory{}
	gen := &fakeGenerator{responses: []string{
		"Elevate the leg.\n[PCARD]{\"TRIAGE\": \"Yellow\", \"IDENTIFIED_INJURY\": \"sprain\"}[/PCARD]",
	}}
	o := newOrchestrator(t, mem, gen)

	result, err := o.Run(context.Background(), 1, "my ankle is swollen", nil)
	if err != nil {
		t.Fatal(err)
	}
	if result.Card["TRIAGE"] != "Yellow" {
		t.Errorf("card = %v", result.Card)
	}
	if !strings.Contains(result.Response, "[EDITED PATIENT CARD]") {
		t.Errorf("card block not collapsed: %q", result.Response)
	}
	if len(mem.turns) != 1 || mem.turns[0].Query != "my ankle is swollen" {
		t.Errorf("turn not persisted: %v", mem.turns)
	}
}

func TestFunctionCallPath(t *testing.T) {
	mem := &fakeMemory{
		attachmentRec: &memory.Record{
			ID:             "3",
			Text:           "photo of a deep cut on the palm",
			ConversationID: 1,
			Paths:          []string{"/tmp/palm.png"},
		},
	}
	gen := &fakeGenerator{responses: []string{
		"[FCALL]{\"ID\": 3, \"REMARKS\": \"check bleeding\"}[/FCALL]",
		"Press a clean cloth on it.\n[PCARD]{\"TRIAGE\": \"Red\", \"ATTACHMENT\": \"palm wound, now actively bleeding\"}[/PCARD]",
	}}
	o := newOrchestrator(t, mem, gen)

	result, err := o.Run(context.Background(), 1, "is it still bleeding", nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(gen.prompts) != 2 {
		t.Fatalf("expected 2 generations, got %d", len(gen.prompts))
	}
	if !strings.Contains(gen.prompts[1], "photo of a deep cut on the palm") {
		t.Error("attachment description missing from second prompt")
	}
	// The transit field routes the new description back to attachment
	// memory and never reaches the persisted turn or the returned card.
	if len(mem.attachments) != 1 || mem.attachments[0].Description != "palm wound, now actively bleeding" {
		t.Fatalf("attachments = %v", mem.attachments)
	}
	if got := mem.attachments[0].Paths; len(got) != 1 || got[0] != "/tmp/palm.png" {
		t.Errorf("updated attachment lost source paths: %v", got)
	}
	if _, ok := mem.turns[0].PCard["ATTACHMENT"]; ok {
		t.Errorf("transit field leaked into persisted turn: %v", mem.turns[0].PCard)
	}
	if _, ok := result.Card["ATTACHMENT"]; ok {
		t.Errorf("transit field leaked into result: %v", result.Card)
	}
	if result.Card["TRIAGE"] != "Red" {
		t.Errorf("card = %v", result.Card)
	}
}

func TestMalformedFunctionCallFallsBack(t *testing.T) {
	mem := &fakeMemory{}
	gen := &fakeGenerator{responses: []string{
		"[FCALL]garbage[/FCALL]",
		"Rinse with clean water.\n[PCARD]{\"TRIAGE\": \"Green\"}[/PCARD]",
	}}
	o := newOrchestrator(t, mem, gen)

	result, err := o.Run(context.Background(), 1, "small scrape", nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(gen.prompts) != 2 {
		t.Fatalf("expected fallback generation, got %d prompts", len(gen.prompts))
	}
	if result.Card["TRIAGE"] != "Green" {
		t.Errorf("card = %v", result.Card)
	}
}

func TestUnknownAttachmentIDFallsBack(t *testing.T) {
	mem := &fakeMemory{}
	gen := &fakeGenerator{responses: []string{
		"[FCALL]{\"ID\": 9, \"REMARKS\": \"look again\"}[/FCALL]",
		"I cannot see the attachment, but do this.\n[PCARD]{\"TRIAGE\": \"Yellow\"}[/PCARD]",
	}}
	o := newOrchestrator(t, mem, gen)

	if _, err := o.Run(context.Background(), 1, "check the photo again", nil); err != nil {
		t.Fatal(err)
	}
	if len(gen.prompts) != 2 {
		t.Fatalf("expected fallback generation, got %d prompts", len(gen.prompts))
	}
}

func TestAttachmentTurn(t *testing.T) {
	dir := t.TempDir()
	notePath := filepath.Join(dir, "notes.txt")
	if err := os.WriteFile(notePath, []byte("patient fell off a ladder"), 0o644); err != nil {
		t.Fatal(err)
	}

	mem := &fakeMemory{}
	gen := &fakeGenerator{responses: []string{
		`{"description": "notes describing a fall from a ladder"}`,
		"Check for head injury.\n[PCARD]{\"IDENTIFIED_INJURY\": \"fall trauma\"}[/PCARD]",
	}}
	o := newOrchestrator(t, mem, gen)

	result, err := o.Run(context.Background(), 1, "what should I check first", []string{notePath})
	if err != nil {
		t.Fatal(err)
	}
	if len(mem.attachments) != 1 {
		t.Fatalf("attachment not stored: %v", mem.attachments)
	}
	if mem.attachments[0].Description != "notes describing a fall from a ladder" {
		t.Errorf("stored description = %q", mem.attachments[0].Description)
	}
	if !strings.Contains(gen.prompts[1], "notes describing a fall from a ladder") {
		t.Error("description missing from answer prompt")
	}
	if result.Card["IDENTIFIED_INJURY"] != "fall trauma" {
		t.Errorf("card = %v", result.Card)
	}
}

func TestAttachmentDescriptionFailureStillAnswers(t *testing.T) {
	dir := t.TempDir()
	notePath := filepath.Join(dir, "notes.txt")
	if err := os.WriteFile(notePath, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	mem := &fakeMemory{}
	gen := &fakeGenerator{responses: []string{
		"no structure in this reply",
		"General advice.\n[PCARD]{\"TRIAGE\": \"Green\"}[/PCARD]",
	}}
	o := newOrchestrator(t, mem, gen)

	if _, err := o.Run(context.Background(), 1, "help", []string{notePath}); err != nil {
		t.Fatal(err)
	}
	if len(mem.attachments) != 0 {
		t.Errorf("undescribed attachment must not be stored: %v", mem.attachments)
	}
}

func TestGenerationFailure(t *testing.T) {
	o := newOrchestrator(t, &fakeMemory{}, &fakeGenerator{err: errors.New("model down")})
	_, err := o.Run(context.Background(), 1, "help", nil)
	if !errors.Is(err, ErrGeneration) {
		t.Fatalf("err = %v, want ErrGeneration", err)
	}
	if err.Error() != "there was an error generating a response, please try again" {
		t.Errorf("message = %q", err.Error())
	}
}

func TestEmptyReplyFails(t *testing.T) {
	gen := &fakeGenerator{responses: []string{""}}
	o := newOrchestrator(t, &fakeMemory{}, gen)
	if _, err := o.Run(context.Background(), 1, "help", nil); !errors.Is(err, ErrGeneration) {
		t.Fatalf("err = %v, want ErrGeneration", err)
	}
}

func TestPlainProseYieldsGenericError(t *testing.T) {
	gen := &fakeGenerator{responses: []string{"Just keep pressure on it."}}
	o := newOrchestrator(t, &fakeMemory{}, gen)
	if _, err := o.Run(context.Background(), 1, "bleeding arm", nil); !errors.Is(err, ErrGeneration) {
		t.Fatalf("err = %v, want ErrGeneration", err)
	}
}

func TestResponseWithUnusableCardSucceeds(t *testing.T) {
	gen := &fakeGenerator{responses: []string{
		"Call emergency services now.\n[PCARD]{\"NOTES\": \"patient is conscious\"}[/PCARD]",
	}}
	mem := &fakeMemory{}
	o := newOrchestrator(t, mem, gen)
	result, err := o.Run(context.Background(), 1, "severe bleeding", nil)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(result.Response, "Call emergency services now.") {
		t.Errorf("response = %q", result.Response)
	}
	if len(result.Card) != 0 {
		t.Errorf("unexpected card: %v", result.Card)
	}
}

func TestRetrievalFailureDegradesToEmptyContext(t *testing.T) {
	mem := &fakeMemory{retrieveErr: errors.New("store offline")}
	gen := &fakeGenerator{responses: []string{"Advice.\n[PCARD]{\"TRIAGE\": \"Green\"}[/PCARD]"}}
	o := newOrchestrator(t, mem, gen)
	if _, err := o.Run(context.Background(), 1, "help", nil); err != nil {
		t.Fatalf("turn must survive retrieval failure: %v", err)
	}
}

func TestRetrievedContextReachesPrompt(t *testing.T) {
	mem := &fakeMemory{
		contextTurns:       []string{"earlier advice about burns"},
		contextAttachIDs:   []string{"2"},
		contextAttachTexts: []string{"photo of a blistered hand"},
	}
	gen := &fakeGenerator{responses: []string{"More advice.\n[PCARD]{\"TRIAGE\": \"Yellow\"}[/PCARD]"}}
	o := newOrchestrator(t, mem, gen)
	if _, err := o.Run(context.Background(), 1, "does it need a dressing", nil); err != nil {
		t.Fatal(err)
	}
	p := gen.prompts[0]
	if !strings.Contains(p, "earlier advice about burns") {
		t.Error("turn context missing from prompt")
	}
	if !strings.Contains(p, "{id: 2, description: photo of a blistered hand}") {
		t.Error("attachment context missing from prompt")
	}
}
