package prompt

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/kalambet/aidbud/internal/situation"
)

func newState(t *testing.T) *situation.Manager {
	t.Helper()
	state, err := situation.Load(filepath.Join(t.TempDir(), "situation.json"))
	if err != nil {
		t.Fatalf("loading situation state: %v", err)
	}
	return state
}

func assertNoPlaceholders(t *testing.T, p string) {
	t.Helper()
	for _, ph := range []string{"[QUERY]", "[TRIAGE]", "[FIRST AID AVAILABILITY]", "[CURRENT SITUATION]", "[ATTACHMENT DESCRIPTION]", "[CONVERSATION CONTEXT]"} {
		if strings.Contains(p, ph) {
			t.Errorf("placeholder %s left in prompt", ph)
		}
	}
}

func TestQueryAllTogglesDisabled(t *testing.T) {
	b := NewBuilder(newState(t))
	p := b.Query("how do I treat a burn", "", Context{})
	assertNoPlaceholders(t, p)
	if !strings.Contains(p, "**Query:**\nhow do I treat a burn") {
		t.Error("query section missing")
	}
	for _, header := range []string{"**Triage:**", "**First Aid:**", "**Current Situation:**", "**Attachment Description:**", "**Relevant past"} {
		if strings.Contains(p, header) {
			t.Errorf("disabled section %s present", header)
		}
	}
}

func TestQueryWithContextAndDescription(t *testing.T) {
	b := NewBuilder(newState(t))
	ctx := Context{
		Responses:   []string{"patient fainted earlier"},
		Attachments: []string{`{id: 2, description: bruised ankle}`},
	}
	p := b.Query("what now", "swollen ankle, no open wound", ctx)
	assertNoPlaceholders(t, p)
	if !strings.Contains(p, "**Attachment Description:**\nswollen ankle, no open wound") {
		t.Error("attachment description missing")
	}
	if !strings.Contains(p, "**Relevant past conversation history:**\npatient fainted earlier") {
		t.Error("response context missing")
	}
	if !strings.Contains(p, "**Relevant context from past attachments:**\n{id: 2, description: bruised ankle}") {
		t.Error("attachment context missing")
	}
}

func TestTriageVariantCarriesProtocol(t *testing.T) {
	state := newState(t)
	if err := state.SetTriageEnabled(true); err != nil {
		t.Fatal(err)
	}
	if err := state.UpdateProtocol(map[string]string{"Red": "life threatening", "Green": "walking wounded"}); err != nil {
		t.Fatal(err)
	}
	b := NewBuilder(state)
	p := b.Query("assess the patient", "", Context{})
	assertNoPlaceholders(t, p)
	if !strings.Contains(p, "**Triage:**\nGreen: walking wounded\nRed: life threatening") {
		t.Errorf("protocol not rendered in sorted order:\n%s", p)
	}
}

func TestFirstAidAndSituationSections(t *testing.T) {
	state := newState(t)
	if err := state.SetFirstAidEnabled(true); err != nil {
		t.Fatal(err)
	}
	if err := state.SetAvailability(situation.AvailabilityUnavailable); err != nil {
		t.Fatal(err)
	}
	if err := state.SetCurrentEnabled(true); err != nil {
		t.Fatal(err)
	}
	if err := state.SetSituation("remote trail, 2h from help"); err != nil {
		t.Fatal(err)
	}
	b := NewBuilder(state)
	p := b.QueryFunction("is the bleeding serious", Context{})
	assertNoPlaceholders(t, p)
	if !strings.Contains(p, "**First Aid:**") || !strings.Contains(p, "Unavailable") {
		t.Error("first aid section missing")
	}
	if !strings.Contains(p, "**Current Situation:**\nremote trail, 2h from help") {
		t.Error("current situation section missing")
	}
}

func TestQueryFunctionMentionsCallContract(t *testing.T) {
	b := NewBuilder(newState(t))
	p := b.QueryFunction("q", Context{Attachments: []string{"{id: 1, description: x}"}})
	if !strings.Contains(p, "[FCALL]") {
		t.Error("function-call contract missing from routing prompt")
	}
}

func TestFunctionPrompt(t *testing.T) {
	b := NewBuilder(newState(t))
	p := b.Function("q", "close-up of laceration", Context{})
	assertNoPlaceholders(t, p)
	if !strings.Contains(p, "close-up of laceration") {
		t.Error("description missing")
	}
	if strings.Contains(p, "[FCALL]") {
		t.Error("function prompt must not re-offer the call contract")
	}
}

func TestAttachmentPromptIsStatic(t *testing.T) {
	b := NewBuilder(newState(t))
	p := b.Attachment()
	assertNoPlaceholders(t, p)
	if !strings.Contains(p, `{"description"`) {
		t.Error("attachment prompt must request a description object")
	}
}
