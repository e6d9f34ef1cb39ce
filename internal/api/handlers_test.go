package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/kalambet/aidbud/internal/conversation"
	"github.com/kalambet/aidbud/internal/pcard"
	"github.com/kalambet/aidbud/internal/situation"
	"github.com/kalambet/aidbud/internal/workflow"
)

type fakeRunner struct {
	result workflow.Result
	err    error
	lastID int
}

func (r *fakeRunner) Run(_ context.Context, conversationID int, query string, _ []string) (workflow.Result, error) {
	r.lastID = conversationID
	if r.err != nil {
		return workflow.Result{}, r.err
	}
	result := r.result
	result.Query = query
	return result, nil
}

type fakeAdmin struct {
	deleted []int
	reset   bool
}

func (a *fakeAdmin) DeleteConversation(_ context.Context, conversationID int) error {
	a.deleted = append(a.deleted, conversationID)
	return nil
}

func (a *fakeAdmin) Reset(_ context.Context) error {
	a.reset = true
	return nil
}

func newTestApp(t *testing.T, runner Runner) (http.Handler, AppDeps) {
	t.Helper()
	state, err := situation.Load(filepath.Join(t.TempDir(), "situation.json"))
	if err != nil {
		t.Fatal(err)
	}
	deps := AppDeps{
		Orchestrator: runner,
		Conversation: conversation.New(),
		Situation:    state,
		Memory:       &fakeAdmin{},
	}
	return NewAppHandler(deps), deps
}

func postJSON(t *testing.T, handler http.Handler, path string, payload any) *httptest.ResponseRecorder {
	t.Helper()
	body, err := json.Marshal(payload)
	if err != nil {
		t.Fatal(err)
	}
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestQueryUpdatesConversation(t *testing.T) {
	runner := &fakeRunner{result: workflow.Result{
		Response: "Apply pressure.",
		Card:     pcard.Card{"TRIAGE": "Red"},
	}}
	handler, deps := newTestApp(t, runner)

	rec := postJSON(t, handler, "/query", QueryRequest{Query: "bleeding badly"})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body)
	}
	var resp QueryResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.ConversationID != 1 || resp.Response != "Apply pressure." {
		t.Errorf("unexpected response: %+v", resp)
	}
	if runner.lastID != 1 {
		t.Errorf("orchestrator saw conversation %d", runner.lastID)
	}
	if got := deps.Conversation.Card()["TRIAGE"]; got != "Red" {
		t.Errorf("card not accumulated: %q", got)
	}
	if len(deps.Conversation.Messages()) != 2 {
		t.Errorf("transcript = %v", deps.Conversation.Messages())
	}
}

func TestQueryErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code int
	}{
		{"no input", workflow.ErrNoInput, http.StatusBadRequest},
		{"generation failure", workflow.ErrGeneration, http.StatusBadGateway},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler, deps := newTestApp(t, &fakeRunner{err: tt.err})
			rec := postJSON(t, handler, "/query", QueryRequest{Query: "q"})
			if rec.Code != tt.code {
				t.Fatalf("status = %d, want %d", rec.Code, tt.code)
			}
			var envelope struct {
				Error struct {
					Message string `json:"message"`
					Type    string `json:"type"`
				} `json:"error"`
			}
			if err := json.Unmarshal(rec.Body.Bytes(), &envelope); err != nil {
				t.Fatal(err)
			}
			if envelope.Error.Message == "" {
				t.Error("error envelope missing message")
			}
			if len(deps.Conversation.Messages()) != 0 {
				t.Error("failed turn must not touch the transcript")
			}
		})
	}
}

func TestSituationRoundTrip(t *testing.T) {
	handler, deps := newTestApp(t, &fakeRunner{})
	enabled := true
	availability := "Non-Immediate"
	update := SituationUpdate{}
	update.FirstAid = &struct {
		Enabled      *bool   `json:"enabled"`
		Availability *string `json:"availability"`
	}{Enabled: &enabled, Availability: &availability}

	body, _ := json.Marshal(update)
	req := httptest.NewRequest(http.MethodPut, "/situation", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body)
	}
	fa := deps.Situation.FirstAid()
	if !fa.Enabled || fa.Availability != situation.AvailabilityNonImmediate {
		t.Errorf("first aid state = %+v", fa)
	}

	get := httptest.NewRequest(http.MethodGet, "/situation", nil)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, get)
	var snapshot map[string]json.RawMessage
	if err := json.Unmarshal(rec.Body.Bytes(), &snapshot); err != nil {
		t.Fatal(err)
	}
	for _, key := range []string{"triage", "first_aid", "current_situation"} {
		if _, ok := snapshot[key]; !ok {
			t.Errorf("situation response missing %s", key)
		}
	}
}

func TestSituationRejectsBadAvailability(t *testing.T) {
	handler, _ := newTestApp(t, &fakeRunner{})
	availability := "Sometimes"
	update := SituationUpdate{}
	update.FirstAid = &struct {
		Enabled      *bool   `json:"enabled"`
		Availability *string `json:"availability"`
	}{Availability: &availability}

	body, _ := json.Marshal(update)
	req := httptest.NewRequest(http.MethodPut, "/situation", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestConversationResetAndDelete(t *testing.T) {
	handler, deps := newTestApp(t, &fakeRunner{})
	rec := postJSON(t, handler, "/conversations/reset", struct{}{})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp map[string]int
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp["conversation_id"] != 2 {
		t.Errorf("conversation_id = %d, want 2", resp["conversation_id"])
	}

	req := httptest.NewRequest(http.MethodDelete, "/conversations/1", nil)
	del := httptest.NewRecorder()
	handler.ServeHTTP(del, req)
	if del.Code != http.StatusNoContent {
		t.Fatalf("delete status = %d", del.Code)
	}
	admin := deps.Memory.(*fakeAdmin)
	if len(admin.deleted) != 1 || admin.deleted[0] != 1 {
		t.Errorf("deleted = %v", admin.deleted)
	}
}

func TestMemoryReset(t *testing.T) {
	handler, deps := newTestApp(t, &fakeRunner{})
	rec := postJSON(t, handler, "/memory/reset", struct{}{})
	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d", rec.Code)
	}
	if !deps.Memory.(*fakeAdmin).reset {
		t.Error("memory reset not invoked")
	}
}

func TestRequestIDHeader(t *testing.T) {
	handler, _ := newTestApp(t, &fakeRunner{})
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Header().Get("X-Request-ID") == "" {
		t.Error("request id header missing")
	}
}
