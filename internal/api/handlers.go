// Package api exposes the assistant over HTTP and MCP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/kalambet/aidbud/internal/conversation"
	"github.com/kalambet/aidbud/internal/situation"
	"github.com/kalambet/aidbud/internal/workflow"
)

const maxRequestBodySize = 1 << 20 // 1MB

// Runner abstracts the turn orchestrator for the API layer.
type Runner interface {
	Run(ctx context.Context, conversationID int, query string, attachmentPaths []string) (workflow.Result, error)
}

// MemoryAdmin abstracts the vector store maintenance operations.
type MemoryAdmin interface {
	DeleteConversation(ctx context.Context, conversationID int) error
	Reset(ctx context.Context) error
}

type AppDeps struct {
	Orchestrator Runner
	Conversation *conversation.State
	Situation    *situation.Manager
	Memory       MemoryAdmin
}

type QueryRequest struct {
	Query           string   `json:"query"`
	AttachmentPaths []string `json:"attachment_paths"`
}

type QueryResponse struct {
	ConversationID int    `json:"conversation_id"`
	Query          string `json:"query"`
	Response       string `json:"response,omitempty"`
	PCard          any    `json:"pcard,omitempty"`
}

// SituationUpdate is a partial update; nil sections are left untouched.
type SituationUpdate struct {
	Triage *struct {
		Enabled  *bool             `json:"enabled"`
		Protocol map[string]string `json:"protocol"`
	} `json:"triage"`
	FirstAid *struct {
		Enabled      *bool   `json:"enabled"`
		Availability *string `json:"availability"`
	} `json:"first_aid"`
	Current *struct {
		Enabled   *bool   `json:"enabled"`
		Situation *string `json:"situation"`
	} `json:"current_situation"`
}

func NewAppHandler(deps AppDeps) http.Handler {
	r := chi.NewRouter()
	r.Use(requestID)

	r.Get("/health", handleHealth)
	r.Post("/query", handleQuery(deps))
	r.Get("/situation", handleGetSituation(deps))
	r.Put("/situation", handlePutSituation(deps))
	r.Get("/pcard", handleGetPCard(deps))
	r.Post("/conversations/reset", handleResetConversation(deps))
	r.Delete("/conversations/{id}", handleDeleteConversation(deps))
	r.Post("/memory/reset", handleResetMemory(deps))

	return r
}

// requestID tags every request with a trace id for log correlation.
func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := uuid.NewString()
		w.Header().Set("X-Request-ID", id)
		slog.Debug("handling request", "request", id, "method", r.Method, "path", r.URL.Path)
		next.ServeHTTP(w, r)
	})
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

func handleQuery(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req QueryRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}

		conversationID := deps.Conversation.ID()
		result, err := deps.Orchestrator.Run(r.Context(), conversationID, req.Query, req.AttachmentPaths)
		switch {
		case errors.Is(err, workflow.ErrNoInput):
			httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
			return
		case err != nil:
			httpError(w, http.StatusBadGateway, "api_error", "%v", err)
			return
		}

		deps.Conversation.Append(conversation.Message{
			Role:            conversation.RoleUser,
			Content:         req.Query,
			AttachmentPaths: req.AttachmentPaths,
		})
		deps.Conversation.Append(conversation.Message{
			Role:    conversation.RoleAssistant,
			Content: result.Response,
		})
		card := deps.Conversation.UpdateCard(result.Card)

		resp := QueryResponse{
			ConversationID: conversationID,
			Query:          result.Query,
			Response:       result.Response,
		}
		if len(card) > 0 {
			resp.PCard = card
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func handleGetSituation(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"triage":            deps.Situation.Triage(),
			"first_aid":         deps.Situation.FirstAid(),
			"current_situation": deps.Situation.Current(),
		})
	}
}

func handlePutSituation(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req SituationUpdate
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if err := applySituation(deps.Situation, req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
			return
		}
		handleGetSituation(deps)(w, r)
	}
}

func applySituation(state *situation.Manager, req SituationUpdate) error {
	if req.Triage != nil {
		if req.Triage.Enabled != nil {
			if err := state.SetTriageEnabled(*req.Triage.Enabled); err != nil {
				return fmt.Errorf("updating triage toggle: %w", err)
			}
		}
		if req.Triage.Protocol != nil {
			if err := state.UpdateProtocol(req.Triage.Protocol); err != nil {
				return fmt.Errorf("updating triage protocol: %w", err)
			}
		}
	}
	if req.FirstAid != nil {
		if req.FirstAid.Enabled != nil {
			if err := state.SetFirstAidEnabled(*req.FirstAid.Enabled); err != nil {
				return fmt.Errorf("updating first aid toggle: %w", err)
			}
		}
		if req.FirstAid.Availability != nil {
			if err := state.SetAvailability(situation.Availability(*req.FirstAid.Availability)); err != nil {
				return err
			}
		}
	}
	if req.Current != nil {
		if req.Current.Enabled != nil {
			if err := state.SetCurrentEnabled(*req.Current.Enabled); err != nil {
				return fmt.Errorf("updating situation toggle: %w", err)
			}
		}
		if req.Current.Situation != nil {
			if err := state.SetSituation(*req.Current.Situation); err != nil {
				return fmt.Errorf("updating situation text: %w", err)
			}
		}
	}
	return nil
}

func handleGetPCard(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"conversation_id": deps.Conversation.ID(),
			"pcard":           deps.Conversation.Card(),
		})
	}
}

func handleResetConversation(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := deps.Conversation.Reset()
		writeJSON(w, http.StatusOK, map[string]any{"conversation_id": id})
	}
}

func handleDeleteConversation(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := strconv.Atoi(chi.URLParam(r, "id"))
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid conversation id")
			return
		}
		if err := deps.Memory.DeleteConversation(r.Context(), id); err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to delete conversation: %v", err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func handleResetMemory(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := deps.Memory.Reset(r.Context()); err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to reset memory: %v", err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func writeJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(payload)
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}
