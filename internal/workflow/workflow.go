// Package workflow orchestrates one conversational turn: context retrieval,
// routing between the answer paths, response parsing, and memory writes.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/google/uuid"

	"github.com/kalambet/aidbud/internal/chunk"
	"github.com/kalambet/aidbud/internal/embed"
	"github.com/kalambet/aidbud/internal/llm"
	"github.com/kalambet/aidbud/internal/media"
	"github.com/kalambet/aidbud/internal/memory"
	"github.com/kalambet/aidbud/internal/parser"
	"github.com/kalambet/aidbud/internal/pcard"
	"github.com/kalambet/aidbud/internal/prompt"
)

// ErrNoInput is returned when a turn carries neither a query nor
// attachments.
var ErrNoInput = errors.New("a query or at least one attachment is required")

// ErrGeneration is the user-facing failure for a turn that produced neither
// a patient card nor a usable response.
var ErrGeneration = errors.New("there was an error generating a response, please try again")

// Memory is the slice of the vector store the orchestrator needs.
type Memory interface {
	InsertTurn(ctx context.Context, rec chunk.TurnRecord, conversationID int) error
	InsertAttachment(ctx context.Context, att embed.Attachment, conversationID int) error
	RetrieveTurns(ctx context.Context, query string, conversationID, k int) ([]string, []string, error)
	RetrieveAttachments(ctx context.Context, query string, conversationID, k int) ([]string, []string, error)
	GetAttachment(ctx context.Context, id string) (memory.Record, bool, error)
}

// Result is the outcome of one successful turn.
type Result struct {
	Query    string     `json:"query"`
	Response string     `json:"response,omitempty"`
	Card     pcard.Card `json:"pcard,omitempty"`
}

// Orchestrator runs turns against the model, the vector store, and the
// prompt builder.
type Orchestrator struct {
	memory    Memory
	generator llm.Generator
	prompts   *prompt.Builder
	preparer  *media.Preparer
	topK      int
}

func New(mem Memory, generator llm.Generator, prompts *prompt.Builder, preparer *media.Preparer, topK int) *Orchestrator {
	return &Orchestrator{
		memory:    mem,
		generator: generator,
		prompts:   prompts,
		preparer:  preparer,
		topK:      topK,
	}
}

// Run executes one turn. Turns with attachments go through attachment
// processing and the plain answer path; text-only turns go through function
// routing so the model can request a re-examination of a past attachment.
// The successful turn is persisted to memory before returning.
func (o *Orchestrator) Run(ctx context.Context, conversationID int, query string, attachmentPaths []string) (Result, error) {
	if query == "" && len(attachmentPaths) == 0 {
		return Result{}, ErrNoInput
	}
	log := slog.With("turn", uuid.NewString(), "conversation", conversationID)

	turnCtx := o.retrieveContext(ctx, log, conversationID, query)

	var (
		result Result
		err    error
	)
	if len(attachmentPaths) > 0 {
		result, err = o.runQuery(ctx, log, conversationID, query, turnCtx, attachmentPaths)
	} else {
		result, err = o.runQueryFunction(ctx, log, conversationID, query, turnCtx)
	}
	if err != nil {
		return Result{}, err
	}

	result.Card = pcard.StripTransit(result.Card)
	rec := chunk.TurnRecord{Query: query, Response: result.Response, PCard: result.Card}
	if err := o.memory.InsertTurn(ctx, rec, conversationID); err != nil {
		log.Warn("turn not persisted to memory", "error", err)
	}
	return result, nil
}

// retrieveContext pulls top-K past turns and attachments for the query.
// Retrieval failures degrade to an empty context.
func (o *Orchestrator) retrieveContext(ctx context.Context, log *slog.Logger, conversationID int, query string) prompt.Context {
	var turnCtx prompt.Context
	_, texts, err := o.memory.RetrieveTurns(ctx, query, conversationID, o.topK)
	if err != nil {
		log.Warn("turn context retrieval failed", "error", err)
	} else {
		turnCtx.Responses = texts
	}
	ids, descriptions, err := o.memory.RetrieveAttachments(ctx, query, conversationID, o.topK)
	if err != nil {
		log.Warn("attachment context retrieval failed", "error", err)
		return turnCtx
	}
	for i := range ids {
		turnCtx.Attachments = append(turnCtx.Attachments,
			fmt.Sprintf("{id: %s, description: %s}", ids[i], descriptions[i]))
	}
	return turnCtx
}

// runQuery is the plain answer path. When attachments are present they are
// described and stored first; the description rides into the prompt.
func (o *Orchestrator) runQuery(ctx context.Context, log *slog.Logger, conversationID int, query string, turnCtx prompt.Context, attachmentPaths []string) (Result, error) {
	var description string
	if len(attachmentPaths) > 0 {
		description = o.processAttachment(ctx, log, conversationID, attachmentPaths)
	}

	p := o.prompts.Query(query, description, turnCtx)
	response, err := o.generator.Generate(ctx, p, nil)
	if err != nil {
		log.Error("query generation failed", "error", err)
		return Result{}, ErrGeneration
	}
	return o.finishTurn(log, query, response)
}

// runQueryFunction is the routing path: the model may answer directly or
// request a re-examination of a past attachment.
func (o *Orchestrator) runQueryFunction(ctx context.Context, log *slog.Logger, conversationID int, query string, turnCtx prompt.Context) (Result, error) {
	p := o.prompts.QueryFunction(query, turnCtx)
	response, err := o.generator.Generate(ctx, p, nil)
	if err != nil {
		log.Error("routing generation failed", "error", err)
		return Result{}, ErrGeneration
	}

	parsed := parser.ParseResponse(response, true)
	if parsed.FCallFound {
		if parsed.FCall == nil {
			log.Warn("malformed function call, answering directly")
			return o.runQuery(ctx, log, conversationID, query, turnCtx, nil)
		}
		return o.runFunction(ctx, log, conversationID, query, *parsed.FCall, turnCtx)
	}
	return o.finishParsed(log, query, parsed)
}

// runFunction answers against a re-examined attachment. A stale or unknown
// attachment id falls back to the plain answer path.
func (o *Orchestrator) runFunction(ctx context.Context, log *slog.Logger, conversationID int, query string, call parser.FCall, turnCtx prompt.Context) (Result, error) {
	rec, found, err := o.memory.GetAttachment(ctx, strconv.Itoa(call.ID))
	if err != nil {
		log.Warn("attachment lookup failed", "id", call.ID, "error", err)
	}
	if err != nil || !found {
		return o.runQuery(ctx, log, conversationID, query, turnCtx, nil)
	}
	log.Info("re-examining attachment", "id", call.ID, "remarks", call.Remarks)

	items := o.preparer.Prepare(ctx, media.Classify(rec.Paths))
	p := o.prompts.Function(query, rec.Text, turnCtx)
	response, err := o.generator.Generate(ctx, p, items)
	if err != nil {
		log.Error("function generation failed", "error", err)
		return Result{}, ErrGeneration
	}
	result, err := o.finishTurn(log, query, response)
	if err != nil {
		return result, err
	}
	// A card-level ATTACHMENT field is an updated description for the
	// re-examined attachment; it goes back to attachment memory, not onto
	// the patient card.
	if description, ok := result.Card[pcard.FieldAttachment]; ok {
		att := embed.Attachment{Description: description, Paths: rec.Paths}
		if err := o.memory.InsertAttachment(ctx, att, conversationID); err != nil {
			log.Warn("updated attachment description not persisted", "error", err)
		}
	}
	return result, nil
}

// processAttachment describes new attachments and stores them. Failures
// leave the turn without a description rather than aborting it.
func (o *Orchestrator) processAttachment(ctx context.Context, log *slog.Logger, conversationID int, attachmentPaths []string) string {
	items := o.preparer.Prepare(ctx, media.Classify(attachmentPaths))
	if len(items) == 0 {
		log.Warn("no usable attachments in turn", "paths", attachmentPaths)
		return ""
	}
	response, err := o.generator.Generate(ctx, o.prompts.Attachment(), items)
	if err != nil {
		log.Warn("attachment description failed", "error", err)
		return ""
	}
	description, ok := parser.ParseAttachment(response)
	if !ok {
		log.Warn("attachment response carried no description")
		return ""
	}
	att := embed.Attachment{Description: description, Paths: attachmentPaths}
	if err := o.memory.InsertAttachment(ctx, att, conversationID); err != nil {
		log.Warn("attachment not persisted to memory", "error", err)
	}
	return description
}

func (o *Orchestrator) finishTurn(log *slog.Logger, query, response string) (Result, error) {
	return o.finishParsed(log, query, parser.ParseResponse(response, false))
}

// finishParsed validates the parsed reply. A turn succeeds only when the
// reply carried a structured payload; prose with no extractable object is a
// generation failure, not an answer.
func (o *Orchestrator) finishParsed(log *slog.Logger, query string, parsed parser.Response) (Result, error) {
	if parsed.Card == nil {
		log.Error("reply carried no structured payload")
		return Result{}, ErrGeneration
	}
	card, valid := pcard.Validate(parsed.Card)
	if !valid && parsed.Text == "" {
		log.Error("turn yielded neither card nor response")
		return Result{}, ErrGeneration
	}
	return Result{Query: query, Response: parsed.Text, Card: card}, nil
}
