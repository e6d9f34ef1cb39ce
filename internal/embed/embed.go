// Package embed turns text into fixed-length vectors through the embedding
// collaborator, chunking first so every input fits the model's token budget.
package embed

import (
	"context"
	"log/slog"

	"github.com/kalambet/aidbud/internal/chunk"
)

// Embedder is the embedding collaborator contract. EmbedBatch returns one
// vector per input text, or an error when the backend is unreachable or the
// input unsupported.
type Embedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// Attachment is a described attachment queued for attachment memory.
type Attachment struct {
	Description string
	Paths       []string
}

// Gateway chunks text and maps every chunk through the embedding collaborator
// in one batched call.
//
// When the collaborator fails, the gateway reports zero vectors rather than
// per-chunk failure placeholders. Callers must treat an empty vector result
// as a hard failure for that insert and skip persistence.
type Gateway struct {
	splitter *chunk.Splitter
	embedder Embedder
	logger   *slog.Logger
}

// NewGateway wires a Gateway to its splitter and embedding collaborator.
func NewGateway(splitter *chunk.Splitter, embedder Embedder) *Gateway {
	return &Gateway{splitter: splitter, embedder: embedder, logger: slog.Default()}
}

// Embed chunks free text and embeds every chunk.
func (g *Gateway) Embed(ctx context.Context, text string) ([][]float32, []string) {
	chunks := g.splitter.Split(text)
	return g.embedAll(ctx, chunks), chunks
}

// EmbedTurn chunks a structured turn record and embeds every chunk. The error
// reports a chunk-budget violation, never an embedding failure.
func (g *Gateway) EmbedTurn(ctx context.Context, rec chunk.TurnRecord) ([][]float32, []string, error) {
	chunks, err := g.splitter.SplitTurn(rec)
	if err != nil {
		return nil, nil, err
	}
	return g.embedAll(ctx, chunks), chunks, nil
}

// EmbedAttachment chunks an attachment description and embeds every chunk.
func (g *Gateway) EmbedAttachment(ctx context.Context, att Attachment) ([][]float32, []string) {
	chunks := g.splitter.SplitDescription(att.Description)
	return g.embedAll(ctx, chunks), chunks
}

func (g *Gateway) embedAll(ctx context.Context, chunks []string) [][]float32 {
	if len(chunks) == 0 {
		return nil
	}
	vectors, err := g.embedder.EmbedBatch(ctx, chunks)
	if err != nil {
		g.logger.Warn("embedding failed, reporting zero vectors", "chunks", len(chunks), "error", err)
		return nil
	}
	if len(vectors) != len(chunks) {
		g.logger.Warn("embedder returned mismatched vector count, reporting zero vectors",
			"chunks", len(chunks), "vectors", len(vectors))
		return nil
	}
	for i, v := range vectors {
		if len(v) == 0 {
			g.logger.Warn("embedder returned an empty vector, reporting zero vectors", "index", i)
			return nil
		}
	}
	return vectors
}
