// Package memory is the vector-backed context store: two append-only
// collections (turn memory and attachment memory) with autonumbered ids,
// conversation-scoped retrieval, point lookup, and bulk delete.
package memory

import (
	"container/heap"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	_ "modernc.org/sqlite"

	"github.com/kalambet/aidbud/internal/chunk"
	"github.com/kalambet/aidbud/internal/embed"
)

const (
	turnTable       = "turn_memory"
	attachmentTable = "attachment_memory"
)

// Record is a point-lookup result: one stored chunk with its metadata.
type Record struct {
	ID             string
	Text           string
	ConversationID int
	Paths          []string
}

// Store owns the two vector collections. All mutations are serialized by an
// internal mutex so autonumber scans cannot interleave.
type Store struct {
	db      *sql.DB
	gateway *embed.Gateway
	logger  *slog.Logger
	mu      sync.Mutex
}

// Open opens (or creates) the sqlite database in dataDir and ensures both
// collections exist. Pass ":memory:" for an in-memory database (tests).
func Open(dataDir string, gateway *embed.Gateway) (*Store, error) {
	var dsn string
	if dataDir == ":memory:" {
		dsn = ":memory:"
	} else {
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		dsn = filepath.Join(dataDir, "aidbud.db")
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	// Limit to a single connection to avoid "database is locked" errors.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting journal mode: %w", err)
	}

	s := &Store{db: db, gateway: gateway, logger: slog.Default()}
	if err := s.createTables(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) createTables() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS ` + turnTable + ` (
			id TEXT PRIMARY KEY,
			conversation_id INTEGER NOT NULL,
			chunk_text TEXT NOT NULL,
			embedding BLOB NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_turn_conversation ON ` + turnTable + `(conversation_id)`,
		`CREATE TABLE IF NOT EXISTS ` + attachmentTable + ` (
			id TEXT PRIMARY KEY,
			conversation_id INTEGER NOT NULL,
			chunk_text TEXT NOT NULL,
			embedding BLOB NOT NULL,
			paths TEXT NOT NULL DEFAULT '[]'
		)`,
		`CREATE INDEX IF NOT EXISTS idx_attachment_conversation ON ` + attachmentTable + `(conversation_id)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("creating collection: %w", err)
		}
	}
	return nil
}

// nextID scans existing ids in table and returns max(numeric)+1, or 1 for an
// empty collection. Non-numeric ids are ignored, never fatal.
func (s *Store) nextID(ctx context.Context, table string) (int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM `+table)
	if err != nil {
		return 0, fmt.Errorf("scanning ids: %w", err)
	}
	defer rows.Close()

	maxID := 0
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return 0, fmt.Errorf("reading id: %w", err)
		}
		n, err := strconv.Atoi(id)
		if err != nil || n <= 0 {
			continue
		}
		if n > maxID {
			maxID = n
		}
	}
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("iterating ids: %w", err)
	}
	return maxID + 1, nil
}

// InsertTurn chunks and embeds a completed turn record and appends its chunks
// to turn memory under consecutive ids. When embedding fails the write is
// skipped entirely; a chunk-budget violation is returned as an error.
func (s *Store) InsertTurn(ctx context.Context, rec chunk.TurnRecord, conversationID int) error {
	vectors, chunks, err := s.gateway.EmbedTurn(ctx, rec)
	if err != nil {
		return fmt.Errorf("chunking turn: %w", err)
	}
	if len(vectors) == 0 {
		s.logger.Warn("skipping turn insert: no embeddings", "conversation_id", conversationID)
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.insertChunks(ctx, turnTable, chunks, vectors, conversationID, nil)
}

// InsertAttachment chunks and embeds an attachment description and appends
// its chunks to attachment memory, each row carrying the original path set.
func (s *Store) InsertAttachment(ctx context.Context, att embed.Attachment, conversationID int) error {
	vectors, chunks := s.gateway.EmbedAttachment(ctx, att)
	if len(vectors) == 0 {
		s.logger.Warn("skipping attachment insert: no embeddings", "conversation_id", conversationID)
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.insertChunks(ctx, attachmentTable, chunks, vectors, conversationID, att.Paths)
}

func (s *Store) insertChunks(ctx context.Context, table string, chunks []string, vectors [][]float32, conversationID int, paths []string) error {
	start, err := s.nextID(ctx, table)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning insert transaction: %w", err)
	}
	defer tx.Rollback()

	for i := range chunks {
		id := strconv.Itoa(start + i)
		if table == attachmentTable {
			_, err = tx.ExecContext(ctx,
				`INSERT INTO `+attachmentTable+` (id, conversation_id, chunk_text, embedding, paths) VALUES (?, ?, ?, ?, ?)`,
				id, conversationID, chunks[i], encodeFloat32s(vectors[i]), encodePaths(paths))
		} else {
			_, err = tx.ExecContext(ctx,
				`INSERT INTO `+turnTable+` (id, conversation_id, chunk_text, embedding) VALUES (?, ?, ?, ?)`,
				id, conversationID, chunks[i], encodeFloat32s(vectors[i]))
		}
		if err != nil {
			return fmt.Errorf("inserting chunk %s: %w", id, err)
		}
	}
	return tx.Commit()
}

// RetrieveTurns returns parallel ids and texts of relevant turn chunks for a
// conversation. An empty query returns the most recent k chunks in store
// order; otherwise the query is embedded and a cosine top-k search runs,
// scoped to the conversation.
func (s *Store) RetrieveTurns(ctx context.Context, query string, conversationID, k int) ([]string, []string, error) {
	return s.retrieve(ctx, turnTable, query, conversationID, k)
}

// RetrieveAttachments is RetrieveTurns for attachment memory.
func (s *Store) RetrieveAttachments(ctx context.Context, query string, conversationID, k int) ([]string, []string, error) {
	return s.retrieve(ctx, attachmentTable, query, conversationID, k)
}

func (s *Store) retrieve(ctx context.Context, table, query string, conversationID, k int) ([]string, []string, error) {
	if k <= 0 {
		return nil, nil, nil
	}
	if query == "" {
		return s.recent(ctx, table, conversationID, k)
	}

	vectors, _ := s.gateway.Embed(ctx, query)
	if len(vectors) == 0 {
		return nil, nil, errors.New("query embedding produced no vectors")
	}
	// Only the first vector ranks; extra chunks of a long query add nothing.
	return s.search(ctx, table, vectors[0], conversationID, k)
}

// recent returns the last k chunks of the conversation in store order.
func (s *Store) recent(ctx context.Context, table string, conversationID, k int) ([]string, []string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, chunk_text FROM (
			SELECT id, chunk_text, rowid AS rid FROM `+table+`
			WHERE conversation_id = ?
			ORDER BY rid DESC LIMIT ?
		) ORDER BY rid ASC
	`, conversationID, k)
	if err != nil {
		return nil, nil, fmt.Errorf("querying recent chunks: %w", err)
	}
	defer rows.Close()

	var ids, texts []string
	for rows.Next() {
		var id, text string
		if err := rows.Scan(&id, &text); err != nil {
			return nil, nil, fmt.Errorf("scanning chunk: %w", err)
		}
		ids = append(ids, id)
		texts = append(texts, text)
	}
	return ids, texts, rows.Err()
}

// search runs a brute-force cosine scan scoped to the conversation, keeping
// the top-k candidates in a min-heap.
func (s *Store) search(ctx context.Context, table string, vector []float32, conversationID, k int) ([]string, []string, error) {
	queryNorm := norm(vector)
	if queryNorm == 0 {
		return nil, nil, nil
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, chunk_text, embedding FROM `+table+` WHERE conversation_id = ?`, conversationID)
	if err != nil {
		return nil, nil, fmt.Errorf("querying vectors: %w", err)
	}
	defer rows.Close()

	h := &scoredHeap{}
	heap.Init(h)

	var buf []float32
	for rows.Next() {
		var id, text string
		var blob []byte
		if err := rows.Scan(&id, &text, &blob); err != nil {
			return nil, nil, fmt.Errorf("scanning row: %w", err)
		}
		buf, err = decodeFloat32sInto(buf, blob)
		if err != nil {
			return nil, nil, fmt.Errorf("decoding embedding for %s: %w", id, err)
		}
		score := cosine(vector, buf, queryNorm)
		if h.Len() < k {
			heap.Push(h, scoredChunk{id: id, text: text, score: score})
		} else if score > (*h)[0].score {
			(*h)[0] = scoredChunk{id: id, text: text, score: score}
			heap.Fix(h, 0)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterating rows: %w", err)
	}

	// Pop yields ascending scores; fill from the back for descending order.
	ids := make([]string, h.Len())
	texts := make([]string, h.Len())
	for i := len(ids) - 1; i >= 0; i-- {
		item := heap.Pop(h).(scoredChunk)
		ids[i] = item.id
		texts[i] = item.text
	}
	return ids, texts, nil
}

// GetTurn looks up a turn chunk by id. The second return is false when the
// id is absent.
func (s *Store) GetTurn(ctx context.Context, id string) (Record, bool, error) {
	return s.get(ctx, turnTable, id)
}

// GetAttachment looks up an attachment chunk by id.
func (s *Store) GetAttachment(ctx context.Context, id string) (Record, bool, error) {
	return s.get(ctx, attachmentTable, id)
}

func (s *Store) get(ctx context.Context, table, id string) (Record, bool, error) {
	var (
		rec   Record
		paths string
	)
	var err error
	if table == attachmentTable {
		err = s.db.QueryRowContext(ctx,
			`SELECT id, chunk_text, conversation_id, paths FROM `+attachmentTable+` WHERE id = ?`, id).
			Scan(&rec.ID, &rec.Text, &rec.ConversationID, &paths)
	} else {
		err = s.db.QueryRowContext(ctx,
			`SELECT id, chunk_text, conversation_id FROM `+turnTable+` WHERE id = ?`, id).
			Scan(&rec.ID, &rec.Text, &rec.ConversationID)
	}
	if err == sql.ErrNoRows {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, fmt.Errorf("looking up %s: %w", id, err)
	}
	if paths != "" {
		rec.Paths = decodePaths(paths)
	}
	return rec, true, nil
}

// DeleteConversation removes all chunks of a conversation from both
// collections. Idempotent.
func (s *Store) DeleteConversation(ctx context.Context, conversationID int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, table := range []string{turnTable, attachmentTable} {
		if _, err := s.db.ExecContext(ctx, `DELETE FROM `+table+` WHERE conversation_id = ?`, conversationID); err != nil {
			return fmt.Errorf("deleting conversation from %s: %w", table, err)
		}
	}
	return nil
}

// Reset drops and recreates both collections unconditionally. Safe to call
// when the collections do not exist yet.
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, table := range []string{turnTable, attachmentTable} {
		if _, err := s.db.ExecContext(ctx, `DROP TABLE IF EXISTS `+table); err != nil {
			return fmt.Errorf("dropping %s: %w", table, err)
		}
	}
	return s.createTables()
}

func encodePaths(paths []string) string {
	if paths == nil {
		paths = []string{}
	}
	data, _ := json.Marshal(paths)
	return string(data)
}

func decodePaths(serialized string) []string {
	var paths []string
	if err := json.Unmarshal([]byte(serialized), &paths); err != nil {
		return nil
	}
	return paths
}
