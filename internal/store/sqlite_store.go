package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/cortexlocal/recall/internal/chunkmodel"

	_ "modernc.org/sqlite" // pure-Go driver, no CGO
)

// SQLiteChunkStore implements ChunkStore over docs.db, the per-user
// chunk/state database named in spec.md §6's on-disk layout. It is the
// source of truth both indices rebuild from on IndexCorruption.
type SQLiteChunkStore struct {
	mu     sync.RWMutex
	db     *sql.DB
	closed bool
}

var _ ChunkStore = (*SQLiteChunkStore)(nil)

// NewSQLiteChunkStore opens (creating if absent) the chunk store at path.
// An empty path opens an in-memory database, used by tests.
func NewSQLiteChunkStore(path string) (*SQLiteChunkStore, error) {
	dsn := ":memory:"
	if path != "" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create directory: %w", err)
		}
		dsn = path
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA foreign_keys = ON",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("set pragma %q: %w", p, err)
		}
	}

	s := &SQLiteChunkStore{db: db}
	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}
	return s, nil
}

func (s *SQLiteChunkStore) initSchema() error {
	const schema = `
	CREATE TABLE IF NOT EXISTS chunks (
		id TEXT PRIMARY KEY,
		source_id TEXT NOT NULL,
		chunk_index INTEGER NOT NULL,
		content TEXT NOT NULL,
		content_hash TEXT NOT NULL,
		content_type TEXT NOT NULL,
		title TEXT,
		url TEXT,
		language TEXT,
		created_at TEXT,
		has_code INTEGER NOT NULL DEFAULT 0,
		embedding_model TEXT,
		embedding_vector BLOB
	);
	CREATE INDEX IF NOT EXISTS idx_chunks_source ON chunks(source_id, chunk_index);

	CREATE TABLE IF NOT EXISTS kv_state (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

func (s *SQLiteChunkStore) SaveChunks(ctx context.Context, chunks []*chunkmodel.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("chunk store is closed")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO chunks (id, source_id, chunk_index, content, content_hash,
			content_type, title, url, language, created_at, has_code,
			embedding_model, embedding_vector)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			content=excluded.content, content_hash=excluded.content_hash,
			content_type=excluded.content_type, title=excluded.title,
			url=excluded.url, language=excluded.language,
			created_at=excluded.created_at, has_code=excluded.has_code,
			embedding_model=excluded.embedding_model,
			embedding_vector=excluded.embedding_vector
	`)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, c := range chunks {
		var modelID string
		var vecBlob []byte
		if c.Embedding != nil {
			modelID = c.Embedding.ModelID
			vecBlob, err = encodeVector(c.Embedding.Vector)
			if err != nil {
				return fmt.Errorf("encode embedding for chunk %s: %w", c.ID, err)
			}
		}

		hasCode := 0
		if c.Meta.HasCode {
			hasCode = 1
		}

		_, err = stmt.ExecContext(ctx, c.ID, c.SourceID, c.ChunkIndex, c.Content,
			c.ContentHash, string(c.ContentType), c.Meta.Title, c.Meta.URL,
			c.Meta.Language, c.Meta.CreatedAt.Format(timeLayout), hasCode,
			modelID, vecBlob)
		if err != nil {
			return fmt.Errorf("insert chunk %s: %w", c.ID, err)
		}
	}

	return tx.Commit()
}

func (s *SQLiteChunkStore) GetChunk(ctx context.Context, id string) (*chunkmodel.Chunk, error) {
	chunks, err := s.GetChunks(ctx, []string{id})
	if err != nil {
		return nil, err
	}
	if len(chunks) == 0 {
		return nil, fmt.Errorf("chunk not found: %s", id)
	}
	return chunks[0], nil
}

func (s *SQLiteChunkStore) GetChunks(ctx context.Context, ids []string) ([]*chunkmodel.Chunk, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, fmt.Errorf("chunk store is closed")
	}

	placeholders := make([]string, len(ids))
	args := make([]any, len(ids))
	for i, id := range ids {
		placeholders[i] = "?"
		args[i] = id
	}
	query := fmt.Sprintf(`SELECT %s FROM chunks WHERE id IN (%s)`, chunkColumns, joinPlaceholders(placeholders))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query chunks: %w", err)
	}
	defer rows.Close()

	return scanChunks(rows)
}

func (s *SQLiteChunkStore) GetChunksBySource(ctx context.Context, sourceID string) ([]*chunkmodel.Chunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, fmt.Errorf("chunk store is closed")
	}

	query := fmt.Sprintf(`SELECT %s FROM chunks WHERE source_id = ? ORDER BY chunk_index ASC`, chunkColumns)
	rows, err := s.db.QueryContext(ctx, query, sourceID)
	if err != nil {
		return nil, fmt.Errorf("query chunks by source: %w", err)
	}
	defer rows.Close()

	return scanChunks(rows)
}

func (s *SQLiteChunkStore) AllChunks(ctx context.Context) ([]*chunkmodel.Chunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, fmt.Errorf("chunk store is closed")
	}

	query := fmt.Sprintf(`SELECT %s FROM chunks`, chunkColumns)
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query all chunks: %w", err)
	}
	defer rows.Close()

	return scanChunks(rows)
}

func (s *SQLiteChunkStore) DeleteChunks(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("chunk store is closed")
	}

	placeholders := make([]string, len(ids))
	args := make([]any, len(ids))
	for i, id := range ids {
		placeholders[i] = "?"
		args[i] = id
	}
	query := fmt.Sprintf(`DELETE FROM chunks WHERE id IN (%s)`, joinPlaceholders(placeholders))
	_, err := s.db.ExecContext(ctx, query, args...)
	return err
}

func (s *SQLiteChunkStore) DeleteChunksBySource(ctx context.Context, sourceID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("chunk store is closed")
	}
	_, err := s.db.ExecContext(ctx, `DELETE FROM chunks WHERE source_id = ?`, sourceID)
	return err
}

func (s *SQLiteChunkStore) GetState(ctx context.Context, key string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return "", fmt.Errorf("chunk store is closed")
	}

	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM kv_state WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return value, err
}

func (s *SQLiteChunkStore) SetState(ctx context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("chunk store is closed")
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO kv_state (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, key, value)
	return err
}

func (s *SQLiteChunkStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

const timeLayout = "2006-01-02T15:04:05.999999999Z07:00"

const chunkColumns = `id, source_id, chunk_index, content, content_hash, content_type,
	title, url, language, created_at, has_code, embedding_model, embedding_vector`

func scanChunks(rows *sql.Rows) ([]*chunkmodel.Chunk, error) {
	var out []*chunkmodel.Chunk
	for rows.Next() {
		c := &chunkmodel.Chunk{}
		var contentType string
		var title, url, language, createdAt, modelID sql.NullString
		var hasCode int
		var vecBlob []byte

		err := rows.Scan(&c.ID, &c.SourceID, &c.ChunkIndex, &c.Content, &c.ContentHash,
			&contentType, &title, &url, &language, &createdAt, &hasCode, &modelID, &vecBlob)
		if err != nil {
			return nil, fmt.Errorf("scan chunk row: %w", err)
		}

		c.ContentType = chunkmodel.ContentType(contentType)
		c.Meta.Title = title.String
		c.Meta.URL = url.String
		c.Meta.Language = language.String
		c.Meta.HasCode = hasCode != 0
		if createdAt.Valid && createdAt.String != "" {
			if t, perr := parseTime(createdAt.String); perr == nil {
				c.Meta.CreatedAt = t
			}
		}

		if modelID.Valid && modelID.String != "" && len(vecBlob) > 0 {
			vec, derr := decodeVector(vecBlob)
			if derr != nil {
				return nil, fmt.Errorf("decode embedding for chunk %s: %w", c.ID, derr)
			}
			c.Embedding = &chunkmodel.Embedding{Vector: vec, ModelID: modelID.String}
		}

		out = append(out, c)
	}
	return out, rows.Err()
}

func encodeVector(v []float32) ([]byte, error) {
	return json.Marshal(v)
}

func decodeVector(b []byte) ([]float32, error) {
	var v []float32
	err := json.Unmarshal(b, &v)
	return v, err
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(timeLayout, s)
}

func joinPlaceholders(ps []string) string {
	out := ps[0]
	for _, p := range ps[1:] {
		out += "," + p
	}
	return out
}
