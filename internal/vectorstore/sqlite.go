package vectorstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	_ "modernc.org/sqlite"

	"academic-assistant/internal/domain"
)

// SQLiteStore persists chunks and their embeddings in one SQLite file.
// Search is a brute-force cosine scan.
type SQLiteStore struct {
	mu sync.RWMutex
	db *sql.DB
}

func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("vectorstore: create index directory: %w", err)
	}

	dsn := dbPath + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("vectorstore: open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("vectorstore: ping database: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("vectorstore: initialize schema: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	_, err := s.db.Exec(`
	CREATE TABLE IF NOT EXISTS chunks (
		id TEXT PRIMARY KEY,
		source TEXT NOT NULL,
		page INTEGER NOT NULL,
		chunk_index INTEGER NOT NULL,
		content TEXT NOT NULL,
		embedding BLOB NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_chunks_source ON chunks(source);
	`)
	return err
}

// ReplaceSource swaps every chunk of source for chunks in one transaction.
// On error the previous chunks stay in place.
func (s *SQLiteStore) ReplaceSource(ctx context.Context, source string, chunks []domain.Chunk) error {
	if err := checkSource(source, chunks); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("vectorstore: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM chunks WHERE source = ?`, source); err != nil {
		return fmt.Errorf("vectorstore: delete %s: %w", source, err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO chunks (id, source, page, chunk_index, content, embedding)
		VALUES (?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("vectorstore: prepare: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for _, c := range chunks {
		vec, err := json.Marshal(c.Embedding)
		if err != nil {
			return fmt.Errorf("vectorstore: encode embedding: %w", err)
		}
		if _, err := stmt.ExecContext(ctx, c.ID, c.Source, c.Page, c.Index, c.Text, vec); err != nil {
			return fmt.Errorf("vectorstore: insert chunk %s: %w", c.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("vectorstore: commit: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Search(ctx context.Context, query []float32, k int) ([]domain.ScoredChunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `SELECT id, source, page, chunk_index, content, embedding FROM chunks`)
	if err != nil {
		return nil, fmt.Errorf("vectorstore: query chunks: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var hits []domain.ScoredChunk
	for rows.Next() {
		var c domain.Chunk
		var raw []byte
		if err := rows.Scan(&c.ID, &c.Source, &c.Page, &c.Index, &c.Text, &raw); err != nil {
			return nil, fmt.Errorf("vectorstore: scan chunk: %w", err)
		}
		if err := json.Unmarshal(raw, &c.Embedding); err != nil {
			continue
		}
		hits = append(hits, domain.ScoredChunk{Chunk: c, Score: CosineSimilarity(query, c.Embedding)})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("vectorstore: iterate chunks: %w", err)
	}
	return topK(hits, k), nil
}

func (s *SQLiteStore) Count(ctx context.Context, source string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM chunks WHERE source = ?`, source).Scan(&n); err != nil {
		return 0, fmt.Errorf("vectorstore: count %s: %w", source, err)
	}
	return n, nil
}

func (s *SQLiteStore) DeleteSource(ctx context.Context, source string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.ExecContext(ctx, `DELETE FROM chunks WHERE source = ?`, source); err != nil {
		return fmt.Errorf("vectorstore: delete %s: %w", source, err)
	}
	return nil
}

// Reset removes every chunk of every document.
func (s *SQLiteStore) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.ExecContext(ctx, `DELETE FROM chunks`); err != nil {
		return fmt.Errorf("vectorstore: reset: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, `VACUUM`); err != nil {
		return fmt.Errorf("vectorstore: vacuum: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
