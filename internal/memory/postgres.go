package memory

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"academic-assistant/internal/domain"
)

// PostgresStore persists conversation turns in PostgreSQL.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("memory: connect postgres: %w", err)
	}

	if err := initSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresStore{pool: pool}, nil
}

func initSchema(ctx context.Context, pool *pgxpool.Pool) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS conversation_turns (
			seq BIGSERIAL PRIMARY KEY,
			session_id TEXT NOT NULL,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);`,
		`CREATE INDEX IF NOT EXISTS idx_conversation_turns_session ON conversation_turns (session_id, seq);`,
	}

	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("memory: init schema failed on %q: %w", stmt, err)
		}
	}
	return nil
}

func (s *PostgresStore) Append(ctx context.Context, sessionID string, turn domain.Turn) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO conversation_turns (session_id, role, content, created_at) VALUES ($1, $2, $3, $4)`,
		sessionID,
		string(turn.Role),
		turn.Text,
		time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("memory: append turn: %w", err)
	}
	return nil
}

func (s *PostgresStore) Snapshot(ctx context.Context, sessionID string) ([]domain.Turn, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT role, content FROM conversation_turns WHERE session_id = $1 ORDER BY seq ASC`,
		sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("memory: query turns: %w", err)
	}
	defer rows.Close()

	out := []domain.Turn{}
	for rows.Next() {
		var role, content string
		if err := rows.Scan(&role, &content); err != nil {
			return nil, fmt.Errorf("memory: scan turn: %w", err)
		}
		out = append(out, domain.Turn{Role: domain.Role(role), Text: content})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("memory: iterate turns: %w", err)
	}
	return out, nil
}

// Clear removes the whole session log in a single statement.
func (s *PostgresStore) Clear(ctx context.Context, sessionID string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM conversation_turns WHERE session_id = $1`, sessionID); err != nil {
		return fmt.Errorf("memory: clear session: %w", err)
	}
	return nil
}

func (s *PostgresStore) Close() {
	s.pool.Close()
}
