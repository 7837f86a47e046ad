package session

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS exchanges (
    id TEXT PRIMARY KEY,
    model TEXT NOT NULL,
    think TEXT,
    prompt TEXT NOT NULL,
    transcript TEXT NOT NULL,
    truncated BOOLEAN DEFAULT FALSE,
    input_tokens INTEGER DEFAULT 0,
    output_tokens INTEGER DEFAULT 0,
    created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_exchanges_created_at ON exchanges(created_at DESC);
`

// NewSQLiteStore opens (creating if needed) the exchange database at dbPath.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Save(ctx context.Context, exchange Exchange) error {
	if exchange.ID == "" {
		exchange.ID = uuid.NewString()
	}
	if exchange.CreatedAt.IsZero() {
		exchange.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO exchanges (id, model, think, prompt, transcript, truncated, input_tokens, output_tokens, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		exchange.ID, exchange.Model, exchange.Think, exchange.Prompt, exchange.Transcript,
		exchange.Truncated, exchange.InputTokens, exchange.OutputTokens, exchange.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("save exchange: %w", err)
	}
	return nil
}

func (s *SQLiteStore) List(ctx context.Context, limit int) ([]Exchange, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, model, think, prompt, transcript, truncated, input_tokens, output_tokens, created_at
		FROM exchanges ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list exchanges: %w", err)
	}
	defer rows.Close()

	var exchanges []Exchange
	for rows.Next() {
		var e Exchange
		if err := rows.Scan(&e.ID, &e.Model, &e.Think, &e.Prompt, &e.Transcript,
			&e.Truncated, &e.InputTokens, &e.OutputTokens, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan exchange: %w", err)
		}
		exchanges = append(exchanges, e)
	}
	return exchanges, rows.Err()
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
