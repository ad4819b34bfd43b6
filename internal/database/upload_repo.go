package database

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const (
	OutcomeSucceeded = "succeeded"
	OutcomeFailed    = "failed"
)

// UploadRecord is one journaled upload attempt.
type UploadRecord struct {
	ID              string    `json:"id"`
	SessionID       string    `json:"session_id"`
	FileName        string    `json:"file_name"`
	ContentType     string    `json:"content_type"`
	Size            int64     `json:"size"`
	Source          string    `json:"source"`
	Outcome         string    `json:"outcome"`
	Error           string    `json:"error,omitempty"`
	PredictionCount int       `json:"prediction_count"`
	TopWord         string    `json:"top_word,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}

// UploadRepository is an append-only journal of upload attempts.
type UploadRepository struct {
	db *DB
}

func NewUploadRepository(db *DB) *UploadRepository {
	return &UploadRepository{db: db}
}

func (r *UploadRepository) Insert(ctx context.Context, rec *UploadRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}

	_, err := r.db.conn.ExecContext(ctx, `
		INSERT INTO uploads (id, session_id, file_name, content_type, size, source, outcome, error, prediction_count, top_word, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		rec.ID, rec.SessionID, rec.FileName, rec.ContentType, rec.Size, rec.Source,
		rec.Outcome, rec.Error, rec.PredictionCount, rec.TopWord, rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert upload: %w", err)
	}
	return nil
}

// ListBySession returns the session's most recent attempts, newest first.
func (r *UploadRepository) ListBySession(ctx context.Context, sessionID string, limit int) ([]UploadRecord, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := r.db.conn.QueryContext(ctx, `
		SELECT id, session_id, file_name, content_type, size, source, outcome, error, prediction_count, top_word, created_at
		FROM uploads
		WHERE session_id = $1
		ORDER BY created_at DESC
		LIMIT $2`,
		sessionID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list uploads: %w", err)
	}
	defer rows.Close()

	var records []UploadRecord
	for rows.Next() {
		var rec UploadRecord
		if err := rows.Scan(
			&rec.ID, &rec.SessionID, &rec.FileName, &rec.ContentType, &rec.Size, &rec.Source,
			&rec.Outcome, &rec.Error, &rec.PredictionCount, &rec.TopWord, &rec.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan upload: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list uploads: %w", err)
	}
	return records, nil
}

// CountByOutcome is used by check-backend to report journal health.
func (r *UploadRepository) CountByOutcome(ctx context.Context) (map[string]int, error) {
	rows, err := r.db.conn.QueryContext(ctx, `SELECT outcome, COUNT(*) FROM uploads GROUP BY outcome`)
	if err != nil {
		return nil, fmt.Errorf("failed to count uploads: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var outcome string
		var n int
		if err := rows.Scan(&outcome, &n); err != nil {
			return nil, fmt.Errorf("failed to scan count: %w", err)
		}
		counts[outcome] = n
	}
	return counts, rows.Err()
}
