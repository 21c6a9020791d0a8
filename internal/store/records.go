package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/fentz26/creatorloop/internal/models"
)

// WriteDecisionRecord appends an audit entry.
func (s *Store) WriteDecisionRecord(ctx context.Context, action, inputsHash, outcome, storyID, details string) (*models.DecisionRecord, error) {
	rec := &models.DecisionRecord{
		ID:         uuid.New().String(),
		Action:     action,
		InputsHash: inputsHash,
		Outcome:    outcome,
		StoryID:    storyID,
		Details:    details,
		Timestamp:  time.Now().UTC(),
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO decision_records (id, action, inputs_hash, outcome, story_id, details, timestamp) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.Action, rec.InputsHash, rec.Outcome, rec.StoryID, rec.Details, rec.Timestamp,
	)
	if err != nil {
		return nil, fmt.Errorf("insert decision record: %w", err)
	}
	return rec, nil
}

// ListDecisionRecords returns a story's audit entries, newest first.
func (s *Store) ListDecisionRecords(ctx context.Context, storyID string, limit int) ([]models.DecisionRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, action, inputs_hash, outcome, story_id, details, timestamp
		 FROM decision_records WHERE story_id = ? ORDER BY timestamp DESC LIMIT ?`,
		storyID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query decision records: %w", err)
	}
	defer rows.Close()

	records := []models.DecisionRecord{}
	for rows.Next() {
		var rec models.DecisionRecord
		var story, details sql.NullString
		if err := rows.Scan(&rec.ID, &rec.Action, &rec.InputsHash, &rec.Outcome, &story, &details, &rec.Timestamp); err != nil {
			return nil, fmt.Errorf("scan decision record: %w", err)
		}
		rec.StoryID = story.String
		rec.Details = details.String
		records = append(records, rec)
	}
	return records, rows.Err()
}

// GetKV returns the value stored under key.
func (s *Store) GetKV(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM kv WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("query kv: %w", err)
	}
	return value, true, nil
}

// SetKV upserts value under key.
func (s *Store) SetKV(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO kv (key, value, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("upsert kv: %w", err)
	}
	return nil
}
