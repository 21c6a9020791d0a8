package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/fentz26/creatorloop/internal/models"
)

// PutSignals registers or replaces the upstream report outputs for a story.
func (s *Store) PutSignals(ctx context.Context, signals models.StorySignals) (*models.StorySignals, error) {
	slug := strings.TrimSpace(signals.StorySlug)
	if slug == "" {
		return nil, fmt.Errorf("story slug is required")
	}
	signals.StorySlug = slug
	if signals.StoryID == "" {
		signals.StoryID = slug
	}
	signals.UpdatedAt = time.Now().UTC()

	payload, err := json.Marshal(signals)
	if err != nil {
		return nil, fmt.Errorf("encode signals: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO story_signals (story_slug, story_id, autorun, payload, updated_at) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(story_slug) DO UPDATE SET story_id = excluded.story_id, autorun = excluded.autorun,
		 payload = excluded.payload, updated_at = excluded.updated_at`,
		signals.StorySlug, signals.StoryID, signals.Autorun, string(payload), signals.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("upsert signals: %w", err)
	}
	return &signals, nil
}

// GetSignals returns the signals registered for slug, or nil when none exist.
func (s *Store) GetSignals(ctx context.Context, slug string) (*models.StorySignals, error) {
	var payload string
	err := s.db.QueryRowContext(ctx, `SELECT payload FROM story_signals WHERE story_slug = ?`, slug).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query signals: %w", err)
	}
	var signals models.StorySignals
	if err := json.Unmarshal([]byte(payload), &signals); err != nil {
		return nil, fmt.Errorf("decode signals for %s: %w", slug, err)
	}
	return &signals, nil
}

// ListSignals returns registered stories ordered by slug. When autorunOnly is
// set only stories opted into autorun are returned.
func (s *Store) ListSignals(ctx context.Context, autorunOnly bool) ([]models.StorySignals, error) {
	query := `SELECT payload FROM story_signals`
	if autorunOnly {
		query += ` WHERE autorun = 1`
	}
	query += ` ORDER BY story_slug`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query signals: %w", err)
	}
	defer rows.Close()

	out := []models.StorySignals{}
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scan signals: %w", err)
		}
		var signals models.StorySignals
		if err := json.Unmarshal([]byte(payload), &signals); err != nil {
			return nil, fmt.Errorf("decode signals: %w", err)
		}
		out = append(out, signals)
	}
	return out, rows.Err()
}
