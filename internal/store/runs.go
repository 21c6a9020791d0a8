package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/fentz26/creatorloop/internal/economy"
	"github.com/fentz26/creatorloop/internal/models"
)

// ErrRunNotFound indicates no run exists with the given id.
var ErrRunNotFound = fmt.Errorf("run not found")

// ErrRunAlreadyCompleted indicates the run already carries an outcome.
var ErrRunAlreadyCompleted = fmt.Errorf("run already completed")

// NewRun holds the fields supplied when a run is created.
type NewRun struct {
	StoryID         string
	CreatedByUserID string
	SprintObjective string
	HorizonDays     int
	Status          models.RunStatus
	Plan            models.Plan
	BaselineMetrics *models.MetricsSnapshot
	// CreatedAt defaults to the current time when zero.
	CreatedAt time.Time
}

// RunOutcome closes a run.
type RunOutcome struct {
	Decision models.OutcomeDecision
	Metrics  *models.MetricsSnapshot
	Notes    string
	// CompletedAt defaults to the current time when zero.
	CompletedAt time.Time
}

func stamp(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t.UTC()
}

const runColumns = `id, story_id, created_by_user_id, sprint_objective, horizon_days, status, plan,
	baseline_metrics, outcome_metrics, outcome_decision, outcome_notes, completed_at, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

// CreateRun inserts a new run record.
func (s *Store) CreateRun(ctx context.Context, in NewRun) (*models.Run, error) {
	runs, err := s.CreateRuns(ctx, []NewRun{in})
	if err != nil {
		return nil, err
	}
	return &runs[0], nil
}

// CreateRuns inserts several runs in a single transaction. Either all rows
// are written or none are.
func (s *Store) CreateRuns(ctx context.Context, in []NewRun) ([]models.Run, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	out := make([]models.Run, 0, len(in))
	for _, nr := range in {
		status := nr.Status
		if status == "" {
			status = models.RunStatusPlanned
		}
		if status == models.RunStatusCompleted {
			return nil, fmt.Errorf("insert run: new runs cannot start completed")
		}
		now := stamp(nr.CreatedAt)
		run := models.Run{
			ID:              uuid.New().String(),
			StoryID:         nr.StoryID,
			CreatedByUserID: nr.CreatedByUserID,
			SprintObjective: nr.SprintObjective,
			HorizonDays:     nr.HorizonDays,
			Status:          status,
			Plan:            nr.Plan,
			BaselineMetrics: nr.BaselineMetrics,
			CreatedAt:       now,
			UpdatedAt:       now,
		}
		plan, err := json.Marshal(run.Plan)
		if err != nil {
			return nil, fmt.Errorf("encode plan: %w", err)
		}
		baseline, err := encodeMetrics(run.BaselineMetrics)
		if err != nil {
			return nil, err
		}

		_, err = tx.ExecContext(ctx,
			`INSERT INTO runs (id, story_id, created_by_user_id, sprint_objective, horizon_days, status, plan, baseline_metrics, created_at, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			run.ID, run.StoryID, run.CreatedByUserID, run.SprintObjective, run.HorizonDays, run.Status, string(plan), baseline, run.CreatedAt, run.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("insert run: %w", err)
		}
		out = append(out, run)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit transaction: %w", err)
	}
	return out, nil
}

// GetRun retrieves a run by ID. It returns nil when the run does not exist.
func (s *Store) GetRun(ctx context.Context, id string) (*models.Run, error) {
	run, err := scanRun(s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query run: %w", err)
	}
	return run, nil
}

// ListRuns returns a story's runs, newest first. A limit <= 0 returns all runs.
func (s *Store) ListRuns(ctx context.Context, storyID string, limit int) ([]models.Run, error) {
	query := `SELECT ` + runColumns + ` FROM runs WHERE story_id = ? ORDER BY created_at DESC, id`
	args := []any{storyID}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	runs := []models.Run{}
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, *run)
	}
	return runs, rows.Err()
}

// UpdateRunOutcome closes an open run. Completed runs are never modified again.
func (s *Store) UpdateRunOutcome(ctx context.Context, id string, outcome RunOutcome) (*models.Run, error) {
	if !outcome.Decision.Valid() {
		return nil, fmt.Errorf("invalid outcome decision %q", outcome.Decision)
	}
	metrics, err := encodeMetrics(outcome.Metrics)
	if err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	var status models.RunStatus
	err = tx.QueryRowContext(ctx, `SELECT status FROM runs WHERE id = ?`, id).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRunNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query run: %w", err)
	}
	if status == models.RunStatusCompleted {
		return nil, ErrRunAlreadyCompleted
	}

	now := stamp(outcome.CompletedAt)
	var notes sql.NullString
	if outcome.Notes != "" {
		notes = sql.NullString{String: outcome.Notes, Valid: true}
	}
	result, err := tx.ExecContext(ctx,
		`UPDATE runs SET status = ?, outcome_decision = ?, outcome_metrics = ?, outcome_notes = ?, completed_at = ?, updated_at = ?
		 WHERE id = ? AND status != ?`,
		models.RunStatusCompleted, outcome.Decision, metrics, notes, now, now, id, models.RunStatusCompleted,
	)
	if err != nil {
		return nil, fmt.Errorf("update run outcome: %w", err)
	}
	if n, err := result.RowsAffected(); err != nil {
		return nil, fmt.Errorf("check rows affected: %w", err)
	} else if n == 0 {
		return nil, ErrRunAlreadyCompleted
	}

	run, err := scanRun(tx.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = ?`, id))
	if err != nil {
		return nil, fmt.Errorf("reload run: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit transaction: %w", err)
	}
	return run, nil
}

// UpdateRunStatus moves an open run between planned and in_progress.
func (s *Store) UpdateRunStatus(ctx context.Context, id string, status models.RunStatus) error {
	if status != models.RunStatusPlanned && status != models.RunStatusInProgress {
		return fmt.Errorf("invalid run status %q", status)
	}
	result, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, updated_at = ? WHERE id = ? AND status != ?`,
		status, time.Now().UTC(), id, models.RunStatusCompleted,
	)
	if err != nil {
		return fmt.Errorf("update run status: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check rows affected: %w", err)
	}
	if n == 0 {
		existing, err := s.GetRun(ctx, id)
		if err != nil {
			return err
		}
		if existing == nil {
			return ErrRunNotFound
		}
		return ErrRunAlreadyCompleted
	}
	return nil
}

func scanRun(row rowScanner) (*models.Run, error) {
	var run models.Run
	var plan string
	var baseline, outcome, decision, notes sql.NullString
	var completedAt sql.NullTime

	err := row.Scan(&run.ID, &run.StoryID, &run.CreatedByUserID, &run.SprintObjective, &run.HorizonDays, &run.Status, &plan,
		&baseline, &outcome, &decision, &notes, &completedAt, &run.CreatedAt, &run.UpdatedAt)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(plan), &run.Plan); err != nil {
		return nil, fmt.Errorf("decode plan for run %s: %w", run.ID, err)
	}
	run.BaselineMetrics = decodeMetrics(baseline)
	if run.Status == models.RunStatusCompleted {
		run.OutcomeMetrics = decodeMetrics(outcome)
		if decision.Valid {
			d := models.OutcomeDecision(decision.String)
			run.OutcomeDecision = &d
		}
		if notes.Valid {
			n := notes.String
			run.OutcomeNotes = &n
		}
		if completedAt.Valid {
			t := completedAt.Time.UTC()
			run.CompletedAt = &t
		}
	}
	run.CreatedAt = run.CreatedAt.UTC()
	run.UpdatedAt = run.UpdatedAt.UTC()
	return &run, nil
}

func encodeMetrics(m *models.MetricsSnapshot) (sql.NullString, error) {
	if m == nil {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("encode metrics: %w", err)
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

// decodeMetrics coerces whatever JSON was stored into a snapshot.
func decodeMetrics(v sql.NullString) *models.MetricsSnapshot {
	if !v.Valid || v.String == "" || v.String == "null" {
		return nil
	}
	m := economy.NormalizeMetrics(v.String)
	return &m
}
