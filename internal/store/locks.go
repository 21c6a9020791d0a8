package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/fentz26/creatorloop/internal/models"
)

// ErrResourceLocked indicates the resource is already locked by another holder.
var ErrResourceLocked = fmt.Errorf("resource already locked")

// AcquireLock attempts to acquire a lock on a resource atomically.
// It first cleans up expired locks, then attempts to insert a new lock.
// If a live lock already exists, it returns ErrResourceLocked.
func (s *Store) AcquireLock(ctx context.Context, resourceID, holderID, lockType string, ttl time.Duration) (*models.Lock, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()

	if _, err := tx.ExecContext(ctx, `DELETE FROM locks WHERE resource_id = ? AND expires_at <= ?`, resourceID, now); err != nil {
		return nil, fmt.Errorf("clean expired locks: %w", err)
	}

	var existingHolder string
	err = tx.QueryRowContext(ctx,
		`SELECT holder_id FROM locks WHERE resource_id = ? AND expires_at > ?`,
		resourceID, now,
	).Scan(&existingHolder)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("check existing lock: %w", err)
	}
	if err == nil {
		return nil, ErrResourceLocked
	}

	lock := &models.Lock{
		ID:         uuid.New().String(),
		ResourceID: resourceID,
		HolderID:   holderID,
		LockType:   lockType,
		CreatedAt:  now,
		ExpiresAt:  now.Add(ttl),
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO locks (id, resource_id, holder_id, lock_type, created_at, expires_at) VALUES (?, ?, ?, ?, ?, ?)`,
		lock.ID, lock.ResourceID, lock.HolderID, lock.LockType, lock.CreatedAt, lock.ExpiresAt,
	)
	if err != nil {
		// UNIQUE violation means another holder won the race
		if strings.Contains(strings.ToLower(err.Error()), "unique constraint") {
			return nil, ErrResourceLocked
		}
		return nil, fmt.Errorf("insert lock: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit transaction: %w", err)
	}
	return lock, nil
}

// GetLock retrieves a lock by resource ID if it exists and is not expired.
func (s *Store) GetLock(ctx context.Context, resourceID string) (*models.Lock, error) {
	lock := &models.Lock{}
	err := s.db.QueryRowContext(ctx,
		`SELECT id, resource_id, holder_id, lock_type, created_at, expires_at
		 FROM locks WHERE resource_id = ? AND expires_at > ?`,
		resourceID, time.Now().UTC(),
	).Scan(&lock.ID, &lock.ResourceID, &lock.HolderID, &lock.LockType, &lock.CreatedAt, &lock.ExpiresAt)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query lock: %w", err)
	}
	return lock, nil
}

// ReleaseLock releases a lock.
func (s *Store) ReleaseLock(ctx context.Context, lockID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM locks WHERE id = ?`, lockID)
	return err
}
