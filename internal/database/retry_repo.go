package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mixelka/mailtriage/pkg/models"
)

// CreateRetry inserts a new retry entry
func (db *DB) CreateRetry(ctx context.Context, entry *models.RetryEntry) error {
	query := `
		INSERT INTO retry_queue (id, email_id, action, payload, last_error, attempt_count, max_attempts, next_retry_at, created_at, status)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	now := time.Now()
	_, err := db.ExecContext(ctx, query,
		entry.ID,
		entry.EmailID,
		entry.Action,
		entry.Payload,
		entry.LastError,
		entry.AttemptCount,
		entry.MaxAttempts,
		entry.NextRetryAt,
		now,
		models.RetryPending,
	)
	if err != nil {
		return fmt.Errorf("failed to create retry entry: %w", err)
	}

	entry.Status = models.RetryPending
	entry.CreatedAt = now
	return nil
}

// GetRetry returns a retry entry by ID
func (db *DB) GetRetry(ctx context.Context, id string) (*models.RetryEntry, error) {
	var entry models.RetryEntry
	err := db.GetContext(ctx, &entry, `SELECT * FROM retry_queue WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get retry entry: %w", err)
	}
	return &entry, nil
}

// GetDueRetries returns pending entries whose next attempt is due, ordered by
// due time ascending. Terminal entries are never returned.
func (db *DB) GetDueRetries(ctx context.Context, now time.Time) ([]*models.RetryEntry, error) {
	var entries []*models.RetryEntry
	query := `
		SELECT * FROM retry_queue
		WHERE status = ? AND next_retry_at <= ?
		ORDER BY next_retry_at ASC
	`
	err := db.SelectContext(ctx, &entries, query, models.RetryPending, now)
	if err != nil {
		return nil, fmt.Errorf("failed to get due retries: %w", err)
	}
	return entries, nil
}

// GetRetryQueue returns all retry entries for display, newest first
func (db *DB) GetRetryQueue(ctx context.Context) ([]*models.RetryEntry, error) {
	var entries []*models.RetryEntry
	query := `SELECT * FROM retry_queue ORDER BY created_at DESC`
	err := db.SelectContext(ctx, &entries, query)
	if err != nil {
		return nil, fmt.Errorf("failed to get retry queue: %w", err)
	}
	return entries, nil
}

// UpdateRetryAttempt records a failed attempt and reschedules the entry
func (db *DB) UpdateRetryAttempt(ctx context.Context, id string, attemptCount int, lastError string, nextRetryAt, lastAttemptAt time.Time) error {
	query := `
		UPDATE retry_queue
		SET attempt_count = ?, last_error = ?, next_retry_at = ?, last_attempt_at = ?
		WHERE id = ?
	`
	result, err := db.ExecContext(ctx, query, attemptCount, lastError, nextRetryAt, lastAttemptAt, id)
	if err != nil {
		return fmt.Errorf("failed to update retry attempt: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkRetryTerminal moves an entry into a terminal state. next_retry_at is
// left untouched, it is irrelevant once terminal.
func (db *DB) MarkRetryTerminal(ctx context.Context, id string, status models.RetryStatus, lastAttemptAt time.Time) error {
	query := `UPDATE retry_queue SET status = ?, last_attempt_at = ? WHERE id = ?`
	result, err := db.ExecContext(ctx, query, status, lastAttemptAt, id)
	if err != nil {
		return fmt.Errorf("failed to mark retry terminal: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// ResetRetry re-queues an entry for immediate processing regardless of how
// deep into failure it was.
func (db *DB) ResetRetry(ctx context.Context, id, note string, now time.Time) error {
	query := `
		UPDATE retry_queue
		SET attempt_count = 0, last_error = ?, next_retry_at = ?, status = ?
		WHERE id = ?
	`
	result, err := db.ExecContext(ctx, query, note, now, models.RetryPending, id)
	if err != nil {
		return fmt.Errorf("failed to reset retry: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteRetry removes an entry unconditionally
func (db *DB) DeleteRetry(ctx context.Context, id string) error {
	result, err := db.ExecContext(ctx, `DELETE FROM retry_queue WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete retry entry: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
