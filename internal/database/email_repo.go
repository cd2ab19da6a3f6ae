package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mixelka/mailtriage/pkg/models"
)

// ClaimEmail inserts a new email record in the pending state. It is the
// idempotency guard: a message that is already recorded is never claimed twice,
// in which case ErrAlreadyExists is returned and the caller must skip it.
func (db *DB) ClaimEmail(ctx context.Context, email *models.Email) error {
	query := `
		INSERT OR IGNORE INTO emails (id, thread_id, sender, sender_name, recipient, subject, body, body_html, attachments, received_at, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	now := time.Now()
	result, err := db.ExecContext(ctx, query,
		email.ID,
		email.ThreadID,
		email.Sender,
		email.SenderName,
		email.Recipient,
		email.Subject,
		email.Body,
		email.BodyHTML,
		email.Attachments,
		email.ReceivedAt,
		models.StatusPending,
		now,
	)
	if err != nil {
		return fmt.Errorf("failed to claim email: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrAlreadyExists
	}

	email.Status = models.StatusPending
	email.CreatedAt = now
	return nil
}

// SaveEmail inserts or replaces a full email record. Used by the initialization
// sweep, which writes already-handled records without claiming them first.
func (db *DB) SaveEmail(ctx context.Context, email *models.Email) error {
	query := `
		INSERT OR REPLACE INTO emails (id, thread_id, sender, sender_name, recipient, subject, body, body_html, attachments, received_at, category, status, ai_response, processed_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := db.ExecContext(ctx, query,
		email.ID,
		email.ThreadID,
		email.Sender,
		email.SenderName,
		email.Recipient,
		email.Subject,
		email.Body,
		email.BodyHTML,
		email.Attachments,
		email.ReceivedAt,
		email.Category,
		email.Status,
		email.AIResponse,
		email.ProcessedAt,
		time.Now(),
	)
	if err != nil {
		return fmt.Errorf("failed to save email: %w", err)
	}
	return nil
}

// IsEmailProcessed reports whether a message id is already recorded.
func (db *DB) IsEmailProcessed(ctx context.Context, id string) (bool, error) {
	var one int
	err := db.GetContext(ctx, &one, `SELECT 1 FROM emails WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check email: %w", err)
	}
	return true, nil
}

// FinalizeEmail records the processing outcome of a claimed email. The update
// is a compare-and-set on the pending status so that two triggers racing on
// the same message id cannot both finalize it. ErrNotFound means the record
// was already finalized (or never claimed).
func (db *DB) FinalizeEmail(ctx context.Context, id string, category models.Category, status models.Status, aiResponse *string, processedAt time.Time) error {
	query := `
		UPDATE emails
		SET category = ?, status = ?, ai_response = ?, processed_at = ?
		WHERE id = ? AND status = ?
	`
	result, err := db.ExecContext(ctx, query, category, status, aiResponse, processedAt, id, models.StatusPending)
	if err != nil {
		return fmt.Errorf("failed to finalize email: %w", err)
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

// GetEmail returns an email by ID
func (db *DB) GetEmail(ctx context.Context, id string) (*models.Email, error) {
	var email models.Email
	err := db.GetContext(ctx, &email, `SELECT * FROM emails WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get email: %w", err)
	}
	return &email, nil
}

// GetPendingEmails returns emails that need manual attention
func (db *DB) GetPendingEmails(ctx context.Context) ([]*models.Email, error) {
	var emails []*models.Email
	query := `SELECT * FROM emails WHERE status = ? ORDER BY received_at DESC`
	err := db.SelectContext(ctx, &emails, query, models.StatusManualRequired)
	if err != nil {
		return nil, fmt.Errorf("failed to get pending emails: %w", err)
	}
	return emails, nil
}

// GetEmailHistory returns recently replied emails
func (db *DB) GetEmailHistory(ctx context.Context, limit int) ([]*models.Email, error) {
	var emails []*models.Email
	query := `SELECT * FROM emails WHERE status = ? ORDER BY processed_at DESC LIMIT ?`
	err := db.SelectContext(ctx, &emails, query, models.StatusReplied, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get email history: %w", err)
	}
	return emails, nil
}

// UpdateEmailStatus sets the status and response of an email. The response
// pointer always overwrites ai_response, so passing nil clears it.
func (db *DB) UpdateEmailStatus(ctx context.Context, id string, status models.Status, aiResponse *string) error {
	query := `UPDATE emails SET status = ?, ai_response = ?, processed_at = ? WHERE id = ?`
	result, err := db.ExecContext(ctx, query, status, aiResponse, time.Now(), id)
	if err != nil {
		return fmt.Errorf("failed to update email status: %w", err)
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

// UpdateEmailStatusIf transitions status only when the record is currently in
// the expected state. ErrNotFound means a concurrent writer got there first.
func (db *DB) UpdateEmailStatusIf(ctx context.Context, id string, from, to models.Status, aiResponse *string) error {
	query := `UPDATE emails SET status = ?, ai_response = ?, processed_at = ? WHERE id = ? AND status = ?`
	result, err := db.ExecContext(ctx, query, to, aiResponse, time.Now(), id, from)
	if err != nil {
		return fmt.Errorf("failed to update email status: %w", err)
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

// SearchEmails runs a substring search over the trigger-maintained search
// index. Scope is "all", "pending" or "history". LIKE metacharacters in the
// query match literally.
func (db *DB) SearchEmails(ctx context.Context, q, scope string, limit int) ([]*models.Email, error) {
	escaped := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(strings.ToLower(q))
	query := `
		SELECT e.* FROM emails e
		JOIN email_search s ON s.email_id = e.id
		WHERE s.content LIKE '%' || ? || '%' ESCAPE '\'
	`
	args := []any{escaped}

	switch scope {
	case "pending":
		query += ` AND e.status = ?`
		args = append(args, models.StatusManualRequired)
	case "history":
		query += ` AND e.status = ?`
		args = append(args, models.StatusReplied)
	}

	query += ` ORDER BY e.received_at DESC LIMIT ?`
	args = append(args, limit)

	var emails []*models.Email
	if err := db.SelectContext(ctx, &emails, query, args...); err != nil {
		return nil, fmt.Errorf("failed to search emails: %w", err)
	}
	return emails, nil
}

// GetStats returns processing statistics
func (db *DB) GetStats(ctx context.Context) (*models.Stats, error) {
	var stats models.Stats
	query := `
		SELECT
			(SELECT COUNT(*) FROM emails) AS total_processed,
			(SELECT COUNT(*) FROM emails WHERE category = 'auto_reply') AS auto_replied,
			(SELECT COUNT(*) FROM emails WHERE category = 'rag_reply') AS rag_replied,
			(SELECT COUNT(*) FROM emails WHERE status = 'manual_required') AS pending_manual,
			(SELECT COUNT(*) FROM drafts WHERE status = 'pending') AS drafts_pending
	`
	if err := db.GetContext(ctx, &stats, query); err != nil {
		return nil, fmt.Errorf("failed to get stats: %w", err)
	}
	return &stats, nil
}
