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

// CreateDraft creates a new review draft. The partial unique index rejects a
// second live draft for the same email.
func (db *DB) CreateDraft(ctx context.Context, draft *models.Draft) error {
	query := `
		INSERT INTO drafts (id, email_id, provider_draft_id, response, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`
	now := time.Now()
	_, err := db.ExecContext(ctx, query,
		draft.ID,
		draft.EmailID,
		draft.ProviderDraftID,
		draft.Response,
		models.DraftPending,
		now,
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return ErrAlreadyExists
		}
		return fmt.Errorf("failed to create draft: %w", err)
	}

	draft.Status = models.DraftPending
	draft.CreatedAt = now
	return nil
}

// GetDraft returns a draft by ID
func (db *DB) GetDraft(ctx context.Context, id string) (*models.Draft, error) {
	var draft models.Draft
	err := db.GetContext(ctx, &draft, `SELECT * FROM drafts WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get draft: %w", err)
	}
	return &draft, nil
}

// GetPendingDrafts returns drafts awaiting approval joined with their emails
func (db *DB) GetPendingDrafts(ctx context.Context) ([]*models.DraftWithEmail, error) {
	var drafts []*models.DraftWithEmail
	query := `
		SELECT d.*, e.sender, e.sender_name, e.subject, e.body, e.received_at
		FROM drafts d
		JOIN emails e ON d.email_id = e.id
		WHERE d.status = ?
		ORDER BY d.created_at DESC
	`
	err := db.SelectContext(ctx, &drafts, query, models.DraftPending)
	if err != nil {
		return nil, fmt.Errorf("failed to get pending drafts: %w", err)
	}
	return drafts, nil
}

// SwapDraftContent atomically replaces the provider-side handle and text of a
// draft under the same row, re-entering the pending state.
func (db *DB) SwapDraftContent(ctx context.Context, id, providerDraftID, response string) error {
	query := `UPDATE drafts SET provider_draft_id = ?, response = ?, status = ? WHERE id = ?`
	result, err := db.ExecContext(ctx, query, providerDraftID, response, models.DraftPending, id)
	if err != nil {
		return fmt.Errorf("failed to swap draft content: %w", err)
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

// UpdateDraftStatus updates the draft status
func (db *DB) UpdateDraftStatus(ctx context.Context, id string, status models.DraftStatus) error {
	result, err := db.ExecContext(ctx, `UPDATE drafts SET status = ? WHERE id = ?`, status, id)
	if err != nil {
		return fmt.Errorf("failed to update draft status: %w", err)
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

// DeleteDraft deletes a draft row
func (db *DB) DeleteDraft(ctx context.Context, id string) error {
	result, err := db.ExecContext(ctx, `DELETE FROM drafts WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete draft: %w", err)
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
