// Package drafts implements the review-draft lifecycle: operator approval,
// editing, regeneration and discard of AI-drafted replies.
package drafts

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/mixelka/mailtriage/internal/database"
	"github.com/mixelka/mailtriage/internal/mailer"
	"github.com/mixelka/mailtriage/internal/processor"
	"github.com/mixelka/mailtriage/internal/retryq"
	"github.com/mixelka/mailtriage/pkg/models"
)

var (
	// ErrNotPending is returned when an operation targets a draft that has
	// already been approved or discarded.
	ErrNotPending = errors.New("draft is not pending")

	// ErrSendQueued means the provider send failed and the draft was queued
	// for automatic retry. The draft stays pending until the send lands.
	ErrSendQueued = errors.New("send failed, queued for retry")
)

// Service coordinates draft state between the store and the mail provider.
type Service struct {
	db       *database.DB
	provider mailer.Provider
	router   *processor.Router
	queue    *retryq.Queue
	logger   *slog.Logger
}

// New creates a new draft service
func New(db *database.DB, provider mailer.Provider, router *processor.Router, queue *retryq.Queue, logger *slog.Logger) *Service {
	return &Service{
		db:       db,
		provider: provider,
		router:   router,
		queue:    queue,
		logger:   logger.With("component", "drafts"),
	}
}

// List returns all drafts awaiting review, newest first.
func (s *Service) List(ctx context.Context) ([]*models.DraftWithEmail, error) {
	return s.db.GetPendingDrafts(ctx)
}

// Get returns a single draft by id.
func (s *Service) Get(ctx context.Context, id string) (*models.Draft, error) {
	return s.db.GetDraft(ctx, id)
}

// Approve sends the provider-side draft as-is. On success the draft becomes
// approved and the owning email replied. A provider failure queues the send
// for retry and returns ErrSendQueued; the draft stays pending meanwhile.
func (s *Service) Approve(ctx context.Context, id string) error {
	draft, err := s.pendingDraft(ctx, id)
	if err != nil {
		return err
	}

	messageID, err := s.provider.SendDraft(ctx, draft.ProviderDraftID)
	if err != nil || messageID == "" {
		if err == nil {
			err = fmt.Errorf("send draft returned no message id")
		}
		s.logger.Warn("failed to send approved draft, queueing retry", "draft_id", id, "error", err)
		payload := models.DraftSendPayload{
			ProviderDraftID: draft.ProviderDraftID,
			DraftID:         draft.ID,
			Body:            draft.Response,
		}
		if _, qerr := s.queue.Enqueue(ctx, draft.EmailID, models.RetrySendDraft, payload, err.Error(), 0); qerr != nil {
			return fmt.Errorf("failed to queue draft send: %w", qerr)
		}
		return ErrSendQueued
	}

	if err := s.db.UpdateDraftStatus(ctx, draft.ID, models.DraftApproved); err != nil {
		return err
	}
	if err := s.db.UpdateEmailStatus(ctx, draft.EmailID, models.StatusReplied, &draft.Response); err != nil {
		return err
	}

	s.logger.Info("draft approved and sent", "draft_id", id, "email_id", draft.EmailID)
	return nil
}

// Edit replaces the draft text with operator-supplied content. The old
// provider draft is deleted best-effort and a fresh one created under the
// same row. Editing a discarded draft revives it as pending; only approved
// drafts are immutable.
func (s *Service) Edit(ctx context.Context, id, body string) (*models.Draft, error) {
	draft, err := s.db.GetDraft(ctx, id)
	if err != nil {
		return nil, err
	}
	if draft.Status == models.DraftApproved {
		return nil, ErrNotPending
	}
	return s.replaceContent(ctx, draft, body)
}

// Regenerate produces a new AI draft for the same email, optionally steered
// by operator-supplied extra context, and swaps it in under the same row.
func (s *Service) Regenerate(ctx context.Context, id, extraContext string) (*models.Draft, error) {
	draft, err := s.pendingDraft(ctx, id)
	if err != nil {
		return nil, err
	}

	email, err := s.db.GetEmail(ctx, draft.EmailID)
	if err != nil {
		return nil, err
	}

	body, err := s.router.Regenerate(ctx, email, models.CategoryDraftReview, extraContext)
	if err != nil {
		return nil, fmt.Errorf("failed to regenerate draft: %w", err)
	}
	return s.replaceContent(ctx, draft, body)
}

// Discard rejects the draft without sending. The provider draft is deleted
// best-effort and the owning email is handed back to manual review with its
// AI response cleared.
func (s *Service) Discard(ctx context.Context, id string) error {
	draft, err := s.pendingDraft(ctx, id)
	if err != nil {
		return err
	}

	s.deleteProviderDraft(ctx, draft.ProviderDraftID)

	if err := s.db.UpdateDraftStatus(ctx, draft.ID, models.DraftDiscarded); err != nil {
		return err
	}
	if err := s.db.UpdateEmailStatus(ctx, draft.EmailID, models.StatusManualRequired, nil); err != nil {
		return err
	}

	s.logger.Info("draft discarded", "draft_id", id, "email_id", draft.EmailID)
	return nil
}

// replaceContent swaps the provider draft and stored text of a pending draft.
func (s *Service) replaceContent(ctx context.Context, draft *models.Draft, body string) (*models.Draft, error) {
	email, err := s.db.GetEmail(ctx, draft.EmailID)
	if err != nil {
		return nil, err
	}

	s.deleteProviderDraft(ctx, draft.ProviderDraftID)

	handle, err := s.provider.CreateDraft(ctx, &models.Reply{
		To:       email.Sender,
		Subject:  processor.ReplySubject(email.Subject),
		Body:     body,
		ThreadID: email.ThreadID,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create provider draft: %w", err)
	}

	if err := s.db.SwapDraftContent(ctx, draft.ID, handle, body); err != nil {
		return nil, err
	}
	if err := s.db.UpdateEmailStatus(ctx, draft.EmailID, models.StatusDraft, &body); err != nil {
		return nil, err
	}

	draft.ProviderDraftID = handle
	draft.Response = body
	draft.Status = models.DraftPending
	return draft, nil
}

func (s *Service) pendingDraft(ctx context.Context, id string) (*models.Draft, error) {
	draft, err := s.db.GetDraft(ctx, id)
	if err != nil {
		return nil, err
	}
	if draft.Status != models.DraftPending {
		return nil, ErrNotPending
	}
	return draft, nil
}

func (s *Service) deleteProviderDraft(ctx context.Context, providerDraftID string) {
	if providerDraftID == "" {
		return
	}
	if err := s.provider.DeleteDraft(ctx, providerDraftID); err != nil {
		s.logger.Warn("failed to delete provider draft", "provider_draft_id", providerDraftID, "error", err)
	}
}
