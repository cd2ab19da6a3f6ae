// Package retryq implements the durable retry queue for failed provider sends,
// advanced by a periodic sweep with exponential backoff.
package retryq

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/mixelka/mailtriage/internal/database"
	"github.com/mixelka/mailtriage/internal/mailer"
	"github.com/mixelka/mailtriage/pkg/models"
)

// backoffMinutes is indexed by min(attempt, len-1).
var backoffMinutes = [...]int{1, 5, 15, 30, 60}

// DefaultMaxAttempts bounds re-attempts before an entry turns terminal.
const DefaultMaxAttempts = 5

// Queue manages retry entries for failed send and draft-send operations.
type Queue struct {
	db       *database.DB
	provider mailer.Provider
	logger   *slog.Logger
	now      func() time.Time
}

// New creates a new retry queue
func New(db *database.DB, provider mailer.Provider, logger *slog.Logger) *Queue {
	return &Queue{
		db:       db,
		provider: provider,
		logger:   logger.With("component", "retry_queue"),
		now:      time.Now,
	}
}

// Enqueue records a failed operation for later re-attempts. The first retry
// becomes due one backoff step from now. Returns the new entry id.
func (q *Queue) Enqueue(ctx context.Context, emailID string, action models.RetryAction, payload any, sendErr string, maxAttempts int) (string, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to marshal payload: %w", err)
	}
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}

	entry := &models.RetryEntry{
		ID:          uuid.NewString(),
		EmailID:     emailID,
		Action:      action,
		Payload:     string(data),
		LastError:   sendErr,
		MaxAttempts: maxAttempts,
		NextRetryAt: q.now().Add(time.Duration(backoffMinutes[0]) * time.Minute),
	}
	if err := q.db.CreateRetry(ctx, entry); err != nil {
		return "", err
	}

	q.logger.Info("enqueued retry",
		"retry_id", entry.ID,
		"email_id", emailID,
		"action", action,
		"next_retry_at", entry.NextRetryAt,
	)
	return entry.ID, nil
}

// SweepDue attempts every due pending entry exactly once and returns how many
// were attempted.
func (q *Queue) SweepDue(ctx context.Context) (int, error) {
	entries, err := q.db.GetDueRetries(ctx, q.now())
	if err != nil {
		return 0, err
	}

	for _, entry := range entries {
		q.retrySingle(ctx, entry)
	}
	return len(entries), nil
}

// retrySingle re-attempts one entry, advancing its state per the outcome.
func (q *Queue) retrySingle(ctx context.Context, entry *models.RetryEntry) {
	now := q.now()
	attempt := entry.AttemptCount + 1

	err := q.execute(ctx, entry)
	if err == nil {
		if terr := q.db.MarkRetryTerminal(ctx, entry.ID, models.RetrySucceeded, now); terr != nil {
			q.logger.Error("failed to mark retry succeeded", "retry_id", entry.ID, "error", terr)
		}
		q.logger.Info("retry succeeded", "retry_id", entry.ID, "email_id", entry.EmailID, "attempt", attempt)
		return
	}

	if attempt >= entry.MaxAttempts {
		// Terminal failure, surfaced to operators; next_retry_at stays as-is.
		if terr := q.db.MarkRetryTerminal(ctx, entry.ID, models.RetryFailed, now); terr != nil {
			q.logger.Error("failed to mark retry failed", "retry_id", entry.ID, "error", terr)
		}
		q.logger.Error("retry exhausted", "retry_id", entry.ID, "email_id", entry.EmailID, "attempts", attempt, "error", err)
		return
	}

	next := now.Add(time.Duration(backoffMinutes[min(attempt, len(backoffMinutes)-1)]) * time.Minute)
	if uerr := q.db.UpdateRetryAttempt(ctx, entry.ID, attempt, err.Error(), next, now); uerr != nil {
		q.logger.Error("failed to record retry attempt", "retry_id", entry.ID, "error", uerr)
	}
	q.logger.Warn("retry failed, rescheduled",
		"retry_id", entry.ID,
		"email_id", entry.EmailID,
		"attempt", attempt,
		"next_retry_at", next,
		"error", err,
	)
}

// execute performs the provider operation an entry describes and re-syncs the
// owning records on success.
func (q *Queue) execute(ctx context.Context, entry *models.RetryEntry) error {
	switch entry.Action {
	case models.RetrySendReply:
		var reply models.Reply
		if err := json.Unmarshal([]byte(entry.Payload), &reply); err != nil {
			return fmt.Errorf("failed to unmarshal payload: %w", err)
		}
		messageID, err := q.provider.Send(ctx, &reply)
		if err != nil {
			return err
		}
		if messageID == "" {
			return fmt.Errorf("send returned no message id")
		}
		if err := q.db.UpdateEmailStatus(ctx, entry.EmailID, models.StatusReplied, &reply.Body); err != nil {
			q.logger.Error("failed to update email after retry", "email_id", entry.EmailID, "error", err)
		}
		return nil

	case models.RetrySendDraft:
		var payload models.DraftSendPayload
		if err := json.Unmarshal([]byte(entry.Payload), &payload); err != nil {
			return fmt.Errorf("failed to unmarshal payload: %w", err)
		}
		if payload.ProviderDraftID == "" {
			return fmt.Errorf("payload has no provider draft id")
		}
		messageID, err := q.provider.SendDraft(ctx, payload.ProviderDraftID)
		if err != nil {
			return err
		}
		if messageID == "" {
			return fmt.Errorf("send draft returned no message id")
		}
		if payload.DraftID != "" {
			if err := q.db.UpdateDraftStatus(ctx, payload.DraftID, models.DraftApproved); err != nil {
				q.logger.Error("failed to update draft after retry", "draft_id", payload.DraftID, "error", err)
			}
		}
		var body *string
		if payload.Body != "" {
			body = &payload.Body
		}
		if err := q.db.UpdateEmailStatus(ctx, entry.EmailID, models.StatusReplied, body); err != nil {
			q.logger.Error("failed to update email after retry", "email_id", entry.EmailID, "error", err)
		}
		return nil

	default:
		return fmt.Errorf("unknown retry action %q", entry.Action)
	}
}

// ManualRetry re-queues an entry for immediate processing, resetting its
// attempt budget regardless of prior failure depth.
func (q *Queue) ManualRetry(ctx context.Context, id string) error {
	return q.db.ResetRetry(ctx, id, "manual retry requested", q.now())
}

// Cancel removes an entry unconditionally.
func (q *Queue) Cancel(ctx context.Context, id string) error {
	return q.db.DeleteRetry(ctx, id)
}

// List returns all entries, newest first, for operator display.
func (q *Queue) List(ctx context.Context) ([]*models.RetryEntry, error) {
	return q.db.GetRetryQueue(ctx)
}
