package processor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/mixelka/mailtriage/internal/blocklist"
	"github.com/mixelka/mailtriage/internal/database"
	"github.com/mixelka/mailtriage/internal/mailer"
	"github.com/mixelka/mailtriage/pkg/models"
)

// Settings keys persisted in the store.
const (
	settingInitialized   = "system_initialized"
	settingInitializedAt = "initialized_at"
	settingAutoReply     = "auto_reply_enabled"
)

// Processor runs the polling cycle: idempotency guard, classification-driven
// routing and the per-category action executors.
type Processor struct {
	db         *database.DB
	provider   mailer.Provider
	router     *Router
	blocklist  *blocklist.Service
	logger     *slog.Logger
	fetchLimit int
	initLimit  int
}

// New creates a new processor
func New(db *database.DB, provider mailer.Provider, router *Router, blockSvc *blocklist.Service, logger *slog.Logger, fetchLimit, initLimit int) *Processor {
	return &Processor{
		db:         db,
		provider:   provider,
		router:     router,
		blocklist:  blockSvc,
		logger:     logger.With("component", "processor"),
		fetchLimit: fetchLimit,
		initLimit:  initLimit,
	}
}

// Initialize performs the one-shot first-run sweep: every currently-unread
// message is recorded as already handled, without classification or replies,
// so mail that predates the system is never auto-replied to. Gated by the
// persisted system_initialized flag. Returns the number of messages marked.
func (p *Processor) Initialize(ctx context.Context) (int, error) {
	initialized, err := p.db.GetSetting(ctx, settingInitialized)
	if err != nil {
		return 0, err
	}
	if initialized == "true" {
		return 0, nil
	}

	p.logger.Info("first run detected, marking existing emails as seen")

	emails, err := p.provider.FetchUnread(ctx, p.initLimit)
	if err != nil {
		return 0, fmt.Errorf("failed to fetch unread emails: %w", err)
	}

	now := time.Now()
	count := 0
	for _, email := range emails {
		response := models.ResponseInitSkipped
		email.Category = nil
		email.Status = models.StatusReplied
		email.AIResponse = &response
		email.ProcessedAt = &now
		if err := p.db.SaveEmail(ctx, email); err != nil {
			p.logger.Error("failed to save email during initialization", "email_id", email.ID, "error", err)
			continue
		}
		count++
	}

	if err := p.db.SetSetting(ctx, settingInitialized, "true"); err != nil {
		return count, err
	}
	if err := p.db.SetSetting(ctx, settingInitializedAt, now.Format(time.RFC3339)); err != nil {
		return count, err
	}

	p.logger.Info("initialization complete", "marked_seen", count)
	return count, nil
}

// ResetInitialization clears the flag so the next Initialize call performs
// exactly one more sweep.
func (p *Processor) ResetInitialization(ctx context.Context) error {
	return p.db.SetSetting(ctx, settingInitialized, "false")
}

// Initialized reports the persisted initialization state.
func (p *Processor) Initialized(ctx context.Context) (bool, string, error) {
	flag, err := p.db.GetSetting(ctx, settingInitialized)
	if err != nil {
		return false, "", err
	}
	at, err := p.db.GetSetting(ctx, settingInitializedAt)
	if err != nil {
		return false, "", err
	}
	return flag == "true", at, nil
}

// ProcessNewEmails runs one polling cycle and returns the number of newly
// processed messages. Already-recorded messages are skipped before any side
// effect; a failure on one message never aborts the cycle.
func (p *Processor) ProcessNewEmails(ctx context.Context) (int, error) {
	emails, err := p.provider.FetchUnread(ctx, p.fetchLimit)
	if err != nil {
		return 0, fmt.Errorf("failed to fetch unread emails: %w", err)
	}

	processed := 0
	for _, email := range emails {
		// Claim doubles as the idempotency guard: losing the insert race
		// means another trigger already owns this message.
		if err := p.db.ClaimEmail(ctx, email); err != nil {
			if errors.Is(err, database.ErrAlreadyExists) {
				continue
			}
			p.logger.Error("failed to claim email", "email_id", email.ID, "error", err)
			continue
		}

		if p.blocklist.ShouldBlock(ctx, email.Sender) {
			p.logger.Info("sender blocked, skipping classification", "email_id", email.ID, "sender", email.Sender)
			note := models.ResponseBlocked
			if err := p.db.UpdateEmailStatus(ctx, email.ID, models.StatusReplied, &note); err != nil {
				p.logger.Error("failed to record blocked email", "email_id", email.ID, "error", err)
			}
			p.markRead(ctx, email.ID)
			continue
		}

		processed++
		if err := p.processSingle(ctx, email); err != nil {
			p.logger.Error("failed to process email, forcing manual review", "email_id", email.ID, "error", err)
			if ferr := p.db.FinalizeEmail(ctx, email.ID, models.CategoryPendingManual, models.StatusManualRequired, nil, time.Now()); ferr != nil && !errors.Is(ferr, database.ErrNotFound) {
				p.logger.Error("failed to record manual fallback", "email_id", email.ID, "error", ferr)
			}
		}
	}

	return processed, nil
}

// processSingle classifies one claimed email, executes its category action and
// finalizes the record exactly once.
func (p *Processor) processSingle(ctx context.Context, email *models.Email) error {
	category, result := p.router.Route(ctx, email)

	status := models.StatusManualRequired
	var response *string

	switch category {
	case models.CategoryAutoReply, models.CategoryRAGReply:
		if result != nil && !p.autoReplyEnabled(ctx) {
			p.logger.Info("automatic replies disabled, routing to manual review", "email_id", email.ID)
			result = nil
		}
		if result != nil {
			if messageID, err := p.provider.Send(ctx, p.replyFor(email, result.Text)); err != nil || messageID == "" {
				p.logger.Warn("failed to send reply", "email_id", email.ID, "error", err)
			} else {
				status = models.StatusReplied
				response = &result.Text
				p.markRead(ctx, email.ID)
			}
		}

	case models.CategoryDraftReview:
		if result != nil {
			if handle, err := p.provider.CreateDraft(ctx, p.replyFor(email, result.Text)); err != nil || handle == "" {
				p.logger.Warn("failed to create draft", "email_id", email.ID, "error", err)
			} else {
				draft := &models.Draft{
					ID:              uuid.NewString(),
					EmailID:         email.ID,
					ProviderDraftID: handle,
					Response:        result.Text,
				}
				if err := p.db.CreateDraft(ctx, draft); err != nil {
					return fmt.Errorf("failed to save draft: %w", err)
				}
				status = models.StatusDraft
				response = &result.Text
				p.markRead(ctx, email.ID)
			}
		}

	case models.CategoryPendingManual:
		// No action, message stays unread and visible in the inbox
	}

	if err := p.db.FinalizeEmail(ctx, email.ID, category, status, response, time.Now()); err != nil {
		if errors.Is(err, database.ErrNotFound) {
			p.logger.Warn("email finalized by a concurrent trigger", "email_id", email.ID)
			return nil
		}
		return err
	}
	return nil
}

// autoReplyEnabled reads the operator toggle; a read failure keeps replies on.
func (p *Processor) autoReplyEnabled(ctx context.Context) bool {
	value, err := p.db.GetSetting(ctx, settingAutoReply)
	if err != nil {
		p.logger.Warn("failed to read auto reply setting", "error", err)
		return true
	}
	return value != "false"
}

func (p *Processor) replyFor(email *models.Email, body string) *models.Reply {
	return &models.Reply{
		To:       email.Sender,
		Subject:  ReplySubject(email.Subject),
		Body:     body,
		ThreadID: email.ThreadID,
	}
}

func (p *Processor) markRead(ctx context.Context, emailID string) {
	if err := p.provider.MarkRead(ctx, emailID); err != nil {
		p.logger.Warn("failed to mark email as read", "email_id", emailID, "error", err)
	}
}

// ReplySubject prefixes a subject with Re: unless it already is a reply.
func ReplySubject(subject string) string {
	if strings.HasPrefix(strings.ToLower(subject), "re:") {
		return subject
	}
	return "Re: " + subject
}
