package mailer

import (
	"context"

	"github.com/mixelka/mailtriage/pkg/models"
)

// Provider is the mail-gateway surface the pipeline depends on. Send-style
// calls return the provider-side id of what was created; an error means the
// operation did not happen and the caller decides how to degrade.
type Provider interface {
	// FetchUnread returns up to maxResults unread inbox messages in
	// provider order.
	FetchUnread(ctx context.Context, maxResults int) ([]*models.Email, error)

	// Send sends a reply and returns the sent message id.
	Send(ctx context.Context, reply *models.Reply) (string, error)

	// CreateDraft creates an unsent draft and returns its handle.
	CreateDraft(ctx context.Context, reply *models.Reply) (string, error)

	// SendDraft sends a previously created draft and returns the message id.
	SendDraft(ctx context.Context, draftID string) (string, error)

	// DeleteDraft removes a provider-side draft.
	DeleteDraft(ctx context.Context, draftID string) error

	// MarkRead marks an inbox message as read.
	MarkRead(ctx context.Context, messageID string) error
}
