package models

import "time"

// DraftStatus is the lifecycle state of a review draft.
type DraftStatus string

const (
	DraftPending   DraftStatus = "pending"
	DraftApproved  DraftStatus = "approved"
	DraftDiscarded DraftStatus = "discarded"
)

// Draft is a provider-side unsent reply awaiting operator approval.
// At most one pending draft exists per email.
type Draft struct {
	ID              string      `db:"id" json:"id"`
	EmailID         string      `db:"email_id" json:"email_id"`
	ProviderDraftID string      `db:"provider_draft_id" json:"provider_draft_id"`
	Response        string      `db:"response" json:"response"`
	Status          DraftStatus `db:"status" json:"status"`
	CreatedAt       time.Time   `db:"created_at" json:"created_at"`
}

// DraftWithEmail joins a pending draft with its owning email for review lists.
type DraftWithEmail struct {
	Draft
	Sender     string    `db:"sender" json:"sender"`
	SenderName string    `db:"sender_name" json:"sender_name,omitempty"`
	Subject    string    `db:"subject" json:"subject"`
	Body       string    `db:"body" json:"body"`
	ReceivedAt time.Time `db:"received_at" json:"received_at"`
}
