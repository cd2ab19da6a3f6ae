package models

import "time"

// RetryAction is the kind of provider operation a retry entry re-attempts.
type RetryAction string

const (
	RetrySendReply RetryAction = "send_reply"
	RetrySendDraft RetryAction = "send_draft"
)

// RetryStatus is the state of a retry entry. succeeded and failed are terminal.
type RetryStatus string

const (
	RetryPending   RetryStatus = "pending"
	RetrySucceeded RetryStatus = "succeeded"
	RetryFailed    RetryStatus = "failed"
)

// RetryEntry is the durable record of a failed send awaiting a backoff-scheduled
// re-attempt. Payload is the JSON-serialized operation input.
type RetryEntry struct {
	ID            string      `db:"id" json:"id"`
	EmailID       string      `db:"email_id" json:"email_id"`
	Action        RetryAction `db:"action" json:"action"`
	Payload       string      `db:"payload" json:"payload"`
	LastError     string      `db:"last_error" json:"last_error"`
	AttemptCount  int         `db:"attempt_count" json:"attempt_count"`
	MaxAttempts   int         `db:"max_attempts" json:"max_attempts"`
	NextRetryAt   time.Time   `db:"next_retry_at" json:"next_retry_at"`
	CreatedAt     time.Time   `db:"created_at" json:"created_at"`
	LastAttemptAt *time.Time  `db:"last_attempt_at" json:"last_attempt_at,omitempty"`
	Status        RetryStatus `db:"status" json:"status"`
}

// DraftSendPayload is the payload for send_draft retry entries. DraftID and Body
// let a successful re-attempt finish the approve transition on the local rows.
type DraftSendPayload struct {
	ProviderDraftID string `json:"provider_draft_id"`
	DraftID         string `json:"draft_id,omitempty"`
	Body            string `json:"body,omitempty"`
}
