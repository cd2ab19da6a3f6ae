package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// Category is the classification outcome governing which action strategy runs.
// It is fixed at classification time and never recomputed automatically.
type Category string

const (
	CategoryAutoReply     Category = "auto_reply"
	CategoryRAGReply      Category = "rag_reply"
	CategoryPendingManual Category = "pending_manual"
	CategoryDraftReview   Category = "draft_review"
)

// Status is the processing state of an inbound email.
type Status string

const (
	StatusPending        Status = "pending"
	StatusReplied        Status = "replied"
	StatusDraft          Status = "draft"
	StatusManualRequired Status = "manual_required"
)

// Sentinel response texts stored on records that were never produced by the model.
const (
	ResponseInitSkipped = "[Skipped - existed before system start]"
	ResponseDismissed   = "[Dismissed by operator]"
	ResponseBlocked     = "[Blocked sender]"
)

// Attachment describes one email attachment. Content is only populated for
// small inline parts; larger attachments keep metadata only.
type Attachment struct {
	Filename string `json:"filename"`
	MimeType string `json:"mime_type"`
	Size     int64  `json:"size"`
	Content  string `json:"content,omitempty"`
}

// AttachmentList is stored as a JSON TEXT column.
type AttachmentList []Attachment

// Value implements driver.Valuer.
func (a AttachmentList) Value() (driver.Value, error) {
	if len(a) == 0 {
		return "[]", nil
	}
	data, err := json.Marshal(a)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal attachments: %w", err)
	}
	return string(data), nil
}

// Scan implements sql.Scanner.
func (a *AttachmentList) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*a = nil
		return nil
	case string:
		if v == "" {
			*a = nil
			return nil
		}
		return json.Unmarshal([]byte(v), a)
	case []byte:
		if len(v) == 0 {
			*a = nil
			return nil
		}
		return json.Unmarshal(v, a)
	default:
		return fmt.Errorf("unsupported attachments type %T", src)
	}
}

// Email is the durable record of one inbound message and its processing outcome.
type Email struct {
	ID          string         `db:"id" json:"id"`
	ThreadID    string         `db:"thread_id" json:"thread_id"`
	Sender      string         `db:"sender" json:"sender"`
	SenderName  string         `db:"sender_name" json:"sender_name,omitempty"`
	Recipient   string         `db:"recipient" json:"recipient"`
	Subject     string         `db:"subject" json:"subject"`
	Body        string         `db:"body" json:"body"`
	BodyHTML    string         `db:"body_html" json:"body_html,omitempty"`
	Attachments AttachmentList `db:"attachments" json:"attachments"`
	ReceivedAt  time.Time      `db:"received_at" json:"received_at"`
	Category    *Category      `db:"category" json:"category,omitempty"`
	Status      Status         `db:"status" json:"status"`
	AIResponse  *string        `db:"ai_response" json:"ai_response,omitempty"`
	ProcessedAt *time.Time     `db:"processed_at" json:"processed_at,omitempty"`
	CreatedAt   time.Time      `db:"created_at" json:"created_at"`
}

// DisplayName returns the sender name when present, the address otherwise.
func (e *Email) DisplayName() string {
	if e.SenderName != "" {
		return e.SenderName
	}
	return e.Sender
}

// Reply is an outbound message addressed to the sender of an inbound email.
type Reply struct {
	To       string `json:"to"`
	Subject  string `json:"subject"`
	Body     string `json:"body"`
	ThreadID string `json:"thread_id,omitempty"`
}

// Stats summarizes processing outcomes for the dashboard.
type Stats struct {
	TotalProcessed int `db:"total_processed" json:"total_emails_processed"`
	AutoReplied    int `db:"auto_replied" json:"auto_replied"`
	RAGReplied     int `db:"rag_replied" json:"rag_replied"`
	PendingManual  int `db:"pending_manual" json:"pending_manual"`
	DraftsPending  int `db:"drafts_pending" json:"drafts_pending"`
}
