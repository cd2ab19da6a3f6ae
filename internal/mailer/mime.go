package mailer

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/emersion/go-message/mail"

	"github.com/mixelka/mailtriage/pkg/models"
)

// Attachment content above this size is kept as metadata only.
const maxInlineAttachment = 8 * 1024

// buildMIME renders a reply as a base64-encoded RFC 5322 message.
func buildMIME(reply *models.Reply) (string, error) {
	var buf bytes.Buffer

	var h mail.Header
	h.SetDate(time.Now())
	h.SetAddressList("To", []*mail.Address{{Address: reply.To}})
	h.SetSubject(reply.Subject)
	h.SetContentType("text/plain", map[string]string{"charset": "utf-8"})

	w, err := mail.CreateSingleInlineWriter(&buf, h)
	if err != nil {
		return "", fmt.Errorf("failed to create message writer: %w", err)
	}
	if _, err := io.WriteString(w, reply.Body); err != nil {
		w.Close()
		return "", fmt.Errorf("failed to write body: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("failed to finish message: %w", err)
	}

	return base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

// parseRaw decodes a gateway message into an email record. HTML-only bodies
// are reduced to plain text so classification always has something to work on.
func (c *Client) parseRaw(msg gatewayMessage) (*models.Email, error) {
	raw, err := base64.StdEncoding.DecodeString(msg.Raw)
	if err != nil {
		return nil, fmt.Errorf("failed to decode raw message: %w", err)
	}

	mr, err := mail.CreateReader(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("failed to read message: %w", err)
	}

	email := &models.Email{
		ID:         msg.ID,
		ThreadID:   msg.ThreadID,
		ReceivedAt: msg.ReceivedAt,
		Status:     models.StatusPending,
	}

	if subject, err := mr.Header.Subject(); err == nil && subject != "" {
		email.Subject = subject
	} else {
		email.Subject = "(No Subject)"
	}
	if from, err := mr.Header.AddressList("From"); err == nil && len(from) > 0 {
		email.Sender = from[0].Address
		email.SenderName = from[0].Name
	}
	if to, err := mr.Header.AddressList("To"); err == nil && len(to) > 0 {
		email.Recipient = to[0].Address
	}
	if email.ReceivedAt.IsZero() {
		if date, err := mr.Header.Date(); err == nil {
			email.ReceivedAt = date
		} else {
			email.ReceivedAt = time.Now()
		}
	}

	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			c.logger.Warn("failed to read message part", "id", msg.ID, "error", err)
			break
		}

		switch h := part.Header.(type) {
		case *mail.InlineHeader:
			ct, _, _ := h.ContentType()
			body, err := io.ReadAll(part.Body)
			if err != nil {
				continue
			}
			switch {
			case strings.HasPrefix(ct, "text/plain"):
				email.Body = string(body)
			case strings.HasPrefix(ct, "text/html"):
				email.BodyHTML = string(body)
			}
		case *mail.AttachmentHeader:
			filename, _ := h.Filename()
			ct, _, _ := h.ContentType()
			content, err := io.ReadAll(part.Body)
			if err != nil {
				continue
			}
			att := models.Attachment{
				Filename: filename,
				MimeType: ct,
				Size:     int64(len(content)),
			}
			if len(content) <= maxInlineAttachment {
				att.Content = base64.StdEncoding.EncodeToString(content)
			}
			email.Attachments = append(email.Attachments, att)
		}
	}

	// HTML-only message: derive a text body
	if email.Body == "" && email.BodyHTML != "" {
		text, err := c.parser.Parse(email.BodyHTML)
		if err != nil {
			c.logger.Warn("failed to parse html body", "id", msg.ID, "error", err)
		} else {
			email.Body = text
		}
	}

	return email, nil
}
