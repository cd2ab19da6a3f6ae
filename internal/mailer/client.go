package mailer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/mixelka/mailtriage/internal/parser"
	"github.com/mixelka/mailtriage/pkg/models"
)

// Client is a REST mail-gateway client implementing Provider.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	parser     *parser.HTMLParser
	logger     *slog.Logger
}

// Config for the gateway client
type Config struct {
	BaseURL string // e.g., https://mail-api.example.com
	APIKey  string
	Timeout time.Duration
}

type gatewayMessage struct {
	ID         string    `json:"id"`
	ThreadID   string    `json:"thread_id"`
	Raw        string    `json:"raw"` // base64-encoded RFC 5322 message
	ReceivedAt time.Time `json:"received_at"`
}

type listResponse struct {
	Messages []gatewayMessage `json:"messages"`
}

type idResponse struct {
	ID string `json:"id"`
}

// NewClient creates a new gateway client
func NewClient(cfg Config, logger *slog.Logger) *Client {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL:    cfg.BaseURL,
		apiKey:     cfg.APIKey,
		httpClient: &http.Client{Timeout: timeout},
		parser:     parser.NewHTMLParser(),
		logger:     logger.With("component", "mail_gateway"),
	}
}

// FetchUnread returns up to maxResults unread messages in gateway order
func (c *Client) FetchUnread(ctx context.Context, maxResults int) ([]*models.Email, error) {
	q := url.Values{}
	q.Set("state", "unread")
	q.Set("limit", strconv.Itoa(maxResults))

	var resp listResponse
	if err := c.doJSON(ctx, http.MethodGet, "/api/v1/messages?"+q.Encode(), nil, &resp); err != nil {
		return nil, err
	}

	emails := make([]*models.Email, 0, len(resp.Messages))
	for _, msg := range resp.Messages {
		email, err := c.parseRaw(msg)
		if err != nil {
			c.logger.Warn("failed to parse message", "id", msg.ID, "error", err)
			continue
		}
		emails = append(emails, email)
	}
	return emails, nil
}

// Send sends a reply and returns the sent message id
func (c *Client) Send(ctx context.Context, reply *models.Reply) (string, error) {
	raw, err := buildMIME(reply)
	if err != nil {
		return "", fmt.Errorf("failed to build message: %w", err)
	}

	var resp idResponse
	body := map[string]string{"raw": raw, "thread_id": reply.ThreadID}
	if err := c.doJSON(ctx, http.MethodPost, "/api/v1/messages/send", body, &resp); err != nil {
		return "", err
	}
	if resp.ID == "" {
		return "", fmt.Errorf("gateway returned no message id")
	}
	return resp.ID, nil
}

// CreateDraft creates an unsent draft and returns its handle
func (c *Client) CreateDraft(ctx context.Context, reply *models.Reply) (string, error) {
	raw, err := buildMIME(reply)
	if err != nil {
		return "", fmt.Errorf("failed to build message: %w", err)
	}

	var resp idResponse
	body := map[string]string{"raw": raw, "thread_id": reply.ThreadID}
	if err := c.doJSON(ctx, http.MethodPost, "/api/v1/drafts", body, &resp); err != nil {
		return "", err
	}
	if resp.ID == "" {
		return "", fmt.Errorf("gateway returned no draft id")
	}
	return resp.ID, nil
}

// SendDraft sends a previously created draft
func (c *Client) SendDraft(ctx context.Context, draftID string) (string, error) {
	var resp idResponse
	path := "/api/v1/drafts/" + url.PathEscape(draftID) + "/send"
	if err := c.doJSON(ctx, http.MethodPost, path, nil, &resp); err != nil {
		return "", err
	}
	if resp.ID == "" {
		return "", fmt.Errorf("gateway returned no message id")
	}
	return resp.ID, nil
}

// DeleteDraft removes a provider-side draft
func (c *Client) DeleteDraft(ctx context.Context, draftID string) error {
	return c.doJSON(ctx, http.MethodDelete, "/api/v1/drafts/"+url.PathEscape(draftID), nil, nil)
}

// MarkRead marks an inbox message as read
func (c *Client) MarkRead(ctx context.Context, messageID string) error {
	return c.doJSON(ctx, http.MethodPost, "/api/v1/messages/"+url.PathEscape(messageID)+"/read", nil, nil)
}

func (c *Client) doJSON(ctx context.Context, method, path string, in, out any) error {
	var reqBody io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("X-API-Key", c.apiKey)
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("gateway error: %s (status %d)", string(respBody), resp.StatusCode)
	}

	if out != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("failed to parse response: %w", err)
		}
	}
	return nil
}
