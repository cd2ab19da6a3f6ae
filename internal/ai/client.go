package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/mixelka/mailtriage/pkg/models"
)

// Fallback texts used when generation fails. They are safe to send (or keep
// as a draft) without model output.
const (
	FallbackGeneric = "Thank you for your message. We appreciate you reaching out to us."
	FallbackRAG     = "Thank you for your question. Let me connect you with our team who can provide more detailed information."
	FallbackDraft   = "[Draft generation failed. Please compose manually.]"
)

// Client calls the model service for classification and reply generation.
type Client struct {
	baseURL    string
	apiKey     string
	model      string
	httpClient *http.Client
}

// Config for the model client
type Config struct {
	BaseURL string
	APIKey  string
	Model   string
	Timeout time.Duration
}

type generateRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type generateResponse struct {
	Text string `json:"text"`
}

// NewClient creates a new model client
func NewClient(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 60 * time.Second
	}
	return &Client{
		baseURL:    cfg.BaseURL,
		apiKey:     cfg.APIKey,
		model:      cfg.Model,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Classify asks the model to place an email into one of the four handling
// categories. An unrecognized category name maps to pending_manual; transport
// and parse faults are returned as errors for the router to absorb.
func (c *Client) Classify(ctx context.Context, email *models.Email) (models.Classification, error) {
	prompt := classifyPrompt(email)

	text, err := c.generate(ctx, prompt)
	if err != nil {
		return models.Classification{}, err
	}

	return parseClassification(text)
}

// GenerateAutoReply produces a short generic reply
func (c *Client) GenerateAutoReply(ctx context.Context, email *models.Email) models.GenResult {
	text, err := c.generate(ctx, autoReplyPrompt(email))
	if err != nil {
		return models.GenResult{Text: FallbackGeneric, Fallback: true, FallbackReason: err.Error()}
	}
	return models.GenResult{Text: text}
}

// GenerateRAGReply produces a reply grounded strictly in the retrieval context
func (c *Client) GenerateRAGReply(ctx context.Context, email *models.Email, ragContext string) models.GenResult {
	text, err := c.generate(ctx, ragReplyPrompt(email, ragContext))
	if err != nil {
		return models.GenResult{Text: FallbackRAG, Fallback: true, FallbackReason: err.Error()}
	}
	return models.GenResult{Text: text}
}

// GenerateDraftReply produces a thorough draft for staff review
func (c *Client) GenerateDraftReply(ctx context.Context, email *models.Email, ragContext string) models.GenResult {
	text, err := c.generate(ctx, draftReplyPrompt(email, ragContext))
	if err != nil {
		return models.GenResult{Text: FallbackDraft, Fallback: true, FallbackReason: err.Error()}
	}
	return models.GenResult{Text: text}
}

func (c *Client) generate(ctx context.Context, prompt string) (string, error) {
	data, err := json.Marshal(generateRequest{Model: c.model, Prompt: prompt})
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/generate", bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("model error: %s (status %d)", string(respBody), resp.StatusCode)
	}

	var genResp generateResponse
	if err := json.Unmarshal(respBody, &genResp); err != nil {
		return "", fmt.Errorf("failed to parse response: %w", err)
	}

	return strings.TrimSpace(genResp.Text), nil
}

// parseClassification extracts the JSON verdict from model output, tolerating
// markdown code fences around it.
func parseClassification(text string) (models.Classification, error) {
	text = stripCodeFences(text)

	var raw struct {
		Category   string  `json:"category"`
		Confidence float64 `json:"confidence"`
		Reasoning  string  `json:"reasoning"`
	}
	if err := json.Unmarshal([]byte(text), &raw); err != nil {
		return models.Classification{}, fmt.Errorf("failed to parse classification: %w", err)
	}

	category, ok := map[string]models.Category{
		"AUTO_REPLY":     models.CategoryAutoReply,
		"RAG_REPLY":      models.CategoryRAGReply,
		"PENDING_MANUAL": models.CategoryPendingManual,
		"DRAFT_REVIEW":   models.CategoryDraftReview,
	}[strings.ToUpper(strings.TrimSpace(raw.Category))]
	if !ok {
		// Unrecognized category: safest bucket is human review
		category = models.CategoryPendingManual
	}

	return models.Classification{
		Category:   category,
		Confidence: raw.Confidence,
		Reasoning:  raw.Reasoning,
	}, nil
}

func stripCodeFences(text string) string {
	text = strings.TrimSpace(text)
	if strings.HasPrefix(text, "```json") {
		text = text[len("```json"):]
	} else if strings.HasPrefix(text, "```") {
		text = text[3:]
	}
	text = strings.TrimSuffix(strings.TrimSpace(text), "```")
	return strings.TrimSpace(text)
}
