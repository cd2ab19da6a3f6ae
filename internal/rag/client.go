package rag

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// NoResultsContext is returned when the knowledge base has nothing relevant.
// Downstream prompting relies on this being a stable non-empty string.
const NoResultsContext = "No relevant information was found in the knowledge base."

// Client queries the vector-search service for knowledge-base context.
type Client struct {
	baseURL    string
	topK       int
	httpClient *http.Client
}

// Config for the retrieval client
type Config struct {
	BaseURL string
	TopK    int
	Timeout time.Duration
}

type queryRequest struct {
	Query string `json:"query"`
	TopK  int    `json:"top_k"`
}

type queryResponse struct {
	Results []struct {
		Content string  `json:"content"`
		Score   float64 `json:"score"`
	} `json:"results"`
}

// NewClient creates a new retrieval client
func NewClient(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	topK := cfg.TopK
	if topK <= 0 {
		topK = 5
	}
	return &Client{
		baseURL:    cfg.BaseURL,
		topK:       topK,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Query returns a context string for the given text and whether anything
// relevant was found. On failure the no-results sentinel is returned together
// with the error so callers always have a usable context string.
func (c *Client) Query(ctx context.Context, text string) (string, bool, error) {
	data, err := json.Marshal(queryRequest{Query: text, TopK: c.topK})
	if err != nil {
		return NoResultsContext, false, fmt.Errorf("failed to marshal query: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/v1/query", bytes.NewReader(data))
	if err != nil {
		return NoResultsContext, false, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return NoResultsContext, false, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return NoResultsContext, false, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return NoResultsContext, false, fmt.Errorf("retrieval error: %s (status %d)", string(respBody), resp.StatusCode)
	}

	var queryResp queryResponse
	if err := json.Unmarshal(respBody, &queryResp); err != nil {
		return NoResultsContext, false, fmt.Errorf("failed to parse response: %w", err)
	}

	if len(queryResp.Results) == 0 {
		return NoResultsContext, false, nil
	}

	var chunks []string
	for _, r := range queryResp.Results {
		if content := strings.TrimSpace(r.Content); content != "" {
			chunks = append(chunks, content)
		}
	}
	if len(chunks) == 0 {
		return NoResultsContext, false, nil
	}

	return strings.Join(chunks, "\n\n"), true, nil
}
