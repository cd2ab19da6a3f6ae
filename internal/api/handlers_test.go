package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/mixelka/mailtriage/internal/blocklist"
	"github.com/mixelka/mailtriage/internal/database"
	"github.com/mixelka/mailtriage/internal/drafts"
	"github.com/mixelka/mailtriage/internal/processor"
	"github.com/mixelka/mailtriage/internal/retryq"
	"github.com/mixelka/mailtriage/pkg/models"
)

type fakeProvider struct {
	unread  []*models.Email
	sendErr error
	sent    []*models.Reply
}

func (f *fakeProvider) FetchUnread(ctx context.Context, max int) ([]*models.Email, error) {
	return f.unread, nil
}

func (f *fakeProvider) Send(ctx context.Context, reply *models.Reply) (string, error) {
	if f.sendErr != nil {
		return "", f.sendErr
	}
	f.sent = append(f.sent, reply)
	return fmt.Sprintf("sent-%d", len(f.sent)), nil
}

func (f *fakeProvider) CreateDraft(ctx context.Context, reply *models.Reply) (string, error) {
	return "prov-draft-1", nil
}

func (f *fakeProvider) SendDraft(ctx context.Context, draftID string) (string, error) {
	return "sent-draft-1", nil
}

func (f *fakeProvider) DeleteDraft(ctx context.Context, draftID string) error { return nil }

func (f *fakeProvider) MarkRead(ctx context.Context, messageID string) error { return nil }

type fakeModel struct{}

func (f *fakeModel) Classify(ctx context.Context, email *models.Email) (models.Classification, error) {
	return models.Classification{Category: models.CategoryPendingManual}, nil
}

func (f *fakeModel) GenerateAutoReply(ctx context.Context, email *models.Email) models.GenResult {
	return models.GenResult{Text: "ok"}
}

func (f *fakeModel) GenerateRAGReply(ctx context.Context, email *models.Email, ragContext string) models.GenResult {
	return models.GenResult{Text: "ok"}
}

func (f *fakeModel) GenerateDraftReply(ctx context.Context, email *models.Email, ragContext string) models.GenResult {
	return models.GenResult{Text: "ok"}
}

type fakeRetriever struct{}

func (f *fakeRetriever) Query(ctx context.Context, text string) (string, bool, error) {
	return "", false, nil
}

func newTestServer(t *testing.T, provider *fakeProvider) (*httptest.Server, *database.DB) {
	t.Helper()

	db, err := database.New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to create database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := db.Migrate(context.Background()); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	router := processor.NewRouter(&fakeModel{}, &fakeRetriever{}, logger)
	blockSvc := blocklist.New(db, logger)
	proc := processor.New(db, provider, router, blockSvc, logger, 20, 100)
	queue := retryq.New(db, provider, logger)
	draftSvc := drafts.New(db, provider, router, queue, logger)

	handler := NewHandler(db, proc, draftSvc, queue, blockSvc, provider, logger)
	server := httptest.NewServer(handler.Routes())
	t.Cleanup(server.Close)
	return server, db
}

func seedManualEmail(t *testing.T, db *database.DB, id string) {
	t.Helper()
	ctx := context.Background()
	email := &models.Email{
		ID:         id,
		Sender:     "customer@example.com",
		Recipient:  "support@example.com",
		Subject:    "Complaint",
		Body:       "This is unacceptable.",
		ReceivedAt: time.Now().UTC(),
	}
	if err := db.ClaimEmail(ctx, email); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if err := db.FinalizeEmail(ctx, id, models.CategoryPendingManual, models.StatusManualRequired, nil, time.Now()); err != nil {
		t.Fatalf("finalize: %v", err)
	}
}

func doJSON(t *testing.T, method, url string, body string) (*http.Response, map[string]any) {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer resp.Body.Close()

	var decoded map[string]any
	data, _ := io.ReadAll(resp.Body)
	if len(data) > 0 {
		if err := json.Unmarshal(data, &decoded); err != nil {
			t.Fatalf("decode response %q: %v", data, err)
		}
	}
	return resp, decoded
}

func TestHealthAndStats(t *testing.T) {
	server, _ := newTestServer(t, &fakeProvider{})

	resp, body := doJSON(t, http.MethodGet, server.URL+"/api/v1/health", "")
	if resp.StatusCode != http.StatusOK || body["status"] != "ok" {
		t.Fatalf("health: %d %v", resp.StatusCode, body)
	}

	resp, body = doJSON(t, http.MethodGet, server.URL+"/api/v1/stats", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("stats: %d", resp.StatusCode)
	}
	if _, ok := body["total_emails_processed"]; !ok {
		t.Errorf("stats body missing totals: %v", body)
	}
}

func TestReplyEmail(t *testing.T) {
	provider := &fakeProvider{}
	server, db := newTestServer(t, provider)
	seedManualEmail(t, db, "msg-1")

	resp, body := doJSON(t, http.MethodPost, server.URL+"/api/v1/emails/msg-1/reply", `{"body":"We are sorry."}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("reply: %d %v", resp.StatusCode, body)
	}
	if len(provider.sent) != 1 || provider.sent[0].Body != "We are sorry." {
		t.Fatalf("expected reply sent, got %v", provider.sent)
	}
	if provider.sent[0].Subject != "Re: Complaint" {
		t.Errorf("subject: %q", provider.sent[0].Subject)
	}

	email, _ := db.GetEmail(context.Background(), "msg-1")
	if email.Status != models.StatusReplied {
		t.Errorf("expected replied, got %s", email.Status)
	}

	// Replaying the reply must conflict, not double-send
	resp, _ = doJSON(t, http.MethodPost, server.URL+"/api/v1/emails/msg-1/reply", `{"body":"again"}`)
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("replay: expected 409, got %d", resp.StatusCode)
	}
	if len(provider.sent) != 1 {
		t.Fatalf("expected exactly one send, got %d", len(provider.sent))
	}
}

func TestReplyEmailSendFailureQueues(t *testing.T) {
	provider := &fakeProvider{sendErr: errors.New("gateway down")}
	server, db := newTestServer(t, provider)
	seedManualEmail(t, db, "msg-1")

	resp, body := doJSON(t, http.MethodPost, server.URL+"/api/v1/emails/msg-1/reply", `{"body":"We are sorry."}`)
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("expected 202, got %d %v", resp.StatusCode, body)
	}
	if body["queued"] != true {
		t.Errorf("expected queued=true, got %v", body)
	}

	entries, err := db.GetRetryQueue(context.Background())
	if err != nil {
		t.Fatalf("retry queue: %v", err)
	}
	if len(entries) != 1 || entries[0].Action != models.RetrySendReply {
		t.Fatalf("expected one send_reply entry, got %v", entries)
	}
}

func TestReplyEmailValidation(t *testing.T) {
	server, db := newTestServer(t, &fakeProvider{})
	seedManualEmail(t, db, "msg-1")

	resp, _ := doJSON(t, http.MethodPost, server.URL+"/api/v1/emails/msg-1/reply", `{"body":"  "}`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("blank body: expected 400, got %d", resp.StatusCode)
	}

	resp, _ = doJSON(t, http.MethodPost, server.URL+"/api/v1/emails/ghost/reply", `{"body":"hi"}`)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("missing email: expected 404, got %d", resp.StatusCode)
	}
}

func TestDismissEmail(t *testing.T) {
	server, db := newTestServer(t, &fakeProvider{})
	seedManualEmail(t, db, "msg-1")

	resp, _ := doJSON(t, http.MethodPost, server.URL+"/api/v1/emails/msg-1/dismiss", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("dismiss: %d", resp.StatusCode)
	}

	email, _ := db.GetEmail(context.Background(), "msg-1")
	if email.Status != models.StatusReplied {
		t.Errorf("expected replied, got %s", email.Status)
	}
	if email.AIResponse == nil || *email.AIResponse != models.ResponseDismissed {
		t.Errorf("expected dismissal sentinel, got %v", email.AIResponse)
	}

	resp, _ = doJSON(t, http.MethodPost, server.URL+"/api/v1/emails/msg-1/dismiss", "")
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("second dismiss: expected 409, got %d", resp.StatusCode)
	}
}

func TestBulkDismiss(t *testing.T) {
	server, db := newTestServer(t, &fakeProvider{})
	seedManualEmail(t, db, "msg-1")
	seedManualEmail(t, db, "msg-2")

	resp, body := doJSON(t, http.MethodPost, server.URL+"/api/v1/emails/dismiss", `{"ids":["msg-1","msg-2","ghost"]}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("bulk dismiss: %d", resp.StatusCode)
	}
	if body["dismissed"] != float64(2) {
		t.Errorf("expected 2 dismissed, got %v", body["dismissed"])
	}
}

func TestBulkReply(t *testing.T) {
	provider := &fakeProvider{}
	server, db := newTestServer(t, provider)
	seedManualEmail(t, db, "msg-1")
	seedManualEmail(t, db, "msg-2")

	resp, body := doJSON(t, http.MethodPost, server.URL+"/api/v1/emails/reply",
		`{"ids":["msg-1","msg-2","ghost"],"body":"Thanks for your patience."}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("bulk reply: %d %v", resp.StatusCode, body)
	}
	if body["sent"] != float64(2) || body["queued"] != float64(0) {
		t.Errorf("expected 2 sent, got %v", body)
	}
	if len(provider.sent) != 2 {
		t.Fatalf("expected 2 provider sends, got %d", len(provider.sent))
	}
}

func TestSettingsEndpoints(t *testing.T) {
	server, _ := newTestServer(t, &fakeProvider{})

	resp, body := doJSON(t, http.MethodGet, server.URL+"/api/v1/settings", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get settings: %d", resp.StatusCode)
	}
	if body["auto_reply_enabled"] != "true" {
		t.Errorf("expected seeded auto_reply_enabled, got %v", body)
	}

	resp, body = doJSON(t, http.MethodPut, server.URL+"/api/v1/settings", `{"auto_reply_enabled":"false"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("update settings: %d", resp.StatusCode)
	}
	if body["auto_reply_enabled"] != "false" {
		t.Errorf("expected updated value, got %v", body)
	}

	resp, _ = doJSON(t, http.MethodPut, server.URL+"/api/v1/settings", `{}`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("empty update: expected 400, got %d", resp.StatusCode)
	}
}

func TestSearchValidation(t *testing.T) {
	server, _ := newTestServer(t, &fakeProvider{})

	resp, _ := doJSON(t, http.MethodGet, server.URL+"/api/v1/emails/search", "")
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("missing q: expected 400, got %d", resp.StatusCode)
	}

	resp, _ = doJSON(t, http.MethodGet, server.URL+"/api/v1/emails/search?q=x&scope=bogus", "")
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("bad scope: expected 400, got %d", resp.StatusCode)
	}

	resp, body := doJSON(t, http.MethodGet, server.URL+"/api/v1/emails/search?q=anything", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("search: %d", resp.StatusCode)
	}
	if body["count"] != float64(0) {
		t.Errorf("expected empty result set, got %v", body)
	}
}

func TestDraftNotFound(t *testing.T) {
	server, _ := newTestServer(t, &fakeProvider{})

	resp, _ := doJSON(t, http.MethodPost, server.URL+"/api/v1/drafts/ghost/approve", "")
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("approve missing: expected 404, got %d", resp.StatusCode)
	}
}

func TestSystemEndpoints(t *testing.T) {
	provider := &fakeProvider{unread: []*models.Email{{
		ID:         "old-1",
		Sender:     "a@example.com",
		Recipient:  "support@example.com",
		Subject:    "old",
		Body:       "old mail",
		ReceivedAt: time.Now().UTC(),
	}}}
	server, _ := newTestServer(t, provider)

	resp, body := doJSON(t, http.MethodGet, server.URL+"/api/v1/system", "")
	if resp.StatusCode != http.StatusOK || body["initialized"] != false {
		t.Fatalf("status: %d %v", resp.StatusCode, body)
	}

	resp, body = doJSON(t, http.MethodPost, server.URL+"/api/v1/system/initialize", "")
	if resp.StatusCode != http.StatusOK || body["marked_seen"] != float64(1) {
		t.Fatalf("initialize: %d %v", resp.StatusCode, body)
	}

	resp, body = doJSON(t, http.MethodGet, server.URL+"/api/v1/system", "")
	if resp.StatusCode != http.StatusOK || body["initialized"] != true {
		t.Fatalf("status after init: %d %v", resp.StatusCode, body)
	}

	// Everything is already recorded, a manual process run finds nothing new
	resp, body = doJSON(t, http.MethodPost, server.URL+"/api/v1/system/process", "")
	if resp.StatusCode != http.StatusOK || body["processed"] != float64(0) {
		t.Fatalf("process: %d %v", resp.StatusCode, body)
	}
}

func TestRetryEndpoints(t *testing.T) {
	provider := &fakeProvider{sendErr: errors.New("down")}
	server, db := newTestServer(t, provider)
	seedManualEmail(t, db, "msg-1")

	// Queue an entry through a failed manual reply
	resp, _ := doJSON(t, http.MethodPost, server.URL+"/api/v1/emails/msg-1/reply", `{"body":"hi"}`)
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("expected queued reply, got %d", resp.StatusCode)
	}

	resp, body := doJSON(t, http.MethodGet, server.URL+"/api/v1/retries", "")
	if resp.StatusCode != http.StatusOK || body["count"] != float64(1) {
		t.Fatalf("list: %d %v", resp.StatusCode, body)
	}
	entries := body["retries"].([]any)
	id := entries[0].(map[string]any)["id"].(string)

	resp, _ = doJSON(t, http.MethodPost, server.URL+"/api/v1/retries/"+id+"/retry", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("manual retry: %d", resp.StatusCode)
	}

	req, _ := http.NewRequest(http.MethodDelete, server.URL+"/api/v1/retries/"+id, nil)
	delResp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	delResp.Body.Close()
	if delResp.StatusCode != http.StatusOK {
		t.Fatalf("cancel: %d", delResp.StatusCode)
	}

	resp, _ = doJSON(t, http.MethodDelete, server.URL+"/api/v1/retries/"+id, "")
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("cancel again: expected 404, got %d", resp.StatusCode)
	}
}

func TestReplyQueueFailureRevertsStatus(t *testing.T) {
	provider := &fakeProvider{sendErr: errors.New("gateway down")}
	server, db := newTestServer(t, provider)
	seedManualEmail(t, db, "msg-1")

	// Break the queue so a failed send cannot be parked for retry either
	if _, err := db.Exec(`DROP TABLE retry_queue`); err != nil {
		t.Fatalf("drop table: %v", err)
	}

	resp, _ := doJSON(t, http.MethodPost, server.URL+"/api/v1/emails/msg-1/reply", `{"body":"We are sorry."}`)
	if resp.StatusCode != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", resp.StatusCode)
	}

	// The record must not claim a reply that was neither sent nor queued
	email, err := db.GetEmail(context.Background(), "msg-1")
	if err != nil {
		t.Fatalf("get email: %v", err)
	}
	if email.Status != models.StatusManualRequired {
		t.Errorf("expected manual_required after failed queue, got %s", email.Status)
	}
	if email.AIResponse != nil {
		t.Errorf("expected ai_response cleared, got %q", *email.AIResponse)
	}
}

func TestBlocklistEndpoints(t *testing.T) {
	server, _ := newTestServer(t, &fakeProvider{})

	resp, body := doJSON(t, http.MethodGet, server.URL+"/api/v1/blocklist", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("list: %d", resp.StatusCode)
	}
	defaults := len(body["rules"].([]any))
	if defaults == 0 {
		t.Fatal("expected seeded default rules")
	}

	resp, body = doJSON(t, http.MethodPost, server.URL+"/api/v1/blocklist",
		`{"type":"exact","value":"spam@example.com","label":"known spammer"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("add: %d %v", resp.StatusCode, body)
	}
	if len(body["rules"].([]any)) != defaults+1 {
		t.Fatalf("expected %d rules after add, got %v", defaults+1, body["rules"])
	}

	resp, _ = doJSON(t, http.MethodPost, server.URL+"/api/v1/blocklist", `{"type":"bogus","value":"x"}`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("bad type: expected 400, got %d", resp.StatusCode)
	}
	resp, _ = doJSON(t, http.MethodPost, server.URL+"/api/v1/blocklist", `{"type":"exact","value":"  "}`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("blank value: expected 400, got %d", resp.StatusCode)
	}

	resp, body = doJSON(t, http.MethodPost, server.URL+"/api/v1/blocklist/test", `{"email":"noreply@shop.example"}`)
	if resp.StatusCode != http.StatusOK || body["blocked"] != true {
		t.Fatalf("test blocked: %d %v", resp.StatusCode, body)
	}
	resp, body = doJSON(t, http.MethodPost, server.URL+"/api/v1/blocklist/test", `{"email":"customer@example.com"}`)
	if resp.StatusCode != http.StatusOK || body["blocked"] != false {
		t.Fatalf("test unblocked: %d %v", resp.StatusCode, body)
	}

	resp, body = doJSON(t, http.MethodDelete, server.URL+fmt.Sprintf("/api/v1/blocklist/%d", defaults), "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("remove: %d %v", resp.StatusCode, body)
	}
	if len(body["rules"].([]any)) != defaults {
		t.Fatalf("expected %d rules after remove, got %v", defaults, body["rules"])
	}

	resp, _ = doJSON(t, http.MethodDelete, server.URL+"/api/v1/blocklist/99", "")
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("remove out of range: expected 404, got %d", resp.StatusCode)
	}
}
