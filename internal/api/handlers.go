package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/mixelka/mailtriage/internal/blocklist"
	"github.com/mixelka/mailtriage/internal/database"
	"github.com/mixelka/mailtriage/internal/drafts"
	"github.com/mixelka/mailtriage/internal/processor"
	"github.com/mixelka/mailtriage/pkg/models"
)

const defaultListLimit = 50

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	h.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.db.GetStats(r.Context())
	if err != nil {
		h.respondError(w, http.StatusInternalServerError, "failed to get stats")
		return
	}
	h.respondJSON(w, http.StatusOK, stats)
}

func (h *Handler) systemStatus(w http.ResponseWriter, r *http.Request) {
	initialized, at, err := h.processor.Initialized(r.Context())
	if err != nil {
		h.respondError(w, http.StatusInternalServerError, "failed to get system status")
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]any{
		"initialized":    initialized,
		"initialized_at": at,
	})
}

func (h *Handler) initialize(w http.ResponseWriter, r *http.Request) {
	marked, err := h.processor.Initialize(r.Context())
	if err != nil {
		h.logger.Error("initialization failed", "error", err)
		h.respondError(w, http.StatusInternalServerError, "initialization failed")
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]int{"marked_seen": marked})
}

func (h *Handler) resetInitialization(w http.ResponseWriter, r *http.Request) {
	if err := h.processor.ResetInitialization(r.Context()); err != nil {
		h.respondError(w, http.StatusInternalServerError, "failed to reset initialization")
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]bool{"reset": true})
}

func (h *Handler) process(w http.ResponseWriter, r *http.Request) {
	processed, err := h.processor.ProcessNewEmails(r.Context())
	if err != nil {
		h.logger.Error("manual processing failed", "error", err)
		h.respondError(w, http.StatusInternalServerError, "processing failed")
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]int{"processed": processed})
}

func (h *Handler) pendingEmails(w http.ResponseWriter, r *http.Request) {
	emails, err := h.db.GetPendingEmails(r.Context())
	if err != nil {
		h.respondError(w, http.StatusInternalServerError, "failed to get pending emails")
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]any{"emails": emails, "count": len(emails)})
}

func (h *Handler) emailHistory(w http.ResponseWriter, r *http.Request) {
	emails, err := h.db.GetEmailHistory(r.Context(), queryLimit(r, defaultListLimit))
	if err != nil {
		h.respondError(w, http.StatusInternalServerError, "failed to get email history")
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]any{"emails": emails, "count": len(emails)})
}

func (h *Handler) searchEmails(w http.ResponseWriter, r *http.Request) {
	q := strings.TrimSpace(r.URL.Query().Get("q"))
	if q == "" {
		h.respondError(w, http.StatusBadRequest, "query parameter q is required")
		return
	}
	scope := r.URL.Query().Get("scope")
	switch scope {
	case "", "all":
		scope = "all"
	case "pending", "history":
	default:
		h.respondError(w, http.StatusBadRequest, "scope must be all, pending or history")
		return
	}

	emails, err := h.db.SearchEmails(r.Context(), q, scope, queryLimit(r, defaultListLimit))
	if err != nil {
		h.respondError(w, http.StatusInternalServerError, "search failed")
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]any{"emails": emails, "count": len(emails)})
}

func (h *Handler) getEmail(w http.ResponseWriter, r *http.Request) {
	email, err := h.db.GetEmail(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, database.ErrNotFound) {
		h.respondError(w, http.StatusNotFound, "email not found")
		return
	}
	if err != nil {
		h.respondError(w, http.StatusInternalServerError, "failed to get email")
		return
	}
	h.respondJSON(w, http.StatusOK, email)
}

// errNotAwaitingReply marks an email whose state no longer allows a manual reply.
var errNotAwaitingReply = errors.New("email is not awaiting manual reply")

// sendManualReply sends an operator-written reply to a manual-review email.
// The status transition happens before the send so a retried request cannot
// cause a double-send; a provider failure is queued for automatic retry, in
// which case queued is true.
func (h *Handler) sendManualReply(ctx context.Context, id, body string) (bool, error) {
	email, err := h.db.GetEmail(ctx, id)
	if err != nil {
		return false, err
	}

	err = h.db.UpdateEmailStatusIf(ctx, id, models.StatusManualRequired, models.StatusReplied, &body)
	if errors.Is(err, database.ErrNotFound) {
		return false, errNotAwaitingReply
	}
	if err != nil {
		return false, err
	}

	reply := &models.Reply{
		To:       email.Sender,
		Subject:  processor.ReplySubject(email.Subject),
		Body:     body,
		ThreadID: email.ThreadID,
	}
	if messageID, serr := h.provider.Send(ctx, reply); serr != nil || messageID == "" {
		if serr == nil {
			serr = errors.New("send returned no message id")
		}
		h.logger.Warn("manual reply send failed, queueing retry", "email_id", id, "error", serr)
		if _, qerr := h.queue.Enqueue(ctx, id, models.RetrySendReply, reply, serr.Error(), 0); qerr != nil {
			// Nothing was sent and nothing is queued, hand the record back
			// to manual review so the reply is not silently lost.
			if rerr := h.db.UpdateEmailStatusIf(ctx, id, models.StatusReplied, models.StatusManualRequired, nil); rerr != nil {
				h.logger.Error("failed to revert email status after queue failure", "email_id", id, "error", rerr)
			}
			return false, fmt.Errorf("failed to queue reply: %w", qerr)
		}
		return true, nil
	}

	if merr := h.provider.MarkRead(ctx, id); merr != nil {
		h.logger.Warn("failed to mark email as read", "email_id", id, "error", merr)
	}
	return false, nil
}

func (h *Handler) replyEmail(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Body string `json:"body"`
	}
	if !h.decodeJSON(w, r, &req) {
		return
	}
	req.Body = strings.TrimSpace(req.Body)
	if req.Body == "" {
		h.respondError(w, http.StatusBadRequest, "body is required")
		return
	}

	queued, err := h.sendManualReply(r.Context(), chi.URLParam(r, "id"), req.Body)
	switch {
	case errors.Is(err, database.ErrNotFound):
		h.respondError(w, http.StatusNotFound, "email not found")
	case errors.Is(err, errNotAwaitingReply):
		h.respondError(w, http.StatusConflict, err.Error())
	case err != nil:
		h.respondError(w, http.StatusInternalServerError, "failed to reply")
	case queued:
		h.respondJSON(w, http.StatusAccepted, map[string]bool{"queued": true})
	default:
		h.respondJSON(w, http.StatusOK, map[string]bool{"sent": true})
	}
}

// bulkReply sends the same operator-written reply to several manual-review
// emails. Per-email failures are counted, not fatal.
func (h *Handler) bulkReply(w http.ResponseWriter, r *http.Request) {
	var req struct {
		IDs  []string `json:"ids"`
		Body string   `json:"body"`
	}
	if !h.decodeJSON(w, r, &req) {
		return
	}
	req.Body = strings.TrimSpace(req.Body)
	if len(req.IDs) == 0 || req.Body == "" {
		h.respondError(w, http.StatusBadRequest, "ids and body are required")
		return
	}

	sent, queued := 0, 0
	for _, id := range req.IDs {
		wasQueued, err := h.sendManualReply(r.Context(), id, req.Body)
		if err != nil {
			h.logger.Warn("bulk reply skipped email", "email_id", id, "error", err)
			continue
		}
		if wasQueued {
			queued++
		} else {
			sent++
		}
	}
	h.respondJSON(w, http.StatusOK, map[string]int{"sent": sent, "queued": queued})
}

func (h *Handler) getSettings(w http.ResponseWriter, r *http.Request) {
	settings, err := h.db.GetSettings(r.Context())
	if err != nil {
		h.respondError(w, http.StatusInternalServerError, "failed to get settings")
		return
	}
	h.respondJSON(w, http.StatusOK, settings)
}

func (h *Handler) updateSettings(w http.ResponseWriter, r *http.Request) {
	var req map[string]string
	if !h.decodeJSON(w, r, &req) {
		return
	}
	if len(req) == 0 {
		h.respondError(w, http.StatusBadRequest, "no settings provided")
		return
	}

	for key, value := range req {
		if strings.TrimSpace(key) == "" {
			h.respondError(w, http.StatusBadRequest, "setting keys must not be empty")
			return
		}
		if err := h.db.SetSetting(r.Context(), key, value); err != nil {
			h.respondError(w, http.StatusInternalServerError, "failed to update settings")
			return
		}
	}

	settings, err := h.db.GetSettings(r.Context())
	if err != nil {
		h.respondError(w, http.StatusInternalServerError, "failed to get settings")
		return
	}
	h.respondJSON(w, http.StatusOK, settings)
}

func (h *Handler) dismissEmail(w http.ResponseWriter, r *http.Request) {
	switch err := h.dismiss(r, chi.URLParam(r, "id")); {
	case errors.Is(err, database.ErrNotFound):
		h.respondError(w, http.StatusConflict, "email is not awaiting manual review")
	case err != nil:
		h.respondError(w, http.StatusInternalServerError, "failed to dismiss email")
	default:
		h.respondJSON(w, http.StatusOK, map[string]bool{"dismissed": true})
	}
}

func (h *Handler) bulkDismiss(w http.ResponseWriter, r *http.Request) {
	var req struct {
		IDs []string `json:"ids"`
	}
	if !h.decodeJSON(w, r, &req) {
		return
	}
	if len(req.IDs) == 0 {
		h.respondError(w, http.StatusBadRequest, "ids is required")
		return
	}

	dismissed := 0
	for _, id := range req.IDs {
		if err := h.dismiss(r, id); err != nil {
			h.logger.Warn("failed to dismiss email", "email_id", id, "error", err)
			continue
		}
		dismissed++
	}
	h.respondJSON(w, http.StatusOK, map[string]int{"dismissed": dismissed})
}

// dismiss closes a manual-review email without replying.
func (h *Handler) dismiss(r *http.Request, id string) error {
	note := models.ResponseDismissed
	if err := h.db.UpdateEmailStatusIf(r.Context(), id, models.StatusManualRequired, models.StatusReplied, &note); err != nil {
		return err
	}
	if err := h.provider.MarkRead(r.Context(), id); err != nil {
		h.logger.Warn("failed to mark email as read", "email_id", id, "error", err)
	}
	return nil
}

func (h *Handler) listDrafts(w http.ResponseWriter, r *http.Request) {
	list, err := h.drafts.List(r.Context())
	if err != nil {
		h.respondError(w, http.StatusInternalServerError, "failed to get drafts")
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]any{"drafts": list, "count": len(list)})
}

func (h *Handler) getDraft(w http.ResponseWriter, r *http.Request) {
	draft, err := h.drafts.Get(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, database.ErrNotFound) {
		h.respondError(w, http.StatusNotFound, "draft not found")
		return
	}
	if err != nil {
		h.respondError(w, http.StatusInternalServerError, "failed to get draft")
		return
	}
	h.respondJSON(w, http.StatusOK, draft)
}

func (h *Handler) approveDraft(w http.ResponseWriter, r *http.Request) {
	switch err := h.drafts.Approve(r.Context(), chi.URLParam(r, "id")); {
	case errors.Is(err, database.ErrNotFound):
		h.respondError(w, http.StatusNotFound, "draft not found")
	case errors.Is(err, drafts.ErrNotPending):
		h.respondError(w, http.StatusConflict, "draft is not pending")
	case errors.Is(err, drafts.ErrSendQueued):
		h.respondJSON(w, http.StatusAccepted, map[string]bool{"queued": true})
	case err != nil:
		h.respondError(w, http.StatusInternalServerError, "failed to approve draft")
	default:
		h.respondJSON(w, http.StatusOK, map[string]bool{"sent": true})
	}
}

func (h *Handler) editDraft(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Body string `json:"body"`
	}
	if !h.decodeJSON(w, r, &req) {
		return
	}
	req.Body = strings.TrimSpace(req.Body)
	if req.Body == "" {
		h.respondError(w, http.StatusBadRequest, "body is required")
		return
	}

	draft, err := h.drafts.Edit(r.Context(), chi.URLParam(r, "id"), req.Body)
	if h.draftError(w, err) {
		return
	}
	h.respondJSON(w, http.StatusOK, draft)
}

func (h *Handler) regenerateDraft(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Context string `json:"context"`
	}
	if r.ContentLength > 0 && !h.decodeJSON(w, r, &req) {
		return
	}

	draft, err := h.drafts.Regenerate(r.Context(), chi.URLParam(r, "id"), strings.TrimSpace(req.Context))
	if h.draftError(w, err) {
		return
	}
	h.respondJSON(w, http.StatusOK, draft)
}

func (h *Handler) discardDraft(w http.ResponseWriter, r *http.Request) {
	switch err := h.drafts.Discard(r.Context(), chi.URLParam(r, "id")); {
	case errors.Is(err, database.ErrNotFound):
		h.respondError(w, http.StatusNotFound, "draft not found")
	case errors.Is(err, drafts.ErrNotPending):
		h.respondError(w, http.StatusConflict, "draft is not pending")
	case err != nil:
		h.respondError(w, http.StatusInternalServerError, "failed to discard draft")
	default:
		h.respondJSON(w, http.StatusOK, map[string]bool{"discarded": true})
	}
}

// draftError writes the response for a failed draft mutation and reports
// whether an error was handled.
func (h *Handler) draftError(w http.ResponseWriter, err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, database.ErrNotFound):
		h.respondError(w, http.StatusNotFound, "draft not found")
	case errors.Is(err, drafts.ErrNotPending):
		h.respondError(w, http.StatusConflict, "draft is not pending")
	default:
		h.respondError(w, http.StatusInternalServerError, "draft operation failed")
	}
	return true
}

func (h *Handler) listBlocklist(w http.ResponseWriter, r *http.Request) {
	rules, err := h.blocklist.Rules(r.Context())
	if err != nil {
		h.respondError(w, http.StatusInternalServerError, "failed to get blocklist")
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]any{"rules": rules})
}

func (h *Handler) addBlocklistRule(w http.ResponseWriter, r *http.Request) {
	var rule blocklist.Rule
	if !h.decodeJSON(w, r, &rule) {
		return
	}
	rule.Value = strings.TrimSpace(rule.Value)
	rule.Label = strings.TrimSpace(rule.Label)
	switch rule.Type {
	case blocklist.RuleExact, blocklist.RuleDomain, blocklist.RuleRegex:
	default:
		h.respondError(w, http.StatusBadRequest, "type must be exact, domain or regex")
		return
	}
	if rule.Value == "" {
		h.respondError(w, http.StatusBadRequest, "value is required")
		return
	}

	rules, err := h.blocklist.Add(r.Context(), rule)
	if err != nil {
		h.respondError(w, http.StatusInternalServerError, "failed to add blocklist rule")
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]any{"rules": rules})
}

func (h *Handler) removeBlocklistRule(w http.ResponseWriter, r *http.Request) {
	index, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil {
		h.respondError(w, http.StatusBadRequest, "index must be an integer")
		return
	}

	rules, err := h.blocklist.Remove(r.Context(), index)
	if errors.Is(err, database.ErrNotFound) {
		h.respondError(w, http.StatusNotFound, "blocklist rule not found")
		return
	}
	if err != nil {
		h.respondError(w, http.StatusInternalServerError, "failed to remove blocklist rule")
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]any{"rules": rules})
}

func (h *Handler) testBlocklist(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email string `json:"email"`
	}
	if !h.decodeJSON(w, r, &req) {
		return
	}
	req.Email = strings.TrimSpace(req.Email)
	if req.Email == "" {
		h.respondError(w, http.StatusBadRequest, "email is required")
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]any{
		"email":   req.Email,
		"blocked": h.blocklist.ShouldBlock(r.Context(), req.Email),
	})
}

func (h *Handler) listRetries(w http.ResponseWriter, r *http.Request) {
	entries, err := h.queue.List(r.Context())
	if err != nil {
		h.respondError(w, http.StatusInternalServerError, "failed to get retry queue")
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]any{"retries": entries, "count": len(entries)})
}

func (h *Handler) manualRetry(w http.ResponseWriter, r *http.Request) {
	err := h.queue.ManualRetry(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, database.ErrNotFound) {
		h.respondError(w, http.StatusNotFound, "retry entry not found")
		return
	}
	if err != nil {
		h.respondError(w, http.StatusInternalServerError, "failed to reset retry")
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]bool{"queued": true})
}

func (h *Handler) cancelRetry(w http.ResponseWriter, r *http.Request) {
	err := h.queue.Cancel(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, database.ErrNotFound) {
		h.respondError(w, http.StatusNotFound, "retry entry not found")
		return
	}
	if err != nil {
		h.respondError(w, http.StatusInternalServerError, "failed to cancel retry")
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]bool{"cancelled": true})
}

func queryLimit(r *http.Request, fallback int) int {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return fallback
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit <= 0 || limit > 500 {
		return fallback
	}
	return limit
}
