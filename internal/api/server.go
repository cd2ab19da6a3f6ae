// Package api exposes the operator HTTP surface: inbox review, draft
// lifecycle actions, retry queue management and system controls.
package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/mixelka/mailtriage/internal/blocklist"
	"github.com/mixelka/mailtriage/internal/database"
	"github.com/mixelka/mailtriage/internal/drafts"
	"github.com/mixelka/mailtriage/internal/mailer"
	"github.com/mixelka/mailtriage/internal/processor"
	"github.com/mixelka/mailtriage/internal/retryq"
)

// Handler holds the services behind the HTTP endpoints.
type Handler struct {
	db        *database.DB
	processor *processor.Processor
	drafts    *drafts.Service
	queue     *retryq.Queue
	blocklist *blocklist.Service
	provider  mailer.Provider
	logger    *slog.Logger
}

// NewHandler creates a new API handler
func NewHandler(db *database.DB, proc *processor.Processor, draftSvc *drafts.Service, queue *retryq.Queue, blockSvc *blocklist.Service, provider mailer.Provider, logger *slog.Logger) *Handler {
	return &Handler{
		db:        db,
		processor: proc,
		drafts:    draftSvc,
		queue:     queue,
		blocklist: blockSvc,
		provider:  provider,
		logger:    logger.With("component", "api"),
	}
}

// Routes builds the router.
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", h.health)
		r.Get("/stats", h.stats)
		r.Get("/settings", h.getSettings)
		r.Put("/settings", h.updateSettings)

		r.Route("/system", func(r chi.Router) {
			r.Get("/", h.systemStatus)
			r.Post("/initialize", h.initialize)
			r.Post("/reset", h.resetInitialization)
			r.Post("/process", h.process)
		})

		r.Route("/emails", func(r chi.Router) {
			r.Get("/pending", h.pendingEmails)
			r.Get("/history", h.emailHistory)
			r.Get("/search", h.searchEmails)
			r.Post("/dismiss", h.bulkDismiss)
			r.Post("/reply", h.bulkReply)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", h.getEmail)
				r.Post("/reply", h.replyEmail)
				r.Post("/dismiss", h.dismissEmail)
			})
		})

		r.Route("/drafts", func(r chi.Router) {
			r.Get("/", h.listDrafts)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", h.getDraft)
				r.Post("/approve", h.approveDraft)
				r.Post("/edit", h.editDraft)
				r.Post("/regenerate", h.regenerateDraft)
				r.Post("/discard", h.discardDraft)
			})
		})

		r.Route("/blocklist", func(r chi.Router) {
			r.Get("/", h.listBlocklist)
			r.Post("/", h.addBlocklistRule)
			r.Post("/test", h.testBlocklist)
			r.Delete("/{index}", h.removeBlocklistRule)
		})

		r.Route("/retries", func(r chi.Router) {
			r.Get("/", h.listRetries)
			r.Post("/{id}/retry", h.manualRetry)
			r.Delete("/{id}", h.cancelRetry)
		})
	})

	return r
}

func (h *Handler) respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}

func (h *Handler) respondError(w http.ResponseWriter, status int, message string) {
	h.respondJSON(w, status, map[string]string{"error": message})
}

func (h *Handler) decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}
