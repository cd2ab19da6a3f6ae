package processor

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/mixelka/mailtriage/pkg/models"
)

// ModelClient is the classification/generation surface consumed by the router.
type ModelClient interface {
	Classify(ctx context.Context, email *models.Email) (models.Classification, error)
	GenerateAutoReply(ctx context.Context, email *models.Email) models.GenResult
	GenerateRAGReply(ctx context.Context, email *models.Email, ragContext string) models.GenResult
	GenerateDraftReply(ctx context.Context, email *models.Email, ragContext string) models.GenResult
}

// Retriever is the knowledge-retrieval surface consumed by the router.
type Retriever interface {
	Query(ctx context.Context, text string) (string, bool, error)
}

// Router classifies an email and produces the response text for its category.
// A classification fault never propagates: it degrades to pending_manual.
type Router struct {
	model     ModelClient
	retriever Retriever
	logger    *slog.Logger
}

// NewRouter creates a new router
func NewRouter(model ModelClient, retriever Retriever, logger *slog.Logger) *Router {
	return &Router{
		model:     model,
		retriever: retriever,
		logger:    logger.With("component", "router"),
	}
}

// Route classifies the email and generates the category's response. A nil
// result means no response should be sent and the message needs a human.
func (r *Router) Route(ctx context.Context, email *models.Email) (models.Category, *models.GenResult) {
	cls, err := r.model.Classify(ctx, email)
	if err != nil {
		r.logger.Warn("classification failed, routing to manual review", "email_id", email.ID, "error", err)
		return models.CategoryPendingManual, nil
	}

	r.logger.Debug("classified email",
		"email_id", email.ID,
		"category", cls.Category,
		"confidence", cls.Confidence,
	)

	switch cls.Category {
	case models.CategoryAutoReply:
		res := r.model.GenerateAutoReply(ctx, email)
		return cls.Category, &res

	case models.CategoryRAGReply:
		ragContext, found, err := r.retrieve(ctx, email)
		if err != nil {
			r.logger.Warn("retrieval failed", "email_id", email.ID, "error", err)
		}
		if !found {
			// Nothing to ground an answer in; sending would invite the
			// model to fabricate one. Leave the message for a human.
			return cls.Category, nil
		}
		res := r.model.GenerateRAGReply(ctx, email, ragContext)
		return cls.Category, &res

	case models.CategoryDraftReview:
		ragContext, _, err := r.retrieve(ctx, email)
		if err != nil {
			r.logger.Warn("retrieval failed", "email_id", email.ID, "error", err)
		}
		res := r.model.GenerateDraftReply(ctx, email, ragContext)
		return cls.Category, &res

	default:
		return models.CategoryPendingManual, nil
	}
}

// Regenerate reproduces a response for an already-classified email, optionally
// appending operator-supplied context to the retrieved one. The category is
// not recomputed.
func (r *Router) Regenerate(ctx context.Context, email *models.Email, category models.Category, extraContext string) (string, error) {
	switch category {
	case models.CategoryAutoReply:
		return r.model.GenerateAutoReply(ctx, email).Text, nil

	case models.CategoryRAGReply:
		ragContext, _, err := r.retrieve(ctx, email)
		if err != nil {
			r.logger.Warn("retrieval failed", "email_id", email.ID, "error", err)
		}
		if extraContext != "" {
			ragContext = fmt.Sprintf("%s\n\nAdditional context:\n%s", ragContext, extraContext)
		}
		return r.model.GenerateRAGReply(ctx, email, ragContext).Text, nil

	case models.CategoryDraftReview:
		ragContext, _, err := r.retrieve(ctx, email)
		if err != nil {
			r.logger.Warn("retrieval failed", "email_id", email.ID, "error", err)
		}
		if extraContext != "" {
			ragContext = fmt.Sprintf("%s\n\nAdditional context:\n%s", ragContext, extraContext)
		}
		return r.model.GenerateDraftReply(ctx, email, ragContext).Text, nil
	}

	return "", fmt.Errorf("category %q has no generated response", category)
}

func (r *Router) retrieve(ctx context.Context, email *models.Email) (string, bool, error) {
	query := strings.TrimSpace(email.Body + " " + email.Subject)
	return r.retriever.Query(ctx, query)
}
