package handler

import (
	"context"
	"io"
	"log/slog"
	"net/http"

	"github.com/shareshelf/shareshelf/internal/domain"
)

// signatureHeader carries the provider's hex HMAC-SHA256 digest of the raw
// request body.
const signatureHeader = "X-Shelf-Signature"

// maxWebhookBody bounds provider callback bodies.
const maxWebhookBody = 64 << 10

// WebhookService defines the ingestion surface the webhook handler needs.
type WebhookService interface {
	Ingest(ctx context.Context, body []byte, signature string) (domain.Transaction, error)
}

// WebhookHandler receives payment provider callbacks.
type WebhookHandler struct {
	webhooks WebhookService
	logger   *slog.Logger
}

func NewWebhookHandler(webhooks WebhookService, logger *slog.Logger) *WebhookHandler {
	return &WebhookHandler{webhooks: webhooks, logger: logger}
}

// HandlePayment ingests one provider delivery. Any non-2xx response tells
// the provider to retry.
// POST /api/webhooks/payment
func (h *WebhookHandler) HandlePayment(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read body")
		return
	}

	signature := r.Header.Get(signatureHeader)
	if signature == "" {
		writeError(w, http.StatusUnauthorized, "missing signature")
		return
	}

	txn, err := h.webhooks.Ingest(r.Context(), body, signature)
	if err != nil {
		if writeDomainError(w, err) {
			return
		}
		h.logger.ErrorContext(r.Context(), "handler: webhook ingest failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to process webhook")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"transactionId": txn.ID,
		"status":        string(txn.Status),
	})
}
