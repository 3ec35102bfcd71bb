package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shareshelf/shareshelf/internal/crypto"
	"github.com/shareshelf/shareshelf/internal/domain"
)

const (
	webhookRateLimit  = 120
	webhookRateWindow = time.Minute
	webhookLockTTL    = 10 * time.Second
)

// WebhookPayload is the provider callback body. Either providerTxnId or
// transactionId must identify the payment.
type WebhookPayload struct {
	Provider      string `json:"provider"`
	ProviderTxnID string `json:"providerTxnId"`
	TransactionID int64  `json:"transactionId,omitempty"`
	Status        string `json:"status"`
}

// providerStatusMapping folds the provider's status vocabulary onto the
// ledger's. Anything unrecognized maps to pending: an unknown word from a
// provider must never settle a payment.
var providerStatusMapping = map[string]domain.TransactionStatus{
	"success":   domain.TransactionCompleted,
	"completed": domain.TransactionCompleted,
	"paid":      domain.TransactionCompleted,
	"settled":   domain.TransactionCompleted,
	"failed":    domain.TransactionFailed,
	"failure":   domain.TransactionFailed,
	"error":     domain.TransactionFailed,
	"declined":  domain.TransactionFailed,
	"cancelled": domain.TransactionFailed,
}

// MapProviderStatus translates one provider status word into a ledger
// status, defaulting to pending.
func MapProviderStatus(status string) domain.TransactionStatus {
	if mapped, ok := providerStatusMapping[status]; ok {
		return mapped
	}
	return domain.TransactionPending
}

// WebhookService ingests payment provider callbacks: it authenticates the
// delivery, normalizes the reported status, and hands the outcome to the
// transaction ledger. Redelivery of the same outcome converges on the same
// final state.
type WebhookService struct {
	verifier *crypto.WebhookVerifier
	ledger   *TransactionService
	limiter  domain.RateLimiter
	locks    domain.LockManager
	logger   *slog.Logger
}

func NewWebhookService(
	verifier *crypto.WebhookVerifier,
	ledger *TransactionService,
	limiter domain.RateLimiter,
	locks domain.LockManager,
	logger *slog.Logger,
) *WebhookService {
	return &WebhookService{
		verifier: verifier,
		ledger:   ledger,
		limiter:  limiter,
		locks:    locks,
		logger:   logger,
	}
}

// Ingest processes one provider delivery. The signature covers the raw
// body and is checked before anything is parsed. Failures are returned to
// the caller so the provider retries.
func (s *WebhookService) Ingest(ctx context.Context, body []byte, signature string) (domain.Transaction, error) {
	if signature == "" {
		return domain.Transaction{}, fmt.Errorf("service: missing webhook signature: %w", domain.ErrUnauthorized)
	}
	if err := s.verifier.Verify(body, signature); err != nil {
		return domain.Transaction{}, fmt.Errorf("service: %v: %w", err, domain.ErrInvalidSignature)
	}

	var payload WebhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return domain.Transaction{}, fmt.Errorf("service: decode webhook body: %w", domain.ErrInvalidPayload)
	}
	if payload.Provider == "" || payload.Status == "" {
		return domain.Transaction{}, fmt.Errorf("service: webhook body missing provider or status: %w", domain.ErrInvalidPayload)
	}
	if payload.ProviderTxnID == "" && payload.TransactionID <= 0 {
		return domain.Transaction{}, fmt.Errorf("service: webhook body identifies no transaction: %w", domain.ErrInvalidPayload)
	}

	if s.limiter != nil {
		allowed, err := s.limiter.Allow(ctx, "webhook:"+payload.Provider, webhookRateLimit, webhookRateWindow)
		if err != nil {
			s.logger.Warn("webhook rate limiter unavailable", "provider", payload.Provider, "error", err)
		} else if !allowed {
			return domain.Transaction{}, domain.ErrRateLimited
		}
	}

	status := MapProviderStatus(payload.Status)
	s.logger.Info("webhook received",
		"provider", payload.Provider,
		"provider_ref", payload.ProviderTxnID,
		"reported_status", payload.Status,
		"mapped_status", string(status),
	)

	// Serialize concurrent deliveries for the same payment. The ledger's
	// conditional writes are the correctness guard; the lock keeps retried
	// deliveries from doing redundant work at the same instant.
	if s.locks != nil && payload.ProviderTxnID != "" {
		key := fmt.Sprintf("webhook:%s:%s", payload.Provider, payload.ProviderTxnID)
		unlock, err := s.locks.Acquire(ctx, key, webhookLockTTL)
		if err != nil {
			if errors.Is(err, domain.ErrLockHeld) {
				return domain.Transaction{}, fmt.Errorf("service: delivery for %s in flight: %w", key, domain.ErrLockHeld)
			}
			s.logger.Warn("webhook lock unavailable", "key", key, "error", err)
		} else {
			defer unlock()
		}
	}

	txn, err := s.ledger.ApplyProviderResult(ctx, payload.Provider, payload.ProviderTxnID, payload.TransactionID, status)
	if err != nil {
		return domain.Transaction{}, err
	}
	return txn, nil
}
