package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/shareshelf/shareshelf/internal/domain"
	"github.com/shareshelf/shareshelf/internal/notify"
)

// TransactionService is the payment ledger for sale exchanges. Every
// terminal write goes through a conditional store update, so reapplying
// an outcome is a no-op and conflicting outcomes are refused.
type TransactionService struct {
	txns     domain.TransactionStore
	requests domain.RequestStore
	items    domain.ItemStore
	bus      domain.SignalBus
	audit    domain.AuditStore
	notifier *notify.Notifier
	logger   *slog.Logger
}

func NewTransactionService(
	txns domain.TransactionStore,
	requests domain.RequestStore,
	items domain.ItemStore,
	bus domain.SignalBus,
	audit domain.AuditStore,
	notifier *notify.Notifier,
	logger *slog.Logger,
) *TransactionService {
	return &TransactionService{
		txns:     txns,
		requests: requests,
		items:    items,
		bus:      bus,
		audit:    audit,
		notifier: notifier,
		logger:   logger,
	}
}

// Open creates the pending payment transaction for an accepted sale
// request. Opening twice returns the existing transaction.
func (s *TransactionService) Open(ctx context.Context, requestID int64) (domain.Transaction, error) {
	req, err := s.requests.GetByID(ctx, requestID)
	if err != nil {
		return domain.Transaction{}, fmt.Errorf("service: load request: %w", err)
	}
	if req.Status != domain.RequestAccepted && req.Status != domain.RequestCompleted {
		return domain.Transaction{}, fmt.Errorf("service: request is %s: %w", req.Status, domain.ErrRequestNotAccepted)
	}
	item, err := s.items.GetByID(ctx, req.ItemID)
	if err != nil {
		return domain.Transaction{}, fmt.Errorf("service: load item: %w", err)
	}
	if item.ExchangeType != domain.ExchangeSale {
		return domain.Transaction{}, fmt.Errorf("service: item %d is %s: %w", item.ID, item.ExchangeType, domain.ErrNotASale)
	}

	txn, err := s.txns.Create(ctx, domain.Transaction{
		RequestID:   req.ID,
		ItemID:      item.ID,
		PayerID:     req.RequesterID,
		AmountCents: item.PriceCents,
		Status:      domain.TransactionPending,
	})
	if err != nil {
		if errors.Is(err, domain.ErrAlreadyExists) {
			return s.txns.GetByRequestID(ctx, req.ID)
		}
		return domain.Transaction{}, fmt.Errorf("service: create transaction: %w", err)
	}

	s.publish(ctx, fmt.Sprintf(`{"event":"transaction_opened","transaction_id":%d,"request_id":%d}`, txn.ID, req.ID))
	s.auditLog(ctx, "transaction.open", txn.ID, map[string]any{"request_id": req.ID, "amount_cents": txn.AmountCents})
	return txn, nil
}

// ApplyProviderResult applies one provider-reported outcome to the
// ledger. The transaction is resolved by (provider, ref) first, falling
// back to the explicit id; a pending report never regresses recorded
// progress, and terminal outcomes are idempotent.
func (s *TransactionService) ApplyProviderResult(ctx context.Context, provider, ref string, transactionID int64, status domain.TransactionStatus) (domain.Transaction, error) {
	txn, err := s.resolve(ctx, provider, ref, transactionID)
	if err != nil {
		return domain.Transaction{}, err
	}

	switch status {
	case domain.TransactionCompleted:
		return s.complete(ctx, txn, "provider:"+provider)
	case domain.TransactionFailed:
		return s.fail(ctx, txn, provider)
	case domain.TransactionPending:
		// Unrecognized or in-flight provider statuses leave the ledger
		// untouched.
		return txn, nil
	default:
		return domain.Transaction{}, fmt.Errorf("service: provider status %q: %w", status, domain.ErrInvalidPayload)
	}
}

func (s *TransactionService) resolve(ctx context.Context, provider, ref string, transactionID int64) (domain.Transaction, error) {
	if provider != "" && ref != "" {
		txn, err := s.txns.GetByProviderRef(ctx, provider, ref)
		if err == nil {
			return txn, nil
		}
		if !errors.Is(err, domain.ErrNotFound) {
			return domain.Transaction{}, fmt.Errorf("service: resolve by provider ref: %w", err)
		}
	}
	if transactionID <= 0 {
		return domain.Transaction{}, fmt.Errorf("service: no transaction matches provider ref: %w", domain.ErrNotFound)
	}
	txn, err := s.txns.GetByID(ctx, transactionID)
	if err != nil {
		return domain.Transaction{}, fmt.Errorf("service: resolve by id: %w", err)
	}
	if provider != "" && ref != "" && txn.ProviderRef == nil {
		if err := s.txns.SetProviderRef(ctx, txn.ID, provider, ref); err != nil {
			s.logger.Warn("record provider ref", "transaction_id", txn.ID, "error", err)
		} else {
			txn.Provider = provider
			txn.ProviderRef = &ref
		}
	}
	return txn, nil
}

// complete settles the transaction and cascades the owning request, both
// in one store-level unit of work. Completing twice is a no-op; a failed
// transaction refuses completion.
func (s *TransactionService) complete(ctx context.Context, txn domain.Transaction, source string) (domain.Transaction, error) {
	applied, err := s.txns.Complete(ctx, txn.ID, txn.RequestID)
	if err != nil {
		return domain.Transaction{}, fmt.Errorf("service: complete transaction: %w", err)
	}

	settled, rerr := s.txns.GetByID(ctx, txn.ID)
	if rerr != nil {
		return domain.Transaction{}, fmt.Errorf("service: reload transaction: %w", rerr)
	}
	if !applied {
		return settled, nil
	}

	s.publish(ctx, fmt.Sprintf(`{"event":"transaction_completed","transaction_id":%d,"request_id":%d}`, settled.ID, settled.RequestID))
	s.auditLog(ctx, "transaction.complete", settled.ID, map[string]any{"request_id": settled.RequestID, "source": source})
	s.notifyEvent(ctx, notify.EventTransactionCompleted, "Payment completed",
		fmt.Sprintf("Transaction #%d settled (%d cents)", settled.ID, settled.AmountCents))
	return settled, nil
}

func (s *TransactionService) fail(ctx context.Context, txn domain.Transaction, provider string) (domain.Transaction, error) {
	if txn.Status == domain.TransactionFailed {
		return txn, nil
	}
	if txn.Status == domain.TransactionCompleted {
		return domain.Transaction{}, fmt.Errorf("service: transaction %d already completed: %w", txn.ID, domain.ErrInvalidTransition)
	}

	applied, err := s.txns.UpdateStatusIf(ctx, txn.ID,
		[]domain.TransactionStatus{domain.TransactionPending, domain.TransactionProofUploaded},
		domain.TransactionFailed)
	if err != nil {
		return domain.Transaction{}, fmt.Errorf("service: fail transaction: %w", err)
	}

	current, rerr := s.txns.GetByID(ctx, txn.ID)
	if rerr != nil {
		return domain.Transaction{}, fmt.Errorf("service: reload transaction: %w", rerr)
	}
	if !applied {
		if current.Status == domain.TransactionFailed {
			return current, nil
		}
		return domain.Transaction{}, fmt.Errorf("service: transaction is %s: %w", current.Status, domain.ErrInvalidTransition)
	}

	s.publish(ctx, fmt.Sprintf(`{"event":"transaction_failed","transaction_id":%d}`, current.ID))
	s.auditLog(ctx, "transaction.fail", current.ID, map[string]any{"provider": provider})
	s.notifyEvent(ctx, notify.EventTransactionFailed, "Payment failed",
		fmt.Sprintf("Transaction #%d was reported failed by %s", current.ID, provider))
	return current, nil
}

// AttachProof records a submitted proof blob on the transaction and moves
// it to proof_uploaded. Only the payer may attach proof, and only while
// the transaction has no terminal outcome.
func (s *TransactionService) AttachProof(ctx context.Context, actor domain.Actor, transactionID int64, proofKey string) (domain.Transaction, error) {
	txn, err := s.txns.GetByID(ctx, transactionID)
	if err != nil {
		return domain.Transaction{}, fmt.Errorf("service: load transaction: %w", err)
	}
	if txn.PayerID != actor.ID && !actor.Admin {
		return domain.Transaction{}, domain.ErrUnauthorized
	}
	if txn.Status.Terminal() {
		return domain.Transaction{}, fmt.Errorf("service: transaction is %s: %w", txn.Status, domain.ErrInvalidState)
	}

	applied, err := s.txns.AttachProof(ctx, txn.ID, proofKey)
	if err != nil {
		return domain.Transaction{}, fmt.Errorf("service: attach proof: %w", err)
	}
	if !applied {
		return domain.Transaction{}, fmt.Errorf("service: transaction no longer accepts proof: %w", domain.ErrInvalidState)
	}

	current, err := s.txns.GetByID(ctx, txn.ID)
	if err != nil {
		return domain.Transaction{}, fmt.Errorf("service: reload transaction: %w", err)
	}
	s.publish(ctx, fmt.Sprintf(`{"event":"proof_uploaded","transaction_id":%d}`, current.ID))
	s.auditLog(ctx, "transaction.proof_uploaded", current.ID, map[string]any{"actor_id": actor.ID})
	s.notifyEvent(ctx, notify.EventProofSubmitted, "Proof submitted",
		fmt.Sprintf("Transaction #%d has new proof of payment awaiting review", current.ID))
	return current, nil
}

// ResolveProofDecision applies the owner's verdict on a transaction in
// proof_uploaded: approve settles it, reject sends it back to pending for
// another attempt. Approving an already completed transaction is a no-op
// so review retries converge.
func (s *TransactionService) ResolveProofDecision(ctx context.Context, actor domain.Actor, transactionID int64, decision domain.ProofDecision) (domain.Transaction, error) {
	txn, err := s.txns.GetByID(ctx, transactionID)
	if err != nil {
		return domain.Transaction{}, fmt.Errorf("service: load transaction: %w", err)
	}
	item, err := s.items.GetByID(ctx, txn.ItemID)
	if err != nil {
		return domain.Transaction{}, fmt.Errorf("service: load item: %w", err)
	}
	if item.OwnerID != actor.ID && !actor.Admin {
		return domain.Transaction{}, domain.ErrUnauthorized
	}

	switch decision {
	case domain.ProofDecisionApprove:
		if txn.Status == domain.TransactionCompleted {
			return txn, nil
		}
		if txn.Status != domain.TransactionProofUploaded {
			return domain.Transaction{}, fmt.Errorf("service: transaction is %s: %w", txn.Status, domain.ErrInvalidState)
		}
		return s.complete(ctx, txn, fmt.Sprintf("owner:%d", actor.ID))
	case domain.ProofDecisionReject:
		if txn.Status == domain.TransactionPending {
			return txn, nil
		}
		if txn.Status != domain.TransactionProofUploaded {
			return domain.Transaction{}, fmt.Errorf("service: transaction is %s: %w", txn.Status, domain.ErrInvalidState)
		}
		applied, err := s.txns.UpdateStatusIf(ctx, txn.ID,
			[]domain.TransactionStatus{domain.TransactionProofUploaded}, domain.TransactionPending)
		if err != nil {
			return domain.Transaction{}, fmt.Errorf("service: reject proof: %w", err)
		}
		current, rerr := s.txns.GetByID(ctx, txn.ID)
		if rerr != nil {
			return domain.Transaction{}, fmt.Errorf("service: reload transaction: %w", rerr)
		}
		if !applied && current.Status != domain.TransactionPending {
			return domain.Transaction{}, fmt.Errorf("service: transaction is %s: %w", current.Status, domain.ErrInvalidState)
		}
		s.auditLog(ctx, "transaction.proof_rejected", current.ID, map[string]any{"actor_id": actor.ID})
		return current, nil
	default:
		return domain.Transaction{}, fmt.Errorf("service: unknown decision %q: %w", decision, domain.ErrInvalidPayload)
	}
}

// Get returns a transaction visible to the actor: the payer, the item
// owner, or an admin.
func (s *TransactionService) Get(ctx context.Context, actor domain.Actor, transactionID int64) (domain.Transaction, error) {
	txn, err := s.txns.GetByID(ctx, transactionID)
	if err != nil {
		return domain.Transaction{}, fmt.Errorf("service: load transaction: %w", err)
	}
	if txn.PayerID == actor.ID || actor.Admin {
		return txn, nil
	}
	item, err := s.items.GetByID(ctx, txn.ItemID)
	if err != nil {
		return domain.Transaction{}, fmt.Errorf("service: load item: %w", err)
	}
	if item.OwnerID != actor.ID {
		return domain.Transaction{}, domain.ErrUnauthorized
	}
	return txn, nil
}

func (s *TransactionService) publish(ctx context.Context, payload string) {
	if s.bus == nil {
		return
	}
	if err := s.bus.Publish(ctx, "transactions", []byte(payload)); err != nil {
		s.logger.Warn("publish event", "channel", "transactions", "error", err)
	}
}

func (s *TransactionService) auditLog(ctx context.Context, event string, transactionID int64, detail map[string]any) {
	if s.audit == nil {
		return
	}
	if detail == nil {
		detail = map[string]any{}
	}
	detail["transaction_id"] = transactionID
	if err := s.audit.Log(ctx, event, detail); err != nil {
		s.logger.Warn("audit log", "event", event, "error", err)
	}
}

func (s *TransactionService) notifyEvent(ctx context.Context, event, title, message string) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.Notify(ctx, event, title, message); err != nil {
		s.logger.Warn("dispatch notification", "event", event, "error", err)
	}
}
