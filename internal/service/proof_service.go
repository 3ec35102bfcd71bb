package service

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/google/uuid"

	"github.com/shareshelf/shareshelf/internal/domain"
)

// Content types accepted for proof uploads.
var allowedProofTypes = map[string]bool{
	"image/jpeg":      true,
	"image/png":       true,
	"image/gif":       true,
	"image/webp":      true,
	"application/pdf": true,
}

// ProofService handles manual proof-of-payment uploads and the owner's
// review of them. Each submission is its own record so the review history
// survives rejected attempts.
type ProofService struct {
	proofs domain.ProofStore
	txns   domain.TransactionStore
	items  domain.ItemStore
	ledger *TransactionService
	blobs  domain.BlobWriter
	logger *slog.Logger
}

func NewProofService(
	proofs domain.ProofStore,
	txns domain.TransactionStore,
	items domain.ItemStore,
	ledger *TransactionService,
	blobs domain.BlobWriter,
	logger *slog.Logger,
) *ProofService {
	return &ProofService{
		proofs: proofs,
		txns:   txns,
		items:  items,
		ledger: ledger,
		blobs:  blobs,
		logger: logger,
	}
}

// Submit stores an uploaded proof file and attaches it to the payer's
// transaction, moving it to proof_uploaded. Only the payer may submit,
// and only while the transaction has no terminal outcome.
func (s *ProofService) Submit(ctx context.Context, actor domain.Actor, transactionID int64, contentType string, data io.Reader) (domain.Proof, error) {
	txn, err := s.txns.GetByID(ctx, transactionID)
	if err != nil {
		return domain.Proof{}, fmt.Errorf("service: load transaction: %w", err)
	}
	if txn.PayerID != actor.ID && !actor.Admin {
		return domain.Proof{}, domain.ErrUnauthorized
	}
	if txn.Status.Terminal() {
		return domain.Proof{}, fmt.Errorf("service: transaction is %s: %w", txn.Status, domain.ErrInvalidState)
	}
	if !allowedProofTypes[contentType] {
		return domain.Proof{}, fmt.Errorf("service: unsupported proof content type %q: %w", contentType, domain.ErrInvalidPayload)
	}

	key := fmt.Sprintf("proofs/%d/%s", txn.ID, uuid.NewString())
	if err := s.blobs.Put(ctx, key, data, contentType); err != nil {
		return domain.Proof{}, fmt.Errorf("service: store proof blob: %w", err)
	}

	proof, err := s.proofs.Create(ctx, domain.Proof{
		TransactionID: txn.ID,
		RequestID:     txn.RequestID,
		SubmitterID:   actor.ID,
		BlobKey:       key,
		ContentType:   contentType,
		State:         domain.ProofUnverified,
	})
	if err != nil {
		return domain.Proof{}, fmt.Errorf("service: record proof: %w", err)
	}

	if _, err := s.ledger.AttachProof(ctx, actor, txn.ID, key); err != nil {
		return domain.Proof{}, err
	}
	return proof, nil
}

// Decide applies the owner's verdict on the latest unverified proof of a
// transaction. Approval settles the transaction and cascades the request;
// rejection returns the transaction to pending so the payer can try again.
// The transaction is resolved before the proof record, so a retry after a
// partial failure converges instead of wedging.
func (s *ProofService) Decide(ctx context.Context, actor domain.Actor, transactionID int64, decision domain.ProofDecision, notes string) (domain.Proof, error) {
	proof, err := s.proofs.LatestUnverified(ctx, transactionID)
	if err != nil {
		return domain.Proof{}, fmt.Errorf("service: load proof: %w", err)
	}

	// Ownership is checked by the ledger against the item.
	if _, err := s.ledger.ResolveProofDecision(ctx, actor, transactionID, decision); err != nil {
		return domain.Proof{}, err
	}

	state := domain.ProofApproved
	if decision == domain.ProofDecisionReject {
		state = domain.ProofRejected
	}
	applied, err := s.proofs.Resolve(ctx, proof.ID, actor.ID, state, notes)
	if err != nil {
		return domain.Proof{}, fmt.Errorf("service: resolve proof: %w", err)
	}
	if !applied {
		current, rerr := s.proofs.GetByID(ctx, proof.ID)
		if rerr != nil {
			return domain.Proof{}, fmt.Errorf("service: reload proof: %w", rerr)
		}
		if current.State == state {
			return current, nil
		}
		return domain.Proof{}, fmt.Errorf("service: proof already %s: %w", current.State, domain.ErrInvalidState)
	}

	resolved, err := s.proofs.GetByID(ctx, proof.ID)
	if err != nil {
		return domain.Proof{}, fmt.Errorf("service: reload proof: %w", err)
	}
	return resolved, nil
}

// History lists every proof ever submitted for a transaction, newest
// first. The payer, the item owner, and admins may read it.
func (s *ProofService) History(ctx context.Context, actor domain.Actor, transactionID int64) ([]domain.Proof, error) {
	txn, err := s.txns.GetByID(ctx, transactionID)
	if err != nil {
		return nil, fmt.Errorf("service: load transaction: %w", err)
	}
	if txn.PayerID != actor.ID && !actor.Admin {
		item, err := s.items.GetByID(ctx, txn.ItemID)
		if err != nil {
			return nil, fmt.Errorf("service: load item: %w", err)
		}
		if item.OwnerID != actor.ID {
			return nil, domain.ErrUnauthorized
		}
	}
	return s.proofs.ListByTransaction(ctx, transactionID)
}
