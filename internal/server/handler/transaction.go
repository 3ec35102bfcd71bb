package handler

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"

	"github.com/shareshelf/shareshelf/internal/domain"
)

// TransactionService defines the methods the transaction handler requires
// from the service layer.
type TransactionService interface {
	Get(ctx context.Context, actor domain.Actor, transactionID int64) (domain.Transaction, error)
}

// ProofService defines the proof upload and review surface.
type ProofService interface {
	Submit(ctx context.Context, actor domain.Actor, transactionID int64, contentType string, data io.Reader) (domain.Proof, error)
	Decide(ctx context.Context, actor domain.Actor, transactionID int64, decision domain.ProofDecision, notes string) (domain.Proof, error)
	History(ctx context.Context, actor domain.Actor, transactionID int64) ([]domain.Proof, error)
}

// TransactionHandler serves the payment ledger endpoints.
type TransactionHandler struct {
	txns          TransactionService
	proofs        ProofService
	maxProofBytes int64
	logger        *slog.Logger
}

func NewTransactionHandler(txns TransactionService, proofs ProofService, maxProofBytes int64, logger *slog.Logger) *TransactionHandler {
	return &TransactionHandler{
		txns:          txns,
		proofs:        proofs,
		maxProofBytes: maxProofBytes,
		logger:        logger,
	}
}

// GetTransaction returns a transaction visible to the actor.
// GET /api/transactions/{id}
func (h *TransactionHandler) GetTransaction(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	id := pathID(r, "id")
	if id == 0 {
		writeError(w, http.StatusBadRequest, "invalid transaction id")
		return
	}

	txn, err := h.txns.Get(r.Context(), actor, id)
	if err != nil {
		if writeDomainError(w, err) {
			return
		}
		h.logger.ErrorContext(r.Context(), "handler: get transaction failed",
			slog.Int64("transaction_id", id),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to load transaction")
		return
	}

	writeJSON(w, http.StatusOK, viewTransaction(txn))
}

// UploadProof accepts a multipart proof-of-payment file from the payer.
// POST /api/transactions/{id}/proof  (multipart field "proof")
func (h *TransactionHandler) UploadProof(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	id := pathID(r, "id")
	if id == 0 {
		writeError(w, http.StatusBadRequest, "invalid transaction id")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.maxProofBytes)
	file, header, err := r.FormFile("proof")
	if err != nil {
		writeError(w, http.StatusBadRequest, "proof file required: "+err.Error())
		return
	}
	defer file.Close()

	contentType := header.Header.Get("Content-Type")
	proof, err := h.proofs.Submit(r.Context(), actor, id, contentType, file)
	if err != nil {
		if writeDomainError(w, err) {
			return
		}
		h.logger.ErrorContext(r.Context(), "handler: upload proof failed",
			slog.Int64("transaction_id", id),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to store proof")
		return
	}

	writeJSON(w, http.StatusCreated, viewProof(proof))
}

type proofDecisionRequest struct {
	Decision string `json:"decision"`
	Notes    string `json:"notes"`
}

// DecideProof records the owner's verdict on the latest submitted proof.
// POST /api/transactions/{id}/proof/decision
func (h *TransactionHandler) DecideProof(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	id := pathID(r, "id")
	if id == 0 {
		writeError(w, http.StatusBadRequest, "invalid transaction id")
		return
	}

	var body proofDecisionRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	decision := domain.ProofDecision(body.Decision)
	if decision != domain.ProofDecisionApprove && decision != domain.ProofDecisionReject {
		writeError(w, http.StatusBadRequest, "decision must be approve or reject")
		return
	}

	proof, err := h.proofs.Decide(r.Context(), actor, id, decision, body.Notes)
	if err != nil {
		if writeDomainError(w, err) {
			return
		}
		h.logger.ErrorContext(r.Context(), "handler: decide proof failed",
			slog.Int64("transaction_id", id),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to record decision")
		return
	}

	writeJSON(w, http.StatusOK, viewProof(proof))
}

// ListProofs returns the proof history of a transaction.
// GET /api/transactions/{id}/proofs
func (h *TransactionHandler) ListProofs(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	id := pathID(r, "id")
	if id == 0 {
		writeError(w, http.StatusBadRequest, "invalid transaction id")
		return
	}

	proofs, err := h.proofs.History(r.Context(), actor, id)
	if err != nil {
		if writeDomainError(w, err) {
			return
		}
		h.logger.ErrorContext(r.Context(), "handler: list proofs failed",
			slog.Int64("transaction_id", id),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list proofs")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"proofs": viewProofs(proofs)})
}
