package service

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/shareshelf/shareshelf/internal/domain"
)

func TestProofSubmit(t *testing.T) {
	ctx := context.Background()
	payer := domain.Actor{ID: 2}

	t.Run("stores the blob and moves the transaction", func(t *testing.T) {
		f := newFixture()
		_, _, txn := acceptedSale(t, f)

		proof, err := f.proofSvc.Submit(ctx, payer, txn.ID, "image/png", strings.NewReader("png bytes"))
		if err != nil {
			t.Fatalf("submit: %v", err)
		}
		if proof.State != domain.ProofUnverified {
			t.Errorf("state = %s, want unverified", proof.State)
		}
		if _, ok := f.blobs.blobs[proof.BlobKey]; !ok {
			t.Errorf("blob %q not stored", proof.BlobKey)
		}
		got, _ := f.txnStore.GetByID(ctx, txn.ID)
		if got.Status != domain.TransactionProofUploaded {
			t.Errorf("txn status = %s, want proof_uploaded", got.Status)
		}
	})

	t.Run("only the payer submits", func(t *testing.T) {
		f := newFixture()
		_, _, txn := acceptedSale(t, f)

		_, err := f.proofSvc.Submit(ctx, domain.Actor{ID: 9}, txn.ID, "image/png", strings.NewReader("x"))
		if !errors.Is(err, domain.ErrUnauthorized) {
			t.Fatalf("err = %v, want ErrUnauthorized", err)
		}
	})

	t.Run("rejects unsupported content types", func(t *testing.T) {
		f := newFixture()
		_, _, txn := acceptedSale(t, f)

		_, err := f.proofSvc.Submit(ctx, payer, txn.ID, "application/zip", strings.NewReader("x"))
		if !errors.Is(err, domain.ErrInvalidPayload) {
			t.Fatalf("err = %v, want ErrInvalidPayload", err)
		}
	})

	t.Run("resubmission after rejection keeps history", func(t *testing.T) {
		f := newFixture()
		_, _, txn := acceptedSale(t, f)
		owner := domain.Actor{ID: 1}

		if _, err := f.proofSvc.Submit(ctx, payer, txn.ID, "image/png", strings.NewReader("first")); err != nil {
			t.Fatalf("first submit: %v", err)
		}
		if _, err := f.proofSvc.Decide(ctx, owner, txn.ID, domain.ProofDecisionReject, "unreadable"); err != nil {
			t.Fatalf("reject: %v", err)
		}
		if _, err := f.proofSvc.Submit(ctx, payer, txn.ID, "image/jpeg", strings.NewReader("second")); err != nil {
			t.Fatalf("second submit: %v", err)
		}

		history, err := f.proofSvc.History(ctx, owner, txn.ID)
		if err != nil {
			t.Fatalf("history: %v", err)
		}
		if len(history) != 2 {
			t.Fatalf("history = %d proofs, want 2", len(history))
		}
	})
}

func TestProofDecide(t *testing.T) {
	ctx := context.Background()
	payer := domain.Actor{ID: 2}
	owner := domain.Actor{ID: 1}

	t.Run("approval settles the sale", func(t *testing.T) {
		f := newFixture()
		_, req, txn := acceptedSale(t, f)
		if _, err := f.proofSvc.Submit(ctx, payer, txn.ID, "image/png", strings.NewReader("x")); err != nil {
			t.Fatalf("submit: %v", err)
		}

		proof, err := f.proofSvc.Decide(ctx, owner, txn.ID, domain.ProofDecisionApprove, "looks right")
		if err != nil {
			t.Fatalf("approve: %v", err)
		}
		if proof.State != domain.ProofApproved {
			t.Errorf("proof state = %s, want approved", proof.State)
		}
		if proof.VerifierID == nil || *proof.VerifierID != owner.ID {
			t.Errorf("verifier = %v, want %d", proof.VerifierID, owner.ID)
		}
		gotTxn, _ := f.txnStore.GetByID(ctx, txn.ID)
		if gotTxn.Status != domain.TransactionCompleted {
			t.Errorf("txn status = %s, want completed", gotTxn.Status)
		}
		gotReq, _ := f.requests.GetByID(ctx, req.ID)
		if gotReq.Status != domain.RequestCompleted {
			t.Errorf("request status = %s, want completed", gotReq.Status)
		}
	})

	t.Run("rejection reopens the transaction", func(t *testing.T) {
		f := newFixture()
		_, _, txn := acceptedSale(t, f)
		if _, err := f.proofSvc.Submit(ctx, payer, txn.ID, "image/png", strings.NewReader("x")); err != nil {
			t.Fatalf("submit: %v", err)
		}

		proof, err := f.proofSvc.Decide(ctx, owner, txn.ID, domain.ProofDecisionReject, "blurry")
		if err != nil {
			t.Fatalf("reject: %v", err)
		}
		if proof.State != domain.ProofRejected || proof.Notes != "blurry" {
			t.Errorf("proof = %+v", proof)
		}
		gotTxn, _ := f.txnStore.GetByID(ctx, txn.ID)
		if gotTxn.Status != domain.TransactionPending {
			t.Errorf("txn status = %s, want pending", gotTxn.Status)
		}
	})

	t.Run("only the owner decides", func(t *testing.T) {
		f := newFixture()
		_, _, txn := acceptedSale(t, f)
		if _, err := f.proofSvc.Submit(ctx, payer, txn.ID, "image/png", strings.NewReader("x")); err != nil {
			t.Fatalf("submit: %v", err)
		}

		if _, err := f.proofSvc.Decide(ctx, payer, txn.ID, domain.ProofDecisionApprove, ""); !errors.Is(err, domain.ErrUnauthorized) {
			t.Fatalf("err = %v, want ErrUnauthorized", err)
		}
	})

	t.Run("no unverified proof to decide", func(t *testing.T) {
		f := newFixture()
		_, _, txn := acceptedSale(t, f)

		if _, err := f.proofSvc.Decide(ctx, owner, txn.ID, domain.ProofDecisionApprove, ""); !errors.Is(err, domain.ErrNotFound) {
			t.Fatalf("err = %v, want ErrNotFound", err)
		}
	})
}
