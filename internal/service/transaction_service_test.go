package service

import (
	"context"
	"errors"
	"testing"

	"github.com/shareshelf/shareshelf/internal/domain"
)

// acceptedSale seeds an item, a request, and the accept that opens the
// pending transaction.
func acceptedSale(t *testing.T, f *fixture) (domain.Item, domain.Request, domain.Transaction) {
	t.Helper()
	ctx := context.Background()
	item := f.seedItem(t, 1, domain.ExchangeSale, 4200)
	req, err := f.requestSvc.Create(ctx, domain.Actor{ID: 2}, item.ID, "")
	if err != nil {
		t.Fatalf("create request: %v", err)
	}
	if _, err := f.requestSvc.Respond(ctx, domain.Actor{ID: 1}, req.ID, domain.DecisionAccept, nil); err != nil {
		t.Fatalf("accept request: %v", err)
	}
	txn, err := f.txnStore.GetByRequestID(ctx, req.ID)
	if err != nil {
		t.Fatalf("load transaction: %v", err)
	}
	req, err = f.requests.GetByID(ctx, req.ID)
	if err != nil {
		t.Fatalf("reload request: %v", err)
	}
	return item, req, txn
}

func TestTransactionOpen(t *testing.T) {
	ctx := context.Background()

	t.Run("refuses a pending request", func(t *testing.T) {
		f := newFixture()
		item := f.seedItem(t, 1, domain.ExchangeSale, 100)
		req, _ := f.requestSvc.Create(ctx, domain.Actor{ID: 2}, item.ID, "")

		if _, err := f.txnSvc.Open(ctx, req.ID); !errors.Is(err, domain.ErrRequestNotAccepted) {
			t.Fatalf("err = %v, want ErrRequestNotAccepted", err)
		}
	})

	t.Run("refuses a non-sale item", func(t *testing.T) {
		f := newFixture()
		item := f.seedItem(t, 1, domain.ExchangeLoan, 0)
		req, _ := f.requestSvc.Create(ctx, domain.Actor{ID: 2}, item.ID, "")
		days := 7
		if _, err := f.requestSvc.Respond(ctx, domain.Actor{ID: 1}, req.ID, domain.DecisionAccept, &days); err != nil {
			t.Fatalf("accept: %v", err)
		}

		if _, err := f.txnSvc.Open(ctx, req.ID); !errors.Is(err, domain.ErrNotASale) {
			t.Fatalf("err = %v, want ErrNotASale", err)
		}
	})

	t.Run("opening twice returns the existing transaction", func(t *testing.T) {
		f := newFixture()
		_, req, txn := acceptedSale(t, f)

		again, err := f.txnSvc.Open(ctx, req.ID)
		if err != nil {
			t.Fatalf("second open: %v", err)
		}
		if again.ID != txn.ID {
			t.Errorf("second open returned transaction %d, want %d", again.ID, txn.ID)
		}
		if n := len(f.txnStore.txns); n != 1 {
			t.Errorf("transactions = %d, want 1", n)
		}
	})
}

func TestApplyProviderResult(t *testing.T) {
	ctx := context.Background()

	t.Run("completion cascades to the request", func(t *testing.T) {
		f := newFixture()
		_, req, txn := acceptedSale(t, f)

		settled, err := f.txnSvc.ApplyProviderResult(ctx, "stripe", "pi_1", txn.ID, domain.TransactionCompleted)
		if err != nil {
			t.Fatalf("apply: %v", err)
		}
		if settled.Status != domain.TransactionCompleted {
			t.Errorf("txn status = %s, want completed", settled.Status)
		}
		done, _ := f.requests.GetByID(ctx, req.ID)
		if done.Status != domain.RequestCompleted {
			t.Errorf("request status = %s, want completed", done.Status)
		}
	})

	t.Run("redelivered completion is a no-op", func(t *testing.T) {
		f := newFixture()
		_, _, txn := acceptedSale(t, f)

		first, err := f.txnSvc.ApplyProviderResult(ctx, "stripe", "pi_1", txn.ID, domain.TransactionCompleted)
		if err != nil {
			t.Fatalf("first apply: %v", err)
		}
		second, err := f.txnSvc.ApplyProviderResult(ctx, "stripe", "pi_1", 0, domain.TransactionCompleted)
		if err != nil {
			t.Fatalf("second apply: %v", err)
		}
		if second.Status != domain.TransactionCompleted || second.ID != first.ID {
			t.Errorf("second apply = %+v", second)
		}
		if second.CompletedAt == nil || !second.CompletedAt.Equal(*first.CompletedAt) {
			t.Errorf("completion timestamp moved: %v -> %v", first.CompletedAt, second.CompletedAt)
		}
	})

	t.Run("a completed transaction never fails", func(t *testing.T) {
		f := newFixture()
		_, _, txn := acceptedSale(t, f)

		if _, err := f.txnSvc.ApplyProviderResult(ctx, "stripe", "pi_1", txn.ID, domain.TransactionCompleted); err != nil {
			t.Fatalf("complete: %v", err)
		}
		_, err := f.txnSvc.ApplyProviderResult(ctx, "stripe", "pi_1", 0, domain.TransactionFailed)
		if !errors.Is(err, domain.ErrInvalidTransition) {
			t.Fatalf("err = %v, want ErrInvalidTransition", err)
		}
	})

	t.Run("redelivered failure is a no-op", func(t *testing.T) {
		f := newFixture()
		_, _, txn := acceptedSale(t, f)

		if _, err := f.txnSvc.ApplyProviderResult(ctx, "stripe", "pi_1", txn.ID, domain.TransactionFailed); err != nil {
			t.Fatalf("fail: %v", err)
		}
		again, err := f.txnSvc.ApplyProviderResult(ctx, "stripe", "pi_1", 0, domain.TransactionFailed)
		if err != nil {
			t.Fatalf("second fail: %v", err)
		}
		if again.Status != domain.TransactionFailed {
			t.Errorf("status = %s, want failed", again.Status)
		}
	})

	t.Run("a pending report leaves the ledger untouched", func(t *testing.T) {
		f := newFixture()
		_, req, txn := acceptedSale(t, f)

		out, err := f.txnSvc.ApplyProviderResult(ctx, "stripe", "pi_1", txn.ID, domain.TransactionPending)
		if err != nil {
			t.Fatalf("apply: %v", err)
		}
		if out.Status != domain.TransactionPending {
			t.Errorf("txn status = %s, want pending", out.Status)
		}
		r, _ := f.requests.GetByID(ctx, req.ID)
		if r.Status != domain.RequestAccepted {
			t.Errorf("request status = %s, want accepted", r.Status)
		}
	})

	t.Run("records the provider ref when resolving by id", func(t *testing.T) {
		f := newFixture()
		_, _, txn := acceptedSale(t, f)

		if _, err := f.txnSvc.ApplyProviderResult(ctx, "stripe", "pi_9", txn.ID, domain.TransactionPending); err != nil {
			t.Fatalf("apply: %v", err)
		}
		byRef, err := f.txnStore.GetByProviderRef(ctx, "stripe", "pi_9")
		if err != nil {
			t.Fatalf("lookup by ref: %v", err)
		}
		if byRef.ID != txn.ID {
			t.Errorf("ref resolved to %d, want %d", byRef.ID, txn.ID)
		}
	})

	t.Run("unknown transaction", func(t *testing.T) {
		f := newFixture()
		_, err := f.txnSvc.ApplyProviderResult(ctx, "stripe", "pi_missing", 0, domain.TransactionCompleted)
		if !errors.Is(err, domain.ErrNotFound) {
			t.Fatalf("err = %v, want ErrNotFound", err)
		}
	})
}

func TestAttachProofAndResolve(t *testing.T) {
	ctx := context.Background()

	t.Run("only the payer attaches proof", func(t *testing.T) {
		f := newFixture()
		_, _, txn := acceptedSale(t, f)

		if _, err := f.txnSvc.AttachProof(ctx, domain.Actor{ID: 3}, txn.ID, "proofs/x"); !errors.Is(err, domain.ErrUnauthorized) {
			t.Fatalf("err = %v, want ErrUnauthorized", err)
		}
	})

	t.Run("attach moves the transaction to proof_uploaded", func(t *testing.T) {
		f := newFixture()
		_, _, txn := acceptedSale(t, f)

		out, err := f.txnSvc.AttachProof(ctx, domain.Actor{ID: 2}, txn.ID, "proofs/x")
		if err != nil {
			t.Fatalf("attach: %v", err)
		}
		if out.Status != domain.TransactionProofUploaded {
			t.Errorf("status = %s, want proof_uploaded", out.Status)
		}
		if out.ProofKey == nil || *out.ProofKey != "proofs/x" {
			t.Errorf("proof key = %v", out.ProofKey)
		}
	})

	t.Run("terminal transactions refuse proof", func(t *testing.T) {
		f := newFixture()
		_, _, txn := acceptedSale(t, f)
		if _, err := f.txnSvc.ApplyProviderResult(ctx, "stripe", "pi_1", txn.ID, domain.TransactionFailed); err != nil {
			t.Fatalf("fail: %v", err)
		}

		if _, err := f.txnSvc.AttachProof(ctx, domain.Actor{ID: 2}, txn.ID, "proofs/x"); !errors.Is(err, domain.ErrInvalidState) {
			t.Fatalf("err = %v, want ErrInvalidState", err)
		}
	})

	t.Run("owner approval settles transaction and request", func(t *testing.T) {
		f := newFixture()
		_, req, txn := acceptedSale(t, f)
		if _, err := f.txnSvc.AttachProof(ctx, domain.Actor{ID: 2}, txn.ID, "proofs/x"); err != nil {
			t.Fatalf("attach: %v", err)
		}

		out, err := f.txnSvc.ResolveProofDecision(ctx, domain.Actor{ID: 1}, txn.ID, domain.ProofDecisionApprove)
		if err != nil {
			t.Fatalf("approve: %v", err)
		}
		if out.Status != domain.TransactionCompleted {
			t.Errorf("txn status = %s, want completed", out.Status)
		}
		r, _ := f.requests.GetByID(ctx, req.ID)
		if r.Status != domain.RequestCompleted {
			t.Errorf("request status = %s, want completed", r.Status)
		}
	})

	t.Run("owner rejection returns the transaction to pending", func(t *testing.T) {
		f := newFixture()
		_, _, txn := acceptedSale(t, f)
		if _, err := f.txnSvc.AttachProof(ctx, domain.Actor{ID: 2}, txn.ID, "proofs/x"); err != nil {
			t.Fatalf("attach: %v", err)
		}

		out, err := f.txnSvc.ResolveProofDecision(ctx, domain.Actor{ID: 1}, txn.ID, domain.ProofDecisionReject)
		if err != nil {
			t.Fatalf("reject: %v", err)
		}
		if out.Status != domain.TransactionPending {
			t.Errorf("status = %s, want pending", out.Status)
		}
	})

	t.Run("only the item owner resolves", func(t *testing.T) {
		f := newFixture()
		_, _, txn := acceptedSale(t, f)
		if _, err := f.txnSvc.AttachProof(ctx, domain.Actor{ID: 2}, txn.ID, "proofs/x"); err != nil {
			t.Fatalf("attach: %v", err)
		}

		if _, err := f.txnSvc.ResolveProofDecision(ctx, domain.Actor{ID: 2}, txn.ID, domain.ProofDecisionApprove); !errors.Is(err, domain.ErrUnauthorized) {
			t.Fatalf("err = %v, want ErrUnauthorized", err)
		}
	})
}
