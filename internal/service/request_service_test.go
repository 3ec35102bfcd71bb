package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shareshelf/shareshelf/internal/domain"
)

func TestRequestCreate(t *testing.T) {
	ctx := context.Background()

	t.Run("opens a pending request", func(t *testing.T) {
		f := newFixture()
		item := f.seedItem(t, 1, domain.ExchangeFree, 0)

		req, err := f.requestSvc.Create(ctx, domain.Actor{ID: 2}, item.ID, "please")
		if err != nil {
			t.Fatalf("create: %v", err)
		}
		if req.Status != domain.RequestPending {
			t.Errorf("status = %s, want pending", req.Status)
		}
		if req.RequesterID != 2 || req.ItemID != item.ID {
			t.Errorf("req = %+v", req)
		}
	})

	t.Run("rejects a second active request for the same pair", func(t *testing.T) {
		f := newFixture()
		item := f.seedItem(t, 1, domain.ExchangeFree, 0)

		if _, err := f.requestSvc.Create(ctx, domain.Actor{ID: 2}, item.ID, ""); err != nil {
			t.Fatalf("first create: %v", err)
		}
		_, err := f.requestSvc.Create(ctx, domain.Actor{ID: 2}, item.ID, "")
		if !errors.Is(err, domain.ErrDuplicateRequest) {
			t.Fatalf("err = %v, want ErrDuplicateRequest", err)
		}
	})

	t.Run("allows a new request after the old one is cancelled", func(t *testing.T) {
		f := newFixture()
		item := f.seedItem(t, 1, domain.ExchangeFree, 0)
		actor := domain.Actor{ID: 2}

		first, err := f.requestSvc.Create(ctx, actor, item.ID, "")
		if err != nil {
			t.Fatalf("create: %v", err)
		}
		if _, err := f.requestSvc.Cancel(ctx, actor, first.ID); err != nil {
			t.Fatalf("cancel: %v", err)
		}
		if _, err := f.requestSvc.Create(ctx, actor, item.ID, ""); err != nil {
			t.Fatalf("second create: %v", err)
		}
	})

	t.Run("refuses an unavailable item", func(t *testing.T) {
		f := newFixture()
		item := f.seedItem(t, 1, domain.ExchangeFree, 0)
		if err := f.items.SetAvailability(ctx, item.ID, false); err != nil {
			t.Fatalf("set availability: %v", err)
		}

		_, err := f.requestSvc.Create(ctx, domain.Actor{ID: 2}, item.ID, "")
		if !errors.Is(err, domain.ErrItemUnavailable) {
			t.Fatalf("err = %v, want ErrItemUnavailable", err)
		}
	})

	t.Run("refuses the owner's own item", func(t *testing.T) {
		f := newFixture()
		item := f.seedItem(t, 1, domain.ExchangeFree, 0)

		_, err := f.requestSvc.Create(ctx, domain.Actor{ID: 1}, item.ID, "")
		if !errors.Is(err, domain.ErrInvalidState) {
			t.Fatalf("err = %v, want ErrInvalidState", err)
		}
	})

	t.Run("rate limits the requester", func(t *testing.T) {
		f := newFixture()
		item := f.seedItem(t, 1, domain.ExchangeFree, 0)
		f.requestSvc.limiter = &fakeLimiter{allow: false}

		_, err := f.requestSvc.Create(ctx, domain.Actor{ID: 2}, item.ID, "")
		if !errors.Is(err, domain.ErrRateLimited) {
			t.Fatalf("err = %v, want ErrRateLimited", err)
		}
	})

	t.Run("concurrent creates for the same pair yield one winner", func(t *testing.T) {
		f := newFixture()
		item := f.seedItem(t, 1, domain.ExchangeFree, 0)
		actor := domain.Actor{ID: 2}

		const attempts = 8
		errs := make(chan error, attempts)
		var wg sync.WaitGroup
		for i := 0; i < attempts; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := f.requestSvc.Create(ctx, actor, item.ID, "")
				errs <- err
			}()
		}
		wg.Wait()
		close(errs)

		created, duplicates := 0, 0
		for err := range errs {
			switch {
			case err == nil:
				created++
			case errors.Is(err, domain.ErrDuplicateRequest):
				duplicates++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}
		if created != 1 || duplicates != attempts-1 {
			t.Errorf("created = %d, duplicates = %d, want 1 and %d", created, duplicates, attempts-1)
		}
		reqs, _ := f.requests.ListByRequester(ctx, actor.ID, domain.ListOpts{})
		if len(reqs) != 1 {
			t.Errorf("stored requests = %d, want 1", len(reqs))
		}
	})
}

func TestRequestRespond(t *testing.T) {
	ctx := context.Background()

	t.Run("only the owner decides", func(t *testing.T) {
		f := newFixture()
		item := f.seedItem(t, 1, domain.ExchangeFree, 0)
		req, _ := f.requestSvc.Create(ctx, domain.Actor{ID: 2}, item.ID, "")

		_, err := f.requestSvc.Respond(ctx, domain.Actor{ID: 3}, req.ID, domain.DecisionAccept, nil)
		if !errors.Is(err, domain.ErrUnauthorized) {
			t.Fatalf("err = %v, want ErrUnauthorized", err)
		}
	})

	t.Run("accept free request", func(t *testing.T) {
		f := newFixture()
		item := f.seedItem(t, 1, domain.ExchangeFree, 0)
		req, _ := f.requestSvc.Create(ctx, domain.Actor{ID: 2}, item.ID, "")

		accepted, err := f.requestSvc.Respond(ctx, domain.Actor{ID: 1}, req.ID, domain.DecisionAccept, nil)
		if err != nil {
			t.Fatalf("respond: %v", err)
		}
		if accepted.Status != domain.RequestAccepted {
			t.Errorf("status = %s, want accepted", accepted.Status)
		}
	})

	t.Run("accept loan requires a duration and sets the deadline", func(t *testing.T) {
		f := newFixture()
		before := time.Now()
		item := f.seedItem(t, 1, domain.ExchangeLoan, 0)
		req, _ := f.requestSvc.Create(ctx, domain.Actor{ID: 2}, item.ID, "")

		if _, err := f.requestSvc.Respond(ctx, domain.Actor{ID: 1}, req.ID, domain.DecisionAccept, nil); !errors.Is(err, domain.ErrInvalidPayload) {
			t.Fatalf("accept without duration: err = %v, want ErrInvalidPayload", err)
		}

		days := 14
		accepted, err := f.requestSvc.Respond(ctx, domain.Actor{ID: 1}, req.ID, domain.DecisionAccept, &days)
		if err != nil {
			t.Fatalf("respond: %v", err)
		}
		if accepted.LoanDeadline == nil {
			t.Fatal("loan deadline not set")
		}
		min := before.Add(14 * 24 * time.Hour)
		if accepted.LoanDeadline.Before(min) {
			t.Errorf("deadline %v before %v", accepted.LoanDeadline, min)
		}
	})

	t.Run("accept sale opens the payment transaction", func(t *testing.T) {
		f := newFixture()
		item := f.seedItem(t, 1, domain.ExchangeSale, 2500)
		req, _ := f.requestSvc.Create(ctx, domain.Actor{ID: 2}, item.ID, "")

		if _, err := f.requestSvc.Respond(ctx, domain.Actor{ID: 1}, req.ID, domain.DecisionAccept, nil); err != nil {
			t.Fatalf("respond: %v", err)
		}
		txn, err := f.txnStore.GetByRequestID(ctx, req.ID)
		if err != nil {
			t.Fatalf("transaction not opened: %v", err)
		}
		if txn.Status != domain.TransactionPending {
			t.Errorf("status = %s, want pending", txn.Status)
		}
		if txn.AmountCents != 2500 || txn.PayerID != 2 {
			t.Errorf("txn = %+v", txn)
		}
	})

	t.Run("repeated accept is a no-op and opens no second transaction", func(t *testing.T) {
		f := newFixture()
		item := f.seedItem(t, 1, domain.ExchangeSale, 2500)
		req, _ := f.requestSvc.Create(ctx, domain.Actor{ID: 2}, item.ID, "")

		first, err := f.requestSvc.Respond(ctx, domain.Actor{ID: 1}, req.ID, domain.DecisionAccept, nil)
		if err != nil {
			t.Fatalf("first accept: %v", err)
		}
		second, err := f.requestSvc.Respond(ctx, domain.Actor{ID: 1}, req.ID, domain.DecisionAccept, nil)
		if err != nil {
			t.Fatalf("second accept: %v", err)
		}
		if first.ID != second.ID || second.Status != domain.RequestAccepted {
			t.Errorf("second accept changed the request: %+v", second)
		}
		if n := len(f.txnStore.txns); n != 1 {
			t.Errorf("transactions = %d, want 1", n)
		}
	})

	t.Run("reject then accept is refused", func(t *testing.T) {
		f := newFixture()
		item := f.seedItem(t, 1, domain.ExchangeFree, 0)
		req, _ := f.requestSvc.Create(ctx, domain.Actor{ID: 2}, item.ID, "")

		if _, err := f.requestSvc.Respond(ctx, domain.Actor{ID: 1}, req.ID, domain.DecisionReject, nil); err != nil {
			t.Fatalf("reject: %v", err)
		}
		_, err := f.requestSvc.Respond(ctx, domain.Actor{ID: 1}, req.ID, domain.DecisionAccept, nil)
		if !errors.Is(err, domain.ErrInvalidState) {
			t.Fatalf("err = %v, want ErrInvalidState", err)
		}
	})
}

func TestRequestCancel(t *testing.T) {
	ctx := context.Background()

	t.Run("requester cancels a pending request, twice is a no-op", func(t *testing.T) {
		f := newFixture()
		item := f.seedItem(t, 1, domain.ExchangeFree, 0)
		req, _ := f.requestSvc.Create(ctx, domain.Actor{ID: 2}, item.ID, "")

		cancelled, err := f.requestSvc.Cancel(ctx, domain.Actor{ID: 2}, req.ID)
		if err != nil {
			t.Fatalf("cancel: %v", err)
		}
		if cancelled.Status != domain.RequestCancelled {
			t.Errorf("status = %s, want cancelled", cancelled.Status)
		}
		again, err := f.requestSvc.Cancel(ctx, domain.Actor{ID: 2}, req.ID)
		if err != nil {
			t.Fatalf("second cancel: %v", err)
		}
		if again.Status != domain.RequestCancelled {
			t.Errorf("second cancel status = %s", again.Status)
		}
	})

	t.Run("only the requester cancels", func(t *testing.T) {
		f := newFixture()
		item := f.seedItem(t, 1, domain.ExchangeFree, 0)
		req, _ := f.requestSvc.Create(ctx, domain.Actor{ID: 2}, item.ID, "")

		if _, err := f.requestSvc.Cancel(ctx, domain.Actor{ID: 1}, req.ID); !errors.Is(err, domain.ErrUnauthorized) {
			t.Fatalf("err = %v, want ErrUnauthorized", err)
		}
	})

	t.Run("accepted requests cannot be cancelled", func(t *testing.T) {
		f := newFixture()
		item := f.seedItem(t, 1, domain.ExchangeFree, 0)
		req, _ := f.requestSvc.Create(ctx, domain.Actor{ID: 2}, item.ID, "")
		if _, err := f.requestSvc.Respond(ctx, domain.Actor{ID: 1}, req.ID, domain.DecisionAccept, nil); err != nil {
			t.Fatalf("accept: %v", err)
		}

		if _, err := f.requestSvc.Cancel(ctx, domain.Actor{ID: 2}, req.ID); !errors.Is(err, domain.ErrInvalidState) {
			t.Fatalf("err = %v, want ErrInvalidState", err)
		}
	})
}

func TestRequestMarkCompleted(t *testing.T) {
	ctx := context.Background()

	t.Run("owner completes an accepted loan", func(t *testing.T) {
		f := newFixture()
		item := f.seedItem(t, 1, domain.ExchangeLoan, 0)
		req, _ := f.requestSvc.Create(ctx, domain.Actor{ID: 2}, item.ID, "")
		days := 7
		if _, err := f.requestSvc.Respond(ctx, domain.Actor{ID: 1}, req.ID, domain.DecisionAccept, &days); err != nil {
			t.Fatalf("accept: %v", err)
		}

		done, err := f.requestSvc.MarkCompleted(ctx, domain.Actor{ID: 1}, req.ID)
		if err != nil {
			t.Fatalf("complete: %v", err)
		}
		if done.Status != domain.RequestCompleted {
			t.Errorf("status = %s, want completed", done.Status)
		}
	})

	t.Run("sale requests complete through the transaction only", func(t *testing.T) {
		f := newFixture()
		item := f.seedItem(t, 1, domain.ExchangeSale, 1000)
		req, _ := f.requestSvc.Create(ctx, domain.Actor{ID: 2}, item.ID, "")
		if _, err := f.requestSvc.Respond(ctx, domain.Actor{ID: 1}, req.ID, domain.DecisionAccept, nil); err != nil {
			t.Fatalf("accept: %v", err)
		}

		if _, err := f.requestSvc.MarkCompleted(ctx, domain.Actor{ID: 1}, req.ID); !errors.Is(err, domain.ErrInvalidState) {
			t.Fatalf("err = %v, want ErrInvalidState", err)
		}
	})

	t.Run("pending requests cannot complete", func(t *testing.T) {
		f := newFixture()
		item := f.seedItem(t, 1, domain.ExchangeFree, 0)
		req, _ := f.requestSvc.Create(ctx, domain.Actor{ID: 2}, item.ID, "")

		if _, err := f.requestSvc.MarkCompleted(ctx, domain.Actor{ID: 1}, req.ID); !errors.Is(err, domain.ErrInvalidState) {
			t.Fatalf("err = %v, want ErrInvalidState", err)
		}
	})
}
