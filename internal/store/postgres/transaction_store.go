package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/shareshelf/shareshelf/internal/domain"
)

// TransactionStore implements domain.TransactionStore using PostgreSQL. The
// one-transaction-per-request invariant is enforced by the UNIQUE constraint
// on request_id; terminal writes are compare-and-swap updates so conflicting
// signals (webhook vs. manual proof) cannot overwrite a settled outcome.
type TransactionStore struct {
	pool *pgxpool.Pool
}

// NewTransactionStore creates a new TransactionStore backed by the given pool.
func NewTransactionStore(pool *pgxpool.Pool) *TransactionStore {
	return &TransactionStore{pool: pool}
}

const txnSelectCols = `id, request_id, item_id, payer_id, amount_cents,
	status, provider, provider_ref, proof_key, created_at, updated_at, completed_at`

func scanTransaction(scanner interface{ Scan(dest ...any) error }) (domain.Transaction, error) {
	var t domain.Transaction
	var status string

	err := scanner.Scan(
		&t.ID, &t.RequestID, &t.ItemID, &t.PayerID, &t.AmountCents,
		&status, &t.Provider, &t.ProviderRef, &t.ProofKey,
		&t.CreatedAt, &t.UpdatedAt, &t.CompletedAt,
	)
	if err != nil {
		return domain.Transaction{}, err
	}

	t.Status = domain.TransactionStatus(status)
	return t, nil
}

// Create inserts a new pending transaction. A second insert for the same
// request returns domain.ErrAlreadyExists.
func (s *TransactionStore) Create(ctx context.Context, txn domain.Transaction) (domain.Transaction, error) {
	const query = `
		INSERT INTO transactions (request_id, item_id, payer_id, amount_cents, status, provider)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING ` + txnSelectCols

	row := s.pool.QueryRow(ctx, query,
		txn.RequestID, txn.ItemID, txn.PayerID, txn.AmountCents,
		string(domain.TransactionPending), txn.Provider,
	)

	created, err := scanTransaction(row)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.Transaction{}, domain.ErrAlreadyExists
		}
		return domain.Transaction{}, fmt.Errorf("postgres: create transaction: %w", err)
	}
	return created, nil
}

// GetByID retrieves a single transaction by id.
func (s *TransactionStore) GetByID(ctx context.Context, id int64) (domain.Transaction, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+txnSelectCols+` FROM transactions WHERE id = $1`, id)

	t, err := scanTransaction(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Transaction{}, domain.ErrNotFound
		}
		return domain.Transaction{}, fmt.Errorf("postgres: get transaction %d: %w", id, err)
	}
	return t, nil
}

// GetByRequestID retrieves the transaction opened for the given request.
func (s *TransactionStore) GetByRequestID(ctx context.Context, requestID int64) (domain.Transaction, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+txnSelectCols+` FROM transactions WHERE request_id = $1`, requestID)

	t, err := scanTransaction(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Transaction{}, domain.ErrNotFound
		}
		return domain.Transaction{}, fmt.Errorf("postgres: get transaction for request %d: %w", requestID, err)
	}
	return t, nil
}

// GetByProviderRef retrieves a transaction by its provider reference.
func (s *TransactionStore) GetByProviderRef(ctx context.Context, provider, ref string) (domain.Transaction, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+txnSelectCols+` FROM transactions
		 WHERE provider = $1 AND provider_ref = $2`, provider, ref)

	t, err := scanTransaction(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Transaction{}, domain.ErrNotFound
		}
		return domain.Transaction{}, fmt.Errorf("postgres: get transaction by provider ref %s/%s: %w", provider, ref, err)
	}
	return t, nil
}

// UpdateStatusIf moves the transaction to target only while its current
// status is one of from, reporting whether the update applied.
func (s *TransactionStore) UpdateStatusIf(ctx context.Context, id int64, from []domain.TransactionStatus, target domain.TransactionStatus) (bool, error) {
	fromStrs := make([]string, len(from))
	for i, st := range from {
		fromStrs[i] = string(st)
	}

	var query string
	if target.Terminal() {
		query = `UPDATE transactions SET status = $1, completed_at = NOW(), updated_at = NOW()
			 WHERE id = $2 AND status = ANY($3)`
	} else {
		query = `UPDATE transactions SET status = $1, updated_at = NOW()
			 WHERE id = $2 AND status = ANY($3)`
	}

	tag, err := s.pool.Exec(ctx, query, string(target), id, fromStrs)
	if err != nil {
		return false, fmt.Errorf("postgres: update transaction %d status: %w", id, err)
	}
	return tag.RowsAffected() > 0, nil
}

// AttachProof records the latest proof blob key and marks the transaction
// proof_uploaded. Allowed only while pending or already proof_uploaded, so a
// settled transaction cannot reopen.
func (s *TransactionStore) AttachProof(ctx context.Context, id int64, proofKey string) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE transactions SET status = $1, proof_key = $2, updated_at = NOW()
		 WHERE id = $3 AND status = ANY($4)`,
		string(domain.TransactionProofUploaded), proofKey, id,
		[]string{string(domain.TransactionPending), string(domain.TransactionProofUploaded)},
	)
	if err != nil {
		return false, fmt.Errorf("postgres: attach proof to transaction %d: %w", id, err)
	}
	return tag.RowsAffected() > 0, nil
}

// SetProviderRef records the provider identity on a transaction. Used when a
// webhook resolves the transaction by explicit id and the reference has not
// been seen before.
func (s *TransactionStore) SetProviderRef(ctx context.Context, id int64, provider, ref string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE transactions SET provider = $1, provider_ref = $2, updated_at = NOW()
		 WHERE id = $3 AND provider_ref IS NULL`,
		provider, ref, id)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrAlreadyExists
		}
		return fmt.Errorf("postgres: set provider ref on transaction %d: %w", id, err)
	}
	// A transaction that already carries a reference keeps it; re-delivery
	// with the same reference is a no-op.
	_ = tag
	return nil
}

// Complete atomically settles the transaction and cascades the owning
// request to completed inside a single database transaction, so either both
// records advance or neither does. It reports false without error when the
// transaction is already completed (idempotent re-application).
func (s *TransactionStore) Complete(ctx context.Context, id, requestID int64) (bool, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("postgres: begin complete transaction %d: %w", id, err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx,
		`UPDATE transactions SET status = $1, completed_at = NOW(), updated_at = NOW()
		 WHERE id = $2 AND status = ANY($3)`,
		string(domain.TransactionCompleted), id,
		[]string{string(domain.TransactionPending), string(domain.TransactionProofUploaded)},
	)
	if err != nil {
		return false, fmt.Errorf("postgres: complete transaction %d: %w", id, err)
	}

	if tag.RowsAffected() == 0 {
		// Nothing advanced: either already completed (fine, idempotent) or
		// already failed (conflicting terminal signal).
		var status string
		if err := tx.QueryRow(ctx,
			`SELECT status FROM transactions WHERE id = $1`, id,
		).Scan(&status); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return false, domain.ErrNotFound
			}
			return false, fmt.Errorf("postgres: read transaction %d status: %w", id, err)
		}
		if domain.TransactionStatus(status) == domain.TransactionCompleted {
			return false, nil
		}
		return false, domain.ErrInvalidTransition
	}

	if _, err := tx.Exec(ctx,
		`UPDATE requests SET status = $1, completed_at = NOW()
		 WHERE id = $2 AND status = $3`,
		string(domain.RequestCompleted), requestID, string(domain.RequestAccepted),
	); err != nil {
		return false, fmt.Errorf("postgres: cascade request %d completion: %w", requestID, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("postgres: commit complete transaction %d: %w", id, err)
	}
	return true, nil
}

// HasCompletedForPayer reports whether payerID holds a completed transaction
// for the given item.
func (s *TransactionStore) HasCompletedForPayer(ctx context.Context, payerID, itemID int64) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS(
			SELECT 1 FROM transactions
			WHERE payer_id = $1 AND item_id = $2 AND status = $3
		 )`, payerID, itemID, string(domain.TransactionCompleted),
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("postgres: check completed transaction: %w", err)
	}
	return exists, nil
}

// Compile-time interface check.
var _ domain.TransactionStore = (*TransactionStore)(nil)
