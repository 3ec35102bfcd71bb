package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/shareshelf/shareshelf/internal/domain"
)

// ProofStore implements domain.ProofStore using PostgreSQL. Every submission
// inserts a new row; rejected proofs stay in place so the submission history
// survives.
type ProofStore struct {
	pool *pgxpool.Pool
}

// NewProofStore creates a new ProofStore backed by the given pool.
func NewProofStore(pool *pgxpool.Pool) *ProofStore {
	return &ProofStore{pool: pool}
}

const proofSelectCols = `id, transaction_id, request_id, submitter_id,
	blob_key, content_type, state, notes, verifier_id, verified_at, created_at`

func scanProof(scanner interface{ Scan(dest ...any) error }) (domain.Proof, error) {
	var p domain.Proof
	var state string

	err := scanner.Scan(
		&p.ID, &p.TransactionID, &p.RequestID, &p.SubmitterID,
		&p.BlobKey, &p.ContentType, &state, &p.Notes,
		&p.VerifierID, &p.VerifiedAt, &p.CreatedAt,
	)
	if err != nil {
		return domain.Proof{}, err
	}

	p.State = domain.ProofState(state)
	return p, nil
}

// Create inserts a new unverified proof submission.
func (s *ProofStore) Create(ctx context.Context, proof domain.Proof) (domain.Proof, error) {
	const query = `
		INSERT INTO proofs (transaction_id, request_id, submitter_id, blob_key, content_type, state)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING ` + proofSelectCols

	row := s.pool.QueryRow(ctx, query,
		proof.TransactionID, proof.RequestID, proof.SubmitterID,
		proof.BlobKey, proof.ContentType, string(domain.ProofUnverified),
	)

	created, err := scanProof(row)
	if err != nil {
		return domain.Proof{}, fmt.Errorf("postgres: create proof: %w", err)
	}
	return created, nil
}

// GetByID retrieves a single proof by id.
func (s *ProofStore) GetByID(ctx context.Context, id int64) (domain.Proof, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+proofSelectCols+` FROM proofs WHERE id = $1`, id)

	p, err := scanProof(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Proof{}, domain.ErrNotFound
		}
		return domain.Proof{}, fmt.Errorf("postgres: get proof %d: %w", id, err)
	}
	return p, nil
}

// LatestUnverified returns the most recent actionable proof for the
// transaction.
func (s *ProofStore) LatestUnverified(ctx context.Context, transactionID int64) (domain.Proof, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+proofSelectCols+` FROM proofs
		 WHERE transaction_id = $1 AND state = $2
		 ORDER BY created_at DESC
		 LIMIT 1`, transactionID, string(domain.ProofUnverified))

	p, err := scanProof(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Proof{}, domain.ErrNotFound
		}
		return domain.Proof{}, fmt.Errorf("postgres: latest unverified proof for transaction %d: %w", transactionID, err)
	}
	return p, nil
}

// Resolve conditionally records the owner's verdict on an unverified proof,
// reporting whether the update applied. A proof already resolved stays
// resolved.
func (s *ProofStore) Resolve(ctx context.Context, id, verifierID int64, state domain.ProofState, notes string) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE proofs SET state = $1, verifier_id = $2, verified_at = NOW(), notes = $3
		 WHERE id = $4 AND state = $5`,
		string(state), verifierID, notes, id, string(domain.ProofUnverified))
	if err != nil {
		return false, fmt.Errorf("postgres: resolve proof %d: %w", id, err)
	}
	return tag.RowsAffected() > 0, nil
}

// ListByTransaction returns the full submission history for a transaction,
// newest first.
func (s *ProofStore) ListByTransaction(ctx context.Context, transactionID int64) ([]domain.Proof, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+proofSelectCols+` FROM proofs
		 WHERE transaction_id = $1
		 ORDER BY created_at DESC`, transactionID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list proofs for transaction %d: %w", transactionID, err)
	}
	defer rows.Close()

	var proofs []domain.Proof
	for rows.Next() {
		p, err := scanProof(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan proofs: %w", err)
		}
		proofs = append(proofs, p)
	}
	return proofs, rows.Err()
}

// Compile-time interface check.
var _ domain.ProofStore = (*ProofStore)(nil)
