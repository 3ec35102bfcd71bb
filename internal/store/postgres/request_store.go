package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/shareshelf/shareshelf/internal/domain"
)

// RequestStore implements domain.RequestStore using PostgreSQL. The
// one-active-request-per-(requester, item) invariant is enforced by the
// partial unique index uniq_requests_active_pair, so concurrent Create calls
// for the same pair yield exactly one success.
type RequestStore struct {
	pool *pgxpool.Pool
}

// NewRequestStore creates a new RequestStore backed by the given pool.
func NewRequestStore(pool *pgxpool.Pool) *RequestStore {
	return &RequestStore{pool: pool}
}

const requestSelectCols = `id, item_id, requester_id, note, status,
	loan_duration_days, loan_deadline, created_at, responded_at, completed_at`

func scanRequest(scanner interface{ Scan(dest ...any) error }) (domain.Request, error) {
	var r domain.Request
	var status string

	err := scanner.Scan(
		&r.ID, &r.ItemID, &r.RequesterID, &r.Note, &status,
		&r.LoanDurationDays, &r.LoanDeadline,
		&r.CreatedAt, &r.RespondedAt, &r.CompletedAt,
	)
	if err != nil {
		return domain.Request{}, err
	}

	r.Status = domain.RequestStatus(status)
	return r, nil
}

func scanRequestRows(rows pgx.Rows) ([]domain.Request, error) {
	var reqs []domain.Request
	for rows.Next() {
		r, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		reqs = append(reqs, r)
	}
	return reqs, rows.Err()
}

// Create inserts a new pending request. If an active request already
// occupies the (requester, item) slot it returns domain.ErrDuplicateRequest.
func (s *RequestStore) Create(ctx context.Context, req domain.Request) (domain.Request, error) {
	const query = `
		INSERT INTO requests (item_id, requester_id, note, status)
		VALUES ($1, $2, $3, $4)
		RETURNING ` + requestSelectCols

	row := s.pool.QueryRow(ctx, query,
		req.ItemID, req.RequesterID, req.Note, string(domain.RequestPending),
	)

	created, err := scanRequest(row)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.Request{}, domain.ErrDuplicateRequest
		}
		return domain.Request{}, fmt.Errorf("postgres: create request: %w", err)
	}
	return created, nil
}

// GetByID retrieves a single request by id.
func (s *RequestStore) GetByID(ctx context.Context, id int64) (domain.Request, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+requestSelectCols+` FROM requests WHERE id = $1`, id)

	r, err := scanRequest(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Request{}, domain.ErrNotFound
		}
		return domain.Request{}, fmt.Errorf("postgres: get request %d: %w", id, err)
	}
	return r, nil
}

// GetActive returns the request currently occupying the (requester, item)
// slot, i.e. the one that is neither cancelled nor rejected.
func (s *RequestStore) GetActive(ctx context.Context, requesterID, itemID int64) (domain.Request, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+requestSelectCols+` FROM requests
		 WHERE requester_id = $1 AND item_id = $2
		   AND status NOT IN ('cancelled', 'rejected')`,
		requesterID, itemID)

	r, err := scanRequest(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Request{}, domain.ErrNotFound
		}
		return domain.Request{}, fmt.Errorf("postgres: get active request: %w", err)
	}
	return r, nil
}

// Accept conditionally moves a pending request to accepted, recording loan
// terms when present. The WHERE status = 'pending' clause makes the update a
// compare-and-swap: a concurrent cancel or a duplicate accept leaves exactly
// one winner.
func (s *RequestStore) Accept(ctx context.Context, id int64, loanDurationDays *int, loanDeadline *time.Time) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE requests
		 SET status = $1, loan_duration_days = $2, loan_deadline = $3, responded_at = NOW()
		 WHERE id = $4 AND status = $5`,
		string(domain.RequestAccepted), loanDurationDays, loanDeadline,
		id, string(domain.RequestPending),
	)
	if err != nil {
		return false, fmt.Errorf("postgres: accept request %d: %w", id, err)
	}
	return tag.RowsAffected() > 0, nil
}

// UpdateStatusIf moves the request to target only while its current status
// is one of from, reporting whether the update applied.
func (s *RequestStore) UpdateStatusIf(ctx context.Context, id int64, from []domain.RequestStatus, target domain.RequestStatus) (bool, error) {
	fromStrs := make([]string, len(from))
	for i, st := range from {
		fromStrs[i] = string(st)
	}

	var query string
	switch target {
	case domain.RequestCompleted:
		query = `UPDATE requests SET status = $1, completed_at = NOW()
			 WHERE id = $2 AND status = ANY($3)`
	case domain.RequestRejected:
		query = `UPDATE requests SET status = $1, responded_at = NOW()
			 WHERE id = $2 AND status = ANY($3)`
	default:
		query = `UPDATE requests SET status = $1
			 WHERE id = $2 AND status = ANY($3)`
	}

	tag, err := s.pool.Exec(ctx, query, string(target), id, fromStrs)
	if err != nil {
		return false, fmt.Errorf("postgres: update request %d status: %w", id, err)
	}
	return tag.RowsAffected() > 0, nil
}

// ListByRequester returns requests created by requesterID.
func (s *RequestStore) ListByRequester(ctx context.Context, requesterID int64, opts domain.ListOpts) ([]domain.Request, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+requestSelectCols+` FROM requests
		 WHERE requester_id = $1
		 ORDER BY created_at DESC
		 LIMIT $2 OFFSET $3`, requesterID, limitOf(opts), opts.Offset)
	if err != nil {
		return nil, fmt.Errorf("postgres: list requests by requester: %w", err)
	}
	defer rows.Close()

	reqs, err := scanRequestRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan requests by requester: %w", err)
	}
	return reqs, nil
}

// ListByOwner returns requests against any item owned by ownerID.
func (s *RequestStore) ListByOwner(ctx context.Context, ownerID int64, opts domain.ListOpts) ([]domain.Request, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT r.id, r.item_id, r.requester_id, r.note, r.status,
			r.loan_duration_days, r.loan_deadline, r.created_at,
			r.responded_at, r.completed_at
		 FROM requests r
		 JOIN items i ON i.id = r.item_id
		 WHERE i.owner_id = $1
		 ORDER BY r.created_at DESC
		 LIMIT $2 OFFSET $3`, ownerID, limitOf(opts), opts.Offset)
	if err != nil {
		return nil, fmt.Errorf("postgres: list requests by owner: %w", err)
	}
	defer rows.Close()

	reqs, err := scanRequestRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan requests by owner: %w", err)
	}
	return reqs, nil
}

// isUniqueViolation reports whether err is a PostgreSQL unique constraint
// violation (SQLSTATE 23505).
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// Compile-time interface check.
var _ domain.RequestStore = (*RequestStore)(nil)
