package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination for list queries.
type ListOpts struct {
	Limit  int
	Offset int
}

// ItemStore persists item records. Listing CRUD proper belongs to the
// listing subsystem; this core needs the read model plus enough write
// surface to keep the repository runnable end to end.
type ItemStore interface {
	Create(ctx context.Context, item Item) (Item, error)
	GetByID(ctx context.Context, id int64) (Item, error)
	ListAvailable(ctx context.Context, opts ListOpts) ([]Item, error)
	ListByOwner(ctx context.Context, ownerID int64, opts ListOpts) ([]Item, error)
	SetAvailability(ctx context.Context, id int64, available bool) error
}

// RequestStore persists negotiation requests. The store, not the caller,
// enforces the one-active-request-per-(requester, item) invariant; Create
// returns ErrDuplicateRequest when the slot is taken.
type RequestStore interface {
	Create(ctx context.Context, req Request) (Request, error)
	GetByID(ctx context.Context, id int64) (Request, error)
	// GetActive returns the request occupying the (requester, item) slot,
	// i.e. the one whose status is neither cancelled nor rejected.
	GetActive(ctx context.Context, requesterID, itemID int64) (Request, error)
	// Accept conditionally moves a pending request to accepted, recording
	// the loan terms when present. It reports whether the update applied.
	Accept(ctx context.Context, id int64, loanDurationDays *int, loanDeadline *time.Time) (bool, error)
	// UpdateStatusIf moves the request to target only while its current
	// status is one of from, reporting whether the update applied. This is
	// the compare-and-swap primitive behind every other transition.
	UpdateStatusIf(ctx context.Context, id int64, from []RequestStatus, target RequestStatus) (bool, error)
	ListByRequester(ctx context.Context, requesterID int64, opts ListOpts) ([]Request, error)
	// ListByOwner returns requests against any item owned by ownerID.
	ListByOwner(ctx context.Context, ownerID int64, opts ListOpts) ([]Request, error)
}

// TransactionStore persists payment attempts. Create enforces the
// one-transaction-per-request invariant (ErrAlreadyExists). All terminal
// writes are compare-and-swap updates scoped to the single record; Complete
// additionally cascades the request completion in the same unit of work.
type TransactionStore interface {
	Create(ctx context.Context, txn Transaction) (Transaction, error)
	GetByID(ctx context.Context, id int64) (Transaction, error)
	GetByRequestID(ctx context.Context, requestID int64) (Transaction, error)
	GetByProviderRef(ctx context.Context, provider, ref string) (Transaction, error)
	// UpdateStatusIf moves the transaction to target only while its current
	// status is one of from, reporting whether the update applied.
	UpdateStatusIf(ctx context.Context, id int64, from []TransactionStatus, target TransactionStatus) (bool, error)
	// AttachProof records the latest proof blob key and marks the
	// transaction proof_uploaded, only while it is pending or already
	// proof_uploaded.
	AttachProof(ctx context.Context, id int64, proofKey string) (bool, error)
	// SetProviderRef records the provider identity on a transaction that
	// was resolved by explicit id rather than by reference.
	SetProviderRef(ctx context.Context, id int64, provider, ref string) error
	// Complete atomically marks the transaction completed and cascades the
	// owning request to completed: both records advance or neither does.
	// It reports whether the transaction row transitioned (false when it
	// was already completed).
	Complete(ctx context.Context, id, requestID int64) (bool, error)
	// HasCompletedForPayer reports whether payerID holds a completed
	// transaction for the given item.
	HasCompletedForPayer(ctx context.Context, payerID, itemID int64) (bool, error)
}

// ProofStore persists proof-of-payment submissions. History is preserved;
// each submission is a new row.
type ProofStore interface {
	Create(ctx context.Context, proof Proof) (Proof, error)
	GetByID(ctx context.Context, id int64) (Proof, error)
	// LatestUnverified returns the most recent actionable proof for the
	// transaction.
	LatestUnverified(ctx context.Context, transactionID int64) (Proof, error)
	// Resolve conditionally records the owner's verdict on an unverified
	// proof, reporting whether the update applied.
	Resolve(ctx context.Context, id, verifierID int64, state ProofState, notes string) (bool, error)
	ListByTransaction(ctx context.Context, transactionID int64) ([]Proof, error)
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore persists an append-only audit log. Ledger mutations and
// resource-access attempts are recorded best-effort through it.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}
