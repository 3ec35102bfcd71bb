package domain

import "time"

// ProofState is the owner's verdict on a submitted proof of payment.
type ProofState string

const (
	ProofUnverified ProofState = "unverified"
	ProofApproved   ProofState = "approved"
	ProofRejected   ProofState = "rejected"
)

// ProofDecision is the owner's resolution of an unverified proof.
type ProofDecision string

const (
	ProofDecisionApprove ProofDecision = "approve"
	ProofDecisionReject  ProofDecision = "reject"
)

// Proof is payer-submitted evidence of a manual payment, attached to a
// transaction and reviewed by the item owner. History is preserved: each
// submission is a new row, and only the latest unverified proof is
// actionable.
type Proof struct {
	ID            int64
	TransactionID int64
	RequestID     int64
	SubmitterID   int64
	// BlobKey points at the uploaded image or document in blob storage.
	BlobKey     string
	ContentType string
	State       ProofState
	Notes       string
	VerifierID  *int64
	VerifiedAt  *time.Time
	CreatedAt   time.Time
}
