package domain

import "time"

// TransactionStatus tracks a payment attempt for an accepted sale request.
type TransactionStatus string

const (
	TransactionPending       TransactionStatus = "pending"
	TransactionProofUploaded TransactionStatus = "proof_uploaded"
	TransactionCompleted     TransactionStatus = "completed"
	TransactionFailed        TransactionStatus = "failed"
)

// Terminal reports whether the payment outcome is settled. Terminal statuses
// never change except for idempotent re-application of the same status.
func (s TransactionStatus) Terminal() bool {
	return s == TransactionCompleted || s == TransactionFailed
}

// CanTransitionTo reports whether moving from s to target is a legal step:
//
//	pending        -> proof_uploaded | completed | failed
//	proof_uploaded -> pending | completed | failed
func (s TransactionStatus) CanTransitionTo(target TransactionStatus) bool {
	switch s {
	case TransactionPending:
		return target == TransactionProofUploaded || target == TransactionCompleted || target == TransactionFailed
	case TransactionProofUploaded:
		return target == TransactionPending || target == TransactionCompleted || target == TransactionFailed
	}
	return false
}

// Transaction is a payment attempt tied 1:1 to an accepted sale request.
type Transaction struct {
	ID          int64
	RequestID   int64
	ItemID      int64
	PayerID     int64
	AmountCents int64
	Status      TransactionStatus
	// Provider is the payment provider name, empty until a provider signal
	// or manual proof arrives.
	Provider string
	// ProviderRef is the provider's transaction reference, unique per
	// provider when present. It is the idempotency key for webhook delivery.
	ProviderRef *string
	// ProofKey is the blob key of the latest submitted proof of payment.
	ProofKey    *string
	CreatedAt   time.Time
	UpdatedAt   time.Time
	CompletedAt *time.Time
}
