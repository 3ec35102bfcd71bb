package domain

import "time"

// RequestStatus tracks the negotiation lifecycle between a requester and an
// item owner.
type RequestStatus string

const (
	RequestPending   RequestStatus = "pending"
	RequestAccepted  RequestStatus = "accepted"
	RequestRejected  RequestStatus = "rejected"
	RequestCancelled RequestStatus = "cancelled"
	RequestCompleted RequestStatus = "completed"
)

// Terminal reports whether no further transition can leave this status.
func (s RequestStatus) Terminal() bool {
	switch s {
	case RequestRejected, RequestCancelled, RequestCompleted:
		return true
	}
	return false
}

// Active reports whether the request still occupies its (requester, item)
// slot. At most one active request may exist per pair.
func (s RequestStatus) Active() bool {
	return s != RequestCancelled && s != RequestRejected
}

// CanTransitionTo reports whether moving from s to target is a legal step of
// the negotiation state machine:
//
//	pending  -> accepted | rejected | cancelled
//	accepted -> completed
func (s RequestStatus) CanTransitionTo(target RequestStatus) bool {
	switch s {
	case RequestPending:
		return target == RequestAccepted || target == RequestRejected || target == RequestCancelled
	case RequestAccepted:
		return target == RequestCompleted
	}
	return false
}

// Request is a negotiation record between a requester and an item's owner.
type Request struct {
	ID          int64
	ItemID      int64
	RequesterID int64
	Note        string
	Status      RequestStatus
	// LoanDurationDays is set when the owner accepts a loan request.
	LoanDurationDays *int
	// LoanDeadline is acceptance time plus the loan duration; access to the
	// item's resource expires past this instant.
	LoanDeadline *time.Time
	CreatedAt    time.Time
	RespondedAt  *time.Time
	CompletedAt  *time.Time
}

// LoanExpired reports whether the loan grant has run out at the given
// instant. Requests without a deadline never expire.
func (r Request) LoanExpired(now time.Time) bool {
	return r.LoanDeadline != nil && now.After(*r.LoanDeadline)
}

// RespondDecision is the owner's answer to a pending request.
type RespondDecision string

const (
	DecisionAccept RespondDecision = "accept"
	DecisionReject RespondDecision = "reject"
)
