package domain

// Actor identifies the authenticated party performing an operation. The
// identity is resolved by the upstream auth layer and passed explicitly into
// every ledger operation.
type Actor struct {
	ID    int64
	Admin bool
}

// AccessAction is what the actor wants to do with a protected resource.
type AccessAction string

const (
	AccessView     AccessAction = "view"
	AccessDownload AccessAction = "download"
)

// DenyReason explains why the access gate refused to release a resource.
// Reasons are specific enough to guide remediation without leaking other
// parties' data.
type DenyReason string

const (
	// DenyPaymentRequired: the item is for sale and the actor has no
	// completed transaction for it.
	DenyPaymentRequired DenyReason = "payment_required"
	// DenyNotAuthorizedOrExpired: the item is a loan and the actor holds no
	// accepted request, or the loan deadline has passed.
	DenyNotAuthorizedOrExpired DenyReason = "not_authorized_or_expired"
	// DenyPolicyUndefined: the item carries an unknown exchange type; the
	// gate fails closed.
	DenyPolicyUndefined DenyReason = "policy_undefined"
)

// AccessDecision is the access gate's answer for one (actor, item) pair.
type AccessDecision struct {
	Allowed bool
	Reason  DenyReason
}

// Allow is the positive access decision.
func Allow() AccessDecision {
	return AccessDecision{Allowed: true}
}

// Deny builds a negative access decision with the given reason.
func Deny(reason DenyReason) AccessDecision {
	return AccessDecision{Allowed: false, Reason: reason}
}
