package domain

import (
	"strings"
	"time"
)

// ExchangeType is the policy under which an item changes hands.
type ExchangeType string

const (
	ExchangeFree ExchangeType = "free"
	ExchangeLoan ExchangeType = "loan"
	ExchangeSale ExchangeType = "sale"
)

// Valid reports whether the exchange type is one of the known policies.
// Unknown types must fail closed at the access gate.
func (t ExchangeType) Valid() bool {
	switch t {
	case ExchangeFree, ExchangeLoan, ExchangeSale:
		return true
	}
	return false
}

// Item is a thing offered for free transfer, loan, or sale. The listing
// subsystem owns the full record; this core reads the exchange policy, the
// owner, the price, and the protected resource reference.
type Item struct {
	ID           int64
	OwnerID      int64
	Title        string
	ExchangeType ExchangeType
	// PriceCents is set only for sale items.
	PriceCents int64
	// ResourceKey is the blob storage key of the protected file, empty when
	// the item has no digital resource.
	ResourceKey string
	// ResourceContentType is the MIME type of the protected file.
	ResourceContentType string
	Available           bool
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// HasResource reports whether the item carries a protected file.
func (i Item) HasResource() bool {
	return i.ResourceKey != ""
}

// ResourceIsDocument reports whether the protected file is a document type,
// which may be rendered inline on view requests. Everything else is always
// delivered as an attachment.
func (i Item) ResourceIsDocument() bool {
	ct := strings.ToLower(i.ResourceContentType)
	switch {
	case ct == "application/pdf":
		return true
	case strings.HasPrefix(ct, "text/"):
		return true
	}
	return false
}
