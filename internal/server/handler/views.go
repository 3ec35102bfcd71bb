package handler

import (
	"time"

	"github.com/shareshelf/shareshelf/internal/domain"
)

// JSON views of the domain records. The domain structs stay tag-free; the
// wire shape is owned here.

type itemView struct {
	ID           int64  `json:"id"`
	OwnerID      int64  `json:"ownerId"`
	Title        string `json:"title"`
	ExchangeType string `json:"exchangeType"`
	PriceCents   int64  `json:"priceCents,omitempty"`
	HasResource  bool   `json:"hasResource"`
	Available    bool   `json:"available"`
	CreatedAt    string `json:"createdAt"`
}

func viewItem(item domain.Item) itemView {
	return itemView{
		ID:           item.ID,
		OwnerID:      item.OwnerID,
		Title:        item.Title,
		ExchangeType: string(item.ExchangeType),
		PriceCents:   item.PriceCents,
		HasResource:  item.HasResource(),
		Available:    item.Available,
		CreatedAt:    item.CreatedAt.UTC().Format(time.RFC3339),
	}
}

func viewItems(items []domain.Item) []itemView {
	out := make([]itemView, 0, len(items))
	for _, item := range items {
		out = append(out, viewItem(item))
	}
	return out
}

type requestView struct {
	ID               int64  `json:"id"`
	ItemID           int64  `json:"itemId"`
	RequesterID      int64  `json:"requesterId"`
	Status           string `json:"status"`
	Note             string `json:"note,omitempty"`
	LoanDurationDays *int   `json:"loanDurationDays,omitempty"`
	LoanDeadline     string `json:"loanDeadline,omitempty"`
	CreatedAt        string `json:"createdAt"`
	RespondedAt      string `json:"respondedAt,omitempty"`
	CompletedAt      string `json:"completedAt,omitempty"`
}

func viewRequest(req domain.Request) requestView {
	v := requestView{
		ID:               req.ID,
		ItemID:           req.ItemID,
		RequesterID:      req.RequesterID,
		Status:           string(req.Status),
		Note:             req.Note,
		LoanDurationDays: req.LoanDurationDays,
		CreatedAt:        req.CreatedAt.UTC().Format(time.RFC3339),
	}
	if req.LoanDeadline != nil {
		v.LoanDeadline = req.LoanDeadline.UTC().Format(time.RFC3339)
	}
	if req.RespondedAt != nil {
		v.RespondedAt = req.RespondedAt.UTC().Format(time.RFC3339)
	}
	if req.CompletedAt != nil {
		v.CompletedAt = req.CompletedAt.UTC().Format(time.RFC3339)
	}
	return v
}

func viewRequests(reqs []domain.Request) []requestView {
	out := make([]requestView, 0, len(reqs))
	for _, req := range reqs {
		out = append(out, viewRequest(req))
	}
	return out
}

type transactionView struct {
	ID          int64  `json:"id"`
	RequestID   int64  `json:"requestId"`
	ItemID      int64  `json:"itemId"`
	PayerID     int64  `json:"payerId"`
	AmountCents int64  `json:"amountCents"`
	Status      string `json:"status"`
	Provider    string `json:"provider,omitempty"`
	ProviderRef string `json:"providerRef,omitempty"`
	CreatedAt   string `json:"createdAt"`
	CompletedAt string `json:"completedAt,omitempty"`
}

func viewTransaction(txn domain.Transaction) transactionView {
	v := transactionView{
		ID:          txn.ID,
		RequestID:   txn.RequestID,
		ItemID:      txn.ItemID,
		PayerID:     txn.PayerID,
		AmountCents: txn.AmountCents,
		Status:      string(txn.Status),
		Provider:    txn.Provider,
		CreatedAt:   txn.CreatedAt.UTC().Format(time.RFC3339),
	}
	if txn.ProviderRef != nil {
		v.ProviderRef = *txn.ProviderRef
	}
	if txn.CompletedAt != nil {
		v.CompletedAt = txn.CompletedAt.UTC().Format(time.RFC3339)
	}
	return v
}

type proofView struct {
	ID            int64  `json:"id"`
	TransactionID int64  `json:"transactionId"`
	SubmitterID   int64  `json:"submitterId"`
	ContentType   string `json:"contentType"`
	State         string `json:"state"`
	Notes         string `json:"notes,omitempty"`
	VerifierID    *int64 `json:"verifierId,omitempty"`
	CreatedAt     string `json:"createdAt"`
	VerifiedAt    string `json:"verifiedAt,omitempty"`
}

func viewProof(proof domain.Proof) proofView {
	v := proofView{
		ID:            proof.ID,
		TransactionID: proof.TransactionID,
		SubmitterID:   proof.SubmitterID,
		ContentType:   proof.ContentType,
		State:         string(proof.State),
		Notes:         proof.Notes,
		VerifierID:    proof.VerifierID,
		CreatedAt:     proof.CreatedAt.UTC().Format(time.RFC3339),
	}
	if proof.VerifiedAt != nil {
		v.VerifiedAt = proof.VerifiedAt.UTC().Format(time.RFC3339)
	}
	return v
}

func viewProofs(proofs []domain.Proof) []proofView {
	out := make([]proofView, 0, len(proofs))
	for _, proof := range proofs {
		out = append(out, viewProof(proof))
	}
	return out
}
