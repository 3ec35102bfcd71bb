package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/shareshelf/shareshelf/internal/domain"
)

// Resource is a protected file released by the access gate, ready to
// stream to the client.
type Resource struct {
	Body        io.ReadCloser
	ContentType string
	Size        int64
	// Disposition is the Content-Disposition value: inline for viewable
	// documents, attachment otherwise.
	Disposition string
}

// AccessService is the gate in front of item resource files. The decision
// itself is a pure function of the item's exchange policy and the actor's
// ledger state; fetching streams the blob only after an allow.
type AccessService struct {
	items    domain.ItemStore
	requests domain.RequestStore
	txns     domain.TransactionStore
	blobs    domain.BlobReader
	audit    domain.AuditStore
	logger   *slog.Logger
	now      func() time.Time
}

func NewAccessService(
	items domain.ItemStore,
	requests domain.RequestStore,
	txns domain.TransactionStore,
	blobs domain.BlobReader,
	audit domain.AuditStore,
	logger *slog.Logger,
) *AccessService {
	return &AccessService{
		items:    items,
		requests: requests,
		txns:     txns,
		blobs:    blobs,
		audit:    audit,
		logger:   logger,
		now:      time.Now,
	}
}

// CanAccess decides whether the actor may read the item's resource:
//
//	free  -> always allowed
//	sale  -> allowed with a completed transaction for the item
//	loan  -> allowed with an accepted request whose deadline has not passed
//
// The owner and admins always pass. An unknown exchange type denies.
func (s *AccessService) CanAccess(ctx context.Context, actor domain.Actor, itemID int64) (domain.AccessDecision, error) {
	item, err := s.items.GetByID(ctx, itemID)
	if err != nil {
		return domain.AccessDecision{}, fmt.Errorf("service: load item: %w", err)
	}
	return s.decide(ctx, actor, item)
}

func (s *AccessService) decide(ctx context.Context, actor domain.Actor, item domain.Item) (domain.AccessDecision, error) {
	// An unrecognized exchange policy fails closed for everyone, the owner
	// included: without a policy there is no defined release condition.
	switch item.ExchangeType {
	case domain.ExchangeFree, domain.ExchangeSale, domain.ExchangeLoan:
	default:
		return domain.Deny(domain.DenyPolicyUndefined), nil
	}

	if item.OwnerID == actor.ID || actor.Admin {
		return domain.Allow(), nil
	}

	switch item.ExchangeType {
	case domain.ExchangeFree:
		return domain.Allow(), nil

	case domain.ExchangeSale:
		paid, err := s.txns.HasCompletedForPayer(ctx, actor.ID, item.ID)
		if err != nil {
			return domain.AccessDecision{}, fmt.Errorf("service: check completed transaction: %w", err)
		}
		if paid {
			return domain.Allow(), nil
		}
		return domain.Deny(domain.DenyPaymentRequired), nil

	case domain.ExchangeLoan:
		req, err := s.requests.GetActive(ctx, actor.ID, item.ID)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				return domain.Deny(domain.DenyNotAuthorizedOrExpired), nil
			}
			return domain.AccessDecision{}, fmt.Errorf("service: load active request: %w", err)
		}
		if req.Status == domain.RequestAccepted && !req.LoanExpired(s.now()) {
			return domain.Allow(), nil
		}
		return domain.Deny(domain.DenyNotAuthorizedOrExpired), nil
	}

	return domain.Deny(domain.DenyPolicyUndefined), nil
}

// FetchResource gates and streams the item's protected file. The returned
// decision is meaningful even on denial; the resource is non-nil only when
// access is allowed. Every attempt, with the caller's network origin, is
// recorded best-effort in the audit log.
func (s *AccessService) FetchResource(ctx context.Context, actor domain.Actor, itemID int64, action domain.AccessAction, origin string) (*Resource, domain.AccessDecision, error) {
	item, err := s.items.GetByID(ctx, itemID)
	if err != nil {
		return nil, domain.AccessDecision{}, fmt.Errorf("service: load item: %w", err)
	}

	decision, err := s.decide(ctx, actor, item)
	if err != nil {
		return nil, domain.AccessDecision{}, err
	}
	s.logAttempt(ctx, actor, item, action, origin, decision)
	if !decision.Allowed {
		return nil, decision, nil
	}

	if !item.HasResource() {
		return nil, decision, fmt.Errorf("service: item %d has no resource: %w", item.ID, domain.ErrNotFound)
	}

	info, err := s.blobs.Stat(ctx, item.ResourceKey)
	if err != nil {
		return nil, decision, fmt.Errorf("service: stat resource: %w", err)
	}
	body, err := s.blobs.Get(ctx, item.ResourceKey)
	if err != nil {
		return nil, decision, fmt.Errorf("service: open resource: %w", err)
	}

	contentType := item.ResourceContentType
	if contentType == "" {
		contentType = info.ContentType
	}
	disposition := "attachment"
	if action == domain.AccessView && item.ResourceIsDocument() {
		disposition = "inline"
	}

	return &Resource{
		Body:        body,
		ContentType: contentType,
		Size:        info.Size,
		Disposition: disposition,
	}, decision, nil
}

func (s *AccessService) logAttempt(ctx context.Context, actor domain.Actor, item domain.Item, action domain.AccessAction, origin string, decision domain.AccessDecision) {
	if s.audit == nil {
		return
	}
	detail := map[string]any{
		"actor_id": actor.ID,
		"item_id":  item.ID,
		"action":   string(action),
		"origin":   origin,
		"allowed":  decision.Allowed,
	}
	if !decision.Allowed {
		detail["reason"] = string(decision.Reason)
	}
	if err := s.audit.Log(ctx, "resource.access", detail); err != nil {
		s.logger.Warn("audit log", "event", "resource.access", "error", err)
	}
}
