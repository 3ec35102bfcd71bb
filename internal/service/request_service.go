package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shareshelf/shareshelf/internal/domain"
	"github.com/shareshelf/shareshelf/internal/notify"
)

const (
	requestRateLimit  = 10
	requestRateWindow = time.Minute
)

// TransactionOpener opens the payment leg for an accepted sale request.
// It is satisfied by TransactionService; Open is idempotent so callers
// may retry freely.
type TransactionOpener interface {
	Open(ctx context.Context, requestID int64) (domain.Transaction, error)
}

// RequestService drives the negotiation lifecycle between a requester
// and an item owner.
type RequestService struct {
	items    domain.ItemStore
	requests domain.RequestStore
	limiter  domain.RateLimiter
	bus      domain.SignalBus
	audit    domain.AuditStore
	notifier *notify.Notifier
	txns     TransactionOpener
	logger   *slog.Logger
	now      func() time.Time
}

func NewRequestService(
	items domain.ItemStore,
	requests domain.RequestStore,
	limiter domain.RateLimiter,
	bus domain.SignalBus,
	audit domain.AuditStore,
	notifier *notify.Notifier,
	logger *slog.Logger,
) *RequestService {
	return &RequestService{
		items:    items,
		requests: requests,
		limiter:  limiter,
		bus:      bus,
		audit:    audit,
		notifier: notifier,
		logger:   logger,
		now:      time.Now,
	}
}

// SetTransactionOpener wires the sale side effect after construction.
// RequestService and TransactionService reference each other, so one
// side is attached late.
func (s *RequestService) SetTransactionOpener(opener TransactionOpener) {
	s.txns = opener
}

// Create opens a pending request for an item on behalf of the actor.
func (s *RequestService) Create(ctx context.Context, actor domain.Actor, itemID int64, note string) (domain.Request, error) {
	if s.limiter != nil {
		allowed, err := s.limiter.Allow(ctx, fmt.Sprintf("requests:create:%d", actor.ID), requestRateLimit, requestRateWindow)
		if err != nil {
			s.logger.Warn("request rate limiter unavailable", "error", err)
		} else if !allowed {
			return domain.Request{}, domain.ErrRateLimited
		}
	}

	item, err := s.items.GetByID(ctx, itemID)
	if err != nil {
		return domain.Request{}, fmt.Errorf("service: load item: %w", err)
	}
	if item.OwnerID == actor.ID {
		return domain.Request{}, fmt.Errorf("service: cannot request own item: %w", domain.ErrInvalidState)
	}
	if !item.Available {
		return domain.Request{}, domain.ErrItemUnavailable
	}

	req := domain.Request{
		ItemID:      item.ID,
		RequesterID: actor.ID,
		Status:      domain.RequestPending,
		Note:        note,
	}
	created, err := s.requests.Create(ctx, req)
	if err != nil {
		return domain.Request{}, fmt.Errorf("service: create request: %w", err)
	}

	s.publish(ctx, "requests", fmt.Sprintf(`{"event":"request_created","request_id":%d,"item_id":%d}`, created.ID, created.ItemID))
	s.auditLog(ctx, actor.ID, "request.create", created.ID, map[string]any{"item_id": item.ID})
	s.notifyEvent(ctx, notify.EventRequestCreated, "New request",
		fmt.Sprintf("Request #%d opened for %q", created.ID, item.Title))
	return created, nil
}

// Respond records the owner's decision on a pending request. Accepting
// a loan request requires loan duration in days; accepting a sale
// request opens the payment transaction. Repeating an already recorded
// decision is a no-op.
func (s *RequestService) Respond(ctx context.Context, actor domain.Actor, requestID int64, decision domain.RespondDecision, loanDurationDays *int) (domain.Request, error) {
	req, err := s.requests.GetByID(ctx, requestID)
	if err != nil {
		return domain.Request{}, fmt.Errorf("service: load request: %w", err)
	}
	item, err := s.items.GetByID(ctx, req.ItemID)
	if err != nil {
		return domain.Request{}, fmt.Errorf("service: load item: %w", err)
	}
	if item.OwnerID != actor.ID && !actor.Admin {
		return domain.Request{}, domain.ErrUnauthorized
	}

	switch decision {
	case domain.DecisionAccept:
		return s.accept(ctx, actor, req, item, loanDurationDays)
	case domain.DecisionReject:
		return s.reject(ctx, actor, req)
	default:
		return domain.Request{}, fmt.Errorf("service: unknown decision %q: %w", decision, domain.ErrInvalidPayload)
	}
}

func (s *RequestService) accept(ctx context.Context, actor domain.Actor, req domain.Request, item domain.Item, loanDurationDays *int) (domain.Request, error) {
	if req.Status == domain.RequestAccepted {
		// Duplicate accept: make sure the sale side effect happened.
		return req, s.openSaleTransaction(ctx, req, item)
	}
	if req.Status != domain.RequestPending {
		return domain.Request{}, fmt.Errorf("service: request is %s: %w", req.Status, domain.ErrInvalidState)
	}

	var days *int
	var deadline *time.Time
	if item.ExchangeType == domain.ExchangeLoan {
		if loanDurationDays == nil || *loanDurationDays < 1 {
			return domain.Request{}, fmt.Errorf("service: loan acceptance requires a positive duration: %w", domain.ErrInvalidPayload)
		}
		d := s.now().Add(time.Duration(*loanDurationDays) * 24 * time.Hour)
		days = loanDurationDays
		deadline = &d
	}

	applied, err := s.requests.Accept(ctx, req.ID, days, deadline)
	if err != nil {
		return domain.Request{}, fmt.Errorf("service: accept request: %w", err)
	}
	if !applied {
		// Lost the race; tolerate a concurrent accept, reject anything else.
		current, err := s.requests.GetByID(ctx, req.ID)
		if err != nil {
			return domain.Request{}, fmt.Errorf("service: reload request: %w", err)
		}
		if current.Status != domain.RequestAccepted {
			return domain.Request{}, fmt.Errorf("service: request is %s: %w", current.Status, domain.ErrInvalidState)
		}
		return current, s.openSaleTransaction(ctx, current, item)
	}

	accepted, err := s.requests.GetByID(ctx, req.ID)
	if err != nil {
		return domain.Request{}, fmt.Errorf("service: reload request: %w", err)
	}
	if err := s.openSaleTransaction(ctx, accepted, item); err != nil {
		return domain.Request{}, err
	}

	s.publish(ctx, "requests", fmt.Sprintf(`{"event":"request_accepted","request_id":%d}`, accepted.ID))
	s.auditLog(ctx, actor.ID, "request.accept", accepted.ID, map[string]any{"exchange_type": string(item.ExchangeType)})
	s.notifyEvent(ctx, notify.EventRequestDecided, "Request accepted",
		fmt.Sprintf("Request #%d for %q was accepted", accepted.ID, item.Title))
	return accepted, nil
}

func (s *RequestService) openSaleTransaction(ctx context.Context, req domain.Request, item domain.Item) error {
	if item.ExchangeType != domain.ExchangeSale {
		return nil
	}
	if s.txns == nil {
		return fmt.Errorf("service: no transaction opener configured")
	}
	if _, err := s.txns.Open(ctx, req.ID); err != nil {
		return fmt.Errorf("service: open sale transaction: %w", err)
	}
	return nil
}

func (s *RequestService) reject(ctx context.Context, actor domain.Actor, req domain.Request) (domain.Request, error) {
	if req.Status == domain.RequestRejected {
		return req, nil
	}
	if req.Status != domain.RequestPending {
		return domain.Request{}, fmt.Errorf("service: request is %s: %w", req.Status, domain.ErrInvalidState)
	}
	applied, err := s.requests.UpdateStatusIf(ctx, req.ID, []domain.RequestStatus{domain.RequestPending}, domain.RequestRejected)
	if err != nil {
		return domain.Request{}, fmt.Errorf("service: reject request: %w", err)
	}
	if !applied {
		current, err := s.requests.GetByID(ctx, req.ID)
		if err != nil {
			return domain.Request{}, fmt.Errorf("service: reload request: %w", err)
		}
		if current.Status == domain.RequestRejected {
			return current, nil
		}
		return domain.Request{}, fmt.Errorf("service: request is %s: %w", current.Status, domain.ErrInvalidState)
	}

	rejected, err := s.requests.GetByID(ctx, req.ID)
	if err != nil {
		return domain.Request{}, fmt.Errorf("service: reload request: %w", err)
	}
	s.publish(ctx, "requests", fmt.Sprintf(`{"event":"request_rejected","request_id":%d}`, rejected.ID))
	s.auditLog(ctx, actor.ID, "request.reject", rejected.ID, nil)
	s.notifyEvent(ctx, notify.EventRequestDecided, "Request rejected",
		fmt.Sprintf("Request #%d was rejected", rejected.ID))
	return rejected, nil
}

// Cancel withdraws a pending request. Only the requester may cancel;
// cancelling twice is a no-op.
func (s *RequestService) Cancel(ctx context.Context, actor domain.Actor, requestID int64) (domain.Request, error) {
	req, err := s.requests.GetByID(ctx, requestID)
	if err != nil {
		return domain.Request{}, fmt.Errorf("service: load request: %w", err)
	}
	if req.RequesterID != actor.ID && !actor.Admin {
		return domain.Request{}, domain.ErrUnauthorized
	}
	if req.Status == domain.RequestCancelled {
		return req, nil
	}
	if req.Status != domain.RequestPending {
		return domain.Request{}, fmt.Errorf("service: request is %s: %w", req.Status, domain.ErrInvalidState)
	}

	applied, err := s.requests.UpdateStatusIf(ctx, req.ID, []domain.RequestStatus{domain.RequestPending}, domain.RequestCancelled)
	if err != nil {
		return domain.Request{}, fmt.Errorf("service: cancel request: %w", err)
	}
	if !applied {
		current, err := s.requests.GetByID(ctx, req.ID)
		if err != nil {
			return domain.Request{}, fmt.Errorf("service: reload request: %w", err)
		}
		if current.Status == domain.RequestCancelled {
			return current, nil
		}
		return domain.Request{}, fmt.Errorf("service: request is %s: %w", current.Status, domain.ErrInvalidState)
	}

	cancelled, err := s.requests.GetByID(ctx, req.ID)
	if err != nil {
		return domain.Request{}, fmt.Errorf("service: reload request: %w", err)
	}
	s.publish(ctx, "requests", fmt.Sprintf(`{"event":"request_cancelled","request_id":%d}`, cancelled.ID))
	s.auditLog(ctx, actor.ID, "request.cancel", cancelled.ID, nil)
	return cancelled, nil
}

// MarkCompleted closes out an accepted free or loan exchange. Sale
// requests complete through the payment transaction instead.
func (s *RequestService) MarkCompleted(ctx context.Context, actor domain.Actor, requestID int64) (domain.Request, error) {
	req, err := s.requests.GetByID(ctx, requestID)
	if err != nil {
		return domain.Request{}, fmt.Errorf("service: load request: %w", err)
	}
	item, err := s.items.GetByID(ctx, req.ItemID)
	if err != nil {
		return domain.Request{}, fmt.Errorf("service: load item: %w", err)
	}
	if item.OwnerID != actor.ID && !actor.Admin {
		return domain.Request{}, domain.ErrUnauthorized
	}
	if item.ExchangeType == domain.ExchangeSale {
		return domain.Request{}, fmt.Errorf("service: sale requests complete through the transaction: %w", domain.ErrInvalidState)
	}
	if req.Status == domain.RequestCompleted {
		return req, nil
	}
	if req.Status != domain.RequestAccepted {
		return domain.Request{}, fmt.Errorf("service: request is %s: %w", req.Status, domain.ErrInvalidState)
	}

	applied, err := s.requests.UpdateStatusIf(ctx, req.ID, []domain.RequestStatus{domain.RequestAccepted}, domain.RequestCompleted)
	if err != nil {
		return domain.Request{}, fmt.Errorf("service: complete request: %w", err)
	}
	if !applied {
		current, err := s.requests.GetByID(ctx, req.ID)
		if err != nil {
			return domain.Request{}, fmt.Errorf("service: reload request: %w", err)
		}
		if current.Status == domain.RequestCompleted {
			return current, nil
		}
		return domain.Request{}, fmt.Errorf("service: request is %s: %w", current.Status, domain.ErrInvalidState)
	}

	done, err := s.requests.GetByID(ctx, req.ID)
	if err != nil {
		return domain.Request{}, fmt.Errorf("service: reload request: %w", err)
	}
	s.publish(ctx, "requests", fmt.Sprintf(`{"event":"request_completed","request_id":%d}`, done.ID))
	s.auditLog(ctx, actor.ID, "request.complete", done.ID, nil)
	return done, nil
}

// Get returns a single request visible to the actor: the requester, the
// item owner, or an admin.
func (s *RequestService) Get(ctx context.Context, actor domain.Actor, requestID int64) (domain.Request, error) {
	req, err := s.requests.GetByID(ctx, requestID)
	if err != nil {
		return domain.Request{}, fmt.Errorf("service: load request: %w", err)
	}
	if req.RequesterID == actor.ID || actor.Admin {
		return req, nil
	}
	item, err := s.items.GetByID(ctx, req.ItemID)
	if err != nil {
		return domain.Request{}, fmt.Errorf("service: load item: %w", err)
	}
	if item.OwnerID != actor.ID {
		return domain.Request{}, domain.ErrUnauthorized
	}
	return req, nil
}

// ListForActor lists requests where the actor is the requester
// (role "requester") or the item owner (role "owner").
func (s *RequestService) ListForActor(ctx context.Context, actor domain.Actor, role string, opts domain.ListOpts) ([]domain.Request, error) {
	switch role {
	case "", "requester":
		return s.requests.ListByRequester(ctx, actor.ID, opts)
	case "owner":
		return s.requests.ListByOwner(ctx, actor.ID, opts)
	default:
		return nil, fmt.Errorf("service: unknown role %q: %w", role, domain.ErrInvalidPayload)
	}
}

func (s *RequestService) publish(ctx context.Context, channel, payload string) {
	if s.bus == nil {
		return
	}
	if err := s.bus.Publish(ctx, channel, []byte(payload)); err != nil {
		s.logger.Warn("publish event", "channel", channel, "error", err)
	}
}

func (s *RequestService) auditLog(ctx context.Context, actorID int64, event string, subjectID int64, detail map[string]any) {
	if s.audit == nil {
		return
	}
	if detail == nil {
		detail = map[string]any{}
	}
	detail["actor_id"] = actorID
	detail["request_id"] = subjectID
	if err := s.audit.Log(ctx, event, detail); err != nil {
		s.logger.Warn("audit log", "event", event, "error", err)
	}
}

func (s *RequestService) notifyEvent(ctx context.Context, event, title, message string) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.Notify(ctx, event, title, message); err != nil {
		s.logger.Warn("dispatch notification", "event", event, "error", err)
	}
}
