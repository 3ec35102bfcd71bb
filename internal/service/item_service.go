package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/shareshelf/shareshelf/internal/domain"
)

// ItemService is the thin read/write surface over the item catalog that
// the exchange core needs. Full listing management lives elsewhere.
type ItemService struct {
	items  domain.ItemStore
	logger *slog.Logger
}

func NewItemService(items domain.ItemStore, logger *slog.Logger) *ItemService {
	return &ItemService{items: items, logger: logger}
}

// Create registers an item offered by the actor.
func (s *ItemService) Create(ctx context.Context, actor domain.Actor, item domain.Item) (domain.Item, error) {
	if item.Title == "" {
		return domain.Item{}, fmt.Errorf("service: item title required: %w", domain.ErrInvalidPayload)
	}
	if !item.ExchangeType.Valid() {
		return domain.Item{}, fmt.Errorf("service: unknown exchange type %q: %w", item.ExchangeType, domain.ErrInvalidPayload)
	}
	if item.ExchangeType == domain.ExchangeSale && item.PriceCents <= 0 {
		return domain.Item{}, fmt.Errorf("service: sale items need a positive price: %w", domain.ErrInvalidPayload)
	}
	item.OwnerID = actor.ID
	item.Available = true
	return s.items.Create(ctx, item)
}

// Get returns a single item.
func (s *ItemService) Get(ctx context.Context, id int64) (domain.Item, error) {
	return s.items.GetByID(ctx, id)
}

// ListAvailable returns items currently open for requests.
func (s *ItemService) ListAvailable(ctx context.Context, opts domain.ListOpts) ([]domain.Item, error) {
	return s.items.ListAvailable(ctx, opts)
}

// ListMine returns the actor's own items.
func (s *ItemService) ListMine(ctx context.Context, actor domain.Actor, opts domain.ListOpts) ([]domain.Item, error) {
	return s.items.ListByOwner(ctx, actor.ID, opts)
}

// SetAvailability opens or closes the actor's item for new requests.
func (s *ItemService) SetAvailability(ctx context.Context, actor domain.Actor, id int64, available bool) error {
	item, err := s.items.GetByID(ctx, id)
	if err != nil {
		return fmt.Errorf("service: load item: %w", err)
	}
	if item.OwnerID != actor.ID && !actor.Admin {
		return domain.ErrUnauthorized
	}
	return s.items.SetAvailability(ctx, id, available)
}
