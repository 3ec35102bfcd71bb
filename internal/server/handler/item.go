package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/shareshelf/shareshelf/internal/domain"
)

// ItemService defines the methods the item handler requires from the
// service layer.
type ItemService interface {
	Create(ctx context.Context, actor domain.Actor, item domain.Item) (domain.Item, error)
	Get(ctx context.Context, id int64) (domain.Item, error)
	ListAvailable(ctx context.Context, opts domain.ListOpts) ([]domain.Item, error)
	ListMine(ctx context.Context, actor domain.Actor, opts domain.ListOpts) ([]domain.Item, error)
	SetAvailability(ctx context.Context, actor domain.Actor, id int64, available bool) error
}

// ItemHandler serves the item catalog endpoints.
type ItemHandler struct {
	items  ItemService
	logger *slog.Logger
}

func NewItemHandler(items ItemService, logger *slog.Logger) *ItemHandler {
	return &ItemHandler{items: items, logger: logger}
}

type createItemRequest struct {
	Title               string `json:"title"`
	ExchangeType        string `json:"exchangeType"`
	PriceCents          int64  `json:"priceCents"`
	ResourceKey         string `json:"resourceKey"`
	ResourceContentType string `json:"resourceContentType"`
}

// CreateItem registers a new item owned by the actor.
// POST /api/items
func (h *ItemHandler) CreateItem(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}

	var body createItemRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	item, err := h.items.Create(r.Context(), actor, domain.Item{
		Title:               body.Title,
		ExchangeType:        domain.ExchangeType(body.ExchangeType),
		PriceCents:          body.PriceCents,
		ResourceKey:         body.ResourceKey,
		ResourceContentType: body.ResourceContentType,
	})
	if err != nil {
		if writeDomainError(w, err) {
			return
		}
		h.logger.ErrorContext(r.Context(), "handler: create item failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to create item")
		return
	}

	writeJSON(w, http.StatusCreated, viewItem(item))
}

// ListItems returns available items, or the actor's own with ?mine=true.
// GET /api/items?mine=true&limit=50&offset=0
func (h *ItemHandler) ListItems(w http.ResponseWriter, r *http.Request) {
	opts := parseListOpts(r)

	var (
		items []domain.Item
		err   error
	)
	if r.URL.Query().Get("mine") == "true" {
		actor, ok := requireActor(w, r)
		if !ok {
			return
		}
		items, err = h.items.ListMine(r.Context(), actor, opts)
	} else {
		items, err = h.items.ListAvailable(r.Context(), opts)
	}
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list items failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list items")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"items": viewItems(items)})
}

// GetItem returns a single item.
// GET /api/items/{id}
func (h *ItemHandler) GetItem(w http.ResponseWriter, r *http.Request) {
	id := pathID(r, "id")
	if id == 0 {
		writeError(w, http.StatusBadRequest, "invalid item id")
		return
	}

	item, err := h.items.Get(r.Context(), id)
	if err != nil {
		if writeDomainError(w, err) {
			return
		}
		h.logger.ErrorContext(r.Context(), "handler: get item failed",
			slog.Int64("item_id", id),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to load item")
		return
	}

	writeJSON(w, http.StatusOK, viewItem(item))
}

type availabilityRequest struct {
	Available bool `json:"available"`
}

// SetAvailability opens or closes the actor's item for new requests.
// PUT /api/items/{id}/availability
func (h *ItemHandler) SetAvailability(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	id := pathID(r, "id")
	if id == 0 {
		writeError(w, http.StatusBadRequest, "invalid item id")
		return
	}

	var body availabilityRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	if err := h.items.SetAvailability(r.Context(), actor, id, body.Available); err != nil {
		if writeDomainError(w, err) {
			return
		}
		h.logger.ErrorContext(r.Context(), "handler: set availability failed",
			slog.Int64("item_id", id),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to update item")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"id": id, "available": body.Available})
}
