package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/shareshelf/shareshelf/internal/domain"
)

// RequestService defines the methods the request handler requires from the
// service layer.
type RequestService interface {
	Create(ctx context.Context, actor domain.Actor, itemID int64, note string) (domain.Request, error)
	Respond(ctx context.Context, actor domain.Actor, requestID int64, decision domain.RespondDecision, loanDurationDays *int) (domain.Request, error)
	Cancel(ctx context.Context, actor domain.Actor, requestID int64) (domain.Request, error)
	MarkCompleted(ctx context.Context, actor domain.Actor, requestID int64) (domain.Request, error)
	Get(ctx context.Context, actor domain.Actor, requestID int64) (domain.Request, error)
	ListForActor(ctx context.Context, actor domain.Actor, role string, opts domain.ListOpts) ([]domain.Request, error)
}

// RequestHandler serves the negotiation endpoints.
type RequestHandler struct {
	requests RequestService
	logger   *slog.Logger
}

func NewRequestHandler(requests RequestService, logger *slog.Logger) *RequestHandler {
	return &RequestHandler{requests: requests, logger: logger}
}

type createRequestRequest struct {
	ItemID int64  `json:"itemId"`
	Note   string `json:"note"`
}

// CreateRequest opens a pending request for an item.
// POST /api/requests
func (h *RequestHandler) CreateRequest(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}

	var body createRequestRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if body.ItemID <= 0 {
		writeError(w, http.StatusBadRequest, "itemId is required")
		return
	}

	req, err := h.requests.Create(r.Context(), actor, body.ItemID, body.Note)
	if err != nil {
		if writeDomainError(w, err) {
			return
		}
		h.logger.ErrorContext(r.Context(), "handler: create request failed",
			slog.Int64("item_id", body.ItemID),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to create request")
		return
	}

	writeJSON(w, http.StatusCreated, viewRequest(req))
}

// ListRequests lists requests involving the actor.
// GET /api/requests?role=requester|owner&limit=50&offset=0
func (h *RequestHandler) ListRequests(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}

	reqs, err := h.requests.ListForActor(r.Context(), actor, r.URL.Query().Get("role"), parseListOpts(r))
	if err != nil {
		if writeDomainError(w, err) {
			return
		}
		h.logger.ErrorContext(r.Context(), "handler: list requests failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list requests")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"requests": viewRequests(reqs)})
}

// GetRequest returns a single request visible to the actor.
// GET /api/requests/{id}
func (h *RequestHandler) GetRequest(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	id := pathID(r, "id")
	if id == 0 {
		writeError(w, http.StatusBadRequest, "invalid request id")
		return
	}

	req, err := h.requests.Get(r.Context(), actor, id)
	if err != nil {
		if writeDomainError(w, err) {
			return
		}
		h.logger.ErrorContext(r.Context(), "handler: get request failed",
			slog.Int64("request_id", id),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to load request")
		return
	}

	writeJSON(w, http.StatusOK, viewRequest(req))
}

type respondRequest struct {
	Decision         string `json:"decision"`
	LoanDurationDays *int   `json:"loanDurationDays,omitempty"`
}

// Respond records the owner's accept or reject decision.
// POST /api/requests/{id}/respond
func (h *RequestHandler) Respond(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	id := pathID(r, "id")
	if id == 0 {
		writeError(w, http.StatusBadRequest, "invalid request id")
		return
	}

	var body respondRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	req, err := h.requests.Respond(r.Context(), actor, id, domain.RespondDecision(body.Decision), body.LoanDurationDays)
	if err != nil {
		if writeDomainError(w, err) {
			return
		}
		h.logger.ErrorContext(r.Context(), "handler: respond failed",
			slog.Int64("request_id", id),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to record decision")
		return
	}

	writeJSON(w, http.StatusOK, viewRequest(req))
}

// Cancel withdraws the actor's pending request.
// POST /api/requests/{id}/cancel
func (h *RequestHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	id := pathID(r, "id")
	if id == 0 {
		writeError(w, http.StatusBadRequest, "invalid request id")
		return
	}

	req, err := h.requests.Cancel(r.Context(), actor, id)
	if err != nil {
		if writeDomainError(w, err) {
			return
		}
		h.logger.ErrorContext(r.Context(), "handler: cancel failed",
			slog.Int64("request_id", id),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to cancel request")
		return
	}

	writeJSON(w, http.StatusOK, viewRequest(req))
}

// Complete closes out an accepted free or loan exchange.
// POST /api/requests/{id}/complete
func (h *RequestHandler) Complete(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	id := pathID(r, "id")
	if id == 0 {
		writeError(w, http.StatusBadRequest, "invalid request id")
		return
	}

	req, err := h.requests.MarkCompleted(r.Context(), actor, id)
	if err != nil {
		if writeDomainError(w, err) {
			return
		}
		h.logger.ErrorContext(r.Context(), "handler: complete failed",
			slog.Int64("request_id", id),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to complete request")
		return
	}

	writeJSON(w, http.StatusOK, viewRequest(req))
}
