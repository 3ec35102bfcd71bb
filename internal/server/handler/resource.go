package handler

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/shareshelf/shareshelf/internal/domain"
	"github.com/shareshelf/shareshelf/internal/service"
)

// AccessService defines the access gate surface the resource handler needs.
type AccessService interface {
	CanAccess(ctx context.Context, actor domain.Actor, itemID int64) (domain.AccessDecision, error)
	FetchResource(ctx context.Context, actor domain.Actor, itemID int64, action domain.AccessAction, origin string) (*service.Resource, domain.AccessDecision, error)
}

// ResourceHandler gates and streams protected item files.
type ResourceHandler struct {
	access AccessService
	logger *slog.Logger
}

func NewResourceHandler(access AccessService, logger *slog.Logger) *ResourceHandler {
	return &ResourceHandler{access: access, logger: logger}
}

// CheckAccess answers whether the actor may read an item's resource without
// releasing it.
// GET /api/resource/access?item_id=123
func (h *ResourceHandler) CheckAccess(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	itemID, err := strconv.ParseInt(r.URL.Query().Get("item_id"), 10, 64)
	if err != nil || itemID <= 0 {
		writeError(w, http.StatusBadRequest, "item_id query parameter required")
		return
	}

	decision, err := h.access.CanAccess(r.Context(), actor, itemID)
	if err != nil {
		if writeDomainError(w, err) {
			return
		}
		h.logger.ErrorContext(r.Context(), "handler: access check failed",
			slog.Int64("item_id", itemID),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to check access")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"allowed": decision.Allowed,
		"reason":  string(decision.Reason),
	})
}

// ServeResource streams the protected file after the access gate allows it.
// Denials answer 403 with the machine-readable reason.
// GET /api/resource?item_id=123&action=view|download
func (h *ResourceHandler) ServeResource(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	itemID, err := strconv.ParseInt(r.URL.Query().Get("item_id"), 10, 64)
	if err != nil || itemID <= 0 {
		writeError(w, http.StatusBadRequest, "item_id query parameter required")
		return
	}

	action := domain.AccessAction(r.URL.Query().Get("action"))
	switch action {
	case "":
		action = domain.AccessDownload
	case domain.AccessView, domain.AccessDownload:
	default:
		writeError(w, http.StatusBadRequest, "action must be view or download")
		return
	}

	res, decision, err := h.access.FetchResource(r.Context(), actor, itemID, action, clientOrigin(r))
	if err != nil {
		if writeDomainError(w, err) {
			return
		}
		h.logger.ErrorContext(r.Context(), "handler: serve resource failed",
			slog.Int64("item_id", itemID),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to serve resource")
		return
	}
	if !decision.Allowed {
		writeJSON(w, http.StatusForbidden, denialBody(decision.Reason))
		return
	}
	defer res.Body.Close()

	w.Header().Set("Content-Type", res.ContentType)
	w.Header().Set("Content-Disposition", res.Disposition)
	if res.Size > 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(res.Size, 10))
	}
	if _, err := io.Copy(w, res.Body); err != nil {
		h.logger.WarnContext(r.Context(), "handler: resource stream interrupted",
			slog.Int64("item_id", itemID),
			slog.String("error", err.Error()),
		)
	}
}

// clientOrigin resolves the network origin of the request, preferring the
// first X-Forwarded-For hop when a proxy sits in front of the server.
func clientOrigin(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if i := strings.IndexByte(fwd, ','); i >= 0 {
			return strings.TrimSpace(fwd[:i])
		}
		return strings.TrimSpace(fwd)
	}
	return r.RemoteAddr
}

// denialBody builds the 403 payload: the machine-readable reason plus a
// human-readable explanation and the endpoint that remediates it.
func denialBody(reason domain.DenyReason) map[string]any {
	body := map[string]any{
		"allowed": false,
		"reason":  string(reason),
	}
	switch reason {
	case domain.DenyPaymentRequired:
		body["message"] = "Payment for this item has not been completed. Send a purchase request, then upload proof of payment or complete the provider checkout."
		body["remediation"] = "POST /api/requests, then POST /api/transactions/{id}/proof"
	case domain.DenyNotAuthorizedOrExpired:
		body["message"] = "No accepted loan covers this item, or the loan period has ended. Send a new request to the owner."
		body["remediation"] = "POST /api/requests"
	case domain.DenyPolicyUndefined:
		body["message"] = "This item's exchange policy is not recognized, so access is denied."
	}
	return body
}
