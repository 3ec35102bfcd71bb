package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/shareshelf/shareshelf/internal/domain"
	"github.com/shareshelf/shareshelf/internal/server/middleware"
)

// writeJSON marshals v as JSON and writes it to the response with the given
// HTTP status code. If marshaling fails, it falls back to a plain-text 500.
func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	w.Write(data)
}

// writeError sends a JSON-formatted error response.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// requireActor resolves the acting party from the request context, writing a
// 401 when the request carries no identity. The boolean reports whether the
// handler may proceed.
func requireActor(w http.ResponseWriter, r *http.Request) (domain.Actor, bool) {
	actor, ok := middleware.ActorFrom(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing actor identity")
		return domain.Actor{}, false
	}
	return actor, true
}

// parseListOpts extracts standard pagination parameters from the query string.
// Defaults: limit=50 (max 500), offset=0.
func parseListOpts(r *http.Request) domain.ListOpts {
	q := r.URL.Query()

	limit := 50
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	if limit > 500 {
		limit = 500
	}

	offset := 0
	if v := q.Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}

	return domain.ListOpts{
		Limit:  limit,
		Offset: offset,
	}
}

// writeDomainError maps the ledger error taxonomy onto HTTP status codes.
// Unknown errors fall through to a 500 with a generic message; callers log
// the underlying error themselves.
func writeDomainError(w http.ResponseWriter, err error) bool {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, domain.ErrUnauthorized):
		writeError(w, http.StatusForbidden, "not allowed")
	case errors.Is(err, domain.ErrInvalidSignature):
		writeError(w, http.StatusForbidden, "invalid signature")
	case errors.Is(err, domain.ErrInvalidPayload):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrDuplicateRequest):
		writeError(w, http.StatusConflict, "an active request for this item already exists")
	case errors.Is(err, domain.ErrAlreadyExists):
		writeError(w, http.StatusConflict, "already exists")
	case errors.Is(err, domain.ErrItemUnavailable):
		writeError(w, http.StatusConflict, "item is not available")
	case errors.Is(err, domain.ErrInvalidState), errors.Is(err, domain.ErrInvalidTransition),
		errors.Is(err, domain.ErrRequestNotAccepted), errors.Is(err, domain.ErrNotASale):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, domain.ErrRateLimited):
		writeError(w, http.StatusTooManyRequests, "rate limited")
	case errors.Is(err, domain.ErrLockHeld):
		writeError(w, http.StatusServiceUnavailable, "delivery in progress, retry shortly")
	default:
		return false
	}
	return true
}

// pathID extracts a numeric path parameter using Go 1.22+ built-in routing.
// It returns 0 when the parameter is missing or not a positive integer.
func pathID(r *http.Request, name string) int64 {
	id, err := strconv.ParseInt(r.PathValue(name), 10, 64)
	if err != nil || id <= 0 {
		return 0
	}
	return id
}
