package middleware

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/shareshelf/shareshelf/internal/domain"
)

type actorKey struct{}

// Actor returns middleware that resolves the acting party from the
// X-Actor-ID and X-Actor-Role headers set by the upstream auth gateway and
// stores it in the request context. Requests without an actor still pass;
// handlers that need one reject anonymous requests themselves.
func Actor() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if raw := r.Header.Get("X-Actor-ID"); raw != "" {
				id, err := strconv.ParseInt(raw, 10, 64)
				if err == nil && id > 0 {
					actor := domain.Actor{
						ID:    id,
						Admin: strings.EqualFold(r.Header.Get("X-Actor-Role"), "admin"),
					}
					r = r.WithContext(context.WithValue(r.Context(), actorKey{}, actor))
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

// ActorFrom extracts the actor stored by the Actor middleware. The second
// return value is false for anonymous requests.
func ActorFrom(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorKey{}).(domain.Actor)
	return actor, ok
}
