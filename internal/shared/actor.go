package shared

import (
	"context"
	"net/http"
	"strconv"
	"strings"
)

// ActorHeader carries the acting user id set by the upstream auth proxy.
const ActorHeader = "X-User-ID"

// SystemActor is used by background jobs.
const SystemActor int64 = 0

type actorContextKey struct{}

// ContextWithActor stores the acting user id in context.
func ContextWithActor(ctx context.Context, userID int64) context.Context {
	return context.WithValue(ctx, actorContextKey{}, userID)
}

// ActorFromContext returns the acting user id, or SystemActor when absent.
func ActorFromContext(ctx context.Context) int64 {
	id, ok := ctx.Value(actorContextKey{}).(int64)
	if !ok {
		return SystemActor
	}
	return id
}

// ActorFromRequest parses ActorHeader. Missing or malformed values yield SystemActor.
func ActorFromRequest(r *http.Request) int64 {
	raw := strings.TrimSpace(r.Header.Get(ActorHeader))
	if raw == "" {
		return SystemActor
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id < 0 {
		return SystemActor
	}
	return id
}

// NullableActor maps SystemActor to nil for nullable user columns.
func NullableActor(id int64) *int64 {
	if id == SystemActor {
		return nil
	}
	return &id
}
