package gateway

import (
	"context"
	"net/http"

	"github.com/google/uuid"
)

type ctxKey int

const ctxKeyRequestID ctxKey = iota

// TagRequestID mints a request id for an inbound HTTP request and
// returns the tagged request along with the id. Ids are always
// generated server-side: they end up in audit log records, so a
// client-supplied value is never trusted. The HTTP layer echoes the
// id back to the caller; the adapter carries it into every structured
// log record of the session it becomes.
func TagRequestID(r *http.Request) (*http.Request, string) {
	id := uuid.New().String()
	return r.WithContext(context.WithValue(r.Context(), ctxKeyRequestID, id)), id
}

// requestIDFrom reads the id TagRequestID attached, or "" when the
// request skipped the HTTP middleware (tests, direct upgrades).
func requestIDFrom(ctx context.Context) string {
	if id, ok := ctx.Value(ctxKeyRequestID).(string); ok {
		return id
	}
	return ""
}
