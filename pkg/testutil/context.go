package testutil

import (
	"net/http"
	"time"

	"trackgate/pkg/requestcontext"
)

// WithActor adds an admin actor to the request context.
// This simulates what the admin middleware does for a valid token.
func WithActor(req *http.Request, actor string) *http.Request {
	return req.WithContext(requestcontext.WithActor(req.Context(), actor))
}

// WithRelayTrusted marks the request as coming from a trusted relay.
func WithRelayTrusted(req *http.Request) *http.Request {
	return req.WithContext(requestcontext.WithRelayTrusted(req.Context(), true))
}

// WithRequestTime pins the request-scoped clock.
func WithRequestTime(req *http.Request, t time.Time) *http.Request {
	return req.WithContext(requestcontext.WithTime(req.Context(), t))
}
