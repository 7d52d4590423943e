// Package relay identifies trusted tracking relays by a shared API key.
package relay

import (
	"crypto/subtle"
	"net/http"

	"trackgate/pkg/requestcontext"
)

// HeaderName carries the relay API key.
const HeaderName = "X-Relay-Key"

// Identify marks requests presenting one of keys as relay-trusted. Requests
// without a matching key are served as untrusted, not rejected.
func Identify(keys []string) func(http.Handler) http.Handler {
	encoded := make([][]byte, 0, len(keys))
	for _, k := range keys {
		if k != "" {
			encoded = append(encoded, []byte(k))
		}
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			presented := r.Header.Get(HeaderName)
			trusted := presented != "" && matches(encoded, []byte(presented))
			ctx := requestcontext.WithRelayTrusted(r.Context(), trusted)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// matches compares against every key so timing does not reveal which one
// (or whether any) was close.
func matches(keys [][]byte, presented []byte) bool {
	found := 0
	for _, k := range keys {
		found |= subtle.ConstantTimeCompare(k, presented)
	}
	return found == 1
}
