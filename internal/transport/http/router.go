// Package httptransport assembles the public, pixel and admin routers.
package httptransport

import (
	"context"
	"log/slog"
	"net/http"
	"net/netip"

	"github.com/go-chi/chi/v5"

	adminhandler "trackgate/internal/clients/handler"
	confighandler "trackgate/internal/configapi/handler"
	"trackgate/internal/pixel"
	ratelimitmw "trackgate/internal/ratelimit/middleware"
	ratelimit "trackgate/internal/ratelimit/models"
	"trackgate/internal/platform/telemetry"
	"trackgate/pkg/platform/httputil"
	adminmw "trackgate/pkg/platform/middleware/admin"
	"trackgate/pkg/platform/middleware/metadata"
	"trackgate/pkg/platform/middleware/relay"
	"trackgate/pkg/platform/middleware/request"
	"trackgate/pkg/platform/middleware/requesttime"
)

// ReadinessCheck reports whether a dependency can serve traffic.
type ReadinessCheck func(ctx context.Context) error

// Deps carries everything the router mounts.
type Deps struct {
	Admin          *adminhandler.Handler
	Config         *confighandler.Handler
	Pixel          *pixel.Handler
	RateLimit      *ratelimitmw.Middleware
	TokenValidator adminmw.TokenValidator
	RelayKeys      []string
	TrustedProxies []netip.Prefix
	Ready          []ReadinessCheck
	ServiceName    string
	Logger         *slog.Logger
}

// NewRouter wires all endpoints. Each route group carries its own throttle and
// rate limit class so admin traffic cannot starve public lookups.
func NewRouter(d Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(request.Recovery(d.Logger))
	r.Use(request.RequestID)
	r.Use(request.Logger(d.Logger))
	r.Use(metadata.ClientMetadata(d.TrustedProxies))
	r.Use(requesttime.Middleware)
	if d.ServiceName != "" {
		r.Use(telemetry.HTTPMiddleware(d.ServiceName))
	}

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/readyz", readyHandler(d.Ready, d.Logger))

	r.Route("/api/v1", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(d.RateLimit.GlobalThrottle(ratelimit.ClassConfigLookup))
			r.Use(d.RateLimit.RateLimit(ratelimit.ClassConfigLookup))
			r.Use(relay.Identify(d.RelayKeys))
			d.Config.Register(r)
		})

		r.Route("/admin", func(r chi.Router) {
			r.Use(d.RateLimit.GlobalThrottle(ratelimit.ClassAdmin))
			r.Use(d.RateLimit.RateLimit(ratelimit.ClassAdmin))
			r.Use(adminmw.RequireAdmin(d.TokenValidator, d.Logger))
			d.Admin.Register(r)
		})
	})

	r.Group(func(r chi.Router) {
		r.Use(d.RateLimit.GlobalThrottle(ratelimit.ClassPixel))
		r.Use(d.RateLimit.RateLimit(ratelimit.ClassPixel))
		d.Pixel.Register(r)
	})

	return r
}

func readyHandler(checks []ReadinessCheck, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		for _, check := range checks {
			if err := check(r.Context()); err != nil {
				logger.WarnContext(r.Context(), "readiness check failed", "error", err)
				httputil.WriteJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
				return
			}
		}
		httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	}
}
