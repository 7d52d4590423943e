// Package handler serves the public configuration lookups relays call before
// collecting anything.
package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"trackgate/internal/resolver"
	dErrors "trackgate/pkg/domain-errors"
	"trackgate/pkg/platform/httputil"
	"trackgate/pkg/requestcontext"
)

// Resolver answers configuration lookups from the domain index.
type Resolver interface {
	LookupDomain(ctx context.Context, domain string) (resolver.View, error)
	LookupClient(ctx context.Context, clientID string) (resolver.View, error)
}

// Handler serves GET /config/domain/{domain} and GET /config/client/{id}.
type Handler struct {
	resolver Resolver
	logger   *slog.Logger
}

func New(r Resolver, logger *slog.Logger) *Handler {
	return &Handler{resolver: r, logger: logger}
}

// Register registers the lookup routes on r.
func (h *Handler) Register(r chi.Router) {
	r.Get("/config/domain/{domain}", h.HandleLookupDomain)
	r.Get("/config/client/{id}", h.HandleLookupClient)
}

func (h *Handler) HandleLookupDomain(w http.ResponseWriter, r *http.Request) {
	view, err := h.resolver.LookupDomain(r.Context(), chi.URLParam(r, "domain"))
	h.respond(w, r, view, err)
}

func (h *Handler) HandleLookupClient(w http.ResponseWriter, r *http.Request) {
	view, err := h.resolver.LookupClient(r.Context(), chi.URLParam(r, "id"))
	h.respond(w, r, view, err)
}

// respond writes the view or an error. Callers block collection on anything
// but 200, so every failure is reported rather than defaulted.
func (h *Handler) respond(w http.ResponseWriter, r *http.Request, view resolver.View, err error) {
	if err != nil {
		if !dErrors.HasCode(err, dErrors.CodeNotFound) {
			h.logger.ErrorContext(r.Context(), "configuration lookup failed",
				"request_id", requestcontext.RequestID(r.Context()),
				"error", err,
			)
		}
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, view)
}
