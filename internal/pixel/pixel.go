// Package pixel renders the configuration script embedded by tracking pixels.
// Scripts are served to end-user browsers, so they never carry the IP salt.
package pixel

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"text/template"

	"github.com/go-chi/chi/v5"

	"trackgate/internal/resolver"
	dErrors "trackgate/pkg/domain-errors"
	"trackgate/pkg/requestcontext"
)

// Resolver answers domain lookups.
type Resolver interface {
	LookupDomain(ctx context.Context, domain string) (resolver.View, error)
}

var scriptTemplate = template.Must(template.New("config.js").Parse(
	`(function(w){w.__trackgate=w.__trackgate||{};w.__trackgate.config={{.}};})(window);
`))

// Handler serves GET /pixel/v1/{domain}/config.js.
type Handler struct {
	resolver Resolver
	logger   *slog.Logger
}

func New(r Resolver, logger *slog.Logger) *Handler {
	return &Handler{resolver: r, logger: logger}
}

// Register registers the pixel route on r.
func (h *Handler) Register(r chi.Router) {
	r.Get("/pixel/v1/{domain}/config.js", h.HandleConfigScript)
}

func (h *Handler) HandleConfigScript(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	view, err := h.resolver.LookupDomain(ctx, chi.URLParam(r, "domain"))
	if err != nil {
		status := http.StatusNotFound
		if !dErrors.HasCode(err, dErrors.CodeNotFound) {
			status = http.StatusInternalServerError
			h.logger.ErrorContext(ctx, "pixel config lookup failed",
				"request_id", requestcontext.RequestID(ctx),
				"error", err,
			)
		}
		writeScript(w, status, []byte("/* trackgate: configuration unavailable */\n"))
		return
	}

	script, err := Render(view)
	if err != nil {
		h.logger.ErrorContext(ctx, "pixel config render failed",
			"request_id", requestcontext.RequestID(ctx),
			"error", err,
		)
		writeScript(w, http.StatusInternalServerError, []byte("/* trackgate: configuration unavailable */\n"))
		return
	}
	writeScript(w, http.StatusOK, script)
}

// Render produces the script for a view. The salt is always removed.
func Render(view resolver.View) ([]byte, error) {
	payload, err := json.Marshal(view.WithoutSalt())
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := scriptTemplate.Execute(&buf, string(payload)); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func writeScript(w http.ResponseWriter, status int, body []byte) {
	w.Header().Set("Content-Type", "application/javascript; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}
