// Package handler exposes the administrative client and domain endpoints.
package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"trackgate/internal/audit"
	"trackgate/internal/clients/models"
	dErrors "trackgate/pkg/domain-errors"
	"trackgate/pkg/platform/httputil"
	"trackgate/pkg/requestcontext"
)

// Service defines the registry operations the admin API needs.
type Service interface {
	CreateClient(ctx context.Context, req *models.CreateClientRequest) (*models.Client, error)
	GetClient(ctx context.Context, clientID string) (*models.Client, error)
	ListClients(ctx context.Context) ([]*models.Client, error)
	UpdateClient(ctx context.Context, clientID string, req *models.UpdateClientRequest) (*models.Client, error)
	DeactivateClient(ctx context.Context, clientID string) (*models.Client, error)
	ReactivateClient(ctx context.Context, clientID string) (*models.Client, error)
	AuthorizeDomain(ctx context.Context, clientID string, req *models.AuthorizeDomainRequest) (*models.DomainIndexEntry, error)
	DeauthorizeDomain(ctx context.Context, clientID, domain string) error
	ListDomains(ctx context.Context, clientID string) ([]*models.Domain, error)
	GetDomain(ctx context.Context, clientID, domain string) (*models.Domain, error)
}

// AuditReader reads the configuration change history.
type AuditReader interface {
	ListByClient(ctx context.Context, clientID string) ([]audit.ConfigurationChange, error)
	ListByTimeRange(ctx context.Context, from, to time.Time) ([]audit.ConfigurationChange, error)
}

// Handler serves the admin API. Authentication is applied by the caller's router.
type Handler struct {
	service Service
	audits  AuditReader
	logger  *slog.Logger
}

// New creates a new admin Handler.
func New(service Service, audits AuditReader, logger *slog.Logger) *Handler {
	return &Handler{
		service: service,
		audits:  audits,
		logger:  logger,
	}
}

// Register registers the admin routes on r.
func (h *Handler) Register(r chi.Router) {
	r.Route("/clients", func(r chi.Router) {
		r.Post("/", h.HandleCreateClient)
		r.Get("/", h.HandleListClients)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", h.HandleGetClient)
			r.Put("/", h.HandleUpdateClient)
			r.Patch("/", h.HandleUpdateClient)
			r.Delete("/", h.HandleDeactivateClient)
			r.Post("/deactivate", h.HandleDeactivateClient)
			r.Post("/reactivate", h.HandleReactivateClient)
			r.Get("/changes", h.HandleListClientChanges)

			r.Post("/domains", h.HandleAuthorizeDomain)
			r.Get("/domains", h.HandleListDomains)
			r.Get("/domains/{domain}", h.HandleGetDomain)
			r.Delete("/domains/{domain}", h.HandleDeauthorizeDomain)
		})
	})
	r.Get("/changes", h.HandleListChanges)
}

// clientResponse never carries the salt, only whether one exists.
type clientResponse struct {
	*models.Client
	IPSaltSet bool `json:"ip_salt_set"`
}

func toClientResponse(c *models.Client) clientResponse {
	return clientResponse{Client: c, IPSaltSet: c.IPSalt != ""}
}

type listClientsResponse struct {
	Clients []clientResponse `json:"clients"`
}

type listDomainsResponse struct {
	Domains []*models.Domain `json:"domains"`
}

type listChangesResponse struct {
	Changes []audit.ConfigurationChange `json:"changes"`
}

func (h *Handler) HandleCreateClient(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	var req models.CreateClientRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		h.logger.WarnContext(ctx, "invalid create client request",
			"request_id", requestID,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}

	client, err := h.service.CreateClient(ctx, &req)
	if err != nil {
		h.fail(ctx, w, "failed to create client", err)
		return
	}
	writeClient(w, http.StatusCreated, client)
}

func (h *Handler) HandleListClients(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	clients, err := h.service.ListClients(ctx)
	if err != nil {
		h.fail(ctx, w, "failed to list clients", err)
		return
	}
	resp := listClientsResponse{Clients: make([]clientResponse, 0, len(clients))}
	for _, c := range clients {
		resp.Clients = append(resp.Clients, toClientResponse(c))
	}
	httputil.WriteJSON(w, http.StatusOK, resp)
}

func (h *Handler) HandleGetClient(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	client, err := h.service.GetClient(ctx, chi.URLParam(r, "id"))
	if err != nil {
		h.fail(ctx, w, "failed to get client", err)
		return
	}
	writeClient(w, http.StatusOK, client)
}

// HandleUpdateClient applies a partial update. The expected version comes from
// the body or, when absent there, from If-Match. One of the two is required;
// If-Match: * opts into updating whatever version is current.
func (h *Handler) HandleUpdateClient(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	var req models.UpdateClientRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		h.logger.WarnContext(ctx, "invalid update client request",
			"request_id", requestID,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}
	if req.Version == 0 {
		version, present, err := parseIfMatch(r.Header.Get("If-Match"))
		if err != nil {
			httputil.WriteError(w, err)
			return
		}
		if !present {
			h.logger.WarnContext(ctx, "update without expected version",
				"request_id", requestID,
				"client_id", chi.URLParam(r, "id"),
			)
			httputil.WriteError(w, dErrors.New(dErrors.CodePreconditionReq,
				"send the client version in the body or an If-Match header"))
			return
		}
		req.Version = version
	}

	client, err := h.service.UpdateClient(ctx, chi.URLParam(r, "id"), &req)
	if err != nil {
		h.fail(ctx, w, "failed to update client", err)
		return
	}
	writeClient(w, http.StatusOK, client)
}

func (h *Handler) HandleDeactivateClient(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	client, err := h.service.DeactivateClient(ctx, chi.URLParam(r, "id"))
	if err != nil {
		h.fail(ctx, w, "failed to deactivate client", err)
		return
	}
	writeClient(w, http.StatusOK, client)
}

func (h *Handler) HandleReactivateClient(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	client, err := h.service.ReactivateClient(ctx, chi.URLParam(r, "id"))
	if err != nil {
		h.fail(ctx, w, "failed to reactivate client", err)
		return
	}
	writeClient(w, http.StatusOK, client)
}

func (h *Handler) HandleAuthorizeDomain(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	var req models.AuthorizeDomainRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		h.logger.WarnContext(ctx, "invalid authorize domain request",
			"request_id", requestID,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}

	entry, err := h.service.AuthorizeDomain(ctx, chi.URLParam(r, "id"), &req)
	if err != nil {
		h.fail(ctx, w, "failed to authorize domain", err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, entry)
}

func (h *Handler) HandleListDomains(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	domains, err := h.service.ListDomains(ctx, chi.URLParam(r, "id"))
	if err != nil {
		h.fail(ctx, w, "failed to list domains", err)
		return
	}
	if domains == nil {
		domains = []*models.Domain{}
	}
	httputil.WriteJSON(w, http.StatusOK, listDomainsResponse{Domains: domains})
}

func (h *Handler) HandleGetDomain(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	domain, err := h.service.GetDomain(ctx, chi.URLParam(r, "id"), chi.URLParam(r, "domain"))
	if err != nil {
		h.fail(ctx, w, "failed to get domain", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, domain)
}

func (h *Handler) HandleDeauthorizeDomain(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if err := h.service.DeauthorizeDomain(ctx, chi.URLParam(r, "id"), chi.URLParam(r, "domain")); err != nil {
		h.fail(ctx, w, "failed to deauthorize domain", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) HandleListClientChanges(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	changes, err := h.audits.ListByClient(ctx, chi.URLParam(r, "id"))
	if err != nil {
		h.fail(ctx, w, "failed to list client changes", err)
		return
	}
	writeChanges(w, changes)
}

// HandleListChanges lists changes in [from, to). Both bounds are RFC3339.
func (h *Handler) HandleListChanges(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	query := r.URL.Query()
	from, err := parseTime("from", query.Get("from"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	to, err := parseTime("to", query.Get("to"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	changes, err := h.audits.ListByTimeRange(ctx, from, to)
	if err != nil {
		h.fail(ctx, w, "failed to list changes", err)
		return
	}
	writeChanges(w, changes)
}

// fail logs at warn for caller mistakes and at error for everything else.
func (h *Handler) fail(ctx context.Context, w http.ResponseWriter, msg string, err error) {
	level := slog.LevelWarn
	if httputil.StatusFor(dErrors.CodeOf(err)) >= http.StatusInternalServerError {
		level = slog.LevelError
	}
	h.logger.Log(ctx, level, msg,
		"request_id", requestcontext.RequestID(ctx),
		"error", err,
	)
	httputil.WriteError(w, err)
}

func writeClient(w http.ResponseWriter, status int, c *models.Client) {
	w.Header().Set("ETag", strconv.Quote(strconv.FormatInt(c.Version, 10)))
	httputil.WriteJSON(w, status, toClientResponse(c))
}

func writeChanges(w http.ResponseWriter, changes []audit.ConfigurationChange) {
	if changes == nil {
		changes = []audit.ConfigurationChange{}
	}
	httputil.WriteJSON(w, http.StatusOK, listChangesResponse{Changes: changes})
}

// parseIfMatch accepts a bare or quoted version number. present is false when
// the header is missing; "*" is present with version 0, meaning any version.
func parseIfMatch(header string) (version int64, present bool, err error) {
	value := strings.TrimSpace(header)
	switch value {
	case "":
		return 0, false, nil
	case "*":
		return 0, true, nil
	}
	value = strings.Trim(strings.TrimPrefix(value, "W/"), `"`)
	version, err = strconv.ParseInt(value, 10, 64)
	if err != nil || version <= 0 {
		return 0, true, dErrors.New(dErrors.CodeBadRequest, "If-Match must carry a client version")
	}
	return version, true, nil
}

func parseTime(name, raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, dErrors.New(dErrors.CodeValidation, name+" is required")
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, dErrors.New(dErrors.CodeValidation, name+" must be an RFC3339 timestamp")
	}
	return t.UTC(), nil
}
