package handler

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"trackgate/internal/audit"
	auditmemory "trackgate/internal/audit/store/memory"
	"trackgate/internal/clients/models"
	"trackgate/internal/clients/service"
	"trackgate/internal/clients/store"
	"trackgate/internal/domainindex"
	"trackgate/internal/resolver"
	"trackgate/pkg/platform/middleware/relay"
	"trackgate/pkg/testutil"
)

const relayKey = "relay-secret"

type LookupSuite struct {
	suite.Suite
	service *service.Service
	router  http.Handler
}

func TestLookupSuite(t *testing.T) {
	suite.Run(t, new(LookupSuite))
}

func (s *LookupSuite) SetupTest() {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	clients := store.NewInMemory()
	index := domainindex.New(domainindex.WithLoader(clients))
	s.service = service.New(clients, index, audit.NewPublisher(auditmemory.NewInMemoryStore()),
		service.WithLogger(logger))

	r := chi.NewRouter()
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(relay.Identify([]string{relayKey}))
		New(s.service, logger).Register(r)
	})
	s.router = r
}

func (s *LookupSuite) seed(level models.PrivacyLevel, domain string) *models.Client {
	ctx := context.Background()
	c, err := s.service.CreateClient(ctx, &models.CreateClientRequest{
		Name:                "Acme",
		Owner:               "ops@acme.test",
		PrivacyLevel:        level,
		DeploymentType:      models.DeploymentDedicated,
		VMHostname:          "collector.acme.test",
		IPCollectionEnabled: true,
		Features:            models.Features{models.FeaturePageViews: true, models.FeatureSessionReplay: true},
	})
	s.Require().NoError(err)
	_, err = s.service.AuthorizeDomain(ctx, c.ID.String(), &models.AuthorizeDomainRequest{Domain: domain, IsPrimary: true})
	s.Require().NoError(err)
	return c
}

func (s *LookupSuite) get(path string, trusted bool) (int, *resolver.View, map[string]any) {
	req := testutil.NewRequest(s.T(), http.MethodGet, path)
	if trusted {
		req.Header.Set(relay.HeaderName, relayKey)
	}
	rec := testutil.DoRequest(s.router, req)
	if rec.Code != http.StatusOK {
		return rec.Code, nil, *testutil.UnmarshalResponse[map[string]any](s.T(), rec)
	}
	return rec.Code, testutil.UnmarshalResponse[resolver.View](s.T(), rec), nil
}

func (s *LookupSuite) TestLookupByDomain() {
	c := s.seed(models.PrivacyStandard, "shop.example.com")

	code, view, _ := s.get("/api/v1/config/domain/SHOP.example.com", false)
	s.Require().Equal(http.StatusOK, code)
	s.Equal(c.ID.String(), view.ClientID)
	s.Equal("standard", view.PrivacyLevel)
	s.True(view.IPCollection.Enabled)
	s.False(view.IPCollection.HashRequired)
	s.Nil(view.IPCollection.Salt)
	s.Equal("dedicated", view.Deployment.Type)
	s.Require().NotNil(view.Deployment.Hostname)
	s.Equal("collector.acme.test", *view.Deployment.Hostname)
}

func (s *LookupSuite) TestSaltOnlyForTrustedRelays() {
	c := s.seed(models.PrivacyGDPR, "eu.example.com")

	code, view, _ := s.get("/api/v1/config/domain/eu.example.com", false)
	s.Require().Equal(http.StatusOK, code)
	s.True(view.IPCollection.HashRequired)
	s.False(view.IPCollection.Enabled)
	s.Nil(view.IPCollection.Salt)
	s.False(view.Features[models.FeatureSessionReplay])

	code, view, _ = s.get("/api/v1/config/domain/eu.example.com", true)
	s.Require().Equal(http.StatusOK, code)
	s.Require().NotNil(view.IPCollection.Salt)
	s.Equal(c.IPSalt, *view.IPCollection.Salt)

	code, view, _ = s.get("/api/v1/config/client/"+c.ID.String(), true)
	s.Require().Equal(http.StatusOK, code)
	s.NotNil(view.IPCollection.Salt)
}

func (s *LookupSuite) TestMissesAreIndistinguishable() {
	c := s.seed(models.PrivacyStandard, "gone.example.com")
	_, err := s.service.DeactivateClient(context.Background(), c.ID.String())
	s.Require().NoError(err)

	paths := []string{
		"/api/v1/config/domain/unknown.example.com",
		"/api/v1/config/domain/not_a_domain",
		"/api/v1/config/domain/gone.example.com",
		"/api/v1/config/client/" + c.ID.String(),
		"/api/v1/config/client/not-a-uuid",
		"/api/v1/config/client/00000000-0000-4000-8000-000000000000",
	}
	var first map[string]any
	for _, path := range paths {
		code, _, body := s.get(path, false)
		s.Equal(http.StatusNotFound, code, path)
		if first == nil {
			first = body
			continue
		}
		s.Equal(first, body, path)
	}
}

func TestRespondHidesInternalErrors(t *testing.T) {
	h := New(nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
	rec := testutil.DoRequest(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h.respond(w, r, resolver.View{}, assert.AnError)
	}), testutil.NewRequest(t, http.MethodGet, "/"))

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	body := testutil.UnmarshalErrorResponse(t, rec)
	assert.Equal(t, "internal_error", body.Error)
	assert.Empty(t, body.ErrorDescription)
}
