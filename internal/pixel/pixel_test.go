package pixel

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trackgate/internal/resolver"
	dErrors "trackgate/pkg/domain-errors"
	"trackgate/pkg/testutil"
)

type stubResolver struct {
	view resolver.View
	err  error
}

func (s stubResolver) LookupDomain(context.Context, string) (resolver.View, error) {
	return s.view, s.err
}

func regulatedView() resolver.View {
	salt := "9f86d081884c7d659a2feaa0c55ad015a3bf4f1b2b0b822cd15d6c15b0f00a08"
	return resolver.View{
		ClientID:     "5b0c6a4e-3d1f-4c1e-9a57-2f1d0c1b2a3e",
		PrivacyLevel: "gdpr",
		IPCollection: resolver.IPCollection{HashRequired: true, Salt: &salt},
		Consent:      resolver.Consent{Required: true, DefaultBehavior: resolver.ConsentBlock},
		Features:     map[string]bool{"page_views": true},
		Deployment:   resolver.Deployment{Type: "shared"},
	}
}

func newRouter(r Resolver) http.Handler {
	router := chi.NewRouter()
	New(r, slog.New(slog.NewTextHandler(io.Discard, nil))).Register(router)
	return router
}

func TestRenderNeverEmbedsSalt(t *testing.T) {
	view := regulatedView()
	script, err := Render(view)
	require.NoError(t, err)

	body := string(script)
	assert.NotContains(t, body, *view.IPCollection.Salt)
	assert.Contains(t, body, `"salt":null`)
	assert.Contains(t, body, `"default_behavior":"block"`)
	assert.True(t, strings.HasPrefix(body, "(function(w){"))
}

func TestRenderEscapesMarkup(t *testing.T) {
	view := regulatedView()
	view.Features = map[string]bool{"custom.</script><script>": true}
	script, err := Render(view)
	require.NoError(t, err)
	assert.NotContains(t, string(script), "</script>")
}

func TestConfigScriptHandler(t *testing.T) {
	t.Run("trusted context still strips salt", func(t *testing.T) {
		view := regulatedView()
		req := testutil.WithRelayTrusted(testutil.NewRequest(t, http.MethodGet, "/pixel/v1/shop.example.com/config.js"))
		rec := testutil.DoRequest(newRouter(stubResolver{view: view}), req)

		testutil.AssertStatusOK(t, rec)
		assert.Equal(t, "application/javascript; charset=utf-8", rec.Header().Get("Content-Type"))
		assert.NotContains(t, rec.Body.String(), *view.IPCollection.Salt)
	})

	t.Run("unknown domain", func(t *testing.T) {
		err := dErrors.New(dErrors.CodeNotFound, "configuration not found")
		rec := testutil.DoRequest(newRouter(stubResolver{err: err}),
			testutil.NewRequest(t, http.MethodGet, "/pixel/v1/nope.example.com/config.js"))
		testutil.AssertStatus(t, rec, http.StatusNotFound)
		assert.NotContains(t, rec.Body.String(), "w.__trackgate.config")
	})

	t.Run("lookup failure", func(t *testing.T) {
		rec := testutil.DoRequest(newRouter(stubResolver{err: assert.AnError}),
			testutil.NewRequest(t, http.MethodGet, "/pixel/v1/shop.example.com/config.js"))
		testutil.AssertStatus(t, rec, http.StatusInternalServerError)
	})
}
