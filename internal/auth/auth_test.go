package auth

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"complyflow/backend/internal/apperr"
	"complyflow/backend/internal/config"
	"complyflow/backend/pkg/models"

	"github.com/coreos/go-oidc"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// NoOpLogger for testing
type NoOpLogger struct{}

func (l *NoOpLogger) Debug(msg string, args ...any) {}
func (l *NoOpLogger) Info(msg string, args ...any)  {}
func (l *NoOpLogger) Warn(msg string, args ...any)  {}
func (l *NoOpLogger) Error(msg string, args ...any) {}

// MockKeySet satisfies oidc.KeySet to bypass signature verification
type MockKeySet struct{}

func (m *MockKeySet) VerifySignature(ctx context.Context, jwtToken string) ([]byte, error) {
	parts := strings.Split(jwtToken, ".")
	if len(parts) != 3 {
		return nil, fmt.Errorf("malformed jwt")
	}
	return base64.RawURLEncoding.DecodeString(parts[1])
}

// MockTenants satisfies repository.TenantStore
type MockTenants struct {
	mock.Mock
}

func (m *MockTenants) GetTenantByDomain(ctx context.Context, domain string) (*models.Tenant, error) {
	args := m.Called(ctx, domain)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Tenant), args.Error(1)
}

func (m *MockTenants) CreateTenant(ctx context.Context, tenant *models.Tenant) error {
	args := m.Called(ctx, tenant)
	return args.Error(0)
}

const (
	testIssuer   = "https://test-issuer.com"
	testClientID = "test-client"
)

func fakeToken(t *testing.T, extra map[string]any) string {
	t.Helper()
	claims := map[string]any{
		"iss": testIssuer,
		"aud": testClientID,
		"exp": time.Now().Add(time.Hour).Unix(),
		"iat": time.Now().Add(-1 * time.Minute).Unix(),
	}
	for k, v := range extra {
		claims[k] = v
	}
	headerBytes, err := json.Marshal(map[string]any{"alg": "RS256", "typ": "JWT", "kid": "test-key"})
	require.NoError(t, err)
	payload, err := json.Marshal(claims)
	require.NoError(t, err)
	return base64.RawURLEncoding.EncodeToString(headerBytes) + "." +
		base64.RawURLEncoding.EncodeToString(payload) + "." +
		base64.RawURLEncoding.EncodeToString([]byte("fakesignature"))
}

func testVerifier() *oidc.IDTokenVerifier {
	return oidc.NewVerifier(testIssuer, &MockKeySet{}, &oidc.Config{
		ClientID:          testClientID,
		SkipClientIDCheck: true,
	})
}

// captureActor is a next handler recording the actor RequireAuth stored.
func captureActor(got **models.Actor) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*got, _ = ActorFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	})
}

func TestRequireAuth_BearerToken_BuildsActor(t *testing.T) {
	tenants := new(MockTenants)
	tenants.On("GetTenantByDomain", mock.Anything, "acme.com").
		Return(&models.Tenant{ID: "tenant-123", Name: "acme.com", Domain: "acme.com"}, nil)

	a := &Auth{apiVerifier: testVerifier(), tenants: tenants}

	token := fakeToken(t, map[string]any{
		"sub":   "okta|user-1",
		"email": "user@acme.com",
		"scp":   []string{ScopeWorkflowsRead},
	})
	req := httptest.NewRequest(http.MethodGet, "/api/v1/templates", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()

	var actor *models.Actor
	a.RequireAuth(captureActor(&actor)).ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.NotNil(t, actor)
	assert.Equal(t, "okta|user-1", actor.UserID)
	assert.Equal(t, "tenant-123", actor.OrgID)
	assert.Equal(t, "user@acme.com", actor.Email)
	assert.True(t, actor.HasScope(ScopeWorkflowsRead))
	assert.False(t, actor.HasScope(ScopeWorkflowsWrite))
	tenants.AssertExpectations(t)
}

func TestRequireAuth_BypassMode(t *testing.T) {
	tenants := new(MockTenants)
	tenants.On("GetTenantByDomain", mock.Anything, "localhost").Return(nil, apperr.NotFound("tenant", "localhost"))
	tenants.On("CreateTenant", mock.Anything, mock.MatchedBy(func(tenant *models.Tenant) bool {
		return tenant.Domain == "localhost"
	})).Run(func(args mock.Arguments) {
		args.Get(1).(*models.Tenant).ID = "dev-tenant-id"
	}).Return(nil)

	cfg := &config.Config{Environment: "DEV", DevModeBypass: true}
	a, err := New(context.Background(), cfg, tenants, &NoOpLogger{})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/templates", nil)
	rec := httptest.NewRecorder()

	var actor *models.Actor
	a.RequireAuth(captureActor(&actor)).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, actor)
	assert.Equal(t, DevUserID, actor.UserID)
	assert.Equal(t, "dev-tenant-id", actor.OrgID)
	assert.True(t, actor.HasScope(ScopeWorkflowsWrite))
	tenants.AssertExpectations(t)
}

func TestNew_IncompleteConfig(t *testing.T) {
	cfg := &config.Config{Environment: "PROD", DevModeBypass: true}
	_, err := New(context.Background(), cfg, new(MockTenants), &NoOpLogger{})
	assert.Error(t, err, "bypass is ignored outside DEV")
}

func TestRequireAuth_AutoProvisionTenant(t *testing.T) {
	tenants := new(MockTenants)
	tenants.On("GetTenantByDomain", mock.Anything, "startup.io").Return(nil, apperr.NotFound("tenant", "startup.io"))
	tenants.On("CreateTenant", mock.Anything, mock.MatchedBy(func(tenant *models.Tenant) bool {
		return tenant.Domain == "startup.io" && tenant.Name == "startup.io"
	})).Run(func(args mock.Arguments) {
		args.Get(1).(*models.Tenant).ID = "new-tenant-id"
	}).Return(nil)

	a := &Auth{apiVerifier: testVerifier(), tenants: tenants, logger: &NoOpLogger{}}
	token := fakeToken(t, map[string]any{"sub": "okta|founder", "email": "founder@Startup.io"})
	req := httptest.NewRequest(http.MethodGet, "/api/v1/templates", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()

	var actor *models.Actor
	a.RequireAuth(captureActor(&actor)).ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "new-tenant-id", actor.OrgID)
	assert.ElementsMatch(t, []string{ScopeWorkflowsRead, ScopeWorkflowsWrite}, actor.Scopes,
		"tokens without scp get the session scopes")
	tenants.AssertExpectations(t)
}

func TestRequireAuth_TenantLookupFailure(t *testing.T) {
	tenants := new(MockTenants)
	tenants.On("GetTenantByDomain", mock.Anything, "acme.com").Return(nil, errors.New("connection refused"))

	a := &Auth{apiVerifier: testVerifier(), tenants: tenants, logger: &NoOpLogger{}}
	token := fakeToken(t, map[string]any{"sub": "okta|u", "email": "u@acme.com"})
	req := httptest.NewRequest(http.MethodGet, "/api/v1/templates", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()

	a.RequireAuth(http.NotFoundHandler()).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	tenants.AssertNotCalled(t, "CreateTenant", mock.Anything, mock.Anything)
}

func TestRequireAuth_Rejects(t *testing.T) {
	tests := []struct {
		name   string
		header string
	}{
		{"no credentials", ""},
		{"garbage bearer", "Bearer not-a-jwt"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := &Auth{apiVerifier: testVerifier(), verifier: testVerifier(), tenants: new(MockTenants)}
			req := httptest.NewRequest(http.MethodGet, "/api/v1/templates", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			a.RequireAuth(http.NotFoundHandler()).ServeHTTP(rec, req)
			assert.Equal(t, http.StatusUnauthorized, rec.Code)
		})
	}

	t.Run("email without domain", func(t *testing.T) {
		a := &Auth{apiVerifier: testVerifier(), tenants: new(MockTenants)}
		req := httptest.NewRequest(http.MethodGet, "/api/v1/templates", nil)
		req.Header.Set("Authorization", "Bearer "+fakeToken(t, map[string]any{"sub": "x", "email": "nobody"}))
		rec := httptest.NewRecorder()
		a.RequireAuth(http.NotFoundHandler()).ServeHTTP(rec, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})
}

func TestRequireScope(t *testing.T) {
	e := echo.New()
	ok := func(c echo.Context) error { return c.NoContent(http.StatusNoContent) }
	h := RequireScope(ScopeWorkflowsWrite)(ok)

	run := func(actor *models.Actor) error {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/templates", nil)
		if actor != nil {
			req = req.WithContext(WithActor(req.Context(), actor))
		}
		return h(e.NewContext(req, httptest.NewRecorder()))
	}

	assert.NoError(t, run(&models.Actor{UserID: "u", Scopes: []string{ScopeWorkflowsWrite}}))

	var he *echo.HTTPError
	require.ErrorAs(t, run(&models.Actor{UserID: "u", Scopes: []string{ScopeWorkflowsRead}}), &he)
	assert.Equal(t, http.StatusForbidden, he.Code)

	require.ErrorAs(t, run(nil), &he)
	assert.Equal(t, http.StatusUnauthorized, he.Code)
}

func TestLoginAndCallback_Bypass(t *testing.T) {
	a := &Auth{authBypass: true}
	for _, h := range []http.HandlerFunc{a.LoginHandler, a.CallbackHandler} {
		rec := httptest.NewRecorder()
		h(rec, httptest.NewRequest(http.MethodGet, "/login", nil))
		assert.Equal(t, http.StatusSeeOther, rec.Code)
		assert.Equal(t, "/", rec.Header().Get("Location"))
	}

	rec := httptest.NewRecorder()
	a.LogoutHandler(rec, httptest.NewRequest(http.MethodGet, "/logout", nil))
	assert.Contains(t, rec.Header().Get("Set-Cookie"), "id_token=")
}
