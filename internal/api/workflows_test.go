package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"complyflow/backend/internal/auth"
	"complyflow/backend/internal/events"
	"complyflow/backend/internal/logging"
	"complyflow/backend/internal/repository"
	"complyflow/backend/internal/services"
	"complyflow/backend/pkg/models"
)

const testOrgID = "5f1c4a6e-3f0e-4c1b-9a57-2f7a8d1e0b11"

type testAPI struct {
	e     *echo.Echo
	actor *models.Actor
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	store := repository.NewMemoryStore()
	dir := repository.NewMemoryDirectory()
	dir.AddUser(models.User{ID: "okta|designer", OrgID: testOrgID, Name: "Dana Designer", Email: "dana@acme.test"})
	log := logging.Nop()
	metrics, err := services.NewMetrics()
	require.NoError(t, err)
	audit := services.NewAuditor(&repository.MemoryAuditLog{}, log)

	api := &testAPI{
		e: echo.New(),
		actor: &models.Actor{
			UserID: "okta|designer",
			OrgID:  testOrgID,
			Email:  "dana@acme.test",
			Scopes: []string{auth.ScopeWorkflowsRead, auth.ScopeWorkflowsWrite},
		},
	}
	api.e.HTTPErrorHandler = ErrorHandler(log)
	group := api.e.Group("/api/v1", func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ctx := auth.WithActor(c.Request().Context(), api.actor)
			c.SetRequest(c.Request().WithContext(ctx))
			return next(c)
		}
	})
	RegisterHandlers(group, NewServer(
		services.NewTemplateService(store, dir, audit, metrics, log),
		services.NewInstanceService(store, dir, audit, events.Nop{}, metrics, log),
	))
	api.e.GET("/health", NewHandler(store).HandleHealth)
	return api
}

func (a *testAPI) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	rec := httptest.NewRecorder()
	a.e.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func (a *testAPI) createTemplate(t *testing.T) *models.TemplateDetail {
	t.Helper()
	rec := a.do(t, http.MethodPost, "/api/v1/templates", map[string]any{
		"name":        "Employee onboarding",
		"moduleScope": "people",
		"status":      "active",
		"steps": []map[string]any{
			{"id": "a", "name": "A", "stepType": "task", "orderIndex": 0},
			{"id": "b", "parentStepId": "a", "name": "B", "stepType": "task", "orderIndex": 1},
		},
		"edges": []map[string]any{
			{"sourceStepId": "a", "targetStepId": "b", "conditionType": "always"},
		},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decode[*models.TemplateDetail](t, rec)
}

func (a *testAPI) startInstance(t *testing.T, templateID string) *models.InstanceDetail {
	t.Helper()
	rec := a.do(t, http.MethodPost, "/api/v1/instances", map[string]any{
		"templateId": templateID,
		"entityType": "person",
		"entityId":   uuid.NewString(),
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decode[*models.InstanceDetail](t, rec)
}

func stepID(t *testing.T, inst *models.InstanceDetail, name string) string {
	t.Helper()
	for _, s := range inst.Steps {
		if s.Name == name {
			return s.ID
		}
	}
	t.Fatalf("step %q not found", name)
	return ""
}

func assertProblem(t *testing.T, rec *httptest.ResponseRecorder, status int, code string) models.ProblemDetails {
	t.Helper()
	assert.Equal(t, status, rec.Code, rec.Body.String())
	assert.Equal(t, "application/problem+json", rec.Header().Get(echo.HeaderContentType))
	p := decode[models.ProblemDetails](t, rec)
	assert.Equal(t, status, p.Status)
	if code != "" {
		assert.Equal(t, code, p.Code)
	}
	return p
}

func TestAPI_WorkflowLifecycle(t *testing.T) {
	api := newTestAPI(t)
	tpl := api.createTemplate(t)
	require.Len(t, tpl.Steps, 2)
	require.Len(t, tpl.Edges, 1)
	require.NotNil(t, tpl.Creator)
	assert.Equal(t, "Dana Designer", tpl.Creator.Name)

	rec := api.do(t, http.MethodGet, "/api/v1/templates/"+tpl.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	got := decode[*models.TemplateDetail](t, rec)
	assert.Equal(t, tpl.Steps[0].ID, got.Steps[0].ID)

	inst := api.startInstance(t, tpl.ID)
	assert.Equal(t, models.InstanceStatusPending, inst.Status)
	base := "/api/v1/instances/" + inst.ID + "/steps/"

	for _, name := range []string{"A", "B"} {
		for _, status := range []string{"in_progress", "completed"} {
			rec = api.do(t, http.MethodPatch, base+stepID(t, inst, name), map[string]any{"status": status})
			require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		}
	}

	rec = api.do(t, http.MethodGet, "/api/v1/instances/"+inst.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	done := decode[*models.InstanceDetail](t, rec)
	assert.Equal(t, models.InstanceStatusCompleted, done.Status)
	assert.Equal(t, 2, done.CompletedSteps)
	assert.Equal(t, 100, done.Progress)
	assert.NotNil(t, done.CompletedAt)
	require.NotNil(t, done.Template)
	assert.Equal(t, "Employee onboarding", done.Template.Name)
}

func TestAPI_IllegalTransitionIsConflict(t *testing.T) {
	api := newTestAPI(t)
	inst := api.startInstance(t, api.createTemplate(t).ID)

	rec := api.do(t, http.MethodPatch, "/api/v1/instances/"+inst.ID+"/steps/"+stepID(t, inst, "A"),
		map[string]any{"status": "completed"})
	p := assertProblem(t, rec, http.StatusConflict, "INVALID_TRANSITION")
	assert.Equal(t, "pending", p.Errors["current"])
	assert.Equal(t, "/api/v1/instances/"+inst.ID+"/steps/"+stepID(t, inst, "A"), p.Instance)
}

func TestAPI_NotFoundAndMalformedIDs(t *testing.T) {
	api := newTestAPI(t)

	rec := api.do(t, http.MethodGet, "/api/v1/templates/"+uuid.NewString(), nil)
	assertProblem(t, rec, http.StatusNotFound, "NOT_FOUND")

	rec = api.do(t, http.MethodGet, "/api/v1/instances/not-a-uuid", nil)
	assertProblem(t, rec, http.StatusBadRequest, "")

	tpl := api.createTemplate(t)
	api.actor = &models.Actor{UserID: "okta|x", OrgID: uuid.NewString(),
		Scopes: []string{auth.ScopeWorkflowsRead}}
	rec = api.do(t, http.MethodGet, "/api/v1/templates/"+tpl.ID, nil)
	assertProblem(t, rec, http.StatusNotFound, "NOT_FOUND")
}

func TestAPI_TemplateValidationAndDelete(t *testing.T) {
	api := newTestAPI(t)

	rec := api.do(t, http.MethodPost, "/api/v1/templates", map[string]any{
		"name":  "Bad graph",
		"steps": []map[string]any{{"id": "a", "name": "A", "stepType": "task"}},
		"edges": []map[string]any{{"sourceStepId": "a", "targetStepId": "ghost"}},
	})
	p := assertProblem(t, rec, http.StatusBadRequest, "VALIDATION")
	assert.Contains(t, p.Errors, "edges[0].targetStepId")

	rec = api.do(t, http.MethodPost, "/api/v1/templates", "not an object")
	assertProblem(t, rec, http.StatusBadRequest, "")

	used := api.createTemplate(t)
	api.startInstance(t, used.ID)
	rec = api.do(t, http.MethodDelete, "/api/v1/templates/"+used.ID, nil)
	p = assertProblem(t, rec, http.StatusConflict, "CONFLICT")
	assert.Equal(t, "1", p.Errors["instanceCount"])

	unused := api.createTemplate(t)
	rec = api.do(t, http.MethodDelete, "/api/v1/templates/"+unused.ID, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestAPI_PatchTemplate(t *testing.T) {
	api := newTestAPI(t)
	tpl := api.createTemplate(t)

	rec := api.do(t, http.MethodPatch, "/api/v1/templates/"+tpl.ID, map[string]any{"name": "Onboarding v2"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	got := decode[*models.TemplateDetail](t, rec)
	assert.Equal(t, "Onboarding v2", got.Name)
	assert.Equal(t, 1, got.Version)

	rec = api.do(t, http.MethodPut, "/api/v1/templates/"+tpl.ID, map[string]any{
		"steps": []map[string]any{{"id": tpl.Steps[0].ID, "name": "Only", "stepType": "task"}},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	got = decode[*models.TemplateDetail](t, rec)
	assert.Equal(t, 2, got.Version)
	require.Len(t, got.Steps, 1)
	assert.Equal(t, tpl.Steps[0].ID, got.Steps[0].ID)
	assert.Empty(t, got.Edges)
}

func TestAPI_InstancesListAndCancel(t *testing.T) {
	api := newTestAPI(t)
	tpl := api.createTemplate(t)
	first := api.startInstance(t, tpl.ID)
	api.startInstance(t, tpl.ID)

	rec := api.do(t, http.MethodDelete, "/api/v1/instances/"+first.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, models.InstanceStatusCancelled, decode[*models.InstanceDetail](t, rec).Status)

	rec = api.do(t, http.MethodGet, "/api/v1/instances?status=cancelled&templateId="+tpl.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	list := decode[[]*models.InstanceSummary](t, rec)
	require.Len(t, list, 1)
	assert.Equal(t, first.ID, list[0].ID)

	rec = api.do(t, http.MethodGet, "/api/v1/instances?limit=1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]*models.InstanceSummary](t, rec), 1)

	rec = api.do(t, http.MethodGet, "/api/v1/instances?limit=abc", nil)
	assertProblem(t, rec, http.StatusBadRequest, "")

	rec = api.do(t, http.MethodPatch, "/api/v1/instances/"+first.ID, map[string]any{"status": "in_progress"})
	assertProblem(t, rec, http.StatusConflict, "INVALID_TRANSITION")

	rec = api.do(t, http.MethodGet, "/api/v1/templates?moduleScope=people", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	summaries := decode[[]*models.TemplateSummary](t, rec)
	require.Len(t, summaries, 1)
	assert.Equal(t, 2, summaries[0].InstanceCount)
}

func TestAPI_ScopeGate(t *testing.T) {
	api := newTestAPI(t)
	api.actor.Scopes = []string{auth.ScopeWorkflowsRead}

	rec := api.do(t, http.MethodPost, "/api/v1/templates", map[string]any{"name": "X"})
	assertProblem(t, rec, http.StatusForbidden, "")

	rec = api.do(t, http.MethodGet, "/api/v1/templates", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

type failingPinger struct{}

func (failingPinger) Ping(context.Context) error { return errors.New("down") }

func TestHealth(t *testing.T) {
	api := newTestAPI(t)
	rec := api.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", decode[models.HealthStatus](t, rec).Status)

	e := echo.New()
	e.GET("/health", NewHandler(failingPinger{}).HandleHealth)
	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "unreachable", decode[models.HealthStatus](t, rec).Checks["database"])
}

func TestSpecHandler(t *testing.T) {
	rec := httptest.NewRecorder()
	SpecHandler("https://acme.okta.com/oauth2/default")(rec, httptest.NewRequest(http.MethodGet, "/openapi.yaml", nil))
	body := rec.Body.String()
	assert.True(t, strings.HasPrefix(body, "openapi: 3"))
	assert.Contains(t, body, "https://acme.okta.com/oauth2/default/v1/authorize")
	assert.NotContains(t, body, "{oktaIssuer}")
}
