package services

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"complyflow/backend/internal/apperr"
	"complyflow/backend/pkg/models"
)

func newDirectoryServer(t *testing.T) *HTTPDirectory {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("GET /orgs/{org}/people/{id}", func(w http.ResponseWriter, r *http.Request) {
		if r.PathValue("id") != bobPerson {
			http.NotFound(w, r)
			return
		}
		_ = json.NewEncoder(w).Encode(models.Person{
			ID: bobPerson, OrgID: r.PathValue("org"), DisplayName: "Bob Builder", ManagerID: strPtr(adaPerson),
		})
	})
	mux.HandleFunc("GET /orgs/{org}/people/{id}/manager", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(models.Person{ID: adaPerson, OrgID: r.PathValue("org"), DisplayName: "Ada Lovelace"})
	})
	mux.HandleFunc("GET /orgs/{org}/roles/{role}/members", func(w http.ResponseWriter, r *http.Request) {
		if r.PathValue("role") == "broken" {
			http.Error(w, "upstream unavailable", http.StatusBadGateway)
			return
		}
		_ = json.NewEncoder(w).Encode([]models.Person{{ID: adaPerson}, {ID: bobPerson}})
	})
	mux.HandleFunc("GET /orgs/{org}/users/{id}", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("{not json"))
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return NewHTTPDirectory(srv.URL, 2*time.Second)
}

func TestHTTPDirectory_Lookups(t *testing.T) {
	dir := newDirectoryServer(t)
	ctx := context.Background()

	p, err := dir.GetPerson(ctx, testOrgID, bobPerson)
	require.NoError(t, err)
	assert.Equal(t, "Bob Builder", p.DisplayName)
	assert.Equal(t, testOrgID, p.OrgID)

	m, err := dir.ManagerOf(ctx, testOrgID, bobPerson)
	require.NoError(t, err)
	assert.Equal(t, adaPerson, m.ID)

	members, err := dir.RoleMembers(ctx, testOrgID, "it_admin")
	require.NoError(t, err)
	require.Len(t, members, 2)
	assert.Equal(t, adaPerson, members[0].ID)
}

func TestHTTPDirectory_ErrorMapping(t *testing.T) {
	dir := newDirectoryServer(t)
	ctx := context.Background()

	_, err := dir.GetPerson(ctx, testOrgID, carlaPerson)
	assert.True(t, apperr.IsNotFound(err))

	_, err = dir.RoleMembers(ctx, testOrgID, "broken")
	require.Error(t, err)
	assert.Equal(t, apperr.CodeInternal, apperr.CodeOf(err))
	assert.Contains(t, err.Error(), "status code 502")

	_, err = dir.GetUser(ctx, testOrgID, "okta|ada")
	require.Error(t, err)
	assert.Equal(t, apperr.CodeInternal, apperr.CodeOf(err))

	unreachable := NewHTTPDirectory("http://127.0.0.1:1", 200*time.Millisecond)
	_, err = unreachable.GetPerson(ctx, testOrgID, bobPerson)
	assert.Equal(t, apperr.CodeInternal, apperr.CodeOf(err))
}
