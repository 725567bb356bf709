package services

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"complyflow/backend/internal/apperr"
	"complyflow/backend/pkg/models"
)

// HTTPDirectory is an HTTP implementation of the Directory interface backed
// by the people service.
type HTTPDirectory struct {
	url    string
	client *http.Client
}

// NewHTTPDirectory creates a new HTTPDirectory.
func NewHTTPDirectory(baseURL string, timeout time.Duration) *HTTPDirectory {
	return &HTTPDirectory{
		url:    baseURL,
		client: &http.Client{Timeout: timeout},
	}
}

// GetUser retrieves a system user.
func (c *HTTPDirectory) GetUser(ctx context.Context, orgID, userID string) (*models.User, error) {
	var u models.User
	if err := c.get(ctx, "user", userID, "/orgs/%s/users/%s", orgID, userID, &u); err != nil {
		return nil, err
	}
	return &u, nil
}

// GetPerson retrieves a business person.
func (c *HTTPDirectory) GetPerson(ctx context.Context, orgID, personID string) (*models.Person, error) {
	var p models.Person
	if err := c.get(ctx, "person", personID, "/orgs/%s/people/%s", orgID, personID, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// ManagerOf retrieves the manager of a person.
func (c *HTTPDirectory) ManagerOf(ctx context.Context, orgID, personID string) (*models.Person, error) {
	var p models.Person
	if err := c.get(ctx, "manager of person", personID, "/orgs/%s/people/%s/manager", orgID, personID, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// RoleMembers lists the holders of a role.
func (c *HTTPDirectory) RoleMembers(ctx context.Context, orgID, role string) ([]*models.Person, error) {
	var people []*models.Person
	if err := c.get(ctx, "role", role, "/orgs/%s/roles/%s/members", orgID, role, &people); err != nil {
		return nil, err
	}
	return people, nil
}

func (c *HTTPDirectory) get(ctx context.Context, entity, id, pathFmt, orgID, key string, out any) error {
	endpoint := c.url + fmt.Sprintf(pathFmt, url.PathEscape(orgID), url.PathEscape(key))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return apperr.Wrap(err, "failed to create directory request")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return apperr.Wrap(err, "directory request failed")
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return apperr.NotFound(entity, id)
	case resp.StatusCode != http.StatusOK:
		return apperr.Wrap(fmt.Errorf("status code %d", resp.StatusCode), "directory lookup failed")
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return apperr.Wrap(err, "failed to decode directory response")
	}
	return nil
}
