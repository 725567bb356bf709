package services

import (
	"context"

	"complyflow/backend/pkg/models"
)

// Directory resolves users, people and roles owned by the people module.
// Lookups of absent records return an apperr NotFound error.
type Directory interface {
	GetUser(ctx context.Context, orgID, userID string) (*models.User, error)
	GetPerson(ctx context.Context, orgID, personID string) (*models.Person, error)
	ManagerOf(ctx context.Context, orgID, personID string) (*models.Person, error)
	// RoleMembers lists the holders of a role; the first entry is the
	// default pick when a step is assigned by role.
	RoleMembers(ctx context.Context, orgID, role string) ([]*models.Person, error)
}

// AuditLog is the append-only store behind the Auditor.
type AuditLog interface {
	Append(ctx context.Context, entry *models.AuditEntry) error
}

// EventPublisher delivers lifecycle events to downstream consumers such as
// the notification service. Publishing never fails the calling operation.
type EventPublisher interface {
	Publish(ctx context.Context, event *models.WorkflowEvent)
}
