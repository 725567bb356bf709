package repository

import (
	"context"

	"complyflow/backend/pkg/models"
)

// TenantStore resolves and provisions organizations.
type TenantStore interface {
	// GetTenantByDomain returns the organization owning an email domain.
	GetTenantByDomain(ctx context.Context, domain string) (*models.Tenant, error)
	// CreateTenant provisions a new organization and fills in its ID.
	CreateTenant(ctx context.Context, tenant *models.Tenant) error
}

// Queries is the set of row-level operations on templates and instances.
// Every method runs inside the transaction it was handed by Repository.InTx.
// Methods that look up a single row return an apperr NotFound error when the
// row is missing or belongs to another organization.
type Queries interface {
	// Templates
	CreateTemplate(ctx context.Context, t *models.WorkflowTemplate) error
	GetTemplate(ctx context.Context, orgID, id string) (*models.WorkflowTemplate, error)
	UpdateTemplate(ctx context.Context, t *models.WorkflowTemplate) error
	DeleteTemplate(ctx context.Context, orgID, id string) error
	ListTemplates(ctx context.Context, orgID string, filter models.TemplateFilter) ([]*models.WorkflowTemplate, error)
	CountTemplateSteps(ctx context.Context, templateID string) (int, error)
	CountInstances(ctx context.Context, templateID string) (int, error)

	// Template graph
	ListTemplateSteps(ctx context.Context, templateID string) ([]*models.TemplateStep, error)
	ListTemplateEdges(ctx context.Context, templateID string) ([]*models.TemplateEdge, error)
	DeleteTemplateSteps(ctx context.Context, templateID string) error
	InsertTemplateStep(ctx context.Context, s *models.TemplateStep) error
	SetTemplateStepParent(ctx context.Context, templateID, stepID, parentID string) error
	InsertTemplateEdge(ctx context.Context, e *models.TemplateEdge) error

	// Instances
	CreateInstance(ctx context.Context, i *models.WorkflowInstance) error
	// GetInstance loads an instance; with lock set the row stays locked
	// until the surrounding transaction ends.
	GetInstance(ctx context.Context, orgID, id string, lock bool) (*models.WorkflowInstance, error)
	UpdateInstance(ctx context.Context, i *models.WorkflowInstance) error
	ListInstances(ctx context.Context, orgID string, filter models.InstanceFilter) ([]*models.WorkflowInstance, error)

	// Instance steps
	InsertInstanceStep(ctx context.Context, s *models.InstanceStep) error
	SetInstanceStepParent(ctx context.Context, instanceID, stepID, parentID string) error
	GetInstanceStep(ctx context.Context, instanceID, stepID string) (*models.InstanceStep, error)
	UpdateInstanceStep(ctx context.Context, s *models.InstanceStep) error
	ListInstanceSteps(ctx context.Context, instanceID string) ([]*models.InstanceStep, error)
	CountCompletedSteps(ctx context.Context, instanceID string) (int, error)
}

// Repository is the storage entry point used by the services.
type Repository interface {
	TenantStore
	// InTx runs fn in a single transaction. The transaction commits when fn
	// returns nil and rolls back otherwise.
	InTx(ctx context.Context, fn func(q Queries) error) error
	// Ping checks that storage is reachable.
	Ping(ctx context.Context) error
}
