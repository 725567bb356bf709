package services

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"complyflow/backend/internal/logging"
	"complyflow/backend/internal/repository"
	"complyflow/backend/pkg/models"
)

// mockPublisher records published events.
type mockPublisher struct {
	mock.Mock
}

func (m *mockPublisher) Publish(ctx context.Context, event *models.WorkflowEvent) {
	m.Called(ctx, event)
}

func (m *mockPublisher) eventTypes() []models.EventType {
	var out []models.EventType
	for _, call := range m.Calls {
		out = append(out, call.Arguments.Get(1).(*models.WorkflowEvent).Type)
	}
	return out
}

// mockDirectory lets a test fail directory lookups.
type mockDirectory struct {
	mock.Mock
}

func (m *mockDirectory) GetUser(ctx context.Context, orgID, userID string) (*models.User, error) {
	args := m.Called(ctx, orgID, userID)
	u, _ := args.Get(0).(*models.User)
	return u, args.Error(1)
}

func (m *mockDirectory) GetPerson(ctx context.Context, orgID, personID string) (*models.Person, error) {
	args := m.Called(ctx, orgID, personID)
	p, _ := args.Get(0).(*models.Person)
	return p, args.Error(1)
}

func (m *mockDirectory) ManagerOf(ctx context.Context, orgID, personID string) (*models.Person, error) {
	args := m.Called(ctx, orgID, personID)
	p, _ := args.Get(0).(*models.Person)
	return p, args.Error(1)
}

func (m *mockDirectory) RoleMembers(ctx context.Context, orgID, role string) ([]*models.Person, error) {
	args := m.Called(ctx, orgID, role)
	p, _ := args.Get(0).([]*models.Person)
	return p, args.Error(1)
}

const (
	testOrgID   = "5f1c4a6e-3f0e-4c1b-9a57-2f7a8d1e0b11"
	otherOrgID  = "9d2b7c3a-1e4f-4a6b-8c9d-0e1f2a3b4c5d"
	adaPerson   = "a1a1a1a1-0000-4000-8000-000000000001"
	bobPerson   = "b2b2b2b2-0000-4000-8000-000000000002"
	carlaPerson = "c3c3c3c3-0000-4000-8000-000000000003"
)

type fixture struct {
	ctx       context.Context
	repo      *repository.MemoryStore
	dir       *repository.MemoryDirectory
	auditLog  *repository.MemoryAuditLog
	events    *mockPublisher
	templates *TemplateService
	instances *InstanceService
	actor     *models.Actor
	clock     time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		ctx:      context.Background(),
		repo:     repository.NewMemoryStore(),
		dir:      repository.NewMemoryDirectory(),
		auditLog: &repository.MemoryAuditLog{},
		events:   &mockPublisher{},
		actor:    &models.Actor{UserID: "okta|designer", OrgID: testOrgID, Email: "designer@acme.test"},
		clock:    time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC),
	}
	f.events.On("Publish", mock.Anything, mock.Anything).Return()

	f.dir.AddUser(models.User{ID: "okta|designer", OrgID: testOrgID, Name: "Dana Designer", Email: "designer@acme.test"})
	f.dir.AddUser(models.User{ID: "okta|ada", OrgID: testOrgID, Name: "Ada", Email: "ada@acme.test"})
	f.dir.AddUser(models.User{ID: "okta|bob", OrgID: testOrgID, Name: "Bob", Email: "bob@acme.test"})
	ada, bob := "okta|ada", "okta|bob"
	f.dir.AddPerson(models.Person{ID: adaPerson, OrgID: testOrgID, UserID: &ada, DisplayName: "Ada Lovelace", Email: "ada@acme.test"})
	f.dir.AddPerson(models.Person{ID: bobPerson, OrgID: testOrgID, UserID: &bob, DisplayName: "Bob Builder", Email: "bob@acme.test", ManagerID: strPtr(adaPerson)})
	f.dir.AddPerson(models.Person{ID: carlaPerson, OrgID: testOrgID, DisplayName: "Carla", Email: "carla@acme.test", ManagerID: strPtr(bobPerson)})
	f.dir.AddRoleMember(testOrgID, "it_admin", bobPerson)
	f.dir.AddRoleMember(testOrgID, "it_admin", adaPerson)

	metrics, err := NewMetrics()
	require.NoError(t, err)
	log := logging.Nop()
	audit := NewAuditor(f.auditLog, log)
	f.templates = NewTemplateService(f.repo, f.dir, audit, metrics, log)
	f.instances = NewInstanceService(f.repo, f.dir, audit, f.events, metrics, log)
	f.instances.now = func() time.Time { return f.clock }
	return f
}

// createTemplate stores an active template with the given graph.
func (f *fixture) createTemplate(t *testing.T, steps []StepInput, edges []EdgeInput) *models.TemplateDetail {
	t.Helper()
	active := models.TemplateStatusActive
	tpl, err := f.templates.Create(f.ctx, f.actor, TemplateInput{
		Name:        "Employee onboarding",
		ModuleScope: "people",
		TriggerType: "manual",
		Status:      &active,
		Steps:       steps,
		Edges:       edges,
	})
	require.NoError(t, err)
	return tpl
}

func (f *fixture) start(t *testing.T, templateID string) *models.InstanceDetail {
	t.Helper()
	inst, err := f.instances.Start(f.ctx, f.actor, StartInput{
		TemplateID: templateID,
		EntityType: "person",
		EntityID:   carlaPerson,
	})
	require.NoError(t, err)
	return inst
}

func (f *fixture) setStep(t *testing.T, instanceID, stepID string, status models.StepStatus) *models.InstanceDetail {
	t.Helper()
	inst, err := f.instances.UpdateStep(f.ctx, f.actor, instanceID, stepID, StepPatch{Status: &status})
	require.NoError(t, err)
	return inst
}

func stepByName(t *testing.T, inst *models.InstanceDetail, name string) *models.InstanceStepView {
	t.Helper()
	for _, s := range inst.Steps {
		if s.Name == name {
			return s
		}
	}
	t.Fatalf("step %q not found", name)
	return nil
}

func newID() string { return uuid.New().String() }
