package repository

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"complyflow/backend/internal/apperr"
	"complyflow/backend/pkg/models"
)

func newTestPool(t *testing.T) *pgxpool.Pool {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping postgres container test in short mode")
	}
	testcontainers.SkipIfProviderIsNotHealthy(t)
	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("complyflow"),
		postgres.WithUsername("user"),
		postgres.WithPassword("password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2)),
	)
	if err != nil {
		t.Skipf("postgres container unavailable: %v", err)
	}
	t.Cleanup(func() {
		if err := pgContainer.Terminate(ctx); err != nil {
			t.Logf("failed to terminate container: %s", err)
		}
	})

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	pool, err := pgxpool.New(ctx, connStr)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	require.NoError(t, NewPostgresStore(pool).Migrate(ctx))
	return pool
}

func TestPostgresStore(t *testing.T) {
	ctx := context.Background()
	pool := newTestPool(t)
	store := NewPostgresStore(pool)

	tenant := &models.Tenant{Name: "Acme", Domain: "acme.test"}
	require.NoError(t, store.CreateTenant(ctx, tenant))
	orgID := tenant.ID

	tpl := &models.WorkflowTemplate{
		ID: uuid.New().String(), OrgID: orgID, Name: "Onboarding",
		Status: models.TemplateStatusActive, IsActive: true, Version: 1, CreatedBy: "user-1",
	}
	parent := &models.TemplateStep{
		ID: uuid.New().String(), TemplateID: tpl.ID, Name: "Prepare",
		StepType: models.StepTypeGroup, AssigneeType: models.AssigneeUnassigned,
		DueReference: models.DueFromWorkflowStart, IsRequired: true,
	}
	child := &models.TemplateStep{
		ID: uuid.New().String(), TemplateID: tpl.ID, Name: "Laptop", OrderIndex: 1,
		StepType: models.StepTypeTask, AssigneeType: models.AssigneeUnassigned,
		DueReference: models.DueFromWorkflowStart, IsRequired: true,
	}

	t.Run("Create template graph", func(t *testing.T) {
		err := store.InTx(ctx, func(q Queries) error {
			if err := q.CreateTemplate(ctx, tpl); err != nil {
				return err
			}
			for _, s := range []*models.TemplateStep{parent, child} {
				if err := q.InsertTemplateStep(ctx, s); err != nil {
					return err
				}
			}
			if err := q.SetTemplateStepParent(ctx, tpl.ID, child.ID, parent.ID); err != nil {
				return err
			}
			return q.InsertTemplateEdge(ctx, &models.TemplateEdge{
				ID: uuid.New().String(), TemplateID: tpl.ID,
				SourceStepID: parent.ID, TargetStepID: child.ID, ConditionType: models.ConditionAlways,
			})
		})
		require.NoError(t, err)

		err = store.InTx(ctx, func(q Queries) error {
			steps, err := q.ListTemplateSteps(ctx, tpl.ID)
			require.NoError(t, err)
			require.Len(t, steps, 2)
			require.NotNil(t, steps[1].ParentStepID)
			assert.Equal(t, parent.ID, *steps[1].ParentStepID)
			edges, err := q.ListTemplateEdges(ctx, tpl.ID)
			require.NoError(t, err)
			assert.Len(t, edges, 1)
			return nil
		})
		require.NoError(t, err)
	})

	t.Run("Rollback discards writes", func(t *testing.T) {
		err := store.InTx(ctx, func(q Queries) error {
			if err := q.DeleteTemplateSteps(ctx, tpl.ID); err != nil {
				return err
			}
			return apperr.Validation("steps", "forced failure")
		})
		assert.True(t, apperr.IsValidation(err))

		err = store.InTx(ctx, func(q Queries) error {
			n, err := q.CountTemplateSteps(ctx, tpl.ID)
			assert.Equal(t, 2, n)
			return err
		})
		require.NoError(t, err)
	})

	t.Run("Malformed id is not found", func(t *testing.T) {
		err := store.InTx(ctx, func(q Queries) error {
			_, err := q.GetTemplate(ctx, orgID, "not-a-uuid")
			return err
		})
		assert.True(t, apperr.IsNotFound(err))
	})

	instanceID := uuid.New().String()

	t.Run("Instance and steps", func(t *testing.T) {
		stepID := uuid.New().String()
		err := store.InTx(ctx, func(q Queries) error {
			if err := q.CreateInstance(ctx, &models.WorkflowInstance{
				ID: instanceID, TemplateID: tpl.ID, OrgID: orgID,
				EntityType: "person", EntityID: "p-1", Name: "Onboarding",
				Status: models.InstanceStatusPending, StartedAt: time.Now(),
				TotalSteps: 1, StartedBy: "user-1",
			}); err != nil {
				return err
			}
			return q.InsertInstanceStep(ctx, &models.InstanceStep{
				ID: stepID, InstanceID: instanceID, TemplateStepID: &child.ID,
				Name: "Laptop", StepType: models.StepTypeTask, IsRequired: true,
				Status: models.StepStatusPending,
			})
		})
		require.NoError(t, err)

		err = store.InTx(ctx, func(q Queries) error {
			inst, err := q.GetInstance(ctx, orgID, instanceID, true)
			if err != nil {
				return err
			}
			step, err := q.GetInstanceStep(ctx, instanceID, stepID)
			if err != nil {
				return err
			}
			now := time.Now()
			step.Status = models.StepStatusCompleted
			step.CompletedAt = &now
			if err := q.UpdateInstanceStep(ctx, step); err != nil {
				return err
			}
			done, err := q.CountCompletedSteps(ctx, instanceID)
			if err != nil {
				return err
			}
			inst.CompletedSteps = done
			return q.UpdateInstance(ctx, inst)
		})
		require.NoError(t, err)

		err = store.InTx(ctx, func(q Queries) error {
			inst, err := q.GetInstance(ctx, orgID, instanceID, false)
			require.NoError(t, err)
			assert.Equal(t, 1, inst.CompletedSteps)
			assert.Equal(t, 100, inst.Progress())
			return nil
		})
		require.NoError(t, err)
	})

	t.Run("Delete blocked while instances exist", func(t *testing.T) {
		err := store.InTx(ctx, func(q Queries) error {
			return q.DeleteTemplate(ctx, orgID, tpl.ID)
		})
		assert.True(t, apperr.IsConflict(err))
	})

	t.Run("Audit log", func(t *testing.T) {
		audit := NewPostgresAuditLog(pool)
		entry := &models.AuditEntry{
			OrgID: orgID, Module: "workflows", EntityType: "workflow_instance",
			EntityID: instanceID, EntityName: "Onboarding", Action: models.AuditCreate,
			ActorID: "user-1", After: []byte(`{"status":"pending"}`),
		}
		require.NoError(t, audit.Append(ctx, entry))
		assert.NotEmpty(t, entry.ID)

		trail, err := audit.ListForEntity(ctx, orgID, "workflow_instance", instanceID)
		require.NoError(t, err)
		require.Len(t, trail, 1)
		assert.Nil(t, trail[0].Before)
	})
}

func TestPostgresDirectory(t *testing.T) {
	ctx := context.Background()
	pool := newTestPool(t)
	store := NewPostgresStore(pool)
	dir := NewPostgresDirectory(pool)

	tenant := &models.Tenant{Name: "Acme", Domain: "acme.test"}
	require.NoError(t, store.CreateTenant(ctx, tenant))

	_, err := pool.Exec(ctx, `INSERT INTO users (id, org_id, name, email) VALUES ('okta|1', $1, 'Ada', 'ada@acme.test')`, tenant.ID)
	require.NoError(t, err)
	var mgrID, reportID string
	require.NoError(t, pool.QueryRow(ctx,
		`INSERT INTO people (org_id, user_id, display_name, email) VALUES ($1, 'okta|1', 'Ada', 'ada@acme.test') RETURNING id`,
		tenant.ID).Scan(&mgrID))
	require.NoError(t, pool.QueryRow(ctx,
		`INSERT INTO people (org_id, display_name, manager_id) VALUES ($1, 'Bob', $2) RETURNING id`,
		tenant.ID, mgrID).Scan(&reportID))
	_, err = pool.Exec(ctx, `INSERT INTO role_members (org_id, role, person_id) VALUES ($1, 'it', $2)`, tenant.ID, mgrID)
	require.NoError(t, err)

	u, err := dir.GetUser(ctx, tenant.ID, "okta|1")
	require.NoError(t, err)
	assert.Equal(t, "Ada", u.Name)

	m, err := dir.ManagerOf(ctx, tenant.ID, reportID)
	require.NoError(t, err)
	assert.Equal(t, mgrID, m.ID)
	require.NotNil(t, m.UserID)

	_, err = dir.ManagerOf(ctx, tenant.ID, mgrID)
	assert.True(t, apperr.IsNotFound(err))

	members, err := dir.RoleMembers(ctx, tenant.ID, "it")
	require.NoError(t, err)
	require.Len(t, members, 1)
	assert.Equal(t, "Ada", members[0].DisplayName)
}
