package repository

import (
	"context"
	"fmt"
	"strings"

	"complyflow/backend/internal/apperr"
	"complyflow/backend/pkg/models"
)

const instanceColumns = `
	id, template_id, org_id, entity_type, entity_id, name, status,
	started_at, due_at, completed_at, total_steps, completed_steps,
	started_by, owner_id, metadata, created_at, updated_at`

const instanceStepColumns = `
	id, instance_id, template_step_id, parent_step_id, name, description,
	step_type, order_index, is_required, status, assignee_id,
	assigned_person_id, due_at, started_at, completed_at, completed_by,
	notes, metadata, created_at, updated_at`

// CreateInstance inserts an instance row.
func (q *pgQueries) CreateInstance(ctx context.Context, i *models.WorkflowInstance) error {
	query := `
		INSERT INTO workflow_instances
		    (id, template_id, org_id, entity_type, entity_id, name, status,
		     started_at, due_at, completed_at, total_steps, completed_steps,
		     started_by, owner_id, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		RETURNING created_at, updated_at
	`
	err := q.db.QueryRow(ctx, query,
		i.ID, i.TemplateID, i.OrgID, i.EntityType, i.EntityID, i.Name, i.Status,
		i.StartedAt, i.DueAt, i.CompletedAt, i.TotalSteps, i.CompletedSteps,
		i.StartedBy, i.OwnerID, jsonb(i.Metadata),
	).Scan(&i.CreatedAt, &i.UpdatedAt)
	return mapErr(err, "workflow_instance", i.ID)
}

// GetInstance loads an instance scoped to an organization, optionally
// locking the row for the rest of the transaction.
func (q *pgQueries) GetInstance(ctx context.Context, orgID, id string, lock bool) (*models.WorkflowInstance, error) {
	query := `SELECT ` + instanceColumns + ` FROM workflow_instances WHERE id = $1 AND org_id = $2`
	if lock {
		query += ` FOR UPDATE`
	}
	inst, err := scanInstance(q.db.QueryRow(ctx, query, id, orgID))
	if err != nil {
		return nil, mapErr(err, "workflow_instance", id)
	}
	return inst, nil
}

// UpdateInstance writes the mutable fields of an instance.
func (q *pgQueries) UpdateInstance(ctx context.Context, i *models.WorkflowInstance) error {
	query := `
		UPDATE workflow_instances
		SET name            = $3,
		    status          = $4,
		    due_at          = $5,
		    completed_at    = $6,
		    total_steps     = $7,
		    completed_steps = $8,
		    owner_id        = $9,
		    metadata        = $10,
		    updated_at      = NOW()
		WHERE id = $1 AND org_id = $2
		RETURNING updated_at
	`
	err := q.db.QueryRow(ctx, query,
		i.ID, i.OrgID, i.Name, i.Status, i.DueAt, i.CompletedAt,
		i.TotalSteps, i.CompletedSteps, i.OwnerID, jsonb(i.Metadata),
	).Scan(&i.UpdatedAt)
	return mapErr(err, "workflow_instance", i.ID)
}

// ListInstances returns an organization's instances, newest first.
func (q *pgQueries) ListInstances(ctx context.Context, orgID string, filter models.InstanceFilter) ([]*models.WorkflowInstance, error) {
	where := []string{"org_id = $1"}
	args := []any{orgID}
	if filter.TemplateID != nil {
		args = append(args, *filter.TemplateID)
		where = append(where, fmt.Sprintf("template_id = $%d", len(args)))
	}
	if filter.Status != nil {
		args = append(args, *filter.Status)
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	if filter.EntityType != nil {
		args = append(args, *filter.EntityType)
		where = append(where, fmt.Sprintf("entity_type = $%d", len(args)))
	}
	if filter.EntityID != nil {
		args = append(args, *filter.EntityID)
		where = append(where, fmt.Sprintf("entity_id = $%d", len(args)))
	}

	query := `SELECT ` + instanceColumns + ` FROM workflow_instances WHERE ` +
		strings.Join(where, " AND ") + ` ORDER BY started_at DESC, id`
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if filter.Offset > 0 {
		args = append(args, filter.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := q.db.Query(ctx, query, args...)
	if err != nil {
		return nil, mapErr(err, "workflow_instance", orgID)
	}
	return collect(rows, scanInstance)
}

// InsertInstanceStep inserts one materialized step.
func (q *pgQueries) InsertInstanceStep(ctx context.Context, s *models.InstanceStep) error {
	query := `
		INSERT INTO workflow_instance_steps
		    (id, instance_id, template_step_id, parent_step_id, name, description,
		     step_type, order_index, is_required, status, assignee_id,
		     assigned_person_id, due_at, started_at, completed_at, completed_by,
		     notes, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
		RETURNING created_at, updated_at
	`
	err := q.db.QueryRow(ctx, query,
		s.ID, s.InstanceID, s.TemplateStepID, s.ParentStepID, s.Name, s.Description,
		s.StepType, s.OrderIndex, s.IsRequired, s.Status, s.AssigneeID,
		s.AssignedPersonID, s.DueAt, s.StartedAt, s.CompletedAt, s.CompletedBy,
		s.Notes, jsonb(s.Metadata),
	).Scan(&s.CreatedAt, &s.UpdatedAt)
	return mapErr(err, "workflow_instance_step", s.ID)
}

// SetInstanceStepParent links a step to its parent within the same instance.
func (q *pgQueries) SetInstanceStepParent(ctx context.Context, instanceID, stepID, parentID string) error {
	tag, err := q.db.Exec(ctx,
		`UPDATE workflow_instance_steps SET parent_step_id = $3 WHERE instance_id = $1 AND id = $2`,
		instanceID, stepID, parentID)
	if err != nil {
		return mapErr(err, "workflow_instance_step", stepID)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("workflow_instance_step", stepID)
	}
	return nil
}

// GetInstanceStep loads one step of an instance.
func (q *pgQueries) GetInstanceStep(ctx context.Context, instanceID, stepID string) (*models.InstanceStep, error) {
	query := `SELECT ` + instanceStepColumns + `
		FROM workflow_instance_steps
		WHERE id = $1 AND instance_id = $2`
	s, err := scanInstanceStep(q.db.QueryRow(ctx, query, stepID, instanceID))
	if err != nil {
		return nil, mapErr(err, "workflow_instance_step", stepID)
	}
	return s, nil
}

// UpdateInstanceStep writes the mutable fields of a step.
func (q *pgQueries) UpdateInstanceStep(ctx context.Context, s *models.InstanceStep) error {
	query := `
		UPDATE workflow_instance_steps
		SET status             = $3,
		    assignee_id        = $4,
		    assigned_person_id = $5,
		    due_at             = $6,
		    started_at         = $7,
		    completed_at       = $8,
		    completed_by       = $9,
		    notes              = $10,
		    metadata           = $11,
		    updated_at         = NOW()
		WHERE id = $1 AND instance_id = $2
		RETURNING updated_at
	`
	err := q.db.QueryRow(ctx, query,
		s.ID, s.InstanceID, s.Status, s.AssigneeID, s.AssignedPersonID,
		s.DueAt, s.StartedAt, s.CompletedAt, s.CompletedBy, s.Notes, jsonb(s.Metadata),
	).Scan(&s.UpdatedAt)
	return mapErr(err, "workflow_instance_step", s.ID)
}

// ListInstanceSteps returns an instance's steps ordered by order index.
func (q *pgQueries) ListInstanceSteps(ctx context.Context, instanceID string) ([]*models.InstanceStep, error) {
	query := `SELECT ` + instanceStepColumns + `
		FROM workflow_instance_steps
		WHERE instance_id = $1
		ORDER BY order_index ASC, name ASC, id ASC`
	rows, err := q.db.Query(ctx, query, instanceID)
	if err != nil {
		return nil, mapErr(err, "workflow_instance", instanceID)
	}
	return collect(rows, scanInstanceStep)
}

// CountCompletedSteps returns the live number of completed steps.
func (q *pgQueries) CountCompletedSteps(ctx context.Context, instanceID string) (int, error) {
	var n int
	err := q.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM workflow_instance_steps WHERE instance_id = $1 AND status = 'completed'`,
		instanceID,
	).Scan(&n)
	return n, mapErr(err, "workflow_instance", instanceID)
}

// ── scan helpers ──────────────────────────────────────────────────────────────

func scanInstance(row rowScanner) (*models.WorkflowInstance, error) {
	i := &models.WorkflowInstance{}
	err := row.Scan(
		&i.ID,
		&i.TemplateID,
		&i.OrgID,
		&i.EntityType,
		&i.EntityID,
		&i.Name,
		&i.Status,
		&i.StartedAt,
		&i.DueAt,
		&i.CompletedAt,
		&i.TotalSteps,
		&i.CompletedSteps,
		&i.StartedBy,
		&i.OwnerID,
		(*[]byte)(&i.Metadata),
		&i.CreatedAt,
		&i.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return i, nil
}

func scanInstanceStep(row rowScanner) (*models.InstanceStep, error) {
	s := &models.InstanceStep{}
	err := row.Scan(
		&s.ID,
		&s.InstanceID,
		&s.TemplateStepID,
		&s.ParentStepID,
		&s.Name,
		&s.Description,
		&s.StepType,
		&s.OrderIndex,
		&s.IsRequired,
		&s.Status,
		&s.AssigneeID,
		&s.AssignedPersonID,
		&s.DueAt,
		&s.StartedAt,
		&s.CompletedAt,
		&s.CompletedBy,
		&s.Notes,
		(*[]byte)(&s.Metadata),
		&s.CreatedAt,
		&s.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return s, nil
}
