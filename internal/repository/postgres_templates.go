package repository

import (
	"context"
	"fmt"
	"strings"

	"complyflow/backend/internal/apperr"
	"complyflow/backend/pkg/models"
)

const templateColumns = `
	id, org_id, name, description, module_scope, trigger_type,
	status, is_active, default_due_in_days, default_owner_id,
	settings, version, created_by, created_at, updated_at`

const templateStepColumns = `
	id, template_id, parent_step_id, name, description, step_type,
	order_index, position_x, position_y, assignee_type, assignee_config,
	default_assignee_id, due_offset_days, due_reference, is_required,
	metadata, created_at`

const templateEdgeColumns = `
	id, template_id, source_step_id, target_step_id,
	condition_type, condition_config, label`

// CreateTemplate inserts a template row.
func (q *pgQueries) CreateTemplate(ctx context.Context, t *models.WorkflowTemplate) error {
	query := `
		INSERT INTO workflow_templates
		    (id, org_id, name, description, module_scope, trigger_type,
		     status, is_active, default_due_in_days, default_owner_id,
		     settings, version, created_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING created_at, updated_at
	`
	err := q.db.QueryRow(ctx, query,
		t.ID, t.OrgID, t.Name, t.Description, t.ModuleScope, t.TriggerType,
		t.Status, t.IsActive, t.DefaultDueInDays, t.DefaultOwnerID,
		jsonb(t.Settings), t.Version, t.CreatedBy,
	).Scan(&t.CreatedAt, &t.UpdatedAt)
	return mapErr(err, "workflow_template", t.ID)
}

// GetTemplate loads a template scoped to an organization.
func (q *pgQueries) GetTemplate(ctx context.Context, orgID, id string) (*models.WorkflowTemplate, error) {
	query := `SELECT ` + templateColumns + ` FROM workflow_templates WHERE id = $1 AND org_id = $2`
	t, err := scanTemplate(q.db.QueryRow(ctx, query, id, orgID))
	if err != nil {
		return nil, mapErr(err, "workflow_template", id)
	}
	return t, nil
}

// UpdateTemplate writes the scalar fields and version of a template.
func (q *pgQueries) UpdateTemplate(ctx context.Context, t *models.WorkflowTemplate) error {
	query := `
		UPDATE workflow_templates
		SET name                = $3,
		    description         = $4,
		    module_scope        = $5,
		    trigger_type        = $6,
		    status              = $7,
		    is_active           = $8,
		    default_due_in_days = $9,
		    default_owner_id    = $10,
		    settings            = $11,
		    version             = $12,
		    updated_at          = NOW()
		WHERE id = $1 AND org_id = $2
		RETURNING updated_at
	`
	err := q.db.QueryRow(ctx, query,
		t.ID, t.OrgID, t.Name, t.Description, t.ModuleScope, t.TriggerType,
		t.Status, t.IsActive, t.DefaultDueInDays, t.DefaultOwnerID,
		jsonb(t.Settings), t.Version,
	).Scan(&t.UpdatedAt)
	return mapErr(err, "workflow_template", t.ID)
}

// DeleteTemplate removes a template; steps and edges cascade.
func (q *pgQueries) DeleteTemplate(ctx context.Context, orgID, id string) error {
	tag, err := q.db.Exec(ctx, `DELETE FROM workflow_templates WHERE id = $1 AND org_id = $2`, id, orgID)
	if err != nil {
		return mapErr(err, "workflow_template", id)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("workflow_template", id)
	}
	return nil
}

// ListTemplates returns an organization's templates, newest first.
func (q *pgQueries) ListTemplates(ctx context.Context, orgID string, filter models.TemplateFilter) ([]*models.WorkflowTemplate, error) {
	where := []string{"org_id = $1"}
	args := []any{orgID}
	if filter.ModuleScope != nil {
		args = append(args, *filter.ModuleScope)
		where = append(where, fmt.Sprintf("module_scope = $%d", len(args)))
	}
	if filter.Status != nil {
		args = append(args, *filter.Status)
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	if filter.TriggerType != nil {
		args = append(args, *filter.TriggerType)
		where = append(where, fmt.Sprintf("trigger_type = $%d", len(args)))
	}

	query := `SELECT ` + templateColumns + ` FROM workflow_templates WHERE ` +
		strings.Join(where, " AND ") + ` ORDER BY created_at DESC, id`
	rows, err := q.db.Query(ctx, query, args...)
	if err != nil {
		return nil, mapErr(err, "workflow_template", orgID)
	}
	return collect(rows, scanTemplate)
}

// CountTemplateSteps returns the number of steps in a template graph.
func (q *pgQueries) CountTemplateSteps(ctx context.Context, templateID string) (int, error) {
	var n int
	err := q.db.QueryRow(ctx, `SELECT COUNT(*) FROM workflow_template_steps WHERE template_id = $1`, templateID).Scan(&n)
	return n, mapErr(err, "workflow_template", templateID)
}

// CountInstances returns the number of instances created from a template.
func (q *pgQueries) CountInstances(ctx context.Context, templateID string) (int, error) {
	var n int
	err := q.db.QueryRow(ctx, `SELECT COUNT(*) FROM workflow_instances WHERE template_id = $1`, templateID).Scan(&n)
	return n, mapErr(err, "workflow_template", templateID)
}

// ListTemplateSteps returns a template's steps ordered by order index.
func (q *pgQueries) ListTemplateSteps(ctx context.Context, templateID string) ([]*models.TemplateStep, error) {
	query := `SELECT ` + templateStepColumns + `
		FROM workflow_template_steps
		WHERE template_id = $1
		ORDER BY order_index ASC, name ASC, id ASC`
	rows, err := q.db.Query(ctx, query, templateID)
	if err != nil {
		return nil, mapErr(err, "workflow_template", templateID)
	}
	return collect(rows, scanTemplateStep)
}

// ListTemplateEdges returns a template's edges.
func (q *pgQueries) ListTemplateEdges(ctx context.Context, templateID string) ([]*models.TemplateEdge, error) {
	query := `SELECT ` + templateEdgeColumns + `
		FROM workflow_template_edges
		WHERE template_id = $1
		ORDER BY id ASC`
	rows, err := q.db.Query(ctx, query, templateID)
	if err != nil {
		return nil, mapErr(err, "workflow_template", templateID)
	}
	return collect(rows, scanTemplateEdge)
}

// DeleteTemplateSteps removes every step of a template. Edges reference
// step rows and are removed by the cascade.
func (q *pgQueries) DeleteTemplateSteps(ctx context.Context, templateID string) error {
	_, err := q.db.Exec(ctx, `DELETE FROM workflow_template_steps WHERE template_id = $1`, templateID)
	return mapErr(err, "workflow_template", templateID)
}

// InsertTemplateStep inserts one step row.
func (q *pgQueries) InsertTemplateStep(ctx context.Context, s *models.TemplateStep) error {
	query := `
		INSERT INTO workflow_template_steps
		    (id, template_id, parent_step_id, name, description, step_type,
		     order_index, position_x, position_y, assignee_type, assignee_config,
		     default_assignee_id, due_offset_days, due_reference, is_required, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		RETURNING created_at
	`
	err := q.db.QueryRow(ctx, query,
		s.ID, s.TemplateID, s.ParentStepID, s.Name, s.Description, s.StepType,
		s.OrderIndex, s.PositionX, s.PositionY, s.AssigneeType, jsonb(s.AssigneeConfig),
		s.DefaultAssigneeID, s.DueOffsetDays, s.DueReference, s.IsRequired, jsonb(s.Metadata),
	).Scan(&s.CreatedAt)
	return mapErr(err, "workflow_template_step", s.ID)
}

// SetTemplateStepParent links a step to its parent within the same template.
func (q *pgQueries) SetTemplateStepParent(ctx context.Context, templateID, stepID, parentID string) error {
	tag, err := q.db.Exec(ctx,
		`UPDATE workflow_template_steps SET parent_step_id = $3 WHERE template_id = $1 AND id = $2`,
		templateID, stepID, parentID)
	if err != nil {
		return mapErr(err, "workflow_template_step", stepID)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("workflow_template_step", stepID)
	}
	return nil
}

// InsertTemplateEdge inserts one edge row.
func (q *pgQueries) InsertTemplateEdge(ctx context.Context, e *models.TemplateEdge) error {
	query := `
		INSERT INTO workflow_template_edges
		    (id, template_id, source_step_id, target_step_id,
		     condition_type, condition_config, label)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err := q.db.Exec(ctx, query,
		e.ID, e.TemplateID, e.SourceStepID, e.TargetStepID,
		e.ConditionType, jsonb(e.ConditionConfig), e.Label,
	)
	return mapErr(err, "workflow_template_edge", e.ID)
}

// ── scan helpers ──────────────────────────────────────────────────────────────

func scanTemplate(row rowScanner) (*models.WorkflowTemplate, error) {
	t := &models.WorkflowTemplate{}
	err := row.Scan(
		&t.ID,
		&t.OrgID,
		&t.Name,
		&t.Description,
		&t.ModuleScope,
		&t.TriggerType,
		&t.Status,
		&t.IsActive,
		&t.DefaultDueInDays,
		&t.DefaultOwnerID,
		(*[]byte)(&t.Settings),
		&t.Version,
		&t.CreatedBy,
		&t.CreatedAt,
		&t.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return t, nil
}

func scanTemplateStep(row rowScanner) (*models.TemplateStep, error) {
	s := &models.TemplateStep{}
	err := row.Scan(
		&s.ID,
		&s.TemplateID,
		&s.ParentStepID,
		&s.Name,
		&s.Description,
		&s.StepType,
		&s.OrderIndex,
		&s.PositionX,
		&s.PositionY,
		&s.AssigneeType,
		(*[]byte)(&s.AssigneeConfig),
		&s.DefaultAssigneeID,
		&s.DueOffsetDays,
		&s.DueReference,
		&s.IsRequired,
		(*[]byte)(&s.Metadata),
		&s.CreatedAt,
	)
	if err != nil {
		return nil, apperr.Wrap(err, "failed to scan template step")
	}
	return s, nil
}

func scanTemplateEdge(row rowScanner) (*models.TemplateEdge, error) {
	e := &models.TemplateEdge{}
	err := row.Scan(
		&e.ID,
		&e.TemplateID,
		&e.SourceStepID,
		&e.TargetStepID,
		&e.ConditionType,
		(*[]byte)(&e.ConditionConfig),
		&e.Label,
	)
	if err != nil {
		return nil, apperr.Wrap(err, "failed to scan template edge")
	}
	return e, nil
}
