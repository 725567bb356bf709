package services

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"complyflow/backend/internal/apperr"
	"complyflow/backend/internal/logging"
	"complyflow/backend/internal/repository"
	"complyflow/backend/pkg/models"
)

const entityTemplate = "workflow_template"

// TemplateInput creates a template, optionally with its graph.
type TemplateInput struct {
	Name             string                 `json:"name"`
	Description      string                 `json:"description"`
	ModuleScope      string                 `json:"moduleScope"`
	TriggerType      string                 `json:"triggerType"`
	Status           *models.TemplateStatus `json:"status,omitempty"`
	IsActive         *bool                  `json:"isActive,omitempty"`
	DefaultDueInDays *int                   `json:"defaultDueInDays,omitempty"`
	DefaultOwnerID   *string                `json:"defaultOwnerId,omitempty"`
	Settings         json.RawMessage        `json:"settings,omitempty"`
	Steps            []StepInput            `json:"steps,omitempty"`
	Edges            []EdgeInput            `json:"edges,omitempty"`
}

// TemplatePatch updates any subset of a template. A nil Steps leaves the
// graph untouched; a non-nil Steps replaces it together with Edges. Edges
// without Steps are rejected.
type TemplatePatch struct {
	Name             *string                `json:"name,omitempty"`
	Description      *string                `json:"description,omitempty"`
	ModuleScope      *string                `json:"moduleScope,omitempty"`
	TriggerType      *string                `json:"triggerType,omitempty"`
	Status           *models.TemplateStatus `json:"status,omitempty"`
	IsActive         *bool                  `json:"isActive,omitempty"`
	DefaultDueInDays *int                   `json:"defaultDueInDays,omitempty"`
	DefaultOwnerID   *string                `json:"defaultOwnerId,omitempty"`
	Settings         json.RawMessage        `json:"settings,omitempty"`
	Steps            *[]StepInput           `json:"steps,omitempty"`
	Edges            *[]EdgeInput           `json:"edges,omitempty"`
}

func (p *TemplatePatch) replacesGraph() bool {
	return p.Steps != nil
}

// TemplateService owns template rows and their graphs.
type TemplateService struct {
	repo    repository.Repository
	dir     Directory
	audit   *Auditor
	metrics *Metrics
	log     *logging.Logger
}

// NewTemplateService creates a new TemplateService.
func NewTemplateService(repo repository.Repository, dir Directory, audit *Auditor, metrics *Metrics, log *logging.Logger) *TemplateService {
	return &TemplateService{repo: repo, dir: dir, audit: audit, metrics: metrics, log: log}
}

func requireActor(actor *models.Actor) error {
	if actor == nil || actor.OrgID == "" {
		return apperr.Validation("actor", "organization context is required")
	}
	return nil
}

// Get returns a template with its ordered steps and edges.
func (s *TemplateService) Get(ctx context.Context, actor *models.Actor, id string) (*models.TemplateDetail, error) {
	if err := requireActor(actor); err != nil {
		return nil, err
	}
	var (
		tpl       *models.WorkflowTemplate
		steps     []*models.TemplateStep
		edges     []*models.TemplateEdge
		instances int
	)
	err := s.repo.InTx(ctx, func(q repository.Queries) error {
		var err error
		if tpl, err = q.GetTemplate(ctx, actor.OrgID, id); err != nil {
			return err
		}
		if steps, err = q.ListTemplateSteps(ctx, id); err != nil {
			return err
		}
		if edges, err = q.ListTemplateEdges(ctx, id); err != nil {
			return err
		}
		instances, err = q.CountInstances(ctx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return s.project(ctx, actor, tpl, steps, edges, instances), nil
}

func (s *TemplateService) project(ctx context.Context, actor *models.Actor, tpl *models.WorkflowTemplate,
	steps []*models.TemplateStep, edges []*models.TemplateEdge, instances int) *models.TemplateDetail {
	refs := newRefResolver(s.dir, actor.OrgID, s.log)
	detail := &models.TemplateDetail{
		WorkflowTemplate: tpl,
		Steps:            make([]*models.TemplateStepView, 0, len(steps)),
		Edges:            edges,
		Creator:          refs.user(ctx, &tpl.CreatedBy),
		DefaultOwner:     refs.user(ctx, tpl.DefaultOwnerID),
		InstanceCount:    instances,
	}
	if detail.Edges == nil {
		detail.Edges = []*models.TemplateEdge{}
	}
	for _, st := range steps {
		detail.Steps = append(detail.Steps, &models.TemplateStepView{
			TemplateStep:    st,
			DefaultAssignee: refs.person(ctx, st.DefaultAssigneeID),
		})
	}
	return detail
}

// CountInstances returns how many instances were started from a template.
func (s *TemplateService) CountInstances(ctx context.Context, actor *models.Actor, id string) (int, error) {
	if err := requireActor(actor); err != nil {
		return 0, err
	}
	var n int
	err := s.repo.InTx(ctx, func(q repository.Queries) error {
		if _, err := q.GetTemplate(ctx, actor.OrgID, id); err != nil {
			return err
		}
		var err error
		n, err = q.CountInstances(ctx, id)
		return err
	})
	return n, err
}

// List returns the organization's templates with step and instance counts.
func (s *TemplateService) List(ctx context.Context, actor *models.Actor, filter models.TemplateFilter) ([]*models.TemplateSummary, error) {
	if err := requireActor(actor); err != nil {
		return nil, err
	}
	if filter.Status != nil && !validTemplateStatus(*filter.Status) {
		return nil, apperr.Validation("status", "unknown template status "+string(*filter.Status))
	}
	out := []*models.TemplateSummary{}
	err := s.repo.InTx(ctx, func(q repository.Queries) error {
		templates, err := q.ListTemplates(ctx, actor.OrgID, filter)
		if err != nil {
			return err
		}
		for _, t := range templates {
			steps, err := q.CountTemplateSteps(ctx, t.ID)
			if err != nil {
				return err
			}
			instances, err := q.CountInstances(ctx, t.ID)
			if err != nil {
				return err
			}
			out = append(out, &models.TemplateSummary{WorkflowTemplate: t, StepCount: steps, InstanceCount: instances})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Create stores a new template and compiles its graph in one transaction.
func (s *TemplateService) Create(ctx context.Context, actor *models.Actor, in TemplateInput) (*models.TemplateDetail, error) {
	if err := requireActor(actor); err != nil {
		return nil, err
	}
	tpl := &models.WorkflowTemplate{
		ID:               uuid.New().String(),
		OrgID:            actor.OrgID,
		Name:             strings.TrimSpace(in.Name),
		Description:      in.Description,
		ModuleScope:      in.ModuleScope,
		TriggerType:      in.TriggerType,
		Status:           models.TemplateStatusDraft,
		IsActive:         true,
		DefaultDueInDays: in.DefaultDueInDays,
		DefaultOwnerID:   in.DefaultOwnerID,
		Settings:         in.Settings,
		Version:          1,
		CreatedBy:        actor.UserID,
	}
	if in.Status != nil {
		tpl.Status = *in.Status
	}
	if in.IsActive != nil {
		tpl.IsActive = *in.IsActive
	}
	if err := validateTemplate(tpl); err != nil {
		return nil, err
	}
	graph, err := compileGraph(tpl.ID, nil, in.Steps, in.Edges)
	if err != nil {
		return nil, err
	}

	err = s.repo.InTx(ctx, func(q repository.Queries) error {
		if err := q.CreateTemplate(ctx, tpl); err != nil {
			return err
		}
		return writeGraph(ctx, q, tpl.ID, graph)
	})
	if err != nil {
		return nil, err
	}

	s.metrics.templateCompiled(ctx, len(graph.steps))
	s.audit.LogCreate(ctx, actor, entityTemplate, tpl.ID, tpl.Name, tpl)
	s.log.Info("workflow template created", "template_id", tpl.ID, "org_id", tpl.OrgID, "steps", len(graph.steps))
	return s.Get(ctx, actor, tpl.ID)
}

// Update applies scalar changes and, when the patch carries a graph,
// atomically replaces the template's steps and edges.
func (s *TemplateService) Update(ctx context.Context, actor *models.Actor, id string, patch TemplatePatch) (*models.TemplateDetail, error) {
	if err := requireActor(actor); err != nil {
		return nil, err
	}
	if patch.Edges != nil && patch.Steps == nil {
		return nil, apperr.Validation("edges", "edges can only be replaced together with steps")
	}
	var before, after models.WorkflowTemplate
	var compiled *compiledGraph

	err := s.repo.InTx(ctx, func(q repository.Queries) error {
		tpl, err := q.GetTemplate(ctx, actor.OrgID, id)
		if err != nil {
			return err
		}
		before = *tpl
		applyTemplatePatch(tpl, patch)
		if err := validateTemplate(tpl); err != nil {
			return err
		}

		if patch.replacesGraph() {
			current, err := q.ListTemplateSteps(ctx, id)
			if err != nil {
				return err
			}
			existing := make(map[string]bool, len(current))
			for _, st := range current {
				existing[st.ID] = true
			}
			steps := *patch.Steps
			var edges []EdgeInput
			if patch.Edges != nil {
				edges = *patch.Edges
			}
			if compiled, err = compileGraph(id, existing, steps, edges); err != nil {
				return err
			}
			if err := q.DeleteTemplateSteps(ctx, id); err != nil {
				return err
			}
			if err := writeGraph(ctx, q, id, compiled); err != nil {
				return err
			}
			tpl.Version++
		}

		if err := q.UpdateTemplate(ctx, tpl); err != nil {
			return err
		}
		after = *tpl
		return nil
	})
	if err != nil {
		return nil, err
	}

	if compiled != nil {
		s.metrics.templateCompiled(ctx, len(compiled.steps))
		s.log.Info("workflow template graph replaced",
			"template_id", id, "version", after.Version, "steps", len(compiled.steps), "edges", len(compiled.edges))
	}
	s.audit.LogUpdate(ctx, actor, entityTemplate, id, after.Name, &before, &after)
	return s.Get(ctx, actor, id)
}

// Delete removes a template that has never been instantiated.
func (s *TemplateService) Delete(ctx context.Context, actor *models.Actor, id string) error {
	if err := requireActor(actor); err != nil {
		return err
	}
	var deleted *models.WorkflowTemplate
	err := s.repo.InTx(ctx, func(q repository.Queries) error {
		tpl, err := q.GetTemplate(ctx, actor.OrgID, id)
		if err != nil {
			return err
		}
		n, err := q.CountInstances(ctx, id)
		if err != nil {
			return err
		}
		if n > 0 {
			conflict := apperr.Conflict("template has workflow instances and cannot be deleted")
			conflict.Details = map[string]string{"instanceCount": strconv.Itoa(n)}
			return conflict
		}
		deleted = tpl
		return q.DeleteTemplate(ctx, actor.OrgID, id)
	})
	if err != nil {
		return err
	}
	s.audit.LogDelete(ctx, actor, entityTemplate, id, deleted.Name, deleted)
	s.log.Info("workflow template deleted", "template_id", id, "org_id", actor.OrgID)
	return nil
}

// writeGraph inserts compiled steps with null parents, links parents, then
// inserts edges, so insert order never violates a reference.
func writeGraph(ctx context.Context, q repository.Queries, templateID string, g *compiledGraph) error {
	for _, st := range g.steps {
		row := *st
		row.ParentStepID = nil
		if err := q.InsertTemplateStep(ctx, &row); err != nil {
			return err
		}
		st.CreatedAt = row.CreatedAt
	}
	for _, st := range g.steps {
		if st.ParentStepID == nil {
			continue
		}
		if err := q.SetTemplateStepParent(ctx, templateID, st.ID, *st.ParentStepID); err != nil {
			return err
		}
	}
	for _, e := range g.edges {
		if err := q.InsertTemplateEdge(ctx, e); err != nil {
			return err
		}
	}
	return nil
}

func applyTemplatePatch(t *models.WorkflowTemplate, p TemplatePatch) {
	if p.Name != nil {
		t.Name = strings.TrimSpace(*p.Name)
	}
	if p.Description != nil {
		t.Description = *p.Description
	}
	if p.ModuleScope != nil {
		t.ModuleScope = *p.ModuleScope
	}
	if p.TriggerType != nil {
		t.TriggerType = *p.TriggerType
	}
	if p.Status != nil {
		t.Status = *p.Status
	}
	if p.IsActive != nil {
		t.IsActive = *p.IsActive
	}
	if p.DefaultDueInDays != nil {
		t.DefaultDueInDays = p.DefaultDueInDays
	}
	if p.DefaultOwnerID != nil {
		if *p.DefaultOwnerID == "" {
			t.DefaultOwnerID = nil
		} else {
			t.DefaultOwnerID = p.DefaultOwnerID
		}
	}
	if p.Settings != nil {
		t.Settings = p.Settings
	}
}

func validateTemplate(t *models.WorkflowTemplate) error {
	if t.Name == "" {
		return apperr.Validation("name", "is required")
	}
	if !validTemplateStatus(t.Status) {
		return apperr.Validation("status", "unknown template status "+string(t.Status))
	}
	if t.DefaultDueInDays != nil && *t.DefaultDueInDays < 0 {
		return apperr.Validation("defaultDueInDays", "must not be negative")
	}
	if len(t.Settings) > 0 {
		var obj map[string]any
		if err := json.Unmarshal(t.Settings, &obj); err != nil {
			return apperr.Validation("settings", "must be a JSON object")
		}
	}
	return nil
}

func validTemplateStatus(s models.TemplateStatus) bool {
	switch s {
	case models.TemplateStatusDraft, models.TemplateStatusActive, models.TemplateStatusArchived:
		return true
	}
	return false
}

func addDays(t time.Time, days int) time.Time {
	return t.AddDate(0, 0, days)
}
