package services

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"

	"complyflow/backend/internal/apperr"
	"complyflow/backend/internal/logging"
	"complyflow/backend/internal/repository"
	"complyflow/backend/pkg/models"
)

const (
	entityInstance     = "workflow_instance"
	entityInstanceStep = "workflow_instance_step"
)

// StartInput starts a workflow for a business entity.
type StartInput struct {
	TemplateID string               `json:"templateId"`
	EntityType string               `json:"entityType"`
	EntityID   string               `json:"entityId"`
	Name       string               `json:"name,omitempty"`
	OwnerID    *string              `json:"ownerId,omitempty"`
	DueAt      *time.Time           `json:"dueAt,omitempty"`
	Anchors    map[string]time.Time `json:"anchors,omitempty"`
	Metadata   json.RawMessage      `json:"metadata,omitempty"`
}

// StepPatch changes a step. Nil fields are left alone; an empty AssigneeID
// clears the assignee.
type StepPatch struct {
	Status     *models.StepStatus `json:"status,omitempty"`
	Notes      *string            `json:"notes,omitempty"`
	AssigneeID *string            `json:"assigneeId,omitempty"`
	DueAt      *time.Time         `json:"dueAt,omitempty"`
}

// InstancePatch changes an instance. Nil fields are left alone; an empty
// OwnerID clears the owner.
type InstancePatch struct {
	Status   *models.InstanceStatus `json:"status,omitempty"`
	DueAt    *time.Time             `json:"dueAt,omitempty"`
	OwnerID  *string                `json:"ownerId,omitempty"`
	Metadata json.RawMessage        `json:"metadata,omitempty"`
}

// InstanceService materializes templates into instances and drives the
// step and instance state machines.
type InstanceService struct {
	repo      repository.Repository
	dir       Directory
	resolvers AssigneeResolvers
	audit     *Auditor
	events    EventPublisher
	metrics   *Metrics
	log       *logging.Logger
	now       func() time.Time
}

// NewInstanceService creates a new InstanceService.
func NewInstanceService(repo repository.Repository, dir Directory, audit *Auditor, events EventPublisher,
	metrics *Metrics, log *logging.Logger) *InstanceService {
	return &InstanceService{
		repo:      repo,
		dir:       dir,
		resolvers: NewAssigneeResolvers(dir),
		audit:     audit,
		events:    events,
		metrics:   metrics,
		log:       log,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Start materializes a template into a new pending instance.
func (s *InstanceService) Start(ctx context.Context, actor *models.Actor, in StartInput) (*models.InstanceDetail, error) {
	if err := requireActor(actor); err != nil {
		return nil, err
	}
	if strings.TrimSpace(in.TemplateID) == "" {
		return nil, apperr.Validation("templateId", "is required")
	}
	if strings.TrimSpace(in.EntityType) == "" {
		return nil, apperr.Validation("entityType", "is required")
	}
	if strings.TrimSpace(in.EntityID) == "" {
		return nil, apperr.Validation("entityId", "is required")
	}
	if len(in.Metadata) > 0 && !json.Valid(in.Metadata) {
		return nil, apperr.Validation("metadata", "must be valid JSON")
	}

	startedAt := s.now()
	inst := &models.WorkflowInstance{
		ID:         uuid.New().String(),
		TemplateID: in.TemplateID,
		OrgID:      actor.OrgID,
		EntityType: in.EntityType,
		EntityID:   in.EntityID,
		Name:       strings.TrimSpace(in.Name),
		Status:     models.InstanceStatusPending,
		StartedAt:  startedAt,
		StartedBy:  actor.UserID,
		OwnerID:    in.OwnerID,
		Metadata:   in.Metadata,
	}
	var recipients []string

	err := s.repo.InTx(ctx, func(q repository.Queries) error {
		tpl, err := q.GetTemplate(ctx, actor.OrgID, in.TemplateID)
		if err != nil {
			return err
		}
		if tpl.Status == models.TemplateStatusArchived {
			return apperr.Validation("templateId", "template is archived")
		}
		if !tpl.IsActive {
			return apperr.Validation("templateId", "template is inactive")
		}
		tplSteps, err := q.ListTemplateSteps(ctx, tpl.ID)
		if err != nil {
			return err
		}

		if inst.Name == "" {
			inst.Name = tpl.Name
		}
		if inst.OwnerID == nil {
			inst.OwnerID = tpl.DefaultOwnerID
		}
		switch {
		case in.DueAt != nil:
			if in.DueAt.Before(startedAt) {
				return apperr.Validation("dueAt", "must not be before the workflow start")
			}
			due := in.DueAt.UTC()
			inst.DueAt = &due
		case tpl.DefaultDueInDays != nil:
			due := addDays(startedAt, *tpl.DefaultDueInDays)
			inst.DueAt = &due
		}
		inst.TotalSteps = len(tplSteps)

		steps, err := s.materialize(ctx, actor, inst, tplSteps, in.Anchors)
		if err != nil {
			return err
		}
		if err := q.CreateInstance(ctx, inst); err != nil {
			return err
		}
		for _, st := range steps {
			row := *st
			row.ParentStepID = nil
			if err := q.InsertInstanceStep(ctx, &row); err != nil {
				return err
			}
			if st.AssigneeID != nil {
				recipients = append(recipients, *st.AssigneeID)
			}
		}
		for _, st := range steps {
			if st.ParentStepID == nil {
				continue
			}
			if err := q.SetInstanceStepParent(ctx, inst.ID, st.ID, *st.ParentStepID); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.metrics.instanceStarted(ctx, inst.TemplateID)
	s.audit.LogCreate(ctx, actor, entityInstance, inst.ID, inst.Name, inst)
	s.publish(ctx, models.EventInstanceCreated, actor, inst, "", uniqueStrings(recipients))
	s.log.Info("workflow instance started",
		"instance_id", inst.ID, "template_id", inst.TemplateID,
		"entity_type", inst.EntityType, "entity_id", inst.EntityID, "steps", inst.TotalSteps)
	return s.Get(ctx, actor, inst.ID)
}

// materialize copies template steps into instance steps, remapping ids and
// resolving due dates and assignees.
func (s *InstanceService) materialize(ctx context.Context, actor *models.Actor, inst *models.WorkflowInstance,
	tplSteps []*models.TemplateStep, anchors map[string]time.Time) ([]*models.InstanceStep, error) {
	arena := newIDArena(len(tplSteps))
	for _, ts := range tplSteps {
		arena.alloc(ts.ID, uuid.New().String())
	}

	out := make([]*models.InstanceStep, 0, len(tplSteps))
	for _, ts := range tplSteps {
		id, _ := arena.resolve(ts.ID)
		tplStepID := ts.ID
		st := &models.InstanceStep{
			ID:             id,
			InstanceID:     inst.ID,
			TemplateStepID: &tplStepID,
			Name:           ts.Name,
			Description:    ts.Description,
			StepType:       ts.StepType,
			OrderIndex:     ts.OrderIndex,
			IsRequired:     ts.IsRequired,
			Status:         models.StepStatusPending,
		}
		if ts.ParentStepID != nil {
			if parentID, ok := arena.resolve(*ts.ParentStepID); ok {
				st.ParentStepID = &parentID
			}
		}

		due, err := stepDueAt(ts, inst, anchors)
		if err != nil {
			return nil, err
		}
		st.DueAt = due

		assignment, err := s.resolvers.Resolve(ctx, ResolveInput{Actor: actor, Instance: inst, Step: ts})
		if err != nil {
			s.log.Warn("assignee resolution failed, leaving step unassigned",
				"template_step_id", ts.ID, "assignee_type", string(ts.AssigneeType), "error", err)
		} else {
			st.AssigneeID = assignment.UserID
			st.AssignedPersonID = assignment.PersonID
		}
		out = append(out, st)
	}
	return out, nil
}

// stepDueAt offsets the step's anchor by its due offset in days.
func stepDueAt(ts *models.TemplateStep, inst *models.WorkflowInstance, anchors map[string]time.Time) (*time.Time, error) {
	if ts.DueOffsetDays == nil {
		return nil, nil
	}
	var anchor time.Time
	switch ref := ts.DueReference; ref {
	case "", models.DueFromWorkflowStart:
		anchor = inst.StartedAt
	case models.DueFromWorkflowDue:
		if inst.DueAt == nil {
			return nil, apperr.Validation("dueAt", "step "+ts.Name+" is due relative to the workflow due date, which is not set")
		}
		anchor = *inst.DueAt
	default:
		a, ok := anchors[ref]
		if !ok {
			return nil, apperr.Validation("anchors."+ref, "required by step "+ts.Name)
		}
		anchor = a.UTC()
	}
	due := addDays(anchor, *ts.DueOffsetDays)
	if due.Before(inst.StartedAt) {
		return nil, apperr.Validation("anchors", "step "+ts.Name+" would be due before the workflow start")
	}
	return &due, nil
}

// UpdateStep applies a patch to one step, checking the transition against
// the latest status under a lock on the owning instance, then rolls up.
func (s *InstanceService) UpdateStep(ctx context.Context, actor *models.Actor, instanceID, stepID string, patch StepPatch) (*models.InstanceDetail, error) {
	if err := requireActor(actor); err != nil {
		return nil, err
	}
	var (
		before, after models.InstanceStep
		inst          *models.WorkflowInstance
		prevStatus    models.InstanceStatus
		statusChanged bool
	)
	err := s.repo.InTx(ctx, func(q repository.Queries) error {
		var err error
		if inst, err = q.GetInstance(ctx, actor.OrgID, instanceID, true); err != nil {
			return err
		}
		prevStatus = inst.Status
		step, err := q.GetInstanceStep(ctx, instanceID, stepID)
		if err != nil {
			return err
		}
		before = *step
		now := s.now()

		if patch.Status != nil && *patch.Status != step.Status {
			if err := checkStepTransition(step.Status, *patch.Status); err != nil {
				return err
			}
			step.Status = *patch.Status
			statusChanged = true
			switch step.Status {
			case models.StepStatusInProgress:
				if step.StartedAt == nil {
					step.StartedAt = &now
				}
			case models.StepStatusCompleted:
				step.CompletedAt = &now
				by := actor.UserID
				step.CompletedBy = &by
			}
		}
		if patch.Notes != nil {
			step.Notes = patch.Notes
		}
		if patch.AssigneeID != nil {
			if *patch.AssigneeID == "" {
				step.AssigneeID = nil
			} else {
				step.AssigneeID = patch.AssigneeID
			}
		}
		if patch.DueAt != nil {
			if patch.DueAt.Before(inst.StartedAt) {
				return apperr.Validation("dueAt", "must not be before the workflow start")
			}
			due := patch.DueAt.UTC()
			step.DueAt = &due
		}
		if err := q.UpdateInstanceStep(ctx, step); err != nil {
			return err
		}
		after = *step

		if !statusChanged {
			return nil
		}
		if inst.Status == models.InstanceStatusPending &&
			(step.Status == models.StepStatusInProgress || step.Status == models.StepStatusCompleted) {
			inst.Status = models.InstanceStatusInProgress
		}
		return s.rollup(ctx, q, inst)
	})
	if err != nil {
		return nil, err
	}

	if statusChanged {
		s.metrics.stepTransitioned(ctx, string(after.Status))
		if after.Status == models.StepStatusCompleted {
			s.publish(ctx, models.EventStepCompleted, actor, inst, after.ID, nil)
		}
		s.afterInstanceChange(ctx, actor, inst, prevStatus)
	}
	s.audit.LogUpdate(ctx, actor, entityInstanceStep, after.ID, after.Name, &before, &after)
	return s.Get(ctx, actor, instanceID)
}

// Update applies a patch to an instance through the instance state machine.
func (s *InstanceService) Update(ctx context.Context, actor *models.Actor, instanceID string, patch InstancePatch) (*models.InstanceDetail, error) {
	if err := requireActor(actor); err != nil {
		return nil, err
	}
	if len(patch.Metadata) > 0 && !json.Valid(patch.Metadata) {
		return nil, apperr.Validation("metadata", "must be valid JSON")
	}
	var (
		before     models.WorkflowInstance
		inst       *models.WorkflowInstance
		prevStatus models.InstanceStatus
	)
	err := s.repo.InTx(ctx, func(q repository.Queries) error {
		var err error
		if inst, err = q.GetInstance(ctx, actor.OrgID, instanceID, true); err != nil {
			return err
		}
		before = *inst
		prevStatus = inst.Status

		if patch.Status != nil && *patch.Status != inst.Status {
			if err := checkInstanceTransition(inst.Status, *patch.Status); err != nil {
				return err
			}
			inst.Status = *patch.Status
			if inst.Status == models.InstanceStatusCompleted && inst.CompletedAt == nil {
				now := s.now()
				inst.CompletedAt = &now
			}
		}
		if patch.DueAt != nil {
			if patch.DueAt.Before(inst.StartedAt) {
				return apperr.Validation("dueAt", "must not be before the workflow start")
			}
			due := patch.DueAt.UTC()
			inst.DueAt = &due
		}
		if patch.OwnerID != nil {
			if *patch.OwnerID == "" {
				inst.OwnerID = nil
			} else {
				inst.OwnerID = patch.OwnerID
			}
		}
		if patch.Metadata != nil {
			inst.Metadata = patch.Metadata
		}
		return s.rollup(ctx, q, inst)
	})
	if err != nil {
		return nil, err
	}

	s.afterInstanceChange(ctx, actor, inst, prevStatus)
	s.audit.LogUpdate(ctx, actor, entityInstance, inst.ID, inst.Name, &before, inst)
	return s.Get(ctx, actor, instanceID)
}

// Cancel moves an instance to cancelled. Its steps keep their statuses.
func (s *InstanceService) Cancel(ctx context.Context, actor *models.Actor, instanceID string) (*models.InstanceDetail, error) {
	status := models.InstanceStatusCancelled
	return s.Update(ctx, actor, instanceID, InstancePatch{Status: &status})
}

// rollup recounts completed steps and completes the instance once every
// step is done and the instance state machine allows it. It persists inst.
func (s *InstanceService) rollup(ctx context.Context, q repository.Queries, inst *models.WorkflowInstance) error {
	completed, err := q.CountCompletedSteps(ctx, inst.ID)
	if err != nil {
		return err
	}
	inst.CompletedSteps = completed
	if inst.TotalSteps > 0 && completed == inst.TotalSteps &&
		CanTransitionInstance(inst.Status, models.InstanceStatusCompleted) {
		inst.Status = models.InstanceStatusCompleted
		if inst.CompletedAt == nil {
			now := s.now()
			inst.CompletedAt = &now
		}
	}
	return q.UpdateInstance(ctx, inst)
}

func (s *InstanceService) afterInstanceChange(ctx context.Context, actor *models.Actor, inst *models.WorkflowInstance, prev models.InstanceStatus) {
	if inst.Status == prev {
		return
	}
	s.log.Info("workflow instance status changed",
		"instance_id", inst.ID, "from", string(prev), "to", string(inst.Status))
	switch inst.Status {
	case models.InstanceStatusCompleted:
		s.metrics.instanceCompleted(ctx, inst.TemplateID)
		s.publish(ctx, models.EventInstanceCompleted, actor, inst, "", nil)
	case models.InstanceStatusCancelled:
		s.publish(ctx, models.EventInstanceCancelled, actor, inst, "", nil)
	}
}

func (s *InstanceService) publish(ctx context.Context, typ models.EventType, actor *models.Actor,
	inst *models.WorkflowInstance, stepID string, recipients []string) {
	if s.events == nil {
		return
	}
	s.events.Publish(ctx, &models.WorkflowEvent{
		Type:       typ,
		OrgID:      inst.OrgID,
		InstanceID: inst.ID,
		TemplateID: inst.TemplateID,
		StepID:     stepID,
		EntityType: inst.EntityType,
		EntityID:   inst.EntityID,
		Status:     string(inst.Status),
		ActorID:    actor.UserID,
		Recipients: recipients,
		OccurredAt: s.now(),
	})
}

// Get returns an instance with its enriched steps.
func (s *InstanceService) Get(ctx context.Context, actor *models.Actor, id string) (*models.InstanceDetail, error) {
	if err := requireActor(actor); err != nil {
		return nil, err
	}
	var (
		inst     *models.WorkflowInstance
		steps    []*models.InstanceStep
		tpl      *models.WorkflowTemplate
		tplSteps = map[string]*models.TemplateStep{}
	)
	err := s.repo.InTx(ctx, func(q repository.Queries) error {
		var err error
		if inst, err = q.GetInstance(ctx, actor.OrgID, id, false); err != nil {
			return err
		}
		if steps, err = q.ListInstanceSteps(ctx, id); err != nil {
			return err
		}
		tpl, err = q.GetTemplate(ctx, actor.OrgID, inst.TemplateID)
		if apperr.IsNotFound(err) {
			return nil
		}
		if err != nil {
			return err
		}
		current, err := q.ListTemplateSteps(ctx, tpl.ID)
		if err != nil {
			return err
		}
		for _, ts := range current {
			tplSteps[ts.ID] = ts
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	refs := newRefResolver(s.dir, actor.OrgID, s.log)
	detail := &models.InstanceDetail{
		WorkflowInstance: inst,
		Progress:         inst.Progress(),
		Owner:            refs.user(ctx, inst.OwnerID),
		Starter:          refs.user(ctx, &inst.StartedBy),
		Steps:            make([]*models.InstanceStepView, 0, len(steps)),
	}
	if tpl != nil {
		detail.Template = &models.TemplateRef{ID: tpl.ID, Name: tpl.Name}
	}
	for _, st := range steps {
		view := &models.InstanceStepView{
			InstanceStep:    st,
			Assignee:        refs.user(ctx, st.AssigneeID),
			AssignedPerson:  refs.person(ctx, st.AssignedPersonID),
			CompletedByUser: refs.user(ctx, st.CompletedBy),
		}
		if st.TemplateStepID != nil {
			view.TemplateStep = templateStepRef(tplSteps[*st.TemplateStepID])
		}
		detail.Steps = append(detail.Steps, view)
	}
	return detail, nil
}

// List returns instance summaries matching filter.
func (s *InstanceService) List(ctx context.Context, actor *models.Actor, filter models.InstanceFilter) ([]*models.InstanceSummary, error) {
	if err := requireActor(actor); err != nil {
		return nil, err
	}
	if filter.Limit < 0 || filter.Offset < 0 {
		return nil, apperr.Validation("limit", "limit and offset must not be negative")
	}
	var (
		instances []*models.WorkflowInstance
		templates = map[string]*models.TemplateRef{}
	)
	err := s.repo.InTx(ctx, func(q repository.Queries) error {
		var err error
		if instances, err = q.ListInstances(ctx, actor.OrgID, filter); err != nil {
			return err
		}
		for _, inst := range instances {
			if _, seen := templates[inst.TemplateID]; seen {
				continue
			}
			tpl, err := q.GetTemplate(ctx, actor.OrgID, inst.TemplateID)
			switch {
			case apperr.IsNotFound(err):
				templates[inst.TemplateID] = nil
			case err != nil:
				return err
			default:
				templates[inst.TemplateID] = &models.TemplateRef{ID: tpl.ID, Name: tpl.Name}
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	refs := newRefResolver(s.dir, actor.OrgID, s.log)
	out := make([]*models.InstanceSummary, 0, len(instances))
	for _, inst := range instances {
		out = append(out, &models.InstanceSummary{
			WorkflowInstance: inst,
			Progress:         inst.Progress(),
			Template:         templates[inst.TemplateID],
			Owner:            refs.user(ctx, inst.OwnerID),
		})
	}
	return out, nil
}

func uniqueStrings(in []string) []string {
	seen := make(map[string]bool, len(in))
	var out []string
	for _, v := range in {
		if !seen[v] {
			seen[v] = true
			out = append(out, v)
		}
	}
	return out
}
