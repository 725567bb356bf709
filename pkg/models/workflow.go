package models

import (
	"encoding/json"
	"time"
)

// TemplateStatus is the lifecycle status of a workflow template.
type TemplateStatus string

const (
	TemplateStatusDraft    TemplateStatus = "draft"
	TemplateStatusActive   TemplateStatus = "active"
	TemplateStatusArchived TemplateStatus = "archived"
)

// StepType is the kind of node in a template graph.
type StepType string

const (
	StepTypeTask         StepType = "task"
	StepTypeNotification StepType = "notification"
	StepTypeGateway      StepType = "gateway"
	StepTypeGroup        StepType = "group"
)

// AssigneeType selects how a step's assignee is resolved when an instance starts.
type AssigneeType string

const (
	AssigneeSpecificUser   AssigneeType = "specific_user"
	AssigneeRole           AssigneeType = "role"
	AssigneeDynamicManager AssigneeType = "dynamic_manager"
	AssigneeDynamicCreator AssigneeType = "dynamic_creator"
	AssigneeUnassigned     AssigneeType = "unassigned"
)

// ConditionType controls when an edge is traversed.
type ConditionType string

const (
	ConditionAlways      ConditionType = "always"
	ConditionIfApproved  ConditionType = "if_approved"
	ConditionIfRejected  ConditionType = "if_rejected"
	ConditionConditional ConditionType = "conditional"
)

// Due date anchors understood without caller-supplied dates.
const (
	DueFromWorkflowStart = "workflow_start"
	DueFromWorkflowDue   = "workflow_due"
)

// InstanceStatus is the lifecycle status of a running workflow.
type InstanceStatus string

const (
	InstanceStatusPending    InstanceStatus = "pending"
	InstanceStatusInProgress InstanceStatus = "in_progress"
	InstanceStatusCompleted  InstanceStatus = "completed"
	InstanceStatusCancelled  InstanceStatus = "cancelled"
	InstanceStatusOnHold     InstanceStatus = "on_hold"
)

// StepStatus is the lifecycle status of a materialized step.
type StepStatus string

const (
	StepStatusPending    StepStatus = "pending"
	StepStatusInProgress StepStatus = "in_progress"
	StepStatusCompleted  StepStatus = "completed"
	StepStatusCancelled  StepStatus = "cancelled"
)

// WorkflowTemplate is the reusable, designer-edited definition of a workflow graph.
type WorkflowTemplate struct {
	ID               string          `json:"id"`
	OrgID            string          `json:"orgId"`
	Name             string          `json:"name"`
	Description      string          `json:"description"`
	ModuleScope      string          `json:"moduleScope"`
	TriggerType      string          `json:"triggerType"`
	Status           TemplateStatus  `json:"status"`
	IsActive         bool            `json:"isActive"`
	DefaultDueInDays *int            `json:"defaultDueInDays,omitempty"`
	DefaultOwnerID   *string         `json:"defaultOwnerId,omitempty"`
	Settings         json.RawMessage `json:"settings,omitempty"`
	Version          int             `json:"version"`
	CreatedBy        string          `json:"createdBy"`
	CreatedAt        time.Time       `json:"createdAt"`
	UpdatedAt        time.Time       `json:"updatedAt"`
}

// TemplateStep is one node in a template graph.
type TemplateStep struct {
	ID                string          `json:"id"`
	TemplateID        string          `json:"templateId"`
	ParentStepID      *string         `json:"parentStepId"`
	Name              string          `json:"name"`
	Description       string          `json:"description"`
	StepType          StepType        `json:"stepType"`
	OrderIndex        int             `json:"orderIndex"`
	PositionX         float64         `json:"positionX"`
	PositionY         float64         `json:"positionY"`
	AssigneeType      AssigneeType    `json:"assigneeType"`
	AssigneeConfig    json.RawMessage `json:"assigneeConfig,omitempty"`
	DefaultAssigneeID *string         `json:"defaultAssigneeId,omitempty"`
	DueOffsetDays     *int            `json:"dueOffsetDays,omitempty"`
	DueReference      string          `json:"dueReference"`
	IsRequired        bool            `json:"isRequired"`
	Metadata          json.RawMessage `json:"metadata,omitempty"`
	CreatedAt         time.Time       `json:"createdAt"`
}

// TemplateEdge is a directed, conditionally traversed connection between two steps.
type TemplateEdge struct {
	ID              string          `json:"id"`
	TemplateID      string          `json:"templateId"`
	SourceStepID    string          `json:"sourceStepId"`
	TargetStepID    string          `json:"targetStepId"`
	ConditionType   ConditionType   `json:"conditionType"`
	ConditionConfig json.RawMessage `json:"conditionConfig,omitempty"`
	Label           *string         `json:"label,omitempty"`
}

// WorkflowInstance is one execution of a template against a business entity.
type WorkflowInstance struct {
	ID             string          `json:"id"`
	TemplateID     string          `json:"templateId"`
	OrgID          string          `json:"orgId"`
	EntityType     string          `json:"entityType"`
	EntityID       string          `json:"entityId"`
	Name           string          `json:"name"`
	Status         InstanceStatus  `json:"status"`
	StartedAt      time.Time       `json:"startedAt"`
	DueAt          *time.Time      `json:"dueAt,omitempty"`
	CompletedAt    *time.Time      `json:"completedAt,omitempty"`
	TotalSteps     int             `json:"totalSteps"`
	CompletedSteps int             `json:"completedSteps"`
	StartedBy      string          `json:"startedBy"`
	OwnerID        *string         `json:"ownerId,omitempty"`
	Metadata       json.RawMessage `json:"metadata,omitempty"`
	CreatedAt      time.Time       `json:"createdAt"`
	UpdatedAt      time.Time       `json:"updatedAt"`
}

// Progress is the integer completion percentage, 0 when the instance has no steps.
func (i *WorkflowInstance) Progress() int {
	return ProgressPercent(i.CompletedSteps, i.TotalSteps)
}

// ProgressPercent rounds completed/total to the nearest whole percent.
func ProgressPercent(completed, total int) int {
	if total <= 0 {
		return 0
	}
	return (completed*200 + total) / (total * 2)
}

// InstanceStep is one assignable unit of work materialized from a template step.
type InstanceStep struct {
	ID               string          `json:"id"`
	InstanceID       string          `json:"instanceId"`
	TemplateStepID   *string         `json:"templateStepId,omitempty"`
	ParentStepID     *string         `json:"parentStepId"`
	Name             string          `json:"name"`
	Description      string          `json:"description"`
	StepType         StepType        `json:"stepType"`
	OrderIndex       int             `json:"orderIndex"`
	IsRequired       bool            `json:"isRequired"`
	Status           StepStatus      `json:"status"`
	AssigneeID       *string         `json:"assigneeId,omitempty"`
	AssignedPersonID *string         `json:"assignedPersonId,omitempty"`
	DueAt            *time.Time      `json:"dueAt,omitempty"`
	StartedAt        *time.Time      `json:"startedAt,omitempty"`
	CompletedAt      *time.Time      `json:"completedAt,omitempty"`
	CompletedBy      *string         `json:"completedBy,omitempty"`
	Notes            *string         `json:"notes,omitempty"`
	Metadata         json.RawMessage `json:"metadata,omitempty"`
	CreatedAt        time.Time       `json:"createdAt"`
	UpdatedAt        time.Time       `json:"updatedAt"`
}

// TemplateFilter narrows template list queries.
type TemplateFilter struct {
	ModuleScope *string
	Status      *TemplateStatus
	TriggerType *string
}

// InstanceFilter narrows instance list queries.
type InstanceFilter struct {
	TemplateID *string
	Status     *InstanceStatus
	EntityType *string
	EntityID   *string
	Limit      int
	Offset     int
}
