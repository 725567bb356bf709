// Package models defines the domain models for the workflow engine service
package models

import (
	"encoding/json"
	"time"
)

// Person is a business person record owned by the people module.
type Person struct {
	ID          string  `json:"id"`
	OrgID       string  `json:"orgId"`
	UserID      *string `json:"userId,omitempty"`
	DisplayName string  `json:"displayName"`
	Email       string  `json:"email"`
	ManagerID   *string `json:"managerId,omitempty"`
}

// User is a system user able to log in and act on steps.
type User struct {
	ID    string `json:"id"`
	OrgID string `json:"orgId"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

// PersonRef is the display projection of a user or person reference.
type PersonRef struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

// AuditAction is the kind of change recorded in the audit log.
type AuditAction string

const (
	AuditCreate AuditAction = "create"
	AuditUpdate AuditAction = "update"
	AuditDelete AuditAction = "delete"
)

// AuditEntry is one immutable record in the audit log.
type AuditEntry struct {
	ID         string          `json:"id"`
	OrgID      string          `json:"orgId"`
	Module     string          `json:"module"`
	EntityType string          `json:"entityType"`
	EntityID   string          `json:"entityId"`
	EntityName string          `json:"entityName"`
	Action     AuditAction     `json:"action"`
	ActorID    string          `json:"actorId"`
	Before     json.RawMessage `json:"before,omitempty"`
	After      json.RawMessage `json:"after,omitempty"`
	CreatedAt  time.Time       `json:"createdAt"`
}

// TemplateStepView is a template step enriched with its default assignee.
type TemplateStepView struct {
	*TemplateStep
	DefaultAssignee *PersonRef `json:"defaultAssignee"`
}

// TemplateDetail is the read view of a template with its full graph.
type TemplateDetail struct {
	*WorkflowTemplate
	Steps         []*TemplateStepView `json:"steps"`
	Edges         []*TemplateEdge     `json:"edges"`
	Creator       *PersonRef          `json:"creator"`
	DefaultOwner  *PersonRef          `json:"defaultOwner"`
	InstanceCount int                 `json:"instanceCount"`
}

// TemplateSummary is the list view of a template with aggregate stats.
type TemplateSummary struct {
	*WorkflowTemplate
	StepCount     int `json:"stepCount"`
	InstanceCount int `json:"instanceCount"`
}

// TemplateStepRef is the subset of template step metadata shown on instance steps.
type TemplateStepRef struct {
	ID            string       `json:"id"`
	StepType      StepType     `json:"stepType"`
	AssigneeType  AssigneeType `json:"assigneeType"`
	DueOffsetDays *int         `json:"dueOffsetDays,omitempty"`
	DueReference  string       `json:"dueReference"`
	PositionX     float64      `json:"positionX"`
	PositionY     float64      `json:"positionY"`
}

// InstanceStepView is an instance step joined with people and template metadata.
type InstanceStepView struct {
	*InstanceStep
	Assignee        *PersonRef       `json:"assignee"`
	AssignedPerson  *PersonRef       `json:"assignedPerson"`
	CompletedByUser *PersonRef       `json:"completedByUser"`
	TemplateStep    *TemplateStepRef `json:"templateStep"`
}

// TemplateRef names the template an instance was started from.
type TemplateRef struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// InstanceDetail is the read view of an instance with its steps.
type InstanceDetail struct {
	*WorkflowInstance
	Progress int                 `json:"progress"`
	Template *TemplateRef        `json:"template"`
	Owner    *PersonRef          `json:"owner"`
	Starter  *PersonRef          `json:"starter"`
	Steps    []*InstanceStepView `json:"steps"`
}

// InstanceSummary is the list view of an instance.
type InstanceSummary struct {
	*WorkflowInstance
	Progress int          `json:"progress"`
	Template *TemplateRef `json:"template"`
	Owner    *PersonRef   `json:"owner"`
}

// HealthStatus represents service health
type HealthStatus struct {
	Status    string            `json:"status"`
	Service   string            `json:"service"`
	Version   string            `json:"version"`
	Timestamp time.Time         `json:"timestamp"`
	Checks    map[string]string `json:"checks,omitempty"`
}

// ProblemDetails represents RFC 7807 Problem Details
type ProblemDetails struct {
	Type     string            `json:"type"`
	Title    string            `json:"title"`
	Status   int               `json:"status"`
	Detail   string            `json:"detail,omitempty"`
	Instance string            `json:"instance,omitempty"`
	Code     string            `json:"code,omitempty"`
	Errors   map[string]string `json:"errors,omitempty"`
}
