package models

import (
	"slices"
	"time"
)

// Actor is the authenticated caller of an engine operation.
type Actor struct {
	UserID string   `json:"userId"`
	OrgID  string   `json:"orgId"`
	Email  string   `json:"email"`
	Scopes []string `json:"scopes,omitempty"`
}

// HasScope reports whether the actor was granted scope.
func (a *Actor) HasScope(scope string) bool {
	return a != nil && slices.Contains(a.Scopes, scope)
}

// EventType names a workflow lifecycle event.
type EventType string

const (
	EventInstanceCreated   EventType = "instance.created"
	EventInstanceCompleted EventType = "instance.completed"
	EventInstanceCancelled EventType = "instance.cancelled"
	EventStepCompleted     EventType = "step.completed"
)

// WorkflowEvent is published after a lifecycle change commits.
type WorkflowEvent struct {
	Type       EventType `json:"type"`
	OrgID      string    `json:"orgId"`
	InstanceID string    `json:"instanceId"`
	TemplateID string    `json:"templateId"`
	StepID     string    `json:"stepId,omitempty"`
	EntityType string    `json:"entityType"`
	EntityID   string    `json:"entityId"`
	Status     string    `json:"status"`
	ActorID    string    `json:"actorId"`
	Recipients []string  `json:"recipients,omitempty"`
	OccurredAt time.Time `json:"occurredAt"`
}
