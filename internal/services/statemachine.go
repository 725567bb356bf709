package services

import (
	"slices"

	"complyflow/backend/internal/apperr"
	"complyflow/backend/pkg/models"
)

var stepTransitions = map[models.StepStatus][]models.StepStatus{
	models.StepStatusPending:    {models.StepStatusInProgress, models.StepStatusCancelled},
	models.StepStatusInProgress: {models.StepStatusCompleted, models.StepStatusCancelled},
	models.StepStatusCompleted:  nil,
	models.StepStatusCancelled:  nil,
}

var instanceTransitions = map[models.InstanceStatus][]models.InstanceStatus{
	models.InstanceStatusPending: {
		models.InstanceStatusInProgress, models.InstanceStatusOnHold, models.InstanceStatusCancelled,
	},
	models.InstanceStatusInProgress: {
		models.InstanceStatusCompleted, models.InstanceStatusOnHold, models.InstanceStatusCancelled,
	},
	models.InstanceStatusOnHold: {
		models.InstanceStatusInProgress, models.InstanceStatusCancelled,
	},
	models.InstanceStatusCompleted: nil,
	models.InstanceStatusCancelled: nil,
}

// CanTransitionStep reports whether a step may move from one status to another.
func CanTransitionStep(from, to models.StepStatus) bool {
	return slices.Contains(stepTransitions[from], to)
}

// CanTransitionInstance reports whether an instance may move from one status to another.
func CanTransitionInstance(from, to models.InstanceStatus) bool {
	return slices.Contains(instanceTransitions[from], to)
}

func checkStepTransition(from, to models.StepStatus) error {
	if _, known := stepTransitions[to]; !known {
		return apperr.Validation("status", "unknown step status "+string(to))
	}
	if !CanTransitionStep(from, to) {
		return apperr.InvalidTransition("workflow_instance_step", string(from), string(to))
	}
	return nil
}

func checkInstanceTransition(from, to models.InstanceStatus) error {
	if _, known := instanceTransitions[to]; !known {
		return apperr.Validation("status", "unknown instance status "+string(to))
	}
	if !CanTransitionInstance(from, to) {
		return apperr.InvalidTransition("workflow_instance", string(from), string(to))
	}
	return nil
}
