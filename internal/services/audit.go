package services

import (
	"context"
	"encoding/json"

	"complyflow/backend/internal/logging"
	"complyflow/backend/pkg/models"
)

const auditModule = "workflows"

// Auditor records create/update/delete changes. Audit failures are logged
// and never returned to the caller.
type Auditor struct {
	log    AuditLog
	logger *logging.Logger
}

// NewAuditor creates an Auditor writing to log. A nil log disables auditing.
func NewAuditor(log AuditLog, logger *logging.Logger) *Auditor {
	return &Auditor{log: log, logger: logger}
}

// LogCreate records the creation of an entity.
func (a *Auditor) LogCreate(ctx context.Context, actor *models.Actor, entityType, entityID, entityName string, after any) {
	a.append(ctx, actor, models.AuditCreate, entityType, entityID, entityName, nil, after)
}

// LogUpdate records a change to an entity.
func (a *Auditor) LogUpdate(ctx context.Context, actor *models.Actor, entityType, entityID, entityName string, before, after any) {
	a.append(ctx, actor, models.AuditUpdate, entityType, entityID, entityName, before, after)
}

// LogDelete records the removal of an entity.
func (a *Auditor) LogDelete(ctx context.Context, actor *models.Actor, entityType, entityID, entityName string, before any) {
	a.append(ctx, actor, models.AuditDelete, entityType, entityID, entityName, before, nil)
}

func (a *Auditor) append(ctx context.Context, actor *models.Actor, action models.AuditAction,
	entityType, entityID, entityName string, before, after any) {
	if a == nil || a.log == nil {
		return
	}
	entry := &models.AuditEntry{
		OrgID:      actor.OrgID,
		Module:     auditModule,
		EntityType: entityType,
		EntityID:   entityID,
		EntityName: entityName,
		Action:     action,
		ActorID:    actor.UserID,
		Before:     a.snapshot(before),
		After:      a.snapshot(after),
	}
	if err := a.log.Append(ctx, entry); err != nil {
		a.logger.Warn("failed to write audit log entry",
			"entity_type", entityType,
			"entity_id", entityID,
			"action", string(action),
			"error", err)
	}
}

func (a *Auditor) snapshot(v any) json.RawMessage {
	if v == nil {
		return nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		a.logger.Warn("failed to marshal audit snapshot", "error", err)
		return nil
	}
	return raw
}
