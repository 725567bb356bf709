package repository

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"complyflow/backend/pkg/models"
)

// PostgresAuditLog appends immutable entries to the shared audit_log table.
type PostgresAuditLog struct {
	db *pgxpool.Pool
}

// NewPostgresAuditLog creates a new PostgresAuditLog.
func NewPostgresAuditLog(db *pgxpool.Pool) *PostgresAuditLog {
	return &PostgresAuditLog{db: db}
}

// Append inserts one audit entry and fills in its id and timestamp.
// Entries are never updated or deleted.
func (a *PostgresAuditLog) Append(ctx context.Context, entry *models.AuditEntry) error {
	query := `
		INSERT INTO audit_log
		    (org_id, module, entity_type, entity_id, entity_name,
		     action, actor_id, before, after)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id, created_at
	`
	err := a.db.QueryRow(ctx, query,
		entry.OrgID, entry.Module, entry.EntityType, entry.EntityID, entry.EntityName,
		entry.Action, entry.ActorID, nullableJSON(entry.Before), nullableJSON(entry.After),
	).Scan(&entry.ID, &entry.CreatedAt)
	return mapErr(err, "audit_entry", entry.EntityID)
}

// ListForEntity returns the audit trail of one entity, oldest first.
func (a *PostgresAuditLog) ListForEntity(ctx context.Context, orgID, entityType, entityID string) ([]*models.AuditEntry, error) {
	rows, err := a.db.Query(ctx, `
		SELECT id, org_id, module, entity_type, entity_id, entity_name,
		       action, actor_id, before, after, created_at
		FROM audit_log
		WHERE org_id = $1 AND entity_type = $2 AND entity_id = $3
		ORDER BY created_at ASC, id ASC`,
		orgID, entityType, entityID)
	if err != nil {
		return nil, mapErr(err, "audit_entry", entityID)
	}
	return collect(rows, scanAuditEntry)
}

func nullableJSON(raw []byte) []byte {
	if len(raw) == 0 {
		return nil
	}
	return raw
}

func scanAuditEntry(row rowScanner) (*models.AuditEntry, error) {
	e := &models.AuditEntry{}
	err := row.Scan(
		&e.ID,
		&e.OrgID,
		&e.Module,
		&e.EntityType,
		&e.EntityID,
		&e.EntityName,
		&e.Action,
		&e.ActorID,
		(*[]byte)(&e.Before),
		(*[]byte)(&e.After),
		&e.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return e, nil
}
