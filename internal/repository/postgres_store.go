package repository

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"complyflow/backend/internal/apperr"
	"complyflow/backend/pkg/models"
)

//go:embed schema.sql
var schemaSQL string

// dbtx is satisfied by both *pgxpool.Pool and pgx.Tx.
type dbtx interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore is a PostgreSQL implementation of the Repository interface.
type PostgresStore struct {
	db *pgxpool.Pool
}

// NewPostgresStore creates a new PostgresStore.
func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate applies the embedded schema. It is idempotent.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

// Ping checks database connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

// InTx runs fn inside a single database transaction.
func (s *PostgresStore) InTx(ctx context.Context, fn func(q Queries) error) error {
	return pgx.BeginFunc(ctx, s.db, func(tx pgx.Tx) error {
		return fn(&pgQueries{db: tx})
	})
}

// GetTenantByDomain returns the tenant registered for an email domain.
func (s *PostgresStore) GetTenantByDomain(ctx context.Context, domain string) (*models.Tenant, error) {
	var t models.Tenant
	err := s.db.QueryRow(ctx,
		`SELECT id, name, domain, created_at, updated_at FROM tenants WHERE domain = $1`,
		domain,
	).Scan(&t.ID, &t.Name, &t.Domain, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, mapErr(err, "tenant", domain)
	}
	return &t, nil
}

// CreateTenant inserts a tenant and fills in its generated fields.
func (s *PostgresStore) CreateTenant(ctx context.Context, tenant *models.Tenant) error {
	err := s.db.QueryRow(ctx,
		`INSERT INTO tenants (name, domain) VALUES ($1, $2)
		 ON CONFLICT (domain) DO UPDATE SET updated_at = NOW()
		 RETURNING id, created_at, updated_at`,
		tenant.Name, tenant.Domain,
	).Scan(&tenant.ID, &tenant.CreatedAt, &tenant.UpdatedAt)
	if err != nil {
		return apperr.Wrap(err, "failed to create tenant")
	}
	return nil
}

// pgQueries implements Queries on top of a pgx transaction.
type pgQueries struct {
	db dbtx
}

// rowScanner is satisfied by pgx.Row and pgx.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// mapErr converts driver errors into the apperr taxonomy.
func mapErr(err error, entity, id string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return apperr.NotFound(entity, id)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "22P02": // malformed uuid: the row cannot exist
			return apperr.NotFound(entity, id)
		case "23503":
			return apperr.Conflict(fmt.Sprintf("%s %s is still referenced", entity, id))
		case "23505":
			return apperr.Conflict(fmt.Sprintf("%s %s already exists", entity, id))
		}
	}
	return apperr.Wrap(err, fmt.Sprintf("%s query failed", entity))
}

// jsonb returns raw, or an empty object for columns that are NOT NULL.
func jsonb(raw json.RawMessage) []byte {
	if len(raw) == 0 {
		return []byte("{}")
	}
	return raw
}

// collect scans every row with scan and closes rows.
func collect[T any](rows pgx.Rows, scan func(rowScanner) (*T, error)) ([]*T, error) {
	defer rows.Close()
	var out []*T
	for rows.Next() {
		item, err := scan(rows)
		if err != nil {
			return nil, apperr.Wrap(err, "failed to scan row")
		}
		out = append(out, item)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Wrap(err, "failed to read rows")
	}
	return out, nil
}
