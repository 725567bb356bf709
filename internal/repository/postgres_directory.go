package repository

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"complyflow/backend/pkg/models"
)

const personColumns = `id, org_id, user_id, display_name, email, manager_id`

// PostgresDirectory reads users, people and role membership from the tables
// owned by the people module.
type PostgresDirectory struct {
	db *pgxpool.Pool
}

// NewPostgresDirectory creates a new PostgresDirectory.
func NewPostgresDirectory(db *pgxpool.Pool) *PostgresDirectory {
	return &PostgresDirectory{db: db}
}

// GetUser retrieves a system user by id.
func (d *PostgresDirectory) GetUser(ctx context.Context, orgID, userID string) (*models.User, error) {
	var u models.User
	err := d.db.QueryRow(ctx,
		`SELECT id, org_id, name, email FROM users WHERE id = $1 AND org_id = $2`,
		userID, orgID,
	).Scan(&u.ID, &u.OrgID, &u.Name, &u.Email)
	if err != nil {
		return nil, mapErr(err, "user", userID)
	}
	return &u, nil
}

// GetPerson retrieves a business person by id.
func (d *PostgresDirectory) GetPerson(ctx context.Context, orgID, personID string) (*models.Person, error) {
	p, err := scanPerson(d.db.QueryRow(ctx,
		`SELECT `+personColumns+` FROM people WHERE id = $1 AND org_id = $2`,
		personID, orgID))
	if err != nil {
		return nil, mapErr(err, "person", personID)
	}
	return p, nil
}

// ManagerOf returns the manager of a person.
func (d *PostgresDirectory) ManagerOf(ctx context.Context, orgID, personID string) (*models.Person, error) {
	p, err := scanPerson(d.db.QueryRow(ctx, `
		SELECT m.id, m.org_id, m.user_id, m.display_name, m.email, m.manager_id
		FROM people p
		JOIN people m ON m.id = p.manager_id
		WHERE p.id = $1 AND p.org_id = $2`,
		personID, orgID))
	if err != nil {
		return nil, mapErr(err, "manager of person", personID)
	}
	return p, nil
}

// RoleMembers lists the people holding a role, longest-standing first.
func (d *PostgresDirectory) RoleMembers(ctx context.Context, orgID, role string) ([]*models.Person, error) {
	rows, err := d.db.Query(ctx, `
		SELECT p.id, p.org_id, p.user_id, p.display_name, p.email, p.manager_id
		FROM role_members r
		JOIN people p ON p.id = r.person_id
		WHERE r.org_id = $1 AND r.role = $2
		ORDER BY r.added_at ASC, p.id ASC`,
		orgID, role)
	if err != nil {
		return nil, mapErr(err, "role", role)
	}
	return collect(rows, scanPerson)
}

func scanPerson(row rowScanner) (*models.Person, error) {
	p := &models.Person{}
	if err := row.Scan(&p.ID, &p.OrgID, &p.UserID, &p.DisplayName, &p.Email, &p.ManagerID); err != nil {
		return nil, err
	}
	return p, nil
}
