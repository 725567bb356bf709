package repository

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"complyflow/backend/internal/apperr"
	"complyflow/backend/pkg/models"
)

// MemoryDirectory is an in-process directory of users, people and roles.
type MemoryDirectory struct {
	mu     sync.RWMutex
	users  map[string]*models.User
	people map[string]*models.Person
	roles  map[string][]string // org/role -> person ids in join order
}

// NewMemoryDirectory creates an empty MemoryDirectory.
func NewMemoryDirectory() *MemoryDirectory {
	return &MemoryDirectory{
		users:  map[string]*models.User{},
		people: map[string]*models.Person{},
		roles:  map[string][]string{},
	}
}

// AddUser registers a system user.
func (d *MemoryDirectory) AddUser(u models.User) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.users[u.ID] = &u
}

// AddPerson registers a business person.
func (d *MemoryDirectory) AddPerson(p models.Person) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.people[p.ID] = &p
}

// AddRoleMember appends a person to a role.
func (d *MemoryDirectory) AddRoleMember(orgID, role, personID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	key := orgID + "/" + role
	d.roles[key] = append(d.roles[key], personID)
}

// GetUser retrieves a system user by id.
func (d *MemoryDirectory) GetUser(ctx context.Context, orgID, userID string) (*models.User, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	u, ok := d.users[userID]
	if !ok || u.OrgID != orgID {
		return nil, apperr.NotFound("user", userID)
	}
	return copyOf(u), nil
}

// GetPerson retrieves a business person by id.
func (d *MemoryDirectory) GetPerson(ctx context.Context, orgID, personID string) (*models.Person, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	p, ok := d.people[personID]
	if !ok || p.OrgID != orgID {
		return nil, apperr.NotFound("person", personID)
	}
	return copyOf(p), nil
}

// ManagerOf returns the manager of a person.
func (d *MemoryDirectory) ManagerOf(ctx context.Context, orgID, personID string) (*models.Person, error) {
	p, err := d.GetPerson(ctx, orgID, personID)
	if err != nil {
		return nil, err
	}
	if p.ManagerID == nil {
		return nil, apperr.NotFound("manager of person", personID)
	}
	return d.GetPerson(ctx, orgID, *p.ManagerID)
}

// RoleMembers lists the people holding a role in join order.
func (d *MemoryDirectory) RoleMembers(ctx context.Context, orgID, role string) ([]*models.Person, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	var out []*models.Person
	for _, id := range d.roles[orgID+"/"+role] {
		if p, ok := d.people[id]; ok && p.OrgID == orgID {
			out = append(out, copyOf(p))
		}
	}
	return out, nil
}

// MemoryAuditLog keeps audit entries in memory.
type MemoryAuditLog struct {
	mu      sync.Mutex
	entries []*models.AuditEntry
}

// Append records an entry.
func (a *MemoryAuditLog) Append(ctx context.Context, entry *models.AuditEntry) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	entry.ID = uuid.New().String()
	entry.CreatedAt = time.Now()
	a.entries = append(a.entries, copyOf(entry))
	return nil
}

// Entries returns a snapshot of every recorded entry.
func (a *MemoryAuditLog) Entries() []*models.AuditEntry {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]*models.AuditEntry, len(a.entries))
	copy(out, a.entries)
	return out
}
