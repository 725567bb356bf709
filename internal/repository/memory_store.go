package repository

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"complyflow/backend/internal/apperr"
	"complyflow/backend/pkg/models"
)

// MemoryStore is an in-process Repository used by the "memory" storage
// driver and by engine tests. Transactions run serially against a copy of
// the state that replaces the live state only on commit, so readers never
// observe a half-applied transaction.
type MemoryStore struct {
	txMu  sync.Mutex
	mu    sync.RWMutex
	state *memState
	now   func() time.Time
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{state: newMemState(), now: time.Now}
}

// Ping always succeeds.
func (s *MemoryStore) Ping(ctx context.Context) error {
	return ctx.Err()
}

// InTx runs fn against a private copy of the state and publishes it on success.
func (s *MemoryStore) InTx(ctx context.Context, fn func(q Queries) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.txMu.Lock()
	defer s.txMu.Unlock()

	s.mu.RLock()
	work := s.state.clone()
	s.mu.RUnlock()
	work.now = s.now

	if err := fn(work); err != nil {
		return err
	}

	s.mu.Lock()
	s.state = work
	s.mu.Unlock()
	return nil
}

// GetTenantByDomain returns the tenant registered for an email domain.
func (s *MemoryStore) GetTenantByDomain(ctx context.Context, domain string) (*models.Tenant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, t := range s.state.tenants {
		if strings.EqualFold(t.Domain, domain) {
			cp := *t
			return &cp, nil
		}
	}
	return nil, apperr.NotFound("tenant", domain)
}

// CreateTenant registers a tenant, reusing an existing one for the same domain.
func (s *MemoryStore) CreateTenant(ctx context.Context, tenant *models.Tenant) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.state.tenants {
		if strings.EqualFold(t.Domain, tenant.Domain) {
			*tenant = *t
			return nil
		}
	}
	now := s.now()
	tenant.ID = uuid.New().String()
	tenant.CreatedAt, tenant.UpdatedAt = now, now
	cp := *tenant
	s.state.tenants[cp.ID] = &cp
	return nil
}

// memState holds every table. It implements Queries directly; callers
// only ever touch it through InTx on a private clone.
type memState struct {
	tenants       map[string]*models.Tenant
	templates     map[string]*models.WorkflowTemplate
	templateSteps map[string]*models.TemplateStep
	templateEdges map[string]*models.TemplateEdge
	instances     map[string]*models.WorkflowInstance
	instanceSteps map[string]*models.InstanceStep
	now           func() time.Time
}

func newMemState() *memState {
	return &memState{
		tenants:       map[string]*models.Tenant{},
		templates:     map[string]*models.WorkflowTemplate{},
		templateSteps: map[string]*models.TemplateStep{},
		templateEdges: map[string]*models.TemplateEdge{},
		instances:     map[string]*models.WorkflowInstance{},
		instanceSteps: map[string]*models.InstanceStep{},
		now:           time.Now,
	}
}

func (m *memState) clone() *memState {
	return &memState{
		tenants:       cloneMap(m.tenants),
		templates:     cloneMap(m.templates),
		templateSteps: cloneMap(m.templateSteps),
		templateEdges: cloneMap(m.templateEdges),
		instances:     cloneMap(m.instances),
		instanceSteps: cloneMap(m.instanceSteps),
		now:           m.now,
	}
}

// cloneMap copies the map and every struct it points to. Pointer fields
// inside the structs are shared but are only ever replaced, never mutated.
func cloneMap[T any](src map[string]*T) map[string]*T {
	dst := make(map[string]*T, len(src))
	for k, v := range src {
		cp := *v
		dst[k] = &cp
	}
	return dst
}

func copyOf[T any](v *T) *T {
	cp := *v
	return &cp
}

func emptyObject(raw json.RawMessage) json.RawMessage {
	if len(raw) == 0 {
		return json.RawMessage("{}")
	}
	return raw
}

// ── templates ─────────────────────────────────────────────────────────────────

func (m *memState) CreateTemplate(ctx context.Context, t *models.WorkflowTemplate) error {
	if _, ok := m.templates[t.ID]; ok {
		return apperr.Conflict("workflow_template " + t.ID + " already exists")
	}
	now := m.now()
	t.CreatedAt, t.UpdatedAt = now, now
	t.Settings = emptyObject(t.Settings)
	m.templates[t.ID] = copyOf(t)
	return nil
}

func (m *memState) GetTemplate(ctx context.Context, orgID, id string) (*models.WorkflowTemplate, error) {
	t, ok := m.templates[id]
	if !ok || t.OrgID != orgID {
		return nil, apperr.NotFound("workflow_template", id)
	}
	return copyOf(t), nil
}

func (m *memState) UpdateTemplate(ctx context.Context, t *models.WorkflowTemplate) error {
	cur, ok := m.templates[t.ID]
	if !ok || cur.OrgID != t.OrgID {
		return apperr.NotFound("workflow_template", t.ID)
	}
	t.UpdatedAt = m.now()
	t.CreatedAt = cur.CreatedAt
	t.CreatedBy = cur.CreatedBy
	t.Settings = emptyObject(t.Settings)
	m.templates[t.ID] = copyOf(t)
	return nil
}

func (m *memState) DeleteTemplate(ctx context.Context, orgID, id string) error {
	t, ok := m.templates[id]
	if !ok || t.OrgID != orgID {
		return apperr.NotFound("workflow_template", id)
	}
	for _, inst := range m.instances {
		if inst.TemplateID == id {
			return apperr.Conflict("workflow_template " + id + " is still referenced")
		}
	}
	if err := m.DeleteTemplateSteps(ctx, id); err != nil {
		return err
	}
	delete(m.templates, id)
	return nil
}

func (m *memState) ListTemplates(ctx context.Context, orgID string, filter models.TemplateFilter) ([]*models.WorkflowTemplate, error) {
	var out []*models.WorkflowTemplate
	for _, t := range m.templates {
		if t.OrgID != orgID {
			continue
		}
		if filter.ModuleScope != nil && t.ModuleScope != *filter.ModuleScope {
			continue
		}
		if filter.Status != nil && t.Status != *filter.Status {
			continue
		}
		if filter.TriggerType != nil && t.TriggerType != *filter.TriggerType {
			continue
		}
		out = append(out, copyOf(t))
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (m *memState) CountTemplateSteps(ctx context.Context, templateID string) (int, error) {
	n := 0
	for _, s := range m.templateSteps {
		if s.TemplateID == templateID {
			n++
		}
	}
	return n, nil
}

func (m *memState) CountInstances(ctx context.Context, templateID string) (int, error) {
	n := 0
	for _, i := range m.instances {
		if i.TemplateID == templateID {
			n++
		}
	}
	return n, nil
}

// ── template graph ────────────────────────────────────────────────────────────

func (m *memState) ListTemplateSteps(ctx context.Context, templateID string) ([]*models.TemplateStep, error) {
	var out []*models.TemplateStep
	for _, s := range m.templateSteps {
		if s.TemplateID == templateID {
			out = append(out, copyOf(s))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.OrderIndex != b.OrderIndex {
			return a.OrderIndex < b.OrderIndex
		}
		if a.Name != b.Name {
			return a.Name < b.Name
		}
		return a.ID < b.ID
	})
	return out, nil
}

func (m *memState) ListTemplateEdges(ctx context.Context, templateID string) ([]*models.TemplateEdge, error) {
	var out []*models.TemplateEdge
	for _, e := range m.templateEdges {
		if e.TemplateID == templateID {
			out = append(out, copyOf(e))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memState) DeleteTemplateSteps(ctx context.Context, templateID string) error {
	for id, s := range m.templateSteps {
		if s.TemplateID == templateID {
			delete(m.templateSteps, id)
		}
	}
	for id, e := range m.templateEdges {
		if e.TemplateID == templateID {
			delete(m.templateEdges, id)
		}
	}
	return nil
}

func (m *memState) InsertTemplateStep(ctx context.Context, s *models.TemplateStep) error {
	if _, ok := m.templates[s.TemplateID]; !ok {
		return apperr.NotFound("workflow_template", s.TemplateID)
	}
	if _, ok := m.templateSteps[s.ID]; ok {
		return apperr.Conflict("workflow_template_step " + s.ID + " already exists")
	}
	if s.ParentStepID != nil {
		if p, ok := m.templateSteps[*s.ParentStepID]; !ok || p.TemplateID != s.TemplateID {
			return apperr.NotFound("workflow_template_step", *s.ParentStepID)
		}
	}
	s.CreatedAt = m.now()
	s.AssigneeConfig = emptyObject(s.AssigneeConfig)
	s.Metadata = emptyObject(s.Metadata)
	m.templateSteps[s.ID] = copyOf(s)
	return nil
}

func (m *memState) SetTemplateStepParent(ctx context.Context, templateID, stepID, parentID string) error {
	s, ok := m.templateSteps[stepID]
	if !ok || s.TemplateID != templateID {
		return apperr.NotFound("workflow_template_step", stepID)
	}
	if p, ok := m.templateSteps[parentID]; !ok || p.TemplateID != templateID {
		return apperr.NotFound("workflow_template_step", parentID)
	}
	updated := copyOf(s)
	updated.ParentStepID = &parentID
	m.templateSteps[stepID] = updated
	return nil
}

func (m *memState) InsertTemplateEdge(ctx context.Context, e *models.TemplateEdge) error {
	for _, ref := range []string{e.SourceStepID, e.TargetStepID} {
		if s, ok := m.templateSteps[ref]; !ok || s.TemplateID != e.TemplateID {
			return apperr.NotFound("workflow_template_step", ref)
		}
	}
	e.ConditionConfig = emptyObject(e.ConditionConfig)
	m.templateEdges[e.ID] = copyOf(e)
	return nil
}

// ── instances ─────────────────────────────────────────────────────────────────

func (m *memState) CreateInstance(ctx context.Context, i *models.WorkflowInstance) error {
	if _, ok := m.templates[i.TemplateID]; !ok {
		return apperr.NotFound("workflow_template", i.TemplateID)
	}
	now := m.now()
	i.CreatedAt, i.UpdatedAt = now, now
	i.Metadata = emptyObject(i.Metadata)
	m.instances[i.ID] = copyOf(i)
	return nil
}

// GetInstance ignores lock: transactions are already serialized.
func (m *memState) GetInstance(ctx context.Context, orgID, id string, lock bool) (*models.WorkflowInstance, error) {
	i, ok := m.instances[id]
	if !ok || i.OrgID != orgID {
		return nil, apperr.NotFound("workflow_instance", id)
	}
	return copyOf(i), nil
}

func (m *memState) UpdateInstance(ctx context.Context, i *models.WorkflowInstance) error {
	cur, ok := m.instances[i.ID]
	if !ok || cur.OrgID != i.OrgID {
		return apperr.NotFound("workflow_instance", i.ID)
	}
	i.UpdatedAt = m.now()
	i.CreatedAt = cur.CreatedAt
	i.Metadata = emptyObject(i.Metadata)
	m.instances[i.ID] = copyOf(i)
	return nil
}

func (m *memState) ListInstances(ctx context.Context, orgID string, filter models.InstanceFilter) ([]*models.WorkflowInstance, error) {
	var out []*models.WorkflowInstance
	for _, i := range m.instances {
		if i.OrgID != orgID {
			continue
		}
		if filter.TemplateID != nil && i.TemplateID != *filter.TemplateID {
			continue
		}
		if filter.Status != nil && i.Status != *filter.Status {
			continue
		}
		if filter.EntityType != nil && i.EntityType != *filter.EntityType {
			continue
		}
		if filter.EntityID != nil && i.EntityID != *filter.EntityID {
			continue
		}
		out = append(out, copyOf(i))
	}
	sort.Slice(out, func(a, b int) bool {
		if !out[a].StartedAt.Equal(out[b].StartedAt) {
			return out[a].StartedAt.After(out[b].StartedAt)
		}
		return out[a].ID < out[b].ID
	})
	if filter.Offset > 0 {
		if filter.Offset >= len(out) {
			return nil, nil
		}
		out = out[filter.Offset:]
	}
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

// ── instance steps ────────────────────────────────────────────────────────────

func (m *memState) InsertInstanceStep(ctx context.Context, s *models.InstanceStep) error {
	if _, ok := m.instances[s.InstanceID]; !ok {
		return apperr.NotFound("workflow_instance", s.InstanceID)
	}
	if _, ok := m.instanceSteps[s.ID]; ok {
		return apperr.Conflict("workflow_instance_step " + s.ID + " already exists")
	}
	now := m.now()
	s.CreatedAt, s.UpdatedAt = now, now
	s.Metadata = emptyObject(s.Metadata)
	m.instanceSteps[s.ID] = copyOf(s)
	return nil
}

func (m *memState) SetInstanceStepParent(ctx context.Context, instanceID, stepID, parentID string) error {
	s, ok := m.instanceSteps[stepID]
	if !ok || s.InstanceID != instanceID {
		return apperr.NotFound("workflow_instance_step", stepID)
	}
	if p, ok := m.instanceSteps[parentID]; !ok || p.InstanceID != instanceID {
		return apperr.NotFound("workflow_instance_step", parentID)
	}
	updated := copyOf(s)
	updated.ParentStepID = &parentID
	m.instanceSteps[stepID] = updated
	return nil
}

func (m *memState) GetInstanceStep(ctx context.Context, instanceID, stepID string) (*models.InstanceStep, error) {
	s, ok := m.instanceSteps[stepID]
	if !ok || s.InstanceID != instanceID {
		return nil, apperr.NotFound("workflow_instance_step", stepID)
	}
	return copyOf(s), nil
}

func (m *memState) UpdateInstanceStep(ctx context.Context, s *models.InstanceStep) error {
	cur, ok := m.instanceSteps[s.ID]
	if !ok || cur.InstanceID != s.InstanceID {
		return apperr.NotFound("workflow_instance_step", s.ID)
	}
	s.UpdatedAt = m.now()
	s.CreatedAt = cur.CreatedAt
	s.Metadata = emptyObject(s.Metadata)
	m.instanceSteps[s.ID] = copyOf(s)
	return nil
}

func (m *memState) ListInstanceSteps(ctx context.Context, instanceID string) ([]*models.InstanceStep, error) {
	var out []*models.InstanceStep
	for _, s := range m.instanceSteps {
		if s.InstanceID == instanceID {
			out = append(out, copyOf(s))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.OrderIndex != b.OrderIndex {
			return a.OrderIndex < b.OrderIndex
		}
		if a.Name != b.Name {
			return a.Name < b.Name
		}
		return a.ID < b.ID
	})
	return out, nil
}

func (m *memState) CountCompletedSteps(ctx context.Context, instanceID string) (int, error) {
	n := 0
	for _, s := range m.instanceSteps {
		if s.InstanceID == instanceID && s.Status == models.StepStatusCompleted {
			n++
		}
	}
	return n, nil
}
