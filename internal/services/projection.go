package services

import (
	"context"

	"complyflow/backend/internal/logging"
	"complyflow/backend/pkg/models"
)

// refResolver turns user and person ids into display refs for one read.
// Lookups are memoized; anything the directory cannot resolve becomes nil.
type refResolver struct {
	dir    Directory
	orgID  string
	log    *logging.Logger
	users  map[string]*models.PersonRef
	people map[string]*models.PersonRef
}

func newRefResolver(dir Directory, orgID string, log *logging.Logger) *refResolver {
	return &refResolver{
		dir:    dir,
		orgID:  orgID,
		log:    log,
		users:  map[string]*models.PersonRef{},
		people: map[string]*models.PersonRef{},
	}
}

func (r *refResolver) user(ctx context.Context, id *string) *models.PersonRef {
	if id == nil || *id == "" || r.dir == nil {
		return nil
	}
	if ref, ok := r.users[*id]; ok {
		return ref
	}
	var ref *models.PersonRef
	u, err := r.dir.GetUser(ctx, r.orgID, *id)
	if err != nil {
		r.log.Debug("user reference unresolved", "user_id", *id, "error", err)
	} else {
		ref = &models.PersonRef{ID: u.ID, Name: u.Name, Email: u.Email}
	}
	r.users[*id] = ref
	return ref
}

func (r *refResolver) person(ctx context.Context, id *string) *models.PersonRef {
	if id == nil || *id == "" || r.dir == nil {
		return nil
	}
	if ref, ok := r.people[*id]; ok {
		return ref
	}
	var ref *models.PersonRef
	p, err := r.dir.GetPerson(ctx, r.orgID, *id)
	if err != nil {
		r.log.Debug("person reference unresolved", "person_id", *id, "error", err)
	} else {
		ref = &models.PersonRef{ID: p.ID, Name: p.DisplayName, Email: p.Email}
	}
	r.people[*id] = ref
	return ref
}

func templateStepRef(s *models.TemplateStep) *models.TemplateStepRef {
	if s == nil {
		return nil
	}
	return &models.TemplateStepRef{
		ID:            s.ID,
		StepType:      s.StepType,
		AssigneeType:  s.AssigneeType,
		DueOffsetDays: s.DueOffsetDays,
		DueReference:  s.DueReference,
		PositionX:     s.PositionX,
		PositionY:     s.PositionY,
	}
}
