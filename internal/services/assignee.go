package services

import (
	"context"

	"complyflow/backend/pkg/models"
)

// Assignment is the outcome of resolving a step's assignee. Either field may be nil.
type Assignment struct {
	UserID   *string
	PersonID *string
}

// ResolveInput carries what a resolver may consult.
type ResolveInput struct {
	Actor    *models.Actor
	Instance *models.WorkflowInstance
	Step     *models.TemplateStep
}

// AssigneeResolver resolves one assignee strategy.
type AssigneeResolver interface {
	Resolve(ctx context.Context, in ResolveInput) (Assignment, error)
}

// AssigneeResolvers dispatches on the step's assignee type.
type AssigneeResolvers map[models.AssigneeType]AssigneeResolver

// NewAssigneeResolvers returns the resolver for every assignee type.
func NewAssigneeResolvers(dir Directory) AssigneeResolvers {
	return AssigneeResolvers{
		models.AssigneeSpecificUser:   specificUserResolver{dir: dir},
		models.AssigneeRole:           roleResolver{dir: dir},
		models.AssigneeDynamicManager: managerResolver{dir: dir},
		models.AssigneeDynamicCreator: creatorResolver{},
		models.AssigneeUnassigned:     unassignedResolver{},
	}
}

// Resolve runs the resolver registered for the step's assignee type.
// Unknown types resolve to nobody.
func (r AssigneeResolvers) Resolve(ctx context.Context, in ResolveInput) (Assignment, error) {
	resolver, ok := r[in.Step.AssigneeType]
	if !ok {
		return Assignment{}, nil
	}
	return resolver.Resolve(ctx, in)
}

func personAssignment(p *models.Person) Assignment {
	if p == nil {
		return Assignment{}
	}
	id := p.ID
	return Assignment{PersonID: &id, UserID: p.UserID}
}

type specificUserResolver struct{ dir Directory }

func (r specificUserResolver) Resolve(ctx context.Context, in ResolveInput) (Assignment, error) {
	cfg, err := parseAssigneeConfig(in.Step.AssigneeConfig)
	if err != nil {
		return Assignment{}, err
	}
	personID := cfg.PersonID
	if personID == "" && in.Step.DefaultAssigneeID != nil {
		personID = *in.Step.DefaultAssigneeID
	}
	if personID == "" {
		if cfg.UserID == "" {
			return Assignment{}, nil
		}
		userID := cfg.UserID
		return Assignment{UserID: &userID}, nil
	}
	p, err := r.dir.GetPerson(ctx, in.Instance.OrgID, personID)
	if err != nil {
		return Assignment{}, err
	}
	a := personAssignment(p)
	if a.UserID == nil && cfg.UserID != "" {
		userID := cfg.UserID
		a.UserID = &userID
	}
	return a, nil
}

type roleResolver struct{ dir Directory }

func (r roleResolver) Resolve(ctx context.Context, in ResolveInput) (Assignment, error) {
	cfg, err := parseAssigneeConfig(in.Step.AssigneeConfig)
	if err != nil || cfg.Role == "" {
		return Assignment{}, err
	}
	members, err := r.dir.RoleMembers(ctx, in.Instance.OrgID, cfg.Role)
	if err != nil {
		return Assignment{}, err
	}
	if len(members) == 0 {
		return Assignment{}, nil
	}
	return personAssignment(members[0]), nil
}

// entityTypePerson marks instances whose subject is a person record.
const entityTypePerson = "person"

type managerResolver struct{ dir Directory }

func (r managerResolver) Resolve(ctx context.Context, in ResolveInput) (Assignment, error) {
	cfg, err := parseAssigneeConfig(in.Step.AssigneeConfig)
	if err != nil {
		return Assignment{}, err
	}
	subject := cfg.PersonID
	if subject == "" && in.Instance.EntityType == entityTypePerson {
		subject = in.Instance.EntityID
	}
	if subject == "" {
		return Assignment{}, nil
	}
	mgr, err := r.dir.ManagerOf(ctx, in.Instance.OrgID, subject)
	if err != nil {
		return Assignment{}, err
	}
	return personAssignment(mgr), nil
}

type creatorResolver struct{}

func (creatorResolver) Resolve(_ context.Context, in ResolveInput) (Assignment, error) {
	if in.Actor == nil || in.Actor.UserID == "" {
		return Assignment{}, nil
	}
	userID := in.Actor.UserID
	return Assignment{UserID: &userID}, nil
}

type unassignedResolver struct{}

func (unassignedResolver) Resolve(context.Context, ResolveInput) (Assignment, error) {
	return Assignment{}, nil
}
