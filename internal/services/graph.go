package services

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"complyflow/backend/internal/apperr"
	"complyflow/backend/pkg/models"
)

// StepInput is one step of a designer submission. ID may be a temporary
// client id or the durable id of an existing step of the same template.
type StepInput struct {
	ID                string              `json:"id"`
	ParentStepID      *string             `json:"parentStepId,omitempty"`
	Name              string              `json:"name"`
	Description       string              `json:"description,omitempty"`
	StepType          models.StepType     `json:"stepType"`
	OrderIndex        int                 `json:"orderIndex"`
	PositionX         float64             `json:"positionX"`
	PositionY         float64             `json:"positionY"`
	AssigneeType      models.AssigneeType `json:"assigneeType,omitempty"`
	AssigneeConfig    json.RawMessage     `json:"assigneeConfig,omitempty"`
	DefaultAssigneeID *string             `json:"defaultAssigneeId,omitempty"`
	DueOffsetDays     *int                `json:"dueOffsetDays,omitempty"`
	DueReference      string              `json:"dueReference,omitempty"`
	IsRequired        *bool               `json:"isRequired,omitempty"`
	Metadata          json.RawMessage     `json:"metadata,omitempty"`
}

// EdgeInput is one edge of a designer submission. Endpoints name submitted step ids.
type EdgeInput struct {
	SourceStepID    string               `json:"sourceStepId"`
	TargetStepID    string               `json:"targetStepId"`
	ConditionType   models.ConditionType `json:"conditionType,omitempty"`
	ConditionConfig json.RawMessage      `json:"conditionConfig,omitempty"`
	Label           *string              `json:"label,omitempty"`
}

// assigneeConfig is the decoded form of a step's assigneeConfig.
type assigneeConfig struct {
	PersonID string `json:"personId,omitempty"`
	UserID   string `json:"userId,omitempty"`
	Role     string `json:"role,omitempty"`
}

func parseAssigneeConfig(raw json.RawMessage) (assigneeConfig, error) {
	var cfg assigneeConfig
	if isEmptyJSON(raw) {
		return cfg, nil
	}
	err := json.Unmarshal(raw, &cfg)
	return cfg, err
}

func isEmptyJSON(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) || bytes.Equal(trimmed, []byte("{}"))
}

// idArena maps submitted ids to durable ids. Every id is allocated in a
// first pass so references can be resolved in a second pass regardless of
// submission order.
type idArena struct {
	ids map[string]string
}

func newIDArena(size int) *idArena {
	return &idArena{ids: make(map[string]string, size)}
}

func (a *idArena) alloc(submitted, durable string) bool {
	if _, dup := a.ids[submitted]; dup {
		return false
	}
	a.ids[submitted] = durable
	return true
}

// resolve ignores surrounding whitespace, as step ids are trimmed before alloc.
func (a *idArena) resolve(submitted string) (string, bool) {
	id, ok := a.ids[strings.TrimSpace(submitted)]
	return id, ok
}

// checkForest fails when following parent links from any node revisits a node.
func checkForest(parents map[string]string) error {
	const (
		visiting = iota + 1
		done
	)
	state := make(map[string]int, len(parents))
	for start := range parents {
		var path []string
		node := start
		for {
			if state[node] == done {
				break
			}
			if state[node] == visiting {
				return fmt.Errorf("step %s is its own ancestor", node)
			}
			state[node] = visiting
			path = append(path, node)
			parent, ok := parents[node]
			if !ok {
				break
			}
			node = parent
		}
		for _, n := range path {
			state[n] = done
		}
	}
	return nil
}

// compiledGraph is a validated template graph with durable ids.
type compiledGraph struct {
	steps []*models.TemplateStep
	edges []*models.TemplateEdge
}

// compileGraph validates a designer submission and remaps its ids. Submitted
// ids found in existing keep their identity; every other id gets a new uuid.
func compileGraph(templateID string, existing map[string]bool, steps []StepInput, edges []EdgeInput) (*compiledGraph, error) {
	arena := newIDArena(len(steps))
	out := &compiledGraph{steps: make([]*models.TemplateStep, 0, len(steps))}

	// pass 1: validate and allocate
	for i, in := range steps {
		field := fmt.Sprintf("steps[%d]", i)
		submitted := strings.TrimSpace(in.ID)
		if submitted == "" {
			return nil, apperr.Validation(field+".id", "is required")
		}
		durable := uuid.New().String()
		if existing[submitted] {
			durable = submitted
		}
		if !arena.alloc(submitted, durable) {
			return nil, apperr.Validation(field+".id", fmt.Sprintf("duplicate step id %q", submitted))
		}
		step, err := buildStep(field, templateID, durable, in)
		if err != nil {
			return nil, err
		}
		out.steps = append(out.steps, step)
	}

	// pass 2: resolve parents
	parents := make(map[string]string)
	for i, in := range steps {
		if in.ParentStepID == nil || strings.TrimSpace(*in.ParentStepID) == "" {
			continue
		}
		field := fmt.Sprintf("steps[%d].parentStepId", i)
		if strings.TrimSpace(*in.ParentStepID) == strings.TrimSpace(in.ID) {
			return nil, apperr.Validation(field, "a step cannot be its own parent")
		}
		parentID, ok := arena.resolve(*in.ParentStepID)
		if !ok {
			return nil, apperr.Validation(field, fmt.Sprintf("unknown parent step %q", *in.ParentStepID))
		}
		out.steps[i].ParentStepID = &parentID
		parents[out.steps[i].ID] = parentID
	}
	if err := checkForest(parents); err != nil {
		return nil, apperr.Validation("steps", err.Error())
	}

	out.edges = make([]*models.TemplateEdge, 0, len(edges))
	for i, in := range edges {
		field := fmt.Sprintf("edges[%d]", i)
		source, ok := arena.resolve(in.SourceStepID)
		if !ok {
			return nil, apperr.Validation(field+".sourceStepId", fmt.Sprintf("unknown step %q", in.SourceStepID))
		}
		target, ok := arena.resolve(in.TargetStepID)
		if !ok {
			return nil, apperr.Validation(field+".targetStepId", fmt.Sprintf("unknown step %q", in.TargetStepID))
		}
		cond := in.ConditionType
		if cond == "" {
			cond = models.ConditionAlways
		}
		if !validConditionType(cond) {
			return nil, apperr.Validation(field+".conditionType", fmt.Sprintf("unknown condition type %q", cond))
		}
		if cond == models.ConditionConditional && isEmptyJSON(in.ConditionConfig) {
			return nil, apperr.Validation(field+".conditionConfig", "is required for conditional edges")
		}
		if !isEmptyJSON(in.ConditionConfig) && !json.Valid(in.ConditionConfig) {
			return nil, apperr.Validation(field+".conditionConfig", "must be valid JSON")
		}
		out.edges = append(out.edges, &models.TemplateEdge{
			ID:              uuid.New().String(),
			TemplateID:      templateID,
			SourceStepID:    source,
			TargetStepID:    target,
			ConditionType:   cond,
			ConditionConfig: in.ConditionConfig,
			Label:           in.Label,
		})
	}
	return out, nil
}

func buildStep(field, templateID, id string, in StepInput) (*models.TemplateStep, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, apperr.Validation(field+".name", "is required")
	}
	if !validStepType(in.StepType) {
		return nil, apperr.Validation(field+".stepType", fmt.Sprintf("unknown step type %q", in.StepType))
	}
	assigneeType := in.AssigneeType
	if assigneeType == "" {
		assigneeType = models.AssigneeUnassigned
	}
	if !validAssigneeType(assigneeType) {
		return nil, apperr.Validation(field+".assigneeType", fmt.Sprintf("unknown assignee type %q", assigneeType))
	}
	cfg, err := parseAssigneeConfig(in.AssigneeConfig)
	if err != nil {
		return nil, apperr.Validation(field+".assigneeConfig", "must be a JSON object")
	}
	if in.DefaultAssigneeID != nil && *in.DefaultAssigneeID != "" {
		if _, err := uuid.Parse(*in.DefaultAssigneeID); err != nil {
			return nil, apperr.Validation(field+".defaultAssigneeId", "must be a person id")
		}
	}
	if cfg.PersonID != "" {
		if _, err := uuid.Parse(cfg.PersonID); err != nil {
			return nil, apperr.Validation(field+".assigneeConfig.personId", "must be a person id")
		}
	}
	switch assigneeType {
	case models.AssigneeSpecificUser:
		if cfg.PersonID == "" && cfg.UserID == "" && (in.DefaultAssigneeID == nil || *in.DefaultAssigneeID == "") {
			return nil, apperr.Validation(field+".assigneeConfig", "specific_user requires a personId, userId or defaultAssigneeId")
		}
	case models.AssigneeRole:
		if strings.TrimSpace(cfg.Role) == "" {
			return nil, apperr.Validation(field+".assigneeConfig.role", "is required for role assignment")
		}
	}
	if !isEmptyJSON(in.Metadata) && !json.Valid(in.Metadata) {
		return nil, apperr.Validation(field+".metadata", "must be valid JSON")
	}

	dueRef := strings.TrimSpace(in.DueReference)
	if dueRef == "" {
		dueRef = models.DueFromWorkflowStart
	}
	required := true
	if in.IsRequired != nil {
		required = *in.IsRequired
	}
	var defaultAssignee *string
	if in.DefaultAssigneeID != nil && *in.DefaultAssigneeID != "" {
		defaultAssignee = in.DefaultAssigneeID
	}

	return &models.TemplateStep{
		ID:                id,
		TemplateID:        templateID,
		Name:              name,
		Description:       in.Description,
		StepType:          in.StepType,
		OrderIndex:        in.OrderIndex,
		PositionX:         in.PositionX,
		PositionY:         in.PositionY,
		AssigneeType:      assigneeType,
		AssigneeConfig:    in.AssigneeConfig,
		DefaultAssigneeID: defaultAssignee,
		DueOffsetDays:     in.DueOffsetDays,
		DueReference:      dueRef,
		IsRequired:        required,
		Metadata:          in.Metadata,
	}, nil
}

func validStepType(t models.StepType) bool {
	switch t {
	case models.StepTypeTask, models.StepTypeNotification, models.StepTypeGateway, models.StepTypeGroup:
		return true
	}
	return false
}

func validAssigneeType(t models.AssigneeType) bool {
	switch t {
	case models.AssigneeSpecificUser, models.AssigneeRole, models.AssigneeDynamicManager,
		models.AssigneeDynamicCreator, models.AssigneeUnassigned:
		return true
	}
	return false
}

func validConditionType(t models.ConditionType) bool {
	switch t {
	case models.ConditionAlways, models.ConditionIfApproved, models.ConditionIfRejected, models.ConditionConditional:
		return true
	}
	return false
}
