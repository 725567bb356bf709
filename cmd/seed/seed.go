package main

import (
	"encoding/json"
	"fmt"

	"gopkg.in/yaml.v3"

	"complyflow/backend/internal/services"
	"complyflow/backend/pkg/models"
)

// seedFile is the YAML layout accepted by --file.
type seedFile struct {
	Templates []seedTemplate `yaml:"templates"`
}

type seedTemplate struct {
	Name             string     `yaml:"name"`
	Description      string     `yaml:"description"`
	ModuleScope      string     `yaml:"moduleScope"`
	TriggerType      string     `yaml:"triggerType"`
	Status           string     `yaml:"status"`
	DefaultDueInDays *int       `yaml:"defaultDueInDays"`
	Steps            []seedStep `yaml:"steps"`
	Edges            []seedEdge `yaml:"edges"`
}

type seedStep struct {
	ID             string         `yaml:"id"`
	Parent         *string        `yaml:"parent"`
	Name           string         `yaml:"name"`
	Description    string         `yaml:"description"`
	StepType       string         `yaml:"stepType"`
	AssigneeType   string         `yaml:"assigneeType"`
	AssigneeConfig map[string]any `yaml:"assigneeConfig"`
	DueOffsetDays  *int           `yaml:"dueOffsetDays"`
	DueReference   string         `yaml:"dueReference"`
	IsRequired     *bool          `yaml:"isRequired"`
}

type seedEdge struct {
	From      string  `yaml:"from"`
	To        string  `yaml:"to"`
	Condition string  `yaml:"condition"`
	Label     *string `yaml:"label"`
}

func parseSeed(data []byte) (*seedFile, error) {
	var f seedFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse seed file: %w", err)
	}
	return &f, nil
}

// input converts a seed entry into a create request. Steps are laid out
// top to bottom in file order.
func (t seedTemplate) input() (services.TemplateInput, error) {
	in := services.TemplateInput{
		Name:             t.Name,
		Description:      t.Description,
		ModuleScope:      t.ModuleScope,
		TriggerType:      t.TriggerType,
		DefaultDueInDays: t.DefaultDueInDays,
	}
	if t.Status != "" {
		status := models.TemplateStatus(t.Status)
		in.Status = &status
	}

	for i, s := range t.Steps {
		step := services.StepInput{
			ID:            s.ID,
			ParentStepID:  s.Parent,
			Name:          s.Name,
			Description:   s.Description,
			StepType:      models.StepType(s.StepType),
			OrderIndex:    i,
			PositionX:     250,
			PositionY:     float64(i) * 120,
			AssigneeType:  models.AssigneeType(s.AssigneeType),
			DueOffsetDays: s.DueOffsetDays,
			DueReference:  s.DueReference,
			IsRequired:    s.IsRequired,
		}
		if len(s.AssigneeConfig) > 0 {
			raw, err := json.Marshal(s.AssigneeConfig)
			if err != nil {
				return in, fmt.Errorf("step %q: assigneeConfig: %w", s.ID, err)
			}
			step.AssigneeConfig = raw
		}
		in.Steps = append(in.Steps, step)
	}

	for _, e := range t.Edges {
		in.Edges = append(in.Edges, services.EdgeInput{
			SourceStepID:  e.From,
			TargetStepID:  e.To,
			ConditionType: models.ConditionType(e.Condition),
			Label:         e.Label,
		})
	}
	return in, nil
}
