// Package api contains the HTTP handlers for the workflow service
package api

import (
	"net/http"

	"github.com/labstack/echo/v4"
	openapi_types "github.com/oapi-codegen/runtime/types"

	"complyflow/backend/internal/auth"
	"complyflow/backend/internal/services"
	"complyflow/backend/pkg/models"
)

// Server implements ServerInterface over the workflow services.
type Server struct {
	Templates *services.TemplateService
	Instances *services.InstanceService
}

// NewServer creates a new Server.
func NewServer(templates *services.TemplateService, instances *services.InstanceService) *Server {
	return &Server{Templates: templates, Instances: instances}
}

var _ ServerInterface = (*Server)(nil)

func actorFrom(c echo.Context) (*models.Actor, error) {
	actor, ok := auth.ActorFromContext(c.Request().Context())
	if !ok {
		return nil, echo.NewHTTPError(http.StatusUnauthorized, "authentication required")
	}
	return actor, nil
}

func bindBody(c echo.Context, dest any) error {
	if err := c.Bind(dest); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request body: "+err.Error())
	}
	return nil
}

// ListTemplates returns the organization's templates with step and instance counts
// (GET /api/v1/templates)
func (s *Server) ListTemplates(c echo.Context, params ListTemplatesParams) error {
	actor, err := actorFrom(c)
	if err != nil {
		return err
	}
	filter := models.TemplateFilter{ModuleScope: params.ModuleScope, TriggerType: params.TriggerType}
	if params.Status != nil {
		status := models.TemplateStatus(*params.Status)
		filter.Status = &status
	}
	templates, err := s.Templates.List(c.Request().Context(), actor, filter)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, templates)
}

// CreateTemplate stores a template and its optional graph
// (POST /api/v1/templates)
func (s *Server) CreateTemplate(c echo.Context) error {
	actor, err := actorFrom(c)
	if err != nil {
		return err
	}
	var in services.TemplateInput
	if err := bindBody(c, &in); err != nil {
		return err
	}
	tpl, err := s.Templates.Create(c.Request().Context(), actor, in)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, tpl)
}

// GetTemplate returns a template with its graph
// (GET /api/v1/templates/{id})
func (s *Server) GetTemplate(c echo.Context, id openapi_types.UUID) error {
	actor, err := actorFrom(c)
	if err != nil {
		return err
	}
	tpl, err := s.Templates.Get(c.Request().Context(), actor, id.String())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, tpl)
}

// UpdateTemplate patches scalar fields and optionally replaces the graph
// (PATCH, PUT /api/v1/templates/{id})
func (s *Server) UpdateTemplate(c echo.Context, id openapi_types.UUID) error {
	actor, err := actorFrom(c)
	if err != nil {
		return err
	}
	var patch services.TemplatePatch
	if err := bindBody(c, &patch); err != nil {
		return err
	}
	tpl, err := s.Templates.Update(c.Request().Context(), actor, id.String(), patch)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, tpl)
}

// DeleteTemplate removes a template that has never been instantiated
// (DELETE /api/v1/templates/{id})
func (s *Server) DeleteTemplate(c echo.Context, id openapi_types.UUID) error {
	actor, err := actorFrom(c)
	if err != nil {
		return err
	}
	if err := s.Templates.Delete(c.Request().Context(), actor, id.String()); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

// ListInstances returns instance summaries
// (GET /api/v1/instances)
func (s *Server) ListInstances(c echo.Context, params ListInstancesParams) error {
	actor, err := actorFrom(c)
	if err != nil {
		return err
	}
	filter := models.InstanceFilter{EntityType: params.EntityType, EntityID: params.EntityId}
	if params.TemplateId != nil {
		id := params.TemplateId.String()
		filter.TemplateID = &id
	}
	if params.Status != nil {
		status := models.InstanceStatus(*params.Status)
		filter.Status = &status
	}
	if params.Limit != nil {
		filter.Limit = *params.Limit
	}
	if params.Offset != nil {
		filter.Offset = *params.Offset
	}
	instances, err := s.Instances.List(c.Request().Context(), actor, filter)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, instances)
}

// StartInstance materializes a template for an entity
// (POST /api/v1/instances)
func (s *Server) StartInstance(c echo.Context) error {
	actor, err := actorFrom(c)
	if err != nil {
		return err
	}
	var in services.StartInput
	if err := bindBody(c, &in); err != nil {
		return err
	}
	inst, err := s.Instances.Start(c.Request().Context(), actor, in)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, inst)
}

// GetInstance returns an instance with its enriched steps
// (GET /api/v1/instances/{id})
func (s *Server) GetInstance(c echo.Context, id openapi_types.UUID) error {
	actor, err := actorFrom(c)
	if err != nil {
		return err
	}
	inst, err := s.Instances.Get(c.Request().Context(), actor, id.String())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, inst)
}

// UpdateInstance patches status, due date, owner or metadata
// (PATCH /api/v1/instances/{id})
func (s *Server) UpdateInstance(c echo.Context, id openapi_types.UUID) error {
	actor, err := actorFrom(c)
	if err != nil {
		return err
	}
	var patch services.InstancePatch
	if err := bindBody(c, &patch); err != nil {
		return err
	}
	inst, err := s.Instances.Update(c.Request().Context(), actor, id.String(), patch)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, inst)
}

// CancelInstance soft-cancels an instance
// (DELETE /api/v1/instances/{id})
func (s *Server) CancelInstance(c echo.Context, id openapi_types.UUID) error {
	actor, err := actorFrom(c)
	if err != nil {
		return err
	}
	inst, err := s.Instances.Cancel(c.Request().Context(), actor, id.String())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, inst)
}

// UpdateInstanceStep transitions or edits one step
// (PATCH /api/v1/instances/{id}/steps/{stepId})
func (s *Server) UpdateInstanceStep(c echo.Context, id openapi_types.UUID, stepId openapi_types.UUID) error {
	actor, err := actorFrom(c)
	if err != nil {
		return err
	}
	var patch services.StepPatch
	if err := bindBody(c, &patch); err != nil {
		return err
	}
	inst, err := s.Instances.UpdateStep(c.Request().Context(), actor, id.String(), stepId.String(), patch)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, inst)
}
