package api

import (
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/oapi-codegen/runtime"
	openapi_types "github.com/oapi-codegen/runtime/types"

	"complyflow/backend/internal/auth"
)

// ListTemplatesParams defines parameters for ListTemplates.
type ListTemplatesParams struct {
	ModuleScope *string `form:"moduleScope,omitempty" json:"moduleScope,omitempty"`
	Status      *string `form:"status,omitempty" json:"status,omitempty"`
	TriggerType *string `form:"triggerType,omitempty" json:"triggerType,omitempty"`
}

// ListInstancesParams defines parameters for ListInstances.
type ListInstancesParams struct {
	TemplateId *openapi_types.UUID `form:"templateId,omitempty" json:"templateId,omitempty"`
	Status     *string             `form:"status,omitempty" json:"status,omitempty"`
	EntityType *string             `form:"entityType,omitempty" json:"entityType,omitempty"`
	EntityId   *string             `form:"entityId,omitempty" json:"entityId,omitempty"`
	Limit      *int                `form:"limit,omitempty" json:"limit,omitempty"`
	Offset     *int                `form:"offset,omitempty" json:"offset,omitempty"`
}

// ServerInterface represents all server handlers.
type ServerInterface interface {
	// (GET /templates)
	ListTemplates(ctx echo.Context, params ListTemplatesParams) error
	// (POST /templates)
	CreateTemplate(ctx echo.Context) error
	// (GET /templates/{id})
	GetTemplate(ctx echo.Context, id openapi_types.UUID) error
	// (PATCH /templates/{id})
	UpdateTemplate(ctx echo.Context, id openapi_types.UUID) error
	// (DELETE /templates/{id})
	DeleteTemplate(ctx echo.Context, id openapi_types.UUID) error
	// (GET /instances)
	ListInstances(ctx echo.Context, params ListInstancesParams) error
	// (POST /instances)
	StartInstance(ctx echo.Context) error
	// (GET /instances/{id})
	GetInstance(ctx echo.Context, id openapi_types.UUID) error
	// (PATCH /instances/{id})
	UpdateInstance(ctx echo.Context, id openapi_types.UUID) error
	// (DELETE /instances/{id})
	CancelInstance(ctx echo.Context, id openapi_types.UUID) error
	// (PATCH /instances/{id}/steps/{stepId})
	UpdateInstanceStep(ctx echo.Context, id openapi_types.UUID, stepId openapi_types.UUID) error
}

// ServerInterfaceWrapper converts echo contexts to parameters.
type ServerInterfaceWrapper struct {
	Handler ServerInterface
}

func bindPathUUID(ctx echo.Context, name string) (openapi_types.UUID, error) {
	var id openapi_types.UUID
	err := runtime.BindStyledParameterWithOptions("simple", name, ctx.Param(name), &id,
		runtime.BindStyledParameterOptions{ParamLocation: runtime.ParamLocationPath, Explode: false, Required: true})
	if err != nil {
		return id, echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("Invalid format for parameter %s: %s", name, err))
	}
	return id, nil
}

func bindQuery(ctx echo.Context, name string, dest any) error {
	if err := runtime.BindQueryParameter("form", true, false, name, ctx.QueryParams(), dest); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("Invalid format for parameter %s: %s", name, err))
	}
	return nil
}

// ListTemplates converts echo context to params.
func (w *ServerInterfaceWrapper) ListTemplates(ctx echo.Context) error {
	var params ListTemplatesParams
	if err := bindQuery(ctx, "moduleScope", &params.ModuleScope); err != nil {
		return err
	}
	if err := bindQuery(ctx, "status", &params.Status); err != nil {
		return err
	}
	if err := bindQuery(ctx, "triggerType", &params.TriggerType); err != nil {
		return err
	}
	return w.Handler.ListTemplates(ctx, params)
}

// CreateTemplate converts echo context to params.
func (w *ServerInterfaceWrapper) CreateTemplate(ctx echo.Context) error {
	return w.Handler.CreateTemplate(ctx)
}

// GetTemplate converts echo context to params.
func (w *ServerInterfaceWrapper) GetTemplate(ctx echo.Context) error {
	id, err := bindPathUUID(ctx, "id")
	if err != nil {
		return err
	}
	return w.Handler.GetTemplate(ctx, id)
}

// UpdateTemplate converts echo context to params.
func (w *ServerInterfaceWrapper) UpdateTemplate(ctx echo.Context) error {
	id, err := bindPathUUID(ctx, "id")
	if err != nil {
		return err
	}
	return w.Handler.UpdateTemplate(ctx, id)
}

// DeleteTemplate converts echo context to params.
func (w *ServerInterfaceWrapper) DeleteTemplate(ctx echo.Context) error {
	id, err := bindPathUUID(ctx, "id")
	if err != nil {
		return err
	}
	return w.Handler.DeleteTemplate(ctx, id)
}

// ListInstances converts echo context to params.
func (w *ServerInterfaceWrapper) ListInstances(ctx echo.Context) error {
	var params ListInstancesParams
	for name, dest := range map[string]any{
		"templateId": &params.TemplateId,
		"status":     &params.Status,
		"entityType": &params.EntityType,
		"entityId":   &params.EntityId,
		"limit":      &params.Limit,
		"offset":     &params.Offset,
	} {
		if err := bindQuery(ctx, name, dest); err != nil {
			return err
		}
	}
	return w.Handler.ListInstances(ctx, params)
}

// StartInstance converts echo context to params.
func (w *ServerInterfaceWrapper) StartInstance(ctx echo.Context) error {
	return w.Handler.StartInstance(ctx)
}

// GetInstance converts echo context to params.
func (w *ServerInterfaceWrapper) GetInstance(ctx echo.Context) error {
	id, err := bindPathUUID(ctx, "id")
	if err != nil {
		return err
	}
	return w.Handler.GetInstance(ctx, id)
}

// UpdateInstance converts echo context to params.
func (w *ServerInterfaceWrapper) UpdateInstance(ctx echo.Context) error {
	id, err := bindPathUUID(ctx, "id")
	if err != nil {
		return err
	}
	return w.Handler.UpdateInstance(ctx, id)
}

// CancelInstance converts echo context to params.
func (w *ServerInterfaceWrapper) CancelInstance(ctx echo.Context) error {
	id, err := bindPathUUID(ctx, "id")
	if err != nil {
		return err
	}
	return w.Handler.CancelInstance(ctx, id)
}

// UpdateInstanceStep converts echo context to params.
func (w *ServerInterfaceWrapper) UpdateInstanceStep(ctx echo.Context) error {
	id, err := bindPathUUID(ctx, "id")
	if err != nil {
		return err
	}
	stepID, err := bindPathUUID(ctx, "stepId")
	if err != nil {
		return err
	}
	return w.Handler.UpdateInstanceStep(ctx, id, stepID)
}

// EchoRouter is satisfied by both *echo.Echo and *echo.Group.
type EchoRouter interface {
	DELETE(path string, h echo.HandlerFunc, m ...echo.MiddlewareFunc) *echo.Route
	GET(path string, h echo.HandlerFunc, m ...echo.MiddlewareFunc) *echo.Route
	PATCH(path string, h echo.HandlerFunc, m ...echo.MiddlewareFunc) *echo.Route
	POST(path string, h echo.HandlerFunc, m ...echo.MiddlewareFunc) *echo.Route
	PUT(path string, h echo.HandlerFunc, m ...echo.MiddlewareFunc) *echo.Route
}

// RegisterHandlers adds each server route to the EchoRouter. Reads require
// workflows:read and writes workflows:write; the router must already run
// auth.RequireAuth.
func RegisterHandlers(router EchoRouter, si ServerInterface) {
	wrapper := ServerInterfaceWrapper{Handler: si}
	read := auth.RequireScope(auth.ScopeWorkflowsRead)
	write := auth.RequireScope(auth.ScopeWorkflowsWrite)

	router.GET("/templates", wrapper.ListTemplates, read)
	router.POST("/templates", wrapper.CreateTemplate, write)
	router.GET("/templates/:id", wrapper.GetTemplate, read)
	router.PATCH("/templates/:id", wrapper.UpdateTemplate, write)
	router.PUT("/templates/:id", wrapper.UpdateTemplate, write)
	router.DELETE("/templates/:id", wrapper.DeleteTemplate, write)
	router.GET("/instances", wrapper.ListInstances, read)
	router.POST("/instances", wrapper.StartInstance, write)
	router.GET("/instances/:id", wrapper.GetInstance, read)
	router.PATCH("/instances/:id", wrapper.UpdateInstance, write)
	router.DELETE("/instances/:id", wrapper.CancelInstance, write)
	router.PATCH("/instances/:id/steps/:stepId", wrapper.UpdateInstanceStep, write)
}
