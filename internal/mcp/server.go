package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"complyflow/backend/internal/apperr"
	"complyflow/backend/internal/auth"
	"complyflow/backend/internal/logging"
	"complyflow/backend/internal/services"
	"complyflow/backend/pkg/models"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// Server exposes workflow operations as MCP tools. Callers are identified
// by the actor that the HTTP auth middleware put on the request context.
type Server struct {
	mcpServer *server.MCPServer
	templates *services.TemplateService
	instances *services.InstanceService
	log       *logging.Logger
}

func NewServer(templates *services.TemplateService, instances *services.InstanceService, log *logging.Logger) *Server {
	s := &Server{
		mcpServer: server.NewMCPServer(
			"complyflow workflows",
			"1.0.0",
			server.WithToolCapabilities(true),
		),
		templates: templates,
		instances: instances,
		log:       log,
	}

	s.registerTools()
	return s
}

func (s *Server) GetMCPServer() *server.MCPServer {
	return s.mcpServer
}

func (s *Server) registerTools() {
	s.mcpServer.AddTool(
		mcp.NewTool(
			"get_template",
			mcp.WithDescription("Fetch a workflow template with its steps and edges"),
			mcp.WithString("id", mcp.Required(), mcp.Description("Template ID")),
		),
		s.handleGetTemplate,
	)

	s.mcpServer.AddTool(
		mcp.NewTool(
			"start_workflow",
			mcp.WithDescription("Start a workflow instance from a template for a business entity"),
			mcp.WithString("templateId", mcp.Required(), mcp.Description("Template ID")),
			mcp.WithString("entityType", mcp.Required(), mcp.Description("Kind of entity, e.g. person or vendor")),
			mcp.WithString("entityId", mcp.Required(), mcp.Description("ID of the entity")),
			mcp.WithString("name", mcp.Description("Instance name; defaults to the template name")),
			mcp.WithString("dueAt", mcp.Description("Due date, RFC 3339")),
		),
		s.handleStartWorkflow,
	)

	s.mcpServer.AddTool(
		mcp.NewTool(
			"get_instance",
			mcp.WithDescription("Fetch a workflow instance with its steps and progress"),
			mcp.WithString("id", mcp.Required(), mcp.Description("Instance ID")),
		),
		s.handleGetInstance,
	)

	s.mcpServer.AddTool(
		mcp.NewTool(
			"update_step",
			mcp.WithDescription("Change the status or notes of one instance step"),
			mcp.WithString("instanceId", mcp.Required(), mcp.Description("Instance ID")),
			mcp.WithString("stepId", mcp.Required(), mcp.Description("Step ID")),
			mcp.WithString("status", mcp.Description("New status"),
				mcp.Enum("pending", "in_progress", "completed", "cancelled")),
			mcp.WithString("notes", mcp.Description("Notes to store on the step")),
		),
		s.handleUpdateStep,
	)

	s.mcpServer.AddTool(
		mcp.NewTool(
			"cancel_instance",
			mcp.WithDescription("Cancel a workflow instance; its steps keep their status"),
			mcp.WithString("id", mcp.Required(), mcp.Description("Instance ID")),
		),
		s.handleCancelInstance,
	)
}

// call unpacks the arguments and actor shared by every tool.
func call(ctx context.Context, request mcp.CallToolRequest) (map[string]any, *models.Actor, *mcp.CallToolResult) {
	args, ok := request.Params.Arguments.(map[string]any)
	if !ok {
		return nil, nil, mcp.NewToolResultError("Invalid arguments type")
	}
	actor, ok := auth.ActorFromContext(ctx)
	if !ok {
		return nil, nil, mcp.NewToolResultError("authentication required")
	}
	return args, actor, nil
}

func requiredString(args map[string]any, key string) (string, *mcp.CallToolResult) {
	v, ok := args[key].(string)
	if !ok || v == "" {
		return "", mcp.NewToolResultError("Missing required parameter: " + key)
	}
	return v, nil
}

func optionalString(args map[string]any, key string) *string {
	v, ok := args[key].(string)
	if !ok || v == "" {
		return nil
	}
	return &v
}

func hasScope(actor *models.Actor, scope string) *mcp.CallToolResult {
	if !actor.HasScope(scope) {
		return mcp.NewToolResultError("missing scope " + scope)
	}
	return nil
}

// jsonResult renders v, or err as a tool error. Internal errors are logged
// and reported without their cause.
func (s *Server) jsonResult(v any, op string, err error) (*mcp.CallToolResult, error) {
	if err != nil {
		var ae *apperr.Error
		if apperr.CodeOf(err) == apperr.CodeInternal || !errors.As(err, &ae) {
			s.log.Error("mcp tool failed", "operation", op, "error", err)
			return mcp.NewToolResultError(fmt.Sprintf("Failed to %s: internal error", op)), nil
		}
		return mcp.NewToolResultError(fmt.Sprintf("Failed to %s: %s: %s", op, ae.Code, ae.Message)), nil
	}
	jsonBytes, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return mcp.NewToolResultText(string(jsonBytes)), nil
}

func (s *Server) handleGetTemplate(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, actor, res := call(ctx, request)
	if res != nil {
		return res, nil
	}
	if res := hasScope(actor, auth.ScopeWorkflowsRead); res != nil {
		return res, nil
	}
	id, res := requiredString(args, "id")
	if res != nil {
		return res, nil
	}
	tpl, err := s.templates.Get(ctx, actor, id)
	return s.jsonResult(tpl, "get template", err)
}

func (s *Server) handleStartWorkflow(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, actor, res := call(ctx, request)
	if res != nil {
		return res, nil
	}
	if res := hasScope(actor, auth.ScopeWorkflowsWrite); res != nil {
		return res, nil
	}
	in := services.StartInput{}
	for key, dest := range map[string]*string{
		"templateId": &in.TemplateID,
		"entityType": &in.EntityType,
		"entityId":   &in.EntityID,
	} {
		v, res := requiredString(args, key)
		if res != nil {
			return res, nil
		}
		*dest = v
	}
	if name := optionalString(args, "name"); name != nil {
		in.Name = *name
	}
	if due := optionalString(args, "dueAt"); due != nil {
		t, err := time.Parse(time.RFC3339, *due)
		if err != nil {
			return mcp.NewToolResultError("dueAt must be an RFC 3339 timestamp"), nil
		}
		in.DueAt = &t
	}
	inst, err := s.instances.Start(ctx, actor, in)
	return s.jsonResult(inst, "start workflow", err)
}

func (s *Server) handleGetInstance(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, actor, res := call(ctx, request)
	if res != nil {
		return res, nil
	}
	if res := hasScope(actor, auth.ScopeWorkflowsRead); res != nil {
		return res, nil
	}
	id, res := requiredString(args, "id")
	if res != nil {
		return res, nil
	}
	inst, err := s.instances.Get(ctx, actor, id)
	return s.jsonResult(inst, "get instance", err)
}

func (s *Server) handleUpdateStep(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, actor, res := call(ctx, request)
	if res != nil {
		return res, nil
	}
	if res := hasScope(actor, auth.ScopeWorkflowsWrite); res != nil {
		return res, nil
	}
	instanceID, res := requiredString(args, "instanceId")
	if res != nil {
		return res, nil
	}
	stepID, res := requiredString(args, "stepId")
	if res != nil {
		return res, nil
	}
	patch := services.StepPatch{Notes: optionalString(args, "notes")}
	if status := optionalString(args, "status"); status != nil {
		st := models.StepStatus(*status)
		patch.Status = &st
	}
	inst, err := s.instances.UpdateStep(ctx, actor, instanceID, stepID, patch)
	return s.jsonResult(inst, "update step", err)
}

func (s *Server) handleCancelInstance(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, actor, res := call(ctx, request)
	if res != nil {
		return res, nil
	}
	if res := hasScope(actor, auth.ScopeWorkflowsWrite); res != nil {
		return res, nil
	}
	id, res := requiredString(args, "id")
	if res != nil {
		return res, nil
	}
	inst, err := s.instances.Cancel(ctx, actor, id)
	return s.jsonResult(inst, "cancel instance", err)
}

// MountHTTPHandlers serves the MCP SSE transport under /mcp. The actor on
// the incoming request is carried into tool calls.
func MountHTTPHandlers(mux *http.ServeMux, mcpServer *server.MCPServer) {
	sseServer := server.NewSSEServer(mcpServer,
		server.WithStaticBasePath("/mcp"),
		server.WithSSEContextFunc(func(ctx context.Context, r *http.Request) context.Context {
			if actor, ok := auth.ActorFromContext(r.Context()); ok {
				return auth.WithActor(ctx, actor)
			}
			return ctx
		}),
	)

	mux.HandleFunc("/mcp", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			sseServer.ServeHTTP(w, r)
			return
		}
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	})

	mux.HandleFunc("/mcp/sse", sseServer.ServeHTTP)
	mux.HandleFunc("/mcp/message", sseServer.ServeHTTP)
}
