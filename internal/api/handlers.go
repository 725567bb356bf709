package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"complyflow/backend/internal/apperr"
	"complyflow/backend/internal/logging"
	"complyflow/backend/pkg/models"
)

// Version is reported by the health endpoint.
var Version = "dev"

// Pinger reports storage liveness.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler contains the unauthenticated operational handlers.
type Handler struct {
	db Pinger
}

// NewHandler creates a new Handler with required dependencies
func NewHandler(db Pinger) *Handler {
	return &Handler{db: db}
}

// HandleHealth reports service and storage health. A failing database ping
// returns 503.
func (h *Handler) HandleHealth(c echo.Context) error {
	status := models.HealthStatus{
		Status:    "ok",
		Service:   "complyflow",
		Version:   Version,
		Timestamp: time.Now().UTC(),
		Checks:    map[string]string{"database": "ok"},
	}
	code := http.StatusOK
	if h.db != nil {
		ctx, cancel := context.WithTimeout(c.Request().Context(), 2*time.Second)
		defer cancel()
		if err := h.db.Ping(ctx); err != nil {
			status.Status = "degraded"
			status.Checks["database"] = "unreachable"
			code = http.StatusServiceUnavailable
		}
	}
	return c.JSON(code, status)
}

// problemFor maps an error returned by a handler to its problem document.
func problemFor(err error) models.ProblemDetails {
	var ae *apperr.Error
	if errors.As(err, &ae) {
		status := http.StatusInternalServerError
		switch ae.Code {
		case apperr.CodeNotFound:
			status = http.StatusNotFound
		case apperr.CodeValidation:
			status = http.StatusBadRequest
		case apperr.CodeInvalidTransition, apperr.CodeConflict:
			status = http.StatusConflict
		}
		p := models.ProblemDetails{
			Type:   "about:blank",
			Title:  http.StatusText(status),
			Status: status,
			Code:   string(ae.Code),
			Detail: ae.Message,
			Errors: ae.Details,
		}
		if status == http.StatusInternalServerError {
			p.Detail = "internal server error"
			p.Errors = nil
		}
		return p
	}

	var he *echo.HTTPError
	if errors.As(err, &he) {
		detail := http.StatusText(he.Code)
		if msg, ok := he.Message.(string); ok {
			detail = msg
		}
		return models.ProblemDetails{
			Type:   "about:blank",
			Title:  http.StatusText(he.Code),
			Status: he.Code,
			Detail: detail,
		}
	}

	return models.ProblemDetails{
		Type:   "about:blank",
		Title:  http.StatusText(http.StatusInternalServerError),
		Status: http.StatusInternalServerError,
		Code:   string(apperr.CodeInternal),
		Detail: "internal server error",
	}
}

// ErrorHandler renders every handler error as application/problem+json.
// Server errors are logged with their cause.
func ErrorHandler(log *logging.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}
		problem := problemFor(err)
		problem.Instance = c.Request().URL.Path
		if problem.Status >= http.StatusInternalServerError {
			log.Error("request failed",
				"method", c.Request().Method,
				"path", c.Request().URL.Path,
				"error", err)
		}

		c.Response().Header().Set(echo.HeaderContentType, "application/problem+json")
		if c.Request().Method == http.MethodHead {
			err = c.NoContent(problem.Status)
		} else {
			err = c.JSON(problem.Status, problem)
		}
		if err != nil {
			log.Warn("failed to write error response", "error", err)
		}
	}
}
