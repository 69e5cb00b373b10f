// Package api implements the JSON endpoints of the control server under /api/v1.
package api

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/wilfranr/control-id-miid/internal/datastore"
	"github.com/wilfranr/control-id-miid/internal/errors"
	"github.com/wilfranr/control-id-miid/internal/logger"
	"github.com/wilfranr/control-id-miid/internal/reconcile"
	"github.com/wilfranr/control-id-miid/internal/syncer"
)

// Syncer is the part of the synchronization service the API drives
type Syncer interface {
	Health() syncer.Health
	Check(ctx context.Context) syncer.Health
	LastOutcome() *reconcile.Outcome
	ReconcileLatest(ctx context.Context) (*reconcile.Outcome, error)
	ReconcileDocument(ctx context.Context, document string) (*reconcile.Outcome, error)
	Environment() string
	Environments() []string
	SwitchEnvironment(name string, persist bool) error
}

// OutcomeStore reads journaled outcomes
type OutcomeStore interface {
	Recent(ctx context.Context, limit int) ([]datastore.Entry, error)
	ForDocument(ctx context.Context, document string, limit int) ([]datastore.Entry, error)
}

var (
	_ Syncer       = (*syncer.Service)(nil)
	_ OutcomeStore = (*datastore.Journal)(nil)
)

// Controller manages the API routes and handlers
type Controller struct {
	Group   *echo.Group
	service Syncer
	journal OutcomeStore
	log     logger.Logger
}

// New creates a controller and registers its routes under /api/v1.
// journal may be nil when journaling is disabled. middleware applies to
// every route, typically basic auth.
func New(e *echo.Echo, service Syncer, journal OutcomeStore, log logger.Logger, middleware ...echo.MiddlewareFunc) *Controller {
	if log == nil {
		log = logger.Global().Module("api")
	}
	c := &Controller{
		Group:   e.Group("/api/v1", middleware...),
		service: service,
		journal: journal,
		log:     log,
	}
	c.initRoutes()
	return c
}

func (c *Controller) initRoutes() {
	c.Group.GET("/health", c.GetHealth)

	c.Group.GET("/outcomes", c.ListOutcomes)
	c.Group.GET("/outcomes/last", c.GetLastOutcome)

	c.Group.POST("/reconcile", c.ReconcileLatest)
	c.Group.POST("/reconcile/:document", c.ReconcileDocument)

	c.Group.GET("/environment", c.GetEnvironment)
	c.Group.PUT("/environment", c.SwitchEnvironment)
}

// ErrorResponse is the body of every failed request
type ErrorResponse struct {
	Error   string             `json:"error"`
	Message string             `json:"message"`
	Code    int                `json:"code"`
	TraceID string             `json:"trace_id,omitempty"`
	Outcome *reconcile.Outcome `json:"outcome,omitempty"`
}

// HandleError logs err and writes it as an ErrorResponse. The status code
// follows the error category unless code is non-zero.
func (c *Controller) HandleError(ctx echo.Context, err error, message string, code int) error {
	return c.handleError(ctx, err, message, code, nil)
}

func (c *Controller) handleError(ctx echo.Context, err error, message string, code int, out *reconcile.Outcome) error {
	if code == 0 {
		code = StatusFor(err)
	}
	errText := message
	if err != nil {
		errText = logger.RedactSensitiveData(err.Error())
	}
	resp := &ErrorResponse{
		Error:   errText,
		Message: message,
		Code:    code,
		TraceID: logger.TraceIDFrom(ctx.Request().Context()),
		Outcome: out,
	}
	if out != nil && out.TraceID != "" {
		resp.TraceID = out.TraceID
	}

	log := c.log.WithContext(ctx.Request().Context()).With(
		logger.String("path", ctx.Request().URL.Path),
		logger.Int("code", code))
	if code >= http.StatusInternalServerError {
		log.Error(message, logger.String("error", errText))
	} else {
		log.Debug(message, logger.String("error", errText))
	}

	return ctx.JSON(code, resp)
}

// StatusFor maps an error category to an HTTP status
func StatusFor(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.IsCategory(err, errors.CategoryValidation):
		return http.StatusBadRequest
	case errors.IsCategory(err, errors.CategoryNotFound):
		return http.StatusNotFound
	case errors.IsCategory(err, errors.CategoryConfiguration):
		return http.StatusUnprocessableEntity
	case errors.IsCategory(err, errors.CategoryState), errors.IsCategory(err, errors.CategoryConflict):
		return http.StatusConflict
	case errors.IsCategory(err, errors.CategoryAuth):
		return http.StatusBadGateway
	case errors.IsCategory(err, errors.CategorySourceUnavailable), errors.IsCategory(err, errors.CategoryJobQueue):
		return http.StatusServiceUnavailable
	case errors.IsCategory(err, errors.CategoryTimeout), errors.IsCategory(err, errors.CategoryCancellation):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
