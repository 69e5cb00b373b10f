package api

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/wilfranr/control-id-miid/internal/datastore"
	"github.com/wilfranr/control-id-miid/internal/errors"
	"github.com/wilfranr/control-id-miid/internal/logger"
	"github.com/wilfranr/control-id-miid/internal/reconcile"
)

// EnvironmentResponse describes the active and the configured environments
type EnvironmentResponse struct {
	Active       string   `json:"active"`
	Environments []string `json:"environments"`
}

// EnvironmentRequest is the body of PUT /environment
type EnvironmentRequest struct {
	Name    string `json:"name"`
	Persist bool   `json:"persist"`
}

// OutcomesResponse lists journaled outcomes, newest first
type OutcomesResponse struct {
	Outcomes []datastore.Entry `json:"outcomes"`
	Count    int               `json:"count"`
}

// GetHealth handles GET /api/v1/health. With check=true the backends are
// probed before answering, otherwise the last known health is returned.
func (c *Controller) GetHealth(ctx echo.Context) error {
	if check, _ := strconv.ParseBool(ctx.QueryParam("check")); check {
		return ctx.JSON(http.StatusOK, c.service.Check(ctx.Request().Context()))
	}
	return ctx.JSON(http.StatusOK, c.service.Health())
}

// GetLastOutcome handles GET /api/v1/outcomes/last
func (c *Controller) GetLastOutcome(ctx echo.Context) error {
	out := c.service.LastOutcome()
	if out == nil {
		return c.HandleError(ctx, nil, "no reconciliation has finished yet", http.StatusNotFound)
	}
	return ctx.JSON(http.StatusOK, out)
}

// ListOutcomes handles GET /api/v1/outcomes?limit=&document=
func (c *Controller) ListOutcomes(ctx echo.Context) error {
	if c.journal == nil {
		return c.HandleError(ctx, nil, "journal is disabled", http.StatusServiceUnavailable)
	}

	limit := datastore.DefaultLimit
	if raw := ctx.QueryParam("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			return c.HandleError(ctx, err, "limit must be a positive integer", http.StatusBadRequest)
		}
		limit = n
	}

	reqCtx := ctx.Request().Context()
	var (
		entries []datastore.Entry
		err     error
	)
	if document := strings.TrimSpace(ctx.QueryParam("document")); document != "" {
		entries, err = c.journal.ForDocument(reqCtx, document, limit)
	} else {
		entries, err = c.journal.Recent(reqCtx, limit)
	}
	if err != nil {
		return c.HandleError(ctx, err, "failed to read journal", http.StatusInternalServerError)
	}
	if entries == nil {
		entries = []datastore.Entry{}
	}
	return ctx.JSON(http.StatusOK, OutcomesResponse{Outcomes: entries, Count: len(entries)})
}

// ReconcileLatest handles POST /api/v1/reconcile
func (c *Controller) ReconcileLatest(ctx echo.Context) error {
	out, err := c.service.ReconcileLatest(ctx.Request().Context())
	return c.respondOutcome(ctx, out, err)
}

// ReconcileDocument handles POST /api/v1/reconcile/:document
func (c *Controller) ReconcileDocument(ctx echo.Context) error {
	document := strings.TrimSpace(ctx.Param("document"))
	out, err := c.service.ReconcileDocument(ctx.Request().Context(), document)
	return c.respondOutcome(ctx, out, err)
}

// respondOutcome writes a finished outcome. Skipped and failed outcomes are
// results, not errors; only an error from the service changes the status.
func (c *Controller) respondOutcome(ctx echo.Context, out *reconcile.Outcome, err error) error {
	if err != nil {
		return c.handleError(ctx, err, "reconciliation failed", 0, out)
	}
	c.log.WithContext(ctx.Request().Context()).Info("reconciliation requested",
		logger.String("document", out.Document),
		logger.String("action", string(out.Action)))
	return ctx.JSON(http.StatusOK, out)
}

// GetEnvironment handles GET /api/v1/environment
func (c *Controller) GetEnvironment(ctx echo.Context) error {
	return ctx.JSON(http.StatusOK, c.environmentResponse())
}

// SwitchEnvironment handles PUT /api/v1/environment
func (c *Controller) SwitchEnvironment(ctx echo.Context) error {
	var req EnvironmentRequest
	if err := ctx.Bind(&req); err != nil {
		return c.HandleError(ctx, err, "invalid request body", http.StatusBadRequest)
	}
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		return c.HandleError(ctx, errors.ValidationError("name is required"), "invalid request body", 0)
	}

	if err := c.service.SwitchEnvironment(req.Name, req.Persist); err != nil {
		return c.HandleError(ctx, err, "failed to switch environment", 0)
	}
	c.log.Info("environment switched through API",
		logger.String("environment", req.Name),
		logger.Bool("persisted", req.Persist),
		logger.String("ip", ctx.RealIP()))
	return ctx.JSON(http.StatusOK, c.environmentResponse())
}

func (c *Controller) environmentResponse() EnvironmentResponse {
	return EnvironmentResponse{
		Active:       c.service.Environment(),
		Environments: c.service.Environments(),
	}
}
