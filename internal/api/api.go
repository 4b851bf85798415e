// Package api exposes the grading service over HTTP: sheet uploads, lifecycle
// lookups, graded results, audit logs, review overlays, CSV export, and
// dashboard analytics.
package api

import (
	"errors"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"omr-grader/internal/datastore"
	"omr-grader/internal/template"
	"omr-grader/internal/version"
	"omr-grader/internal/worker"
	"omr-grader/pkg/logger"
	"omr-grader/pkg/metrics"
)

// Config carries the controller's dependencies.
type Config struct {
	Store datastore.Interface
	Queue *worker.Queue
	Keys  *template.KeyStore

	// DataDir receives uploaded images; OverlayDir is where the grader
	// writes review overlays.
	DataDir    string
	OverlayDir string

	// DefaultTemplate is assumed when an upload names no template.
	DefaultTemplate string

	Log logger.Logger
}

// Controller holds the route handlers and their dependencies.
type Controller struct {
	Echo  *echo.Echo
	Group *echo.Group

	store           datastore.Interface
	queue           *worker.Queue
	keys            *template.KeyStore
	dataDir         string
	overlayDir      string
	defaultTemplate string
	log             logger.Logger
	started         time.Time
}

// New wires the API routes onto an echo instance.
func New(e *echo.Echo, cfg Config) (*Controller, error) {
	if cfg.Store == nil {
		return nil, errors.New("api: datastore is required")
	}
	if cfg.Queue == nil {
		return nil, errors.New("api: queue is required")
	}
	if cfg.Keys == nil {
		return nil, errors.New("api: key store is required")
	}
	if cfg.DefaultTemplate == "" || template.Get(cfg.DefaultTemplate) == nil {
		return nil, errors.New("api: a registered default template is required")
	}
	if cfg.Log == nil {
		cfg.Log = logger.Get().Named("api")
	}
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, err
	}

	c := &Controller{
		Echo:            e,
		store:           cfg.Store,
		queue:           cfg.Queue,
		keys:            cfg.Keys,
		dataDir:         cfg.DataDir,
		overlayDir:      cfg.OverlayDir,
		defaultTemplate: cfg.DefaultTemplate,
		log:             cfg.Log,
		started:         time.Now(),
	}
	c.initRoutes()
	return c, nil
}

// initRoutes registers all endpoints. /metrics stays outside the metrics
// middleware so scrapes do not count themselves.
func (c *Controller) initRoutes() {
	c.Echo.GET("/healthz", c.HealthCheck, c.httpMetrics)
	c.Echo.GET("/metrics", echo.WrapHandler(
		promhttp.HandlerFor(metrics.GetRegistry(), promhttp.HandlerOpts{})))

	c.Group = c.Echo.Group("/api/v1", c.httpMetrics)
	c.Group.POST("/sheets", c.UploadSheet)
	c.Group.GET("/sheets", c.ListSheets)
	c.Group.GET("/sheets/:id", c.GetSheet)
	c.Group.GET("/sheets/:id/result", c.GetResult)
	c.Group.GET("/sheets/:id/audit", c.GetAudit)
	c.Group.GET("/sheets/:id/overlay", c.GetOverlay)
	c.Group.GET("/export/results.csv", c.ExportResultsCSV)
	c.Group.GET("/dashboard/stats", c.DashboardStats)
}

// httpMetrics records request counts and latency per route pattern.
func (c *Controller) httpMetrics(next echo.HandlerFunc) echo.HandlerFunc {
	return func(ctx echo.Context) error {
		start := time.Now()
		err := next(ctx)
		if err != nil {
			ctx.Error(err)
		}
		status := strconv.Itoa(ctx.Response().Status)
		method := ctx.Request().Method
		metrics.RecordHTTPRequest(ctx.Path(), method, status)
		metrics.RecordHTTPRequestDuration(ctx.Path(), method, status,
			float64(time.Since(start).Milliseconds()))
		return err
	}
}

// ErrorResponse is the JSON body of every non-2xx response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Code    int    `json:"code"`
}

// HandleError logs the failure and writes the error body.
func (c *Controller) HandleError(ctx echo.Context, err error, message string, code int) error {
	resp := &ErrorResponse{Error: message, Message: message, Code: code}
	fields := []logger.Field{
		logger.String("path", ctx.Request().URL.Path),
		logger.String("method", ctx.Request().Method),
		logger.Int("code", code),
	}
	if err != nil {
		resp.Error = err.Error()
		fields = append(fields, logger.Err(err))
	}
	c.log.Warn(ctx.Request().Context(), message, fields...)
	return ctx.JSON(code, resp)
}

// HealthCheck reports service liveness and database reachability.
func (c *Controller) HealthCheck(ctx echo.Context) error {
	response := map[string]any{
		"status":         "ok",
		"version":        version.Version,
		"uptime_seconds": time.Since(c.started).Seconds(),
		"templates":      template.List(),
		"key_versions":   c.keys.Versions(),
	}
	if _, err := c.store.CountByStatus(); err != nil {
		response["status"] = "degraded"
		response["database_error"] = err.Error()
		return ctx.JSON(http.StatusServiceUnavailable, response)
	}
	return ctx.JSON(http.StatusOK, response)
}
