package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
)

// errorResponse is the body of every failed request.
type errorResponse struct {
	Error  string            `json:"error"`
	Errors []ValidationError `json:"errors,omitempty"`
}

// registerRoutes mounts the HTTP API on e.
func (s *Server) registerRoutes(e *echo.Echo) {
	e.GET("/healthz", s.handleHealth)
	if s.metrics != nil {
		e.GET("/metrics", echo.WrapHandler(s.metrics.Handler()))
	}

	g := e.Group("/api")
	g.GET("/strategies", s.handleStrategies)
	g.POST("/compare", s.handleCompare)
	g.POST("/optimize", s.handleOptimize)
	g.GET("/runs", s.handleRuns)
	g.GET("/runs/:id", s.handleRun)
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStrategies(c echo.Context) error {
	return c.JSON(http.StatusOK, s.svc.Strategies())
}

func (s *Server) handleCompare(c echo.Context) error {
	var req CompareRequest
	if errs := bindRequest(c, &req); errs != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid request", Errors: errs})
	}
	resp, err := s.svc.Compare(c.Request().Context(), &req)
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusOK, resp)
}

func (s *Server) handleOptimize(c echo.Context) error {
	var req OptimizeRequest
	if errs := bindRequest(c, &req); errs != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid request", Errors: errs})
	}
	resp, err := s.svc.Optimize(c.Request().Context(), &req)
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusOK, resp)
}

func (s *Server) handleRuns(c echo.Context) error {
	limit := 0
	if v := c.QueryParam("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return c.JSON(http.StatusBadRequest, errorResponse{Error: "limit must be a non-negative integer"})
		}
		limit = n
	}
	runs, err := s.svc.Runs(c.Request().Context(), c.QueryParam("strategy"), limit)
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusOK, runs)
}

func (s *Server) handleRun(c echo.Context) error {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid run id"})
	}
	run, err := s.svc.Run(c.Request().Context(), id)
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusOK, run)
}

// fail maps a service error onto an HTTP status.
func (s *Server) fail(c echo.Context, err error) error {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, errRunsDisabled):
		status = http.StatusServiceUnavailable
	case isClientError(err):
		status = http.StatusBadRequest
	case isNotFound(err):
		status = http.StatusNotFound
	default:
		s.log.Error("request failed", "path", c.Path(), "error", err)
	}
	return c.JSON(status, errorResponse{Error: err.Error()})
}
