package rest

import (
	"github.com/gofiber/fiber/v2"

	"yqhp/load-engine/pkg/controlsurface"
)

func (s *Server) healthCheck(c *fiber.Ctx) error {
	return c.JSON(HealthResponse{Status: "ok"})
}

// getStatus returns the current execution status.
func (s *Server) getStatus(c *fiber.Ctx) error {
	return c.JSON(s.cs.Status())
}

// getMetrics returns the aggregated snapshot of every metric and submetric.
func (s *Server) getMetrics(c *fiber.Ctx) error {
	snap := s.cs.Snapshot()
	if snap == nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(ErrorResponse{
			Error:   "unavailable",
			Message: "metrics are not available yet",
		})
	}
	return c.JSON(snap)
}

func (s *Server) getRealtimeMetrics(c *fiber.Ctx) error {
	rm := s.cs.Realtime()
	if rm == nil {
		return c.JSON(fiber.Map{})
	}
	return c.JSON(rm)
}

// getTimeSeries returns the collected time-series points for charting.
func (s *Server) getTimeSeries(c *fiber.Ctx) error {
	if s.cs.MetricsEngine == nil {
		return c.JSON([]*controlsurface.TimeSeriesPoint{})
	}
	points := s.cs.MetricsEngine.GetTimeSeriesData()
	if points == nil {
		points = []*controlsurface.TimeSeriesPoint{}
	}
	return c.JSON(points)
}

// getVerdict returns the final verdict, 404 while the run is in progress.
func (s *Server) getVerdict(c *fiber.Ctx) error {
	v := s.cs.Verdict()
	if v == nil {
		return c.Status(fiber.StatusNotFound).JSON(ErrorResponse{
			Error:   "not_found",
			Message: "verdict not yet available (test still running)",
		})
	}
	return c.JSON(v)
}

// stop requests a graceful stop and returns the status.
func (s *Server) stop(c *fiber.Ctx) error {
	if s.cs.StopExecution == nil {
		return c.Status(fiber.StatusNotImplemented).JSON(ErrorResponse{
			Error:   "not_implemented",
			Message: "stop is not supported",
		})
	}
	if err := s.cs.StopExecution(); err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{
			Error:   "stop_failed",
			Message: err.Error(),
		})
	}
	return c.Status(fiber.StatusAccepted).JSON(s.cs.Status())
}
