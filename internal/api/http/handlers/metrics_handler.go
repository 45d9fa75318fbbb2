package handlers

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/lab-status-service/internal/observability"
	"github.com/spec-kit/lab-status-service/internal/service"
)

// MetricsHandler serves dashboard aggregates and the service's own counters.
type MetricsHandler struct {
	analytics *service.AnalyticsService
	metrics   *observability.Metrics
}

// NewMetricsHandler constructs handler.
func NewMetricsHandler(analytics *service.AnalyticsService, metrics *observability.Metrics) *MetricsHandler {
	return &MetricsHandler{analytics: analytics, metrics: metrics}
}

// Summary GET /api/metrics/summary.
func (h *MetricsHandler) Summary(c *fiber.Ctx) error {
	summary, err := h.analytics.Summary(c.UserContext())
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": summary})
}

// AverageFixTime GET /api/metrics/avg-fix-time.
func (h *MetricsHandler) AverageFixTime(c *fiber.Ctx) error {
	return monthly(c, h.analytics.AverageFixTime)
}

// DefectsByRoom GET /api/metrics/defects-by-room.
func (h *MetricsHandler) DefectsByRoom(c *fiber.Ctx) error {
	return monthly(c, h.analytics.DefectsByRoom)
}

// IssuesBreakdown GET /api/metrics/issues-breakdown.
func (h *MetricsHandler) IssuesBreakdown(c *fiber.Ctx) error {
	return monthly(c, h.analytics.IssuesBreakdown)
}

// RoomUptime GET /api/metrics/room-uptime.
func (h *MetricsHandler) RoomUptime(c *fiber.Ctx) error {
	return monthly(c, h.analytics.RoomUptime)
}

// Service GET /internal/metrics.
func (h *MetricsHandler) Service(c *fiber.Ctx) error {
	return c.JSON(h.metrics.Snapshot())
}

func monthly[T any](c *fiber.Ctx, compute func(ctx context.Context, month *time.Time) (T, error)) error {
	month, err := parseMonth(c)
	if err != nil {
		return err
	}
	out, err := compute(c.UserContext(), month)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": out})
}
