package http

import (
	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/lab-status-service/internal/api/http/handlers"
	"github.com/spec-kit/lab-status-service/internal/auth"
	"github.com/spec-kit/lab-status-service/internal/domain"
)

// RouteConfig bundles dependencies for route registration.
type RouteConfig struct {
	Health         *handlers.HealthHandler
	Auth           *handlers.AuthHandler
	Status         *handlers.StatusHandler
	Reports        *handlers.ReportsHandler
	Metrics        *handlers.MetricsHandler
	AuthMiddleware *auth.AuthMiddleware
}

// RegisterRoutes wires HTTP routes.
func RegisterRoutes(app *fiber.App, cfg RouteConfig) {
	app.Get("/health/live", cfg.Health.Live)
	app.Get("/health/ready", cfg.Health.Ready)

	app.Post("/auth/login", cfg.Auth.Login)

	api := app.Group("/api", cfg.AuthMiddleware.Handle, auth.RequireRole())
	api.Get("/me", cfg.Auth.Me)

	status := api.Group("/status")
	status.Post("/defects", cfg.Status.ReportDefect)
	status.Post("/fixes", cfg.Status.ResolveFix)

	reports := api.Group("/reports")
	reports.Get("/current", cfg.Reports.Current)
	reports.Get("/audit", cfg.Reports.Audit)
	reports.Get("/export", cfg.Reports.Export)

	metrics := api.Group("/metrics")
	metrics.Get("/summary", cfg.Metrics.Summary)
	metrics.Get("/avg-fix-time", cfg.Metrics.AverageFixTime)
	metrics.Get("/defects-by-room", cfg.Metrics.DefectsByRoom)
	metrics.Get("/issues-breakdown", cfg.Metrics.IssuesBreakdown)
	metrics.Get("/room-uptime", cfg.Metrics.RoomUptime)

	internal := app.Group("/internal", cfg.AuthMiddleware.Handle, auth.RequireRole(domain.UserRoleAdmin))
	internal.Get("/metrics", cfg.Metrics.Service)
}
