package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/lab-status-service/internal/api/dto"
	"github.com/spec-kit/lab-status-service/internal/domain"
	"github.com/spec-kit/lab-status-service/internal/service"
	apperrors "github.com/spec-kit/lab-status-service/pkg/util"
)

// StatusHandler exposes the two status transitions. The acting user is always the
// authenticated caller.
type StatusHandler struct {
	lifecycle *service.LifecycleService
}

// NewStatusHandler constructs handler.
func NewStatusHandler(lifecycle *service.LifecycleService) *StatusHandler {
	return &StatusHandler{lifecycle: lifecycle}
}

// ReportDefect POST /api/status/defects.
func (h *StatusHandler) ReportDefect(c *fiber.Ctx) error {
	principal, err := requirePrincipal(c)
	if err != nil {
		return err
	}
	var req dto.ReportDefectRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	if req.UserID != nil && *req.UserID != principal.UserID {
		return apperrors.NewForbidden("userID must be the authenticated user")
	}

	ticket, err := h.lifecycle.ReportDefect(c.UserContext(), service.ReportDefectInput{
		RoomID:     req.RoomID,
		PCNumber:   req.PCNumber,
		Issues:     req.Issues,
		ReporterID: principal.UserID,
		OccurredAt: req.OccurredAt,
	})
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(dto.ReportDefectResponse{ServiceTicketID: string(ticket)})
}

// ResolveFix POST /api/status/fixes. fixedBy defaults to the caller; the caller is recorded
// as the author of the Working event either way.
func (h *StatusHandler) ResolveFix(c *fiber.Ctx) error {
	principal, err := requirePrincipal(c)
	if err != nil {
		return err
	}
	var req dto.ResolveFixRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	if req.ServiceTicketID == "" {
		return apperrors.NewValidationError("serviceTicketID is required", nil)
	}

	fixedBy := principal.UserID
	if req.FixedBy != nil {
		fixedBy = *req.FixedBy
	}
	result, err := h.lifecycle.ResolveFix(c.UserContext(), service.ResolveFixInput{
		ServiceTicketID: domain.ServiceTicketID(req.ServiceTicketID),
		FixedBy:         fixedBy,
		FixedAt:         req.FixedAt,
		RoomID:          optional(req.RoomID),
		PCNumber:        optional(req.PCNumber),
		RecordedBy:      principal.UserID,
	})
	if err != nil {
		return err
	}
	return c.JSON(dto.ResolveFixResponse{
		Success:     true,
		FixTicketID: string(result.FixTicketID),
		Amended:     result.Amended,
	})
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
