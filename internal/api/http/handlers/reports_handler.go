package handlers

import (
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/lab-status-service/internal/api/dto"
	"github.com/spec-kit/lab-status-service/internal/domain"
	"github.com/spec-kit/lab-status-service/internal/export"
	"github.com/spec-kit/lab-status-service/internal/service"
	apperrors "github.com/spec-kit/lab-status-service/pkg/util"
)

// ReportsHandler serves the current-status and audit projections.
type ReportsHandler struct {
	reports *service.ReportService
	now     func() time.Time
}

// NewReportsHandler constructs handler.
func NewReportsHandler(reports *service.ReportService) *ReportsHandler {
	return &ReportsHandler{reports: reports, now: time.Now}
}

// Current GET /api/reports/current.
func (h *ReportsHandler) Current(c *fiber.Ctx) error {
	return h.render(c, domain.ReportViewCurrent)
}

// Audit GET /api/reports/audit.
func (h *ReportsHandler) Audit(c *fiber.Ctx) error {
	return h.render(c, domain.ReportViewAudit)
}

// Export GET /api/reports/export?view=current|audit streams the rows as an XLSX workbook.
func (h *ReportsHandler) Export(c *fiber.Ctx) error {
	view := domain.ReportView(c.Query("view", string(domain.ReportViewCurrent)))
	q, err := parseReportQuery(c)
	if err != nil {
		return err
	}
	rows, err := h.reports.View(c.UserContext(), view, q.Filter())
	if err != nil {
		return err
	}
	data, err := export.ReportWorkbook(view, rows)
	if err != nil {
		return apperrors.NewInternalError(err)
	}
	c.Set(fiber.HeaderContentType, export.ContentTypeXLSX)
	c.Set(fiber.HeaderContentDisposition, fmt.Sprintf("attachment; filename=%q", export.FileName(view, h.now())))
	return c.Send(data)
}

func (h *ReportsHandler) render(c *fiber.Ctx, view domain.ReportView) error {
	q, err := parseReportQuery(c)
	if err != nil {
		return err
	}
	rows, err := h.reports.View(c.UserContext(), view, q.Filter())
	if err != nil {
		return err
	}
	return c.JSON(dto.ReportResponse{Data: rows})
}
