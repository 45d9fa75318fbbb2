package handlers

import (
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/lab-status-service/internal/api/dto"
	apperrors "github.com/spec-kit/lab-status-service/pkg/util"
)

const monthLayout = "2006-01"

func parseReportQuery(c *fiber.Ctx) (dto.ReportQuery, error) {
	var q dto.ReportQuery
	var err error
	if q.From, err = parseTimeParam(c, "from"); err != nil {
		return q, err
	}
	if q.To, err = parseTimeParam(c, "to"); err != nil {
		return q, err
	}
	if room := strings.TrimSpace(c.Query("room")); room != "" {
		q.Room = &room
	}
	return q, nil
}

func parseTimeParam(c *fiber.Ctx, name string) (*time.Time, error) {
	raw := strings.TrimSpace(c.Query(name))
	if raw == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return nil, apperrors.NewValidationError(name+" must be an RFC3339 timestamp", map[string]any{name: raw})
	}
	t = t.UTC()
	return &t, nil
}

// parseMonth reads ?month=YYYY-MM. Absent means all time.
func parseMonth(c *fiber.Ctx) (*time.Time, error) {
	raw := strings.TrimSpace(c.Query("month"))
	if raw == "" {
		return nil, nil
	}
	t, err := time.Parse(monthLayout, raw)
	if err != nil {
		return nil, apperrors.NewValidationError("month must be YYYY-MM", map[string]any{"month": raw})
	}
	return &t, nil
}
