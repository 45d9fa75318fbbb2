package dto

import (
	"time"

	"github.com/spec-kit/lab-status-service/internal/domain"
)

// ReportQuery captures the report filters accepted on the query string.
type ReportQuery struct {
	From *time.Time
	To   *time.Time
	Room *string
}

// Filter converts the query to the repository filter.
func (q ReportQuery) Filter() domain.ReportFilter {
	return domain.ReportFilter{From: q.From, To: q.To, RoomID: q.Room}
}

// ReportResponse wraps report rows.
type ReportResponse struct {
	Data []domain.ReportRow `json:"data"`
}
