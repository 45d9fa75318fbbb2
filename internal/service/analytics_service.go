package service

import (
	"context"
	"math"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/lab-status-service/internal/domain"
	"github.com/spec-kit/lab-status-service/internal/repository"
	apperrors "github.com/spec-kit/lab-status-service/pkg/util"
)

// FleetSummary is the headline dashboard tile.
type FleetSummary struct {
	TotalPCs     int `json:"totalPCs"`
	WorkingPCs   int `json:"workingPCs"`
	DefectivePCs int `json:"defectivePCs"`
	CheckedToday int `json:"checkedToday"`
}

// FixTimeStat is the mean time from defect report to fix.
type FixTimeStat struct {
	AvgHours float64 `json:"avgHours"`
	Samples  int     `json:"samples"`
}

// RoomDefects counts defect reports in one room.
type RoomDefects struct {
	RoomID  string `json:"roomID"`
	Defects int    `json:"defects"`
}

// IssueCount counts defect reports carrying one catalogue tag.
type IssueCount struct {
	Issue string `json:"issue"`
	Count int    `json:"cnt"`
}

// RoomUptime is the share of Working observations in one room.
type RoomUptime struct {
	RoomID    string  `json:"roomID"`
	UptimePct float64 `json:"uptime_pct"`
}

// AnalyticsService aggregates the event history for the dashboard. A nil month means
// all time.
type AnalyticsService struct {
	reports repository.ReportRepository
	logger  *zap.Logger
	now     func() time.Time
}

// NewAnalyticsService constructs the service.
func NewAnalyticsService(reports repository.ReportRepository, logger *zap.Logger, clock func() time.Time) *AnalyticsService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if clock == nil {
		clock = time.Now
	}
	return &AnalyticsService{reports: reports, logger: logger, now: clock}
}

// MonthWindow returns the inclusive filter covering the calendar month that contains t.
func MonthWindow(t time.Time) domain.ReportFilter {
	t = t.UTC()
	from := time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
	to := from.AddDate(0, 1, 0).Add(-timestampPrecision)
	return domain.ReportFilter{From: &from, To: &to}
}

func monthFilter(month *time.Time) domain.ReportFilter {
	if month == nil {
		return domain.ReportFilter{}
	}
	return MonthWindow(*month)
}

// Summary counts assets by snapshot status and the events logged since midnight UTC.
func (s *AnalyticsService) Summary(ctx context.Context) (*FleetSummary, error) {
	assets, err := s.reports.Assets(ctx, nil)
	if err != nil {
		return nil, s.failed("summary", err)
	}
	summary := &FleetSummary{TotalPCs: len(assets)}
	for _, a := range assets {
		switch a.Status {
		case domain.AssetStatusWorking:
			summary.WorkingPCs++
		case domain.AssetStatusDefective:
			summary.DefectivePCs++
		}
	}

	now := s.now().UTC()
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	today, err := s.reports.Events(ctx, domain.ReportFilter{From: &midnight})
	if err != nil {
		return nil, s.failed("summary", err)
	}
	summary.CheckedToday = len(today)
	return summary, nil
}

// AverageFixTime averages, over fixes recorded in the month, the hours between the defect
// report and its fix.
func (s *AnalyticsService) AverageFixTime(ctx context.Context, month *time.Time) (*FixTimeStat, error) {
	fixes, err := s.reports.Fixes(ctx, monthFilter(month))
	if err != nil {
		return nil, s.failed("avg_fix_time", err)
	}
	ids := make([]domain.ServiceTicketID, 0, len(fixes))
	for _, fix := range fixes {
		ids = append(ids, fix.ServiceTicketID)
	}
	defects, err := s.reports.EventsForTickets(ctx, ids)
	if err != nil {
		return nil, s.failed("avg_fix_time", err)
	}
	reportedAt := make(map[domain.ServiceTicketID]time.Time, len(defects))
	for _, ev := range defects {
		reportedAt[ev.ServiceTicketID] = ev.OccurredAt
	}

	stat := &FixTimeStat{}
	var total time.Duration
	for _, fix := range fixes {
		at, ok := reportedAt[fix.ServiceTicketID]
		if !ok {
			continue
		}
		total += fix.FixedAt.Sub(at)
		stat.Samples++
	}
	if stat.Samples > 0 {
		stat.AvgHours = round(total.Hours()/float64(stat.Samples), 2)
	}
	return stat, nil
}

// DefectsByRoom counts defect reports per room, ordered by room.
func (s *AnalyticsService) DefectsByRoom(ctx context.Context, month *time.Time) ([]RoomDefects, error) {
	events, err := s.reports.Events(ctx, monthFilter(month))
	if err != nil {
		return nil, s.failed("defects_by_room", err)
	}
	counts := map[string]int{}
	for _, ev := range events {
		if ev.Status == domain.AssetStatusDefective {
			counts[ev.RoomID]++
		}
	}
	out := make([]RoomDefects, 0, len(counts))
	for room, n := range counts {
		out = append(out, RoomDefects{RoomID: room, Defects: n})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RoomID < out[j].RoomID })
	return out, nil
}

// IssuesBreakdown counts, for every catalogue tag, the defect reports that carry it. Tags
// outside the catalogue are not counted.
func (s *AnalyticsService) IssuesBreakdown(ctx context.Context, month *time.Time) ([]IssueCount, error) {
	events, err := s.reports.Events(ctx, monthFilter(month))
	if err != nil {
		return nil, s.failed("issues_breakdown", err)
	}
	counts := make(map[string]int, len(domain.IssueCatalogue))
	for _, ev := range events {
		if ev.Status != domain.AssetStatusDefective {
			continue
		}
		for _, issue := range ev.Issues {
			counts[issue]++
		}
	}
	out := make([]IssueCount, 0, len(domain.IssueCatalogue))
	for _, issue := range domain.IssueCatalogue {
		out = append(out, IssueCount{Issue: issue, Count: counts[issue]})
	}
	return out, nil
}

// RoomUptime is the percentage of Working observations per room, best first. With a month
// the observations are that month's events; without one they are the current snapshot.
func (s *AnalyticsService) RoomUptime(ctx context.Context, month *time.Time) ([]RoomUptime, error) {
	working := map[string]int{}
	total := map[string]int{}
	if month != nil {
		events, err := s.reports.Events(ctx, monthFilter(month))
		if err != nil {
			return nil, s.failed("room_uptime", err)
		}
		for _, ev := range events {
			total[ev.RoomID]++
			if ev.Status == domain.AssetStatusWorking {
				working[ev.RoomID]++
			}
		}
	} else {
		assets, err := s.reports.Assets(ctx, nil)
		if err != nil {
			return nil, s.failed("room_uptime", err)
		}
		for _, a := range assets {
			total[a.RoomID]++
			if a.Status == domain.AssetStatusWorking {
				working[a.RoomID]++
			}
		}
	}

	out := make([]RoomUptime, 0, len(total))
	for room, n := range total {
		out = append(out, RoomUptime{RoomID: room, UptimePct: round(float64(working[room])/float64(n)*100, 1)})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].UptimePct != out[j].UptimePct {
			return out[i].UptimePct > out[j].UptimePct
		}
		return out[i].RoomID < out[j].RoomID
	})
	return out, nil
}

func (s *AnalyticsService) failed(metric string, err error) error {
	s.logger.Error("dashboard metric failed", zap.String("metric", metric), zap.Error(err))
	return apperrors.NewInternalError(err)
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}
