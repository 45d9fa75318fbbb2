package service

import (
	"context"

	"go.uber.org/zap"

	"github.com/spec-kit/lab-status-service/internal/domain"
	"github.com/spec-kit/lab-status-service/internal/repository"
	apperrors "github.com/spec-kit/lab-status-service/pkg/util"
)

// ReportCache stores rendered projections. Implementations treat every failure as a miss.
// Get reports the generation it consulted and Set writes under exactly that generation, so
// rows loaded while an Invalidate lands are filed under the retired generation.
type ReportCache interface {
	Get(ctx context.Context, view domain.ReportView, filter domain.ReportFilter) ([]domain.ReportRow, int64, bool)
	Set(ctx context.Context, generation int64, view domain.ReportView, filter domain.ReportFilter, rows []domain.ReportRow)
	Invalidate(ctx context.Context) error
}

// ReportService reconstructs point-in-time views of the fleet. It only reads.
//
// Fix attribution follows ticket lineage and nothing else: a Defective row is matched with
// the fix record of its own ticket, a Working row with the fix record of the ticket it
// resolved. A defect that was superseded by a later report never gets a fix record, so it
// keeps showing as Under Repair in the audit view.
type ReportService struct {
	reports repository.ReportRepository
	users   repository.UserRepository
	cache   ReportCache
	logger  *zap.Logger
}

// ReportDependencies bundles collaborators for the report service.
type ReportDependencies struct {
	ReportRepo repository.ReportRepository
	UserRepo   repository.UserRepository
	Cache      ReportCache
	Logger     *zap.Logger
}

// NewReportService constructs the service.
func NewReportService(deps ReportDependencies) *ReportService {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ReportService{
		reports: deps.ReportRepo,
		users:   deps.UserRepo,
		cache:   deps.Cache,
		logger:  logger,
	}
}

// Current returns one row per asset: its latest event inside the filter window. With a To
// bound the rows describe the fleet as of that instant.
func (s *ReportService) Current(ctx context.Context, filter domain.ReportFilter) ([]domain.ReportRow, error) {
	return s.view(ctx, domain.ReportViewCurrent, filter, s.reports.LatestEvents)
}

// Audit returns every event inside the filter window, newest first.
func (s *ReportService) Audit(ctx context.Context, filter domain.ReportFilter) ([]domain.ReportRow, error) {
	return s.view(ctx, domain.ReportViewAudit, filter, s.reports.Events)
}

// View dispatches on the report view name.
func (s *ReportService) View(ctx context.Context, view domain.ReportView, filter domain.ReportFilter) ([]domain.ReportRow, error) {
	switch view {
	case domain.ReportViewCurrent:
		return s.Current(ctx, filter)
	case domain.ReportViewAudit:
		return s.Audit(ctx, filter)
	default:
		return nil, apperrors.NewValidationError("unknown report view", map[string]any{"view": string(view)})
	}
}

// InvalidateCache drops cached projections after a committed status change.
func (s *ReportService) InvalidateCache(ctx context.Context) error {
	if s.cache == nil {
		return nil
	}
	return s.cache.Invalidate(ctx)
}

type eventLoader func(context.Context, domain.ReportFilter) ([]domain.StatusEvent, error)

func (s *ReportService) view(ctx context.Context, view domain.ReportView, filter domain.ReportFilter, load eventLoader) ([]domain.ReportRow, error) {
	if filter.From != nil && filter.To != nil && filter.From.After(*filter.To) {
		return nil, apperrors.NewValidationError("from must not be after to", nil)
	}
	var generation int64
	if s.cache != nil {
		rows, gen, ok := s.cache.Get(ctx, view, filter)
		if ok {
			return rows, nil
		}
		generation = gen
	}

	events, err := load(ctx, filter)
	if err != nil {
		return nil, s.readFailed(view, err)
	}
	rows, err := s.project(ctx, events, filter)
	if err != nil {
		return nil, s.readFailed(view, err)
	}

	if s.cache != nil {
		s.cache.Set(ctx, generation, view, filter, rows)
	}
	return rows, nil
}

func (s *ReportService) readFailed(view domain.ReportView, err error) error {
	s.logger.Error("report projection failed", zap.String("view", string(view)), zap.Error(err))
	return apperrors.NewInternalError(err)
}

// project annotates events with their fix attribution and display names.
func (s *ReportService) project(ctx context.Context, events []domain.StatusEvent, filter domain.ReportFilter) ([]domain.ReportRow, error) {
	rows := make([]domain.ReportRow, 0, len(events))
	if len(events) == 0 {
		return rows, nil
	}

	lineage := make([]domain.ServiceTicketID, 0, len(events))
	seenTicket := make(map[domain.ServiceTicketID]struct{}, len(events))
	for _, ev := range events {
		id := ev.LineageTicket()
		if _, ok := seenTicket[id]; ok {
			continue
		}
		seenTicket[id] = struct{}{}
		lineage = append(lineage, id)
	}
	fixList, err := s.reports.FixesForTickets(ctx, lineage)
	if err != nil {
		return nil, err
	}
	fixes := make(map[domain.ServiceTicketID]domain.FixRecord, len(fixList))
	for _, fix := range fixList {
		fixes[fix.ServiceTicketID] = fix
	}

	names, err := s.displayNames(ctx, events, fixes)
	if err != nil {
		return nil, err
	}

	for _, ev := range events {
		row := domain.ReportRow{
			ServiceTicketID: ev.ServiceTicketID,
			LineageTicketID: ev.LineageTicket(),
			CheckDate:       ev.OccurredAt,
			RoomID:          ev.RoomID,
			PCNumber:        ev.PCNumber,
			Status:          ev.Status,
			DisplayStatus:   domain.DisplayStatusUnderRepair,
			Issues:          append([]string{}, ev.Issues...),
			RecordedByID:    ev.RecordedBy,
			RecordedBy:      names[ev.RecordedBy],
		}
		if ev.Status == domain.AssetStatusWorking {
			row.DisplayStatus = domain.DisplayStatusFixed
		}
		if fix, ok := fixes[row.LineageTicketID]; ok && fixVisible(fix, filter) {
			fixedOn := fix.FixedAt
			fixedBy := fix.FixedBy
			row.DisplayStatus = domain.DisplayStatusFixed
			row.FixedOn = &fixedOn
			row.FixedByID = &fixedBy
			row.FixedBy = names[fix.FixedBy]
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// fixVisible hides fix attribution recorded after the as-of bound. A Defective row then
// shows the defect as it stood; a Working row keeps its Fixed status but omits a fixedOn
// that an amendment moved past the bound.
func fixVisible(fix domain.FixRecord, filter domain.ReportFilter) bool {
	if filter.To == nil {
		return true
	}
	return !fix.FixedAt.After(*filter.To)
}

func (s *ReportService) displayNames(ctx context.Context, events []domain.StatusEvent, fixes map[domain.ServiceTicketID]domain.FixRecord) (map[int64]string, error) {
	if s.users == nil {
		return map[int64]string{}, nil
	}
	seen := map[int64]struct{}{}
	var ids []int64
	add := func(id int64) {
		if _, ok := seen[id]; ok || id <= 0 {
			return
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	for _, ev := range events {
		add(ev.RecordedBy)
	}
	for _, fix := range fixes {
		add(fix.FixedBy)
	}
	return s.users.NamesByIDs(ctx, ids)
}
