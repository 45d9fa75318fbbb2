package repository

import (
	"context"
	"fmt"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres"
	"github.com/doug-martin/goqu/v9/exp"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/lab-status-service/internal/domain"
)

var pgDialect = goqu.Dialect("postgres")

var statusEventSelect = []any{
	"service_ticket_id", "serial", "room_id", "pc_number", "occurred_at",
	"status", "issues", "recorded_by", "resolves_ticket_id",
}

type reportRepository struct {
	pool *pgxpool.Pool
}

// NewReportRepository returns the read side over the pool; queries run outside any
// write transaction at read-committed.
func NewReportRepository(pool *pgxpool.Pool) ReportRepository {
	return &reportRepository{pool: pool}
}

func (r *reportRepository) LatestEvents(ctx context.Context, filter domain.ReportFilter) ([]domain.StatusEvent, error) {
	query, args, err := latestEventsQuery(filter).ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build latest events query: %w", err)
	}
	events, err := r.queryEvents(ctx, query, args)
	if err != nil {
		return nil, err
	}
	domain.SortNewestFirst(events)
	return events, nil
}

func (r *reportRepository) Events(ctx context.Context, filter domain.ReportFilter) ([]domain.StatusEvent, error) {
	query, args, err := eventsQuery(filter).ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build events query: %w", err)
	}
	return r.queryEvents(ctx, query, args)
}

func (r *reportRepository) EventsForTickets(ctx context.Context, ids []domain.ServiceTicketID) ([]domain.StatusEvent, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	query, args, err := pgDialect.From("status_events").Prepared(true).
		Select(statusEventSelect...).
		Where(goqu.C("service_ticket_id").In(ticketKeys(ids))).
		ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build ticket events query: %w", err)
	}
	return r.queryEvents(ctx, query, args)
}

func (r *reportRepository) FixesForTickets(ctx context.Context, ids []domain.ServiceTicketID) ([]domain.FixRecord, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	query, args, err := fixesSelect().
		Where(goqu.C("service_ticket_id").In(ticketKeys(ids))).
		ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build fixes query: %w", err)
	}
	return r.queryFixes(ctx, query, args)
}

func (r *reportRepository) Fixes(ctx context.Context, filter domain.ReportFilter) ([]domain.FixRecord, error) {
	query, args, err := fixesSelect().
		Where(windowConditions("fixed_at", filter)...).
		Order(goqu.C("fixed_at").Asc()).
		ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build fixes query: %w", err)
	}
	return r.queryFixes(ctx, query, args)
}

func (r *reportRepository) Assets(ctx context.Context, roomID *string) ([]domain.Asset, error) {
	ds := pgDialect.From("assets").Prepared(true).
		Select("room_id", "pc_number", "status", "last_updated", "last_fixed_at", "last_fixed_by").
		Order(goqu.C("room_id").Asc(), goqu.C("pc_number").Asc())
	if roomID != nil {
		ds = ds.Where(goqu.C("room_id").Eq(*roomID))
	}
	query, args, err := ds.ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build assets query: %w", err)
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.Asset
	for rows.Next() {
		var (
			asset  domain.Asset
			status string
		)
		if err := rows.Scan(
			&asset.RoomID,
			&asset.PCNumber,
			&status,
			&asset.LastUpdated,
			&asset.LastFixedAt,
			&asset.LastFixedBy,
		); err != nil {
			return nil, err
		}
		asset.Status = domain.AssetStatus(status)
		result = append(result, asset)
	}
	return result, rows.Err()
}

func (r *reportRepository) queryEvents(ctx context.Context, query string, args []any) ([]domain.StatusEvent, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanStatusEvents(rows)
}

func (r *reportRepository) queryFixes(ctx context.Context, query string, args []any) ([]domain.FixRecord, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.FixRecord
	for rows.Next() {
		var (
			fix    domain.FixRecord
			ticket string
		)
		if err := rows.Scan(&ticket, &fix.RoomID, &fix.PCNumber, &fix.FixedAt, &fix.FixedBy); err != nil {
			return nil, err
		}
		fix.ServiceTicketID = domain.ServiceTicketID(ticket)
		result = append(result, fix)
	}
	return result, rows.Err()
}

// latestEventsQuery picks one event per asset with DISTINCT ON; the ORDER BY makes the
// kept row the one with the greatest occurred_at, ties going to the highest serial.
func latestEventsQuery(filter domain.ReportFilter) *goqu.SelectDataset {
	return pgDialect.From("status_events").Prepared(true).
		Select(statusEventSelect...).
		Distinct(goqu.C("room_id"), goqu.C("pc_number")).
		Where(eventConditions(filter)...).
		Order(
			goqu.C("room_id").Asc(),
			goqu.C("pc_number").Asc(),
			goqu.C("occurred_at").Desc(),
			goqu.C("serial").Desc(),
		)
}

func eventsQuery(filter domain.ReportFilter) *goqu.SelectDataset {
	return pgDialect.From("status_events").Prepared(true).
		Select(statusEventSelect...).
		Where(eventConditions(filter)...).
		Order(goqu.C("occurred_at").Desc(), goqu.C("serial").Desc())
}

func fixesSelect() *goqu.SelectDataset {
	return pgDialect.From("fix_records").Prepared(true).
		Select("service_ticket_id", "room_id", "pc_number", "fixed_at", "fixed_by")
}

func ticketKeys(ids []domain.ServiceTicketID) []string {
	keys := make([]string, 0, len(ids))
	for _, id := range ids {
		keys = append(keys, string(id))
	}
	return keys
}

func eventConditions(filter domain.ReportFilter) []exp.Expression {
	return windowConditions("occurred_at", filter)
}

func windowConditions(column string, filter domain.ReportFilter) []exp.Expression {
	var conds []exp.Expression
	if filter.From != nil {
		conds = append(conds, goqu.C(column).Gte(*filter.From))
	}
	if filter.To != nil {
		conds = append(conds, goqu.C(column).Lte(*filter.To))
	}
	if filter.RoomID != nil {
		conds = append(conds, goqu.C("room_id").Eq(*filter.RoomID))
	}
	return conds
}
