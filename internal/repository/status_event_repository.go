package repository

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/spec-kit/lab-status-service/internal/domain"
)

const statusEventColumns = `service_ticket_id, serial, room_id, pc_number, occurred_at, status, issues, recorded_by, resolves_ticket_id`

type statusEventRepository struct {
	db DBTX
}

// NewStatusEventRepository returns the Postgres event log. Rows are only ever inserted.
func NewStatusEventRepository(db DBTX) StatusEventRepository {
	return &statusEventRepository{db: db}
}

func (r *statusEventRepository) Append(ctx context.Context, event *domain.StatusEvent) error {
	const query = `
        INSERT INTO status_events (` + statusEventColumns + `)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`

	issues := event.Issues
	if issues == nil {
		issues = []string{}
	}
	var resolves *string
	if event.ResolvesTicketID != nil {
		id := string(*event.ResolvesTicketID)
		resolves = &id
	}
	_, err := r.db.Exec(ctx, query,
		string(event.ServiceTicketID),
		event.Serial,
		event.RoomID,
		event.PCNumber,
		event.OccurredAt,
		string(event.Status),
		issues,
		event.RecordedBy,
		resolves,
	)
	return translateError(err)
}

func (r *statusEventRepository) GetByTicket(ctx context.Context, id domain.ServiceTicketID) (*domain.StatusEvent, error) {
	const query = `SELECT ` + statusEventColumns + ` FROM status_events WHERE service_ticket_id=$1`
	return r.fetchSingle(ctx, query, string(id))
}

func (r *statusEventRepository) Latest(ctx context.Context, key domain.AssetKey) (*domain.StatusEvent, error) {
	const query = `
        SELECT ` + statusEventColumns + ` FROM status_events
        WHERE room_id=$1 AND pc_number=$2
        ORDER BY occurred_at DESC, serial DESC LIMIT 1`
	return r.fetchSingle(ctx, query, key.RoomID, key.PCNumber)
}

func (r *statusEventRepository) LatestDefect(ctx context.Context, key domain.AssetKey) (*domain.StatusEvent, error) {
	const query = `
        SELECT ` + statusEventColumns + ` FROM status_events
        WHERE room_id=$1 AND pc_number=$2 AND status='Defective'
        ORDER BY occurred_at DESC, serial DESC LIMIT 1`
	return r.fetchSingle(ctx, query, key.RoomID, key.PCNumber)
}

func (r *statusEventRepository) MaxSerial(ctx context.Context) (int64, error) {
	var serial int64
	if err := r.db.QueryRow(ctx, `SELECT COALESCE(MAX(serial), 0) FROM status_events`).Scan(&serial); err != nil {
		return 0, translateError(err)
	}
	return serial, nil
}

func (r *statusEventRepository) fetchSingle(ctx context.Context, query string, args ...any) (*domain.StatusEvent, error) {
	event, err := scanStatusEvent(r.db.QueryRow(ctx, query, args...))
	if err != nil {
		return nil, translateError(err)
	}
	return event, nil
}

func scanStatusEvent(row pgx.Row) (*domain.StatusEvent, error) {
	var (
		event    domain.StatusEvent
		ticket   string
		status   string
		resolves *string
	)
	if err := row.Scan(
		&ticket,
		&event.Serial,
		&event.RoomID,
		&event.PCNumber,
		&event.OccurredAt,
		&status,
		&event.Issues,
		&event.RecordedBy,
		&resolves,
	); err != nil {
		return nil, err
	}
	event.ServiceTicketID = domain.ServiceTicketID(ticket)
	event.Status = domain.AssetStatus(status)
	if resolves != nil {
		id := domain.ServiceTicketID(*resolves)
		event.ResolvesTicketID = &id
	}
	return &event, nil
}

func scanStatusEvents(rows pgx.Rows) ([]domain.StatusEvent, error) {
	var result []domain.StatusEvent
	for rows.Next() {
		event, err := scanStatusEvent(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *event)
	}
	return result, rows.Err()
}
