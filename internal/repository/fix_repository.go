package repository

import (
	"context"

	"github.com/spec-kit/lab-status-service/internal/domain"
)

type fixRepository struct {
	db DBTX
}

// NewFixRepository returns the Postgres fix ledger.
func NewFixRepository(db DBTX) FixRepository {
	return &fixRepository{db: db}
}

// Upsert keeps a single record per ticket; a repeated resolve overwrites FixedAt and FixedBy.
func (r *fixRepository) Upsert(ctx context.Context, fix *domain.FixRecord) error {
	const query = `
        INSERT INTO fix_records (service_ticket_id, room_id, pc_number, fixed_at, fixed_by)
        VALUES ($1,$2,$3,$4,$5)
        ON CONFLICT (service_ticket_id) DO UPDATE
            SET fixed_at=EXCLUDED.fixed_at, fixed_by=EXCLUDED.fixed_by`

	_, err := r.db.Exec(ctx, query,
		string(fix.ServiceTicketID),
		fix.RoomID,
		fix.PCNumber,
		fix.FixedAt,
		fix.FixedBy,
	)
	return translateError(err)
}

func (r *fixRepository) GetByTicket(ctx context.Context, id domain.ServiceTicketID) (*domain.FixRecord, error) {
	const query = `
        SELECT service_ticket_id, room_id, pc_number, fixed_at, fixed_by
        FROM fix_records WHERE service_ticket_id=$1`

	var (
		fix    domain.FixRecord
		ticket string
	)
	if err := r.db.QueryRow(ctx, query, string(id)).Scan(
		&ticket,
		&fix.RoomID,
		&fix.PCNumber,
		&fix.FixedAt,
		&fix.FixedBy,
	); err != nil {
		return nil, translateError(err)
	}
	fix.ServiceTicketID = domain.ServiceTicketID(ticket)
	return &fix, nil
}
