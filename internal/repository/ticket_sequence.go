package repository

import (
	"context"
	"fmt"
)

type sequenceTicketSequencer struct {
	db DBTX
}

// NewSequenceTicketSequencer draws serials from service_ticket_serial_seq. nextval is atomic
// across sessions, so concurrent transactions never observe the same serial.
func NewSequenceTicketSequencer(db DBTX) TicketSequencer {
	return &sequenceTicketSequencer{db: db}
}

func (s *sequenceTicketSequencer) NextSerial(ctx context.Context) (int64, error) {
	var serial int64
	if err := s.db.QueryRow(ctx, `SELECT nextval('service_ticket_serial_seq')`).Scan(&serial); err != nil {
		return 0, fmt.Errorf("next ticket serial: %w", err)
	}
	return serial, nil
}

// SyncSerialSequence moves service_ticket_serial_seq past the highest serial in the event
// log, so nextval never repeats a serial issued while the Redis counter was in charge. The
// sequence is never lowered. It returns the sequence's resulting last value.
func SyncSerialSequence(ctx context.Context, db DBTX) (int64, error) {
	const query = `
        SELECT CASE WHEN m.max_serial >= s.last_value
                    THEN setval('service_ticket_serial_seq', m.max_serial, true)
                    ELSE s.last_value END
        FROM service_ticket_serial_seq s,
             (SELECT MAX(serial) AS max_serial FROM status_events) m`
	var last int64
	if err := db.QueryRow(ctx, query).Scan(&last); err != nil {
		return 0, fmt.Errorf("sync ticket serial sequence: %w", err)
	}
	return last, nil
}
