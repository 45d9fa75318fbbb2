package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/spec-kit/lab-status-service/internal/domain"
)

var (
	// ErrNotFound is returned when a lookup matches no row.
	ErrNotFound = errors.New("record not found")
	// ErrDuplicateTicket is returned when a minted ticket id or serial already exists.
	ErrDuplicateTicket = errors.New("service ticket already exists")
	// ErrSequencerUnseeded is returned by an external serial source whose counter is gone.
	ErrSequencerUnseeded = errors.New("ticket sequencer is not seeded")
	// ErrDuplicateUser is returned when a username is already taken.
	ErrDuplicateUser = errors.New("username already exists")
)

// DBTX is the query surface shared by *pgxpool.Pool and pgx.Tx.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// AssetRepository is the current-status snapshot store.
type AssetRepository interface {
	// GetForUpdate loads the asset and holds its row lock until the unit of work ends.
	GetForUpdate(ctx context.Context, key domain.AssetKey) (*domain.Asset, error)
	Update(ctx context.Context, asset *domain.Asset) error
	// Provision inserts missing assets as Working and returns how many were created.
	Provision(ctx context.Context, roomID string, pcNumbers []string) (int, error)
}

// StatusEventRepository is the append-only event log.
type StatusEventRepository interface {
	Append(ctx context.Context, event *domain.StatusEvent) error
	GetByTicket(ctx context.Context, id domain.ServiceTicketID) (*domain.StatusEvent, error)
	Latest(ctx context.Context, key domain.AssetKey) (*domain.StatusEvent, error)
	LatestDefect(ctx context.Context, key domain.AssetKey) (*domain.StatusEvent, error)
	MaxSerial(ctx context.Context) (int64, error)
}

// FixRepository is the fix ledger, one record per resolved ticket.
type FixRepository interface {
	Upsert(ctx context.Context, fix *domain.FixRecord) error
	GetByTicket(ctx context.Context, id domain.ServiceTicketID) (*domain.FixRecord, error)
}

// TicketSequencer hands out strictly increasing ticket serials.
type TicketSequencer interface {
	NextSerial(ctx context.Context) (int64, error)
}

// SeedableSequencer is a serial source kept outside the database. It has to be raised past
// the highest stored serial before use and again whenever its counter is lost or lags.
type SeedableSequencer interface {
	TicketSequencer
	Seed(ctx context.Context, floor int64) (int64, error)
}

// Tx exposes the stores bound to one unit of work.
type Tx interface {
	Assets() AssetRepository
	Events() StatusEventRepository
	Fixes() FixRepository
	Tickets() TicketSequencer
}

// UnitOfWork runs fn atomically: every write made through tx commits together or not at all.
type UnitOfWork interface {
	Do(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

// ReportRepository serves the read side. Implementations never take write locks.
type ReportRepository interface {
	LatestEvents(ctx context.Context, filter domain.ReportFilter) ([]domain.StatusEvent, error)
	Events(ctx context.Context, filter domain.ReportFilter) ([]domain.StatusEvent, error)
	EventsForTickets(ctx context.Context, ids []domain.ServiceTicketID) ([]domain.StatusEvent, error)
	FixesForTickets(ctx context.Context, ids []domain.ServiceTicketID) ([]domain.FixRecord, error)
	Fixes(ctx context.Context, filter domain.ReportFilter) ([]domain.FixRecord, error)
	Assets(ctx context.Context, roomID *string) ([]domain.Asset, error)
}

// UserRepository reads the user directory.
type UserRepository interface {
	GetByID(ctx context.Context, id int64) (*domain.User, error)
	GetByUsername(ctx context.Context, username string) (*domain.User, error)
	NamesByIDs(ctx context.Context, ids []int64) (map[int64]string, error)
	Create(ctx context.Context, user *domain.User) error
}

const (
	pgUniqueViolation = "23505"
)

// translateError maps driver errors onto the repository sentinels.
func translateError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
		return ErrDuplicateTicket
	}
	return err
}
