//go:build integration

package service

import (
	"context"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/spec-kit/lab-status-service/internal/domain"
	"github.com/spec-kit/lab-status-service/internal/observability"
	"github.com/spec-kit/lab-status-service/internal/persistence"
	"github.com/spec-kit/lab-status-service/internal/repository"
)

// Run with: LABSTATUS_TEST_DATABASE_URL=postgres://... go test -tags integration ./internal/service/
const testDatabaseEnv = "LABSTATUS_TEST_DATABASE_URL"

type postgresFixture struct {
	pool    *pgxpool.Pool
	uow     repository.UnitOfWork
	reports repository.ReportRepository
	svc     *LifecycleService
	fixer   int64
}

// newPostgresFixture migrates a throwaway schema and drops it when the test ends.
func newPostgresFixture(t *testing.T) *postgresFixture {
	t.Helper()
	dsn := os.Getenv(testDatabaseEnv)
	if dsn == "" {
		t.Skipf("%s is not set", testDatabaseEnv)
	}
	ctx := context.Background()
	schema := fmt.Sprintf("labstatus_it_%d", time.Now().UnixNano())

	admin, err := pgxpool.New(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(admin.Close)
	_, err = admin.Exec(ctx, "CREATE SCHEMA "+schema)
	require.NoError(t, err)
	t.Cleanup(func() { _, _ = admin.Exec(context.Background(), "DROP SCHEMA "+schema+" CASCADE") })

	cfg, err := pgxpool.ParseConfig(dsn)
	require.NoError(t, err)
	cfg.ConnConfig.RuntimeParams["search_path"] = schema
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	require.NoError(t, persistence.RunMigrations(ctx, pool, "../../migrations", zap.NewNop()))

	uow := repository.NewUnitOfWork(pool)
	require.NoError(t, uow.Do(ctx, func(ctx context.Context, tx repository.Tx) error {
		_, err := tx.Assets().Provision(ctx, "MPO310", []string{"01", "05"})
		return err
	}))
	users := repository.NewUserRepository(pool)
	fixer := &domain.User{Username: "rsmith", FirstName: "Rob", LastName: "Smith", PasswordHash: "x", Role: domain.UserRoleTechnician}
	require.NoError(t, users.Create(ctx, fixer))

	return &postgresFixture{
		pool:    pool,
		uow:     uow,
		reports: repository.NewReportRepository(pool),
		fixer:   fixer.ID,
		svc: NewLifecycleService(LifecycleDependencies{
			UnitOfWork: uow,
			Users:      users,
			Metrics:    observability.NewMetrics(),
			Logger:     zap.NewNop(),
		}),
	}
}

func (f *postgresFixture) asset(t *testing.T, pc string) domain.Asset {
	t.Helper()
	room := "MPO310"
	assets, err := f.reports.Assets(context.Background(), &room)
	require.NoError(t, err)
	for _, a := range assets {
		if a.PCNumber == pc {
			return a
		}
	}
	t.Fatalf("asset MPO310-%s not found", pc)
	return domain.Asset{}
}

func TestPostgres_ReportResolveAndAmend(t *testing.T) {
	f := newPostgresFixture(t)
	ctx := context.Background()

	ticket, err := f.svc.ReportDefect(ctx, ReportDefectInput{RoomID: "MPO310", PCNumber: "05", Issues: []string{"Monitor"}, ReporterID: f.fixer})
	require.NoError(t, err)
	assert.Equal(t, domain.AssetStatusDefective, f.asset(t, "05").Status)

	res, err := f.svc.ResolveFix(ctx, ResolveFixInput{ServiceTicketID: ticket, FixedBy: f.fixer})
	require.NoError(t, err)
	require.False(t, res.Amended)

	amendedAt := time.Now().Add(time.Hour).UTC().Truncate(time.Microsecond)
	res, err = f.svc.ResolveFix(ctx, ResolveFixInput{ServiceTicketID: ticket, FixedBy: f.fixer, FixedAt: &amendedAt})
	require.NoError(t, err)
	assert.True(t, res.Amended)

	a := f.asset(t, "05")
	assert.Equal(t, domain.AssetStatusWorking, a.Status)
	require.NotNil(t, a.LastFixedAt)
	assert.True(t, amendedAt.Equal(*a.LastFixedAt))

	fixes, err := f.reports.FixesForTickets(ctx, []domain.ServiceTicketID{ticket})
	require.NoError(t, err)
	require.Len(t, fixes, 1)
	assert.True(t, amendedAt.Equal(fixes[0].FixedAt))

	_, err = f.svc.ResolveFix(ctx, ResolveFixInput{ServiceTicketID: ticket, FixedBy: f.fixer + 1000})
	assert.Error(t, err)
}

func TestPostgres_ConcurrentReportsSerializeOnTheAsset(t *testing.T) {
	f := newPostgresFixture(t)
	ctx := context.Background()

	const reporters = 8
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		tickets = map[domain.ServiceTicketID]bool{}
	)
	for i := 0; i < reporters; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ticket, err := f.svc.ReportDefect(ctx, ReportDefectInput{RoomID: "MPO310", PCNumber: "01", ReporterID: f.fixer})
			assert.NoError(t, err)
			mu.Lock()
			tickets[ticket] = true
			mu.Unlock()
		}()
	}
	wg.Wait()
	assert.Len(t, tickets, reporters)

	evs, err := f.reports.Events(ctx, domain.ReportFilter{})
	require.NoError(t, err)
	require.Len(t, evs, reporters)
	for i := 1; i < len(evs); i++ {
		assert.True(t, evs[i-1].OccurredAt.After(evs[i].OccurredAt), "history of one asset is strictly ordered")
	}
}

func TestPostgres_EventLogIsAppendOnly(t *testing.T) {
	f := newPostgresFixture(t)
	ctx := context.Background()

	ticket, err := f.svc.ReportDefect(ctx, ReportDefectInput{RoomID: "MPO310", PCNumber: "01", ReporterID: f.fixer})
	require.NoError(t, err)

	_, err = f.pool.Exec(ctx, `UPDATE status_events SET issues = '{}' WHERE service_ticket_id = $1`, string(ticket))
	assert.ErrorContains(t, err, "append-only")
	_, err = f.pool.Exec(ctx, `DELETE FROM status_events WHERE service_ticket_id = $1`, string(ticket))
	assert.ErrorContains(t, err, "append-only")

	res, err := f.svc.ResolveFix(ctx, ResolveFixInput{ServiceTicketID: ticket, FixedBy: f.fixer})
	require.NoError(t, err)
	_, err = f.pool.Exec(ctx, `INSERT INTO fix_records (service_ticket_id, room_id, pc_number, fixed_at, fixed_by)
        VALUES ($1, 'MPO310', '01', now(), $2)`, string(res.FixTicketID), f.fixer)
	assert.ErrorContains(t, err, "must reference a Defective ticket")
}

func TestPostgres_SyncSerialSequenceSkipsIssuedSerials(t *testing.T) {
	f := newPostgresFixture(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := f.svc.ReportDefect(ctx, ReportDefectInput{RoomID: "MPO310", PCNumber: "01", ReporterID: f.fixer})
		require.NoError(t, err)
	}
	_, err := f.pool.Exec(ctx, `SELECT setval('service_ticket_serial_seq', 1, true)`)
	require.NoError(t, err)

	last, err := repository.SyncSerialSequence(ctx, f.pool)
	require.NoError(t, err)
	assert.EqualValues(t, 3, last)

	last, err = repository.SyncSerialSequence(ctx, f.pool)
	require.NoError(t, err)
	assert.EqualValues(t, 3, last, "syncing again never lowers the sequence")

	ticket, err := f.svc.ReportDefect(ctx, ReportDefectInput{RoomID: "MPO310", PCNumber: "05", ReporterID: f.fixer})
	require.NoError(t, err)
	assert.Equal(t, domain.ServiceTicketID("MPO310-05-Defective-000000004"), ticket)
}
