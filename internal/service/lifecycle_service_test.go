package service

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/spec-kit/lab-status-service/internal/cache"
	"github.com/spec-kit/lab-status-service/internal/domain"
	"github.com/spec-kit/lab-status-service/internal/events"
	"github.com/spec-kit/lab-status-service/internal/observability"
	"github.com/spec-kit/lab-status-service/internal/repository/memory"
	apperrors "github.com/spec-kit/lab-status-service/pkg/util"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock(t time.Time) *fakeClock {
	return &fakeClock{now: t}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

type lifecycleFixture struct {
	store     *memory.Store
	clock     *fakeClock
	metrics   *observability.Metrics
	published *eventRecorder
	svc       *LifecycleService
}

type eventRecorder struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *eventRecorder) handle(_ context.Context, event events.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

func (r *eventRecorder) types() []events.EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]events.EventType, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Type)
	}
	return out
}

var baseTime = time.Date(2025, 3, 10, 8, 0, 0, 0, time.UTC)

func newLifecycleFixture(t *testing.T) *lifecycleFixture {
	t.Helper()
	store := memory.NewStore()
	store.Provision("MPO310", "01", "02", "05", "18")
	store.AddUser(domain.User{ID: 3, Username: "jdoe", FirstName: "Jane", LastName: "Doe"})
	store.AddUser(domain.User{ID: 7, Username: "rsmith", FirstName: "Rob", LastName: "Smith"})

	clock := newFakeClock(baseTime)
	metrics := observability.NewMetrics()
	recorder := &eventRecorder{}
	dispatcher := events.NewInMemoryDispatcher(zap.NewNop())
	events.SubscribeAll(dispatcher, recorder.handle)

	svc := NewLifecycleService(LifecycleDependencies{
		UnitOfWork: store,
		Users:      store,
		Dispatcher: dispatcher,
		Metrics:    metrics,
		Logger:     zap.NewNop(),
		Clock:      clock.Now,
	})
	return &lifecycleFixture{store: store, clock: clock, metrics: metrics, published: recorder, svc: svc}
}

func (f *lifecycleFixture) report(t *testing.T, room, pc string, issues ...string) domain.ServiceTicketID {
	t.Helper()
	ticket, err := f.svc.ReportDefect(context.Background(), ReportDefectInput{
		RoomID: room, PCNumber: pc, Issues: issues, ReporterID: 3,
	})
	require.NoError(t, err)
	return ticket
}

func asset(t *testing.T, store *memory.Store, room, pc string) domain.Asset {
	t.Helper()
	a, ok := store.Asset(domain.AssetKey{RoomID: room, PCNumber: pc})
	require.True(t, ok)
	return a
}

func timePtr(t time.Time) *time.Time { return &t }

func strPtr(s string) *string { return &s }

func TestReportDefect_MintsTicketAndUpdatesSnapshot(t *testing.T) {
	f := newLifecycleFixture(t)

	ticket := f.report(t, "MPO310", "18", " Mouse ", "Keyboard", "", "Mouse")

	assert.Equal(t, domain.ServiceTicketID("MPO310-18-Defective-000000001"), ticket)
	a := asset(t, f.store, "MPO310", "18")
	assert.Equal(t, domain.AssetStatusDefective, a.Status)
	assert.Equal(t, baseTime, a.LastUpdated)

	evs := f.store.AllEvents()
	require.Len(t, evs, 1)
	assert.Equal(t, ticket, evs[0].ServiceTicketID)
	assert.Equal(t, []string{"Mouse", "Keyboard"}, evs[0].Issues)
	assert.EqualValues(t, 3, evs[0].RecordedBy)
	assert.Nil(t, evs[0].ResolvesTicketID)

	assert.Equal(t, []events.EventType{events.EventAssetDefectReported}, f.published.types())
	assert.EqualValues(t, 1, f.metrics.Snapshot().Transitions[observability.TransitionDefectReported])
}

func TestReportDefect_Validation(t *testing.T) {
	f := newLifecycleFixture(t)

	tests := []struct {
		name  string
		input ReportDefectInput
		code  string
	}{
		{"missing room", ReportDefectInput{PCNumber: "01", ReporterID: 3}, apperrors.CodeValidation},
		{"blank pc", ReportDefectInput{RoomID: "MPO310", PCNumber: "  ", ReporterID: 3}, apperrors.CodeValidation},
		{"dash in pc", ReportDefectInput{RoomID: "MPO310", PCNumber: "0-1", ReporterID: 3}, apperrors.CodeValidation},
		{"no reporter", ReportDefectInput{RoomID: "MPO310", PCNumber: "01"}, apperrors.CodeValidation},
		{"unknown asset", ReportDefectInput{RoomID: "MPO310", PCNumber: "99", ReporterID: 3}, apperrors.CodeNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.ReportDefect(context.Background(), tt.input)
			require.Error(t, err)
			assert.Equal(t, tt.code, apperrors.CodeOf(err))
		})
	}
	assert.Empty(t, f.store.AllEvents())
}

func TestReportDefect_ConcurrentTicketsAreUnique(t *testing.T) {
	f := newLifecycleFixture(t)
	const assets = 40
	pcs := make([]string, assets)
	for i := range pcs {
		pcs[i] = fmt.Sprintf("%02d", i+20)
	}
	f.store.Provision("LAB2", pcs...)

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		tickets = map[domain.ServiceTicketID]bool{}
	)
	for _, pc := range pcs {
		wg.Add(1)
		go func(pc string) {
			defer wg.Done()
			ticket, err := f.svc.ReportDefect(context.Background(), ReportDefectInput{
				RoomID: "LAB2", PCNumber: pc, Issues: []string{"Network"}, ReporterID: 3,
			})
			assert.NoError(t, err)
			mu.Lock()
			tickets[ticket] = true
			mu.Unlock()
		}(pc)
	}
	wg.Wait()

	assert.Len(t, tickets, assets)
	serials := map[int64]bool{}
	for _, ev := range f.store.AllEvents() {
		serials[ev.Serial] = true
	}
	assert.Len(t, serials, assets)
}

func TestReportDefect_BackToBackReportsAreStrictlyOrdered(t *testing.T) {
	f := newLifecycleFixture(t)

	first := f.report(t, "MPO310", "01", "Monitor")
	second := f.report(t, "MPO310", "01", "Monitor", "GPU")

	evs := f.store.AllEvents()
	require.Len(t, evs, 2)
	assert.True(t, evs[1].OccurredAt.After(evs[0].OccurredAt))
	assert.Equal(t, baseTime.Add(time.Microsecond), evs[1].OccurredAt)
	assert.NotEqual(t, first, second)

	a := asset(t, f.store, "MPO310", "01")
	assert.Equal(t, domain.AssetStatusDefective, a.Status)
	assert.Equal(t, evs[1].OccurredAt, a.LastUpdated)
}

func TestReportDefect_ExplicitTimeMustFollowHistory(t *testing.T) {
	f := newLifecycleFixture(t)
	f.report(t, "MPO310", "02")

	_, err := f.svc.ReportDefect(context.Background(), ReportDefectInput{
		RoomID: "MPO310", PCNumber: "02", ReporterID: 3, OccurredAt: timePtr(baseTime.Add(-time.Hour)),
	})
	require.Error(t, err)
	assert.Equal(t, apperrors.CodeConflict, apperrors.CodeOf(err))

	later := baseTime.Add(90 * time.Minute).Add(123 * time.Nanosecond)
	ticket, err := f.svc.ReportDefect(context.Background(), ReportDefectInput{
		RoomID: "MPO310", PCNumber: "02", ReporterID: 3, OccurredAt: &later,
	})
	require.NoError(t, err)
	assert.Equal(t, domain.ServiceTicketID("MPO310-02-Defective-000000002"), ticket)
	assert.Equal(t, later.Truncate(time.Microsecond), asset(t, f.store, "MPO310", "02").LastUpdated)
}

func TestResolveFix_ClosesOpenTicket(t *testing.T) {
	f := newLifecycleFixture(t)
	ticket := f.report(t, "MPO310", "18", "Memory")

	fixedAt := baseTime.Add(2 * time.Hour)
	res, err := f.svc.ResolveFix(context.Background(), ResolveFixInput{
		ServiceTicketID: ticket, FixedBy: 7, FixedAt: &fixedAt,
		RoomID: strPtr("MPO310"), PCNumber: strPtr("18"),
	})
	require.NoError(t, err)
	assert.False(t, res.Amended)
	assert.Equal(t, domain.ServiceTicketID("MPO310-18-Fixed-000000002"), res.FixTicketID)

	a := asset(t, f.store, "MPO310", "18")
	assert.Equal(t, domain.AssetStatusWorking, a.Status)
	assert.Equal(t, fixedAt, a.LastUpdated)
	require.NotNil(t, a.LastFixedAt)
	assert.Equal(t, fixedAt, *a.LastFixedAt)
	require.NotNil(t, a.LastFixedBy)
	assert.EqualValues(t, 7, *a.LastFixedBy)

	evs := f.store.AllEvents()
	require.Len(t, evs, 2)
	assert.Equal(t, domain.AssetStatusWorking, evs[1].Status)
	require.NotNil(t, evs[1].ResolvesTicketID)
	assert.Equal(t, ticket, *evs[1].ResolvesTicketID)
	assert.EqualValues(t, 7, evs[1].RecordedBy)

	fixes := f.store.AllFixes()
	require.Len(t, fixes, 1)
	assert.Equal(t, ticket, fixes[0].ServiceTicketID)
	assert.Equal(t, []events.EventType{events.EventAssetDefectReported, events.EventAssetFixed}, f.published.types())
}

func TestResolveFix_IsIdempotentPerTicket(t *testing.T) {
	f := newLifecycleFixture(t)
	ticket := f.report(t, "MPO310", "05")

	first := baseTime.Add(time.Hour)
	_, err := f.svc.ResolveFix(context.Background(), ResolveFixInput{ServiceTicketID: ticket, FixedBy: 3, FixedAt: &first})
	require.NoError(t, err)

	second := baseTime.Add(3 * time.Hour)
	res, err := f.svc.ResolveFix(context.Background(), ResolveFixInput{ServiceTicketID: ticket, FixedBy: 7, FixedAt: &second})
	require.NoError(t, err)
	assert.True(t, res.Amended)
	assert.Empty(t, res.FixTicketID)

	fixes := f.store.AllFixes()
	require.Len(t, fixes, 1)
	assert.Equal(t, second, fixes[0].FixedAt)
	assert.EqualValues(t, 7, fixes[0].FixedBy)
	assert.Len(t, f.store.AllEvents(), 2)

	a := asset(t, f.store, "MPO310", "05")
	assert.Equal(t, domain.AssetStatusWorking, a.Status)
	assert.EqualValues(t, 7, *a.LastFixedBy)
	assert.Equal(t, second, *a.LastFixedAt)
	assert.Equal(t, first, a.LastUpdated)
	assert.EqualValues(t, 1, f.metrics.Snapshot().Transitions[observability.TransitionFixAmended])
}

func TestResolveFix_WorkingAssetIsConflict(t *testing.T) {
	f := newLifecycleFixture(t)
	older := f.report(t, "MPO310", "01", "Mouse")
	f.clock.Set(baseTime.Add(time.Minute))
	newer := f.report(t, "MPO310", "01", "Keyboard")
	f.clock.Set(baseTime.Add(time.Hour))
	res, err := f.svc.ResolveFix(context.Background(), ResolveFixInput{ServiceTicketID: newer, FixedBy: 7})
	require.NoError(t, err)

	_, err = f.svc.ResolveFix(context.Background(), ResolveFixInput{ServiceTicketID: older, FixedBy: 7})
	require.Error(t, err)
	assert.Equal(t, apperrors.CodeConflict, apperrors.CodeOf(err))

	_, err = f.svc.ResolveFix(context.Background(), ResolveFixInput{ServiceTicketID: res.FixTicketID, FixedBy: 7})
	require.Error(t, err)
	assert.Equal(t, apperrors.CodeConflict, apperrors.CodeOf(err))

	assert.Len(t, f.store.AllFixes(), 1)
	assert.Len(t, f.store.AllEvents(), 3)
}

func TestResolveFix_SupersededTicketIsConflict(t *testing.T) {
	f := newLifecycleFixture(t)
	older := f.report(t, "MPO310", "02")
	f.report(t, "MPO310", "02")

	_, err := f.svc.ResolveFix(context.Background(), ResolveFixInput{ServiceTicketID: older, FixedBy: 7})
	require.Error(t, err)
	assert.Equal(t, apperrors.CodeConflict, apperrors.CodeOf(err))
	assert.Equal(t, domain.AssetStatusDefective, asset(t, f.store, "MPO310", "02").Status)
}

func TestResolveFix_Rejections(t *testing.T) {
	f := newLifecycleFixture(t)
	ticket := f.report(t, "MPO310", "18")

	tests := []struct {
		name  string
		input ResolveFixInput
		code  string
	}{
		{"malformed ticket", ResolveFixInput{ServiceTicketID: "not-a-ticket", FixedBy: 7}, apperrors.CodeValidation},
		{"no fixer", ResolveFixInput{ServiceTicketID: ticket}, apperrors.CodeValidation},
		{"room mismatch", ResolveFixInput{ServiceTicketID: ticket, FixedBy: 7, RoomID: strPtr("LAB9")}, apperrors.CodeValidation},
		{"pc mismatch", ResolveFixInput{ServiceTicketID: ticket, FixedBy: 7, PCNumber: strPtr("01")}, apperrors.CodeValidation},
		{"unknown ticket", ResolveFixInput{ServiceTicketID: "MPO310-18-Defective-000000999", FixedBy: 7}, apperrors.CodeNotFound},
		{"unknown asset", ResolveFixInput{ServiceTicketID: "LAB9-01-Defective-000000001", FixedBy: 7}, apperrors.CodeNotFound},
		{"fixed before reported", ResolveFixInput{ServiceTicketID: ticket, FixedBy: 7, FixedAt: timePtr(baseTime.Add(-time.Second))}, apperrors.CodeConflict},
		{"fixed at report time", ResolveFixInput{ServiceTicketID: ticket, FixedBy: 7, FixedAt: timePtr(baseTime)}, apperrors.CodeConflict},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.ResolveFix(context.Background(), tt.input)
			require.Error(t, err)
			assert.Equal(t, tt.code, apperrors.CodeOf(err))
		})
	}
	assert.Empty(t, f.store.AllFixes())
	assert.Equal(t, domain.AssetStatusDefective, asset(t, f.store, "MPO310", "18").Status)
}

func TestLifecycle_NoPartialCommit(t *testing.T) {
	f := newLifecycleFixture(t)
	before := asset(t, f.store, "MPO310", "01")

	for _, op := range []string{memory.OpNextSerial, memory.OpAppendEvent, memory.OpUpdateAsset} {
		f.store.FailOn(op, memory.ErrInjected)
		_, err := f.svc.ReportDefect(context.Background(), ReportDefectInput{RoomID: "MPO310", PCNumber: "01", ReporterID: 3})
		require.Error(t, err, op)
		assert.Equal(t, apperrors.CodePersistence, apperrors.CodeOf(err), op)
		assert.ErrorIs(t, err, memory.ErrInjected)
		assert.Empty(t, f.store.AllEvents(), op)
		assert.Equal(t, before, asset(t, f.store, "MPO310", "01"), op)
	}

	ticket := f.report(t, "MPO310", "01")
	defective := asset(t, f.store, "MPO310", "01")
	for _, op := range []string{memory.OpNextSerial, memory.OpAppendEvent, memory.OpUpsertFix, memory.OpUpdateAsset} {
		f.store.FailOn(op, memory.ErrInjected)
		_, err := f.svc.ResolveFix(context.Background(), ResolveFixInput{ServiceTicketID: ticket, FixedBy: 7})
		require.Error(t, err, op)
		assert.Equal(t, apperrors.CodePersistence, apperrors.CodeOf(err), op)
		assert.Len(t, f.store.AllEvents(), 1, op)
		assert.Empty(t, f.store.AllFixes(), op)
		assert.Equal(t, defective, asset(t, f.store, "MPO310", "01"), op)
	}
	assert.Equal(t, []events.EventType{events.EventAssetDefectReported}, f.published.types())

	_, err := f.svc.ResolveFix(context.Background(), ResolveFixInput{ServiceTicketID: ticket, FixedBy: 7})
	require.NoError(t, err)
	assert.Equal(t, domain.AssetStatusWorking, asset(t, f.store, "MPO310", "01").Status)
}

func TestLifecycle_CancelledContextIsPersistenceError(t *testing.T) {
	f := newLifecycleFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.svc.ReportDefect(ctx, ReportDefectInput{RoomID: "MPO310", PCNumber: "01", ReporterID: 3})
	require.Error(t, err)
	assert.Equal(t, apperrors.CodePersistence, apperrors.CodeOf(err))
	assert.NotContains(t, err.(*apperrors.DomainError).Message, "context")
}

func TestLifecycle_SnapshotMatchesLatestEvent(t *testing.T) {
	f := newLifecycleFixture(t)
	ctx := context.Background()

	steps := []struct {
		pc     string
		action string
	}{
		{"01", "report"}, {"02", "report"}, {"01", "resolve"}, {"02", "report"},
		{"05", "report"}, {"02", "resolve"}, {"01", "report"}, {"05", "resolve"},
	}
	open := map[string]domain.ServiceTicketID{}
	for i, step := range steps {
		f.clock.Set(baseTime.Add(time.Duration(i) * time.Minute))
		switch step.action {
		case "report":
			open[step.pc] = f.report(t, "MPO310", step.pc)
		case "resolve":
			_, err := f.svc.ResolveFix(ctx, ResolveFixInput{ServiceTicketID: open[step.pc], FixedBy: 7})
			require.NoError(t, err)
		}
	}

	latest := domain.LatestPerAsset(f.store.AllEvents())
	require.Len(t, latest, 3)
	for _, ev := range latest {
		a := asset(t, f.store, ev.RoomID, ev.PCNumber)
		assert.Equal(t, ev.Status, a.Status, ev.Key().String())
		assert.Equal(t, ev.OccurredAt, a.LastUpdated, ev.Key().String())
	}
}

type countingSequencer struct {
	mu   sync.Mutex
	next int64
}

func (s *countingSequencer) NextSerial(context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.next++
	return s.next, nil
}

func TestLifecycle_ExternalSequencerReplacesStoreSerials(t *testing.T) {
	store := memory.NewStore()
	store.Provision("MPO310", "18")
	seq := &countingSequencer{next: 169}
	svc := NewLifecycleService(LifecycleDependencies{UnitOfWork: store, Sequencer: seq})

	ticket, err := svc.ReportDefect(context.Background(), ReportDefectInput{RoomID: "MPO310", PCNumber: "18", ReporterID: 1})
	require.NoError(t, err)
	assert.Equal(t, domain.ServiceTicketID("MPO310-18-Defective-000000170"), ticket)

	res, err := svc.ResolveFix(context.Background(), ResolveFixInput{ServiceTicketID: ticket, FixedBy: 1})
	require.NoError(t, err)
	assert.Equal(t, domain.ServiceTicketID("MPO310-18-Fixed-000000171"), res.FixTicketID)
}

func newRedisSequencedService(t *testing.T, store *memory.Store) (*LifecycleService, *miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	seq := cache.NewRedisSequencer(client, "labstatus:ticket_serial")
	_, err := seq.Seed(context.Background(), 0)
	require.NoError(t, err)
	svc := NewLifecycleService(LifecycleDependencies{UnitOfWork: store, Sequencer: seq, Metrics: observability.NewMetrics()})
	return svc, mr, client
}

func TestLifecycle_FlushedRedisCounterIsReseededFromStoredSerials(t *testing.T) {
	store := memory.NewStore()
	store.Provision("R1", "01", "02")
	svc, mr, _ := newRedisSequencedService(t, store)
	ctx := context.Background()

	first, err := svc.ReportDefect(ctx, ReportDefectInput{RoomID: "R1", PCNumber: "01", ReporterID: 1})
	require.NoError(t, err)
	assert.Equal(t, domain.ServiceTicketID("R1-01-Defective-000000001"), first)

	mr.FlushAll()

	second, err := svc.ReportDefect(ctx, ReportDefectInput{RoomID: "R1", PCNumber: "02", ReporterID: 1})
	require.NoError(t, err)
	assert.Equal(t, domain.ServiceTicketID("R1-02-Defective-000000002"), second)
	assert.Len(t, store.AllEvents(), 2)
}

func TestLifecycle_LaggingRedisCounterRecoversAfterConflict(t *testing.T) {
	store := memory.NewStore()
	store.Provision("R1", "01", "02")
	svc, _, client := newRedisSequencedService(t, store)
	ctx := context.Background()

	_, err := svc.ReportDefect(ctx, ReportDefectInput{RoomID: "R1", PCNumber: "01", ReporterID: 1})
	require.NoError(t, err)
	require.NoError(t, client.Set(ctx, "labstatus:ticket_serial", 0, 0).Err())

	_, err = svc.ReportDefect(ctx, ReportDefectInput{RoomID: "R1", PCNumber: "02", ReporterID: 1})
	require.Error(t, err)
	assert.Equal(t, apperrors.CodeConflict, apperrors.CodeOf(err))

	ticket, err := svc.ReportDefect(ctx, ReportDefectInput{RoomID: "R1", PCNumber: "02", ReporterID: 1})
	require.NoError(t, err)
	assert.Equal(t, domain.ServiceTicketID("R1-02-Defective-000000002"), ticket)
}

func TestResolveFix_RejectsUnknownFixer(t *testing.T) {
	f := newLifecycleFixture(t)
	ticket := f.report(t, "MPO310", "05", "Monitor")

	_, err := f.svc.ResolveFix(context.Background(), ResolveFixInput{ServiceTicketID: ticket, FixedBy: 404})
	require.Error(t, err)
	assert.Equal(t, apperrors.CodeValidation, apperrors.CodeOf(err))

	a := asset(t, f.store, "MPO310", "05")
	assert.Equal(t, domain.AssetStatusDefective, a.Status)
	assert.Nil(t, a.LastFixedBy)
	assert.Empty(t, f.store.AllFixes())
}

func TestNormalizeIssues(t *testing.T) {
	assert.Equal(t, []string{}, normalizeIssues(nil))
	assert.Equal(t, []string{"CPU", "Other"}, normalizeIssues([]string{" CPU", "", "Other", "CPU "}))
}
