package cache

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/spec-kit/lab-status-service/internal/domain"
	"github.com/spec-kit/lab-status-service/internal/repository"
)

func setupTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestReportCache_RoundTripAndInvalidate(t *testing.T) {
	_, client := setupTestRedis(t)
	c := NewReportCache(client, time.Minute, zap.NewNop())
	require.NotNil(t, c)

	ctx := context.Background()
	room := "MPO310"
	filter := domain.ReportFilter{RoomID: &room}
	rows := []domain.ReportRow{{
		ServiceTicketID: "MPO310-05-Defective-000000042",
		RoomID:          room,
		PCNumber:        "05",
		Status:          domain.AssetStatusDefective,
		DisplayStatus:   domain.DisplayStatusUnderRepair,
		Issues:          []string{"Mouse"},
	}}

	_, gen, ok := c.Get(ctx, domain.ReportViewCurrent, filter)
	assert.False(t, ok)
	assert.Equal(t, int64(0), gen)

	c.Set(ctx, gen, domain.ReportViewCurrent, filter, rows)
	got, _, ok := c.Get(ctx, domain.ReportViewCurrent, filter)
	require.True(t, ok)
	assert.Equal(t, rows, got)

	_, _, ok = c.Get(ctx, domain.ReportViewAudit, filter)
	assert.False(t, ok, "views are cached separately")

	require.NoError(t, c.Invalidate(ctx))
	_, gen, ok = c.Get(ctx, domain.ReportViewCurrent, filter)
	assert.False(t, ok)
	assert.Equal(t, int64(1), gen)
}

func TestReportCache_RowsLoadedAcrossInvalidateAreNotServed(t *testing.T) {
	_, client := setupTestRedis(t)
	c := NewReportCache(client, time.Minute, zap.NewNop())
	ctx := context.Background()
	filter := domain.ReportFilter{}

	_, gen, ok := c.Get(ctx, domain.ReportViewCurrent, filter)
	require.False(t, ok)

	// A status change commits and invalidates while the stale rows are being loaded.
	require.NoError(t, c.Invalidate(ctx))
	stale := []domain.ReportRow{}
	c.Set(ctx, gen, domain.ReportViewCurrent, filter, stale)

	_, next, ok := c.Get(ctx, domain.ReportViewCurrent, filter)
	assert.False(t, ok, "rows loaded before the invalidation must not be served")
	assert.Equal(t, gen+1, next)
}

func TestReportCache_EntriesExpire(t *testing.T) {
	mr, client := setupTestRedis(t)
	c := NewReportCache(client, time.Second, zap.NewNop())

	ctx := context.Background()
	c.Set(ctx, 0, domain.ReportViewAudit, domain.ReportFilter{}, []domain.ReportRow{{RoomID: "A"}})
	mr.FastForward(2 * time.Second)

	_, _, ok := c.Get(ctx, domain.ReportViewAudit, domain.ReportFilter{})
	assert.False(t, ok)
}

func TestReportCache_RedisDownIsAMiss(t *testing.T) {
	mr, client := setupTestRedis(t)
	c := NewReportCache(client, time.Minute, zap.NewNop())
	mr.Close()

	_, gen, ok := c.Get(context.Background(), domain.ReportViewCurrent, domain.ReportFilter{})
	assert.False(t, ok)
	assert.Equal(t, NoGeneration, gen)
	c.Set(context.Background(), gen, domain.ReportViewCurrent, domain.ReportFilter{}, nil)
}

func TestReportCache_NilIsDisabled(t *testing.T) {
	assert.Nil(t, NewReportCache(nil, time.Minute, nil))

	var c *ReportCache
	_, _, ok := c.Get(context.Background(), domain.ReportViewCurrent, domain.ReportFilter{})
	assert.False(t, ok)
	assert.NoError(t, c.Invalidate(context.Background()))
}

func TestFilterKey(t *testing.T) {
	from := time.Date(2024, 8, 1, 0, 0, 0, 0, time.UTC)
	room := "LAB1"
	assert.Equal(t, "-|-|*", filterKey(domain.ReportFilter{}))
	assert.Equal(t, "2024-08-01T00:00:00Z|-|LAB1", filterKey(domain.ReportFilter{From: &from, RoomID: &room}))
}

func TestRedisSequencer_SeedNeverLowers(t *testing.T) {
	_, client := setupTestRedis(t)
	seq := NewRedisSequencer(client, "test:serial")
	ctx := context.Background()

	v, err := seq.Seed(ctx, 169)
	require.NoError(t, err)
	assert.EqualValues(t, 169, v)

	next, err := seq.NextSerial(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 170, next)

	v, err = seq.Seed(ctx, 5)
	require.NoError(t, err)
	assert.EqualValues(t, 170, v)

	next, err = seq.NextSerial(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 171, next)
}

func TestRedisSequencer_FlushedCounterIsNotRestarted(t *testing.T) {
	mr, client := setupTestRedis(t)
	seq := NewRedisSequencer(client, "test:serial")
	ctx := context.Background()

	_, err := seq.NextSerial(ctx)
	require.ErrorIs(t, err, repository.ErrSequencerUnseeded, "an unseeded counter must not start at 1")

	_, err = seq.Seed(ctx, 0)
	require.NoError(t, err)
	next, err := seq.NextSerial(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, next)

	mr.FlushAll()
	_, err = seq.NextSerial(ctx)
	require.ErrorIs(t, err, repository.ErrSequencerUnseeded)
	assert.False(t, mr.Exists("test:serial"))

	_, err = seq.Seed(ctx, 41)
	require.NoError(t, err)
	next, err = seq.NextSerial(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 42, next)
}

func TestRedisSequencer_ConcurrentSerialsAreUnique(t *testing.T) {
	_, client := setupTestRedis(t)
	seq := NewRedisSequencer(client, "test:serial")
	_, err := seq.Seed(context.Background(), 0)
	require.NoError(t, err)

	const workers = 50
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		seen = map[int64]bool{}
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			serial, err := seq.NextSerial(context.Background())
			assert.NoError(t, err)
			mu.Lock()
			seen[serial] = true
			mu.Unlock()
		}()
	}
	wg.Wait()
	assert.Len(t, seen, workers)
}
