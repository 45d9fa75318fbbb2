package cache

import (
	"context"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/spec-kit/lab-status-service/internal/repository"
)

const unseededReply = "UNSEEDED"

// seedScript creates the counter or raises it to ARGV[1] when it is lower. It never lowers it.
var seedScript = redis.NewScript(`
local raw = redis.call('GET', KEYS[1])
local current = tonumber(raw or '0')
local floor = tonumber(ARGV[1])
if not raw or current < floor then
  redis.call('SET', KEYS[1], floor)
  return floor
end
return current
`)

// nextScript increments the counter only when it exists. A missing key means the counter
// was flushed or never seeded, and INCR would restart at 1 below the stored serials.
var nextScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
  return redis.error_reply('` + unseededReply + `')
end
return redis.call('INCR', KEYS[1])
`)

// RedisSequencer issues ticket serials from an INCR counter shared by every instance.
type RedisSequencer struct {
	client *redis.Client
	key    string
}

// NewRedisSequencer binds a sequencer to key.
func NewRedisSequencer(client *redis.Client, key string) *RedisSequencer {
	return &RedisSequencer{client: client, key: key}
}

// Seed makes sure the counter is at least floor, typically the highest serial already
// stored, and returns the resulting counter value.
func (s *RedisSequencer) Seed(ctx context.Context, floor int64) (int64, error) {
	current, err := seedScript.Run(ctx, s.client, []string{s.key}, floor).Int64()
	if err != nil {
		return 0, fmt.Errorf("seed ticket sequencer: %w", err)
	}
	return current, nil
}

// NextSerial implements repository.TicketSequencer. It returns
// repository.ErrSequencerUnseeded when the counter key is missing.
func (s *RedisSequencer) NextSerial(ctx context.Context) (int64, error) {
	serial, err := nextScript.Run(ctx, s.client, []string{s.key}).Int64()
	if err != nil {
		if strings.HasPrefix(err.Error(), unseededReply) {
			return 0, fmt.Errorf("next ticket serial: %w", repository.ErrSequencerUnseeded)
		}
		return 0, fmt.Errorf("next ticket serial: %w", err)
	}
	return serial, nil
}
