// internal/ratelimit/redis_tracker.go
package ratelimit

import (
	"context"
	stderrors "errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// recordScript returns -1 while the cooldown is running, -2 when the day cap
// is reached, otherwise the new day count.
var recordScript = redis.NewScript(`
local last = tonumber(redis.call('GET', KEYS[1]) or '0')
local now = tonumber(ARGV[1])
if last > 0 and now - last < tonumber(ARGV[2]) then
	return -1
end
local count = tonumber(redis.call('GET', KEYS[2]) or '0')
if count >= tonumber(ARGV[3]) then
	return -2
end
redis.call('SET', KEYS[1], ARGV[1])
count = redis.call('INCR', KEYS[2])
redis.call('EXPIRE', KEYS[2], tonumber(ARGV[4]))
return count
`)

var undoScript = redis.NewScript(`
local count = tonumber(redis.call('GET', KEYS[2]) or '0')
if count > 0 then
	redis.call('DECR', KEYS[2])
end
if ARGV[1] == '0' then
	redis.call('DEL', KEYS[1])
else
	redis.call('SET', KEYS[1], ARGV[1])
end
return 1
`)

// dayKeyTTL keeps yesterday's counter around for inspection.
const dayKeyTTL = 48 * time.Hour

// RedisTracker shares rate-limit state between engine instances.
type RedisTracker struct {
	client redis.Cmdable
	prefix string
}

func NewRedisTracker(client redis.Cmdable, prefix string) *RedisTracker {
	return &RedisTracker{client: client, prefix: prefix}
}

func (r *RedisTracker) lastKey(owner string) string {
	return r.join("ratelimit:last:" + owner)
}

func (r *RedisTracker) dayKey(owner string, day int64) string {
	return r.join("ratelimit:daily:" + owner + ":" + strconv.FormatInt(day, 10))
}

func (r *RedisTracker) join(key string) string {
	if r.prefix == "" {
		return key
	}
	return r.prefix + ":" + key
}

func (r *RedisTracker) Get(ctx context.Context, owner string, day int64) (Usage, error) {
	vals, err := r.client.MGet(ctx, r.lastKey(owner), r.dayKey(owner, day)).Result()
	if err != nil {
		return Usage{}, fmt.Errorf("ratelimit get %s: %w", owner, err)
	}

	var u Usage
	if ms, ok := parseInt(vals[0]); ok && ms > 0 {
		u.LastAction = time.UnixMilli(ms).UTC()
	}
	if n, ok := parseInt(vals[1]); ok {
		u.DayCount = n
	}
	return u, nil
}

func (r *RedisTracker) Record(ctx context.Context, owner string, now time.Time, day int64, cooldown time.Duration, limit int64) (int64, error) {
	res, err := recordScript.Run(ctx, r.client,
		[]string{r.lastKey(owner), r.dayKey(owner, day)},
		now.UnixMilli(), cooldown.Milliseconds(), limit, int64(dayKeyTTL/time.Second),
	).Int64()
	if err != nil {
		return 0, fmt.Errorf("ratelimit record %s: %w", owner, err)
	}
	switch res {
	case -1:
		return 0, ErrCooldown
	case -2:
		return 0, ErrDailyCap
	}
	return res, nil
}

func (r *RedisTracker) Undo(ctx context.Context, owner string, day int64, prev time.Time) error {
	var prevMs int64
	if !prev.IsZero() {
		prevMs = prev.UnixMilli()
	}
	err := undoScript.Run(ctx, r.client,
		[]string{r.lastKey(owner), r.dayKey(owner, day)},
		strconv.FormatInt(prevMs, 10),
	).Err()
	if err != nil && !stderrors.Is(err, redis.Nil) {
		return fmt.Errorf("ratelimit undo %s: %w", owner, err)
	}
	return nil
}

func parseInt(v interface{}) (int64, bool) {
	s, ok := v.(string)
	if !ok {
		return 0, false
	}
	n, err := strconv.ParseInt(s, 10, 64)
	return n, err == nil
}
