package sequence

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

type fakeCounter struct {
	values  map[string]int64
	expires map[string]time.Duration
	err     error
}

func (f *fakeCounter) Incr(ctx context.Context, key string) *redis.IntCmd {
	if f.err != nil {
		return redis.NewIntResult(0, f.err)
	}
	f.values[key]++
	return redis.NewIntResult(f.values[key], nil)
}

func (f *fakeCounter) Expire(ctx context.Context, key string, expiration time.Duration) *redis.BoolCmd {
	f.expires[key] = expiration
	return redis.NewBoolResult(true, nil)
}

func TestNextCardCode(t *testing.T) {
	fc := &fakeCounter{values: map[string]int64{}, expires: map[string]time.Duration{}}
	now := time.Date(2026, 10, 19, 18, 0, 0, 0, time.UTC)
	g := &RedisGenerator{rdb: fc, now: func() time.Time { return now }}

	first, err := g.NextCardCode(context.Background(), "tenant-1")
	require.NoError(t, err)
	require.Regexp(t, regexp.MustCompile(`^CRD-261019-001[A-Z2-9]{2}$`), first)

	second, err := g.NextCardCode(context.Background(), "tenant-1")
	require.NoError(t, err)
	require.Regexp(t, regexp.MustCompile(`^CRD-261019-002[A-Z2-9]{2}$`), second)

	key := "seq:CRD:tenant-1:261019"
	require.Equal(t, int64(2), fc.values[key])
	require.Equal(t, 6*time.Hour, fc.expires[key])
}

func TestNextPurchaseCodeError(t *testing.T) {
	fc := &fakeCounter{values: map[string]int64{}, expires: map[string]time.Duration{}, err: errors.New("redis down")}
	g := &RedisGenerator{rdb: fc, now: time.Now}

	_, err := g.NextPurchaseCode(context.Background(), "tenant-1")
	require.Error(t, err)
}
