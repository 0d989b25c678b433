package session

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"smallbiznis-cashback/pkg/errutil"
	"smallbiznis-cashback/pkg/rediskey"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
)

var ErrSessionNotFound = errutil.NotFound("checkout session not found or expired", nil)

// Session is a short-lived handle on an opened payment link. The payment link
// token itself never leaves the first request; later steps carry the session
// id instead.
type Session struct {
	ID         string    `json:"id"`
	TenantID   string    `json:"tenant_id"`
	PurchaseID string    `json:"purchase_id"`
	LinkID     string    `json:"link_id"`
	ExpiresAt  time.Time `json:"expires_at"`
}

type Store interface {
	Create(ctx context.Context, s *Session, ttl time.Duration) error
	Get(ctx context.Context, id string) (*Session, error)
	Delete(ctx context.Context, id string) error
}

type cmdable interface {
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
	Get(ctx context.Context, key string) *redis.StringCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

type redisStore struct {
	rdb cmdable
}

var Module = fx.Module("session.store",
	fx.Provide(NewRedisStore),
)

func NewRedisStore(rdb *redis.Client) Store {
	return &redisStore{rdb: rdb}
}

// Create assigns a fresh id and stores s until ttl elapses.
func (r *redisStore) Create(ctx context.Context, s *Session, ttl time.Duration) error {
	if ttl <= 0 {
		return errutil.InvalidState("session ttl must be positive", nil)
	}
	s.ID = uuid.NewString()
	s.ExpiresAt = time.Now().Add(ttl)

	b, err := json.Marshal(s)
	if err != nil {
		return err
	}
	return r.rdb.Set(ctx, rediskey.BuildCheckoutSessionKey(s.ID), b, ttl).Err()
}

func (r *redisStore) Get(ctx context.Context, id string) (*Session, error) {
	if id == "" {
		return nil, ErrSessionNotFound
	}
	b, err := r.rdb.Get(ctx, rediskey.BuildCheckoutSessionKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, err
	}

	var s Session
	if err := json.Unmarshal(b, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *redisStore) Delete(ctx context.Context, id string) error {
	return r.rdb.Del(ctx, rediskey.BuildCheckoutSessionKey(id)).Err()
}
