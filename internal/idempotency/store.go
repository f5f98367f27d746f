package idempotency

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const pending = "pending"

var (
	ErrInProgress = errors.New("request with this idempotency key is still in progress")
	ErrInvalidKey = errors.New("idempotency key must be 1 to 255 characters")
)

// releaseScript deletes the key only while it still holds the pending
// marker, so a late failure never erases a completed order id.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Store remembers which order a checkout request produced, keyed by the
// client's Idempotency-Key header. The pending marker lives for pendingTTL
// only, so a request that dies before Complete frees its key soon after;
// completed keys are kept for ttl.
type Store struct {
	client     *redis.Client
	pendingTTL time.Duration
	ttl        time.Duration
}

func NewStore(client *redis.Client, pendingTTL, ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	if pendingTTL <= 0 {
		pendingTTL = 2 * time.Minute
	}
	pendingTTL = min(pendingTTL, ttl)
	return &Store{client: client, pendingTTL: pendingTTL, ttl: ttl}
}

// Claim is the result of Begin. A non-empty OrderID means the request was
// already completed and should be replayed.
type Claim struct {
	OrderID string
}

func (c Claim) Replayed() bool {
	return c.OrderID != ""
}

// Begin reserves key for scope. It returns an empty Claim when the caller
// now owns the key, the stored order id when the request already finished,
// and ErrInProgress while another request holds it.
func (s *Store) Begin(ctx context.Context, scope, key string) (Claim, error) {
	if key == "" || len(key) > 255 {
		return Claim{}, ErrInvalidKey
	}
	k := redisKey(scope, key)

	ok, err := s.client.SetNX(ctx, k, pending, s.pendingTTL).Result()
	if err != nil {
		return Claim{}, fmt.Errorf("redis setnx failed: %w", err)
	}
	if ok {
		return Claim{}, nil
	}

	val, err := s.client.Get(ctx, k).Result()
	switch {
	case errors.Is(err, redis.Nil):
		// expired between the two calls; treat as in flight and let the client retry
		return Claim{}, ErrInProgress
	case err != nil:
		return Claim{}, fmt.Errorf("redis get failed: %w", err)
	case val == pending:
		return Claim{}, ErrInProgress
	}
	return Claim{OrderID: val}, nil
}

// Complete records the order created for key.
func (s *Store) Complete(ctx context.Context, scope, key, orderID string) error {
	if err := s.client.Set(ctx, redisKey(scope, key), orderID, s.ttl).Err(); err != nil {
		return fmt.Errorf("redis set failed: %w", err)
	}
	return nil
}

// Release frees a key whose request failed so the client may try again.
func (s *Store) Release(ctx context.Context, scope, key string) error {
	if err := releaseScript.Run(ctx, s.client, []string{redisKey(scope, key)}, pending).Err(); err != nil {
		return fmt.Errorf("redis release failed: %w", err)
	}
	return nil
}

func redisKey(scope, key string) string {
	if scope == "" {
		scope = "guest"
	}
	return fmt.Sprintf("checkout:idem:%s:%s", scope, key)
}
