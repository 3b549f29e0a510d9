// Package ratelimit provides Redis-backed rate limiting, adapted from
// the reference server's prekey-bundle-fetch limiter to guard against a peer
// flooding the sync protocol with REQUEST_SUBTREE or REQUEST_RECORDS
// traffic. Bounding bandwidth on pathological trees isn't a guarantee
// the Orchestrator itself makes, so this is a reasonable operator-facing
// guard sitting in front of it instead.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrRateLimited is returned when a peer exceeds its configured limit.
var ErrRateLimited = errors.New("ratelimit: limit exceeded")

// Limiter rate-limits per-peer sync traffic using Redis INCR/EXPIRE
// windows. A nil *redis.Client makes every check fail-open, so a node
// without Redis configured still runs, just without abuse protection.
type Limiter struct {
	redis *redis.Client
}

// NewLimiter wraps a redis client as a Limiter. client may be nil.
func NewLimiter(client *redis.Client) *Limiter {
	return &Limiter{redis: client}
}

// PeerSyncLimits bounds how many protocol messages of a given kind a
// single peer may send within a window.
type PeerSyncLimits struct {
	RequestSubtreeLimit  int
	RequestSubtreeWindow time.Duration
	RequestRecordsLimit  int
	RequestRecordsWindow time.Duration
}

// DefaultPeerSyncLimits returns conservative limits generous enough for
// a legitimate descent toward a few differing leaves (each costs
// O(log n) subtree requests; a peer missing the whole tree needs one per
// internal node) while still bounding a misbehaving peer.
func DefaultPeerSyncLimits() PeerSyncLimits {
	return PeerSyncLimits{
		RequestSubtreeLimit:  200,
		RequestSubtreeWindow: time.Minute,
		RequestRecordsLimit:  50,
		RequestRecordsWindow: 10 * time.Second,
	}
}

// CheckRequestSubtree rate-limits peer's REQUEST_SUBTREE traffic.
func (l *Limiter) CheckRequestSubtree(ctx context.Context, peer string, limits PeerSyncLimits) error {
	if l == nil || l.redis == nil {
		return nil
	}
	key := fmt.Sprintf("ratelimit:subtree:%s", peer)
	if err := l.checkLimit(ctx, key, limits.RequestSubtreeLimit, limits.RequestSubtreeWindow); err != nil {
		log.Printf("[RateLimit] peer %s exceeded REQUEST_SUBTREE limit", peer)
		return ErrRateLimited
	}
	return nil
}

// CheckRequestRecords rate-limits peer's REQUEST_RECORDS traffic.
func (l *Limiter) CheckRequestRecords(ctx context.Context, peer string, limits PeerSyncLimits) error {
	if l == nil || l.redis == nil {
		return nil
	}
	key := fmt.Sprintf("ratelimit:records:%s", peer)
	if err := l.checkLimit(ctx, key, limits.RequestRecordsLimit, limits.RequestRecordsWindow); err != nil {
		log.Printf("[RateLimit] peer %s exceeded REQUEST_RECORDS limit", peer)
		return ErrRateLimited
	}
	return nil
}

// checkLimit atomically increments key, arming its expiry on first
// increment, and compares against limit.
func (l *Limiter) checkLimit(ctx context.Context, key string, limit int, window time.Duration) error {
	count, err := l.redis.Incr(ctx, key).Result()
	if err != nil {
		// Fail-open on Redis errors to maintain availability.
		return nil
	}
	if count == 1 {
		l.redis.Expire(ctx, key, window)
	}
	if int(count) > limit {
		return ErrRateLimited
	}
	return nil
}

// GetRemainingRequests returns how many requests remain for the given
// key prefix and identifier within the current window.
func (l *Limiter) GetRemainingRequests(ctx context.Context, keyPrefix, identifier string, limit int) (int, error) {
	if l == nil || l.redis == nil {
		return limit, nil
	}
	key := fmt.Sprintf("%s:%s", keyPrefix, identifier)
	count, err := l.redis.Get(ctx, key).Int()
	if err == redis.Nil {
		return limit, nil
	}
	if err != nil {
		return limit, err
	}
	remaining := limit - count
	if remaining < 0 {
		remaining = 0
	}
	return remaining, nil
}
