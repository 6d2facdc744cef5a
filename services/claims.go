package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// ClaimStore hands out short-lived exclusive claims so overlapping sweeps do not
// mail the same subject for the same missed period at the same time.
type ClaimStore interface {
	TryClaim(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key string) error
}

// ClaimKey identifies one missed period of one subject.
func ClaimKey(userID string, lastCheckIn int64) string {
	return fmt.Sprintf("alert:claim:%s:%d", userID, lastCheckIn)
}

type claimEntry struct {
	expiresAt time.Time
}

// MemoryClaimStore is a single-process ClaimStore.
type MemoryClaimStore struct {
	mu      sync.Mutex
	entries map[string]claimEntry
	now     func() time.Time
}

func NewMemoryClaimStore() *MemoryClaimStore {
	return &MemoryClaimStore{entries: map[string]claimEntry{}, now: time.Now}
}

func (m *MemoryClaimStore) TryClaim(_ context.Context, key string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	for k, e := range m.entries {
		if now.After(e.expiresAt) {
			delete(m.entries, k)
		}
	}
	if _, ok := m.entries[key]; ok {
		return false, nil
	}
	m.entries[key] = claimEntry{expiresAt: now.Add(ttl)}
	return true, nil
}

func (m *MemoryClaimStore) Release(_ context.Context, key string) error {
	m.mu.Lock()
	delete(m.entries, key)
	m.mu.Unlock()
	return nil
}

// RedisClaimStore shares claims across processes with SETNX. When redis is
// unreachable it degrades to the in-memory store instead of blocking alerts.
type RedisClaimStore struct {
	rc       *redis.Client
	fallback *MemoryClaimStore
	log      *zap.Logger
}

func NewRedisClaimStore(rc *redis.Client, log *zap.Logger) *RedisClaimStore {
	if log == nil {
		log = zap.NewNop()
	}
	return &RedisClaimStore{rc: rc, fallback: NewMemoryClaimStore(), log: log}
}

func (r *RedisClaimStore) TryClaim(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	cctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	ok, err := r.rc.SetNX(cctx, key, "1", ttl).Result()
	if err != nil {
		r.log.Warn("redis claim failed, using in-memory claim", zap.String("key", key), zap.Error(err))
		return r.fallback.TryClaim(ctx, key, ttl)
	}
	return ok, nil
}

func (r *RedisClaimStore) Release(ctx context.Context, key string) error {
	_ = r.fallback.Release(ctx, key)
	cctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return r.rc.Del(cctx, key).Err()
}

// NewClaimStore returns a redis backed store when rc is set, otherwise an in-memory one.
func NewClaimStore(rc *redis.Client, log *zap.Logger) ClaimStore {
	if rc == nil {
		return NewMemoryClaimStore()
	}
	return NewRedisClaimStore(rc, log)
}
