package alerting

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
)

// CooldownStore tracks the last alert time per device. Implementations must
// be safe for concurrent use; the decision engine is the only writer.
type CooldownStore interface {
	// Last returns the device's last alert time and whether one is recorded.
	Last(ctx context.Context, deviceID string) (time.Time, bool, error)
	// Mark records an emitted alert at t.
	Mark(ctx context.Context, deviceID string, t time.Time) error
}

// MemoryCooldownStore keeps cooldown state in process memory. State is lost
// on restart, which simply re-arms every device.
type MemoryCooldownStore struct {
	mu   sync.RWMutex
	last map[string]time.Time
}

// NewMemoryCooldownStore returns an empty in-memory store.
func NewMemoryCooldownStore() *MemoryCooldownStore {
	return &MemoryCooldownStore{last: make(map[string]time.Time)}
}

// Last implements CooldownStore.
func (s *MemoryCooldownStore) Last(_ context.Context, deviceID string) (time.Time, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.last[deviceID]
	return t, ok, nil
}

// Mark implements CooldownStore.
func (s *MemoryCooldownStore) Mark(_ context.Context, deviceID string, t time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.last[deviceID] = t
	return nil
}

const cooldownKeyPrefix = "pdm:cooldown:"

// RedisCooldownStore persists cooldown state in Redis so suppression
// survives process restarts. Entries expire after the cooldown window, so a
// missing key simply means the device is armed again.
type RedisCooldownStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisCooldownStore wraps an existing client. ttl should be the
// configured cooldown window.
func NewRedisCooldownStore(client *redis.Client, ttl time.Duration) *RedisCooldownStore {
	return &RedisCooldownStore{client: client, ttl: ttl}
}

// Last implements CooldownStore.
func (s *RedisCooldownStore) Last(ctx context.Context, deviceID string) (time.Time, bool, error) {
	val, err := s.client.Get(ctx, cooldownKeyPrefix+deviceID).Result()
	if err == redis.Nil {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("cooldown get %s: %w", deviceID, err)
	}
	t, err := time.Parse(time.RFC3339Nano, val)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("cooldown parse %s: %w", deviceID, err)
	}
	return t, true, nil
}

// Mark implements CooldownStore.
func (s *RedisCooldownStore) Mark(ctx context.Context, deviceID string, t time.Time) error {
	err := s.client.Set(ctx, cooldownKeyPrefix+deviceID, t.Format(time.RFC3339Nano), s.ttl).Err()
	if err != nil {
		return fmt.Errorf("cooldown set %s: %w", deviceID, err)
	}
	return nil
}
