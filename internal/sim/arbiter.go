package sim

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Arbiter resolves the multi-driver accept race: exactly one Claim per ride
// returns true, every later attempt false. The client never sees the
// arbitration rule, only the binary outcome.
type Arbiter interface {
	Claim(ctx context.Context, rideID, driverID string) (bool, error)
}

// RedisArbiter uses SETNX so the single-winner property holds across
// simulator replicas.
type RedisArbiter struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisArbiter(client *redis.Client, ttl time.Duration) *RedisArbiter {
	return &RedisArbiter{client: client, ttl: ttl}
}

func (a *RedisArbiter) Claim(ctx context.Context, rideID, driverID string) (bool, error) {
	return a.client.SetNX(ctx, "claim:ride:"+rideID, driverID, a.ttl).Result()
}

// MemoryArbiter is the single-process variant: one mutex, one winners map.
type MemoryArbiter struct {
	mu      sync.Mutex
	winners map[string]string
}

func NewMemoryArbiter() *MemoryArbiter {
	return &MemoryArbiter{winners: make(map[string]string)}
}

func (a *MemoryArbiter) Claim(_ context.Context, rideID, driverID string) (bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, taken := a.winners[rideID]; taken {
		return false, nil
	}
	a.winners[rideID] = driverID
	return true, nil
}
