package sim

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/kevyamon/yely-go/internal/geo"
	"github.com/kevyamon/yely-go/internal/models"
)

// DriverPos is a driver's last published position.
type DriverPos struct {
	DriverID string
	Coord    models.Coord
	Updated  time.Time
}

// PresenceStore tracks online driver positions for offer targeting.
type PresenceStore interface {
	Upsert(ctx context.Context, pos DriverPos) error
	Nearby(ctx context.Context, at models.Coord, radiusKm float64, limit int) ([]DriverPos, error)
	Remove(ctx context.Context, driverID string) error
}

// RedisPresence implements PresenceStore on Redis GEO commands.
type RedisPresence struct {
	client *redis.Client
	key    string
}

func NewRedisPresence(addr, password, key string) *RedisPresence {
	c := redis.NewClient(&redis.Options{Addr: addr, Password: password})
	return &RedisPresence{client: c, key: key}
}

func (r *RedisPresence) Upsert(ctx context.Context, pos DriverPos) error {
	if err := r.client.GeoAdd(ctx, r.key, &redis.GeoLocation{
		Longitude: pos.Coord.Lng,
		Latitude:  pos.Coord.Lat,
		Name:      pos.DriverID,
	}).Err(); err != nil {
		return err
	}
	return r.client.HSet(ctx, metaKey(pos.DriverID), map[string]interface{}{
		"updated": pos.Updated.Format(time.RFC3339),
	}).Err()
}

func (r *RedisPresence) Nearby(ctx context.Context, at models.Coord, radiusKm float64, limit int) ([]DriverPos, error) {
	res, err := r.client.GeoRadius(ctx, r.key, at.Lng, at.Lat, &redis.GeoRadiusQuery{
		Radius:    radiusKm,
		Unit:      "km",
		WithCoord: true,
		Count:     limit,
		Sort:      "ASC",
	}).Result()
	if err != nil {
		return nil, err
	}
	out := make([]DriverPos, 0, len(res))
	for _, g := range res {
		p := DriverPos{DriverID: g.Name, Coord: models.Coord{Lat: g.Latitude, Lng: g.Longitude}}
		if m, err := r.client.HGetAll(ctx, metaKey(g.Name)).Result(); err == nil {
			if v, ok := m["updated"]; ok {
				if t, err := time.Parse(time.RFC3339, v); err == nil {
					p.Updated = t
				}
			}
		}
		out = append(out, p)
	}
	return out, nil
}

func (r *RedisPresence) Remove(ctx context.Context, driverID string) error {
	if err := r.client.ZRem(ctx, r.key, driverID).Err(); err != nil {
		return err
	}
	return r.client.Del(ctx, metaKey(driverID)).Err()
}

func metaKey(id string) string { return "driver:meta:" + id }

// MemoryPresence is the zero-dependency fallback: a naive haversine scan,
// plenty for local development.
type MemoryPresence struct {
	mu      sync.RWMutex
	drivers map[string]DriverPos
}

func NewMemoryPresence() *MemoryPresence {
	return &MemoryPresence{drivers: make(map[string]DriverPos)}
}

func (m *MemoryPresence) Upsert(_ context.Context, pos DriverPos) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if pos.Updated.IsZero() {
		pos.Updated = time.Now()
	}
	m.drivers[pos.DriverID] = pos
	return nil
}

func (m *MemoryPresence) Nearby(_ context.Context, at models.Coord, radiusKm float64, limit int) ([]DriverPos, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	type scored struct {
		p    DriverPos
		dist float64
	}
	arr := make([]scored, 0, len(m.drivers))
	for _, p := range m.drivers {
		dist := geo.DistanceKm(at, p.Coord)
		if dist > radiusKm {
			continue
		}
		arr = append(arr, scored{p, dist})
	}
	// partial selection sort for the closest N
	n := limit
	if n <= 0 || n > len(arr) {
		n = len(arr)
	}
	for i := 0; i < n; i++ {
		minIdx := i
		for j := i + 1; j < len(arr); j++ {
			if arr[j].dist < arr[minIdx].dist {
				minIdx = j
			}
		}
		arr[i], arr[minIdx] = arr[minIdx], arr[i]
	}
	out := make([]DriverPos, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, arr[i].p)
	}
	return out, nil
}

func (m *MemoryPresence) Remove(_ context.Context, driverID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.drivers, driverID)
	return nil
}
