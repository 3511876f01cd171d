package geo

import (
	"math"
	"sync"

	"github.com/kevyamon/yely-go/internal/models"
)

// Feed holds the latest coordinate observed from the platform's geolocation
// provider. The core only ever consumes the most recent fix and an error
// flag; history is not kept. The embedding app pumps the provider's stream
// into Update/Fail.
type Feed struct {
	mu       sync.Mutex
	last     models.Coord
	has      bool
	err      error
	watchers map[int]func(models.Coord)
	nextID   int
}

func NewFeed() *Feed {
	return &Feed{watchers: make(map[int]func(models.Coord))}
}

// Update records a new fix and clears any provider error. Watchers fire on
// every update so deferred transitions can retry as soon as a fix exists.
func (f *Feed) Update(c models.Coord) {
	f.mu.Lock()
	f.last = c
	f.has = true
	f.err = nil
	fns := make([]func(models.Coord), 0, len(f.watchers))
	for _, fn := range f.watchers {
		fns = append(fns, fn)
	}
	f.mu.Unlock()
	for _, fn := range fns {
		fn(c)
	}
}

// Fail records a provider error (permission denied, no signal). The last
// known fix, if any, remains usable.
func (f *Feed) Fail(err error) {
	f.mu.Lock()
	f.err = err
	f.mu.Unlock()
}

// Last returns the most recent fix and whether one has ever been observed.
func (f *Feed) Last() (models.Coord, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.last, f.has
}

// Err returns the last provider error, nil after a successful fix.
func (f *Feed) Err() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.err
}

// Watch registers fn to run on every subsequent fix. The returned cancel
// func is safe to call more than once.
func (f *Feed) Watch(fn func(models.Coord)) (cancel func()) {
	f.mu.Lock()
	id := f.nextID
	f.nextID++
	f.watchers[id] = fn
	f.mu.Unlock()
	return func() {
		f.mu.Lock()
		delete(f.watchers, id)
		f.mu.Unlock()
	}
}

// Haversine distance in meters
func Haversine(lat1, lng1, lat2, lng2 float64) float64 {
	const R = 6371000.0
	dLat := (lat2 - lat1) * math.Pi / 180
	dLng := (lng2 - lng1) * math.Pi / 180
	a := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(lat1*math.Pi/180)*math.Cos(lat2*math.Pi/180)*math.Sin(dLng/2)*math.Sin(dLng/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return R * c
}

// DistanceKm is Haversine between two coords in kilometers.
func DistanceKm(a, b models.Coord) float64 {
	return Haversine(a.Lat, a.Lng, b.Lat, b.Lng) / 1000
}

// EstimateSeconds is a naive pickup ETA: distance / speed_mps. Display value
// only; routing-engine accuracy is out of scope for the client.
func EstimateSeconds(from, to models.Coord, speedMps float64) float64 {
	if speedMps <= 0 {
		speedMps = 8.0 // ~28.8 km/h default city speed
	}
	return Haversine(from.Lat, from.Lng, to.Lat, to.Lng) / speedMps
}
