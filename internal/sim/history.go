package sim

import (
	"context"
	"database/sql"
	"errors"
	"sort"
	"sync"
	"time"

	_ "github.com/lib/pq"

	"github.com/kevyamon/yely-go/internal/models"
)

// ErrRideNotFound is returned for unknown ride ids.
var ErrRideNotFound = errors.New("ride not found")

// RideStore persists rides and serves the history endpoint.
type RideStore interface {
	Save(ctx context.Context, r *models.Ride) error
	Update(ctx context.Context, r *models.Ride) error
	Get(ctx context.Context, id string) (*models.Ride, error)
	ByUser(ctx context.Context, userID string) ([]models.Ride, error)
}

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		return nil, err
	}
	return &PostgresStore{db: db}, nil
}

func (p *PostgresStore) Close() error { return p.db.Close() }

func (p *PostgresStore) Save(ctx context.Context, r *models.Ride) error {
	_, err := p.db.ExecContext(ctx, `INSERT INTO rides(id, rider_id, rider_name, driver_id, pickup_lat, pickup_lng, dropoff_lat, dropoff_lng, dropoff_address, price, category, status, created_at, updated_at)
		VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)`,
		r.ID, r.RiderID, r.RiderName, r.DriverID, r.Pickup.Lat, r.Pickup.Lng, r.Dropoff.Lat, r.Dropoff.Lng, r.DropoffAddress, r.Price, r.Category, r.Status, r.CreatedAt, r.UpdatedAt)
	return err
}

func (p *PostgresStore) Update(ctx context.Context, r *models.Ride) error {
	_, err := p.db.ExecContext(ctx, `UPDATE rides SET driver_id=$1, status=$2, updated_at=$3 WHERE id=$4`,
		r.DriverID, r.Status, time.Now(), r.ID)
	return err
}

func (p *PostgresStore) Get(ctx context.Context, id string) (*models.Ride, error) {
	row := p.db.QueryRowContext(ctx, `SELECT id, rider_id, rider_name, driver_id, pickup_lat, pickup_lng, dropoff_lat, dropoff_lng, dropoff_address, price, category, status, created_at, updated_at FROM rides WHERE id=$1`, id)
	r, err := scanRide(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRideNotFound
	}
	return r, err
}

func (p *PostgresStore) ByUser(ctx context.Context, userID string) ([]models.Ride, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT id, rider_id, rider_name, driver_id, pickup_lat, pickup_lng, dropoff_lat, dropoff_lng, dropoff_address, price, category, status, created_at, updated_at
		FROM rides WHERE rider_id=$1 OR driver_id=$1 ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.Ride
	for rows.Next() {
		r, err := scanRide(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRide(row rowScanner) (*models.Ride, error) {
	var r models.Ride
	err := row.Scan(&r.ID, &r.RiderID, &r.RiderName, &r.DriverID,
		&r.Pickup.Lat, &r.Pickup.Lng, &r.Dropoff.Lat, &r.Dropoff.Lng, &r.DropoffAddress,
		&r.Price, &r.Category, &r.Status, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// MemoryStore is the in-process fallback used when no PG_DSN is set, and by
// the tests.
type MemoryStore struct {
	mu    sync.RWMutex
	rides map[string]models.Ride
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{rides: make(map[string]models.Ride)}
}

func (m *MemoryStore) Save(_ context.Context, r *models.Ride) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rides[r.ID] = *r
	return nil
}

func (m *MemoryStore) Update(_ context.Context, r *models.Ride) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rides[r.ID]; !ok {
		return ErrRideNotFound
	}
	r.UpdatedAt = time.Now()
	m.rides[r.ID] = *r
	return nil
}

func (m *MemoryStore) Get(_ context.Context, id string) (*models.Ride, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.rides[id]
	if !ok {
		return nil, ErrRideNotFound
	}
	return &r, nil
}

func (m *MemoryStore) ByUser(_ context.Context, userID string) ([]models.Ride, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.Ride
	for _, r := range m.rides {
		if r.RiderID == userID || r.DriverID == userID {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}
