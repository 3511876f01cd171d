package sim

import (
	"context"
	"testing"

	"github.com/kevyamon/yely-go/internal/models"
)

func TestMemoryPresenceNearbyOrderingAndRadius(t *testing.T) {
	p := NewMemoryPresence()
	ctx := context.Background()
	pickup := models.Coord{Lat: 5.35, Lng: -4.03}

	_ = p.Upsert(ctx, DriverPos{DriverID: "near", Coord: models.Coord{Lat: 5.351, Lng: -4.031}})
	_ = p.Upsert(ctx, DriverPos{DriverID: "mid", Coord: models.Coord{Lat: 5.37, Lng: -4.05}})
	_ = p.Upsert(ctx, DriverPos{DriverID: "far", Coord: models.Coord{Lat: 6.50, Lng: -5.00}}) // ~170km out

	got, err := p.Nearby(ctx, pickup, 10, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("radius filter broken, got %d drivers", len(got))
	}
	if got[0].DriverID != "near" || got[1].DriverID != "mid" {
		t.Fatalf("not sorted by distance: %s, %s", got[0].DriverID, got[1].DriverID)
	}
}

func TestMemoryPresenceLimit(t *testing.T) {
	p := NewMemoryPresence()
	ctx := context.Background()
	for _, id := range []string{"a", "b", "c"} {
		_ = p.Upsert(ctx, DriverPos{DriverID: id, Coord: models.Coord{Lat: 5.35, Lng: -4.03}})
	}
	got, err := p.Nearby(ctx, models.Coord{Lat: 5.35, Lng: -4.03}, 10, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("limit ignored, got %d", len(got))
	}
}

func TestMemoryPresenceUpsertAndRemove(t *testing.T) {
	p := NewMemoryPresence()
	ctx := context.Background()
	at := models.Coord{Lat: 5.35, Lng: -4.03}

	_ = p.Upsert(ctx, DriverPos{DriverID: "d1", Coord: at})
	_ = p.Upsert(ctx, DriverPos{DriverID: "d1", Coord: models.Coord{Lat: 5.36, Lng: -4.03}})

	got, _ := p.Nearby(ctx, at, 10, 10)
	if len(got) != 1 {
		t.Fatalf("upsert duplicated the driver: %d entries", len(got))
	}
	if got[0].Coord.Lat != 5.36 {
		t.Fatalf("position not updated: %+v", got[0].Coord)
	}

	_ = p.Remove(ctx, "d1")
	got, _ = p.Nearby(ctx, at, 10, 10)
	if len(got) != 0 {
		t.Fatal("driver still present after remove")
	}
}
