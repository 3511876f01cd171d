package sim

import "testing"

func TestHubZoneMembership(t *testing.T) {
	h := NewHub(nil)

	if !h.Join("drivers", "d1") {
		t.Fatal("first join must be new")
	}
	if h.Join("drivers", "d1") {
		t.Fatal("rejoin must not count as new")
	}
	if !h.InZone("drivers", "d1") {
		t.Fatal("membership lost")
	}

	if !h.Leave("drivers", "d1") {
		t.Fatal("leave of a member must report true")
	}
	if h.Leave("drivers", "d1") {
		t.Fatal("second leave must be a no-op")
	}
	if h.Leave("riders", "d1") {
		t.Fatal("leaving a pool never joined must be a no-op")
	}
	if h.InZone("drivers", "d1") {
		t.Fatal("still a member after leave")
	}
}

func TestHubSendToAbsentUserIsNoop(t *testing.T) {
	h := NewHub(nil)
	h.SendUser("ghost", "evt", map[string]int{"n": 1}) // must not panic
	h.BroadcastZone("drivers", "", "evt", nil)
}

func TestHubSendZoneMembersSkipsOutsiders(t *testing.T) {
	h := NewHub(nil)
	h.Join("drivers", "d1")
	// d1 has no registered connection, so SendUser is a silent no-op, but
	// the zone filter still counts it as targeted
	sent := h.SendZoneMembers("drivers", []string{"d1", "d2"}, "evt", nil)
	if sent != 1 {
		t.Fatalf("expected 1 targeted member, got %d", sent)
	}
}
