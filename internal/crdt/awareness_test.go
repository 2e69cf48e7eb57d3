package crdt

import "testing"

func TestAwarenessSetAndStates(t *testing.T) {
	aw := NewAwareness()
	aw.Set("conn-1", PresenceState{"user": "ada", "color": "#ff0000"})
	aw.Set("conn-2", PresenceState{"user": "grace", "color": "#00ff00"})

	states := aw.States()
	if len(states) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(states))
	}
	if states["conn-1"]["user"] != "ada" {
		t.Errorf("expected conn-1 user ada, got %v", states["conn-1"]["user"])
	}
}

func TestAwarenessEntriesPairClockWithState(t *testing.T) {
	aw := NewAwareness()
	aw.Set("conn-1", PresenceState{"user": "ada"})
	aw.Set("conn-1", PresenceState{"user": "ada", "color": "#00ff00"})
	aw.Set("conn-2", PresenceState{"user": "grace"})

	entries := aw.Entries()
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	first := entries["conn-1"]
	if first.Clock != 2 || first.State["color"] != "#00ff00" {
		t.Errorf("expected clock 2 paired with the latest state, got %+v", first)
	}
	if entries["conn-2"].Clock != 1 {
		t.Errorf("expected clock 1 for conn-2, got %d", entries["conn-2"].Clock)
	}
}

func TestAwarenessLastWriterWins(t *testing.T) {
	aw := NewAwareness()

	if !aw.Apply("conn-1", 2, PresenceState{"color": "new"}) {
		t.Fatal("expected apply with clock 2 to succeed")
	}
	if aw.Apply("conn-1", 1, PresenceState{"color": "stale"}) {
		t.Fatal("expected stale clock 1 to be ignored")
	}
	if got := aw.States()["conn-1"]["color"]; got != "new" {
		t.Errorf("expected color new, got %v", got)
	}

	// Equal clock is accepted: the later arrival wins.
	if !aw.Apply("conn-1", 2, PresenceState{"color": "tied"}) {
		t.Fatal("expected apply with equal clock to succeed")
	}
}

func TestAwarenessRetraction(t *testing.T) {
	aw := NewAwareness()
	aw.Set("conn-1", PresenceState{"user": "ada"})

	clock, ok := aw.Clear("conn-1")
	if !ok {
		t.Fatal("expected Clear to report a retraction")
	}
	if clock == 0 {
		t.Error("expected a non-zero retraction clock")
	}
	if len(aw.States()) != 0 {
		t.Errorf("expected no entries after retraction, got %d", len(aw.States()))
	}

	if _, ok := aw.Clear("conn-1"); ok {
		t.Error("expected second Clear to be a no-op")
	}
}

func TestAwarenessApplyNilRetracts(t *testing.T) {
	aw := NewAwareness()
	aw.Apply("conn-9", 1, PresenceState{"user": "alan"})

	if !aw.Apply("conn-9", 2, nil) {
		t.Fatal("expected nil state to retract the entry")
	}
	if len(aw.States()) != 0 {
		t.Errorf("expected no entries, got %d", len(aw.States()))
	}
	if aw.Apply("conn-9", 3, nil) {
		t.Error("expected retraction of absent entry to be a no-op")
	}
}
