package playback

import "testing"

func TestAllocateForReusesExistingUUID(t *testing.T) {
	r := NewRegistry()
	s1 := r.AllocateFor("apple-1", "uuid-1", "http://localhost:8080")
	s2 := r.AllocateFor("apple-1", "uuid-1", "http://localhost:8080")
	if s1 != s2 {
		t.Fatalf("expected AllocateFor to reuse the session for a known uuid")
	}
}

func TestAllocateForFillsFreeSlotsBeforeEvicting(t *testing.T) {
	r := NewRegistry()
	var sessions []*Session
	for i := 0; i < MaxSessions; i++ {
		s := r.AllocateFor("apple", uuidFor(i), "http://localhost:8080")
		sessions = append(sessions, s)
	}
	for i, s := range sessions {
		if idx, ok := r.FindByUUID(s.PlaybackUUID); !ok || idx != i {
			t.Fatalf("expected session %d to remain at slot %d", i, i)
		}
	}
}

func TestAllocateForEvictsNextSlotWhenFull(t *testing.T) {
	r := NewRegistry()
	for i := 0; i < MaxSessions; i++ {
		r.AllocateFor("apple", uuidFor(i), "http://localhost:8080")
	}
	// current is now MaxSessions-1; the next allocation should evict slot 0.
	r.AllocateFor("apple", "uuid-new", "http://localhost:8080")
	if _, ok := r.FindByUUID(uuidFor(0)); ok {
		t.Fatalf("expected slot 0 to have been evicted")
	}
	if _, ok := r.FindByUUID("uuid-new"); !ok {
		t.Fatalf("expected the new session to be present")
	}
}

func TestCurrentReflectsMostRecentAllocation(t *testing.T) {
	r := NewRegistry()
	if _, ok := r.Current(); ok {
		t.Fatalf("expected no current session on an empty registry")
	}
	s := r.AllocateFor("apple", "uuid-a", "http://localhost:8080")
	cur, ok := r.Current()
	if !ok || cur != s {
		t.Fatalf("expected Current to return the just-allocated session")
	}
}

func TestShortSessionEvictionOnNewPlay(t *testing.T) {
	r := NewRegistry()
	s := r.AllocateFor("apple", "ad-uuid", "http://localhost:8080")
	s.StoreMediaPlaylist("seg1", "#EXTM3U", 1, 3.0) // below MinStoredSeconds

	r.AllocateFor("apple", "new-uuid", "http://localhost:8080")
	if _, ok := r.FindByUUID("ad-uuid"); ok {
		t.Fatalf("expected short session to be purged on next /play")
	}
}

func TestDestroyRemovesSession(t *testing.T) {
	r := NewRegistry()
	r.AllocateFor("apple", "uuid-1", "http://localhost:8080")
	r.Destroy("uuid-1")
	if _, ok := r.FindByUUID("uuid-1"); ok {
		t.Fatalf("expected session to be destroyed")
	}
	if _, ok := r.Current(); ok {
		t.Fatalf("expected no current session after destroying the active one")
	}
}

func uuidFor(i int) string {
	return string(rune('a'+i)) + "-uuid"
}
