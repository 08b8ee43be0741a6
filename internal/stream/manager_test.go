package stream

import (
	"testing"

	"github.com/google/uuid"

	"github.com/zsiec/vdec/internal/session"
)

func TestManagerCreateAndGet(t *testing.T) {
	t.Parallel()
	m := NewManager(nil)

	s, ok := m.Create("test-stream")
	if !ok {
		t.Fatal("Create returned not-ok for new stream")
	}
	if s.Key != "test-stream" {
		t.Errorf("key: got %q, want %q", s.Key, "test-stream")
	}
	if s.StartedAt.IsZero() {
		t.Error("StartedAt should not be zero")
	}
	if _, err := uuid.Parse(s.ID); err != nil {
		t.Errorf("ID %q is not a UUID: %v", s.ID, err)
	}

	got, ok := m.Get("test-stream")
	if !ok || got != s {
		t.Error("Get should return the created stream")
	}
}

func TestManagerCreateDuplicate(t *testing.T) {
	t.Parallel()
	m := NewManager(nil)

	first, ok1 := m.Create("test")
	if !ok1 {
		t.Fatal("first Create should succeed")
	}
	s2, ok2 := m.Create("test")
	if ok2 {
		t.Error("duplicate Create should return false")
	}
	if s2 != nil {
		t.Error("duplicate Create should return nil stream")
	}

	m.Remove("test")
	again, ok := m.Create("test")
	if !ok {
		t.Fatal("Create after Remove should succeed")
	}
	if again.ID == first.ID {
		t.Error("recreated stream reused its ID")
	}
}

func TestManagerRemove(t *testing.T) {
	t.Parallel()
	m := NewManager(nil)

	s, _ := m.Create("test")
	m.Remove("test")
	if len(m.List()) != 0 {
		t.Errorf("count after remove: got %d, want 0", len(m.List()))
	}
	select {
	case <-s.Done():
	default:
		t.Error("Done not closed after Remove")
	}
	// Should not panic
	m.Remove("test")
	m.Remove("nonexistent")
}

func TestManagerListSorted(t *testing.T) {
	t.Parallel()
	m := NewManager(nil)

	for _, k := range []string{"stream-c", "stream-a", "stream-b"} {
		m.Create(k)
	}
	streams := m.List()
	if len(streams) != 3 {
		t.Fatalf("expected 3 streams, got %d", len(streams))
	}
	for i, want := range []string{"stream-a", "stream-b", "stream-c"} {
		if streams[i].Key != want {
			t.Errorf("streams[%d] = %q, want %q", i, streams[i].Key, want)
		}
	}
}

func TestManagerAttach(t *testing.T) {
	t.Parallel()
	m := NewManager(nil)

	if m.Attach("missing", session.New("missing", session.DefaultConfig())) {
		t.Error("Attach to unknown key should fail")
	}

	s, _ := m.Create("cam1")
	if info := s.Info(); info.Session != nil {
		t.Error("Info has a session before Attach")
	}
	sess := session.New("cam1", session.DefaultConfig())
	if !m.Attach("cam1", sess) {
		t.Fatal("Attach failed")
	}
	if s.Session() != sess {
		t.Error("Session() does not return the attached session")
	}
	info := s.Info()
	if info.Session == nil || info.Session.Key != "cam1" {
		t.Errorf("Info.Session = %+v", info.Session)
	}
	if info.ID != s.ID {
		t.Errorf("Info.ID = %q, want %q", info.ID, s.ID)
	}
}
