package memory

import (
	"testing"
	"time"

	"go.uber.org/zap"
)

func newMemoryBadgerStore(t *testing.T, ttl time.Duration) *BadgerStore {
	t.Helper()
	store, err := NewBadgerStore("", true, ttl)
	if err != nil {
		t.Fatalf("NewBadgerStore: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestBadgerStoreRoundTrip(t *testing.T) {
	logger, _ := zap.NewDevelopment()
	store := newMemoryBadgerStore(t, time.Hour)

	m := New(time.Hour, 10, store, logger)
	m.AddMessage("s1", RoleUser, "Где офисы?")
	m.AddMessage("s1", RoleAssistant, "В Москве.")
	m.AddMessage("s2", RoleUser, "Привет")

	snapshots, err := store.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(snapshots) != 2 {
		t.Fatalf("snapshots = %d, want 2", len(snapshots))
	}
	if len(snapshots["s1"].History) != 2 {
		t.Errorf("s1 history = %d messages, want 2", len(snapshots["s1"].History))
	}
	if snapshots["s2"].History[0].Content != "Привет" {
		t.Errorf("s2 history = %+v", snapshots["s2"].History)
	}
	if snapshots["s1"].LastAccess.IsZero() {
		t.Error("snapshot must carry last access time")
	}
}

func TestBadgerStoreSaveRemovesClearedSessions(t *testing.T) {
	logger, _ := zap.NewDevelopment()
	store := newMemoryBadgerStore(t, time.Hour)

	m := New(time.Hour, 10, store, logger)
	m.AddMessage("s1", RoleUser, "вопрос")
	m.AddMessage("s2", RoleUser, "вопрос")
	if err := m.Clear("s1"); err != nil {
		t.Fatalf("Clear: %v", err)
	}

	snapshots, err := store.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(snapshots) != 1 {
		t.Fatalf("snapshots = %d, want 1 after clear", len(snapshots))
	}
	if _, ok := snapshots["s2"]; !ok {
		t.Error("surviving session s2 missing from store")
	}
}

func TestBadgerStoreEntryTTL(t *testing.T) {
	store := newMemoryBadgerStore(t, 50*time.Millisecond)

	err := store.Save(map[string]SessionSnapshot{
		"s1": {
			History:    []Message{{Role: RoleUser, Content: "вопрос", Timestamp: time.Now()}},
			LastAccess: time.Now(),
		},
	})
	if err != nil {
		t.Fatalf("Save: %v", err)
	}

	time.Sleep(80 * time.Millisecond)

	snapshots, err := store.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(snapshots) != 0 {
		t.Errorf("snapshots = %d, want 0 after entry TTL", len(snapshots))
	}
}
