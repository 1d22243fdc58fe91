package memory

import (
	"fmt"
	"path/filepath"
	"strings"
	"testing"
	"time"

	apperrors "qa-agent/errors"

	"go.uber.org/zap"
)

func newTestMemory(t *testing.T, ttl time.Duration, cap int) *Memory {
	t.Helper()
	logger, _ := zap.NewDevelopment()
	return New(ttl, cap, nil, logger)
}

func TestAddMessageAndGetHistory(t *testing.T) {
	m := newTestMemory(t, time.Hour, 10)

	m.AddMessage("s1", RoleUser, "Привет")
	m.AddMessage("s1", RoleAssistant, "Здравствуйте! Чем могу помочь?")

	history := m.GetHistory("s1", 0)
	if len(history) != 2 {
		t.Fatalf("history = %d messages, want 2", len(history))
	}
	if history[0].Role != RoleUser || history[0].Content != "Привет" {
		t.Errorf("first message = %+v", history[0])
	}
	if history[1].Role != RoleAssistant {
		t.Errorf("second message role = %s, want %s", history[1].Role, RoleAssistant)
	}
	if history[0].Timestamp.IsZero() {
		t.Error("messages must carry timestamps")
	}

	if got := m.GetHistory("missing", 0); got != nil {
		t.Errorf("unknown session history = %v, want nil", got)
	}
}

func TestGetHistoryLimitsToNewest(t *testing.T) {
	m := newTestMemory(t, time.Hour, 0)
	for i := 0; i < 6; i++ {
		m.AddMessage("s1", RoleUser, fmt.Sprintf("сообщение %d", i))
	}

	history := m.GetHistory("s1", 2)
	if len(history) != 2 {
		t.Fatalf("history = %d messages, want 2", len(history))
	}
	if history[0].Content != "сообщение 4" || history[1].Content != "сообщение 5" {
		t.Errorf("expected the two newest messages, got %+v", history)
	}
}

func TestCapKeepsNewestMessages(t *testing.T) {
	m := newTestMemory(t, time.Hour, 4)
	for i := 0; i < 10; i++ {
		m.AddMessage("s1", RoleUser, fmt.Sprintf("сообщение %d", i))
	}

	history := m.GetHistory("s1", 0)
	if len(history) != 4 {
		t.Fatalf("history = %d messages, want cap of 4", len(history))
	}
	if history[0].Content != "сообщение 6" || history[3].Content != "сообщение 9" {
		t.Errorf("cap should retain the newest messages, got %+v", history)
	}
}

func TestTTLPurgeOnMutation(t *testing.T) {
	m := newTestMemory(t, 50*time.Millisecond, 10)

	m.AddMessage("stale", RoleUser, "старое сообщение")
	time.Sleep(80 * time.Millisecond)

	// Any mutation purges expired sessions first.
	m.AddMessage("fresh", RoleUser, "новое сообщение")

	if got := m.GetHistory("stale", 0); got != nil {
		t.Errorf("expired session should be purged, got %v", got)
	}
	if got := m.GetHistory("fresh", 0); len(got) != 1 {
		t.Errorf("fresh session history = %v, want 1 message", got)
	}
}

func TestTTLKeepsActiveSessions(t *testing.T) {
	m := newTestMemory(t, time.Hour, 10)
	m.AddMessage("s1", RoleUser, "вопрос")
	m.AddMessage("s2", RoleUser, "другой вопрос")

	if m.ActiveSessions() != 2 {
		t.Errorf("active sessions = %d, want 2", m.ActiveSessions())
	}
}

func TestSweepNeverDropsNewbornSessions(t *testing.T) {
	m := newTestMemory(t, 50*time.Millisecond, 10)

	// Hammer the purge path while sessions are being created: a session must
	// be born with a fresh lastAccess, or a concurrent sweep could reap it
	// before its first message lands.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 10000; i++ {
			m.purgeExpired()
		}
	}()

	const sessions = 200
	for i := 0; i < sessions; i++ {
		m.AddMessage(fmt.Sprintf("s%d", i), RoleUser, "первое сообщение")
	}
	<-done

	if got := m.ActiveSessions(); got != sessions {
		t.Fatalf("active sessions = %d, want %d (fresh sessions swept)", got, sessions)
	}
	for i := 0; i < sessions; i++ {
		if history := m.GetHistory(fmt.Sprintf("s%d", i), 0); len(history) != 1 {
			t.Fatalf("session s%d history = %d messages, want 1", i, len(history))
		}
	}
}

func TestFormatHistory(t *testing.T) {
	m := newTestMemory(t, time.Hour, 10)

	if got := m.FormatHistory("empty"); got != "История диалога: (диалог только начался)" {
		t.Errorf("empty history = %q", got)
	}

	m.AddMessage("s1", RoleUser, "Где офисы?")
	m.AddMessage("s1", RoleAssistant, "В Москве и Воронеже.")

	got := m.FormatHistory("s1")
	want := "История диалога:\nПользователь: Где офисы?\nАссистент: В Москве и Воронеже."
	if got != want {
		t.Errorf("FormatHistory = %q, want %q", got, want)
	}
}

func TestClear(t *testing.T) {
	m := newTestMemory(t, time.Hour, 10)
	m.AddMessage("s1", RoleUser, "вопрос")

	if err := m.Clear("s1"); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if got := m.GetHistory("s1", 0); got != nil {
		t.Errorf("cleared session history = %v, want nil", got)
	}

	err := m.Clear("s1")
	if !apperrors.IsSessionNotFound(err) {
		t.Errorf("Clear on missing session = %v, want ErrSessionNotFound", err)
	}
}

func TestInfo(t *testing.T) {
	m := newTestMemory(t, time.Hour, 10)

	if info := m.Info("missing"); info.Exists {
		t.Error("missing session should not exist")
	}

	long := strings.Repeat("д", 150)
	for i := 0; i < 5; i++ {
		m.AddMessage("s1", RoleUser, long)
	}

	info := m.Info("s1")
	if !info.Exists || info.MessageCount != 5 {
		t.Errorf("info = %+v, want 5 messages", info)
	}
	if len(info.HistoryPreview) != 3 {
		t.Fatalf("preview = %d messages, want 3", len(info.HistoryPreview))
	}
	for _, msg := range info.HistoryPreview {
		if n := len([]rune(msg.Content)); n != 103 {
			t.Errorf("preview content = %d runes, want 100 plus ellipsis", n)
		}
	}
}

func TestListSortedByLastAccess(t *testing.T) {
	m := newTestMemory(t, time.Hour, 10)
	m.AddMessage("older", RoleUser, "первый")
	time.Sleep(5 * time.Millisecond)
	m.AddMessage("newer", RoleUser, "второй")

	list := m.List()
	if len(list) != 2 {
		t.Fatalf("list = %d sessions, want 2", len(list))
	}
	if list[0].SessionID != "newer" {
		t.Errorf("list order = %s first, want newer", list[0].SessionID)
	}
	if list[0].MessageCount != 1 || list[0].CreatedAt.IsZero() {
		t.Errorf("summary = %+v", list[0])
	}
}

func TestFileStoreRoundTrip(t *testing.T) {
	logger, _ := zap.NewDevelopment()
	path := filepath.Join(t.TempDir(), "sessions", "chat_sessions.json")
	store := NewFileStore(path, time.Hour)

	m := New(time.Hour, 10, store, logger)
	m.AddMessage("s1", RoleUser, "Где офисы?")
	m.AddMessage("s1", RoleAssistant, "В Москве.")
	m.AddMessage("s2", RoleUser, "Привет")

	restored := New(time.Hour, 10, NewFileStore(path, time.Hour), logger)
	if restored.ActiveSessions() != 2 {
		t.Fatalf("restored sessions = %d, want 2", restored.ActiveSessions())
	}
	history := restored.GetHistory("s1", 0)
	if len(history) != 2 || history[0].Content != "Где офисы?" {
		t.Errorf("restored history = %+v", history)
	}
}

func TestFileStoreFiltersExpiredOnLoad(t *testing.T) {
	logger, _ := zap.NewDevelopment()
	path := filepath.Join(t.TempDir(), "chat_sessions.json")

	m := New(time.Hour, 10, NewFileStore(path, time.Hour), logger)
	m.AddMessage("s1", RoleUser, "сообщение")

	// Reload with a zero-window TTL: everything on disk is already expired.
	restored := New(time.Nanosecond, 10, NewFileStore(path, time.Nanosecond), logger)
	if restored.ActiveSessions() != 0 {
		t.Errorf("restored sessions = %d, want 0 after TTL filter", restored.ActiveSessions())
	}
}

func TestFileStoreMissingFileIsEmpty(t *testing.T) {
	store := NewFileStore(filepath.Join(t.TempDir(), "missing.json"), time.Hour)
	snapshots, err := store.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(snapshots) != 0 {
		t.Errorf("snapshots = %d, want 0", len(snapshots))
	}
}

func TestClearPersistsRemoval(t *testing.T) {
	logger, _ := zap.NewDevelopment()
	path := filepath.Join(t.TempDir(), "chat_sessions.json")

	m := New(time.Hour, 10, NewFileStore(path, time.Hour), logger)
	m.AddMessage("s1", RoleUser, "вопрос")
	m.AddMessage("s2", RoleUser, "вопрос")
	if err := m.Clear("s1"); err != nil {
		t.Fatalf("Clear: %v", err)
	}

	restored := New(time.Hour, 10, NewFileStore(path, time.Hour), logger)
	if restored.ActiveSessions() != 1 {
		t.Errorf("restored sessions = %d, want 1 after clear", restored.ActiveSessions())
	}
	if got := restored.GetHistory("s1", 0); got != nil {
		t.Errorf("cleared session survived restart: %v", got)
	}
}
