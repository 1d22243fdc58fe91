// Package memory keeps per-session dialogue history: TTL-bounded,
// length-capped, and snapshotted through a pluggable Store after every
// mutation so a restart does not lose live conversations.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	apperrors "qa-agent/errors"

	"go.uber.org/zap"
)

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

const (
	infoPreviewMessages = 3
	infoPreviewChars    = 100
)

// Message is one turn of a session's dialogue.
type Message struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

type session struct {
	mu         sync.Mutex
	history    []Message
	lastAccess time.Time
	createdAt  time.Time
}

// SessionInfo describes one session for the serving layer.
type SessionInfo struct {
	SessionID      string    `json:"session_id"`
	Exists         bool      `json:"exists"`
	MessageCount   int       `json:"message_count"`
	LastAccess     time.Time `json:"last_access,omitzero"`
	HistoryPreview []Message `json:"history_preview,omitempty"`
}

// SessionSummary is one row of the session listing.
type SessionSummary struct {
	SessionID    string    `json:"session_id"`
	MessageCount int       `json:"message_count"`
	LastAccess   time.Time `json:"last_access"`
	CreatedAt    time.Time `json:"created_at"`
}

// Memory is the concurrent session map. The map mutex guards membership,
// each session carries its own lock; lock order is always map before
// session.
type Memory struct {
	ttl    time.Duration
	cap    int
	store  Store
	logger *zap.Logger

	mu       sync.RWMutex
	sessions map[string]*session
}

// New builds the session memory, restoring any snapshot the store holds.
// A failed restore starts empty rather than failing bootstrap.
func New(ttl time.Duration, historyCap int, store Store, logger *zap.Logger) *Memory {
	m := &Memory{
		ttl:      ttl,
		cap:      historyCap,
		store:    store,
		logger:   logger,
		sessions: make(map[string]*session),
	}

	if store != nil {
		snapshots, err := store.Load()
		if err != nil {
			logger.Warn("Could not restore session snapshot, starting empty", zap.Error(err))
			return m
		}
		for id, snap := range snapshots {
			m.sessions[id] = &session{
				history:    snap.History,
				lastAccess: snap.LastAccess,
				createdAt:  snap.CreatedAt,
			}
		}
		if len(m.sessions) > 0 {
			logger.Info("Restored sessions from snapshot", zap.Int("sessions", len(m.sessions)))
		}
	}
	return m
}

// AddMessage appends one turn, creating the session on first use. Expired
// sessions are purged first, the history is trimmed to the newest cap
// messages, and the snapshot is rewritten.
func (m *Memory) AddMessage(sessionID, role, content string) {
	m.purgeExpired()

	now := time.Now()

	m.mu.Lock()
	s, ok := m.sessions[sessionID]
	if !ok {
		// lastAccess is set before the session becomes visible in the map,
		// or a concurrent sweep could judge the zero value expired and drop
		// the session before its first message lands.
		s = &session{createdAt: now, lastAccess: now}
		m.sessions[sessionID] = s
	}
	m.mu.Unlock()

	s.mu.Lock()
	s.history = append(s.history, Message{Role: role, Content: content, Timestamp: now})
	if m.cap > 0 && len(s.history) > m.cap {
		s.history = append([]Message(nil), s.history[len(s.history)-m.cap:]...)
	}
	s.lastAccess = now
	s.mu.Unlock()

	m.persist()
}

// GetHistory returns a copy of the session's messages, oldest first.
// maxMessages > 0 limits the result to the newest maxMessages; zero means
// all. An unknown session yields nil.
func (m *Memory) GetHistory(sessionID string, maxMessages int) []Message {
	m.mu.RLock()
	s, ok := m.sessions[sessionID]
	m.mu.RUnlock()
	if !ok {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	history := s.history
	if maxMessages > 0 && len(history) > maxMessages {
		history = history[len(history)-maxMessages:]
	}
	return append([]Message(nil), history...)
}

// FormatHistory serializes the session history for prompt embedding.
func (m *Memory) FormatHistory(sessionID string) string {
	history := m.GetHistory(sessionID, 0)
	if len(history) == 0 {
		return "История диалога: (диалог только начался)"
	}

	lines := make([]byte, 0, 256)
	lines = append(lines, "История диалога:"...)
	for _, msg := range history {
		speaker := "Пользователь"
		if msg.Role == RoleAssistant {
			speaker = "Ассистент"
		}
		lines = append(lines, '\n')
		lines = append(lines, speaker...)
		lines = append(lines, ": "...)
		lines = append(lines, msg.Content...)
	}
	return string(lines)
}

// Clear drops the session and rewrites the snapshot.
func (m *Memory) Clear(sessionID string) error {
	m.mu.Lock()
	_, ok := m.sessions[sessionID]
	if ok {
		delete(m.sessions, sessionID)
	}
	m.mu.Unlock()

	if !ok {
		return apperrors.WrapErrorf(apperrors.ErrSessionNotFound, "session %s", sessionID)
	}
	m.persist()
	return nil
}

// Info reports the session's state with a short tail preview.
func (m *Memory) Info(sessionID string) SessionInfo {
	m.mu.RLock()
	s, ok := m.sessions[sessionID]
	m.mu.RUnlock()

	info := SessionInfo{SessionID: sessionID, Exists: ok}
	if !ok {
		return info
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	info.MessageCount = len(s.history)
	info.LastAccess = s.lastAccess

	start := len(s.history) - infoPreviewMessages
	if start < 0 {
		start = 0
	}
	for _, msg := range s.history[start:] {
		content := msg.Content
		if runes := []rune(content); len(runes) > infoPreviewChars {
			content = string(runes[:infoPreviewChars]) + "..."
		}
		info.HistoryPreview = append(info.HistoryPreview, Message{
			Role:      msg.Role,
			Content:   content,
			Timestamp: msg.Timestamp,
		})
	}
	return info
}

// List returns a summary per live session, most recently used first.
func (m *Memory) List() []SessionSummary {
	m.mu.RLock()
	defer m.mu.RUnlock()

	summaries := make([]SessionSummary, 0, len(m.sessions))
	for id, s := range m.sessions {
		s.mu.Lock()
		summaries = append(summaries, SessionSummary{
			SessionID:    id,
			MessageCount: len(s.history),
			LastAccess:   s.lastAccess,
			CreatedAt:    s.createdAt,
		})
		s.mu.Unlock()
	}
	sort.Slice(summaries, func(i, j int) bool {
		return summaries[i].LastAccess.After(summaries[j].LastAccess)
	})
	return summaries
}

// ActiveSessions reports the live session count for the health surface.
func (m *Memory) ActiveSessions() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// StartSweeper purges expired sessions on a fixed interval until the
// context is canceled, so idle sessions disappear without waiting for the
// next mutation.
func (m *Memory) StartSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if removed := m.purgeExpired(); removed > 0 {
					m.persist()
				}
			}
		}
	}()
}

// purgeExpired drops every session idle for longer than the TTL and
// returns how many were removed.
func (m *Memory) purgeExpired() int {
	if m.ttl <= 0 {
		return 0
	}
	cutoff := time.Now().Add(-m.ttl)

	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for id, s := range m.sessions {
		s.mu.Lock()
		expired := s.lastAccess.Before(cutoff)
		s.mu.Unlock()
		if expired {
			delete(m.sessions, id)
			removed++
		}
	}
	if removed > 0 {
		m.logger.Debug("Purged expired sessions", zap.Int("removed", removed))
	}
	return removed
}

// persist writes the full session map through the store. Snapshot failures
// are logged and swallowed: persistence must never break a conversation.
func (m *Memory) persist() {
	if m.store == nil {
		return
	}

	m.mu.RLock()
	snapshots := make(map[string]SessionSnapshot, len(m.sessions))
	for id, s := range m.sessions {
		s.mu.Lock()
		snapshots[id] = SessionSnapshot{
			History:    append([]Message(nil), s.history...),
			LastAccess: s.lastAccess,
			CreatedAt:  s.createdAt,
		}
		s.mu.Unlock()
	}
	m.mu.RUnlock()

	if err := m.store.Save(snapshots); err != nil {
		m.logger.Error("Failed to persist session snapshot", zap.Error(err))
	}
}
