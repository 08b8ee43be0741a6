// Package stream tracks live decoder sessions by stream key, enforcing a
// single session per key.
package stream

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/zsiec/vdec/internal/session"
)

// Stream is a live decoder session registered under a key.
type Stream struct {
	Key       string
	ID        string
	StartedAt time.Time
	done      chan struct{}

	mu      sync.RWMutex
	session *session.Session
}

// Session returns the attached session, or nil before Attach.
func (s *Stream) Session() *session.Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.session
}

// Done is closed when the stream is removed.
func (s *Stream) Done() <-chan struct{} {
	return s.done
}

// Info is the JSON view of a stream.
type Info struct {
	Key       string            `json:"key"`
	ID        string            `json:"id"`
	StartedAt time.Time         `json:"startedAt"`
	Session   *session.Snapshot `json:"session,omitempty"`
}

// Info returns a snapshot of the stream and its session.
func (s *Stream) Info() Info {
	info := Info{Key: s.Key, ID: s.ID, StartedAt: s.StartedAt}
	if sess := s.Session(); sess != nil {
		snap := sess.Snapshot()
		info.Session = &snap
	}
	return info
}

// Manager manages the lifecycle of active streams.
type Manager struct {
	log     *slog.Logger
	mu      sync.RWMutex
	streams map[string]*Stream
}

// NewManager creates a new stream manager. If log is nil, slog.Default() is used.
func NewManager(log *slog.Logger) *Manager {
	if log == nil {
		log = slog.Default()
	}
	return &Manager{
		log:     log.With("component", "stream-manager"),
		streams: make(map[string]*Stream),
	}
}

// Create registers a new stream. Returns the stream and true if created,
// or nil and false if a stream with this key already exists.
func (m *Manager) Create(key string) (*Stream, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.streams[key]; ok {
		m.log.Warn("stream already exists, rejecting duplicate", "key", key)
		return nil, false
	}

	s := &Stream{
		Key:       key,
		ID:        uuid.NewString(),
		StartedAt: time.Now(),
		done:      make(chan struct{}),
	}

	m.streams[key] = s
	m.log.Info("stream created", "key", key, "id", s.ID)
	return s, true
}

// Attach binds a decoder session to an existing stream. It reports false
// if no stream has this key.
func (m *Manager) Attach(key string, sess *session.Session) bool {
	s, ok := m.Get(key)
	if !ok {
		return false
	}
	s.mu.Lock()
	s.session = sess
	s.mu.Unlock()
	return true
}

// Get returns the stream for key.
func (m *Manager) Get(key string) (*Stream, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.streams[key]
	return s, ok
}

// Remove removes a stream from the manager.
func (m *Manager) Remove(key string) {
	m.mu.Lock()
	s, ok := m.streams[key]
	if ok {
		delete(m.streams, key)
	}
	m.mu.Unlock()

	if ok {
		close(s.done)
		m.log.Info("stream removed", "key", key, "id", s.ID)
	}
}

// List returns all active streams ordered by key.
func (m *Manager) List() []*Stream {
	m.mu.RLock()
	defer m.mu.RUnlock()

	streams := make([]*Stream, 0, len(m.streams))
	for _, s := range m.streams {
		streams = append(streams, s)
	}
	sort.Slice(streams, func(i, j int) bool { return streams[i].Key < streams[j].Key })
	return streams
}
