package objectplugin

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	cmap "github.com/orcaman/concurrent-map/v2"
)

// Session is one client's export context on the server. Every object the
// client can name is in the session's table; its index is the object's
// ticket. Tickets are never reused while the session lives.
type Session struct {
	id        string
	createdAt time.Time
	exports   *ReferenceTable

	mu      sync.Mutex
	closed  bool
	streams map[*GuardedStream]struct{}
}

func newSession(id string, resolver TypeResolver) *Session {
	return &Session{
		id:        id,
		createdAt: time.Now(),
		exports:   NewReferenceTable(resolver),
		streams:   make(map[*GuardedStream]struct{}),
	}
}

// ID returns the session ID.
func (s *Session) ID() string {
	return s.id
}

// CreatedAt returns when the session started.
func (s *Session) CreatedAt() time.Time {
	return s.createdAt
}

// Export returns the ticket for obj, exporting it into the session if
// needed. Objects without an object type are exported too: the client may
// still pass them back in stream messages.
func (s *Session) Export(obj any) (uint32, Reference) {
	ref, _ := s.exports.Reference(obj, AllowUnknownType())
	return uint32(ref.Index), ref
}

// Resolve returns the object exported under ticket.
func (s *Session) Resolve(ticket uint32) (any, error) {
	obj, ok := s.exports.Object(int(ticket))
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownTicket, ticket)
	}
	return obj, nil
}

// ExportCount returns the number of tickets issued.
func (s *Session) ExportCount() int {
	return s.exports.Len()
}

// attach tracks a stream so it is closed with the session. It returns
// false if the session is already closed.
func (s *Session) attach(stream *GuardedStream) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.streams[stream] = struct{}{}
	return true
}

func (s *Session) detach(stream *GuardedStream) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.streams, stream)
}

// close closes every open stream of the session.
func (s *Session) close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	streams := make([]*GuardedStream, 0, len(s.streams))
	for st := range s.streams {
		streams = append(streams, st)
	}
	s.streams = nil
	s.mu.Unlock()

	for _, st := range streams {
		st.OnClose()
	}
}

// sessionManager owns the live sessions of a server.
type sessionManager struct {
	// mu serializes create so the session cap holds under concurrent starts.
	mu          sync.Mutex
	sessions    cmap.ConcurrentMap[string, *Session]
	resolver    TypeResolver
	maxSessions int
	metrics     *Metrics
}

func newSessionManager(resolver TypeResolver, maxSessions int, metrics *Metrics) *sessionManager {
	return &sessionManager{
		sessions:    cmap.New[*Session](),
		resolver:    resolver,
		maxSessions: maxSessions,
		metrics:     metrics,
	}
}

func (m *sessionManager) create() (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.maxSessions > 0 && m.sessions.Count() >= m.maxSessions {
		return nil, fmt.Errorf("%w (max: %d)", ErrTooManySessions, m.maxSessions)
	}
	id, err := generateSessionID()
	if err != nil {
		return nil, err
	}
	sess := newSession(id, m.resolver)
	m.sessions.Set(id, sess)
	m.metrics.sessionOpened()
	return sess, nil
}

func (m *sessionManager) get(id string) (*Session, error) {
	if err := ValidateSessionID(id); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSessionNotFound, err)
	}
	sess, ok := m.sessions.Get(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return sess, nil
}

func (m *sessionManager) close(id string) error {
	sess, ok := m.sessions.Pop(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	sess.close()
	m.metrics.sessionClosed()
	return nil
}

func (m *sessionManager) closeAll() {
	for _, id := range m.sessions.Keys() {
		_ = m.close(id)
	}
}

func (m *sessionManager) count() int {
	return m.sessions.Count()
}

// generateSessionID generates a random session ID.
// Returns an error if crypto/rand.Read fails.
func generateSessionID() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate session ID: %w", err)
	}
	return "sess-" + hex.EncodeToString(b), nil
}
