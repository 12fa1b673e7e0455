package server

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

var errAlreadyAuthenticated = errors.New("session already authenticated")

// Session is the live in-memory record of one connection. Username is set
// exactly once, by the authentication handshake, and is non-empty iff the
// session is authenticated.
type Session struct {
	id   string
	conn *websocket.Conn
	send chan []byte
	done chan struct{}

	mu            sync.Mutex
	authenticated bool
	username      string
	lastActive    time.Time

	closeOnce sync.Once
}

func newSession(conn *websocket.Conn) *Session {
	return &Session{
		id:         sessionID(),
		conn:       conn,
		send:       make(chan []byte, 64),
		done:       make(chan struct{}),
		lastActive: time.Now(),
	}
}

func (s *Session) ID() string { return s.id }

// Username returns the authenticated identity, or ("", false) for a session
// that has not completed the handshake.
func (s *Session) Username() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.username, s.authenticated
}

func (s *Session) touch() {
	s.mu.Lock()
	s.lastActive = time.Now()
	s.mu.Unlock()
}

// trySend queues an encoded frame without blocking. A full queue or a closed
// session counts as a delivery failure.
func (s *Session) trySend(data []byte) bool {
	select {
	case <-s.done:
		return false
	default:
	}
	select {
	case s.send <- data:
		return true
	default:
		return false
	}
}

// close signals the write pump to stop and closes the underlying connection.
// Safe to call more than once.
func (s *Session) close() {
	s.closeOnce.Do(func() {
		close(s.done)
		if s.conn != nil {
			s.conn.Close()
		}
	})
}

func sessionID() string {
	buf := make([]byte, 8)
	rand.Read(buf)
	return hex.EncodeToString(buf)
}

// Registry is the set of live sessions. It is owned by the Server instance
// and passed to whatever needs it; there is no process-wide session set.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*Session)}
}

// Admit creates a session for a fresh, unauthenticated connection.
func (r *Registry) Admit(conn *websocket.Conn) *Session {
	sess := newSession(conn)
	r.mu.Lock()
	r.sessions[sess.id] = sess
	r.mu.Unlock()
	return sess
}

// MarkAuthenticated flips a session to authenticated. A second call for the
// same session is an error, never a re-authentication.
func (r *Registry) MarkAuthenticated(sess *Session, username string) error {
	sess.mu.Lock()
	defer sess.mu.Unlock()
	if sess.authenticated {
		return errAlreadyAuthenticated
	}
	sess.authenticated = true
	sess.username = username
	return nil
}

// Remove takes a session out of the registry and closes it. It is idempotent
// and reports whether this call performed the removal.
func (r *Registry) Remove(sess *Session) bool {
	r.mu.Lock()
	_, ok := r.sessions[sess.id]
	if ok {
		delete(r.sessions, sess.id)
	}
	r.mu.Unlock()

	sess.close()
	return ok
}

// Snapshot returns a point-in-time copy of the session set, safe to iterate
// while the registry mutates concurrently.
func (r *Registry) Snapshot() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sessions := make([]*Session, 0, len(r.sessions))
	for _, sess := range r.sessions {
		sessions = append(sessions, sess)
	}
	return sessions
}

// Get finds the live session of an authenticated username.
func (r *Registry) Get(username string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, sess := range r.sessions {
		if name, ok := sess.Username(); ok && name == username {
			return sess, true
		}
	}
	return nil, false
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
