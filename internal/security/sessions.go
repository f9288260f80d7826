package security

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"sync"
	"time"
)

// Session is one logged in admin.
type Session struct {
	ID        string
	Username  string
	CreatedAt time.Time
	ExpiresAt time.Time
}

// Sessions keeps admin sessions in memory. A restart logs everyone out.
type Sessions struct {
	ttl time.Duration
	now func() time.Time

	mu       sync.Mutex
	sessions map[string]Session
	onEnd    func(id string)
}

func NewSessions(ttl time.Duration) *Sessions {
	return &Sessions{ttl: ttl, now: time.Now, sessions: map[string]Session{}}
}

// OnEnd registers fn to run when a session is removed or found expired.
func (s *Sessions) OnEnd(fn func(id string)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onEnd = fn
}

func (s *Sessions) Create(username string) (Session, error) {
	token, err := randomToken()
	if err != nil {
		return Session{}, err
	}
	now := s.now()
	sess := Session{ID: token, Username: username, CreatedAt: now, ExpiresAt: now.Add(s.ttl)}

	s.mu.Lock()
	s.sessions[token] = sess
	s.mu.Unlock()
	return sess, nil
}

// Get returns a live session and slides its expiry forward.
func (s *Sessions) Get(id string) (Session, bool) {
	if id == "" {
		return Session{}, false
	}
	s.mu.Lock()
	sess, ok := s.sessions[id]
	if !ok {
		s.mu.Unlock()
		return Session{}, false
	}
	now := s.now()
	if !now.Before(sess.ExpiresAt) {
		delete(s.sessions, id)
		fn := s.onEnd
		s.mu.Unlock()
		if fn != nil {
			fn(id)
		}
		return Session{}, false
	}
	sess.ExpiresAt = now.Add(s.ttl)
	s.sessions[id] = sess
	s.mu.Unlock()
	return sess, true
}

func (s *Sessions) Delete(id string) {
	s.mu.Lock()
	_, ok := s.sessions[id]
	delete(s.sessions, id)
	fn := s.onEnd
	s.mu.Unlock()
	if ok && fn != nil {
		fn(id)
	}
}

// Prune drops expired sessions and returns how many were removed.
func (s *Sessions) Prune() int {
	now := s.now()
	s.mu.Lock()
	var expired []string
	for id, sess := range s.sessions {
		if !now.Before(sess.ExpiresAt) {
			expired = append(expired, id)
			delete(s.sessions, id)
		}
	}
	fn := s.onEnd
	s.mu.Unlock()
	if fn != nil {
		for _, id := range expired {
			fn(id)
		}
	}
	return len(expired)
}

// ConstantTimeEqual compares two secrets without leaking their prefix.
func ConstantTimeEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

func randomToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
