package session

import (
	"context"
	"sync"
)

// Store persists verification sessions keyed by (userID, guildID).
type Store interface {
	Put(ctx context.Context, s *Session) error
	Get(ctx context.Context, userID, guildID string) (*Session, error)
	Delete(ctx context.Context, userID, guildID string) error
	CountPending(ctx context.Context) (int, error)
	ListPending(ctx context.Context, limit int) ([]*Session, error)
}

func key(userID, guildID string) string {
	return userID + ":" + guildID
}

// MemoryStore implements Store with an in-memory map. The process owns
// all session state; there is no durability across restarts.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[string]*Session)}
}

func (s *MemoryStore) Put(_ context.Context, sess *Session) error {
	s.mu.Lock()
	s.sessions[key(sess.UserID, sess.GuildID)] = sess
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Get(_ context.Context, userID, guildID string) (*Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.sessions[key(userID, guildID)]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return sess, nil
}

func (s *MemoryStore) Delete(_ context.Context, userID, guildID string) error {
	s.mu.Lock()
	delete(s.sessions, key(userID, guildID))
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) CountPending(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for _, sess := range s.sessions {
		if sess.Status == StatusPending {
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) ListPending(_ context.Context, limit int) ([]*Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*Session
	for _, sess := range s.sessions {
		if sess.Status == StatusPending {
			result = append(result, sess)
			if len(result) >= limit {
				break
			}
		}
	}
	return result, nil
}
