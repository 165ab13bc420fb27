// ABOUTME: One-shot stream tokens issued by the control endpoint
// ABOUTME: Tokens expire after a TTL and are consumed by the first stream that uses them
package server

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

type tokenStore struct {
	mu     sync.Mutex
	ttl    time.Duration
	tokens map[string]time.Time
	now    func() time.Time
}

func newTokenStore(ttl time.Duration) *tokenStore {
	return &tokenStore{
		ttl:    ttl,
		tokens: make(map[string]time.Time),
		now:    time.Now,
	}
}

// issue creates a token and returns it with its expiry
func (s *tokenStore) issue() (string, time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	for token, expires := range s.tokens {
		if now.After(expires) {
			delete(s.tokens, token)
		}
	}

	token := uuid.New().String()
	expires := now.Add(s.ttl)
	s.tokens[token] = expires
	return token, expires
}

// consume validates and removes token
func (s *tokenStore) consume(token string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	expires, ok := s.tokens[token]
	if !ok {
		return false
	}
	delete(s.tokens, token)
	return !s.now().After(expires)
}

func (s *tokenStore) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tokens)
}
