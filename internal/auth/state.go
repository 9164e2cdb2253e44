package auth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"sync"
	"time"

	"github.com/sakif/chatcode/internal/apperror"
)

// DefaultStateTTL bounds how long a user may stay on the provider's
// consent screen before the login attempt is void.
const DefaultStateTTL = 10 * time.Minute

// stateBytes is the entropy of a state token: 256 bits.
const stateBytes = 32

// StateStore issues and checks the anti-forgery "state" values that are
// round-tripped through the OAuth redirect.
//
// WHY IS THIS NEEDED?
// Without it, an attacker could start a login with their own provider
// account, stop before the callback, and trick a victim's browser into
// finishing it. The victim would end up signed in to the attacker's
// account. A state value that only this server issued, for this provider,
// recently, and only once, closes that hole.
type StateStore interface {
	// Issue creates a fresh single-use token bound to provider.
	Issue(ctx context.Context, provider string) (string, error)

	// ValidateAndConsume checks token and invalidates it. Every failure is
	// reported as apperror.ErrInvalidState without saying which check failed.
	ValidateAndConsume(ctx context.Context, token, provider string) error
}

type stateEntry struct {
	provider string
	issuedAt time.Time
}

// MemoryStateStore is a StateStore kept in process memory.
//
// A mutex-guarded map is enough: tokens are independent, lookups are
// O(1), and nothing survives a restart, which at worst fails logins that
// were mid-flight. Expired entries are swept on Issue, so the map is
// bounded by the issue rate times the TTL.
type MemoryStateStore struct {
	mu      sync.Mutex
	entries map[string]stateEntry
	ttl     time.Duration
	now     func() time.Time
}

var _ StateStore = (*MemoryStateStore)(nil)

// NewMemoryStateStore creates a store whose tokens expire after ttl
// (DefaultStateTTL when ttl <= 0).
func NewMemoryStateStore(ttl time.Duration) *MemoryStateStore {
	if ttl <= 0 {
		ttl = DefaultStateTTL
	}
	return &MemoryStateStore{
		entries: make(map[string]stateEntry),
		ttl:     ttl,
		now:     time.Now,
	}
}

// WithClock replaces the time source. Tests use it to step past the TTL.
func (s *MemoryStateStore) WithClock(now func() time.Time) *MemoryStateStore {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
	return s
}

func (s *MemoryStateStore) Issue(ctx context.Context, provider string) (string, error) {
	if provider == "" {
		return "", fmt.Errorf("auth: issuing state: provider must not be empty")
	}

	buf := make([]byte, stateBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("auth: generating state: %w", err)
	}
	token := base64.RawURLEncoding.EncodeToString(buf)

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	s.sweepLocked(now)
	s.entries[token] = stateEntry{provider: provider, issuedAt: now}

	return token, nil
}

// ValidateAndConsume removes the entry on every lookup hit, including the
// failing ones (expired, wrong provider): a token that has been presented
// once is never accepted again.
func (s *MemoryStateStore) ValidateAndConsume(ctx context.Context, token, provider string) error {
	if token == "" {
		return apperror.OAuth(apperror.ErrInvalidState, fmt.Errorf("empty state"))
	}

	s.mu.Lock()
	entry, ok := s.entries[token]
	if ok {
		delete(s.entries, token)
	}
	now := s.now()
	s.mu.Unlock()

	switch {
	case !ok:
		return apperror.OAuth(apperror.ErrInvalidState, fmt.Errorf("unknown or consumed state"))
	case now.Sub(entry.issuedAt) > s.ttl:
		return apperror.OAuth(apperror.ErrInvalidState, fmt.Errorf("state expired"))
	case entry.provider != provider:
		return apperror.OAuth(apperror.ErrInvalidState,
			fmt.Errorf("state issued for %q, presented for %q", entry.provider, provider))
	}
	return nil
}

// Len returns the number of pending tokens, expired ones included until
// the next sweep.
func (s *MemoryStateStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

func (s *MemoryStateStore) sweepLocked(now time.Time) {
	for token, e := range s.entries {
		if now.Sub(e.issuedAt) > s.ttl {
			delete(s.entries, token)
		}
	}
}
