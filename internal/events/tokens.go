package events

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"tableside/internal/domain"
)

// TokenManager issues the short-lived credentials board displays connect
// with. Tokens are renewable in-band so a display can outlive the TTL
// without dropping its connection.
type TokenManager struct {
	ttl time.Duration

	mu     sync.Mutex
	tokens map[uuid.UUID]boardToken
	now    func() time.Time
}

type boardToken struct {
	role      domain.Role
	expiresAt time.Time
}

func NewTokenManager(ttl time.Duration) *TokenManager {
	return &TokenManager{ttl: ttl, tokens: map[uuid.UUID]boardToken{}, now: time.Now}
}

// Issue mints a token for a staff display. Customers never get one.
func (m *TokenManager) Issue(role domain.Role) (uuid.UUID, time.Time, error) {
	if !role.Staff() {
		return uuid.Nil, time.Time{}, domain.ErrUnauthorized
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gcLocked()

	tok := uuid.New()
	exp := m.now().Add(m.ttl)
	m.tokens[tok] = boardToken{role: role, expiresAt: exp}
	return tok, exp, nil
}

// Validate returns the role behind a live token.
func (m *TokenManager) Validate(tok uuid.UUID) (domain.Role, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tokens[tok]
	if !ok || m.now().After(t.expiresAt) {
		delete(m.tokens, tok)
		return "", domain.E(domain.KindUnauthorized, "board token expired or unknown")
	}
	return t.role, nil
}

// Renew swaps a live token for a fresh one, invalidating the old.
func (m *TokenManager) Renew(tok uuid.UUID) (uuid.UUID, time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tokens[tok]
	if !ok || m.now().After(t.expiresAt) {
		delete(m.tokens, tok)
		return uuid.Nil, time.Time{}, domain.E(domain.KindUnauthorized, "board token expired or unknown")
	}
	delete(m.tokens, tok)

	fresh := uuid.New()
	exp := m.now().Add(m.ttl)
	m.tokens[fresh] = boardToken{role: t.role, expiresAt: exp}
	return fresh, exp, nil
}

func (m *TokenManager) gcLocked() {
	now := m.now()
	for tok, t := range m.tokens {
		if now.After(t.expiresAt) {
			delete(m.tokens, tok)
		}
	}
}
