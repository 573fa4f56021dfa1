package source

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// expirySkew is subtracted from a token's lifetime so we refresh slightly
// before the issuer's deadline instead of racing it.
const expirySkew = 30 * time.Second

// RefreshFunc obtains a fresh bearer token and its lifetime from the issuer.
type RefreshFunc func(ctx context.Context) (token string, expiresIn time.Duration, err error)

// TokenManager caches a bearer token and refreshes it on expiry. Adapters
// receive one as an explicit dependency; the same manager may be shared by
// all adapters of a platform. Safe for concurrent use.
type TokenManager struct {
	mu        sync.Mutex
	refresh   RefreshFunc
	token     string
	expiresAt time.Time

	now func() time.Time
}

// NewTokenManager creates a manager that lazily obtains its first token on
// the first Token call.
func NewTokenManager(refresh RefreshFunc) *TokenManager {
	return &TokenManager{
		refresh: refresh,
		now:     time.Now,
	}
}

// Token returns the cached token, refreshing it first if it is missing or
// expired.
func (m *TokenManager) Token(ctx context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.token != "" && m.now().Before(m.expiresAt) {
		return m.token, nil
	}

	token, expiresIn, err := m.refresh(ctx)
	if err != nil {
		return "", fmt.Errorf("refresh token: %w", err)
	}

	m.token = token
	m.expiresAt = m.now().Add(expiresIn - expirySkew)
	return m.token, nil
}

// Invalidate drops the cached token so the next Token call refreshes. Called
// by adapters after an authorization failure.
func (m *TokenManager) Invalidate() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.token = ""
	m.expiresAt = time.Time{}
}
