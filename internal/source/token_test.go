package source

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenManager_CachesUntilExpiry(t *testing.T) {
	calls := 0
	m := NewTokenManager(func(ctx context.Context) (string, time.Duration, error) {
		calls++
		return "tok-1", time.Hour, nil
	})

	now := time.Now()
	m.now = func() time.Time { return now }

	for i := 0; i < 3; i++ {
		tok, err := m.Token(context.Background())
		require.NoError(t, err)
		assert.Equal(t, "tok-1", tok)
	}
	assert.Equal(t, 1, calls)
}

func TestTokenManager_RefreshesAfterExpiry(t *testing.T) {
	calls := 0
	m := NewTokenManager(func(ctx context.Context) (string, time.Duration, error) {
		calls++
		return "tok", time.Hour, nil
	})

	now := time.Now()
	m.now = func() time.Time { return now }

	_, err := m.Token(context.Background())
	require.NoError(t, err)

	now = now.Add(2 * time.Hour)
	_, err = m.Token(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, calls)
}

func TestTokenManager_RefreshesWithinSkewWindow(t *testing.T) {
	calls := 0
	m := NewTokenManager(func(ctx context.Context) (string, time.Duration, error) {
		calls++
		return "tok", time.Minute, nil
	})

	now := time.Now()
	m.now = func() time.Time { return now }

	_, err := m.Token(context.Background())
	require.NoError(t, err)

	// 45s into a 60s lifetime is past the 30s skew cutoff
	now = now.Add(45 * time.Second)
	_, err = m.Token(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, calls)
}

func TestTokenManager_InvalidateForcesRefresh(t *testing.T) {
	calls := 0
	m := NewTokenManager(func(ctx context.Context) (string, time.Duration, error) {
		calls++
		return "tok", time.Hour, nil
	})

	_, err := m.Token(context.Background())
	require.NoError(t, err)

	m.Invalidate()

	_, err = m.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestTokenManager_RefreshErrorPropagates(t *testing.T) {
	refreshErr := errors.New("issuer down")
	m := NewTokenManager(func(ctx context.Context) (string, time.Duration, error) {
		return "", 0, refreshErr
	})

	_, err := m.Token(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, refreshErr)
}
