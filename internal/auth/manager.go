package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

const (
	// DefaultRefreshMargin is how long before expiry a token is treated as stale.
	DefaultRefreshMargin  = 5 * time.Minute
	defaultRefreshTimeout = 30 * time.Second
	refreshKey            = "refresh"
)

var (
	errEmptyAccessToken = errors.New("refresh returned an empty access token")
	errAlreadyExpired   = errors.New("refresh returned an already expired token")
)

// Manager hands out valid access tokens, refreshing at most once at a time.
type Manager struct {
	refresher Refresher
	store     Store
	margin    time.Duration
	timeout   time.Duration
	now       func() time.Time

	mu    sync.RWMutex
	creds Credentials

	group singleflight.Group
}

// Option customises a Manager.
type Option func(*Manager)

// WithStore persists refreshed credentials to s.
func WithStore(s Store) Option {
	return func(m *Manager) { m.store = s }
}

// WithRefreshMargin overrides DefaultRefreshMargin.
func WithRefreshMargin(d time.Duration) Option {
	return func(m *Manager) { m.margin = d }
}

// WithRefreshTimeout bounds a single refresh exchange.
func WithRefreshTimeout(d time.Duration) Option {
	return func(m *Manager) { m.timeout = d }
}

// WithProfileArn supplies a profile for stores that do not record one.
func WithProfileArn(arn string) Option {
	return func(m *Manager) {
		if m.creds.ProfileArn == "" {
			m.creds.ProfileArn = arn
		}
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// NewManager builds a manager seeded with initial credentials.
func NewManager(initial Credentials, refresher Refresher, opts ...Option) (*Manager, error) {
	if refresher == nil {
		return nil, errors.New("auth: refresher is required")
	}
	if initial.RefreshToken == "" {
		return nil, fmt.Errorf("auth: %w: refresh token missing", ErrNoCredentials)
	}

	m := &Manager{
		refresher: refresher,
		margin:    DefaultRefreshMargin,
		timeout:   defaultRefreshTimeout,
		now:       time.Now,
		creds:     initial,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Token returns an access token valid for at least the refresh margin,
// refreshing first when needed. Concurrent callers share one refresh.
// Cancelling ctx abandons the wait but not the refresh itself.
func (m *Manager) Token(ctx context.Context) (string, error) {
	if tok, ok := m.valid(); ok {
		return tok, nil
	}

	ch := m.group.DoChan(refreshKey, func() (any, error) {
		return m.refresh(ctx)
	})

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	}
}

// Invalidate marks token as stale so the next Token call refreshes. It is
// a no-op when the manager has already moved past token.
func (m *Manager) Invalidate(token string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.creds.AccessToken == token {
		m.creds.ExpiresAt = time.Time{}
	}
}

// Credentials returns a snapshot of the current state.
func (m *Manager) Credentials() Credentials {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.creds
}

// ProfileArn returns the profile the current token belongs to.
func (m *Manager) ProfileArn() string {
	return m.Credentials().ProfileArn
}

func (m *Manager) valid() (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.creds.AccessToken == "" {
		return "", false
	}
	if !m.now().Add(m.margin).Before(m.creds.ExpiresAt) {
		return "", false
	}
	return m.creds.AccessToken, true
}

func (m *Manager) refresh(parent context.Context) (string, error) {
	// a previous flight may have finished between valid() and DoChan
	if tok, ok := m.valid(); ok {
		return tok, nil
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(parent), m.timeout)
	defer cancel()

	m.mu.RLock()
	refreshToken := m.creds.RefreshToken
	m.mu.RUnlock()

	start := m.now()
	tok, err := m.refresher.Refresh(ctx, refreshToken)
	if err != nil {
		slog.Error("token refresh failed", "err", err)
		return "", &RefreshError{Err: err}
	}
	if tok.AccessToken == "" {
		return "", &RefreshError{Err: errEmptyAccessToken}
	}
	expiresAt := start.Add(tok.ExpiresIn)
	if !expiresAt.After(m.now()) {
		return "", &RefreshError{Err: errAlreadyExpired}
	}

	m.mu.Lock()
	m.creds.AccessToken = tok.AccessToken
	m.creds.ExpiresAt = expiresAt
	if tok.RefreshToken != "" {
		m.creds.RefreshToken = tok.RefreshToken
	}
	if tok.ProfileArn != "" {
		m.creds.ProfileArn = tok.ProfileArn
	}
	snapshot := m.creds
	m.mu.Unlock()

	slog.Info("token refreshed", "expires_at", expiresAt.UTC().Format(time.RFC3339))

	if m.store != nil {
		if err := m.store.Save(ctx, snapshot); err != nil {
			slog.Warn("persist refreshed credentials", "err", err)
		}
	}
	return tok.AccessToken, nil
}
