package auth

import (
	"context"
	"errors"
	"time"
)

// ErrNoCredentials indicates the store holds nothing usable.
var ErrNoCredentials = errors.New("no credentials stored")

// Credentials is the persisted token state for one upstream account.
type Credentials struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
	ProfileArn   string
	Region       string
}

// Token is the result of a successful refresh exchange.
type Token struct {
	AccessToken  string
	RefreshToken string
	ProfileArn   string
	ExpiresIn    time.Duration
}

// Refresher exchanges a refresh token for a new access token.
type Refresher interface {
	Refresh(ctx context.Context, refreshToken string) (Token, error)
}

// Store persists credentials between restarts.
type Store interface {
	Load(ctx context.Context) (Credentials, error)
	Save(ctx context.Context, creds Credentials) error
}

// RefreshError wraps any failure of the refresh exchange.
type RefreshError struct {
	Err error
}

func (e *RefreshError) Error() string {
	return "token refresh failed: " + e.Err.Error()
}

func (e *RefreshError) Unwrap() error { return e.Err }
