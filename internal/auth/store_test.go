package auth_test

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kiro-gateway/internal/auth"
)

func TestFileStore_LoadIDEFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "kiro-auth-token.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"accessToken": "at",
		"refreshToken": "rt",
		"expiresAt": "2099-01-01T00:00:00.000Z",
		"profileArn": "arn:aws:codewhisperer:us-east-1:1:profile/X",
		"region": "us-east-1",
		"authMethod": "social"
	}`), 0o600))

	creds, err := auth.NewFileStore(path).Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "at", creds.AccessToken)
	assert.Equal(t, "rt", creds.RefreshToken)
	assert.Equal(t, 2099, creds.ExpiresAt.Year())
	assert.Equal(t, "us-east-1", creds.Region)
}

func TestFileStore_SavePreservesUnknownKeys(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "creds.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"refreshToken":"rt","authMethod":"social"}`), 0o600))

	store := auth.NewFileStore(path)
	expires := time.Date(2030, 5, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, store.Save(context.Background(), auth.Credentials{
		AccessToken:  "at2",
		RefreshToken: "rt2",
		ExpiresAt:    expires,
	}))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var doc map[string]any
	require.NoError(t, json.Unmarshal(data, &doc))
	assert.Equal(t, "social", doc["authMethod"])
	assert.Equal(t, "rt2", doc["refreshToken"])

	creds, err := store.Load(context.Background())
	require.NoError(t, err)
	assert.True(t, expires.Equal(creds.ExpiresAt))
}

func TestFileStore_Missing(t *testing.T) {
	t.Parallel()

	_, err := auth.NewFileStore(filepath.Join(t.TempDir(), "nope.json")).Load(context.Background())
	assert.ErrorIs(t, err, auth.ErrNoCredentials)
}

func newRedis(t *testing.T) *redis.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return rdb
}

func TestRedisStore_RoundTrip(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	rdb := newRedis(t)
	store := auth.NewRedisStore(rdb, "social")
	assert.Equal(t, "kirocli:social:token", store.Key())

	_, err := store.Load(ctx)
	require.ErrorIs(t, err, auth.ErrNoCredentials)

	expires := time.Date(2030, 1, 2, 3, 4, 5, 0, time.UTC)
	require.NoError(t, store.Save(ctx, auth.Credentials{
		AccessToken:  "at",
		RefreshToken: "rt",
		ExpiresAt:    expires,
		ProfileArn:   "arn:p",
		Region:       "eu-central-1",
	}))

	assert.Equal(t, "rt", rdb.HGet(ctx, store.Key(), "refresh_token").Val())

	creds, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, "at", creds.AccessToken)
	assert.Equal(t, "arn:p", creds.ProfileArn)
	assert.Equal(t, "eu-central-1", creds.Region)
	assert.True(t, expires.Equal(creds.ExpiresAt))
}

func TestRedisStore_ManagerWritesBack(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := auth.NewRedisStore(newRedis(t), "social")
	require.NoError(t, store.Save(ctx, auth.Credentials{RefreshToken: "rt"}))

	initial, err := store.Load(ctx)
	require.NoError(t, err)

	ref := &fakeRefresher{token: auth.Token{AccessToken: "at", RefreshToken: "rt-next", ExpiresIn: time.Hour}}
	m, err := auth.NewManager(initial, ref, auth.WithStore(store))
	require.NoError(t, err)

	tok, err := m.Token(ctx)
	require.NoError(t, err)
	assert.Equal(t, "at", tok)

	creds, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, "rt-next", creds.RefreshToken)
}
