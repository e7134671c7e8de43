package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/redis/go-redis/v9"
)

// FileStore keeps credentials in the JSON file written by the Kiro IDE.
// Keys it does not manage are preserved on save.
type FileStore struct {
	path string
}

// NewFileStore returns a store backed by path.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

type fileCredentials struct {
	AccessToken  string `json:"accessToken,omitempty"`
	RefreshToken string `json:"refreshToken,omitempty"`
	ExpiresAt    string `json:"expiresAt,omitempty"`
	ProfileArn   string `json:"profileArn,omitempty"`
	Region       string `json:"region,omitempty"`
}

// Load reads the credentials file.
func (s *FileStore) Load(_ context.Context) (Credentials, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return Credentials{}, ErrNoCredentials
	}
	if err != nil {
		return Credentials{}, fmt.Errorf("read credentials file: %w", err)
	}

	var fc fileCredentials
	if err := json.Unmarshal(data, &fc); err != nil {
		return Credentials{}, fmt.Errorf("decode credentials file: %w", err)
	}
	if fc.RefreshToken == "" {
		return Credentials{}, ErrNoCredentials
	}

	expiresAt, err := parseExpiry(fc.ExpiresAt)
	if err != nil {
		return Credentials{}, err
	}
	return Credentials{
		AccessToken:  fc.AccessToken,
		RefreshToken: fc.RefreshToken,
		ExpiresAt:    expiresAt,
		ProfileArn:   fc.ProfileArn,
		Region:       fc.Region,
	}, nil
}

// Save merges creds into the file and replaces it atomically.
func (s *FileStore) Save(_ context.Context, creds Credentials) error {
	doc := map[string]any{}
	if data, err := os.ReadFile(s.path); err == nil {
		if err := json.Unmarshal(data, &doc); err != nil {
			doc = map[string]any{}
		}
	}

	doc["accessToken"] = creds.AccessToken
	doc["refreshToken"] = creds.RefreshToken
	doc["expiresAt"] = formatExpiry(creds.ExpiresAt)
	if creds.ProfileArn != "" {
		doc["profileArn"] = creds.ProfileArn
	}
	if creds.Region != "" {
		doc["region"] = creds.Region
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal credentials: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("create directories: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("rename temp file: %w", err)
	}
	return nil
}

// RedisStore keeps credentials in a Redis hash shared with kiro-cli.
type RedisStore struct {
	rdb *redis.Client
	key string
}

// NewRedisStore returns a store for the given auth method, e.g. "social".
func NewRedisStore(rdb *redis.Client, method string) *RedisStore {
	return &RedisStore{rdb: rdb, key: fmt.Sprintf("kirocli:%s:token", method)}
}

// Key is the Redis key holding the credentials hash.
func (s *RedisStore) Key() string { return s.key }

// Load reads the credentials hash.
func (s *RedisStore) Load(ctx context.Context) (Credentials, error) {
	fields, err := s.rdb.HGetAll(ctx, s.key).Result()
	if err != nil {
		return Credentials{}, fmt.Errorf("redis hgetall %s: %w", s.key, err)
	}
	if len(fields) == 0 || fields["refresh_token"] == "" {
		return Credentials{}, ErrNoCredentials
	}

	expiresAt, err := parseExpiry(fields["expires_at"])
	if err != nil {
		return Credentials{}, err
	}
	return Credentials{
		AccessToken:  fields["access_token"],
		RefreshToken: fields["refresh_token"],
		ExpiresAt:    expiresAt,
		ProfileArn:   fields["profile_arn"],
		Region:       fields["region"],
	}, nil
}

// Save writes the hash in one transaction.
func (s *RedisStore) Save(ctx context.Context, creds Credentials) error {
	values := map[string]any{
		"access_token":  creds.AccessToken,
		"refresh_token": creds.RefreshToken,
		"expires_at":    formatExpiry(creds.ExpiresAt),
		"updated_at":    time.Now().UTC().Format(time.RFC3339),
	}
	if creds.ProfileArn != "" {
		values["profile_arn"] = creds.ProfileArn
	}
	if creds.Region != "" {
		values["region"] = creds.Region
	}

	pipe := s.rdb.TxPipeline()
	pipe.HSet(ctx, s.key, values)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis hset %s: %w", s.key, err)
	}
	return nil
}

func parseExpiry(v string) (time.Time, error) {
	if v == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse expiresAt %q: %w", v, err)
	}
	return t, nil
}

func formatExpiry(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}
