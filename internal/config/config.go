package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Credential sources.
const (
	SourceEnv   = "env"
	SourceFile  = "file"
	SourceRedis = "redis"
)

const (
	defaultPort            = 8000
	defaultMaxBodyBytes    = 8 << 20
	defaultRefreshInterval = time.Hour
	defaultAuthMethod      = "social"
)

// Config represents the application configuration parsed from YAML.
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Upstream    UpstreamConfig    `yaml:"upstream"`
	Credentials CredentialsConfig `yaml:"credentials"`
	Models      ModelsConfig      `yaml:"models"`
	Logging     LoggingConfig     `yaml:"logging"`
}

// ServerConfig defines listener configuration.
type ServerConfig struct {
	Port         int   `yaml:"port"`
	MaxBodyBytes int64 `yaml:"max_body_bytes"`
}

// UpstreamConfig locates the Kiro endpoints.
type UpstreamConfig struct {
	// Region overrides the region stored with the credentials.
	Region       string        `yaml:"region"`
	GenerateURL  string        `yaml:"generate_url"`
	RefreshURL   string        `yaml:"refresh_url"`
	ModelsURL    string        `yaml:"models_url"`
	Headers      Headers       `yaml:"headers"`
	MaxRetries   int           `yaml:"max_retries"`
	RetryBackoff time.Duration `yaml:"retry_backoff"`
}

// Headers contains additional HTTP headers to send with upstream requests.
type Headers map[string]string

// CredentialsConfig says where the refresh token lives.
type CredentialsConfig struct {
	Source       string      `yaml:"source"`
	File         string      `yaml:"file"`
	RefreshToken string      `yaml:"refresh_token"`
	ProfileArn   string      `yaml:"profile_arn"`
	Redis        RedisConfig `yaml:"redis"`
}

// RedisConfig points at the kiro-cli token hash.
type RedisConfig struct {
	Addr       string `yaml:"addr"`
	Password   string `yaml:"password"`
	DB         int    `yaml:"db"`
	AuthMethod string `yaml:"auth_method"`
}

// ModelsConfig controls the model catalogue.
type ModelsConfig struct {
	RefreshInterval time.Duration     `yaml:"refresh_interval"`
	Aliases         map[string]string `yaml:"aliases"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Server:  ServerConfig{Port: defaultPort, MaxBodyBytes: defaultMaxBodyBytes},
		Models:  ModelsConfig{RefreshInterval: defaultRefreshInterval},
		Logging: LoggingConfig{Level: "info", Format: "text"},
	}
}

// Load reads YAML configuration from disk, applies environment overrides and
// validates the result. An empty path starts from Default.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		absPath, err := filepath.Abs(path)
		if err != nil {
			return Config{}, fmt.Errorf("resolve config path: %w", err)
		}

		data, err := os.ReadFile(absPath)
		if err != nil {
			return Config{}, fmt.Errorf("read config file %q: %w", absPath, err)
		}

		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config file %q: %w", absPath, err)
		}
	}

	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return Config{}, err
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LoadDotEnv loads KEY=VALUE pairs into the process environment without
// overriding variables that are already set. A missing default .env is fine.
func LoadDotEnv(path string) error {
	if path == "" {
		if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load .env: %w", err)
		}
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("load env file %q: %w", path, err)
	}
	return nil
}

// ApplyEnv overlays environment variables on the configuration.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	if v, ok := lookup("REFRESH_TOKEN"); ok && v != "" {
		c.Credentials.RefreshToken = v
	}
	if v, ok := lookup("PROFILE_ARN"); ok && v != "" {
		c.Credentials.ProfileArn = v
	}
	if v, ok := lookup("KIRO_CREDS_FILE"); ok && v != "" {
		c.Credentials.File = v
	}
	if v, ok := lookup("REDIS_ADDR"); ok && v != "" {
		c.Credentials.Redis.Addr = v
	}
	if v, ok := lookup("KIRO_REGION"); ok && v != "" {
		c.Upstream.Region = v
	}
	if v, ok := lookup("LOG_LEVEL"); ok && v != "" {
		c.Logging.Level = v
	}
	if v, ok := lookup("PORT"); ok && v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("PORT must be an integer, got %q", v)
		}
		c.Server.Port = port
	}
	return nil
}

// CredentialSource resolves which store backs the token manager. An explicit
// source wins; otherwise Redis, then a credentials file, then a bare token.
func (c Config) CredentialSource() string {
	if c.Credentials.Source != "" {
		return c.Credentials.Source
	}
	switch {
	case c.Credentials.Redis.Addr != "":
		return SourceRedis
	case c.Credentials.File != "":
		return SourceFile
	default:
		return SourceEnv
	}
}

// RedisAuthMethod is the kiro-cli auth method segment of the Redis key.
func (c Config) RedisAuthMethod() string {
	if c.Credentials.Redis.AuthMethod == "" {
		return defaultAuthMethod
	}
	return c.Credentials.Redis.AuthMethod
}

// Validate performs strict sanity checks on the configuration.
func (c Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be a valid TCP port, got %d", c.Server.Port)
	}
	if c.Server.MaxBodyBytes < 0 {
		return fmt.Errorf("server.max_body_bytes must not be negative, got %d", c.Server.MaxBodyBytes)
	}

	for headerKey := range c.Upstream.Headers {
		if !isCanonicalHTTPHeader(headerKey) {
			return fmt.Errorf("upstream: header %q is not a valid canonical HTTP header", headerKey)
		}
	}

	switch c.CredentialSource() {
	case SourceEnv:
		if strings.TrimSpace(c.Credentials.RefreshToken) == "" {
			return errors.New("credentials: refresh_token (or REFRESH_TOKEN) must be provided")
		}
	case SourceFile:
		if strings.TrimSpace(c.Credentials.File) == "" {
			return errors.New("credentials: file (or KIRO_CREDS_FILE) must be provided")
		}
	case SourceRedis:
		if strings.TrimSpace(c.Credentials.Redis.Addr) == "" {
			return errors.New("credentials: redis.addr (or REDIS_ADDR) must be provided")
		}
	default:
		return fmt.Errorf("credentials: source %q must be one of %q, %q or %q",
			c.Credentials.Source, SourceEnv, SourceFile, SourceRedis)
	}

	if c.Models.RefreshInterval < 0 {
		return fmt.Errorf("models.refresh_interval must not be negative, got %s", c.Models.RefreshInterval)
	}
	for alias, target := range c.Models.Aliases {
		if strings.TrimSpace(alias) == "" {
			return errors.New("models: alias name must not be empty")
		}
		if strings.TrimSpace(target) == "" {
			return fmt.Errorf("models: alias %q target must not be empty", alias)
		}
	}

	return c.Logging.Validate()
}

func isCanonicalHTTPHeader(header string) bool {
	if header == "" {
		return false
	}

	for _, r := range header {
		if !(r == '-' || (r >= 'A' && r <= 'Z') || (r >= 'a' && r <= 'z')) {
			return false
		}
	}
	return true
}
