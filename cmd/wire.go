package cmd

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"kiro-gateway/internal/auth"
	"kiro-gateway/internal/config"
	"kiro-gateway/internal/models"
	"kiro-gateway/internal/provider"
	"kiro-gateway/internal/provider/kiro"
	"kiro-gateway/internal/router"
	"kiro-gateway/internal/translator"
)

// app holds the wired dependency graph shared by the commands.
type app struct {
	client  *kiro.Client
	tokens  *auth.Manager
	cache   *models.Cache
	models  *models.Refresher
	router  *router.Router
	closers []func() error
}

func (a *app) Close() {
	for _, fn := range a.closers {
		_ = fn()
	}
}

func buildApp(ctx context.Context, cfg config.Config) (*app, error) {
	a := &app{}

	creds, store, err := a.loadCredentials(ctx, cfg)
	if err != nil {
		a.Close()
		return nil, err
	}

	// An explicit upstream region wins over the one recorded at login.
	if cfg.Upstream.Region != "" {
		creds.Region = cfg.Upstream.Region
	}

	client, err := kiro.New(kiro.Config{
		Region:       creds.Region,
		GenerateURL:  cfg.Upstream.GenerateURL,
		RefreshURL:   cfg.Upstream.RefreshURL,
		ModelsURL:    cfg.Upstream.ModelsURL,
		Headers:      cfg.Upstream.Headers,
		MaxRetries:   cfg.Upstream.MaxRetries,
		RetryBackoff: cfg.Upstream.RetryBackoff,
	}, provider.NewHTTPClient(0))
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("initialise kiro client: %w", err)
	}
	a.client = client
	creds.Region = client.Region()

	opts := []auth.Option{auth.WithProfileArn(cfg.Credentials.ProfileArn)}
	if store != nil {
		opts = append(opts, auth.WithStore(store))
	}
	a.tokens, err = auth.NewManager(creds, client, opts...)
	if err != nil {
		a.Close()
		return nil, err
	}

	a.cache = models.NewCache()
	a.models, err = models.NewRefresher(a.cache, kiro.NewModelSource(client, a.tokens), cfg.Models.RefreshInterval)
	if err != nil {
		a.Close()
		return nil, err
	}

	a.router, err = router.New(a.cache, a.tokens, client, translator.NewModelMapper(cfg.Models.Aliases))
	if err != nil {
		a.Close()
		return nil, err
	}
	slog.Debug("upstream configured", "region", client.Region(), "source", cfg.CredentialSource())
	return a, nil
}

// loadCredentials reads the initial credentials and returns the store that
// rotated tokens are written back to. Environment credentials have no store.
func (a *app) loadCredentials(ctx context.Context, cfg config.Config) (auth.Credentials, auth.Store, error) {
	var store auth.Store

	switch cfg.CredentialSource() {
	case config.SourceRedis:
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Credentials.Redis.Addr,
			Password: cfg.Credentials.Redis.Password,
			DB:       cfg.Credentials.Redis.DB,
		})
		a.closers = append(a.closers, rdb.Close)
		if err := rdb.Ping(ctx).Err(); err != nil {
			return auth.Credentials{}, nil, fmt.Errorf("connect to redis at %s: %w", cfg.Credentials.Redis.Addr, err)
		}
		store = auth.NewRedisStore(rdb, cfg.RedisAuthMethod())

	case config.SourceFile:
		store = auth.NewFileStore(cfg.Credentials.File)

	default:
		return auth.Credentials{RefreshToken: cfg.Credentials.RefreshToken}, nil, nil
	}

	creds, err := store.Load(ctx)
	if err != nil {
		return auth.Credentials{}, nil, fmt.Errorf("load credentials: %w", err)
	}
	return creds, store, nil
}
