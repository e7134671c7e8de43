package models

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// Lister fetches the current upstream model list.
type Lister interface {
	ListModels(ctx context.Context) ([]Record, error)
}

// Refresher keeps a Cache in sync with a Lister.
type Refresher struct {
	cache    *Cache
	lister   Lister
	interval time.Duration
}

// NewRefresher constructs a refresher. A non-positive interval disables the
// periodic loop; Refresh can still be called directly.
func NewRefresher(cache *Cache, lister Lister, interval time.Duration) (*Refresher, error) {
	if cache == nil {
		return nil, errors.New("model cache must not be nil")
	}
	if lister == nil {
		return nil, errors.New("model lister must not be nil")
	}
	return &Refresher{cache: cache, lister: lister, interval: interval}, nil
}

// Refresh fetches the model list once and replaces the cache contents.
// On failure the previous set is kept.
func (r *Refresher) Refresh(ctx context.Context) error {
	records, err := r.lister.ListModels(ctx)
	if err != nil {
		return fmt.Errorf("list upstream models: %w", err)
	}
	r.cache.Update(records)
	slog.Info("model cache refreshed", "models", len(records))
	return nil
}

// Run refreshes immediately and then on every interval until ctx is done.
func (r *Refresher) Run(ctx context.Context) {
	if err := r.Refresh(ctx); err != nil {
		slog.Warn("initial model refresh failed", "err", err)
	}
	if r.interval <= 0 {
		return
	}

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.Refresh(ctx); err != nil {
				slog.Warn("model refresh failed, keeping previous set", "err", err, "cached", r.cache.Len())
			}
		}
	}
}
