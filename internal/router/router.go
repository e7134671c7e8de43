package router

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"time"

	"github.com/google/uuid"

	"kiro-gateway/internal/eventstream"
	"kiro-gateway/internal/models"
	"kiro-gateway/internal/provider/kiro"
	"kiro-gateway/internal/stream"
	"kiro-gateway/internal/translator"
)

// Upstream starts a streaming generation.
type Upstream interface {
	GenerateStream(ctx context.Context, token string, payload translator.Payload) (io.ReadCloser, error)
}

// Tokens hands out access tokens.
type Tokens interface {
	Token(ctx context.Context) (string, error)
	ProfileArn() string
	Invalidate(token string)
}

// Request is one chat call with the route it arrived on.
type Request struct {
	Endpoint string
	Chat     translator.ChatCompletionRequest
}

// Router turns chat requests into upstream streams.
type Router struct {
	cache     *models.Cache
	tokens    Tokens
	upstream  Upstream
	mapper    *translator.ModelMapper
	converter *translator.Converter
	now       func() time.Time
}

// New constructs a router. A nil mapper uses the built-in alias table.
func New(cache *models.Cache, tokens Tokens, upstream Upstream, mapper *translator.ModelMapper) (*Router, error) {
	if cache == nil {
		return nil, errors.New("model cache must not be nil")
	}
	if tokens == nil {
		return nil, errors.New("token source must not be nil")
	}
	if upstream == nil {
		return nil, errors.New("upstream must not be nil")
	}
	if mapper == nil {
		mapper = translator.NewModelMapper(nil)
	}

	return &Router{
		cache:     cache,
		tokens:    tokens,
		upstream:  upstream,
		mapper:    mapper,
		converter: translator.NewConverter(mapper),
		now:       time.Now,
	}, nil
}

// Chat validates the request, opens the upstream stream and wraps it.
// Requests are converted before a token is taken, so an invalid request
// never triggers a refresh. A 403 from upstream invalidates the token and is
// retried once.
func (r *Router) Chat(ctx context.Context, req Request) (*Response, error) {
	chat := req.Chat
	rec := r.lookup(chat.Model)

	if chat.MaxTokens != nil && rec.MaxOutputTokens > 0 && *chat.MaxTokens > rec.MaxOutputTokens {
		logBilling(req, "failed", nil, 0)
		return nil, fmt.Errorf("%w: max_tokens %d exceeds the %d output tokens supported by %s",
			translator.ErrValidation, *chat.MaxTokens, rec.MaxOutputTokens, chat.Model)
	}

	payload, err := r.converter.Convert(chat, uuid.NewString(), "")
	if err != nil {
		logBilling(req, "failed", nil, 0)
		return nil, err
	}

	token, err := r.tokens.Token(ctx)
	if err != nil {
		logBilling(req, "failed", nil, 0)
		return nil, err
	}
	// A refresh may rotate the profile, so read it after the token.
	payload.ProfileArn = r.tokens.ProfileArn()

	body, err := r.upstream.GenerateStream(ctx, token, payload)
	var upErr *kiro.UpstreamError
	if errors.As(err, &upErr) && upErr.Status == http.StatusForbidden {
		slog.Warn("upstream rejected token, refreshing", "model", chat.Model)
		r.tokens.Invalidate(token)
		if token, err = r.tokens.Token(ctx); err != nil {
			logBilling(req, "failed", nil, 0)
			return nil, err
		}
		payload.ProfileArn = r.tokens.ProfileArn()
		body, err = r.upstream.GenerateStream(ctx, token, payload)
	}
	if err != nil {
		logBilling(req, "upstream_error", nil, 0)
		return nil, err
	}

	resp := &Response{
		Model:   chat.Model,
		Record:  rec,
		req:     req,
		body:    body,
		started: r.now(),
	}
	resp.stream = stream.New(eventstream.NewReader(body), stream.WithWarningHandler(func(err error) {
		slog.Warn("stream warning", "model", chat.Model, "err", err)
	}))
	return resp, nil
}

// ModelIDs lists every id a client may send: the cached upstream models and
// the configured aliases.
func (r *Router) ModelIDs() []string {
	seen := make(map[string]struct{})
	for _, rec := range r.cache.All() {
		seen[rec.ID] = struct{}{}
	}
	for _, alias := range r.mapper.Aliases() {
		seen[alias[0]] = struct{}{}
	}

	ids := make([]string, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// lookup resolves the model record by public id, then by upstream id.
// Models the cache does not know get a zero-limit record.
func (r *Router) lookup(model string) models.Record {
	if rec, ok := r.cache.Get(model); ok {
		return rec
	}
	if rec, ok := r.cache.Get(r.mapper.Map(model)); ok {
		return rec
	}
	slog.Debug("model not in cache", "model", model)
	return models.Record{ID: model}
}
