package kiro

import (
	"context"
	"fmt"

	"kiro-gateway/internal/models"
)

// TokenSource supplies credentials for catalogue calls.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
	ProfileArn() string
}

// ModelSource adapts a Client to models.Lister.
type ModelSource struct {
	client *Client
	tokens TokenSource
}

// NewModelSource binds the client to a token source.
func NewModelSource(client *Client, tokens TokenSource) *ModelSource {
	return &ModelSource{client: client, tokens: tokens}
}

// ListModels implements models.Lister.
func (s *ModelSource) ListModels(ctx context.Context) ([]models.Record, error) {
	token, err := s.tokens.Token(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire token: %w", err)
	}
	return s.client.ListModels(ctx, token, s.tokens.ProfileArn())
}
