// Package kiro talks to the CodeWhisperer-backed Kiro service.
package kiro

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"kiro-gateway/internal/auth"
	"kiro-gateway/internal/models"
	"kiro-gateway/internal/provider"
	"kiro-gateway/internal/translator"
)

const (
	contentTypeJSON     = "application/json"
	defaultRegion       = "us-east-1"
	defaultUserAgent    = "kiro-gateway/0.1"
	defaultMaxRetries   = 2
	defaultRetryBackoff = time.Second
	defaultExpiresIn    = 3600
	apiCallTimeout      = 30 * time.Second
)

// Config selects the region and, for tests or proxies, explicit endpoints.
type Config struct {
	Region       string
	GenerateURL  string
	RefreshURL   string
	ModelsURL    string
	UserAgent    string
	Headers      map[string]string
	MaxRetries   int
	RetryBackoff time.Duration
}

// Client implements the three upstream calls the gateway needs.
type Client struct {
	region      string
	generateURL string
	refreshURL  string
	modelsURL   string
	userAgent   string
	headers     map[string]string
	client      *http.Client
	maxRetries  int
	backoff     time.Duration
}

// New constructs a client. Empty endpoint fields are derived from Region.
func New(cfg Config, client *http.Client) (*Client, error) {
	if client == nil {
		return nil, errors.New("http client must not be nil")
	}

	region := strings.TrimSpace(cfg.Region)
	if region == "" {
		region = defaultRegion
	}

	c := &Client{
		region:      region,
		generateURL: firstNonEmpty(cfg.GenerateURL, fmt.Sprintf("https://codewhisperer.%s.amazonaws.com/generateAssistantResponse", region)),
		refreshURL:  firstNonEmpty(cfg.RefreshURL, fmt.Sprintf("https://prod.%s.auth.desktop.kiro.dev/refreshToken", region)),
		modelsURL:   firstNonEmpty(cfg.ModelsURL, fmt.Sprintf("https://q.%s.amazonaws.com/ListAvailableModels", region)),
		userAgent:   firstNonEmpty(cfg.UserAgent, defaultUserAgent),
		headers:     cfg.Headers,
		client:      client,
		maxRetries:  cfg.MaxRetries,
		backoff:     cfg.RetryBackoff,
	}
	if c.maxRetries < 0 {
		c.maxRetries = 0
	} else if c.maxRetries == 0 {
		c.maxRetries = defaultMaxRetries
	}
	if c.backoff <= 0 {
		c.backoff = defaultRetryBackoff
	}
	return c, nil
}

// Region is the AWS region the derived endpoints point at.
func (c *Client) Region() string { return c.region }

// GenerateStream starts a completion and returns the event-stream body.
// 429 and 5xx responses are retried with exponential backoff; the caller
// owns the returned body.
func (c *Client) GenerateStream(ctx context.Context, token string, payload translator.Payload) (io.ReadCloser, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}

	attempts := c.maxRetries + 1
	for attempt := 1; ; attempt++ {
		req, err := c.newRequest(ctx, http.MethodPost, c.generateURL, body)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", "Bearer "+token)
		req.Header.Set("amz-sdk-invocation-id", uuid.NewString())
		req.Header.Set("amz-sdk-request", fmt.Sprintf("attempt=%d; max=%d", attempt, attempts))
		req.Header.Set("x-amzn-codewhisperer-optout", "true")
		req.Header.Set("x-amzn-kiro-agent-mode", "vibe")

		resp, err := c.client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("kiro generate request failed: %w", err)
		}
		if resp.StatusCode < 400 {
			return resp.Body, nil
		}

		if attempt < attempts && retryable(resp.StatusCode) {
			_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, provider.ErrorBodyLimit))
			resp.Body.Close()
			if err := c.sleep(ctx, attempt); err != nil {
				return nil, err
			}
			continue
		}

		defer resp.Body.Close()
		return nil, parseAPIError(resp)
	}
}

// Refresh exchanges a refresh token at the Kiro auth service.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (auth.Token, error) {
	body, err := json.Marshal(refreshRequest{RefreshToken: refreshToken})
	if err != nil {
		return auth.Token{}, fmt.Errorf("marshal refresh request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, apiCallTimeout)
	defer cancel()

	req, err := c.newRequest(ctx, http.MethodPost, c.refreshURL, body)
	if err != nil {
		return auth.Token{}, err
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return auth.Token{}, fmt.Errorf("kiro refresh request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return auth.Token{}, parseAPIError(resp)
	}

	var out refreshResponse
	if err := decodeJSON(resp.Body, &out); err != nil {
		return auth.Token{}, err
	}

	expiresIn := defaultExpiresIn
	if out.ExpiresIn != nil {
		expiresIn = *out.ExpiresIn
	}
	return auth.Token{
		AccessToken:  out.AccessToken,
		RefreshToken: out.RefreshToken,
		ProfileArn:   out.ProfileArn,
		ExpiresIn:    time.Duration(expiresIn) * time.Second,
	}, nil
}

// ListModels fetches every page of the model catalogue.
func (c *Client) ListModels(ctx context.Context, token, profileArn string) ([]models.Record, error) {
	ctx, cancel := context.WithTimeout(ctx, apiCallTimeout)
	defer cancel()

	var records []models.Record
	nextToken := ""
	for {
		query := url.Values{}
		query.Set("origin", "AI_EDITOR")
		if profileArn != "" {
			query.Set("profileArn", profileArn)
		}
		if nextToken != "" {
			query.Set("nextToken", nextToken)
		}

		req, err := c.newRequest(ctx, http.MethodGet, c.modelsURL+"?"+query.Encode(), nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", "Bearer "+token)

		page, err := c.fetchModels(req)
		if err != nil {
			return nil, err
		}
		for _, m := range page.Models {
			records = append(records, m.toRecord())
		}

		if page.NextToken == "" {
			return records, nil
		}
		nextToken = page.NextToken
	}
}

func (c *Client) fetchModels(req *http.Request) (listModelsResponse, error) {
	resp, err := c.client.Do(req)
	if err != nil {
		return listModelsResponse{}, fmt.Errorf("kiro list models request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return listModelsResponse{}, parseAPIError(resp)
	}

	var page listModelsResponse
	if err := decodeJSON(resp.Body, &page); err != nil {
		return listModelsResponse{}, err
	}
	return page, nil
}

func (c *Client) newRequest(ctx context.Context, method, url string, body []byte) (*http.Request, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, fmt.Errorf("construct request: %w", err)
	}

	if body != nil {
		req.Header.Set("Content-Type", contentTypeJSON)
	}
	req.Header.Set("User-Agent", c.userAgent)
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}
	return req, nil
}

func (c *Client) sleep(ctx context.Context, attempt int) error {
	timer := time.NewTimer(c.backoff << (attempt - 1))
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func retryable(status int) bool {
	return status == http.StatusTooManyRequests || status >= 500
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

type refreshResponse struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
	ExpiresIn    *int   `json:"expiresIn"`
	ProfileArn   string `json:"profileArn"`
}

type listModelsResponse struct {
	Models    []modelEntry `json:"models"`
	NextToken string       `json:"nextToken"`
}

type modelEntry struct {
	ModelID     string `json:"modelId"`
	ModelName   string `json:"modelName"`
	DisplayName string `json:"displayName"`
	TokenLimits struct {
		MaxInputTokens  int `json:"maxInputTokens"`
		MaxOutputTokens int `json:"maxOutputTokens"`
	} `json:"tokenLimits"`
}

func (m modelEntry) toRecord() models.Record {
	return models.Record{
		ID:              m.ModelID,
		DisplayName:     firstNonEmpty(m.DisplayName, m.ModelName),
		MaxInputTokens:  m.TokenLimits.MaxInputTokens,
		MaxOutputTokens: m.TokenLimits.MaxOutputTokens,
	}
}

func decodeJSON(reader io.Reader, target any) error {
	decoder := json.NewDecoder(reader)
	if err := decoder.Decode(target); err != nil {
		return fmt.Errorf("decode kiro response: %w", err)
	}
	return nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
