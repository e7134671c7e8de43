package kiro_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kiro-gateway/internal/eventstream/eventstreamtest"
	"kiro-gateway/internal/provider"
	"kiro-gateway/internal/provider/kiro"
	"kiro-gateway/internal/translator"
)

func newClient(t *testing.T, srv *httptest.Server) *kiro.Client {
	t.Helper()
	c, err := kiro.New(kiro.Config{
		GenerateURL:  srv.URL + "/generateAssistantResponse",
		RefreshURL:   srv.URL + "/refreshToken",
		ModelsURL:    srv.URL + "/ListAvailableModels",
		RetryBackoff: time.Millisecond,
	}, provider.NewHTTPClient(0))
	require.NoError(t, err)
	return c
}

func samplePayload() translator.Payload {
	return translator.Payload{
		ConversationState: translator.ConversationState{
			ChatTriggerType: "MANUAL",
			ConversationID:  "conv-1",
			CurrentMessage: translator.CurrentMessage{
				UserInputMessage: translator.UserInputMessage{Content: "Hi", ModelID: "auto", Origin: "AI_EDITOR"},
			},
		},
	}
}

func TestGenerateStream(t *testing.T) {
	t.Parallel()

	frames := eventstreamtest.Join(eventstreamtest.Content("Hello"), eventstreamtest.Usage(1))
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/generateAssistantResponse", r.URL.Path)
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		assert.NotEmpty(t, r.Header.Get("amz-sdk-invocation-id"))
		assert.Equal(t, "attempt=1; max=3", r.Header.Get("amz-sdk-request"))
		assert.Equal(t, "vibe", r.Header.Get("x-amzn-kiro-agent-mode"))

		var body map[string]any
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Contains(t, body, "conversationState")

		w.Header().Set("Content-Type", "application/vnd.amazon.eventstream")
		_, _ = w.Write(frames)
	}))
	t.Cleanup(srv.Close)

	body, err := newClient(t, srv).GenerateStream(context.Background(), "tok", samplePayload())
	require.NoError(t, err)
	defer body.Close()

	got, err := io.ReadAll(body)
	require.NoError(t, err)
	assert.Equal(t, frames, got)
}

func TestGenerateStream_RetriesThrottling(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := calls.Add(1)
		if n < 3 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		assert.Equal(t, "attempt=3; max=3", r.Header.Get("amz-sdk-request"))
		_, _ = w.Write(eventstreamtest.Content("ok"))
	}))
	t.Cleanup(srv.Close)

	body, err := newClient(t, srv).GenerateStream(context.Background(), "tok", samplePayload())
	require.NoError(t, err)
	body.Close()
	assert.EqualValues(t, 3, calls.Load())
}

func TestGenerateStream_ClientErrorNotRetried(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"message":"Input is too long.","reason":"CONTENT_LENGTH_EXCEEDS_THRESHOLD"}`))
	}))
	t.Cleanup(srv.Close)

	_, err := newClient(t, srv).GenerateStream(context.Background(), "tok", samplePayload())
	var upErr *kiro.UpstreamError
	require.ErrorAs(t, err, &upErr)
	assert.Equal(t, http.StatusBadRequest, upErr.Status)
	assert.Equal(t, "CONTENT_LENGTH_EXCEEDS_THRESHOLD", upErr.Reason)
	assert.Equal(t, "Input is too long.", upErr.Message)
	assert.EqualValues(t, 1, calls.Load())
}

func TestRefresh(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		var req map[string]string
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "rt", req["refreshToken"])
		_, _ = w.Write([]byte(`{"accessToken":"at","refreshToken":"rt2","expiresIn":1800,"profileArn":"arn:p"}`))
	}))
	t.Cleanup(srv.Close)

	tok, err := newClient(t, srv).Refresh(context.Background(), "rt")
	require.NoError(t, err)
	assert.Equal(t, "at", tok.AccessToken)
	assert.Equal(t, "rt2", tok.RefreshToken)
	assert.Equal(t, "arn:p", tok.ProfileArn)
	assert.Equal(t, 30*time.Minute, tok.ExpiresIn)
}

func TestRefresh_DefaultsExpiry(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"accessToken":"at"}`))
	}))
	t.Cleanup(srv.Close)

	tok, err := newClient(t, srv).Refresh(context.Background(), "rt")
	require.NoError(t, err)
	assert.Equal(t, time.Hour, tok.ExpiresIn)
}

func TestRefresh_Unauthorized(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte("bad token"))
	}))
	t.Cleanup(srv.Close)

	_, err := newClient(t, srv).Refresh(context.Background(), "rt")
	var upErr *kiro.UpstreamError
	require.ErrorAs(t, err, &upErr)
	assert.Equal(t, "bad token", upErr.Body)
	assert.Contains(t, err.Error(), "401")
}

type staticTokens struct{}

func (staticTokens) Token(context.Context) (string, error) { return "tok", nil }
func (staticTokens) ProfileArn() string                    { return "arn:p" }

func TestModelSource_Paginates(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		assert.Equal(t, "AI_EDITOR", r.URL.Query().Get("origin"))
		assert.Equal(t, "arn:p", r.URL.Query().Get("profileArn"))
		if r.URL.Query().Get("nextToken") == "" {
			_, _ = w.Write([]byte(`{"models":[{"modelId":"claude-sonnet-4.5","displayName":"Sonnet","tokenLimits":{"maxInputTokens":200000,"maxOutputTokens":64000}}],"nextToken":"p2"}`))
			return
		}
		_, _ = w.Write([]byte(`{"models":[{"modelId":"auto","modelName":"Auto"}]}`))
	}))
	t.Cleanup(srv.Close)

	recs, err := kiro.NewModelSource(newClient(t, srv), staticTokens{}).ListModels(context.Background())
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "claude-sonnet-4.5", recs[0].ID)
	assert.Equal(t, 200000, recs[0].MaxInputTokens)
	assert.Equal(t, 64000, recs[0].MaxOutputTokens)
	assert.Equal(t, "Auto", recs[1].DisplayName)
}
