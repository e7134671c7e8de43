package router

import (
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"
	"unicode/utf8"

	"kiro-gateway/internal/models"
	"kiro-gateway/internal/stream"
)

// Response is an open upstream generation. Callers drain Next until io.EOF
// and must call Close.
type Response struct {
	Model  string
	Record models.Record

	req      Request
	body     io.ReadCloser
	stream   *stream.Stream
	started  time.Time
	chars    int
	usage    models.Usage
	raw      float64
	finished bool
	err      error

	closeOnce sync.Once
}

// Next returns the next fragment. A FinishFragment makes Usage valid.
func (r *Response) Next() (stream.Fragment, error) {
	frag, err := r.stream.Next()
	if err != nil {
		if !errors.Is(err, io.EOF) {
			r.err = err
		}
		return nil, err
	}

	switch f := frag.(type) {
	case stream.TextFragment:
		r.chars += utf8.RuneCountInString(f.Text)
	case stream.ToolCallFragment:
		r.chars += utf8.RuneCountInString(f.Name) + utf8.RuneCountInString(f.Arguments)
	case stream.FinishFragment:
		r.finished = true
		r.raw = f.Usage
		r.usage = models.EstimateUsage(r.Record, f.ContextPercent, r.chars)
	}
	return frag, nil
}

// Usage is the token accounting computed at the finish fragment.
func (r *Response) Usage() models.Usage {
	return r.usage
}

// Close releases the upstream body and emits the billing log line.
func (r *Response) Close() error {
	var err error
	r.closeOnce.Do(func() {
		err = r.body.Close()

		status := "completed"
		switch {
		case r.err != nil:
			status = "failed"
		case !r.finished:
			status = "aborted"
		}
		logBilling(r.req, status, &r.usage, r.raw, "duration_ms", time.Since(r.started).Milliseconds())
	})
	return err
}

func logBilling(req Request, status string, usage *models.Usage, raw float64, extra ...any) {
	attrs := []any{
		"event", "billing_model_observability",
		"endpoint", req.Endpoint,
		"model", req.Chat.Model,
		"stream", req.Chat.Stream,
		"message_count", len(req.Chat.Messages),
		"tool_count", len(req.Chat.Tools),
		"status", status,
	}
	if usage != nil {
		attrs = append(attrs,
			"prompt_tokens", usage.PromptTokens,
			"completion_tokens", usage.CompletionTokens,
			"total_tokens", usage.TotalTokens,
			"upstream_usage", raw,
		)
	}
	attrs = append(attrs, extra...)
	slog.Info("billing", attrs...)
}
