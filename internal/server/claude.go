package server

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"kiro-gateway/internal/router"
	"kiro-gateway/internal/stream"
	"kiro-gateway/internal/translator"
)

func (s *Server) handleClaudeMessages(c echo.Context) error {
	var req translator.ClaudeMessageRequest
	if err := s.decodeRequestBody(c, &req); err != nil {
		return err
	}

	ctx := c.Request().Context()
	resp, err := s.router.Chat(ctx, router.Request{Endpoint: c.Path(), Chat: req.ToChat()})
	if err != nil {
		return toHTTPError(err)
	}
	defer resp.Close()

	first, err := resp.Next()
	if err != nil && !errors.Is(err, io.EOF) {
		return toHTTPError(err)
	}

	id := "msg_" + strings.ReplaceAll(uuid.NewString(), "-", "")
	if !req.Stream {
		return collectClaude(c, resp, id, req.Model, first, err)
	}
	return streamClaude(c, resp, id, req.Model, first, err)
}

func collectClaude(c echo.Context, resp *router.Response, id, model string, first stream.Fragment, firstErr error) error {
	collector := translator.NewClaudeCollector(id, model)
	reason := stream.FinishStop

	frag, err := first, firstErr
	for err == nil {
		collector.Add(frag)
		if fin, ok := frag.(stream.FinishFragment); ok {
			reason = fin.Reason
		}
		frag, err = resp.Next()
	}
	if !errors.Is(err, io.EOF) {
		return toHTTPError(err)
	}

	return c.JSON(http.StatusOK, collector.Response(reason, resp.Usage()))
}

// claudeStream tracks content block indexes for the Anthropic event protocol.
type claudeStream struct {
	sse      *sseWriter
	index    int
	textOpen bool
}

func streamClaude(c echo.Context, resp *router.Response, id, model string, first stream.Fragment, firstErr error) error {
	sse, err := startSSE(c)
	if err != nil {
		return err
	}
	cs := &claudeStream{sse: sse}

	err = sse.event("message_start", map[string]any{
		"type": "message_start",
		"message": translator.ClaudeMessageResponse{
			ID:      id,
			Type:    "message",
			Role:    "assistant",
			Model:   model,
			Content: []translator.ClaudeContentBlock{},
		},
	})
	if err != nil {
		return nil
	}

	frag, nextErr := first, firstErr
	for nextErr == nil {
		if err := cs.write(frag, resp); err != nil {
			slog.Warn("client went away mid-stream", "err", err)
			return nil
		}
		frag, nextErr = resp.Next()
	}

	if !errors.Is(nextErr, io.EOF) {
		slog.Error("upstream stream failed", "model", model, "err", nextErr)
		httpErr, _ := toHTTPError(nextErr).(requestError)
		_ = sse.event("error", newClaudeErrorBody(httpErr.Message, "api_error"))
	}
	return nil
}

func (cs *claudeStream) write(frag stream.Fragment, resp *router.Response) error {
	switch frag := frag.(type) {
	case stream.TextFragment:
		if !cs.textOpen {
			if err := cs.sse.event("content_block_start", map[string]any{
				"type":          "content_block_start",
				"index":         cs.index,
				"content_block": translator.ClaudeTextBlock(""),
			}); err != nil {
				return err
			}
			cs.textOpen = true
		}
		return cs.sse.event("content_block_delta", map[string]any{
			"type":  "content_block_delta",
			"index": cs.index,
			"delta": map[string]any{"type": "text_delta", "text": frag.Text},
		})

	case stream.ToolCallFragment:
		if err := cs.closeText(); err != nil {
			return err
		}
		block := translator.ClaudeToolUseBlock(frag)
		input := block.Input
		block.Input = []byte("{}")
		if err := cs.sse.event("content_block_start", map[string]any{
			"type":          "content_block_start",
			"index":         cs.index,
			"content_block": block,
		}); err != nil {
			return err
		}
		if err := cs.sse.event("content_block_delta", map[string]any{
			"type":  "content_block_delta",
			"index": cs.index,
			"delta": map[string]any{"type": "input_json_delta", "partial_json": string(input)},
		}); err != nil {
			return err
		}
		return cs.stopBlock()

	case stream.FinishFragment:
		if err := cs.closeText(); err != nil {
			return err
		}
		usage := translator.NewClaudeUsage(resp.Usage())
		if err := cs.sse.event("message_delta", map[string]any{
			"type":  "message_delta",
			"delta": map[string]any{"stop_reason": translator.ClaudeStopReason(frag.Reason), "stop_sequence": nil},
			"usage": usage,
		}); err != nil {
			return err
		}
		return cs.sse.event("message_stop", map[string]any{"type": "message_stop"})
	}
	return nil
}

func (cs *claudeStream) closeText() error {
	if !cs.textOpen {
		return nil
	}
	cs.textOpen = false
	return cs.stopBlock()
}

func (cs *claudeStream) stopBlock() error {
	err := cs.sse.event("content_block_stop", map[string]any{
		"type":  "content_block_stop",
		"index": cs.index,
	})
	cs.index++
	return err
}
