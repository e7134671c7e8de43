package server

import (
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"kiro-gateway/internal/router"
	"kiro-gateway/internal/stream"
	"kiro-gateway/internal/translator"
)

func (s *Server) handleChatCompletions(c echo.Context) error {
	var req translator.ChatCompletionRequest
	if err := s.decodeRequestBody(c, &req); err != nil {
		return err
	}

	ctx := c.Request().Context()
	resp, err := s.router.Chat(ctx, router.Request{Endpoint: c.Path(), Chat: req})
	if err != nil {
		return toHTTPError(err)
	}
	defer resp.Close()

	// Pull the first fragment before committing headers so that an immediate
	// upstream exception still gets a proper status code.
	first, err := resp.Next()
	if err != nil && !errors.Is(err, io.EOF) {
		return toHTTPError(err)
	}

	factory := translator.NewChunkFactory(req.Model, s.now())
	if !req.Stream {
		return s.collectChat(c, resp, factory, first, err)
	}
	return s.streamChat(c, resp, factory, first, err)
}

func (s *Server) streamChat(c echo.Context, resp *router.Response, f translator.ChunkFactory, first stream.Fragment, firstErr error) error {
	sse, err := startSSE(c)
	if err != nil {
		return err
	}
	if err := sse.data(f.Role()); err != nil {
		return nil
	}

	frag, nextErr := first, firstErr
	for nextErr == nil {
		var chunk any
		switch frag := frag.(type) {
		case stream.TextFragment:
			chunk = f.Text(frag.Text)
		case stream.ToolCallFragment:
			chunk = f.ToolCall(frag)
		case stream.FinishFragment:
			chunk = f.Finish(frag.Reason, resp.Usage())
		}
		if chunk != nil {
			if err := sse.data(chunk); err != nil {
				slog.Warn("client went away mid-stream", "err", err)
				return nil
			}
		}
		frag, nextErr = resp.Next()
	}

	if !errors.Is(nextErr, io.EOF) {
		slog.Error("upstream stream failed", "model", f.Model, "err", nextErr)
		httpErr, _ := toHTTPError(nextErr).(requestError)
		_ = sse.data(newErrorBody(httpErr.Message, httpErr.Type, ""))
	}
	_ = sse.done()
	return nil
}

func (s *Server) collectChat(c echo.Context, resp *router.Response, f translator.ChunkFactory, first stream.Fragment, firstErr error) error {
	collector := translator.NewCollector(f)
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
