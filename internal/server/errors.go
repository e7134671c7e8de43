package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"kiro-gateway/internal/auth"
	"kiro-gateway/internal/provider/kiro"
	"kiro-gateway/internal/stream"
	"kiro-gateway/internal/translator"
)

type requestError struct {
	Status  int
	Message string
	Type    string
	Code    string
}

func (e requestError) Error() string {
	return e.Message
}

type errorBody struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    string `json:"code,omitempty"`
	} `json:"error"`
}

// claudeErrorBody is the Anthropic error envelope.
type claudeErrorBody struct {
	Type  string `json:"type"`
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

func newErrorBody(message, errType, code string) errorBody {
	var payload errorBody
	payload.Error.Message = message
	payload.Error.Type = errType
	payload.Error.Code = code
	return payload
}

func newClaudeErrorBody(message, errType string) claudeErrorBody {
	var payload claudeErrorBody
	payload.Type = "error"
	payload.Error.Type = errType
	payload.Error.Message = message
	return payload
}

func writeError(c echo.Context, status int, message, errType, code string) error {
	if strings.HasPrefix(c.Path(), "/v1/messages") {
		return c.JSON(status, newClaudeErrorBody(message, errType))
	}
	return c.JSON(status, newErrorBody(message, errType, code))
}

func errorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	var reqErr requestError
	if errors.As(err, &reqErr) {
		_ = writeError(c, reqErr.Status, reqErr.Message, reqErr.Type, reqErr.Code)
		return
	}

	var he *echo.HTTPError
	if errors.As(err, &he) {
		msg := http.StatusText(he.Code)
		if s, ok := he.Message.(string); ok {
			msg = s
		}
		_ = writeError(c, he.Code, msg, "invalid_request_error", "")
		return
	}

	_ = writeError(c, http.StatusInternalServerError, "internal server error", "server_error", "")
}

func toHTTPError(err error) error {
	var reqErr requestError
	if errors.As(err, &reqErr) {
		return reqErr
	}

	if errors.Is(err, translator.ErrValidation) {
		return requestError{
			Status:  http.StatusBadRequest,
			Message: err.Error(),
			Type:    "invalid_request_error",
		}
	}

	var refreshErr *auth.RefreshError
	if errors.As(err, &refreshErr) {
		return requestError{
			Status:  http.StatusBadGateway,
			Message: "failed to obtain upstream access token",
			Type:    "authentication_error",
		}
	}

	var upErr *kiro.UpstreamError
	if errors.As(err, &upErr) {
		status := http.StatusBadGateway
		if upErr.Status >= 400 && upErr.Status < 500 {
			status = http.StatusBadRequest
		}
		return requestError{
			Status:  status,
			Message: upErr.Error(),
			Type:    "upstream_error",
		}
	}

	var exErr *stream.ExceptionError
	if errors.As(err, &exErr) {
		return requestError{
			Status:  http.StatusBadGateway,
			Message: exErr.Error(),
			Type:    "upstream_error",
		}
	}

	return requestError{
		Status:  http.StatusInternalServerError,
		Message: "internal server error",
		Type:    "server_error",
	}
}
