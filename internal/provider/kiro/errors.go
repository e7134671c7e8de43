package kiro

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"kiro-gateway/internal/provider"
)

// UpstreamError is a non-2xx answer from any Kiro endpoint.
type UpstreamError struct {
	Status  int
	Reason  string
	Message string
	Body    string
}

func (e *UpstreamError) Error() string {
	if e.Message != "" {
		if e.Reason != "" {
			return fmt.Sprintf("kiro error %d (%s): %s", e.Status, e.Reason, e.Message)
		}
		return fmt.Sprintf("kiro error %d: %s", e.Status, e.Message)
	}
	return fmt.Sprintf("upstream error status %d: %s", e.Status, e.Body)
}

type apiErrorResponse struct {
	Message string `json:"message"`
	Reason  string `json:"reason"`
	Error   *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

func parseAPIError(resp *http.Response) error {
	body, err := io.ReadAll(io.LimitReader(resp.Body, provider.ErrorBodyLimit))
	if err != nil {
		return fmt.Errorf("upstream error status %d and failed to read body: %w", resp.StatusCode, err)
	}

	upErr := &UpstreamError{
		Status: resp.StatusCode,
		Body:   strings.TrimSpace(string(body)),
	}

	var apiErr apiErrorResponse
	if err := json.Unmarshal(body, &apiErr); err == nil {
		upErr.Message = apiErr.Message
		upErr.Reason = apiErr.Reason
		if upErr.Message == "" && apiErr.Error != nil {
			upErr.Message = apiErr.Error.Message
			upErr.Reason = apiErr.Error.Type
		}
	}
	return upErr
}
