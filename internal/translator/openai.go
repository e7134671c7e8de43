package translator

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

// ErrValidation marks requests that can never succeed as sent.
var ErrValidation = errors.New("invalid request")

var (
	errUnsupportedStop = fmt.Errorf("%w: unsupported stop value", ErrValidation)
	errInvalidContent  = fmt.Errorf("%w: invalid message content", ErrValidation)
)

// ChatCompletionRequest models the OpenAI chat/completions request payload.
type ChatCompletionRequest struct {
	Model       string        `validate:"required"`
	Messages    []ChatMessage `validate:"required,min=1,dive"`
	Stream      bool
	MaxTokens   *int     `validate:"omitempty,gt=0"`
	Temperature *float64 `validate:"omitempty,gte=0,lte=2"`
	TopP        *float64 `validate:"omitempty,gte=0,lte=1"`
	Stop        []string
	Tools       []openai.Tool
	ToolChoice  json.RawMessage
	User        string
}

// UnmarshalJSON normalises the request. Field validation happens separately.
func (r *ChatCompletionRequest) UnmarshalJSON(data []byte) error {
	type alias struct {
		Model               string          `json:"model"`
		Messages            []ChatMessage   `json:"messages"`
		Stream              bool            `json:"stream"`
		MaxTokens           *int            `json:"max_tokens"`
		MaxCompletionTokens *int            `json:"max_completion_tokens"`
		Temperature         *float64        `json:"temperature"`
		TopP                *float64        `json:"top_p"`
		Stop                json.RawMessage `json:"stop"`
		Tools               []openai.Tool   `json:"tools"`
		ToolChoice          json.RawMessage `json:"tool_choice"`
		User                string          `json:"user"`
	}

	var raw alias
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("decode chat request: %w", err)
	}

	stopValues, err := parseStop(raw.Stop)
	if err != nil {
		return err
	}

	r.Model = strings.TrimSpace(raw.Model)
	r.Messages = raw.Messages
	r.Stream = raw.Stream
	r.MaxTokens = raw.MaxTokens
	if r.MaxTokens == nil {
		r.MaxTokens = raw.MaxCompletionTokens
	}
	r.Temperature = raw.Temperature
	r.TopP = raw.TopP
	r.Stop = stopValues
	r.Tools = raw.Tools
	r.ToolChoice = raw.ToolChoice
	r.User = raw.User
	return nil
}

// ChatMessage captures a single message within the chat request.
type ChatMessage struct {
	Role       string `validate:"required,oneof=system user assistant tool"`
	Content    Content
	Name       string
	ToolCalls  []openai.ToolCall
	ToolCallID string
}

// UnmarshalJSON decodes the content union and trims the role.
func (m *ChatMessage) UnmarshalJSON(data []byte) error {
	type alias struct {
		Role       string            `json:"role"`
		Content    Content           `json:"content"`
		Name       string            `json:"name"`
		ToolCalls  []openai.ToolCall `json:"tool_calls"`
		ToolCallID string            `json:"tool_call_id"`
	}

	var raw alias
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("decode message: %w", err)
	}

	m.Role = strings.ToLower(strings.TrimSpace(raw.Role))
	m.Content = raw.Content
	m.Name = strings.TrimSpace(raw.Name)
	m.ToolCalls = raw.ToolCalls
	m.ToolCallID = raw.ToolCallID
	return nil
}

func parseStop(raw json.RawMessage) ([]string, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}

	var single string
	if err := json.Unmarshal(raw, &single); err == nil {
		if strings.TrimSpace(single) == "" {
			return nil, errUnsupportedStop
		}
		return []string{single}, nil
	}

	var multi []string
	if err := json.Unmarshal(raw, &multi); err == nil {
		out := make([]string, 0, len(multi))
		for _, item := range multi {
			if strings.TrimSpace(item) == "" {
				return nil, errUnsupportedStop
			}
			out = append(out, item)
		}
		return out, nil
	}
	return nil, errUnsupportedStop
}
