package translator

import (
	"encoding/json"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"kiro-gateway/internal/models"
	"kiro-gateway/internal/stream"
)

var (
	errClaudeInvalidSystem   = fmt.Errorf("%w: invalid system prompt", ErrValidation)
	errClaudeUnsupportedStop = fmt.Errorf("%w: unsupported stop sequences", ErrValidation)
)

// Claude stop reasons.
const (
	ClaudeStopEndTurn = "end_turn"
	ClaudeStopToolUse = "tool_use"
)

// ClaudeMessageRequest models the Anthropic /v1/messages payload.
type ClaudeMessageRequest struct {
	Model         string        `validate:"required"`
	MaxTokens     *int          `validate:"omitempty,gt=0"`
	Messages      []ChatMessage `validate:"required,min=1,dive"`
	System        []string
	Stream        bool
	Temperature   *float64 `validate:"omitempty,gte=0,lte=1"`
	TopP          *float64 `validate:"omitempty,gte=0,lte=1"`
	StopSequences []string
	Tools         []ClaudeTool `validate:"dive"`
}

// ClaudeTool is an Anthropic tool definition.
type ClaudeTool struct {
	Name        string         `json:"name" validate:"required"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"input_schema"`
}

// UnmarshalJSON normalises the system prompt and stop sequences. Message
// content shares the OpenAI content union, which already understands
// text, tool_use and tool_result blocks.
func (r *ClaudeMessageRequest) UnmarshalJSON(data []byte) error {
	type alias struct {
		Model         string          `json:"model"`
		MaxTokens     *int            `json:"max_tokens"`
		Messages      []ChatMessage   `json:"messages"`
		System        json.RawMessage `json:"system"`
		Stream        bool            `json:"stream"`
		Temperature   *float64        `json:"temperature"`
		TopP          *float64        `json:"top_p"`
		StopSequences json.RawMessage `json:"stop_sequences"`
		Tools         []ClaudeTool    `json:"tools"`
	}

	var raw alias
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("decode claude request: %w", err)
	}

	systemPrompts, err := parseClaudeSystem(raw.System)
	if err != nil {
		return err
	}

	stopSequences, err := parseClaudeStops(raw.StopSequences)
	if err != nil {
		return err
	}

	r.Model = strings.TrimSpace(raw.Model)
	r.MaxTokens = raw.MaxTokens
	r.Messages = raw.Messages
	r.System = systemPrompts
	r.Stream = raw.Stream
	r.Temperature = raw.Temperature
	r.TopP = raw.TopP
	r.StopSequences = stopSequences
	r.Tools = raw.Tools
	return nil
}

// ToChat converts the Anthropic request into the OpenAI request shape the
// converter consumes.
func (r ClaudeMessageRequest) ToChat() ChatCompletionRequest {
	msgs := make([]ChatMessage, 0, len(r.Messages)+len(r.System))
	for _, systemMsg := range r.System {
		msgs = append(msgs, ChatMessage{Role: "system", Content: TextContent(systemMsg)})
	}
	msgs = append(msgs, r.Messages...)

	tools := make([]openai.Tool, 0, len(r.Tools))
	for _, t := range r.Tools {
		tools = append(tools, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.InputSchema,
			},
		})
	}

	return ChatCompletionRequest{
		Model:       r.Model,
		Messages:    msgs,
		Stream:      r.Stream,
		MaxTokens:   r.MaxTokens,
		Temperature: r.Temperature,
		TopP:        r.TopP,
		Stop:        r.StopSequences,
		Tools:       tools,
	}
}

// ClaudeStopReason maps a finish reason to its Anthropic name.
func ClaudeStopReason(reason string) string {
	if reason == stream.FinishToolCalls {
		return ClaudeStopToolUse
	}
	return ClaudeStopEndTurn
}

func parseClaudeSystem(raw json.RawMessage) ([]string, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}

	var single string
	if err := json.Unmarshal(raw, &single); err == nil {
		s := strings.TrimSpace(single)
		if s == "" {
			return nil, nil
		}
		return []string{s}, nil
	}

	var blocks []claudeSystemBlock
	if err := json.Unmarshal(raw, &blocks); err == nil {
		out := make([]string, 0, len(blocks))
		for _, block := range blocks {
			text, err := extractSystemBlock(block)
			if err != nil {
				return nil, err
			}
			if text == "" {
				continue
			}
			out = append(out, text)
		}
		if len(out) == 0 {
			return nil, nil
		}
		return out, nil
	}

	return nil, errClaudeInvalidSystem
}

func parseClaudeStops(raw json.RawMessage) ([]string, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}

	var stops []string
	if err := json.Unmarshal(raw, &stops); err != nil {
		return nil, errClaudeUnsupportedStop
	}

	out := make([]string, 0, len(stops))
	for _, stop := range stops {
		if strings.TrimSpace(stop) == "" {
			return nil, errClaudeUnsupportedStop
		}
		out = append(out, stop)
	}
	return out, nil
}

type claudeSystemBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

func extractSystemBlock(block claudeSystemBlock) (string, error) {
	if block.Type != "" && block.Type != "text" {
		return "", fmt.Errorf("%w: unsupported block type %q", errClaudeInvalidSystem, block.Type)
	}
	return strings.TrimSpace(block.Text), nil
}

// ClaudeMessageResponse models the Anthropic response payload.
type ClaudeMessageResponse struct {
	ID           string               `json:"id"`
	Type         string               `json:"type"`
	Role         string               `json:"role"`
	Model        string               `json:"model"`
	Content      []ClaudeContentBlock `json:"content"`
	StopReason   string               `json:"stop_reason"`
	StopSequence *string              `json:"stop_sequence"`
	Usage        ClaudeUsage          `json:"usage"`
}

// ClaudeContentBlock is a text or tool_use block in a response.
type ClaudeContentBlock struct {
	Type  string          `json:"type"`
	Text  *string         `json:"text,omitempty"`
	ID    string          `json:"id,omitempty"`
	Name  string          `json:"name,omitempty"`
	Input json.RawMessage `json:"input,omitempty"`
}

// ClaudeUsage mirrors Anthropic usage format.
type ClaudeUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// ClaudeTextBlock builds a text content block.
func ClaudeTextBlock(text string) ClaudeContentBlock {
	return ClaudeContentBlock{Type: "text", Text: &text}
}

// ClaudeToolUseBlock builds a tool_use block from a completed tool call.
// Arguments that do not parse are wrapped as an empty object.
func ClaudeToolUseBlock(frag stream.ToolCallFragment) ClaudeContentBlock {
	input := json.RawMessage(frag.Arguments)
	if !json.Valid(input) {
		input = json.RawMessage("{}")
	}
	return ClaudeContentBlock{Type: "tool_use", ID: frag.ID, Name: frag.Name, Input: input}
}

// NewClaudeUsage converts token accounting to the Anthropic shape.
func NewClaudeUsage(u models.Usage) ClaudeUsage {
	return ClaudeUsage{InputTokens: u.PromptTokens, OutputTokens: u.CompletionTokens}
}

// ClaudeCollector assembles fragments into a single Anthropic message.
type ClaudeCollector struct {
	id, model string
	blocks    []ClaudeContentBlock
}

// NewClaudeCollector constructs a collector for one response.
func NewClaudeCollector(id, model string) *ClaudeCollector {
	return &ClaudeCollector{id: id, model: model}
}

// Add records a fragment. Adjacent text fragments share one block.
func (c *ClaudeCollector) Add(frag stream.Fragment) {
	switch frag := frag.(type) {
	case stream.TextFragment:
		if n := len(c.blocks); n > 0 && c.blocks[n-1].Type == "text" {
			joined := *c.blocks[n-1].Text + frag.Text
			c.blocks[n-1].Text = &joined
			return
		}
		c.blocks = append(c.blocks, ClaudeTextBlock(frag.Text))
	case stream.ToolCallFragment:
		c.blocks = append(c.blocks, ClaudeToolUseBlock(frag))
	}
}

// Response builds the message body.
func (c *ClaudeCollector) Response(reason string, usage models.Usage) ClaudeMessageResponse {
	blocks := c.blocks
	if blocks == nil {
		blocks = []ClaudeContentBlock{}
	}
	return ClaudeMessageResponse{
		ID:         c.id,
		Type:       "message",
		Role:       "assistant",
		Model:      c.model,
		Content:    blocks,
		StopReason: ClaudeStopReason(reason),
		Usage:      NewClaudeUsage(usage),
	}
}
