package translator

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

const (
	chatTriggerManual = "MANUAL"
	originAIEditor    = "AI_EDITOR"
	toolStatusSuccess = "success"
	continuePrompt    = "Continue"
	mergeSeparator    = "\n"
	systemSeparator   = "\n\n"
)

// Payload is the upstream generateAssistantResponse request body.
type Payload struct {
	ConversationState ConversationState `json:"conversationState"`
	ProfileArn        string            `json:"profileArn,omitempty"`
}

// ConversationState carries the flattened conversation.
type ConversationState struct {
	ChatTriggerType string         `json:"chatTriggerType"`
	ConversationID  string         `json:"conversationId"`
	CurrentMessage  CurrentMessage `json:"currentMessage"`
	History         []Turn         `json:"history,omitempty"`
}

// CurrentMessage wraps the newest user turn.
type CurrentMessage struct {
	UserInputMessage UserInputMessage `json:"userInputMessage"`
}

// Turn is one history entry; exactly one field is set.
type Turn struct {
	UserInputMessage         *UserInputMessage         `json:"userInputMessage,omitempty"`
	AssistantResponseMessage *AssistantResponseMessage `json:"assistantResponseMessage,omitempty"`
}

type UserInputMessage struct {
	Content                 string                   `json:"content"`
	ModelID                 string                   `json:"modelId"`
	Origin                  string                   `json:"origin"`
	UserInputMessageContext *UserInputMessageContext `json:"userInputMessageContext,omitempty"`
}

type UserInputMessageContext struct {
	Tools       []ToolSpec   `json:"tools,omitempty"`
	ToolResults []ToolResult `json:"toolResults,omitempty"`
}

type AssistantResponseMessage struct {
	Content  string    `json:"content"`
	ToolUses []ToolUse `json:"toolUses,omitempty"`
}

type ToolSpec struct {
	ToolSpecification ToolSpecification `json:"toolSpecification"`
}

type ToolSpecification struct {
	Name        string      `json:"name"`
	Description string      `json:"description"`
	InputSchema InputSchema `json:"inputSchema"`
}

type InputSchema struct {
	JSON any `json:"json"`
}

type ToolResult struct {
	ToolUseID string              `json:"toolUseId"`
	Status    string              `json:"status"`
	Content   []ToolResultContent `json:"content"`
}

type ToolResultContent struct {
	Text string `json:"text"`
}

type ToolUse struct {
	Name      string `json:"name"`
	ToolUseID string `json:"toolUseId"`
	Input     any    `json:"input"`
}

// Message is a normalised conversation entry: role, flattened text, and the
// tool records it carries.
type Message struct {
	Role        string
	Text        string
	ToolUses    []ToolUse
	ToolResults []ToolResult
}

// Converter maps OpenAI chat requests to upstream payloads.
type Converter struct {
	mapper *ModelMapper
}

// NewConverter constructs a converter. A nil mapper uses the built-in table.
func NewConverter(mapper *ModelMapper) *Converter {
	if mapper == nil {
		mapper = NewModelMapper(nil)
	}
	return &Converter{mapper: mapper}
}

// Convert builds the upstream payload. An empty conversationID is replaced by
// a fresh one. It fails with ErrValidation when no sendable message remains.
func (c *Converter) Convert(req ChatCompletionRequest, conversationID, profileArn string) (Payload, error) {
	modelID := c.mapper.Map(req.Model)
	system, msgs := Normalize(req.Messages)
	msgs = MergeAdjacent(msgs)
	if len(msgs) == 0 {
		return Payload{}, fmt.Errorf("%w: no messages to send", ErrValidation)
	}

	last := msgs[len(msgs)-1]
	history := make([]Turn, 0, len(msgs))
	for _, m := range msgs[:len(msgs)-1] {
		history = append(history, toTurn(m, modelID))
	}

	var content string
	var results []ToolResult
	if last.Role == "assistant" {
		// The conversation ends on the assistant, so it moves into history
		// and a synthetic user turn takes its place.
		history = append(history, toTurn(last, modelID))
		content = continuePrompt
	} else {
		content = last.Text
		results = last.ToolResults
		if strings.TrimSpace(content) == "" {
			content = continuePrompt
		}
	}
	if system != "" {
		content = system + systemSeparator + content
	}

	if conversationID == "" {
		conversationID = uuid.NewString()
	}

	state := ConversationState{
		ChatTriggerType: chatTriggerManual,
		ConversationID:  conversationID,
		CurrentMessage: CurrentMessage{UserInputMessage: UserInputMessage{
			Content: content,
			ModelID: modelID,
			Origin:  originAIEditor,
			UserInputMessageContext: &UserInputMessageContext{
				Tools:       toToolSpecs(req),
				ToolResults: results,
			},
		}},
	}
	if len(history) > 0 {
		state.History = history
	}

	return Payload{ConversationState: state, ProfileArn: profileArn}, nil
}

// Normalize splits system text from the conversation and flattens every
// other message. Tool role messages become user messages carrying a tool
// result.
func Normalize(in []ChatMessage) (system string, out []Message) {
	var systemParts []string
	out = make([]Message, 0, len(in))

	for _, m := range in {
		text := ExtractText(m.Content)
		switch m.Role {
		case "system":
			if strings.TrimSpace(text) != "" {
				systemParts = append(systemParts, text)
			}
		case "tool":
			out = append(out, Message{
				Role:        "user",
				ToolResults: []ToolResult{newToolResult(m.ToolCallID, text)},
			})
		case "assistant":
			out = append(out, Message{
				Role:     "assistant",
				Text:     text,
				ToolUses: extractToolUses(m),
			})
		default:
			out = append(out, Message{
				Role:        "user",
				Text:        text,
				ToolResults: extractToolResults(m.Content),
			})
		}
	}
	return strings.Join(systemParts, mergeSeparator), out
}

// MergeAdjacent joins consecutive messages of the same role. Messages with
// tool uses are never merged; tool results are concatenated. Texts are joined
// with a newline, so both originals stay recoverable.
func MergeAdjacent(in []Message) []Message {
	out := make([]Message, 0, len(in))
	for _, m := range in {
		if n := len(out); n > 0 && mergeable(out[n-1], m) {
			prev := &out[n-1]
			prev.Text = joinText(prev.Text, m.Text)
			prev.ToolResults = append(prev.ToolResults, m.ToolResults...)
			continue
		}
		m.ToolResults = append([]ToolResult(nil), m.ToolResults...)
		out = append(out, m)
	}
	return out
}

func mergeable(a, b Message) bool {
	return a.Role == b.Role && len(a.ToolUses) == 0 && len(b.ToolUses) == 0
}

func joinText(a, b string) string {
	switch {
	case a == "":
		return b
	case b == "":
		return a
	default:
		return a + mergeSeparator + b
	}
}

func toTurn(m Message, modelID string) Turn {
	if m.Role == "assistant" {
		return Turn{AssistantResponseMessage: &AssistantResponseMessage{
			Content:  m.Text,
			ToolUses: m.ToolUses,
		}}
	}

	msg := &UserInputMessage{
		Content: m.Text,
		ModelID: modelID,
		Origin:  originAIEditor,
	}
	if len(m.ToolResults) > 0 {
		msg.UserInputMessageContext = &UserInputMessageContext{ToolResults: m.ToolResults}
	}
	return Turn{UserInputMessage: msg}
}

func extractToolResults(c Content) []ToolResult {
	if c.Kind != ContentParts {
		return nil
	}
	var out []ToolResult
	for _, p := range c.Parts {
		if p.Type != "tool_result" {
			continue
		}
		var text string
		if p.Result != nil {
			text = ExtractText(*p.Result)
		}
		out = append(out, newToolResult(p.ToolUseID, text))
	}
	return out
}

func newToolResult(id, text string) ToolResult {
	return ToolResult{
		ToolUseID: id,
		Status:    toolStatusSuccess,
		Content:   []ToolResultContent{{Text: text}},
	}
}

func extractToolUses(m ChatMessage) []ToolUse {
	var out []ToolUse
	for _, call := range m.ToolCalls {
		out = append(out, ToolUse{
			Name:      call.Function.Name,
			ToolUseID: toolUseID(call.ID),
			Input:     decodeInput(json.RawMessage(call.Function.Arguments)),
		})
	}
	if len(out) > 0 || m.Content.Kind != ContentParts {
		return out
	}
	for _, p := range m.Content.Parts {
		if p.Type != "tool_use" {
			continue
		}
		out = append(out, ToolUse{
			Name:      p.Name,
			ToolUseID: toolUseID(p.ID),
			Input:     decodeInput(p.Input),
		})
	}
	return out
}

func toolUseID(id string) string {
	if id != "" {
		return id
	}
	return "toolu_" + strings.ReplaceAll(uuid.NewString(), "-", "")
}

// decodeInput parses tool arguments. Missing or malformed arguments become
// an empty object.
func decodeInput(raw json.RawMessage) any {
	var v any
	if len(raw) == 0 || json.Unmarshal(raw, &v) != nil || v == nil {
		return map[string]any{}
	}
	return v
}

func toToolSpecs(req ChatCompletionRequest) []ToolSpec {
	specs := make([]ToolSpec, 0, len(req.Tools))
	for _, tool := range req.Tools {
		if tool.Function == nil {
			continue
		}
		schema := tool.Function.Parameters
		if schema == nil {
			schema = map[string]any{"type": "object", "properties": map[string]any{}}
		}
		specs = append(specs, ToolSpec{ToolSpecification: ToolSpecification{
			Name:        tool.Function.Name,
			Description: tool.Function.Description,
			InputSchema: InputSchema{JSON: schema},
		}})
	}
	if len(specs) == 0 {
		return nil
	}
	return specs
}
