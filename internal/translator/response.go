package translator

import (
	"strings"
	"time"

	"github.com/google/uuid"
	openai "github.com/sashabaranov/go-openai"

	"kiro-gateway/internal/models"
	"kiro-gateway/internal/stream"
)

const (
	objectChunk      = "chat.completion.chunk"
	objectCompletion = "chat.completion"
)

// ChunkFactory stamps OpenAI response objects for one completion.
type ChunkFactory struct {
	ID      string
	Model   string
	Created int64
}

// NewChunkFactory assigns a fresh completion id.
func NewChunkFactory(model string, now time.Time) ChunkFactory {
	return ChunkFactory{
		ID:      "chatcmpl-" + strings.ReplaceAll(uuid.NewString(), "-", ""),
		Model:   model,
		Created: now.Unix(),
	}
}

func (f ChunkFactory) chunk(delta openai.ChatCompletionStreamChoiceDelta, reason openai.FinishReason) openai.ChatCompletionStreamResponse {
	return openai.ChatCompletionStreamResponse{
		ID:      f.ID,
		Object:  objectChunk,
		Created: f.Created,
		Model:   f.Model,
		Choices: []openai.ChatCompletionStreamChoice{{
			Index:        0,
			Delta:        delta,
			FinishReason: reason,
		}},
	}
}

// Role is the opening chunk announcing the assistant role.
func (f ChunkFactory) Role() openai.ChatCompletionStreamResponse {
	return f.chunk(openai.ChatCompletionStreamChoiceDelta{Role: openai.ChatMessageRoleAssistant}, "")
}

// Text is a content delta.
func (f ChunkFactory) Text(text string) openai.ChatCompletionStreamResponse {
	return f.chunk(openai.ChatCompletionStreamChoiceDelta{Content: text}, "")
}

// ToolCall is a delta carrying one complete tool call.
func (f ChunkFactory) ToolCall(frag stream.ToolCallFragment) openai.ChatCompletionStreamResponse {
	return f.chunk(openai.ChatCompletionStreamChoiceDelta{
		ToolCalls: []openai.ToolCall{toOpenAIToolCall(frag)},
	}, "")
}

// Finish is the terminal chunk with finish reason and usage.
func (f ChunkFactory) Finish(reason string, usage models.Usage) openai.ChatCompletionStreamResponse {
	c := f.chunk(openai.ChatCompletionStreamChoiceDelta{}, openai.FinishReason(reason))
	u := toOpenAIUsage(usage)
	c.Usage = &u
	return c
}

// Collector assembles fragments into a single non-streaming response.
type Collector struct {
	factory   ChunkFactory
	text      strings.Builder
	toolCalls []openai.ToolCall
}

// NewCollector constructs a collector stamping responses with f.
func NewCollector(f ChunkFactory) *Collector {
	return &Collector{factory: f}
}

// Add records a text or tool call fragment. Finish fragments are ignored.
func (c *Collector) Add(frag stream.Fragment) {
	switch frag := frag.(type) {
	case stream.TextFragment:
		c.text.WriteString(frag.Text)
	case stream.ToolCallFragment:
		call := toOpenAIToolCall(frag)
		call.Index = nil
		c.toolCalls = append(c.toolCalls, call)
	}
}

// Response builds the chat.completion body.
func (c *Collector) Response(reason string, usage models.Usage) openai.ChatCompletionResponse {
	return openai.ChatCompletionResponse{
		ID:      c.factory.ID,
		Object:  objectCompletion,
		Created: c.factory.Created,
		Model:   c.factory.Model,
		Choices: []openai.ChatCompletionChoice{{
			Index: 0,
			Message: openai.ChatCompletionMessage{
				Role:      openai.ChatMessageRoleAssistant,
				Content:   c.text.String(),
				ToolCalls: c.toolCalls,
			},
			FinishReason: openai.FinishReason(reason),
		}},
		Usage: toOpenAIUsage(usage),
	}
}

func toOpenAIToolCall(frag stream.ToolCallFragment) openai.ToolCall {
	index := frag.Index
	return openai.ToolCall{
		Index: &index,
		ID:    frag.ID,
		Type:  openai.ToolTypeFunction,
		Function: openai.FunctionCall{
			Name:      frag.Name,
			Arguments: frag.Arguments,
		},
	}
}

func toOpenAIUsage(u models.Usage) openai.Usage {
	return openai.Usage{
		PromptTokens:     u.PromptTokens,
		CompletionTokens: u.CompletionTokens,
		TotalTokens:      u.TotalTokens,
	}
}
