package translator_test

import (
	"encoding/json"
	"strings"
	"testing"

	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kiro-gateway/internal/translator"
)

const testProfileArn = "arn:aws:codewhisperer:us-east-1:123456789:profile/test"

func parseRequest(t *testing.T, raw string) translator.ChatCompletionRequest {
	t.Helper()
	var req translator.ChatCompletionRequest
	require.NoError(t, json.Unmarshal([]byte(raw), &req))
	return req
}

func convert(t *testing.T, raw string) translator.Payload {
	t.Helper()
	payload, err := translator.NewConverter(nil).Convert(parseRequest(t, raw), "conv-1", testProfileArn)
	require.NoError(t, err)
	return payload
}

func TestConvert_SingleUserMessage(t *testing.T) {
	t.Parallel()

	p := convert(t, `{"model":"claude-sonnet-4-5","messages":[{"role":"user","content":"Hello"}]}`)

	state := p.ConversationState
	assert.Equal(t, "MANUAL", state.ChatTriggerType)
	assert.Equal(t, "conv-1", state.ConversationID)
	assert.Empty(t, state.History)
	assert.Equal(t, testProfileArn, p.ProfileArn)

	cur := state.CurrentMessage.UserInputMessage
	assert.Equal(t, "Hello", cur.Content)
	assert.Equal(t, "CLAUDE_SONNET_4_5_20250929_V1_0", cur.ModelID)
	assert.Equal(t, "AI_EDITOR", cur.Origin)

	body, err := json.Marshal(p)
	require.NoError(t, err)
	assert.NotContains(t, string(body), `"history"`)
	assert.Contains(t, string(body), `"userInputMessageContext":{}`)
}

func TestConvert_GeneratesConversationID(t *testing.T) {
	t.Parallel()

	req := parseRequest(t, `{"model":"m","messages":[{"role":"user","content":"hi"}]}`)
	p, err := translator.NewConverter(nil).Convert(req, "", "")
	require.NoError(t, err)
	assert.Len(t, p.ConversationState.ConversationID, 36)
}

func TestConvert_HistoryExcludesLastTurn(t *testing.T) {
	t.Parallel()

	p := convert(t, `{"model":"claude-sonnet-4","messages":[
		{"role":"system","content":"You are helpful."},
		{"role":"user","content":"Hello"},
		{"role":"assistant","content":"Hi there!"},
		{"role":"user","content":"How are you?"}
	]}`)

	h := p.ConversationState.History
	require.Len(t, h, 2)
	require.NotNil(t, h[0].UserInputMessage)
	assert.Equal(t, "Hello", h[0].UserInputMessage.Content)
	assert.Equal(t, "CLAUDE_SONNET_4_20250514_V1_0", h[0].UserInputMessage.ModelID)
	require.NotNil(t, h[1].AssistantResponseMessage)
	assert.Equal(t, "Hi there!", h[1].AssistantResponseMessage.Content)

	cur := p.ConversationState.CurrentMessage.UserInputMessage.Content
	assert.Equal(t, "You are helpful.\n\nHow are you?", cur)
	for _, turn := range h {
		if turn.UserInputMessage != nil {
			assert.NotContains(t, turn.UserInputMessage.Content, "You are helpful.")
		}
	}
}

func TestConvert_HistoryLengthProperty(t *testing.T) {
	t.Parallel()

	roles := []string{"user", "assistant"}
	for n := 1; n <= 6; n++ {
		msgs := make([]string, 0, n)
		for i := 0; i < n; i++ {
			msgs = append(msgs, `{"role":"`+roles[i%2]+`","content":"m`+string(rune('0'+i))+`"}`)
		}
		raw := `{"model":"m","messages":[` + strings.Join(msgs, ",") + `]}`
		p := convert(t, raw)

		// An assistant-last conversation gains a synthetic user turn.
		turns := n
		if roles[(n-1)%2] == "assistant" {
			turns++
		}
		assert.Len(t, p.ConversationState.History, turns-1, "n=%d", n)
	}
}

func TestConvert_OnlySystemMessageFails(t *testing.T) {
	t.Parallel()

	req := parseRequest(t, `{"model":"m","messages":[{"role":"system","content":"rules"}]}`)
	_, err := translator.NewConverter(nil).Convert(req, "c", "")
	require.ErrorIs(t, err, translator.ErrValidation)
	assert.Contains(t, err.Error(), "no messages to send")
}

func TestConvert_AssistantLastBecomesContinue(t *testing.T) {
	t.Parallel()

	p := convert(t, `{"model":"m","messages":[
		{"role":"user","content":"Write a poem"},
		{"role":"assistant","content":"Roses are red"}
	]}`)

	assert.Equal(t, "Continue", p.ConversationState.CurrentMessage.UserInputMessage.Content)
	h := p.ConversationState.History
	require.Len(t, h, 2)
	require.NotNil(t, h[1].AssistantResponseMessage)
	assert.Equal(t, "Roses are red", h[1].AssistantResponseMessage.Content)
}

func TestConvert_EmptyUserMessageBecomesContinue(t *testing.T) {
	t.Parallel()

	p := convert(t, `{"model":"m","messages":[{"role":"user","content":""}]}`)
	assert.Equal(t, "Continue", p.ConversationState.CurrentMessage.UserInputMessage.Content)

	p = convert(t, `{"model":"m","messages":[{"role":"user","content":null}]}`)
	assert.Equal(t, "Continue", p.ConversationState.CurrentMessage.UserInputMessage.Content)
}

func TestConvert_Tools(t *testing.T) {
	t.Parallel()

	p := convert(t, `{"model":"m","messages":[{"role":"user","content":"weather?"}],
		"tools":[{"type":"function","function":{"name":"get_weather","description":"Get weather",
		"parameters":{"type":"object","properties":{"location":{"type":"string"}},"required":["location"]}}}]}`)

	ctx := p.ConversationState.CurrentMessage.UserInputMessage.UserInputMessageContext
	require.NotNil(t, ctx)
	require.Len(t, ctx.Tools, 1)
	spec := ctx.Tools[0].ToolSpecification
	assert.Equal(t, "get_weather", spec.Name)
	assert.Equal(t, "Get weather", spec.Description)

	schema, err := json.Marshal(spec.InputSchema)
	require.NoError(t, err)
	assert.JSONEq(t, `{"json":{"type":"object","properties":{"location":{"type":"string"}},"required":["location"]}}`, string(schema))
}

func TestConvert_EmptyToolsGiveEmptyContext(t *testing.T) {
	t.Parallel()

	p := convert(t, `{"model":"m","messages":[{"role":"user","content":"hi"}],"tools":[]}`)
	ctx := p.ConversationState.CurrentMessage.UserInputMessage.UserInputMessageContext
	require.NotNil(t, ctx)
	assert.Empty(t, ctx.Tools)
	assert.Empty(t, ctx.ToolResults)
}

func TestConvert_ToolCallRoundTrip(t *testing.T) {
	t.Parallel()

	p := convert(t, `{"model":"m","messages":[
		{"role":"user","content":"weather in Moscow?"},
		{"role":"assistant","content":null,"tool_calls":[{"id":"call_1","type":"function",
			"function":{"name":"get_weather","arguments":"{\"location\":\"Moscow\"}"}}]},
		{"role":"tool","tool_call_id":"call_1","content":"Sunny, 20C"}
	]}`)

	h := p.ConversationState.History
	require.Len(t, h, 2)
	require.NotNil(t, h[1].AssistantResponseMessage)
	uses := h[1].AssistantResponseMessage.ToolUses
	require.Len(t, uses, 1)
	assert.Equal(t, "get_weather", uses[0].Name)
	assert.Equal(t, "call_1", uses[0].ToolUseID)
	assert.Equal(t, map[string]any{"location": "Moscow"}, uses[0].Input)

	cur := p.ConversationState.CurrentMessage.UserInputMessage
	assert.Equal(t, "Continue", cur.Content)
	require.NotNil(t, cur.UserInputMessageContext)
	require.Len(t, cur.UserInputMessageContext.ToolResults, 1)
	res := cur.UserInputMessageContext.ToolResults[0]
	assert.Equal(t, "call_1", res.ToolUseID)
	assert.Equal(t, "success", res.Status)
	assert.Equal(t, "Sunny, 20C", res.Content[0].Text)
}

func TestConvert_ContentToolBlocks(t *testing.T) {
	t.Parallel()

	p := convert(t, `{"model":"m","messages":[
		{"role":"user","content":"list files"},
		{"role":"assistant","content":[{"type":"text","text":"Looking."},{"type":"tool_use","id":"tu_1","name":"ls","input":{"path":"."}}]},
		{"role":"user","content":[{"type":"tool_result","tool_use_id":"tu_1","content":"a.go"},{"type":"text","text":"and?"}]}
	]}`)

	assistant := p.ConversationState.History[1].AssistantResponseMessage
	require.NotNil(t, assistant)
	assert.Equal(t, "Looking.", assistant.Content)
	require.Len(t, assistant.ToolUses, 1)
	assert.Equal(t, "tu_1", assistant.ToolUses[0].ToolUseID)

	cur := p.ConversationState.CurrentMessage.UserInputMessage
	assert.Equal(t, "and?", cur.Content)
	require.Len(t, cur.UserInputMessageContext.ToolResults, 1)
	assert.Equal(t, "a.go", cur.UserInputMessageContext.ToolResults[0].Content[0].Text)
}

func TestConvert_MissingToolCallIDIsGenerated(t *testing.T) {
	t.Parallel()

	req := translator.ChatCompletionRequest{
		Model: "m",
		Messages: []translator.ChatMessage{
			{Role: "user", Content: translator.TextContent("go")},
			{Role: "assistant", ToolCalls: []openai.ToolCall{{Function: openai.FunctionCall{Name: "f", Arguments: "not json"}}}},
			{Role: "user", Content: translator.TextContent("next")},
		},
	}
	p, err := translator.NewConverter(nil).Convert(req, "c", "")
	require.NoError(t, err)

	use := p.ConversationState.History[1].AssistantResponseMessage.ToolUses[0]
	assert.True(t, strings.HasPrefix(use.ToolUseID, "toolu_"))
	assert.Equal(t, map[string]any{}, use.Input)
}

func TestMergeAdjacent(t *testing.T) {
	t.Parallel()

	in := []translator.Message{
		{Role: "user", Text: "Hello"},
		{Role: "user", Text: "World"},
		{Role: "assistant", Text: "Hi"},
		{Role: "user", Text: "Again"},
	}
	out := translator.MergeAdjacent(in)
	require.Len(t, out, 3)
	assert.Contains(t, out[0].Text, "Hello")
	assert.Contains(t, out[0].Text, "World")
	assert.Equal(t, "Hello\nWorld", out[0].Text)
	assert.Equal(t, "Hi", out[1].Text)

	assert.Equal(t, out, translator.MergeAdjacent(out), "merging is idempotent")
	assert.Equal(t, "World", in[1].Text, "input is not modified")
}

func TestMergeAdjacent_ToolUsesAreNotMerged(t *testing.T) {
	t.Parallel()

	in := []translator.Message{
		{Role: "assistant", Text: "a", ToolUses: []translator.ToolUse{{Name: "f", ToolUseID: "1"}}},
		{Role: "assistant", Text: "b"},
	}
	assert.Len(t, translator.MergeAdjacent(in), 2)
}

func TestMergeAdjacent_ToolResultsAccumulate(t *testing.T) {
	t.Parallel()

	p := convert(t, `{"model":"m","messages":[
		{"role":"user","content":"two lookups"},
		{"role":"assistant","tool_calls":[
			{"id":"c1","type":"function","function":{"name":"f","arguments":"{}"}},
			{"id":"c2","type":"function","function":{"name":"f","arguments":"{}"}}]},
		{"role":"tool","tool_call_id":"c1","content":"one"},
		{"role":"tool","tool_call_id":"c2","content":"two"}
	]}`)

	results := p.ConversationState.CurrentMessage.UserInputMessage.UserInputMessageContext.ToolResults
	require.Len(t, results, 2)
	assert.Equal(t, "c1", results[0].ToolUseID)
	assert.Equal(t, "c2", results[1].ToolUseID)
}

func TestModelMapper(t *testing.T) {
	t.Parallel()

	m := translator.NewModelMapper(map[string]string{"fast": "claude-haiku-4.5", "": "ignored"})
	assert.Equal(t, "CLAUDE_SONNET_4_5_20250929_V1_0", m.Map("claude-sonnet-4-5"))
	assert.Equal(t, "claude-haiku-4.5", m.Map("fast"))
	assert.Equal(t, "some-future-model", m.Map("some-future-model"))

	aliases := m.Aliases()
	assert.Equal(t, "auto", aliases[0][0])
}
