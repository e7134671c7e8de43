package translator_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kiro-gateway/internal/translator"
)

func decodeContent(t *testing.T, raw string) translator.Content {
	t.Helper()
	var c translator.Content
	require.NoError(t, json.Unmarshal([]byte(raw), &c))
	return c
}

func TestExtractText(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		raw  string
		want string
	}{
		{"plain string", `"Hello, World!"`, "Hello, World!"},
		{"null", `null`, ""},
		{"typed text parts", `[{"type":"text","text":"Hello"},{"type":"text","text":" World"}]`, "Hello World"},
		{"untyped text parts", `[{"text":"Hello"},{"text":" World"}]`, "Hello World"},
		{"bare strings", `["Hello", " ", "World"]`, "Hello World"},
		{"mixed list", `[{"type":"text","text":"Hello"}," World"]`, "Hello World"},
		{"non-text parts skipped", `[{"type":"image_url","image_url":{"url":"x"}},{"type":"text","text":"caption"}]`, "caption"},
		{"integer", `42`, "42"},
		{"boolean", `true`, "true"},
		{"empty list", `[]`, ""},
		{"empty string", `""`, ""},
		{"numbers inside list ignored", `[1, "a", 2]`, "a"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, translator.ExtractText(decodeContent(t, tt.raw)))
		})
	}
}

func TestExtractText_ZeroValueIsEmpty(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "", translator.ExtractText(translator.Content{}))
}

func TestContent_Kinds(t *testing.T) {
	t.Parallel()

	assert.Equal(t, translator.ContentNull, decodeContent(t, `null`).Kind)
	assert.Equal(t, translator.ContentText, decodeContent(t, `"x"`).Kind)
	assert.Equal(t, translator.ContentParts, decodeContent(t, `[]`).Kind)
	assert.Equal(t, translator.ContentScalar, decodeContent(t, `3.5`).Kind)
	assert.Equal(t, translator.ContentScalar, decodeContent(t, `{"a":1}`).Kind)
}

func TestContent_ToolParts(t *testing.T) {
	t.Parallel()

	c := decodeContent(t, `[
		{"type":"tool_result","tool_use_id":"call_1","content":[{"type":"text","text":"sunny"}]},
		{"type":"tool_use","id":"call_2","name":"lookup","input":{"q":"go"}}
	]`)

	require.Len(t, c.Parts, 2)
	assert.Equal(t, "tool_result", c.Parts[0].Type)
	assert.Equal(t, "call_1", c.Parts[0].ToolUseID)
	require.NotNil(t, c.Parts[0].Result)
	assert.Equal(t, "sunny", translator.ExtractText(*c.Parts[0].Result))

	assert.Equal(t, "lookup", c.Parts[1].Name)
	assert.JSONEq(t, `{"q":"go"}`, string(c.Parts[1].Input))
	assert.Equal(t, "", translator.ExtractText(c))
}
