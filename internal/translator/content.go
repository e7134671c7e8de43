package translator

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// ContentKind tags the shape a message's content arrived in.
type ContentKind int

const (
	ContentNull ContentKind = iota
	ContentText
	ContentParts
	ContentScalar
)

// Content is the client-supplied message content: a string, null, a list of
// parts, or any other JSON value.
type Content struct {
	Kind  ContentKind
	Text  string
	Parts []Part
}

// Part is one element of a content list. Bare strings in the list become
// parts with an empty Type and HasText set.
type Part struct {
	Type    string
	Text    string
	HasText bool

	// tool_result
	ToolUseID string
	Result    *Content

	// tool_use
	ID    string
	Name  string
	Input json.RawMessage
}

// TextContent wraps a plain string.
func TextContent(s string) Content {
	return Content{Kind: ContentText, Text: s}
}

// UnmarshalJSON accepts every JSON value; it fails only on malformed JSON.
func (c *Content) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case len(data) == 0 || bytes.Equal(data, []byte("null")):
		*c = Content{Kind: ContentNull}
		return nil
	case data[0] == '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return fmt.Errorf("%w: %v", errInvalidContent, err)
		}
		*c = TextContent(s)
		return nil
	case data[0] == '[':
		var items []json.RawMessage
		if err := json.Unmarshal(data, &items); err != nil {
			return fmt.Errorf("%w: %v", errInvalidContent, err)
		}
		parts := make([]Part, 0, len(items))
		for _, item := range items {
			part, err := parsePart(item)
			if err != nil {
				return err
			}
			parts = append(parts, part)
		}
		*c = Content{Kind: ContentParts, Parts: parts}
		return nil
	default:
		if !json.Valid(data) {
			return fmt.Errorf("%w: malformed content", errInvalidContent)
		}
		*c = Content{Kind: ContentScalar, Text: string(data)}
		return nil
	}
}

func parsePart(raw json.RawMessage) (Part, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) > 0 && raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return Part{}, fmt.Errorf("%w: %v", errInvalidContent, err)
		}
		return Part{Text: s, HasText: true}, nil
	}
	if len(raw) == 0 || raw[0] != '{' {
		// Numbers, booleans and nested lists carry no usable text.
		return Part{Type: "unknown"}, nil
	}

	var wire struct {
		Type      string          `json:"type"`
		Text      json.RawMessage `json:"text"`
		ToolUseID string          `json:"tool_use_id"`
		Content   *Content        `json:"content"`
		ID        string          `json:"id"`
		Name      string          `json:"name"`
		Input     json.RawMessage `json:"input"`
	}
	if err := json.Unmarshal(raw, &wire); err != nil {
		return Part{}, fmt.Errorf("%w: %v", errInvalidContent, err)
	}

	part := Part{
		Type:      wire.Type,
		ToolUseID: wire.ToolUseID,
		Result:    wire.Content,
		ID:        wire.ID,
		Name:      wire.Name,
		Input:     wire.Input,
	}
	if len(wire.Text) > 0 && !bytes.Equal(wire.Text, []byte("null")) {
		part.Text = scalarText(wire.Text)
		part.HasText = true
	}
	return part, nil
}

// ExtractText flattens content into plain text. It never fails: null and
// empty lists give "", scalars are stringified, and text parts are
// concatenated in order.
func ExtractText(c Content) string {
	switch c.Kind {
	case ContentText, ContentScalar:
		return c.Text
	case ContentParts:
		var b strings.Builder
		for _, p := range c.Parts {
			if p.Type == "text" || p.HasText {
				b.WriteString(p.Text)
			}
		}
		return b.String()
	default:
		return ""
	}
}

func scalarText(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}
