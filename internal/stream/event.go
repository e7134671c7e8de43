// Package stream turns decoded upstream events into OpenAI-style fragments.
package stream

import (
	"encoding/json"
	"fmt"
)

// Event is a typed upstream event. The set is closed.
type Event interface {
	event()
}

// TextEvent carries a chunk of assistant text.
type TextEvent struct {
	Text string
}

// ToolStartEvent opens a tool call.
type ToolStartEvent struct {
	Name string
	ID   string
}

// ToolInputEvent carries a raw fragment of the tool call's JSON arguments.
type ToolInputEvent struct {
	Fragment string
}

// ToolStopEvent closes the open tool call.
type ToolStopEvent struct{}

// UsageEvent reports upstream metering units.
type UsageEvent struct {
	Units float64
}

// ContextUsageEvent reports how much of the context window the request used.
type ContextUsageEvent struct {
	Percent float64
}

func (TextEvent) event()         {}
func (ToolStartEvent) event()    {}
func (ToolInputEvent) event()    {}
func (ToolStopEvent) event()     {}
func (UsageEvent) event()        {}
func (ContextUsageEvent) event() {}

type rawPayload struct {
	Content                *string         `json:"content"`
	Name                   *string         `json:"name"`
	ToolUseID              *string         `json:"toolUseId"`
	Input                  json.RawMessage `json:"input"`
	Stop                   *bool           `json:"stop"`
	Usage                  *float64        `json:"usage"`
	ContextUsagePercentage *float64        `json:"contextUsagePercentage"`
}

// ParseEvents interprets one decoded payload. Tool payloads may combine
// start, input and stop keys; they expand in that order. Unknown payloads
// yield no events.
func ParseEvents(payload []byte) ([]Event, error) {
	var raw rawPayload
	if err := json.Unmarshal(payload, &raw); err != nil {
		return nil, fmt.Errorf("parse event payload: %w", err)
	}

	var events []Event
	if raw.Content != nil {
		events = append(events, TextEvent{Text: *raw.Content})
	}
	if raw.Name != nil && raw.ToolUseID != nil {
		events = append(events, ToolStartEvent{Name: *raw.Name, ID: *raw.ToolUseID})
	}
	if len(raw.Input) > 0 && string(raw.Input) != "null" {
		events = append(events, ToolInputEvent{Fragment: inputFragment(raw.Input)})
	}
	if raw.Stop != nil && *raw.Stop {
		events = append(events, ToolStopEvent{})
	}
	if raw.Usage != nil {
		events = append(events, UsageEvent{Units: *raw.Usage})
	}
	if raw.ContextUsagePercentage != nil {
		events = append(events, ContextUsageEvent{Percent: *raw.ContextUsagePercentage})
	}
	return events, nil
}

// inputFragment returns the argument text carried by an input key. Fragments
// normally arrive as JSON strings; an inline object is taken verbatim.
func inputFragment(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}
