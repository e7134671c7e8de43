package stream

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Finish reasons reported in the terminal fragment.
const (
	FinishStop      = "stop"
	FinishToolCalls = "tool_calls"
)

// Fragment is one unit of client-facing output. The set is closed.
type Fragment interface {
	fragment()
}

// TextFragment is a chunk of assistant text.
type TextFragment struct {
	Text string
}

// ToolCallFragment is a completed tool call. Index counts tool calls in the
// order they were opened.
type ToolCallFragment struct {
	Index     int
	ID        string
	Name      string
	Arguments string
}

// FinishFragment ends a response.
type FinishFragment struct {
	Reason          string
	Usage           float64
	ContextPercent  float64
	HasContextUsage bool
}

func (TextFragment) fragment()     {}
func (ToolCallFragment) fragment() {}
func (FinishFragment) fragment()   {}

// ProtocolViolation describes an out-of-order event that was ignored.
type ProtocolViolation struct {
	Event  string
	Reason string
}

func (e *ProtocolViolation) Error() string {
	return fmt.Sprintf("protocol violation on %s event: %s", e.Event, e.Reason)
}

type toolState int

const (
	toolStarted toolState = iota
	toolAccumulating
	toolStopped
)

type toolCall struct {
	index int
	id    string
	name  string
	args  strings.Builder
	state toolState
}

// Aggregator holds the state of one upstream response. It must not be
// reused for another response.
type Aggregator struct {
	// OnWarning, when set, is called for every ignored event.
	OnWarning func(error)

	calls    map[string]*toolCall
	open     *toolCall
	opened   int
	text     strings.Builder
	usage    float64
	context  float64
	hasCtx   bool
	warnings []error
	finished bool
}

// NewAggregator constructs an aggregator for a single response.
func NewAggregator() *Aggregator {
	return &Aggregator{calls: make(map[string]*toolCall)}
}

// Push applies one event and returns the fragments it completes, in order.
func (a *Aggregator) Push(ev Event) []Fragment {
	if a.finished {
		a.warn(&ProtocolViolation{Event: eventName(ev), Reason: "event after end of stream"})
		return nil
	}

	switch ev := ev.(type) {
	case TextEvent:
		if ev.Text == "" {
			return nil
		}
		a.text.WriteString(ev.Text)
		return []Fragment{TextFragment{Text: ev.Text}}

	case ToolStartEvent:
		return a.start(ev)

	case ToolInputEvent:
		if a.open == nil {
			a.warn(&ProtocolViolation{Event: "input", Reason: "no open tool call"})
			return nil
		}
		a.open.args.WriteString(ev.Fragment)
		a.open.state = toolAccumulating
		return nil

	case ToolStopEvent:
		if a.open == nil {
			a.warn(&ProtocolViolation{Event: "stop", Reason: "no open tool call"})
			return nil
		}
		return a.closeOpen(false)

	case UsageEvent:
		a.usage += ev.Units
		return nil

	case ContextUsageEvent:
		a.context = ev.Percent
		a.hasCtx = true
		return nil
	}
	return nil
}

func (a *Aggregator) start(ev ToolStartEvent) []Fragment {
	var out []Fragment
	if a.open != nil {
		// The upstream repeats name and id alongside each input chunk.
		if a.open.id == ev.ID {
			return nil
		}
		a.warn(&ProtocolViolation{Event: "start", Reason: fmt.Sprintf("tool call %q opened while %q is open", ev.ID, a.open.id)})
		out = a.closeOpen(true)
	}
	if _, seen := a.calls[ev.ID]; seen {
		a.warn(&ProtocolViolation{Event: "start", Reason: fmt.Sprintf("tool call %q already completed", ev.ID)})
		return out
	}

	call := &toolCall{index: a.opened, id: ev.ID, name: ev.Name, state: toolStarted}
	a.calls[ev.ID] = call
	a.open = call
	a.opened++
	return out
}

// closeOpen completes the open tool call. Calls closed without an explicit
// stop are only emitted when their arguments parse.
func (a *Aggregator) closeOpen(implicit bool) []Fragment {
	call := a.open
	a.open = nil
	call.state = toolStopped

	args := call.args.String()
	if strings.TrimSpace(args) == "" {
		args = "{}"
	}
	if implicit && !json.Valid([]byte(args)) {
		a.warn(&ProtocolViolation{Event: "stop", Reason: fmt.Sprintf("tool call %q ended with incomplete arguments", call.id)})
		return nil
	}

	return []Fragment{ToolCallFragment{
		Index:     call.index,
		ID:        call.id,
		Name:      call.name,
		Arguments: args,
	}}
}

// Finish ends the response. A tool call still open is closed first. The
// returned slice always ends with a FinishFragment.
func (a *Aggregator) Finish() []Fragment {
	if a.finished {
		return []Fragment{a.summary()}
	}

	var out []Fragment
	if a.open != nil {
		out = a.closeOpen(true)
	}
	a.finished = true
	return append(out, a.summary())
}

func (a *Aggregator) summary() FinishFragment {
	reason := FinishStop
	if a.opened > 0 {
		reason = FinishToolCalls
	}
	return FinishFragment{
		Reason:          reason,
		Usage:           a.usage,
		ContextPercent:  a.context,
		HasContextUsage: a.hasCtx,
	}
}

// Text returns all assistant text seen so far.
func (a *Aggregator) Text() string {
	return a.text.String()
}

// Warnings returns the protocol violations recorded so far.
func (a *Aggregator) Warnings() []error {
	return a.warnings
}

func (a *Aggregator) warn(err error) {
	a.warnings = append(a.warnings, err)
	if a.OnWarning != nil {
		a.OnWarning(err)
	}
}

func eventName(ev Event) string {
	switch ev.(type) {
	case TextEvent:
		return "content"
	case ToolStartEvent:
		return "start"
	case ToolInputEvent:
		return "input"
	case ToolStopEvent:
		return "stop"
	case UsageEvent:
		return "usage"
	case ContextUsageEvent:
		return "contextUsagePercentage"
	default:
		return "unknown"
	}
}
