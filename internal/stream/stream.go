package stream

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"kiro-gateway/internal/eventstream"
)

// FrameSource yields decoded frames. *eventstream.Reader satisfies it.
type FrameSource interface {
	Next() (eventstream.Frame, error)
}

// ExceptionError is an error reported by the upstream inside the stream.
type ExceptionError struct {
	Type    string
	Message string
}

func (e *ExceptionError) Error() string {
	if e.Type == "" {
		return "upstream exception: " + e.Message
	}
	return fmt.Sprintf("upstream exception %s: %s", e.Type, e.Message)
}

// Stream pulls frames from a source and yields fragments one at a time.
type Stream struct {
	src     FrameSource
	agg     *Aggregator
	onWarn  func(error)
	pending []Fragment
	done    bool
	err     error
}

// Option configures a Stream.
type Option func(*Stream)

// WithWarningHandler installs a callback for non-fatal decode and protocol
// problems.
func WithWarningHandler(fn func(error)) Option {
	return func(s *Stream) { s.onWarn = fn }
}

// New constructs a Stream over src with a fresh Aggregator.
func New(src FrameSource, opts ...Option) *Stream {
	s := &Stream{src: src, agg: NewAggregator()}
	for _, opt := range opts {
		opt(s)
	}
	s.agg.OnWarning = s.warn
	return s
}

// Next returns the next fragment. The last fragment of a complete response is
// a FinishFragment, after which Next returns io.EOF. Transport failures and
// upstream exceptions end the stream without a FinishFragment.
func (s *Stream) Next() (Fragment, error) {
	for {
		if len(s.pending) > 0 {
			f := s.pending[0]
			s.pending = s.pending[1:]
			return f, nil
		}
		if s.done {
			return nil, s.err
		}

		frame, err := s.src.Next()
		if err != nil {
			var de *eventstream.DecodeError
			switch {
			case errors.As(err, &de):
				s.warn(de)
			case errors.Is(err, io.EOF):
				s.pending = s.agg.Finish()
				s.end(io.EOF)
			default:
				s.end(err)
			}
			continue
		}

		if frame.IsException() {
			s.end(exceptionFrom(frame))
			continue
		}

		events, err := ParseEvents(frame.Payload)
		if err != nil {
			s.warn(err)
			continue
		}
		for _, ev := range events {
			s.pending = append(s.pending, s.agg.Push(ev)...)
		}
	}
}

// Text returns the assistant text produced so far.
func (s *Stream) Text() string {
	return s.agg.Text()
}

func (s *Stream) end(err error) {
	s.done = true
	s.err = err
}

func (s *Stream) warn(err error) {
	if s.onWarn != nil {
		s.onWarn(err)
	}
}

func exceptionFrom(frame eventstream.Frame) *ExceptionError {
	var body struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(frame.Payload, &body); err != nil || body.Message == "" {
		body.Message = string(frame.Payload)
	}
	return &ExceptionError{Type: frame.ExceptionType, Message: body.Message}
}
