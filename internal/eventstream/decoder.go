// Package eventstream frames the upstream's binary event stream.
//
// Each frame is laid out as
//
//	total length (4) | headers length (4) | prelude crc (4) | headers | payload | message crc (4)
//
// with big-endian integers and IEEE CRC32 checksums. The Decoder only
// frames and validates; payloads are handed back as raw JSON.
package eventstream

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"

	awsstream "github.com/aws/aws-sdk-go-v2/aws/protocol/eventstream"
)

const (
	preludeLen  = 12
	checksumLen = 4
	minFrameLen = preludeLen + checksumLen
	maxFrameLen = 16 << 20
)

// ErrNeedMore is returned by Decoder.Next when the buffer holds no complete frame.
var ErrNeedMore = errors.New("eventstream: need more bytes")

var (
	// ErrBadPrelude marks bytes skipped while searching for a valid prelude.
	ErrBadPrelude = errors.New("invalid frame prelude")
	// ErrTruncated marks bytes left over when the stream ended mid-frame.
	ErrTruncated = errors.New("truncated frame")
)

// DecodeError reports one rejected region of the stream. Decoding continues
// after it.
type DecodeError struct {
	Offset int64
	Length int
	Err    error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("eventstream: dropped %d bytes at offset %d: %v", e.Length, e.Offset, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// Frame is one decoded wire message.
type Frame struct {
	EventType     string
	MessageType   string
	ExceptionType string
	ContentType   string
	Payload       []byte
}

// IsException reports whether the frame carries an upstream error instead of an event.
func (f Frame) IsException() bool {
	return f.MessageType == "exception" || f.MessageType == "error"
}

// Decoder incrementally frames a byte stream fed in arbitrary chunks. It is
// not safe for concurrent use and must not be shared between responses.
type Decoder struct {
	buf    []byte
	offset int64

	skipped   int
	skipStart int64

	msg *awsstream.Decoder
}

// NewDecoder constructs an empty decoder.
func NewDecoder() *Decoder {
	return &Decoder{msg: awsstream.NewDecoder()}
}

// Feed appends p to the internal buffer. p is copied.
func (d *Decoder) Feed(p []byte) {
	d.buf = append(d.buf, p...)
}

// Buffered reports the number of bytes not yet consumed.
func (d *Decoder) Buffered() int {
	return len(d.buf)
}

// Next returns the next frame in the buffer. It returns ErrNeedMore when more
// input is required and a *DecodeError for a rejected frame or a run of
// unusable bytes; in both cases the caller may keep calling Next.
func (d *Decoder) Next() (Frame, error) {
	for {
		if len(d.buf) < preludeLen {
			return Frame{}, ErrNeedMore
		}

		total, ok := checkPrelude(d.buf[:preludeLen])
		if !ok {
			// The declared length can't be trusted, so slide forward a byte at a time.
			if d.skipped == 0 {
				d.skipStart = d.offset
			}
			d.skipped++
			d.discard(1)
			continue
		}
		if d.skipped > 0 {
			return Frame{}, d.flushSkipped()
		}

		if len(d.buf) < total {
			return Frame{}, ErrNeedMore
		}

		start := d.offset
		msg, err := d.msg.Decode(bytes.NewReader(d.buf[:total]), nil)
		d.discard(total)
		if err != nil {
			return Frame{}, &DecodeError{Offset: start, Length: total, Err: err}
		}
		return toFrame(msg), nil
	}
}

// Close reports any bytes that never formed a frame and resets the buffer.
func (d *Decoder) Close() error {
	if d.skipped > 0 {
		err := d.flushSkipped()
		if len(d.buf) > 0 {
			err.Length += len(d.buf)
			d.discard(len(d.buf))
		}
		return err
	}
	if len(d.buf) == 0 {
		return nil
	}
	err := &DecodeError{Offset: d.offset, Length: len(d.buf), Err: ErrTruncated}
	d.discard(len(d.buf))
	return err
}

func (d *Decoder) flushSkipped() *DecodeError {
	err := &DecodeError{Offset: d.skipStart, Length: d.skipped, Err: ErrBadPrelude}
	d.skipped = 0
	return err
}

func (d *Decoder) discard(n int) {
	d.buf = d.buf[n:]
	d.offset += int64(n)
	if len(d.buf) == 0 {
		d.buf = nil
	}
}

// checkPrelude validates the prelude checksum and declared lengths and returns
// the total frame length.
func checkPrelude(p []byte) (int, bool) {
	total := binary.BigEndian.Uint32(p[0:4])
	headers := binary.BigEndian.Uint32(p[4:8])
	if crc32.ChecksumIEEE(p[:8]) != binary.BigEndian.Uint32(p[8:12]) {
		return 0, false
	}
	if total < minFrameLen || total > maxFrameLen || headers > total-minFrameLen {
		return 0, false
	}
	return int(total), true
}

func toFrame(msg awsstream.Message) Frame {
	return Frame{
		EventType:     headerString(msg.Headers, ":event-type"),
		MessageType:   headerString(msg.Headers, ":message-type"),
		ExceptionType: headerString(msg.Headers, ":exception-type"),
		ContentType:   headerString(msg.Headers, ":content-type"),
		Payload:       msg.Payload,
	}
}

func headerString(h awsstream.Headers, name string) string {
	v := h.Get(name)
	if v == nil {
		return ""
	}
	return v.String()
}
