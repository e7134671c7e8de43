package eventstream

import (
	"errors"
	"io"
)

const readChunk = 32 << 10

// Reader pulls frames from an io.Reader.
type Reader struct {
	src io.Reader
	dec *Decoder
	buf []byte
	err error
}

// NewReader wraps src.
func NewReader(src io.Reader) *Reader {
	return &Reader{src: src, dec: NewDecoder(), buf: make([]byte, readChunk)}
}

// Next returns the next frame. A *DecodeError is non-fatal: the caller may
// call Next again. Any other error, including io.EOF, ends the stream.
func (r *Reader) Next() (Frame, error) {
	for {
		frame, err := r.dec.Next()
		if !errors.Is(err, ErrNeedMore) {
			return frame, err
		}

		if r.err != nil {
			if tail := r.dec.Close(); tail != nil {
				return Frame{}, tail
			}
			return Frame{}, r.err
		}

		n, err := r.src.Read(r.buf)
		if n > 0 {
			r.dec.Feed(r.buf[:n])
		}
		if err != nil {
			r.err = err
		}
	}
}
