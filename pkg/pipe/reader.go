// Package pipe provides non-blocking readers that collect at most max bytes
// from the read end of a pipe without ever stalling its writer.
package pipe

import (
	"bytes"
	"fmt"
	"strings"

	"golang.org/x/sys/unix"
)

const (
	// readChunk bounds each buffer growth so a large limit is only paid for
	// when the writer actually fills it
	readChunk = 64 << 10

	// discardChunk is the read size once the reader has overflowed
	discardChunk = 50 << 10
)

// BoundedReader accumulates at most Limit bytes from a non-blocking fd.
// Once the limit is reached, further bytes are read and dropped so the
// writer never blocks on a full pipe.
//
// BoundedReader does not own fd and never closes it.
type BoundedReader struct {
	fd         int
	limit      int
	buffer     bytes.Buffer
	overflowed bool
	eof        bool

	discard []byte
}

// NewBoundedReader sets fd to non-blocking mode and returns a reader that
// keeps at most limit bytes
func NewBoundedReader(fd int, limit int) (*BoundedReader, error) {
	if limit < 0 {
		return nil, fmt.Errorf("pipe: negative limit %d", limit)
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		return nil, fmt.Errorf("pipe: set nonblock fd(%d): %w", fd, err)
	}
	return &BoundedReader{fd: fd, limit: limit}, nil
}

// Ingest reads whatever is currently available on the fd. It never blocks:
// when nothing is available it returns with no state change. It is a no-op
// after EOF.
func (r *BoundedReader) Ingest() error {
	if r.eof {
		return nil
	}
	for allowed := r.limit - r.buffer.Len(); allowed > 0; allowed = r.limit - r.buffer.Len() {
		size := min(allowed, readChunk)
		r.buffer.Grow(size)
		p := r.buffer.AvailableBuffer()[:size]
		n, more, err := r.read(p)
		if err != nil || !more {
			return err
		}
		r.buffer.Write(p[:n])
	}

	// at the limit: read a single byte to tell "exactly full" from "overflowed"
	if !r.overflowed {
		var extra [1]byte
		_, more, err := r.read(extra[:])
		if err != nil || !more {
			return err
		}
		r.overflowed = true
	}

	if r.discard == nil {
		r.discard = make([]byte, discardChunk)
	}
	for {
		_, more, err := r.read(r.discard)
		if err != nil || !more {
			return err
		}
	}
}

// read performs one non-blocking read. more is false when the caller should
// stop: either no data is available now or the fd reached EOF.
func (r *BoundedReader) read(p []byte) (n int, more bool, err error) {
	for {
		n, err = unix.Read(r.fd, p)
		switch {
		case err == unix.EINTR:
			continue
		case err == unix.EAGAIN:
			return 0, false, nil
		case err != nil:
			return 0, false, fmt.Errorf("pipe: read fd(%d): %w", r.fd, err)
		case n == 0:
			r.eof = true
			return 0, false, nil
		}
		return n, true, nil
	}
}

// Fd returns the fd being read
func (r *BoundedReader) Fd() int {
	return r.fd
}

// Limit returns the maximum number of bytes kept
func (r *BoundedReader) Limit() int {
	return r.limit
}

// Bytes returns the accumulated bytes. The slice is valid until the next Ingest.
func (r *BoundedReader) Bytes() []byte {
	return r.buffer.Bytes()
}

// Len returns the number of accumulated bytes
func (r *BoundedReader) Len() int {
	return r.buffer.Len()
}

// Overflowed reports whether the writer produced more than Limit bytes
func (r *BoundedReader) Overflowed() bool {
	return r.overflowed
}

// EOF reports whether a read returned end of stream
func (r *BoundedReader) EOF() bool {
	return r.eof
}

// Text returns the accumulated bytes as UTF-8, replacing invalid sequences
func (r *BoundedReader) Text() string {
	return strings.ToValidUTF8(r.buffer.String(), "�")
}

func (r *BoundedReader) String() string {
	flag := ""
	switch {
	case r.overflowed:
		flag = ",overflow"
	case r.eof:
		flag = ",eof"
	}
	return fmt.Sprintf("BoundedReader[%d/%d%s]", r.buffer.Len(), r.limit, flag)
}
