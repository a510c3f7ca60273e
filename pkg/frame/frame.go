package frame

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
)

// HeaderSize is the size of the length prefix
const HeaderSize = 4

// Parse failures. Every error returned by Decode matches exactly one of them
// with errors.Is.
var (
	ErrTruncated    = errors.New("frame: truncated")
	ErrTrailingData = errors.New("frame: trailing data")
	ErrTooLarge     = errors.New("frame: too large")
	ErrMalformed    = errors.New("frame: malformed")
)

// Encode marshals v and prepends the length header
func Encode(v any) ([]byte, error) {
	body, err := Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("frame: encode: %w", err)
	}
	if uint64(len(body)) > math.MaxUint32 {
		return nil, fmt.Errorf("%w: %d bytes", ErrTooLarge, len(body))
	}
	b := make([]byte, HeaderSize+len(body))
	binary.BigEndian.PutUint32(b, uint32(len(body)))
	copy(b[HeaderSize:], body)
	return b, nil
}

// Write encodes v as a single frame and writes it with one call to w
func Write(w io.Writer, v any) error {
	b, err := Encode(v)
	if err != nil {
		return err
	}
	_, err = w.Write(b)
	return err
}

// Decode parses data as exactly one frame of at most budget body bytes into
// v. Bytes after the frame are an error.
func Decode(data []byte, budget int, v any) error {
	if len(data) < HeaderSize {
		return fmt.Errorf("%w: %d byte header", ErrTruncated, len(data))
	}
	n := uint64(binary.BigEndian.Uint32(data))
	if budget >= 0 && n > uint64(budget) {
		return fmt.Errorf("%w: %d bytes exceeds %d", ErrTooLarge, n, budget)
	}
	body := data[HeaderSize:]
	if uint64(len(body)) < n {
		return fmt.Errorf("%w: %d of %d bytes", ErrTruncated, len(body), n)
	}
	if extra := uint64(len(body)) - n; extra > 0 {
		return trailing(int(extra))
	}
	return Unmarshal(body[:n], v)
}

func trailing(n int) error {
	return fmt.Errorf("%w: %d bytes", ErrTrailingData, n)
}
