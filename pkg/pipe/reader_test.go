package pipe

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func newPipe(t *testing.T) (int, int) {
	t.Helper()
	var p [2]int
	require.NoError(t, unix.Pipe2(p[:], unix.O_CLOEXEC))
	t.Cleanup(func() {
		unix.Close(p[0])
	})
	return p[0], p[1]
}

// drain ingests until EOF, waiting on readiness between calls
func drain(t *testing.T, r *BoundedReader) {
	t.Helper()
	var p Poller
	p.Add(r.Fd())
	for !r.EOF() {
		_, err := p.Wait(5 * time.Second)
		require.NoError(t, err)
		require.NoError(t, r.Ingest())
	}
}

// writeChunks writes data in chunks of size n from a goroutine and closes w
func writeChunks(w int, data []byte, n int) {
	go func() {
		defer unix.Close(w)
		for len(data) > 0 {
			c := min(n, len(data))
			m, err := unix.Write(w, data[:c])
			if err != nil {
				return
			}
			data = data[m:]
		}
	}()
}

func TestBoundedReader_Property(t *testing.T) {
	tests := []struct {
		name  string
		limit int
		size  int
		chunk int
	}{
		{"Empty", 16, 0, 1},
		{"Under", 16, 10, 3},
		{"Exact", 16, 16, 16},
		{"OneOver", 16, 17, 1},
		{"ZeroLimit", 0, 5, 2},
		{"ZeroLimitEmpty", 0, 0, 1},
		{"LargeUnder", 1 << 20, 300 << 10, 4096},
		{"LargeOver", 64 << 10, 1 << 20, 7 << 10},
		{"LargeExact", 128 << 10, 128 << 10, 1000},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			r, w := newPipe(t)
			data := bytes.Repeat([]byte("0123456789abcdef"), tc.size/16+1)[:tc.size]
			writeChunks(w, data, tc.chunk)

			br, err := NewBoundedReader(r, tc.limit)
			require.NoError(t, err)
			drain(t, br)

			want := min(tc.size, tc.limit)
			assert.Equal(t, want, br.Len())
			assert.Equal(t, string(data[:want]), string(br.Bytes()))
			assert.Equal(t, tc.size > tc.limit, br.Overflowed())
			assert.True(t, br.EOF())
		})
	}
}

func TestBoundedReader_NoDataDoesNotBlock(t *testing.T) {
	r, w := newPipe(t)
	defer unix.Close(w)

	br, err := NewBoundedReader(r, 8)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- br.Ingest() }()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Ingest blocked on an empty pipe")
	}
	assert.Equal(t, 0, br.Len())
	assert.False(t, br.EOF())
	assert.False(t, br.Overflowed())
}

func TestBoundedReader_ExactLimitThenMore(t *testing.T) {
	r, w := newPipe(t)
	br, err := NewBoundedReader(r, 4)
	require.NoError(t, err)

	_, err = unix.Write(w, []byte("abcd"))
	require.NoError(t, err)
	require.NoError(t, br.Ingest())
	assert.Equal(t, "abcd", string(br.Bytes()))
	assert.False(t, br.Overflowed(), "a full buffer is not an overflow until another byte arrives")

	_, err = unix.Write(w, []byte("e"))
	require.NoError(t, err)
	require.NoError(t, br.Ingest())
	assert.True(t, br.Overflowed())
	assert.Equal(t, "abcd", string(br.Bytes()))

	unix.Close(w)
	drain(t, br)
	assert.True(t, br.EOF())
}

func TestBoundedReader_GrowsWithData(t *testing.T) {
	r, w := newPipe(t)
	writeChunks(w, []byte("0123456789"), 10)

	br, err := NewBoundedReader(r, 2<<20)
	require.NoError(t, err)
	drain(t, br)

	assert.Equal(t, "0123456789", string(br.Bytes()))
	assert.LessOrEqual(t, br.buffer.Cap(), 4*readChunk)
}

func TestBoundedReader_IngestAfterEOF(t *testing.T) {
	r, w := newPipe(t)
	br, err := NewBoundedReader(r, 4)
	require.NoError(t, err)
	unix.Close(w)

	drain(t, br)
	require.True(t, br.EOF())
	require.NoError(t, br.Ingest())
	assert.True(t, br.EOF())
	assert.Equal(t, 0, br.Len())
}

func TestBoundedReader_Text(t *testing.T) {
	r, w := newPipe(t)
	writeChunks(w, []byte("ok \xff\xfe"), 16)
	br, err := NewBoundedReader(r, 16)
	require.NoError(t, err)
	drain(t, br)
	assert.Equal(t, "ok �", br.Text())
	assert.Equal(t, "BoundedReader[5/16,eof]", br.String())
}

func TestNewBoundedReader_InvalidFd(t *testing.T) {
	_, err := NewBoundedReader(-1, 8)
	assert.Error(t, err)

	_, err = NewBoundedReader(0, -1)
	assert.Error(t, err)
}

func TestPoller_Timeout(t *testing.T) {
	r, w := newPipe(t)
	defer unix.Close(w)

	var p Poller
	p.Add(r)
	start := time.Now()
	ready, err := p.Wait(50 * time.Millisecond)
	require.NoError(t, err)
	assert.Empty(t, ready)
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
}

func TestPoller_AddRemove(t *testing.T) {
	r1, w1 := newPipe(t)
	r2, w2 := newPipe(t)
	defer unix.Close(w2)

	var p Poller
	p.Add(r1)
	p.Add(r2)
	assert.Equal(t, 2, p.Len())

	unix.Close(w1)
	ready, err := p.Wait(time.Second)
	require.NoError(t, err)
	assert.Equal(t, []int{r1}, ready)

	p.Remove(r1)
	p.Remove(r1)
	assert.Equal(t, 1, p.Len())

	p.Remove(r2)
	_, err = p.Wait(0)
	assert.Error(t, err)
}
