package entry

import (
	"bytes"
	"errors"
	"testing"

	"github.com/criyle/go-forkserver/pkg/frame"
	"github.com/criyle/go-forkserver/pkg/memfd"
	"github.com/criyle/go-forkserver/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type addArgs struct {
	A int `cbor:"a"`
	B int `cbor:"b"`
}

func add(_ *Context, args addArgs) (int, error) {
	return args.A + args.B, nil
}

func TestRegister(t *testing.T) {
	Register("test_add", Typed(add))
	assert.Panics(t, func() { Register("test_add", Typed(add)) })
	assert.Panics(t, func() { Register("test_nil", nil) })

	fn, ok := Lookup("test_add")
	require.True(t, ok)
	assert.Contains(t, Names(), "test_add")

	_, ok = Lookup("test_missing")
	assert.False(t, ok)

	args, err := frame.Marshal(addArgs{A: 2, B: 3})
	require.NoError(t, err)
	got, err := fn(&Context{Function: "test_add"}, args)
	require.NoError(t, err)
	assert.Equal(t, 5, got)
}

func TestTyped_StrictArguments(t *testing.T) {
	fn := Typed(add)
	args, err := frame.Marshal(map[string]any{"a": 1, "c": 2})
	require.NoError(t, err)

	_, err = fn(&Context{Function: "add"}, args)
	assert.ErrorIs(t, err, frame.ErrMalformed)
	assert.ErrorContains(t, err, "add: invalid arguments")

	got, err := fn(&Context{}, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, got, "no arguments decodes to the zero value")
}

func TestExitError(t *testing.T) {
	var err error = &ExitError{Code: 3}
	var exit *ExitError
	require.True(t, errors.As(err, &exit))
	assert.Equal(t, "exit status 3", err.Error())
}

func TestRequest_RoundTrip(t *testing.T) {
	args, err := frame.Marshal([]string{"x"})
	require.NoError(t, err)
	req := &Request{
		Function: types.FuncEcho,
		Module:   types.NewCompiledModule("mod", []byte("code")),
		Args:     args,
	}
	b, err := EncodeRequest(req)
	require.NoError(t, err)

	var got Request
	require.NoError(t, frame.Decode(b, 1<<20, &got))
	assert.Equal(t, req.Function, got.Function)
	assert.Equal(t, req.Module, got.Module)
	assert.Equal(t, []byte(req.Args), []byte(got.Args))
	require.NoError(t, got.Module.Verify())
}

func TestReadFd(t *testing.T) {
	content := bytes.Repeat([]byte("payload"), 10000)
	f, err := memfd.FromBytes("test", content)
	require.NoError(t, err)
	defer f.Close()

	// reading twice proves the shared offset is untouched
	for range 2 {
		got, err := readFd(int(f.Fd()), 1<<20)
		require.NoError(t, err)
		assert.Equal(t, content, got)
	}

	_, err = readFd(int(f.Fd()), 10)
	assert.Error(t, err)

	_, err = readFd(-1, 10)
	assert.Error(t, err)
}
