package entry

import (
	"errors"
	"fmt"
	"os"
	"runtime/debug"

	"github.com/criyle/go-forkserver/pkg/frame"
	"github.com/criyle/go-forkserver/pkg/seccomp"
	"github.com/criyle/go-forkserver/sandbox"
	"github.com/criyle/go-forkserver/spawner"
	"golang.org/x/sys/unix"
)

// Exit codes of a module process besides the entry point's own
const (
	ExitCodeError   = 1
	ExitCodeCrash   = 70
	ExitCodeSandbox = 71
)

// payload and filter size bounds
const (
	maxPayload = 256 << 20
	maxFilter  = 4096 * 8
)

// Init is called for the module process, otherwise it is noop. In the module
// process it reads the request, applies the sandbox, runs the entry point and
// exits. Use it in init function, after spawner.Init.
func Init() {
	if len(os.Args) < 2 || os.Args[1] != spawner.ChildArg {
		return
	}
	os.Exit(Main())
}

// Main runs the module process and returns its exit code
func Main() (code int) {
	defer func() {
		if r := recover(); r != nil {
			fmt.Fprintf(os.Stderr, "panic: %v\n\n%s", r, debug.Stack())
			code = ExitCodeCrash
		}
	}()

	req, err := setup()
	if err != nil {
		fmt.Fprintf(os.Stderr, "sandbox: %v\n", err)
		return ExitCodeSandbox
	}

	fn, ok := Lookup(req.Function)
	if !ok {
		fmt.Fprintf(os.Stderr, "unknown entry point %q\n", req.Function)
		return ExitCodeError
	}
	ctx := &Context{
		Function: req.Function,
		Module:   req.Module,
		Sandbox:  req.Sandbox,
		Stderr:   os.Stderr,
	}
	result, err := fn(ctx, req.Args)
	if err != nil {
		var exit *ExitError
		if errors.As(err, &exit) {
			return exit.Code
		}
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return ExitCodeError
	}
	if err := frame.Write(os.Stdout, result); err != nil {
		fmt.Fprintf(os.Stderr, "write result: %v\n", err)
		return ExitCodeError
	}
	return 0
}

// setup reads the request and the filter, drops the fds that carried them
// and applies the sandbox
func setup() (*Request, error) {
	b, err := readFd(spawner.PayloadFd, maxPayload)
	if err != nil {
		return nil, fmt.Errorf("read request: %w", err)
	}
	req := new(Request)
	if err := frame.Decode(b, maxPayload, req); err != nil {
		return nil, fmt.Errorf("decode request: %w", err)
	}

	var filter seccomp.Filter
	var setupFds []int
	if req.Sandbox.Steps&sandbox.StepSeccomp != 0 {
		if filter, err = readFd(spawner.FilterFd, maxFilter); err != nil {
			return nil, fmt.Errorf("read filter: %w", err)
		}
		setupFds = append(setupFds, spawner.FilterFd)
	}
	if err := sandbox.CloseInherited(setupFds...); err != nil {
		return nil, err
	}
	if err := sandbox.Apply(&req.Sandbox, filter); err != nil {
		return nil, err
	}
	return req, nil
}

// readFd reads the whole sealed memfd with pread, leaving the shared file
// offset alone
func readFd(fd int, limit int64) ([]byte, error) {
	var st unix.Stat_t
	if err := unix.Fstat(fd, &st); err != nil {
		return nil, err
	}
	if st.Size > limit {
		return nil, fmt.Errorf("fd %d: %d bytes exceeds %d", fd, st.Size, limit)
	}
	b := make([]byte, st.Size)
	for off := 0; off < len(b); {
		n, err := unix.Pread(fd, b[off:], int64(off))
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return nil, err
		}
		if n == 0 {
			return nil, fmt.Errorf("fd %d: short read %d of %d", fd, off, len(b))
		}
		off += n
	}
	return b, nil
}
