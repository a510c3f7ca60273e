// Package entry holds the entry points a module process can run and the main
// routine of the module process itself.
package entry

import (
	"fmt"
	"io"
	"sort"
	"sync"

	"github.com/criyle/go-forkserver/pkg/frame"
	"github.com/criyle/go-forkserver/sandbox"
	"github.com/criyle/go-forkserver/types"
)

// Context is what an entry point gets besides its arguments
type Context struct {
	Function string
	Module   types.CompiledModule
	Sandbox  sandbox.Config

	// Stderr is the diagnostic stream read back by the host
	Stderr io.Writer
}

// Func is an entry point. The returned value is written back to the host as
// the single result frame.
type Func func(ctx *Context, args frame.RawMessage) (any, error)

// ExitError makes the module process exit with Code without writing a
// result or an error message
type ExitError struct {
	Code int
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("exit status %d", e.Code)
}

var (
	mu    sync.RWMutex
	funcs = make(map[string]Func)
)

// Register makes an entry point available by name. It panics if the name is
// registered twice or fn is nil. It is meant to be called from init, so the
// registry is identical in the host and every module process.
func Register(name string, fn Func) {
	mu.Lock()
	defer mu.Unlock()

	if fn == nil {
		panic("entry: Register fn is nil")
	}
	if _, dup := funcs[name]; dup {
		panic("entry: Register called twice for " + name)
	}
	funcs[name] = fn
}

// Lookup returns the entry point registered under name
func Lookup(name string) (Func, bool) {
	mu.RLock()
	defer mu.RUnlock()

	fn, ok := funcs[name]
	return fn, ok
}

// Names lists registered entry points
func Names() []string {
	mu.RLock()
	defer mu.RUnlock()

	names := make([]string, 0, len(funcs))
	for n := range funcs {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Typed adapts a function with typed arguments and result. Arguments are
// strictly decoded: unknown fields fail the call.
func Typed[A, R any](fn func(*Context, A) (R, error)) Func {
	return func(ctx *Context, raw frame.RawMessage) (any, error) {
		var args A
		if len(raw) > 0 {
			if err := frame.Unmarshal(raw, &args); err != nil {
				return nil, fmt.Errorf("%s: invalid arguments: %w", ctx.Function, err)
			}
		}
		return fn(ctx, args)
	}
}
