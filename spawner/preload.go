package spawner

import (
	"fmt"
	"os"
	"slices"
	"sort"
	"sync"

	"go.uber.org/zap"
)

// PreloadFunc initializes part of the state shared by every module process
type PreloadFunc func(*PreloadContext) error

var (
	preloadMu    sync.RWMutex
	preloadFuncs = make(map[string]PreloadFunc)
)

// RegisterPreload makes a preload step available by name. It panics if
// the name is registered twice or fn is nil, like database/sql.Register.
// It is meant to be called from init.
func RegisterPreload(name string, fn PreloadFunc) {
	preloadMu.Lock()
	defer preloadMu.Unlock()

	if fn == nil {
		panic("spawner: RegisterPreload fn is nil")
	}
	if _, dup := preloadFuncs[name]; dup {
		panic("spawner: RegisterPreload called twice for " + name)
	}
	preloadFuncs[name] = fn
}

// PreloadNames lists the registered preload steps
func PreloadNames() []string {
	preloadMu.RLock()
	defer preloadMu.RUnlock()

	names := make([]string, 0, len(preloadFuncs))
	for n := range preloadFuncs {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func lookupPreload(name string) (PreloadFunc, bool) {
	preloadMu.RLock()
	defer preloadMu.RUnlock()

	fn, ok := preloadFuncs[name]
	return fn, ok
}

// PreloadContext is filled by the preload steps in the helper. Once every
// step ran it is frozen into a PreloadSet. Nothing secret may be stored here:
// every module process is handed what it holds.
type PreloadContext struct {
	Logger *zap.Logger

	// Executable is the file module processes are started from
	Executable string

	// Filters are the sealed seccomp filters for network denied [0] and
	// allowed [1]
	Filters [2]*os.File
}

// PreloadSet is the immutable result of preload
type PreloadSet struct {
	names      []string
	executable string
	filters    [2]*os.File
}

// runPreload runs the named steps in order. "executable" is always run first.
func runPreload(names []string, logger *zap.Logger) (*PreloadSet, error) {
	steps := []string{preloadExecutable}
	for _, n := range names {
		if !slices.Contains(steps, n) {
			steps = append(steps, n)
		}
	}

	ctx := &PreloadContext{Logger: logger}
	for _, n := range steps {
		fn, ok := lookupPreload(n)
		if !ok {
			ctx.close()
			return nil, fmt.Errorf("preload: unknown step %q", n)
		}
		if err := fn(ctx); err != nil {
			ctx.close()
			return nil, fmt.Errorf("preload: %s: %w", n, err)
		}
		logger.Debug("preload step done", zap.String("step", n))
	}
	return &PreloadSet{
		names:      steps,
		executable: ctx.Executable,
		filters:    ctx.Filters,
	}, nil
}

func (c *PreloadContext) close() {
	for _, f := range c.Filters {
		if f != nil {
			f.Close()
		}
	}
}

// Names returns the steps that ran
func (s *PreloadSet) Names() []string {
	return slices.Clone(s.names)
}

// filter returns the seccomp filter for the network setting
func (s *PreloadSet) filter(network bool) *os.File {
	if network {
		return s.filters[1]
	}
	return s.filters[0]
}
