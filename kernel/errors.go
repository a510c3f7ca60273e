package kernel

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sys/unix"
)

// Kind classifies a failed call
type Kind int

// Kinds of failure
const (
	// KindSpawn means the helper could not start the module process
	KindSpawn Kind = iota + 1
	// KindTimeout means the deadline elapsed and the process was killed
	KindTimeout
	// KindExited means the process exited nonzero, was killed by a signal
	// or wrote an invalid result
	KindExited
	// KindUnhandledWaitStatus means wait returned a status that is neither
	// exited nor signaled. It is a host bug.
	KindUnhandledWaitStatus
)

// Sentinels matching a ModuleError of each kind with errors.Is
var (
	ErrSpawn               = errors.New("spawn failed")
	ErrTimeout             = errors.New("timed out")
	ErrExited              = errors.New("exited abnormally")
	ErrUnhandledWaitStatus = errors.New("unhandled wait status")

	// ErrOutOfMemory is wrapped by a KindExited error when the cgroup
	// memory limit killed the process
	ErrOutOfMemory = errors.New("out of memory")
)

func (k Kind) sentinel() error {
	switch k {
	case KindSpawn:
		return ErrSpawn
	case KindTimeout:
		return ErrTimeout
	case KindExited:
		return ErrExited
	case KindUnhandledWaitStatus:
		return ErrUnhandledWaitStatus
	}
	return nil
}

func (k Kind) String() string {
	switch k {
	case KindSpawn:
		return "spawn"
	case KindTimeout:
		return "timeout"
	case KindExited:
		return "exited"
	case KindUnhandledWaitStatus:
		return "unhandled_wait_status"
	}
	return "unknown"
}

// ModuleError is the failure of a call
type ModuleError struct {
	Kind     Kind
	Slug     string
	Function string

	// ExitCode is the exit code, or minus the signal number when killed
	ExitCode int
	Signal   unix.Signal
	Timeout  time.Duration

	// Stderr is the captured diagnostic text, up to the log limit
	Stderr string

	Err error
}

func (e *ModuleError) Error() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "module %s: %s", e.Slug, e.Function)
	switch e.Kind {
	case KindTimeout:
		fmt.Fprintf(&sb, ": timed out after %v", e.Timeout)
	case KindExited:
		if e.Signal != 0 {
			fmt.Fprintf(&sb, ": killed by signal %v", e.Signal)
		} else {
			fmt.Fprintf(&sb, ": exited with code %d", e.ExitCode)
		}
	default:
		fmt.Fprintf(&sb, ": %v", e.Kind.sentinel())
	}
	if e.Err != nil {
		fmt.Fprintf(&sb, ": %v", e.Err)
	}
	if e.Stderr != "" {
		fmt.Fprintf(&sb, ": %s", strings.TrimSpace(e.Stderr))
	}
	return sb.String()
}

// Unwrap matches the kind sentinel and the underlying error
func (e *ModuleError) Unwrap() []error {
	errs := []error{e.Kind.sentinel()}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

// IsTimeout reports whether err is a timed out call
func IsTimeout(err error) bool {
	return errors.Is(err, ErrTimeout)
}

// IsExited reports whether err is an abnormally exited call
func IsExited(err error) bool {
	return errors.Is(err, ErrExited)
}

// outcome is the metric / span label of a call result
func outcome(err error) string {
	if err == nil {
		return "success"
	}
	var me *ModuleError
	if errors.As(err, &me) {
		return me.Kind.String()
	}
	return "error"
}
