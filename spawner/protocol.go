package spawner

import (
	"syscall"

	"github.com/criyle/go-forkserver/sandbox"
)

// cmd is the control message send into the helper
type cmd struct {
	Cmd string // type of the cmd

	Preload *preloadCmd // preload argument
	Spawn   *spawnCmd   // spawn argument
}

// preloadCmd lists the preload steps to run
type preloadCmd struct {
	Names []string
}

// spawnCmd stores spawn parameter. The payload memfd rides as the first fd,
// followed by the cgroup directory when Cgroup is set.
type spawnCmd struct {
	ProcessName string
	Sandbox     sandbox.Config
	Cgroup      bool
}

// reply is the reply message send back to the host
type reply struct {
	Error *errorReply // nil if no error
	Spawn *spawnReply
}

// errorReply stores error returned back from the helper
type errorReply struct {
	Msg   string
	Errno *syscall.Errno
}

// spawnReply carries the pid, the stdout / stderr read ends ride as fds
type spawnReply struct {
	Pid int
}

func (e *errorReply) Error() string {
	return e.Msg
}

// Unwrap exposes the errno so callers can match it with errors.Is
func (e *errorReply) Unwrap() error {
	if e.Errno == nil {
		return nil
	}
	return *e.Errno
}
