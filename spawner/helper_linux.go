package spawner

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"runtime"
	"syscall"

	"github.com/criyle/go-forkserver/pkg/unixsocket"
	"github.com/criyle/go-forkserver/sandbox"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

type helperServer struct {
	socket  *socket
	logger  *zap.Logger
	preload *PreloadSet
	env     []string
}

// Init is called for the helper process, otherwise it is noop.
// Init will do infinite loop on socket commands, and exits the process when
// the socket closes, use it in init function
func Init() (err error) {
	// noop if self is not the helper process
	if len(os.Args) < 2 || os.Args[1] != initArg {
		return nil
	}

	// exit process upon exit this function
	// possible reason:
	// 1. socket closed (host closed the client or exited)
	// 2. panic
	// 3. protocol violation
	defer func() {
		if err := recover(); err != nil {
			fmt.Fprintf(os.Stderr, "forkserver_exit: panic: %v\n", err)
			os.Exit(1)
		}
		if err != nil {
			fmt.Fprintf(os.Stderr, "forkserver_exit: %v\n", err)
			os.Exit(1)
		}
		os.Exit(0)
	}()

	// the helper serves one request at a time
	runtime.GOMAXPROCS(helperMaxProc)

	// the host shared the socket at fd 3
	const defaultFd = 3
	soc, err := unixsocket.NewSocket(defaultFd)
	if err != nil {
		return fmt.Errorf("forkserver_init: failed to new socket %w", err)
	}

	hs := &helperServer{
		socket: newSocket(soc),
		logger: newHelperLogger(),
		env:    os.Environ(),
	}
	defer hs.logger.Sync()
	return hs.serve()
}

func newHelperLogger() *zap.Logger {
	l, err := zap.NewProduction()
	if err != nil {
		return zap.NewNop()
	}
	return l.With(zap.String("component", "forkserver_helper"), zap.Int("pid", os.Getpid()))
}

func (s *helperServer) serve() error {
	for {
		var c cmd
		msg, err := s.socket.RecvMsg(&c)
		if errors.Is(err, io.EOF) {
			s.logger.Debug("control channel closed")
			return nil
		}
		if err != nil {
			return fmt.Errorf("serve: recvCmd %w", err)
		}
		if err := s.handleCmd(&c, msg); err != nil {
			return fmt.Errorf("serve: failed to execute cmd %w", err)
		}
	}
}

func (s *helperServer) handleCmd(c *cmd, msg unixsocket.Msg) error {
	switch c.Cmd {
	case cmdPreload:
		unixsocket.CloseFds(msg.Fds)
		return s.handlePreload(c.Preload)

	case cmdSpawn:
		return s.handleSpawn(c.Spawn, msg)
	}
	unixsocket.CloseFds(msg.Fds)
	return fmt.Errorf("unknown command: %v", c.Cmd)
}

func (s *helperServer) handlePreload(c *preloadCmd) error {
	if s.preload != nil {
		return fmt.Errorf("preload: already preloaded")
	}
	if c == nil {
		return s.sendErrorReply("preload: no argument")
	}
	p, err := runPreload(c.Names, s.logger)
	if err != nil {
		return s.sendErrorReply("%v", err)
	}
	s.preload = p
	s.logger.Info("preloaded", zap.Strings("steps", p.Names()))
	return s.socket.SendMsg(reply{}, unixsocket.Msg{})
}

func (s *helperServer) handleSpawn(c *spawnCmd, msg unixsocket.Msg) error {
	want := 1
	if c != nil && c.Cgroup {
		want = 2
	}
	if len(msg.Fds) != want {
		unixsocket.CloseFds(msg.Fds)
		return s.sendErrorReply("spawn: expected %d fds, got %d", want, len(msg.Fds))
	}
	payload := os.NewFile(uintptr(msg.Fds[0]), "payload")
	defer payload.Close()
	var cgroup *os.File
	if want == 2 {
		cgroup = os.NewFile(uintptr(msg.Fds[1]), "cgroup")
		defer cgroup.Close()
	}

	if s.preload == nil {
		return s.sendErrorReply("spawn: not preloaded")
	}
	if c == nil {
		return s.sendErrorReply("spawn: no argument")
	}

	pid, stdout, stderr, err := s.start(c, payload, cgroup)
	if err != nil {
		s.logger.Warn("spawn failed", zap.String("process", c.ProcessName), zap.Error(err))
		return s.sendErrorReply("spawn: %w", err)
	}
	// the helper must not keep any way to read the child's output
	defer stdout.Close()
	defer stderr.Close()

	rep := reply{
		Spawn: &spawnReply{Pid: pid},
	}
	return s.socket.SendMsg(rep, unixsocket.Msg{
		Fds: []int{int(stdout.Fd()), int(stderr.Fd())},
	})
}

// start starts the module process as a sibling of the helper and returns the
// read ends of its stdout / stderr pipes. A non-nil cgroup is entered with
// CLONE_INTO_CGROUP, before the process runs any code.
func (s *helperServer) start(c *spawnCmd, payload, cgroup *os.File) (int, *os.File, *os.File, error) {
	var extraFiles []*os.File
	if c.Sandbox.Steps&sandbox.StepSeccomp != 0 {
		f := s.preload.filter(c.Sandbox.Network)
		if f == nil {
			return 0, nil, nil, fmt.Errorf("seccomp filter is not preloaded")
		}
		extraFiles = append(extraFiles, f)
	}

	stdoutR, stdoutW, err := os.Pipe()
	if err != nil {
		return 0, nil, nil, err
	}
	defer stdoutW.Close()

	stderrR, stderrW, err := os.Pipe()
	if err != nil {
		stdoutR.Close()
		return 0, nil, nil, err
	}
	defer stderrW.Close()

	attr := &syscall.SysProcAttr{
		Cloneflags: unix.CLONE_PARENT | c.Sandbox.CloneFlags(),
	}
	if attr.Cloneflags&unix.CLONE_NEWUSER != 0 {
		attr.UidMappings, attr.GidMappings = sandbox.IDMappings()
	}
	if cgroup != nil {
		attr.UseCgroupFD = true
		attr.CgroupFD = int(cgroup.Fd())
	}

	r := exec.Cmd{
		Path:        s.preload.executable,
		Args:        []string{c.ProcessName, ChildArg},
		Env:         s.env,
		Dir:         "/",
		Stdin:       payload,
		Stdout:      stdoutW,
		Stderr:      stderrW,
		ExtraFiles:  extraFiles,
		SysProcAttr: attr,
	}
	if err := r.Start(); err != nil {
		stdoutR.Close()
		stderrR.Close()
		return 0, nil, nil, err
	}
	pid := r.Process.Pid
	// the host waits for the process, the helper keeps no bookkeeping
	r.Process.Release()
	return pid, stdoutR, stderrR, nil
}

// sendErrorReply sends error reply, an errno in the args is kept so the
// host can match it
func (s *helperServer) sendErrorReply(ft string, v ...any) error {
	err := fmt.Errorf(ft, v...)
	errRep := &errorReply{
		Msg: err.Error(),
	}
	var errno syscall.Errno
	if errors.As(err, &errno) {
		errRep.Errno = &errno
	}
	return s.socket.SendMsg(reply{Error: errRep}, unixsocket.Msg{})
}
