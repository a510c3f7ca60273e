package spawner

import (
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/criyle/go-forkserver/pkg/memfd"
	"github.com/criyle/go-forkserver/pkg/unixsocket"
	"github.com/criyle/go-forkserver/sandbox"
	"go.uber.org/zap"
)

// maxProcessNameLen keeps a spawn command well within one packet
const maxProcessNameLen = 255

// Builder starts the helper process
type Builder struct {
	// ExecFile defines executable that called Init, otherwise defer current
	// executable (os.Args[0])
	ExecFile string

	// Env is the complete environment of the helper and every module
	// process, empty uses PathEnv only. The host environment is never
	// inherited.
	Env []string

	// Preload names the preload steps run before the first spawn
	Preload []string

	// Stderr receives the helper's own log output, nil discards it
	Stderr io.Writer

	Logger *zap.Logger
}

// SpawnRequest describes one module process
type SpawnRequest struct {
	// ProcessName is argv[0] of the module process
	ProcessName string

	// Payload is readable by the module process on fd 0
	Payload []byte

	Sandbox sandbox.Config

	// Cgroup is an open cgroup v2 directory the process starts in, nil
	// keeps the helper's cgroup
	Cgroup *os.File
}

// Client is the host side of the control channel. It is safe for concurrent
// use; only the request / response exchange is serialized.
type Client struct {
	process *os.Process // underlying helper process
	socket  *socket     // host - helper communication
	mu      sync.Mutex  // lock to avoid race condition
	logger  *zap.Logger

	done     chan struct{}
	closeErr error
	once     sync.Once
}

// Start starts the helper and runs preload
func (b *Builder) Start() (*Client, error) {
	logger := b.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	// prepare host <-> helper unix socket
	ins, outs, err := unixsocket.NewSocketPair()
	if err != nil {
		return nil, fmt.Errorf("spawner: failed to create socket: %w", err)
	}
	defer outs.Close()

	// every reply carries the sender credential, checked against the helper
	if err = ins.SetPassCred(1); err != nil {
		ins.Close()
		return nil, fmt.Errorf("spawner: failed to set SO_PASSCRED %w", err)
	}

	outf, err := outs.File()
	if err != nil {
		ins.Close()
		return nil, fmt.Errorf("spawner: failed to dup helper socket fd %w", err)
	}
	defer outf.Close()

	args := []string{os.Args[0], initArg}
	path := args[0]
	if b.ExecFile != "" {
		path = b.ExecFile
	}
	env := b.Env
	if len(env) == 0 {
		env = []string{PathEnv}
	}

	r := exec.Cmd{
		Path:       path,
		Args:       args,
		Env:        env,
		Stderr:     b.Stderr,
		ExtraFiles: []*os.File{outf},
	}
	if err = r.Start(); err != nil {
		ins.Close()
		return nil, fmt.Errorf("spawner: failed to start helper %w", err)
	}
	c := &Client{
		process: r.Process,
		socket:  newSocket(ins),
		logger:  logger.With(zap.Int("helper_pid", r.Process.Pid)),
		done:    make(chan struct{}),
	}
	go c.waitHelper()

	if err = c.preload(b.Preload); err != nil {
		c.Close()
		return nil, err
	}
	c.logger.Info("spawner started", zap.Strings("preload", b.Preload))
	return c, nil
}

// preload sends the one-time preload command
func (c *Client) preload(names []string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	// avoid infinite wait if the executable does not call Init
	const preloadWait = 10 * time.Second
	c.socket.SetDeadline(time.Now().Add(preloadWait))
	defer c.socket.SetDeadline(time.Time{})

	cmd := cmd{
		Cmd:     cmdPreload,
		Preload: &preloadCmd{Names: names},
	}
	if err := c.socket.SendMsg(&cmd, unixsocket.Msg{}); err != nil {
		return fmt.Errorf("preload: %w", err)
	}
	rep, msg, err := c.recvReply()
	if err != nil {
		return fmt.Errorf("preload: %w", err)
	}
	unixsocket.CloseFds(msg.Fds)
	if rep.Error != nil {
		return fmt.Errorf("preload: helper error %w", rep.Error)
	}
	return nil
}

// Spawn starts one module process. The payload memfd is prepared before
// taking the lock, which is held only for the request / response exchange.
func (c *Client) Spawn(req SpawnRequest) (*ProcessHandle, error) {
	if len(req.ProcessName) == 0 || len(req.ProcessName) > maxProcessNameLen {
		return nil, fmt.Errorf("spawn: invalid process name length %d", len(req.ProcessName))
	}
	payload, err := memfd.FromBytes("forkserver_payload", req.Payload)
	if err != nil {
		return nil, fmt.Errorf("spawn: %w", err)
	}
	defer payload.Close()

	cmd := cmd{
		Cmd: cmdSpawn,
		Spawn: &spawnCmd{
			ProcessName: req.ProcessName,
			Sandbox:     req.Sandbox,
			Cgroup:      req.Cgroup != nil,
		},
	}
	fds := []int{int(payload.Fd())}
	if req.Cgroup != nil {
		fds = append(fds, int(req.Cgroup.Fd()))
	}

	rep, msg, err := c.exchange(&cmd, unixsocket.Msg{Fds: fds})
	if err != nil {
		return nil, fmt.Errorf("spawn: %w", err)
	}
	if rep.Error != nil {
		unixsocket.CloseFds(msg.Fds)
		return nil, fmt.Errorf("spawn: helper error %w", rep.Error)
	}
	if rep.Spawn == nil || len(msg.Fds) != 2 {
		unixsocket.CloseFds(msg.Fds)
		return nil, fmt.Errorf("spawn: unexpected reply with %d fds", len(msg.Fds))
	}
	return &ProcessHandle{
		ProcessName: req.ProcessName,
		Pid:         rep.Spawn.Pid,
		Stdout:      msg.Fds[0],
		Stderr:      msg.Fds[1],
	}, nil
}

func (c *Client) exchange(cmd *cmd, m unixsocket.Msg) (*reply, unixsocket.Msg, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.socket.SendMsg(cmd, m); err != nil {
		return nil, unixsocket.Msg{}, err
	}
	return c.recvReply()
}

// recvReply receives one reply and rejects it unless the helper sent it
func (c *Client) recvReply() (*reply, unixsocket.Msg, error) {
	reply := new(reply)
	msg, err := c.socket.RecvMsg(reply)
	if err != nil {
		return nil, msg, err
	}
	if msg.Cred == nil || int(msg.Cred.Pid) != c.process.Pid {
		unixsocket.CloseFds(msg.Fds)
		return nil, unixsocket.Msg{}, fmt.Errorf("reply not sent by helper %d", c.process.Pid)
	}
	return reply, msg, nil
}

// Pid returns the helper pid
func (c *Client) Pid() int {
	return c.process.Pid
}

// Done is closed once the helper exited
func (c *Client) Done() <-chan struct{} {
	return c.done
}

func (c *Client) waitHelper() {
	state, err := c.process.Wait()
	if err == nil && !state.Success() {
		err = fmt.Errorf("helper exited: %v", state)
	}
	c.closeErr = err
	close(c.done)
}

// Close closes the control channel and waits for the helper to exit.
// Module processes already spawned are not affected.
func (c *Client) Close() error {
	c.once.Do(func() {
		// close socket (abort any ongoing command)
		c.socket.Close()

		// wait commands terminates
		c.mu.Lock()
		defer c.mu.Unlock()

		const exitWait = 3 * time.Second
		select {
		case <-c.done:
		case <-time.After(exitWait):
			c.logger.Warn("helper did not exit after close, killing it")
			c.process.Kill()
			<-c.done
		}
	})
	<-c.done
	return c.closeErr
}
