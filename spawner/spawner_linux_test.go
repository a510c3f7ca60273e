package spawner

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/criyle/go-forkserver/pkg/memfd"
	"github.com/criyle/go-forkserver/pkg/unixsocket"
	"github.com/criyle/go-forkserver/sandbox"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

func init() {
	Init()
	if len(os.Args) > 1 && os.Args[1] == ChildArg {
		testChild()
	}
}

// testChild interprets the payload as "<command>:<argument>"
func testChild() {
	b, err := io.ReadAll(os.Stdin)
	if err != nil {
		os.Exit(2)
	}
	command, arg, _ := strings.Cut(string(b), ":")
	switch command {
	case "echo":
		os.Stdout.WriteString(arg)
		os.Stderr.WriteString("err")
	case "exit":
		n, _ := strconv.Atoi(arg)
		os.Exit(n)
	case "sleep":
		time.Sleep(time.Hour)
	case "argv0":
		os.Stdout.WriteString(os.Args[0])
	case "ppid":
		fmt.Fprint(os.Stdout, os.Getppid())
	case "env":
		os.Stdout.WriteString(os.Getenv(arg))
	case "filter":
		var st unix.Stat_t
		if err := unix.Fstat(FilterFd, &st); err != nil {
			os.Stdout.WriteString("none")
		} else {
			fmt.Fprint(os.Stdout, st.Size)
		}
	default:
		os.Exit(3)
	}
	os.Exit(0)
}

func newClient(t *testing.T, preload ...string) *Client {
	t.Helper()
	b := Builder{
		Preload: preload,
		Stderr:  os.Stderr,
		Logger:  zap.NewNop(),
	}
	c, err := b.Start()
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

// readAll reads fd to EOF with blocking reads
func readAll(t *testing.T, fd int) string {
	t.Helper()
	require.NoError(t, unix.SetNonblock(fd, false))
	var sb strings.Builder
	buf := make([]byte, 4096)
	for {
		n, err := unix.Read(fd, buf)
		if err == unix.EINTR {
			continue
		}
		require.NoError(t, err)
		if n == 0 {
			return sb.String()
		}
		sb.Write(buf[:n])
	}
}

func spawn(t *testing.T, c *Client, payload string, sb sandbox.Config) *ProcessHandle {
	t.Helper()
	h, err := c.Spawn(SpawnRequest{
		ProcessName: "test_child",
		Payload:     []byte(payload),
		Sandbox:     sb,
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		h.Kill()
		if !h.Reaped() {
			h.Wait(false)
		}
		h.Close()
	})
	return h
}

func TestSpawn_Echo(t *testing.T) {
	c := newClient(t)
	h := spawn(t, c, "echo:hello", sandbox.Config{Network: true})

	assert.Equal(t, "hello", readAll(t, h.Stdout))
	assert.Equal(t, "err", readAll(t, h.Stderr))

	pid, ws, err := h.Wait(false)
	require.NoError(t, err)
	assert.Equal(t, h.Pid, pid)
	assert.True(t, ws.Exited())
	assert.Equal(t, 0, ws.ExitStatus())
}

func TestSpawn_ExitCode(t *testing.T) {
	c := newClient(t)
	h := spawn(t, c, "exit:7", sandbox.Config{Network: true})

	_, ws, err := h.Wait(false)
	require.NoError(t, err)
	assert.Equal(t, 7, ws.ExitStatus())
}

func TestSpawn_ParentIsHost(t *testing.T) {
	c := newClient(t)
	h := spawn(t, c, "ppid", sandbox.Config{Network: true})
	assert.Equal(t, strconv.Itoa(os.Getpid()), readAll(t, h.Stdout))
}

func TestSpawn_ProcessName(t *testing.T) {
	c := newClient(t)
	h := spawn(t, c, "argv0", sandbox.Config{Network: true})
	assert.Equal(t, "test_child", readAll(t, h.Stdout))
}

func TestSpawn_EnvironmentNotInherited(t *testing.T) {
	t.Setenv("FORKSERVER_TEST_SECRET", "s3cret")
	c := newClient(t)
	h := spawn(t, c, "env:FORKSERVER_TEST_SECRET", sandbox.Config{Network: true})
	assert.Equal(t, "", readAll(t, h.Stdout))

	h = spawn(t, c, "env:PATH", sandbox.Config{Network: true})
	assert.Equal(t, strings.TrimPrefix(PathEnv, "PATH="), readAll(t, h.Stdout))
}

func TestSpawn_SeccompFilterFd(t *testing.T) {
	c := newClient(t, "seccomp")

	h := spawn(t, c, "filter", sandbox.Config{Steps: sandbox.StepSeccomp})
	size, err := strconv.Atoi(readAll(t, h.Stdout))
	require.NoError(t, err)
	assert.Greater(t, size, 0)
	assert.Zero(t, size%8)

	h = spawn(t, c, "filter", sandbox.Config{Network: true})
	assert.Equal(t, "none", readAll(t, h.Stdout))
}

func TestSpawn_SeccompNotPreloaded(t *testing.T) {
	c := newClient(t)
	_, err := c.Spawn(SpawnRequest{
		ProcessName: "test_child",
		Payload:     []byte("echo:x"),
		Sandbox:     sandbox.Config{Steps: sandbox.StepSeccomp},
	})
	assert.ErrorContains(t, err, "seccomp filter is not preloaded")
}

func TestSpawn_FailureKeepsChannel(t *testing.T) {
	c := newClient(t)
	_, err := c.Spawn(SpawnRequest{
		ProcessName: "bad\x00name",
		Payload:     []byte("echo:x"),
		Sandbox:     sandbox.Config{Network: true},
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, unix.EINVAL)

	h := spawn(t, c, "echo:still alive", sandbox.Config{Network: true})
	assert.Equal(t, "still alive", readAll(t, h.Stdout))
}

func TestSpawn_InvalidProcessName(t *testing.T) {
	c := newClient(t)
	_, err := c.Spawn(SpawnRequest{Payload: []byte("echo:x")})
	assert.Error(t, err)
	_, err = c.Spawn(SpawnRequest{ProcessName: strings.Repeat("a", 256)})
	assert.Error(t, err)
}

func TestSpawn_Concurrent(t *testing.T) {
	c := newClient(t)

	const n = 16
	var wg sync.WaitGroup
	results := make([]string, n)
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			h, err := c.Spawn(SpawnRequest{
				ProcessName: "test_child",
				Payload:     []byte(fmt.Sprintf("echo:%d", i)),
				Sandbox:     sandbox.Config{Network: true},
			})
			if !assert.NoError(t, err) {
				return
			}
			defer h.Close()
			results[i] = readAll(t, h.Stdout)
			_, _, err = h.Wait(false)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	for i := range n {
		assert.Equal(t, strconv.Itoa(i), results[i])
	}
}

func TestProcessHandle_KillWait(t *testing.T) {
	c := newClient(t)
	h := spawn(t, c, "sleep", sandbox.Config{Network: true})

	pid, _, err := h.Wait(true)
	require.NoError(t, err)
	assert.Zero(t, pid, "still running")

	require.NoError(t, h.Kill())
	pid, ws, err := h.Wait(false)
	require.NoError(t, err)
	assert.Equal(t, h.Pid, pid)
	assert.True(t, ws.Signaled())
	assert.Equal(t, unix.SIGKILL, ws.Signal())
	assert.True(t, h.Reaped())

	_, _, err = h.Wait(false)
	assert.ErrorIs(t, err, ErrReaped)
	assert.NoError(t, h.Kill(), "kill after reap is a no-op")

	assert.NoError(t, h.Close())
	assert.NoError(t, h.Close())
}

func TestBuilder_UnknownPreload(t *testing.T) {
	b := Builder{Preload: []string{"definitely_unknown"}}
	_, err := b.Start()
	assert.ErrorContains(t, err, "unknown step")
}

func TestClient_Close(t *testing.T) {
	b := Builder{}
	c, err := b.Start()
	require.NoError(t, err)

	h, err := c.Spawn(SpawnRequest{
		ProcessName: "test_child",
		Payload:     []byte("sleep"),
		Sandbox:     sandbox.Config{Network: true},
	})
	require.NoError(t, err)
	defer h.Close()

	require.NoError(t, c.Close())
	select {
	case <-c.Done():
	default:
		t.Fatal("helper still running after Close")
	}
	require.NoError(t, c.Close())

	_, err = c.Spawn(SpawnRequest{ProcessName: "test_child", Payload: []byte("echo:x")})
	assert.Error(t, err)

	// the module process outlives the helper
	pid, _, err := h.Wait(true)
	require.NoError(t, err)
	assert.Zero(t, pid)
	require.NoError(t, h.Kill())
	_, _, err = h.Wait(false)
	require.NoError(t, err)
}

func TestHelper_SpawnBeforePreload(t *testing.T) {
	a, b, err := unixsocket.NewSocketPair()
	require.NoError(t, err)

	hs := &helperServer{socket: newSocket(a), logger: zap.NewNop()}
	done := make(chan error, 1)
	go func() { done <- hs.serve() }()

	host := newSocket(b)
	payload, err := memfd.FromBytes("payload", []byte("echo:x"))
	require.NoError(t, err)
	defer payload.Close()

	require.NoError(t, host.SendMsg(&cmd{Cmd: cmdSpawn, Spawn: &spawnCmd{ProcessName: "x"}},
		unixsocket.Msg{Fds: []int{int(payload.Fd())}}))
	var rep reply
	msg, err := host.RecvMsg(&rep)
	require.NoError(t, err)
	assert.Empty(t, msg.Fds)
	require.NotNil(t, rep.Error)
	assert.Contains(t, rep.Error.Msg, "not preloaded")

	require.NoError(t, host.SendMsg(&cmd{Cmd: cmdSpawn, Spawn: &spawnCmd{ProcessName: "x"}}, unixsocket.Msg{}))
	_, err = host.RecvMsg(&rep)
	require.NoError(t, err)
	assert.Contains(t, rep.Error.Msg, "expected 1 fds, got 0")

	host.Close()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("helper did not stop after channel close")
	}
	a.Close()
}

func TestHelper_UnknownCommand(t *testing.T) {
	a, b, err := unixsocket.NewSocketPair()
	require.NoError(t, err)
	defer a.Close()
	defer b.Close()

	hs := &helperServer{socket: newSocket(a), logger: zap.NewNop()}
	done := make(chan error, 1)
	go func() { done <- hs.serve() }()

	require.NoError(t, newSocket(b).SendMsg(&cmd{Cmd: "bogus"}, unixsocket.Msg{}))
	select {
	case err := <-done:
		assert.ErrorContains(t, err, "unknown command")
	case <-time.After(5 * time.Second):
		t.Fatal("helper kept serving after protocol violation")
	}
}

func TestClient_ReplyFromOtherProcess(t *testing.T) {
	a, b, err := unixsocket.NewSocketPair()
	require.NoError(t, err)
	defer a.Close()
	defer b.Close()
	require.NoError(t, a.SetPassCred(1))

	// replies from the test process itself only pass when it is the helper
	parent, err := os.FindProcess(os.Getppid())
	require.NoError(t, err)
	c := &Client{process: parent, socket: newSocket(a)}
	helper := newSocket(b)

	require.NoError(t, helper.SendMsg(reply{}, unixsocket.Msg{}))
	_, _, err = c.recvReply()
	assert.ErrorContains(t, err, "not sent by helper")

	self, err := os.FindProcess(os.Getpid())
	require.NoError(t, err)
	c.process = self
	require.NoError(t, helper.SendMsg(reply{}, unixsocket.Msg{}))
	rep, _, err := c.recvReply()
	require.NoError(t, err)
	assert.Nil(t, rep.Error)
}

func TestPreloadRegistry(t *testing.T) {
	assert.Contains(t, PreloadNames(), "executable")
	assert.Contains(t, PreloadNames(), "seccomp")
	assert.Panics(t, func() { RegisterPreload("executable", loadExecutable) })
	assert.Panics(t, func() { RegisterPreload("nil", nil) })

	// steps run in order after executable, so a step sees what earlier
	// steps filled in
	var seen string
	if _, ok := lookupPreload("test_step"); !ok {
		RegisterPreload("test_step", func(c *PreloadContext) error {
			seen = c.Executable
			return nil
		})
	}
	set, err := runPreload([]string{"test_step", "executable"}, zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, []string{"executable", "test_step"}, set.Names())
	assert.NotEmpty(t, set.executable)
	assert.Equal(t, set.executable, seen)
}
