package kernel

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/criyle/go-forkserver/entry"
	"github.com/criyle/go-forkserver/pkg/cgroup"
	"github.com/criyle/go-forkserver/pkg/frame"
	"github.com/criyle/go-forkserver/pkg/pipe"
	"github.com/criyle/go-forkserver/sandbox"
	"github.com/criyle/go-forkserver/spawner"
	"github.com/criyle/go-forkserver/types"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

// maxProcessName is the longest argv[0] of a module process
const maxProcessName = 255

// Call is a single module call
type Call struct {
	Module   types.CompiledModule
	Function string

	// Args is encoded to CBOR and decoded by the entry point, nil sends none
	Args any

	Sandbox sandbox.Config

	// Timeout is relative to the spawn, a context deadline tightens it
	Timeout time.Duration
}

// drained is the output of a process after the drain loop
type drained struct {
	stdout   *pipe.BoundedReader
	stderr   *pipe.BoundedReader
	timedOut bool

	// oomKilled is set when the cgroup of the process recorded an OOM kill
	oomKilled bool
}

// Run runs call in a new module process and decodes its result frame into
// result. The process is killed once the deadline passes; it is reaped and
// its fds closed on every return path. Failures of the call are returned as
// *ModuleError. The context contributes only its deadline.
func (k *Kernel) Run(ctx context.Context, call Call, result any) (err error) {
	callID := uuid.NewString()
	logger := k.logger.With(
		zap.String("call_id", callID),
		zap.String("slug", call.Module.Slug),
		zap.String("function", call.Function),
	)

	ctx, span := k.tracer.Start(ctx, "forkserver.run", trace.WithAttributes(
		AttrCallID.String(callID),
		AttrSlug.String(call.Module.Slug),
		AttrFunction.String(call.Function),
	))
	defer span.End()

	start := time.Now()
	k.metrics.ActiveExecutions.Inc()
	defer func() {
		k.metrics.ActiveExecutions.Dec()
		o := outcome(err)
		k.metrics.RecordExecution(call.Function, o, time.Since(start))
		span.SetAttributes(AttrOutcome.String(o))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, o)
		}
	}()

	if call.Timeout <= 0 {
		return fmt.Errorf("kernel: call %s without timeout", call.Function)
	}
	if err := call.Sandbox.Validate(); err != nil {
		return fmt.Errorf("kernel: %w", err)
	}
	payload, err := encodePayload(&call)
	if err != nil {
		return err
	}

	var cg *cgroup.Cgroup
	if call.Sandbox.Steps&sandbox.StepCgroup != 0 {
		if cg, err = k.newCgroup(&call.Sandbox); err != nil {
			return &ModuleError{
				Kind:     KindSpawn,
				Slug:     call.Module.Slug,
				Function: call.Function,
				Err:      err,
			}
		}
		// runs after the process is reaped below
		defer func() {
			if err := cg.Destroy(); err != nil {
				logger.Warn("remove cgroup", zap.Error(err))
			}
		}()
	}

	h, deadline, err := k.spawn(ctx, &call, payload, cg)
	if err != nil {
		logger.Warn("spawn failed", zap.Error(err))
		return &ModuleError{
			Kind:     KindSpawn,
			Slug:     call.Module.Slug,
			Function: call.Function,
			Err:      err,
		}
	}
	logger = logger.With(zap.Int("pid", h.Pid))
	span.SetAttributes(AttrPid.Int(h.Pid))

	defer h.Close()
	// reaped exactly once on every path, including a panic below
	defer func() {
		if !h.Reaped() {
			h.Kill()
			h.Wait(false)
		}
	}()

	d, err := k.drain(h, deadline, logger)
	if err != nil {
		return fmt.Errorf("kernel: drain %v: %w", h, err)
	}
	status, forced, err := k.reap(h)
	if err != nil {
		return fmt.Errorf("kernel: reap %v: %w", h, err)
	}
	if forced {
		logger.Warn("module process closed its output but did not exit")
		d.timedOut = true
	}
	if cg != nil {
		d.oomKilled = k.recordCgroup(cg, logger)
	}
	return k.decode(&call, d, status, result, logger, span)
}

func encodePayload(call *Call) ([]byte, error) {
	req := &entry.Request{
		Function: call.Function,
		Module:   call.Module,
		Sandbox:  call.Sandbox,
	}
	if call.Args != nil {
		args, err := frame.Marshal(call.Args)
		if err != nil {
			return nil, fmt.Errorf("kernel: encode arguments: %w", err)
		}
		req.Args = args
	}
	payload, err := entry.EncodeRequest(req)
	if err != nil {
		return nil, fmt.Errorf("kernel: encode request: %w", err)
	}
	return payload, nil
}

// spawn starts the process and fixes the absolute deadline
func (k *Kernel) spawn(ctx context.Context, call *Call, payload []byte, cg *cgroup.Cgroup) (*spawner.ProcessHandle, time.Time, error) {
	_, span := k.tracer.Start(ctx, "forkserver.spawn")
	defer span.End()

	req := spawner.SpawnRequest{
		ProcessName: processName(call),
		Payload:     payload,
		Sandbox:     call.Sandbox,
	}
	if cg != nil {
		dir, err := cg.Open()
		if err != nil {
			return nil, time.Time{}, err
		}
		defer dir.Close()
		req.Cgroup = dir
	}

	start := time.Now()
	h, err := k.spawner.Spawn(req)
	k.metrics.SpawnDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "spawn")
		return nil, time.Time{}, err
	}

	deadline := time.Now().Add(call.Timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	return h, deadline, nil
}

// newCgroup creates the cgroup of one module process
func (k *Kernel) newCgroup(sb *sandbox.Config) (*cgroup.Cgroup, error) {
	if k.cgroup == nil {
		return nil, errors.New("kernel: cgroup step without cgroup parent")
	}
	cg, err := k.cgroup.New("call-")
	if err != nil {
		return nil, err
	}
	if l := sb.Cgroup.MemoryMax; l > 0 {
		err = cg.SetMemoryMax(l.Byte())
	}
	if l := sb.Cgroup.PidsMax; err == nil && l > 0 {
		err = cg.SetPidsMax(l)
	}
	if err != nil {
		cg.Destroy()
		return nil, fmt.Errorf("kernel: set cgroup limits: %w", err)
	}
	return cg, nil
}

// recordCgroup observes the peak memory and reports whether the OOM killer
// hit the process
func (k *Kernel) recordCgroup(cg *cgroup.Cgroup, logger *zap.Logger) bool {
	if peak, err := cg.MemoryPeak(); err == nil {
		k.metrics.MemoryPeak.Observe(float64(peak))
	}
	n, err := cg.OOMKills()
	if err != nil {
		logger.Warn("read cgroup memory events", zap.Error(err))
		return false
	}
	if n > 0 {
		k.metrics.OOMKills.Inc()
	}
	return n > 0
}

func processName(call *Call) string {
	name := "module:" + call.Module.Slug
	if len(name) > maxProcessName {
		name = name[:maxProcessName]
	}
	return name
}

// drain reads stdout and stderr concurrently until both reach EOF. Once the
// deadline passes the process is killed. A killed process closes its pipes
// when it dies unless a descendant still holds them; such output is
// abandoned after the reap grace.
func (k *Kernel) drain(h *spawner.ProcessHandle, deadline time.Time, logger *zap.Logger) (*drained, error) {
	stdout, err := pipe.NewBoundedReader(h.Stdout, k.config.OutputMaxBytes)
	if err != nil {
		return nil, err
	}
	stderr, err := pipe.NewBoundedReader(h.Stderr, k.config.LogMaxBytes)
	if err != nil {
		return nil, err
	}
	d := &drained{stdout: stdout, stderr: stderr}
	readers := map[int]*pipe.BoundedReader{
		h.Stdout: stdout,
		h.Stderr: stderr,
	}

	var p pipe.Poller
	p.Add(h.Stdout)
	p.Add(h.Stderr)
	for p.Len() > 0 {
		timeout := time.Until(deadline)
		if timeout <= 0 {
			if d.timedOut {
				logger.Warn("abandoning output of killed module process",
					zap.Stringer("stdout", stdout), zap.Stringer("stderr", stderr))
				return d, nil
			}
			logger.Warn("module process timed out, killing it")
			if err := h.Kill(); err != nil {
				return nil, err
			}
			d.timedOut = true
			deadline = time.Now().Add(time.Duration(k.config.ReapAttempts) * k.config.ReapInterval)
			continue
		}

		ready, err := p.Wait(timeout)
		if err != nil {
			return nil, err
		}
		for _, fd := range ready {
			r := readers[fd]
			if err := r.Ingest(); err != nil {
				return nil, err
			}
			if r.EOF() {
				p.Remove(fd)
			}
		}
	}
	return d, nil
}

// reap polls for the exit status. A process still alive after every attempt
// closed its output without exiting; it is killed and the call counts as
// timed out.
func (k *Kernel) reap(h *spawner.ProcessHandle) (unix.WaitStatus, bool, error) {
	for i := 0; i < k.config.ReapAttempts; i++ {
		pid, status, err := h.Wait(true)
		if err != nil {
			return 0, false, err
		}
		if pid != 0 {
			return status, false, nil
		}
		time.Sleep(k.config.ReapInterval)
	}
	if err := h.Kill(); err != nil {
		return 0, true, err
	}
	_, status, err := h.Wait(false)
	return status, true, err
}

// decode classifies the exit status and parses the result frame
func (k *Kernel) decode(call *Call, d *drained, status unix.WaitStatus, result any, logger *zap.Logger, span trace.Span) error {
	k.metrics.StderrBytes.Observe(float64(d.stderr.Len()))
	if d.stdout.Overflowed() {
		k.metrics.OutputOverflow.WithLabelValues("stdout").Inc()
	}
	if d.stderr.Overflowed() {
		k.metrics.OutputOverflow.WithLabelValues("stderr").Inc()
	}

	me := &ModuleError{
		Slug:     call.Module.Slug,
		Function: call.Function,
	}
	switch {
	case status.Exited():
		me.ExitCode = status.ExitStatus()
	case status.Signaled():
		me.Signal = status.Signal()
		me.ExitCode = -int(me.Signal)
	default:
		logger.DPanic("unhandled wait status", zap.Uint32("status", uint32(status)))
		me.Kind = KindUnhandledWaitStatus
		me.Err = fmt.Errorf("wait status %#x", uint32(status))
		return me
	}
	span.SetAttributes(AttrExitCode.Int(me.ExitCode))

	if d.timedOut {
		me.Kind = KindTimeout
		me.Timeout = call.Timeout
		me.Stderr = d.stderr.Text()
		return me
	}
	if me.ExitCode != 0 {
		if d.oomKilled {
			me.Err = ErrOutOfMemory
		}
		logger.Warn("module process exited abnormally",
			zap.Int("exit_code", me.ExitCode), zap.String("stderr", d.stderr.Text()))
		me.Kind = KindExited
		me.Stderr = d.stderr.Text()
		return me
	}
	if d.stdout.Overflowed() {
		me.Kind = KindExited
		me.Err = fmt.Errorf("%w: result exceeds %d bytes", frame.ErrTooLarge, d.stdout.Limit())
		me.Stderr = d.stderr.Text()
		return me
	}
	if err := frame.Decode(d.stdout.Bytes(), d.stdout.Limit(), result); err != nil {
		logger.Warn("module process wrote an invalid result", zap.Error(err))
		me.Kind = KindExited
		me.Err = err
		me.Stderr = d.stderr.Text()
		return me
	}
	if d.stderr.Len() > 0 {
		logger.Info("output from module process", zap.String("output", d.stderr.Text()))
	}
	return nil
}
