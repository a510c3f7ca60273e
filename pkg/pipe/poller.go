package pipe

import (
	"fmt"
	"time"

	"golang.org/x/sys/unix"
)

const readyEvents = unix.POLLIN | unix.POLLHUP | unix.POLLERR | unix.POLLNVAL

// Poller waits for readability on a small set of fds using poll(2) on the
// calling goroutine
type Poller struct {
	fds []unix.PollFd
}

// Add registers fd for read readiness
func (p *Poller) Add(fd int) {
	p.fds = append(p.fds, unix.PollFd{Fd: int32(fd), Events: unix.POLLIN})
}

// Remove deregisters fd, it is a no-op if fd is not registered
func (p *Poller) Remove(fd int) {
	for i := range p.fds {
		if p.fds[i].Fd == int32(fd) {
			p.fds = append(p.fds[:i], p.fds[i+1:]...)
			return
		}
	}
}

// Len returns the number of registered fds
func (p *Poller) Len() int {
	return len(p.fds)
}

// Wait blocks until at least one registered fd is ready or timeout elapses,
// and returns the ready fds. A negative timeout waits forever.
func (p *Poller) Wait(timeout time.Duration) ([]int, error) {
	if len(p.fds) == 0 {
		return nil, fmt.Errorf("pipe: poll with no fd registered")
	}
	var deadline time.Time
	if timeout >= 0 {
		deadline = time.Now().Add(timeout)
	}
	for {
		for i := range p.fds {
			p.fds[i].Revents = 0
		}
		n, err := unix.Poll(p.fds, pollTimeout(deadline))
		if err == unix.EINTR {
			// poll(2) is never restarted; the runtime preemption signal lands here
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("pipe: poll: %w", err)
		}
		if n == 0 {
			return nil, nil
		}
		ready := make([]int, 0, n)
		for _, f := range p.fds {
			if f.Revents&readyEvents != 0 {
				ready = append(ready, int(f.Fd))
			}
		}
		return ready, nil
	}
}

// pollTimeout converts deadline to poll(2) milliseconds, -1 for no deadline
func pollTimeout(deadline time.Time) int {
	if deadline.IsZero() {
		return -1
	}
	remaining := time.Until(deadline)
	if remaining <= 0 {
		return 0
	}
	// round up so a sub-millisecond remainder does not spin
	return int((remaining + time.Millisecond - 1) / time.Millisecond)
}
