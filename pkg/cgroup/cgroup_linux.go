package cgroup

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

// ErrNotV2 is returned when the path is not on a cgroup v2 mount
var ErrNotV2 = errors.New("cgroup: not a cgroup v2 hierarchy")

// destroy retries rmdir while the kernel finishes removing exited members
const (
	destroyAttempts = 10
	destroyInterval = 10 * time.Millisecond
)

// Cgroup is a single cgroup v2 directory
type Cgroup struct {
	path string
}

// IsV2 reports whether p is on a cgroup v2 mount
func IsV2(p string) bool {
	var st unix.Statfs_t
	if err := unix.Statfs(p, &st); err != nil {
		return false
	}
	return st.Type == unix.CGROUP2_SUPER_MAGIC
}

// Default is the cgroup v2 mount point
func Default() string {
	return basePath
}

// Parent creates the parent directory if needed and enables the memory and
// pids controllers for its children. The parent's own parent must have
// delegated them.
func Parent(p string) (*Cgroup, error) {
	if err := os.MkdirAll(p, dirPerm); err != nil {
		return nil, fmt.Errorf("cgroup: %w", err)
	}
	if !IsV2(p) {
		return nil, ErrNotV2
	}
	c := &Cgroup{path: p}
	if err := c.EnableControllers(Memory, Pids); err != nil {
		return nil, err
	}
	return c, nil
}

// New creates a child cgroup with a unique name starting with prefix
func (c *Cgroup) New(prefix string) (*Cgroup, error) {
	p, err := os.MkdirTemp(c.path, prefix)
	if err != nil {
		return nil, fmt.Errorf("cgroup: %w", err)
	}
	return &Cgroup{path: p}, nil
}

// Path returns the directory of the cgroup
func (c *Cgroup) Path() string {
	return c.path
}

// EnableControllers enables the named controllers for children, those not
// available in this cgroup are an error
func (c *Cgroup) EnableControllers(names ...string) error {
	b, err := c.ReadFile(cgroupControllers)
	if err != nil {
		return err
	}
	available := make(map[string]bool)
	for _, n := range strings.Fields(string(b)) {
		available[n] = true
	}
	var msg []string
	for _, n := range names {
		if !available[n] {
			return fmt.Errorf("cgroup: controller %s not available in %s", n, c.path)
		}
		msg = append(msg, "+"+n)
	}
	return c.WriteFile(cgroupSubtreeControl, []byte(strings.Join(msg, " ")))
}

// Open opens the directory for CLONE_INTO_CGROUP
func (c *Cgroup) Open() (*os.File, error) {
	fd, err := unix.Open(c.path, unix.O_RDONLY|unix.O_DIRECTORY|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("cgroup: open %s: %w", c.path, err)
	}
	return os.NewFile(uintptr(fd), c.path), nil
}

// SetMemoryMax sets memory.max and disables swap where swap is accounted
func (c *Cgroup) SetMemoryMax(l uint64) error {
	if err := c.WriteUint("memory.max", l); err != nil {
		return err
	}
	if err := c.WriteUint("memory.swap.max", 0); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// SetPidsMax sets pids.max
func (c *Cgroup) SetPidsMax(l uint64) error {
	return c.WriteUint("pids.max", l)
}

// MemoryPeak reads memory.peak
func (c *Cgroup) MemoryPeak() (uint64, error) {
	return c.ReadUint("memory.peak")
}

// OOMKills reads the oom_kill count of memory.events
func (c *Cgroup) OOMKills() (uint64, error) {
	b, err := c.ReadFile("memory.events")
	if err != nil {
		return 0, err
	}
	s := bufio.NewScanner(bytes.NewReader(b))
	for s.Scan() {
		parts := strings.Fields(s.Text())
		if len(parts) == 2 && parts[0] == "oom_kill" {
			return strconv.ParseUint(parts[1], 10, 64)
		}
	}
	return 0, nil
}

// Destroy removes the cgroup. Every member must have exited.
func (c *Cgroup) Destroy() error {
	var err error
	for range destroyAttempts {
		err = os.Remove(c.path)
		if err == nil || errors.Is(err, os.ErrNotExist) {
			return nil
		}
		if !errors.Is(err, syscall.EBUSY) {
			break
		}
		time.Sleep(destroyInterval)
	}
	return fmt.Errorf("cgroup: %w", err)
}

// WriteUint writes uint64 into given file
func (c *Cgroup) WriteUint(filename string, i uint64) error {
	return c.WriteFile(filename, []byte(strconv.FormatUint(i, 10)))
}

// ReadUint read uint64 from given file
func (c *Cgroup) ReadUint(filename string) (uint64, error) {
	b, err := c.ReadFile(filename)
	if err != nil {
		return 0, err
	}
	return strconv.ParseUint(strings.TrimSpace(string(b)), 10, 64)
}

// WriteFile writes cgroup file and handles potential EINTR error while writes to
// the slow device (cgroup)
func (c *Cgroup) WriteFile(name string, content []byte) error {
	p := filepath.Join(c.path, name)
	err := os.WriteFile(p, content, filePerm)
	for err != nil && errors.Is(err, syscall.EINTR) {
		err = os.WriteFile(p, content, filePerm)
	}
	return err
}

// ReadFile reads cgroup file and handles potential EINTR error while read to
// the slow device (cgroup)
func (c *Cgroup) ReadFile(name string) ([]byte, error) {
	p := filepath.Join(c.path, name)
	data, err := os.ReadFile(p)
	for err != nil && errors.Is(err, syscall.EINTR) {
		data, err = os.ReadFile(p)
	}
	return data, err
}

func (c *Cgroup) String() string {
	return "Cgroup[" + c.path + "]"
}
