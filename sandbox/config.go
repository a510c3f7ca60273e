// Package sandbox describes the restrictions a module process runs under and
// applies them from inside that process.
package sandbox

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/criyle/go-forkserver/pkg/rlimit"
	"github.com/criyle/go-forkserver/types"
	securejoin "github.com/cyphar/filepath-securejoin"
)

// Config is the sandbox of a single call. It is constructed per call and
// never mutated after the spawn.
type Config struct {
	// Root is the host directory the module process sees as /, read-only.
	// It is enforced by StepFilesystem only: a Root without that step is
	// rejected, and no Root keeps the host filesystem.
	Root string `cbor:"root,omitempty"`

	// WritablePath is an optional absolute path inside Root that stays
	// writable when the rest of Root is remounted read-only
	WritablePath string `cbor:"writable_path,omitempty"`

	// Network permits the module process to use the network
	Network bool `cbor:"network,omitempty"`

	// Steps selects the restrictions applied, zero applies none
	Steps Steps `cbor:"steps"`

	RLimits rlimit.RLimits `cbor:"rlimits"`

	// Cgroup is applied with StepCgroup
	Cgroup CgroupLimits `cbor:"cgroup"`
}

// CgroupLimits are the cgroup limits of a module process, zero is unlimited
type CgroupLimits struct {
	MemoryMax types.Size `mapstructure:"memory_max" cbor:"memory_max,omitempty"`
	PidsMax   uint64     `mapstructure:"pids_max" cbor:"pids_max,omitempty"`
}

var errNoNetworkIsolation = errors.New("sandbox: network disabled without namespaces or seccomp")

// ErrRootNotEnforced is returned for a root or writable path that is set
// while the filesystem step is off
var ErrRootNotEnforced = errors.New("sandbox: root and writable path need the filesystem step")

// Validate checks the config is applicable
func (c *Config) Validate() error {
	if !c.Network && c.Steps&(StepNamespaces|StepSeccomp) == 0 {
		return errNoNetworkIsolation
	}
	if c.Steps&StepFilesystem == 0 && (c.Root != "" || c.WritablePath != "") {
		return ErrRootNotEnforced
	}
	if c.Steps&StepFilesystem != 0 {
		if c.Steps&StepNamespaces == 0 {
			return fmt.Errorf("sandbox: filesystem step requires namespaces")
		}
		if c.Root == "" {
			return fmt.Errorf("sandbox: filesystem step requires a root")
		}
	}
	if c.Root != "" {
		if !filepath.IsAbs(c.Root) {
			return fmt.Errorf("sandbox: root %q is not absolute", c.Root)
		}
		fi, err := os.Stat(c.Root)
		if err != nil {
			return fmt.Errorf("sandbox: root: %w", err)
		}
		if !fi.IsDir() {
			return fmt.Errorf("sandbox: root %q is not a directory", c.Root)
		}
	}
	if c.WritablePath != "" {
		if c.Root == "" {
			return fmt.Errorf("sandbox: writable path %q without root", c.WritablePath)
		}
		if _, err := c.WritableHostPath(); err != nil {
			return err
		}
	}
	return nil
}

// WritableHostPath resolves WritablePath to a host path that cannot escape
// Root through symlinks or "..". The path must already exist.
func (c *Config) WritableHostPath() (string, error) {
	p := c.WritablePath
	if !filepath.IsAbs(p) || filepath.Clean(p) != p || p == "/" {
		return "", fmt.Errorf("sandbox: invalid writable path %q", p)
	}
	host, err := securejoin.SecureJoin(c.Root, p)
	if err != nil {
		return "", fmt.Errorf("sandbox: resolve writable path: %w", err)
	}
	if host != filepath.Join(c.Root, p) {
		return "", fmt.Errorf("sandbox: writable path %q resolves to %q", p, host)
	}
	if _, err := os.Lstat(host); err != nil {
		return "", fmt.Errorf("sandbox: writable path: %w", err)
	}
	return host, nil
}

func (c Config) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Sandbox[root=%q", c.Root)
	if c.WritablePath != "" {
		fmt.Fprintf(&sb, ",writable=%q", c.WritablePath)
	}
	fmt.Fprintf(&sb, ",network=%v,steps=%v,%v", c.Network, c.Steps, c.RLimits)
	if c.Steps&StepCgroup != 0 {
		fmt.Fprintf(&sb, ",memory=%v,pids=%d", c.Cgroup.MemoryMax, c.Cgroup.PidsMax)
	}
	sb.WriteString("]")
	return sb.String()
}
