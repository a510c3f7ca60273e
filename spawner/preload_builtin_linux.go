package spawner

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/criyle/go-forkserver/pkg/memfd"
	"github.com/criyle/go-forkserver/pkg/seccomp"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

const (
	preloadExecutable = "executable"
	preloadSeccomp    = "seccomp"
)

func init() {
	RegisterPreload(preloadExecutable, loadExecutable)
	RegisterPreload(preloadSeccomp, loadSeccomp)
}

// loadExecutable resolves the helper's own executable, which is the host
// executable, so module processes run the same entry points
func loadExecutable(c *PreloadContext) error {
	p, err := os.Executable()
	if err != nil {
		return err
	}
	if p, err = filepath.EvalSymlinks(p); err != nil {
		return err
	}
	if err := unix.Access(p, unix.X_OK); err != nil {
		return fmt.Errorf("access %s: %w", p, err)
	}
	c.Executable = p
	return nil
}

// loadSeccomp assembles the filters once so spawning never pays for it
func loadSeccomp(c *PreloadContext) error {
	for i, network := range []bool{false, true} {
		f, err := seccomp.DefaultBuilder(network).Build()
		if err != nil {
			return err
		}
		file, err := memfd.FromBytes(fmt.Sprintf("seccomp_network_%v", network), f)
		if err != nil {
			return err
		}
		c.Filters[i] = file
		c.Logger.Debug("seccomp filter assembled", zap.Bool("network", network), zap.Int("instructions", f.Len()))
	}
	return nil
}
