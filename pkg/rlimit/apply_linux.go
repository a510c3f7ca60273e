package rlimit

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// Apply sets every limit on the current process. Limits can only be lowered
// by an unprivileged process, so a limit above the current hard limit fails.
func Apply(rls []RLimit) error {
	for _, rl := range rls {
		if err := unix.Setrlimit(rl.Res, &rl.Rlim); err != nil {
			return fmt.Errorf("rlimit: setrlimit(%v): %w", rl, err)
		}
	}
	return nil
}
