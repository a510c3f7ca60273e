package sandbox

import (
	"fmt"
	"strings"
)

// Steps is a set of sandbox restrictions
type Steps uint8

// Steps defines each restriction
const (
	// StepNamespaces starts the module process in new user, mount, ipc and
	// uts namespaces, plus a network namespace when network is disabled
	StepNamespaces Steps = 1 << iota
	// StepFilesystem confines the module process to a read-only root
	StepFilesystem
	// StepRLimits applies resource limits
	StepRLimits
	// StepSeccomp loads the seccomp filter
	StepSeccomp
	// StepCgroup starts the module process in its own cgroup with the
	// memory and pids limits. The host creates and removes the cgroup.
	StepCgroup

	// StepAll is every step the module process applies to itself
	StepAll = StepNamespaces | StepFilesystem | StepRLimits | StepSeccomp
)

var stepNames = []struct {
	step Steps
	name string
}{
	{StepNamespaces, "namespaces"},
	{StepFilesystem, "filesystem"},
	{StepRLimits, "rlimits"},
	{StepSeccomp, "seccomp"},
	{StepCgroup, "cgroup"},
}

// ParseSteps parses step names, "all" selects StepAll
func ParseSteps(names []string) (Steps, error) {
	var s Steps
	for _, n := range names {
		n = strings.ToLower(strings.TrimSpace(n))
		if n == "all" {
			s |= StepAll
			continue
		}
		found := false
		for _, sn := range stepNames {
			if sn.name == n {
				s |= sn.step
				found = true
				break
			}
		}
		if !found {
			return 0, fmt.Errorf("sandbox: unknown step %q", n)
		}
	}
	return s, nil
}

func (s Steps) String() string {
	if s == 0 {
		return "none"
	}
	var names []string
	for _, sn := range stepNames {
		if s&sn.step != 0 {
			names = append(names, sn.name)
		}
	}
	return strings.Join(names, "|")
}
