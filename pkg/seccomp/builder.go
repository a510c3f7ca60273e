package seccomp

import (
	"fmt"

	libseccomp "github.com/elastic/go-seccomp-bpf"
	"golang.org/x/net/bpf"
)

// Rule applies Action to every syscall in Names
type Rule struct {
	Names  []string
	Action Action
}

// Builder is used to build the filter
type Builder struct {
	Default Action
	Rules   []Rule
}

// Deny appends a rule failing names with EPERM
func (b *Builder) Deny(names ...string) *Builder {
	b.Rules = append(b.Rules, Rule{Names: names, Action: ActionErrno})
	return b
}

// Kill appends a rule killing the process on names
func (b *Builder) Kill(names ...string) *Builder {
	b.Rules = append(b.Rules, Rule{Names: names, Action: ActionKill})
	return b
}

// Build assembles the policy for the native architecture
func (b *Builder) Build() (Filter, error) {
	def := b.Default
	if def == 0 {
		def = ActionAllow
	}
	policy := libseccomp.Policy{
		DefaultAction: toLibAction(def),
	}
	for _, r := range b.Rules {
		if len(r.Names) == 0 {
			continue
		}
		policy.Syscalls = append(policy.Syscalls, libseccomp.SyscallGroup{
			Names:  r.Names,
			Action: toLibAction(r.Action),
		})
	}
	ins, err := policy.Assemble()
	if err != nil {
		return nil, fmt.Errorf("seccomp: assemble policy: %w", err)
	}
	raw, err := bpf.Assemble(ins)
	if err != nil {
		return nil, fmt.Errorf("seccomp: assemble bpf: %w", err)
	}
	return NewFilter(raw)
}
