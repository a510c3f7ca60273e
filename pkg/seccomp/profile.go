package seccomp

// syscalls that have no business in a module process: kernel / namespace /
// mount manipulation and tracing
var defaultDeny = []string{
	"ptrace", "process_vm_readv", "process_vm_writev",
	"mount", "umount2", "pivot_root", "chroot",
	"unshare", "setns",
	"kexec_load", "init_module", "finit_module", "delete_module",
	"reboot", "swapon", "swapoff", "acct",
	"keyctl", "add_key", "request_key",
	"bpf", "perf_event_open", "userfaultfd",
	"settimeofday", "clock_settime", "adjtimex",
	"sethostname", "setdomainname",
}

// syscalls that open or use network endpoints
var networkDeny = []string{
	"socket", "connect", "bind", "listen", "accept", "accept4",
}

// DefaultBuilder returns the builder for module processes. When network is
// false, socket creation and use is denied as well.
func DefaultBuilder(network bool) *Builder {
	b := &Builder{Default: ActionAllow}
	b.Deny(defaultDeny...)
	if !network {
		b.Deny(networkDeny...)
	}
	return b
}
