// Package seccomp builds seccomp BPF filters once and loads them into the
// current process. A Filter is kept in its raw kernel form so it can be
// shipped to another process through a file.
package seccomp

import (
	"encoding/binary"
	"fmt"

	"golang.org/x/net/bpf"
	"golang.org/x/sys/unix"
)

// instructionSize is sizeof(struct sock_filter)
const instructionSize = 8

// maxInstructions is BPF_MAXINSNS
const maxInstructions = 4096

// Filter is the BPF seccomp filter value in kernel sock_filter layout
type Filter []byte

// NewFilter converts assembled BPF instructions to a Filter
func NewFilter(raw []bpf.RawInstruction) (Filter, error) {
	if len(raw) == 0 || len(raw) > maxInstructions {
		return nil, fmt.Errorf("seccomp: invalid filter length %d", len(raw))
	}
	b := make([]byte, len(raw)*instructionSize)
	for i, ins := range raw {
		p := b[i*instructionSize:]
		binary.NativeEndian.PutUint16(p[0:], ins.Op)
		p[2] = ins.Jt
		p[3] = ins.Jf
		binary.NativeEndian.PutUint32(p[4:], ins.K)
	}
	return Filter(b), nil
}

// Len returns the number of instructions
func (f Filter) Len() int {
	return len(f) / instructionSize
}

// Validate checks the filter has a loadable size
func (f Filter) Validate() error {
	if len(f) == 0 || len(f)%instructionSize != 0 || f.Len() > maxInstructions {
		return fmt.Errorf("seccomp: invalid filter size %d bytes", len(f))
	}
	return nil
}

// SockFprog converts Filter to SockFprog for seccomp syscall
func (f Filter) SockFprog() *unix.SockFprog {
	ins := make([]unix.SockFilter, f.Len())
	for i := range ins {
		p := f[i*instructionSize:]
		ins[i] = unix.SockFilter{
			Code: binary.NativeEndian.Uint16(p[0:]),
			Jt:   p[2],
			Jf:   p[3],
			K:    binary.NativeEndian.Uint32(p[4:]),
		}
	}
	return &unix.SockFprog{
		Len:    uint16(len(ins)),
		Filter: &ins[0],
	}
}
