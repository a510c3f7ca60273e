// Package rlimit provides data structure for resource limits by setrlimit syscall on linux.
package rlimit

import (
	"fmt"
	"strings"

	"github.com/criyle/go-forkserver/types"
	"golang.org/x/sys/unix"
)

// RLimits defines the rlimit applied by setrlimit syscall to the module process
type RLimits struct {
	CPU          uint64     `mapstructure:"cpu" cbor:"cpu,omitempty"`                     // in s
	CPUHard      uint64     `mapstructure:"cpu_hard" cbor:"cpu_hard,omitempty"`           // in s
	AddressSpace types.Size `mapstructure:"address_space" cbor:"address_space,omitempty"` // in bytes
	FileSize     types.Size `mapstructure:"file_size" cbor:"file_size,omitempty"`         // in bytes
	OpenFile     uint64     `mapstructure:"open_files" cbor:"open_files,omitempty"`
	DisableCore  bool       `mapstructure:"disable_core" cbor:"disable_core,omitempty"` // set core to 0
}

// RLimit is the resource limits defined by Linux setrlimit
type RLimit struct {
	// Res is the resource type (e.g. unix.RLIMIT_CPU)
	Res int
	// Rlim is the limit applied to that resource
	Rlim unix.Rlimit
}

func getRlimit(cur, max uint64) unix.Rlimit {
	return unix.Rlimit{Cur: cur, Max: max}
}

// PrepareRLimit creates rlimit structures for the module process
func (r *RLimits) PrepareRLimit() []RLimit {
	var ret []RLimit
	if r.CPU > 0 {
		cpuHard := max(r.CPUHard, r.CPU)
		ret = append(ret, RLimit{
			Res:  unix.RLIMIT_CPU,
			Rlim: getRlimit(r.CPU, cpuHard),
		})
	}
	if r.FileSize > 0 {
		ret = append(ret, RLimit{
			Res:  unix.RLIMIT_FSIZE,
			Rlim: getRlimit(r.FileSize.Byte(), r.FileSize.Byte()),
		})
	}
	if r.AddressSpace > 0 {
		ret = append(ret, RLimit{
			Res:  unix.RLIMIT_AS,
			Rlim: getRlimit(r.AddressSpace.Byte(), r.AddressSpace.Byte()),
		})
	}
	if r.OpenFile > 0 {
		ret = append(ret, RLimit{
			Res:  unix.RLIMIT_NOFILE,
			Rlim: getRlimit(r.OpenFile, r.OpenFile),
		})
	}
	if r.DisableCore {
		ret = append(ret, RLimit{
			Res:  unix.RLIMIT_CORE,
			Rlim: getRlimit(0, 0),
		})
	}
	return ret
}

func (r RLimit) String() string {
	t := ""
	switch r.Res {
	case unix.RLIMIT_CPU:
		return fmt.Sprintf("CPU[%d s:%d s]", r.Rlim.Cur, r.Rlim.Max)
	case unix.RLIMIT_NOFILE:
		return fmt.Sprintf("OpenFile[%d:%d]", r.Rlim.Cur, r.Rlim.Max)
	case unix.RLIMIT_FSIZE:
		t = "File"
	case unix.RLIMIT_AS:
		t = "AddressSpace"
	case unix.RLIMIT_CORE:
		t = "Core"
	}
	return fmt.Sprintf("%s[%v:%v]", t, types.Size(r.Rlim.Cur), types.Size(r.Rlim.Max))
}

func (r RLimits) String() string {
	var sb strings.Builder
	sb.WriteString("RLimits[")
	for i, rl := range r.PrepareRLimit() {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(rl.String())
	}
	sb.WriteString("]")
	return sb.String()
}
