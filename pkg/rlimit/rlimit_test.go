//go:build linux

package rlimit

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func TestPrepareRLimit(t *testing.T) {
	tests := []struct {
		name   string
		rl     RLimits
		expect []int
	}{
		{
			name: "Empty",
			rl:   RLimits{},
		},
		{
			name:   "CPU only",
			rl:     RLimits{CPU: 1},
			expect: []int{unix.RLIMIT_CPU},
		},
		{
			name:   "All fields",
			rl:     RLimits{CPU: 1, CPUHard: 2, FileSize: 2048, AddressSpace: 8192, OpenFile: 16, DisableCore: true},
			expect: []int{unix.RLIMIT_CPU, unix.RLIMIT_FSIZE, unix.RLIMIT_AS, unix.RLIMIT_NOFILE, unix.RLIMIT_CORE},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got []int
			for _, rl := range tt.rl.PrepareRLimit() {
				got = append(got, rl.Res)
			}
			assert.Equal(t, tt.expect, got)
		})
	}
}

func TestPrepareRLimit_CPUHard(t *testing.T) {
	rl := (&RLimits{CPU: 3, CPUHard: 1}).PrepareRLimit()
	require.Len(t, rl, 1)
	assert.Equal(t, unix.Rlimit{Cur: 3, Max: 3}, rl[0].Rlim)
}

func TestRLimitsString(t *testing.T) {
	rl := RLimits{
		CPU:          1,
		CPUHard:      2,
		FileSize:     2048,
		AddressSpace: 8192,
		OpenFile:     16,
		DisableCore:  true,
	}
	want := "RLimits[CPU[1 s:2 s],File[2.0 KiB:2.0 KiB],AddressSpace[8.0 KiB:8.0 KiB],OpenFile[16:16],Core[0 B:0 B]]"
	assert.Equal(t, want, rl.String())
	assert.Equal(t, "RLimits[]", RLimits{}.String())
}

func TestApply_Core(t *testing.T) {
	// lowering the soft limit is always permitted
	var old unix.Rlimit
	require.NoError(t, unix.Getrlimit(unix.RLIMIT_CORE, &old))
	require.NoError(t, Apply([]RLimit{{Res: unix.RLIMIT_CORE, Rlim: unix.Rlimit{Cur: 0, Max: old.Max}}}))

	var cur unix.Rlimit
	require.NoError(t, unix.Getrlimit(unix.RLIMIT_CORE, &cur))
	assert.Equal(t, uint64(0), cur.Cur)
	require.NoError(t, unix.Setrlimit(unix.RLIMIT_CORE, &old))
}

func TestApply_RaiseAboveHard(t *testing.T) {
	if unix.Geteuid() == 0 {
		t.Skip("root can raise hard limits")
	}
	var old unix.Rlimit
	require.NoError(t, unix.Getrlimit(unix.RLIMIT_NOFILE, &old))
	if old.Max == unix.RLIM_INFINITY {
		t.Skip("hard limit is infinite")
	}
	err := Apply([]RLimit{{Res: unix.RLIMIT_NOFILE, Rlim: unix.Rlimit{Cur: old.Max + 1, Max: old.Max + 1}}})
	assert.Error(t, err)
}
