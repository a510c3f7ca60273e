package cgroup

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testParent returns a delegated parent cgroup or skips the test
func testParent(t *testing.T) *Cgroup {
	t.Helper()
	if os.Getuid() != 0 {
		t.Skip("no root privilege")
	}
	if !IsV2(Default()) {
		t.Skip("cgroup v2 not mounted")
	}
	p, err := Parent(filepath.Join(Default(), "forkserver-cgroup-test"))
	if err != nil {
		t.Skipf("cgroup not delegated: %v", err)
	}
	t.Cleanup(func() { p.Destroy() })
	return p
}

func TestIsV2(t *testing.T) {
	assert.False(t, IsV2(t.TempDir()))
	assert.False(t, IsV2("/nonexistent"))
}

func TestParent_NotV2(t *testing.T) {
	_, err := Parent(filepath.Join(t.TempDir(), "cg"))
	assert.ErrorIs(t, err, ErrNotV2)
}

func TestCgroup_Limits(t *testing.T) {
	p := testParent(t)

	cg, err := p.New("call-")
	require.NoError(t, err)
	assert.Equal(t, p.Path(), filepath.Dir(cg.Path()))

	require.NoError(t, cg.SetMemoryMax(64<<20))
	v, err := cg.ReadUint("memory.max")
	require.NoError(t, err)
	assert.Equal(t, uint64(64<<20), v)

	require.NoError(t, cg.SetPidsMax(16))
	v, err = cg.ReadUint("pids.max")
	require.NoError(t, err)
	assert.Equal(t, uint64(16), v)

	n, err := cg.OOMKills()
	require.NoError(t, err)
	assert.Zero(t, n)

	f, err := cg.Open()
	require.NoError(t, err)
	f.Close()

	require.NoError(t, cg.Destroy())
	require.NoError(t, cg.Destroy())
	_, err = os.Stat(cg.Path())
	assert.True(t, os.IsNotExist(err))
}
