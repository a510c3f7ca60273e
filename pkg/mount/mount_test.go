package mount

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBuilder(t *testing.T) {
	ms := NewBuilder().
		WithBind("/srv/root", "/srv/root", true).
		WithBind("/tmp/out", "/srv/root/out", false).
		WithTmpfs("/srv/root/tmp", "size=1m").
		Build()

	var got []string
	for _, m := range ms {
		got = append(got, m.String())
	}
	assert.Equal(t, []string{
		"bind[/srv/root:/srv/root:rw]",
		"remount[/srv/root:ro]",
		"bind[/tmp/out:/srv/root/out:rw]",
		"tmpfs[/srv/root/tmp]",
	}, got)
}

func TestBuilder_BuildCopies(t *testing.T) {
	b := NewBuilder().WithTmpfs("/a", "")
	ms := b.Build()
	ms[0].Target = "/b"
	assert.Equal(t, "/a", b.Mounts[0].Target)
}
