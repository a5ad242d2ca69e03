package symbols

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMatchStarWildcard(t *testing.T) {
	got := Match("vfs_*", []string{"vfs_read", "vfs_write", "do_sys_open"})
	require.ElementsMatch(t, []string{"vfs_read", "vfs_write"}, got)
}

func TestMatchQuestionMark(t *testing.T) {
	got := Match("sys_rea?", []string{"sys_read", "sys_reads", "sys_write"})
	require.Equal(t, []string{"sys_read"}, got)
}

func TestMatchCharClass(t *testing.T) {
	got := Match("sys_[rw]ead", []string{"sys_read", "sys_wead", "sys_xead"})
	require.ElementsMatch(t, []string{"sys_read", "sys_wead"}, got)
}

func TestHasGlob(t *testing.T) {
	require.True(t, HasGlob("vfs_*"))
	require.True(t, HasGlob("sys_?"))
	require.True(t, HasGlob("sys_[ab]"))
	require.False(t, HasGlob("vfs_read"))
}

func TestMockOracle(t *testing.T) {
	m := NewMock()
	m.Kernel = []string{"vfs_read", "vfs_write"}
	funcs, err := m.KernelFunctions()
	require.NoError(t, err)
	require.Len(t, funcs, 2)
}
