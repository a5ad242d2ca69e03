package attach

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/bpftrace-go/bpftrace/internal/ast"
	"github.com/bpftrace-go/bpftrace/internal/symbols"
)

func parseOne(t *testing.T, raw string, params ...string) Result {
	t.Helper()
	ap := ast.NewAttachPoint(raw, ast.Pos{File: "t.bt", Line: 1, Col: 1})
	return Parse(ap, params, nil)
}

func TestKprobeRoundTrip(t *testing.T) {
	res := parseOne(t, "kprobe:vfs_read")
	require.Equal(t, StatusOk, res.Status)
	require.Equal(t, "kprobe", res.Point.Provider)
	require.Equal(t, "vfs_read", res.Point.Func)
	require.Zero(t, res.Point.FuncOffset)
}

func TestKprobeWithModuleAndOffset(t *testing.T) {
	res := parseOne(t, "kprobe:nf_conntrack:nf_conntrack_in+0x20")
	require.Equal(t, StatusOk, res.Status)
	require.Equal(t, "nf_conntrack", res.Point.Namespace)
	require.Equal(t, "nf_conntrack_in", res.Point.Func)
	require.EqualValues(t, 0x20, res.Point.FuncOffset)
}

func TestKretprobeRejectsOffset(t *testing.T) {
	res := parseOne(t, "kretprobe:vfs_read+0x10")
	require.Equal(t, StatusInvalid, res.Status)
	require.Error(t, res.Err)
}

func TestUprobeAbsoluteAddress(t *testing.T) {
	res := parseOne(t, "uprobe:/bin/sh:0x4010a0")
	require.Equal(t, StatusOk, res.Status)
	require.EqualValues(t, 0x4010a0, res.Point.Address)
}

func TestUretprobeRejectsAbsoluteAddress(t *testing.T) {
	res := parseOne(t, "uretprobe:/bin/sh:0x4010a0")
	require.Equal(t, StatusInvalid, res.Status)
}

func TestUsdtWithNamespace(t *testing.T) {
	res := parseOne(t, "usdt:/usr/lib/libpq.so:postgresql:query__start")
	require.Equal(t, StatusOk, res.Status)
	require.Equal(t, "postgresql", res.Point.Namespace)
	require.Equal(t, "query__start", res.Point.Func)
}

func TestTracepointRoundTrip(t *testing.T) {
	res := parseOne(t, "tracepoint:syscalls:sys_enter_openat")
	require.Equal(t, StatusOk, res.Status)
	require.Equal(t, "syscalls", res.Point.Namespace)
	require.Equal(t, "sys_enter_openat", res.Point.Func)
}

func TestWatchpointRoundTrip(t *testing.T) {
	res := parseOne(t, "watchpoint:func+arg1:4:w")
	require.Equal(t, StatusOk, res.Status)
	require.Equal(t, "func", res.Point.Func)
	require.EqualValues(t, 1, res.Point.FuncOffset)
	require.Equal(t, 4, res.Point.Len)
	require.Equal(t, "w", res.Point.Mode)
}

func TestIntervalMinimumNanoseconds(t *testing.T) {
	res := parseOne(t, "interval:ns:500")
	require.Equal(t, StatusInvalid, res.Status)
	require.Error(t, res.Err)
}

func TestIntervalOneArgForm(t *testing.T) {
	res := parseOne(t, "interval:2000")
	require.Equal(t, StatusOk, res.Status)
	require.EqualValues(t, 2000, res.Point.Freq)
}

func TestInvalidArityMentionsCount(t *testing.T) {
	res := parseOne(t, "self:onlytarget")
	require.Equal(t, StatusInvalid, res.Status)
	require.Contains(t, res.Err.Error(), "2 arguments")
}

func TestRawTracepointDefaultsModuleToWildcard(t *testing.T) {
	res := parseOne(t, "rawtracepoint:sys_enter")
	require.Equal(t, StatusOk, res.Status)
	require.Equal(t, "*", res.Point.Namespace)
	require.Equal(t, "sys_enter", res.Point.Func)
}

func TestPositionalParamSubstitution(t *testing.T) {
	// begin { printf("%d\n", $1); } is an AST-level substitution, not
	// an attach-point one, but the same $N lexer rule applies to
	// probe-spec strings; verify the lexer itself performs the
	// substitution identically.
	parts, err := Lex("uprobe:$1:main", []string{"/bin/sh"})
	require.NoError(t, err)
	require.Equal(t, []string{"uprobe", "/bin/sh", "main"}, parts)
}

func TestDollarZeroReserved(t *testing.T) {
	_, err := Lex("uprobe:$0:main", []string{"/bin/sh"})
	require.Error(t, err)
}

func TestWildcardExpansionPreservesLocationAndIgnoreInvalid(t *testing.T) {
	oracle := symbols.NewMock()
	oracle.Kernel = []string{"vfs_read", "vfs_write", "vfs_open"}

	ap := ast.NewAttachPoint("kprobe:vfs_*", ast.Pos{File: "t.bt", Line: 3, Col: 1})
	points, errs := ResolveAll(ap, nil, oracle)
	require.Empty(t, errs)
	require.Len(t, points, 2)

	for _, p := range points {
		require.True(t, p.IgnoreInvalid)
		require.Equal(t, "t.bt:3:1", p.Pos())
		require.Contains(t, []string{"vfs_read", "vfs_write"}, p.Func)
	}
}

func TestQuotedColonPreserved(t *testing.T) {
	parts, err := Lex(`usdt:"/path/with:colon":ns:func`, nil)
	require.NoError(t, err)
	require.Equal(t, []string{"usdt", "/path/with:colon", "ns", "func"}, parts)
}
