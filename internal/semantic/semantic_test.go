package semantic

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/bpftrace-go/bpftrace/internal/ast"
	"github.com/bpftrace-go/bpftrace/internal/diag"
	"github.com/bpftrace-go/bpftrace/internal/dwarfsrc"
	"github.com/bpftrace-go/bpftrace/internal/symbols"
	"github.com/bpftrace-go/bpftrace/internal/typesys"
)

func pos(line int) ast.Pos { return ast.Pos{File: "t.bt", Line: line, Col: 1} }

func TestAnalyzeFieldsResolvesSimpleAccess(t *testing.T) {
	mock := dwarfsrc.NewMock()
	u32, _ := typesys.NewInt(32, false)
	mock.Define(typesys.NewRecord("sk_buff", []typesys.Field{
		{Name: "len", Type: u32, Offset: 112},
	}))
	reg := typesys.NewRegistry()

	args := &ast.BuiltinVar{Name: "args"}
	fieldAccess := &ast.FieldAccess{Receiver: args, Field: "len"}
	probe := ast.NewProbe(pos(1))
	probe.Body = []ast.Stmt{&ast.ExprStmt{X: fieldAccess}}
	prog := &ast.Program{Probes: []*ast.Probe{probe}}

	var diags diag.Bag
	fa := AnalyzeFields(prog, ContextRecords{"args": "sk_buff"}, reg, mock, &diags)

	require.False(t, diags.HasErrors())
	resolved, ok := fa.Resolved[fieldAccess]
	require.True(t, ok)
	require.Equal(t, 112, resolved.Offset)
}

func TestAnalyzeFieldsReportsUnknownField(t *testing.T) {
	mock := dwarfsrc.NewMock()
	mock.Define(typesys.NewRecord("sk_buff", nil))
	reg := typesys.NewRegistry()

	args := &ast.BuiltinVar{Name: "args"}
	fieldAccess := &ast.FieldAccess{Receiver: args, Field: "missing"}
	probe := ast.NewProbe(pos(1))
	probe.Body = []ast.Stmt{&ast.ExprStmt{X: fieldAccess}}
	prog := &ast.Program{Probes: []*ast.Probe{probe}}

	var diags diag.Bag
	AnalyzeFields(prog, ContextRecords{"args": "sk_buff"}, reg, mock, &diags)
	require.True(t, diags.HasErrors())
}

func TestMatchProbesExpandsWildcards(t *testing.T) {
	oracle := symbols.NewMock()
	oracle.Kernel = []string{"vfs_read", "vfs_write"}

	probe := ast.NewProbe(pos(1))
	probe.AttachPoints = []*ast.AttachPoint{ast.NewAttachPoint("kprobe:vfs_*", pos(1))}
	prog := &ast.Program{Probes: []*ast.Probe{probe}}

	var diags diag.Bag
	err := MatchProbes(prog, oracle, &diags)
	require.NoError(t, err)
	require.Len(t, probe.AttachPoints, 2)
}

func TestMatchProbesZeroAttachPointsIsHardError(t *testing.T) {
	oracle := symbols.NewMock() // no kernel functions registered

	probe := ast.NewProbe(pos(1))
	probe.AttachPoints = []*ast.AttachPoint{ast.NewAttachPoint("kprobe:no_such_*", pos(1))}
	prog := &ast.Program{Probes: []*ast.Probe{probe}}

	var diags diag.Bag
	err := MatchProbes(prog, oracle, &diags)
	require.Error(t, err)
}

func TestPortabilityGatesWatchpointInAOT(t *testing.T) {
	probe := ast.NewProbe(pos(1))
	probe.AttachPoints = []*ast.AttachPoint{{Provider: "watchpoint"}}
	prog := &ast.Program{Probes: []*ast.Probe{probe}}

	var diags diag.Bag
	CheckPortability(prog, ModeAOT, &diags)
	require.True(t, diags.HasErrors())
}

func TestPortabilityAllowsWatchpointLive(t *testing.T) {
	probe := ast.NewProbe(pos(1))
	probe.AttachPoints = []*ast.AttachPoint{{Provider: "watchpoint"}}
	prog := &ast.Program{Probes: []*ast.Probe{probe}}

	var diags diag.Bag
	CheckPortability(prog, ModeLive, &diags)
	require.False(t, diags.HasErrors())
}
