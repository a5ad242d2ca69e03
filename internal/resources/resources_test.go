package resources

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/bpftrace-go/bpftrace/internal/ast"
)

func pos(line int) ast.Pos { return ast.Pos{File: "t.bt", Line: line, Col: 1} }

// TestAnalyseCountAggregationRegistersPerCPUHashMap:
// `kprobe:vfs_read { @[comm] = count(); }` registers one per-CPU hash
// map.
func TestAnalyseCountAggregationRegistersPerCPUHashMap(t *testing.T) {
	probe := ast.NewProbe(pos(1))
	ap := ast.NewAttachPoint("kprobe:vfs_read", pos(1))
	ap.Provider = "kprobe"
	ap.Func = "vfs_read"
	probe.AttachPoints = []*ast.AttachPoint{ap}

	asn := &ast.Assign{
		Target: &ast.MapRef{Name: "@", Key: &ast.BuiltinVar{Name: "comm"}},
		Value:  &ast.Call{Name: "count"},
	}
	probe.Body = []ast.Stmt{asn}
	prog := &ast.Program{Probes: []*ast.Probe{probe}}

	rr, err := Analyse(prog, nil, uuid.New())
	require.NoError(t, err)
	require.Len(t, rr.Maps, 1)
	require.Equal(t, MapPerCPUHash, rr.Maps[0].Kind)
	require.Equal(t, "count", rr.Maps[0].ValueType)
	require.True(t, rr.Flags.NeedRecursionCheck)
}

// TestAnalyseReusesMapIDAcrossAssignments checks the dense-ID-by-
// declaration-order invariant names: a map referenced twice keeps
// one ID.
func TestAnalyseReusesMapIDAcrossAssignments(t *testing.T) {
	probe := ast.NewProbe(pos(1))
	probe.Body = []ast.Stmt{
		&ast.Assign{Target: &ast.MapRef{Name: "@x"}, Value: &ast.Call{Name: "count"}},
		&ast.Assign{Target: &ast.MapRef{Name: "@x"}, Value: &ast.Call{Name: "count"}},
		&ast.Assign{Target: &ast.MapRef{Name: "@y"}, Value: &ast.Call{Name: "sum"}},
	}
	prog := &ast.Program{Probes: []*ast.Probe{probe}}

	rr, err := Analyse(prog, nil, uuid.New())
	require.NoError(t, err)
	require.Len(t, rr.Maps, 2)
	require.Equal(t, 0, rr.Maps[0].ID)
	require.Equal(t, 1, rr.Maps[1].ID)
}

// TestAnalysePrintfRegistersActionSchema: printf("%s\n", str(arg0))
// records an ordered arg schema.
func TestAnalysePrintfRegistersActionSchema(t *testing.T) {
	probe := ast.NewProbe(pos(1))
	call := &ast.Call{
		Name: "printf",
		Args: []ast.Expr{
			&ast.StrLit{Value: "%s\n"},
			&ast.Call{Name: "str", Args: []ast.Expr{&ast.Var{Name: "arg0"}}},
		},
	}
	probe.Body = []ast.Stmt{&ast.ExprStmt{X: call}}
	prog := &ast.Program{Probes: []*ast.Probe{probe}}

	rr, err := Analyse(prog, nil, uuid.New())
	require.NoError(t, err)
	require.Len(t, rr.Actions, 1)
	require.Equal(t, "%s\n", rr.Actions[0].Format)
	require.Len(t, rr.Actions[0].Args, 1)
}

func TestMapByIDAndActionByIDLookup(t *testing.T) {
	rr := &RequiredResources{
		Maps:    []MapDef{{ID: 0, Name: "@x"}, {ID: 1, Name: "@y"}},
		Actions: []ActionSchema{{ActionID: 0, Kind: "printf"}},
	}

	m, ok := rr.MapByID(1)
	require.True(t, ok)
	require.Equal(t, "@y", m.Name)

	_, ok = rr.MapByID(7)
	require.False(t, ok)

	a, ok := rr.ActionByID(0)
	require.True(t, ok)
	require.Equal(t, "printf", a.Kind)
}

func TestErrorByIDLookup(t *testing.T) {
	rr := &RequiredResources{
		Errors: []RuntimeErrorInfo{
			{ErrorID: 0, Kind: RuntimeErrMapFull, FuncID: 1},
			{ErrorID: 1, Kind: RuntimeErrDivideByZero, FuncID: 2},
		},
	}
	e, ok := rr.ErrorByID(1)
	require.True(t, ok)
	require.Equal(t, RuntimeErrDivideByZero, e.Kind)

	_, ok = rr.ErrorByID(99)
	require.False(t, ok)
}

func TestMarshalUnmarshalRoundTrip(t *testing.T) {
	rr := &RequiredResources{
		BuildID: uuid.New(),
		Maps:    []MapDef{{ID: 0, Name: "@x", Kind: MapPerCPUHash}},
	}
	data, err := rr.Marshal()
	require.NoError(t, err)

	got, err := Unmarshal(data)
	require.NoError(t, err)
	require.Equal(t, rr.BuildID, got.BuildID)
	require.Equal(t, rr.Maps, got.Maps)
}
