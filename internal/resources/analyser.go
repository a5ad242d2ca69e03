package resources

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/bpftrace-go/bpftrace/internal/ast"
	"github.com/bpftrace-go/bpftrace/internal/semantic"
	"github.com/bpftrace-go/bpftrace/internal/typesys"
)

// aggregationKinds maps a builtin aggregation call name to the MapKind
// it requires; aggregations default to per-CPU hash/array for
// lock-free update.
var aggregationKinds = map[string]MapKind{
	"count":   MapPerCPUHash,
	"sum":     MapPerCPUHash,
	"min":     MapPerCPUHash,
	"max":     MapPerCPUHash,
	"avg":     MapPerCPUHash,
	"stats":   MapPerCPUHash,
	"hist":    MapPerCPUHash,
	"lhist":   MapPerCPUHash,
	"tseries": MapPerCPUArray,
}

var actionCallNames = map[string]bool{
	"printf": true, "errorf": true, "cat": true, "system": true,
	"join": true, "time": true, "strftime": true,
}

var stackCallNames = map[string]bool{"kstack": true, "ustack": true}

// Analyse performs a single traversal of prog computing the map set,
// scratch-buffer budgets, async-action schemas, and derived flags,
// emitting a self-contained RequiredResources record.
func Analyse(prog *ast.Program, fa *semantic.FieldAnalysis, buildID uuid.UUID) (*RequiredResources, error) {
	a := &analysis{
		mapIndex: map[string]int{},
		fa:       fa,
		rr: &RequiredResources{
			BuildID: buildID,
		},
	}

	for _, probe := range prog.Probes {
		a.visitProbe(probe)
		for _, stmt := range probe.Body {
			a.visitStmt(stmt)
		}
	}

	a.rr.Flags = a.flags
	a.rr.Scratch = a.scratchList()
	return a.rr, nil
}

type analysis struct {
	rr         *RequiredResources
	mapIndex   map[string]int
	flags      Flags
	scratch    map[string]*ScratchBudget
	nextAction uint64
	fa         *semantic.FieldAnalysis
}

func (a *analysis) visitProbe(p *ast.Probe) {
	kind := ProbeNormal
	var raws []string
	for _, ap := range p.AttachPoints {
		raws = append(raws, ap.RawInput)
		switch ap.Provider {
		case "begin", "end", "bench":
			kind = ProbeSpecial
		case "watchpoint", "asyncwatchpoint":
			kind = ProbeWatchpoint
		case "kprobe", "kretprobe", "uprobe", "uretprobe":
			a.flags.NeedRecursionCheck = true
		}
	}
	a.rr.Probes = append(a.rr.Probes, ProbeInfo{
		Index:     p.Index,
		Kind:      kind,
		RawInputs: raws,
	})
}

func (a *analysis) visitStmt(s ast.Stmt) {
	switch ast.StmtKindOf(s) {
	case ast.StmtExpr:
		a.visitExpr(s.(*ast.ExprStmt).X)
	case ast.StmtAssign:
		asn := s.(*ast.Assign)
		a.visitAssign(asn)
	case ast.StmtDelete:
		d := s.(*ast.Delete)
		a.registerMap(d.Map, MapHash, "scalar")
		a.visitExpr(d.Key)
	case ast.StmtIf:
		i := s.(*ast.If)
		a.visitExpr(i.Cond)
		for _, st := range i.Then {
			a.visitStmt(st)
		}
		for _, st := range i.Else {
			a.visitStmt(st)
		}
	case ast.StmtWhile:
		w := s.(*ast.While)
		a.visitExpr(w.Cond)
		for _, st := range w.Body {
			a.visitStmt(st)
		}
	case ast.StmtUnroll:
		for _, st := range s.(*ast.Unroll).Body {
			a.visitStmt(st)
		}
	case ast.StmtForRange:
		f := s.(*ast.ForRange)
		a.visitExpr(f.Start)
		a.visitExpr(f.End)
		for _, st := range f.Body {
			a.visitStmt(st)
		}
	case ast.StmtForMap:
		for _, st := range s.(*ast.ForMap).Body {
			a.visitStmt(st)
		}
	case ast.StmtReturn:
		if r := s.(*ast.Return); r.Value != nil {
			a.visitExpr(r.Value)
		}
	}
}

// visitAssign handles `@map = aggregation(...)` (map
// kind/size inference) in addition to plain variable assignment.
func (a *analysis) visitAssign(asn *ast.Assign) {
	a.visitExpr(asn.Value)
	mapRef, ok := asn.Target.(*ast.MapRef)
	if !ok {
		a.visitExpr(asn.Target)
		return
	}
	if mapRef.Key != nil {
		a.visitExpr(mapRef.Key)
	}

	kind := MapHash
	valueType := "scalar"
	if call, ok := asn.Value.(*ast.Call); ok {
		if k, known := aggregationKinds[call.Name]; known {
			kind = k
			valueType = call.Name
		}
		if call.Name == "tseries" {
			a.flags.NeedsElapsedMap = true
		}
	}
	a.registerMap(mapRef.Name, kind, valueType)
}

func (a *analysis) registerMap(name string, kind MapKind, valueType string) int {
	if id, ok := a.mapIndex[name]; ok {
		return id
	}
	id := len(a.rr.Maps)
	a.mapIndex[name] = id
	a.rr.Maps = append(a.rr.Maps, MapDef{
		ID:         id,
		Name:       name,
		Kind:       kind,
		MaxEntries: 10240,
		KeyType:    "bytes",
		ValueType:  valueType,
	})
	return id
}

func (a *analysis) visitExpr(e ast.Expr) {
	if e == nil {
		return
	}
	switch ast.Kind(e) {
	case ast.ExprMap:
		m := e.(*ast.MapRef)
		a.registerMap(m.Name, MapHash, "scalar")
		a.visitExpr(m.Key)
	case ast.ExprField:
		a.visitExpr(e.(*ast.FieldAccess).Receiver)
	case ast.ExprBinary:
		b := e.(*ast.Binary)
		a.visitExpr(b.Left)
		a.visitExpr(b.Right)
	case ast.ExprUnary:
		a.visitExpr(e.(*ast.Unary).Operand)
	case ast.ExprCall:
		a.visitCall(e.(*ast.Call))
	}
}

func (a *analysis) visitCall(call *ast.Call) {
	for _, arg := range call.Args {
		a.visitExpr(arg)
	}

	switch {
	case call.Name == "join":
		a.flags.NeedsJoinMap = true
		a.registerAction(call)
	case call.Name == "skboutput":
		a.flags.UsingSkboutput = true
	case actionCallNames[call.Name]:
		a.registerAction(call)
	case stackCallNames[call.Name]:
		limit := 127
		kind := fmt.Sprintf("kstack(%d)", limit)
		if call.Name == "ustack" {
			kind = fmt.Sprintf("ustack(%d)", limit)
		}
		a.addStackType(kind)
	case call.Name == "str":
		a.addScratch("string", 64)
	case call.Name == "buf":
		a.addScratch("string", 64)
	}
}

func (a *analysis) addStackType(kind string) {
	for _, existing := range a.flags.StackTypes {
		if existing == kind {
			return
		}
	}
	a.flags.StackTypes = append(a.flags.StackTypes, kind)
}

// registerAction assigns a dense AsyncActionID to the call site and
// records its format string and ordered field schema.
func (a *analysis) registerAction(call *ast.Call) {
	id := a.nextAction
	a.nextAction++

	var format string
	fieldArgs := call.Args
	if len(call.Args) > 0 {
		if lit, ok := call.Args[0].(*ast.StrLit); ok {
			format = lit.Value
			fieldArgs = call.Args[1:]
		}
	}

	var args []ArgSchema
	offset := 0
	for i, arg := range fieldArgs {
		ty := inferArgType(arg, a.fa)
		size := ty.Size()
		args = append(args, ArgSchema{
			Name:   fmt.Sprintf("arg%d", i),
			Type:   ty.String(),
			Offset: offset,
			Size:   size,
		})
		offset += size
	}

	severity := SeverityInfo
	if call.Name == "errorf" {
		severity = SeverityError
	}

	a.rr.Actions = append(a.rr.Actions, ActionSchema{
		ActionID: id,
		Kind:     call.Name,
		Format:   format,
		Args:     args,
		Severity: severity,
	})
	if format != "" {
		a.rr.PrintkPool = append(a.rr.PrintkPool, format)
	}
}

// inferArgType gives a best-effort SizedType for an async-action argument.
// A resolved FieldAccess uses the Type & Field Analyser's answer directly;
// integer/string literals resolve from the literal itself; everything else
// defaults to a 64-bit unsigned scalar (the BPF-side representation for
// pointers and unresolved scalars alike, per ).
func inferArgType(e ast.Expr, fa *semantic.FieldAnalysis) typesys.SizedType {
	switch ast.Kind(e) {
	case ast.ExprIntLit:
		lit := e.(*ast.IntLit)
		bits := lit.Bits
		if bits == 0 {
			bits = 64
		}
		t, err := typesys.NewInt(bits, lit.Signed)
		if err != nil {
			return fallbackInt64()
		}
		return t
	case ast.ExprStrLit:
		return typesys.NewString(64)
	case ast.ExprField:
		if fa != nil {
			if f, ok := fa.Resolved[e.(*ast.FieldAccess)]; ok {
				return f.Type
			}
		}
		return fallbackInt64()
	default:
		return fallbackInt64()
	}
}

func fallbackInt64() typesys.SizedType {
	t, _ := typesys.NewInt(64, false)
	return t
}

func (a *analysis) addScratch(kind string, size int) {
	if a.scratch == nil {
		a.scratch = map[string]*ScratchBudget{}
	}
	b, ok := a.scratch[kind]
	if !ok {
		b = &ScratchBudget{Kind: kind}
		a.scratch[kind] = b
	}
	b.Count++
	if size > b.MaxSize {
		b.MaxSize = size
	}
}

func (a *analysis) scratchList() []ScratchBudget {
	var out []ScratchBudget
	for _, b := range a.scratch {
		out = append(out, *b)
	}
	return out
}
