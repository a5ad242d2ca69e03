// Package semantic implements the type and field analyser, the probe
// matcher, and the portability analyser. Each is a pass over the typed
// AST that accumulates diagnostics on the offending nodes rather than
// aborting, so one run can report everything it finds.
package semantic

import (
	"github.com/bpftrace-go/bpftrace/internal/ast"
	"github.com/bpftrace-go/bpftrace/internal/diag"
	"github.com/bpftrace-go/bpftrace/internal/dwarfsrc"
	"github.com/bpftrace-go/bpftrace/internal/typesys"
)

// FieldAnalysis is the Type & Field Analyser's output: per field-access
// node, the resolved Field (offset, type, bitfield, is_data_loc).
// Resolution results live keyed by node identity rather than mutating the
// AST, keeping internal/ast free of a typesys dependency.
type FieldAnalysis struct {
	Resolved map[*ast.FieldAccess]typesys.Field
}

// ContextRecords maps a probe's context-access root variable name (e.g.
// "args" for a tracepoint, "curtask") to the record type name the Type &
// Field Analyser should resolve field accesses on that variable against.
// The CodeGen Visitor populates this per probe from the probe's attach
// points and the struct registry (tracepoint format files, BTF task
// struct, …); semantic analysis treats it as an input.
type ContextRecords map[string]string

// AnalyzeFields walks every probe body resolving FieldAccess nodes against
// reg/src, recording diagnostics on the accessed node for anything that
// fails to resolve rather than aborting.
func AnalyzeFields(prog *ast.Program, ctx ContextRecords, reg *typesys.Registry, src dwarfsrc.FieldSource, diags *diag.Bag) *FieldAnalysis {
	fa := &FieldAnalysis{Resolved: map[*ast.FieldAccess]typesys.Field{}}
	for _, probe := range prog.Probes {
		for _, stmt := range probe.Body {
			walkStmt(stmt, ctx, reg, src, diags, fa)
		}
	}
	return fa
}

func walkStmt(s ast.Stmt, ctx ContextRecords, reg *typesys.Registry, src dwarfsrc.FieldSource, diags *diag.Bag, fa *FieldAnalysis) {
	switch ast.StmtKindOf(s) {
	case ast.StmtExpr:
		walkExpr(s.(*ast.ExprStmt).X, ctx, reg, src, diags, fa)
	case ast.StmtAssign:
		a := s.(*ast.Assign)
		walkExpr(a.Target, ctx, reg, src, diags, fa)
		walkExpr(a.Value, ctx, reg, src, diags, fa)
	case ast.StmtIf:
		i := s.(*ast.If)
		walkExpr(i.Cond, ctx, reg, src, diags, fa)
		for _, st := range i.Then {
			walkStmt(st, ctx, reg, src, diags, fa)
		}
		for _, st := range i.Else {
			walkStmt(st, ctx, reg, src, diags, fa)
		}
	case ast.StmtWhile:
		w := s.(*ast.While)
		walkExpr(w.Cond, ctx, reg, src, diags, fa)
		for _, st := range w.Body {
			walkStmt(st, ctx, reg, src, diags, fa)
		}
	case ast.StmtUnroll:
		u := s.(*ast.Unroll)
		for _, st := range u.Body {
			walkStmt(st, ctx, reg, src, diags, fa)
		}
	case ast.StmtForRange:
		f := s.(*ast.ForRange)
		walkExpr(f.Start, ctx, reg, src, diags, fa)
		walkExpr(f.End, ctx, reg, src, diags, fa)
		for _, st := range f.Body {
			walkStmt(st, ctx, reg, src, diags, fa)
		}
	case ast.StmtForMap:
		f := s.(*ast.ForMap)
		for _, st := range f.Body {
			walkStmt(st, ctx, reg, src, diags, fa)
		}
	case ast.StmtReturn:
		r := s.(*ast.Return)
		if r.Value != nil {
			walkExpr(r.Value, ctx, reg, src, diags, fa)
		}
	}
}

func walkExpr(e ast.Expr, ctx ContextRecords, reg *typesys.Registry, src dwarfsrc.FieldSource, diags *diag.Bag, fa *FieldAnalysis) {
	if e == nil {
		return
	}
	switch ast.Kind(e) {
	case ast.ExprField:
		fieldExpr := e.(*ast.FieldAccess)
		walkExpr(fieldExpr.Receiver, ctx, reg, src, diags, fa)
		resolveFieldAccess(fieldExpr, ctx, reg, src, diags, fa)
	case ast.ExprBinary:
		b := e.(*ast.Binary)
		walkExpr(b.Left, ctx, reg, src, diags, fa)
		walkExpr(b.Right, ctx, reg, src, diags, fa)
	case ast.ExprUnary:
		walkExpr(e.(*ast.Unary).Operand, ctx, reg, src, diags, fa)
	case ast.ExprCall:
		for _, arg := range e.(*ast.Call).Args {
			walkExpr(arg, ctx, reg, src, diags, fa)
		}
	case ast.ExprMap:
		if key := e.(*ast.MapRef).Key; key != nil {
			walkExpr(key, ctx, reg, src, diags, fa)
		}
	}
}

// resolveFieldAccess determines the record name backing fieldExpr.Receiver
// and resolves fieldExpr.Field against it, recording the result in fa or a
// diagnostic on fieldExpr if resolution fails.
func resolveFieldAccess(fieldExpr *ast.FieldAccess, ctx ContextRecords, reg *typesys.Registry, src dwarfsrc.FieldSource, diags *diag.Bag, fa *FieldAnalysis) {
	recordName, ok := receiverRecordName(fieldExpr.Receiver, ctx, fa)
	if !ok {
		diags.Errorf(fieldExpr, "", "cannot determine record type of field access receiver")
		return
	}

	rec, ok := reg.Lookup(recordName)
	if !ok {
		if src == nil {
			diags.Errorf(fieldExpr, "pass a vmlinux/debug-info path so record types can be resolved",
				"no field source available for record type %q", recordName)
			return
		}
		loaded, err := src.Record(recordName)
		if err != nil {
			diags.Errorf(fieldExpr, "check the field name against the kernel BTF or your C definitions",
				"unknown record type %q", recordName)
			return
		}
		reg.Define(loaded)
		rec = loaded
	}

	f, err := reg.ResolveField(rec.Name, fieldExpr.Field)
	if err != nil {
		diags.Errorf(fieldExpr, "", "%s", err.Error())
		return
	}
	fa.Resolved[fieldExpr] = f
}

// receiverRecordName determines which record type backs a FieldAccess
// receiver: a BuiltinVar root resolves via ctx; a nested FieldAccess
// resolves via the previously-resolved field's type (dereferencing one
// pointer level if present, per context-access handling).
func receiverRecordName(receiver ast.Expr, ctx ContextRecords, fa *FieldAnalysis) (string, bool) {
	switch ast.Kind(receiver) {
	case ast.ExprBuiltinVar:
		name, ok := ctx[receiver.(*ast.BuiltinVar).Name]
		return name, ok
	case ast.ExprField:
		resolved, ok := fa.Resolved[receiver.(*ast.FieldAccess)]
		if !ok {
			return "", false
		}
		t := resolved.Type
		if t.Kind == typesys.KindPtr && t.Pointee != nil {
			t = *t.Pointee
		}
		if t.Kind != typesys.KindRecord {
			return "", false
		}
		return t.Name, true
	default:
		return "", false
	}
}

// DataLocOffset extracts the context offset from a __data_loc field
// value: tracepoint dynamic-string fields are reported as 64-bit integers
// whose low 16 bits are an offset into the tracepoint context. Exposed
// for internal/codegen, which performs the actual decode.
func DataLocOffset(raw uint64) uint16 {
	return uint16(raw & 0xFFFF)
}
