package codegen

import (
	"fmt"

	"github.com/bpftrace-go/bpftrace/internal/ast"
	"github.com/bpftrace-go/bpftrace/internal/resources"
)

// loopLabels tracks the break/continue targets of the innermost enclosing
// loop, pushed/popped around while/unroll/forRange/forMap bodies.
type loopLabels struct {
	breakLabel, continueLabel string
}

func (v *Visitor) pushLoop(l loopLabels) { v.loops = append(v.loops, l) }
func (v *Visitor) popLoop()              { v.loops = v.loops[:len(v.loops)-1] }
func (v *Visitor) currentLoop() loopLabels {
	return v.loops[len(v.loops)-1]
}

func (v *Visitor) visitStmt(s ast.Stmt) {
	switch ast.StmtKindOf(s) {
	case ast.StmtExpr:
		e := v.visitExpr(s.(*ast.ExprStmt).X)
		e.Release()
	case ast.StmtAssign:
		v.visitAssign(s.(*ast.Assign))
	case ast.StmtIf:
		v.visitIf(s.(*ast.If))
	case ast.StmtWhile:
		v.visitWhile(s.(*ast.While))
	case ast.StmtUnroll:
		v.visitUnroll(s.(*ast.Unroll))
	case ast.StmtForRange:
		v.visitForRange(s.(*ast.ForRange))
	case ast.StmtForMap:
		v.visitForMap(s.(*ast.ForMap))
	case ast.StmtDelete:
		v.visitDelete(s.(*ast.Delete))
	case ast.StmtBreak:
		v.b.Br(v.currentLoop().breakLabel)
	case ast.StmtContinue:
		v.b.Br(v.currentLoop().continueLabel)
	case ast.StmtReturn:
		r := s.(*ast.Return)
		if r.Value != nil {
			val := v.visitExpr(r.Value)
			v.b.Ret(val.Value)
			val.Release()
		} else {
			v.b.Ret("0")
		}
	}
}

func (v *Visitor) visitAssign(a *ast.Assign) {
	value := v.visitExpr(a.Value)
	switch ast.Kind(a.Target) {
	case ast.ExprMap:
		v.assignMap(a.Target.(*ast.MapRef), value, a.Value)
		return
	case ast.ExprVar:
		name := a.Target.(*ast.Var).Name
		v.scopes.declare(name, value)
		return
	default:
		value.Release()
	}
}

// assignMap lowers `@map[key] = value` (scalar or aggregation) to a
// map_update_elem sequence, or, for an aggregation call, to its per-CPU
// RMW sequence.
func (v *Visitor) assignMap(ref *ast.MapRef, value ScopedExpr, rhs ast.Expr) {
	def, ok := v.mapIndex[ref.Name]
	if !ok {
		value.Release()
		return
	}
	keyPtr := v.mapKeyPtr(ref)

	if call, ok := rhs.(*ast.Call); ok && aggregationUpdaters[call.Name] {
		v.emitAggregationUpdate(def, keyPtr, call.Name, value)
		value.Release()
		return
	}

	valPtr := v.spillToScratch(value)
	v.mapUpdateChecked(def, keyPtr, valPtr)
	value.Release()
}

// visitDelete lowers `delete(@map[key])`. Map kinds whose entries
// cannot be deleted (per-CPU, ringbuf/perfbuf) substitute a zero-value
// store via update instead. A delete of an absent key is semantically
// defined as a no-op, so the delete path carries no HELPER_ERROR check;
// the store-zero path goes through the checked update like any other.
func (v *Visitor) visitDelete(s *ast.Delete) {
	def, ok := v.mapIndex[s.Map]
	if !ok {
		return
	}
	keyPtr := v.mapKeyPtr(&ast.MapRef{Name: s.Map, Key: s.Key})
	if !mapKindDeletable(def.Kind) {
		zero := v.allocaStore(fmt.Sprintf("[%d x i8]", mapValueScratchSize(def)), "zeroinitializer")
		v.mapUpdateChecked(def, keyPtr, zero)
		return
	}
	v.b.MapDelete(mapGlobalName(def.ID), keyPtr)
}

// mapKindDeletable reports whether map_delete_elem works on kind;
// per-CPU and buffer-backed kinds cannot drop entries.
func mapKindDeletable(kind resources.MapKind) bool {
	switch kind {
	case resources.MapPerCPUHash, resources.MapPerCPUArray, resources.MapRingbuf, resources.MapPerfEvent:
		return false
	default:
		return true
	}
}

// mapKeyPtr builds the key pointer for a map reference: scalar maps key
// on a constant 0; keyed maps key on the evaluated key expression.
func (v *Visitor) mapKeyPtr(ref *ast.MapRef) string {
	if ref.Key == nil {
		return v.constZeroKey()
	}
	key := v.visitExpr(ref.Key)
	ptr := v.spillToScratch(key)
	key.Release()
	return ptr
}

func (v *Visitor) constZeroKey() string {
	return v.allocaStore("i64", "0")
}

func (v *Visitor) visitIf(s *ast.If) {
	cond := v.visitExpr(s.Cond)
	thenLabel := v.b.NextLabel("if.then")
	elseLabel := v.b.NextLabel("if.else")
	endLabel := v.b.NextLabel("if.end")
	v.b.CondBr(cond.Value, thenLabel, elseLabel)
	cond.Release()

	v.b.Label(thenLabel)
	v.scopes.push()
	for _, st := range s.Then {
		v.visitStmt(st)
	}
	v.scopes.pop()
	v.b.Br(endLabel)

	v.b.Label(elseLabel)
	v.scopes.push()
	for _, st := range s.Else {
		v.visitStmt(st)
	}
	v.scopes.pop()
	v.b.Br(endLabel)

	v.b.Label(endLabel)
}

// visitWhile lowers `while` with a no-unroll loop-metadata annotation
// so the BPF verifier and optimizer cooperate.
func (v *Visitor) visitWhile(s *ast.While) {
	headLabel := v.b.NextLabel("while.head")
	bodyLabel := v.b.NextLabel("while.body")
	endLabel := v.b.NextLabel("while.end")
	loopMeta := fmt.Sprintf("%d", v.nextLoopMetaID())
	v.b.Global("!llvm.loop."+loopMeta, fmt.Sprintf("!%s = distinct !{!%s, !\"llvm.loop.unroll.disable\"}", loopMeta, loopMeta))

	v.b.Br(headLabel)
	v.b.Label(headLabel)
	cond := v.visitExpr(s.Cond)
	v.b.LoopCondBr(cond.Value, bodyLabel, endLabel, loopMeta)
	cond.Release()

	v.b.Label(bodyLabel)
	v.pushLoop(loopLabels{breakLabel: endLabel, continueLabel: headLabel})
	v.scopes.push()
	for _, st := range s.Body {
		v.visitStmt(st)
	}
	v.scopes.pop()
	v.popLoop()
	v.b.Br(headLabel)

	v.b.Label(endLabel)
}

// visitUnroll lowers a compile-time-bounded loop by literally repeating
// the body Count times, so the verifier sees a straight-line program
// with no backedge.
func (v *Visitor) visitUnroll(s *ast.Unroll) {
	endLabel := v.b.NextLabel("unroll.end")
	for i := 0; i < s.Count; i++ {
		iterLabel := v.b.NextLabel("unroll.iter")
		v.b.Br(iterLabel)
		v.b.Label(iterLabel)
		v.pushLoop(loopLabels{breakLabel: endLabel, continueLabel: iterLabel})
		v.scopes.push()
		for _, st := range s.Body {
			v.visitStmt(st)
		}
		v.scopes.pop()
		v.popLoop()
	}
	v.b.Br(endLabel)
	v.b.Label(endLabel)
}

// visitForRange compiles a `for` over a numeric range to bpf_loop.
func (v *Visitor) visitForRange(s *ast.ForRange) {
	start := v.visitExpr(s.Start)
	end := v.visitExpr(s.End)
	iterations := v.allocaStore("i64", fmt.Sprintf("sub (i64 %s, i64 %s)", end.Value, start.Value))
	start.Release()
	end.Release()

	callbackName := fmt.Sprintf("forrange.cb.%d", v.nextLoopMetaID())
	v.emitRangeCallback(callbackName, s.Var, s.Body)
	v.b.BPFLoop(v.loadI64(iterations), "@"+callbackName, "null")
}

// emitRangeCallback emits the static callback bpf_loop invokes once
// per iteration. The loop variable is passed as the callback's index
// argument rather than threaded through a captured-locals struct,
// since for-range bodies don't capture outer scratch state by
// reference.
func (v *Visitor) emitRangeCallback(name, loopVar string, body []ast.Stmt) {
	v.b.StaticFunc(name)
	v.scopes.push()
	v.scopes.declare(loopVar, NewScopedExpr("%idx", v.intType(64)))
	for _, st := range body {
		v.visitStmt(st)
	}
	v.scopes.pop()
	v.b.EndStaticFunc()
}

// visitForMap compiles a `for` over a map to bpf_for_each_map_elem.
func (v *Visitor) visitForMap(s *ast.ForMap) {
	def, ok := v.mapIndex[s.Map]
	if !ok {
		return
	}
	callbackName := fmt.Sprintf("formap.cb.%d", v.nextLoopMetaID())
	v.emitMapCallback(callbackName, s.KeyVar, s.ValVar, s.Body)
	v.b.ForEachMapElem(mapGlobalName(def.ID), "@"+callbackName, "null")
}

func (v *Visitor) emitMapCallback(name, keyVar, valVar string, body []ast.Stmt) {
	v.b.StaticFunc(name)
	v.scopes.push()
	if keyVar != "" {
		v.scopes.declare(keyVar, NewScopedExpr("%key", v.ptrType()))
	}
	if valVar != "" {
		v.scopes.declare(valVar, NewScopedExpr("%val", v.ptrType()))
	}
	for _, st := range body {
		v.visitStmt(st)
	}
	v.scopes.pop()
	v.b.EndStaticFunc()
}
