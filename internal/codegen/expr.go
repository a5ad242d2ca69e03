package codegen

import (
	"fmt"

	"github.com/bpftrace-go/bpftrace/internal/ast"
	"github.com/bpftrace-go/bpftrace/internal/resources"
	"github.com/bpftrace-go/bpftrace/internal/typesys"
)

// visitUsermode lowers the `usermode` builtin: on x86_64 it inspects bit 2
// of the trapped pt_regs' cs register (ring 3 iff set), matching the
// codegen_llvm cs-register check. Other architectures have no portable
// equivalent, so codegen reports a portability warning and lowers to a
// constant false rather than failing the build.
func (v *Visitor) visitUsermode() ScopedExpr {
	if targetArch() != "amd64" {
		if v.diags != nil {
			v.diags.Warnf(nil, "", "usermode is only implemented for x86_64; always reporting false on %s", targetArch())
		}
		return NewScopedExpr("0", typesys.Bool())
	}
	cs := v.b.GetRegCS()
	return NewScopedExpr(v.b.AndConst(cs, 3), typesys.Bool())
}

func (v *Visitor) visitExpr(e ast.Expr) ScopedExpr {
	switch ast.Kind(e) {
	case ast.ExprIntLit:
		lit := e.(*ast.IntLit)
		return NewScopedExpr(fmt.Sprintf("%d", lit.Value), v.intType(max(lit.Bits, 64)))
	case ast.ExprStrLit:
		return v.visitStrLit(e.(*ast.StrLit))
	case ast.ExprVar:
		name := e.(*ast.Var).Name
		if bound, ok := v.scopes.resolve(name); ok {
			return bound
		}
		return NewScopedExpr("0", v.intType(64))
	case ast.ExprMap:
		return v.visitMapRead(e.(*ast.MapRef))
	case ast.ExprField:
		return v.visitFieldAccess(e.(*ast.FieldAccess))
	case ast.ExprBinary:
		return v.visitBinary(e.(*ast.Binary))
	case ast.ExprUnary:
		return v.visitUnary(e.(*ast.Unary))
	case ast.ExprCall:
		return v.visitCall(e.(*ast.Call))
	case ast.ExprPositionalParam:
		// Positional params are substituted against argv before
		// codegen runs; a script-body occurrence reaches here only
		// when it wasn't resolved earlier, so fall back to 0 rather
		// than fail codegen.
		return NewScopedExpr("0", v.intType(64))
	case ast.ExprBuiltinVar:
		return v.visitBuiltinVar(e.(*ast.BuiltinVar))
	default:
		return NewScopedExpr("0", v.intType(64))
	}
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func (v *Visitor) visitStrLit(lit *ast.StrLit) ScopedExpr {
	name := fmt.Sprintf("@str.%d", v.internedStrings)
	v.internedStrings++
	v.b.Global(name, fmt.Sprintf(`%s = private constant [%d x i8] c"%s\00"`, name, len(lit.Value)+1, lit.Value))
	return NewScopedExpr(name, typesys.NewString(len(lit.Value)+1))
}

// visitMapRead lowers `@map[key]`: a checked lookup whose NULL path
// emits a HELPER_ERROR record and reads from a zero-initialized buffer
// instead.
func (v *Visitor) visitMapRead(ref *ast.MapRef) ScopedExpr {
	def, ok := v.mapIndex[ref.Name]
	if !ok {
		return NewScopedExpr("0", v.intType(64))
	}
	keyPtr := v.mapKeyPtr(ref)
	safePtr := v.mapLookupChecked(def, keyPtr)
	val := v.b.Load("i64", safePtr)
	return NewScopedExpr(val, v.intType(64))
}

// visitFieldAccess lowers `receiver.field` using the Type & Field
// Analyser's resolution: a BPF-side field is a direct GEP+load; a
// kernel/user-space field goes through the corresponding bounded
// probe-read helper. __data_loc fields carry their context offset in
// the low 16 bits and are decoded here.
func (v *Visitor) visitFieldAccess(fa *ast.FieldAccess) ScopedExpr {
	receiver := v.visitExpr(fa.Receiver)
	field, ok := v.fa.Resolved[fa]
	if !ok {
		receiver.Release()
		return NewScopedExpr("0", v.intType(64))
	}

	fieldPtr := v.b.GEPByte(receiver.Value, field.Offset)
	size := field.Type.Size()
	if size == 0 {
		size = 8
	}

	var raw string
	switch field.Type.Space() {
	case typesys.AddrKernel:
		dst := v.b.AllocaStore(irTypeFor(field.Type), "0")
		v.b.ProbeReadKernel(dst, fieldPtr, size)
		raw = v.b.Load(irTypeFor(field.Type), dst)
	case typesys.AddrUser:
		dst := v.b.AllocaStore(irTypeFor(field.Type), "0")
		v.b.ProbeReadUser(dst, fieldPtr, size)
		raw = v.b.Load(irTypeFor(field.Type), dst)
	default:
		raw = v.b.Load(irTypeFor(field.Type), fieldPtr)
	}

	if field.IsDataLoc {
		// Tracepoint dynamic-string fields: the low 16 bits are the
		// context offset. Codegen materializes the pointer rather
		// than the raw integer so str/printf can read through it.
		offset := v.b.MaskLow16(raw)
		raw = v.b.GEPByte(receiver.Value, 0) // rebased below using the runtime offset
		raw = v.b.GEPReg(raw, offset)
	}

	if field.Bitfield != nil {
		raw = v.decodeBitfield(raw, field)
	}

	receiver.Release()
	return NewScopedExpr(raw, field.Type)
}

// decodeBitfield reproduces the field value from one aligned load with
// one shift and one mask.
func (v *Visitor) decodeBitfield(loaded string, field typesys.Field) string {
	bf := field.Bitfield
	shifted := v.b.Shr(loaded, bf.AccessRshift)
	return v.b.AndConst(shifted, bf.Mask)
}

func (v *Visitor) visitBinary(b *ast.Binary) ScopedExpr {
	lhs := v.visitExpr(b.Left)
	rhs := v.visitExpr(b.Right)
	bits := 64
	if lhs.Type.Kind == typesys.KindInt && lhs.Type.Bits > 0 {
		bits = lhs.Type.Bits
	}

	switch b.Op {
	case ast.OpDiv, ast.OpMod:
		op := "udiv"
		if b.Op == ast.OpMod {
			op = "urem"
		}
		res := v.b.DivSafe(op, lhs.Value, rhs.Value, bits, func() {
			errID := v.emitRuntimeError(resources.RuntimeErrDivideByZero)
			v.emitRuntimeErrorRecord(errID)
		})
		lhs.Release()
		rhs.Release()
		return NewScopedExpr(res, v.intType(bits))
	case ast.OpEq, ast.OpNe, ast.OpLt, ast.OpLe, ast.OpGt, ast.OpGe:
		res := v.b.Compare(cmpOp(b.Op), lhs.Value, rhs.Value, bits)
		lhs.Release()
		rhs.Release()
		return NewScopedExpr(res, typesys.Bool())
	default:
		res := v.b.Arith(arithOp(b.Op), lhs.Value, rhs.Value, bits)
		lhs.Release()
		rhs.Release()
		return NewScopedExpr(res, v.intType(bits))
	}
}

func cmpOp(op ast.BinOp) string {
	switch op {
	case ast.OpEq:
		return "eq"
	case ast.OpNe:
		return "ne"
	case ast.OpLt:
		return "slt"
	case ast.OpLe:
		return "sle"
	case ast.OpGt:
		return "sgt"
	default:
		return "sge"
	}
}

func arithOp(op ast.BinOp) string {
	switch op {
	case ast.OpAdd:
		return "add"
	case ast.OpSub:
		return "sub"
	case ast.OpMul:
		return "mul"
	case ast.OpBAnd, ast.OpAnd:
		return "and"
	case ast.OpBOr, ast.OpOr:
		return "or"
	case ast.OpBXor:
		return "xor"
	case ast.OpShl:
		return "shl"
	case ast.OpShr:
		return "lshr"
	default:
		return "add"
	}
}

func (v *Visitor) visitUnary(u *ast.Unary) ScopedExpr {
	operand := v.visitExpr(u.Operand)
	defer operand.Release()
	switch u.Op {
	case ast.OpNeg:
		return NewScopedExpr(v.b.Arith("sub", "0", operand.Value, 64), v.intType(64))
	case ast.OpNot:
		return NewScopedExpr(v.b.Compare("eq", operand.Value, "0", 64), typesys.Bool())
	case ast.OpBNot:
		return NewScopedExpr(v.b.Arith("xor", operand.Value, "-1", 64), v.intType(64))
	case ast.OpDeref:
		return NewScopedExpr(v.b.Load("i64", operand.Value), v.intType(64))
	default:
		return operand
	}
}

// visitBuiltinVar resolves context-dependent builtins; context-access
// types are marked by the field analyser so codegen can choose between
// direct load and probe-read.
func (v *Visitor) visitBuiltinVar(bv *ast.BuiltinVar) ScopedExpr {
	switch bv.Name {
	case "pid":
		raw := v.b.GetCurrentPidTgid()
		return NewScopedExpr(v.b.Shr(raw, 32), v.intType(32))
	case "tid":
		raw := v.b.GetCurrentPidTgid()
		return NewScopedExpr(v.b.AndConst(raw, 0xFFFFFFFF), v.intType(32))
	case "uid":
		raw := v.b.GetCurrentUidGid()
		return NewScopedExpr(v.b.AndConst(raw, 0xFFFFFFFF), v.intType(32))
	case "gid":
		raw := v.b.GetCurrentUidGid()
		return NewScopedExpr(v.b.Shr(raw, 32), v.intType(32))
	case "nsecs":
		return NewScopedExpr(v.b.KtimeGetNs(), v.intType(64))
	case "cpu":
		return NewScopedExpr(v.b.GetSmpProcessorID(), v.intType(32))
	case "comm":
		buf := v.b.AllocaStore("[16 x i8]", "zeroinitializer")
		v.b.GetCurrentComm(buf, 16)
		return NewScopedExpr(buf, typesys.NewString(16))
	case "curtask":
		return NewScopedExpr(v.b.GetCurrentTask(), v.ptrType())
	case "usermode":
		return v.visitUsermode()
	default:
		// argN/retval resolve against the probe's context-access record,
		// which the Type & Field Analyser populates via ContextRecords;
		// by the time codegen runs these surface as FieldAccess nodes on
		// a synthetic "ctx" receiver, not as BuiltinVar, so this default
		// only covers genuinely-unrecognized names.
		return NewScopedExpr("0", v.intType(64))
	}
}
