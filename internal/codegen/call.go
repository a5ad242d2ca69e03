package codegen

import (
	"fmt"

	"github.com/bpftrace-go/bpftrace/internal/ast"
	"github.com/bpftrace-go/bpftrace/internal/typesys"
)

// stackFrameLimit bounds the captured kstack/ustack frame count.
const stackFrameLimit = 127

// visitCall dispatches ast.ExprCall: per-CPU aggregation builtins
// are actually lowered by assignMap/emitAggregationUpdate when the call is
// a map-assignment RHS, so a bare evaluation here is a harmless
// placeholder; everything else — string/buffer/path/stack primitives,
// strncmp/strcontains, and the async actions — is emitted directly.
func (v *Visitor) visitCall(call *ast.Call) ScopedExpr {
	switch {
	case aggregationUpdaters[call.Name]:
		return NewScopedExpr("0", v.intType(64))
	case actionBuiltins[call.Name]:
		return v.visitAction(call)
	case call.Name == "str":
		return v.visitStr(call)
	case call.Name == "buf":
		return v.visitBuf(call)
	case call.Name == "path":
		return v.visitPath(call)
	case call.Name == "kstack" || call.Name == "ustack":
		return v.visitStack(call)
	case call.Name == "strncmp":
		return v.visitStrncmp(call)
	case call.Name == "strcontains":
		return v.visitStrcontains(call)
	case call.Name == "skboutput":
		return v.visitSkboutput(call)
	case call.Name == "len":
		return v.visitLen(call)
	default:
		for _, arg := range call.Args {
			a := v.visitExpr(arg)
			a.Release()
		}
		return NewScopedExpr("0", v.intType(64))
	}
}

// visitStr lowers `str(ptr[, n])`: a bounded probe-read-str into a
// scratch buffer of size n+1, the extra byte pre-poisoned with 0xFF so
// user space can detect truncation when the source string is at least n
// bytes long (no NUL written within [0, n)).
func (v *Visitor) visitStr(call *ast.Call) ScopedExpr {
	if len(call.Args) == 0 {
		return NewScopedExpr("null", typesys.NewString(0))
	}
	n := v.cfg.MaxStrlen
	if len(call.Args) > 1 {
		if lit, ok := call.Args[1].(*ast.IntLit); ok {
			n = int(lit.Value)
		}
	}

	ptr := v.visitExpr(call.Args[0])
	buf := v.b.AllocaStore(fmt.Sprintf("[%d x i8]", n+1), "zeroinitializer")
	v.b.StoreByte(buf, n, 0xFF)
	userSpace := ptr.Type.Space() == typesys.AddrUser
	v.b.ProbeReadStr(buf, ptr.Value, n, userSpace)
	ptr.Release()
	return NewScopedExpr(buf, typesys.NewString(n))
}

// visitBuf lowers `buf(ptr[, n])`: a `{len:u32, data[N]}` scratch
// record, `len` clamped to min(requested, max_strlen - header).
func (v *Visitor) visitBuf(call *ast.Call) ScopedExpr {
	if len(call.Args) == 0 {
		return NewScopedExpr("null", typesys.NewBuffer(0))
	}
	header := 4
	bufCap := v.cfg.MaxStrlen - header
	if bufCap < 0 {
		bufCap = 0
	}
	if len(call.Args) > 1 {
		if lit, ok := call.Args[1].(*ast.IntLit); ok && int(lit.Value) < bufCap {
			bufCap = int(lit.Value)
		}
	}

	ptr := v.visitExpr(call.Args[0])
	rec := v.b.AllocaStore(fmt.Sprintf("[%d x i8]", header+bufCap), "zeroinitializer")
	v.b.StoreAt("i32", rec, 0, fmt.Sprintf("%d", bufCap))
	data := v.b.GEPByte(rec, header)
	if ptr.Type.Space() == typesys.AddrUser {
		v.b.ProbeReadUser(data, ptr.Value, bufCap)
	} else {
		v.b.ProbeReadKernel(data, ptr.Value, bufCap)
	}
	ptr.Release()
	return NewScopedExpr(rec, typesys.NewBuffer(bufCap))
}

// visitPath lowers `path(ptr[, n])`: bpf_d_path into a scratch buffer,
// zero-initialized first.
func (v *Visitor) visitPath(call *ast.Call) ScopedExpr {
	if len(call.Args) == 0 {
		return NewScopedExpr("null", typesys.NewString(0))
	}
	n := v.cfg.MaxStrlen
	if len(call.Args) > 1 {
		if lit, ok := call.Args[1].(*ast.IntLit); ok {
			n = int(lit.Value)
		}
	}

	ptr := v.visitExpr(call.Args[0])
	buf := v.b.AllocaStore(fmt.Sprintf("[%d x i8]", n), "zeroinitializer")
	v.b.DPath(ptr.Value, buf, n)
	ptr.Release()
	return NewScopedExpr(buf, typesys.NewString(n))
}

// visitStack lowers `kstack`/`ustack`: capture frames via get_stack,
// hash them with MurmurHash2 (seed=1, remap 0->1 to reserve zero), and
// yield the hash. The event's {hash, nr_frames[, pid, probe_id]} record
// is assembled by the async-action payload that wraps the printf/errorf
// call referencing it.
func (v *Visitor) visitStack(call *ast.Call) ScopedExpr {
	userSpace := call.Name == "ustack"
	size := stackFrameLimit * 8
	frames := v.b.AllocaStore(fmt.Sprintf("[%d x i8]", size), "zeroinitializer")
	bytes := v.b.GetStack("%ctx", frames, size, userSpace)
	nrFrames := v.b.DivConst(bytes, 8)
	v.b.EmitMurmurHash2()
	hash := v.b.CallStatic("i64", "@bpftrace.murmur2", frames, nrFrames)
	return NewScopedExpr(hash, typesys.NewStack(userSpace, stackFrameLimit))
}

// visitLen lowers `len(@map)`. The kernel helper table this build
// targets predates bpf_map_sum_elem_count, so the portable fallback is
// emitted: bpf_for_each_map_elem with a counting callback whose ctx
// pointer is the accumulator.
func (v *Visitor) visitLen(call *ast.Call) ScopedExpr {
	if len(call.Args) == 0 {
		return NewScopedExpr("0", v.intType(64))
	}
	ref, ok := call.Args[0].(*ast.MapRef)
	if !ok {
		a := v.visitExpr(call.Args[0])
		a.Release()
		return NewScopedExpr("0", v.intType(64))
	}
	def, ok := v.mapIndex[ref.Name]
	if !ok {
		return NewScopedExpr("0", v.intType(64))
	}

	counter := v.b.AllocaStore("i64", "0")
	cbName := fmt.Sprintf("maplen.cb.%d", v.nextLoopMetaID())
	v.emitLenCallback(cbName)
	v.b.ForEachMapElem(mapGlobalName(def.ID), "@"+cbName, counter)
	return NewScopedExpr(v.loadI64(counter), v.intType(64))
}

// emitLenCallback emits the no-op counting callback len's
// bpf_for_each_map_elem call invokes once per entry: increment the i64
// the ctx argument points at and keep iterating.
func (v *Visitor) emitLenCallback(name string) {
	v.b.StaticFunc(name)
	v.b.IncrementI64("%ctx", 1)
	v.b.EndStaticFunc()
}

// visitStrncmp lowers `strncmp(a, b, n)` to the inline comparison
// routine, returning a bool.
func (v *Visitor) visitStrncmp(call *ast.Call) ScopedExpr {
	if len(call.Args) < 3 {
		return NewScopedExpr("0", typesys.Bool())
	}
	a := v.visitExpr(call.Args[0])
	b := v.visitExpr(call.Args[1])
	n := v.strCapArg(call.Args[2], a, b)

	v.b.EmitStrncmp()
	res := v.b.CallStatic("i64", "@bpftrace.strncmp", a.Value, b.Value, n)
	a.Release()
	b.Release()
	return NewScopedExpr(v.b.Compare("eq", res, "1", 64), typesys.Bool())
}

// visitStrcontains lowers `strcontains(haystack, needle)` to the inline
// bounded substring search, returning a bool.
func (v *Visitor) visitStrcontains(call *ast.Call) ScopedExpr {
	if len(call.Args) < 2 {
		return NewScopedExpr("0", typesys.Bool())
	}
	haystack := v.visitExpr(call.Args[0])
	needle := v.visitExpr(call.Args[1])

	v.b.EmitStrcontains()
	res := v.b.CallStatic("i64", "@bpftrace.strcontains",
		haystack.Value, fmt.Sprintf("%d", haystack.Type.Size()),
		needle.Value, fmt.Sprintf("%d", needle.Type.Size()))
	haystack.Release()
	needle.Release()
	return NewScopedExpr(v.b.Compare("eq", res, "1", 64), typesys.Bool())
}

// strCapArg resolves strncmp's explicit bound argument against a/b's own
// capacities, matching min(n, sizeof(a), sizeof(b)).
func (v *Visitor) strCapArg(e ast.Expr, a, b ScopedExpr) string {
	n := a.Type.Size()
	if bn := b.Type.Size(); bn < n {
		n = bn
	}
	if lit, ok := e.(*ast.IntLit); ok && int(lit.Value) < n {
		n = int(lit.Value)
	}
	return fmt.Sprintf("%d", n)
}

// visitSkboutput lowers `skboutput(pcap_id, skb_ptr, len)` to the
// {pcap_id, ts} + packet-bytes protocol-action record the runtime
// appends to its pcap writer.
func (v *Visitor) visitSkboutput(call *ast.Call) ScopedExpr {
	if len(call.Args) < 3 {
		return NewScopedExpr("0", v.intType(64))
	}
	lit, ok := call.Args[2].(*ast.IntLit)
	if !ok {
		return NewScopedExpr("0", v.intType(64))
	}
	length := int(lit.Value)

	pcapID := v.visitExpr(call.Args[0])
	skb := v.visitExpr(call.Args[1])

	total := 16 + length
	payload := v.b.AllocaStore(fmt.Sprintf("[%d x i8]", total), "zeroinitializer")
	v.b.StoreAt("i64", payload, 0, pcapID.Value)
	v.b.StoreAt("i64", payload, 8, v.b.KtimeGetNs())
	v.b.MemcpyBytes(v.b.GEPByte(payload, 16), skb.Value, length)

	header := v.b.AllocaStore(fmt.Sprintf("[%d x i8]", 8+total), "zeroinitializer")
	v.b.StoreAt("i64", header, 0, fmt.Sprintf("%d", protocolActionSkboutput))
	v.b.MemcpyBytes(v.b.GEPByte(header, 8), payload, total)
	v.b.RingbufOutput(eventsMapName, header, 8+total)

	pcapID.Release()
	skb.Release()
	return NewScopedExpr("0", v.intType(64))
}

// Protocol action ids mirror internal/runtime/actions.go's fixed
// ProtocolActionBase table, duplicated rather than imported since
// internal/runtime must not depend on internal/codegen and the fixed
// protocol ids are part of the wire contract both sides hard-code.
const (
	protocolActionSkboutput    = (1 << 32) + 6
	protocolActionRuntimeError = (1 << 32) + 8
)

// eventsMapName is the ring buffer every async action and protocol record
// is written through; internal/cli/run.go looks it up by this exact ELF
// name on the loaded collection.
const eventsMapName = "@events"

// visitAction lowers a printf/errorf/cat/system/join/time/strftime
// call to the packed {action_id; payload} record the resource analyser
// already assigned a schema for, then emits it via ringbuf_output.
func (v *Visitor) visitAction(call *ast.Call) ScopedExpr {
	id := v.nextActionID
	v.nextActionID++

	schema, ok := v.rr.ActionByID(id)
	if !ok {
		for _, arg := range call.Args {
			a := v.visitExpr(arg)
			a.Release()
		}
		return NewScopedExpr("0", v.intType(64))
	}

	fieldArgs := call.Args
	if schema.Format != "" && len(fieldArgs) > 0 {
		if _, ok := fieldArgs[0].(*ast.StrLit); ok {
			fieldArgs = fieldArgs[1:]
		}
	}

	argsSize := 0
	for _, a := range schema.Args {
		if end := a.Offset + a.Size; end > argsSize {
			argsSize = end
		}
	}

	total := 8 + argsSize
	payload := v.b.AllocaStore(fmt.Sprintf("[%d x i8]", total), "zeroinitializer")
	v.b.StoreAt("i64", payload, 0, fmt.Sprintf("%d", id))

	for i, argSchema := range schema.Args {
		if i >= len(fieldArgs) {
			break
		}
		val := v.visitExpr(fieldArgs[i])
		v.storeActionArg(payload, 8+argSchema.Offset, argSchema.Size, val)
		val.Release()
	}

	v.b.RingbufOutput(eventsMapName, payload, total)
	return NewScopedExpr("0", v.intType(64))
}

// storeActionArg writes val into payload at offset, matching the width
// the Resource Analyser's ArgSchema recorded for this argument: a plain
// scalar store for ints/bools/pointers, an llvm.memcpy for a string/
// buffer-valued argument (e.g. a nested str()/buf() call).
func (v *Visitor) storeActionArg(payload string, offset, size int, val ScopedExpr) {
	if val.Type.Kind == typesys.KindString || val.Type.Kind == typesys.KindBuffer {
		dst := v.b.GEPByte(payload, offset)
		v.b.MemcpyBytes(dst, val.Value, size)
		return
	}
	v.b.StoreAt(irTypeFor(val.Type), payload, offset, val.Value)
}
