package codegen

import (
	"fmt"

	"github.com/bpftrace-go/bpftrace/internal/resources"
	"github.com/bpftrace-go/bpftrace/internal/typesys"
)

func (v *Visitor) nextLoopMetaID() int {
	v.loopMetaID++
	return v.loopMetaID
}

func (v *Visitor) intType(bits int) typesys.SizedType {
	t, _ := typesys.NewInt(bits, true)
	return t
}

func (v *Visitor) ptrType() typesys.SizedType {
	return typesys.NewPtr(typesys.Void(), typesys.AddrNone)
}

// emitRuntimeError registers kind in the program's RuntimeErrorInfo
// table, deduping by kind since every call site for a given fallible
// operation shares one dense error id.
func (v *Visitor) emitRuntimeError(kind resources.RuntimeErrorKind) uint64 {
	for _, e := range v.rr.Errors {
		if e.Kind == kind {
			return e.ErrorID
		}
	}
	id := uint64(len(v.rr.Errors))
	v.rr.Errors = append(v.rr.Errors, resources.RuntimeErrorInfo{ErrorID: id, Kind: kind})
	return id
}

// emitRuntimeErrorRecord emits the {action_id, error_id, retval} record
// a runtime_error protocol action carries, so the zero-divisor (and any
// other fallible-helper) path is visible to the dispatcher, not just
// registered in the error table.
func (v *Visitor) emitRuntimeErrorRecord(errID uint64) {
	payload := v.b.AllocaStore("[24 x i8]", "zeroinitializer")
	v.b.StoreAt("i64", payload, 0, fmt.Sprintf("%d", protocolActionRuntimeError))
	v.b.StoreAt("i64", payload, 8, fmt.Sprintf("%d", errID))
	v.b.StoreAt("i64", payload, 16, "0")
	v.b.RingbufOutput(eventsMapName, payload, 24)
}

// allocaStore emits a stack alloca of irType initialized to value and
// returns the pointer register; values under cfg.OnStackLimit stay on
// the BPF stack.
func (v *Visitor) allocaStore(irType, value string) string {
	return v.b.AllocaStore(irType, value)
}

func (v *Visitor) loadI64(ptr string) string {
	return v.b.Load("i64", ptr)
}

// spillToScratch materializes e into addressable storage: on-stack if
// its type's size is within cfg.OnStackLimit, otherwise a per-CPU
// scratch-map slot keyed by the masked CPU ID.
func (v *Visitor) spillToScratch(e ScopedExpr) string {
	size := e.Type.Size()
	if size == 0 {
		size = 8
	}
	if size <= v.cfg.OnStackLimit {
		return v.b.AllocaStore(irTypeFor(e.Type), e.Value)
	}
	return v.b.ScratchSlot("@scratch.map_value", 0, v.maxCPUMask)
}

func irTypeFor(t typesys.SizedType) string {
	switch t.Kind {
	case typesys.KindInt:
		return fmt.Sprintf("i%d", t.Bits)
	case typesys.KindBool:
		return "i8"
	case typesys.KindPtr:
		return "ptr"
	default:
		return "i64"
	}
}

// mapValueScratchSize mirrors the fixed value structs each aggregation
// kind stores, sizing the zeroed fallback buffer a failed lookup is
// routed to.
func mapValueScratchSize(def resources.MapDef) int {
	switch def.ValueType {
	case "min", "max", "avg":
		return 16
	case "stats":
		return 32
	case "hist", "lhist":
		return 8 * 64
	case "tseries":
		n := def.Detail.NumIntervals
		if n < 1 {
			n = 1
		}
		return 8 + 8*n
	default:
		return 8
	}
}

// emitHelperError registers and emits a HELPER_ERROR runtime_error
// record, the bookkeeping every checked map helper call shares.
func (v *Visitor) emitHelperError() {
	errID := v.emitRuntimeError(resources.RuntimeErrHelperFailure)
	v.emitRuntimeErrorRecord(errID)
}

// mapLookupChecked emits map_lookup_elem and, on NULL, a HELPER_ERROR
// runtime_error record; the returned pointer is routed to a
// zero-initialized buffer of the map's value size on that path, so
// callers can read or update through it unconditionally.
func (v *Visitor) mapLookupChecked(def resources.MapDef, keyPtr string) string {
	valPtr := v.b.MapLookup(mapGlobalName(def.ID), keyPtr)
	isNull := v.b.IsNull(valPtr)

	nullLabel := v.b.NextLabel("lookup.null")
	contLabel := v.b.NextLabel("lookup.cont")
	v.b.CondBr(isNull, nullLabel, contLabel)

	v.b.Label(nullLabel)
	v.emitHelperError()
	v.b.Br(contLabel)

	v.b.Label(contLabel)
	zero := v.b.AllocaStore(fmt.Sprintf("[%d x i8]", mapValueScratchSize(def)), "zeroinitializer")
	return v.b.SelectPtr(isNull, zero, valPtr)
}

// mapUpdateChecked emits map_update_elem and, on a non-zero status, a
// HELPER_ERROR runtime_error record.
func (v *Visitor) mapUpdateChecked(def resources.MapDef, keyPtr, valPtr string) {
	status := v.b.MapUpdate(mapGlobalName(def.ID), keyPtr, valPtr, 0)
	failed := v.b.Compare("ne", status, "0", 64)

	errLabel := v.b.NextLabel("update.err")
	contLabel := v.b.NextLabel("update.cont")
	v.b.CondBr(failed, errLabel, contLabel)

	v.b.Label(errLabel)
	v.emitHelperError()
	v.b.Br(contLabel)

	v.b.Label(contLabel)
}

// emitAggregationUpdate lowers one of count/sum/min/max/avg/stats/hist/
// lhist/tseries into its atomic-free per-CPU RMW sequence. Each
// aggregation kind stores a fixed-size struct that internal/runtime
// folds across CPUs at query time.
func (v *Visitor) emitAggregationUpdate(def resources.MapDef, keyPtr, kind string, value ScopedExpr) {
	valPtr := v.mapLookupChecked(def, keyPtr)

	switch kind {
	case "count":
		v.b.IncrementI64(valPtr, 1)
	case "sum":
		v.b.AddI64At(valPtr, 0, value.Value)
	case "min":
		v.b.MinMaxUpdate(valPtr, value.Value, true)
	case "max":
		v.b.MinMaxUpdate(valPtr, value.Value, false)
	case "avg":
		v.b.AddI64At(valPtr, 0, value.Value) // sum
		v.b.IncrementI64At(valPtr, 8)        // count
	case "stats":
		v.b.AddI64At(valPtr, 8, value.Value) // sum
		v.b.IncrementI64At(valPtr, 0)        // count
		v.b.MinMaxAt(valPtr, 16, value.Value, true)
		v.b.MinMaxAt(valPtr, 24, value.Value, false)
	case "hist":
		v.b.EmitLog2()
		bucket := v.b.CallStatic("i64", "@bpftrace.log2", value.Value)
		v.b.IncrementBucket(valPtr, bucket)
	case "lhist":
		v.b.EmitLinear()
		// lhist's min/max/step are carried in MapDetail and
		// resolved by the Resource Analyser before codegen runs.
		bucket := v.b.CallStatic("i64", "@bpftrace.linear", value.Value, "0", "100", "10")
		v.b.IncrementBucket(valPtr, bucket)
	case "tseries":
		v.tseriesUpdate(def, valPtr, value)
	}
}

// tseriesUpdate lowers the t-series bucket rule: bucket index =
// (epoch = now/interval) mod num_intervals; if the stored epoch differs
// from the current one, the bucket is reset before applying the
// aggregation. valPtr is the already-checked map value pointer.
func (v *Visitor) tseriesUpdate(def resources.MapDef, valPtr string, value ScopedExpr) {
	now := v.b.KtimeGetNs()
	epoch := v.b.DivConst(now, def.Detail.IntervalNS)
	bucket := v.b.ModConst(epoch, int64(def.Detail.NumIntervals))
	v.b.TSeriesApply(valPtr, epoch, bucket, def.Detail.Agg, value.Value)
}
