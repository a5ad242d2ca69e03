package irbuild

import (
	"fmt"

	"github.com/bpftrace-go/bpftrace/internal/transform"
)

// helperID is the BPF helper-ID table irbuild emits calls against,
// resolved through the kernel-helper enum in internal/transform rather
// than duplicated here.
var helperID struct {
	MapLookupElem     int64
	MapUpdateElem     int64
	MapDeleteElem     int64
	ProbeRead         int64
	ProbeReadStr      int64
	ProbeReadUser     int64
	ProbeReadUserStr  int64
	GetSmpProcessorID int64
	KtimeGetNs        int64
	GetCurrentPidTgid int64
	GetCurrentUidGid  int64
	GetCurrentComm    int64
	GetStack          int64
	RingbufOutput     int64
	DPath             int64
	ForEachMapElem    int64
	Loop              int64
	GetCurrentTask    int64
	SendSignal        int64
	TracePrintk       int64
}

func mustHelper(name string) int64 {
	id, ok := transform.KernelHelperID(name)
	if !ok {
		panic("irbuild: unknown BPF helper " + name)
	}
	return id
}

func init() {
	helperID.MapLookupElem = mustHelper("map_lookup_elem")
	helperID.MapUpdateElem = mustHelper("map_update_elem")
	helperID.MapDeleteElem = mustHelper("map_delete_elem")
	helperID.ProbeRead = mustHelper("probe_read")
	helperID.ProbeReadStr = mustHelper("probe_read_str")
	// Kernel and user access use distinct helpers; probe_read is the
	// kernel-space read.
	helperID.ProbeReadUser = mustHelper("probe_read_user")
	helperID.ProbeReadUserStr = mustHelper("probe_read_user_str")
	helperID.GetSmpProcessorID = mustHelper("get_smp_processor_id")
	helperID.KtimeGetNs = mustHelper("ktime_get_ns")
	helperID.GetCurrentPidTgid = mustHelper("get_current_pid_tgid")
	helperID.GetCurrentUidGid = mustHelper("get_current_uid_gid")
	helperID.GetCurrentComm = mustHelper("get_current_comm")
	helperID.GetStack = mustHelper("get_stack")
	helperID.RingbufOutput = mustHelper("ringbuf_output")
	helperID.DPath = mustHelper("d_path")
	helperID.ForEachMapElem = mustHelper("for_each_map_elem")
	helperID.Loop = mustHelper("loop")
	helperID.GetCurrentTask = mustHelper("get_current_task")
	helperID.SendSignal = mustHelper("send_signal")
	helperID.TracePrintk = mustHelper("trace_printk")
}

// CallHelper emits a call to kernel helper id in the standard
// inttoptr-cast shape llc lowers to a BPF helper call. retType "void"
// emits no destination register and returns "".
func (b *Builder) CallHelper(retType string, id int64, args ...string) string {
	dst := ""
	prefix := ""
	if retType != "void" {
		dst = b.nextReg()
		prefix = dst + " = "
	}
	b.emit("%scall %s inttoptr (i64 %d to ptr)(%s)", prefix, retType, id, joinArgs(args))
	return dst
}

func joinArgs(args []string) string {
	out := ""
	for i, a := range args {
		if i > 0 {
			out += ", "
		}
		out += a
	}
	return out
}

// MapLookup emits a map_lookup_elem call, returning the result pointer
// register. On NULL the caller (codegen's checked-lookup wrapper) emits
// a HELPER_ERROR runtime_error record and substitutes a
// zero-initialized buffer.
func (b *Builder) MapLookup(mapPtr, keyPtr string) string {
	return b.CallHelper("ptr", helperID.MapLookupElem, mapPtr, keyPtr)
}

// MapUpdate emits a map_update_elem call, returning the i64 status
// register (0 on success; codegen's checked-update wrapper reports a
// non-zero status as a HELPER_ERROR runtime_error record).
func (b *Builder) MapUpdate(mapPtr, keyPtr, valPtr string, flags int) string {
	return b.CallHelper("i64", helperID.MapUpdateElem, mapPtr, keyPtr, valPtr, fmt.Sprintf("i64 %d", flags))
}

// MapDelete emits a map_delete_elem call. Map kinds that cannot be
// cleared (per-CPU, ringbuf/perfbuf) substitute store-zero via update
// instead; that decision is made by the caller (internal/codegen) based
// on the map's MapKind.
func (b *Builder) MapDelete(mapPtr, keyPtr string) string {
	return b.CallHelper("i64", helperID.MapDeleteElem, mapPtr, keyPtr)
}

// ForEachMapElem emits the bpf_for_each_map_elem call a `for` over a
// map lowers to: a generated static callback whose captured locals live
// in a small per-CPU context struct passed through ctxPtr.
func (b *Builder) ForEachMapElem(mapPtr, callbackFn, ctxPtr string) string {
	return b.CallHelper("i64", helperID.ForEachMapElem, mapPtr, callbackFn, ctxPtr, "i64 0")
}

// BPFLoop emits the bpf_loop call a `for` over a numeric range lowers
// to, with its captured locals passed through ctxPtr.
func (b *Builder) BPFLoop(iterations, callbackFn, ctxPtr string) string {
	return b.CallHelper("i64", helperID.Loop, iterations, callbackFn, ctxPtr, "i64 0")
}

// ProbeReadKernel emits a bounded probe-read-kernel helper call.
func (b *Builder) ProbeReadKernel(dst, src string, size int) string {
	return b.CallHelper("i64", helperID.ProbeRead, dst, fmt.Sprintf("i64 %d", size), src)
}

// ProbeReadUser emits a bounded probe-read-user helper call.
func (b *Builder) ProbeReadUser(dst, src string, size int) string {
	return b.CallHelper("i64", helperID.ProbeReadUser, dst, fmt.Sprintf("i64 %d", size), src)
}

// ProbeReadStr emits the bounded probe-read-str call str() lowers to.
func (b *Builder) ProbeReadStr(dst, src string, size int, userSpace bool) string {
	id := helperID.ProbeReadStr
	if userSpace {
		id = helperID.ProbeReadUserStr
	}
	return b.CallHelper("i64", id, dst, fmt.Sprintf("i64 %d", size), src)
}

// GetStack emits a get_stack call for kstack/ustack capture.
// userSpace selects BPF_F_USER_STACK (bit 8, value 256).
func (b *Builder) GetStack(ctx, buf string, size int, userSpace bool) string {
	flags := 0
	if userSpace {
		flags = 256
	}
	return b.CallHelper("i64", helperID.GetStack, ctx, buf, fmt.Sprintf("i64 %d", size), fmt.Sprintf("i64 %d", flags))
}

// RingbufOutput emits the async-action-emission primitive: every
// printf/cat/print_map/... record ({u64 action_id; u8 payload[...]})
// is written to the ring buffer with this call.
func (b *Builder) RingbufOutput(mapPtr, dataPtr string, size int) string {
	return b.CallHelper("i64", helperID.RingbufOutput, mapPtr, dataPtr, fmt.Sprintf("i64 %d", size), "i64 0")
}

// GetSmpProcessorID emits get_smp_processor_id, the input to the
// scratch allocation policy's per-CPU mask.
func (b *Builder) GetSmpProcessorID() string {
	return b.CallHelper("i64", helperID.GetSmpProcessorID)
}

// KtimeGetNs emits ktime_get_ns, backing the nsecs builtin and the
// t-series epoch computation.
func (b *Builder) KtimeGetNs() string {
	return b.CallHelper("i64", helperID.KtimeGetNs)
}

// GetCurrentPidTgid emits get_current_pid_tgid, backing pid/tid builtins.
func (b *Builder) GetCurrentPidTgid() string {
	return b.CallHelper("i64", helperID.GetCurrentPidTgid)
}

// GetCurrentUidGid emits get_current_uid_gid, backing uid/gid builtins.
func (b *Builder) GetCurrentUidGid() string {
	return b.CallHelper("i64", helperID.GetCurrentUidGid)
}

// GetCurrentComm emits get_current_comm into dst, backing the comm
// builtin.
func (b *Builder) GetCurrentComm(dst string, size int) string {
	return b.CallHelper("i64", helperID.GetCurrentComm, dst, fmt.Sprintf("i64 %d", size))
}

// DPath emits bpf_d_path into a scratch buffer the caller has already
// zero-initialized.
func (b *Builder) DPath(pathPtr, buf string, size int) string {
	return b.CallHelper("i64", helperID.DPath, pathPtr, buf, fmt.Sprintf("i64 %d", size))
}

// SendSignal emits bpf_send_signal, used by watchpoint setup to
// SIGSTOP the tracee.
func (b *Builder) SendSignal(sig int) string {
	return b.CallHelper("i64", helperID.SendSignal, fmt.Sprintf("i32 %d", sig))
}

// TracePrintk emits bpf_trace_printk, gated by config.Config.Debug at
// the codegen layer.
func (b *Builder) TracePrintk(fmtPtr string, size int, args ...string) string {
	all := append([]string{fmtPtr, fmt.Sprintf("i64 %d", size)}, args...)
	return b.CallHelper("i64", helperID.TracePrintk, all...)
}
