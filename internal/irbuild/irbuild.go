// Package irbuild is a specialized emitter of BPF-target LLVM IR text.
// It exposes a minimal builder surface (open function, open basic block,
// insert call, insert load/store, add metadata) and keeps all
// BPF-specific logic — helper IDs, scratch maps, per-CPU indexing — on
// this side of the boundary. All emission is text-level; no CGo or
// libLLVM dependency. The result is handed to internal/llvm's
// opt/llc façade unchanged.
package irbuild

import (
	"fmt"
	"strings"
)

// Builder accumulates one compilation unit's worth of LLVM IR text:
// zero or more probe-program functions plus the shared globals (maps,
// scratch arrays, string constants, inlined helper routines) they
// reference. It is not safe for concurrent use — the CodeGen Visitor
// (internal/codegen) drives one Builder per compiled script, single-
// threaded, like the rest of the compilation pipeline.
type Builder struct {
	funcs    strings.Builder
	globals  strings.Builder
	declared map[string]bool // declared external helpers/intrinsics, deduped

	reg   int
	label int

	cur           *strings.Builder // body buffer for the function currently open
	curName       string
	curTerminated bool
	saved         []savedFunc
}

// savedFunc preserves an open function's emission state while a static
// callback is emitted in its place.
type savedFunc struct {
	cur        *strings.Builder
	name       string
	terminated bool
}

// New returns an empty Builder.
func New() *Builder {
	return &Builder{declared: map[string]bool{}}
}

func (b *Builder) nextReg() string {
	b.reg++
	return fmt.Sprintf("%%r%d", b.reg)
}

// NextLabel returns a fresh basic-block label unique within this module,
// for codegen's control-flow lowering (if/while/unroll/for).
func (b *Builder) NextLabel(hint string) string {
	b.label++
	return fmt.Sprintf("%s.%d", hint, b.label)
}

func (b *Builder) emit(format string, args ...any) {
	fmt.Fprintf(b.cur, " "+format+"\n", args...)
}

// Func opens a new probe-program function named name, attached to the
// given BPF ELF section (e.g. "kprobe/vfs_read", "tracepoint/syscalls/
// sys_enter_openat"). ctxType is the LLVM type of the function's single
// context-pointer argument. Callers must call EndFunc before opening
// another function or calling Module.
func (b *Builder) Func(name, section, ctxType string) {
	body := &strings.Builder{}
	b.cur = body
	b.curName = name
	b.curTerminated = false
	fmt.Fprintf(b.cur, "define dso_local i64 @%s(ptr %%ctx) section \"%s\" {\nentry:\n", name, section)
	_ = ctxType // recorded for documentation; BPF context args are always ptr-typed ("Pointer representation").
}

// EndFunc closes the function opened by Func and appends it to the
// module, auto-terminating with a zero return if codegen didn't emit an
// explicit terminator (e.g. a probe body that falls off the end).
func (b *Builder) EndFunc() {
	if !b.curTerminated {
		b.Ret("0")
	}
	b.funcs.WriteString(b.cur.String())
	b.funcs.WriteString("}\n\n")
	b.cur = nil
	b.curName = ""
}

// StaticFunc suspends the function currently being emitted and opens an
// internal static callback (a bpf_loop or bpf_for_each_map_elem body).
// The suspended function resumes at EndStaticFunc, so codegen can emit
// callbacks at the point of use mid-probe.
func (b *Builder) StaticFunc(name string) {
	b.saved = append(b.saved, savedFunc{b.cur, b.curName, b.curTerminated})
	body := &strings.Builder{}
	b.cur = body
	b.curName = name
	b.curTerminated = false
	fmt.Fprintf(b.cur, "define internal i64 @%s(ptr %%ctx) {\nentry:\n", name)
}

// EndStaticFunc closes the callback opened by StaticFunc and resumes
// the suspended function.
func (b *Builder) EndStaticFunc() {
	b.EndFunc()
	n := len(b.saved) - 1
	s := b.saved[n]
	b.saved = b.saved[:n]
	b.cur, b.curName, b.curTerminated = s.cur, s.name, s.terminated
}

// Label opens a new basic block.
func (b *Builder) Label(name string) {
	fmt.Fprintf(b.cur, "%s:\n", name)
	b.curTerminated = false
}

// Br emits an unconditional branch.
func (b *Builder) Br(target string) {
	b.emit("br label %%%s", target)
	b.curTerminated = true
}

// CondBr emits a conditional branch on an i1 value.
func (b *Builder) CondBr(cond, ifTrue, ifFalse string) {
	b.emit("br i1 %s, label %%%s, label %%%s", cond, ifTrue, ifFalse)
	b.curTerminated = true
}

// LoopCondBr is CondBr with the no-unroll loop metadata `while` loops
// carry so the BPF verifier and optimizer cooperate.
func (b *Builder) LoopCondBr(cond, ifTrue, ifFalse, loopMetaID string) {
	b.emit("br i1 %s, label %%%s, label %%%s, !llvm.loop !%s", cond, ifTrue, ifFalse, loopMetaID)
	b.curTerminated = true
}

// Ret emits a function return. BPF programs return i64; value is an
// already-formatted IR operand ("0", a register name, ...).
func (b *Builder) Ret(value string) {
	b.emit("ret i64 %s", value)
	b.curTerminated = true
}

// Module returns the complete IR text: globals first (maps, scratch
// arrays, string pool, inlined helpers), then probe-program functions, in
// the shape internal/llvm's downstream opt/llc stages expect.
func (b *Builder) Module() string {
	var out strings.Builder
	out.WriteString("; bpftrace-generated BPF module\n\n")
	out.WriteString(b.globals.String())
	out.WriteString("\n")
	out.WriteString(b.funcs.String())
	return out.String()
}

// Global appends a module-level global definition verbatim (e.g. a
// declared map, a string constant, a scratch array). Declarations are
// deduplicated by name so repeated calls for the same map are cheap.
func (b *Builder) Global(name, irLine string) {
	if b.declared["global:"+name] {
		return
	}
	b.declared["global:"+name] = true
	b.globals.WriteString(irLine)
	b.globals.WriteString("\n")
}

// DeclareExternal appends a `declare` line exactly once per distinct
// signature, used for intrinsics (llvm.bpf.*, and
// llvm.preserve.struct.access.index where CO-RE relocation is wanted).
func (b *Builder) DeclareExternal(decl string) {
	if b.declared[decl] {
		return
	}
	b.declared[decl] = true
	b.globals.WriteString(decl)
	b.globals.WriteString("\n")
}
