package codegen

import (
	"fmt"
	"runtime"

	"github.com/bpftrace-go/bpftrace/internal/ast"
	"github.com/bpftrace-go/bpftrace/internal/config"
	"github.com/bpftrace-go/bpftrace/internal/diag"
	"github.com/bpftrace-go/bpftrace/internal/irbuild"
	"github.com/bpftrace-go/bpftrace/internal/resources"
	"github.com/bpftrace-go/bpftrace/internal/semantic"
	"github.com/bpftrace-go/bpftrace/internal/typesys"
)

// aggregationUpdaters are the builtin names that update a per-CPU
// aggregation map in place.
var aggregationUpdaters = map[string]bool{
	"count": true, "sum": true, "min": true, "max": true,
	"avg": true, "stats": true, "hist": true, "lhist": true, "tseries": true,
}

var actionBuiltins = map[string]bool{
	"printf": true, "errorf": true, "cat": true, "system": true,
	"join": true, "time": true, "strftime": true,
}

// Visitor walks a typed AST probe-by-probe, emitting one
// irbuild.Builder function per probe and driving every BPF-specific
// lowering decision (map kind, per-CPU scratch vs. stack, recursion
// guard, async-action packing) from the RequiredResources record the
// resource analyser already computed.
type Visitor struct {
	b     *irbuild.Builder
	cfg   config.Config
	rr    *resources.RequiredResources
	fa    *semantic.FieldAnalysis
	diags *diag.Bag

	scopes    scopeStack
	mapIndex  map[string]resources.MapDef
	exitLabel string
	loops     []loopLabels

	maxCPUMask      uint32
	loopMetaID      int
	nextActionID    uint64
	internedStrings int
}

// NewVisitor constructs a Visitor bound to b, emitting IR that respects
// cfg's numeric knobs and is driven by rr/fa, the Resource Analyser's and
// Type & Field Analyser's outputs for the same program. diags receives
// portability warnings codegen itself discovers late (e.g. usermode on a
// non-x86_64 target); it may be nil.
func NewVisitor(b *irbuild.Builder, cfg config.Config, rr *resources.RequiredResources, fa *semantic.FieldAnalysis, numCPUs int, diags *diag.Bag) *Visitor {
	idx := make(map[string]resources.MapDef, len(rr.Maps))
	for _, m := range rr.Maps {
		idx[m.Name] = m
	}
	return &Visitor{
		b:          b,
		cfg:        cfg,
		rr:         rr,
		fa:         fa,
		diags:      diags,
		mapIndex:   idx,
		maxCPUMask: irbuild.MaxCPUMask(numCPUs),
	}
}

// targetArch reports the architecture codegen is building for. Builds
// target the host's own arch today, so this is simply the compiling
// process's GOARCH.
func targetArch() string { return runtime.GOARCH }

// CompileProgram lowers every probe in prog, in order, into one function
// each. It declares the shared scratch/recursion/loss globals and the
// inlined helper routines the emitted probes reference before emitting
// any probe body.
func (v *Visitor) CompileProgram(prog *ast.Program) error {
	v.declareGlobals()
	for _, probe := range prog.Probes {
		if err := v.compileProbe(probe); err != nil {
			return fmt.Errorf("codegen: probe at %s: %w", probe.Pos(), err)
		}
	}
	return nil
}

func (v *Visitor) declareGlobals() {
	v.b.Global(eventsMapName, fmt.Sprintf(`@events = global %%bpf_map_def { type: "ringbuf", max_entries: %d }, section ".maps"`, v.cfg.PerfRBPages*4096))
	for _, m := range v.rr.Maps {
		v.b.Global(mapGlobalName(m.ID), mapGlobalIR(m))
	}
	if v.rr.Flags.NeedRecursionCheck {
		v.b.Global("@recursion.flag", `@recursion.flag = global i8 0, section ".maps"`)
		v.b.Global("@loss", `@loss = global i64 0, section ".maps"`)
	}
	for _, budget := range v.rr.Scratch {
		v.b.Global("@scratch."+budget.Kind, fmt.Sprintf(`@scratch.%s = global [%d x i8] zeroinitializer, section ".maps"`,
			budget.Kind, budget.MaxSize))
	}
	if len(v.rr.Flags.StackTypes) > 0 {
		v.b.EmitMurmurHash2()
	}
	for _, m := range v.rr.Maps {
		if m.ValueType == "hist" {
			v.b.EmitLog2()
		}
		if m.ValueType == "lhist" {
			v.b.EmitLinear()
		}
	}
}

func mapGlobalName(id int) string { return fmt.Sprintf("@map.%d", id) }

func mapGlobalIR(m resources.MapDef) string {
	return fmt.Sprintf(`%s = global %%bpf_map_def { type: %q, max_entries: %d }, section ".maps" ; %s`,
		mapGlobalName(m.ID), m.Kind, m.MaxEntries, m.Name)
}

// probeSection derives the BPF ELF section a probe's attach point
// lowers to. irbuild emits one function per concrete attach point, so
// section names and function names stay 1:1 through extraction in
// internal/transform.
func probeSection(ap *ast.AttachPoint) string {
	switch ap.Provider {
	case "kprobe", "kretprobe":
		if ap.FuncOffset != 0 {
			return fmt.Sprintf("%s/%s+%#x", ap.Provider, ap.Func, ap.FuncOffset)
		}
		return fmt.Sprintf("%s/%s", ap.Provider, ap.Func)
	case "uprobe", "uretprobe":
		return fmt.Sprintf("%s/%s:%s", ap.Provider, ap.Target, ap.Func)
	case "tracepoint":
		return fmt.Sprintf("tracepoint/%s/%s", ap.Target, ap.Func)
	case "usdt":
		return fmt.Sprintf("usdt/%s:%s:%s", ap.Target, ap.Namespace, ap.Func)
	case "rawtracepoint":
		return fmt.Sprintf("raw_tracepoint/%s", ap.Target)
	case "fentry", "fexit":
		return fmt.Sprintf("%s/%s", ap.Provider, ap.Func)
	case "begin", "end", "bench":
		return ap.Provider
	default:
		return ap.Provider + "/" + ap.Func
	}
}

func probeFuncName(p *ast.Probe) string { return fmt.Sprintf("probe_%d", p.Index) }

func (v *Visitor) compileProbe(p *ast.Probe) error {
	if len(p.AttachPoints) == 0 {
		return fmt.Errorf("probe has zero attach points")
	}
	section := probeSection(p.AttachPoints[0])
	v.b.Func(probeFuncName(p), section, "ptr")
	v.exitLabel = v.b.NextLabel("exit")

	if v.rr.Flags.NeedRecursionCheck {
		entryLabel := v.b.NextLabel("body")
		v.b.RecursionCheckEntry("@recursion.flag", "@loss", v.exitLabel, entryLabel)
		v.b.Label(entryLabel)
	}

	v.scopes = scopeStack{}
	v.scopes.push()

	if p.Predicate != nil {
		cond := v.visitExpr(p.Predicate)
		thenLabel := v.b.NextLabel("pred.body")
		v.b.CondBr(v.truthy(cond), thenLabel, v.exitLabel)
		v.b.Label(thenLabel)
		cond.Release()
	}

	for _, stmt := range p.Body {
		v.visitStmt(stmt)
	}

	v.scopes.pop()
	if v.rr.Flags.NeedRecursionCheck {
		v.b.RecursionCheckExit("@recursion.flag")
	}
	v.b.Label(v.exitLabel)
	v.b.EndFunc()
	return nil
}

// truthy coerces a value to an i1 condition for CondBr; integers compare
// != 0, booleans pass through.
func (v *Visitor) truthy(e ScopedExpr) string {
	if e.Type.Kind == typesys.KindBool {
		return e.Value
	}
	return e.Value // already produced as i1 by comparison ops; see visitBinary
}
