package semantic

import (
	"github.com/bpftrace-go/bpftrace/internal/ast"
	"github.com/bpftrace-go/bpftrace/internal/diag"
)

// Mode selects which runtime environment the Portability Analyser gates
// features against. ModeAOT is the ahead-of-time compiled-object mode,
// where the script is compiled once and the object loaded later on a
// possibly different host; ModeLive is the normal just-in-time attach
// path where every feature is available.
type Mode int

const (
	ModeLive Mode = iota
	ModeAOT
)

// aotUnavailable names the features the Portability Analyser gates
// in AOT mode: positional params (resolved at compile time against a
// fixed argv, unavailable when the object is compiled once and loaded
// later with different arguments), curtask (requires a per-kernel-version
// task_struct layout resolved at compile time against the build host's
// BTF, not the eventual load host's), and watchpoints (require a live
// ptrace-capable controller process, not just a loaded BPF object).
var aotUnavailable = map[string]string{
	"positional_param": "positional parameters are resolved against the compiling host's argv and cannot vary at load time in AOT mode",
	"curtask":          "curtask requires the compiling host's BTF layout, which may not match the eventual load host in AOT mode",
	"watchpoint":       "watchpoints require a live attach-time controller process, unavailable for AOT-loaded objects",
}

// CheckPortability walks the program gating AOT-unavailable features.
// In ModeLive this is a no-op: every feature named in aotUnavailable is
// available when attaching live.
func CheckPortability(prog *ast.Program, mode Mode, diags *diag.Bag) {
	if mode != ModeAOT {
		return
	}
	for _, probe := range prog.Probes {
		for _, ap := range probe.AttachPoints {
			if ap.Provider == "watchpoint" || ap.Provider == "asyncwatchpoint" {
				diags.Errorf(ap, aotUnavailable["watchpoint"], "watchpoint attach point unavailable in AOT mode")
			}
		}
		for _, stmt := range probe.Body {
			walkPortability(stmt, diags)
		}
	}
}

func walkPortability(s ast.Stmt, diags *diag.Bag) {
	switch ast.StmtKindOf(s) {
	case ast.StmtExpr:
		walkExprPortability(s.(*ast.ExprStmt).X, diags)
	case ast.StmtAssign:
		a := s.(*ast.Assign)
		walkExprPortability(a.Target, diags)
		walkExprPortability(a.Value, diags)
	case ast.StmtIf:
		i := s.(*ast.If)
		walkExprPortability(i.Cond, diags)
		for _, st := range i.Then {
			walkPortability(st, diags)
		}
		for _, st := range i.Else {
			walkPortability(st, diags)
		}
	case ast.StmtWhile:
		w := s.(*ast.While)
		for _, st := range w.Body {
			walkPortability(st, diags)
		}
	}
}

func walkExprPortability(e ast.Expr, diags *diag.Bag) {
	if e == nil {
		return
	}
	switch ast.Kind(e) {
	case ast.ExprPositionalParam:
		diags.Errorf(e, aotUnavailable["positional_param"], "positional parameter unavailable in AOT mode")
	case ast.ExprBuiltinVar:
		if e.(*ast.BuiltinVar).Name == "curtask" {
			diags.Errorf(e, aotUnavailable["curtask"], "curtask unavailable in AOT mode")
		}
	case ast.ExprBinary:
		b := e.(*ast.Binary)
		walkExprPortability(b.Left, diags)
		walkExprPortability(b.Right, diags)
	case ast.ExprCall:
		for _, arg := range e.(*ast.Call).Args {
			walkExprPortability(arg, diags)
		}
	}
}
