package pipeline

import (
	"fmt"
	"runtime"

	"github.com/google/uuid"

	"github.com/bpftrace-go/bpftrace/internal/ast"
	"github.com/bpftrace-go/bpftrace/internal/attach"
	"github.com/bpftrace-go/bpftrace/internal/codegen"
	"github.com/bpftrace-go/bpftrace/internal/config"
	"github.com/bpftrace-go/bpftrace/internal/diag"
	"github.com/bpftrace-go/bpftrace/internal/dwarfsrc"
	"github.com/bpftrace-go/bpftrace/internal/irbuild"
	"github.com/bpftrace-go/bpftrace/internal/resources"
	"github.com/bpftrace-go/bpftrace/internal/semantic"
	"github.com/bpftrace-go/bpftrace/internal/symbols"
	"github.com/bpftrace-go/bpftrace/internal/typesys"
)

// ScriptInput is everything CompileScript needs beyond the typed AST
// itself: the live collaborators (a DWARF/BTF field source, a symbol
// oracle for attach-point expansion and probe matching) plus the
// portability mode and numeric knobs that drive codegen's
// scratch-allocation policy.
type ScriptInput struct {
	Program  *ast.Program
	Context  semantic.ContextRecords
	Registry *typesys.Registry
	Fields   dwarfsrc.FieldSource
	Oracle   symbols.Oracle
	Mode     semantic.Mode
	Config   config.Config
	BuildID  uuid.UUID
	NumCPU   int
}

// ScriptArtifacts is what CompileScript hands back: the emitted LLVM IR
// module text (ready to feed to internal/llvm's opt/llc façade) plus
// the RequiredResources record the runtime needs to interpret the
// program's ring-buffer events.
type ScriptArtifacts struct {
	IR        string
	Resources *resources.RequiredResources
	Fields    *semantic.FieldAnalysis
}

// CompileScript drives the front-half multi-pass pipeline from a typed
// AST to a loadable LLVM IR module plus its RequiredResources sidecar:
// attach-point expansion, probe matching, field analysis, portability
// gating, resource analysis, then the codegen visitor over the IR
// builder. Diagnostics accumulate in a single Bag rather than aborting
// pass-by-pass; CompileScript itself only returns an error for
// conditions a later pass cannot meaningfully continue past (zero
// attach points on a probe, a hard resource-analysis failure).
func CompileScript(in ScriptInput) (*ScriptArtifacts, *diag.Bag, error) {
	diags := &diag.Bag{}
	prog := in.Program

	if err := expandAttachPoints(prog, in.Oracle); err != nil {
		return nil, diags, fmt.Errorf("attach-point expansion: %w", err)
	}
	if err := semantic.MatchProbes(prog, in.Oracle, diags); err != nil {
		return nil, diags, fmt.Errorf("probe matching: %w", err)
	}

	reg := in.Registry
	if reg == nil {
		reg = typesys.NewRegistry()
	}
	fa := semantic.AnalyzeFields(prog, in.Context, reg, in.Fields, diags)
	semantic.CheckPortability(prog, in.Mode, diags)

	if diags.HasErrors() {
		return nil, diags, fmt.Errorf("%d diagnostic error(s) during semantic analysis", diags.Len())
	}

	rr, err := resources.Analyse(prog, fa, in.BuildID)
	if err != nil {
		return nil, diags, fmt.Errorf("resource analysis: %w", err)
	}

	numCPU := in.NumCPU
	if numCPU <= 0 {
		numCPU = runtime.NumCPU()
	}

	b := irbuild.New()
	v := codegen.NewVisitor(b, in.Config, rr, fa, numCPU, diags)
	if err := v.CompileProgram(prog); err != nil {
		return nil, diags, fmt.Errorf("codegen: %w", err)
	}

	return &ScriptArtifacts{IR: b.Module(), Resources: rr, Fields: fa}, diags, nil
}

// expandAttachPoints replaces every probe's attach-point list with its
// wildcard expansion and prunes empty-provider attach points. A probe
// left with zero attach points after expansion is a hard error.
func expandAttachPoints(prog *ast.Program, oracle symbols.Oracle) error {
	for _, probe := range prog.Probes {
		var expanded []*ast.AttachPoint
		for _, ap := range probe.AttachPoints {
			if ap.Pruned() {
				continue
			}
			points, errs := attach.ResolveAll(ap, prog.Params, oracle)
			for _, e := range errs {
				if e != nil {
					return fmt.Errorf("probe %d: %w", probe.Index, e)
				}
			}
			expanded = append(expanded, points...)
		}
		probe.AttachPoints = expanded
		if len(probe.AttachPoints) == 0 {
			return fmt.Errorf("probe %d: no attach points after expansion", probe.Index)
		}
	}
	return nil
}
