package semantic

import (
	"fmt"

	"github.com/bpftrace-go/bpftrace/internal/ast"
	"github.com/bpftrace-go/bpftrace/internal/attach"
	"github.com/bpftrace-go/bpftrace/internal/diag"
	"github.com/bpftrace-go/bpftrace/internal/symbols"
)

// MatchProbes resolves the set of concrete probes to generate for
// multi-match attach points, by running the attach-point parser's
// wildcard expansion over every attach point and replacing the probe's
// AttachPoints slice with the resolved set. A probe left with zero
// attach points after expansion is a hard error.
func MatchProbes(prog *ast.Program, oracle symbols.Oracle, diags *diag.Bag) error {
	for _, probe := range prog.Probes {
		var resolved []*ast.AttachPoint
		for _, ap := range probe.AttachPoints {
			points, errs := attach.ResolveAll(ap, prog.Params, oracle)
			for _, err := range errs {
				diags.Errorf(ap, "", "%s", err.Error())
			}
			resolved = append(resolved, points...)
		}
		probe.AttachPoints = resolved
		if len(resolved) == 0 {
			return fmt.Errorf("semantic: probe at %s has zero attach points after expansion", probe.Pos())
		}
	}
	return nil
}
