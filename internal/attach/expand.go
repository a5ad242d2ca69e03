package attach

import (
	"github.com/bpftrace-go/bpftrace/internal/ast"
	"github.com/bpftrace-go/bpftrace/internal/symbols"
)

// ResolveAll drives the attach-point state machine to a fixed point: Parse
// is invoked recursively on StatusNewAttachPoints results (each expanded
// point carries IgnoreInvalid=true, so a secondary-parse arity mismatch
// silently drops rather than erroring). It returns the final
// set of Ok attach points plus any fatal (non-ignored) errors encountered.
func ResolveAll(ap *ast.AttachPoint, params []string, oracle symbols.Oracle) ([]*ast.AttachPoint, []error) {
	res := Parse(ap, params, oracle)
	switch res.Status {
	case StatusOk:
		return []*ast.AttachPoint{res.Point}, nil
	case StatusSkip:
		return nil, nil
	case StatusInvalid:
		return nil, []error{res.Err}
	case StatusNewAttachPoints:
		var out []*ast.AttachPoint
		var errs []error
		for _, child := range res.Expand {
			childPoints, childErrs := ResolveAll(child, params, oracle)
			out = append(out, childPoints...)
			errs = append(errs, childErrs...)
		}
		return out, errs
	default:
		return nil, nil
	}
}
