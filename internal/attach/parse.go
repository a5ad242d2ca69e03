package attach

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/bpftrace-go/bpftrace/internal/ast"
	"github.com/bpftrace-go/bpftrace/internal/symbols"
)

// Status is the per-attach-point state machine result:
// Unparsed, then one of Invalid, Ok, Skip, or NewAttachPoints.
type Status int

const (
	StatusOk Status = iota
	StatusInvalid
	StatusSkip
	StatusNewAttachPoints
)

// Result carries the outcome of parsing one raw attach-point string.
type Result struct {
	Status Status
	Point  *ast.AttachPoint   // set when Status == StatusOk
	Expand []*ast.AttachPoint // set when Status == StatusNewAttachPoints
	Err    error              // set when Status == StatusInvalid
}

// schema describes one provider's arity contract for error messages.
type schema struct {
	provider string
	minParts int
	maxParts int
	arityMsg string
}

var schemas = map[string]schema{
	"begin":           {"begin", 1, 1, "0 arguments"},
	"end":             {"end", 1, 1, "0 arguments"},
	"self":            {"self", 3, 3, "2 arguments (target, func)"},
	"bench":           {"bench", 2, 2, "1 argument (name)"},
	"kprobe":          {"kprobe", 2, 3, "1 or 2 arguments ([module], func[+offset])"},
	"kretprobe":       {"kretprobe", 2, 3, "1 or 2 arguments ([module], func)"},
	"uprobe":          {"uprobe", 3, 4, "2 or 3 arguments (path, [lang], func[+offset|addr])"},
	"uretprobe":       {"uretprobe", 3, 4, "2 or 3 arguments (path, [lang], func)"},
	"usdt":            {"usdt", 3, 4, "2 or 3 arguments (path, [ns], func)"},
	"tracepoint":      {"tracepoint", 3, 3, "2 arguments (category, event)"},
	"profile":         {"profile", 2, 3, "1 or 2 arguments"},
	"interval":        {"interval", 2, 3, "1 or 2 arguments"},
	"software":        {"software", 2, 3, "1 or 2 arguments (event, [count])"},
	"hardware":        {"hardware", 2, 3, "1 or 2 arguments (event, [count])"},
	"watchpoint":      {"watchpoint", 4, 4, "3 arguments (addr|func+argN, len, mode)"},
	"asyncwatchpoint": {"asyncwatchpoint", 4, 4, "3 arguments (addr|func+argN, len, mode)"},
	"fentry":          {"fentry", 2, 4, "1 to 3 arguments"},
	"fexit":           {"fexit", 2, 4, "1 to 3 arguments"},
	"iter":            {"iter", 2, 3, "1 or 2 arguments (name, [pin])"},
	"rawtracepoint":   {"rawtracepoint", 2, 3, "1 or 2 arguments ([module], name)"},
	"rtp":             {"rawtracepoint", 2, 3, "1 or 2 arguments ([module], name)"},
}

// Parse parses one AttachPoint's RawInput. oracle may be nil
// only if raw contains no glob operator; wildcard attach points require a
// non-nil oracle.
func Parse(ap *ast.AttachPoint, params []string, oracle symbols.Oracle) Result {
	parts, err := Lex(ap.RawInput, params)
	if err != nil {
		return Result{Status: StatusInvalid, Err: err}
	}
	if len(parts) == 0 {
		return Result{Status: StatusSkip}
	}
	if len(parts) > 1 && parts[len(parts)-1] == "" {
		return Result{Status: StatusSkip}
	}

	provider := parts[0]
	if symbols.HasGlob(provider) {
		return expandProviderWildcard(ap, parts, oracle)
	}

	sc, known := schemas[provider]
	if !known {
		return Result{Status: StatusInvalid, Err: fmt.Errorf("attach: unknown provider %q", provider)}
	}

	if funcGlob(provider, parts) {
		expanded, err := expandFuncWildcard(ap, provider, parts, oracle)
		if err != nil {
			return Result{Status: StatusInvalid, Err: err}
		}
		return Result{Status: StatusNewAttachPoints, Expand: expanded}
	}

	if len(parts) < sc.minParts || len(parts) > sc.maxParts {
		if ap.IgnoreInvalid {
			return Result{Status: StatusSkip}
		}
		return Result{Status: StatusInvalid, Err: fmt.Errorf("attach: %s expects %s, got %d part(s)", sc.provider, sc.arityMsg, len(parts)-1)}
	}

	populate, ok := populators[sc.provider]
	if !ok {
		return Result{Status: StatusInvalid, Err: fmt.Errorf("attach: provider %q not implemented", sc.provider)}
	}
	out := ap.Clone(ap.RawInput)
	out.IgnoreInvalid = ap.IgnoreInvalid
	if err := populate(out, parts); err != nil {
		if ap.IgnoreInvalid {
			return Result{Status: StatusSkip}
		}
		return Result{Status: StatusInvalid, Err: err}
	}

	// A target part containing a glob (e.g. uprobe:libc:malloc_*) is
	// handled per-field below, inside populators that call
	// expandTargetWildcard; reaching here with StatusOk means no
	// wildcard was present in any field that requires expansion.
	return Result{Status: StatusOk, Point: out}
}

// expandProviderWildcard handles `tracepoint:*wild*` style
// provider-level wildcards used for listing: a glob in the provider position
// itself has no defined expansion target (providers are a fixed enum), so
// this is always invalid outside of listing mode, which is a CLI concern
// (internal/cli's `list` command queries the Oracle directly).
func expandProviderWildcard(ap *ast.AttachPoint, parts []string, oracle symbols.Oracle) Result {
	return Result{Status: StatusInvalid, Err: fmt.Errorf("attach: provider %q cannot be a wildcard", parts[0])}
}

// funcGlob reports whether provider's function-position part (the part the
// Symbol Oracle resolves against) contains a glob operator.
func funcGlob(provider string, parts []string) bool {
	switch provider {
	case "kprobe", "kretprobe", "tracepoint", "rawtracepoint", "rtp":
		return symbols.HasGlob(parts[len(parts)-1])
	case "uprobe", "uretprobe", "usdt":
		return symbols.HasGlob(parts[len(parts)-1])
	default:
		return false
	}
}

// expandFuncWildcard resolves the glob in parts' function position
// against the symbol oracle and returns one clone of ap per match.
func expandFuncWildcard(ap *ast.AttachPoint, provider string, parts []string, oracle symbols.Oracle) ([]*ast.AttachPoint, error) {
	if oracle == nil {
		return nil, fmt.Errorf("attach: %s: wildcard requires a symbol oracle", provider)
	}
	pattern := parts[len(parts)-1]
	domain := symbols.DomainKernel
	target := ""
	switch provider {
	case "uprobe", "uretprobe", "usdt":
		domain = symbols.DomainUser
		target = parts[1]
	}
	scratch := ap.Clone(ap.RawInput)
	scratch.Target = target
	if len(parts) >= 3 && (provider == "kprobe" || provider == "kretprobe" || provider == "tracepoint" || provider == "rawtracepoint" || provider == "rtp") {
		scratch.Namespace = parts[1]
	}
	return ExpandWildcard(scratch, provider, pattern, domain, oracle)
}

// ExpandWildcard resolves a wildcard attach point: it queries
// oracle with the kernel-probe or user-probe candidate set (chosen by
// domain) and clones ap once per match, each clone carrying the original
// source location and ignore_invalid=true.
func ExpandWildcard(ap *ast.AttachPoint, provider, pattern string, domain symbols.Domain, oracle symbols.Oracle) ([]*ast.AttachPoint, error) {
	var candidates []string
	var err error
	switch domain {
	case symbols.DomainUser:
		candidates, err = oracle.UserSymbols(ap.Target)
	default:
		candidates, err = oracle.KernelFunctions()
	}
	if err != nil {
		return nil, err
	}

	matches := symbols.Match(pattern, candidates)
	out := make([]*ast.AttachPoint, 0, len(matches))
	for _, m := range matches {
		rebuilt := rebuildRaw(provider, ap, m)
		out = append(out, ap.Clone(rebuilt))
	}
	return out, nil
}

// rebuildRaw reconstructs a raw_input string with the wildcard function
// name replaced by a concrete match, preserving any module/path/lang
// segments already present on ap.
func rebuildRaw(provider string, ap *ast.AttachPoint, concreteFunc string) string {
	switch provider {
	case "kprobe", "kretprobe":
		if ap.Namespace != "" {
			return fmt.Sprintf("%s:%s:%s", provider, ap.Namespace, concreteFunc)
		}
		return fmt.Sprintf("%s:%s", provider, concreteFunc)
	case "uprobe", "uretprobe":
		return fmt.Sprintf("%s:%s:%s", provider, ap.Target, concreteFunc)
	case "tracepoint":
		return fmt.Sprintf("%s:%s:%s", provider, ap.Namespace, concreteFunc)
	default:
		return fmt.Sprintf("%s:%s", provider, concreteFunc)
	}
}

// parseOffset parses a trailing "+0x10" / "+16" offset suffix from a
// function name, returning the bare name and the numeric offset.
func parseOffset(s string) (name string, offset int64, err error) {
	idx := strings.IndexByte(s, '+')
	if idx < 0 {
		return s, 0, nil
	}
	name = s[:idx]
	raw := s[idx+1:]
	base := 10
	if strings.HasPrefix(raw, "0x") {
		base = 16
		raw = raw[2:]
	}
	v, perr := strconv.ParseInt(raw, base, 64)
	if perr != nil {
		return "", 0, fmt.Errorf("attach: invalid offset %q: %w", s, perr)
	}
	return name, v, nil
}
