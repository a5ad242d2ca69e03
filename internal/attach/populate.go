package attach

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/bpftrace-go/bpftrace/internal/ast"
)

type populator func(ap *ast.AttachPoint, parts []string) error

var populators map[string]populator

func init() {
	populators = map[string]populator{
		"begin":           populateMarker,
		"end":             populateMarker,
		"self":            populateSelf,
		"bench":           populateBench,
		"kprobe":          populateKprobe,
		"kretprobe":       populateKprobe,
		"uprobe":          populateUprobe,
		"uretprobe":       populateUprobe,
		"usdt":            populateUSDT,
		"tracepoint":      populateTracepoint,
		"profile":         populateProfile,
		"interval":        populateProfile,
		"software":        populateEventCount,
		"hardware":        populateEventCount,
		"watchpoint":      populateWatchpoint,
		"asyncwatchpoint": populateWatchpoint,
		"fentry":          populateFentry,
		"fexit":           populateFentry,
		"iter":            populateIter,
		"rawtracepoint":   populateRawTracepoint,
	}
}

func populateMarker(ap *ast.AttachPoint, parts []string) error {
	ap.Provider = strings.TrimSuffix(parts[0], "*")
	return nil
}

func populateSelf(ap *ast.AttachPoint, parts []string) error {
	ap.Provider = "self"
	ap.Target = parts[1]
	ap.Func = parts[2]
	return nil
}

func populateBench(ap *ast.AttachPoint, parts []string) error {
	ap.Provider = "bench"
	ap.Func = parts[1]
	return nil
}

// populateKprobe handles `kprobe[:module]:func[+offset]`. offset is
// forbidden on kretprobe.
func populateKprobe(ap *ast.AttachPoint, parts []string) error {
	ap.Provider = parts[0]
	var funcPart string
	if len(parts) == 3 {
		ap.Namespace = parts[1]
		funcPart = parts[2]
	} else {
		funcPart = parts[1]
	}
	name, offset, err := parseOffset(funcPart)
	if err != nil {
		return err
	}
	if offset != 0 && ap.Provider == "kretprobe" {
		return fmt.Errorf("attach: kretprobe does not accept a +offset")
	}
	ap.Func = name
	ap.FuncOffset = offset
	return nil
}

// populateUprobe handles `uprobe:path[:lang]:func[+offset|addr]`. Absolute
// addresses are allowed only on uprobe, not uretprobe.
func populateUprobe(ap *ast.AttachPoint, parts []string) error {
	ap.Provider = parts[0]
	ap.Target = parts[1]

	var funcPart string
	switch len(parts) {
	case 3:
		funcPart = parts[2]
	case 4:
		ap.Lang = parts[2]
		funcPart = parts[3]
	}

	if strings.HasPrefix(funcPart, "0x") || isAllDigits(funcPart) {
		if ap.Provider == "uretprobe" {
			return fmt.Errorf("attach: uretprobe does not accept an absolute address")
		}
		addr, err := parseUint(funcPart)
		if err != nil {
			return err
		}
		ap.Address = addr
		return nil
	}

	name, offset, err := parseOffset(funcPart)
	if err != nil {
		return err
	}
	ap.Func = name
	ap.FuncOffset = offset
	return nil
}

// populateUSDT handles `usdt:path[:ns]:func`; with a pid bound target may
// be elided, which the caller reflects by passing an empty path part —
// that still counts toward arity as an empty string, not a missing part.
func populateUSDT(ap *ast.AttachPoint, parts []string) error {
	ap.Provider = "usdt"
	ap.Target = parts[1]
	if len(parts) == 4 {
		ap.Namespace = parts[2]
		ap.Func = parts[3]
	} else {
		ap.Func = parts[2]
	}
	return nil
}

func populateTracepoint(ap *ast.AttachPoint, parts []string) error {
	ap.Provider = "tracepoint"
	ap.Namespace = parts[1]
	ap.Func = parts[2]
	return nil
}

// populateProfile handles both `kind:unit:rate` and the 1-argument
// `kind:ns` form (minimum 1000ns).
func populateProfile(ap *ast.AttachPoint, parts []string) error {
	ap.Provider = parts[0]
	if len(parts) == 2 {
		ns, err := strconv.ParseUint(parts[1], 10, 64)
		if err != nil {
			return fmt.Errorf("attach: %s: invalid rate %q", ap.Provider, parts[1])
		}
		if ns < 1000 {
			return fmt.Errorf("attach: %s: rate must be >= 1000ns, got %d", ap.Provider, ns)
		}
		ap.Freq = ns
		ap.Mode = "ns"
		return nil
	}
	rate, err := strconv.ParseUint(parts[2], 10, 64)
	if err != nil {
		return fmt.Errorf("attach: %s: invalid rate %q", ap.Provider, parts[2])
	}
	if parts[1] == "ns" && rate < 1000 {
		return fmt.Errorf("attach: %s: rate must be >= 1000ns, got %d (expects 1 or 2 arguments)", ap.Provider, rate)
	}
	ap.Mode = parts[1]
	ap.Freq = rate
	return nil
}

func populateEventCount(ap *ast.AttachPoint, parts []string) error {
	ap.Provider = parts[0]
	ap.Func = parts[1]
	if len(parts) == 3 {
		count, err := strconv.ParseUint(parts[2], 10, 64)
		if err != nil {
			return fmt.Errorf("attach: %s: invalid count %q", ap.Provider, parts[2])
		}
		ap.Freq = count
	}
	return nil
}

// populateWatchpoint handles `wp:addr|func+argN:len:mode`.
func populateWatchpoint(ap *ast.AttachPoint, parts []string) error {
	ap.Provider = parts[0]
	ap.Async = ap.Provider == "asyncwatchpoint"

	target := parts[1]
	if idx := strings.Index(target, "+arg"); idx >= 0 {
		ap.Func = target[:idx]
		n, err := strconv.Atoi(target[idx+4:])
		if err != nil {
			return fmt.Errorf("attach: watchpoint: invalid arg index in %q", target)
		}
		ap.FuncOffset = int64(n)
	} else {
		addr, err := parseUint(target)
		if err != nil {
			return fmt.Errorf("attach: watchpoint: invalid address %q", target)
		}
		ap.Address = addr
	}

	length, err := strconv.Atoi(parts[2])
	if err != nil {
		return fmt.Errorf("attach: watchpoint: invalid length %q", parts[2])
	}
	ap.Len = length
	ap.Mode = parts[3]
	return nil
}

// populateFentry handles `fentry[:module]:func` and
// `fentry:bpf:[id|*]:prog`. Ambiguity across modules is fatal unless
// listing — resolving that ambiguity against live BPF program state is an
// Oracle-driven step outside this populator; here we only record the
// parsed shape.
func populateFentry(ap *ast.AttachPoint, parts []string) error {
	ap.Provider = parts[0]
	if len(parts) == 4 && parts[1] == "bpf" {
		ap.Target = "bpf"
		ap.Pin = parts[2]
		ap.Func = parts[3]
		return nil
	}
	if len(parts) == 3 {
		ap.Namespace = parts[1]
		ap.Func = parts[2]
		return nil
	}
	ap.Func = parts[1]
	return nil
}

func populateIter(ap *ast.AttachPoint, parts []string) error {
	ap.Provider = "iter"
	ap.Func = parts[1]
	if len(parts) == 3 {
		ap.Pin = parts[2]
	}
	return nil
}

// populateRawTracepoint handles `rtp[:module]:name`; a missing module
// defaults to `*`.
func populateRawTracepoint(ap *ast.AttachPoint, parts []string) error {
	ap.Provider = "rawtracepoint"
	if len(parts) == 3 {
		ap.Namespace = parts[1]
		ap.Func = parts[2]
	} else {
		ap.Namespace = "*"
		ap.Func = parts[1]
	}
	return nil
}

func isAllDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

func parseUint(s string) (uint64, error) {
	if strings.HasPrefix(s, "0x") {
		return strconv.ParseUint(s[2:], 16, 64)
	}
	return strconv.ParseUint(s, 10, 64)
}
