// Package liveprobe attaches concrete ast.AttachPoints (already
// wildcard-expanded by internal/attach) to their loaded BPF programs
// using github.com/cilium/ebpf/link. The kernel loader is consumed
// through the Linker interface, so provider dispatch is unit-testable
// without a kernel.
package liveprobe

import (
	"fmt"

	"github.com/cilium/ebpf"
	"github.com/cilium/ebpf/link"

	"github.com/bpftrace-go/bpftrace/internal/ast"
)

// Linker is the narrow slice of github.com/cilium/ebpf/link this package
// drives; production code binds it to the real package-level functions
// (see cilium.go), tests bind it to a fake that records calls.
type Linker interface {
	Kprobe(symbol string, prog *ebpf.Program, opts *link.KprobeOptions) (link.Link, error)
	Kretprobe(symbol string, prog *ebpf.Program, opts *link.KprobeOptions) (link.Link, error)
	Tracepoint(group, name string, prog *ebpf.Program, opts *link.TracepointOptions) (link.Link, error)
	RawTracepoint(opts link.RawTracepointOptions) (link.Link, error)
	Uprobe(binPath, symbol string, prog *ebpf.Program, opts *link.UprobeOptions) (link.Link, error)
	Uretprobe(binPath, symbol string, prog *ebpf.Program, opts *link.UprobeOptions) (link.Link, error)
}

// Attach installs prog at the kernel/user location ap describes,
// returning the live link.Link the caller must Close at teardown. ap
// must already be concrete: fully expanded, provider and its required
// fields populated.
func Attach(l Linker, ap *ast.AttachPoint, prog *ebpf.Program) (link.Link, error) {
	if ap.Pruned() {
		return nil, fmt.Errorf("liveprobe: attach point %q was pruned before attach", ap.RawInput)
	}

	switch ap.Provider {
	case "kprobe":
		return l.Kprobe(ap.Func, prog, nil)
	case "kretprobe":
		return l.Kretprobe(ap.Func, prog, nil)
	case "uprobe":
		return l.Uprobe(ap.Target, ap.Func, prog, nil)
	case "uretprobe":
		return l.Uretprobe(ap.Target, ap.Func, prog, nil)
	case "tracepoint":
		return l.Tracepoint(ap.Target, ap.Func, prog, nil)
	case "rawtracepoint":
		return l.RawTracepoint(link.RawTracepointOptions{Name: ap.Func, Program: prog})
	case "begin", "end", "bench", "self", "usdt", "profile", "interval",
		"software", "hardware", "watchpoint", "asyncwatchpoint",
		"fentry", "fexit", "iter":
		return nil, fmt.Errorf("liveprobe: provider %q is not attached through internal/attach/liveprobe (see its owning subsystem)", ap.Provider)
	default:
		return nil, fmt.Errorf("liveprobe: unknown provider %q", ap.Provider)
	}
}

// AttachAll attaches every probe's attach points, closing everything
// already attached and returning the first error if any attach fails —
// "Probe: a probe with zero attach points after expansion is a
// hard error" implies the inverse too: a probe that fails to attach
// should not leave its siblings dangling.
func AttachAll(l Linker, probes []*ast.Probe, progs map[*ast.AttachPoint]*ebpf.Program) ([]link.Link, error) {
	var links []link.Link
	for _, p := range probes {
		for _, ap := range p.AttachPoints {
			prog, ok := progs[ap]
			if !ok {
				continue
			}
			lk, err := Attach(l, ap, prog)
			if err != nil {
				for _, existing := range links {
					_ = existing.Close()
				}
				return nil, fmt.Errorf("liveprobe: attaching %q: %w", ap.RawInput, err)
			}
			links = append(links, lk)
		}
	}
	return links, nil
}
