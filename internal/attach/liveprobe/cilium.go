package liveprobe

import (
	"github.com/cilium/ebpf"
	"github.com/cilium/ebpf/link"
)

// CiliumLinker binds Linker to the real github.com/cilium/ebpf/link
// package-level functions and link.OpenExecutable for uprobes.
type CiliumLinker struct{}

var _ Linker = CiliumLinker{}

func (CiliumLinker) Kprobe(symbol string, prog *ebpf.Program, opts *link.KprobeOptions) (link.Link, error) {
	return link.Kprobe(symbol, prog, opts)
}

func (CiliumLinker) Kretprobe(symbol string, prog *ebpf.Program, opts *link.KprobeOptions) (link.Link, error) {
	return link.Kretprobe(symbol, prog, opts)
}

func (CiliumLinker) Tracepoint(group, name string, prog *ebpf.Program, opts *link.TracepointOptions) (link.Link, error) {
	return link.Tracepoint(group, name, prog, opts)
}

func (CiliumLinker) RawTracepoint(opts link.RawTracepointOptions) (link.Link, error) {
	return link.AttachRawTracepoint(opts)
}

func (CiliumLinker) Uprobe(binPath, symbol string, prog *ebpf.Program, opts *link.UprobeOptions) (link.Link, error) {
	ex, err := link.OpenExecutable(binPath)
	if err != nil {
		return nil, err
	}
	return ex.Uprobe(symbol, prog, opts)
}

func (CiliumLinker) Uretprobe(binPath, symbol string, prog *ebpf.Program, opts *link.UprobeOptions) (link.Link, error) {
	ex, err := link.OpenExecutable(binPath)
	if err != nil {
		return nil, err
	}
	return ex.Uretprobe(symbol, prog, opts)
}
