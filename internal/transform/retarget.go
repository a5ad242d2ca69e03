package transform

import "strings"

const (
	bpfDatalayout = `target datalayout = "e-m:e-p:64:64-i64:64-i128:128-n32:64-S128"`
	bpfTriple     = `target triple = "bpf"`
)

// retarget pins the module to the BPF target. codegen emits no target
// lines of its own, so they are inserted at the top; host-targeted
// lines (from extra linked IR) are replaced in place.
func retarget(lines []string) []string {
	sawLayout, sawTriple := false, false
	for i, line := range lines {
		if strings.HasPrefix(line, "target datalayout = ") {
			lines[i] = bpfDatalayout
			sawLayout = true
		} else if strings.HasPrefix(line, "target triple = ") {
			lines[i] = bpfTriple
			sawTriple = true
		}
	}
	if sawLayout && sawTriple {
		return lines
	}
	var head []string
	if !sawLayout {
		head = append(head, bpfDatalayout)
	}
	if !sawTriple {
		head = append(head, bpfTriple)
	}
	head = append(head, "")
	return append(head, lines...)
}
