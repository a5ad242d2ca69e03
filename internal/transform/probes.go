package transform

import (
	"fmt"
	"io"
	"strings"
)

// isSupportFunc reports whether name is one of codegen's internal
// support routines: inlined helpers (@bpftrace.*), generated loop
// callbacks, and llvm.* intrinsics. Support functions are never probe
// programs but must survive extraction because probe bodies call them.
func isSupportFunc(name string) bool {
	for _, prefix := range []string{"bpftrace.", "forrange.cb.", "formap.cb.", "maplen.cb.", "llvm."} {
		if strings.HasPrefix(name, prefix) {
			return true
		}
	}
	return false
}

// extractProbes drops define blocks that are neither probe programs nor
// support routines. A stray function can reach the module through extra
// linked IR; anything the probe set doesn't name has no section and
// would fail the loader.
func extractProbes(lines []string, probeNames []string, verbose bool, w io.Writer) ([]string, error) {
	type defineBlock struct {
		name      string
		startLine int
		endLine   int
	}
	var blocks []defineBlock
	inDef := false
	depth := 0
	var cur defineBlock

	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		if !inDef {
			if m := reDefine.FindStringSubmatch(trimmed); m != nil {
				inDef = true
				cur = defineBlock{name: m[1], startLine: i}
				depth = strings.Count(trimmed, "{") - strings.Count(trimmed, "}")
				if depth <= 0 {
					cur.endLine = i
					blocks = append(blocks, cur)
					inDef = false
				}
			}
			continue
		}
		depth += strings.Count(trimmed, "{") - strings.Count(trimmed, "}")
		if depth <= 0 {
			cur.endLine = i
			blocks = append(blocks, cur)
			inDef = false
		}
	}

	probeSet := make(map[string]bool)
	if len(probeNames) > 0 {
		for _, n := range probeNames {
			probeSet[n] = true
		}
	} else {
		for _, b := range blocks {
			if !isSupportFunc(b.name) {
				probeSet[b.name] = true
			}
		}
	}
	if len(probeSet) == 0 {
		names := make([]string, len(blocks))
		for i, b := range blocks {
			names[i] = b.name
		}
		return nil, fmt.Errorf("transform: no probe functions found among: %v", names)
	}
	if verbose {
		for name := range probeSet {
			fmt.Fprintf(w, "[transform] keeping probe: %s\n", name)
		}
	}

	remove := make(map[int]bool)
	for _, b := range blocks {
		if probeSet[b.name] || isSupportFunc(b.name) {
			continue
		}
		for j := b.startLine; j <= b.endLine; j++ {
			remove[j] = true
		}
	}

	result := make([]string, 0, len(lines))
	for i, line := range lines {
		if !remove[i] {
			result = append(result, line)
		}
	}
	return result, nil
}
