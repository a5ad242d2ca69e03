package transform

import "strings"

// hoistAllocas moves every alloca in a function up to the top of its
// entry block, preserving relative order. codegen emits allocas at the
// point of declaration for scoping; the BPF backend wants all stack
// slots established before the first branch so the verifier sees one
// fixed frame.
func hoistAllocas(lines []string) []string {
	type funcInfo struct {
		entryIdx int
		allocas  []int
	}

	var funcs []funcInfo
	var cur *funcInfo
	inDef := false
	depth := 0

	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		if !inDef {
			if reDefine.MatchString(trimmed) {
				inDef = true
				depth = strings.Count(trimmed, "{") - strings.Count(trimmed, "}")
				funcs = append(funcs, funcInfo{entryIdx: -1})
				cur = &funcs[len(funcs)-1]
				if depth <= 0 {
					inDef = false
					cur = nil
				}
			}
			continue
		}
		depth += strings.Count(trimmed, "{") - strings.Count(trimmed, "}")
		if trimmed == "entry:" && cur != nil && cur.entryIdx < 0 {
			cur.entryIdx = i
		}
		if cur != nil && cur.entryIdx >= 0 && isAllocaLine(trimmed) {
			cur.allocas = append(cur.allocas, i)
		}
		if depth <= 0 {
			inDef = false
			cur = nil
		}
	}

	// Process functions in reverse so insertions don't shift earlier
	// indices.
	for fi := len(funcs) - 1; fi >= 0; fi-- {
		f := funcs[fi]
		if f.entryIdx < 0 || len(f.allocas) == 0 {
			continue
		}
		// Allocas already contiguous at entry need no move.
		moved := make([]string, 0, len(f.allocas))
		remove := make(map[int]bool, len(f.allocas))
		for _, idx := range f.allocas {
			moved = append(moved, lines[idx])
			remove[idx] = true
		}

		out := make([]string, 0, len(lines))
		for i, line := range lines {
			if remove[i] {
				continue
			}
			out = append(out, line)
			if i == f.entryIdx {
				out = append(out, moved...)
			}
		}
		lines = out
	}
	return lines
}

// isAllocaLine reports whether a trimmed instruction is a plain alloca.
func isAllocaLine(trimmed string) bool {
	eq := strings.Index(trimmed, " = alloca ")
	if eq < 0 {
		return false
	}
	return strings.HasPrefix(trimmed, "%")
}
