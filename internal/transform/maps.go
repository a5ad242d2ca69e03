package transform

import "strings"

// renameMaps rewrites codegen's positional map globals (@map.0, @events)
// to the ELF names the loader looks maps up by. Every reference in every
// probe body is rewritten along with the definition.
func renameMaps(lines []string, specs []MapSpec) []string {
	type rename struct {
		oldRef string
		newRef string
	}
	var renames []rename
	for _, s := range specs {
		if s.IRName == "" || s.Name == "" || s.IRName == s.Name {
			continue
		}
		renames = append(renames, rename{oldRef: "@" + s.IRName, newRef: "@" + s.Name})
	}
	if len(renames) == 0 {
		return lines
	}

	for i, line := range lines {
		for _, r := range renames {
			if containsRef(line, r.oldRef) {
				lines[i] = replaceRef(lines[i], r.oldRef, r.newRef)
				line = lines[i]
			}
		}
	}
	return lines
}

// containsRef reports whether line references sym as a whole identifier
// (so renaming @map.1 leaves @map.10 untouched).
func containsRef(line, sym string) bool {
	for idx := strings.Index(line, sym); idx >= 0; {
		end := idx + len(sym)
		if end >= len(line) || !isIdentChar(line[end]) {
			return true
		}
		next := strings.Index(line[idx+1:], sym)
		if next < 0 {
			return false
		}
		idx += 1 + next
	}
	return false
}

func replaceRef(line, oldSym, newSym string) string {
	var b strings.Builder
	for {
		idx := strings.Index(line, oldSym)
		if idx < 0 {
			b.WriteString(line)
			return b.String()
		}
		end := idx + len(oldSym)
		if end < len(line) && isIdentChar(line[end]) {
			b.WriteString(line[:end])
			line = line[end:]
			continue
		}
		b.WriteString(line[:idx])
		b.WriteString(newSym)
		line = line[end:]
	}
}
