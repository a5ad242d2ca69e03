package transform

import "strings"

// cleanup removes orphaned declares and unreferenced section-less
// globals, then condenses blank lines.
func cleanup(lines []string) []string {
	remove := make([]bool, len(lines))

	identLines := make(map[string][]int)
	for i, line := range lines {
		for pos := 0; pos < len(line); pos++ {
			if line[pos] != '@' {
				continue
			}
			j := pos + 1
			for j < len(line) && isIdentChar(line[j]) {
				j++
			}
			if j > pos+1 {
				identLines[line[pos:j]] = append(identLines[line[pos:j]], i)
				pos = j - 1
			}
		}
	}

	referencedElsewhere := func(name string, defIdx int) bool {
		for _, idx := range identLines["@"+name] {
			if idx != defIdx {
				return true
			}
		}
		return false
	}

	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		if name, ok := parseDeclareName(trimmed); ok {
			if !referencedElsewhere(name, i) {
				remove[i] = true
			}
			continue
		}
		name, ok := parseGlobalName(trimmed)
		if !ok {
			continue
		}
		if strings.Contains(line, " section ") {
			// Section-tagged globals (maps, license, data sections) are
			// load-bearing even when no instruction references them.
			continue
		}
		if !referencedElsewhere(name, i) {
			remove[i] = true
		}
	}

	n := 0
	prevBlank := false
	for i, line := range lines {
		if remove[i] {
			continue
		}
		blank := strings.TrimSpace(line) == ""
		if blank && prevBlank {
			continue
		}
		lines[n] = line
		n++
		prevBlank = blank
	}
	lines = lines[:n]
	for len(lines) > 0 && strings.TrimSpace(lines[len(lines)-1]) == "" {
		lines = lines[:len(lines)-1]
	}
	return append(lines, "")
}

// isIdentChar checks if a byte is a valid identifier character.
func isIdentChar(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') ||
		(c >= '0' && c <= '9') || c == '_' || c == '.'
}
