package transform

import (
	"fmt"
	"strings"
)

// sectionProviders are the section-name prefixes the loader recognizes.
// begin/end/bench probes carry their provider as the whole section name.
var sectionProviders = map[string]bool{
	"kprobe": true, "kretprobe": true,
	"uprobe": true, "uretprobe": true,
	"tracepoint": true, "raw_tracepoint": true,
	"usdt": true, "fentry": true, "fexit": true,
	"iter": true, "interval": true, "profile": true,
	"software": true, "hardware": true,
	"watchpoint": true, "asyncwatchpoint": true,
	"begin": true, "end": true, "bench": true, "self": true,
}

// assignProbeSections applies per-function section overrides and adds a
// section to any probe define missing one (a support function keeps no
// section and is emitted as a plain .text symbol).
func assignProbeSections(lines []string, sections map[string]string) []string {
	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		name, ok := parseDefineName(trimmed)
		if !ok || isSupportFunc(name) {
			continue
		}

		if sec := sections[name]; sec != "" {
			lines[i] = replaceOrInsertSection(line, sec)
			continue
		}
		if !strings.Contains(line, " section ") {
			lines[i] = insertSection(line, name)
		}
	}
	return lines
}

// ValidSection reports whether sec begins with a provider prefix the
// loader recognizes.
func ValidSection(sec string) bool {
	prefix := sec
	if idx := strings.IndexByte(sec, '/'); idx >= 0 {
		prefix = sec[:idx]
	}
	return sectionProviders[prefix]
}

// replaceOrInsertSection rewrites an existing section attribute, or
// inserts one when the define has none.
func replaceOrInsertSection(line, sec string) string {
	idx := strings.Index(line, ` section "`)
	if idx < 0 {
		return insertSection(line, sec)
	}
	rest := line[idx+len(` section "`):]
	end := strings.IndexByte(rest, '"')
	if end < 0 {
		return line
	}
	return line[:idx] + fmt.Sprintf(` section "%s"`, sec) + rest[end+1:]
}

// insertSection inserts a section attribute into a define line before
// the opening brace.
func insertSection(line, sec string) string {
	attr := fmt.Sprintf(` section "%s"`, sec)
	braceIdx := strings.LastIndex(line, "{")
	if braceIdx < 0 {
		return line + attr
	}
	prefix := strings.TrimRight(line[:braceIdx], " \t")
	return prefix + attr + " " + line[braceIdx:]
}
