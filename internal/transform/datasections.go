package transform

import (
	"fmt"
	"strings"
)

// emitDataSections appends the two well-known global-variable sections:
// a read-only section for compile-time config and a read-write section
// for runtime counters. Globals already present in the module (e.g. a
// config constant codegen emitted itself) are left alone; only missing
// entries are added.
func emitDataSections(lines []string, ro, rw []Global) []string {
	present := make(map[string]bool)
	for _, line := range lines {
		if name, ok := parseGlobalName(strings.TrimSpace(line)); ok {
			present[name] = true
		}
	}

	var add []string
	for _, g := range ro {
		if present[g.Name] {
			continue
		}
		add = append(add, fmt.Sprintf(`@%s = constant %s %s, section ".rodata", align 8`, g.Name, g.Type, g.Value))
	}
	for _, g := range rw {
		if present[g.Name] {
			continue
		}
		add = append(add, fmt.Sprintf(`@%s = global %s %s, section ".data", align 8`, g.Name, g.Type, g.Value))
	}
	if len(add) == 0 {
		return lines
	}
	add = append(add, "")
	return insertBeforeFunc(lines, add...)
}
