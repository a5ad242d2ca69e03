package transform

import (
	"fmt"
	"strings"
)

// mapDefType is the 5-field libbpf map definition layout:
// {type, key_size, value_size, max_entries, map_flags}.
const mapDefType = `%bpf_map_def = type { i32, i32, i32, i32, i32 }`

// lowerMapDefs replaces codegen's pseudo map globals with concrete
// 5-field %bpf_map_def literals in the ".maps" section. codegen emits
// maps as placeholders carrying only the kind and entry count; the
// MapSpec table resolved from RequiredResources supplies the numeric
// BPF_MAP_TYPE_* id and key/value sizes.
func lowerMapDefs(lines []string, specs []MapSpec) []string {
	byName := make(map[string]MapSpec, len(specs))
	for _, s := range specs {
		name := s.Name
		if name == "" {
			name = s.IRName
		}
		byName[name] = s
	}

	lowered := false
	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		name, ok := parseGlobalName(trimmed)
		if !ok {
			continue
		}
		spec, ok := byName[name]
		if !ok {
			continue
		}
		lines[i] = fmt.Sprintf(
			`@%s = global %%bpf_map_def { i32 %d, i32 %d, i32 %d, i32 %d, i32 0 }, section ".maps", align 4`,
			name, spec.TypeID, spec.KeySize, spec.ValueSize, spec.MaxEntries)
		lowered = true
	}
	if !lowered {
		return lines
	}

	for _, line := range lines {
		if strings.TrimSpace(line) == mapDefType {
			return lines
		}
	}
	return append([]string{mapDefType, ""}, lines...)
}

// MapTypeID resolves a map kind name to its BPF_MAP_TYPE_* numeric
// value. The names match internal/resources.MapKind.
func MapTypeID(kind string) (int, bool) {
	id, ok := mapTypeIDs[kind]
	return id, ok
}

// mapTypeIDs mirrors the kernel's bpf_map_type enum for the kinds the
// resource analyser selects.
var mapTypeIDs = map[string]int{
	"hash":             1,
	"array":            2,
	"perf_event_array": 4,
	"percpu_hash":      5,
	"percpu_array":     6,
	"lru_hash":         9,
	"lru_percpu_hash":  10,
	"ringbuf":          27,
}
