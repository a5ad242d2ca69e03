package pipeline

import (
	"fmt"
	"strings"
)

// knownProgramTypes maps the probe section prefixes codegen emits to
// the loader's program-type descriptions, for `list`-style reporting
// and post-build validation.
var knownProgramTypes = map[string]string{
	"kprobe/":          "Kprobe",
	"kretprobe/":       "Kretprobe",
	"uprobe/":          "Uprobe",
	"uretprobe/":       "Uretprobe",
	"tracepoint/":      "Tracepoint",
	"raw_tracepoint/":  "Raw tracepoint",
	"usdt/":            "USDT",
	"fentry/":          "Fentry",
	"fexit/":           "Fexit",
	"iter/":            "Iterator",
	"interval/":        "Interval timer",
	"profile/":         "Profile timer",
	"software/":        "Software event",
	"hardware/":        "Hardware event",
	"watchpoint/":      "Watchpoint",
	"asyncwatchpoint/": "Async watchpoint",
	"begin":            "Begin marker",
	"end":              "End marker",
	"bench":            "Benchmark marker",
	"self":             "Self probe",
}

// ProgramTypeFor returns the description for a probe section name, or
// "" when the section matches no known probe provider.
func ProgramTypeFor(section string) string {
	if desc, ok := knownProgramTypes[section]; ok {
		return desc
	}
	for prefix, desc := range knownProgramTypes {
		if strings.HasSuffix(prefix, "/") && strings.HasPrefix(section, prefix) {
			return desc
		}
	}
	return ""
}

// ValidateProgramType checks that every section in sections matches the
// requested provider (e.g. "kprobe"). An empty programType skips the
// check.
func ValidateProgramType(programType string, sections map[string]string) error {
	if programType == "" {
		return nil
	}
	want := strings.TrimSuffix(programType, "/")
	for name, sec := range sections {
		desc := ProgramTypeFor(sec)
		if desc == "" {
			return fmt.Errorf("program %q has unrecognized section %q", name, sec)
		}
		prefix := sec
		if idx := strings.IndexByte(sec, '/'); idx >= 0 {
			prefix = sec[:idx]
		}
		if prefix != want {
			return fmt.Errorf("program %q section %q does not match requested type %q", name, sec, programType)
		}
	}
	return nil
}
