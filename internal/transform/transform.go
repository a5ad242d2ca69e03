// Package transform finalizes the BPF-target LLVM IR emitted by
// internal/codegen into the shape llc -march=bpf and the loader expect.
// All passes operate on text lines — no CGo or libLLVM dependency
// required.
package transform

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"
)

// Shared LLVM IR patterns used by multiple passes.
var (
	reDefine  = regexp.MustCompile(`^define\s+.*@([\w.]+)\(`)
	reDeclare = regexp.MustCompile(`^declare\s+.*@([\w.]+)\(`)
	reGlobal  = regexp.MustCompile(`^@([\w.]+)\s*=`)
)

// MapSpec describes one declared map for the map-definition lowering
// pass: the IR global codegen emitted, the ELF-visible name the loader
// looks up, and the concrete libbpf map-def fields.
type MapSpec struct {
	IRName     string // e.g. "map.0" or "events"
	Name       string // e.g. "starts"
	TypeID     int    // BPF_MAP_TYPE_* numeric value
	KeySize    int
	ValueSize  int
	MaxEntries uint32
}

// Global is one entry for the data-section pass: a named scalar that
// lands in .rodata (compile-time config) or .data (runtime counters).
type Global struct {
	Name  string
	Type  string // LLVM scalar type, e.g. "i64"
	Value string // initializer, e.g. "0" or a c"..." literal
}

// Options configures the finalization pass pipeline.
type Options struct {
	// Probes names the probe program functions that must survive as
	// exported, section-tagged programs. Empty means every non-support
	// function is treated as a probe.
	Probes []string
	// Sections overrides the ELF section for a probe function by name;
	// unset functions keep the section codegen assigned.
	Sections map[string]string
	// Maps drives the map renaming and map-definition lowering passes.
	Maps []MapSpec
	// ReadOnlyGlobals and DataGlobals populate the .rodata and .data
	// sections respectively.
	ReadOnlyGlobals []Global
	DataGlobals     []Global

	Verbose bool
	Stdout  io.Writer
}

// Run reads a .ll file, applies the finalization passes, and writes the
// result.
func Run(ctx context.Context, inputLL, outputLL string, opts Options) error {
	data, err := os.ReadFile(inputLL)
	if err != nil {
		return fmt.Errorf("read input: %w", err)
	}
	lines, err := FinalizeLines(ctx, strings.Split(string(data), "\n"), opts)
	if err != nil {
		return err
	}
	size := len(lines) // newlines
	for _, line := range lines {
		size += len(line)
	}
	buf := bytes.NewBuffer(make([]byte, 0, size))
	for i, line := range lines {
		if i > 0 {
			buf.WriteByte('\n')
		}
		buf.WriteString(line)
	}
	return os.WriteFile(outputLL, buf.Bytes(), 0o600)
}

// FinalizeLines applies the full pass list to IR text lines:
// - retarget
// - strip attributes
// - extract probes
// - hoist allocas
// - check helper calls
// - assign sections
// - rename maps
// - lower map definitions
// - emit data sections
// - add license
// - cleanup
func FinalizeLines(ctx context.Context, lines []string, opts Options) ([]string, error) {
	if opts.Stdout == nil {
		opts.Stdout = io.Discard
	}
	var err error

	lines = retarget(lines)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	lines = stripAttributes(lines)

	lines, err = extractProbes(lines, opts.Probes, opts.Verbose, opts.Stdout)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	lines = hoistAllocas(lines)
	if err := checkHelperCalls(lines); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	lines = assignProbeSections(lines, opts.Sections)
	lines = renameMaps(lines, opts.Maps)
	lines = lowerMapDefs(lines, opts.Maps)
	lines = emitDataSections(lines, opts.ReadOnlyGlobals, opts.DataGlobals)
	lines = addLicense(lines)
	lines = cleanup(lines)
	return lines, nil
}

// insertBeforeFunc inserts the given lines immediately before the first
// define in the module (or appends them when there is none).
func insertBeforeFunc(lines []string, insert ...string) []string {
	idx := len(lines)
	for i, line := range lines {
		if strings.HasPrefix(strings.TrimSpace(line), "define ") {
			idx = i
			break
		}
	}
	out := make([]string, 0, len(lines)+len(insert))
	out = append(out, lines[:idx]...)
	out = append(out, insert...)
	out = append(out, lines[idx:]...)
	return out
}

// parseDefineName extracts the function name from a trimmed define line.
func parseDefineName(trimmed string) (string, bool) {
	m := reDefine.FindStringSubmatch(trimmed)
	if m == nil {
		return "", false
	}
	return m[1], true
}

// parseDeclareName extracts the symbol name from a trimmed declare line.
func parseDeclareName(trimmed string) (string, bool) {
	m := reDeclare.FindStringSubmatch(trimmed)
	if m == nil {
		return "", false
	}
	return m[1], true
}

// parseGlobalName extracts the symbol name from a trimmed global line.
func parseGlobalName(trimmed string) (string, bool) {
	m := reGlobal.FindStringSubmatch(trimmed)
	if m == nil {
		return "", false
	}
	return m[1], true
}

func isGlobalLine(trimmed string) bool {
	return reGlobal.MatchString(trimmed)
}
