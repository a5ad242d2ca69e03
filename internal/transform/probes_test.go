package transform

import (
	"io"
	"strings"
	"testing"
)

func sampleModule() []string {
	return []string{
		`define dso_local i64 @probe_0(ptr %ctx) section "kprobe/vfs_read" {`,
		"entry:",
		" ret i64 0",
		"}",
		"",
		"define internal i64 @bpftrace.log2(i64 %v) {",
		"entry:",
		" ret i64 0",
		"}",
		"",
		"define i64 @stray_host_func(ptr %p) {",
		"entry:",
		" ret i64 1",
		"}",
	}
}

func TestExtractProbesKeepsProbesAndSupport(t *testing.T) {
	got, err := extractProbes(sampleModule(), []string{"probe_0"}, false, io.Discard)
	if err != nil {
		t.Fatal(err)
	}
	text := strings.Join(got, "\n")
	if !strings.Contains(text, "@probe_0") {
		t.Error("probe_0 dropped")
	}
	if !strings.Contains(text, "@bpftrace.log2") {
		t.Error("support function bpftrace.log2 dropped")
	}
	if strings.Contains(text, "@stray_host_func") {
		t.Error("stray function kept")
	}
}

func TestExtractProbesDefaultsToNonSupport(t *testing.T) {
	got, err := extractProbes(sampleModule(), nil, false, io.Discard)
	if err != nil {
		t.Fatal(err)
	}
	text := strings.Join(got, "\n")
	// With no explicit probe list, every non-support function counts as
	// a probe, including the stray.
	if !strings.Contains(text, "@probe_0") || !strings.Contains(text, "@stray_host_func") {
		t.Error("default probe set should keep all non-support functions")
	}
}

func TestExtractProbesErrorsOnEmptySet(t *testing.T) {
	lines := []string{
		"define internal i64 @bpftrace.log2(i64 %v) {",
		"entry:",
		" ret i64 0",
		"}",
	}
	if _, err := extractProbes(lines, nil, false, io.Discard); err == nil {
		t.Fatal("expected error for module with no probe functions")
	}
}
