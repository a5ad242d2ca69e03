package transform

import "testing"

func TestRetargetReplacesHostTarget(t *testing.T) {
	lines := []string{
		`source_filename = "main"`,
		`target datalayout = "e-m:o-p270:32:32-p271:32:32-p272:64:64-i64:64-i128:128-n32:64-S128-Fn32"`,
		`target triple = "arm64-apple-macosx11.0.0"`,
		``,
	}
	got := retarget(lines)
	if got[1] != bpfDatalayout {
		t.Errorf("datalayout:\n  got  %q\n  want %q", got[1], bpfDatalayout)
	}
	if got[2] != bpfTriple {
		t.Errorf("triple:\n  got  %q\n  want %q", got[2], bpfTriple)
	}
}

func TestRetargetInsertsMissingTarget(t *testing.T) {
	lines := []string{
		"; bpftrace-generated BPF module",
		"",
		`define dso_local i64 @probe_1(ptr %ctx) section "kprobe/vfs_read" {`,
		"entry:",
		" ret i64 0",
		"}",
	}
	got := retarget(lines)
	if got[0] != bpfDatalayout {
		t.Errorf("line 0:\n  got  %q\n  want %q", got[0], bpfDatalayout)
	}
	if got[1] != bpfTriple {
		t.Errorf("line 1:\n  got  %q\n  want %q", got[1], bpfTriple)
	}
	if len(got) != len(lines)+3 {
		t.Errorf("expected 3 inserted lines, got %d extra", len(got)-len(lines))
	}
}
