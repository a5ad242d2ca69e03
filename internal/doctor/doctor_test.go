package doctor

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/bpftrace-go/bpftrace/internal/llvm"
)

// fakeToolOverrides creates fake llvm-link/opt/llc scripts that print
// the given version line.
func fakeToolOverrides(t *testing.T, script string) llvm.ToolOverrides {
	t.Helper()
	dir := t.TempDir()
	mk := func(name string) string {
		p := filepath.Join(dir, name)
		if err := os.WriteFile(p, []byte("#!/bin/sh\n"+script+"\n"), 0o755); err != nil {
			t.Fatal(err)
		}
		return p
	}
	return llvm.ToolOverrides{
		LLVMLink: mk("llvm-link"),
		Opt:      mk("opt"),
		LLC:      mk("llc"),
	}
}

// stubBTF points the kernel-BTF probe at a path that exists (or not).
func stubBTF(t *testing.T, present bool) {
	t.Helper()
	old := btfVmlinuxPath
	if present {
		p := filepath.Join(t.TempDir(), "vmlinux")
		if err := os.WriteFile(p, []byte{0}, 0o600); err != nil {
			t.Fatal(err)
		}
		btfVmlinuxPath = p
	} else {
		btfVmlinuxPath = filepath.Join(t.TempDir(), "missing", "vmlinux")
	}
	t.Cleanup(func() { btfVmlinuxPath = old })
}

func runDoctor(t *testing.T, overrides llvm.ToolOverrides) (string, string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	err := Run(context.Background(), Config{
		Tools:   overrides,
		Stdout:  &stdout,
		Stderr:  &stderr,
		Timeout: 5 * time.Second,
	})
	return stdout.String(), stderr.String(), err
}

func TestRunAllChecksPass(t *testing.T) {
	stubBTF(t, true)
	overrides := fakeToolOverrides(t, fmt.Sprintf("echo 'LLVM version %d.0.0'", minLLVMMajor))
	stdout, _, err := runDoctor(t, overrides)
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{"bpftrace doctor", "llvm-link:", "opt:", "llc:", "kernel btf:", "all checks passed"} {
		if !strings.Contains(stdout, want) {
			t.Errorf("stdout missing %q:\n%s", want, stdout)
		}
	}
}

func TestRunWarnsOnOldLLVM(t *testing.T) {
	stubBTF(t, true)
	overrides := fakeToolOverrides(t, "echo 'LLVM version 15.0.7'")
	stdout, _, err := runDoctor(t, overrides)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(stdout, "warnings:") || !strings.Contains(stdout, "LLVM 15 detected") {
		t.Errorf("expected LLVM version warning:\n%s", stdout)
	}
}

func TestRunWarnsOnMissingKernelBTF(t *testing.T) {
	stubBTF(t, false)
	overrides := fakeToolOverrides(t, fmt.Sprintf("echo 'LLVM version %d.0.0'", minLLVMMajor))
	stdout, _, err := runDoctor(t, overrides)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(stdout, "kernel BTF not found") {
		t.Errorf("expected kernel BTF warning:\n%s", stdout)
	}
	if strings.Contains(stdout, "all checks passed") {
		t.Error("warning run still reported all checks passed")
	}
}

func TestRunVersionCheckFailure(t *testing.T) {
	stubBTF(t, true)
	overrides := fakeToolOverrides(t, "exit 3")
	stdout, stderr, err := runDoctor(t, overrides)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(stderr, "[FAIL]") {
		t.Errorf("expected version failure on stderr:\n%s", stderr)
	}
	if !strings.Contains(stdout, "(version check failed)") {
		t.Errorf("expected placeholder version:\n%s", stdout)
	}
}

func TestRunMissingRequiredTool(t *testing.T) {
	stubBTF(t, true)
	_, _, err := runDoctor(t, llvm.ToolOverrides{LLVMLink: "/does/not/exist/llvm-link"})
	if err == nil {
		t.Fatal("expected discovery error for missing required tool")
	}
}

func TestParseLLVMMajor(t *testing.T) {
	cases := []struct {
		in   string
		want int
		ok   bool
	}{
		{"Ubuntu LLVM version 20.1.1", 20, true},
		{"LLVM version 18.1.8", 18, true},
		{"LLVM version 17", 17, true},
		{"clang 18.0.0", 0, false},
		{"", 0, false},
		{"LLVM version x.y", 0, false},
	}
	for _, c := range cases {
		got, ok := parseLLVMMajor(c.in)
		if got != c.want || ok != c.ok {
			t.Errorf("parseLLVMMajor(%q) = %d, %v; want %d, %v", c.in, got, ok, c.want, c.ok)
		}
	}
}

func TestFirstNonEmptyLine(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"", ""},
		{"\n\n", ""},
		{"hello\nworld", "hello"},
		{"\n  \n  second  \n", "second"},
	}
	for _, c := range cases {
		if got := firstNonEmptyLine(c.in); got != c.want {
			t.Errorf("firstNonEmptyLine(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}
