package cli

import (
	"bytes"
	"strings"
	"testing"

	"github.com/bpftrace-go/bpftrace/internal/symbols"
)

func TestExecListFiltersByGlobAndDomain(t *testing.T) {
	mock := &symbols.Mock{
		Kernel:     []string{"vfs_read", "vfs_write", "tcp_connect"},
		Tracepoint: []string{"syscalls:sys_enter_open"},
	}

	var out bytes.Buffer
	if err := execList(mock, "kprobe", "vfs_*", &out); err != nil {
		t.Fatalf("execList: %v", err)
	}
	got := strings.TrimSpace(out.String())
	if got != "vfs_read\nvfs_write" {
		t.Fatalf("unexpected output: %q", got)
	}
}

func TestExecListAutoDomainMergesBoth(t *testing.T) {
	mock := &symbols.Mock{
		Kernel:     []string{"vfs_read"},
		Tracepoint: []string{"syscalls:sys_enter_open"},
	}

	var out bytes.Buffer
	if err := execList(mock, "auto", "*", &out); err != nil {
		t.Fatalf("execList: %v", err)
	}
	if !strings.Contains(out.String(), "vfs_read") || !strings.Contains(out.String(), "syscalls:sys_enter_open") {
		t.Fatalf("expected both domains, got: %s", out.String())
	}
}

func TestExecListUnknownDomain(t *testing.T) {
	mock := &symbols.Mock{}
	var out bytes.Buffer
	if err := execList(mock, "bogus", "*", &out); err == nil {
		t.Fatal("expected an error for an unknown domain")
	}
}

func TestRunListCmdViaCLI(t *testing.T) {
	stdout, stderr, code := runCLI(t, "list", "--help")
	if code != 0 {
		t.Fatalf("exit code: got %d, want 0, stderr=%s", code, stderr)
	}
	if !strings.Contains(stdout, "Usage:") {
		t.Fatalf("expected usage output, got: %s", stdout)
	}
}
