package transform

import (
	"errors"
	"testing"

	"github.com/bpftrace-go/bpftrace/internal/diag"
)

func TestKernelHelperID(t *testing.T) {
	cases := []struct {
		name string
		want int64
	}{
		{"map_lookup_elem", 1},
		{"map_update_elem", 2},
		{"map_delete_elem", 3},
		{"probe_read", 4},
		{"ktime_get_ns", 5},
		{"get_smp_processor_id", 8},
		{"get_current_pid_tgid", 14},
		{"probe_read_str", 45},
		{"ringbuf_output", 130},
	}
	for _, c := range cases {
		got, ok := KernelHelperID(c.name)
		if !ok {
			t.Errorf("KernelHelperID(%q): not found", c.name)
			continue
		}
		if got != c.want {
			t.Errorf("KernelHelperID(%q) = %d, want %d", c.name, got, c.want)
		}
	}
	if _, ok := KernelHelperID("no_such_helper"); ok {
		t.Error("unexpected id for unknown helper")
	}
}

func TestHelperNameRoundTrip(t *testing.T) {
	id, ok := KernelHelperID("d_path")
	if !ok {
		t.Fatal("d_path not in helper table")
	}
	if got := HelperName(id); got != "d_path" {
		t.Errorf("HelperName(%d) = %q, want d_path", id, got)
	}
	if HelperName(0) != "" || HelperName(9999) != "" {
		t.Error("out-of-range ids should resolve to empty name")
	}
}

func TestCheckHelperCalls(t *testing.T) {
	ok := []string{
		" %r1 = call ptr inttoptr (i64 1 to ptr)(ptr @starts, ptr %key)",
		" call i64 inttoptr (i64 130 to ptr)(ptr @events, ptr %payload, i64 24, i64 0)",
	}
	if err := checkHelperCalls(ok); err != nil {
		t.Fatalf("valid helper calls rejected: %v", err)
	}

	bad := []string{" %r1 = call i64 inttoptr (i64 99999 to ptr)(ptr %x)"}
	err := checkHelperCalls(bad)
	if err == nil {
		t.Fatal("unknown helper id accepted")
	}
	var derr *diag.Error
	if !errors.As(err, &derr) {
		t.Fatalf("expected *diag.Error, got %T", err)
	}
	if derr.Stage != diag.StageFinalize {
		t.Errorf("stage = %q, want %q", derr.Stage, diag.StageFinalize)
	}
}
