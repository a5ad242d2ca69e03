package transform

import (
	"strings"
	"testing"
)

func TestLowerMapDefs(t *testing.T) {
	lines := []string{
		`@starts = global %bpf_map_def { type: "percpu_hash", max_entries: 4096 }, section ".maps" ; starts`,
		`define dso_local i64 @probe_0(ptr %ctx) section "kprobe/vfs_read" {`,
		"entry:",
		" ret i64 0",
		"}",
	}
	specs := []MapSpec{{IRName: "map.0", Name: "starts", TypeID: 5, KeySize: 16, ValueSize: 8, MaxEntries: 4096}}
	got := lowerMapDefs(lines, specs)
	text := strings.Join(got, "\n")

	if !strings.Contains(text, mapDefType) {
		t.Error("missing %bpf_map_def type header")
	}
	want := `@starts = global %bpf_map_def { i32 5, i32 16, i32 8, i32 4096, i32 0 }, section ".maps", align 4`
	if !strings.Contains(text, want) {
		t.Errorf("lowered def missing:\n  want %q\n  in\n%s", want, text)
	}
}

func TestLowerMapDefsNoopWithoutMatches(t *testing.T) {
	lines := []string{`@other = global i64 0`}
	got := lowerMapDefs(lines, []MapSpec{{IRName: "map.0", Name: "starts"}})
	if len(got) != 1 || got[0] != lines[0] {
		t.Errorf("unexpected rewrite: %v", got)
	}
}

func TestMapTypeID(t *testing.T) {
	cases := []struct {
		kind string
		want int
	}{
		{"hash", 1},
		{"percpu_hash", 5},
		{"percpu_array", 6},
		{"lru_hash", 9},
		{"ringbuf", 27},
	}
	for _, c := range cases {
		got, ok := MapTypeID(c.kind)
		if !ok || got != c.want {
			t.Errorf("MapTypeID(%q) = %d, %v; want %d", c.kind, got, ok, c.want)
		}
	}
	if _, ok := MapTypeID("sockmap"); ok {
		t.Error("unexpected id for unsupported kind")
	}
}
