package transform

import (
	"strings"
	"testing"
)

func TestHoistAllocasMovesToEntry(t *testing.T) {
	lines := []string{
		"define i64 @probe_1(ptr %ctx) {",
		"entry:",
		" %a = alloca i64",
		" store i64 0, ptr %a",
		" br label %body",
		"body:",
		" %b = alloca [16 x i8]",
		" store i64 1, ptr %b",
		" ret i64 0",
		"}",
	}
	got := hoistAllocas(lines)

	entry := -1
	for i, line := range got {
		if strings.TrimSpace(line) == "entry:" {
			entry = i
			break
		}
	}
	if entry < 0 {
		t.Fatal("entry label lost")
	}
	if !strings.Contains(got[entry+1], "%a = alloca") {
		t.Errorf("line after entry: got %q, want %%a alloca", got[entry+1])
	}
	if !strings.Contains(got[entry+2], "%b = alloca") {
		t.Errorf("second line after entry: got %q, want %%b alloca", got[entry+2])
	}
	for i, line := range got {
		if i > entry+2 && strings.Contains(line, "alloca") {
			t.Errorf("alloca left behind at line %d: %q", i, line)
		}
	}
}

func TestHoistAllocasPreservesStores(t *testing.T) {
	lines := []string{
		"define i64 @probe_1(ptr %ctx) {",
		"entry:",
		" br label %body",
		"body:",
		" %v = alloca i64",
		" store i64 7, ptr %v",
		" ret i64 0",
		"}",
	}
	got := strings.Join(hoistAllocas(lines), "\n")
	if !strings.Contains(got, "store i64 7, ptr %v") {
		t.Error("store dropped during hoist")
	}
	if strings.Index(got, "%v = alloca") > strings.Index(got, "store i64 7") {
		t.Error("alloca not hoisted above its store")
	}
}

func TestHoistAllocasLeavesFunctionsWithoutAllocas(t *testing.T) {
	lines := []string{
		"define i64 @probe_1(ptr %ctx) {",
		"entry:",
		" ret i64 0",
		"}",
	}
	got := hoistAllocas(lines)
	if len(got) != len(lines) {
		t.Errorf("line count changed: got %d, want %d", len(got), len(lines))
	}
}
