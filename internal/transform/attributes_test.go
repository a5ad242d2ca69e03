package transform

import (
	"strings"
	"testing"
)

func TestStripAttributes(t *testing.T) {
	lines := []string{
		`attributes #0 = { nounwind "target-cpu"="apple-m1" "target-features"="+neon" sspstrong }`,
		`attributes #1 = { nounwind }`,
		`define i64 @probe_0(ptr %ctx) #0 {`,
	}
	got := stripAttributes(lines)
	if strings.Contains(got[0], "target-cpu") || strings.Contains(got[0], "target-features") {
		t.Errorf("host attributes kept: %q", got[0])
	}
	if strings.Contains(got[0], "ssp") {
		t.Errorf("stack protector kept: %q", got[0])
	}
	if !strings.Contains(got[0], "nounwind") {
		t.Errorf("nounwind lost: %q", got[0])
	}
	if got[1] != lines[1] {
		t.Errorf("clean attribute group changed: %q", got[1])
	}
	if got[2] != lines[2] {
		t.Errorf("non-attribute line changed: %q", got[2])
	}
}
