package diag

import (
	"errors"
	"strings"
	"testing"
)

type fakeNode string

func (n fakeNode) Pos() string { return string(n) }

func TestErrorFormat(t *testing.T) {
	t.Run("full", func(t *testing.T) {
		err := &Error{
			Stage:   StageLink,
			Command: "llvm-link in.ll",
			Stderr:  "some error output",
			Hint:    "check your IR",
			Err:     errors.New("exit status 1"),
		}
		s := err.Error()
		for _, want := range []string{
			`stage "llvm-link" failed`,
			"llvm-link in.ll",
			"exit status 1",
			"--- stderr ---",
			"some error output",
			"--- hint ---",
			"check your IR",
		} {
			if !strings.Contains(s, want) {
				t.Errorf("missing %q in:\n%s", want, s)
			}
		}
	})

	t.Run("minimal", func(t *testing.T) {
		err := &Error{Stage: StageOpt, Err: errors.New("fail")}
		s := err.Error()
		if !strings.Contains(s, `stage "opt" failed`) {
			t.Errorf("unexpected: %s", s)
		}
		for _, absent := range []string{"--- stderr ---", "--- hint ---"} {
			if strings.Contains(s, absent) {
				t.Errorf("should not include %q when empty", absent)
			}
		}
	})
}

func TestErrorUnwrap(t *testing.T) {
	inner := errors.New("root cause")
	err := &Error{Stage: StageOpt, Err: inner}
	if !errors.Is(err, inner) {
		t.Fatal("Unwrap should expose inner error")
	}
}

func TestIsStage(t *testing.T) {
	tests := []struct {
		name  string
		err   error
		stage Stage
		want  bool
	}{
		{"match", &Error{Stage: StageOpt, Err: errors.New("fail")}, StageOpt, true},
		{"no match", &Error{Stage: StageOpt, Err: errors.New("fail")}, StageLink, false},
		{"non-diag error", errors.New("plain"), StageOpt, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsStage(tt.err, tt.stage); got != tt.want {
				t.Fatalf("IsStage = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestTrimLong(t *testing.T) {
	tests := []struct {
		name      string
		input     string
		maxLines  int
		wantTrunc bool
	}{
		{"no truncation", "line1\nline2\nline3", 5, false},
		{"truncated", strings.Repeat("line\n", 30), 5, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := trimLong(tt.input, tt.maxLines)
			if tt.wantTrunc != strings.HasSuffix(got, "...(truncated)") {
				t.Fatalf("trimLong(%q, %d) = %q", tt.input, tt.maxLines, got)
			}
		})
	}
}

func TestDiagnosticChain(t *testing.T) {
	parent := &Diagnostic{Severity: SeverityWarning, Node: fakeNode("probe.bt:1:1"), Message: "wildcard expanded"}
	child := &Diagnostic{Severity: SeverityError, Node: fakeNode("probe.bt:1:5"), Message: "unknown field", Parent: parent}

	s := child.Error()
	if !strings.Contains(s, "unknown field") || !strings.Contains(s, "wildcard expanded") {
		t.Fatalf("expected chained message, got: %s", s)
	}
	if !errors.Is(child, parent) {
		t.Fatal("expected Unwrap to expose Parent")
	}
}

func TestBag(t *testing.T) {
	var b Bag
	b.Warnf(fakeNode("a.bt:1:1"), "", "signed modulo on unsigned operand")
	if b.HasErrors() {
		t.Fatal("warnings alone should not count as errors")
	}
	b.Errorf(fakeNode("a.bt:2:1"), "rename the field", "unknown field %q", "foo")
	if !b.HasErrors() {
		t.Fatal("expected HasErrors after Errorf")
	}
	if b.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", b.Len())
	}
	if len(b.All()) != 2 {
		t.Fatalf("All() = %d, want 2", len(b.All()))
	}
}
