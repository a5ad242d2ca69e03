// Package diag provides structured, stage-attributed error types for the
// bpftrace-go compilation pipeline. Every failure includes the stage that
// produced it and an actionable hint.
package diag

import (
	"errors"
	"fmt"
	"strings"
)

// Stage identifies which pipeline step produced an error.
type Stage string

const (
	StageDiscover  Stage = "discover-tools"
	StageInput     Stage = "input-normalization"
	StageParse     Stage = "parse"
	StageAttach    Stage = "attach-resolve"
	StageSemantic  Stage = "semantic-analysis"
	StageResources Stage = "resource-analysis"
	StageLink      Stage = "llvm-link"
	StageIRBuild   Stage = "ir-build"
	StageOpt       Stage = "opt"
	StageCodegen   Stage = "llc"
	StageFinalize  Stage = "finalize"
	StageBTF       Stage = "btf"
	StageValidate  Stage = "elf-validate"
	StageLoad      Stage = "runtime-load"
	StageRuntime   Stage = "runtime-dispatch"
)

// Error is a structured pipeline error carrying stage context, diagnostic
// output, and a user-facing hint for remediation.
type Error struct {
	Stage   Stage
	Command string
	Stderr  string
	Hint    string
	Err     error
}

// Error formats the diagnostic into a multi-section string.
func (e *Error) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "stage %q failed", e.Stage)
	if e.Command != "" {
		fmt.Fprintf(&b, ": %s", e.Command)
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	if e.Stderr != "" {
		b.WriteString("\n--- stderr ---\n")
		b.WriteString(trimLong(e.Stderr, 20))
	}
	if e.Hint != "" {
		b.WriteString("\n--- hint ---\n")
		b.WriteString(e.Hint)
	}
	return b.String()
}

// Unwrap returns the underlying error for use with errors.Is/As.
func (e *Error) Unwrap() error {
	return e.Err
}

// IsStage reports whether err is a diag.Error from the given pipeline stage.
func IsStage(err error, stage Stage) bool {
	var derr *Error
	if !errors.As(err, &derr) {
		return false
	}
	return derr.Stage == stage
}

func trimLong(s string, maxLines int) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	if len(lines) <= maxLines {
		return strings.Join(lines, "\n")
	}
	return strings.Join(lines[:maxLines], "\n") + "\n...(truncated)"
}

// Severity classifies a Diagnostic.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
	SeverityHint    Severity = "hint"
)

// Node is the minimal surface a Diagnostic needs from an AST node: a
// human-readable source position. internal/ast.Node satisfies this without
// diag importing ast (which would invert the dependency direction).
type Node interface {
	Pos() string
}

// Diagnostic is a node-attached, leveled message produced during parsing or
// semantic analysis. Unlike Error, which aborts a pipeline stage, a
// Diagnostic of SeverityWarning or SeverityHint can be collected and
// surfaced without stopping compilation. A Diagnostic may carry a Parent,
// forming a chain back through wildcard or macro expansion so a message
// about an expanded probe can be traced to the literal attach-point string
// the user wrote.
type Diagnostic struct {
	Severity Severity
	Node     Node
	Message  string
	Hint     string
	Parent   *Diagnostic
}

func (d *Diagnostic) Error() string {
	var b strings.Builder
	if d.Node != nil {
		fmt.Fprintf(&b, "%s: ", d.Node.Pos())
	}
	fmt.Fprintf(&b, "%s: %s", d.Severity, d.Message)
	if d.Hint != "" {
		fmt.Fprintf(&b, " (%s)", d.Hint)
	}
	for p := d.Parent; p != nil; p = p.Parent {
		fmt.Fprintf(&b, "\n  expanded from: %s", p.Message)
	}
	return b.String()
}

func (d *Diagnostic) Unwrap() error {
	if d.Parent == nil {
		return nil
	}
	return d.Parent
}

// Bag collects Diagnostics produced over the course of a compilation pass.
// It is not safe for concurrent use; callers that fan out analysis across
// goroutines should merge per-goroutine Bags afterward.
type Bag struct {
	items []*Diagnostic
}

func (b *Bag) Add(d *Diagnostic) { b.items = append(b.items, d) }

func (b *Bag) Errorf(node Node, hint, format string, args ...any) {
	b.Add(&Diagnostic{Severity: SeverityError, Node: node, Message: fmt.Sprintf(format, args...), Hint: hint})
}

func (b *Bag) Warnf(node Node, hint, format string, args ...any) {
	b.Add(&Diagnostic{Severity: SeverityWarning, Node: node, Message: fmt.Sprintf(format, args...), Hint: hint})
}

// HasErrors reports whether any collected Diagnostic is SeverityError.
func (b *Bag) HasErrors() bool {
	for _, d := range b.items {
		if d.Severity == SeverityError {
			return true
		}
	}
	return false
}

func (b *Bag) All() []*Diagnostic { return b.items }

func (b *Bag) Len() int { return len(b.items) }
