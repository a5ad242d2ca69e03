// Package codegen implements the CodeGen Visitor: an AST walk that drives
// internal/irbuild, managing ScopedExpr lifetimes, per-scope variables,
// control flow, and the inlined helper routines (log2, linear, murmur2).
package codegen

import "github.com/bpftrace-go/bpftrace/internal/typesys"

// ScopedExpr pairs a value produced during codegen with the teardown (if
// any) that must run when the value's lifetime ends. Moved, never copied —
// callers pass ScopedExpr by value and must not read a ScopedExpr again
// after it has been bound into another or released.
type ScopedExpr struct {
	Value   string
	Type    typesys.SizedType
	deleter func()
}

// NewScopedExpr wraps a bare IR value with no lifetime obligation (a
// register produced by a pure arithmetic op, an integer literal, ...).
func NewScopedExpr(value string, t typesys.SizedType) ScopedExpr {
	return ScopedExpr{Value: value, Type: t}
}

// NewOwned wraps a value that owns a scratch allocation: deleter must run
// exactly once, when the value's lifetime ends.
func NewOwned(value string, t typesys.SizedType, deleter func()) ScopedExpr {
	return ScopedExpr{Value: value, Type: t, deleter: deleter}
}

// HasDeleter reports whether releasing e would run a teardown.
func (e ScopedExpr) HasDeleter() bool { return e.deleter != nil }

// Bind composes e with inner: the returned ScopedExpr's Release runs its
// own deleter (if any) first, then inner's — inner must outlive e (e.g. e
// is a pointer into inner's storage, as with string indexing or
// tuple/array element access).
func (e ScopedExpr) Bind(inner ScopedExpr) ScopedExpr {
	own := e.deleter
	other := inner.deleter
	e.deleter = func() {
		if own != nil {
			own()
		}
		if other != nil {
			other()
		}
	}
	return e
}

// Release runs e's deleter exactly once. Safe to call on an
// already-released value.
func (e *ScopedExpr) Release() {
	if e.deleter == nil {
		return
	}
	d := e.deleter
	e.deleter = nil
	d()
}

// Disarm releases the deleter without running it. internal/codegen has no
// disarm call sites today — every scratch allocation it makes is scoped to
// the block that requested it, so every Release genuinely runs its
// teardown. This method exists only so a future change that does need it
// has one clearly-named place to do it.
func (e *ScopedExpr) Disarm() { e.deleter = nil }

// scope is one lexical block's variable bindings, released in reverse
// declaration order at block exit.
type scope struct {
	vars  map[string]ScopedExpr
	order []string
}

func newScope() *scope {
	return &scope{vars: map[string]ScopedExpr{}}
}

func (s *scope) declare(name string, e ScopedExpr) {
	if _, exists := s.vars[name]; !exists {
		s.order = append(s.order, name)
	}
	s.vars[name] = e
}

func (s *scope) lookup(name string) (ScopedExpr, bool) {
	e, ok := s.vars[name]
	return e, ok
}

// release tears down every variable declared in s, in reverse declaration
// order.
func (s *scope) release() {
	for i := len(s.order) - 1; i >= 0; i-- {
		e := s.vars[s.order[i]]
		e.Release()
	}
}

// scopeStack is the Visitor's per-probe stack of open lexical scopes.
type scopeStack struct {
	frames []*scope
}

func (s *scopeStack) push() *scope {
	f := newScope()
	s.frames = append(s.frames, f)
	return f
}

// pop releases and discards the innermost scope.
func (s *scopeStack) pop() {
	n := len(s.frames)
	s.frames[n-1].release()
	s.frames = s.frames[:n-1]
}

func (s *scopeStack) declare(name string, e ScopedExpr) {
	s.frames[len(s.frames)-1].declare(name, e)
}

// resolve searches from the innermost scope outward, matching ordinary
// lexical shadowing.
func (s *scopeStack) resolve(name string) (ScopedExpr, bool) {
	for i := len(s.frames) - 1; i >= 0; i-- {
		if e, ok := s.frames[i].lookup(name); ok {
			return e, true
		}
	}
	return ScopedExpr{}, false
}
