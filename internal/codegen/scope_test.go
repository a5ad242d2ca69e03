package codegen

import (
	"testing"

	"github.com/bpftrace-go/bpftrace/internal/typesys"
)

func TestScopedExprReleaseRunsOnce(t *testing.T) {
	n := 0
	e := NewOwned("%v", typesys.Bool(), func() { n++ })
	e.Release()
	e.Release()
	if n != 1 {
		t.Fatalf("deleter ran %d times, want 1", n)
	}
}

func TestScopedExprBindOrdersTeardown(t *testing.T) {
	var order []string
	inner := NewOwned("%buf", typesys.NewString(8), func() { order = append(order, "inner") })
	outer := NewOwned("%elem", typesys.Bool(), func() { order = append(order, "outer") })

	bound := outer.Bind(inner)
	bound.Release()

	if len(order) != 2 || order[0] != "outer" || order[1] != "inner" {
		t.Fatalf("teardown order = %v, want [outer inner]", order)
	}
}

func TestScopedExprBindWithoutOwnDeleter(t *testing.T) {
	n := 0
	inner := NewOwned("%buf", typesys.NewString(8), func() { n++ })
	elem := NewScopedExpr("%p", typesys.Bool()).Bind(inner)
	if !elem.HasDeleter() {
		t.Fatal("bound expr lost inner's deleter")
	}
	elem.Release()
	if n != 1 {
		t.Fatalf("inner deleter ran %d times, want 1", n)
	}
}

func TestScopedExprDisarm(t *testing.T) {
	n := 0
	e := NewOwned("%v", typesys.Bool(), func() { n++ })
	e.Disarm()
	e.Release()
	if n != 0 {
		t.Fatalf("disarmed deleter still ran %d times", n)
	}
}

func TestScopeStackReleasesInReverseOrder(t *testing.T) {
	var order []string
	s := scopeStack{}
	s.push()
	s.declare("a", NewOwned("%a", typesys.Bool(), func() { order = append(order, "a") }))
	s.declare("b", NewOwned("%b", typesys.Bool(), func() { order = append(order, "b") }))
	s.pop()

	if len(order) != 2 || order[0] != "b" || order[1] != "a" {
		t.Fatalf("release order = %v, want [b a]", order)
	}
}

func TestScopeStackShadowing(t *testing.T) {
	s := scopeStack{}
	s.push()
	s.declare("x", NewScopedExpr("%outer", typesys.Bool()))
	s.push()
	s.declare("x", NewScopedExpr("%inner", typesys.Bool()))

	got, ok := s.resolve("x")
	if !ok || got.Value != "%inner" {
		t.Fatalf("resolve(x) = %q, want %%inner", got.Value)
	}

	s.pop()
	got, ok = s.resolve("x")
	if !ok || got.Value != "%outer" {
		t.Fatalf("after pop, resolve(x) = %q, want %%outer", got.Value)
	}
}

func TestScopeStackMissLooksThroughAllFrames(t *testing.T) {
	s := scopeStack{}
	s.push()
	s.push()
	if _, ok := s.resolve("nope"); ok {
		t.Fatal("unexpected hit for undeclared variable")
	}
}
