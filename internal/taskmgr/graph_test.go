package taskmgr

import (
	"sort"
	"testing"
)

func TestWouldCycleSelfDependency(t *testing.T) {
	g := newDepGraph()
	if !g.wouldCycle("a", []string{"a"}) {
		t.Error("self-dependency should be a cycle")
	}
}

func TestWouldCycleThroughChain(t *testing.T) {
	g := newDepGraph()
	g.add("a", nil)
	g.add("b", []string{"a"})
	g.add("c", []string{"b"})

	// A new node depending on c is fine.
	if g.wouldCycle("d", []string{"c"}) {
		t.Error("acyclic addition reported as cycle")
	}

	// If a's edges included the new node, c -> b -> a -> new closes a loop.
	g.deps["a"] = []string{"new"}
	if !g.wouldCycle("new", []string{"c"}) {
		t.Error("cycle through chain not detected")
	}
}

func TestWouldCycleDiamond(t *testing.T) {
	g := newDepGraph()
	g.add("a", nil)
	g.add("b", []string{"a"})
	g.add("c", []string{"a"})

	if g.wouldCycle("d", []string{"b", "c"}) {
		t.Error("diamond reported as cycle")
	}
}

func TestTransitiveDependents(t *testing.T) {
	g := newDepGraph()
	g.add("a", nil)
	g.add("b", []string{"a"})
	g.add("c", []string{"b"})
	g.add("d", []string{"a"})
	g.add("e", nil)

	got := g.transitiveDependents("a")
	sort.Strings(got)
	want := []string{"b", "c", "d"}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, got)
		}
	}
}

func TestTransitiveDependentsVisitsOnce(t *testing.T) {
	// b and c both depend on a; d depends on both. d must appear once.
	g := newDepGraph()
	g.add("a", nil)
	g.add("b", []string{"a"})
	g.add("c", []string{"a"})
	g.add("d", []string{"b", "c"})

	got := g.transitiveDependents("a")
	if len(got) != 3 {
		t.Errorf("expected 3 dependents, got %v", got)
	}
}

func TestDependentsOf(t *testing.T) {
	g := newDepGraph()
	g.add("a", nil)
	g.add("b", []string{"a"})

	deps := g.dependentsOf("a")
	if len(deps) != 1 || deps[0] != "b" {
		t.Errorf("expected [b], got %v", deps)
	}
	if len(g.dependentsOf("b")) != 0 {
		t.Error("b should have no dependents")
	}
}
