package mirv_test

import (
	"math/rand"
	"testing"

	"github.com/benbjohnson/mirv"
)

func TestDFSSearcher(t *testing.T) {
	a, b, c := newStates()
	s := mirv.NewDFSSearcher()
	s.AddState(a)
	s.AddState(b)
	if got := s.SelectState(); got != b {
		t.Fatal("expected last state")
	}
	s.AddState(c)
	if got := s.SelectState(); got != c {
		t.Fatal("expected newly added state")
	} else if got := s.SelectState(); got != a {
		t.Fatal("expected first state")
	} else if got := s.SelectState(); got != nil {
		t.Fatal("expected empty searcher")
	}
}

func TestBFSSearcher(t *testing.T) {
	a, b, c := newStates()
	s := mirv.NewBFSSearcher()
	s.AddState(a)
	s.AddState(b)
	s.AddState(c)
	for i, want := range []*mirv.ExecutionState{a, b, c, nil} {
		if got := s.SelectState(); got != want {
			t.Fatalf("%d. unexpected state", i)
		}
	}
}

func TestRandomSearcher(t *testing.T) {
	a, b, c := newStates()
	s := mirv.NewRandomSearcher(rand.New(rand.NewSource(0)))
	s.AddState(a)
	s.AddState(b)
	s.AddState(c)

	seen := make(map[*mirv.ExecutionState]bool)
	for i := 0; i < 3; i++ {
		state := s.SelectState()
		if state == nil {
			t.Fatalf("%d. expected state", i)
		} else if seen[state] {
			t.Fatalf("%d. state selected twice", i)
		}
		seen[state] = true
	}
	if s.SelectState() != nil {
		t.Fatal("expected empty searcher")
	}
}

func TestMultiSearcher(t *testing.T) {
	a, b, c := newStates()
	s := mirv.NewMultiSearcher(mirv.NewDFSSearcher(), mirv.NewBFSSearcher())
	s.AddState(a)
	s.AddState(b)
	s.AddState(c)

	// Alternates between newest and oldest.
	for i, want := range []*mirv.ExecutionState{c, a, b, b, a, c, nil} {
		if got := s.SelectState(); got != want {
			t.Fatalf("%d. unexpected state", i)
		}
	}
}

func newStates() (a, b, c *mirv.ExecutionState) {
	return mirv.NewExecutionState(nil), mirv.NewExecutionState(nil), mirv.NewExecutionState(nil)
}
