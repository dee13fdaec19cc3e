package mirv

import (
	"math/rand"
)

// Searcher represents a strategy for finding the next execution state to execute.
type Searcher interface {
	// Returns the next state to explore or nil if none remain.
	SelectState() *ExecutionState

	// Adds a state that is ready to run.
	AddState(state *ExecutionState)
}

var (
	_ Searcher = (*DFSSearcher)(nil)
	_ Searcher = (*BFSSearcher)(nil)
	_ Searcher = (*RandomSearcher)(nil)
	_ Searcher = (*RandomPathSearcher)(nil)
	_ Searcher = (*MultiSearcher)(nil)
)

// stateList is a pending list that searchers remove states from by index.
type stateList []*ExecutionState

func (l *stateList) AddState(state *ExecutionState) { *l = append(*l, state) }

// take removes and returns the state at i.
func (l *stateList) take(i int) *ExecutionState {
	state := (*l)[i]
	*l = append((*l)[:i], (*l)[i+1:]...)
	return state
}

// DFSSearcher runs the most recently added state first.
type DFSSearcher struct{ stateList }

// NewDFSSearcher returns a new instance of DFSSearcher.
func NewDFSSearcher() *DFSSearcher { return &DFSSearcher{} }

// SelectState returns the newest pending state.
func (s *DFSSearcher) SelectState() *ExecutionState {
	if len(s.stateList) == 0 {
		return nil
	}
	return s.take(len(s.stateList) - 1)
}

// BFSSearcher runs states in the order they were added.
type BFSSearcher struct{ stateList }

// NewBFSSearcher returns a new instance of BFSSearcher.
func NewBFSSearcher() *BFSSearcher { return &BFSSearcher{} }

// SelectState returns the oldest pending state.
func (s *BFSSearcher) SelectState() *ExecutionState {
	if len(s.stateList) == 0 {
		return nil
	}
	return s.take(0)
}

// RandomSearcher selects a uniformly random pending state.
type RandomSearcher struct {
	stateList
	rand *rand.Rand
}

// NewRandomSearcher returns a new instance of RandomSearcher.
func NewRandomSearcher(rand *rand.Rand) *RandomSearcher {
	return &RandomSearcher{rand: rand}
}

// SelectState removes and returns a random pending state.
func (s *RandomSearcher) SelectState() *ExecutionState {
	if len(s.stateList) == 0 {
		return nil
	}
	return s.take(s.rand.Intn(len(s.stateList)))
}

// RandomPathSearcher walks the executor's state tree from the root, picking
// a random child with a running descendant at each fork. Shallow paths are
// favored over the many leaves of a deep subtree.
type RandomPathSearcher struct {
	executor *Executor
	rand     *rand.Rand
}

// NewRandomPathSearcher returns a new instance of RandomPathSearcher.
func NewRandomPathSearcher(executor *Executor, rand *rand.Rand) *RandomPathSearcher {
	return &RandomPathSearcher{executor: executor, rand: rand}
}

// SelectState returns a running leaf of the state tree.
func (s *RandomPathSearcher) SelectState() *ExecutionState {
	node := s.executor.root
	if node == nil || !node.live() {
		return nil
	}

	for len(node.children) > 0 {
		var candidates []*ExecutionState
		for _, child := range node.children {
			if child.live() {
				candidates = append(candidates, child)
			}
		}
		node = candidates[s.rand.Intn(len(candidates))]
	}
	return node
}

// AddState is a no-op. States are found through the executor's tree.
func (s *RandomPathSearcher) AddState(state *ExecutionState) {}

// MultiSearcher alternates between searchers on each selection.
type MultiSearcher struct {
	searchers []Searcher
	next      int
}

// NewMultiSearcher returns a new instance of MultiSearcher.
func NewMultiSearcher(searchers ...Searcher) *MultiSearcher {
	return &MultiSearcher{searchers: searchers}
}

// SelectState asks each searcher in turn, starting after the one used last,
// and returns the first state found.
func (s *MultiSearcher) SelectState() *ExecutionState {
	for range s.searchers {
		searcher := s.searchers[s.next]
		s.next = (s.next + 1) % len(s.searchers)
		if state := searcher.SelectState(); state != nil {
			return state
		}
	}
	return nil
}

// AddState adds state to every searcher.
func (s *MultiSearcher) AddState(state *ExecutionState) {
	for _, searcher := range s.searchers {
		searcher.AddState(state)
	}
}
