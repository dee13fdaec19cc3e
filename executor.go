package mirv

import (
	"context"
	"fmt"

	"github.com/benbjohnson/mirv/mir"
)

// Executor explores the paths of a single entry function.
type Executor struct {
	prog    *mir.Program
	fn      *mir.Function // entry function
	layouts *LayoutResolver
	config  Config

	// Type used for the bytes of str values.
	byteType mir.TypeID

	root       *ExecutionState   // initial state
	terminated []*ExecutionState // terminated paths, in order
	stateIDSeq int               // autoincrementing state ID

	// Entry arguments in concrete mode.
	Args []Value

	// Used for solving symbolic values.
	// Must set before symbolic execution.
	Solver Solver

	// Search strategy for the executor. Defaults to the configured strategy.
	Searcher Searcher
}

// NewExecutor returns a new instance of Executor for the named entry function.
func NewExecutor(prog *mir.Program, entry string, config Config) (*Executor, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	fn := prog.FunctionByName(entry)
	if fn == nil {
		return nil, fmt.Errorf("%w: %s", ErrEntryNotFound, entry)
	} else if fn.Body == nil {
		return nil, fmt.Errorf("%w: %s has no body", ErrEntryNotFound, entry)
	}

	e := &Executor{
		prog:    prog,
		fn:      fn,
		layouts: NewLayoutResolver(prog),
		config:  config,
	}
	for _, t := range prog.Types {
		if t.Kind == mir.TypeUint && t.Bits == 8 {
			e.byteType = t.ID
			break
		}
	}
	e.Searcher = config.newSearcher(e)
	return e, nil
}

// Program returns the program under execution.
func (e *Executor) Program() *mir.Program { return e.prog }

// Config returns the executor configuration.
func (e *Executor) Config() Config { return e.config }

// Layouts returns the layout resolver for the program.
func (e *Executor) Layouts() *LayoutResolver { return e.layouts }

// RootState returns the initial state for the function execution.
// Returns nil until execution starts.
func (e *Executor) RootState() *ExecutionState { return e.root }

// Terminated returns all terminated paths in termination order.
func (e *Executor) Terminated() []*ExecutionState { return e.terminated }

// nextStateID returns the next autoincrementing state ID.
func (e *Executor) nextStateID() int {
	e.stateIDSeq++
	return e.stateIDSeq
}

// Reset discards all explored paths. Statics are rebuilt from their
// initializers on the next run.
func (e *Executor) Reset() {
	e.root, e.terminated, e.stateIDSeq = nil, nil, 0
	e.Searcher = e.config.newSearcher(e)
}

// start creates the root state and pushes the entry frame.
func (e *Executor) start() error {
	s := NewExecutionState(e)
	s.id = e.nextStateID()
	e.root = s

	if _, err := s.Push(e.fn); err != nil {
		return err
	}

	if err := e.bindArgs(s); err != nil {
		if f, ok := AsFault(err); ok {
			e.terminate(s, f)
			return nil
		}
		return err
	}

	logf("state", "start %s in %s mode", e.fn.Name, e.config.Mode)
	e.enqueue(s)
	return nil
}

// bindArgs writes the entry arguments into the argument locals.
func (e *Executor) bindArgs(s *ExecutionState) error {
	n := e.fn.Body.ArgCount
	if e.config.Mode == ModeSymbolic {
		for i := 1; i <= n; i++ {
			if err := s.bindInput(i); err != nil {
				return err
			}
		}
		return nil
	}

	if len(e.Args) != n {
		return fmt.Errorf("mirv: %s expects %d arguments, got %d", e.fn.Name, n, len(e.Args))
	}
	for i, v := range e.Args {
		loc, err := s.localLocation(i + 1)
		if err != nil {
			return err
		} else if err := s.store(loc, v); err != nil {
			return err
		}
	}
	return nil
}

// enqueue adds a running state to the searcher.
func (e *Executor) enqueue(s *ExecutionState) {
	s.queued = true
	e.Searcher.AddState(s)
}

// terminate ends a path and records it.
func (e *Executor) terminate(s *ExecutionState, f *Fault) {
	s.terminate(f)
	e.terminated = append(e.terminated, s)
	pathsTotal.WithLabelValues(string(f.Status)).Inc()
	logf("state", "state %d %s at %s", s.id, f, s.Position())
}

// finish ends a path that returned from the entry function.
func (e *Executor) finish(s *ExecutionState) {
	s.status = ExecutionStatusFinished
	e.terminated = append(e.terminated, s)
	pathsTotal.WithLabelValues(string(s.status)).Inc()
	logf("state", "state %d finished", s.id)
}

// Run explores paths until none remain or the path limit is reached, then
// classifies the terminated paths.
func (e *Executor) Run(ctx context.Context) (*Verdict, error) {
	e.Reset()
	if err := e.start(); err != nil {
		return nil, err
	}

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		if e.config.MaxPaths > 0 && len(e.terminated) >= e.config.MaxPaths {
			for _, s := range e.root.leaves() {
				e.terminate(s, undeterminedFault(ErrPathLimit))
			}
			break
		}

		if _, err := e.ExecuteNextState(); err == ErrNoStateAvailable {
			break
		} else if err != nil {
			return nil, err
		}
	}
	return e.classify(), nil
}

// ExecuteNextState executes the next available state until it reaches the end
// of a block, forks or terminates. This can be called continually until
// ErrNoStateAvailable is returned.
func (e *Executor) ExecuteNextState() (*ExecutionState, error) {
	if e.root == nil {
		if err := e.start(); err != nil {
			return nil, err
		}
	}

	var state *ExecutionState
	for {
		if state = e.Searcher.SelectState(); state == nil {
			return nil, ErrNoStateAvailable
		} else if state.queued && !state.Terminated() && !state.Forked() {
			break
		}
	}
	state.queued = false

	logf("state", "begin %d: %s", state.id, state.Position())

	// Loop until the block ends, the state forks or the path terminates.
	for {
		if done, err := e.step(state); err != nil {
			return state, err
		} else if done {
			break
		}
	}
	return state, nil
}

// step executes a single statement or terminator. Returns true if the
// state should yield to the searcher.
func (e *Executor) step(s *ExecutionState) (bool, error) {
	s.steps++
	stepsTotal.Inc()
	if e.config.MaxSteps > 0 && s.steps > e.config.MaxSteps {
		e.terminate(s, undeterminedFault(ErrStepLimit))
		return true, nil
	}

	f := s.Frame()
	if f == nil {
		return true, fmt.Errorf("mirv: running state %d without frames", s.id)
	}

	var err error
	var atTerminator bool
	if stmt := f.Statement(); stmt != nil {
		logf("exec", "%s: %s", f, stmt.Kind)
		if err = e.executeStatement(s, stmt); err == nil {
			f.next()
		}
	} else if blk := f.Block(); blk == nil {
		err = stuckFault("invalid block %d in %s", f.block, f.fn.Name)
	} else {
		logf("exec", "%s: %s", f, blk.Terminator.Kind)
		atTerminator = true
		err = e.executeTerminator(s, blk.Terminator)
	}

	switch {
	case err == errForked:
		return true, nil
	case err != nil:
		if f, ok := AsFault(err); ok {
			e.terminate(s, f)
			return true, nil
		}
		return true, err
	case s.Terminated():
		return true, nil
	case atTerminator:
		e.enqueue(s)
		return true, nil
	}
	return false, nil
}

// Solver represents a logical constraint solver.
type Solver interface {
	// Returns the satisfiability of the set of constraints. If the formula
	// is satisfiable, a valid value is returned for each array passed in.
	Solve(constraints []Expr, arrays []*Array) (satisfiable bool, values [][]byte, err error)
}
