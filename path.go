package mirv

import (
	"encoding/json"
	"errors"
	"math/big"
	"time"

	"github.com/benbjohnson/mirv/mir"
	"github.com/holiman/uint256"
)

// errForked is returned by operations that split the current state into
// children. The current state stops; each child re-executes the interrupted
// statement under its additional constraint.
var errForked = errors.New("mirv: state forked")

// solve runs the solver against the constraints, enforcing per-path limits.
func (e *Executor) solve(s *ExecutionState, constraints []Expr, arrays []*Array) (bool, [][]byte, error) {
	if e.Solver == nil {
		return false, nil, stuckFault("symbolic condition without a solver")
	}

	s.solverCalls++
	if e.config.MaxSolverCalls > 0 && s.solverCalls > e.config.MaxSolverCalls {
		return false, nil, undeterminedFault(ErrSolverResourceLimit).WithDetailf("more than %d solver calls", e.config.MaxSolverCalls)
	}

	t := time.Now()
	satisfiable, values, err := e.Solver.Solve(constraints, arrays)
	solverDuration.Observe(time.Since(t).Seconds())

	switch {
	case errors.Is(err, ErrSolverTimeout), errors.Is(err, ErrSolverCanceled), errors.Is(err, ErrSolverResourceLimit), errors.Is(err, ErrSolverUnknown):
		solverCallsTotal.WithLabelValues("unknown").Inc()
		return false, nil, undeterminedFault(err)
	case err != nil:
		solverCallsTotal.WithLabelValues("error").Inc()
		return false, nil, err
	case satisfiable:
		solverCallsTotal.WithLabelValues("sat").Inc()
	default:
		solverCallsTotal.WithLabelValues("unsat").Inc()
	}
	return satisfiable, values, nil
}

// feasible returns true if cond can hold on the current path.
func (e *Executor) feasible(s *ExecutionState, cond Expr) (bool, error) {
	if c, ok := cond.(*ConstantExpr); ok {
		return c.IsTrue(), nil
	}
	constraints := AddConstraint(append([]Expr(nil), s.constraints...), cond)
	satisfiable, _, err := e.solve(s, constraints, nil)
	return satisfiable, err
}

// require checks that cond holds on every input consistent with the path.
// If it can fail, a child path terminates with the fault; if it can also
// hold, a second child continues with cond assumed.
func (e *Executor) require(s *ExecutionState, cond Expr, fault *Fault) error {
	if c, ok := cond.(*ConstantExpr); ok {
		if c.IsTrue() {
			return nil
		}
		return fault
	}

	canFail, err := e.feasible(s, NewNotExpr(cond))
	if err != nil {
		return err
	} else if !canFail {
		return nil
	}

	canHold, err := e.feasible(s, cond)
	if err != nil {
		return err
	} else if !canHold {
		return fault
	}

	logf("fork", "obligation may fail: %s", fault)
	failing := e.fork(s, NewNotExpr(cond))
	e.terminate(failing, fault)

	passing := e.fork(s, cond)
	e.enqueue(passing)
	return errForked
}

// choose returns the index of the condition that holds. If several can hold,
// the state forks once per feasible condition.
func (e *Executor) choose(s *ExecutionState, conds []Expr) (int, error) {
	var candidates []int
	for i, cond := range conds {
		if ok, err := e.feasible(s, cond); err != nil {
			return 0, err
		} else if ok {
			candidates = append(candidates, i)
		}
	}

	switch len(candidates) {
	case 0:
		return 0, pruneFault("no feasible alternative")
	case 1:
		return candidates[0], nil
	}

	for _, i := range candidates {
		child := e.fork(s, conds[i])
		e.enqueue(child)
	}
	return 0, errForked
}

// assume adds cond to the path. In concrete mode a false assumption ends the
// program cleanly; in symbolic mode an infeasible assumption prunes the path.
func (e *Executor) assume(s *ExecutionState, cond Expr) error {
	if c, ok := cond.(*ConstantExpr); ok {
		if c.IsTrue() {
			return nil
		} else if e.config.Mode == ModeConcrete {
			return exitFault(0).WithDetailf("assumption violated")
		}
		return pruneFault("assumption is false")
	}

	if ok, err := e.feasible(s, cond); err != nil {
		return err
	} else if !ok {
		return pruneFault("assumption is infeasible")
	}
	s.AddConstraint(cond)
	return nil
}

// switchInt jumps to the target whose value equals discr, forking once per
// feasible target if discr is symbolic.
func (e *Executor) switchInt(s *ExecutionState, discr Expr, term *mir.Terminator) error {
	w := ExprWidth(discr)

	conds := make([]Expr, 0, len(term.Targets)+1)
	blocks := make([]int, 0, len(term.Targets)+1)
	var none []Expr
	for _, target := range term.Targets {
		v, err := switchValue(target.Value, w)
		if err != nil {
			return err
		}
		eq := NewBinaryExpr(EQ, discr, v)
		conds = append(conds, eq)
		blocks = append(blocks, target.Target)
		none = append(none, NewNotExpr(eq))
	}
	conds = append(conds, NewAndExpr(none...))
	blocks = append(blocks, term.Otherwise)

	// Constant discriminants select a single target without the solver.
	if IsConstantExpr(discr) {
		for i, cond := range conds {
			if IsConstantTrue(cond) {
				s.Frame().jump(blocks[i])
				return nil
			}
		}
		return stuckFault("switch on %s selects no target", discr)
	}

	var feasible []int
	for i, cond := range conds {
		if ok, err := e.feasible(s, cond); err != nil {
			return err
		} else if ok {
			feasible = append(feasible, i)
		}
	}

	switch len(feasible) {
	case 0:
		return pruneFault("no feasible switch target")
	case 1:
		s.Frame().jump(blocks[feasible[0]])
		return nil
	}

	// Add in reverse so depth-first search explores targets in order.
	for j := len(feasible) - 1; j >= 0; j-- {
		i := feasible[j]
		logf("fork", "switch %s -> bb%d", discr, blocks[i])
		child := e.fork(s, conds[i])
		child.Frame().jump(blocks[i])
		e.enqueue(child)
	}
	return errForked
}

// switchValue parses a switch target value as a constant of width w.
// Negative values use two's complement.
func switchValue(n json.Number, w uint) (*ConstantExpr, error) {
	v, ok := new(big.Int).SetString(string(n), 10)
	if !ok {
		return nil, stuckFault("invalid switch value %q", n)
	}
	if v.Sign() < 0 {
		v.Add(v, new(big.Int).Lsh(big.NewInt(1), Width256))
	}
	u, overflow := uint256.FromBig(v)
	if overflow {
		return nil, stuckFault("switch value %q out of range", n)
	}
	return NewConstantExprInt(u, w), nil
}

// fork returns a new child of s with the additional constraint.
func (e *Executor) fork(s *ExecutionState, cond Expr) *ExecutionState {
	child := s.Fork(cond)
	child.id = e.nextStateID()
	forksTotal.Inc()
	logf("fork", "state %d -> %d", s.id, child.id)
	return child
}
