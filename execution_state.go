package mirv

import (
	"bytes"
	"fmt"

	"github.com/benbjohnson/immutable"
	"github.com/benbjohnson/mirv/mir"
	"github.com/davecgh/go-spew/spew"
)

// ExecutionState representing a path under exploration.
type ExecutionState struct {
	id int

	// Executor this is executed within.
	executor *Executor

	// Execution hierarchy.
	parent   *ExecutionState
	children []*ExecutionState

	// Call stack
	stack []*StackFrame

	// Shows whether state is running, finished, or terminated by a fault.
	status ExecutionStatus
	fault  *Fault

	// Allocations by id and allocation ids by base address.
	heap  *immutable.SortedMap
	addrs *immutable.SortedMap

	// Allocation ids of globals by global id.
	globals *immutable.Map

	// Suspended coroutines by handle.
	coroutines *immutable.SortedMap

	allocSeq     uint64
	nextBase     uint64
	coroutineSeq uint64

	// Symbolic inputs created for the entry arguments.
	inputs []*Input

	// Constraints collected so far during execution.
	constraints []Expr

	// Per-path resource usage.
	steps       int
	solverCalls int

	// Set if the path is waiting in the searcher.
	queued bool

	// Return value of the entry function.
	ret Value
}

// NewExecutionState returns a new, empty state for an executor.
func NewExecutionState(executor *Executor) *ExecutionState {
	return &ExecutionState{
		executor:   executor,
		status:     ExecutionStatusRunning,
		heap:       immutable.NewSortedMap(&uint64Comparer{}),
		addrs:      immutable.NewSortedMap(&uint64Comparer{}),
		globals:    immutable.NewMap(nil),
		coroutines: immutable.NewSortedMap(&uint64Comparer{}),
	}
}

// ID returns an autoincrementing ID assigned by the executor.
func (s *ExecutionState) ID() int { return s.id }

// Executor returns the parent executor of this state.
func (s *ExecutionState) Executor() *Executor {
	return s.executor
}

// Constraints returns the path constraints.
func (s *ExecutionState) Constraints() []Expr {
	return s.constraints
}

// Inputs returns the symbolic inputs of the path.
func (s *ExecutionState) Inputs() []*Input {
	return s.inputs
}

// Parent returns the state this state was forked from.
func (s *ExecutionState) Parent() *ExecutionState { return s.parent }

// Children returns the states forked from this state.
func (s *ExecutionState) Children() []*ExecutionState { return s.children }

// Clone returns a copy of the state and including deep copies of the stack
// and constraints. However, this does not clone child states.
func (s *ExecutionState) Clone() *ExecutionState {
	stack := make([]*StackFrame, len(s.stack))
	for i := range s.stack {
		stack[i] = s.stack[i].Clone()
	}

	constraints := make([]Expr, len(s.constraints))
	copy(constraints, s.constraints)

	inputs := make([]*Input, len(s.inputs))
	copy(inputs, s.inputs)

	return &ExecutionState{
		executor:     s.executor,
		parent:       s.parent,
		stack:        stack,
		status:       s.status,
		fault:        s.fault,
		heap:         s.heap,
		addrs:        s.addrs,
		globals:      s.globals,
		coroutines:   s.coroutines,
		allocSeq:     s.allocSeq,
		nextBase:     s.nextBase,
		coroutineSeq: s.coroutineSeq,
		inputs:       inputs,
		constraints:  constraints,
		steps:        s.steps,
		solverCalls:  s.solverCalls,
		ret:          s.ret,
	}
}

// Status returns the current status of the state.
// See Fault() for additional information if status is in an error state.
func (s *ExecutionState) Status() ExecutionStatus {
	return s.status
}

// Fault returns the fault that terminated the path, if any.
func (s *ExecutionState) Fault() *Fault {
	return s.fault
}

// Reason returns additional information about the status of the state.
func (s *ExecutionState) Reason() string {
	if s.fault == nil {
		return ""
	}
	return s.fault.Error()
}

// Return returns the value returned by the entry function of a finished path.
func (s *ExecutionState) Return() Value {
	return s.ret
}

// Terminated returns true if the state completes execution of a path.
func (s *ExecutionState) Terminated() bool {
	return s.status != ExecutionStatusRunning
}

// Forked returns true if state has a child state.
func (s *ExecutionState) Forked() bool {
	return len(s.children) > 0
}

// Position returns the current function, block and statement as a string.
func (s *ExecutionState) Position() string {
	f := s.Frame()
	if f == nil {
		return "<none>"
	}
	return f.String()
}

// Frame returns the current stack frame.
func (s *ExecutionState) Frame() *StackFrame {
	if len(s.stack) == 0 {
		return nil
	}
	return s.stack[len(s.stack)-1]
}

// CallerFrame returns the parent of the current stack frame.
func (s *ExecutionState) CallerFrame() *StackFrame {
	if len(s.stack) <= 1 {
		return nil
	}
	return s.stack[len(s.stack)-2]
}

// Push adds a frame for fn to the top of the stack. Every local receives
// its own allocation.
func (s *ExecutionState) Push(fn *mir.Function) (*StackFrame, error) {
	if fn.Body == nil {
		return nil, stuckFault("call to %s without a body", fn.Name)
	}

	f := NewStackFrame(fn)
	for i := range fn.Body.Locals {
		id, err := s.allocateLocal(fn, i)
		if err != nil {
			return nil, err
		}
		f.locals[i] = id
	}
	s.stack = append(s.stack, f)

	logf("call", "push %s (depth %d)", fn.Name, len(s.stack))
	return f, nil
}

// allocateLocal creates a fresh stack allocation for local i of fn.
func (s *ExecutionState) allocateLocal(fn *mir.Function, i int) (uint64, error) {
	l, err := s.executor.layouts.Layout(fn.Body.Locals[i].Type)
	if err != nil {
		return 0, err
	} else if l.Unsized {
		return 0, stuckFault("unsized local _%d in %s", i, fn.Name)
	}
	a := s.Allocate(AllocationStack, l.Size, l.Align, true).clone()
	a.Name = fmt.Sprintf("%s::_%d", fn.Name, i)
	s.setAllocation(a)
	return a.ID, nil
}

// Pop removes the current frame from the stack and frees its locals.
func (s *ExecutionState) Pop() *StackFrame {
	f := s.Frame()
	for _, id := range f.locals {
		s.free(id)
	}
	s.stack[len(s.stack)-1] = nil
	s.stack = s.stack[:len(s.stack)-1]
	logf("call", "pop %s", f.fn.Name)
	return f
}

// suspend removes the current frame without freeing its locals.
func (s *ExecutionState) suspend() *StackFrame {
	f := s.Frame()
	s.stack[len(s.stack)-1] = nil
	s.stack = s.stack[:len(s.stack)-1]
	return f
}

// Fork returns a child copy of the given state with the additional constraint.
func (s *ExecutionState) Fork(constraint Expr) *ExecutionState {
	child := s.Clone()
	child.parent = s
	if constraint != nil {
		child.AddConstraint(constraint)
	}
	s.children = append(s.children, child)
	return child
}

// live returns true if the state or one of its descendants is still running.
func (s *ExecutionState) live() bool {
	if len(s.children) == 0 {
		return !s.Terminated()
	}
	for _, child := range s.children {
		if child.live() {
			return true
		}
	}
	return false
}

// leaves returns all running leaf states under s.
func (s *ExecutionState) leaves() []*ExecutionState {
	if len(s.children) == 0 {
		if s.Terminated() {
			return nil
		}
		return []*ExecutionState{s}
	}
	var a []*ExecutionState
	for _, child := range s.children {
		a = append(a, child.leaves()...)
	}
	return a
}

// AddConstraint adds a constraint to the state. Panic if expr is a constant false.
func (s *ExecutionState) AddConstraint(expr Expr) {
	if expr, ok := expr.(*ConstantExpr); ok {
		assert(expr.IsTrue(), "invalid false constraint")
		return
	}
	s.constraints = AddConstraint(s.constraints, expr)
}

// AddConstraint adds expr to constraints and returns the new constraint list.
// If expr is a binary AND expression then its LHS & RHS are split into
// independent constraints.
func AddConstraint(a []Expr, expr Expr) []Expr {
	if expr, ok := expr.(*BinaryExpr); ok && expr.Op == AND {
		a = AddConstraint(a, expr.LHS)
		a = AddConstraint(a, expr.RHS)
		return a
	}
	return append(a, expr)
}

// Values computes a satisfying assignment for every input and every array
// referenced by the constraints. Inputs come first, in creation order.
func (s *ExecutionState) Values() ([]*Array, [][]byte, error) {
	arrays := make([]*Array, 0, len(s.inputs))
	seen := make(map[uint64]struct{})
	for _, in := range s.inputs {
		arrays = append(arrays, in.Array)
		seen[in.Array.ID] = struct{}{}
	}
	for _, a := range FindArrays(s.constraints...) {
		if _, ok := seen[a.ID]; !ok {
			arrays = append(arrays, a)
			seen[a.ID] = struct{}{}
		}
	}

	if s.executor.Solver == nil {
		return nil, nil, stuckFault("no solver available")
	}
	satisfiable, values, err := s.executor.Solver.Solve(s.constraints, arrays)
	if err != nil {
		return nil, nil, err
	} else if !satisfiable {
		return nil, nil, fmt.Errorf("mirv: path constraints unsatisfiable")
	}
	return arrays, values, nil
}

// terminate ends the path with the status of the fault.
func (s *ExecutionState) terminate(f *Fault) {
	s.status, s.fault = f.Status, f
}

// Dump returns the contents of the state and frames as a string.
func (s *ExecutionState) Dump() string {
	var buf bytes.Buffer

	fmt.Fprintln(&buf, "EXECUTION STATE")
	fmt.Fprintln(&buf, "===============")
	fmt.Fprintf(&buf, "id=%d\n", s.id)
	fmt.Fprintf(&buf, "status=%s\n", s.status)
	fmt.Fprintf(&buf, "reason=%s\n", s.Reason())
	fmt.Fprintf(&buf, "steps=%d solver_calls=%d\n", s.steps, s.solverCalls)
	fmt.Fprintln(&buf, "")
	for i := len(s.stack) - 1; i >= 0; i-- {
		fmt.Fprintf(&buf, "== FRAME #%d\n", i)
		fmt.Fprintln(&buf, s.stack[i].Dump())
	}

	fmt.Fprintln(&buf, "== HEAP")
	fmt.Fprint(&buf, s.dumpHeap())
	fmt.Fprintln(&buf, "")

	if len(s.inputs) > 0 {
		fmt.Fprintln(&buf, "== INPUTS")
		for _, in := range s.inputs {
			fmt.Fprintf(&buf, "%s: %s\n", in.Name, in.Array)
		}
		fmt.Fprintln(&buf, "")
	}

	fmt.Fprintln(&buf, "== CONSTRAINTS")
	for i, expr := range s.constraints {
		fmt.Fprintf(&buf, "%d. %s\n", i, expr.String())
	}

	if s.ret != nil {
		fmt.Fprintln(&buf, "")
		fmt.Fprintln(&buf, "== RETURN")
		fmt.Fprint(&buf, dumpConfig.Sdump(s.ret))
	}
	return buf.String()
}

var dumpConfig = spew.ConfigState{
	Indent:                  "  ",
	DisablePointerAddresses: true,
	DisableCapacities:       true,
	DisableMethods:          false,
	SortKeys:                true,
}

func (s *ExecutionState) dumpHeap() string {
	var buf bytes.Buffer
	itr := s.heap.Iterator()
	for !itr.Done() {
		_, v := itr.Next()
		a := v.(*Allocation)
		fmt.Fprintf(&buf, "%s %s\n", a, a.Data)
		for upd := a.Data.Updates; upd != nil; upd = upd.Next {
			fmt.Fprintf(&buf, "  + UPD: I=%s; V=%s\n", upd.Index.String(), upd.Value.String())
		}
		pitr := a.Prov.Iterator()
		for !pitr.Done() {
			k, v := pitr.Next()
			fmt.Fprintf(&buf, "  + PROV: %d -> alloc%d\n", k.(uint64), v.(uint64))
		}
	}
	return buf.String()
}

// ExecutionStatus represents the current status of the execution state.
// The state will also include a fault if the status is not running.
type ExecutionStatus string

const (
	ExecutionStatusRunning      = ExecutionStatus("running")      // has future states
	ExecutionStatusFinished     = ExecutionStatus("finished")     // clean completion
	ExecutionStatusExited       = ExecutionStatus("exited")       // process exited
	ExecutionStatusFailed       = ExecutionStatus("failed")       // assertion failed
	ExecutionStatusPanicked     = ExecutionStatus("panicked")     // panic occurred
	ExecutionStatusUndefined    = ExecutionStatus("undefined")    // undefined behavior detected
	ExecutionStatusStuck        = ExecutionStatus("stuck")        // unsupported construct
	ExecutionStatusUndetermined = ExecutionStatus("undetermined") // resource limit reached
	ExecutionStatusPruned       = ExecutionStatus("pruned")       // infeasible path
)

// StackFrame represents the state of a call into a function.
type StackFrame struct {
	fn     *mir.Function
	locals []uint64 // allocation id per local

	block int
	stmt  int

	// Location in the caller that receives the return value, and the
	// caller's block to continue at. A nil target means the call diverges.
	dest   *Location
	target *int

	// Handle of the coroutine executing in this frame, or zero.
	coroutine uint64
}

// NewStackFrame returns a new instance of StackFrame for a given function.
func NewStackFrame(fn *mir.Function) *StackFrame {
	return &StackFrame{
		fn:     fn,
		locals: make([]uint64, len(fn.Body.Locals)),
	}
}

// Function returns the function executing in the frame.
func (f *StackFrame) Function() *mir.Function { return f.fn }

// Block returns the current basic block.
func (f *StackFrame) Block() *mir.Block {
	if f.block < 0 || f.block >= len(f.fn.Body.Blocks) {
		return nil
	}
	return f.fn.Body.Blocks[f.block]
}

// Statement returns the current statement, or nil at the terminator.
func (f *StackFrame) Statement() *mir.Statement {
	if blk := f.Block(); blk != nil && f.stmt < len(blk.Statements) {
		return blk.Statements[f.stmt]
	}
	return nil
}

// next moves to the next statement in the block.
func (f *StackFrame) next() {
	f.stmt++
}

// jump moves to the start of block dst.
func (f *StackFrame) jump(dst int) {
	f.block, f.stmt = dst, 0
}

// Clone returns a copy of the stack frame.
func (f *StackFrame) Clone() *StackFrame {
	other := *f
	other.locals = make([]uint64, len(f.locals))
	copy(other.locals, f.locals)
	return &other
}

// String returns the position of the frame.
func (f *StackFrame) String() string {
	return fmt.Sprintf("%s bb%d[%d]", f.fn.Name, f.block, f.stmt)
}

// Dump returns the contents of the frame as a string.
func (f *StackFrame) Dump() string {
	var buf bytes.Buffer

	fmt.Fprintf(&buf, "fn=%s block=%d stmt=%d\n", f.fn.Name, f.block, f.stmt)
	for i, id := range f.locals {
		name := f.fn.Body.Locals[i].Name
		fmt.Fprintf(&buf, "_%d %s -> alloc%d\n", i, name, id)
	}
	return buf.String()
}
