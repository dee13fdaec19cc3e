package mirv

import (
	"github.com/benbjohnson/mirv/mir"
)

// Variants of the value produced by resuming a coroutine.
const (
	coroutineYielded  = 0
	coroutineComplete = 1
)

// coroutine represents a resumable function body. Between resumptions the
// frame is kept off the stack with its locals still allocated.
type coroutine struct {
	fn     *mir.Function
	upvars Value

	// Suspended frame and where the next resume argument is written.
	// Frame is nil before the first resume and while running.
	frame        *StackFrame
	resumePlace  *mir.Place
	resumeTarget int

	running bool
	done    bool
}

func (co *coroutine) clone() *coroutine {
	other := *co
	return &other
}

// newCoroutine registers a coroutine and returns its handle.
func (s *ExecutionState) newCoroutine(fn *mir.Function, upvars Value) uint64 {
	s.coroutineSeq++
	s.coroutines = s.coroutines.Set(s.coroutineSeq, &coroutine{fn: fn, upvars: upvars})
	logf("call", "new coroutine %d for %s", s.coroutineSeq, fn.Name)
	return s.coroutineSeq
}

func (s *ExecutionState) coroutine(handle uint64) *coroutine {
	if v, ok := s.coroutines.Get(handle); ok {
		return v.(*coroutine)
	}
	return nil
}

func (s *ExecutionState) setCoroutine(handle uint64, co *coroutine) {
	s.coroutines = s.coroutines.Set(handle, co)
}

// coroutineHandle reads the handle stored at the coroutine a pointer refers to.
func (e *Executor) coroutineHandle(s *ExecutionState, c *callSite) (uint64, error) {
	p, err := c.pointerArg(0)
	if err != nil {
		return 0, err
	}
	ty, err := e.pointeeType(c.types[0])
	if err != nil {
		return 0, err
	}
	loc, err := s.pointee(p, ty)
	if err != nil {
		return 0, err
	}
	v, err := s.load(loc)
	if err != nil {
		return 0, err
	}
	sc, ok := v.(*Scalar)
	if !ok {
		return 0, stuckFault("coroutine handle is not a scalar: %s", v)
	}
	h, ok := sc.X.(*ConstantExpr)
	if !ok || !h.IsUint64() {
		return 0, stuckFault("symbolic coroutine handle %s", sc.X)
	}
	return h.Uint64(), nil
}

// resumeCoroutine continues a coroutine until it yields or returns. The
// coroutine body receives its upvars in _1 and the resume argument in _2.
func (e *Executor) resumeCoroutine(s *ExecutionState, c *callSite) error {
	handle, err := e.coroutineHandle(s, c)
	if err != nil {
		return err
	}
	co := s.coroutine(handle)
	switch {
	case co == nil:
		return ubFault(UBInvalidValue, "resume of unknown coroutine %d", handle)
	case co.done:
		return panicFault("coroutine resumed after completion")
	case co.running:
		return panicFault("coroutine resumed while running")
	}
	if e.config.MaxCallDepth > 0 && len(s.stack) >= e.config.MaxCallDepth {
		return undeterminedFault(ErrCallDepthLimit).WithDetailf("resuming %s", co.fn.Name)
	}

	var arg Value = NewAggregate()
	if len(c.args) > 1 {
		arg = c.args[1]
	}

	co = co.clone()
	co.running = true

	var f *StackFrame
	if co.frame == nil {
		if f, err = s.Push(co.fn); err != nil {
			return err
		}
		if err := e.bindCoroutineArg(s, 1, co.upvars); err != nil {
			return err
		}
		if err := e.bindCoroutineArg(s, 2, arg); err != nil {
			return err
		}
	} else {
		f = co.frame.Clone()
		s.stack = append(s.stack, f)
		if co.resumePlace != nil {
			loc, err := s.Place(co.resumePlace)
			if err != nil {
				return err
			} else if err := s.store(loc, arg); err != nil {
				return err
			}
		}
		f.jump(co.resumeTarget)
	}
	f.dest, f.target, f.coroutine = c.dest, c.target, handle

	co.frame, co.resumePlace = nil, nil
	s.setCoroutine(handle, co)
	return nil
}

// bindCoroutineArg stores v into local i if the coroutine body declares it.
func (e *Executor) bindCoroutineArg(s *ExecutionState, i int, v Value) error {
	if i > s.Frame().fn.Body.ArgCount {
		return nil
	}
	loc, err := s.localLocation(i)
	if err != nil {
		return err
	}
	return s.store(loc, v)
}

// executeYield suspends the running coroutine and hands the yielded value
// to the resumer.
func (e *Executor) executeYield(s *ExecutionState, term *mir.Terminator) error {
	f := s.Frame()
	if f.coroutine == 0 {
		return stuckFault("yield outside of a coroutine in %s", f.fn.Name)
	}
	v, _, err := e.operand(s, term.Value)
	if err != nil {
		return err
	}
	if f.dest != nil {
		if err := s.checkDest(f.dest); err != nil {
			return err
		}
	}

	s.suspend()
	co := s.coroutine(f.coroutine).clone()
	co.frame, co.resumePlace, co.resumeTarget = f, term.ResumeArg, *term.Target
	co.running = false
	s.setCoroutine(f.coroutine, co)
	logf("call", "coroutine %d yields %s", f.coroutine, v)

	return e.resumed(s, f, NewVariant(coroutineYielded, v))
}

// coroutineReturn completes the running coroutine.
func (e *Executor) coroutineReturn(s *ExecutionState, f *StackFrame, v Value) error {
	if f.dest != nil {
		if err := s.checkDest(f.dest); err != nil {
			return err
		}
	}

	s.Pop()
	co := s.coroutine(f.coroutine).clone()
	co.running, co.done = false, true
	s.setCoroutine(f.coroutine, co)
	logf("call", "coroutine %d complete", f.coroutine)

	return e.resumed(s, f, NewVariant(coroutineComplete, v))
}

// resumed returns control to the frame that resumed the coroutine.
func (e *Executor) resumed(s *ExecutionState, f *StackFrame, v Value) error {
	if f.target == nil {
		return ubFault(UBUnreachable, "resume of %s returned to a diverging call", f.fn.Name)
	}
	if f.dest != nil {
		if err := s.store(f.dest, v); err != nil {
			return err
		}
	}
	s.Frame().jump(*f.target)
	return nil
}

// dropCoroutine frees the locals of a suspended coroutine.
func (s *ExecutionState) dropCoroutine(handle uint64) {
	co := s.coroutine(handle)
	if co == nil || co.frame == nil {
		return
	}
	for _, id := range co.frame.locals {
		s.free(id)
	}
	co = co.clone()
	co.frame, co.done = nil, true
	s.setCoroutine(handle, co)
}
