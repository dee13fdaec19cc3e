package mirv

import (
	"github.com/benbjohnson/mirv/mir"
)

// callSite represents the evaluated operands of a call terminator.
type callSite struct {
	fn     *mir.Function
	args   []Value
	types  []mir.TypeID
	dest   *Location
	target *int
}

// generic returns the i-th generic argument of the callee.
func (c *callSite) generic(i int) (mir.TypeID, error) {
	if i >= len(c.fn.Generics) {
		return 0, stuckFault("%s: missing generic argument %d", c.fn.Name, i)
	}
	return c.fn.Generics[i], nil
}

// scalarArg returns argument i as a scalar expression.
func (c *callSite) scalarArg(i int) (Expr, error) {
	if i >= len(c.args) {
		return nil, stuckFault("%s: missing argument %d", c.fn.Name, i)
	}
	sc, ok := c.args[i].(*Scalar)
	if !ok {
		return nil, stuckFault("%s: argument %d is not a scalar: %s", c.fn.Name, i, c.args[i])
	}
	return sc.X, nil
}

// pointerArg returns argument i as a pointer.
func (c *callSite) pointerArg(i int) (*Pointer, error) {
	if i >= len(c.args) {
		return nil, stuckFault("%s: missing argument %d", c.fn.Name, i)
	}
	return asPointer(c.args[i])
}

func (e *Executor) executeCall(s *ExecutionState, term *mir.Terminator) error {
	fn, err := e.callee(s, term.Func)
	if err != nil {
		return err
	}

	c := &callSite{fn: fn, target: term.Target}
	for _, op := range term.Args {
		v, ty, err := e.operand(s, op)
		if err != nil {
			return err
		}
		c.args = append(c.args, v)
		c.types = append(c.types, ty)
	}

	if term.Dest != nil {
		if c.dest, err = s.Place(term.Dest); err != nil {
			return err
		} else if err := s.checkDest(c.dest); err != nil {
			return err
		}
	}

	logf("call", "%s: call %s", s.Frame(), fn.Name)
	return e.dispatch(s, c)
}

// callee resolves the function named by a call operand.
func (e *Executor) callee(s *ExecutionState, op *mir.Operand) (*mir.Function, error) {
	v, ty, err := e.operand(s, op)
	if err != nil {
		return nil, err
	}

	switch t := e.prog.Type(ty); t.Kind {
	case mir.TypeFnDef:
		if fn := e.prog.Function(t.Fn); fn != nil {
			return fn, nil
		}
		return nil, stuckFault("call to unknown function %d", t.Fn)
	case mir.TypeFnPtr:
		p, err := asPointer(v)
		if err != nil {
			return nil, err
		}
		return s.fnOf(p)
	default:
		return nil, stuckFault("call through non-function type %s", t)
	}
}

// checkDest verifies that the destination of a call is writable so that
// storing the result cannot fail after the callee's frame is gone.
func (s *ExecutionState) checkDest(loc *Location) error {
	size, _, err := s.sizeOfVal(loc.Type, loc.Ptr)
	if err != nil {
		return err
	}
	_, err = s.checkAccess(loc.Ptr, size, loc.Align, true)
	return err
}

// dispatch routes a call to a virtual method, library model, intrinsic or
// function body.
func (e *Executor) dispatch(s *ExecutionState, c *callSite) error {
	if c.fn.Virtual != nil {
		fn, self, err := s.virtualMethod(c)
		if err != nil {
			return err
		}
		args := append([]Value{self}, c.args[1:]...)
		return e.dispatch(s, &callSite{fn: fn, args: args, types: c.types, dest: c.dest, target: c.target})
	}

	if model := lookupModel(c.fn.Name); model != nil {
		return model(e, s, c)
	} else if c.fn.Intrinsic != "" {
		return e.intrinsic(s, c)
	} else if c.fn.Body != nil {
		return e.invoke(s, c)
	}
	return stuckFault("call to %s without a body or model", c.fn.Name)
}

// virtualMethod resolves a trait object call through the vtable of the
// receiver. Returns the method and the receiver as a thin pointer.
func (s *ExecutionState) virtualMethod(c *callSite) (*mir.Function, Value, error) {
	p, err := c.pointerArg(0)
	if err != nil {
		return nil, nil, err
	}
	vt, ok := p.Vtable()
	if !ok {
		return nil, nil, stuckFault("virtual call to %s on receiver without vtable", c.fn.Name)
	}

	a := s.allocation(vt.Alloc)
	if a == nil || a.Kind != AllocationVtable {
		return nil, nil, ubFault(UBInvalidValue, "virtual call through invalid vtable %s", vt)
	}
	g := s.executor.prog.Alloc(a.Global)
	slot := *c.fn.Virtual
	if slot < 0 || slot >= len(g.Methods) {
		return nil, nil, ubFault(UBInvalidValue, "vtable slot %d out of range for %s", slot, c.fn.Name)
	}
	fn := s.executor.prog.Function(g.Methods[slot])
	if fn == nil {
		return nil, nil, stuckFault("vtable method %d not found", g.Methods[slot])
	}
	return fn, p.Thin(), nil
}

// invoke pushes a frame for the callee and binds its arguments.
func (e *Executor) invoke(s *ExecutionState, c *callSite) error {
	if e.config.MaxCallDepth > 0 && len(s.stack) >= e.config.MaxCallDepth {
		return undeterminedFault(ErrCallDepthLimit).WithDetailf("calling %s", c.fn.Name)
	}

	args := c.args
	if c.fn.RustCall && len(args) > 0 && len(args) != c.fn.Body.ArgCount {
		tuple, ok := args[len(args)-1].(*Aggregate)
		if !ok {
			return stuckFault("%s: rust-call argument is not a tuple", c.fn.Name)
		}
		args = append(append([]Value(nil), args[:len(args)-1]...), tuple.Fields...)
	}
	if len(args) != c.fn.Body.ArgCount {
		return stuckFault("%s expects %d arguments, got %d", c.fn.Name, c.fn.Body.ArgCount, len(args))
	}

	f, err := s.Push(c.fn)
	if err != nil {
		return err
	}
	f.dest, f.target = c.dest, c.target

	for i, v := range args {
		loc, err := s.localLocation(i + 1)
		if err != nil {
			return err
		} else if err := s.store(loc, v); err != nil {
			return err
		}
	}
	return nil
}

// executeReturn pops the current frame and writes the return value into the
// caller's destination. Returning from the entry function finishes the path.
func (e *Executor) executeReturn(s *ExecutionState) error {
	f := s.Frame()
	loc, err := s.localLocation(0)
	if err != nil {
		return err
	}
	v, err := s.load(loc)
	if err != nil {
		return err
	}

	if f.coroutine != 0 {
		return e.coroutineReturn(s, f, v)
	}

	if len(s.stack) == 1 {
		s.Pop()
		s.ret = v
		e.finish(s)
		return nil
	}

	if f.dest != nil {
		if err := s.checkDest(f.dest); err != nil {
			return err
		}
	}
	s.Pop()

	if f.target == nil {
		return ubFault(UBUnreachable, "%s returned from a diverging call", f.fn.Name)
	}
	if f.dest != nil {
		if err := s.store(f.dest, v); err != nil {
			return err
		}
	}
	s.Frame().jump(*f.target)
	return nil
}

// complete writes the result of a modeled call and continues at its target.
// A nil value stores nothing.
func (e *Executor) complete(s *ExecutionState, c *callSite, v Value) error {
	if c.target == nil {
		return ubFault(UBUnreachable, "%s returned from a diverging call", c.fn.Name)
	}
	if v != nil && c.dest != nil {
		if err := s.store(c.dest, v); err != nil {
			return err
		}
	}
	s.Frame().jump(*c.target)
	return nil
}
