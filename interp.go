package mirv

import (
	"github.com/benbjohnson/mirv/mir"
)

func (e *Executor) executeStatement(s *ExecutionState, stmt *mir.Statement) error {
	switch stmt.Kind {
	case mir.StatementAssign:
		return e.executeAssign(s, stmt)
	case mir.StatementStorageLive:
		return e.executeStorageLive(s, stmt)
	case mir.StatementStorageDead:
		f := s.Frame()
		if stmt.Local < 0 || stmt.Local >= len(f.locals) {
			return stuckFault("storage_dead of invalid local _%d", stmt.Local)
		}
		s.free(f.locals[stmt.Local])
		return nil
	case mir.StatementSetDiscriminant:
		loc, err := s.Place(stmt.Place)
		if err != nil {
			return err
		}
		return s.setVariant(loc, stmt.Variant)
	case mir.StatementAssume:
		cond, err := e.boolOperand(s, stmt.Operand)
		if err != nil {
			return err
		}
		return e.assume(s, cond)
	case mir.StatementCopyNonOverlapping:
		return e.executeCopyNonOverlapping(s, stmt)
	case mir.StatementNop:
		return nil
	default:
		return stuckFault("unsupported statement %q", stmt.Kind)
	}
}

func (e *Executor) executeAssign(s *ExecutionState, stmt *mir.Statement) error {
	loc, err := s.Place(stmt.Place)
	if err != nil {
		return err
	}
	v, err := e.rvalue(s, stmt.Rvalue, loc.Type)
	if err != nil {
		return err
	}
	return s.store(loc, v)
}

// executeStorageLive gives the local a fresh allocation. A local that is
// already live loses its previous allocation.
func (e *Executor) executeStorageLive(s *ExecutionState, stmt *mir.Statement) error {
	f := s.Frame()
	if stmt.Local < 0 || stmt.Local >= len(f.locals) {
		return stuckFault("storage_live of invalid local _%d", stmt.Local)
	}
	id, err := s.allocateLocal(f.fn, stmt.Local)
	if err != nil {
		return err
	}
	s.free(f.locals[stmt.Local])
	f.locals[stmt.Local] = id
	return nil
}

func (e *Executor) executeCopyNonOverlapping(s *ExecutionState, stmt *mir.Statement) error {
	src, srcType, err := e.pointerOperand(s, stmt.Src)
	if err != nil {
		return err
	}
	dst, _, err := e.pointerOperand(s, stmt.Dst)
	if err != nil {
		return err
	}
	count, err := e.scalarOperand(s, stmt.Count)
	if err != nil {
		return err
	}
	elem, err := e.pointeeLayout(srcType)
	if err != nil {
		return err
	}
	return s.copyMemory(src, dst, count, elem.Size, elem.Align, true)
}

// copyMemory copies count elements of the given size from src to dst.
func (s *ExecutionState) copyMemory(src, dst *Pointer, count Expr, stride, align uint64, nonoverlapping bool) error {
	c, ok := count.(*ConstantExpr)
	if !ok {
		return stuckFault("copy of symbolic length %s", count)
	} else if !c.IsUint64() || (stride > 0 && c.Uint64() > (1<<40)/stride) {
		return ubFault(UBOutOfBoundsAccess, "copy of %s elements of size %d", c, stride)
	}
	n := c.Uint64() * stride

	if nonoverlapping && n > 0 && src.Alloc == dst.Alloc && src.Alloc != 0 {
		size := NewConstantExpr64(n)
		overlap := NewAndExpr(
			newUltExpr(src.Offset, NewBinaryExpr(ADD, dst.Offset, size)),
			newUltExpr(dst.Offset, NewBinaryExpr(ADD, src.Offset, size)),
		)
		if err := s.executor.require(s, NewNotExpr(overlap), ubFault(UBOutOfBoundsAccess, "copy_nonoverlapping of overlapping ranges")); err != nil {
			return err
		}
	}

	if _, err := s.checkAccess(dst, n, align, true); err != nil {
		return err
	}
	b, err := s.loadBytes(src, n, align)
	if err != nil {
		return err
	}
	return s.storeBytes(dst, b, align)
}

// fillMemory writes count copies of the byte v starting at dst.
func (s *ExecutionState) fillMemory(dst *Pointer, v Expr, count Expr, stride, align uint64) error {
	c, ok := count.(*ConstantExpr)
	if !ok {
		return stuckFault("write_bytes of symbolic length %s", count)
	} else if !c.IsUint64() || (stride > 0 && c.Uint64() > (1<<40)/stride) {
		return ubFault(UBOutOfBoundsAccess, "write_bytes of %s elements of size %d", c, stride)
	}
	b := newBytes(c.Uint64() * stride)
	for i := range b.Data {
		b.Data[i] = v
	}
	return s.storeBytes(dst, b, align)
}

// rvalue evaluates an rvalue. The destination type is used by rvalues whose
// result width depends on where the value is stored.
func (e *Executor) rvalue(s *ExecutionState, rv *mir.Rvalue, destType mir.TypeID) (Value, error) {
	switch rv.Kind {
	case mir.RvalueUse:
		v, _, err := e.operand(s, rv.Operand)
		return v, err

	case mir.RvalueCopyForDeref:
		loc, err := s.Place(rv.Place)
		if err != nil {
			return nil, err
		}
		return s.load(loc)

	case mir.RvalueBinary:
		lv, lty, err := e.operand(s, rv.LHS)
		if err != nil {
			return nil, err
		}
		rhs, rty, err := e.operand(s, rv.RHS)
		if err != nil {
			return nil, err
		}
		return e.binaryOp(s, mir.BinOp(rv.Op), lv, rhs, lty, rty)

	case mir.RvalueCheckedBinary:
		lv, lty, err := e.operand(s, rv.LHS)
		if err != nil {
			return nil, err
		}
		rhs, _, err := e.operand(s, rv.RHS)
		if err != nil {
			return nil, err
		}
		return e.checkedBinaryOp(s, mir.BinOp(rv.Op), lv, rhs, lty)

	case mir.RvalueUnary:
		v, ty, err := e.operand(s, rv.Operand)
		if err != nil {
			return nil, err
		}
		return e.unaryOp(s, mir.UnOp(rv.Op), v, ty)

	case mir.RvalueCast:
		v, from, err := e.operand(s, rv.Operand)
		if err != nil {
			return nil, err
		}
		to := rv.Type
		if to == 0 {
			to = destType
		}
		return e.castOp(s, rv.Cast, v, from, to, rv.Vtable)

	case mir.RvalueRef, mir.RvalueAddressOf:
		loc, err := s.Place(rv.Place)
		if err != nil {
			return nil, err
		}
		p := *loc.Ptr
		return &p, nil

	case mir.RvalueAggregate:
		return e.aggregate(s, rv, destType)

	case mir.RvalueDiscriminant:
		loc, err := s.Place(rv.Place)
		if err != nil {
			return nil, err
		}
		return e.discriminant(s, loc, destType)

	case mir.RvalueLen:
		loc, err := s.Place(rv.Place)
		if err != nil {
			return nil, err
		}
		_, _, n, err := s.elemInfo(loc)
		if err != nil {
			return nil, err
		}
		return NewScalar(n), nil

	case mir.RvalueRepeat:
		v, _, err := e.operand(s, rv.Operand)
		if err != nil {
			return nil, err
		}
		fields := make([]Value, rv.Count)
		for i := range fields {
			fields[i] = v
		}
		return NewAggregate(fields...), nil

	case mir.RvalueNullary:
		return e.nullaryOp(mir.NullOp(rv.Op), rv.Type)

	case mir.RvalueShallowInitBox:
		v, _, err := e.operand(s, rv.Operand)
		if err != nil {
			return nil, err
		}
		p, ok := v.(*Pointer)
		if !ok {
			return nil, stuckFault("shallow_init_box of non-pointer %s", v)
		}
		return p.Thin(), nil

	default:
		return nil, stuckFault("unsupported rvalue %q", rv.Kind)
	}
}

func (e *Executor) nullaryOp(op mir.NullOp, ty mir.TypeID) (Value, error) {
	switch op {
	case mir.NullSizeOf, mir.NullAlignOf:
		l, err := e.layouts.Layout(ty)
		if err != nil {
			return nil, err
		} else if l.Unsized {
			return nil, stuckFault("%s of unsized type", op)
		}
		if op == mir.NullSizeOf {
			return NewIntScalar(l.Size, PointerWidth), nil
		}
		return NewIntScalar(l.Align, PointerWidth), nil
	case mir.NullUbCheck:
		// Precondition checks are redundant with the engine's own detection.
		return NewBoolScalar(false), nil
	default:
		return nil, stuckFault("unsupported nullary operation %q", op)
	}
}

// aggregate builds the value of an aggregate rvalue.
func (e *Executor) aggregate(s *ExecutionState, rv *mir.Rvalue, destType mir.TypeID) (Value, error) {
	values := make([]Value, len(rv.Operands))
	for i, op := range rv.Operands {
		v, _, err := e.operand(s, op)
		if err != nil {
			return nil, err
		}
		values[i] = v
	}

	ty := rv.Type
	if ty == 0 {
		ty = destType
	}
	t := e.prog.Type(ty)
	if t == nil {
		return nil, stuckFault("aggregate of unknown type %d", ty)
	}

	switch rv.Aggregate {
	case mir.AggregateArray, mir.AggregateTuple, mir.AggregateClosure:
		return NewAggregate(values...), nil

	case mir.AggregateAdt:
		switch t.Kind {
		case mir.TypeEnum:
			return NewVariant(rv.Variant, values...), nil
		case mir.TypeUnion:
			return e.unionValue(s, rv, t, ty, values)
		default:
			return NewAggregate(values...), nil
		}

	case mir.AggregateCoroutine:
		fn := e.prog.Function(t.Fn)
		if fn == nil {
			return nil, stuckFault("coroutine with unknown body %d", t.Fn)
		}
		return NewScalar(NewConstantExpr64(s.newCoroutine(fn, NewAggregate(values...)))), nil

	case mir.AggregateRawPtr:
		if len(values) != 2 {
			return nil, stuckFault("raw pointer aggregate with %d operands", len(values))
		}
		p, ok := values[0].(*Pointer)
		if !ok {
			return nil, stuckFault("raw pointer aggregate of %s", values[0])
		}
		other := p.Thin()
		if meta, ok := values[1].(*Aggregate); !ok || len(meta.Fields) > 0 {
			other.Meta = values[1]
		}
		return other, nil

	default:
		return nil, stuckFault("unsupported aggregate kind %q", rv.Aggregate)
	}
}

// unionValue encodes the single active field of a union.
func (e *Executor) unionValue(s *ExecutionState, rv *mir.Rvalue, t *mir.Type, ty mir.TypeID, values []Value) (Value, error) {
	if rv.Field == nil || *rv.Field < 0 || *rv.Field >= len(t.Fields) || len(values) != 1 {
		return nil, stuckFault("invalid union aggregate for %s", t)
	}
	l, err := e.layouts.Layout(ty)
	if err != nil {
		return nil, err
	}
	ft := t.Fields[*rv.Field]
	fl, err := e.layouts.Layout(ft)
	if err != nil {
		return nil, err
	}
	b := newBytes(l.Size)
	if err := s.encodeAt(b, 0, values[0], ft, fl); err != nil {
		return nil, err
	}
	return b, nil
}

// discriminant reads the discriminant of the value at loc as a scalar of
// the destination type.
func (e *Executor) discriminant(s *ExecutionState, loc *Location, destType mir.TypeID) (Value, error) {
	w := uint(Width64)
	if dt := e.prog.Type(destType); dt != nil && dt.IsInteger() {
		w = dt.IntBits()
	}

	t := e.prog.Type(loc.Type)
	if t.Kind != mir.TypeEnum {
		return NewScalar(NewConstantExpr(0, w)), nil
	}

	l, err := e.layouts.Layout(loc.Type)
	if err != nil {
		return nil, err
	} else if len(t.Variants) == 0 {
		return nil, ubFault(UBInvalidValue, "discriminant of uninhabited enum %s", t)
	}
	b, err := s.loadBytes(loc.Ptr, l.Size, loc.Align)
	if err != nil {
		return nil, err
	}
	variant, err := s.readVariant(b, 0, t, l)
	if err != nil {
		return nil, err
	}
	return NewScalar(NewSignedConstantExpr(t.Discriminants()[variant], w)), nil
}

// operand evaluates an operand and returns its value and type.
func (e *Executor) operand(s *ExecutionState, op *mir.Operand) (Value, mir.TypeID, error) {
	if op == nil {
		return nil, 0, stuckFault("missing operand")
	}

	switch op.Kind {
	case mir.OperandCopy, mir.OperandMove:
		loc, err := s.Place(op.Place)
		if err != nil {
			return nil, 0, err
		}
		v, err := s.load(loc)
		return v, loc.Type, err
	case mir.OperandConst:
		v, err := s.Materialize(op.Const)
		return v, op.Const.Type, err
	default:
		return nil, 0, stuckFault("unsupported operand %q", op.Kind)
	}
}

func (e *Executor) scalarOperand(s *ExecutionState, op *mir.Operand) (Expr, error) {
	v, _, err := e.operand(s, op)
	if err != nil {
		return nil, err
	}
	sc, ok := v.(*Scalar)
	if !ok {
		return nil, stuckFault("expected scalar operand, got %s", v)
	}
	return sc.X, nil
}

func (e *Executor) boolOperand(s *ExecutionState, op *mir.Operand) (Expr, error) {
	x, err := e.scalarOperand(s, op)
	if err != nil {
		return nil, err
	}
	return boolExpr(x), nil
}

func (e *Executor) pointerOperand(s *ExecutionState, op *mir.Operand) (*Pointer, mir.TypeID, error) {
	v, ty, err := e.operand(s, op)
	if err != nil {
		return nil, 0, err
	}
	p, err := asPointer(v)
	return p, ty, err
}

// asPointer returns v as a pointer, unwrapping single-field wrappers.
func asPointer(v Value) (*Pointer, error) {
	for depth := 0; depth < 8; depth++ {
		switch x := v.(type) {
		case *Pointer:
			return x, nil
		case *Aggregate:
			if len(x.Fields) == 0 {
				return nil, stuckFault("expected pointer, got %s", v)
			}
			v = x.Fields[0]
		default:
			return nil, stuckFault("expected pointer, got %s", v)
		}
	}
	return nil, stuckFault("expected pointer, got nested wrapper %s", v)
}

// boolExpr converts a scalar to a 1-bit condition.
func boolExpr(x Expr) Expr {
	if ExprWidth(x) == WidthBool {
		return x
	}
	return NewNotExpr(NewIsZeroExpr(x))
}

// pointeeLayout returns the layout of the type a pointer type points to,
// looking through single-field wrappers.
func (e *Executor) pointeeLayout(ty mir.TypeID) (*Layout, error) {
	elem, err := e.pointeeType(ty)
	if err != nil {
		return nil, err
	}
	return e.layouts.Layout(elem)
}

func (e *Executor) pointeeType(ty mir.TypeID) (mir.TypeID, error) {
	for depth := 0; depth < 8; depth++ {
		t := e.prog.Type(ty)
		switch {
		case t == nil:
			return 0, stuckFault("unknown type %d", ty)
		case t.IsPointer() && t.Kind != mir.TypeFnPtr:
			return t.Elem, nil
		case (t.Kind == mir.TypeStruct || t.Kind == mir.TypeTuple) && len(t.Fields) > 0:
			ty = t.Fields[0]
		default:
			return 0, stuckFault("expected pointer type, got %s", t)
		}
	}
	return 0, stuckFault("pointer type nested too deeply")
}

func (e *Executor) executeTerminator(s *ExecutionState, term *mir.Terminator) error {
	f := s.Frame()

	switch term.Kind {
	case mir.TerminatorGoto:
		f.jump(*term.Target)
		return nil

	case mir.TerminatorSwitchInt:
		discr, err := e.scalarOperand(s, term.Discr)
		if err != nil {
			return err
		}
		return e.switchInt(s, discr, term)

	case mir.TerminatorReturn:
		return e.executeReturn(s)

	case mir.TerminatorUnreachable:
		return ubFault(UBUnreachable, "entered unreachable code in %s", f.fn.Name)

	case mir.TerminatorDrop:
		return e.executeDrop(s, term)

	case mir.TerminatorCall:
		return e.executeCall(s, term)

	case mir.TerminatorAssert:
		cond, err := e.boolOperand(s, term.Cond)
		if err != nil {
			return err
		}
		if !term.Expected {
			cond = NewNotExpr(cond)
		}
		msg := term.Msg
		if msg == "" {
			msg = "assertion in " + f.fn.Name
		}
		if err := e.require(s, cond, panicFault(msg)); err != nil {
			return err
		}
		f.jump(*term.Target)
		return nil

	case mir.TerminatorAbort:
		return panicFault("aborted")

	case mir.TerminatorResume:
		return stuckFault("unwinding is not supported")

	case mir.TerminatorYield:
		return e.executeYield(s, term)

	default:
		return stuckFault("unsupported terminator %q", term.Kind)
	}
}

// executeDrop frees the allocation owned by a Box. Other drops have no
// effect on memory.
func (e *Executor) executeDrop(s *ExecutionState, term *mir.Terminator) error {
	loc, err := s.Place(term.Place)
	if err != nil {
		return err
	}

	switch t := e.prog.Type(loc.Type); t.Kind {
	case mir.TypeBox:
		v, err := s.load(loc)
		if err != nil {
			return err
		}
		p, err := asPointer(v)
		if err != nil {
			return err
		}
		if err := s.deallocate(p); err != nil {
			return err
		}
	case mir.TypeCoroutine:
		v, err := s.load(loc)
		if err != nil {
			return err
		}
		if h, ok := v.(*Scalar).Constant(); ok && h.IsUint64() {
			s.dropCoroutine(h.Uint64())
		}
	}

	s.Frame().jump(*term.Target)
	return nil
}

// deallocate frees the heap allocation p points to.
func (s *ExecutionState) deallocate(p *Pointer) error {
	a := s.allocation(p.Alloc)
	if a == nil || a.Kind != AllocationHeap {
		return ubFault(UBDanglingPointer, "deallocation of non-heap pointer %s", p)
	} else if !a.Live {
		return ubFault(UBUseAfterFree, "double free of alloc%d", a.ID)
	} else if c, ok := p.Offset.(*ConstantExpr); !ok || !c.IsZero() {
		return ubFault(UBDanglingPointer, "deallocation of interior pointer %s", p)
	}
	s.free(a.ID)
	return nil
}
