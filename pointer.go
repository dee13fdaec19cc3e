package mirv

import (
	"github.com/benbjohnson/mirv/mir"
)

// pointerBinaryOp evaluates comparisons and offsets involving pointers.
// Comparisons use addresses, so pointers into distinct allocations are
// never equal even if the pointees hold the same bytes.
func (e *Executor) pointerBinaryOp(s *ExecutionState, op mir.BinOp, lv, rv Value, lty, rty mir.TypeID) (Value, error) {
	if op == mir.BinOffset {
		p, ok := lv.(*Pointer)
		sc, ok2 := rv.(*Scalar)
		if !ok || !ok2 {
			return nil, stuckFault("offset of %s by %s", lv, rv)
		}
		stride, err := e.pointeeStride(lty)
		if err != nil {
			return nil, err
		}
		return s.offset(p, sc.X, stride, e.prog.Type(rty).Kind == mir.TypeInt)
	}

	a, err := e.comparable(s, lv)
	if err != nil {
		return nil, err
	}
	b, err := e.comparable(s, rv)
	if err != nil {
		return nil, err
	}

	if op == mir.BinCmp {
		return NewScalar(threeWay(a, b, false)), nil
	}
	cmp, ok := compareOp(op, false)
	if !ok {
		return nil, stuckFault("unsupported pointer operation %q", op)
	}
	result := NewBinaryExpr(cmp, a, b)

	// Fat pointers compare their metadata too.
	lp, _ := lv.(*Pointer)
	rp, _ := rv.(*Pointer)
	if lp != nil && rp != nil && lp.Meta != nil && rp.Meta != nil && (op == mir.BinEq || op == mir.BinNe) {
		ma, err := e.comparable(s, lp.Meta)
		if err != nil {
			return nil, err
		}
		mb, err := e.comparable(s, rp.Meta)
		if err != nil {
			return nil, err
		}
		eq := NewAndExpr(NewBinaryExpr(EQ, a, b), NewBinaryExpr(EQ, ma, mb))
		if op == mir.BinEq {
			result = eq
		} else {
			result = NewNotExpr(eq)
		}
	}
	return NewScalar(result), nil
}

// comparable returns the numeric value of a pointer or pointer-sized scalar.
func (e *Executor) comparable(s *ExecutionState, v Value) (Expr, error) {
	switch v := v.(type) {
	case *Pointer:
		return s.pointerAddr(v)
	case *Scalar:
		return newZExtExpr(v.X, PointerWidth), nil
	default:
		return nil, stuckFault("comparison of %s", v)
	}
}

// pointeeStride returns the size of the type a pointer type points to.
func (e *Executor) pointeeStride(ty mir.TypeID) (uint64, error) {
	t := e.prog.Type(ty)
	if !t.IsPointer() {
		return 0, stuckFault("pointer arithmetic on %s", t)
	}
	l, err := e.layouts.Layout(t.Elem)
	if err != nil {
		return 0, err
	} else if l.Unsized {
		return 0, stuckFault("pointer arithmetic on pointer to unsized type")
	}
	return l.Size, nil
}

// offset advances p by count elements of the given size. The result must
// stay within the allocation or one past its end.
func (s *ExecutionState) offset(p *Pointer, count Expr, stride uint64, signed bool) (*Pointer, error) {
	count = NewCastExpr(count, PointerWidth, signed)
	delta, overflow := overflowMul(count, NewConstantExpr64(stride), true)
	result := p.WithOffset(NewBinaryExpr(ADD, p.Offset, delta))

	e := s.executor
	if err := e.require(s, NewNotExpr(overflow), ubFault(UBOutOfBoundsOffset, "offset of %s elements of size %d overflows", count, stride)); err != nil {
		return nil, err
	}

	if p.Alloc == 0 {
		if err := e.require(s, NewIsZeroExpr(delta), ubFault(UBOutOfBoundsOffset, "offset of pointer without provenance")); err != nil {
			return nil, err
		}
		return result, nil
	}

	a := s.allocation(p.Alloc)
	if a == nil || !a.Live {
		if err := e.require(s, NewIsZeroExpr(delta), ubFault(UBOutOfBoundsOffset, "offset of pointer into dead allocation %d", p.Alloc)); err != nil {
			return nil, err
		}
		return result, nil
	}

	// The signed offset must not wrap and must land in [0, size].
	_, wrapped := overflowAdd(p.Offset, delta, true)
	inBounds := NewAndExpr(NewNotExpr(wrapped), newUleExpr(result.Offset, NewConstantExpr64(a.Size)))
	if err := e.require(s, inBounds, ubFault(UBOutOfBoundsOffset, "offset %s out of bounds of alloc%d with size %d", result.Offset, a.ID, a.Size)); err != nil {
		return nil, err
	}
	return result, nil
}

// wrappingOffset advances p without any bounds requirement.
func (s *ExecutionState) wrappingOffset(p *Pointer, count Expr, stride uint64, signed bool) *Pointer {
	count = NewCastExpr(count, PointerWidth, signed)
	delta := NewBinaryExpr(MUL, count, NewConstantExpr64(stride))
	return p.WithOffset(NewBinaryExpr(ADD, p.Offset, delta))
}

// offsetFrom returns the distance from b to a in elements of the given size.
// Both pointers must derive from the same allocation and the distance must
// be a multiple of the size. The unsigned variant also requires a >= b.
func (s *ExecutionState) offsetFrom(a, b *Pointer, stride uint64, unsigned bool) (Expr, error) {
	e := s.executor
	if stride == 0 {
		return nil, panicFault("offset_from on zero-sized type")
	}

	if a.Alloc != b.Alloc {
		return nil, ubFault(UBCrossAllocationOffset, "offset_from between alloc%d and alloc%d", a.Alloc, b.Alloc)
	} else if a.Alloc == 0 {
		if err := e.require(s, NewBinaryExpr(EQ, a.Offset, b.Offset), ubFault(UBCrossAllocationOffset, "offset_from between pointers without provenance")); err != nil {
			return nil, err
		}
	}

	diff := NewBinaryExpr(SUB, a.Offset, b.Offset)
	if unsigned {
		if err := e.require(s, newUleExpr(b.Offset, a.Offset), ubFault(UBCrossAllocationOffset, "offset_from_unsigned with origin after pointer")); err != nil {
			return nil, err
		}
	}

	size := NewConstantExpr64(stride)
	if err := e.require(s, NewIsZeroExpr(NewBinaryExpr(SREM, diff, size)), ubFault(UBInexactDivision, "distance %s is not a multiple of %d", diff, stride)); err != nil {
		return nil, err
	}
	if unsigned {
		return NewBinaryExpr(UDIV, diff, size), nil
	}
	return NewBinaryExpr(SDIV, diff, size), nil
}
