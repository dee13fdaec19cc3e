package mirv

import (
	"math"

	"github.com/benbjohnson/mirv/mir"
)

// ArithMode selects how integer overflow is handled.
type ArithMode int

const (
	// ArithWrapping truncates the result to the operand width.
	ArithWrapping ArithMode = iota

	// ArithChecked returns an overflow flag alongside the wrapped result.
	ArithChecked

	// ArithSaturating clamps the result to the representable range.
	ArithSaturating

	// ArithUnchecked treats overflow as undefined behavior.
	ArithUnchecked
)

// signBit returns the most significant bit of x.
func signBit(x Expr) Expr {
	w := ExprWidth(x)
	return NewExtractExpr(x, w-1, WidthBool)
}

// minValue returns the smallest value of an integer of width w.
func minValue(w uint, signed bool) *ConstantExpr {
	if !signed {
		return NewConstantExpr(0, w)
	}
	return NewConstantExpr(1, w).Shl(NewConstantExpr(uint64(w-1), w))
}

// maxValue returns the largest value of an integer of width w.
func maxValue(w uint, signed bool) *ConstantExpr {
	all := NewConstantExpr(0, w).Not()
	if !signed {
		return all
	}
	return all.LShr(NewConstantExpr(1, w))
}

// overflowAdd returns a+b and whether the sum overflows.
func overflowAdd(a, b Expr, signed bool) (result, overflow Expr) {
	result = NewBinaryExpr(ADD, a, b)
	if !signed {
		return result, newUltExpr(result, a)
	}
	sameSign := NewBinaryExpr(EQ, signBit(a), signBit(b))
	return result, NewAndExpr(sameSign, NewBinaryExpr(NE, signBit(result), signBit(a)))
}

// overflowSub returns a-b and whether the difference overflows.
func overflowSub(a, b Expr, signed bool) (result, overflow Expr) {
	result = NewBinaryExpr(SUB, a, b)
	if !signed {
		return result, newUltExpr(a, b)
	}
	diffSign := NewBinaryExpr(NE, signBit(a), signBit(b))
	return result, NewAndExpr(diffSign, NewBinaryExpr(NE, signBit(result), signBit(a)))
}

// overflowMul returns a*b and whether the product overflows. The product is
// computed at double width and compared against its truncation.
func overflowMul(a, b Expr, signed bool) (result, overflow Expr) {
	w := ExprWidth(a)
	wide := NewBinaryExpr(MUL, NewCastExpr(a, 2*w, signed), NewCastExpr(b, 2*w, signed))
	result = NewExtractExpr(wide, 0, w)
	return result, NewBinaryExpr(NE, NewCastExpr(result, 2*w, signed), wide)
}

// overflowNeg returns -a and whether the negation overflows.
func overflowNeg(a Expr, signed bool) (result, overflow Expr) {
	w := ExprWidth(a)
	result = NewBinaryExpr(SUB, NewConstantExpr(0, w), a)
	if !signed {
		return result, NewNotExpr(NewIsZeroExpr(a))
	}
	return result, NewBinaryExpr(EQ, a, minValue(w, true))
}

// shiftAmount converts a shift amount of any width to the width of the
// shifted operand, returning whether it was in range.
func shiftAmount(amt Expr, w uint) (Expr, Expr) {
	aw := ExprWidth(amt)
	inRange := newUltExpr(newZExtExpr(amt, maxUint(aw, Width64)), NewConstantExpr(uint64(w), maxUint(aw, Width64)))
	masked := NewBinaryExpr(AND, newZExtExpr(amt, maxUint(aw, w)), NewConstantExpr(uint64(w-1), maxUint(aw, w)))
	return newZExtExpr(masked, w), inRange
}

func maxUint(a, b uint) uint {
	if a > b {
		return a
	}
	return b
}

// shift returns a shifted left or right by amt, with amt masked to the width.
func shift(a, amt Expr, left, signed bool) (result, overflow Expr) {
	masked, inRange := shiftAmount(amt, ExprWidth(a))
	switch {
	case left:
		result = NewBinaryExpr(SHL, a, masked)
	case signed:
		result = NewBinaryExpr(ASHR, a, masked)
	default:
		result = NewBinaryExpr(LSHR, a, masked)
	}
	return result, NewNotExpr(inRange)
}

// saturate returns the clamped result of an overflowing add or sub.
func saturate(result, overflow, a Expr, add, signed bool) Expr {
	w := ExprWidth(result)
	if !signed {
		if add {
			return NewIteExpr(overflow, maxValue(w, false), result)
		}
		return NewIteExpr(overflow, minValue(w, false), result)
	}
	// Signed overflow goes toward the sign of a.
	clamp := NewIteExpr(signBit(a), minValue(w, true), maxValue(w, true))
	return NewIteExpr(overflow, clamp, result)
}

// intArith applies an add, sub or mul under the given overflow mode.
func (e *Executor) intArith(s *ExecutionState, op mir.BinOp, a, b Expr, signed bool, mode ArithMode) (result, overflow Expr, err error) {
	switch op {
	case mir.BinAdd:
		result, overflow = overflowAdd(a, b, signed)
	case mir.BinSub:
		result, overflow = overflowSub(a, b, signed)
	case mir.BinMul:
		result, overflow = overflowMul(a, b, signed)
	default:
		return nil, nil, stuckFault("unsupported overflow operation %q", op)
	}

	switch mode {
	case ArithSaturating:
		if op == mir.BinMul {
			w := ExprWidth(a)
			clamp := Expr(maxValue(w, signed))
			if signed {
				neg := NewBinaryExpr(NE, signBit(a), signBit(b))
				clamp = NewIteExpr(neg, minValue(w, true), maxValue(w, true))
			}
			return NewIteExpr(overflow, clamp, result), overflow, nil
		}
		return saturate(result, overflow, a, op == mir.BinAdd, signed), overflow, nil
	case ArithUnchecked:
		if err := e.require(s, NewNotExpr(overflow), ubFault(UBArithmeticOverflow, "overflow in unchecked %s", op)); err != nil {
			return nil, nil, err
		}
	}
	return result, overflow, nil
}

// intDivRem divides a by b. Division by zero and signed MIN / -1 are
// undefined behavior.
func (e *Executor) intDivRem(s *ExecutionState, op mir.BinOp, a, b Expr, signed bool) (Expr, error) {
	w := ExprWidth(a)
	if err := e.require(s, NewNotExpr(NewIsZeroExpr(b)), ubFault(UBDivisionByZero, "%s by zero", op)); err != nil {
		return nil, err
	}
	if signed {
		overflow := NewAndExpr(
			NewBinaryExpr(EQ, a, minValue(w, true)),
			NewBinaryExpr(EQ, b, NewConstantExpr(0, w).Not()),
		)
		if err := e.require(s, NewNotExpr(overflow), ubFault(UBArithmeticOverflow, "overflow in signed %s", op)); err != nil {
			return nil, err
		}
	}

	switch {
	case op == mir.BinDiv && signed:
		return NewBinaryExpr(SDIV, a, b), nil
	case op == mir.BinDiv:
		return NewBinaryExpr(UDIV, a, b), nil
	case signed:
		return NewBinaryExpr(SREM, a, b), nil
	default:
		return NewBinaryExpr(UREM, a, b), nil
	}
}

// compareOp returns the comparison operator for a MIR comparison.
func compareOp(op mir.BinOp, signed bool) (BinaryOp, bool) {
	switch op {
	case mir.BinEq:
		return EQ, true
	case mir.BinNe:
		return NE, true
	case mir.BinLt:
		if signed {
			return SLT, true
		}
		return ULT, true
	case mir.BinLe:
		if signed {
			return SLE, true
		}
		return ULE, true
	case mir.BinGt:
		if signed {
			return SGT, true
		}
		return UGT, true
	case mir.BinGe:
		if signed {
			return SGE, true
		}
		return UGE, true
	}
	return 0, false
}

// threeWay returns -1, 0 or 1 as an 8-bit value.
func threeWay(a, b Expr, signed bool) Expr {
	lt := ULT
	if signed {
		lt = SLT
	}
	return NewIteExpr(NewBinaryExpr(lt, a, b), NewSignedConstantExpr(-1, Width8),
		NewIteExpr(NewBinaryExpr(EQ, a, b), NewConstantExpr8(0), NewConstantExpr8(1)))
}

// scalarInfo returns the width class of a scalar type.
func (e *Executor) scalarInfo(ty mir.TypeID) (t *mir.Type, signed, float bool) {
	t = e.prog.Type(ty)
	return t, t.Kind == mir.TypeInt, t.Kind == mir.TypeFloat
}

// binaryOp evaluates a MIR binary operation on two operand values.
func (e *Executor) binaryOp(s *ExecutionState, op mir.BinOp, lv, rv Value, lty, rty mir.TypeID) (Value, error) {
	if _, ok := lv.(*Pointer); ok {
		return e.pointerBinaryOp(s, op, lv, rv, lty, rty)
	} else if _, ok := rv.(*Pointer); ok {
		return e.pointerBinaryOp(s, op, lv, rv, lty, rty)
	}

	ls, ok1 := lv.(*Scalar)
	rs, ok2 := rv.(*Scalar)
	if !ok1 || !ok2 {
		return nil, stuckFault("binary %s on non-scalar operands", op)
	}
	a, b := ls.X, rs.X

	_, signed, float := e.scalarInfo(lty)
	if float {
		return e.floatBinaryOp(op, a, b)
	}

	switch op {
	case mir.BinAdd, mir.BinSub, mir.BinMul:
		result, _, err := e.intArith(s, op, a, b, signed, ArithWrapping)
		if err != nil {
			return nil, err
		}
		return NewScalar(result), nil

	case mir.BinAddUnchecked, mir.BinSubUnchecked, mir.BinMulUnchecked:
		result, _, err := e.intArith(s, uncheckedBase(op), a, b, signed, ArithUnchecked)
		if err != nil {
			return nil, err
		}
		return NewScalar(result), nil

	case mir.BinAddWithOverflow, mir.BinSubWithOverflow, mir.BinMulWithOverflow:
		result, overflow, err := e.intArith(s, uncheckedBase(op), a, b, signed, ArithChecked)
		if err != nil {
			return nil, err
		}
		return NewAggregate(NewScalar(result), NewScalar(overflow)), nil

	case mir.BinDiv, mir.BinRem:
		result, err := e.intDivRem(s, op, a, b, signed)
		if err != nil {
			return nil, err
		}
		return NewScalar(result), nil

	case mir.BinBitAnd:
		return NewScalar(NewBinaryExpr(AND, a, b)), nil
	case mir.BinBitOr:
		return NewScalar(NewBinaryExpr(OR, a, b)), nil
	case mir.BinBitXor:
		return NewScalar(NewBinaryExpr(XOR, a, b)), nil

	case mir.BinShl, mir.BinShr:
		result, _ := shift(a, b, op == mir.BinShl, signed)
		return NewScalar(result), nil

	case mir.BinShlUnchecked, mir.BinShrUnchecked:
		result, overflow := shift(a, b, op == mir.BinShlUnchecked, signed)
		if err := e.require(s, NewNotExpr(overflow), ubFault(UBShiftOutOfRange, "shift amount %s out of range for %d bits", b, ExprWidth(a))); err != nil {
			return nil, err
		}
		return NewScalar(result), nil

	case mir.BinCmp:
		return NewScalar(threeWay(a, b, signed)), nil

	case mir.BinOffset:
		return nil, stuckFault("offset on non-pointer operand")
	}

	if cmp, ok := compareOp(op, signed); ok {
		return NewScalar(NewBinaryExpr(cmp, a, b)), nil
	}
	return nil, stuckFault("unsupported binary operation %q", op)
}

// checkedBinaryOp evaluates a MIR checked binary operation, producing a
// (result, overflowed) pair.
func (e *Executor) checkedBinaryOp(s *ExecutionState, op mir.BinOp, lv, rv Value, lty mir.TypeID) (Value, error) {
	ls, ok1 := lv.(*Scalar)
	rs, ok2 := rv.(*Scalar)
	if !ok1 || !ok2 {
		return nil, stuckFault("checked %s on non-scalar operands", op)
	}
	_, signed, _ := e.scalarInfo(lty)

	switch op {
	case mir.BinAdd, mir.BinSub, mir.BinMul:
		result, overflow, err := e.intArith(s, op, ls.X, rs.X, signed, ArithChecked)
		if err != nil {
			return nil, err
		}
		return NewAggregate(NewScalar(result), NewScalar(overflow)), nil
	case mir.BinShl, mir.BinShr:
		result, overflow := shift(ls.X, rs.X, op == mir.BinShl, signed)
		return NewAggregate(NewScalar(result), NewScalar(overflow)), nil
	default:
		return nil, stuckFault("unsupported checked operation %q", op)
	}
}

func uncheckedBase(op mir.BinOp) mir.BinOp {
	switch op {
	case mir.BinAddUnchecked, mir.BinAddWithOverflow:
		return mir.BinAdd
	case mir.BinSubUnchecked, mir.BinSubWithOverflow:
		return mir.BinSub
	default:
		return mir.BinMul
	}
}

// unaryOp evaluates a MIR unary operation.
func (e *Executor) unaryOp(s *ExecutionState, op mir.UnOp, v Value, ty mir.TypeID) (Value, error) {
	if op == mir.UnPtrMetadata {
		p, ok := v.(*Pointer)
		if !ok {
			return nil, stuckFault("ptr_metadata of non-pointer %s", v)
		} else if p.Meta == nil {
			return NewAggregate(), nil
		}
		return p.Meta, nil
	}

	sc, ok := v.(*Scalar)
	if !ok {
		return nil, stuckFault("unary %s on non-scalar %s", op, v)
	}
	_, signed, float := e.scalarInfo(ty)

	switch op {
	case mir.UnNot:
		return NewScalar(NewNotExpr(sc.X)), nil
	case mir.UnNeg:
		if float {
			w := ExprWidth(sc.X)
			return NewScalar(NewBinaryExpr(XOR, sc.X, NewConstantExpr(1, w).Shl(NewConstantExpr(uint64(w-1), w)))), nil
		}
		result, _ := overflowNeg(sc.X, signed)
		return NewScalar(result), nil
	default:
		return nil, stuckFault("unsupported unary operation %q", op)
	}
}

// floatConstants returns the operands as float64 values. Symbolic floats
// are not modeled.
func floatConstants(exprs ...Expr) ([]float64, uint, error) {
	out := make([]float64, len(exprs))
	var w uint
	for i, x := range exprs {
		c, ok := x.(*ConstantExpr)
		if !ok {
			return nil, 0, stuckFault("symbolic floating point value")
		}
		w = c.Width
		f, err := floatFromBits(c)
		if err != nil {
			return nil, 0, err
		}
		out[i] = f
	}
	return out, w, nil
}

func floatFromBits(c *ConstantExpr) (float64, error) {
	switch c.Width {
	case Width32:
		return float64(math.Float32frombits(uint32(c.Uint64()))), nil
	case Width64:
		return math.Float64frombits(c.Uint64()), nil
	default:
		return 0, stuckFault("unsupported float width %d", c.Width)
	}
}

func floatToBits(f float64, w uint) *ConstantExpr {
	if w == Width32 {
		return NewConstantExpr32(uint64(math.Float32bits(float32(f))))
	}
	return NewConstantExpr64(math.Float64bits(f))
}

func (e *Executor) floatBinaryOp(op mir.BinOp, a, b Expr) (Value, error) {
	fs, w, err := floatConstants(a, b)
	if err != nil {
		return nil, err
	}
	x, y := fs[0], fs[1]

	// Round through float32 so single precision results match.
	round := func(f float64) Value {
		if w == Width32 {
			f = float64(float32(f))
		}
		return NewScalar(floatToBits(f, w))
	}

	switch op {
	case mir.BinAdd:
		return round(x + y), nil
	case mir.BinSub:
		return round(x - y), nil
	case mir.BinMul:
		return round(x * y), nil
	case mir.BinDiv:
		return round(x / y), nil
	case mir.BinRem:
		return round(math.Mod(x, y)), nil
	case mir.BinEq:
		return NewBoolScalar(x == y), nil
	case mir.BinNe:
		return NewBoolScalar(x != y), nil
	case mir.BinLt:
		return NewBoolScalar(x < y), nil
	case mir.BinLe:
		return NewBoolScalar(x <= y), nil
	case mir.BinGt:
		return NewBoolScalar(x > y), nil
	case mir.BinGe:
		return NewBoolScalar(x >= y), nil
	default:
		return nil, stuckFault("unsupported float operation %q", op)
	}
}
