package mirv

import (
	"strings"

	"github.com/benbjohnson/mirv/mir"
)

// intrinsic evaluates a call to a compiler intrinsic.
func (e *Executor) intrinsic(s *ExecutionState, c *callSite) error {
	name := c.fn.Intrinsic
	if i := strings.LastIndex(name, "::"); i >= 0 {
		name = name[i+2:]
	}

	v, err := e.evalIntrinsic(s, c, name)
	if err != nil {
		return err
	}
	return e.complete(s, c, v)
}

func (e *Executor) evalIntrinsic(s *ExecutionState, c *callSite, name string) (Value, error) {
	switch name {
	case "assume":
		x, err := c.scalarArg(0)
		if err != nil {
			return nil, err
		}
		return nil, e.assume(s, boolExpr(x))

	case "black_box", "likely", "unlikely":
		if len(c.args) != 1 {
			return nil, stuckFault("%s expects one argument", name)
		}
		return c.args[0], nil

	case "cold_path", "prefetch_read_data", "prefetch_write_data", "prefetch_read_instruction", "prefetch_write_instruction":
		return nil, nil

	case "ub_checks":
		return NewBoolScalar(false), nil

	case "abort":
		return nil, panicFault("aborted")

	case "unreachable":
		return nil, ubFault(UBUnreachable, "intrinsics::unreachable reached")

	case "size_of", "min_align_of", "align_of":
		ty, err := c.generic(0)
		if err != nil {
			return nil, err
		}
		op := mir.NullSizeOf
		if name != "size_of" {
			op = mir.NullAlignOf
		}
		return e.nullaryOp(op, ty)

	case "size_of_val", "min_align_of_val", "align_of_val":
		ty, err := c.generic(0)
		if err != nil {
			return nil, err
		}
		p, err := c.pointerArg(0)
		if err != nil {
			return nil, err
		}
		size, align, err := s.sizeOfVal(ty, p)
		if err != nil {
			return nil, err
		} else if name == "size_of_val" {
			return NewIntScalar(size, PointerWidth), nil
		}
		return NewIntScalar(align, PointerWidth), nil

	case "assert_inhabited":
		ty, err := c.generic(0)
		if err != nil {
			return nil, err
		}
		l, err := e.layouts.Layout(ty)
		if err != nil {
			return nil, err
		} else if l.Uninhabited {
			return nil, panicFault("attempted to instantiate uninhabited type")
		}
		return nil, nil

	case "assert_zero_valid":
		return nil, e.assertZeroValid(s, c)

	case "transmute", "transmute_unchecked":
		to, err := c.generic(1)
		if c.dest != nil {
			to, err = c.dest.Type, nil
		}
		if err != nil {
			return nil, err
		} else if len(c.args) != 1 {
			return nil, stuckFault("transmute expects one argument")
		}
		return s.transmute(c.args[0], c.types[0], to)

	case "volatile_load", "read_volatile":
		return e.volatileLoad(s, c)

	case "volatile_store", "write_volatile":
		return nil, e.volatileStore(s, c)

	case "raw_eq":
		return e.rawEq(s, c)

	case "offset", "arith_offset":
		return e.offsetIntrinsic(s, c, name == "arith_offset")

	case "ptr_offset_from", "ptr_offset_from_unsigned":
		return e.offsetFromIntrinsic(s, c, name == "ptr_offset_from_unsigned")

	case "copy_nonoverlapping", "copy":
		return nil, e.copyIntrinsic(s, c, name == "copy_nonoverlapping")

	case "write_bytes":
		return nil, e.writeBytesIntrinsic(s, c)

	case "discriminant_value":
		ty, err := c.generic(0)
		if err != nil {
			return nil, err
		}
		p, err := c.pointerArg(0)
		if err != nil {
			return nil, err
		}
		loc, err := s.pointee(p, ty)
		if err != nil {
			return nil, err
		}
		var dest mir.TypeID
		if c.dest != nil {
			dest = c.dest.Type
		}
		return e.discriminant(s, loc, dest)

	case "three_way_compare":
		a, b, signed, err := e.intArgs(c)
		if err != nil {
			return nil, err
		}
		return NewScalar(threeWay(a, b, signed)), nil

	case "ctpop", "ctlz", "cttz", "ctlz_nonzero", "cttz_nonzero", "bswap", "bitreverse":
		return e.bitIntrinsic(s, c, name)

	case "rotate_left", "rotate_right":
		a, b, _, err := e.intArgs(c)
		if err != nil {
			return nil, err
		}
		return NewScalar(rotate(a, b, name == "rotate_left")), nil
	}

	return e.arithIntrinsic(s, c, name)
}

// arithIntrinsic evaluates the integer arithmetic intrinsics.
func (e *Executor) arithIntrinsic(s *ExecutionState, c *callSite, name string) (Value, error) {
	var op mir.BinOp
	var mode ArithMode
	switch name {
	case "unchecked_add", "unchecked_sub", "unchecked_mul":
		op, mode = mir.BinOp(strings.TrimPrefix(name, "unchecked_")), ArithUnchecked
	case "wrapping_add", "wrapping_sub", "wrapping_mul":
		op, mode = mir.BinOp(strings.TrimPrefix(name, "wrapping_")), ArithWrapping
	case "saturating_add", "saturating_sub":
		op, mode = mir.BinOp(strings.TrimPrefix(name, "saturating_")), ArithSaturating
	case "add_with_overflow", "sub_with_overflow", "mul_with_overflow":
		op, mode = mir.BinOp(strings.TrimSuffix(name, "_with_overflow")), ArithChecked
	case "unchecked_div", "unchecked_rem", "unchecked_shl", "unchecked_shr", "exact_div":
	default:
		return nil, stuckFault("unsupported intrinsic %q", c.fn.Intrinsic)
	}

	a, b, signed, err := e.intArgs(c)
	if err != nil {
		return nil, err
	}

	switch name {
	case "unchecked_div":
		x, err := e.intDivRem(s, mir.BinDiv, a, b, signed)
		return NewScalar(x), err
	case "unchecked_rem":
		x, err := e.intDivRem(s, mir.BinRem, a, b, signed)
		return NewScalar(x), err
	case "unchecked_shl", "unchecked_shr":
		x, overflow := shift(a, b, name == "unchecked_shl", signed)
		if err := e.require(s, NewNotExpr(overflow), ubFault(UBShiftOutOfRange, "shift amount %s out of range for %d bits", b, ExprWidth(a))); err != nil {
			return nil, err
		}
		return NewScalar(x), nil
	case "exact_div":
		rem, err := e.intDivRem(s, mir.BinRem, a, b, signed)
		if err != nil {
			return nil, err
		}
		if err := e.require(s, NewIsZeroExpr(rem), ubFault(UBInexactDivision, "exact_div of %s by %s has a remainder", a, b)); err != nil {
			return nil, err
		}
		x, err := e.intDivRem(s, mir.BinDiv, a, b, signed)
		return NewScalar(x), err
	}

	result, overflow, err := e.intArith(s, op, a, b, signed, mode)
	if err != nil {
		return nil, err
	} else if mode == ArithChecked {
		return NewAggregate(NewScalar(result), NewScalar(overflow)), nil
	}
	return NewScalar(result), nil
}

// intArgs returns the two scalar arguments of a binary integer intrinsic and
// whether the first argument's type is signed. Operands keep their own widths.
func (e *Executor) intArgs(c *callSite) (a, b Expr, signed bool, err error) {
	if a, err = c.scalarArg(0); err != nil {
		return nil, nil, false, err
	} else if b, err = c.scalarArg(1); err != nil {
		return nil, nil, false, err
	}
	_, signed, _ = e.scalarInfo(c.types[0])
	return a, b, signed, nil
}

// resultWidth returns the integer width of the call's destination.
func (e *Executor) resultWidth(c *callSite, def uint) uint {
	if c.dest != nil {
		if t := e.prog.Type(c.dest.Type); t != nil && t.IsInteger() {
			return t.IntBits()
		}
	}
	return def
}

// bitIntrinsic evaluates the bit counting and reordering intrinsics.
func (e *Executor) bitIntrinsic(s *ExecutionState, c *callSite, name string) (Value, error) {
	x, err := c.scalarArg(0)
	if err != nil {
		return nil, err
	}
	w := ExprWidth(x)
	rw := e.resultWidth(c, Width32)

	switch name {
	case "ctpop":
		var sum Expr = NewConstantExpr(0, rw)
		for i := uint(0); i < w; i++ {
			sum = NewBinaryExpr(ADD, sum, newZExtExpr(NewExtractExpr(x, i, WidthBool), rw))
		}
		return NewScalar(sum), nil

	case "ctlz", "ctlz_nonzero", "cttz", "cttz_nonzero":
		if strings.HasSuffix(name, "_nonzero") {
			if err := e.require(s, NewNotExpr(NewIsZeroExpr(x)), ubFault(UBInvalidValue, "%s of zero", name)); err != nil {
				return nil, err
			}
		}
		var n Expr = NewConstantExpr(uint64(w), rw)
		if strings.HasPrefix(name, "ctlz") {
			// Higher bits are visited last and take precedence.
			for i := uint(0); i < w; i++ {
				n = NewIteExpr(NewExtractExpr(x, i, WidthBool), NewConstantExpr(uint64(w-1-i), rw), n)
			}
		} else {
			for i := w; i > 0; i-- {
				n = NewIteExpr(NewExtractExpr(x, i-1, WidthBool), NewConstantExpr(uint64(i-1), rw), n)
			}
		}
		return NewScalar(n), nil

	case "bswap":
		if w%8 != 0 {
			return nil, stuckFault("bswap of %d-bit value", w)
		}
		return NewScalar(reverse(x, 8)), nil

	default:
		return NewScalar(reverse(x, 1)), nil
	}
}

// reverse reverses the order of the size-bit chunks of x.
func reverse(x Expr, size uint) Expr {
	w := ExprWidth(x)
	if w <= size {
		return x
	}
	r := NewExtractExpr(x, w-size, size)
	for off := w - size; off > 0; off -= size {
		r = NewConcatExpr(NewExtractExpr(x, off-size, size), r)
	}
	return r
}

// rotate rotates x by n bits, taken modulo the width.
func rotate(x, n Expr, left bool) Expr {
	w := ExprWidth(x)
	width := NewConstantExpr(uint64(w), maxUint(w, Width8))
	amt := NewBinaryExpr(UREM, newZExtExpr(n, maxUint(w, Width8)), width)
	inv := NewBinaryExpr(UREM, NewBinaryExpr(SUB, width, amt), width)
	amt, inv = newZExtExpr(amt, w), newZExtExpr(inv, w)
	if left {
		return NewBinaryExpr(OR, NewBinaryExpr(SHL, x, amt), NewBinaryExpr(LSHR, x, inv))
	}
	return NewBinaryExpr(OR, NewBinaryExpr(LSHR, x, amt), NewBinaryExpr(SHL, x, inv))
}

// assertZeroValid panics if the all-zero bit pattern is not a valid value
// of the generic type.
func (e *Executor) assertZeroValid(s *ExecutionState, c *callSite) error {
	ty, err := c.generic(0)
	if err != nil {
		return err
	}
	l, err := e.layouts.Layout(ty)
	if err != nil {
		return err
	}
	if _, err := s.Decode(newBytes(l.Size), ty); err != nil {
		if f, ok := AsFault(err); ok && f.Status == ExecutionStatusUndefined {
			return panicFault("attempted to zero-initialize type which is invalid")
		}
		return err
	}
	return nil
}

func (e *Executor) volatileLoad(s *ExecutionState, c *callSite) (Value, error) {
	p, err := c.pointerArg(0)
	if err != nil {
		return nil, err
	}
	ty, err := e.pointeeType(c.types[0])
	if err != nil {
		return nil, err
	}
	loc, err := s.pointee(p, ty)
	if err != nil {
		return nil, err
	}
	return s.load(loc)
}

func (e *Executor) volatileStore(s *ExecutionState, c *callSite) error {
	p, err := c.pointerArg(0)
	if err != nil {
		return err
	} else if len(c.args) != 2 {
		return stuckFault("volatile_store expects two arguments")
	}
	ty, err := e.pointeeType(c.types[0])
	if err != nil {
		return err
	}
	loc, err := s.pointee(p, ty)
	if err != nil {
		return err
	}
	return s.store(loc, c.args[1])
}

// rawEq compares the bytes of two values of the generic type.
func (e *Executor) rawEq(s *ExecutionState, c *callSite) (Value, error) {
	ty, err := c.generic(0)
	if err != nil {
		return nil, err
	}
	l, err := e.layouts.Layout(ty)
	if err != nil {
		return nil, err
	}
	a, err := c.pointerArg(0)
	if err != nil {
		return nil, err
	}
	b, err := c.pointerArg(1)
	if err != nil {
		return nil, err
	}

	x, err := s.loadBytes(a, l.Size, l.Align)
	if err != nil {
		return nil, err
	}
	y, err := s.loadBytes(b, l.Size, l.Align)
	if err != nil {
		return nil, err
	}
	eqs := make([]Expr, len(x.Data))
	for i := range x.Data {
		eqs[i] = NewBinaryExpr(EQ, x.Data[i], y.Data[i])
	}
	return NewScalar(NewAndExpr(eqs...)), nil
}

func (e *Executor) offsetIntrinsic(s *ExecutionState, c *callSite, wrapping bool) (Value, error) {
	p, err := c.pointerArg(0)
	if err != nil {
		return nil, err
	}
	n, err := c.scalarArg(1)
	if err != nil {
		return nil, err
	}
	stride, err := e.pointeeStride(c.types[0])
	if err != nil {
		return nil, err
	}
	signed := e.prog.Type(c.types[1]).Kind == mir.TypeInt
	if wrapping {
		return s.wrappingOffset(p, n, stride, signed), nil
	}
	return s.offset(p, n, stride, signed)
}

func (e *Executor) offsetFromIntrinsic(s *ExecutionState, c *callSite, unsigned bool) (Value, error) {
	a, err := c.pointerArg(0)
	if err != nil {
		return nil, err
	}
	b, err := c.pointerArg(1)
	if err != nil {
		return nil, err
	}
	stride, err := e.pointeeStride(c.types[0])
	if err != nil {
		return nil, err
	}
	x, err := s.offsetFrom(a, b, stride, unsigned)
	if err != nil {
		return nil, err
	}
	return NewScalar(x), nil
}

func (e *Executor) copyIntrinsic(s *ExecutionState, c *callSite, nonoverlapping bool) error {
	ty, err := c.generic(0)
	if err != nil {
		return err
	}
	l, err := e.layouts.Layout(ty)
	if err != nil {
		return err
	}
	src, err := c.pointerArg(0)
	if err != nil {
		return err
	}
	dst, err := c.pointerArg(1)
	if err != nil {
		return err
	}
	count, err := c.scalarArg(2)
	if err != nil {
		return err
	}
	return s.copyMemory(src, dst, count, l.Size, l.Align, nonoverlapping)
}

func (e *Executor) writeBytesIntrinsic(s *ExecutionState, c *callSite) error {
	ty, err := c.generic(0)
	if err != nil {
		return err
	}
	l, err := e.layouts.Layout(ty)
	if err != nil {
		return err
	}
	dst, err := c.pointerArg(0)
	if err != nil {
		return err
	}
	v, err := c.scalarArg(1)
	if err != nil {
		return err
	}
	count, err := c.scalarArg(2)
	if err != nil {
		return err
	}
	return s.fillMemory(dst, v, count, l.Size, l.Align)
}
