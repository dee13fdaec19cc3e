package mirv

import (
	"math"
	"math/big"

	"github.com/benbjohnson/mirv/mir"
	"github.com/holiman/uint256"
)

// castOp evaluates a MIR cast of v from type from to type to.
func (e *Executor) castOp(s *ExecutionState, kind mir.CastKind, v Value, from, to mir.TypeID, vtable mir.AllocID) (Value, error) {
	ft, tt := e.prog.Type(from), e.prog.Type(to)
	if ft == nil || tt == nil {
		return nil, stuckFault("cast between unknown types %d and %d", from, to)
	}

	switch kind {
	case mir.CastIntToInt:
		return e.intToInt(v, ft, tt)
	case mir.CastIntToFloat:
		return e.intToFloat(v, ft, tt)
	case mir.CastFloatToInt:
		return e.floatToInt(v, tt)
	case mir.CastFloatToFloat:
		return e.floatToFloat(v, tt)

	case mir.CastPtrToPtr, mir.CastFnPtrToPtr, mir.CastMutToConstPointer, mir.CastArrayToPointer, mir.CastUnsafeFnPointer:
		p, ok := v.(*Pointer)
		if !ok {
			return nil, stuckFault("pointer cast of non-pointer %s", v)
		}
		if tt.IsPointer() && tt.Kind != mir.TypeFnPtr {
			if meta, err := e.layouts.MetadataKind(tt.Elem); err != nil {
				return nil, err
			} else if meta == MetadataNone {
				return p.Thin(), nil
			}
		}
		return p, nil

	case mir.CastExposeProvenance:
		p, ok := v.(*Pointer)
		if !ok {
			return nil, stuckFault("expose_provenance of non-pointer %s", v)
		}
		s.expose(p)
		addr, err := s.pointerAddr(p)
		if err != nil {
			return nil, err
		}
		return NewScalar(newZExtExpr(addr, tt.IntBits())), nil

	case mir.CastWithExposedProvenance:
		sc, ok := v.(*Scalar)
		if !ok {
			return nil, stuckFault("with_exposed_provenance of non-integer %s", v)
		}
		return s.withExposed(newZExtExpr(sc.X, PointerWidth)), nil

	case mir.CastTransmute:
		return s.transmute(v, from, to)

	case mir.CastUnsize:
		return s.unsize(v, ft, tt, vtable)

	case mir.CastReifyFnPointer:
		if ft.Kind != mir.TypeFnDef {
			return nil, stuckFault("reify of non-function type %s", ft)
		}
		return s.fnPointer(ft.Fn)

	case mir.CastClosureFnPointer:
		if ft.Kind != mir.TypeClosure {
			return nil, stuckFault("closure pointer cast of %s", ft)
		}
		return s.fnPointer(ft.Fn)

	default:
		return nil, stuckFault("unsupported cast %q", kind)
	}
}

// intToInt converts between integer, bool and char types. Widening extends
// according to the source signedness; narrowing truncates.
func (e *Executor) intToInt(v Value, ft, tt *mir.Type) (Value, error) {
	sc, ok := v.(*Scalar)
	if !ok {
		return nil, stuckFault("integer cast of non-scalar %s", v)
	}

	var w uint
	switch tt.Kind {
	case mir.TypeInt, mir.TypeUint:
		w = tt.IntBits()
	case mir.TypeChar:
		w = Width32
	case mir.TypeBool:
		return NewScalar(NewNotExpr(NewIsZeroExpr(sc.X))), nil
	default:
		return nil, stuckFault("integer cast to %s", tt)
	}
	return NewScalar(NewCastExpr(sc.X, w, ft.Kind == mir.TypeInt)), nil
}

// intToFloat converts a constant integer to the nearest float.
func (e *Executor) intToFloat(v Value, ft, tt *mir.Type) (Value, error) {
	sc, ok := v.(*Scalar)
	if !ok {
		return nil, stuckFault("float cast of non-scalar %s", v)
	}
	c, ok := sc.X.(*ConstantExpr)
	if !ok {
		return nil, stuckFault("symbolic integer to float conversion")
	}

	n := c.Value.ToBig()
	if ft.Kind == mir.TypeInt && c.IsNegative() {
		n.Sub(n, new(big.Int).Lsh(big.NewInt(1), c.Width))
	}

	f := new(big.Float).SetInt(n)
	switch tt.IntBits() {
	case Width32:
		f32, _ := f.Float32()
		return NewScalar(NewConstantExpr32(uint64(math.Float32bits(f32)))), nil
	case Width64:
		f64, _ := f.Float64()
		return NewScalar(NewConstantExpr64(math.Float64bits(f64))), nil
	default:
		return nil, stuckFault("unsupported float width %d", tt.IntBits())
	}
}

// floatToInt truncates toward zero, saturating at the bounds of the target
// type. NaN converts to zero.
func (e *Executor) floatToInt(v Value, tt *mir.Type) (Value, error) {
	sc, ok := v.(*Scalar)
	if !ok {
		return nil, stuckFault("float cast of non-scalar %s", v)
	}
	fs, _, err := floatConstants(sc.X)
	if err != nil {
		return nil, err
	}
	f := fs[0]

	w, signed := tt.IntBits(), tt.Kind == mir.TypeInt
	switch {
	case math.IsNaN(f):
		return NewScalar(NewConstantExpr(0, w)), nil
	case math.IsInf(f, 1):
		return NewScalar(maxValue(w, signed)), nil
	case math.IsInf(f, -1):
		return NewScalar(minValue(w, signed)), nil
	}

	n, _ := big.NewFloat(math.Trunc(f)).Int(nil)
	lo, hi := bigMin(w, signed), bigMax(w, signed)
	if n.Cmp(lo) < 0 {
		return NewScalar(minValue(w, signed)), nil
	} else if n.Cmp(hi) > 0 {
		return NewScalar(maxValue(w, signed)), nil
	}

	if n.Sign() < 0 {
		n.Add(n, new(big.Int).Lsh(big.NewInt(1), w))
	}
	u, _ := uint256.FromBig(n)
	return NewScalar(NewConstantExprInt(u, w)), nil
}

func bigMin(w uint, signed bool) *big.Int {
	if !signed {
		return big.NewInt(0)
	}
	return new(big.Int).Neg(new(big.Int).Lsh(big.NewInt(1), w-1))
}

func bigMax(w uint, signed bool) *big.Int {
	if signed {
		w--
	}
	return new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), w), big.NewInt(1))
}

func (e *Executor) floatToFloat(v Value, tt *mir.Type) (Value, error) {
	sc, ok := v.(*Scalar)
	if !ok {
		return nil, stuckFault("float cast of non-scalar %s", v)
	}
	fs, _, err := floatConstants(sc.X)
	if err != nil {
		return nil, err
	}
	if tt.IntBits() != Width32 && tt.IntBits() != Width64 {
		return nil, stuckFault("unsupported float width %d", tt.IntBits())
	}
	return NewScalar(floatToBits(fs[0], tt.IntBits())), nil
}

// transmute reinterprets the bytes of v as type to. Sizes must match; the
// result must be a valid value of the target type.
func (s *ExecutionState) transmute(v Value, from, to mir.TypeID) (Value, error) {
	fl, err := s.executor.layouts.Layout(from)
	if err != nil {
		return nil, err
	}
	tl, err := s.executor.layouts.Layout(to)
	if err != nil {
		return nil, err
	}
	if fl.Size != tl.Size || fl.Unsized || tl.Unsized {
		return nil, ubFault(UBInvalidTransmute, "transmute between types of size %d and %d", fl.Size, tl.Size)
	}

	b, err := s.Encode(v, from)
	if err != nil {
		return nil, err
	}
	return s.Decode(b, to)
}

// unsize attaches metadata to a thin pointer: an array length for slices or
// a vtable for trait objects.
func (s *ExecutionState) unsize(v Value, ft, tt *mir.Type, vtable mir.AllocID) (Value, error) {
	e := s.executor
	if !ft.IsPointer() || !tt.IsPointer() {
		return nil, stuckFault("unsize from %s to %s", ft, tt)
	}

	var p *Pointer
	switch v := v.(type) {
	case *Pointer:
		p = v
	case *Aggregate:
		// Pointer-like wrappers such as Box hold the pointer in a field.
		if len(v.Fields) == 0 {
			return nil, stuckFault("unsize of empty aggregate")
		}
		var ok bool
		if p, ok = v.Fields[0].(*Pointer); !ok {
			return nil, stuckFault("unsize of aggregate without a pointer field")
		}
	default:
		return nil, stuckFault("unsize of %s", v)
	}

	meta, err := e.layouts.MetadataKind(tt.Elem)
	if err != nil {
		return nil, err
	}

	other := p.Thin()
	switch meta {
	case MetadataLength:
		src := e.prog.Type(ft.Elem)
		for depth := 0; src.Kind != mir.TypeArray; depth++ {
			if (src.Kind != mir.TypeStruct && src.Kind != mir.TypeTuple) || len(src.Fields) == 0 || depth > 64 {
				return nil, stuckFault("unsize of %s without array tail", ft)
			}
			src = e.prog.Type(src.Fields[len(src.Fields)-1])
		}
		other.Meta = NewScalar(NewConstantExpr64(src.Len))
	case MetadataVtable:
		if vt, ok := p.Vtable(); ok && vtable == 0 {
			other.Meta = vt // upcast keeps the vtable
			break
		}
		id, err := s.global(vtable)
		if err != nil {
			return nil, err
		}
		other.Meta = NewPointer(id, 0)
	default:
		return p, nil
	}
	return other, nil
}

// fnPointer returns a pointer to the function allocation of fn.
func (s *ExecutionState) fnPointer(fn mir.FuncID) (*Pointer, error) {
	for _, g := range s.executor.prog.Allocs {
		if g.Kind == mir.AllocFunction && g.Fn == fn {
			id, err := s.global(g.ID)
			if err != nil {
				return nil, err
			}
			return NewPointer(id, 0), nil
		}
	}

	// Functions without a declared allocation get one on first use, keyed
	// below zero so they never collide with global ids.
	key := -int(fn)
	if v, ok := s.globals.Get(key); ok {
		return NewPointer(v.(uint64), 0), nil
	}
	a := s.Allocate(AllocationFunction, 0, 1, false).clone()
	a.Fn = fn
	if f := s.executor.prog.Function(fn); f != nil {
		a.Name = f.Name
	}
	s.setAllocation(a)
	s.globals = s.globals.Set(key, a.ID)
	return NewPointer(a.ID, 0), nil
}

// fnOf returns the function a function pointer refers to.
func (s *ExecutionState) fnOf(p *Pointer) (*mir.Function, error) {
	a := s.allocation(p.Alloc)
	if a == nil || a.Kind != AllocationFunction {
		return nil, ubFault(UBDanglingPointer, "call through invalid function pointer %s", p)
	} else if c, ok := p.Offset.(*ConstantExpr); !ok || !c.IsZero() {
		return nil, ubFault(UBDanglingPointer, "call through offset function pointer %s", p)
	}
	fn := s.executor.prog.Function(a.Fn)
	if fn == nil {
		return nil, stuckFault("function pointer to unknown function %d", a.Fn)
	}
	return fn, nil
}
