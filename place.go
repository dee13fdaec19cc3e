package mirv

import (
	"github.com/benbjohnson/mirv/mir"
)

// Location represents a typed place in memory.
type Location struct {
	// Address of the place. Carries metadata if the place is unsized.
	Ptr *Pointer

	Type mir.TypeID

	// Active variant after a downcast, or -1.
	Variant int

	// Alignment required for accesses. Lower than the type's alignment for
	// fields of packed structs.
	Align uint64
}

// String returns a short description of the location.
func (loc *Location) String() string {
	return loc.Ptr.String()
}

// localLocation returns the location of a local in the current frame.
func (s *ExecutionState) localLocation(local int) (*Location, error) {
	f := s.Frame()
	if local < 0 || local >= len(f.locals) {
		return nil, stuckFault("local _%d out of range in %s", local, f.fn.Name)
	}
	ty := f.fn.Body.Locals[local].Type
	l, err := s.executor.layouts.Layout(ty)
	if err != nil {
		return nil, err
	}
	return &Location{Ptr: NewPointer(f.locals[local], 0), Type: ty, Variant: -1, Align: l.Align}, nil
}

// Place evaluates a place expression to a location. Dereferences read the
// current contents of memory.
func (s *ExecutionState) Place(p *mir.Place) (*Location, error) {
	loc, err := s.localLocation(p.Local)
	if err != nil {
		return nil, err
	}

	for _, proj := range p.Projection {
		if loc, err = s.project(loc, proj); err != nil {
			return nil, err
		}
	}
	return loc, nil
}

func (s *ExecutionState) project(loc *Location, proj *mir.Projection) (*Location, error) {
	switch proj.Kind {
	case mir.ProjectionDeref:
		return s.deref(loc)
	case mir.ProjectionField:
		return s.field(loc, proj.Field, proj.Type)
	case mir.ProjectionIndex:
		idx, err := s.localScalar(proj.Local)
		if err != nil {
			return nil, err
		}
		return s.index(loc, idx)
	case mir.ProjectionConstantIndex:
		return s.constantIndex(loc, proj)
	case mir.ProjectionSubslice:
		return s.subslice(loc, proj)
	case mir.ProjectionDowncast:
		other := *loc
		other.Variant = proj.Variant
		return &other, nil
	case mir.ProjectionOpaqueCast:
		other := *loc
		other.Type = proj.Type
		return &other, nil
	default:
		return nil, stuckFault("unsupported projection %q", proj.Kind)
	}
}

// deref reads the pointer stored at loc and returns its pointee.
func (s *ExecutionState) deref(loc *Location) (*Location, error) {
	t := s.executor.prog.Type(loc.Type)
	if t.Kind != mir.TypeRef && t.Kind != mir.TypePtr && t.Kind != mir.TypeBox {
		return nil, stuckFault("deref of non-pointer type %s", t)
	}

	v, err := s.load(loc)
	if err != nil {
		return nil, err
	}
	p, ok := v.(*Pointer)
	if !ok {
		return nil, stuckFault("deref of non-pointer value %s", v)
	}
	return s.pointee(p, t.Elem)
}

// pointee returns the location a pointer to ty refers to.
func (s *ExecutionState) pointee(p *Pointer, ty mir.TypeID) (*Location, error) {
	_, align, err := s.sizeOfVal(ty, p)
	if err != nil {
		return nil, err
	}
	return &Location{Ptr: p, Type: ty, Variant: -1, Align: align}, nil
}

// sizeOfVal returns the dynamic size and alignment of the value of type ty
// that p points to.
func (s *ExecutionState) sizeOfVal(ty mir.TypeID, p *Pointer) (size, align uint64, err error) {
	e := s.executor

	var n uint64
	if x, ok := p.Len(); ok {
		c, ok := x.(*ConstantExpr)
		if !ok {
			// Symbolic lengths only affect size, which callers check separately.
			l, err := e.layouts.Layout(ty)
			if err != nil {
				return 0, 0, err
			}
			return 0, l.Align, nil
		}
		n = c.Uint64()
	}

	var vtable *Layout
	if vt, ok := p.Vtable(); ok {
		if vtable, err = s.vtableLayout(vt); err != nil {
			return 0, 0, err
		}
	}
	return e.layouts.SizeOfVal(ty, n, vtable)
}

// vtableLayout returns the layout of the concrete type behind a vtable pointer.
func (s *ExecutionState) vtableLayout(vt *Pointer) (*Layout, error) {
	a := s.allocation(vt.Alloc)
	if a == nil || a.Kind != AllocationVtable {
		return nil, ubFault(UBInvalidValue, "invalid vtable pointer %s", vt)
	}
	g := s.executor.prog.Alloc(a.Global)
	return s.executor.layouts.Layout(g.Type)
}

// field projects field i of the struct, tuple, closure, union or downcast
// enum variant at loc.
func (s *ExecutionState) field(loc *Location, i int, hint mir.TypeID) (*Location, error) {
	e := s.executor
	t := e.prog.Type(loc.Type)
	l, err := e.layouts.Layout(loc.Type)
	if err != nil {
		return nil, err
	}

	var fields []mir.TypeID
	var offsets []uint64
	switch {
	case t.Kind == mir.TypeEnum:
		if loc.Variant < 0 || loc.Variant >= len(t.Variants) {
			return nil, stuckFault("field of enum %s without downcast", t)
		}
		fields = t.Variants[loc.Variant].Fields
		if l.Variants != nil {
			offsets = l.Variants[loc.Variant].Offsets
		} else {
			offsets = l.Offsets
		}
	case t.Kind == mir.TypeUnion:
		fields = t.Fields
		offsets = make([]uint64, len(fields))
	case t.IsPointer():
		// Fat pointer components: data pointer then metadata.
		offsets = l.Offsets
		fields = make([]mir.TypeID, len(offsets))
		for j := range fields {
			fields[j] = hint
		}
	default:
		fields, offsets = t.Fields, l.Offsets
	}
	if i < 0 || i >= len(fields) || i >= len(offsets) {
		return nil, stuckFault("field %d out of range for %s", i, t)
	}

	ft := fields[i]
	if hint != 0 {
		ft = hint
	}
	fl, err := e.layouts.Layout(ft)
	if err != nil {
		return nil, err
	}

	off := offsets[i]
	align := fl.Align
	ptr := loc.Ptr.Thin()
	if fl.Unsized {
		// Unsized tail: keep the metadata, align the offset dynamically.
		ptr.Meta = loc.Ptr.Meta
		if _, a, err := s.sizeOfVal(ft, loc.Ptr); err != nil {
			return nil, err
		} else if a > align {
			align = a
		}
		off = alignTo(off, align)
	}
	if t.Repr != nil && t.Repr.Packed > 0 && uint64(t.Repr.Packed) < align {
		align = uint64(t.Repr.Packed)
	}
	if loc.Align < align && loc.Align > 0 {
		align = loc.Align
	}

	ptr.Offset = NewBinaryExpr(ADD, ptr.Offset, NewConstantExpr64(off))
	return &Location{Ptr: ptr, Type: ft, Variant: -1, Align: align}, nil
}

// elemInfo returns the element type, stride and length of an array or slice
// location.
func (s *ExecutionState) elemInfo(loc *Location) (elem mir.TypeID, stride uint64, n Expr, err error) {
	e := s.executor
	t := e.prog.Type(loc.Type)
	switch t.Kind {
	case mir.TypeArray:
		n = NewConstantExpr64(t.Len)
	case mir.TypeSlice, mir.TypeStr:
		var ok bool
		if n, ok = loc.Ptr.Len(); !ok {
			return 0, 0, nil, stuckFault("slice place without length")
		}
	default:
		return 0, 0, nil, stuckFault("index into non-array type %s", t)
	}

	elem = t.Elem
	if t.Kind == mir.TypeStr && elem == 0 {
		if elem = e.byteType; elem == 0 {
			return 0, 0, nil, stuckFault("str projection without a u8 type")
		}
	}
	el, err := e.layouts.Layout(elem)
	if err != nil {
		return 0, 0, nil, err
	}
	return elem, el.Size, n, nil
}

// index projects element idx, which must be within bounds.
func (s *ExecutionState) index(loc *Location, idx Expr) (*Location, error) {
	elem, stride, n, err := s.elemInfo(loc)
	if err != nil {
		return nil, err
	}

	idx = newZExtExpr(idx, PointerWidth)
	if err := s.executor.require(s, newUltExpr(idx, n), ubFault(UBOutOfBoundsAccess, "index %s out of bounds for length %s", idx, n)); err != nil {
		return nil, err
	}
	return s.element(loc, elem, stride, idx)
}

func (s *ExecutionState) element(loc *Location, elem mir.TypeID, stride uint64, idx Expr) (*Location, error) {
	el, err := s.executor.layouts.Layout(elem)
	if err != nil {
		return nil, err
	}
	align := el.Align
	if loc.Align < align {
		align = loc.Align
	}

	off := NewBinaryExpr(MUL, idx, NewConstantExpr64(stride))
	ptr := loc.Ptr.Thin().WithOffset(NewBinaryExpr(ADD, loc.Ptr.Offset, off))
	return &Location{Ptr: ptr, Type: elem, Variant: -1, Align: align}, nil
}

func (s *ExecutionState) constantIndex(loc *Location, proj *mir.Projection) (*Location, error) {
	elem, stride, n, err := s.elemInfo(loc)
	if err != nil {
		return nil, err
	}

	var idx Expr = NewConstantExpr64(proj.Offset)
	if proj.FromEnd {
		idx = NewBinaryExpr(SUB, n, idx)
	}
	if err := s.executor.require(s, newUltExpr(idx, n), ubFault(UBOutOfBoundsAccess, "constant index %d out of bounds for length %s", proj.Offset, n)); err != nil {
		return nil, err
	}
	return s.element(loc, elem, stride, idx)
}

// subslice projects elements From..len-To (FromEnd) or From..To.
func (s *ExecutionState) subslice(loc *Location, proj *mir.Projection) (*Location, error) {
	elem, stride, n, err := s.elemInfo(loc)
	if err != nil {
		return nil, err
	}

	var end Expr = NewConstantExpr64(proj.To)
	if proj.FromEnd {
		end = NewBinaryExpr(SUB, n, end)
	}
	from := NewConstantExpr64(proj.From)
	valid := NewAndExpr(newUleExpr(from, end), newUleExpr(end, n))
	if err := s.executor.require(s, valid, ubFault(UBOutOfBoundsAccess, "subslice %d..%s out of bounds for length %s", proj.From, end, n)); err != nil {
		return nil, err
	}

	start, err := s.element(loc, elem, stride, from)
	if err != nil {
		return nil, err
	}
	start.Type = proj.Type
	if t := s.executor.prog.Type(loc.Type); t.Kind != mir.TypeArray {
		start.Ptr.Meta = NewScalar(NewBinaryExpr(SUB, end, from))
		if start.Type == 0 {
			start.Type = loc.Type
		}
	}
	return start, nil
}

// localScalar returns the scalar value of a local in the current frame.
func (s *ExecutionState) localScalar(local int) (Expr, error) {
	loc, err := s.localLocation(local)
	if err != nil {
		return nil, err
	}
	v, err := s.load(loc)
	if err != nil {
		return nil, err
	}
	sc, ok := v.(*Scalar)
	if !ok {
		return nil, stuckFault("local _%d is not a scalar", local)
	}
	return sc.X, nil
}
