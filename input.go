package mirv

import (
	"fmt"

	"github.com/benbjohnson/mirv/mir"
)

// Input represents a symbolic value created for an entry argument or for
// memory reachable from one.
type Input struct {
	Name  string
	Type  mir.TypeID
	Array *Array
}

// bindInput stores a fresh symbolic value into argument local i of the
// entry frame.
func (s *ExecutionState) bindInput(i int) error {
	loc, err := s.localLocation(i)
	if err != nil {
		return err
	}

	name := s.Frame().fn.Body.Locals[i].Name
	if name == "" {
		name = fmt.Sprintf("_%d", i)
	}

	b, err := s.symbolicBytes(name, loc.Type, 0)
	if err != nil {
		return err
	}
	return s.storeBytes(loc.Ptr, b, loc.Align)
}

// newInput registers a symbolic input of n bytes.
func (s *ExecutionState) newInput(name string, ty mir.TypeID, n uint64) *Array {
	s.allocSeq++
	a := NewArray(s.allocSeq, uint(n))
	a.Name = name
	s.inputs = append(s.inputs, &Input{Name: name, Type: ty, Array: a})
	logf("state", "input %s: %d bytes", name, n)
	return a
}

// symbolicBytes returns the memory image of a fresh symbolic value of type
// ty. Pointer-free values are a single input constrained to valid bit
// patterns; pointers refer to fresh allocations with symbolic contents.
func (s *ExecutionState) symbolicBytes(name string, ty mir.TypeID, depth int) (*Bytes, error) {
	e := s.executor
	t := e.prog.Type(ty)
	l, err := e.layouts.Layout(ty)
	if err != nil {
		return nil, err
	} else if l.Unsized {
		return nil, stuckFault("symbolic input %s of unsized type %s", name, t)
	}

	pointers, err := e.containsPointer(ty, 0)
	if err != nil {
		return nil, err
	}
	if !pointers {
		a := s.newInput(name, ty, l.Size)
		b := &Bytes{Data: a.SelectBytes(0, l.Size), Prov: make(map[uint64]uint64)}
		valid := e.validity(b, 0, ty, l)
		if IsConstantFalse(valid) {
			return nil, pruneFault("input %s of uninhabited type %s", name, t)
		}
		s.AddConstraint(valid)
		return b, nil
	}

	b := newBytes(l.Size)
	switch t.Kind {
	case mir.TypeRef, mir.TypeBox:
		p, err := s.symbolicPointer(name, t, depth+1)
		if err != nil {
			return nil, err
		} else if err := s.encodeAt(b, 0, p, ty, l); err != nil {
			return nil, err
		}

	case mir.TypeArray:
		el, err := e.layouts.Layout(t.Elem)
		if err != nil {
			return nil, err
		}
		for i := uint64(0); i < t.Len; i++ {
			sub, err := s.symbolicBytes(fmt.Sprintf("%s[%d]", name, i), t.Elem, depth)
			if err != nil {
				return nil, err
			}
			b.put(i*el.Size, sub)
		}

	case mir.TypeTuple, mir.TypeStruct, mir.TypeClosure:
		for i, ft := range t.Fields {
			field := fmt.Sprintf("%s.%d", name, i)
			if i < len(t.FieldNames) && t.FieldNames[i] != "" {
				field = name + "." + t.FieldNames[i]
			}
			sub, err := s.symbolicBytes(field, ft, depth)
			if err != nil {
				return nil, err
			}
			b.put(l.Offsets[i], sub)
		}

	default:
		return nil, stuckFault("symbolic input %s of type %s", name, t)
	}
	return b, nil
}

// symbolicPointer returns a pointer to a fresh allocation holding a symbolic
// value of the pointee type. Slice and str pointees get a symbolic length
// bounded by the configured maximum.
func (s *ExecutionState) symbolicPointer(name string, t *mir.Type, depth int) (*Pointer, error) {
	e := s.executor
	if depth > e.config.MaxInputDepth {
		return nil, stuckFault("symbolic input %s exceeds depth %d", name, e.config.MaxInputDepth)
	}

	kind, mutable := AllocationInput, t.Mut
	if t.Kind == mir.TypeBox {
		kind, mutable = AllocationHeap, true
	}
	elem := e.prog.Type(t.Elem)

	switch elem.Kind {
	case mir.TypeSlice, mir.TypeStr:
		return s.symbolicSlice(name, elem, kind, mutable, depth)
	case mir.TypeDyn:
		return nil, stuckFault("symbolic input %s of trait object type", name)
	}

	l, err := e.layouts.Layout(t.Elem)
	if err != nil {
		return nil, err
	} else if l.Unsized {
		return nil, stuckFault("symbolic input %s of unsized type %s", name, elem)
	}
	pointers, err := e.containsPointer(t.Elem, 0)
	if err != nil {
		return nil, err
	}

	// Pointer-free pointees are backed directly by the input array.
	if !pointers {
		a := s.allocateSymbolic(kind, "*"+name, t.Elem, l.Size, l.Align, mutable)
		b := &Bytes{Data: a.Data.SelectBytes(0, l.Size), Prov: make(map[uint64]uint64)}
		valid := e.validity(b, 0, t.Elem, l)
		if IsConstantFalse(valid) {
			return nil, pruneFault("input *%s of uninhabited type %s", name, elem)
		}
		s.AddConstraint(valid)
		return NewPointer(a.ID, 0), nil
	}

	b, err := s.symbolicBytes("*"+name, t.Elem, depth)
	if err != nil {
		return nil, err
	}
	a := s.Allocate(kind, l.Size, l.Align, true).clone()
	a.Name = "*" + name
	s.setAllocation(a)

	p := NewPointer(a.ID, 0)
	if err := s.storeBytes(p, b, l.Align); err != nil {
		return nil, err
	}
	s.setMutable(a.ID, mutable)
	return p, nil
}

// symbolicSlice returns a fat pointer to a backing allocation of the maximum
// slice length with a symbolic length.
func (s *ExecutionState) symbolicSlice(name string, t *mir.Type, kind AllocationKind, mutable bool, depth int) (*Pointer, error) {
	e := s.executor
	elem := t.Elem
	if t.Kind == mir.TypeStr && elem == 0 {
		elem = e.byteType
	}
	el, err := e.layouts.Layout(elem)
	if err != nil {
		return nil, err
	}

	max := uint64(e.config.MaxSliceLen)
	a := s.Allocate(kind, max*el.Size, el.Align, true).clone()
	a.Name = "*" + name
	s.setAllocation(a)
	for i := uint64(0); i < max; i++ {
		b, err := s.symbolicBytes(fmt.Sprintf("%s[%d]", name, i), elem, depth)
		if err != nil {
			return nil, err
		}
		if err := s.storeBytes(NewPointer(a.ID, i*el.Size), b, el.Align); err != nil {
			return nil, err
		}
	}
	s.setMutable(a.ID, mutable)

	n := s.newInput(name+".len", 0, 8).Select(NewConstantExpr64(0), PointerWidth)
	s.AddConstraint(newUleExpr(n, NewConstantExpr64(max)))

	p := NewPointer(a.ID, 0)
	p.Meta = NewScalar(n)
	return p, nil
}

// setMutable changes whether an allocation may be written.
func (s *ExecutionState) setMutable(id uint64, mutable bool) {
	if a := s.allocation(id); a != nil && a.Mutable != mutable {
		a = a.clone()
		a.Mutable = mutable
		s.setAllocation(a)
	}
}

// containsPointer returns true if values of ty hold pointers or handles.
func (e *Executor) containsPointer(ty mir.TypeID, depth int) (bool, error) {
	if depth > 64 {
		return false, stuckFault("type %d nested too deeply", ty)
	}
	t := e.prog.Type(ty)
	if t == nil {
		return false, stuckFault("unknown type %d", ty)
	}

	var fields []mir.TypeID
	switch t.Kind {
	case mir.TypeRef, mir.TypePtr, mir.TypeBox, mir.TypeFnPtr, mir.TypeDyn, mir.TypeCoroutine:
		return true, nil
	case mir.TypeArray, mir.TypeSlice:
		fields = []mir.TypeID{t.Elem}
	case mir.TypeTuple, mir.TypeStruct, mir.TypeClosure, mir.TypeUnion:
		fields = t.Fields
	case mir.TypeEnum:
		for _, v := range t.Variants {
			fields = append(fields, v.Fields...)
		}
	}

	for _, ft := range fields {
		if ok, err := e.containsPointer(ft, depth+1); err != nil || ok {
			return ok, err
		}
	}
	return false, nil
}

// validity returns the condition under which the bytes at off are a valid
// value of a pointer-free type.
func (e *Executor) validity(b *Bytes, off uint64, ty mir.TypeID, l *Layout) Expr {
	t := e.prog.Type(ty)
	if l.Uninhabited {
		return NewBoolConstantExpr(false)
	}

	switch t.Kind {
	case mir.TypeBool:
		return newUleExpr(b.Data[off], NewConstantExpr8(1))

	case mir.TypeChar:
		x := b.expr(off, 4)
		return NewAndExpr(
			newUleExpr(x, NewConstantExpr32(0x10FFFF)),
			NewOrExpr(newUltExpr(x, NewConstantExpr32(0xD800)), newUltExpr(NewConstantExpr32(0xDFFF), x)),
		)

	case mir.TypeInt, mir.TypeUint, mir.TypeFloat:
		if l.Scalar != nil && !l.Scalar.IsFull() && l.Size > 0 {
			return rangeExpr(b.expr(off, l.Size), l.Scalar)
		}
		return NewBoolConstantExpr(true)

	case mir.TypeArray:
		el := e.layouts.MustLayout(t.Elem)
		conds := make([]Expr, 0, t.Len)
		for i := uint64(0); i < t.Len; i++ {
			conds = append(conds, e.validity(b, off+i*el.Size, t.Elem, el))
		}
		return NewAndExpr(conds...)

	case mir.TypeTuple, mir.TypeStruct, mir.TypeClosure:
		return e.fieldsValidity(b, off, t.Fields, l.Offsets)

	case mir.TypeEnum:
		if len(t.Variants) == 0 {
			return NewBoolConstantExpr(false)
		} else if l.Tag == nil {
			return e.fieldsValidity(b, off, t.Variants[0].Fields, l.Variants[0].Offsets)
		}
		conds := variantConds(b.expr(off+l.Tag.Offset, uint64(l.Tag.Bits/8)), t, l.Tag)
		alts := make([]Expr, 0, len(conds))
		for i, cond := range conds {
			if l.Variants[i].Uninhabited {
				continue
			}
			alts = append(alts, NewAndExpr(cond, e.fieldsValidity(b, off, t.Variants[i].Fields, l.Variants[i].Offsets)))
		}
		if len(alts) == 0 {
			return NewBoolConstantExpr(false)
		}
		return NewOrExpr(alts...)

	default:
		return NewBoolConstantExpr(true)
	}
}

func (e *Executor) fieldsValidity(b *Bytes, off uint64, types []mir.TypeID, offsets []uint64) Expr {
	conds := make([]Expr, 0, len(types))
	for i, ft := range types {
		conds = append(conds, e.validity(b, off+offsets[i], ft, e.layouts.MustLayout(ft)))
	}
	if len(conds) == 0 {
		return NewBoolConstantExpr(true)
	}
	return NewAndExpr(conds...)
}
