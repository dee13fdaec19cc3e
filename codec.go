package mirv

import (
	"github.com/benbjohnson/mirv/mir"
)

// newBytes returns n zero bytes.
func newBytes(n uint64) *Bytes {
	b := &Bytes{Data: make([]Expr, n), Prov: make(map[uint64]uint64)}
	for i := range b.Data {
		b.Data[i] = NewConstantExpr8(0)
	}
	return b
}

// slice returns a copy of n bytes starting at off, with provenance rebased.
func (b *Bytes) slice(off, n uint64) *Bytes {
	other := &Bytes{Data: make([]Expr, n), Prov: make(map[uint64]uint64)}
	copy(other.Data, b.Data[off:off+n])
	for k, v := range b.Prov {
		if k >= off && k+8 <= off+n {
			other.Prov[k-off] = v
		}
	}
	return other
}

// put copies other into b at off, replacing provenance in the range.
func (b *Bytes) put(off uint64, other *Bytes) {
	n := uint64(len(other.Data))
	copy(b.Data[off:], other.Data)
	for k := range b.Prov {
		if k+8 > off && k < off+n {
			delete(b.Prov, k)
		}
	}
	for k, v := range other.Prov {
		b.Prov[off+k] = v
	}
}

// putExpr writes the little-endian bytes of x at off.
func (b *Bytes) putExpr(off uint64, x Expr) {
	if ExprWidth(x) == WidthBool {
		x = newZExtExpr(x, Width8)
	}
	n := uint64(ExprWidth(x) / 8)
	for i := uint64(0); i < n; i++ {
		b.Data[off+i] = NewExtractExpr(x, uint(i*8), Width8)
	}
	for k := range b.Prov {
		if k+8 > off && k < off+n {
			delete(b.Prov, k)
		}
	}
}

// expr returns n little-endian bytes at off as a single expression.
func (b *Bytes) expr(off, n uint64) Expr {
	assert(n > 0, "bytes: empty read")
	result := b.Data[off]
	for i := uint64(1); i < n; i++ {
		result = NewConcatExpr(b.Data[off+i], result)
	}
	return result
}

// Concrete returns the bytes if every one is constant.
func (b *Bytes) Concrete() ([]byte, bool) {
	buf := make([]byte, len(b.Data))
	for i, x := range b.Data {
		c, ok := x.(*ConstantExpr)
		if !ok {
			return nil, false
		}
		buf[i] = byte(c.Uint64())
	}
	return buf, true
}

// Encode returns the memory image of v as a value of type ty.
func (s *ExecutionState) Encode(v Value, ty mir.TypeID) (*Bytes, error) {
	l, err := s.executor.layouts.Layout(ty)
	if err != nil {
		return nil, err
	} else if l.Unsized {
		return nil, stuckFault("encode: unsized value of type %d", ty)
	}

	b := newBytes(l.Size)
	if err := s.encodeAt(b, 0, v, ty, l); err != nil {
		return nil, err
	}
	return b, nil
}

func (s *ExecutionState) encodeAt(b *Bytes, off uint64, v Value, ty mir.TypeID, l *Layout) error {
	t := s.executor.prog.Type(ty)

	switch v := v.(type) {
	case *Bytes:
		if uint64(len(v.Data)) != l.Size {
			return ubFault(UBInvalidTransmute, "cannot encode %d bytes as %s of size %d", len(v.Data), t, l.Size)
		}
		b.put(off, v)
		return nil

	case *Scalar:
		w := ExprWidth(v.X)
		if w != WidthBool && uint64(w) != l.Size*8 {
			return stuckFault("encode: scalar of width %d as %s", w, t)
		}
		b.putExpr(off, v.X)
		return nil

	case *Pointer:
		if err := s.encodePointer(b, off, v); err != nil {
			return err
		}
		if v.Meta != nil && l.Size >= 16 {
			switch meta := v.Meta.(type) {
			case *Scalar:
				b.putExpr(off+8, newZExtExpr(meta.X, PointerWidth))
			case *Pointer:
				return s.encodePointer(b, off+8, meta)
			}
		}
		return nil

	case *Aggregate:
		switch t.Kind {
		case mir.TypeEnum:
			return s.encodeEnum(b, off, v, t, l)
		case mir.TypeArray:
			elem, err := s.executor.layouts.Layout(t.Elem)
			if err != nil {
				return err
			}
			for i, f := range v.Fields {
				if err := s.encodeAt(b, off+uint64(i)*elem.Size, f, t.Elem, elem); err != nil {
					return err
				}
			}
			return nil
		default:
			return s.encodeFields(b, off, v.Fields, t.Fields, l.Offsets)
		}

	default:
		return stuckFault("encode: unexpected value %T", v)
	}
}

func (s *ExecutionState) encodeFields(b *Bytes, off uint64, values []Value, types []mir.TypeID, offsets []uint64) error {
	if len(values) != len(types) {
		return stuckFault("encode: %d fields for %d types", len(values), len(types))
	}
	for i, f := range values {
		fl, err := s.executor.layouts.Layout(types[i])
		if err != nil {
			return err
		}
		if err := s.encodeAt(b, off+offsets[i], f, types[i], fl); err != nil {
			return err
		}
	}
	return nil
}

func (s *ExecutionState) encodePointer(b *Bytes, off uint64, p *Pointer) error {
	addr, err := s.pointerAddr(p)
	if err != nil {
		return err
	}
	b.putExpr(off, addr)
	if p.Alloc != 0 {
		b.Prov[off] = p.Alloc
	}
	return nil
}

func (s *ExecutionState) encodeEnum(b *Bytes, off uint64, v *Aggregate, t *mir.Type, l *Layout) error {
	if v.Variant < 0 || v.Variant >= len(t.Variants) {
		return stuckFault("encode: variant %d of %s", v.Variant, t)
	}
	if err := s.encodeFields(b, off, v.Fields, t.Variants[v.Variant].Fields, l.Variants[v.Variant].Offsets); err != nil {
		return err
	}
	return s.writeTag(b, off, v.Variant, t, l)
}

// writeTag writes the tag encoding of a variant. Payload bytes are not touched.
func (s *ExecutionState) writeTag(b *Bytes, off uint64, variant int, t *mir.Type, l *Layout) error {
	tag := l.Tag
	if tag == nil {
		return nil
	}

	switch tag.Encoding {
	case TagDirect:
		discr := t.Discriminants()[variant]
		b.putExpr(off+tag.Offset, NewSignedConstantExpr(discr, tag.Bits))
	case TagNiche:
		if variant == tag.Untagged {
			return nil
		}
		value := (uint64(variant-tag.First) + tag.NicheStart) & mask64(tag.Bits)
		b.putExpr(off+tag.Offset, NewConstantExpr(value, tag.Bits))
	}
	return nil
}

// Decode interprets b as a value of type ty, checking validity.
func (s *ExecutionState) Decode(b *Bytes, ty mir.TypeID) (Value, error) {
	l, err := s.executor.layouts.Layout(ty)
	if err != nil {
		return nil, err
	} else if l.Unsized {
		return nil, stuckFault("decode: unsized value of type %d", ty)
	} else if uint64(len(b.Data)) < l.Size {
		return nil, stuckFault("decode: %d bytes for type of size %d", len(b.Data), l.Size)
	}
	return s.decodeAt(b, 0, ty, l)
}

func (s *ExecutionState) decodeAt(b *Bytes, off uint64, ty mir.TypeID, l *Layout) (Value, error) {
	e := s.executor
	t := e.prog.Type(ty)

	switch t.Kind {
	case mir.TypeBool:
		x := b.Data[off]
		if err := e.require(s, newUleExpr(x, NewConstantExpr8(1)), ubFault(UBInvalidValue, "invalid bool")); err != nil {
			return nil, err
		}
		return NewScalar(NewExtractExpr(x, 0, WidthBool)), nil

	case mir.TypeChar:
		x := b.expr(off, 4)
		valid := NewAndExpr(
			newUleExpr(x, NewConstantExpr32(0x10FFFF)),
			NewOrExpr(
				newUltExpr(x, NewConstantExpr32(0xD800)),
				newUltExpr(NewConstantExpr32(0xDFFF), x),
			),
		)
		if err := e.require(s, valid, ubFault(UBInvalidValue, "invalid char")); err != nil {
			return nil, err
		}
		return NewScalar(x), nil

	case mir.TypeInt, mir.TypeUint, mir.TypeFloat:
		x := b.expr(off, l.Size)
		if l.Scalar != nil && !l.Scalar.IsFull() {
			if err := e.require(s, rangeExpr(x, l.Scalar), ubFault(UBInvalidValue, "value outside valid range of %s", t)); err != nil {
				return nil, err
			}
		}
		return NewScalar(x), nil

	case mir.TypeFnPtr, mir.TypeRef, mir.TypeBox, mir.TypePtr:
		p, err := s.decodePointer(b, off)
		if err != nil {
			return nil, err
		}
		if t.Kind != mir.TypePtr && p.Alloc == 0 {
			if err := e.require(s, NewNotExpr(NewIsZeroExpr(p.Offset)), ubFault(UBInvalidValue, "null %s", t.Kind)); err != nil {
				return nil, err
			}
		}
		if l.Size == 16 {
			meta, err := e.layouts.MetadataKind(t.Elem)
			if err != nil {
				return nil, err
			}
			switch meta {
			case MetadataLength:
				p.Meta = NewScalar(b.expr(off+8, 8))
			case MetadataVtable:
				if p.Meta, err = s.decodePointer(b, off+8); err != nil {
					return nil, err
				}
			}
		}
		return p, nil

	case mir.TypeFnDef:
		return NewAggregate(), nil

	case mir.TypeNever:
		return nil, ubFault(UBInvalidValue, "value of uninhabited type")

	case mir.TypeCoroutine:
		return NewScalar(b.expr(off, 8)), nil

	case mir.TypeArray:
		elem, err := e.layouts.Layout(t.Elem)
		if err != nil {
			return nil, err
		}
		fields := make([]Value, t.Len)
		for i := range fields {
			if fields[i], err = s.decodeAt(b, off+uint64(i)*elem.Size, t.Elem, elem); err != nil {
				return nil, err
			}
		}
		return NewAggregate(fields...), nil

	case mir.TypeTuple, mir.TypeStruct, mir.TypeClosure:
		fields, err := s.decodeFields(b, off, t.Fields, l.Offsets)
		if err != nil {
			return nil, err
		}
		return NewAggregate(fields...), nil

	case mir.TypeUnion:
		return b.slice(off, l.Size), nil

	case mir.TypeEnum:
		return s.decodeEnum(b, off, t, l)

	default:
		return nil, stuckFault("decode: unsupported type %s", t)
	}
}

func (s *ExecutionState) decodeFields(b *Bytes, off uint64, types []mir.TypeID, offsets []uint64) ([]Value, error) {
	fields := make([]Value, len(types))
	for i, ft := range types {
		fl, err := s.executor.layouts.Layout(ft)
		if err != nil {
			return nil, err
		}
		if fields[i], err = s.decodeAt(b, off+offsets[i], ft, fl); err != nil {
			return nil, err
		}
	}
	return fields, nil
}

func (s *ExecutionState) decodePointer(b *Bytes, off uint64) (*Pointer, error) {
	addr := b.expr(off, 8)
	id, ok := b.Prov[off]
	if !ok {
		return &Pointer{Offset: addr}, nil
	}

	a := s.allocation(id)
	if a == nil {
		return nil, stuckFault("decode: provenance for unknown allocation %d", id)
	}
	return &Pointer{Alloc: id, Offset: NewBinaryExpr(SUB, addr, NewConstantExpr64(a.Base))}, nil
}

func (s *ExecutionState) decodeEnum(b *Bytes, off uint64, t *mir.Type, l *Layout) (Value, error) {
	if len(t.Variants) == 0 {
		return nil, ubFault(UBInvalidValue, "value of uninhabited enum %s", t)
	}

	variant, err := s.readVariant(b, off, t, l)
	if err != nil {
		return nil, err
	}

	vl := l.Variants[variant]
	if vl.Uninhabited {
		return nil, ubFault(UBInvalidValue, "uninhabited variant %s::%s", t, t.Variants[variant].Name)
	}
	fields, err := s.decodeFields(b, off, t.Variants[variant].Fields, vl.Offsets)
	if err != nil {
		return nil, err
	}
	return NewVariant(variant, fields...), nil
}

// readVariant returns the active variant of the enum stored at off. Symbolic
// tags fork the path once per feasible variant.
func (s *ExecutionState) readVariant(b *Bytes, off uint64, t *mir.Type, l *Layout) (int, error) {
	tag := l.Tag
	if tag == nil {
		return 0, nil
	}

	conds := variantConds(b.expr(off+tag.Offset, uint64(tag.Bits/8)), t, tag)
	fault := ubFault(UBInvalidDiscriminant, "invalid discriminant for %s", t)
	if err := s.executor.require(s, NewOrExpr(conds...), fault); err != nil {
		return 0, err
	}
	return s.executor.choose(s, conds)
}

// variantConds returns, for each variant, the condition under which the tag
// value x selects it.
func variantConds(x Expr, t *mir.Type, tag *Tag) []Expr {
	conds := make([]Expr, len(t.Variants))
	switch tag.Encoding {
	case TagDirect:
		for i, d := range t.Discriminants() {
			conds[i] = NewBinaryExpr(EQ, x, NewSignedConstantExpr(d, tag.Bits))
		}
	case TagNiche:
		relative := NewBinaryExpr(SUB, x, NewConstantExpr(tag.NicheStart, tag.Bits))
		isNiche := newUleExpr(relative, NewConstantExpr(uint64(tag.Last-tag.First), tag.Bits))
		for i := range conds {
			if i == tag.Untagged {
				conds[i] = NewNotExpr(isNiche)
			} else if i >= tag.First && i <= tag.Last {
				conds[i] = NewBinaryExpr(EQ, relative, NewConstantExpr(uint64(i-tag.First), tag.Bits))
			} else {
				conds[i] = NewBoolConstantExpr(false)
			}
		}
		if tag.Untagged >= tag.First && tag.Untagged <= tag.Last {
			self := NewBinaryExpr(EQ, relative, NewConstantExpr(uint64(tag.Untagged-tag.First), tag.Bits))
			conds[tag.Untagged] = NewOrExpr(conds[tag.Untagged], self)
		}
	}
	return conds
}

// rangeExpr returns a condition that x lies within a wrapping range.
func rangeExpr(x Expr, r *ScalarRange) Expr {
	w := ExprWidth(x)
	start, end := NewConstantExpr(r.Start, w), NewConstantExpr(r.End, w)
	if r.Start <= r.End {
		return NewAndExpr(newUleExpr(start, x), newUleExpr(x, end))
	}
	return NewOrExpr(newUleExpr(start, x), newUleExpr(x, end))
}
