package mirv

import (
	"fmt"
	"sort"
	"strings"
)

// Value represents a typed value held outside of memory. Values are
// immutable; writing one to memory encodes it into bytes.
type Value interface {
	value()
	String() string
}

func (*Scalar) value()    {}
func (*Pointer) value()   {}
func (*Aggregate) value() {}
func (*Bytes) value()     {}

// Scalar represents an integer, boolean, char or float bit pattern.
// Booleans are one bit wide; everything else has the width of its type.
type Scalar struct {
	X Expr
}

// NewScalar returns a scalar holding x.
func NewScalar(x Expr) *Scalar { return &Scalar{X: x} }

// NewIntScalar returns a constant scalar of the given width.
func NewIntScalar(v uint64, width uint) *Scalar {
	return &Scalar{X: NewConstantExpr(v, width)}
}

// NewBoolScalar returns a constant boolean scalar.
func NewBoolScalar(v bool) *Scalar {
	return &Scalar{X: NewBoolConstantExpr(v)}
}

// Constant returns the scalar as a constant, if it is one.
func (v *Scalar) Constant() (*ConstantExpr, bool) {
	c, ok := v.X.(*ConstantExpr)
	return c, ok
}

// String returns the string representation of the scalar.
func (v *Scalar) String() string { return v.X.String() }

// Pointer represents an address with optional provenance and metadata.
type Pointer struct {
	// Allocation the pointer was derived from. Zero for pointers without
	// provenance, in which case Offset holds the absolute address.
	Alloc uint64

	// Byte offset from the start of the allocation, 64 bits wide.
	Offset Expr

	// Metadata of a fat pointer: a length scalar for slices and str, or a
	// vtable pointer for trait objects. Nil for thin pointers.
	Meta Value
}

// NewPointer returns a thin pointer into an allocation at a constant offset.
func NewPointer(alloc uint64, offset uint64) *Pointer {
	return &Pointer{Alloc: alloc, Offset: NewConstantExpr64(offset)}
}

// NewAddrPointer returns a pointer without provenance at an absolute address.
func NewAddrPointer(addr uint64) *Pointer {
	return &Pointer{Offset: NewConstantExpr64(addr)}
}

// IsNull returns true if the pointer is known to be null.
func (p *Pointer) IsNull() bool {
	c, ok := p.Offset.(*ConstantExpr)
	return p.Alloc == 0 && ok && c.IsZero()
}

// Len returns the length metadata of a slice pointer.
func (p *Pointer) Len() (Expr, bool) {
	if s, ok := p.Meta.(*Scalar); ok {
		return s.X, true
	}
	return nil, false
}

// Vtable returns the vtable metadata of a trait object pointer.
func (p *Pointer) Vtable() (*Pointer, bool) {
	vt, ok := p.Meta.(*Pointer)
	return vt, ok
}

// WithOffset returns a copy of the pointer at a new offset.
func (p *Pointer) WithOffset(offset Expr) *Pointer {
	other := *p
	other.Offset = offset
	return &other
}

// Thin returns a copy of the pointer without metadata.
func (p *Pointer) Thin() *Pointer {
	other := *p
	other.Meta = nil
	return &other
}

// String returns the string representation of the pointer.
func (p *Pointer) String() string {
	var s string
	if p.Alloc == 0 {
		s = fmt.Sprintf("(ptr %s)", p.Offset)
	} else {
		s = fmt.Sprintf("(ptr alloc%d+%s)", p.Alloc, p.Offset)
	}
	if p.Meta != nil {
		s = s[:len(s)-1] + " " + p.Meta.String() + ")"
	}
	return s
}

// Aggregate represents a struct, tuple, array, closure or enum value.
type Aggregate struct {
	// Active enum variant, or -1 for other aggregates.
	Variant int

	// Field values by declaration index.
	Fields []Value
}

// NewAggregate returns a non-enum aggregate.
func NewAggregate(fields ...Value) *Aggregate {
	return &Aggregate{Variant: -1, Fields: fields}
}

// NewVariant returns an enum value of the given variant.
func NewVariant(variant int, fields ...Value) *Aggregate {
	return &Aggregate{Variant: variant, Fields: fields}
}

// String returns the string representation of the aggregate.
func (v *Aggregate) String() string {
	a := make([]string, len(v.Fields))
	for i, f := range v.Fields {
		a[i] = f.String()
	}
	if v.Variant >= 0 {
		return fmt.Sprintf("(variant %d {%s})", v.Variant, strings.Join(a, " "))
	}
	return "{" + strings.Join(a, " ") + "}"
}

// Bytes represents raw memory contents, such as a union, with the
// provenance of any pointers stored within.
type Bytes struct {
	Data []Expr
	Prov map[uint64]uint64 // relative offset to allocation id
}

// String returns the string representation of the bytes.
func (v *Bytes) String() string {
	a := make([]string, len(v.Data))
	for i, b := range v.Data {
		a[i] = b.String()
	}
	s := "(bytes " + strings.Join(a, " ")
	offsets := make([]uint64, 0, len(v.Prov))
	for off := range v.Prov {
		offsets = append(offsets, off)
	}
	sort.Slice(offsets, func(i, j int) bool { return offsets[i] < offsets[j] })
	for _, off := range offsets {
		s += fmt.Sprintf(" @%d:alloc%d", off, v.Prov[off])
	}
	return s + ")"
}

// IsConstantValue returns true if the value contains no symbolic expressions.
func IsConstantValue(v Value) bool {
	switch v := v.(type) {
	case *Scalar:
		return IsConstantExpr(v.X)
	case *Pointer:
		return IsConstantExpr(v.Offset) && (v.Meta == nil || IsConstantValue(v.Meta))
	case *Aggregate:
		for _, f := range v.Fields {
			if !IsConstantValue(f) {
				return false
			}
		}
		return true
	case *Bytes:
		for _, b := range v.Data {
			if !IsConstantExpr(b) {
				return false
			}
		}
		return true
	default:
		return false
	}
}

// ValueExprs returns every expression within the value.
func ValueExprs(v Value) []Expr {
	switch v := v.(type) {
	case *Scalar:
		return []Expr{v.X}
	case *Pointer:
		a := []Expr{v.Offset}
		if v.Meta != nil {
			a = append(a, ValueExprs(v.Meta)...)
		}
		return a
	case *Aggregate:
		var a []Expr
		for _, f := range v.Fields {
			a = append(a, ValueExprs(f)...)
		}
		return a
	case *Bytes:
		return v.Data
	default:
		return nil
	}
}
