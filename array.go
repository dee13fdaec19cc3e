package mirv

import (
	"fmt"
)

// Array represents the byte contents of an allocation. An array either
// starts from concrete initial contents or is an unconstrained symbolic
// input. Writes are recorded as a chain of updates; arrays are values and
// every write returns a new copy.
type Array struct {
	ID      uint64       // unique id
	Name    string       // symbolic input name, if any
	Size    uint         // width, in bytes
	Init    []byte       // concrete initial contents; nil if symbolic
	Updates *ArrayUpdate // linked list of updates, most recent first
}

// NewArray returns a new symbolic Array of the given size.
func NewArray(id uint64, size uint) *Array {
	return &Array{
		ID:   id,
		Size: size,
	}
}

// NewConcreteArray returns a new Array initialized with data. The caller
// must not modify data afterward.
func NewConcreteArray(id uint64, data []byte) *Array {
	if data == nil {
		data = []byte{}
	}
	return &Array{
		ID:   id,
		Size: uint(len(data)),
		Init: data,
	}
}

// String returns a string representation of the array.
func (a *Array) String() string {
	if a.Name != "" {
		return fmt.Sprintf("(array %s %d)", a.Name, a.Size)
	} else if a.ID != 0 {
		return fmt.Sprintf("(array #%d %d)", a.ID, a.Size)
	}
	return fmt.Sprintf("(array %d)", a.Size)
}

// Clone returns a copy of the array. Update chains are shared.
func (a *Array) Clone() *Array {
	other := *a
	return &other
}

// Root returns the array without any updates applied.
func (a *Array) Root() *Array {
	return &Array{ID: a.ID, Name: a.Name, Size: a.Size, Init: a.Init}
}

// IsSymbolic returns true if the array is rooted in a symbolic input.
func (a *Array) IsSymbolic() bool {
	return a.Init == nil
}

// Select reads a little-endian value of the given bit width from the array.
// Widths other than a boolean must be a multiple of eight.
func (a *Array) Select(offset Expr, width uint) Expr {
	assert(width > 0, "select: invalid width")

	offset = newZExtExpr(offset, Width64)
	if width == WidthBool {
		return NewExtractExpr(a.selectByte(offset), 0, WidthBool)
	}

	result := a.selectByte(offset)
	for i := uint64(1); i < uint64(width/8); i++ {
		result = NewConcatExpr(a.selectByte(byteOffset(offset, i)), result)
	}
	return result
}

// byteOffset returns base+i as a 64-bit index.
func byteOffset(base Expr, i uint64) Expr {
	return NewBinaryExpr(ADD, base, NewConstantExpr64(i))
}

// SelectBytes returns n bytes starting at a concrete offset.
func (a *Array) SelectBytes(offset uint64, n uint64) []Expr {
	out := make([]Expr, n)
	for i := range out {
		out[i] = a.selectByte(NewConstantExpr64(offset + uint64(i)))
	}
	return out
}

// selectByte reads one byte. Updates are searched newest first until one
// provably matches index. An update whose equality with index is unknown
// leaves the read symbolic.
func (a *Array) selectByte(index Expr) Expr {
	assert(ExprWidth(index) == Width64, "selectByte: invalid array index width: %d", ExprWidth(index))

	for upd := a.Updates; upd != nil; upd = upd.Next {
		switch eq := NewBinaryExpr(EQ, index, upd.Index); {
		case IsConstantTrue(eq):
			return upd.Value
		case !IsConstantExpr(eq):
			return NewSelectExpr(a, index)
		}
	}

	k, ok := index.(*ConstantExpr)
	if !ok || a.Init == nil {
		return NewSelectExpr(a, index)
	}
	assert(k.IsUint64() && k.Uint64() < uint64(len(a.Init)), "selectByte: index out of bounds: %s >= %d", k.Value.Dec(), len(a.Init))
	return NewConstantExpr8(uint64(a.Init[k.Uint64()]))
}

// Store writes a little-endian value at offset and returns the new array.
// The receiver is unchanged.
func (a *Array) Store(offset, value Expr) *Array {
	width := ExprWidth(value)
	assert(width > 0, "store: invalid width")

	other := a.Clone()
	offset = newZExtExpr(offset, Width64)
	if width == WidthBool {
		other.storeByte(offset, value)
		return other
	}

	for i := uint64(0); i < uint64(width/8); i++ {
		other.storeByte(byteOffset(offset, i), NewExtractExpr(value, uint(i)*8, Width8))
	}
	return other
}

// StoreBytes writes bytes starting at a concrete offset and returns the new array.
func (a *Array) StoreBytes(offset uint64, data []Expr) *Array {
	other := a.Clone()
	for i, b := range data {
		other.storeByte(NewConstantExpr64(offset+uint64(i)), b)
	}
	return other
}

// storeByte pushes a single byte write onto the update chain. A concrete
// index replaces any earlier concrete write to the same byte.
func (a *Array) storeByte(index, value Expr) {
	assert(ExprWidth(index) == Width64, "storeByte: invalid array index width: %d", ExprWidth(index))

	next := a.Updates
	if k, ok := index.(*ConstantExpr); ok {
		assert(k.IsUint64() && k.Uint64() < uint64(a.Size), "storeByte: index out of bounds: %s >= %d", k.Value.Dec(), a.Size)
		next = pruneUpdates(next, k)
	}
	a.Updates = NewArrayUpdate(index, value, next)
}

// pruneUpdates returns the chain without concrete updates to index. Pruning
// stops at the first symbolic index. Chains are shared between copies so
// nodes ahead of a removed update are copied rather than modified.
func pruneUpdates(upd *ArrayUpdate, index *ConstantExpr) *ArrayUpdate {
	// Collect the concrete prefix of the chain.
	var prefix []*ArrayUpdate
	var found bool
	tail := upd
	for ; tail != nil; tail = tail.Next {
		updIndex, ok := tail.Index.(*ConstantExpr)
		if !ok {
			break
		} else if updIndex.Value.Eq(&index.Value) {
			found = true
			continue
		}
		prefix = append(prefix, tail)
	}
	if !found {
		return upd
	}

	// Rebuild the prefix in front of the untouched tail.
	for i := len(prefix) - 1; i >= 0; i-- {
		tail = &ArrayUpdate{Index: prefix[i].Index, Value: prefix[i].Value, Next: tail}
	}
	return tail
}

// Bytes returns the contents of the array if every byte is concrete.
func (a *Array) Bytes() ([]byte, bool) {
	if a.Init == nil {
		return nil, false
	}
	buf := make([]byte, a.Size)
	copy(buf, a.Init)
	for upd := a.Updates; upd != nil; upd = upd.Next {
		if _, ok := upd.Index.(*ConstantExpr); !ok {
			return nil, false
		}
	}
	for i := uint(0); i < a.Size; i++ {
		b, ok := a.selectByte(NewConstantExpr64(uint64(i))).(*ConstantExpr)
		if !ok {
			return nil, false
		}
		buf[i] = byte(b.Uint64())
	}
	return buf, true
}

// Equal returns a boolean expression that holds when every byte of a equals
// the byte at the same index of other.
func (a *Array) Equal(other *Array) Expr {
	if a.Size != other.Size {
		return NewBoolConstantExpr(false)
	}

	conds := make([]Expr, 0, a.Size)
	for i := uint64(0); i < uint64(a.Size); i++ {
		index := NewConstantExpr64(i)
		eq := NewBinaryExpr(EQ, a.selectByte(index), other.selectByte(index))
		if IsConstantFalse(eq) {
			return eq
		}
		conds = append(conds, eq)
	}
	return NewAndExpr(conds...)
}

// NotEqual returns a boolean expression stating if a is not equal to other.
func (a *Array) NotEqual(other *Array) Expr {
	return NewNotExpr(a.Equal(other))
}

// CompareArray orders arrays by id, size, then update chain.
func CompareArray(a, b *Array) int {
	if a == nil || b == nil {
		return compareNil(a == nil, b == nil)
	}

	if c := compareUint(a.ID, b.ID); c != 0 {
		return c
	} else if c := compareUint(uint64(a.Size), uint64(b.Size)); c != 0 {
		return c
	}
	return CompareArrayUpdate(a.Updates, b.Updates)
}

// ArrayUpdate is a single byte write in an array's update chain.
type ArrayUpdate struct {
	Index Expr // 64-bit byte index
	Value Expr // 8-bit value
	Next  *ArrayUpdate
}

// NewArrayUpdate returns an update that is normalized to a 64-bit index and
// an 8-bit value.
func NewArrayUpdate(index, value Expr, next *ArrayUpdate) *ArrayUpdate {
	return &ArrayUpdate{
		Index: newZExtExpr(index, Width64),
		Value: newZExtExpr(value, Width8),
		Next:  next,
	}
}

// CompareArrayUpdate orders update chains element by element.
func CompareArrayUpdate(a, b *ArrayUpdate) int {
	for ; a != nil && b != nil; a, b = a.Next, b.Next {
		if c := compareExprs(a.Index, b.Index, a.Value, b.Value); c != 0 {
			return c
		}
	}
	return compareNil(a == nil, b == nil)
}

// compareNil orders nil before non-nil.
func compareNil(aNil, bNil bool) int {
	switch {
	case aNil == bNil:
		return 0
	case aNil:
		return -1
	}
	return 1
}
