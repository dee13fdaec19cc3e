package mirv

import (
	"fmt"
	"math/big"

	"github.com/benbjohnson/immutable"
	"github.com/benbjohnson/mirv/mir"
	"github.com/holiman/uint256"
)

// AllocationKind represents the origin of an allocation.
type AllocationKind string

const (
	AllocationStack    = AllocationKind("stack")    // local variable
	AllocationHeap     = AllocationKind("heap")     // Box or allocator call
	AllocationConst    = AllocationKind("const")    // materialized constant
	AllocationStatic   = AllocationKind("static")   // static item, one per session
	AllocationFunction = AllocationKind("function") // target of a function pointer
	AllocationVtable   = AllocationKind("vtable")   // trait object vtable
	AllocationInput    = AllocationKind("input")    // pointee of a symbolic input
)

// baseAddr is the address of the first allocation. Lower addresses are
// never valid so small integers cast to pointers always dangle.
const baseAddr = 0x1000

// allocationGap separates consecutive allocations so that a one-past-the-end
// address never equals the start of the next allocation.
const allocationGap = 16

// Allocation represents a contiguous region of bytes with its own provenance.
// Allocations are values; mutating methods on ExecutionState replace them.
type Allocation struct {
	ID      uint64
	Kind    AllocationKind
	Name    string
	Base    uint64
	Size    uint64
	Align   uint64
	Mutable bool
	Live    bool
	Exposed bool

	// Byte contents and the provenance of pointers stored within, keyed by
	// the offset of the first byte of the pointer.
	Data *Array
	Prov *immutable.SortedMap

	Fn     mir.FuncID  // function allocations
	Global mir.AllocID // global allocations
}

// String returns a short description of the allocation.
func (a *Allocation) String() string {
	s := fmt.Sprintf("alloc%d(%s size=%d align=%d base=%#x", a.ID, a.Kind, a.Size, a.Align, a.Base)
	if a.Name != "" {
		s += " name=" + a.Name
	}
	if !a.Live {
		s += " dead"
	}
	return s + ")"
}

func (a *Allocation) clone() *Allocation {
	other := *a
	return &other
}

// Allocate creates a new zero-filled, live allocation.
func (s *ExecutionState) Allocate(kind AllocationKind, size, align uint64, mutable bool) *Allocation {
	if align == 0 {
		align = 1
	}

	s.allocSeq++
	start := alignTo(s.nextBase, align)
	if start < baseAddr {
		start = alignTo(baseAddr, align)
	}
	s.nextBase = alignTo(start+size+allocationGap, 8)

	a := &Allocation{
		ID:      s.allocSeq,
		Kind:    kind,
		Base:    start,
		Size:    size,
		Align:   align,
		Mutable: mutable,
		Live:    true,
		Data:    NewConcreteArray(s.allocSeq, make([]byte, size)),
		Prov:    immutable.NewSortedMap(&uint64Comparer{}),
	}
	s.setAllocation(a)

	allocationsTotal.Inc()
	logf("alloc", "%s", a)
	return a
}

// allocateSymbolic creates an allocation whose contents are a named input
// of type ty.
func (s *ExecutionState) allocateSymbolic(kind AllocationKind, name string, ty mir.TypeID, size, align uint64, mutable bool) *Allocation {
	a := s.Allocate(kind, size, align, mutable).clone()
	a.Name = name
	a.Data = NewArray(a.ID, uint(size))
	a.Data.Name = name
	s.setAllocation(a)
	s.inputs = append(s.inputs, &Input{Name: name, Type: ty, Array: a.Data})
	return a
}

// Allocation returns the allocation with the given id, or nil.
func (s *ExecutionState) Allocation(id uint64) *Allocation {
	return s.allocation(id)
}

func (s *ExecutionState) allocation(id uint64) *Allocation {
	if v, ok := s.heap.Get(id); ok {
		return v.(*Allocation)
	}
	return nil
}

func (s *ExecutionState) setAllocation(a *Allocation) {
	s.heap = s.heap.Set(a.ID, a)
	s.addrs = s.addrs.Set(a.Base, a.ID)
}

// free marks an allocation dead. Its id and address are never reused.
func (s *ExecutionState) free(id uint64) {
	if a := s.allocation(id); a != nil && a.Live {
		a = a.clone()
		a.Live = false
		s.setAllocation(a)
		logf("alloc", "free alloc%d", id)
	}
}

// allocationAt returns the allocation whose range contains addr, including
// its one-past-the-end address.
func (s *ExecutionState) allocationAt(addr uint64) *Allocation {
	itr := s.addrs.Iterator()
	if itr.Seek(addr); itr.Done() {
		itr.Last()
	}

	for !itr.Done() {
		k, v := itr.Prev()
		if base := k.(uint64); base > addr {
			continue
		}
		a := s.allocation(v.(uint64))
		if addr <= a.Base+a.Size {
			return a
		}
		return nil
	}
	return nil
}

// pointerAddr returns the absolute address of p.
func (s *ExecutionState) pointerAddr(p *Pointer) (Expr, error) {
	if p.Alloc == 0 {
		return p.Offset, nil
	}
	a := s.allocation(p.Alloc)
	if a == nil {
		return nil, stuckFault("pointer to unknown allocation %d", p.Alloc)
	}
	return NewBinaryExpr(ADD, NewConstantExpr64(a.Base), p.Offset), nil
}

// checkAccess verifies that size bytes at p may be read or written with the
// given alignment. Returns the allocation, or nil for zero-sized accesses.
func (s *ExecutionState) checkAccess(p *Pointer, size, align uint64, write bool) (*Allocation, error) {
	e := s.executor

	if size == 0 {
		if p.Alloc == 0 {
			return nil, e.require(s, NewNotExpr(NewIsZeroExpr(p.Offset)), ubFault(UBDanglingPointer, "null pointer access"))
		}
		return nil, nil
	} else if p.Alloc == 0 {
		return nil, ubFault(UBDanglingPointer, "access through pointer without provenance at %s", p.Offset)
	}

	a := s.allocation(p.Alloc)
	if a == nil {
		return nil, ubFault(UBDanglingPointer, "access to unknown allocation %d", p.Alloc)
	} else if !a.Live {
		return nil, ubFault(UBUseAfterFree, "access to dead allocation %d", a.ID)
	}

	// Bounds: offset + size <= allocation size, computed without overflow.
	var inBounds Expr
	if size > a.Size {
		inBounds = NewBoolConstantExpr(false)
	} else {
		inBounds = newUleExpr(p.Offset, NewConstantExpr64(a.Size-size))
	}
	if err := e.require(s, inBounds, ubFault(UBOutOfBoundsAccess, "access of %d bytes at offset %s of alloc%d with size %d", size, p.Offset, a.ID, a.Size)); err != nil {
		return nil, err
	}

	if align > 1 {
		addr := NewBinaryExpr(ADD, NewConstantExpr64(a.Base), p.Offset)
		aligned := NewIsZeroExpr(NewBinaryExpr(AND, addr, NewConstantExpr64(align-1)))
		if err := e.require(s, aligned, ubFault(UBMisalignedDereference, "address %s is not aligned to %d", addr, align)); err != nil {
			return nil, err
		}
	}

	if write && !a.Mutable {
		return nil, ubFault(UBWriteToImmutable, "write to immutable alloc%d", a.ID)
	}
	return a, nil
}

// readBytes returns n bytes of an allocation starting at off.
func (s *ExecutionState) readBytes(a *Allocation, off Expr, n uint64) (*Bytes, error) {
	b := &Bytes{Data: make([]Expr, n), Prov: make(map[uint64]uint64)}

	c, ok := off.(*ConstantExpr)
	if !ok {
		if a.Prov.Len() > 0 {
			return nil, stuckFault("symbolic offset read from alloc%d holding pointers", a.ID)
		}
		for i := range b.Data {
			b.Data[i] = a.Data.Select(NewBinaryExpr(ADD, off, NewConstantExpr64(uint64(i))), Width8)
		}
		return b, nil
	}

	start := c.Uint64()
	copy(b.Data, a.Data.SelectBytes(start, n))

	itr := a.Prov.Iterator()
	itr.Seek(start)
	for !itr.Done() {
		k, v := itr.Next()
		if k.(uint64)+8 > start+n {
			break
		}
		b.Prov[k.(uint64)-start] = v.(uint64)
	}
	return b, nil
}

// writeBytes stores b into an allocation at off.
func (s *ExecutionState) writeBytes(a *Allocation, off Expr, b *Bytes) error {
	n := uint64(len(b.Data))
	other := a.clone()

	c, ok := off.(*ConstantExpr)
	if !ok {
		if a.Prov.Len() > 0 || len(b.Prov) > 0 {
			return stuckFault("symbolic offset write to alloc%d involving pointers", a.ID)
		}
		data := a.Data
		for i, x := range b.Data {
			data = data.Store(NewBinaryExpr(ADD, off, NewConstantExpr64(uint64(i))), x)
		}
		other.Data = data
		s.setAllocation(other)
		return nil
	}

	start := c.Uint64()
	other.Data = a.Data.StoreBytes(start, b.Data)

	// Drop provenance of any pointer overlapping the written range.
	prov := a.Prov
	lo := uint64(0)
	if start >= 7 {
		lo = start - 7
	}
	itr := a.Prov.Iterator()
	itr.Seek(lo)
	for !itr.Done() {
		k, _ := itr.Next()
		if k.(uint64) >= start+n {
			break
		}
		prov = prov.Delete(k)
	}
	for k, v := range b.Prov {
		prov = prov.Set(start+k, v)
	}
	other.Prov = prov

	s.setAllocation(other)
	return nil
}

// load reads and decodes the value at a location.
func (s *ExecutionState) load(loc *Location) (Value, error) {
	l, err := s.executor.layouts.Layout(loc.Type)
	if err != nil {
		return nil, err
	} else if l.Unsized {
		return nil, stuckFault("load of unsized value of type %s", s.executor.prog.Type(loc.Type))
	}

	b, err := s.loadBytes(loc.Ptr, l.Size, loc.Align)
	if err != nil {
		return nil, err
	}
	return s.Decode(b, loc.Type)
}

// loadBytes reads size bytes at p after checking the access.
func (s *ExecutionState) loadBytes(p *Pointer, size, align uint64) (*Bytes, error) {
	a, err := s.checkAccess(p, size, align, false)
	if err != nil {
		return nil, err
	} else if a == nil {
		return newBytes(0), nil
	}
	return s.readBytes(a, p.Offset, size)
}

// store encodes and writes a value to a location.
func (s *ExecutionState) store(loc *Location, v Value) error {
	b, err := s.Encode(v, loc.Type)
	if err != nil {
		return err
	}
	return s.storeBytes(loc.Ptr, b, loc.Align)
}

// storeBytes writes b at p after checking the access.
func (s *ExecutionState) storeBytes(p *Pointer, b *Bytes, align uint64) error {
	a, err := s.checkAccess(p, uint64(len(b.Data)), align, true)
	if err != nil || a == nil {
		return err
	}
	return s.writeBytes(a, p.Offset, b)
}

// setVariant writes only the tag of an enum at loc.
func (s *ExecutionState) setVariant(loc *Location, variant int) error {
	t := s.executor.prog.Type(loc.Type)
	l, err := s.executor.layouts.Layout(loc.Type)
	if err != nil {
		return err
	} else if t.Kind != mir.TypeEnum || variant < 0 || variant >= len(t.Variants) {
		return stuckFault("set_discriminant %d on %s", variant, t)
	} else if l.Tag == nil || (l.Tag.Encoding == TagNiche && variant == l.Tag.Untagged) {
		return nil
	}

	n := uint64(l.Tag.Bits / 8)
	tagPtr := loc.Ptr.Thin().WithOffset(NewBinaryExpr(ADD, loc.Ptr.Offset, NewConstantExpr64(l.Tag.Offset)))
	b := newBytes(n)
	tmp := newBytes(l.Size)
	if err := s.writeTag(tmp, 0, variant, t, l); err != nil {
		return err
	}
	b.put(0, tmp.slice(l.Tag.Offset, n))
	return s.storeBytes(tagPtr, b, 1)
}

// global returns the allocation id backing a global allocation. Memory
// constants are materialized into a fresh allocation on every call; statics,
// functions and vtables are created once per path.
func (s *ExecutionState) global(id mir.AllocID) (uint64, error) {
	g := s.executor.prog.Alloc(id)
	if g == nil {
		return 0, stuckFault("unknown global allocation %d", id)
	}

	if g.Kind != mir.AllocMemory {
		if v, ok := s.globals.Get(int(id)); ok {
			return v.(uint64), nil
		}
	}

	var a *Allocation
	switch g.Kind {
	case mir.AllocMemory:
		a = s.Allocate(AllocationConst, uint64(len(g.Bytes)), g.Align, g.Mut)
	case mir.AllocStatic:
		a = s.Allocate(AllocationStatic, uint64(len(g.Bytes)), g.Align, g.Mut)
	case mir.AllocFunction:
		a = s.Allocate(AllocationFunction, 0, 1, false)
	case mir.AllocVtable:
		a = s.Allocate(AllocationVtable, uint64(8*(3+len(g.Methods))), 8, false)
	default:
		return 0, stuckFault("unsupported global allocation kind %q", g.Kind)
	}

	a = a.clone()
	a.Fn, a.Global = g.Fn, g.ID
	if g.Kind == mir.AllocFunction {
		if fn := s.executor.prog.Function(g.Fn); fn != nil {
			a.Name = fn.Name
		}
	}
	s.setAllocation(a)
	if g.Kind != mir.AllocMemory {
		s.globals = s.globals.Set(int(id), a.ID)
	}

	if len(g.Bytes) > 0 {
		b, err := s.constantBytes(g.Bytes, g.Prov)
		if err != nil {
			return 0, err
		}
		if err := s.writeBytes(a, NewConstantExpr64(0), b); err != nil {
			return 0, err
		}
	}
	return a.ID, nil
}

// constantBytes converts a constant blob into bytes, relocating stored
// pointers against the allocations their provenance names.
func (s *ExecutionState) constantBytes(data []byte, prov []*mir.Provenance) (*Bytes, error) {
	b := newBytes(uint64(len(data)))
	for i, v := range data {
		b.Data[i] = NewConstantExpr8(uint64(v))
	}

	for _, p := range prov {
		if p.Offset+8 > uint64(len(data)) {
			return nil, stuckFault("provenance at offset %d outside constant of size %d", p.Offset, len(data))
		}
		id, err := s.global(p.Alloc)
		if err != nil {
			return nil, err
		}
		var rel uint64
		for i := uint64(0); i < 8; i++ {
			rel |= uint64(data[p.Offset+i]) << (8 * i)
		}
		b.putExpr(p.Offset, NewConstantExpr64(s.allocation(id).Base+rel))
		b.Prov[p.Offset] = id
	}
	return b, nil
}

// Materialize returns the value of a constant operand.
func (s *ExecutionState) Materialize(c *mir.Constant) (Value, error) {
	t := s.executor.prog.Type(c.Type)
	if t == nil {
		return nil, stuckFault("constant of unknown type %d", c.Type)
	}

	if c.Int != "" {
		return s.intConstant(c.Int, t)
	}

	l, err := s.executor.layouts.Layout(c.Type)
	if err != nil {
		return nil, err
	}

	// Slice and str constants are a thin pointer plus length; anything else
	// must match the type's size.
	data := c.Bytes
	if uint64(len(data)) < l.Size {
		padded := make([]byte, l.Size)
		copy(padded, data)
		data = padded
	}
	b, err := s.constantBytes(data, c.Prov)
	if err != nil {
		return nil, err
	}
	return s.Decode(b, c.Type)
}

// intConstant parses a decimal scalar literal of type t.
func (s *ExecutionState) intConstant(text string, t *mir.Type) (Value, error) {
	n, ok := new(big.Int).SetString(text, 10)
	if !ok {
		return nil, stuckFault("invalid integer literal %q", text)
	}

	var w uint
	switch t.Kind {
	case mir.TypeBool:
		return NewBoolScalar(n.Sign() != 0), nil
	case mir.TypeChar:
		w = Width32
	case mir.TypeInt, mir.TypeUint:
		w = t.IntBits()
	default:
		return nil, stuckFault("integer literal for %s", t)
	}

	// Two's complement for negative literals.
	if n.Sign() < 0 {
		n.Add(n, new(big.Int).Lsh(big.NewInt(1), w))
	}
	v, overflow := uint256.FromBig(n)
	if overflow {
		return nil, stuckFault("integer literal %s overflows %s", text, t)
	}
	return NewScalar(NewConstantExprInt(v, w)), nil
}

// expose marks the allocation of p as exposed so that integers cast back to
// pointers may recover its provenance.
func (s *ExecutionState) expose(p *Pointer) {
	if a := s.allocation(p.Alloc); a != nil && !a.Exposed {
		a = a.clone()
		a.Exposed = true
		s.setAllocation(a)
	}
}

// withExposed returns a pointer for an integer address, recovering the
// provenance of an exposed allocation containing it.
func (s *ExecutionState) withExposed(addr Expr) *Pointer {
	c, ok := addr.(*ConstantExpr)
	if !ok || !c.IsUint64() {
		return &Pointer{Offset: addr}
	}
	if a := s.allocationAt(c.Uint64()); a != nil && a.Exposed {
		return NewPointer(a.ID, c.Uint64()-a.Base)
	}
	return &Pointer{Offset: addr}
}

// uint64Comparer compares two 64-bit unsigned integers. Implements immutable.Comparer.
type uint64Comparer struct{}

// Compare returns -1 if a is less than b, returns 1 if a is greater than b, and
// returns 0 if a is equal to b. Panic if a or b is not a uint64.
func (c *uint64Comparer) Compare(a, b interface{}) int {
	if i, j := a.(uint64), b.(uint64); i < j {
		return -1
	} else if i > j {
		return 1
	}
	return 0
}
