package mirv

import (
	"fmt"
	"sort"
	"sync"

	"github.com/benbjohnson/mirv/mir"
)

// Layout represents the size, alignment and field placement of a type.
type Layout struct {
	Type  mir.TypeID
	Size  uint64
	Align uint64

	// Field offsets by declaration index. Memory lists field indices in
	// increasing offset order.
	Offsets []uint64
	Memory  []int

	// Enum variant layouts, by variant index. Single variant structs have none.
	Variants []*Layout
	Tag      *Tag

	// Largest range of invalid bit patterns within the type, if any.
	Niche *Niche

	// Valid range of a scalar type. Nil for aggregates.
	Scalar *ScalarRange

	// Element stride for arrays, slices and str.
	Stride uint64

	Unsized     bool
	Uninhabited bool
}

// IsZST returns true if the type occupies no bytes.
func (l *Layout) IsZST() bool { return l.Size == 0 && !l.Unsized }

// String returns a one-line summary of the layout.
func (l *Layout) String() string {
	s := fmt.Sprintf("size=%d align=%d", l.Size, l.Align)
	if l.Unsized {
		s += fmt.Sprintf(" unsized stride=%d", l.Stride)
	}
	if l.Uninhabited {
		s += " uninhabited"
	}
	if len(l.Offsets) > 0 {
		s += fmt.Sprintf(" offsets=%v", l.Offsets)
	}
	if t := l.Tag; t != nil {
		s += fmt.Sprintf(" tag=%s@%d:%d", t.Encoding, t.Offset, t.Bits)
		if t.Encoding == TagNiche {
			s += fmt.Sprintf(" niche=%d..%d->%d untagged=%d", t.First, t.Last, t.NicheStart, t.Untagged)
		}
	}
	return s
}

// FieldOffset returns the offset of field i of the given variant. Use a
// variant of -1 for structs, tuples and closures.
func (l *Layout) FieldOffset(variant, i int) uint64 {
	if variant >= 0 && l.Variants != nil {
		return l.Variants[variant].Offsets[i]
	}
	return l.Offsets[i]
}

// TagEncoding represents how an enum's variant is stored.
type TagEncoding int

const (
	// TagDirect stores the discriminant in a dedicated tag field.
	TagDirect TagEncoding = iota

	// TagNiche stores the variant in invalid values of a field of the
	// untagged variant.
	TagNiche
)

// String returns the name of the encoding.
func (e TagEncoding) String() string {
	switch e {
	case TagDirect:
		return "direct"
	case TagNiche:
		return "niche"
	default:
		return fmt.Sprintf("TagEncoding<%d>", int(e))
	}
}

// Tag describes the location and encoding of an enum's variant tag.
type Tag struct {
	Encoding TagEncoding
	Offset   uint64
	Bits     uint
	Signed   bool

	// Niche encoding: variants First..Last map to NicheStart onward,
	// any other value selects Untagged.
	Untagged    int
	First, Last int
	NicheStart  uint64
}

// ScalarRange represents an inclusive, possibly wrapping, range of valid
// values of a scalar with the given bit width.
type ScalarRange struct {
	Bits       uint
	Start, End uint64
}

// IsFull returns true if every bit pattern is valid.
func (r *ScalarRange) IsFull() bool {
	return r.Bits > 64 || (r.Start == 0 && r.End == mask64(r.Bits)) || r.End+1 == r.Start
}

// Contains returns true if v is in the range.
func (r *ScalarRange) Contains(v uint64) bool {
	if r.Start <= r.End {
		return v >= r.Start && v <= r.End
	}
	return v >= r.Start || v <= r.End
}

// Niche represents a scalar within a type whose valid range leaves values unused.
type Niche struct {
	Offset uint64
	ScalarRange
}

// Available returns the number of invalid values in the niche.
func (n *Niche) Available() uint64 {
	return (n.Start - n.End - 1) & mask64(n.Bits)
}

// reserve claims count invalid values. Returns the first reserved value and
// the niche with its valid range extended over the reserved values.
func (n *Niche) reserve(count uint64) (uint64, *Niche, bool) {
	if count == 0 || count > n.Available() {
		return 0, nil, false
	}
	max := mask64(n.Bits)

	moveStart := func() (uint64, *Niche, bool) {
		start := (n.Start - count) & max
		other := *n
		other.Start = start
		return start, &other, true
	}
	moveEnd := func() (uint64, *Niche, bool) {
		start := (n.End + 1) & max
		other := *n
		other.End = (n.End + count) & max
		return start, &other, true
	}

	distanceEndZero := max - n.End
	if n.Start > n.End {
		return moveEnd()
	} else if n.Start <= distanceEndZero {
		if count <= n.Start {
			return moveStart()
		}
		return moveEnd()
	}

	end := (n.End + count) & max
	if end >= 1 && end <= n.End {
		return moveStart()
	}
	return moveEnd()
}

// MetadataKind represents the metadata carried by a pointer to a type.
type MetadataKind int

const (
	MetadataNone MetadataKind = iota
	MetadataLength
	MetadataVtable
)

// LayoutResolver computes and caches layouts for a program's types.
type LayoutResolver struct {
	mu      sync.Mutex
	prog    *mir.Program
	cache   map[mir.TypeID]*Layout
	pending map[mir.TypeID]bool
}

// NewLayoutResolver returns a resolver for the types of prog.
func NewLayoutResolver(prog *mir.Program) *LayoutResolver {
	return &LayoutResolver{
		prog:    prog,
		cache:   make(map[mir.TypeID]*Layout),
		pending: make(map[mir.TypeID]bool),
	}
}

// Program returns the program whose types are resolved.
func (r *LayoutResolver) Program() *mir.Program { return r.prog }

// Layout returns the layout of the type with the given id.
func (r *LayoutResolver) Layout(id mir.TypeID) (*Layout, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.layout(id)
}

// MustLayout returns the layout of a type known to be valid. Panics on error.
func (r *LayoutResolver) MustLayout(id mir.TypeID) *Layout {
	l, err := r.Layout(id)
	if err != nil {
		panic(err)
	}
	return l
}

func (r *LayoutResolver) layout(id mir.TypeID) (*Layout, error) {
	if l := r.cache[id]; l != nil {
		return l, nil
	} else if r.pending[id] {
		return nil, fmt.Errorf("layout: recursive type without indirection: %d", id)
	}

	t := r.prog.Type(id)
	if t == nil {
		return nil, fmt.Errorf("layout: unknown type: %d", id)
	}

	r.pending[id] = true
	l, err := r.compute(t)
	delete(r.pending, id)
	if err != nil {
		return nil, err
	}

	l.Type = id
	assert(l.Unsized || l.Size%l.Align == 0, "layout: size %d not a multiple of align %d", l.Size, l.Align)
	r.cache[id] = l
	return l, nil
}

func (r *LayoutResolver) compute(t *mir.Type) (*Layout, error) {
	switch t.Kind {
	case mir.TypeBool:
		return scalarLayout(1, &ScalarRange{Bits: 8, Start: 0, End: 1}), nil
	case mir.TypeChar:
		return scalarLayout(4, &ScalarRange{Bits: 32, Start: 0, End: 0x10FFFF}), nil
	case mir.TypeInt, mir.TypeUint, mir.TypeFloat:
		size := uint64(t.IntBits() / 8)
		rng := &ScalarRange{Bits: t.IntBits(), Start: 0, End: mask64(t.IntBits())}
		if t.ValidRange != nil {
			rng.Start, rng.End = t.ValidRange.Start, t.ValidRange.End
		}
		return scalarLayout(size, rng), nil
	case mir.TypeFnPtr:
		return scalarLayout(8, &ScalarRange{Bits: 64, Start: 1, End: mask64(64)}), nil
	case mir.TypeRef, mir.TypePtr, mir.TypeBox:
		return r.pointerLayout(t)
	case mir.TypeFnDef:
		return &Layout{Size: 0, Align: 1}, nil
	case mir.TypeNever:
		return &Layout{Size: 0, Align: 1, Uninhabited: true}, nil
	case mir.TypeStr:
		return &Layout{Align: 1, Stride: 1, Unsized: true}, nil
	case mir.TypeSlice:
		elem, err := r.layout(t.Elem)
		if err != nil {
			return nil, err
		}
		return &Layout{Align: elem.Align, Stride: elem.Size, Unsized: true}, nil
	case mir.TypeDyn:
		return &Layout{Align: 1, Unsized: true}, nil
	case mir.TypeArray:
		return r.arrayLayout(t)
	case mir.TypeTuple, mir.TypeStruct, mir.TypeClosure:
		fields, err := r.fieldLayouts(t.Fields)
		if err != nil {
			return nil, err
		}
		return structLayout(fields, t.Repr, 0, 1, false), nil
	case mir.TypeUnion:
		return r.unionLayout(t)
	case mir.TypeEnum:
		return r.enumLayout(t)
	case mir.TypeCoroutine:
		// Coroutines are handles into the per-path coroutine table.
		return &Layout{Size: 8, Align: 8}, nil
	default:
		return nil, fmt.Errorf("layout: unsupported type kind: %s", t.Kind)
	}
}

func scalarLayout(size uint64, rng *ScalarRange) *Layout {
	l := &Layout{Size: size, Align: size, Scalar: rng}
	if size == 0 {
		l.Align = 1
	}
	if !rng.IsFull() {
		l.Niche = &Niche{Offset: 0, ScalarRange: *rng}
	}
	return l
}

func (r *LayoutResolver) pointerLayout(t *mir.Type) (*Layout, error) {
	meta, err := r.metadataKind(t.Elem)
	if err != nil {
		return nil, err
	}

	rng := &ScalarRange{Bits: 64, Start: 0, End: mask64(64)}
	if t.Kind != mir.TypePtr {
		rng.Start = 1 // references and boxes are never null
	}

	l := scalarLayout(8, rng)
	if meta != MetadataNone {
		l.Size, l.Scalar = 16, nil
		l.Offsets, l.Memory = []uint64{0, 8}, []int{0, 1}
	}
	return l, nil
}

// MetadataKind returns the kind of metadata a pointer to the type carries.
func (r *LayoutResolver) MetadataKind(id mir.TypeID) (MetadataKind, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.metadataKind(id)
}

func (r *LayoutResolver) metadataKind(id mir.TypeID) (MetadataKind, error) {
	for depth := 0; ; depth++ {
		t := r.prog.Type(id)
		if t == nil {
			return MetadataNone, fmt.Errorf("layout: unknown type: %d", id)
		} else if depth > 64 {
			return MetadataNone, fmt.Errorf("layout: unsized tail too deep: %d", id)
		}

		switch t.Kind {
		case mir.TypeSlice, mir.TypeStr:
			return MetadataLength, nil
		case mir.TypeDyn:
			return MetadataVtable, nil
		case mir.TypeStruct, mir.TypeTuple:
			if len(t.Fields) == 0 {
				return MetadataNone, nil
			}
			id = t.Fields[len(t.Fields)-1]
		default:
			return MetadataNone, nil
		}
	}
}

func (r *LayoutResolver) arrayLayout(t *mir.Type) (*Layout, error) {
	elem, err := r.layout(t.Elem)
	if err != nil {
		return nil, err
	} else if elem.Unsized {
		return nil, fmt.Errorf("layout: array of unsized element: %d", t.Elem)
	}

	l := &Layout{
		Size:        elem.Size * t.Len,
		Align:       elem.Align,
		Stride:      elem.Size,
		Uninhabited: elem.Uninhabited && t.Len > 0,
	}
	if t.Len > 0 && elem.Niche != nil {
		n := *elem.Niche
		l.Niche = &n
	}
	return l, nil
}

func (r *LayoutResolver) fieldLayouts(ids []mir.TypeID) ([]*Layout, error) {
	a := make([]*Layout, len(ids))
	for i, id := range ids {
		l, err := r.layout(id)
		if err != nil {
			return nil, err
		} else if l.Unsized && i != len(ids)-1 {
			return nil, fmt.Errorf("layout: unsized field %d is not last", i)
		}
		a[i] = l
	}
	return a, nil
}

// structLayout places fields sequentially after a prefix of the given size.
// Unless the representation is C, fields are first sorted to reduce padding:
// zero-sized fields first, then by alignment descending, or ascending for
// enum variants placed after a tag.
func structLayout(fields []*Layout, repr *mir.Repr, prefixSize, prefixAlign uint64, ascending bool) *Layout {
	pack := uint64(0)
	if repr != nil && repr.Packed > 0 {
		pack = uint64(repr.Packed)
	}
	fieldAlign := func(f *Layout) uint64 {
		if pack > 0 && f.Align > pack {
			return pack
		}
		return f.Align
	}

	// Determine memory order.
	order := make([]int, len(fields))
	for i := range order {
		order[i] = i
	}
	if repr == nil || (!repr.C && repr.Int == "") {
		end := len(order)
		if end > 0 && fields[end-1].Unsized {
			end-- // unsized tail stays last
		}
		sort.SliceStable(order[:end], func(i, j int) bool {
			a, b := fields[order[i]], fields[order[j]]
			if a.IsZST() != b.IsZST() {
				return a.IsZST()
			} else if ascending {
				return fieldAlign(a) < fieldAlign(b)
			}
			return fieldAlign(a) > fieldAlign(b)
		})
	}

	l := &Layout{
		Align:   prefixAlign,
		Offsets: make([]uint64, len(fields)),
		Memory:  order,
	}
	offset := prefixSize
	var nicheAvailable uint64
	for _, i := range order {
		f := fields[i]
		align := fieldAlign(f)
		offset = alignTo(offset, align)
		l.Offsets[i] = offset
		if align > l.Align {
			l.Align = align
		}
		if f.Uninhabited {
			l.Uninhabited = true
		}
		if f.Unsized {
			l.Unsized = true
		}
		if f.Niche != nil {
			if avail := f.Niche.Available(); avail > nicheAvailable {
				n := *f.Niche
				n.Offset += offset
				l.Niche, nicheAvailable = &n, avail
			}
		}
		offset += f.Size
	}

	if repr != nil && uint64(repr.Align) > l.Align {
		l.Align = uint64(repr.Align)
	}
	l.Size = alignTo(offset, l.Align)
	if l.Unsized {
		l.Size = offset
	}

	// A scalar wrapper keeps the validity of its only non-zero-sized field.
	if len(fields) > 0 && !l.Unsized {
		var inner *Layout
		for _, f := range fields {
			if f.IsZST() {
				continue
			} else if inner != nil {
				inner = nil
				break
			}
			inner = f
		}
		if inner != nil && inner.Scalar != nil && inner.Size == l.Size && prefixSize == 0 {
			l.Scalar = inner.Scalar
		}
	}
	return l
}

func (r *LayoutResolver) unionLayout(t *mir.Type) (*Layout, error) {
	fields, err := r.fieldLayouts(t.Fields)
	if err != nil {
		return nil, err
	}

	l := &Layout{Align: 1, Offsets: make([]uint64, len(fields)), Memory: make([]int, len(fields))}
	var size uint64
	for i, f := range fields {
		l.Memory[i] = i
		align := f.Align
		if t.Repr != nil && t.Repr.Packed > 0 && align > uint64(t.Repr.Packed) {
			align = uint64(t.Repr.Packed)
		}
		if align > l.Align {
			l.Align = align
		}
		if f.Size > size {
			size = f.Size
		}
	}
	if t.Repr != nil && uint64(t.Repr.Align) > l.Align {
		l.Align = uint64(t.Repr.Align)
	}
	l.Size = alignTo(size, l.Align)
	return l, nil
}

func (r *LayoutResolver) enumLayout(t *mir.Type) (*Layout, error) {
	if len(t.Variants) == 0 {
		return &Layout{Size: 0, Align: 1, Uninhabited: true}, nil
	}

	variants := make([][]*Layout, len(t.Variants))
	for i, v := range t.Variants {
		fields, err := r.fieldLayouts(v.Fields)
		if err != nil {
			return nil, fmt.Errorf("variant %s: %w", v.Name, err)
		}
		variants[i] = fields
	}

	_, _, hasInt := t.Repr.IntType()
	isC := t.Repr != nil && t.Repr.C

	// A single variant without an explicit representation is a struct.
	if len(t.Variants) == 1 && !hasInt && !isC {
		l := structLayout(variants[0], t.Repr, 0, 1, false)
		single := *l
		l.Variants = []*Layout{&single}
		l.Offsets, l.Memory = nil, nil
		return l, nil
	}

	tagged := r.taggedLayout(t, variants)
	if hasInt || isC {
		return tagged, nil
	}

	niche := r.nicheLayout(t, variants)
	if niche == nil {
		return tagged, nil
	}

	// Prefer the smaller layout, then the one leaving the larger niche.
	if tagged.Size > niche.Size {
		return niche, nil
	} else if tagged.Size == niche.Size && nicheAvailable(tagged) < nicheAvailable(niche) {
		return niche, nil
	}
	return tagged, nil
}

func nicheAvailable(l *Layout) uint64 {
	if l.Niche == nil {
		return 0
	}
	return l.Niche.Available()
}

// discriminantType returns the smallest integer type holding every discriminant.
func discriminantType(t *mir.Type) (bits uint, signed bool) {
	if bits, signed, ok := t.Repr.IntType(); ok {
		return bits, signed
	}

	discrs := t.Discriminants()
	min, max := discrs[0], discrs[0]
	for _, d := range discrs {
		if d < min {
			min = d
		}
		if d > max {
			max = d
		}
	}

	if t.Repr != nil && t.Repr.C {
		bits, signed = Width32, true
		if min >= -(1<<31) && max < (1<<31) {
			return bits, signed
		}
	}

	signed = min < 0
	for _, bits := range []uint{Width8, Width16, Width32, Width64} {
		if signed {
			lo, hi := -(int64(1) << (bits - 1)), int64(1)<<(bits-1)-1
			if min >= lo && max <= hi {
				return bits, true
			}
		} else if bits == Width64 || uint64(max) <= mask64(bits) {
			return bits, false
		}
	}
	return Width64, signed
}

func (r *LayoutResolver) taggedLayout(t *mir.Type, variants [][]*Layout) *Layout {
	bits, signed := discriminantType(t)
	_, _, hasInt := t.Repr.IntType()
	isC := t.Repr != nil && t.Repr.C

	// Widen the tag to the alignment of the first field of every variant.
	if !hasInt && !isC {
		startAlign := uint64(256)
		for _, fields := range variants {
			l := structLayout(fields, nil, uint64(bits/8), uint64(bits/8), true)
			for _, i := range l.Memory {
				if !fields[i].IsZST() {
					if fields[i].Align < startAlign {
						startAlign = fields[i].Align
					}
					break
				}
			}
		}
		if startAlign <= 8 && uint(startAlign*8) > bits {
			bits = uint(startAlign * 8)
		}
	}
	tagSize := uint64(bits / 8)

	// C-like enums place every payload after the tag at a common offset.
	prefix := tagSize
	if isC {
		for _, fields := range variants {
			for _, f := range fields {
				prefix = alignTo(prefix, f.Align)
			}
		}
	}

	var repr *mir.Repr
	if t.Repr != nil {
		other := *t.Repr
		other.Align = 0
		repr = &other
	}

	l := &Layout{Align: tagSize, Variants: make([]*Layout, len(variants))}
	l.Uninhabited = true
	for i, fields := range variants {
		v := structLayout(fields, repr, prefix, tagSize, true)
		l.Variants[i] = v
		if v.Size > l.Size {
			l.Size = v.Size
		}
		if v.Align > l.Align {
			l.Align = v.Align
		}
		if !v.Uninhabited {
			l.Uninhabited = false
		}
	}
	if t.Repr != nil && uint64(t.Repr.Align) > l.Align {
		l.Align = uint64(t.Repr.Align)
	}
	l.Size = alignTo(l.Size, l.Align)

	discrs := t.Discriminants()
	min, max := discrs[0], discrs[0]
	for _, d := range discrs {
		if d < min {
			min = d
		}
		if d > max {
			max = d
		}
	}
	l.Tag = &Tag{Encoding: TagDirect, Offset: 0, Bits: bits, Signed: signed}
	rng := ScalarRange{Bits: bits, Start: uint64(min) & mask64(bits), End: uint64(max) & mask64(bits)}
	if !rng.IsFull() {
		l.Niche = &Niche{Offset: 0, ScalarRange: rng}
	}
	if len(variants) > 0 && allEmpty(variants) {
		l.Scalar = &rng
	}
	return l
}

func allEmpty(variants [][]*Layout) bool {
	for _, fields := range variants {
		for _, f := range fields {
			if !f.IsZST() {
				return false
			}
		}
	}
	return true
}

func (r *LayoutResolver) nicheLayout(t *mir.Type, variants [][]*Layout) *Layout {
	layouts := make([]*Layout, len(variants))
	for i, fields := range variants {
		layouts[i] = structLayout(fields, nil, 0, 1, false)
	}

	// The largest variant keeps its fields in place.
	untagged := 0
	for i, l := range layouts {
		if l.Size > layouts[untagged].Size {
			untagged = i
		}
	}
	first, last := -1, -1
	for i := range layouts {
		if i == untagged {
			continue
		}
		if first < 0 {
			first = i
		}
		last = i
	}
	if first < 0 {
		return nil
	}

	base := layouts[untagged]
	if base.Niche == nil {
		return nil
	}
	count := uint64(last - first + 1)
	start, niche, ok := base.Niche.reserve(count)
	if !ok {
		return nil
	}

	l := &Layout{
		Size:     base.Size,
		Align:    base.Align,
		Variants: make([]*Layout, len(layouts)),
		Niche:    niche,
	}
	nicheEnd := niche.Offset + uint64(niche.Bits/8)
	for i, v := range layouts {
		if v.Align > l.Align {
			l.Align = v.Align
		}
		if i == untagged || v.Size <= niche.Offset {
			l.Variants[i] = v
			continue
		}

		// Place the variant after the niche if it fits.
		shift := alignTo(nicheEnd, v.Align)
		if shift+v.Size > base.Size {
			return nil
		}
		other := *v
		other.Offsets = make([]uint64, len(v.Offsets))
		for j := range v.Offsets {
			other.Offsets[j] = v.Offsets[j] + shift
		}
		other.Size = shift + v.Size
		other.Niche = nil
		l.Variants[i] = &other
	}
	l.Size = alignTo(l.Size, l.Align)
	l.Uninhabited = true
	for _, v := range l.Variants {
		if !v.Uninhabited {
			l.Uninhabited = false
		}
	}

	l.Tag = &Tag{
		Encoding:   TagNiche,
		Offset:     niche.Offset,
		Bits:       niche.Bits,
		Untagged:   untagged,
		First:      first,
		Last:       last,
		NicheStart: start,
	}
	return l
}

// SizeOfVal returns the dynamic size and alignment of a value of type id
// given pointer metadata. Sized types ignore the metadata.
func (r *LayoutResolver) SizeOfVal(id mir.TypeID, meta uint64, vtable *Layout) (size, align uint64, err error) {
	l, err := r.Layout(id)
	if err != nil {
		return 0, 0, err
	} else if !l.Unsized {
		return l.Size, l.Align, nil
	}

	t := r.prog.Type(id)
	switch t.Kind {
	case mir.TypeSlice, mir.TypeStr:
		return l.Stride * meta, l.Align, nil
	case mir.TypeDyn:
		if vtable == nil {
			return 0, 0, fmt.Errorf("layout: size of trait object without vtable")
		}
		return vtable.Size, vtable.Align, nil
	case mir.TypeStruct, mir.TypeTuple:
		tail := t.Fields[len(t.Fields)-1]
		tsize, talign, err := r.SizeOfVal(tail, meta, vtable)
		if err != nil {
			return 0, 0, err
		}
		align = l.Align
		if talign > align {
			align = talign
		}
		offset := alignTo(l.Offsets[len(t.Fields)-1], talign)
		return alignTo(offset+tsize, align), align, nil
	default:
		return 0, 0, fmt.Errorf("layout: size of unsized %s", t.Kind)
	}
}

// alignTo rounds n up to a multiple of align.
func alignTo(n, align uint64) uint64 {
	if align <= 1 {
		return n
	}
	return (n + align - 1) / align * align
}

// mask64 returns a mask of the low bits, saturating at 64 bits.
func mask64(bits uint) uint64 {
	if bits >= 64 {
		return ^uint64(0)
	}
	return (uint64(1) << bits) - 1
}
