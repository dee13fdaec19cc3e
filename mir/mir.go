// Package mir defines the serialized mid-level representation consumed by
// the mirv engine. Programs are produced by an external front end that has
// already type-checked and monomorphized the source.
package mir

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Version is the representation version understood by this package.
const Version = 1

// PointerBits is the width of pointers and pointer-sized integers.
const PointerBits = 64

// TypeID identifies a type within a program. Valid ids are positive.
type TypeID int

// FuncID identifies a function within a program. Valid ids are positive.
type FuncID int

// AllocID identifies a global allocation within a program.
type AllocID int

// Program represents a lowered program and its type metadata.
type Program struct {
	Version   int         `json:"version"`
	Name      string      `json:"name,omitempty"`
	Entry     string      `json:"entry,omitempty"`
	Types     []*Type     `json:"types"`
	Functions []*Function `json:"functions"`
	Allocs    []*Alloc    `json:"allocs,omitempty"`

	types     map[TypeID]*Type
	functions map[FuncID]*Function
	names     map[string]*Function
	allocs    map[AllocID]*Alloc
}

// index rebuilds the lookup tables.
func (p *Program) index() {
	p.types = make(map[TypeID]*Type, len(p.Types))
	for _, t := range p.Types {
		p.types[t.ID] = t
	}
	p.functions = make(map[FuncID]*Function, len(p.Functions))
	p.names = make(map[string]*Function, len(p.Functions))
	for _, f := range p.Functions {
		p.functions[f.ID] = f
		if _, ok := p.names[f.Name]; !ok {
			p.names[f.Name] = f
		}
	}
	p.allocs = make(map[AllocID]*Alloc, len(p.Allocs))
	for _, a := range p.Allocs {
		p.allocs[a.ID] = a
	}
}

// Type returns the type with the given id, or nil if it does not exist.
func (p *Program) Type(id TypeID) *Type {
	if p.types == nil {
		p.index()
	}
	return p.types[id]
}

// Function returns the function with the given id, or nil if it does not exist.
func (p *Program) Function(id FuncID) *Function {
	if p.functions == nil {
		p.index()
	}
	return p.functions[id]
}

// FunctionByName returns the first function with the given name.
func (p *Program) FunctionByName(name string) *Function {
	if p.names == nil {
		p.index()
	}
	return p.names[name]
}

// Alloc returns the global allocation with the given id, or nil if it does not exist.
func (p *Program) Alloc(id AllocID) *Alloc {
	if p.allocs == nil {
		p.index()
	}
	return p.allocs[id]
}

// TypeKind represents the kind of a type descriptor.
type TypeKind string

// Type kinds.
const (
	TypeBool      = TypeKind("bool")
	TypeChar      = TypeKind("char")
	TypeInt       = TypeKind("int")
	TypeUint      = TypeKind("uint")
	TypeFloat     = TypeKind("float")
	TypeStr       = TypeKind("str")
	TypeSlice     = TypeKind("slice")
	TypeArray     = TypeKind("array")
	TypeTuple     = TypeKind("tuple")
	TypeStruct    = TypeKind("struct")
	TypeEnum      = TypeKind("enum")
	TypeUnion     = TypeKind("union")
	TypeRef       = TypeKind("ref")
	TypePtr       = TypeKind("ptr")
	TypeBox       = TypeKind("box")
	TypeFnDef     = TypeKind("fndef")
	TypeFnPtr     = TypeKind("fnptr")
	TypeClosure   = TypeKind("closure")
	TypeCoroutine = TypeKind("coroutine")
	TypeDyn       = TypeKind("dyn")
	TypeNever     = TypeKind("never")
)

// Type represents an immutable type descriptor.
type Type struct {
	ID         TypeID     `json:"id"`
	Kind       TypeKind   `json:"kind"`
	Name       string     `json:"name,omitempty"`
	Bits       int        `json:"bits,omitempty"` // int, uint, float; zero is pointer sized
	Elem       TypeID     `json:"elem,omitempty"` // array, slice, ref, ptr, box
	Len        uint64     `json:"len,omitempty"`  // array
	Mut        bool       `json:"mut,omitempty"`  // ref, ptr
	Fields     []TypeID   `json:"fields,omitempty"`
	FieldNames []string   `json:"field_names,omitempty"`
	Variants   []*Variant `json:"variants,omitempty"`
	Repr       *Repr      `json:"repr,omitempty"`
	ValidRange *Range     `json:"valid_range,omitempty"`
	Fn         FuncID     `json:"fn,omitempty"` // fndef, closure, coroutine
}

// IsInteger returns true if t is a signed or unsigned integer.
func (t *Type) IsInteger() bool { return t.Kind == TypeInt || t.Kind == TypeUint }

// IsSigned returns true if t is a signed integer.
func (t *Type) IsSigned() bool { return t.Kind == TypeInt }

// IsPointer returns true if values of t are pointers.
func (t *Type) IsPointer() bool {
	switch t.Kind {
	case TypeRef, TypePtr, TypeBox, TypeFnPtr:
		return true
	}
	return false
}

// IsUnsized returns true if t has no statically known size.
func (t *Type) IsUnsized() bool {
	switch t.Kind {
	case TypeStr, TypeSlice, TypeDyn:
		return true
	}
	return false
}

// IntBits returns the bit width of an integer or float type.
func (t *Type) IntBits() uint {
	if t.Bits == 0 {
		return PointerBits
	}
	return uint(t.Bits)
}

// Discriminants returns the discriminant of each variant of an enum. Variants
// without an explicit value take the previous value plus one.
func (t *Type) Discriminants() []int64 {
	a := make([]int64, len(t.Variants))
	next := int64(0)
	for i, v := range t.Variants {
		if v.Discr != nil {
			next = *v.Discr
		}
		a[i], next = next, next+1
	}
	return a
}

// String returns a short description of the type.
func (t *Type) String() string {
	if t.Name != "" {
		return t.Name
	}
	switch t.Kind {
	case TypeInt:
		if t.Bits == 0 {
			return "isize"
		}
		return "i" + strconv.Itoa(t.Bits)
	case TypeUint:
		if t.Bits == 0 {
			return "usize"
		}
		return "u" + strconv.Itoa(t.Bits)
	case TypeFloat:
		return "f" + strconv.Itoa(t.Bits)
	case TypeArray:
		return fmt.Sprintf("[#%d; %d]", t.Elem, t.Len)
	case TypeSlice:
		return fmt.Sprintf("[#%d]", t.Elem)
	case TypeRef:
		if t.Mut {
			return fmt.Sprintf("&mut #%d", t.Elem)
		}
		return fmt.Sprintf("&#%d", t.Elem)
	case TypePtr:
		if t.Mut {
			return fmt.Sprintf("*mut #%d", t.Elem)
		}
		return fmt.Sprintf("*const #%d", t.Elem)
	case TypeBox:
		return fmt.Sprintf("Box<#%d>", t.Elem)
	case TypeTuple:
		a := make([]string, len(t.Fields))
		for i, f := range t.Fields {
			a[i] = fmt.Sprintf("#%d", f)
		}
		return "(" + strings.Join(a, ", ") + ")"
	default:
		return string(t.Kind)
	}
}

// Variant represents a single enum variant.
type Variant struct {
	Name       string   `json:"name"`
	Discr      *int64   `json:"discr,omitempty"`
	Fields     []TypeID `json:"fields,omitempty"`
	FieldNames []string `json:"field_names,omitempty"`
}

// Repr represents the representation attributes of a struct, union or enum.
type Repr struct {
	C           bool   `json:"c,omitempty"`
	Transparent bool   `json:"transparent,omitempty"`
	Packed      int    `json:"packed,omitempty"` // maximum field alignment
	Align       int    `json:"align,omitempty"`  // minimum type alignment
	Int         string `json:"int,omitempty"`    // explicit discriminant type, e.g. "u8"
}

// IntType parses the explicit discriminant type. Returns false if none is set.
func (r *Repr) IntType() (bits uint, signed bool, ok bool) {
	if r == nil || r.Int == "" {
		return 0, false, false
	}
	return ParseIntType(r.Int)
}

// ParseIntType parses a primitive integer name such as "i32" or "usize".
func ParseIntType(s string) (bits uint, signed bool, ok bool) {
	if len(s) < 2 || (s[0] != 'i' && s[0] != 'u') {
		return 0, false, false
	}
	signed = s[0] == 'i'
	if s[1:] == "size" {
		return PointerBits, signed, true
	}
	n, err := strconv.Atoi(s[1:])
	if err != nil {
		return 0, false, false
	}
	switch n {
	case 8, 16, 32, 64, 128:
		return uint(n), signed, true
	}
	return 0, false, false
}

// Range represents an inclusive, possibly wrapping, range of valid values.
type Range struct {
	Start uint64 `json:"start"`
	End   uint64 `json:"end"`
}

// Function represents a function item. Functions without a body are either
// intrinsics or must be modeled by the engine.
type Function struct {
	ID        FuncID   `json:"id"`
	Name      string   `json:"name"`
	Intrinsic string   `json:"intrinsic,omitempty"`
	Generics  []TypeID `json:"generics,omitempty"`
	Virtual   *int     `json:"virtual,omitempty"`   // vtable slot for trait object calls
	RustCall  bool     `json:"rust_call,omitempty"` // last argument is a tuple to spread
	Body      *Body    `json:"body,omitempty"`
}

// Body represents the locals and basic blocks of a function.
// Local 0 is the return place, followed by ArgCount arguments.
type Body struct {
	Locals   []*Local `json:"locals"`
	ArgCount int      `json:"arg_count"`
	Blocks   []*Block `json:"blocks"`
}

// Local represents a local variable declaration.
type Local struct {
	Name string `json:"name,omitempty"`
	Type TypeID `json:"type"`
	Mut  bool   `json:"mut,omitempty"`
}

// Block represents a basic block.
type Block struct {
	Statements []*Statement `json:"statements,omitempty"`
	Terminator *Terminator  `json:"terminator"`
}

// StatementKind represents the kind of a statement.
type StatementKind string

// Statement kinds.
const (
	StatementAssign             = StatementKind("assign")
	StatementStorageLive        = StatementKind("storage_live")
	StatementStorageDead        = StatementKind("storage_dead")
	StatementSetDiscriminant    = StatementKind("set_discriminant")
	StatementAssume             = StatementKind("assume")
	StatementCopyNonOverlapping = StatementKind("copy_nonoverlapping")
	StatementNop                = StatementKind("nop")
)

// Statement represents a non-branching instruction.
type Statement struct {
	Kind    StatementKind `json:"kind"`
	Place   *Place        `json:"place,omitempty"`
	Rvalue  *Rvalue       `json:"rvalue,omitempty"`
	Local   int           `json:"local,omitempty"`
	Variant int           `json:"variant,omitempty"`
	Operand *Operand      `json:"operand,omitempty"`
	Src     *Operand      `json:"src,omitempty"`
	Dst     *Operand      `json:"dst,omitempty"`
	Count   *Operand      `json:"count,omitempty"`
}

// TerminatorKind represents the kind of a block terminator.
type TerminatorKind string

// Terminator kinds.
const (
	TerminatorGoto        = TerminatorKind("goto")
	TerminatorSwitchInt   = TerminatorKind("switch_int")
	TerminatorReturn      = TerminatorKind("return")
	TerminatorUnreachable = TerminatorKind("unreachable")
	TerminatorDrop        = TerminatorKind("drop")
	TerminatorCall        = TerminatorKind("call")
	TerminatorAssert      = TerminatorKind("assert")
	TerminatorAbort       = TerminatorKind("abort")
	TerminatorResume      = TerminatorKind("resume")
	TerminatorYield       = TerminatorKind("yield")
)

// Terminator represents the instruction that ends a basic block.
type Terminator struct {
	Kind      TerminatorKind  `json:"kind"`
	Target    *int            `json:"target,omitempty"`
	Discr     *Operand        `json:"discr,omitempty"`
	Targets   []*SwitchTarget `json:"targets,omitempty"`
	Otherwise int             `json:"otherwise,omitempty"`
	Func      *Operand        `json:"func,omitempty"`
	Args      []*Operand      `json:"args,omitempty"`
	Dest      *Place          `json:"dest,omitempty"`
	Cond      *Operand        `json:"cond,omitempty"`
	Expected  bool            `json:"expected,omitempty"`
	Msg       string          `json:"msg,omitempty"`
	Place     *Place          `json:"place,omitempty"`
	Value     *Operand        `json:"value,omitempty"`
	ResumeArg *Place          `json:"resume_arg,omitempty"`
}

// Successors returns the block indices the terminator may jump to.
func (t *Terminator) Successors() []int {
	var a []int
	if t.Target != nil {
		a = append(a, *t.Target)
	}
	if t.Kind == TerminatorSwitchInt {
		for _, st := range t.Targets {
			a = append(a, st.Target)
		}
		a = append(a, t.Otherwise)
	}
	return a
}

// SwitchTarget represents one value/target pair of a switch.
// Values are decimal and may exceed 64 bits.
type SwitchTarget struct {
	Value  json.Number `json:"value"`
	Target int         `json:"target"`
}

// RvalueKind represents the kind of an rvalue.
type RvalueKind string

// Rvalue kinds.
const (
	RvalueUse            = RvalueKind("use")
	RvalueBinary         = RvalueKind("binary")
	RvalueCheckedBinary  = RvalueKind("checked_binary")
	RvalueUnary          = RvalueKind("unary")
	RvalueCast           = RvalueKind("cast")
	RvalueRef            = RvalueKind("ref")
	RvalueAddressOf      = RvalueKind("address_of")
	RvalueAggregate      = RvalueKind("aggregate")
	RvalueDiscriminant   = RvalueKind("discriminant")
	RvalueLen            = RvalueKind("len")
	RvalueRepeat         = RvalueKind("repeat")
	RvalueNullary        = RvalueKind("nullary")
	RvalueCopyForDeref   = RvalueKind("copy_for_deref")
	RvalueShallowInitBox = RvalueKind("shallow_init_box")
)

// BinOp represents a binary operator.
type BinOp string

// Binary operators.
const (
	BinAdd             = BinOp("add")
	BinSub             = BinOp("sub")
	BinMul             = BinOp("mul")
	BinDiv             = BinOp("div")
	BinRem             = BinOp("rem")
	BinBitXor          = BinOp("bit_xor")
	BinBitAnd          = BinOp("bit_and")
	BinBitOr           = BinOp("bit_or")
	BinShl             = BinOp("shl")
	BinShr             = BinOp("shr")
	BinEq              = BinOp("eq")
	BinLt              = BinOp("lt")
	BinLe              = BinOp("le")
	BinNe              = BinOp("ne")
	BinGe              = BinOp("ge")
	BinGt              = BinOp("gt")
	BinCmp             = BinOp("cmp")
	BinOffset          = BinOp("offset")
	BinAddUnchecked    = BinOp("add_unchecked")
	BinSubUnchecked    = BinOp("sub_unchecked")
	BinMulUnchecked    = BinOp("mul_unchecked")
	BinShlUnchecked    = BinOp("shl_unchecked")
	BinShrUnchecked    = BinOp("shr_unchecked")
	BinAddWithOverflow = BinOp("add_with_overflow")
	BinSubWithOverflow = BinOp("sub_with_overflow")
	BinMulWithOverflow = BinOp("mul_with_overflow")
)

// UnOp represents a unary operator.
type UnOp string

// Unary operators.
const (
	UnNot         = UnOp("not")
	UnNeg         = UnOp("neg")
	UnPtrMetadata = UnOp("ptr_metadata")
)

// NullOp represents a nullary operator.
type NullOp string

// Nullary operators.
const (
	NullSizeOf  = NullOp("size_of")
	NullAlignOf = NullOp("align_of")
	NullUbCheck = NullOp("ub_checks")
)

// CastKind represents the kind of a cast.
type CastKind string

// Cast kinds.
const (
	CastIntToInt                = CastKind("int_to_int")
	CastIntToFloat              = CastKind("int_to_float")
	CastFloatToInt              = CastKind("float_to_int")
	CastFloatToFloat            = CastKind("float_to_float")
	CastPtrToPtr                = CastKind("ptr_to_ptr")
	CastFnPtrToPtr              = CastKind("fn_ptr_to_ptr")
	CastExposeProvenance        = CastKind("expose_provenance")
	CastWithExposedProvenance   = CastKind("with_exposed_provenance")
	CastTransmute               = CastKind("transmute")
	CastUnsize                  = CastKind("unsize")
	CastReifyFnPointer          = CastKind("reify_fn_pointer")
	CastClosureFnPointer        = CastKind("closure_fn_pointer")
	CastUnsafeFnPointer         = CastKind("unsafe_fn_pointer")
	CastMutToConstPointer       = CastKind("mut_to_const_pointer")
	CastArrayToPointer          = CastKind("array_to_pointer")
)

// AggregateKind represents the kind of value built by an aggregate rvalue.
type AggregateKind string

// Aggregate kinds.
const (
	AggregateArray     = AggregateKind("array")
	AggregateTuple     = AggregateKind("tuple")
	AggregateAdt       = AggregateKind("adt")
	AggregateClosure   = AggregateKind("closure")
	AggregateCoroutine = AggregateKind("coroutine")
	AggregateRawPtr    = AggregateKind("raw_ptr")
)

// Rvalue represents the right hand side of an assignment.
type Rvalue struct {
	Kind      RvalueKind    `json:"kind"`
	Op        string        `json:"op,omitempty"`
	Operand   *Operand      `json:"operand,omitempty"`
	LHS       *Operand      `json:"lhs,omitempty"`
	RHS       *Operand      `json:"rhs,omitempty"`
	Cast      CastKind      `json:"cast,omitempty"`
	Type      TypeID        `json:"type,omitempty"`
	Place     *Place        `json:"place,omitempty"`
	Mut       bool          `json:"mut,omitempty"`
	Aggregate AggregateKind `json:"aggregate,omitempty"`
	Variant   int           `json:"variant,omitempty"`
	Field     *int          `json:"field,omitempty"` // active union field
	Operands  []*Operand    `json:"operands,omitempty"`
	Count     uint64        `json:"count,omitempty"`
	Vtable    AllocID       `json:"vtable,omitempty"` // unsizing to a trait object
}

// Place represents a local followed by a chain of projections.
type Place struct {
	Local      int           `json:"local"`
	Projection []*Projection `json:"projection,omitempty"`
}

// ProjectionKind represents the kind of a place projection.
type ProjectionKind string

// Projection kinds.
const (
	ProjectionDeref         = ProjectionKind("deref")
	ProjectionField         = ProjectionKind("field")
	ProjectionIndex         = ProjectionKind("index")
	ProjectionConstantIndex = ProjectionKind("constant_index")
	ProjectionSubslice      = ProjectionKind("subslice")
	ProjectionDowncast      = ProjectionKind("downcast")
	ProjectionOpaqueCast    = ProjectionKind("opaque_cast")
)

// Projection represents one step of a place.
type Projection struct {
	Kind      ProjectionKind `json:"kind"`
	Field     int            `json:"field,omitempty"`
	Type      TypeID         `json:"type,omitempty"`
	Local     int            `json:"local,omitempty"`
	Offset    uint64         `json:"offset,omitempty"`
	MinLength uint64         `json:"min_length,omitempty"`
	From      uint64         `json:"from,omitempty"`
	To        uint64         `json:"to,omitempty"`
	FromEnd   bool           `json:"from_end,omitempty"`
	Variant   int            `json:"variant,omitempty"`
}

// OperandKind represents the kind of an operand.
type OperandKind string

// Operand kinds.
const (
	OperandCopy  = OperandKind("copy")
	OperandMove  = OperandKind("move")
	OperandConst = OperandKind("const")
)

// Operand represents an input to an rvalue or call.
type Operand struct {
	Kind  OperandKind `json:"kind"`
	Place *Place      `json:"place,omitempty"`
	Const *Constant   `json:"const,omitempty"`
}

// Constant represents a constant value as a little-endian byte blob plus
// provenance for any pointers it contains. Int is a decimal shorthand for
// scalar literals and takes precedence over Bytes.
type Constant struct {
	Type  TypeID        `json:"type"`
	Bytes ByteList      `json:"bytes,omitempty"`
	Prov  []*Provenance `json:"prov,omitempty"`
	Int   string        `json:"int,omitempty"`
}

// Provenance binds the pointer stored at Offset to a global allocation.
type Provenance struct {
	Offset uint64  `json:"offset"`
	Alloc  AllocID `json:"alloc"`
}

// AllocKind represents the kind of a global allocation.
type AllocKind string

// Global allocation kinds.
const (
	AllocMemory   = AllocKind("memory")
	AllocStatic   = AllocKind("static")
	AllocFunction = AllocKind("function")
	AllocVtable   = AllocKind("vtable")
)

// Alloc represents a global allocation referenced by constants.
type Alloc struct {
	ID      AllocID       `json:"id"`
	Kind    AllocKind     `json:"kind"`
	Type    TypeID        `json:"type,omitempty"` // vtable: concrete self type
	Bytes   ByteList      `json:"bytes,omitempty"`
	Prov    []*Provenance `json:"prov,omitempty"`
	Align   uint64        `json:"align,omitempty"`
	Mut     bool          `json:"mut,omitempty"`
	Fn      FuncID        `json:"fn,omitempty"`
	Methods []FuncID      `json:"methods,omitempty"`
}

// ByteList is a list of bytes encoded as a JSON array of integers.
// Null entries represent uninitialized bytes and decode as zero.
type ByteList []byte

// MarshalJSON encodes the list as an array of integers.
func (a ByteList) MarshalJSON() ([]byte, error) {
	var sb strings.Builder
	sb.WriteByte('[')
	for i, b := range a {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(strconv.Itoa(int(b)))
	}
	sb.WriteByte(']')
	return []byte(sb.String()), nil
}

// UnmarshalJSON decodes an array of integers or nulls.
func (a *ByteList) UnmarshalJSON(data []byte) error {
	var tmp []*int
	if err := json.Unmarshal(data, &tmp); err != nil {
		return err
	}
	*a = make(ByteList, len(tmp))
	for i, v := range tmp {
		if v == nil {
			continue
		} else if *v < 0 || *v > 255 {
			return fmt.Errorf("byte out of range: %d", *v)
		}
		(*a)[i] = byte(*v)
	}
	return nil
}
