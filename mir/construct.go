package mir

import (
	"encoding/json"
	"strconv"
)

// NewProgram returns an empty program at the current version.
func NewProgram(name string) *Program {
	p := &Program{Version: Version, Name: name}
	p.index()
	return p
}

// AddType registers t under the next available id and returns the id.
func (p *Program) AddType(t *Type) TypeID {
	t.ID = TypeID(len(p.Types) + 1)
	p.Types = append(p.Types, t)
	if p.types != nil {
		p.types[t.ID] = t
	}
	return t.ID
}

// AddFunction registers f under the next available id and returns the id.
func (p *Program) AddFunction(f *Function) FuncID {
	f.ID = FuncID(len(p.Functions) + 1)
	p.Functions = append(p.Functions, f)
	if p.functions != nil {
		p.functions[f.ID] = f
		if _, ok := p.names[f.Name]; !ok {
			p.names[f.Name] = f
		}
	}
	return f.ID
}

// AddAlloc registers a under the next available id and returns the id.
func (p *Program) AddAlloc(a *Alloc) AllocID {
	a.ID = AllocID(len(p.Allocs) + 1)
	p.Allocs = append(p.Allocs, a)
	if p.allocs != nil {
		p.allocs[a.ID] = a
	}
	return a.ID
}

// Type constructors.

func Bool() *Type             { return &Type{Kind: TypeBool} }
func Char() *Type             { return &Type{Kind: TypeChar} }
func Int(bits int) *Type      { return &Type{Kind: TypeInt, Bits: bits} }
func Uint(bits int) *Type     { return &Type{Kind: TypeUint, Bits: bits} }
func Float(bits int) *Type    { return &Type{Kind: TypeFloat, Bits: bits} }
func Str() *Type              { return &Type{Kind: TypeStr} }
func Never() *Type            { return &Type{Kind: TypeNever} }
func Unit() *Type             { return &Type{Kind: TypeTuple} }
func FnPtr() *Type            { return &Type{Kind: TypeFnPtr} }
func Dyn(name string) *Type   { return &Type{Kind: TypeDyn, Name: name} }
func Slice(elem TypeID) *Type { return &Type{Kind: TypeSlice, Elem: elem} }
func Box(elem TypeID) *Type   { return &Type{Kind: TypeBox, Elem: elem} }
func FnDef(fn FuncID) *Type   { return &Type{Kind: TypeFnDef, Fn: fn} }

// Array returns a fixed-length array type.
func Array(elem TypeID, n uint64) *Type { return &Type{Kind: TypeArray, Elem: elem, Len: n} }

// Tuple returns a tuple type. An empty tuple is the unit type.
func Tuple(fields ...TypeID) *Type { return &Type{Kind: TypeTuple, Fields: fields} }

// Struct returns a struct type with unnamed fields.
func Struct(name string, fields ...TypeID) *Type {
	return &Type{Kind: TypeStruct, Name: name, Fields: fields}
}

// Union returns a union type.
func Union(name string, fields ...TypeID) *Type {
	return &Type{Kind: TypeUnion, Name: name, Fields: fields}
}

// Enum returns an enum type with the given variants.
func Enum(name string, variants ...*Variant) *Type {
	return &Type{Kind: TypeEnum, Name: name, Variants: variants}
}

// Ref returns a reference type.
func Ref(elem TypeID, mut bool) *Type { return &Type{Kind: TypeRef, Elem: elem, Mut: mut} }

// Ptr returns a raw pointer type.
func Ptr(elem TypeID, mut bool) *Type { return &Type{Kind: TypePtr, Elem: elem, Mut: mut} }

// Closure returns a closure type whose body is fn and whose captures are fields.
func Closure(fn FuncID, captures ...TypeID) *Type {
	return &Type{Kind: TypeClosure, Fn: fn, Fields: captures}
}

// Coroutine returns a coroutine type whose body is fn.
func Coroutine(fn FuncID, upvars ...TypeID) *Type {
	return &Type{Kind: TypeCoroutine, Fn: fn, Fields: upvars}
}

// WithRepr sets the representation attributes and returns t.
func (t *Type) WithRepr(r Repr) *Type {
	t.Repr = &r
	return t
}

// WithValidRange sets the valid scalar range and returns t.
func (t *Type) WithValidRange(start, end uint64) *Type {
	t.ValidRange = &Range{Start: start, End: end}
	return t
}

// NewVariant returns an enum variant.
func NewVariant(name string, fields ...TypeID) *Variant {
	return &Variant{Name: name, Fields: fields}
}

// WithDiscr sets an explicit discriminant and returns v.
func (v *Variant) WithDiscr(d int64) *Variant {
	v.Discr = &d
	return v
}

// NewLocal returns a local declaration.
func NewLocal(name string, ty TypeID) *Local { return &Local{Name: name, Type: ty} }

// NewBody returns a function body.
func NewBody(argCount int, locals []*Local, blocks ...*Block) *Body {
	return &Body{Locals: locals, ArgCount: argCount, Blocks: blocks}
}

// NewBlock returns a basic block.
func NewBlock(term *Terminator, stmts ...*Statement) *Block {
	return &Block{Statements: stmts, Terminator: term}
}

// Places.

// LocalPlace returns a place referring to a local without projections.
func LocalPlace(local int) *Place { return &Place{Local: local} }

func (p *Place) project(proj *Projection) *Place {
	other := &Place{Local: p.Local, Projection: make([]*Projection, len(p.Projection), len(p.Projection)+1)}
	copy(other.Projection, p.Projection)
	other.Projection = append(other.Projection, proj)
	return other
}

// Deref returns a copy of p followed by a dereference.
func (p *Place) Deref() *Place { return p.project(&Projection{Kind: ProjectionDeref}) }

// Field returns a copy of p followed by a field projection.
func (p *Place) Field(i int, ty TypeID) *Place {
	return p.project(&Projection{Kind: ProjectionField, Field: i, Type: ty})
}

// Index returns a copy of p indexed by the value of a local.
func (p *Place) Index(local int) *Place {
	return p.project(&Projection{Kind: ProjectionIndex, Local: local})
}

// ConstantIndex returns a copy of p indexed by a constant offset.
func (p *Place) ConstantIndex(offset, minLength uint64, fromEnd bool) *Place {
	return p.project(&Projection{Kind: ProjectionConstantIndex, Offset: offset, MinLength: minLength, FromEnd: fromEnd})
}

// Subslice returns a copy of p narrowed to a subslice.
func (p *Place) Subslice(from, to uint64, fromEnd bool) *Place {
	return p.project(&Projection{Kind: ProjectionSubslice, From: from, To: to, FromEnd: fromEnd})
}

// Downcast returns a copy of p narrowed to an enum variant.
func (p *Place) Downcast(variant int) *Place {
	return p.project(&Projection{Kind: ProjectionDowncast, Variant: variant})
}

// Operands.

// Copy returns an operand copying from p.
func Copy(p *Place) *Operand { return &Operand{Kind: OperandCopy, Place: p} }

// Move returns an operand moving from p.
func Move(p *Place) *Operand { return &Operand{Kind: OperandMove, Place: p} }

// ConstInt returns a signed scalar constant.
func ConstInt(ty TypeID, v int64) *Operand {
	return &Operand{Kind: OperandConst, Const: &Constant{Type: ty, Int: strconv.FormatInt(v, 10)}}
}

// ConstUint returns an unsigned scalar constant.
func ConstUint(ty TypeID, v uint64) *Operand {
	return &Operand{Kind: OperandConst, Const: &Constant{Type: ty, Int: strconv.FormatUint(v, 10)}}
}

// ConstBool returns a boolean constant.
func ConstBool(ty TypeID, v bool) *Operand {
	b := byte(0)
	if v {
		b = 1
	}
	return ConstBytes(ty, b)
}

// ConstBytes returns a constant from raw little-endian bytes.
func ConstBytes(ty TypeID, data ...byte) *Operand {
	return &Operand{Kind: OperandConst, Const: &Constant{Type: ty, Bytes: ByteList(data)}}
}

// ConstZST returns a zero-sized constant such as a function item or unit.
func ConstZST(ty TypeID) *Operand {
	return &Operand{Kind: OperandConst, Const: &Constant{Type: ty}}
}

// ConstPtr returns a thin pointer constant to the start of a global allocation.
func ConstPtr(ty TypeID, alloc AllocID) *Operand {
	return &Operand{Kind: OperandConst, Const: &Constant{
		Type:  ty,
		Bytes: make(ByteList, 8),
		Prov:  []*Provenance{{Offset: 0, Alloc: alloc}},
	}}
}

// ConstSlice returns a fat pointer constant to n elements of a global allocation.
func ConstSlice(ty TypeID, alloc AllocID, n uint64) *Operand {
	data := make(ByteList, 16)
	for i := 0; i < 8; i++ {
		data[8+i] = byte(n >> (8 * i))
	}
	return &Operand{Kind: OperandConst, Const: &Constant{
		Type:  ty,
		Bytes: data,
		Prov:  []*Provenance{{Offset: 0, Alloc: alloc}},
	}}
}

// Rvalues.

// Use returns an rvalue that reads an operand.
func Use(op *Operand) *Rvalue { return &Rvalue{Kind: RvalueUse, Operand: op} }

// BinaryOp returns a binary operation rvalue.
func BinaryOp(op BinOp, lhs, rhs *Operand) *Rvalue {
	return &Rvalue{Kind: RvalueBinary, Op: string(op), LHS: lhs, RHS: rhs}
}

// CheckedBinaryOp returns a binary operation producing a (value, overflowed) pair.
func CheckedBinaryOp(op BinOp, lhs, rhs *Operand) *Rvalue {
	return &Rvalue{Kind: RvalueCheckedBinary, Op: string(op), LHS: lhs, RHS: rhs}
}

// UnaryOp returns a unary operation rvalue.
func UnaryOp(op UnOp, x *Operand) *Rvalue {
	return &Rvalue{Kind: RvalueUnary, Op: string(op), Operand: x}
}

// Cast returns a cast of x to ty.
func Cast(kind CastKind, x *Operand, ty TypeID) *Rvalue {
	return &Rvalue{Kind: RvalueCast, Cast: kind, Operand: x, Type: ty}
}

// UnsizeDyn returns an unsizing cast to a trait object using the given vtable.
func UnsizeDyn(x *Operand, ty TypeID, vtable AllocID) *Rvalue {
	return &Rvalue{Kind: RvalueCast, Cast: CastUnsize, Operand: x, Type: ty, Vtable: vtable}
}

// Borrow returns a reference to p.
func Borrow(p *Place, mut bool) *Rvalue { return &Rvalue{Kind: RvalueRef, Place: p, Mut: mut} }

// AddressOf returns a raw pointer to p.
func AddressOf(p *Place, mut bool) *Rvalue {
	return &Rvalue{Kind: RvalueAddressOf, Place: p, Mut: mut}
}

// Aggregate returns an aggregate rvalue of type ty.
func Aggregate(kind AggregateKind, ty TypeID, variant int, ops ...*Operand) *Rvalue {
	return &Rvalue{Kind: RvalueAggregate, Aggregate: kind, Type: ty, Variant: variant, Operands: ops}
}

// Discriminant returns the discriminant of the enum at p.
func Discriminant(p *Place) *Rvalue { return &Rvalue{Kind: RvalueDiscriminant, Place: p} }

// Len returns the length of the array or slice at p.
func Len(p *Place) *Rvalue { return &Rvalue{Kind: RvalueLen, Place: p} }

// Repeat returns an array of n copies of x.
func Repeat(x *Operand, ty TypeID, n uint64) *Rvalue {
	return &Rvalue{Kind: RvalueRepeat, Operand: x, Type: ty, Count: n}
}

// NullaryOp returns a nullary operation on ty.
func NullaryOp(op NullOp, ty TypeID) *Rvalue {
	return &Rvalue{Kind: RvalueNullary, Op: string(op), Type: ty}
}

// CopyForDeref returns a copy of the pointer at p.
func CopyForDeref(p *Place) *Rvalue { return &Rvalue{Kind: RvalueCopyForDeref, Place: p} }

// Statements.

// Assign returns an assignment of rv to p.
func Assign(p *Place, rv *Rvalue) *Statement {
	return &Statement{Kind: StatementAssign, Place: p, Rvalue: rv}
}

// StorageLive marks a local as live.
func StorageLive(local int) *Statement {
	return &Statement{Kind: StatementStorageLive, Local: local}
}

// StorageDead marks a local as dead.
func StorageDead(local int) *Statement {
	return &Statement{Kind: StatementStorageDead, Local: local}
}

// SetDiscriminant writes the tag of variant to the enum at p.
func SetDiscriminant(p *Place, variant int) *Statement {
	return &Statement{Kind: StatementSetDiscriminant, Place: p, Variant: variant}
}

// Assume returns a statement asserting to the engine that op is true.
func Assume(op *Operand) *Statement { return &Statement{Kind: StatementAssume, Operand: op} }

// CopyNonOverlapping copies count elements from src to dst.
func CopyNonOverlapping(src, dst, count *Operand) *Statement {
	return &Statement{Kind: StatementCopyNonOverlapping, Src: src, Dst: dst, Count: count}
}

// Terminators.

func target(i int) *int { return &i }

// Goto returns an unconditional jump.
func Goto(i int) *Terminator { return &Terminator{Kind: TerminatorGoto, Target: target(i)} }

// Return returns a return terminator.
func Return() *Terminator { return &Terminator{Kind: TerminatorReturn} }

// Unreachable returns an unreachable terminator.
func Unreachable() *Terminator { return &Terminator{Kind: TerminatorUnreachable} }

// Abort returns an abort terminator.
func Abort() *Terminator { return &Terminator{Kind: TerminatorAbort} }

// Case returns a switch target for a value.
func Case(value int64, target int) *SwitchTarget {
	return &SwitchTarget{Value: json.Number(strconv.FormatInt(value, 10)), Target: target}
}

// SwitchInt returns a multi-way branch on discr.
func SwitchInt(discr *Operand, otherwise int, cases ...*SwitchTarget) *Terminator {
	return &Terminator{Kind: TerminatorSwitchInt, Discr: discr, Targets: cases, Otherwise: otherwise}
}

// Call returns a call that continues at target.
func Call(fn *Operand, args []*Operand, dest *Place, next int) *Terminator {
	return &Terminator{Kind: TerminatorCall, Func: fn, Args: args, Dest: dest, Target: target(next)}
}

// CallDiverging returns a call that never returns.
func CallDiverging(fn *Operand, args []*Operand, dest *Place) *Terminator {
	return &Terminator{Kind: TerminatorCall, Func: fn, Args: args, Dest: dest}
}

// Assert returns a check that cond equals expected, panicking with msg otherwise.
func Assert(cond *Operand, expected bool, msg string, next int) *Terminator {
	return &Terminator{Kind: TerminatorAssert, Cond: cond, Expected: expected, Msg: msg, Target: target(next)}
}

// Drop returns a drop of p.
func Drop(p *Place, next int) *Terminator {
	return &Terminator{Kind: TerminatorDrop, Place: p, Target: target(next)}
}

// Yield suspends a coroutine with value.
func Yield(value *Operand, resumeArg *Place, next int) *Terminator {
	return &Terminator{Kind: TerminatorYield, Value: value, ResumeArg: resumeArg, Target: target(next)}
}
