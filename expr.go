package mirv

import (
	"fmt"
	"sort"

	"github.com/holiman/uint256"
)

// Expr represents a symbolic expression over bit-vectors.
type Expr interface {
	String() string
	expr()
}

func (*BinaryExpr) expr()   {}
func (*CastExpr) expr()     {}
func (*ConcatExpr) expr()   {}
func (*ConstantExpr) expr() {}
func (*ExtractExpr) expr()  {}
func (*IteExpr) expr()      {}
func (*NotExpr) expr()      {}
func (*SelectExpr) expr()   {}

// ExprWidth returns the bit width of the expression.
func ExprWidth(expr Expr) uint {
	switch expr := expr.(type) {
	case *ConstantExpr:
		return expr.Width
	case *SelectExpr:
		return Width8
	case *ConcatExpr:
		return ExprWidth(expr.MSB) + ExprWidth(expr.LSB)
	case *ExtractExpr:
		return expr.Width
	case *NotExpr:
		return ExprWidth(expr.Expr)
	case *CastExpr:
		return expr.Width
	case *IteExpr:
		return ExprWidth(expr.Then)
	case *BinaryExpr:
		if expr.Op.IsCompare() {
			return WidthBool
		}
		return ExprWidth(expr.LHS)
	default:
		panic("unreachable")
	}
}

// BinaryOp represents a binary expression operations.
type BinaryOp int

// BinaryExpr operations.
const (
	arithmetic_op_begin = BinaryOp(iota)
	ADD
	SUB
	MUL
	UDIV
	SDIV
	UREM
	SREM
	AND
	OR
	XOR
	SHL
	LSHR
	ASHR
	arithmetic_op_end

	compare_op_begin
	EQ
	NE
	ULT
	ULE
	UGT
	UGE
	SLT
	SLE
	SGT
	SGE
	compare_op_end
)

var binaryOps = [...]string{
	ADD:  "add",
	SUB:  "sub",
	MUL:  "mul",
	UDIV: "udiv",
	SDIV: "sdiv",
	UREM: "urem",
	SREM: "srem",
	AND:  "and",
	OR:   "or",
	XOR:  "xor",
	SHL:  "shl",
	LSHR: "lshr",
	ASHR: "ashr",
	EQ:   "eq",
	NE:   "ne",
	ULT:  "ult",
	ULE:  "ule",
	UGT:  "ugt",
	UGE:  "uge",
	SLT:  "slt",
	SLE:  "sle",
	SGT:  "sgt",
	SGE:  "sge",
}

// String returns the string representation of the operation.
func (op BinaryOp) String() string {
	if op >= 0 && op < BinaryOp(len(binaryOps)) && binaryOps[op] != "" {
		return binaryOps[op]
	}
	return fmt.Sprintf("BinaryOp<%d>", op)
}

// IsArithmetic returns true if op is an arithmetic operator.
func (op BinaryOp) IsArithmetic() bool {
	return op > arithmetic_op_begin && op < arithmetic_op_end
}

// IsCompare returns true if op is a comparison operator.
func (op BinaryOp) IsCompare() bool {
	return op > compare_op_begin && op < compare_op_end
}

// BinaryExpr represents an operation on two expressions.
type BinaryExpr struct {
	Op  BinaryOp
	LHS Expr
	RHS Expr
}

// NewBinaryExpr returns a simplified expression for op applied to lhs & rhs.
// Both operands must have the same width.
//
// Constant operands are folded. Commutative operators keep a constant operand
// on the left and UGT, UGE, SGT and SGE are rewritten with swapped operands.
func NewBinaryExpr(op BinaryOp, lhs, rhs Expr) Expr {
	assert(ExprWidth(lhs) == ExprWidth(rhs), "binary expr width mismatch: op=%s %d != %d", op, ExprWidth(lhs), ExprWidth(rhs))

	if op == NE {
		return NewBinaryExpr(EQ, NewBoolConstantExpr(false), NewBinaryExpr(EQ, lhs, rhs))
	} else if rev, ok := reversedOps[op]; ok {
		op, lhs, rhs = rev, rhs, lhs
	}

	if l, ok := lhs.(*ConstantExpr); ok {
		if r, ok := rhs.(*ConstantExpr); ok {
			return foldBinary(op, l, r)
		}
	} else if IsConstantExpr(rhs) && op.IsCommutative() {
		lhs, rhs = rhs, lhs
	}

	if ExprWidth(lhs) == WidthBool {
		if expr := simplifyBoolBinary(op, lhs, rhs); expr != nil {
			return expr
		}
	}

	switch op {
	case ADD:
		return simplifyAdd(lhs, rhs)
	case SUB:
		return simplifySub(lhs, rhs)
	case MUL:
		if k, ok := lhs.(*ConstantExpr); ok && (k.IsZero() || k.IsOne()) {
			if k.IsZero() {
				return k
			}
			return rhs
		}
	case UDIV, SDIV:
		if k, ok := rhs.(*ConstantExpr); ok && k.IsOne() {
			return lhs
		}
	case UREM, SREM:
		if k, ok := rhs.(*ConstantExpr); ok && k.IsOne() {
			return NewConstantExpr(0, k.Width)
		}
	case AND, OR, XOR:
		return simplifyBitwise(op, lhs, rhs)
	case SHL, LSHR, ASHR:
		if k, ok := rhs.(*ConstantExpr); ok && k.IsZero() {
			return lhs
		} else if k, ok := lhs.(*ConstantExpr); ok && k.IsZero() {
			return k
		}
	case EQ:
		return simplifyEq(lhs, rhs)
	case ULT, SLT:
		if CompareExpr(lhs, rhs) == 0 {
			return NewBoolConstantExpr(false)
		} else if k, ok := rhs.(*ConstantExpr); ok && op == ULT && k.IsZero() {
			return NewBoolConstantExpr(false)
		}
	case ULE, SLE:
		if CompareExpr(lhs, rhs) == 0 {
			return NewBoolConstantExpr(true)
		} else if k, ok := lhs.(*ConstantExpr); ok && op == ULE && k.IsZero() {
			return NewBoolConstantExpr(true)
		}
	default:
		panic("unreachable")
	}
	return &BinaryExpr{Op: op, LHS: lhs, RHS: rhs}
}

// reversedOps maps comparisons onto their mirror with swapped operands.
var reversedOps = map[BinaryOp]BinaryOp{
	UGT: ULT,
	UGE: ULE,
	SGT: SLT,
	SGE: SLE,
}

// IsCommutative returns true if the operands of op can be swapped.
func (op BinaryOp) IsCommutative() bool {
	switch op {
	case ADD, MUL, AND, OR, XOR, EQ:
		return true
	}
	return false
}

func newUltExpr(lhs, rhs Expr) Expr { return NewBinaryExpr(ULT, lhs, rhs) }
func newUleExpr(lhs, rhs Expr) Expr { return NewBinaryExpr(ULE, lhs, rhs) }

// String returns the string representation of the expression.
func (e *BinaryExpr) String() string {
	return fmt.Sprintf("(%s %s %s)", e.Op, e.LHS, e.RHS)
}

// foldBinary evaluates op over two constants.
func foldBinary(op BinaryOp, l, r *ConstantExpr) *ConstantExpr {
	switch op {
	case ADD:
		return l.Add(r)
	case SUB:
		return l.Sub(r)
	case MUL:
		return l.Mul(r)
	case UDIV:
		return l.UDiv(r)
	case SDIV:
		return l.SDiv(r)
	case UREM:
		return l.URem(r)
	case SREM:
		return l.SRem(r)
	case AND:
		return l.And(r)
	case OR:
		return l.Or(r)
	case XOR:
		return l.Xor(r)
	case SHL:
		return l.Shl(r)
	case LSHR:
		return l.LShr(r)
	case ASHR:
		return l.AShr(r)
	case EQ:
		return l.Eq(r)
	case ULT:
		return l.Ult(r)
	case ULE:
		return l.Ule(r)
	case SLT:
		return l.Slt(r)
	case SLE:
		return l.Sle(r)
	default:
		panic(fmt.Sprintf("cannot fold binary op: %s", op))
	}
}

// simplifyBoolBinary rewrites operations on 1-bit operands in terms of
// boolean connectives. Returns nil if op has no boolean form.
func simplifyBoolBinary(op BinaryOp, lhs, rhs Expr) Expr {
	switch op {
	case ADD, SUB:
		return NewBinaryExpr(XOR, lhs, rhs)
	case MUL:
		return NewBinaryExpr(AND, lhs, rhs)
	case SHL, LSHR: // l & !r
		return NewBinaryExpr(AND, lhs, NewIsZeroExpr(rhs))
	case ASHR:
		return lhs
	case ULT: // !l & r
		return NewBinaryExpr(AND, NewIsZeroExpr(lhs), rhs)
	case ULE: // !l | r
		return NewBinaryExpr(OR, NewIsZeroExpr(lhs), rhs)
	case SLT: // true is -1 when signed
		return NewBinaryExpr(AND, lhs, NewIsZeroExpr(rhs))
	case SLE:
		return NewBinaryExpr(OR, lhs, NewIsZeroExpr(rhs))
	}
	return nil
}

// simplifyAdd folds constants through nested sums and differences so that
// at most one constant remains, as the left operand of the outermost node.
func simplifyAdd(lhs, rhs Expr) Expr {
	if k, ok := lhs.(*ConstantExpr); ok {
		if k.IsZero() {
			return rhs
		}

		// K + (K2 + x) => (K+K2) + x
		// K + (K2 - x) => (K+K2) - x
		if b, ok := rhs.(*BinaryExpr); ok && (b.Op == ADD || b.Op == SUB) {
			if k2, ok := b.LHS.(*ConstantExpr); ok {
				return NewBinaryExpr(b.Op, k.Add(k2), b.RHS)
			}
		}
	}

	// (K + x) + y => K + (x + y)
	if b, ok := lhs.(*BinaryExpr); ok && b.Op == ADD && IsConstantExpr(b.LHS) {
		return NewBinaryExpr(ADD, b.LHS, NewBinaryExpr(ADD, b.RHS, rhs))
	}
	// x + (K + y) => K + (x + y)
	if b, ok := rhs.(*BinaryExpr); ok && b.Op == ADD && IsConstantExpr(b.LHS) {
		return NewBinaryExpr(ADD, b.LHS, NewBinaryExpr(ADD, lhs, b.RHS))
	}
	return &BinaryExpr{Op: ADD, LHS: lhs, RHS: rhs}
}

// simplifySub rewrites subtraction of a constant as addition and folds
// constants on both sides together.
func simplifySub(lhs, rhs Expr) Expr {
	if CompareExpr(lhs, rhs) == 0 {
		return NewConstantExpr(0, ExprWidth(lhs))
	}

	// x - K => (-K) + x
	if k, ok := rhs.(*ConstantExpr); ok {
		return NewBinaryExpr(ADD, NewConstantExpr(0, k.Width).Sub(k), lhs)
	}

	if k, ok := lhs.(*ConstantExpr); ok {
		if b, ok := rhs.(*BinaryExpr); ok {
			if k2, ok := b.LHS.(*ConstantExpr); ok {
				switch b.Op {
				case ADD: // K - (K2 + x) => (K-K2) - x
					return NewBinaryExpr(SUB, k.Sub(k2), b.RHS)
				case SUB: // K - (K2 - x) => (K-K2) + x
					return NewBinaryExpr(ADD, k.Sub(k2), b.RHS)
				}
			}
		}
	}

	// (K + x) - y => K + (x - y)
	if b, ok := lhs.(*BinaryExpr); ok && b.Op == ADD && IsConstantExpr(b.LHS) {
		return NewBinaryExpr(ADD, b.LHS, NewBinaryExpr(SUB, b.RHS, rhs))
	}
	return &BinaryExpr{Op: SUB, LHS: lhs, RHS: rhs}
}

// simplifyBitwise applies identity and absorption rules for AND, OR & XOR.
// A constant operand, if any, is on the left.
func simplifyBitwise(op BinaryOp, lhs, rhs Expr) Expr {
	if k, ok := lhs.(*ConstantExpr); ok {
		switch {
		case k.IsZero() && op == AND:
			return k
		case k.IsZero():
			return rhs
		case k.IsAllOnes() && op == AND:
			return rhs
		case k.IsAllOnes() && op == OR:
			return k
		}
	}

	if CompareExpr(lhs, rhs) == 0 {
		if op == XOR {
			return NewConstantExpr(0, ExprWidth(lhs))
		}
		return lhs
	}
	return &BinaryExpr{Op: op, LHS: lhs, RHS: rhs}
}

// simplifyEq normalizes equality against a constant so that the constant is
// compared directly with the innermost non-constant term.
func simplifyEq(lhs, rhs Expr) Expr {
	if CompareExpr(lhs, rhs) == 0 {
		return NewBoolConstantExpr(true)
	}

	k, ok := lhs.(*ConstantExpr)
	if !ok {
		return &BinaryExpr{Op: EQ, LHS: lhs, RHS: rhs}
	}

	// true == X => X
	if k.Width == WidthBool && k.IsTrue() {
		return rhs
	}

	switch rhs := rhs.(type) {
	case *BinaryExpr:
		k2, constLHS := rhs.LHS.(*ConstantExpr)
		switch {
		case rhs.Op == EQ && k.Width == WidthBool && IsConstantFalse(rhs.LHS):
			return rhs.RHS // false == (false == A) => A
		case rhs.Op == OR && k.Width == WidthBool && ExprWidth(rhs.LHS) == WidthBool:
			return NewBinaryExpr(AND, NewIsZeroExpr(rhs.LHS), NewIsZeroExpr(rhs.RHS)) // false == (X | Y) => !X & !Y
		case rhs.Op == ADD && constLHS:
			return NewBinaryExpr(EQ, k.Sub(k2), rhs.RHS) // K == K2 + x => K-K2 == x
		case rhs.Op == SUB && constLHS:
			return NewBinaryExpr(EQ, k2.Sub(k), rhs.RHS) // K == K2 - x => K2-K == x
		}

	case *CastExpr:
		// An extended value equals K only if K survives the round trip
		// through the source width.
		narrow := k.Extract(0, ExprWidth(rhs.Src))
		wide := narrow.ZExt(k.Width)
		if rhs.Signed {
			wide = narrow.SExt(k.Width)
		}
		if CompareExpr(k, wide) != 0 {
			return NewBoolConstantExpr(false)
		}
		return NewBinaryExpr(EQ, narrow, rhs.Src)
	}
	return &BinaryExpr{Op: EQ, LHS: lhs, RHS: rhs}
}

// SelectExpr represents a one byte read from an array.
type SelectExpr struct {
	Array *Array
	Index Expr
}

// NewSelectExpr returns a new instance of SelectExpr based on a given array.
func NewSelectExpr(a *Array, index Expr) Expr {
	return &SelectExpr{
		Array: a,
		Index: index,
	}
}

// String returns the string representation of the expression.
func (e *SelectExpr) String() string {
	return fmt.Sprintf("(select %s %s)", e.Array, e.Index)
}

// ConcatExpr joins two expressions with MSB in the high bits.
type ConcatExpr struct {
	MSB Expr
	LSB Expr
}

// NewConcatExpr returns msb:lsb. Constant halves are folded and adjacent
// extractions of the same expression are merged.
func NewConcatExpr(msb, lsb Expr) Expr {
	switch hi := msb.(type) {
	case *ConstantExpr:
		if lo, ok := lsb.(*ConstantExpr); ok {
			return hi.Concat(lo)
		}
	case *ExtractExpr:
		if lo, ok := lsb.(*ExtractExpr); ok && lo.Offset+lo.Width == hi.Offset && CompareExpr(hi.Expr, lo.Expr) == 0 {
			return NewExtractExpr(hi.Expr, lo.Offset, hi.Width+lo.Width)
		}
	}
	return &ConcatExpr{MSB: msb, LSB: lsb}
}

// String returns the string representation of the expression.
func (e *ConcatExpr) String() string {
	return fmt.Sprintf("(concat %s %s)", e.MSB, e.LSB)
}

// ExtractExpr selects Width bits of Expr starting at bit Offset.
type ExtractExpr struct {
	Expr   Expr
	Offset uint
	Width  uint
}

// NewExtractExpr returns width bits of expr starting at offset. The
// extraction is pushed through concatenations, nested extractions and
// extensions where possible.
func NewExtractExpr(expr Expr, offset uint, width uint) Expr {
	ew := ExprWidth(expr)
	assert(width > 0, "extract width cannot be zero")
	assert(offset+width <= ew, "extract out of bounds: %d+%d > %d", offset, width, ew)
	if width == ew {
		return expr
	}

	end := offset + width
	switch expr := expr.(type) {
	case *ConstantExpr:
		return expr.Extract(offset, width)

	case *ConcatExpr:
		split := ExprWidth(expr.LSB)
		switch {
		case offset >= split:
			return NewExtractExpr(expr.MSB, offset-split, width)
		case end <= split:
			return NewExtractExpr(expr.LSB, offset, width)
		}
		return NewConcatExpr(
			NewExtractExpr(expr.MSB, 0, end-split),
			NewExtractExpr(expr.LSB, offset, split-offset),
		)

	case *ExtractExpr:
		return NewExtractExpr(expr.Expr, expr.Offset+offset, width)

	case *CastExpr:
		sw := ExprWidth(expr.Src)
		if end <= sw {
			return NewExtractExpr(expr.Src, offset, width)
		} else if offset >= sw && !expr.Signed {
			return NewConstantExpr(0, width)
		}
	}
	return &ExtractExpr{Expr: expr, Offset: offset, Width: width}
}

// String returns the string representation of the expression.
func (e *ExtractExpr) String() string {
	return fmt.Sprintf("(extract %s %d %d)", e.Expr, e.Offset, e.Width)
}

// NotExpr represents a bitwise not of an expression.
type NotExpr struct {
	Expr Expr
}

// NewNotExpr returns a new instance of NotExpr.
func NewNotExpr(expr Expr) Expr {
	switch expr := expr.(type) {
	case *ConstantExpr:
		return expr.Not()
	case *NotExpr:
		return expr.Expr
	}
	return &NotExpr{Expr: expr}
}

// String returns the string representation of the expression.
func (e *NotExpr) String() string {
	return fmt.Sprintf("(not %s)", e.Expr)
}

// IteExpr represents an if-then-else selection between two expressions.
type IteExpr struct {
	Cond Expr
	Then Expr
	Else Expr
}

// NewIteExpr returns an expression that evaluates to then if cond is true
// and to els otherwise. Cond must be a boolean.
func NewIteExpr(cond, then, els Expr) Expr {
	assert(ExprWidth(cond) == WidthBool, "ite: condition must be boolean")
	assert(ExprWidth(then) == ExprWidth(els), "ite: width mismatch: %d != %d", ExprWidth(then), ExprWidth(els))

	if cond, ok := cond.(*ConstantExpr); ok {
		if cond.IsTrue() {
			return then
		}
		return els
	} else if CompareExpr(then, els) == 0 {
		return then
	}

	// Boolean selections between constants reduce to the condition.
	if ExprWidth(then) == WidthBool {
		if IsConstantTrue(then) && IsConstantFalse(els) {
			return cond
		} else if IsConstantFalse(then) && IsConstantTrue(els) {
			return NewNotExpr(cond)
		}
	}
	return &IteExpr{Cond: cond, Then: then, Else: els}
}

// String returns the string representation of the expression.
func (e *IteExpr) String() string {
	return fmt.Sprintf("(ite %s %s %s)", e.Cond, e.Then, e.Else)
}

// CastExpr represents the zero or sign extension of Src to a wider Width.
type CastExpr struct {
	Src    Expr
	Width  uint
	Signed bool
}

// NewCastExpr converts src to width bits. Narrowing becomes an extraction
// of the low bits so a CastExpr only ever widens.
func NewCastExpr(src Expr, width uint, signed bool) Expr {
	switch sw := ExprWidth(src); {
	case width == sw:
		return src
	case width < sw:
		return NewExtractExpr(src, 0, width)
	}

	if k, ok := src.(*ConstantExpr); ok {
		if signed {
			return k.SExt(width)
		}
		return k.ZExt(width)
	}
	return &CastExpr{Src: src, Width: width, Signed: signed}
}

func newZExtExpr(src Expr, w uint) Expr { return NewCastExpr(src, w, false) }
func newSExtExpr(src Expr, w uint) Expr { return NewCastExpr(src, w, true) }

// String returns the string representation of the expression.
func (e *CastExpr) String() string {
	op := "zext"
	if e.Signed {
		op = "sext"
	}
	return fmt.Sprintf("(%s %s %d)", op, e.Src, e.Width)
}

// ConstantExpr represents a fixed-width integer of up to 256 bits.
// Value is always masked to Width bits.
type ConstantExpr struct {
	Value uint256.Int
	Width uint
}

// NewConstantExpr returns a new instance of ConstantExpr.
func NewConstantExpr(value uint64, width uint) *ConstantExpr {
	e := &ConstantExpr{Width: width}
	e.Value.SetUint64(value)
	e.Value.And(&e.Value, bitmask(width))
	return e
}

// NewConstantExprInt returns a constant expression from a 256-bit integer,
// truncated to width.
func NewConstantExprInt(value *uint256.Int, width uint) *ConstantExpr {
	e := &ConstantExpr{Width: width}
	e.Value.And(value, bitmask(width))
	return e
}

// NewSignedConstantExpr returns the two's complement encoding of value in width bits.
func NewSignedConstantExpr(value int64, width uint) *ConstantExpr {
	v := uint256.NewInt(uint64(value))
	if value < 0 {
		v.Or(v, new(uint256.Int).Not(bitmask(Width64)))
	}
	return NewConstantExprInt(v, width)
}

// NewConstantExpr8 returns a 8-bit constant expression.
func NewConstantExpr8(value uint64) *ConstantExpr {
	return NewConstantExpr(value, 8)
}

// NewConstantExpr16 returns a 16-bit constant expression.
func NewConstantExpr16(value uint64) *ConstantExpr {
	return NewConstantExpr(value, 16)
}

// NewConstantExpr32 returns a 32-bit constant expression.
func NewConstantExpr32(value uint64) *ConstantExpr {
	return NewConstantExpr(value, 32)
}

// NewConstantExpr64 returns a 64-bit constant expression.
func NewConstantExpr64(value uint64) *ConstantExpr {
	return NewConstantExpr(value, 64)
}

// NewBoolConstantExpr is an ease of use function for creating constant boolean expressions.
func NewBoolConstantExpr(value bool) *ConstantExpr {
	if value {
		return NewConstantExpr(1, WidthBool)
	}
	return NewConstantExpr(0, WidthBool)
}

// String returns the string representation of the expression.
func (e *ConstantExpr) String() string {
	return fmt.Sprintf("(const %s %d)", e.Value.Dec(), e.Width)
}

// Uint64 returns the low 64 bits of the value.
func (e *ConstantExpr) Uint64() uint64 { return e.Value.Uint64() }

// Int64 returns the value sign-extended from its width and truncated to 64 bits.
func (e *ConstantExpr) Int64() int64 { return int64(e.Signed().Uint64()) }

// IsUint64 returns true if the unsigned value fits in 64 bits.
func (e *ConstantExpr) IsUint64() bool { return e.Value.IsUint64() }

// Signed returns the value sign-extended from its width to 256 bits.
func (e *ConstantExpr) Signed() *uint256.Int {
	return signExtend(&e.Value, e.Width)
}

// IsNegative returns true if the sign bit is set.
func (e *ConstantExpr) IsNegative() bool {
	return e.Width > 0 && e.bit(e.Width-1)
}

func (e *ConstantExpr) bit(n uint) bool {
	var tmp uint256.Int
	return !tmp.Rsh(&e.Value, n).And(&tmp, uint256.NewInt(1)).IsZero()
}

// IsZero returns true if all bits are zero.
func (e *ConstantExpr) IsZero() bool { return e.Value.IsZero() }

// IsOne returns true if the value is one.
func (e *ConstantExpr) IsOne() bool { return e.Value.IsUint64() && e.Value.Uint64() == 1 }

// IsTrue returns true if this is a boolean true expression.
func (e *ConstantExpr) IsTrue() bool {
	return e.Width == WidthBool && !e.Value.IsZero()
}

// IsFalse returns true if this is a boolean false expression.
func (e *ConstantExpr) IsFalse() bool {
	return e.Width == WidthBool && e.Value.IsZero()
}

// IsAllOnes returns true if all bits in the value are one.
func (e *ConstantExpr) IsAllOnes() bool {
	return e.Value.Eq(bitmask(e.Width))
}

// combine applies fn to the values of e and other and masks the result to
// the shared width.
func (e *ConstantExpr) combine(op string, other *ConstantExpr, fn func(z, x, y *uint256.Int) *uint256.Int) *ConstantExpr {
	assert(e.Width == other.Width, "%s: width mismatch: %d != %d", op, e.Width, other.Width)
	return NewConstantExprInt(fn(new(uint256.Int), &e.Value, &other.Value), e.Width)
}

// Add returns e + other, wrapping at the width.
func (e *ConstantExpr) Add(other *ConstantExpr) *ConstantExpr {
	return e.combine("add", other, (*uint256.Int).Add)
}

// Sub returns e - other, wrapping at the width.
func (e *ConstantExpr) Sub(other *ConstantExpr) *ConstantExpr {
	return e.combine("sub", other, (*uint256.Int).Sub)
}

// Mul returns e * other, wrapping at the width.
func (e *ConstantExpr) Mul(other *ConstantExpr) *ConstantExpr {
	return e.combine("mul", other, (*uint256.Int).Mul)
}

// UDiv returns the unsigned quotient of e and other.
// Division by zero yields all ones, matching bit-vector solvers.
func (e *ConstantExpr) UDiv(other *ConstantExpr) *ConstantExpr {
	if other.IsZero() {
		return NewConstantExprInt(bitmask(e.Width), e.Width)
	}
	return e.combine("udiv", other, (*uint256.Int).Div)
}

// SDiv returns the signed quotient of e and other, truncated toward zero.
// Division by zero yields -1 for non-negative dividends and 1 otherwise.
func (e *ConstantExpr) SDiv(other *ConstantExpr) *ConstantExpr {
	assert(e.Width == other.Width, "sdiv: width mismatch: %d != %d", e.Width, other.Width)
	switch {
	case !other.IsZero():
		return NewConstantExprInt(new(uint256.Int).SDiv(e.Signed(), other.Signed()), e.Width)
	case e.IsNegative():
		return NewConstantExpr(1, e.Width)
	default:
		return NewConstantExprInt(bitmask(e.Width), e.Width)
	}
}

// URem returns the unsigned remainder of e and other.
// The remainder of division by zero is the dividend.
func (e *ConstantExpr) URem(other *ConstantExpr) *ConstantExpr {
	if other.IsZero() {
		return e
	}
	return e.combine("urem", other, (*uint256.Int).Mod)
}

// SRem returns the signed remainder of e and other, which takes the sign of
// the dividend. The remainder of division by zero is the dividend.
func (e *ConstantExpr) SRem(other *ConstantExpr) *ConstantExpr {
	assert(e.Width == other.Width, "srem: width mismatch: %d != %d", e.Width, other.Width)
	if other.IsZero() {
		return e
	}
	return NewConstantExprInt(new(uint256.Int).SMod(e.Signed(), other.Signed()), e.Width)
}

// And returns the bitwise AND of e and other.
func (e *ConstantExpr) And(other *ConstantExpr) *ConstantExpr {
	return e.combine("and", other, (*uint256.Int).And)
}

// Or returns the bitwise OR of e and other.
func (e *ConstantExpr) Or(other *ConstantExpr) *ConstantExpr {
	return e.combine("or", other, (*uint256.Int).Or)
}

// Xor returns the bitwise XOR of e and other.
func (e *ConstantExpr) Xor(other *ConstantExpr) *ConstantExpr {
	return e.combine("xor", other, (*uint256.Int).Xor)
}

// shiftAmount returns the shift amount, capped at the width.
func (e *ConstantExpr) shiftAmount(other *ConstantExpr) uint {
	if !other.Value.IsUint64() || other.Value.Uint64() >= uint64(e.Width) {
		return e.Width
	}
	return uint(other.Value.Uint64())
}

// Shl returns the value of e shifted left by other number of bits.
// Shifting by the width or more yields zero.
func (e *ConstantExpr) Shl(other *ConstantExpr) *ConstantExpr {
	n := e.shiftAmount(other)
	if n >= e.Width {
		return NewConstantExpr(0, e.Width)
	}
	var v uint256.Int
	return NewConstantExprInt(v.Lsh(&e.Value, n), e.Width)
}

// LShr returns the value of e logically shifted right by other number of bits.
func (e *ConstantExpr) LShr(other *ConstantExpr) *ConstantExpr {
	n := e.shiftAmount(other)
	if n >= e.Width {
		return NewConstantExpr(0, e.Width)
	}
	var v uint256.Int
	return NewConstantExprInt(v.Rsh(&e.Value, n), e.Width)
}

// AShr returns the value of e arithmetically shifted right by other number of bits.
func (e *ConstantExpr) AShr(other *ConstantExpr) *ConstantExpr {
	n := e.shiftAmount(other)
	if n >= e.Width {
		n = e.Width - 1
	}
	var v uint256.Int
	return NewConstantExprInt(v.SRsh(e.Signed(), n), e.Width)
}

// Eq returns the equality of e and other.
func (e *ConstantExpr) Eq(other *ConstantExpr) *ConstantExpr {
	assert(e.Width == other.Width, "eq: width mismatch: %d != %d", e.Width, other.Width)
	return NewBoolConstantExpr(e.Value.Eq(&other.Value))
}

// Ult returns the unsigned less than comparison of e to other.
func (e *ConstantExpr) Ult(other *ConstantExpr) *ConstantExpr {
	return NewBoolConstantExpr(e.Value.Lt(&other.Value))
}

// Ugt returns the unsigned greater than comparison of e to other.
func (e *ConstantExpr) Ugt(other *ConstantExpr) *ConstantExpr {
	return other.Ult(e)
}

// Ule returns the unsigned less than or equal to comparison of e to other.
func (e *ConstantExpr) Ule(other *ConstantExpr) *ConstantExpr {
	return NewBoolConstantExpr(!e.Value.Gt(&other.Value))
}

// Uge returns the unsigned greater than or equal to comparison of e to other.
func (e *ConstantExpr) Uge(other *ConstantExpr) *ConstantExpr {
	return other.Ule(e)
}

// Slt returns the signed less than comparison of e to other.
func (e *ConstantExpr) Slt(other *ConstantExpr) *ConstantExpr {
	return NewBoolConstantExpr(e.Signed().Slt(other.Signed()))
}

// Sgt returns the signed greater than comparison of e to other.
func (e *ConstantExpr) Sgt(other *ConstantExpr) *ConstantExpr {
	return other.Slt(e)
}

// Sle returns the signed less than or equal to comparison of e to other.
func (e *ConstantExpr) Sle(other *ConstantExpr) *ConstantExpr {
	return NewBoolConstantExpr(!e.Signed().Sgt(other.Signed()))
}

// Sge returns the signed greater than or equal to comparison of e to other.
func (e *ConstantExpr) Sge(other *ConstantExpr) *ConstantExpr {
	return other.Sle(e)
}

// ZExt returns the zero-extension of e to a new width. Narrower widths truncate.
func (e *ConstantExpr) ZExt(width uint) *ConstantExpr {
	if e.Width == width {
		return e
	}
	return NewConstantExprInt(&e.Value, width)
}

// SExt returns the sign-extension of e to a new width. Narrower widths truncate.
func (e *ConstantExpr) SExt(width uint) *ConstantExpr {
	if e.Width == width {
		return e
	}
	return NewConstantExprInt(e.Signed(), width)
}

// Not returns the bitwise NOT of the expression.
func (e *ConstantExpr) Not() *ConstantExpr {
	var v uint256.Int
	return NewConstantExprInt(v.Not(&e.Value), e.Width)
}

// Extract returns width number of bits starting at offset.
func (e *ConstantExpr) Extract(offset, width uint) *ConstantExpr {
	var v uint256.Int
	return NewConstantExprInt(v.Rsh(&e.Value, offset), width)
}

// Concat returns the concatenation of e and lsb.
func (e *ConstantExpr) Concat(lsb *ConstantExpr) *ConstantExpr {
	assert(e.Width+lsb.Width <= Width256, "concat: width overflow: %d+%d", e.Width, lsb.Width)
	var v uint256.Int
	v.Lsh(&e.Value, lsb.Width)
	v.Or(&v, &lsb.Value)
	return NewConstantExprInt(&v, e.Width+lsb.Width)
}

// masks holds the low-bit masks for each width up to 256.
var masks [Width256 + 1]uint256.Int

func init() {
	one := uint256.NewInt(1)
	for w := uint(0); w < Width256; w++ {
		masks[w].Lsh(one, w)
		masks[w].Sub(&masks[w], one)
	}
	masks[Width256].SetAllOne()
}

// bitmask returns a value with the low width bits set.
func bitmask(width uint) *uint256.Int {
	assert(width <= Width256, "bitmask: width too large: %d", width)
	return &masks[width]
}

// signExtend returns v sign-extended from width to 256 bits.
func signExtend(v *uint256.Int, width uint) *uint256.Int {
	out := new(uint256.Int).Set(v)
	if width == 0 || width >= Width256 {
		return out
	}
	var sign uint256.Int
	if sign.Rsh(v, width-1).And(&sign, uint256.NewInt(1)).IsZero() {
		return out
	}
	var hi uint256.Int
	return out.Or(out, hi.Not(bitmask(width)))
}

// IsConstantExpr returns true if expr is an instance of ConstantExpr.
func IsConstantExpr(expr Expr) bool {
	_, ok := expr.(*ConstantExpr)
	return ok
}

// IsConstantTrue returns true if expr is an instance of ConstantExpr and is true.
func IsConstantTrue(expr Expr) bool {
	tmp, ok := expr.(*ConstantExpr)
	return ok && tmp.IsTrue()
}

// IsConstantFalse returns true if expr is an instance of ConstantExpr and is false.
func IsConstantFalse(expr Expr) bool {
	tmp, ok := expr.(*ConstantExpr)
	return ok && tmp.IsFalse()
}

// NewIsZeroExpr returns an expression that checks the equality of other to zero.
func NewIsZeroExpr(other Expr) Expr {
	return NewBinaryExpr(EQ, other, NewConstantExpr(0, ExprWidth(other)))
}

// NewAndExpr returns the conjunction of boolean expressions. Returns true if empty.
func NewAndExpr(exprs ...Expr) Expr {
	var result Expr = NewBoolConstantExpr(true)
	for _, expr := range exprs {
		result = NewBinaryExpr(AND, result, expr)
	}
	return result
}

// NewOrExpr returns the disjunction of boolean expressions. Returns false if empty.
func NewOrExpr(exprs ...Expr) Expr {
	var result Expr = NewBoolConstantExpr(false)
	for _, expr := range exprs {
		result = NewBinaryExpr(OR, result, expr)
	}
	return result
}

// CompareExpr returns an integer comparing two expressions.
// The result will be 0 if a==b, -1 if a < b, and +1 if a > b.
func CompareExpr(a, b Expr) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return -1
	case b == nil:
		return 1
	}

	if c := compareUint(uint64(exprKind(a)), uint64(exprKind(b))); c != 0 {
		return c
	}

	switch a := a.(type) {
	case *ConstantExpr:
		b := b.(*ConstantExpr)
		if c := compareUint(uint64(a.Width), uint64(b.Width)); c != 0 {
			return c
		}
		return a.Value.Cmp(&b.Value)
	case *SelectExpr:
		b := b.(*SelectExpr)
		if c := CompareExpr(a.Index, b.Index); c != 0 {
			return c
		}
		return CompareArray(a.Array, b.Array)
	case *ConcatExpr:
		b := b.(*ConcatExpr)
		return compareExprs(a.MSB, b.MSB, a.LSB, b.LSB)
	case *ExtractExpr:
		b := b.(*ExtractExpr)
		if c := compareUint(uint64(a.Offset), uint64(b.Offset)); c != 0 {
			return c
		} else if c := compareUint(uint64(a.Width), uint64(b.Width)); c != 0 {
			return c
		}
		return CompareExpr(a.Expr, b.Expr)
	case *NotExpr:
		return CompareExpr(a.Expr, b.(*NotExpr).Expr)
	case *CastExpr:
		b := b.(*CastExpr)
		if a.Signed != b.Signed {
			if a.Signed {
				return -1
			}
			return 1
		} else if c := compareUint(uint64(a.Width), uint64(b.Width)); c != 0 {
			return c
		}
		return CompareExpr(a.Src, b.Src)
	case *BinaryExpr:
		b := b.(*BinaryExpr)
		if c := compareUint(uint64(a.Op), uint64(b.Op)); c != 0 {
			return c
		}
		return compareExprs(a.LHS, b.LHS, a.RHS, b.RHS)
	case *IteExpr:
		b := b.(*IteExpr)
		return compareExprs(a.Cond, b.Cond, a.Then, b.Then, a.Else, b.Else)
	default:
		panic("unreachable")
	}
}

// compareExprs compares pairs of expressions in order and returns the first
// non-zero result.
func compareExprs(pairs ...Expr) int {
	for i := 0; i+1 < len(pairs); i += 2 {
		if c := CompareExpr(pairs[i], pairs[i+1]); c != 0 {
			return c
		}
	}
	return 0
}

func compareUint(a, b uint64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

// exprKind orders expression types for CompareExpr.
func exprKind(expr Expr) int {
	switch expr.(type) {
	case *ConstantExpr:
		return 1
	case *SelectExpr:
		return 2
	case *ConcatExpr:
		return 3
	case *ExtractExpr:
		return 4
	case *NotExpr:
		return 5
	case *CastExpr:
		return 6
	case *BinaryExpr:
		return 7
	case *IteExpr:
		return 8
	}
	panic(fmt.Sprintf("unexpected expression type: %T", expr))
}

// ExprVisitor represents a visitor that can be passed to WalkExpr().
type ExprVisitor interface {
	// Executed for every visited node. Return a different expression to replace it.
	Visit(expr Expr) (Expr, ExprVisitor)
}

// WalkExpr traverses expr depth-first, including the update chains of
// selected arrays. Children are replaced in place by whatever the visitor
// returns for them.
func WalkExpr(v ExprVisitor, expr Expr) Expr {
	other, v := v.Visit(expr)
	if v == nil {
		return other
	}

	walk := func(children ...*Expr) {
		for _, child := range children {
			*child = WalkExpr(v, *child)
		}
	}

	switch expr := expr.(type) {
	case *ConstantExpr:
	case *BinaryExpr:
		walk(&expr.LHS, &expr.RHS)
	case *CastExpr:
		walk(&expr.Src)
	case *ConcatExpr:
		walk(&expr.MSB, &expr.LSB)
	case *ExtractExpr:
		walk(&expr.Expr)
	case *NotExpr:
		walk(&expr.Expr)
	case *IteExpr:
		walk(&expr.Cond, &expr.Then, &expr.Else)
	case *SelectExpr:
		walk(&expr.Index)
		for upd := expr.Array.Updates; upd != nil; upd = upd.Next {
			walk(&upd.Index, &upd.Value)
		}
	default:
		panic("unreachable")
	}
	return other
}

// FindArrays returns the root of every symbolic array referenced by exprs,
// sorted by id.
func FindArrays(exprs ...Expr) []*Array {
	v := &arrayCollector{seen: make(map[uint64]*Array)}
	for _, expr := range exprs {
		WalkExpr(v, expr)
	}

	arrays := make([]*Array, 0, len(v.seen))
	for _, a := range v.seen {
		arrays = append(arrays, a)
	}
	sort.Slice(arrays, func(i, j int) bool { return arrays[i].ID < arrays[j].ID })
	return arrays
}

type arrayCollector struct {
	seen map[uint64]*Array
}

func (v *arrayCollector) Visit(expr Expr) (Expr, ExprVisitor) {
	if sel, ok := expr.(*SelectExpr); ok && sel.Array.IsSymbolic() {
		if _, ok := v.seen[sel.Array.ID]; !ok {
			v.seen[sel.Array.ID] = sel.Array.Root()
		}
	}
	return expr, v
}

// ExprEvaluator evaluates expressions under a binding of symbolic arrays to
// concrete bytes.
type ExprEvaluator struct {
	bindings map[uint64][]byte
}

// NewExprEvaluator returns an evaluator that binds arrays[i] to values[i].
func NewExprEvaluator(arrays []*Array, values [][]byte) *ExprEvaluator {
	assert(len(arrays) == len(values), "array/value count mismatch: %d != %d", len(arrays), len(values))

	bindings := make(map[uint64][]byte, len(arrays))
	for i, a := range arrays {
		_, dup := bindings[a.ID]
		assert(!dup, "duplicate array: id=%d", a.ID)
		bindings[a.ID] = values[i]
	}
	return &ExprEvaluator{bindings: bindings}
}

// Evaluate reduces expr to a constant. Returns an error if expr reads from
// an array that has no binding.
func (ee *ExprEvaluator) Evaluate(expr Expr) (*ConstantExpr, error) {
	switch expr := expr.(type) {
	case *ConstantExpr:
		return expr, nil

	case *IteExpr:
		cond, err := ee.Evaluate(expr.Cond)
		if err != nil {
			return nil, err
		} else if cond.IsTrue() {
			return ee.Evaluate(expr.Then)
		}
		return ee.Evaluate(expr.Else)

	case *SelectExpr:
		return ee.evaluateSelect(expr)
	}

	// Remaining expressions are rebuilt from constant operands, which the
	// constructors fold.
	var result Expr
	switch expr := expr.(type) {
	case *BinaryExpr:
		ops, err := ee.evaluateAll(expr.LHS, expr.RHS)
		if err != nil {
			return nil, err
		}
		result = NewBinaryExpr(expr.Op, ops[0], ops[1])
	case *ConcatExpr:
		ops, err := ee.evaluateAll(expr.MSB, expr.LSB)
		if err != nil {
			return nil, err
		}
		result = NewConcatExpr(ops[0], ops[1])
	case *CastExpr:
		ops, err := ee.evaluateAll(expr.Src)
		if err != nil {
			return nil, err
		}
		result = NewCastExpr(ops[0], expr.Width, expr.Signed)
	case *ExtractExpr:
		ops, err := ee.evaluateAll(expr.Expr)
		if err != nil {
			return nil, err
		}
		result = NewExtractExpr(ops[0], expr.Offset, expr.Width)
	case *NotExpr:
		ops, err := ee.evaluateAll(expr.Expr)
		if err != nil {
			return nil, err
		}
		result = NewNotExpr(ops[0])
	default:
		return nil, fmt.Errorf("invalid expression type: %T", expr)
	}
	return result.(*ConstantExpr), nil
}

func (ee *ExprEvaluator) evaluateAll(exprs ...Expr) ([]Expr, error) {
	out := make([]Expr, len(exprs))
	for i, expr := range exprs {
		k, err := ee.Evaluate(expr)
		if err != nil {
			return nil, err
		}
		out[i] = k
	}
	return out, nil
}

// evaluateSelect returns the newest update written to the selected index,
// falling back to the array's initial or bound bytes.
func (ee *ExprEvaluator) evaluateSelect(expr *SelectExpr) (*ConstantExpr, error) {
	i, err := ee.Evaluate(expr.Index)
	if err != nil {
		return nil, err
	}

	for upd := expr.Array.Updates; upd != nil; upd = upd.Next {
		index, err := ee.Evaluate(upd.Index)
		if err != nil {
			return nil, err
		} else if index.Value.Eq(&i.Value) {
			return ee.Evaluate(upd.Value)
		}
	}

	data := expr.Array.Init
	if data == nil {
		var ok bool
		if data, ok = ee.bindings[expr.Array.ID]; !ok {
			return nil, fmt.Errorf("array not bound: id=%d", expr.Array.ID)
		}
	}
	if !i.IsUint64() || i.Uint64() >= uint64(len(data)) {
		return nil, fmt.Errorf("select index out of bounds: %s >= %d", i.Value.Dec(), len(data))
	}
	return NewConstantExpr8(uint64(data[i.Uint64()])), nil
}

// minBytes returns smallest number of bytes in which the w fits.
func minBytes(bits uint) uint {
	return (bits + 7) / 8
}
