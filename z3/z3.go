// Package z3 implements mirv.Solver on top of the Z3 theorem prover.
package z3

import (
	"fmt"
	"strings"
	"time"
	"unsafe"

	"github.com/benbjohnson/mirv"
)

/*
#cgo LDFLAGS: -lz3
#include <z3.h>
#include <stdlib.h>
*/
import "C"

// Ensure solver implements interface.
var _ mirv.Solver = (*Solver)(nil)

// Solver represents a solver that uses an embedded Z3 solver.
type Solver struct {
	ctx   *Context
	stats Stats

	// Maximum time spent in a single check. Zero means no limit.
	Timeout time.Duration
}

// NewSolver returns a new instance of Solver.
func NewSolver() *Solver {
	return &Solver{
		ctx: NewContext(),
	}
}

// Close deletes the underlying Z3 context.
func (s *Solver) Close() error {
	return s.ctx.Close()
}

// Stats returns statistics for the solver.
func (s *Solver) Stats() Stats {
	return s.stats
}

// Solve checks the satisfiability of constraints and returns a model for
// each array if satisfiable.
func (s *Solver) Solve(constraints []mirv.Expr, arrays []*mirv.Array) (satisfiable bool, values [][]byte, err error) {
	t := time.Now()
	defer func() {
		s.stats.SolveN++
		s.stats.SolveTime += time.Since(t)
	}()

	solver := C.Z3_mk_solver(s.ctx.raw)
	if err := s.ctx.err("Z3_mk_solver"); err != nil {
		return false, nil, err
	}
	C.Z3_solver_inc_ref(s.ctx.raw, solver)
	defer C.Z3_solver_dec_ref(s.ctx.raw, solver)

	if s.Timeout > 0 {
		if err := s.ctx.setTimeout(solver, s.Timeout); err != nil {
			return false, nil, err
		}
	}

	// Concrete base arrays are shared by many selects; build each once.
	s.ctx.arrays = make(map[uint64]C.Z3_ast)
	defer func() { s.ctx.arrays = nil }()

	for _, constraint := range constraints {
		ast, err := s.ctx.toAST(constraint)
		if err != nil {
			return false, nil, err
		}
		C.Z3_solver_assert(s.ctx.raw, solver, ast)
		if err := s.ctx.err("Z3_solver_assert"); err != nil {
			return false, nil, err
		}
	}

	// Exit immediately if unsatisfiable or the solver gave up.
	switch C.Z3_solver_check(s.ctx.raw, solver) {
	case C.Z3_L_FALSE:
		return false, nil, s.ctx.err("Z3_solver_check")
	case C.Z3_L_UNDEF:
		if err := s.ctx.err("Z3_solver_check"); err != nil {
			return false, nil, err
		}
		return false, nil, unknownError(C.GoString(C.Z3_solver_get_reason_unknown(s.ctx.raw, solver)))
	}
	if err := s.ctx.err("Z3_solver_check"); err != nil {
		return false, nil, err
	} else if len(arrays) == 0 {
		return true, nil, nil // no symbolics, ignore model
	}

	model := C.Z3_solver_get_model(s.ctx.raw, solver)
	if err := s.ctx.err("Z3_solver_get_model"); err != nil {
		return true, nil, err
	}
	C.Z3_model_inc_ref(s.ctx.raw, model)
	defer C.Z3_model_dec_ref(s.ctx.raw, model)

	values = make([][]byte, 0, len(arrays))
	for _, array := range arrays {
		value, err := s.ctx.evalArray(model, array)
		if err != nil {
			return true, nil, err
		}
		values = append(values, value)
	}
	return true, values, nil
}

// unknownError maps the reason for an undetermined check to a mirv error.
func unknownError(reason string) error {
	switch {
	case strings.Contains(reason, "timeout"):
		return mirv.ErrSolverTimeout
	case strings.Contains(reason, "canceled"):
		return mirv.ErrSolverCanceled
	case strings.Contains(reason, "resource limits reached"), strings.Contains(reason, "memout"):
		return mirv.ErrSolverResourceLimit
	case strings.Contains(reason, "unknown"), strings.Contains(reason, "incomplete"):
		return mirv.ErrSolverUnknown
	default:
		return fmt.Errorf("z3: %s", reason)
	}
}

// Context represents a Z3 context object that is used for constructing expressions.
type Context struct {
	raw    C.Z3_context
	arrays map[uint64]C.Z3_ast // concrete base arrays for the current check
}

// NewContext returns a new instance of Context.
func NewContext() *Context {
	config := C.Z3_mk_config()
	defer C.Z3_del_config(config)

	raw := C.Z3_mk_context(config)
	C.Z3_set_error_handler(raw, nil)
	C.Z3_set_ast_print_mode(raw, C.Z3_PRINT_SMTLIB2_COMPLIANT)
	return &Context{raw: raw}
}

// Close deletes the underlying Z3 context.
func (ctx *Context) Close() error {
	C.Z3_del_context(ctx.raw)
	return nil
}

// err returns the error for the last API call. Returns nil if last call was successful.
func (ctx *Context) err(op string) error {
	if code := C.Z3_get_error_code(ctx.raw); code != C.Z3_OK {
		return &Error{Code: int(code), Op: op, Message: C.GoString(C.Z3_get_error_msg(ctx.raw, code))}
	}
	return nil
}

func (ctx *Context) symbol(name string) C.Z3_symbol {
	cname := C.CString(name)
	defer C.free(unsafe.Pointer(cname))
	return C.Z3_mk_string_symbol(ctx.raw, cname)
}

func (ctx *Context) setTimeout(solver C.Z3_solver, d time.Duration) error {
	params := C.Z3_mk_params(ctx.raw)
	C.Z3_params_inc_ref(ctx.raw, params)
	defer C.Z3_params_dec_ref(ctx.raw, params)

	C.Z3_params_set_uint(ctx.raw, params, ctx.symbol("timeout"), C.uint(d/time.Millisecond))
	C.Z3_solver_set_params(ctx.raw, solver, params)
	return ctx.err("Z3_solver_set_params")
}

// toAST converts an expression to a Z3 AST. Width-1 expressions are
// booleans; everything else is a bit-vector.
func (ctx *Context) toAST(expr mirv.Expr) (C.Z3_ast, error) {
	switch expr := expr.(type) {
	case *mirv.ConstantExpr:
		return ctx.toConstantAST(expr)
	case *mirv.SelectExpr:
		return ctx.toSelectAST(expr)
	case *mirv.ConcatExpr:
		return ctx.toConcatAST(expr)
	case *mirv.ExtractExpr:
		return ctx.toExtractAST(expr)
	case *mirv.CastExpr:
		return ctx.toCastAST(expr)
	case *mirv.NotExpr:
		return ctx.toNotAST(expr)
	case *mirv.IteExpr:
		return ctx.toIteAST(expr)
	case *mirv.BinaryExpr:
		return ctx.toBinaryAST(expr)
	default:
		return nil, fmt.Errorf("z3.Context.toAST: invalid expression type: %T", expr)
	}
}

// toBitVector converts expr and coerces booleans to a one-bit vector.
func (ctx *Context) toBitVector(expr mirv.Expr) (C.Z3_ast, error) {
	ast, err := ctx.toAST(expr)
	if err != nil || mirv.ExprWidth(expr) != mirv.WidthBool {
		return ast, err
	}
	return ctx.boolToBV(ast, 1, 1)
}

// boolToBV returns an ite selecting between two width-bit constants.
func (ctx *Context) boolToBV(cond C.Z3_ast, width uint, whenTrue uint64) (C.Z3_ast, error) {
	t, err := ctx.makeUint64(width, whenTrue)
	if err != nil {
		return nil, err
	}
	f, err := ctx.makeUint64(width, 0)
	if err != nil {
		return nil, err
	}
	return C.Z3_mk_ite(ctx.raw, cond, t, f), ctx.err("Z3_mk_ite")
}

func (ctx *Context) toConstantAST(expr *mirv.ConstantExpr) (C.Z3_ast, error) {
	switch {
	case expr.Width == mirv.WidthBool:
		if expr.IsTrue() {
			return C.Z3_mk_true(ctx.raw), ctx.err("Z3_mk_true")
		}
		return C.Z3_mk_false(ctx.raw), ctx.err("Z3_mk_false")
	case expr.Width <= mirv.Width64:
		return ctx.makeUint64(expr.Width, expr.Uint64())
	default:
		return ctx.makeNumeral(expr.Width, expr.Value.Dec())
	}
}

func (ctx *Context) toSelectAST(expr *mirv.SelectExpr) (C.Z3_ast, error) {
	array, err := ctx.makeArrayWithUpdate(expr.Array, expr.Array.Updates)
	if err != nil {
		return nil, err
	}
	index, err := ctx.toAST(expr.Index)
	if err != nil {
		return nil, err
	}
	return C.Z3_mk_select(ctx.raw, array, index), ctx.err("Z3_mk_select")
}

func (ctx *Context) toConcatAST(expr *mirv.ConcatExpr) (C.Z3_ast, error) {
	msb, err := ctx.toBitVector(expr.MSB)
	if err != nil {
		return nil, err
	}
	lsb, err := ctx.toBitVector(expr.LSB)
	if err != nil {
		return nil, err
	}
	return C.Z3_mk_concat(ctx.raw, msb, lsb), ctx.err("Z3_mk_concat")
}

func (ctx *Context) toExtractAST(expr *mirv.ExtractExpr) (C.Z3_ast, error) {
	src, err := ctx.toBitVector(expr.Expr)
	if err != nil {
		return nil, err
	}

	hi, lo := C.uint(expr.Offset+expr.Width-1), C.uint(expr.Offset)
	ast := C.Z3_mk_extract(ctx.raw, hi, lo, src)
	if err := ctx.err("Z3_mk_extract"); err != nil {
		return nil, err
	} else if expr.Width != mirv.WidthBool {
		return ast, nil
	}

	// Single bits become booleans.
	one, err := ctx.makeUint64(1, 1)
	if err != nil {
		return nil, err
	}
	return C.Z3_mk_eq(ctx.raw, ast, one), ctx.err("Z3_mk_eq")
}

func (ctx *Context) toCastAST(expr *mirv.CastExpr) (C.Z3_ast, error) {
	src, err := ctx.toAST(expr.Src)
	if err != nil {
		return nil, err
	}

	// Booleans extend to all ones or one.
	sw := mirv.ExprWidth(expr.Src)
	if sw == mirv.WidthBool {
		if expr.Signed {
			return ctx.boolToBVAllOnes(src, expr.Width)
		}
		return ctx.boolToBV(src, expr.Width, 1)
	}

	n := C.uint(expr.Width - sw)
	if expr.Signed {
		return C.Z3_mk_sign_ext(ctx.raw, n, src), ctx.err("Z3_mk_sign_ext")
	}
	return C.Z3_mk_zero_ext(ctx.raw, n, src), ctx.err("Z3_mk_zero_ext")
}

func (ctx *Context) boolToBVAllOnes(cond C.Z3_ast, width uint) (C.Z3_ast, error) {
	zero, err := ctx.makeUint64(width, 0)
	if err != nil {
		return nil, err
	}
	ones := C.Z3_mk_bvnot(ctx.raw, zero)
	if err := ctx.err("Z3_mk_bvnot"); err != nil {
		return nil, err
	}
	return C.Z3_mk_ite(ctx.raw, cond, ones, zero), ctx.err("Z3_mk_ite")
}

func (ctx *Context) toNotAST(expr *mirv.NotExpr) (C.Z3_ast, error) {
	src, err := ctx.toAST(expr.Expr)
	if err != nil {
		return nil, err
	}
	if mirv.ExprWidth(expr.Expr) == mirv.WidthBool {
		return C.Z3_mk_not(ctx.raw, src), ctx.err("Z3_mk_not")
	}
	return C.Z3_mk_bvnot(ctx.raw, src), ctx.err("Z3_mk_bvnot")
}

func (ctx *Context) toIteAST(expr *mirv.IteExpr) (C.Z3_ast, error) {
	cond, err := ctx.toAST(expr.Cond)
	if err != nil {
		return nil, err
	}
	then, err := ctx.toAST(expr.Then)
	if err != nil {
		return nil, err
	}
	els, err := ctx.toAST(expr.Else)
	if err != nil {
		return nil, err
	}
	return C.Z3_mk_ite(ctx.raw, cond, then, els), ctx.err("Z3_mk_ite")
}

func (ctx *Context) toBinaryAST(expr *mirv.BinaryExpr) (C.Z3_ast, error) {
	lhs, err := ctx.toAST(expr.LHS)
	if err != nil {
		return nil, err
	}
	rhs, err := ctx.toAST(expr.RHS)
	if err != nil {
		return nil, err
	}

	// Boolean operands use the propositional connectives.
	if mirv.ExprWidth(expr.LHS) == mirv.WidthBool {
		args := [2]C.Z3_ast{lhs, rhs}
		switch expr.Op {
		case mirv.AND:
			return C.Z3_mk_and(ctx.raw, 2, &args[0]), ctx.err("Z3_mk_and")
		case mirv.OR:
			return C.Z3_mk_or(ctx.raw, 2, &args[0]), ctx.err("Z3_mk_or")
		case mirv.XOR:
			return C.Z3_mk_xor(ctx.raw, lhs, rhs), ctx.err("Z3_mk_xor")
		case mirv.EQ:
			return C.Z3_mk_iff(ctx.raw, lhs, rhs), ctx.err("Z3_mk_iff")
		}

		// Remaining operators compare or combine single bits.
		if lhs, err = ctx.boolToBV(lhs, 1, 1); err != nil {
			return nil, err
		} else if rhs, err = ctx.boolToBV(rhs, 1, 1); err != nil {
			return nil, err
		}
	}

	var ast C.Z3_ast
	switch expr.Op {
	case mirv.ADD:
		ast = C.Z3_mk_bvadd(ctx.raw, lhs, rhs)
	case mirv.SUB:
		ast = C.Z3_mk_bvsub(ctx.raw, lhs, rhs)
	case mirv.MUL:
		ast = C.Z3_mk_bvmul(ctx.raw, lhs, rhs)
	case mirv.UDIV:
		ast = C.Z3_mk_bvudiv(ctx.raw, lhs, rhs)
	case mirv.SDIV:
		ast = C.Z3_mk_bvsdiv(ctx.raw, lhs, rhs)
	case mirv.UREM:
		ast = C.Z3_mk_bvurem(ctx.raw, lhs, rhs)
	case mirv.SREM:
		ast = C.Z3_mk_bvsrem(ctx.raw, lhs, rhs)
	case mirv.AND:
		ast = C.Z3_mk_bvand(ctx.raw, lhs, rhs)
	case mirv.OR:
		ast = C.Z3_mk_bvor(ctx.raw, lhs, rhs)
	case mirv.XOR:
		ast = C.Z3_mk_bvxor(ctx.raw, lhs, rhs)
	case mirv.SHL:
		ast = C.Z3_mk_bvshl(ctx.raw, lhs, rhs)
	case mirv.LSHR:
		ast = C.Z3_mk_bvlshr(ctx.raw, lhs, rhs)
	case mirv.ASHR:
		ast = C.Z3_mk_bvashr(ctx.raw, lhs, rhs)
	case mirv.EQ:
		ast = C.Z3_mk_eq(ctx.raw, lhs, rhs)
	case mirv.NE:
		ast = C.Z3_mk_not(ctx.raw, C.Z3_mk_eq(ctx.raw, lhs, rhs))
	case mirv.ULT:
		ast = C.Z3_mk_bvult(ctx.raw, lhs, rhs)
	case mirv.ULE:
		ast = C.Z3_mk_bvule(ctx.raw, lhs, rhs)
	case mirv.UGT:
		ast = C.Z3_mk_bvugt(ctx.raw, lhs, rhs)
	case mirv.UGE:
		ast = C.Z3_mk_bvuge(ctx.raw, lhs, rhs)
	case mirv.SLT:
		ast = C.Z3_mk_bvslt(ctx.raw, lhs, rhs)
	case mirv.SLE:
		ast = C.Z3_mk_bvsle(ctx.raw, lhs, rhs)
	case mirv.SGT:
		ast = C.Z3_mk_bvsgt(ctx.raw, lhs, rhs)
	case mirv.SGE:
		ast = C.Z3_mk_bvsge(ctx.raw, lhs, rhs)
	default:
		return nil, fmt.Errorf("z3.Context.toBinaryAST: unexpected operation: %s", expr.Op)
	}
	if err := ctx.err("binary " + expr.Op.String()); err != nil {
		return nil, err
	}

	// Arithmetic on single bits must remain boolean.
	if mirv.ExprWidth(expr.LHS) == mirv.WidthBool && expr.Op.IsArithmetic() {
		one, err := ctx.makeUint64(1, 1)
		if err != nil {
			return nil, err
		}
		return C.Z3_mk_eq(ctx.raw, ast, one), ctx.err("Z3_mk_eq")
	}
	return ast, nil
}

func (ctx *Context) makeBVSort(width uint) (C.Z3_sort, error) {
	return C.Z3_mk_bv_sort(ctx.raw, C.uint(width)), ctx.err("Z3_mk_bv_sort")
}

func (ctx *Context) makeUint64(width uint, value uint64) (C.Z3_ast, error) {
	t, err := ctx.makeBVSort(width)
	if err != nil {
		return nil, err
	}
	return C.Z3_mk_unsigned_int64(ctx.raw, C.uint64_t(value), t), ctx.err("Z3_mk_unsigned_int64")
}

// makeNumeral returns a bit-vector constant from its decimal representation.
func (ctx *Context) makeNumeral(width uint, dec string) (C.Z3_ast, error) {
	t, err := ctx.makeBVSort(width)
	if err != nil {
		return nil, err
	}
	cdec := C.CString(dec)
	defer C.free(unsafe.Pointer(cdec))
	return C.Z3_mk_numeral(ctx.raw, cdec, t), ctx.err("Z3_mk_numeral")
}

func (ctx *Context) makeArraySort() (C.Z3_sort, error) {
	domain, err := ctx.makeBVSort(mirv.Width64)
	if err != nil {
		return nil, err
	}
	rng, err := ctx.makeBVSort(mirv.Width8)
	if err != nil {
		return nil, err
	}
	return C.Z3_mk_array_sort(ctx.raw, domain, rng), ctx.err("Z3_mk_array_sort")
}

// makeArrayConst returns the root array with no updates. Symbolic arrays are
// free constants; concrete arrays are built from their initial contents.
func (ctx *Context) makeArrayConst(array *mirv.Array) (C.Z3_ast, error) {
	sort, err := ctx.makeArraySort()
	if err != nil {
		return nil, err
	}
	if array.IsSymbolic() {
		return C.Z3_mk_const(ctx.raw, ctx.symbol(arrayName(array)), sort), ctx.err("Z3_mk_const")
	}

	if ast, ok := ctx.arrays[array.ID]; ok {
		return ast, nil
	}
	zero, err := ctx.makeUint64(mirv.Width8, 0)
	if err != nil {
		return nil, err
	}
	domain, err := ctx.makeBVSort(mirv.Width64)
	if err != nil {
		return nil, err
	}
	ast := C.Z3_mk_const_array(ctx.raw, domain, zero)
	if err := ctx.err("Z3_mk_const_array"); err != nil {
		return nil, err
	}
	for i, b := range array.Init {
		if b == 0 {
			continue
		}
		index, err := ctx.makeUint64(mirv.Width64, uint64(i))
		if err != nil {
			return nil, err
		}
		value, err := ctx.makeUint64(mirv.Width8, uint64(b))
		if err != nil {
			return nil, err
		}
		ast = C.Z3_mk_store(ctx.raw, ast, index, value)
		if err := ctx.err("Z3_mk_store"); err != nil {
			return nil, err
		}
	}
	if ctx.arrays != nil {
		ctx.arrays[array.ID] = ast
	}
	return ast, nil
}

// makeArrayWithUpdate returns an array with updates recursively applied.
func (ctx *Context) makeArrayWithUpdate(root *mirv.Array, upd *mirv.ArrayUpdate) (C.Z3_ast, error) {
	if upd == nil {
		return ctx.makeArrayConst(root)
	}

	array, err := ctx.makeArrayWithUpdate(root, upd.Next)
	if err != nil {
		return nil, err
	}
	index, err := ctx.toAST(upd.Index)
	if err != nil {
		return nil, err
	}
	value, err := ctx.toAST(upd.Value)
	if err != nil {
		return nil, err
	}
	if mirv.ExprWidth(upd.Value) == mirv.WidthBool {
		if value, err = ctx.boolToBV(value, mirv.Width8, 1); err != nil {
			return nil, err
		}
	}
	return C.Z3_mk_store(ctx.raw, array, index, value), ctx.err("Z3_mk_store")
}

// evalArray evaluates a single array into its initial byte slice value.
func (ctx *Context) evalArray(model C.Z3_model, array *mirv.Array) ([]byte, error) {
	root, err := ctx.makeArrayConst(array.Root())
	if err != nil {
		return nil, err
	}

	value := make([]byte, 0, array.Size)
	for offset := uint(0); offset < array.Size; offset++ {
		index, err := ctx.makeUint64(mirv.Width64, uint64(offset))
		if err != nil {
			return nil, err
		}
		sel := C.Z3_mk_select(ctx.raw, root, index)
		if err := ctx.err("Z3_mk_select"); err != nil {
			return nil, err
		}

		// Unconstrained bytes evaluate to zero under model completion.
		var out C.Z3_ast
		C.Z3_model_eval(ctx.raw, model, sel, C.bool(true), &out)
		if err := ctx.err("Z3_model_eval"); err != nil {
			return nil, err
		}

		var b C.uint
		C.Z3_get_numeral_uint(ctx.raw, out, &b)
		if err := ctx.err("Z3_get_numeral_uint"); err != nil {
			return nil, err
		}
		value = append(value, byte(b))
	}
	return value, nil
}

// String returns the SMT-LIB2 representation of the constraints.
func (ctx *Context) String(constraints []mirv.Expr) (string, error) {
	var buf strings.Builder
	for _, constraint := range constraints {
		ast, err := ctx.toAST(constraint)
		if err != nil {
			return "", err
		}
		fmt.Fprintf(&buf, "(assert %s)\n", C.GoString(C.Z3_ast_to_string(ctx.raw, ast)))
	}
	return buf.String(), nil
}

func arrayName(array *mirv.Array) string {
	if array.Name != "" {
		return fmt.Sprintf("A%d_%s", array.ID, array.Name)
	}
	return fmt.Sprintf("A%d", array.ID)
}

// Error represents an error from the Z3 API.
type Error struct {
	Code    int
	Op      string
	Message string
}

// Error returns the error as a string.
func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s (%d)", e.Op, e.Message, e.Code)
}

// Possible error codes.
const (
	ErrorCodeOK = iota
	ErrorCodeSortError
	ErrorCodeIOB
	ErrorCodeInvalidArg
	ErrorCodeParserError
	ErrorCodeNoParser
	ErrorCodeInvalidPattern
	ErrorCodeMemoutFail
	ErrorCodeFileAccessError
	ErrorCodeInternalFatal
	ErrorCodeInvalidUsage
	ErrorCodeDecRefError
	ErrorCodeException
)

// Stats represents cumulative solver statistics.
type Stats struct {
	SolveN    int
	SolveTime time.Duration
}
