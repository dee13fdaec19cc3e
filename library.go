package mirv

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/benbjohnson/mirv/mir"
)

// model implements a library function without executing its body.
type model func(e *Executor, s *ExecutionState, c *callSite) error

// models maps normalized function paths to their implementations.
var models = map[string]model{
	"core::panicking::panic":              modelPanicStr,
	"core::panicking::panic_str":          modelPanicStr,
	"core::panicking::panic_display":      modelPanicStr,
	"core::panicking::panic_nounwind":     modelPanicStr,
	"core::panicking::panic_fmt":          modelPanicFmt,
	"core::panicking::panic_nounwind_fmt": modelPanicFmt,
	"std::rt::panic_fmt":                  modelPanicFmt,
	"core::panicking::panic_explicit":     modelPanicMessage("explicit panic"),
	"core::panicking::panic_bounds_check": modelPanicMessage("index out of bounds"),
	"core::panicking::assert_failed":      modelAssertFailed,
	"core::option::unwrap_failed":         modelPanicMessage("called `Option::unwrap()` on a `None` value"),
	"core::option::expect_failed":         modelPanicStr,
	"core::result::unwrap_failed":         modelPanicStr,
	"std::rt::begin_panic":                modelPanicStr,
	"std::panicking::begin_panic":         modelPanicStr,

	"alloc::alloc::exchange_malloc":     modelAlloc(false),
	"alloc::alloc::__rust_alloc":        modelAlloc(false),
	"__rust_alloc":                      modelAlloc(false),
	"alloc::alloc::__rust_alloc_zeroed": modelAlloc(true),
	"__rust_alloc_zeroed":               modelAlloc(true),
	"alloc::alloc::__rust_dealloc":      modelDealloc,
	"__rust_dealloc":                    modelDealloc,
	"alloc::boxed::Box::new":            modelBoxNew,

	"std::process::exit": modelExit,
}

// traitModels maps trait methods, by trait and method name, to their
// implementations.
var traitModels = map[string]model{
	"Coroutine::resume": modelCoroutineResume,
}

// The Fn trait models are registered in init because modelFnCall reaches
// traitModels through dispatch and lookupModel, which would otherwise form an
// initialization cycle.
func init() {
	traitModels["Fn::call"] = modelFnCall
	traitModels["FnMut::call_mut"] = modelFnCall
	traitModels["FnOnce::call_once"] = modelFnCall
}

// panicConsts maps the suffix of core::panicking::panic_const functions to
// their messages.
var panicConsts = map[string]string{
	"add_overflow": "attempt to add with overflow",
	"sub_overflow": "attempt to subtract with overflow",
	"mul_overflow": "attempt to multiply with overflow",
	"div_overflow": "attempt to divide with overflow",
	"rem_overflow": "attempt to calculate the remainder with overflow",
	"neg_overflow": "attempt to negate with overflow",
	"shr_overflow": "attempt to shift right with overflow",
	"shl_overflow": "attempt to shift left with overflow",
	"div_by_zero":  "attempt to divide by zero",
	"rem_by_zero":  "attempt to calculate the remainder with a divisor of zero",
}

const panicConstPrefix = "core::panicking::panic_const::panic_const_"

// lookupModel returns the model for a function name, if any.
func lookupModel(name string) model {
	n := normalizeName(name)
	if m := models[n]; m != nil {
		return m
	} else if strings.HasPrefix(n, panicConstPrefix) {
		suffix := strings.TrimPrefix(n, panicConstPrefix)
		if msg, ok := panicConsts[suffix]; ok {
			return modelPanicMessage(msg)
		}
		return modelPanicMessage(suffix)
	}

	segments := strings.Split(n, "::")
	if len(segments) >= 2 {
		return traitModels[strings.Join(segments[len(segments)-2:], "::")]
	}
	return nil
}

var hashSuffix = regexp.MustCompile(`::h[0-9a-f]{16}$`)

// normalizeName strips symbol hashes and generic arguments from a function
// path. Qualified trait paths such as "<T as core::ops::Fn<A>>::call" reduce
// to the trait name and method, "Fn::call".
func normalizeName(name string) string {
	name = hashSuffix.ReplaceAllString(name, "")

	if strings.HasPrefix(name, "<") {
		if end := matchingAngle(name, 0); end > 0 {
			inner, rest := name[1:end], name[end+1:]
			if i := strings.LastIndex(stripGenerics(inner), " as "); i >= 0 {
				trait := stripGenerics(inner)[i+4:]
				if j := strings.LastIndex(trait, "::"); j >= 0 {
					trait = trait[j+2:]
				}
				return trait + stripGenerics(rest)
			}
			name = inner + rest
		}
	}
	return stripGenerics(name)
}

// stripGenerics removes every <...> group and the turbofish that leads it.
func stripGenerics(s string) string {
	var sb strings.Builder
	depth := 0
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '<':
			depth++
		case '>':
			if depth > 0 && s[i-1] != '-' {
				depth--
			} else if depth == 0 {
				sb.WriteByte(s[i])
			}
		default:
			if depth == 0 {
				sb.WriteByte(s[i])
			}
		}
	}
	out := strings.ReplaceAll(sb.String(), "::::", "::")
	return strings.TrimSuffix(out, "::")
}

// matchingAngle returns the index of the '>' closing the '<' at i, or -1.
func matchingAngle(s string, i int) int {
	depth := 0
	for j := i; j < len(s); j++ {
		switch s[j] {
		case '<':
			depth++
		case '>':
			if s[j-1] == '-' {
				continue
			} else if depth--; depth == 0 {
				return j
			}
		}
	}
	return -1
}

// panicWith returns the fault for a panic with the given message.
func panicWith(msg string) *Fault {
	if strings.HasPrefix(msg, "assertion failed") {
		return assertionFault(msg)
	}
	return panicFault(msg)
}

func modelPanicMessage(msg string) model {
	return func(e *Executor, s *ExecutionState, c *callSite) error {
		return panicWith(msg)
	}
}

// modelPanicStr panics with the &str message in the first argument.
func modelPanicStr(e *Executor, s *ExecutionState, c *callSite) error {
	msg := "explicit panic"
	if len(c.args) > 0 {
		if p, err := asPointer(c.args[0]); err == nil {
			if str, ok := s.readStr(p); ok {
				msg = str
			}
		}
	}
	return panicWith(msg)
}

// modelPanicFmt panics with the literal pieces of a fmt::Arguments value.
func modelPanicFmt(e *Executor, s *ExecutionState, c *callSite) error {
	msg := "explicit panic"
	if len(c.args) > 0 {
		if pieces, ok := e.formatPieces(s, c.args[0], c.types[0]); ok {
			msg = strings.Join(pieces, "")
		}
	}
	return panicWith(msg)
}

// modelAssertFailed reports a failed assert_eq!, assert_ne! or
// assert_matches! comparison.
func modelAssertFailed(e *Executor, s *ExecutionState, c *callSite) error {
	op := "=="
	if len(c.args) > 0 {
		if v, ok := c.args[0].(*Aggregate); ok && v.Variant == 1 {
			op = "!="
		} else if ok && v.Variant == 2 {
			op = "matches"
		}
	}
	return assertionFault(fmt.Sprintf("assertion `left %s right` failed", op))
}

// readStr returns the contents of a &str with a constant address and length.
func (s *ExecutionState) readStr(p *Pointer) (string, bool) {
	n, ok := p.Len()
	if !ok {
		return "", false
	}
	cn, ok := n.(*ConstantExpr)
	if !ok || !cn.IsUint64() || !IsConstantExpr(p.Offset) {
		return "", false
	}
	if a := s.allocation(p.Alloc); a == nil || !a.Live || cn.Uint64() > a.Size {
		return "", false
	}
	b, err := s.loadBytes(p.Thin(), cn.Uint64(), 1)
	if err != nil {
		return "", false
	}
	data, ok := b.Concrete()
	if !ok {
		return "", false
	}
	return string(data), true
}

// formatPieces extracts the literal string pieces of a fmt::Arguments value.
// The pieces are the first field, a &[&str].
func (e *Executor) formatPieces(s *ExecutionState, v Value, ty mir.TypeID) ([]string, bool) {
	args, ok := v.(*Aggregate)
	t := e.prog.Type(ty)
	if !ok || t == nil || len(args.Fields) == 0 || len(t.Fields) == 0 {
		return nil, false
	}
	i := 0
	for j, name := range t.FieldNames {
		if name == "pieces" {
			i = j
		}
	}

	p, ok := args.Fields[i].(*Pointer)
	if !ok || !IsConstantValue(p) {
		return nil, false
	}
	ft := e.prog.Type(t.Fields[i])
	if ft == nil || !ft.IsPointer() {
		return nil, false
	}
	loc, err := s.pointee(p, ft.Elem)
	if err != nil {
		return nil, false
	}
	elem, stride, n, err := s.elemInfo(loc)
	if err != nil {
		return nil, false
	}
	cn, ok := n.(*ConstantExpr)
	if !ok || !cn.IsUint64() || cn.Uint64() > 64 {
		return nil, false
	}
	if a := s.allocation(p.Alloc); a == nil || !a.Live || cn.Uint64()*stride > a.Size {
		return nil, false
	}

	pieces := make([]string, 0, cn.Uint64())
	for k := uint64(0); k < cn.Uint64(); k++ {
		eloc, err := s.element(loc, elem, stride, NewConstantExpr64(k))
		if err != nil {
			return nil, false
		}
		ev, err := s.load(eloc)
		if err != nil {
			return nil, false
		}
		ep, ok := ev.(*Pointer)
		if !ok {
			return nil, false
		}
		str, ok := s.readStr(ep)
		if !ok {
			return nil, false
		}
		pieces = append(pieces, str)
	}
	return pieces, true
}

// modelAlloc allocates size bytes with the given alignment on the heap.
func modelAlloc(zeroed bool) model {
	return func(e *Executor, s *ExecutionState, c *callSite) error {
		size, err := c.scalarArg(0)
		if err != nil {
			return err
		}
		align, err := c.scalarArg(1)
		if err != nil {
			return err
		}
		cs, ok1 := size.(*ConstantExpr)
		ca, ok2 := align.(*ConstantExpr)
		if !ok1 || !ok2 {
			return stuckFault("allocation of symbolic size %s or alignment %s", size, align)
		} else if !cs.IsUint64() || cs.Uint64() > 1<<32 {
			return stuckFault("allocation of %s bytes", cs)
		}

		a := s.Allocate(AllocationHeap, cs.Uint64(), ca.Uint64(), true)
		return e.complete(s, c, NewPointer(a.ID, 0))
	}
}

// modelDealloc frees a heap allocation.
func modelDealloc(e *Executor, s *ExecutionState, c *callSite) error {
	p, err := c.pointerArg(0)
	if err != nil {
		return err
	} else if err := s.deallocate(p); err != nil {
		return err
	}
	return e.complete(s, c, nil)
}

// modelBoxNew moves its argument into a fresh heap allocation.
func modelBoxNew(e *Executor, s *ExecutionState, c *callSite) error {
	if len(c.args) != 1 {
		return stuckFault("Box::new expects one argument")
	}
	ty := c.types[0]
	l, err := e.layouts.Layout(ty)
	if err != nil {
		return err
	}

	a := s.Allocate(AllocationHeap, l.Size, l.Align, true)
	p := NewPointer(a.ID, 0)
	if err := s.store(&Location{Ptr: p, Type: ty, Variant: -1, Align: l.Align}, c.args[0]); err != nil {
		return err
	}
	return e.complete(s, c, p)
}

// modelExit ends the path. Exiting with zero is a clean termination; any
// other code is treated as a panic.
func modelExit(e *Executor, s *ExecutionState, c *callSite) error {
	code, err := c.scalarArg(0)
	if err != nil {
		return err
	}

	if cc, ok := code.(*ConstantExpr); ok {
		if cc.IsZero() {
			return exitFault(0)
		}
		return panicFault(fmt.Sprintf("process exited with code %d", int32(cc.Uint64())))
	}

	i, err := e.choose(s, []Expr{NewIsZeroExpr(code), NewNotExpr(NewIsZeroExpr(code))})
	if err != nil {
		return err
	} else if i == 0 {
		return exitFault(0)
	}
	return panicFault("process exited with nonzero code")
}

// modelFnCall calls a closure, function item or function pointer through
// the Fn traits. The second argument is the tuple of call arguments.
func modelFnCall(e *Executor, s *ExecutionState, c *callSite) error {
	if len(c.args) != 2 {
		return stuckFault("%s expects a receiver and an argument tuple", c.fn.Name)
	}
	tuple, ok := c.args[1].(*Aggregate)
	if !ok {
		return stuckFault("%s: arguments are not a tuple", c.fn.Name)
	}
	tt := e.prog.Type(c.types[1])

	self, selfType := c.args[0], c.types[0]
	t := e.prog.Type(selfType)
	if t.Kind == mir.TypeRef || t.Kind == mir.TypePtr {
		t = e.prog.Type(t.Elem)
	}

	var fn *mir.Function
	var args []Value
	var types []mir.TypeID
	switch t.Kind {
	case mir.TypeClosure:
		if fn = e.prog.Function(t.Fn); fn == nil || fn.Body == nil {
			return stuckFault("closure body %d not found", t.Fn)
		}
		recv, err := e.closureReceiver(s, fn, self, selfType)
		if err != nil {
			return err
		}
		args, types = []Value{recv}, []mir.TypeID{selfType}
		if fn.RustCall {
			args, types = append(args, tuple), append(types, c.types[1])
			return e.dispatch(s, &callSite{fn: fn, args: args, types: types, dest: c.dest, target: c.target})
		}

	case mir.TypeFnDef:
		if fn = e.prog.Function(t.Fn); fn == nil {
			return stuckFault("function %d not found", t.Fn)
		}

	case mir.TypeFnPtr:
		if e.prog.Type(selfType).Kind != mir.TypeFnPtr {
			v, err := e.loadThrough(s, self, selfType)
			if err != nil {
				return err
			}
			self = v
		}
		p, err := asPointer(self)
		if err != nil {
			return err
		}
		if fn, err = s.fnOf(p); err != nil {
			return err
		}

	default:
		return stuckFault("%s on %s", c.fn.Name, t)
	}

	args = append(args, tuple.Fields...)
	if tt != nil {
		types = append(types, tt.Fields...)
	}
	return e.dispatch(s, &callSite{fn: fn, args: args, types: types, dest: c.dest, target: c.target})
}

// closureReceiver adapts the receiver to the self parameter the closure
// body declares: by value or by reference.
func (e *Executor) closureReceiver(s *ExecutionState, fn *mir.Function, self Value, selfType mir.TypeID) (Value, error) {
	if fn.Body.ArgCount < 1 {
		return nil, stuckFault("closure body %s without receiver", fn.Name)
	}
	want := e.prog.Type(fn.Body.Locals[1].Type)
	have := e.prog.Type(selfType)
	if want.IsPointer() == have.IsPointer() {
		return self, nil
	} else if have.IsPointer() {
		return e.loadThrough(s, self, selfType)
	}
	return nil, stuckFault("closure %s takes its receiver by reference", fn.Name)
}

// loadThrough reads the value a pointer of type ty refers to.
func (e *Executor) loadThrough(s *ExecutionState, v Value, ty mir.TypeID) (Value, error) {
	p, err := asPointer(v)
	if err != nil {
		return nil, err
	}
	elem, err := e.pointeeType(ty)
	if err != nil {
		return nil, err
	}
	loc, err := s.pointee(p, elem)
	if err != nil {
		return nil, err
	}
	return s.load(loc)
}

func modelCoroutineResume(e *Executor, s *ExecutionState, c *callSite) error {
	return e.resumeCoroutine(s, c)
}
