package mir

import (
	"bufio"
	"fmt"
	"io"
	"strings"
)

// WriteTo writes a human readable listing of the program to w.
func (p *Program) WriteTo(w io.Writer) (n int64, err error) {
	cw := &countWriter{w: bufio.NewWriter(w)}
	pr := &printer{prog: p, w: cw}

	fmt.Fprintf(cw, "// program %s (version %d)\n", p.Name, p.Version)
	for _, t := range p.Types {
		pr.typeDecl(t)
	}
	if len(p.Types) > 0 {
		fmt.Fprintln(cw)
	}
	for _, a := range p.Allocs {
		pr.allocDecl(a)
	}
	if len(p.Allocs) > 0 {
		fmt.Fprintln(cw)
	}
	for _, f := range p.Functions {
		pr.function(f)
	}

	if err := cw.w.(*bufio.Writer).Flush(); err != nil {
		return cw.n, err
	}
	return cw.n, cw.err
}

// String returns the listing of the program.
func (p *Program) String() string {
	var sb strings.Builder
	p.WriteTo(&sb)
	return sb.String()
}

type countWriter struct {
	w   io.Writer
	n   int64
	err error
}

func (w *countWriter) Write(p []byte) (int, error) {
	if w.err != nil {
		return 0, w.err
	}
	n, err := w.w.Write(p)
	w.n += int64(n)
	w.err = err
	return n, err
}

type printer struct {
	prog *Program
	w    io.Writer
}

func (pr *printer) typeName(id TypeID) string {
	t := pr.prog.Type(id)
	if t == nil {
		return fmt.Sprintf("#%d?", id)
	}
	switch t.Kind {
	case TypeArray:
		return fmt.Sprintf("[%s; %d]", pr.typeName(t.Elem), t.Len)
	case TypeSlice:
		return fmt.Sprintf("[%s]", pr.typeName(t.Elem))
	case TypeRef:
		if t.Mut {
			return "&mut " + pr.typeName(t.Elem)
		}
		return "&" + pr.typeName(t.Elem)
	case TypePtr:
		if t.Mut {
			return "*mut " + pr.typeName(t.Elem)
		}
		return "*const " + pr.typeName(t.Elem)
	case TypeBox:
		return "Box<" + pr.typeName(t.Elem) + ">"
	case TypeTuple:
		if t.Name != "" {
			return t.Name
		}
		a := make([]string, len(t.Fields))
		for i, f := range t.Fields {
			a[i] = pr.typeName(f)
		}
		if len(a) == 1 {
			return "(" + a[0] + ",)"
		}
		return "(" + strings.Join(a, ", ") + ")"
	case TypeFnDef:
		if t.Name == "" {
			if f := pr.prog.Function(t.Fn); f != nil {
				return "fn " + f.Name
			}
		}
	}
	return t.String()
}

func (pr *printer) typeDecl(t *Type) {
	switch t.Kind {
	case TypeStruct, TypeUnion:
		fmt.Fprintf(pr.w, "%s %s%s {", t.Kind, t.Name, reprString(t.Repr))
		for i, f := range t.Fields {
			if i > 0 {
				fmt.Fprint(pr.w, ",")
			}
			fmt.Fprintf(pr.w, " %s: %s", fieldName(t.FieldNames, i), pr.typeName(f))
		}
		fmt.Fprintf(pr.w, " } // #%d\n", t.ID)
	case TypeEnum:
		fmt.Fprintf(pr.w, "enum %s%s {", t.Name, reprString(t.Repr))
		discrs := t.Discriminants()
		for i, v := range t.Variants {
			if i > 0 {
				fmt.Fprint(pr.w, ",")
			}
			fmt.Fprintf(pr.w, " %s", v.Name)
			if len(v.Fields) > 0 {
				a := make([]string, len(v.Fields))
				for j, f := range v.Fields {
					a[j] = pr.typeName(f)
				}
				fmt.Fprintf(pr.w, "(%s)", strings.Join(a, ", "))
			}
			fmt.Fprintf(pr.w, " = %d", discrs[i])
		}
		fmt.Fprintf(pr.w, " } // #%d\n", t.ID)
	default:
		fmt.Fprintf(pr.w, "type #%d = %s", t.ID, pr.typeName(t.ID))
		if t.ValidRange != nil {
			fmt.Fprintf(pr.w, " valid %d..=%d", t.ValidRange.Start, t.ValidRange.End)
		}
		fmt.Fprintln(pr.w)
	}
}

func (pr *printer) allocDecl(a *Alloc) {
	fmt.Fprintf(pr.w, "alloc%d (%s", a.ID, a.Kind)
	if a.Mut {
		fmt.Fprint(pr.w, " mut")
	}
	fmt.Fprint(pr.w, ")")
	switch a.Kind {
	case AllocFunction:
		fmt.Fprintf(pr.w, " = %s", pr.funcName(a.Fn))
	case AllocVtable:
		names := make([]string, len(a.Methods))
		for i, id := range a.Methods {
			names[i] = pr.funcName(id)
		}
		fmt.Fprintf(pr.w, " for %s = [%s]", pr.typeName(a.Type), strings.Join(names, ", "))
	default:
		fmt.Fprintf(pr.w, " = %s", bytesString(a.Bytes))
		for _, pv := range a.Prov {
			fmt.Fprintf(pr.w, " +%d:alloc%d", pv.Offset, pv.Alloc)
		}
	}
	fmt.Fprintln(pr.w)
}

func (pr *printer) funcName(id FuncID) string {
	if f := pr.prog.Function(id); f != nil {
		return f.Name
	}
	return fmt.Sprintf("fn#%d?", id)
}

func (pr *printer) function(f *Function) {
	if f.Body == nil {
		if f.Intrinsic != "" {
			fmt.Fprintf(pr.w, "extern \"intrinsic\" fn %s; // %s\n\n", f.Name, f.Intrinsic)
		} else {
			fmt.Fprintf(pr.w, "extern fn %s;\n\n", f.Name)
		}
		return
	}

	body := f.Body
	args := make([]string, 0, body.ArgCount)
	for i := 1; i <= body.ArgCount; i++ {
		args = append(args, fmt.Sprintf("_%d: %s", i, pr.typeName(body.Locals[i].Type)))
	}
	fmt.Fprintf(pr.w, "fn %s(%s) -> %s {\n", f.Name, strings.Join(args, ", "), pr.typeName(body.Locals[0].Type))
	for i, l := range body.Locals[body.ArgCount+1:] {
		fmt.Fprintf(pr.w, "    let _%d: %s;", i+body.ArgCount+1, pr.typeName(l.Type))
		if l.Name != "" {
			fmt.Fprintf(pr.w, " // %s", l.Name)
		}
		fmt.Fprintln(pr.w)
	}
	for i, blk := range body.Blocks {
		fmt.Fprintf(pr.w, "\n    bb%d: {\n", i)
		for _, stmt := range blk.Statements {
			fmt.Fprintf(pr.w, "        %s;\n", pr.statement(stmt))
		}
		fmt.Fprintf(pr.w, "        %s;\n", pr.terminator(blk.Terminator))
		fmt.Fprintln(pr.w, "    }")
	}
	fmt.Fprint(pr.w, "}\n\n")
}

func (pr *printer) statement(s *Statement) string {
	switch s.Kind {
	case StatementAssign:
		return fmt.Sprintf("%s = %s", PlaceString(s.Place), pr.rvalue(s.Rvalue))
	case StatementStorageLive:
		return fmt.Sprintf("StorageLive(_%d)", s.Local)
	case StatementStorageDead:
		return fmt.Sprintf("StorageDead(_%d)", s.Local)
	case StatementSetDiscriminant:
		return fmt.Sprintf("discriminant(%s) = %d", PlaceString(s.Place), s.Variant)
	case StatementAssume:
		return fmt.Sprintf("assume(%s)", pr.operand(s.Operand))
	case StatementCopyNonOverlapping:
		return fmt.Sprintf("copy_nonoverlapping(dst=%s, src=%s, count=%s)", pr.operand(s.Dst), pr.operand(s.Src), pr.operand(s.Count))
	default:
		return string(s.Kind)
	}
}

func (pr *printer) terminator(t *Terminator) string {
	switch t.Kind {
	case TerminatorGoto:
		return fmt.Sprintf("goto -> bb%d", *t.Target)
	case TerminatorSwitchInt:
		a := make([]string, 0, len(t.Targets)+1)
		for _, st := range t.Targets {
			a = append(a, fmt.Sprintf("%s: bb%d", st.Value, st.Target))
		}
		a = append(a, fmt.Sprintf("otherwise: bb%d", t.Otherwise))
		return fmt.Sprintf("switchInt(%s) -> [%s]", pr.operand(t.Discr), strings.Join(a, ", "))
	case TerminatorCall:
		args := make([]string, len(t.Args))
		for i, arg := range t.Args {
			args[i] = pr.operand(arg)
		}
		s := fmt.Sprintf("%s = %s(%s)", PlaceString(t.Dest), pr.operand(t.Func), strings.Join(args, ", "))
		if t.Target != nil {
			s += fmt.Sprintf(" -> bb%d", *t.Target)
		}
		return s
	case TerminatorAssert:
		cond := pr.operand(t.Cond)
		if !t.Expected {
			cond = "!" + cond
		}
		return fmt.Sprintf("assert(%s, %q) -> bb%d", cond, t.Msg, *t.Target)
	case TerminatorDrop:
		return fmt.Sprintf("drop(%s) -> bb%d", PlaceString(t.Place), *t.Target)
	case TerminatorYield:
		return fmt.Sprintf("yield(%s) -> bb%d", pr.operand(t.Value), *t.Target)
	default:
		return string(t.Kind)
	}
}

func (pr *printer) rvalue(rv *Rvalue) string {
	switch rv.Kind {
	case RvalueUse:
		return pr.operand(rv.Operand)
	case RvalueBinary:
		return fmt.Sprintf("%s(%s, %s)", rv.Op, pr.operand(rv.LHS), pr.operand(rv.RHS))
	case RvalueCheckedBinary:
		return fmt.Sprintf("checked_%s(%s, %s)", rv.Op, pr.operand(rv.LHS), pr.operand(rv.RHS))
	case RvalueUnary:
		return fmt.Sprintf("%s(%s)", rv.Op, pr.operand(rv.Operand))
	case RvalueCast:
		return fmt.Sprintf("%s as %s (%s)", pr.operand(rv.Operand), pr.typeName(rv.Type), rv.Cast)
	case RvalueRef:
		if rv.Mut {
			return "&mut " + PlaceString(rv.Place)
		}
		return "&" + PlaceString(rv.Place)
	case RvalueAddressOf:
		if rv.Mut {
			return "&raw mut " + PlaceString(rv.Place)
		}
		return "&raw const " + PlaceString(rv.Place)
	case RvalueAggregate:
		a := make([]string, len(rv.Operands))
		for i, op := range rv.Operands {
			a[i] = pr.operand(op)
		}
		name := string(rv.Aggregate)
		if rv.Type != 0 {
			name = pr.typeName(rv.Type)
		}
		if t := pr.prog.Type(rv.Type); t != nil && t.Kind == TypeEnum && rv.Variant < len(t.Variants) {
			name += "::" + t.Variants[rv.Variant].Name
		}
		return fmt.Sprintf("%s { %s }", name, strings.Join(a, ", "))
	case RvalueDiscriminant:
		return fmt.Sprintf("discriminant(%s)", PlaceString(rv.Place))
	case RvalueLen:
		return fmt.Sprintf("Len(%s)", PlaceString(rv.Place))
	case RvalueRepeat:
		return fmt.Sprintf("[%s; %d]", pr.operand(rv.Operand), rv.Count)
	case RvalueNullary:
		return fmt.Sprintf("%s::<%s>()", rv.Op, pr.typeName(rv.Type))
	case RvalueCopyForDeref:
		return fmt.Sprintf("deref_copy %s", PlaceString(rv.Place))
	case RvalueShallowInitBox:
		return fmt.Sprintf("ShallowInitBox(%s)", pr.operand(rv.Operand))
	default:
		return string(rv.Kind)
	}
}

func (pr *printer) operand(op *Operand) string {
	if op == nil {
		return "?"
	}
	switch op.Kind {
	case OperandCopy:
		return "copy " + PlaceString(op.Place)
	case OperandMove:
		return "move " + PlaceString(op.Place)
	case OperandConst:
		c := op.Const
		t := pr.prog.Type(c.Type)
		if t != nil && t.Kind == TypeFnDef {
			return pr.funcName(t.Fn)
		} else if c.Int != "" {
			return fmt.Sprintf("const %s_%s", c.Int, pr.typeName(c.Type))
		} else if len(c.Prov) > 0 {
			return fmt.Sprintf("const alloc%d+%d as %s", c.Prov[0].Alloc, c.Prov[0].Offset, pr.typeName(c.Type))
		}
		return fmt.Sprintf("const %s_%s", bytesString(c.Bytes), pr.typeName(c.Type))
	}
	return string(op.Kind)
}

// PlaceString returns the textual form of a place, e.g. "(*_1).0".
func PlaceString(p *Place) string {
	if p == nil {
		return "?"
	}
	s := fmt.Sprintf("_%d", p.Local)
	for _, proj := range p.Projection {
		switch proj.Kind {
		case ProjectionDeref:
			s = "(*" + s + ")"
		case ProjectionField:
			s = fmt.Sprintf("%s.%d", s, proj.Field)
		case ProjectionIndex:
			s = fmt.Sprintf("%s[_%d]", s, proj.Local)
		case ProjectionConstantIndex:
			if proj.FromEnd {
				s = fmt.Sprintf("%s[-%d of %d]", s, proj.Offset, proj.MinLength)
			} else {
				s = fmt.Sprintf("%s[%d of %d]", s, proj.Offset, proj.MinLength)
			}
		case ProjectionSubslice:
			if proj.FromEnd {
				s = fmt.Sprintf("%s[%d:-%d]", s, proj.From, proj.To)
			} else {
				s = fmt.Sprintf("%s[%d:%d]", s, proj.From, proj.To)
			}
		case ProjectionDowncast:
			s = fmt.Sprintf("(%s as variant#%d)", s, proj.Variant)
		case ProjectionOpaqueCast:
			s = fmt.Sprintf("(%s as #%d)", s, proj.Type)
		}
	}
	return s
}

func reprString(r *Repr) string {
	if r == nil {
		return ""
	}
	var a []string
	if r.C {
		a = append(a, "C")
	}
	if r.Transparent {
		a = append(a, "transparent")
	}
	if r.Packed > 0 {
		a = append(a, fmt.Sprintf("packed(%d)", r.Packed))
	}
	if r.Align > 0 {
		a = append(a, fmt.Sprintf("align(%d)", r.Align))
	}
	if r.Int != "" {
		a = append(a, r.Int)
	}
	if len(a) == 0 {
		return ""
	}
	return " #[repr(" + strings.Join(a, ", ") + ")]"
}

func fieldName(names []string, i int) string {
	if i < len(names) && names[i] != "" {
		return names[i]
	}
	return fmt.Sprint(i)
}

func bytesString(b []byte) string {
	if len(b) == 0 {
		return "[]"
	}
	a := make([]string, len(b))
	for i := range b {
		a[i] = fmt.Sprintf("%02x", b[i])
	}
	return "[" + strings.Join(a, " ") + "]"
}
