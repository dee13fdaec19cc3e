package mir

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path"
	"strings"

	"github.com/pkg/errors"
	"golang.org/x/tools/txtar"
)

// UnsupportedVersionError is returned when a document's representation
// version is missing or not equal to Version.
type UnsupportedVersionError struct {
	Version int
	Missing bool
}

// Error implements the error interface.
func (e *UnsupportedVersionError) Error() string {
	if e.Missing {
		return fmt.Sprintf("UnsupportedRepresentationVersion: version missing, want %d", Version)
	}
	return fmt.Sprintf("UnsupportedRepresentationVersion: got %d, want %d", e.Version, Version)
}

// Decode reads and validates a program from r.
func Decode(r io.Reader) (*Program, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, errors.Wrap(err, "mir: read")
	}
	return Parse(data)
}

// Parse decodes and validates a program from a JSON document. The version is
// checked before the rest of the document is decoded.
func Parse(data []byte) (*Program, error) {
	var hdr struct {
		Version *int `json:"version"`
	}
	if err := json.Unmarshal(data, &hdr); err != nil {
		return nil, errors.Wrap(err, "mir: decode header")
	} else if hdr.Version == nil {
		return nil, &UnsupportedVersionError{Missing: true}
	} else if *hdr.Version != Version {
		return nil, &UnsupportedVersionError{Version: *hdr.Version}
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()

	var prog Program
	if err := dec.Decode(&prog); err != nil {
		return nil, errors.Wrap(err, "mir: decode")
	} else if err := prog.Validate(); err != nil {
		return nil, err
	}
	return &prog, nil
}

// Load reads a program from a JSON file.
func Load(filename string) (*Program, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	prog, err := Decode(f)
	if err != nil {
		return nil, errors.Wrapf(err, "%s", filename)
	}
	if prog.Name == "" {
		prog.Name = strings.TrimSuffix(path.Base(filename), ".json")
	}
	return prog, nil
}

// Bundle represents a set of programs read from a txtar archive along with
// any non-program files in the archive.
type Bundle struct {
	Comment  string
	Programs []*Program
	Files    map[string][]byte
}

// LoadArchive reads a bundle from a txtar file.
func LoadArchive(filename string) (*Bundle, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, err
	}
	b, err := ParseArchive(data)
	if err != nil {
		return nil, errors.Wrapf(err, "%s", filename)
	}
	return b, nil
}

// ParseArchive parses a txtar archive. Files ending in ".json" are decoded as
// programs named after the file; every other file is kept as-is.
func ParseArchive(data []byte) (*Bundle, error) {
	ar := txtar.Parse(data)
	b := &Bundle{
		Comment: string(ar.Comment),
		Files:   make(map[string][]byte),
	}
	for _, f := range ar.Files {
		if !strings.HasSuffix(f.Name, ".json") {
			b.Files[f.Name] = f.Data
			continue
		}

		prog, err := Parse(f.Data)
		if err != nil {
			return nil, errors.Wrapf(err, "%s", f.Name)
		}
		if prog.Name == "" {
			prog.Name = strings.TrimSuffix(f.Name, ".json")
		}
		b.Programs = append(b.Programs, prog)
	}
	if len(b.Programs) == 0 {
		return nil, errors.New("mir: archive contains no programs")
	}
	return b, nil
}

// Program returns the program with the given name, or nil.
func (b *Bundle) Program(name string) *Program {
	for _, p := range b.Programs {
		if p.Name == name {
			return p
		}
	}
	return nil
}

// Digest returns a hex-encoded SHA-256 of the program's canonical encoding.
func (p *Program) Digest() string {
	data, err := json.Marshal(p)
	if err != nil {
		panic(fmt.Sprintf("mir: cannot marshal program: %s", err))
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Validate checks the program for internal consistency and rebuilds the
// lookup indexes.
func (p *Program) Validate() error {
	if p.Version != Version {
		return &UnsupportedVersionError{Version: p.Version}
	}

	seenTypes := make(map[TypeID]struct{}, len(p.Types))
	for _, t := range p.Types {
		if t == nil || t.ID <= 0 {
			return errors.New("mir: type ids must be positive")
		} else if _, ok := seenTypes[t.ID]; ok {
			return errors.Errorf("mir: duplicate type id: %d", t.ID)
		}
		seenTypes[t.ID] = struct{}{}
	}
	seenFuncs := make(map[FuncID]struct{}, len(p.Functions))
	for _, f := range p.Functions {
		if f == nil || f.ID <= 0 {
			return errors.New("mir: function ids must be positive")
		} else if _, ok := seenFuncs[f.ID]; ok {
			return errors.Errorf("mir: duplicate function id: %d", f.ID)
		}
		seenFuncs[f.ID] = struct{}{}
	}
	seenAllocs := make(map[AllocID]struct{}, len(p.Allocs))
	for _, a := range p.Allocs {
		if a == nil || a.ID <= 0 {
			return errors.New("mir: alloc ids must be positive")
		} else if _, ok := seenAllocs[a.ID]; ok {
			return errors.Errorf("mir: duplicate alloc id: %d", a.ID)
		}
		seenAllocs[a.ID] = struct{}{}
	}
	p.index()

	for _, t := range p.Types {
		if err := p.validateType(t); err != nil {
			return errors.Wrapf(err, "mir: type %d", t.ID)
		}
	}
	for _, a := range p.Allocs {
		if err := p.validateAlloc(a); err != nil {
			return errors.Wrapf(err, "mir: alloc %d", a.ID)
		}
	}
	for _, f := range p.Functions {
		if err := p.validateFunction(f); err != nil {
			return errors.Wrapf(err, "mir: function %q", f.Name)
		}
	}
	if p.Entry != "" && p.FunctionByName(p.Entry) == nil {
		return errors.Errorf("mir: entry function not found: %q", p.Entry)
	}
	return nil
}

func (p *Program) checkType(id TypeID) error {
	if p.Type(id) == nil {
		return errors.Errorf("unknown type: %d", id)
	}
	return nil
}

func (p *Program) validateType(t *Type) error {
	switch t.Kind {
	case TypeBool, TypeChar, TypeStr, TypeFnPtr, TypeDyn, TypeNever:
	case TypeInt, TypeUint:
		switch t.Bits {
		case 0, 8, 16, 32, 64, 128:
		default:
			return errors.Errorf("invalid integer width: %d", t.Bits)
		}
	case TypeFloat:
		switch t.Bits {
		case 16, 32, 64, 128:
		default:
			return errors.Errorf("invalid float width: %d", t.Bits)
		}
	case TypeSlice, TypeArray, TypeRef, TypePtr, TypeBox:
		if err := p.checkType(t.Elem); err != nil {
			return err
		}
	case TypeTuple, TypeStruct, TypeUnion:
	case TypeEnum:
		for _, v := range t.Variants {
			for _, f := range v.Fields {
				if err := p.checkType(f); err != nil {
					return errors.Wrapf(err, "variant %s", v.Name)
				}
			}
		}
		if _, _, ok := t.Repr.IntType(); t.Repr != nil && t.Repr.Int != "" && !ok {
			return errors.Errorf("invalid discriminant type: %q", t.Repr.Int)
		}
	case TypeFnDef, TypeClosure, TypeCoroutine:
		if p.Function(t.Fn) == nil {
			return errors.Errorf("unknown function: %d", t.Fn)
		}
	default:
		return errors.Errorf("unknown type kind: %q", t.Kind)
	}

	for _, f := range t.Fields {
		if err := p.checkType(f); err != nil {
			return err
		}
	}
	return nil
}

func (p *Program) validateAlloc(a *Alloc) error {
	switch a.Kind {
	case AllocMemory, AllocStatic:
	case AllocFunction:
		if p.Function(a.Fn) == nil {
			return errors.Errorf("unknown function: %d", a.Fn)
		}
	case AllocVtable:
		for _, id := range a.Methods {
			if p.Function(id) == nil {
				return errors.Errorf("unknown method: %d", id)
			}
		}
	default:
		return errors.Errorf("unknown alloc kind: %q", a.Kind)
	}
	if a.Type != 0 {
		if err := p.checkType(a.Type); err != nil {
			return err
		}
	}
	return p.validateProv(a.Prov, uint64(len(a.Bytes)))
}

func (p *Program) validateProv(prov []*Provenance, n uint64) error {
	for _, pv := range prov {
		if p.Alloc(pv.Alloc) == nil {
			return errors.Errorf("unknown alloc in provenance: %d", pv.Alloc)
		} else if pv.Offset+8 > n {
			return errors.Errorf("provenance out of bounds: offset=%d size=%d", pv.Offset, n)
		}
	}
	return nil
}

func (p *Program) validateFunction(f *Function) error {
	if f.Body == nil {
		return nil
	}
	body := f.Body
	if len(body.Locals) == 0 {
		return errors.New("body has no return place")
	} else if body.ArgCount < 0 || body.ArgCount >= len(body.Locals) {
		return errors.Errorf("invalid argument count: %d", body.ArgCount)
	} else if len(body.Blocks) == 0 {
		return errors.New("body has no blocks")
	}
	for i, l := range body.Locals {
		if err := p.checkType(l.Type); err != nil {
			return errors.Wrapf(err, "local _%d", i)
		}
	}

	v := &bodyValidator{prog: p, body: body}
	for i, blk := range body.Blocks {
		if err := v.block(blk); err != nil {
			return errors.Wrapf(err, "bb%d", i)
		}
	}
	return nil
}

// bodyValidator checks references within a single function body.
type bodyValidator struct {
	prog *Program
	body *Body
}

func (v *bodyValidator) target(i int) error {
	if i < 0 || i >= len(v.body.Blocks) {
		return errors.Errorf("block target out of range: %d", i)
	}
	return nil
}

func (v *bodyValidator) local(i int) error {
	if i < 0 || i >= len(v.body.Locals) {
		return errors.Errorf("local out of range: _%d", i)
	}
	return nil
}

func (v *bodyValidator) block(blk *Block) error {
	for i, stmt := range blk.Statements {
		if err := v.statement(stmt); err != nil {
			return errors.Wrapf(err, "statement %d", i)
		}
	}
	if blk.Terminator == nil {
		return errors.New("missing terminator")
	}
	return v.terminator(blk.Terminator)
}

func (v *bodyValidator) statement(stmt *Statement) error {
	switch stmt.Kind {
	case StatementAssign:
		if stmt.Rvalue == nil {
			return errors.New("assign without rvalue")
		} else if err := v.place(stmt.Place); err != nil {
			return err
		}
		return v.rvalue(stmt.Rvalue)
	case StatementStorageLive, StatementStorageDead:
		return v.local(stmt.Local)
	case StatementSetDiscriminant:
		return v.place(stmt.Place)
	case StatementAssume:
		return v.operand(stmt.Operand)
	case StatementCopyNonOverlapping:
		for _, op := range []*Operand{stmt.Src, stmt.Dst, stmt.Count} {
			if err := v.operand(op); err != nil {
				return err
			}
		}
		return nil
	case StatementNop:
		return nil
	default:
		return errors.Errorf("unknown statement kind: %q", stmt.Kind)
	}
}

func (v *bodyValidator) terminator(term *Terminator) error {
	switch term.Kind {
	case TerminatorGoto:
		if term.Target == nil {
			return errors.New("goto without target")
		}
	case TerminatorSwitchInt:
		if err := v.operand(term.Discr); err != nil {
			return err
		}
		for _, t := range term.Targets {
			if _, ok := parseSwitchValue(t.Value); !ok {
				return errors.Errorf("invalid switch value: %q", t.Value)
			}
		}
	case TerminatorReturn, TerminatorUnreachable, TerminatorAbort, TerminatorResume:
	case TerminatorDrop:
		if err := v.place(term.Place); err != nil {
			return err
		}
	case TerminatorCall:
		if err := v.operand(term.Func); err != nil {
			return err
		}
		for _, arg := range term.Args {
			if err := v.operand(arg); err != nil {
				return err
			}
		}
		if err := v.place(term.Dest); err != nil {
			return err
		}
	case TerminatorAssert:
		if err := v.operand(term.Cond); err != nil {
			return err
		} else if term.Target == nil {
			return errors.New("assert without target")
		}
	case TerminatorYield:
		if err := v.operand(term.Value); err != nil {
			return err
		} else if term.ResumeArg != nil {
			if err := v.place(term.ResumeArg); err != nil {
				return err
			}
		}
	default:
		return errors.Errorf("unknown terminator kind: %q", term.Kind)
	}

	for _, i := range term.Successors() {
		if err := v.target(i); err != nil {
			return err
		}
	}
	return nil
}

func (v *bodyValidator) rvalue(rv *Rvalue) error {
	for _, op := range []*Operand{rv.Operand, rv.LHS, rv.RHS} {
		if op != nil {
			if err := v.operand(op); err != nil {
				return err
			}
		}
	}
	for _, op := range rv.Operands {
		if err := v.operand(op); err != nil {
			return err
		}
	}
	if rv.Place != nil {
		if err := v.place(rv.Place); err != nil {
			return err
		}
	}
	if rv.Type != 0 {
		if err := v.prog.checkType(rv.Type); err != nil {
			return err
		}
	}

	switch rv.Kind {
	case RvalueUse, RvalueRepeat, RvalueShallowInitBox:
		if rv.Operand == nil {
			return errors.Errorf("%s without operand", rv.Kind)
		}
	case RvalueBinary, RvalueCheckedBinary:
		if rv.LHS == nil || rv.RHS == nil {
			return errors.Errorf("%s without operands", rv.Kind)
		}
	case RvalueUnary:
		if rv.Operand == nil {
			return errors.New("unary without operand")
		}
	case RvalueCast:
		if rv.Operand == nil || rv.Type == 0 {
			return errors.New("cast without operand or type")
		}
	case RvalueRef, RvalueAddressOf, RvalueDiscriminant, RvalueLen, RvalueCopyForDeref:
		if rv.Place == nil {
			return errors.Errorf("%s without place", rv.Kind)
		}
	case RvalueAggregate:
		if rv.Aggregate == "" {
			return errors.New("aggregate without kind")
		}
	case RvalueNullary:
		if rv.Type == 0 {
			return errors.New("nullary without type")
		}
	default:
		return errors.Errorf("unknown rvalue kind: %q", rv.Kind)
	}
	if rv.Vtable != 0 && v.prog.Alloc(rv.Vtable) == nil {
		return errors.Errorf("unknown vtable: %d", rv.Vtable)
	}
	return nil
}

func (v *bodyValidator) place(p *Place) error {
	if p == nil {
		return errors.New("missing place")
	} else if err := v.local(p.Local); err != nil {
		return err
	}
	for _, proj := range p.Projection {
		switch proj.Kind {
		case ProjectionDeref, ProjectionConstantIndex, ProjectionSubslice, ProjectionDowncast:
		case ProjectionField, ProjectionOpaqueCast:
			if proj.Type != 0 {
				if err := v.prog.checkType(proj.Type); err != nil {
					return err
				}
			}
		case ProjectionIndex:
			if err := v.local(proj.Local); err != nil {
				return err
			}
		default:
			return errors.Errorf("unknown projection kind: %q", proj.Kind)
		}
	}
	return nil
}

func (v *bodyValidator) operand(op *Operand) error {
	if op == nil {
		return errors.New("missing operand")
	}
	switch op.Kind {
	case OperandCopy, OperandMove:
		return v.place(op.Place)
	case OperandConst:
		if op.Const == nil {
			return errors.New("const operand without value")
		} else if err := v.prog.checkType(op.Const.Type); err != nil {
			return err
		}
		return v.prog.validateProv(op.Const.Prov, uint64(len(op.Const.Bytes)))
	default:
		return errors.Errorf("unknown operand kind: %q", op.Kind)
	}
}

// parseSwitchValue reports whether a switch value is a decimal integer.
func parseSwitchValue(n json.Number) (string, bool) {
	s := string(n)
	digits := strings.TrimPrefix(s, "-")
	if digits == "" {
		return "", false
	}
	for _, c := range digits {
		if c < '0' || c > '9' {
			return "", false
		}
	}
	return s, true
}
