// Package brute implements mirv.Solver by evaluating constraints over
// enumerated input bytes. It needs no native libraries and proves
// unsatisfiability only when few input bytes are constrained.
package brute

import (
	"sort"
	"time"

	"github.com/benbjohnson/mirv"
)

// Ensure solver implements interface.
var _ mirv.Solver = (*Solver)(nil)

// Default search bounds.
const (
	DefaultMaxExhaustiveBytes = 2
	DefaultMaxCandidates      = 1 << 20
)

// Solver represents an enumerating solver.
type Solver struct {
	stats Stats

	// Number of referenced input bytes up to which every assignment is
	// tried. Beyond it only candidate values are tried and a failed
	// search is reported as unknown.
	MaxExhaustiveBytes int

	// Maximum number of assignments tried in a single candidate search.
	MaxCandidates int

	// Maximum time spent in a single check. Zero means no limit.
	Timeout time.Duration
}

// NewSolver returns a new instance of Solver with default bounds.
func NewSolver() *Solver {
	return &Solver{
		MaxExhaustiveBytes: DefaultMaxExhaustiveBytes,
		MaxCandidates:      DefaultMaxCandidates,
	}
}

// Close is a no-op provided for symmetry with native solvers.
func (s *Solver) Close() error { return nil }

// Stats returns statistics for the solver.
func (s *Solver) Stats() Stats { return s.stats }

// Solve searches for input bytes under which every constraint evaluates to
// true. Unreferenced bytes are zero in the returned values.
func (s *Solver) Solve(constraints []mirv.Expr, arrays []*mirv.Array) (satisfiable bool, values [][]byte, err error) {
	t := time.Now()
	defer func() {
		s.stats.SolveN++
		s.stats.SolveTime += time.Since(t)
	}()

	// Constant constraints decide the result on their own.
	var symbolic []mirv.Expr
	for _, c := range constraints {
		if mirv.IsConstantFalse(c) {
			return false, nil, nil
		} else if !mirv.IsConstantTrue(c) {
			symbolic = append(symbolic, c)
		}
	}

	p := newProblem(symbolic, arrays)
	var deadline time.Time
	if s.Timeout > 0 {
		deadline = t.Add(s.Timeout)
	}

	exhaustive := len(p.vars) <= s.MaxExhaustiveBytes
	domains := make([][]byte, len(p.vars))
	limit := s.MaxCandidates
	for i := range domains {
		if exhaustive {
			domains[i] = allBytes
		} else {
			domains[i] = p.candidates
		}
	}
	if exhaustive {
		limit = 0
	}

	ok, err := s.search(p, domains, limit, deadline)
	if err != nil {
		return false, nil, err
	} else if ok {
		return true, p.values(arrays), nil
	} else if !exhaustive {
		return false, nil, mirv.ErrSolverUnknown
	}
	return false, nil, nil
}

// search enumerates assignments of the domains in odometer order. A
// positive limit bounds the number of assignments tried.
func (s *Solver) search(p *problem, domains [][]byte, limit int, deadline time.Time) (bool, error) {
	pos := make([]int, len(domains))
	for n := 0; ; n++ {
		if limit > 0 && n >= limit {
			return false, nil
		} else if n&0xFFF == 0 && !deadline.IsZero() && time.Now().After(deadline) {
			return false, mirv.ErrSolverTimeout
		}

		for i, v := range p.vars {
			p.buffers[v.array][v.offset] = domains[i][pos[i]]
		}
		s.stats.Evaluations++
		if p.eval() {
			return true, nil
		}

		// Advance to the next assignment.
		i := 0
		for ; i < len(pos); i++ {
			if pos[i]++; pos[i] < len(domains[i]) {
				break
			}
			pos[i] = 0
		}
		if i == len(pos) {
			return false, nil
		}
	}
}

// problem holds the constraints together with the bytes they read.
type problem struct {
	constraints []mirv.Expr
	arrays      []*mirv.Array
	buffers     map[uint64][]byte
	vars        []variable
	candidates  []byte
	evaluator   *mirv.ExprEvaluator
}

// variable identifies a single input byte.
type variable struct {
	array  uint64
	offset uint64
}

func newProblem(constraints []mirv.Expr, arrays []*mirv.Array) *problem {
	p := &problem{
		constraints: constraints,
		buffers:     make(map[uint64][]byte),
	}

	// Bind every symbolic array, including requested ones that no
	// constraint mentions.
	for _, a := range append(mirv.FindArrays(constraints...), arrays...) {
		if _, ok := p.buffers[a.ID]; ok {
			continue
		}
		p.arrays = append(p.arrays, a.Root())
		p.buffers[a.ID] = make([]byte, a.Size)
	}

	v := &visitor{
		vars:      make(map[variable]struct{}),
		constants: map[byte]struct{}{0: {}, 1: {}, 0x7F: {}, 0x80: {}, 0xFF: {}},
		sizes:     make(map[uint64]uint64),
	}
	for _, a := range p.arrays {
		v.sizes[a.ID] = uint64(a.Size)
	}
	for _, c := range constraints {
		mirv.WalkExpr(v, c)
	}

	for k := range v.vars {
		p.vars = append(p.vars, k)
	}
	sort.Slice(p.vars, func(i, j int) bool {
		if p.vars[i].array != p.vars[j].array {
			return p.vars[i].array < p.vars[j].array
		}
		return p.vars[i].offset < p.vars[j].offset
	})
	for b := range v.constants {
		p.candidates = append(p.candidates, b)
	}
	sort.Slice(p.candidates, func(i, j int) bool { return p.candidates[i] < p.candidates[j] })

	values := make([][]byte, len(p.arrays))
	for i, a := range p.arrays {
		values[i] = p.buffers[a.ID]
	}
	p.evaluator = mirv.NewExprEvaluator(p.arrays, values)
	return p
}

// eval returns true if every constraint holds under the current buffers.
// Reads outside an array make the assignment fail.
func (p *problem) eval() bool {
	for _, c := range p.constraints {
		if v, err := p.evaluator.Evaluate(c); err != nil || !v.IsTrue() {
			return false
		}
	}
	return true
}

// values returns copies of the buffers for arrays.
func (p *problem) values(arrays []*mirv.Array) [][]byte {
	out := make([][]byte, len(arrays))
	for i, a := range arrays {
		out[i] = append([]byte(nil), p.buffers[a.ID]...)
	}
	return out
}

// visitor collects the input bytes read by an expression along with the
// bytes of every constant as candidate values.
type visitor struct {
	vars      map[variable]struct{}
	constants map[byte]struct{}
	sizes     map[uint64]uint64
}

func (v *visitor) Visit(expr mirv.Expr) (mirv.Expr, mirv.ExprVisitor) {
	switch expr := expr.(type) {
	case *mirv.ConstantExpr:
		v.addConstant(expr)
	case *mirv.SelectExpr:
		if !expr.Array.IsSymbolic() {
			break
		}
		id := expr.Array.ID
		if index, ok := expr.Index.(*mirv.ConstantExpr); ok {
			if index.IsUint64() && index.Uint64() < v.sizes[id] {
				v.vars[variable{array: id, offset: index.Uint64()}] = struct{}{}
			}
			break
		}
		for i := uint64(0); i < v.sizes[id]; i++ {
			v.vars[variable{array: id, offset: i}] = struct{}{}
		}
	}
	return expr, v
}

// addConstant records each byte of c and its neighbors.
func (v *visitor) addConstant(c *mirv.ConstantExpr) {
	if c.Width <= mirv.WidthBool {
		return
	}
	n := (c.Width + 7) / 8
	if n > 8 {
		n = 8
	}
	x := c.Value.Uint64()
	for i := uint(0); i < n; i++ {
		b := byte(x >> (8 * i))
		v.constants[b] = struct{}{}
		v.constants[b+1] = struct{}{}
		v.constants[b-1] = struct{}{}
	}
}

// allBytes holds every byte value in ascending order.
var allBytes = func() []byte {
	b := make([]byte, 256)
	for i := range b {
		b[i] = byte(i)
	}
	return b
}()

// Stats represents cumulative solver statistics.
type Stats struct {
	SolveN      int
	SolveTime   time.Duration
	Evaluations int
}
