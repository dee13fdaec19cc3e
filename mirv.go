// Package mirv implements a concrete and symbolic execution engine for
// programs lowered to the mid-level representation defined in package mir.
package mirv

import (
	"errors"
	"fmt"
)

// Standard widths.
const (
	WidthBool = 1
	Width8    = 8
	Width16   = 16
	Width32   = 32
	Width64   = 64
	Width128  = 128
	Width256  = 256
)

// PointerWidth is the bit width of addresses and pointer-sized integers.
const PointerWidth = Width64

var (
	ErrNoStateAvailable    = errors.New("mirv: no state available")
	ErrEntryNotFound       = errors.New("mirv: entry function not found")
	ErrSolverTimeout       = errors.New("Solver timeout")
	ErrSolverCanceled      = errors.New("Solver canceled")
	ErrSolverResourceLimit = errors.New("Solver resource limit")
	ErrSolverUnknown       = errors.New("Solver unknown error")

	// Per-path and per-run resource limits.
	ErrStepLimit      = errors.New("mirv: step limit exceeded")
	ErrCallDepthLimit = errors.New("mirv: call depth limit exceeded")
	ErrPathLimit      = errors.New("mirv: path limit exceeded")
)

// Mode represents how entry arguments and branch conditions are treated.
type Mode string

const (
	// ModeConcrete executes with caller supplied arguments and no solver.
	ModeConcrete = Mode("concrete")

	// ModeSymbolic executes with symbolic arguments and forks on branches.
	ModeSymbolic = Mode("symbolic")
)

// assert panics if condition is false.
func assert(condition bool, format string, args ...interface{}) {
	if !condition {
		panic(fmt.Sprintf("assert: "+format, args...))
	}
}
