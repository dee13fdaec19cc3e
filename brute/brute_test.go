package brute_test

import (
	"errors"
	"testing"
	"time"

	"github.com/benbjohnson/mirv"
	"github.com/benbjohnson/mirv/brute"
	"github.com/google/go-cmp/cmp"
)

func TestSolver_Solve(t *testing.T) {
	t.Run("Constant", func(t *testing.T) {
		s := brute.NewSolver()
		MustSatisfy(t, s, true, mirv.NewBoolConstantExpr(true))
		MustSatisfy(t, s, false, mirv.NewBoolConstantExpr(false))
		MustSatisfy(t, s, true)
	})

	t.Run("Exhaustive", func(t *testing.T) {
		t.Run("Sat", func(t *testing.T) {
			s := brute.NewSolver()
			x := mirv.NewArray(1, 1)
			values := MustSolve(t, s, []*mirv.Array{x},
				mirv.NewBinaryExpr(mirv.EQ, x.Select(mirv.NewConstantExpr64(0), 8), mirv.NewConstantExpr8(10)),
			)
			if diff := cmp.Diff([][]byte{{10}}, values); diff != "" {
				t.Fatal(diff)
			}
		})

		t.Run("Unsat", func(t *testing.T) {
			s := brute.NewSolver()
			x := mirv.NewArray(1, 2).Select(mirv.NewConstantExpr64(0), 16)
			MustSatisfy(t, s, false,
				mirv.NewBinaryExpr(mirv.EQ, mirv.NewBinaryExpr(mirv.MUL, x, x), mirv.NewConstantExpr16(3)),
			)
			if n := s.Stats().Evaluations; n != 1<<16 {
				t.Fatalf("unexpected evaluations: %d", n)
			}
		})

		t.Run("Conflicting", func(t *testing.T) {
			s := brute.NewSolver()
			x := mirv.NewArray(1, 1).Select(mirv.NewConstantExpr64(0), 8)
			MustSatisfy(t, s, false,
				mirv.NewBinaryExpr(mirv.EQ, x, mirv.NewConstantExpr8(3)),
				mirv.NewBinaryExpr(mirv.EQ, x, mirv.NewConstantExpr8(4)),
			)
		})

		t.Run("SymbolicIndex", func(t *testing.T) {
			s := brute.NewSolver()
			idx := mirv.NewArray(1, 1)
			data := mirv.NewConcreteArray(2, []byte{10, 20, 30, 40})
			sel := data.Select(mirv.NewCastExpr(idx.Select(mirv.NewConstantExpr64(0), 8), 64, false), 8)

			values := MustSolve(t, s, []*mirv.Array{idx},
				mirv.NewBinaryExpr(mirv.EQ, sel, mirv.NewConstantExpr8(30)),
			)
			if diff := cmp.Diff([][]byte{{2}}, values); diff != "" {
				t.Fatal(diff)
			}
		})
	})

	t.Run("Candidates", func(t *testing.T) {
		t.Run("Sat", func(t *testing.T) {
			s := brute.NewSolver()
			x := mirv.NewArray(1, 4)
			values := MustSolve(t, s, []*mirv.Array{x},
				mirv.NewBinaryExpr(mirv.EQ, x.Select(mirv.NewConstantExpr64(0), 32), mirv.NewConstantExpr32(1000)),
			)
			if diff := cmp.Diff([][]byte{{0xE8, 0x03, 0x00, 0x00}}, values); diff != "" {
				t.Fatal(diff)
			}
		})

		t.Run("Neighbor", func(t *testing.T) {
			s := brute.NewSolver()
			x := mirv.NewArray(1, 4).Select(mirv.NewConstantExpr64(0), 32)
			MustSatisfy(t, s, true,
				mirv.NewBinaryExpr(mirv.ULT, mirv.NewConstantExpr32(1000), x),
			)
		})

		t.Run("Unknown", func(t *testing.T) {
			s := brute.NewSolver()
			x := mirv.NewArray(1, 4).Select(mirv.NewConstantExpr64(0), 32)
			_, _, err := s.Solve([]mirv.Expr{
				mirv.NewBinaryExpr(mirv.EQ, mirv.NewBinaryExpr(mirv.MUL, x, x), mirv.NewConstantExpr32(3)),
			}, nil)
			if !errors.Is(err, mirv.ErrSolverUnknown) {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	})

	t.Run("UnreferencedArray", func(t *testing.T) {
		s := brute.NewSolver()
		x, y := mirv.NewArray(1, 1), mirv.NewArray(2, 3)
		values := MustSolve(t, s, []*mirv.Array{x, y},
			mirv.NewBinaryExpr(mirv.EQ, x.Select(mirv.NewConstantExpr64(0), 8), mirv.NewConstantExpr8(1)),
		)
		if diff := cmp.Diff([][]byte{{1}, {0, 0, 0}}, values); diff != "" {
			t.Fatal(diff)
		}
	})

	t.Run("Timeout", func(t *testing.T) {
		s := brute.NewSolver()
		s.Timeout = time.Nanosecond
		x := mirv.NewArray(1, 4).Select(mirv.NewConstantExpr64(0), 32)
		_, _, err := s.Solve([]mirv.Expr{
			mirv.NewBinaryExpr(mirv.EQ, mirv.NewBinaryExpr(mirv.MUL, x, x), mirv.NewConstantExpr32(3)),
		}, nil)
		if !errors.Is(err, mirv.ErrSolverTimeout) {
			t.Fatalf("unexpected error: %v", err)
		}
	})
}

// MustSatisfy checks the satisfiability of constraints without arrays.
func MustSatisfy(tb testing.TB, s *brute.Solver, want bool, constraints ...mirv.Expr) {
	tb.Helper()
	if satisfiable, _, err := s.Solve(constraints, nil); err != nil {
		tb.Fatal(err)
	} else if satisfiable != want {
		tb.Fatalf("satisfiable=%v, expected %v", satisfiable, want)
	}
}

// MustSolve returns the model for arrays. Fatal if unsatisfiable.
func MustSolve(tb testing.TB, s *brute.Solver, arrays []*mirv.Array, constraints ...mirv.Expr) [][]byte {
	tb.Helper()
	satisfiable, values, err := s.Solve(constraints, arrays)
	if err != nil {
		tb.Fatal(err)
	} else if !satisfiable {
		tb.Fatal("expected satisfiable")
	}
	return values
}
