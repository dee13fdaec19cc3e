package mirv_test

import (
	"testing"

	"github.com/benbjohnson/mirv"
	"github.com/google/go-cmp/cmp"
	"github.com/holiman/uint256"
)

func TestExprWidth(t *testing.T) {
	x := mirv.NewArray(1, 16).Select(mirv.NewConstantExpr64(0), 32)

	t.Run("ConstantExpr", func(t *testing.T) {
		if w := mirv.ExprWidth(mirv.NewConstantExpr(0, 8)); w != 8 {
			t.Fatalf("unexpected width: %d", w)
		}
	})
	t.Run("SelectExpr", func(t *testing.T) {
		if w := mirv.ExprWidth(&mirv.SelectExpr{}); w != 8 {
			t.Fatalf("unexpected width: %d", w)
		}
	})
	t.Run("ConcatExpr", func(t *testing.T) {
		if w := mirv.ExprWidth(&mirv.ConcatExpr{
			MSB: mirv.NewConstantExpr(0, 8),
			LSB: mirv.NewConstantExpr(0, 16),
		}); w != 24 {
			t.Fatalf("unexpected width: %d", w)
		}
	})
	t.Run("ExtractExpr", func(t *testing.T) {
		if w := mirv.ExprWidth(mirv.NewExtractExpr(x, 8, 16)); w != 16 {
			t.Fatalf("unexpected width: %d", w)
		}
	})
	t.Run("NotExpr", func(t *testing.T) {
		if w := mirv.ExprWidth(mirv.NewNotExpr(x)); w != 32 {
			t.Fatalf("unexpected width: %d", w)
		}
	})
	t.Run("CastExpr", func(t *testing.T) {
		if w := mirv.ExprWidth(mirv.NewCastExpr(x, 128, true)); w != 128 {
			t.Fatalf("unexpected width: %d", w)
		}
	})
	t.Run("IteExpr", func(t *testing.T) {
		cond := mirv.NewBinaryExpr(mirv.EQ, x, mirv.NewConstantExpr32(1))
		if w := mirv.ExprWidth(mirv.NewIteExpr(cond, x, mirv.NewConstantExpr32(2))); w != 32 {
			t.Fatalf("unexpected width: %d", w)
		}
	})
	t.Run("BinaryExpr", func(t *testing.T) {
		t.Run("Compare", func(t *testing.T) {
			if w := mirv.ExprWidth(mirv.NewBinaryExpr(mirv.ULT, x, mirv.NewConstantExpr32(4))); w != mirv.WidthBool {
				t.Fatalf("unexpected width: %d", w)
			}
		})
		t.Run("Arithmetic", func(t *testing.T) {
			if w := mirv.ExprWidth(mirv.NewBinaryExpr(mirv.ADD, x, mirv.NewConstantExpr32(4))); w != 32 {
				t.Fatalf("unexpected width: %d", w)
			}
		})
	})
}

func TestNewBinaryExpr_Constant(t *testing.T) {
	for _, tt := range []struct {
		name string
		op   mirv.BinaryOp
		lhs  *mirv.ConstantExpr
		rhs  *mirv.ConstantExpr
		want *mirv.ConstantExpr
	}{
		{"AddWraps", mirv.ADD, mirv.NewConstantExpr8(200), mirv.NewConstantExpr8(100), mirv.NewConstantExpr8(44)},
		{"SubWraps", mirv.SUB, mirv.NewConstantExpr8(1), mirv.NewConstantExpr8(2), mirv.NewConstantExpr8(255)},
		{"Mul", mirv.MUL, mirv.NewConstantExpr32(32), mirv.NewConstantExpr32(255), mirv.NewConstantExpr32(8160)},
		{"UDiv", mirv.UDIV, mirv.NewConstantExpr8(255), mirv.NewConstantExpr8(2), mirv.NewConstantExpr8(127)},
		{"SDiv", mirv.SDIV, mirv.NewSignedConstantExpr(-7, 8), mirv.NewConstantExpr8(2), mirv.NewSignedConstantExpr(-3, 8)},
		{"SRem", mirv.SREM, mirv.NewSignedConstantExpr(-7, 8), mirv.NewConstantExpr8(2), mirv.NewSignedConstantExpr(-1, 8)},
		{"URem", mirv.UREM, mirv.NewConstantExpr8(7), mirv.NewConstantExpr8(4), mirv.NewConstantExpr8(3)},
		{"Shl", mirv.SHL, mirv.NewConstantExpr8(0x81), mirv.NewConstantExpr8(1), mirv.NewConstantExpr8(0x02)},
		{"LShr", mirv.LSHR, mirv.NewConstantExpr8(0x80), mirv.NewConstantExpr8(7), mirv.NewConstantExpr8(1)},
		{"AShr", mirv.ASHR, mirv.NewConstantExpr8(0x80), mirv.NewConstantExpr8(7), mirv.NewConstantExpr8(0xFF)},
		{"Xor", mirv.XOR, mirv.NewConstantExpr16(0xFF00), mirv.NewConstantExpr16(0x0FF0), mirv.NewConstantExpr16(0xF0F0)},
		{"Ult", mirv.ULT, mirv.NewConstantExpr8(1), mirv.NewConstantExpr8(0xFF), mirv.NewBoolConstantExpr(true)},
		{"Slt", mirv.SLT, mirv.NewConstantExpr8(1), mirv.NewConstantExpr8(0xFF), mirv.NewBoolConstantExpr(false)},
		{"Sge", mirv.SGE, mirv.NewConstantExpr8(0), mirv.NewSignedConstantExpr(-1, 8), mirv.NewBoolConstantExpr(true)},
		{"Ne", mirv.NE, mirv.NewConstantExpr64(3), mirv.NewConstantExpr64(3), mirv.NewBoolConstantExpr(false)},
	} {
		t.Run(tt.name, func(t *testing.T) {
			got := mirv.NewBinaryExpr(tt.op, tt.lhs, tt.rhs)
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Fatal(diff)
			}
		})
	}

	t.Run("Wide", func(t *testing.T) {
		max := mirv.NewConstantExprInt(new(uint256.Int).SetAllOne(), 128)
		got := mirv.NewBinaryExpr(mirv.ADD, max, mirv.NewConstantExpr(1, 128))
		if diff := cmp.Diff(mirv.NewConstantExpr(0, 128), got); diff != "" {
			t.Fatal(diff)
		}

		hi := mirv.NewBinaryExpr(mirv.SHL, mirv.NewConstantExpr(1, 128), mirv.NewConstantExpr(100, 128)).(*mirv.ConstantExpr)
		if hi.IsUint64() {
			t.Fatalf("expected value beyond 64 bits: %s", hi)
		}
		if got := mirv.NewBinaryExpr(mirv.LSHR, hi, mirv.NewConstantExpr(100, 128)); !mirv.IsConstantExpr(got) || got.(*mirv.ConstantExpr).Uint64() != 1 {
			t.Fatalf("unexpected result: %s", got)
		}
	})
}

func TestNewBinaryExpr_Simplify(t *testing.T) {
	x := mirv.NewArray(1, 8).Select(mirv.NewConstantExpr64(0), 32)

	t.Run("AddZero", func(t *testing.T) {
		if got := mirv.NewBinaryExpr(mirv.ADD, x, mirv.NewConstantExpr32(0)); mirv.CompareExpr(got, x) != 0 {
			t.Fatalf("unexpected expr: %s", got)
		}
	})
	t.Run("SubSelf", func(t *testing.T) {
		if got := mirv.NewBinaryExpr(mirv.SUB, x, x); !mirv.IsConstantExpr(got) || !got.(*mirv.ConstantExpr).IsZero() {
			t.Fatalf("unexpected expr: %s", got)
		}
	})
	t.Run("AndZero", func(t *testing.T) {
		if got := mirv.NewBinaryExpr(mirv.AND, x, mirv.NewConstantExpr32(0)); !mirv.IsConstantExpr(got) {
			t.Fatalf("unexpected expr: %s", got)
		}
	})
	t.Run("AndSelf", func(t *testing.T) {
		if got := mirv.NewBinaryExpr(mirv.AND, x, x); mirv.CompareExpr(got, x) != 0 {
			t.Fatalf("unexpected expr: %s", got)
		}
	})
	t.Run("EqTrue", func(t *testing.T) {
		cond := mirv.NewBinaryExpr(mirv.EQ, x, mirv.NewConstantExpr32(10))
		if got := mirv.NewBinaryExpr(mirv.EQ, mirv.NewBoolConstantExpr(true), cond); mirv.CompareExpr(got, cond) != 0 {
			t.Fatalf("unexpected expr: %s", got)
		}
	})
}

func TestNewExtractExpr(t *testing.T) {
	a := mirv.NewArray(1, 8)
	lo, hi := a.Select(mirv.NewConstantExpr64(0), 8), a.Select(mirv.NewConstantExpr64(1), 8)
	concat := mirv.NewConcatExpr(hi, lo)

	t.Run("Constant", func(t *testing.T) {
		got := mirv.NewExtractExpr(mirv.NewConstantExpr32(0xAABBCCDD), 8, 16)
		if diff := cmp.Diff(mirv.NewConstantExpr16(0xBBCC), got); diff != "" {
			t.Fatal(diff)
		}
	})
	t.Run("ConcatLSB", func(t *testing.T) {
		if got := mirv.NewExtractExpr(concat, 0, 8); mirv.CompareExpr(got, lo) != 0 {
			t.Fatalf("unexpected expr: %s", got)
		}
	})
	t.Run("ConcatMSB", func(t *testing.T) {
		if got := mirv.NewExtractExpr(concat, 8, 8); mirv.CompareExpr(got, hi) != 0 {
			t.Fatalf("unexpected expr: %s", got)
		}
	})
	t.Run("ZExtHigh", func(t *testing.T) {
		got := mirv.NewExtractExpr(mirv.NewCastExpr(lo, 32, false), 16, 16)
		if diff := cmp.Diff(mirv.NewConstantExpr16(0), got); diff != "" {
			t.Fatal(diff)
		}
	})
	t.Run("Full", func(t *testing.T) {
		if got := mirv.NewExtractExpr(concat, 0, 16); mirv.CompareExpr(got, concat) != 0 {
			t.Fatalf("unexpected expr: %s", got)
		}
	})
}

func TestNewCastExpr(t *testing.T) {
	t.Run("SExt", func(t *testing.T) {
		got := mirv.NewCastExpr(mirv.NewConstantExpr8(0xFE), 32, true)
		if diff := cmp.Diff(mirv.NewConstantExpr32(0xFFFFFFFE), got); diff != "" {
			t.Fatal(diff)
		}
	})
	t.Run("ZExt", func(t *testing.T) {
		got := mirv.NewCastExpr(mirv.NewConstantExpr8(0xFE), 32, false)
		if diff := cmp.Diff(mirv.NewConstantExpr32(0xFE), got); diff != "" {
			t.Fatal(diff)
		}
	})
	t.Run("Truncate", func(t *testing.T) {
		got := mirv.NewCastExpr(mirv.NewConstantExpr32(0x1234), 8, true)
		if diff := cmp.Diff(mirv.NewConstantExpr8(0x34), got); diff != "" {
			t.Fatal(diff)
		}
	})
}

func TestNewIteExpr(t *testing.T) {
	x := mirv.NewArray(1, 4).Select(mirv.NewConstantExpr64(0), 8)
	cond := mirv.NewBinaryExpr(mirv.ULT, x, mirv.NewConstantExpr8(4))

	t.Run("ConstantCond", func(t *testing.T) {
		got := mirv.NewIteExpr(mirv.NewBoolConstantExpr(false), x, mirv.NewConstantExpr8(9))
		if diff := cmp.Diff(mirv.NewConstantExpr8(9), got); diff != "" {
			t.Fatal(diff)
		}
	})
	t.Run("SameBranches", func(t *testing.T) {
		if got := mirv.NewIteExpr(cond, x, x); mirv.CompareExpr(got, x) != 0 {
			t.Fatalf("unexpected expr: %s", got)
		}
	})
	t.Run("BoolConstants", func(t *testing.T) {
		got := mirv.NewIteExpr(cond, mirv.NewBoolConstantExpr(true), mirv.NewBoolConstantExpr(false))
		if mirv.CompareExpr(got, cond) != 0 {
			t.Fatalf("unexpected expr: %s", got)
		}
	})
}

func TestExprEvaluator(t *testing.T) {
	a := mirv.NewArray(1, 4)
	x := a.Select(mirv.NewConstantExpr64(0), 32)
	expr := mirv.NewIteExpr(
		mirv.NewBinaryExpr(mirv.UGT, x, mirv.NewConstantExpr32(100)),
		mirv.NewBinaryExpr(mirv.MUL, x, mirv.NewConstantExpr32(2)),
		mirv.NewConstantExpr32(7),
	)

	t.Run("Then", func(t *testing.T) {
		got, err := mirv.NewExprEvaluator([]*mirv.Array{a}, [][]byte{{200, 0, 0, 0}}).Evaluate(expr)
		if err != nil {
			t.Fatal(err)
		} else if diff := cmp.Diff(mirv.NewConstantExpr32(400), got); diff != "" {
			t.Fatal(diff)
		}
	})
	t.Run("Else", func(t *testing.T) {
		got, err := mirv.NewExprEvaluator([]*mirv.Array{a}, [][]byte{{5, 0, 0, 0}}).Evaluate(expr)
		if err != nil {
			t.Fatal(err)
		} else if diff := cmp.Diff(mirv.NewConstantExpr32(7), got); diff != "" {
			t.Fatal(diff)
		}
	})
	t.Run("Unbound", func(t *testing.T) {
		if _, err := mirv.NewExprEvaluator(nil, nil).Evaluate(expr); err == nil {
			t.Fatal("expected error")
		}
	})
	t.Run("Updated", func(t *testing.T) {
		b := a.Store(mirv.NewConstantExpr64(1), mirv.NewConstantExpr8(1))
		y := b.Select(mirv.NewConstantExpr64(0), 32)
		got, err := mirv.NewExprEvaluator([]*mirv.Array{a}, [][]byte{{5, 0, 0, 0}}).Evaluate(y)
		if err != nil {
			t.Fatal(err)
		} else if diff := cmp.Diff(mirv.NewConstantExpr32(0x105), got); diff != "" {
			t.Fatal(diff)
		}
	})
}

func TestFindArrays(t *testing.T) {
	a, b := mirv.NewArray(1, 4), mirv.NewArray(2, 4)
	expr := mirv.NewBinaryExpr(mirv.EQ,
		a.Select(mirv.NewConstantExpr64(0), 32),
		b.Store(mirv.NewConstantExpr64(0), mirv.NewConstantExpr8(1)).Select(mirv.NewConstantExpr64(0), 32),
	)
	arrays := mirv.FindArrays(expr)
	if len(arrays) != 2 {
		t.Fatalf("unexpected array count: %d", len(arrays))
	}
	for _, arr := range arrays {
		if arr.Updates != nil {
			t.Fatalf("expected root array: %s", arr)
		}
	}
}
