package mirv_test

import (
	"context"
	"testing"

	"github.com/benbjohnson/mirv"
	"github.com/benbjohnson/mirv/brute"
	"github.com/benbjohnson/mirv/mir"
	"github.com/stretchr/testify/require"
)

func TestExecutor_Arithmetic(t *testing.T) {
	// Intermediate products wrap at 16 bits before the division:
	// ((x*y*16) / (y*4)) as u8 with x=32, y=255 is 63, not 128.
	t.Run("Mul2", func(t *testing.T) {
		p := NewProgram()
		p.Func("mul2", 2,
			p.Locals(p.U8, p.U8, p.U8, p.U16, p.U16, p.U16, p.U16, p.U16, p.U16),
			mir.NewBlock(mir.Return(),
				mir.Assign(mir.LocalPlace(3), mir.Cast(mir.CastIntToInt, mir.Copy(mir.LocalPlace(1)), p.U16)),
				mir.Assign(mir.LocalPlace(4), mir.Cast(mir.CastIntToInt, mir.Copy(mir.LocalPlace(2)), p.U16)),
				mir.Assign(mir.LocalPlace(5), mir.BinaryOp(mir.BinMul, mir.Copy(mir.LocalPlace(3)), mir.Copy(mir.LocalPlace(4)))),
				mir.Assign(mir.LocalPlace(6), mir.BinaryOp(mir.BinMul, mir.Copy(mir.LocalPlace(5)), mir.ConstUint(p.U16, 16))),
				mir.Assign(mir.LocalPlace(7), mir.BinaryOp(mir.BinMul, mir.Copy(mir.LocalPlace(4)), mir.ConstUint(p.U16, 4))),
				mir.Assign(mir.LocalPlace(8), mir.BinaryOp(mir.BinDiv, mir.Copy(mir.LocalPlace(6)), mir.Copy(mir.LocalPlace(7)))),
				mir.Assign(mir.LocalPlace(0), mir.Cast(mir.CastIntToInt, mir.Copy(mir.LocalPlace(8)), p.U8)),
			),
		)

		v := MustRun(t, p.Program, "mul2", mirv.NewIntScalar(32, 8), mirv.NewIntScalar(255, 8))
		require.Equal(t, mirv.StatusPass, v.Status, v.String())
		require.Equal(t, "(const 63 8)", v.Return)
	})

	t.Run("CheckedAdd", func(t *testing.T) {
		p := NewProgram()
		pair := p.AddType(mir.Tuple(p.U8, p.Bool))
		p.Func("add", 2,
			p.Locals(p.U8, p.U8, p.U8, pair),
			mir.NewBlock(
				mir.Assert(mir.Copy(mir.LocalPlace(3).Field(1, p.Bool)), false, "attempt to add with overflow", 1),
				mir.Assign(mir.LocalPlace(3), mir.CheckedBinaryOp(mir.BinAdd, mir.Copy(mir.LocalPlace(1)), mir.Copy(mir.LocalPlace(2)))),
			),
			mir.NewBlock(mir.Return(),
				mir.Assign(mir.LocalPlace(0), mir.Use(mir.Copy(mir.LocalPlace(3).Field(0, p.U8)))),
			),
		)

		t.Run("Concrete", func(t *testing.T) {
			v := MustRun(t, p.Program, "add", mirv.NewIntScalar(100, 8), mirv.NewIntScalar(27, 8))
			require.Equal(t, mirv.StatusPass, v.Status, v.String())
			require.Equal(t, "(const 127 8)", v.Return)

			v = MustRun(t, p.Program, "add", mirv.NewIntScalar(200, 8), mirv.NewIntScalar(100, 8))
			require.Equal(t, mirv.StatusPanicked, v.Status)
			require.Equal(t, "attempt to add with overflow", v.Reason)
		})

		t.Run("Symbolic", func(t *testing.T) {
			v := MustProve(t, p.Program, "add")
			require.Equal(t, mirv.StatusPanicked, v.Status)
			require.Equal(t, 2, v.Paths)
			require.Len(t, v.Counterexample, 2)
			x, y := v.Counterexample[0].Bytes[0], v.Counterexample[1].Bytes[0]
			require.Greater(t, int(x)+int(y), 255)
		})
	})

	t.Run("Shift", func(t *testing.T) {
		p := NewProgram()
		p.Func("shl", 2,
			p.Locals(p.U8, p.U8, p.U32),
			mir.NewBlock(mir.Return(),
				mir.Assign(mir.LocalPlace(0), mir.BinaryOp(mir.BinShl, mir.Copy(mir.LocalPlace(1)), mir.Copy(mir.LocalPlace(2)))),
			),
		)
		p.Func("shl_unchecked", 2,
			p.Locals(p.U8, p.U8, p.U32),
			mir.NewBlock(mir.Return(),
				mir.Assign(mir.LocalPlace(0), mir.BinaryOp(mir.BinShlUnchecked, mir.Copy(mir.LocalPlace(1)), mir.Copy(mir.LocalPlace(2)))),
			),
		)

		// The shift amount is masked to the operand width.
		v := MustRun(t, p.Program, "shl", mirv.NewIntScalar(1, 8), mirv.NewIntScalar(9, 32))
		require.Equal(t, mirv.StatusPass, v.Status, v.String())
		require.Equal(t, "(const 2 8)", v.Return)

		v = MustRun(t, p.Program, "shl_unchecked", mirv.NewIntScalar(1, 8), mirv.NewIntScalar(3, 32))
		require.Equal(t, "(const 8 8)", v.Return)

		v = MustRun(t, p.Program, "shl_unchecked", mirv.NewIntScalar(1, 8), mirv.NewIntScalar(9, 32))
		require.Equal(t, mirv.StatusUndefinedBehavior, v.Status)
		require.Equal(t, mirv.UBShiftOutOfRange, v.Kind)
	})

	t.Run("DivisionByZero", func(t *testing.T) {
		p := NewProgram()
		p.Func("div", 2,
			p.Locals(p.U8, p.U8, p.U8),
			mir.NewBlock(mir.Return(),
				mir.Assign(mir.LocalPlace(0), mir.BinaryOp(mir.BinDiv, mir.Copy(mir.LocalPlace(1)), mir.Copy(mir.LocalPlace(2)))),
			),
		)
		v := MustRun(t, p.Program, "div", mirv.NewIntScalar(7, 8), mirv.NewIntScalar(0, 8))
		require.Equal(t, mirv.StatusUndefinedBehavior, v.Status)
		require.Equal(t, mirv.UBDivisionByZero, v.Kind)
	})

	t.Run("SizeOfMultipleOfAlign", func(t *testing.T) {
		p := NewProgram()
		st := p.AddType(mir.Struct("S", p.U8, p.U32, p.U16))
		p.Func("main", 0,
			p.Locals(p.Usize, p.Usize, p.Usize),
			mir.NewBlock(mir.Return(),
				mir.Assign(mir.LocalPlace(1), mir.NullaryOp(mir.NullSizeOf, st)),
				mir.Assign(mir.LocalPlace(2), mir.NullaryOp(mir.NullAlignOf, st)),
				mir.Assign(mir.LocalPlace(0), mir.BinaryOp(mir.BinRem, mir.Copy(mir.LocalPlace(1)), mir.Copy(mir.LocalPlace(2)))),
			),
		)

		v := MustRun(t, p.Program, "main")
		require.Equal(t, mirv.StatusPass, v.Status, v.String())
		require.Equal(t, "(const 0 64)", v.Return)
	})

	// Saturating arithmetic clamps at the bounds of the type. Signed
	// overflow clamps toward the sign of the left operand.
	t.Run("Saturating", func(t *testing.T) {
		p := NewProgram()
		i8 := p.AddType(mir.Int(8))
		for _, name := range []string{"saturating_add", "saturating_sub"} {
			for _, ty := range []mir.TypeID{p.U8, i8} {
				suffix := "u8"
				if ty == i8 {
					suffix = "i8"
				}
				fn := p.Intrinsic("core::intrinsics::"+name+"::<"+suffix+">", name, ty)
				p.Func(name+"_"+suffix, 2, p.Locals(ty, ty, ty),
					mir.NewBlock(mir.Call(mir.ConstZST(fn), []*mir.Operand{mir.Copy(mir.LocalPlace(1)), mir.Copy(mir.LocalPlace(2))}, mir.LocalPlace(0), 1)),
					mir.NewBlock(mir.Return()),
				)
			}
		}

		i8Arg := func(v int8) mirv.Value { return mirv.NewIntScalar(uint64(uint8(v)), 8) }
		for _, tt := range []struct {
			fn   string
			a, b mirv.Value
			want string
		}{
			{"saturating_add_u8", mirv.NewIntScalar(200, 8), mirv.NewIntScalar(100, 8), "(const 255 8)"},
			{"saturating_add_u8", mirv.NewIntScalar(1, 8), mirv.NewIntScalar(2, 8), "(const 3 8)"},
			{"saturating_sub_u8", mirv.NewIntScalar(5, 8), mirv.NewIntScalar(10, 8), "(const 0 8)"},
			{"saturating_sub_u8", mirv.NewIntScalar(10, 8), mirv.NewIntScalar(5, 8), "(const 5 8)"},
			{"saturating_add_i8", i8Arg(100), i8Arg(100), "(const 127 8)"},
			{"saturating_add_i8", i8Arg(-100), i8Arg(-100), "(const 128 8)"}, // -128
			{"saturating_add_i8", i8Arg(-100), i8Arg(50), "(const 206 8)"},   // -50
			{"saturating_sub_i8", i8Arg(-100), i8Arg(100), "(const 128 8)"},  // -128
			{"saturating_sub_i8", i8Arg(100), i8Arg(-100), "(const 127 8)"},
		} {
			v := MustRun(t, p.Program, tt.fn, tt.a, tt.b)
			require.Equal(t, mirv.StatusPass, v.Status, v.String())
			require.Equal(t, tt.want, v.Return, "%s(%s, %s)", tt.fn, tt.a, tt.b)
		}
	})

	// The rotate amount may be wider than the value and wraps at its width.
	t.Run("RotateMixedWidths", func(t *testing.T) {
		p := NewProgram()
		rotl := p.Intrinsic("core::intrinsics::rotate_left::<u8>", "rotate_left", p.U8)
		rotr := p.Intrinsic("core::intrinsics::rotate_right::<u8>", "rotate_right", p.U8)
		for name, fn := range map[string]mir.TypeID{"rotl": rotl, "rotr": rotr} {
			p.Func(name, 2, p.Locals(p.U8, p.U8, p.U32),
				mir.NewBlock(mir.Call(mir.ConstZST(fn), []*mir.Operand{mir.Copy(mir.LocalPlace(1)), mir.Copy(mir.LocalPlace(2))}, mir.LocalPlace(0), 1)),
				mir.NewBlock(mir.Return()),
			)
		}

		v := MustRun(t, p.Program, "rotl", mirv.NewIntScalar(0x81, 8), mirv.NewIntScalar(9, 32))
		require.Equal(t, mirv.StatusPass, v.Status, v.String())
		require.Equal(t, "(const 3 8)", v.Return)

		v = MustRun(t, p.Program, "rotr", mirv.NewIntScalar(0x81, 8), mirv.NewIntScalar(17, 32))
		require.Equal(t, mirv.StatusPass, v.Status, v.String())
		require.Equal(t, "(const 192 8)", v.Return)
	})
}

func TestExecutor_Enum(t *testing.T) {
	// Option<SmallInt> stores None in the unused value 0 of SmallInt's tag.
	p := NewProgram()
	small := p.AddType(mir.Enum("SmallInt",
		mir.NewVariant("One").WithDiscr(1),
		mir.NewVariant("Two").WithDiscr(2),
	))
	option := p.AddType(mir.Enum("Option",
		mir.NewVariant("None"),
		mir.NewVariant("Some", small),
	))
	p.Func("decode", 1,
		[]*mir.Local{
			mir.NewLocal("", p.Isize),
			mir.NewLocal("b", p.U8),
			mir.NewLocal("", option),
			mir.NewLocal("", p.Isize),
		},
		mir.NewBlock(
			mir.SwitchInt(mir.Copy(mir.LocalPlace(3)), 2, mir.Case(0, 1)),
			mir.Assign(mir.LocalPlace(2), mir.Cast(mir.CastTransmute, mir.Copy(mir.LocalPlace(1)), option)),
			mir.Assign(mir.LocalPlace(3), mir.Discriminant(mir.LocalPlace(2))),
		),
		mir.NewBlock(mir.Return(),
			mir.Assign(mir.LocalPlace(0), mir.Use(mir.ConstInt(p.Isize, 0))),
		),
		mir.NewBlock(mir.Return(),
			mir.Assign(mir.LocalPlace(0), mir.Discriminant(mir.LocalPlace(2).Downcast(1).Field(0, small))),
		),
	)

	t.Run("Concrete", func(t *testing.T) {
		for b, want := range []string{"(const 0 64)", "(const 1 64)", "(const 2 64)"} {
			v := MustRun(t, p.Program, "decode", mirv.NewIntScalar(uint64(b), 8))
			require.Equal(t, mirv.StatusPass, v.Status, v.String())
			require.Equal(t, want, v.Return, "byte %d", b)
		}

		v := MustRun(t, p.Program, "decode", mirv.NewIntScalar(3, 8))
		require.Equal(t, mirv.StatusUndefinedBehavior, v.Status)
		require.Equal(t, mirv.UBInvalidDiscriminant, v.Kind)
	})

	t.Run("Symbolic", func(t *testing.T) {
		v := MustProve(t, p.Program, "decode")
		require.Equal(t, mirv.StatusUndefinedBehavior, v.Status)
		require.Equal(t, mirv.UBInvalidDiscriminant, v.Kind)
		require.Len(t, v.Counterexample, 1)
		require.Equal(t, "b", v.Counterexample[0].Name)
		require.GreaterOrEqual(t, v.Counterexample[0].Bytes[0], byte(3))
	})
}

func TestExecutor_Memory(t *testing.T) {
	// Little-endian reinterpretation of an 8-byte array equals the sum of its
	// shifted bytes.
	t.Run("UnpackAmount", func(t *testing.T) {
		p := NewProgram()
		bytes8 := p.AddType(mir.Array(p.U8, 8))
		ref := p.AddType(mir.Ref(bytes8, false))
		unpack := p.Func("unpack_amount", 1,
			p.Locals(p.U64, ref),
			mir.NewBlock(mir.Return(),
				mir.Assign(mir.LocalPlace(0), mir.Cast(mir.CastTransmute, mir.Copy(mir.LocalPlace(1).Deref()), p.U64)),
			),
		)
		p.Func("main", 0,
			p.Locals(p.U64, bytes8, ref),
			mir.NewBlock(mir.Call(mir.ConstZST(unpack), []*mir.Operand{mir.Copy(mir.LocalPlace(2))}, mir.LocalPlace(0), 1),
				mir.Assign(mir.LocalPlace(1), mir.Aggregate(mir.AggregateArray, bytes8, 0,
					mir.ConstUint(p.U8, 0x01), mir.ConstUint(p.U8, 0x02), mir.ConstUint(p.U8, 0x03), mir.ConstUint(p.U8, 0x04),
					mir.ConstUint(p.U8, 0x05), mir.ConstUint(p.U8, 0x06), mir.ConstUint(p.U8, 0x07), mir.ConstUint(p.U8, 0x88),
				)),
				mir.Assign(mir.LocalPlace(2), mir.Borrow(mir.LocalPlace(1), false)),
			),
			mir.NewBlock(mir.Return()),
		)

		v := MustRun(t, p.Program, "main")
		require.Equal(t, mirv.StatusPass, v.Status, v.String())
		require.Equal(t, "(const 9801809732607083009 64)", v.Return) // 0x8807060504030201
	})

	// Two boxes holding equal values compare equal by value but not by address.
	t.Run("BoxPtrEq", func(t *testing.T) {
		p := NewProgram()
		box := p.AddType(mir.Box(p.I32))
		ptr := p.AddType(mir.Ptr(p.I32, false))
		boxNew := p.Extern("alloc::boxed::Box::<i32>::new")
		p.Func("main", 0,
			p.Locals(p.Unit, box, box, p.Bool, ptr, ptr, p.Bool),
			mir.NewBlock(mir.Call(mir.ConstZST(boxNew), []*mir.Operand{mir.ConstInt(p.I32, 5)}, mir.LocalPlace(1), 1)),
			mir.NewBlock(mir.Call(mir.ConstZST(boxNew), []*mir.Operand{mir.ConstInt(p.I32, 5)}, mir.LocalPlace(2), 2)),
			mir.NewBlock(p.AssertTrue(mir.Copy(mir.LocalPlace(3)), 4, 3),
				mir.Assign(mir.LocalPlace(3), mir.BinaryOp(mir.BinEq, mir.Copy(mir.LocalPlace(1).Deref()), mir.Copy(mir.LocalPlace(2).Deref()))),
				mir.Assign(mir.LocalPlace(4), mir.AddressOf(mir.LocalPlace(1).Deref(), false)),
				mir.Assign(mir.LocalPlace(5), mir.AddressOf(mir.LocalPlace(2).Deref(), false)),
				mir.Assign(mir.LocalPlace(6), mir.BinaryOp(mir.BinNe, mir.Copy(mir.LocalPlace(4)), mir.Copy(mir.LocalPlace(5)))),
			),
			p.Fail("assertion failed: *a == *b"),
			mir.NewBlock(p.AssertTrue(mir.Copy(mir.LocalPlace(6)), 5, 6)),
			mir.NewBlock(mir.Return()),
			p.Fail("assertion failed: !ptr::eq(a, b)"),
		)

		v := MustRun(t, p.Program, "main")
		require.Equal(t, mirv.StatusPass, v.Status, v.String())
	})

	t.Run("OutOfBoundsOffset", func(t *testing.T) {
		p := NewProgram()
		arr := p.AddType(mir.Array(p.U8, 4))
		ptr := p.AddType(mir.Ptr(p.U8, false))
		p.Func("main", 1,
			[]*mir.Local{
				mir.NewLocal("", p.Unit),
				mir.NewLocal("n", p.Isize),
				mir.NewLocal("", arr),
				mir.NewLocal("", ptr),
				mir.NewLocal("", ptr),
			},
			mir.NewBlock(mir.Return(),
				mir.Assign(mir.LocalPlace(2), mir.Repeat(mir.ConstUint(p.U8, 1), arr, 4)),
				mir.Assign(mir.LocalPlace(3), mir.AddressOf(mir.LocalPlace(2).ConstantIndex(0, 4, false), false)),
				mir.Assign(mir.LocalPlace(4), mir.BinaryOp(mir.BinOffset, mir.Copy(mir.LocalPlace(3)), mir.Copy(mir.LocalPlace(1)))),
			),
		)

		// One past the end is allowed.
		v := MustRun(t, p.Program, "main", mirv.NewIntScalar(4, 64))
		require.Equal(t, mirv.StatusPass, v.Status, v.String())

		v = MustRun(t, p.Program, "main", mirv.NewIntScalar(5, 64))
		require.Equal(t, mirv.StatusUndefinedBehavior, v.Status)
		require.Equal(t, mirv.UBOutOfBoundsOffset, v.Kind)

		v = MustRun(t, p.Program, "main", mirv.NewIntScalar(^uint64(0), 64))
		require.Equal(t, mirv.StatusUndefinedBehavior, v.Status)
		require.Equal(t, mirv.UBOutOfBoundsOffset, v.Kind)
	})

	t.Run("CrossAllocationOffsetFrom", func(t *testing.T) {
		p := NewProgram()
		ptr := p.AddType(mir.Ptr(p.U8, false))
		offsetFrom := p.Intrinsic("core::intrinsics::ptr_offset_from::<u8>", "ptr_offset_from", p.U8)
		p.Func("main", 0,
			p.Locals(p.Isize, p.U8, p.U8, ptr, ptr),
			mir.NewBlock(mir.Call(mir.ConstZST(offsetFrom), []*mir.Operand{mir.Copy(mir.LocalPlace(3)), mir.Copy(mir.LocalPlace(4))}, mir.LocalPlace(0), 1),
				mir.Assign(mir.LocalPlace(1), mir.Use(mir.ConstUint(p.U8, 1))),
				mir.Assign(mir.LocalPlace(2), mir.Use(mir.ConstUint(p.U8, 1))),
				mir.Assign(mir.LocalPlace(3), mir.AddressOf(mir.LocalPlace(1), false)),
				mir.Assign(mir.LocalPlace(4), mir.AddressOf(mir.LocalPlace(2), false)),
			),
			mir.NewBlock(mir.Return()),
		)

		v := MustRun(t, p.Program, "main")
		require.Equal(t, mirv.StatusUndefinedBehavior, v.Status)
		require.Equal(t, mirv.UBCrossAllocationOffset, v.Kind)
	})

	t.Run("UseAfterStorageDead", func(t *testing.T) {
		p := NewProgram()
		ref := p.AddType(mir.Ref(p.U8, false))
		p.Func("main", 0,
			p.Locals(p.U8, p.U8, ref),
			mir.NewBlock(mir.Return(),
				mir.Assign(mir.LocalPlace(1), mir.Use(mir.ConstUint(p.U8, 1))),
				mir.Assign(mir.LocalPlace(2), mir.Borrow(mir.LocalPlace(1), false)),
				mir.StorageDead(1),
				mir.Assign(mir.LocalPlace(0), mir.Use(mir.Copy(mir.LocalPlace(2).Deref()))),
			),
		)

		v := MustRun(t, p.Program, "main")
		require.Equal(t, mirv.StatusUndefinedBehavior, v.Status, v.String())
	})
}

func TestExecutor_Assume(t *testing.T) {
	// assert!(x < 20) holds only under the assumption x < 10.
	build := func(assume bool) *mir.Program {
		p := NewProgram()
		var stmts []*mir.Statement
		stmts = append(stmts, mir.Assign(mir.LocalPlace(2), mir.BinaryOp(mir.BinLt, mir.Copy(mir.LocalPlace(1)), mir.ConstUint(p.U8, 10))))
		if assume {
			stmts = append(stmts, mir.Assume(mir.Copy(mir.LocalPlace(2))))
		}
		stmts = append(stmts, mir.Assign(mir.LocalPlace(3), mir.BinaryOp(mir.BinLt, mir.Copy(mir.LocalPlace(1)), mir.ConstUint(p.U8, 20))))

		p.Func("check", 1,
			[]*mir.Local{
				mir.NewLocal("", p.Unit),
				mir.NewLocal("x", p.U8),
				mir.NewLocal("", p.Bool),
				mir.NewLocal("", p.Bool),
			},
			mir.NewBlock(p.AssertTrue(mir.Copy(mir.LocalPlace(3)), 1, 2), stmts...),
			mir.NewBlock(mir.Return()),
			p.Fail("assertion failed: x < 20"),
		)
		return p.Program
	}

	t.Run("Proved", func(t *testing.T) {
		v := MustProve(t, build(true), "check")
		require.Equal(t, mirv.StatusPass, v.Status, v.String())
		require.Equal(t, 1, v.Paths)
	})

	t.Run("Refuted", func(t *testing.T) {
		v := MustProve(t, build(false), "check")
		require.Equal(t, mirv.StatusAssertionFailed, v.Status)
		require.Equal(t, "assertion failed: x < 20", v.Reason)
		require.Len(t, v.Counterexample, 1)
		require.Equal(t, "x", v.Counterexample[0].Name)
		require.GreaterOrEqual(t, v.Counterexample[0].Bytes[0], byte(20))
	})

	t.Run("Concrete", func(t *testing.T) {
		// A false assumption ends a concrete run without a failure.
		v := MustRun(t, build(true), "check", mirv.NewIntScalar(50, 8))
		require.Equal(t, mirv.StatusPass, v.Status, v.String())
	})
}

func TestExecutor_Coroutine(t *testing.T) {
	p := NewProgram()

	body := p.AddFunction(&mir.Function{
		Name: "main::{closure#0}",
		Body: mir.NewBody(2, p.Locals(p.Unit, p.Unit, p.Unit),
			mir.NewBlock(mir.Yield(mir.ConstUint(p.U32, 1), nil, 1)),
			mir.NewBlock(mir.Yield(mir.ConstUint(p.U32, 2), nil, 2)),
			mir.NewBlock(mir.Return()),
		),
	})
	co := p.AddType(mir.Coroutine(body))
	coRef := p.AddType(mir.Ref(co, true))
	state := p.AddType(mir.Enum("CoroutineState",
		mir.NewVariant("Yielded", p.U32),
		mir.NewVariant("Complete", p.Unit),
	))
	resume := p.Extern("<{coroutine@main} as core::ops::Coroutine>::resume")
	call := func(next int) *mir.Terminator {
		return mir.Call(mir.ConstZST(resume), []*mir.Operand{mir.Copy(mir.LocalPlace(2)), mir.ConstZST(p.Unit)}, mir.LocalPlace(3), next)
	}

	p.Func("main", 0,
		p.Locals(p.U32, co, coRef, state, p.U32, p.Isize),
		mir.NewBlock(call(1),
			mir.Assign(mir.LocalPlace(1), mir.Aggregate(mir.AggregateCoroutine, co, 0)),
			mir.Assign(mir.LocalPlace(2), mir.Borrow(mir.LocalPlace(1), true)),
		),
		mir.NewBlock(call(2),
			mir.Assign(mir.LocalPlace(4), mir.Use(mir.Copy(mir.LocalPlace(3).Downcast(0).Field(0, p.U32)))),
		),
		mir.NewBlock(call(3),
			mir.Assign(mir.LocalPlace(0), mir.BinaryOp(mir.BinAdd, mir.Copy(mir.LocalPlace(4)), mir.Copy(mir.LocalPlace(3).Downcast(0).Field(0, p.U32)))),
		),
		mir.NewBlock(mir.SwitchInt(mir.Copy(mir.LocalPlace(5)), 5, mir.Case(1, 4)),
			mir.Assign(mir.LocalPlace(5), mir.Discriminant(mir.LocalPlace(3))),
		),
		mir.NewBlock(call(5)),
		mir.NewBlock(mir.Unreachable()),
	)

	// Resuming a completed coroutine panics.
	v := MustRun(t, p.Program, "main")
	require.Equal(t, mirv.StatusPanicked, v.Status, v.String())
	require.Equal(t, "coroutine resumed after completion", v.Reason)

	// Return instead of resuming a fourth time.
	main := p.FunctionByName("main")
	main.Body.Blocks[4] = mir.NewBlock(mir.Return())
	v = MustRun(t, p.Program, "main")
	require.Equal(t, mirv.StatusPass, v.Status, v.String())
	require.Equal(t, "(const 3 32)", v.Return)
}

func TestExecutor_Static(t *testing.T) {
	// static mut COUNTER: u32 = 41; COUNTER += 1; COUNTER
	p := NewProgram()
	ptr := p.AddType(mir.Ptr(p.U32, true))
	counter := p.AddAlloc(&mir.Alloc{Kind: mir.AllocStatic, Type: p.U32, Bytes: mir.ByteList{41, 0, 0, 0}, Align: 4, Mut: true})
	p.Func("main", 0,
		p.Locals(p.U32, ptr),
		mir.NewBlock(mir.Return(),
			mir.Assign(mir.LocalPlace(1), mir.Use(mir.ConstPtr(ptr, counter))),
			mir.Assign(mir.LocalPlace(1).Deref(), mir.BinaryOp(mir.BinAdd, mir.Copy(mir.LocalPlace(1).Deref()), mir.ConstUint(p.U32, 1))),
			mir.Assign(mir.LocalPlace(0), mir.Use(mir.Copy(mir.LocalPlace(1).Deref()))),
		),
	)

	e, err := mirv.NewExecutor(p.Program, "main", mirv.DefaultConfig())
	require.NoError(t, err)

	// Each run starts from the initializer.
	for i := 0; i < 2; i++ {
		v, err := e.Run(context.Background())
		require.NoError(t, err)
		require.Equal(t, "(const 42 32)", v.Return)
	}
}

func TestExecutor_Library(t *testing.T) {
	exit := func(code int32) *mir.Program {
		p := NewProgram()
		fn := p.Extern("std::process::exit")
		p.Func("main", 0,
			p.Locals(p.Unit),
			mir.NewBlock(mir.CallDiverging(mir.ConstZST(fn), []*mir.Operand{mir.ConstInt(p.I32, int64(code))}, nil)),
		)
		return p.Program
	}

	t.Run("ExitZero", func(t *testing.T) {
		v := MustRun(t, exit(0), "main")
		require.Equal(t, mirv.StatusPass, v.Status, v.String())
	})

	t.Run("ExitNonzero", func(t *testing.T) {
		v := MustRun(t, exit(3), "main")
		require.Equal(t, mirv.StatusPanicked, v.Status)
		require.Equal(t, "process exited with code 3", v.Reason)
	})

	t.Run("PanicConst", func(t *testing.T) {
		p := NewProgram()
		fn := p.Extern("core::panicking::panic_const::panic_const_div_by_zero::h0123456789abcdef")
		p.Func("main", 0,
			p.Locals(p.Unit),
			mir.NewBlock(mir.CallDiverging(mir.ConstZST(fn), nil, nil)),
		)
		v := MustRun(t, p.Program, "main")
		require.Equal(t, mirv.StatusPanicked, v.Status)
		require.Equal(t, "attempt to divide by zero", v.Reason)
	})

	t.Run("UnwrapFailed", func(t *testing.T) {
		p := NewProgram()
		fn := p.Extern("core::option::unwrap_failed")
		p.Func("main", 0,
			p.Locals(p.Unit),
			mir.NewBlock(mir.CallDiverging(mir.ConstZST(fn), nil, nil)),
		)
		v := MustRun(t, p.Program, "main")
		require.Equal(t, mirv.StatusPanicked, v.Status)
		require.Equal(t, "called `Option::unwrap()` on a `None` value", v.Reason)
	})

	t.Run("MissingBody", func(t *testing.T) {
		p := NewProgram()
		fn := p.Extern("std::io::stdio::_print")
		p.Func("main", 0,
			p.Locals(p.Unit),
			mir.NewBlock(mir.Call(mir.ConstZST(fn), nil, mir.LocalPlace(0), 1)),
			mir.NewBlock(mir.Return()),
		)
		v := MustRun(t, p.Program, "main")
		require.Equal(t, mirv.StatusStuck, v.Status)
	})
}

func TestExecutor_Limits(t *testing.T) {
	p := NewProgram()
	p.Func("spin", 0,
		p.Locals(p.Unit),
		mir.NewBlock(mir.Goto(0)),
	)

	config := mirv.DefaultConfig()
	config.MaxSteps = 100
	e, err := mirv.NewExecutor(p.Program, "spin", config)
	require.NoError(t, err)

	v, err := e.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, mirv.StatusUndetermined, v.Status)
	require.Contains(t, v.Reason, "step limit")
}

func TestNewExecutor(t *testing.T) {
	t.Run("ErrEntryNotFound", func(t *testing.T) {
		p := NewProgram()
		_, err := mirv.NewExecutor(p.Program, "main", mirv.DefaultConfig())
		require.ErrorIs(t, err, mirv.ErrEntryNotFound)
	})

	t.Run("InvalidConfig", func(t *testing.T) {
		p := NewProgram()
		p.Func("main", 0, p.Locals(p.Unit), mir.NewBlock(mir.Return()))
		config := mirv.DefaultConfig()
		config.Search = "sideways"
		_, err := mirv.NewExecutor(p.Program, "main", config)
		require.Error(t, err)
	})

	t.Run("ArgumentCount", func(t *testing.T) {
		p := NewProgram()
		p.Func("id", 1, p.Locals(p.U8, p.U8), mir.NewBlock(mir.Return()))
		e, err := mirv.NewExecutor(p.Program, "id", mirv.DefaultConfig())
		require.NoError(t, err)
		_, err = e.Run(context.Background())
		require.Error(t, err)
	})
}

// Program wraps mir.Program with commonly used types.
type Program struct {
	*mir.Program

	Unit, Bool, U8, U16, U32, U64, Usize, I32, Isize mir.TypeID
	StrRef                                           mir.TypeID

	panicFn mir.TypeID
}

// NewProgram returns an empty program with common types registered.
func NewProgram() *Program {
	p := &Program{Program: mir.NewProgram("test")}
	p.Unit = p.AddType(mir.Unit())
	p.Bool = p.AddType(mir.Bool())
	p.U8 = p.AddType(mir.Uint(8))
	p.U16 = p.AddType(mir.Uint(16))
	p.U32 = p.AddType(mir.Uint(32))
	p.U64 = p.AddType(mir.Uint(64))
	p.Usize = p.AddType(mir.Uint(64))
	p.I32 = p.AddType(mir.Int(32))
	p.Isize = p.AddType(mir.Int(64))
	p.StrRef = p.AddType(mir.Ref(p.AddType(mir.Str()), false))
	return p
}

// Locals returns unnamed locals of the given types.
func (p *Program) Locals(types ...mir.TypeID) []*mir.Local {
	a := make([]*mir.Local, len(types))
	for i, ty := range types {
		a[i] = mir.NewLocal("", ty)
	}
	return a
}

// Func adds a function with a body and returns its function item type.
func (p *Program) Func(name string, argCount int, locals []*mir.Local, blocks ...*mir.Block) mir.TypeID {
	id := p.AddFunction(&mir.Function{Name: name, Body: mir.NewBody(argCount, locals, blocks...)})
	return p.AddType(mir.FnDef(id))
}

// Extern adds a function without a body and returns its function item type.
func (p *Program) Extern(name string) mir.TypeID {
	id := p.AddFunction(&mir.Function{Name: name})
	return p.AddType(mir.FnDef(id))
}

// Intrinsic adds an intrinsic function and returns its function item type.
func (p *Program) Intrinsic(name, intrinsic string, generics ...mir.TypeID) mir.TypeID {
	id := p.AddFunction(&mir.Function{Name: name, Intrinsic: intrinsic, Generics: generics})
	return p.AddType(mir.FnDef(id))
}

// Str returns a &str constant backed by a global allocation.
func (p *Program) Str(s string) *mir.Operand {
	id := p.AddAlloc(&mir.Alloc{Kind: mir.AllocMemory, Bytes: mir.ByteList(s), Align: 1})
	return mir.ConstSlice(p.StrRef, id, uint64(len(s)))
}

// AssertTrue branches to next if cond holds and to fail otherwise.
func (p *Program) AssertTrue(cond *mir.Operand, next, fail int) *mir.Terminator {
	return mir.SwitchInt(cond, next, mir.Case(0, fail))
}

// Fail returns a block that panics with msg.
func (p *Program) Fail(msg string) *mir.Block {
	if p.panicFn == 0 {
		p.panicFn = p.Extern("core::panicking::panic")
	}
	return mir.NewBlock(mir.CallDiverging(mir.ConstZST(p.panicFn), []*mir.Operand{p.Str(msg)}, nil))
}

// MustRun executes entry concretely with args. Fatal on error.
func MustRun(tb testing.TB, prog *mir.Program, entry string, args ...mirv.Value) *mirv.Verdict {
	tb.Helper()
	e, err := mirv.NewExecutor(prog, entry, mirv.DefaultConfig())
	require.NoError(tb, err)
	e.Args = args

	v, err := e.Run(context.Background())
	require.NoError(tb, err)
	return v
}

// MustProve executes entry symbolically with an enumerating solver.
// Fatal on error.
func MustProve(tb testing.TB, prog *mir.Program, entry string) *mirv.Verdict {
	tb.Helper()
	config := mirv.DefaultConfig()
	config.Mode = mirv.ModeSymbolic
	e, err := mirv.NewExecutor(prog, entry, config)
	require.NoError(tb, err)
	e.Solver = brute.NewSolver()

	v, err := e.Run(context.Background())
	require.NoError(tb, err)
	return v
}
