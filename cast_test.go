package mirv_test

import (
	"math"
	"testing"

	"github.com/benbjohnson/mirv"
	"github.com/benbjohnson/mirv/mir"
	"github.com/stretchr/testify/require"
)

// Float to integer casts truncate toward zero and saturate at the bounds of
// the target type. NaN converts to zero.
func TestCast_FloatToInt(t *testing.T) {
	p := NewProgram()
	f32 := p.AddType(mir.Float(32))
	f64 := p.AddType(mir.Float(64))
	i8 := p.AddType(mir.Int(8))
	p.Func("f64_to_u8", 1, p.Locals(p.U8, f64),
		mir.NewBlock(mir.Return(), mir.Assign(mir.LocalPlace(0), mir.Cast(mir.CastFloatToInt, mir.Copy(mir.LocalPlace(1)), p.U8))),
	)
	p.Func("f64_to_i8", 1, p.Locals(i8, f64),
		mir.NewBlock(mir.Return(), mir.Assign(mir.LocalPlace(0), mir.Cast(mir.CastFloatToInt, mir.Copy(mir.LocalPlace(1)), i8))),
	)
	p.Func("f32_to_u8", 1, p.Locals(p.U8, f32),
		mir.NewBlock(mir.Return(), mir.Assign(mir.LocalPlace(0), mir.Cast(mir.CastFloatToInt, mir.Copy(mir.LocalPlace(1)), p.U8))),
	)

	f64Arg := func(f float64) mirv.Value { return mirv.NewIntScalar(math.Float64bits(f), 64) }
	f32Arg := func(f float32) mirv.Value { return mirv.NewIntScalar(uint64(math.Float32bits(f)), 32) }

	for _, tt := range []struct {
		fn   string
		arg  mirv.Value
		want string
	}{
		{"f64_to_u8", f64Arg(300), "(const 255 8)"},
		{"f64_to_u8", f64Arg(-1), "(const 0 8)"},
		{"f64_to_u8", f64Arg(math.NaN()), "(const 0 8)"},
		{"f64_to_u8", f64Arg(3.9), "(const 3 8)"},
		{"f64_to_u8", f64Arg(math.Inf(1)), "(const 255 8)"},
		{"f64_to_i8", f64Arg(-200), "(const 128 8)"}, // -128
		{"f64_to_i8", f64Arg(-3.9), "(const 253 8)"}, // -3
		{"f64_to_i8", f64Arg(1e9), "(const 127 8)"},
		{"f32_to_u8", f32Arg(300), "(const 255 8)"},
		{"f32_to_u8", f32Arg(float32(math.NaN())), "(const 0 8)"},
	} {
		v := MustRun(t, p.Program, tt.fn, tt.arg)
		require.Equal(t, mirv.StatusPass, v.Status, v.String())
		require.Equal(t, tt.want, v.Return, "%s(%s)", tt.fn, tt.arg)
	}
}

// An exposed address converts back into a usable pointer. Addresses that
// were never exposed carry no provenance.
func TestCast_ExposeProvenance(t *testing.T) {
	build := func(expose bool) *mir.Program {
		p := NewProgram()
		ptr := p.AddType(mir.Ptr(p.U32, false))
		toAddr := mir.Cast(mir.CastTransmute, mir.Copy(mir.LocalPlace(2)), p.Usize)
		if expose {
			toAddr = mir.Cast(mir.CastExposeProvenance, mir.Copy(mir.LocalPlace(2)), p.Usize)
		}
		p.Func("main", 0,
			p.Locals(p.U32, p.U32, ptr, p.Usize, ptr),
			mir.NewBlock(mir.Return(),
				mir.Assign(mir.LocalPlace(1), mir.Use(mir.ConstUint(p.U32, 7))),
				mir.Assign(mir.LocalPlace(2), mir.AddressOf(mir.LocalPlace(1), false)),
				mir.Assign(mir.LocalPlace(3), toAddr),
				mir.Assign(mir.LocalPlace(4), mir.Cast(mir.CastWithExposedProvenance, mir.Copy(mir.LocalPlace(3)), ptr)),
				mir.Assign(mir.LocalPlace(0), mir.Use(mir.Copy(mir.LocalPlace(4).Deref()))),
			),
		)
		return p.Program
	}

	t.Run("Exposed", func(t *testing.T) {
		v := MustRun(t, build(true), "main")
		require.Equal(t, mirv.StatusPass, v.Status, v.String())
		require.Equal(t, "(const 7 32)", v.Return)
	})

	t.Run("NotExposed", func(t *testing.T) {
		v := MustRun(t, build(false), "main")
		require.Equal(t, mirv.StatusUndefinedBehavior, v.Status)
		require.Equal(t, mirv.UBDanglingPointer, v.Kind)
	})
}
