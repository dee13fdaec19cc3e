package mirv_test

import (
	"testing"

	"github.com/benbjohnson/mirv"
	"github.com/benbjohnson/mirv/mir"
	"github.com/stretchr/testify/require"
)

// Values survive a trip through their byte image: the value is transmuted
// to a byte array and back, then decoded again on return.
func TestCodec_RoundTrip(t *testing.T) {
	for _, tt := range []struct {
		name  string
		build func(p *Program) (ty mir.TypeID, size uint64, locals []mir.TypeID, init []*mir.Statement)
		want  string
		bytes string
	}{
		{
			name: "ReorderedStruct",
			build: func(p *Program) (mir.TypeID, uint64, []mir.TypeID, []*mir.Statement) {
				ty := p.AddType(mir.Struct("S", p.U8, p.U32, p.U16)) // offsets 6, 0, 4
				return ty, 8, nil, []*mir.Statement{
					mir.Assign(mir.LocalPlace(1), mir.Aggregate(mir.AggregateAdt, ty, 0,
						mir.ConstUint(p.U8, 1), mir.ConstUint(p.U32, 0x01020304), mir.ConstUint(p.U16, 0x0506))),
				}
			},
			want:  "{(const 1 8) (const 16909060 32) (const 1286 16)}",
			bytes: "{(const 4 8) (const 3 8) (const 2 8) (const 1 8) (const 6 8) (const 5 8) (const 1 8) (const 0 8)}",
		},
		{
			name: "NicheSome",
			build: func(p *Program) (mir.TypeID, uint64, []mir.TypeID, []*mir.Statement) {
				small, option := smallIntOption(p)
				return option, 1, []mir.TypeID{small}, []*mir.Statement{
					mir.Assign(mir.LocalPlace(3), mir.Aggregate(mir.AggregateAdt, small, 1)),
					mir.Assign(mir.LocalPlace(1), mir.Aggregate(mir.AggregateAdt, option, 1, mir.Copy(mir.LocalPlace(3)))),
				}
			},
			want:  "(variant 1 {(variant 1 {})})",
			bytes: "{(const 2 8)}",
		},
		{
			name: "NicheNone",
			build: func(p *Program) (mir.TypeID, uint64, []mir.TypeID, []*mir.Statement) {
				_, option := smallIntOption(p)
				return option, 1, nil, []*mir.Statement{
					mir.Assign(mir.LocalPlace(1), mir.Aggregate(mir.AggregateAdt, option, 0)),
				}
			},
			want:  "(variant 0 {})",
			bytes: "{(const 0 8)}",
		},
		{
			name: "ArrayOfArray",
			build: func(p *Program) (mir.TypeID, uint64, []mir.TypeID, []*mir.Statement) {
				inner := p.AddType(mir.Array(p.U16, 2))
				outer := p.AddType(mir.Array(inner, 3))
				return outer, 12, []mir.TypeID{inner, inner, inner}, []*mir.Statement{
					mir.Assign(mir.LocalPlace(3), mir.Aggregate(mir.AggregateArray, inner, 0, mir.ConstUint(p.U16, 1), mir.ConstUint(p.U16, 2))),
					mir.Assign(mir.LocalPlace(4), mir.Aggregate(mir.AggregateArray, inner, 0, mir.ConstUint(p.U16, 3), mir.ConstUint(p.U16, 4))),
					mir.Assign(mir.LocalPlace(5), mir.Aggregate(mir.AggregateArray, inner, 0, mir.ConstUint(p.U16, 5), mir.ConstUint(p.U16, 0x0102))),
					mir.Assign(mir.LocalPlace(1), mir.Aggregate(mir.AggregateArray, outer, 0,
						mir.Copy(mir.LocalPlace(3)), mir.Copy(mir.LocalPlace(4)), mir.Copy(mir.LocalPlace(5)))),
				}
			},
			want:  "{{(const 1 16) (const 2 16)} {(const 3 16) (const 4 16)} {(const 5 16) (const 258 16)}}",
			bytes: "{(const 1 8) (const 0 8) (const 2 8) (const 0 8) (const 3 8) (const 0 8) (const 4 8) (const 0 8) (const 5 8) (const 0 8) (const 2 8) (const 1 8)}",
		},
	} {
		t.Run(tt.name, func(t *testing.T) {
			p := NewProgram()
			ty, size, extra, init := tt.build(p)
			raw := p.AddType(mir.Array(p.U8, size))

			locals := p.Locals(append([]mir.TypeID{ty, ty, raw}, extra...)...)
			p.Func("round_trip", 0, locals,
				mir.NewBlock(mir.Return(), append(init,
					mir.Assign(mir.LocalPlace(2), mir.Cast(mir.CastTransmute, mir.Copy(mir.LocalPlace(1)), raw)),
					mir.Assign(mir.LocalPlace(0), mir.Cast(mir.CastTransmute, mir.Copy(mir.LocalPlace(2)), ty)),
				)...),
			)

			locals = p.Locals(append([]mir.TypeID{raw, ty, raw}, extra...)...)
			p.Func("encode", 0, locals,
				mir.NewBlock(mir.Return(), append(init,
					mir.Assign(mir.LocalPlace(0), mir.Cast(mir.CastTransmute, mir.Copy(mir.LocalPlace(1)), raw)),
				)...),
			)

			v := MustRun(t, p.Program, "round_trip")
			require.Equal(t, mirv.StatusPass, v.Status, v.String())
			require.Equal(t, tt.want, v.Return)

			v = MustRun(t, p.Program, "encode")
			require.Equal(t, mirv.StatusPass, v.Status, v.String())
			require.Equal(t, tt.bytes, v.Return)
		})
	}
}

// smallIntOption adds SmallInt { One = 1, Two = 2 } and Option<SmallInt>,
// which stores None in the unused tag value 0.
func smallIntOption(p *Program) (small, option mir.TypeID) {
	small = p.AddType(mir.Enum("SmallInt",
		mir.NewVariant("One").WithDiscr(1),
		mir.NewVariant("Two").WithDiscr(2),
	))
	option = p.AddType(mir.Enum("Option",
		mir.NewVariant("None"),
		mir.NewVariant("Some", small),
	))
	return small, option
}
