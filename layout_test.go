package mirv_test

import (
	"testing"

	"github.com/benbjohnson/mirv"
	"github.com/benbjohnson/mirv/mir"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

func TestLayoutResolver_Layout(t *testing.T) {
	t.Run("Scalar", func(t *testing.T) {
		p := NewProgram()
		r := mirv.NewLayoutResolver(p.Program)

		for _, tt := range []struct {
			ty          mir.TypeID
			size, align uint64
		}{
			{p.Unit, 0, 1},
			{p.Bool, 1, 1},
			{p.U8, 1, 1},
			{p.U16, 2, 2},
			{p.U32, 4, 4},
			{p.Isize, 8, 8},
		} {
			l := r.MustLayout(tt.ty)
			require.Equal(t, tt.size, l.Size, "type %d", tt.ty)
			require.Equal(t, tt.align, l.Align, "type %d", tt.ty)
		}

		// Only 0 and 1 are valid bools.
		l := r.MustLayout(p.Bool)
		require.NotNil(t, l.Niche)
		require.Equal(t, uint64(254), l.Niche.Available())
	})

	t.Run("Struct", func(t *testing.T) {
		t.Run("Reordered", func(t *testing.T) {
			p := NewProgram()
			ty := p.AddType(mir.Struct("S", p.U8, p.U32, p.U16))
			l := mirv.NewLayoutResolver(p.Program).MustLayout(ty)
			require.Equal(t, uint64(8), l.Size)
			require.Equal(t, uint64(4), l.Align)
			if diff := cmp.Diff([]uint64{6, 0, 4}, l.Offsets); diff != "" {
				t.Fatal(diff)
			} else if diff := cmp.Diff([]int{1, 2, 0}, l.Memory); diff != "" {
				t.Fatal(diff)
			}
		})

		t.Run("ReprC", func(t *testing.T) {
			p := NewProgram()
			ty := p.AddType(mir.Struct("S", p.U8, p.U32, p.U16).WithRepr(mir.Repr{C: true}))
			l := mirv.NewLayoutResolver(p.Program).MustLayout(ty)
			require.Equal(t, uint64(12), l.Size)
			require.Equal(t, uint64(4), l.Align)
			if diff := cmp.Diff([]uint64{0, 4, 8}, l.Offsets); diff != "" {
				t.Fatal(diff)
			}
		})

		t.Run("Packed", func(t *testing.T) {
			p := NewProgram()
			ty := p.AddType(mir.Struct("S", p.U8, p.U32, p.U16).WithRepr(mir.Repr{C: true, Packed: 1}))
			l := mirv.NewLayoutResolver(p.Program).MustLayout(ty)
			require.Equal(t, uint64(7), l.Size)
			require.Equal(t, uint64(1), l.Align)
			if diff := cmp.Diff([]uint64{0, 1, 5}, l.Offsets); diff != "" {
				t.Fatal(diff)
			}
		})

		t.Run("Align", func(t *testing.T) {
			p := NewProgram()
			ty := p.AddType(mir.Struct("S", p.U8, p.U16).WithRepr(mir.Repr{Align: 16}))
			l := mirv.NewLayoutResolver(p.Program).MustLayout(ty)
			require.Equal(t, uint64(16), l.Size)
			require.Equal(t, uint64(16), l.Align)
		})

		t.Run("ZST", func(t *testing.T) {
			p := NewProgram()
			phantom := p.AddType(mir.Struct("PhantomData"))
			ty := p.AddType(mir.Struct("S", phantom, p.U8))
			r := mirv.NewLayoutResolver(p.Program)
			require.True(t, r.MustLayout(phantom).IsZST())
			require.Equal(t, uint64(1), r.MustLayout(phantom).Align)
			require.Equal(t, uint64(1), r.MustLayout(ty).Size)

			// The wrapper keeps the validity of its only field.
			wrapped := p.AddType(mir.Struct("W", phantom, p.Bool))
			require.NotNil(t, r.MustLayout(wrapped).Scalar)
		})
	})

	t.Run("Array", func(t *testing.T) {
		p := NewProgram()
		r := mirv.NewLayoutResolver(p.Program)

		l := r.MustLayout(p.AddType(mir.Array(p.U16, 3)))
		require.Equal(t, uint64(6), l.Size)
		require.Equal(t, uint64(2), l.Align)
		require.Equal(t, uint64(2), l.Stride)

		l = r.MustLayout(p.AddType(mir.Array(p.U32, 0)))
		require.Equal(t, uint64(0), l.Size)
		require.Equal(t, uint64(4), l.Align)
	})

	t.Run("Pointer", func(t *testing.T) {
		p := NewProgram()
		r := mirv.NewLayoutResolver(p.Program)
		require.Equal(t, uint64(8), r.MustLayout(p.AddType(mir.Ref(p.U8, false))).Size)
		require.Equal(t, uint64(16), r.MustLayout(p.StrRef).Size)
		require.Equal(t, uint64(16), r.MustLayout(p.AddType(mir.Ref(p.AddType(mir.Slice(p.U32)), false))).Size)
		require.Equal(t, uint64(16), r.MustLayout(p.AddType(mir.Box(p.AddType(mir.Dyn("Debug"))))).Size)
	})

	t.Run("Enum", func(t *testing.T) {
		t.Run("FieldLess", func(t *testing.T) {
			p := NewProgram()
			ty := p.AddType(mir.Enum("E", mir.NewVariant("A"), mir.NewVariant("B"), mir.NewVariant("C")))
			l := mirv.NewLayoutResolver(p.Program).MustLayout(ty)
			require.Equal(t, uint64(1), l.Size)
			require.Equal(t, mirv.TagDirect, l.Tag.Encoding)
			require.Equal(t, uint(8), l.Tag.Bits)
		})

		t.Run("ReprInt", func(t *testing.T) {
			p := NewProgram()
			ty := p.AddType(mir.Enum("E", mir.NewVariant("A"), mir.NewVariant("B").WithDiscr(-1)).WithRepr(mir.Repr{Int: "i32"}))
			l := mirv.NewLayoutResolver(p.Program).MustLayout(ty)
			require.Equal(t, uint64(4), l.Size)
			require.True(t, l.Tag.Signed)
		})

		t.Run("Tagged", func(t *testing.T) {
			p := NewProgram()
			ty := p.AddType(mir.Enum("E", mir.NewVariant("A", p.U32), mir.NewVariant("B", p.U8)))
			l := mirv.NewLayoutResolver(p.Program).MustLayout(ty)
			require.Equal(t, uint64(8), l.Size)
			require.Equal(t, uint64(4), l.Align)
			require.Equal(t, mirv.TagDirect, l.Tag.Encoding)
			require.Equal(t, uint64(4), l.FieldOffset(0, 0))
			require.Equal(t, uint64(1), l.FieldOffset(1, 0))
		})

		t.Run("NullPointerNiche", func(t *testing.T) {
			p := NewProgram()
			ref := p.AddType(mir.Ref(p.U8, false))
			ty := p.AddType(mir.Enum("Option", mir.NewVariant("None"), mir.NewVariant("Some", ref)))
			l := mirv.NewLayoutResolver(p.Program).MustLayout(ty)
			require.Equal(t, uint64(8), l.Size)
			require.Equal(t, mirv.TagNiche, l.Tag.Encoding)
			require.Equal(t, uint64(0), l.Tag.NicheStart)
			require.Equal(t, 1, l.Tag.Untagged)
		})

		t.Run("RangeNiche", func(t *testing.T) {
			p := NewProgram()
			small := p.AddType(mir.Enum("SmallInt", mir.NewVariant("One").WithDiscr(1), mir.NewVariant("Two").WithDiscr(2)))
			ty := p.AddType(mir.Enum("Option", mir.NewVariant("None"), mir.NewVariant("Some", small)))
			l := mirv.NewLayoutResolver(p.Program).MustLayout(ty)
			require.Equal(t, uint64(1), l.Size)
			require.Equal(t, mirv.TagNiche, l.Tag.Encoding)
			require.Equal(t, uint64(0), l.Tag.NicheStart)
		})

		t.Run("Uninhabited", func(t *testing.T) {
			p := NewProgram()
			ty := p.AddType(mir.Enum("Void"))
			l := mirv.NewLayoutResolver(p.Program).MustLayout(ty)
			require.True(t, l.Uninhabited)
			require.Equal(t, uint64(0), l.Size)
		})
	})

	// Every sized layout has a size that is a multiple of its alignment.
	t.Run("SizeMultipleOfAlign", func(t *testing.T) {
		p := NewProgram()
		ref := p.AddType(mir.Ref(p.U16, false))
		p.AddType(mir.Tuple(p.U8, p.U64, p.Bool))
		p.AddType(mir.Struct("S", p.U16, p.U8).WithRepr(mir.Repr{C: true}))
		p.AddType(mir.Union("U", p.U8, p.U32))
		p.AddType(mir.Enum("E", mir.NewVariant("A", p.U16, p.U8), mir.NewVariant("B", ref), mir.NewVariant("C")))
		p.AddType(mir.Array(p.AddType(mir.Tuple(p.U32, p.U8)), 3))

		r := mirv.NewLayoutResolver(p.Program)
		for _, ty := range p.Types {
			l := r.MustLayout(ty.ID)
			if l.Unsized {
				continue
			}
			require.NotZero(t, l.Align, "type %s", ty)
			require.Zero(t, l.Size%l.Align, "type %s: size=%d align=%d", ty, l.Size, l.Align)
		}
	})
}
