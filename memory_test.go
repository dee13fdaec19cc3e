package mirv_test

import (
	"testing"

	"github.com/benbjohnson/mirv"
	"github.com/benbjohnson/mirv/mir"
	"github.com/stretchr/testify/require"
)

// Each use of a memory constant gets its own allocation, while a static is
// the same allocation everywhere.
func TestExecutor_GlobalIdentity(t *testing.T) {
	build := func(kind mir.AllocKind) *mir.Program {
		p := NewProgram()
		ref := p.AddType(mir.Ref(p.U32, false))
		id := p.AddAlloc(&mir.Alloc{Kind: kind, Type: p.U32, Bytes: mir.ByteList{9, 0, 0, 0}, Align: 4})
		p.Func("main", 0,
			p.Locals(p.Bool, ref, ref, p.Bool),
			mir.NewBlock(p.AssertTrue(mir.Copy(mir.LocalPlace(3)), 1, 2),
				mir.Assign(mir.LocalPlace(1), mir.Use(mir.ConstPtr(ref, id))),
				mir.Assign(mir.LocalPlace(2), mir.Use(mir.ConstPtr(ref, id))),
				mir.Assign(mir.LocalPlace(3), mir.BinaryOp(mir.BinEq, mir.Copy(mir.LocalPlace(1).Deref()), mir.Copy(mir.LocalPlace(2).Deref()))),
				mir.Assign(mir.LocalPlace(0), mir.BinaryOp(mir.BinEq, mir.Copy(mir.LocalPlace(1)), mir.Copy(mir.LocalPlace(2)))),
			),
			mir.NewBlock(mir.Return()),
			p.Fail("assertion failed: *a == *b"),
		)
		return p.Program
	}

	t.Run("Memory", func(t *testing.T) {
		v := MustRun(t, build(mir.AllocMemory), "main")
		require.Equal(t, mirv.StatusPass, v.Status, v.String())
		require.Equal(t, "(const 0 1)", v.Return)
	})

	t.Run("Static", func(t *testing.T) {
		v := MustRun(t, build(mir.AllocStatic), "main")
		require.Equal(t, mirv.StatusPass, v.Status, v.String())
		require.Equal(t, "(const 1 1)", v.Return)
	})
}
