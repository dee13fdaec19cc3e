package mir_test

import (
	"errors"
	"strings"
	"testing"

	"github.com/benbjohnson/mirv/mir"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

const identityJSON = `{
  "version": 1,
  "types": [{"id": 1, "kind": "uint", "bits": 8}],
  "functions": [
    {
      "id": 1,
      "name": "identity",
      "body": {
        "arg_count": 1,
        "locals": [{"type": 1}, {"name": "x", "type": 1}],
        "blocks": [
          {
            "statements": [
              {"kind": "assign", "place": {"local": 0}, "rvalue": {"kind": "use", "operand": {"kind": "copy", "place": {"local": 1}}}}
            ],
            "terminator": {"kind": "return"}
          }
        ]
      }
    }
  ],
  "allocs": [{"id": 1, "kind": "memory", "bytes": [1, null, 3]}]
}`

func TestParse(t *testing.T) {
	t.Run("OK", func(t *testing.T) {
		prog, err := mir.Parse([]byte(identityJSON))
		require.NoError(t, err)
		require.Equal(t, mir.Version, prog.Version)

		fn := prog.FunctionByName("identity")
		require.NotNil(t, fn)
		require.Equal(t, 1, fn.Body.ArgCount)
		require.Equal(t, "x", fn.Body.Locals[1].Name)
		require.Equal(t, mir.TypeUint, prog.Type(1).Kind)

		// Null bytes are uninitialized and decode as zero.
		if diff := cmp.Diff(mir.ByteList{1, 0, 3}, prog.Alloc(1).Bytes); diff != "" {
			t.Fatal(diff)
		}
	})

	t.Run("ErrVersionMissing", func(t *testing.T) {
		_, err := mir.Parse([]byte(`{"types": [], "functions": []}`))
		var e *mir.UnsupportedVersionError
		require.True(t, errors.As(err, &e), "unexpected error: %v", err)
		require.True(t, e.Missing)
		require.Contains(t, err.Error(), "UnsupportedRepresentationVersion")
	})

	t.Run("ErrVersionMismatch", func(t *testing.T) {
		_, err := mir.Parse([]byte(strings.Replace(identityJSON, `"version": 1`, `"version": 2`, 1)))
		var e *mir.UnsupportedVersionError
		require.True(t, errors.As(err, &e), "unexpected error: %v", err)
		require.Equal(t, 2, e.Version)
		require.Equal(t, "UnsupportedRepresentationVersion: got 2, want 1", err.Error())
	})

	t.Run("ErrUnknownField", func(t *testing.T) {
		_, err := mir.Parse([]byte(strings.Replace(identityJSON, `"arg_count"`, `"argc": 0, "arg_count"`, 1)))
		require.Error(t, err)
		require.Contains(t, err.Error(), "argc")
	})

	for _, tt := range []struct {
		name string
		old  string
		new  string
		err  string
	}{
		{"ErrUnknownType", `{"type": 1}, {"name": "x"`, `{"type": 9}, {"name": "x"`, "unknown type: 9"},
		{"ErrDuplicateType", `"types": [{"id": 1, "kind": "uint", "bits": 8}]`, `"types": [{"id": 1, "kind": "uint", "bits": 8}, {"id": 1, "kind": "bool"}]`, "duplicate type id: 1"},
		{"ErrIntegerWidth", `"bits": 8`, `"bits": 7`, "invalid integer width: 7"},
		{"ErrLocalRange", `"place": {"local": 0}`, `"place": {"local": 5}`, "local out of range: _5"},
		{"ErrArgCount", `"arg_count": 1`, `"arg_count": 2`, "invalid argument count: 2"},
		{"ErrStatementKind", `{"kind": "assign"`, `{"kind": "frobnicate"`, `unknown statement kind: "frobnicate"`},
		{"ErrMissingTerminator", `"terminator": {"kind": "return"}`, `"terminator": null`, "missing terminator"},
		{"ErrAllocKind", `"kind": "memory"`, `"kind": "heap"`, `unknown alloc kind: "heap"`},
		{"ErrEntry", `"version": 1,`, `"version": 1, "entry": "main",`, `entry function not found: "main"`},
	} {
		t.Run(tt.name, func(t *testing.T) {
			data := strings.Replace(identityJSON, tt.old, tt.new, 1)
			require.NotEqual(t, identityJSON, data, "replacement not applied")

			_, err := mir.Parse([]byte(data))
			require.Error(t, err)
			require.Contains(t, err.Error(), tt.err)
		})
	}

	t.Run("ErrByteRange", func(t *testing.T) {
		_, err := mir.Parse([]byte(strings.Replace(identityJSON, `[1, null, 3]`, `[1, 256]`, 1)))
		require.Error(t, err)
		require.Contains(t, err.Error(), "byte out of range: 256")
	})
}

func TestParseArchive(t *testing.T) {
	t.Run("OK", func(t *testing.T) {
		b, err := mir.ParseArchive([]byte("identity function\n-- id.json --\n" + identityJSON + "\n-- notes.txt --\nhello\n"))
		require.NoError(t, err)
		require.Equal(t, "identity function\n", b.Comment)
		require.Len(t, b.Programs, 1)
		require.Equal(t, "id", b.Programs[0].Name)
		require.Same(t, b.Programs[0], b.Program("id"))
		require.Nil(t, b.Program("other"))
		require.Equal(t, "hello\n", string(b.Files["notes.txt"]))
	})

	t.Run("ErrNoPrograms", func(t *testing.T) {
		_, err := mir.ParseArchive([]byte("-- notes.txt --\nhello\n"))
		require.Error(t, err)
		require.Contains(t, err.Error(), "no programs")
	})

	t.Run("ErrInvalidProgram", func(t *testing.T) {
		_, err := mir.ParseArchive([]byte("-- bad.json --\n{}\n"))
		var e *mir.UnsupportedVersionError
		require.True(t, errors.As(err, &e), "unexpected error: %v", err)
		require.Contains(t, err.Error(), "bad.json")
	})
}

func TestProgram_Digest(t *testing.T) {
	a, err := mir.Parse([]byte(identityJSON))
	require.NoError(t, err)
	b, err := mir.Parse([]byte(strings.Replace(identityJSON, "\n", " ", -1)))
	require.NoError(t, err)
	require.Equal(t, a.Digest(), b.Digest(), "digest depends on formatting")
	require.Len(t, a.Digest(), 64)

	b.Functions[0].Body.Locals[1].Name = "y"
	require.NotEqual(t, a.Digest(), b.Digest())
}

func TestProgram_Validate(t *testing.T) {
	t.Run("Constructed", func(t *testing.T) {
		p := mir.NewProgram("constructed")
		u32 := p.AddType(mir.Uint(32))
		b := p.AddType(mir.Bool())
		p.AddFunction(&mir.Function{
			Name: "is_zero",
			Body: mir.NewBody(1,
				[]*mir.Local{mir.NewLocal("", b), mir.NewLocal("x", u32)},
				mir.NewBlock(mir.Return(),
					mir.Assign(mir.LocalPlace(0), mir.BinaryOp(mir.BinEq, mir.Copy(mir.LocalPlace(1)), mir.ConstUint(u32, 0))),
				),
			),
		})
		require.NoError(t, p.Validate())
	})

	t.Run("ErrGotoTarget", func(t *testing.T) {
		p := mir.NewProgram("bad")
		unit := p.AddType(mir.Unit())
		p.AddFunction(&mir.Function{
			Name: "f",
			Body: mir.NewBody(0, []*mir.Local{mir.NewLocal("", unit)}, mir.NewBlock(mir.Goto(3))),
		})
		err := p.Validate()
		require.Error(t, err)
		require.Contains(t, err.Error(), "block target out of range: 3")
	})

	t.Run("ErrCallWithoutDest", func(t *testing.T) {
		p := mir.NewProgram("bad")
		unit := p.AddType(mir.Unit())
		callee := p.AddFunction(&mir.Function{Name: "g"})
		fnTy := p.AddType(mir.FnDef(callee))
		p.AddFunction(&mir.Function{
			Name: "f",
			Body: mir.NewBody(0, []*mir.Local{mir.NewLocal("", unit)},
				mir.NewBlock(mir.CallDiverging(mir.ConstZST(fnTy), nil, nil)),
			),
		})
		err := p.Validate()
		require.Error(t, err)
		require.Contains(t, err.Error(), "missing place")
	})
}

func TestProgram_WriteTo(t *testing.T) {
	prog, err := mir.Parse([]byte(identityJSON))
	require.NoError(t, err)
	prog.Name = "identity"

	var sb strings.Builder
	n, err := prog.WriteTo(&sb)
	require.NoError(t, err)
	require.Equal(t, int64(sb.Len()), n)

	if diff := cmp.Diff(strings.Join([]string{
		"// program identity (version 1)",
		"type #1 = u8",
		"",
		"alloc1 (memory) = [01 00 03]",
		"",
		"fn identity(_1: u8) -> u8 {",
		"",
		"    bb0: {",
		"        _0 = copy _1;",
		"        return;",
		"    }",
		"}",
		"",
		"",
	}, "\n"), sb.String()); diff != "" {
		t.Fatal(diff)
	}
}

func TestPlaceString(t *testing.T) {
	for _, tt := range []struct {
		place *mir.Place
		s     string
	}{
		{mir.LocalPlace(1), "_1"},
		{mir.LocalPlace(1).Deref().Field(0, 0), "(*_1).0"},
		{mir.LocalPlace(2).Index(3), "_2[_3]"},
		{mir.LocalPlace(2).ConstantIndex(1, 4, true), "_2[-1 of 4]"},
		{mir.LocalPlace(2).Subslice(1, 2, false), "_2[1:2]"},
		{mir.LocalPlace(3).Downcast(1).Field(0, 0), "(_3 as variant#1).0"},
	} {
		if got := mir.PlaceString(tt.place); got != tt.s {
			t.Errorf("PlaceString()=%q, want %q", got, tt.s)
		}
	}
}
