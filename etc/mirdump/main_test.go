package main

import (
	"bytes"
	"strings"
	"testing"
)

func TestRun(t *testing.T) {
	t.Run("Layout", func(t *testing.T) {
		var buf bytes.Buffer
		if err := run(&buf, []string{"-layout", "../../testdata/niche.txtar"}); err != nil {
			t.Fatal(err)
		}
		out := buf.String()
		if !strings.Contains(out, "fn decode(_1: u8) -> isize {") {
			t.Fatalf("missing function listing:\n%s", out)
		} else if !strings.Contains(out, "// #4 Option<SmallInt>: size=1 align=1") {
			t.Fatalf("missing layout:\n%s", out)
		}
	})

	t.Run("Raw", func(t *testing.T) {
		var buf bytes.Buffer
		if err := run(&buf, []string{"-raw", "../../testdata/mul2.txtar"}); err != nil {
			t.Fatal(err)
		} else if !strings.Contains(buf.String(), `Name: (string) (len=4) "mul2"`) {
			t.Fatalf("unexpected dump:\n%s", buf.String())
		}
	})

	t.Run("ErrUsage", func(t *testing.T) {
		if err := run(&bytes.Buffer{}, nil); err == nil {
			t.Fatal("expected error")
		}
	})
}
