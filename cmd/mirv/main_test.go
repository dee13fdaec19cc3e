package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/benbjohnson/mirv"
	"github.com/benbjohnson/mirv/store"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

func TestRunCommand_Run(t *testing.T) {
	t.Run("Pass", func(t *testing.T) {
		var stdout bytes.Buffer
		cmd := NewRunCommand()
		cmd.Stdout = &stdout
		require.NoError(t, cmd.Run(context.Background(), []string{"-entry", "mul2", "../../testdata/mul2.txtar", "32", "255"}))
		require.Equal(t, "mul2: Pass paths=1\nreturn (const 63 8)\n", stdout.String())
	})

	t.Run("Fail", func(t *testing.T) {
		var stdout bytes.Buffer
		cmd := NewRunCommand()
		cmd.Stdout = &stdout
		err := cmd.Run(context.Background(), []string{"-entry", "mul2", "../../testdata/mul2.txtar", "1", "0"})
		require.True(t, errors.Is(err, ErrNotPassed), "unexpected error: %v", err)
		require.Contains(t, stdout.String(), "UndefinedBehavior(DivisionByZero)")
	})

	t.Run("ErrArgumentCount", func(t *testing.T) {
		cmd := NewRunCommand()
		cmd.Stdout = &bytes.Buffer{}
		err := cmd.Run(context.Background(), []string{"-entry", "mul2", "../../testdata/mul2.txtar", "1"})
		require.Error(t, err)
		require.Contains(t, err.Error(), "expected 2 arguments, got 1")
	})

	t.Run("ErrArgumentRange", func(t *testing.T) {
		cmd := NewRunCommand()
		cmd.Stdout = &bytes.Buffer{}
		err := cmd.Run(context.Background(), []string{"-entry", "mul2", "../../testdata/mul2.txtar", "1", "256"})
		require.Error(t, err)
		require.Contains(t, err.Error(), "argument 2")
	})

	t.Run("ErrEntryNotFound", func(t *testing.T) {
		cmd := NewRunCommand()
		cmd.Stdout = &bytes.Buffer{}
		err := cmd.Run(context.Background(), []string{"-entry", "nope", "../../testdata/mul2.txtar"})
		require.True(t, errors.Is(err, mirv.ErrEntryNotFound), "unexpected error: %v", err)
	})
}

func TestProveCommand_Run(t *testing.T) {
	t.Run("Text", func(t *testing.T) {
		var stdout bytes.Buffer
		cmd := NewProveCommand()
		cmd.Stdout = &stdout
		err := cmd.Run(context.Background(), []string{"-solver", "brute", "-entry", "check,check_assumed", "../../testdata/assert.txtar"})
		require.True(t, errors.Is(err, ErrNotPassed), "unexpected error: %v", err)

		lines := strings.Split(strings.TrimSpace(stdout.String()), "\n")
		require.Len(t, lines, 3)
		require.True(t, strings.HasPrefix(lines[0], "FAIL assert::check: AssertionFailed"), lines[0])
		require.Equal(t, "\tx = 20", lines[1])
		require.Equal(t, "PASS assert::check_assumed: Pass paths=1", lines[2])
	})

	t.Run("ProofDir", func(t *testing.T) {
		dir := t.TempDir()
		args := []string{"-solver", "brute", "-json", "-proof-dir", dir, "-entry", "check_assumed", "../../testdata/assert.txtar"}

		// The second run reuses the stored record.
		var records [2][]*store.Record
		for i := range records {
			var stdout bytes.Buffer
			cmd := NewProveCommand()
			cmd.Stdout = &stdout
			require.NoError(t, cmd.Run(context.Background(), args))
			require.NoError(t, json.Unmarshal(stdout.Bytes(), &records[i]))
			require.Len(t, records[i], 1)
		}
		require.Equal(t, records[0][0].ID, records[1][0].ID)
		require.Equal(t, mirv.StatusPass, records[1][0].Verdict.Status)

		// Reloading proves again under a new id.
		var stdout bytes.Buffer
		cmd := NewProveCommand()
		cmd.Stdout = &stdout
		require.NoError(t, cmd.Run(context.Background(), append([]string{"-reload"}, args...)))
		var reloaded []*store.Record
		require.NoError(t, json.Unmarshal(stdout.Bytes(), &reloaded))
		require.NotEqual(t, records[0][0].ID, reloaded[0].ID)

		// Both records are listed.
		stdout.Reset()
		show := NewShowCommand()
		show.Stdout = &stdout
		require.NoError(t, show.Run(context.Background(), []string{"-proof-dir", dir}))
		require.Len(t, strings.Split(strings.TrimSpace(stdout.String()), "\n"), 3)

		stdout.Reset()
		require.NoError(t, show.Run(context.Background(), []string{"-proof-dir", dir, reloaded[0].ID.String()}))
		require.Contains(t, stdout.String(), "verdict:  Pass paths=1")
	})

	t.Run("Metrics", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "metrics.prom")
		cmd := NewProveCommand()
		cmd.Stdout = &bytes.Buffer{}
		require.NoError(t, cmd.Run(context.Background(), []string{"-solver", "brute", "-metrics", path, "-entry", "check_assumed", "../../testdata/assert.txtar"}))

		buf, err := os.ReadFile(path)
		require.NoError(t, err)
		require.Contains(t, string(buf), "mirv_steps_total")
		require.Contains(t, string(buf), `mirv_paths_total{status="finished"}`)
	})

	t.Run("ErrUnknownSolver", func(t *testing.T) {
		cmd := NewProveCommand()
		err := cmd.Run(context.Background(), []string{"-solver", "cvc5", "../../testdata/assert.txtar"})
		require.Error(t, err)
		require.Contains(t, err.Error(), "unknown solver")
	})
}

func TestRun(t *testing.T) {
	if err := run(context.Background(), []string{"frobnicate"}); err == nil || err.Error() != "mirv frobnicate: unknown command" {
		t.Fatalf("unexpected error: %v", err)
	}
}
