package mirv_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/benbjohnson/mirv"
	"github.com/benbjohnson/mirv/brute"
	"github.com/benbjohnson/mirv/mir"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

// Scenario represents a single expected outcome in a testdata archive.
type Scenario struct {
	Program        string            `yaml:"program"`
	Entry          string            `yaml:"entry"`
	Mode           mirv.Mode         `yaml:"mode"`
	Args           []uint64          `yaml:"args"`
	Status         mirv.Status       `yaml:"status"`
	Kind           mirv.UBKind       `yaml:"kind"`
	Reason         string            `yaml:"reason"`
	Return         string            `yaml:"return"`
	Paths          int               `yaml:"paths"`
	Counterexample map[string]string `yaml:"counterexample"`
}

// Ensure every archive under testdata produces its expected verdicts.
func TestScenarios(t *testing.T) {
	filenames, err := filepath.Glob("testdata/*.txtar")
	require.NoError(t, err)
	require.NotEmpty(t, filenames)

	for _, filename := range filenames {
		filename := filename
		t.Run(filepath.Base(filename), func(t *testing.T) {
			b, err := mir.LoadArchive(filename)
			require.NoError(t, err)

			var scenarios []Scenario
			require.NoError(t, yaml.Unmarshal(b.Files["expect.yaml"], &scenarios))
			require.NotEmpty(t, scenarios, "no scenarios")

			for i, sc := range scenarios {
				prog := b.Programs[0]
				if sc.Program != "" {
					prog = b.Program(sc.Program)
					require.NotNil(t, prog, "scenario %d: program not found: %s", i, sc.Program)
				}
				RunScenario(t, prog, sc, i)
			}
		})
	}
}

// RunScenario executes a single scenario against prog and checks its verdict.
func RunScenario(tb testing.TB, prog *mir.Program, sc Scenario, i int) {
	tb.Helper()

	config := mirv.DefaultConfig()
	if sc.Mode != "" {
		config.Mode = sc.Mode
	}
	e, err := mirv.NewExecutor(prog, sc.Entry, config)
	require.NoError(tb, err, "scenario %d", i)

	if config.Mode == mirv.ModeSymbolic {
		e.Solver = brute.NewSolver()
	} else {
		e.Args = ScenarioArgs(tb, e, sc.Entry, sc.Args)
	}

	v, err := e.Run(context.Background())
	require.NoError(tb, err, "scenario %d", i)

	require.Equal(tb, sc.Status, v.Status, "scenario %d: %s", i, v)
	if sc.Kind != "" {
		require.Equal(tb, sc.Kind, v.Kind, "scenario %d", i)
	}
	if sc.Reason != "" {
		require.Equal(tb, sc.Reason, v.Reason, "scenario %d", i)
	}
	if sc.Return != "" {
		require.Equal(tb, sc.Return, v.Return, "scenario %d", i)
	}
	if sc.Paths != 0 {
		require.Equal(tb, sc.Paths, v.Paths, "scenario %d", i)
	}
	if sc.Counterexample != nil {
		got := make(map[string]string)
		for _, a := range v.Counterexample {
			got[a.Name] = a.Value
		}
		for name, value := range sc.Counterexample {
			require.Equal(tb, value, got[name], "scenario %d: input %s", i, name)
		}
	}
}

// ScenarioArgs converts integer arguments into scalars sized by the entry
// function's argument types.
func ScenarioArgs(tb testing.TB, e *mirv.Executor, entry string, args []uint64) []mirv.Value {
	tb.Helper()

	body := e.Program().FunctionByName(entry).Body
	require.Equal(tb, body.ArgCount, len(args), "argument count")

	values := make([]mirv.Value, len(args))
	for i, arg := range args {
		ty := body.Locals[i+1].Type
		if t := e.Program().Type(ty); t.Kind == mir.TypeBool {
			values[i] = mirv.NewBoolScalar(arg != 0)
			continue
		}
		l := e.Layouts().MustLayout(ty)
		values[i] = mirv.NewIntScalar(arg, uint(l.Size*8))
	}
	return values
}
