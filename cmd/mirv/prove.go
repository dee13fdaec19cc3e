package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"runtime"
	"time"

	"github.com/benbjohnson/mirv"
	"github.com/benbjohnson/mirv/brute"
	"github.com/benbjohnson/mirv/mir"
	"github.com/benbjohnson/mirv/store"
	"github.com/benbjohnson/mirv/z3"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"
)

// Solver back ends.
const (
	SolverZ3    = "z3"
	SolverBrute = "brute"
)

// ProveCommand represents a command for verifying entry points over all
// symbolic inputs.
type ProveCommand struct {
	logger *zap.Logger
	db     *store.DB

	config   mirv.Config
	solver   string
	settings string
	reload   bool

	Stdout io.Writer
	Stderr io.Writer
}

// NewProveCommand returns a new instance of ProveCommand.
func NewProveCommand() *ProveCommand {
	return &ProveCommand{
		Stdout: os.Stdout,
		Stderr: os.Stderr,
	}
}

// proof represents a single entry point of a program to verify.
type proof struct {
	prog   *mir.Program
	entry  string
	record *store.Record
	cached bool
}

// Run executes the "prove" subcommand.
func (cmd *ProveCommand) Run(ctx context.Context, args []string) (err error) {
	fs := flag.NewFlagSet("mirv-prove", flag.ContinueOnError)
	entries := fs.String("entry", "", "comma-separated entry functions")
	jobs := fs.Int("j", runtime.GOMAXPROCS(0), "parallel proofs")
	configPath := fs.String("config", "", "configuration file")
	solver := fs.String("solver", SolverZ3, "solver back end")
	maxSteps := fs.Int("max-steps", 0, "per-path step limit")
	proofDir := fs.String("proof-dir", "", "proof store directory")
	reload := fs.Bool("reload", false, "ignore stored proofs")
	metricsPath := fs.String("metrics", "", "metrics output file")
	asJSON := fs.Bool("json", false, "JSON output")
	verbose := fs.Bool("v", false, "verbose")
	fs.Usage = cmd.usage
	if err := fs.Parse(args); err != nil {
		return err
	} else if fs.NArg() == 0 {
		return fmt.Errorf("program file required")
	} else if fs.NArg() > 1 {
		return fmt.Errorf("too many files specified")
	} else if *jobs < 1 {
		return fmt.Errorf("-j must be at least 1")
	}

	switch *solver {
	case SolverZ3, SolverBrute:
		cmd.solver = *solver
	default:
		return fmt.Errorf("unknown solver: %q", *solver)
	}
	cmd.reload = *reload

	if cmd.logger, err = newLogger(*verbose); err != nil {
		return err
	}
	defer cmd.logger.Sync()

	if cmd.config, err = loadConfig(*configPath); err != nil {
		return err
	}
	cmd.config.Mode = mirv.ModeSymbolic
	if *maxSteps > 0 {
		cmd.config.MaxSteps = *maxSteps
	}
	if err := cmd.config.Validate(); err != nil {
		return err
	}

	// Stored verdicts are reused only under identical settings.
	buf, err := yaml.Marshal(cmd.config)
	if err != nil {
		return errors.Wrap(err, "cannot encode settings")
	}
	cmd.settings = "solver: " + cmd.solver + "\n" + string(buf)

	progs, err := loadPrograms(fs.Arg(0))
	if err != nil {
		return err
	}
	proofs, err := cmd.proofs(progs, splitEntries(*entries))
	if err != nil {
		return err
	}

	if *proofDir != "" {
		cmd.db = store.NewDB(*proofDir)
		if err := cmd.db.Open(); err != nil {
			return err
		}
		defer cmd.db.Close()
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(*jobs)
	for _, p := range proofs {
		p := p
		g.Go(func() error { return cmd.prove(ctx, p) })
	}
	if err := g.Wait(); err != nil {
		return err
	}

	if *metricsPath != "" {
		if err := prometheus.WriteToTextfile(*metricsPath, prometheus.DefaultGatherer); err != nil {
			return errors.Wrap(err, "cannot write metrics")
		}
	}

	if *asJSON {
		err = cmd.writeJSON(proofs)
	} else {
		err = cmd.writeText(proofs)
	}
	if err != nil {
		return err
	}

	for _, p := range proofs {
		if !p.record.Verdict.Pass() {
			return ErrNotPassed
		}
	}
	return nil
}

// proofs returns the entry points to verify in each program. Without
// explicit entries, each program's declared entry or "main" is used.
func (cmd *ProveCommand) proofs(progs []*mir.Program, entries []string) ([]*proof, error) {
	var a []*proof
	for _, prog := range progs {
		names := entries
		if len(names) == 0 {
			names = []string{defaultEntry(prog)}
		}
		for _, name := range names {
			if fn := prog.FunctionByName(name); fn != nil && fn.Body != nil {
				a = append(a, &proof{prog: prog, entry: name})
			}
		}
	}

	// Every requested entry must exist somewhere in the input.
	for _, name := range entries {
		found := false
		for _, p := range a {
			found = found || p.entry == name
		}
		if !found {
			return nil, errors.Wrapf(mirv.ErrEntryNotFound, "%s", name)
		}
	}
	if len(a) == 0 {
		return nil, errors.Wrap(mirv.ErrEntryNotFound, "no entry points")
	}
	return a, nil
}

// prove verifies a single entry point, reusing a stored verdict if one
// exists for the same program, entry and settings.
func (cmd *ProveCommand) prove(ctx context.Context, p *proof) error {
	digest := p.prog.Digest()
	logger := cmd.logger.With(zap.String("program", p.prog.Name), zap.String("entry", p.entry))

	if cmd.db != nil && !cmd.reload {
		rec, err := cmd.db.Lookup(digest, p.entry)
		if err != nil && !errors.Is(err, store.ErrRecordNotFound) {
			return err
		} else if rec != nil && rec.Settings == cmd.settings {
			logger.Debug("reuse", zap.Stringer("id", rec.ID))
			p.record, p.cached = rec, true
			return nil
		}
	}

	e, err := mirv.NewExecutor(p.prog, p.entry, cmd.config)
	if err != nil {
		return err
	}

	switch cmd.solver {
	case SolverBrute:
		s := brute.NewSolver()
		s.Timeout = cmd.config.SolverTimeout
		e.Solver = s
	default:
		s := z3.NewSolver()
		s.Timeout = cmd.config.SolverTimeout
		defer s.Close()
		e.Solver = s
	}

	t := time.Now()
	v, err := e.Run(ctx)
	if err != nil {
		return errors.Wrapf(err, "%s", p.entry)
	}
	logger.Info("proved", zap.String("status", string(v.Status)), zap.Int("paths", v.Paths), zap.Duration("elapsed", time.Since(t)))

	p.record = &store.Record{
		Program:  p.prog.Name,
		Digest:   digest,
		Entry:    p.entry,
		Solver:   cmd.solver,
		Settings: cmd.settings,
		Verdict:  v,
		Duration: time.Since(t),
	}
	if cmd.db != nil {
		if err := cmd.db.Put(p.record); err != nil {
			return err
		}
	}
	return nil
}

func (cmd *ProveCommand) writeText(proofs []*proof) error {
	for _, p := range proofs {
		v := p.record.Verdict
		suffix := ""
		if p.cached {
			suffix = " (cached)"
		}
		fmt.Fprintf(cmd.Stdout, "%s %s::%s: %s%s\n", statusLabel(v), p.prog.Name, p.entry, v, suffix)
		for _, a := range v.Counterexample {
			fmt.Fprintf(cmd.Stdout, "\t%s\n", a)
		}
	}
	return nil
}

func (cmd *ProveCommand) writeJSON(proofs []*proof) error {
	records := make([]*store.Record, len(proofs))
	for i, p := range proofs {
		records[i] = p.record
	}
	enc := json.NewEncoder(cmd.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(records)
}

// statusLabel returns a short upper-case label for a verdict.
func statusLabel(v *mirv.Verdict) string {
	if v.Pass() {
		return "PASS"
	}
	return "FAIL"
}

func (cmd *ProveCommand) usage() {
	fmt.Fprintln(cmd.Stderr, `
usage: mirv prove [arguments] FILE

Verifies entry points over all symbolic inputs and reports one verdict per
entry point. Exits with a non-zero status unless every verdict passes.

Arguments:

	-entry NAMES
	    Comma-separated entry functions. Defaults to each program's entry
	    or "main".

	-j N
	    Number of entry points proved in parallel.

	-config PATH
	    YAML configuration file.

	-solver NAME
	    Solver back end: "z3" (default) or "brute".

	-max-steps N
	    Per-path step limit.

	-proof-dir DIR
	    Store verdicts in DIR and reuse them for unchanged programs.

	-reload
	    Ignore stored verdicts.

	-metrics PATH
	    Write metrics in the Prometheus text format to PATH.

	-json
	    Print records as JSON.

	-v
	    Enable verbose logging.
`[1:])
}
