package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/benbjohnson/mirv"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// RunCommand represents a command for executing an entry point concretely.
type RunCommand struct {
	Stdout io.Writer
	Stderr io.Writer
}

// NewRunCommand returns a new instance of RunCommand.
func NewRunCommand() *RunCommand {
	return &RunCommand{
		Stdout: os.Stdout,
		Stderr: os.Stderr,
	}
}

// Run executes the "run" subcommand.
func (cmd *RunCommand) Run(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("mirv-run", flag.ContinueOnError)
	entry := fs.String("entry", "", "entry function")
	configPath := fs.String("config", "", "configuration file")
	verbose := fs.Bool("v", false, "verbose")
	fs.Usage = cmd.usage
	if err := fs.Parse(args); err != nil {
		return err
	} else if fs.NArg() == 0 {
		return fmt.Errorf("program file required")
	}

	logger, err := newLogger(*verbose)
	if err != nil {
		return err
	}
	defer logger.Sync()

	config, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	config.Mode = mirv.ModeConcrete

	progs, err := loadPrograms(fs.Arg(0))
	if err != nil {
		return err
	}

	// Run the first program defining the entry point.
	for _, prog := range progs {
		name := *entry
		if name == "" {
			name = defaultEntry(prog)
		}
		fn := prog.FunctionByName(name)
		if fn == nil || fn.Body == nil {
			continue
		}

		e, err := mirv.NewExecutor(prog, name, config)
		if err != nil {
			return err
		}
		if e.Args, err = parseArgs(e, fn, fs.Args()[1:]); err != nil {
			return err
		}

		logger.Debug("run", zap.String("program", prog.Name), zap.String("entry", name))
		v, err := e.Run(ctx)
		if err != nil {
			return errors.Wrapf(err, "%s", name)
		}

		fmt.Fprintf(cmd.Stdout, "%s: %s\n", name, v)
		if v.Return != "" {
			fmt.Fprintf(cmd.Stdout, "return %s\n", v.Return)
		}
		if !v.Pass() {
			return ErrNotPassed
		}
		return nil
	}
	return errors.Wrapf(mirv.ErrEntryNotFound, "%s", *entry)
}

func (cmd *RunCommand) usage() {
	fmt.Fprintln(cmd.Stderr, `
usage: mirv run [arguments] FILE [ARG...]

Executes an entry point with concrete arguments. FILE is a program document
or a txtar bundle of programs. Integer and boolean arguments are passed to the
entry point in order.

Arguments:

	-entry NAME
	    Entry function. Defaults to the program's entry or "main".

	-config PATH
	    YAML configuration file.

	-v
	    Enable verbose logging.
`[1:])
}
