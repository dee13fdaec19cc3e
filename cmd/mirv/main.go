package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"

	"github.com/pkg/errors"
)

// ErrNotPassed is returned when at least one entry point does not pass.
var ErrNotPassed = errors.New("one or more entry points did not pass")

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := run(ctx, os.Args[1:]); err == flag.ErrHelp {
		os.Exit(1)
	} else if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string) error {
	var cmd string
	if len(args) > 0 {
		cmd, args = args[0], args[1:]
	}

	switch cmd {
	case "", "-h", "--help", "help":
		usage()
		return flag.ErrHelp
	case "run":
		return NewRunCommand().Run(ctx, args)
	case "prove":
		return NewProveCommand().Run(ctx, args)
	case "show":
		return NewShowCommand().Run(ctx, args)
	default:
		return fmt.Errorf(`mirv %s: unknown command`, cmd)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `
Mirv executes and verifies programs in the mid-level representation.

Usage:

	mirv <command> [arguments]

The commands are:

	run         execute an entry point with concrete arguments
	prove       verify entry points over all symbolic inputs
	show        print stored proof records
	help        this screen
`[1:])
}
