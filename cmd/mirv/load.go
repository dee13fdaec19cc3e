package main

import (
	"path/filepath"
	"strconv"
	"strings"

	"github.com/benbjohnson/mirv"
	"github.com/benbjohnson/mirv/mir"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// loadPrograms reads a single program document or a txtar bundle.
func loadPrograms(filename string) ([]*mir.Program, error) {
	if filepath.Ext(filename) == ".txtar" {
		b, err := mir.LoadArchive(filename)
		if err != nil {
			return nil, err
		}
		return b.Programs, nil
	}

	prog, err := mir.Load(filename)
	if err != nil {
		return nil, err
	}
	return []*mir.Program{prog}, nil
}

// loadConfig returns the configuration file's settings, or the defaults if
// no file is given.
func loadConfig(filename string) (mirv.Config, error) {
	if filename == "" {
		return mirv.DefaultConfig(), nil
	}
	return mirv.LoadConfig(filename)
}

// newLogger installs a development logger on the engine if verbose is set.
func newLogger(verbose bool) (*zap.Logger, error) {
	if !verbose {
		l := zap.NewNop()
		mirv.SetLogger(l)
		return l, nil
	}

	l, err := zap.NewDevelopment()
	if err != nil {
		return nil, errors.Wrap(err, "cannot create logger")
	}
	mirv.SetLogger(l)
	return l, nil
}

// splitEntries returns the comma-separated entry names in s.
func splitEntries(s string) []string {
	var a []string
	for _, name := range strings.Split(s, ",") {
		if name = strings.TrimSpace(name); name != "" {
			a = append(a, name)
		}
	}
	return a
}

// defaultEntry returns the program's declared entry point, or "main".
func defaultEntry(prog *mir.Program) string {
	if prog.Entry != "" {
		return prog.Entry
	}
	return "main"
}

// parseArgs converts decimal command line arguments into scalar values sized
// by the entry function's parameter types.
func parseArgs(e *mirv.Executor, fn *mir.Function, args []string) ([]mirv.Value, error) {
	if len(args) != fn.Body.ArgCount {
		return nil, errors.Errorf("%s: expected %d arguments, got %d", fn.Name, fn.Body.ArgCount, len(args))
	}

	values := make([]mirv.Value, len(args))
	for i, arg := range args {
		t := e.Program().Type(fn.Body.Locals[i+1].Type)
		switch {
		case t.Kind == mir.TypeBool:
			v, err := strconv.ParseBool(arg)
			if err != nil {
				return nil, errors.Wrapf(err, "argument %d", i+1)
			}
			values[i] = mirv.NewBoolScalar(v)

		case t.IsInteger() && t.IntBits() <= 64:
			width := t.IntBits()
			var v uint64
			if t.IsSigned() {
				n, err := strconv.ParseInt(arg, 0, int(width))
				if err != nil {
					return nil, errors.Wrapf(err, "argument %d", i+1)
				}
				v = uint64(n)
			} else {
				n, err := strconv.ParseUint(arg, 0, int(width))
				if err != nil {
					return nil, errors.Wrapf(err, "argument %d", i+1)
				}
				v = n
			}
			values[i] = mirv.NewIntScalar(v, width)

		default:
			return nil, errors.Errorf("argument %d: unsupported parameter type %s", i+1, t)
		}
	}
	return values, nil
}
