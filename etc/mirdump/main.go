// Command mirdump prints programs in a readable listing along with the
// layout of every type.
package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/benbjohnson/mirv"
	"github.com/benbjohnson/mirv/mir"
	"github.com/davecgh/go-spew/spew"
)

// dumpConfig dumps decoded structures field by field rather than through
// their String methods.
var dumpConfig = spew.ConfigState{
	Indent:                  "  ",
	DisableMethods:          true,
	DisablePointerAddresses: true,
	SortKeys:                true,
}

func main() {
	if err := run(os.Stdout, os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(w io.Writer, args []string) error {
	fs := flag.NewFlagSet("mirdump", flag.ContinueOnError)
	layouts := fs.Bool("layout", false, "print type layouts")
	raw := fs.Bool("raw", false, "dump decoded structures")
	if err := fs.Parse(args); err != nil {
		return err
	} else if fs.NArg() != 1 {
		return fmt.Errorf("usage: mirdump [-layout] [-raw] FILE")
	}

	var progs []*mir.Program
	if filepath.Ext(fs.Arg(0)) == ".txtar" {
		b, err := mir.LoadArchive(fs.Arg(0))
		if err != nil {
			return err
		}
		progs = b.Programs
	} else {
		prog, err := mir.Load(fs.Arg(0))
		if err != nil {
			return err
		}
		progs = append(progs, prog)
	}

	for _, prog := range progs {
		if *raw {
			dumpConfig.Fdump(w, prog)
			continue
		}
		if _, err := prog.WriteTo(w); err != nil {
			return err
		}
		if *layouts {
			if err := writeLayouts(w, prog); err != nil {
				return err
			}
		}
	}
	return nil
}

func writeLayouts(w io.Writer, prog *mir.Program) error {
	r := mirv.NewLayoutResolver(prog)
	for _, t := range prog.Types {
		l, err := r.Layout(t.ID)
		if err != nil {
			fmt.Fprintf(w, "// #%d %s: %s\n", t.ID, t, err)
			continue
		}
		fmt.Fprintf(w, "// #%d %s: %s\n", t.ID, t, l)
	}
	return nil
}
