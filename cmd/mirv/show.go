package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/benbjohnson/mirv/store"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// ShowCommand represents a command for printing stored proof records.
type ShowCommand struct {
	Stdout io.Writer
	Stderr io.Writer
}

// NewShowCommand returns a new instance of ShowCommand.
func NewShowCommand() *ShowCommand {
	return &ShowCommand{
		Stdout: os.Stdout,
		Stderr: os.Stderr,
	}
}

// Run executes the "show" subcommand.
func (cmd *ShowCommand) Run(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("mirv-show", flag.ContinueOnError)
	proofDir := fs.String("proof-dir", "", "proof store directory")
	asJSON := fs.Bool("json", false, "JSON output")
	fs.Usage = cmd.usage
	if err := fs.Parse(args); err != nil {
		return err
	} else if *proofDir == "" {
		return fmt.Errorf("-proof-dir required")
	} else if fs.NArg() > 1 {
		return fmt.Errorf("too many records specified")
	}

	db := store.NewDB(*proofDir)
	if err := db.Open(); err != nil {
		return err
	}
	defer db.Close()

	var records []*store.Record
	if fs.NArg() == 1 {
		id, err := uuid.Parse(fs.Arg(0))
		if err != nil {
			return errors.Wrapf(err, "invalid record id %q", fs.Arg(0))
		}
		rec, err := db.Get(id)
		if err != nil {
			return err
		}
		records = append(records, rec)
	} else {
		var err error
		if records, err = db.List(); err != nil {
			return err
		}
	}

	if *asJSON {
		enc := json.NewEncoder(cmd.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(records)
	} else if fs.NArg() == 1 {
		return cmd.writeRecord(records[0])
	}

	tw := tabwriter.NewWriter(cmd.Stdout, 0, 8, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tPROGRAM\tENTRY\tSTATUS\tPATHS\tCREATED")
	for _, rec := range records {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%s\n",
			rec.ID, rec.Program, rec.Entry, rec.Verdict.Status, rec.Verdict.Paths,
			rec.CreatedAt.Format(time.RFC3339),
		)
	}
	return tw.Flush()
}

// writeRecord prints the details of a single record.
func (cmd *ShowCommand) writeRecord(rec *store.Record) error {
	v := rec.Verdict
	fmt.Fprintf(cmd.Stdout, "id:       %s\n", rec.ID)
	fmt.Fprintf(cmd.Stdout, "program:  %s\n", rec.Program)
	fmt.Fprintf(cmd.Stdout, "digest:   %s\n", rec.Digest)
	fmt.Fprintf(cmd.Stdout, "entry:    %s\n", rec.Entry)
	fmt.Fprintf(cmd.Stdout, "solver:   %s\n", rec.Solver)
	fmt.Fprintf(cmd.Stdout, "created:  %s (%s)\n", rec.CreatedAt.Format(time.RFC3339), rec.Duration)
	fmt.Fprintf(cmd.Stdout, "verdict:  %s\n", v)
	if v.Return != "" {
		fmt.Fprintf(cmd.Stdout, "return:   %s\n", v.Return)
	}
	for _, a := range v.Counterexample {
		fmt.Fprintf(cmd.Stdout, "input:    %s\n", a)
	}
	return nil
}

func (cmd *ShowCommand) usage() {
	fmt.Fprintln(cmd.Stderr, `
usage: mirv show [arguments] [ID]

Lists stored proof records, or prints a single record by id.

Arguments:

	-proof-dir DIR
	    Proof store directory.

	-json
	    Print records as JSON.
`[1:])
}
