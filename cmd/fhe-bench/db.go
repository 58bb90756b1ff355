package main

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/luxfi/fhebench"
	"github.com/luxfi/fhebench/internal/sqlstore"
)

var errNoDB = errors.New("no database configured (use --db or FHEBENCH_DB)")

func newDBCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "db",
		Short: "Import registries into or export them from a SQLite database",
	}

	open := func() (*sqlstore.Store, error) {
		if a.cfg.DB == "" {
			return nil, errNoDB
		}
		return sqlstore.Open(a.cfg.DB)
	}

	importCmd := &cobra.Command{
		Use:     "import <file>",
		Short:   "Replace the database contents with the records of a file",
		Example: `  fhe-bench db import benchmarks.csv --db bench.sqlite`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, err := a.loadFile(args[0])
			if err != nil {
				return err
			}
			store, err := open()
			if err != nil {
				return err
			}
			defer store.Close()

			if err := store.Save(cmd.Context(), reg.Records()); err != nil {
				return err
			}
			slog.Info("records imported", "db", a.cfg.DB, "source", args[0], "records", reg.Len())
			fmt.Fprintf(cmd.OutOrStdout(), "imported %d records into %s\n", reg.Len(), a.cfg.DB)
			return nil
		},
	}

	var unversioned bool
	exportCmd := &cobra.Command{
		Use:     "export <file>",
		Short:   "Write the database records to a .csv or .fhb file",
		Example: `  fhe-bench db export snapshot.fhb --db bench.sqlite`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := open()
			if err != nil {
				return err
			}
			defer store.Close()

			reg, err := store.Registry(cmd.Context())
			if err != nil {
				return err
			}
			mode := fhebench.Versioned
			if unversioned {
				mode = fhebench.Unversioned
			}
			if err := writeFile(args[0], reg, mode); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "exported %d records to %s\n", reg.Len(), args[0])
			return nil
		},
	}
	exportCmd.Flags().BoolVar(&unversioned, "unversioned", false, "write snapshots without a record version tag")

	cmd.AddCommand(importCmd, exportCmd)
	return cmd
}
