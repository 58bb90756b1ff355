package main

import (
	"fmt"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/luxfi/fhebench"
)

func newQueryCmd(a *app) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "query <operation> <bit-width> <hardware> <operand-mode>",
		Short: "Print the latency of one exact configuration",
		Example: `  fhe-bench query add 64 1xH100 both_encrypted
  fhe-bench query mul 32 2xH100 scalar --json`,
		Args: cobra.ExactArgs(4),
		RunE: func(cmd *cobra.Command, args []string) error {
			bitWidth, err := strconv.Atoi(args[1])
			if err != nil {
				return fmt.Errorf("bit width %q is not an integer", args[1])
			}
			mode, err := fhebench.ParseOperandMode(args[3])
			if err != nil {
				return err
			}

			reg, err := a.registry(cmd.Context())
			if err != nil {
				return err
			}
			rec, err := reg.Query(args[0], bitWidth, args[2], mode)
			if err != nil {
				return err
			}

			if asJSON {
				return writeJSON(cmd.OutOrStdout(), rec)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s ms\n", strconv.FormatFloat(rec.LatencyMs, 'g', -1, 64))
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the full record as JSON")
	return cmd
}

func newListCmd(a *app) *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List records matching a filter",
		Example: `  fhe-bench list --operation add --hardware 1xH100
  fhe-bench list --mode scalar --format csv > scalar.csv`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			f, err := parseFilter(cmd.Flags())
			if err != nil {
				return err
			}
			reg, err := a.registry(cmd.Context())
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			switch format {
			case "table":
				w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
				fmt.Fprintln(w, "OPERATION\tBITS\tHARDWARE\tMODE\tLATENCY (ms)")
				for r := range reg.List(f) {
					fmt.Fprintf(w, "%s\t%d\t%s\t%s\t%s\n", r.Operation, r.BitWidth, r.Hardware, r.Mode,
						strconv.FormatFloat(r.LatencyMs, 'g', -1, 64))
				}
				return w.Flush()
			case "csv":
				return fhebench.WriteCSV(out, reg.List(f))
			case "json":
				recs := []fhebench.Record{}
				for r := range reg.List(f) {
					recs = append(recs, r)
				}
				return writeJSON(out, recs)
			default:
				return fmt.Errorf("unknown format %q (want table, csv or json)", format)
			}
		},
	}
	filterFlags(cmd.Flags())
	cmd.Flags().StringVar(&format, "format", "table", "output format: table, csv or json")
	return cmd
}

func newSummaryCmd(a *app) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "summary",
		Short: "Print latency statistics of the records matching a filter",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			f, err := parseFilter(cmd.Flags())
			if err != nil {
				return err
			}
			reg, err := a.registry(cmd.Context())
			if err != nil {
				return err
			}
			s, err := fhebench.Summarize(reg.List(f))
			if err != nil {
				return err
			}

			if asJSON {
				return writeJSON(cmd.OutOrStdout(), s)
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintf(w, "records\t%d\n", s.Count)
			fmt.Fprintf(w, "min\t%.4f ms\n", s.Min)
			fmt.Fprintf(w, "median\t%.4f ms\n", s.Median)
			fmt.Fprintf(w, "mean\t%.4f ms\n", s.Mean)
			fmt.Fprintf(w, "p95\t%.4f ms\n", s.P95)
			fmt.Fprintf(w, "max\t%.4f ms\n", s.Max)
			fmt.Fprintf(w, "stddev\t%.4f ms\n", s.StdDev)
			return w.Flush()
		},
	}
	filterFlags(cmd.Flags())
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the summary as JSON")
	return cmd
}

func newSpeedupCmd(a *app) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:     "speedup <baseline-hardware> <candidate-hardware>",
		Short:   "Compare latencies of two hardware configurations",
		Example: `  fhe-bench speedup 1xH100 8xH100`,
		Args:    cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, err := a.registry(cmd.Context())
			if err != nil {
				return err
			}
			speedups := fhebench.Speedups(reg, args[0], args[1])
			if len(speedups) == 0 {
				return fmt.Errorf("%w: no configuration measured on both %s and %s", fhebench.ErrNotFound, args[0], args[1])
			}

			if asJSON {
				return writeJSON(cmd.OutOrStdout(), speedups)
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintf(w, "OPERATION\tBITS\tMODE\t%s (ms)\t%s (ms)\tSPEEDUP\n", args[0], args[1])
			for _, s := range speedups {
				fmt.Fprintf(w, "%s\t%d\t%s\t%g\t%g\t%.2fx\n",
					s.Operation, s.BitWidth, s.Mode, s.Baseline.LatencyMs, s.Candidate.LatencyMs, s.Ratio)
			}
			return w.Flush()
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print speedups as JSON")
	return cmd
}
