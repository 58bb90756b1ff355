package main

import (
	"errors"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/luxfi/fhebench"
)

// errRegressions is returned by compare --fail when regressions were found.
var errRegressions = errors.New("latency regressions detected")

func newCompareCmd(a *app) *cobra.Command {
	var (
		threshold float64
		all       bool
		fail      bool
	)
	cmd := &cobra.Command{
		Use:   "compare <previous> <current>",
		Short: "Report latency changes between two registries",
		Long: `Compare matches the configurations present in both registries and reports
the latency change of each. Changes above --threshold percent are flagged
as regressions.`,
		Example: `  fhe-bench compare last-release.fhb nightly.csv --threshold 5 --fail`,
		Args:    cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			prev, err := a.loadFile(args[0])
			if err != nil {
				return err
			}
			curr, err := a.loadFile(args[1])
			if err != nil {
				return err
			}

			deltas := fhebench.Compare(prev, curr, threshold)
			regressions := fhebench.Regressions(deltas)
			shown := regressions
			if all {
				shown = deltas
			}

			out := cmd.OutOrStdout()
			if len(shown) > 0 {
				w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
				fmt.Fprintln(w, "CONFIGURATION\tPREVIOUS (ms)\tCURRENT (ms)\tCHANGE\t")
				for _, d := range shown {
					flag := ""
					if d.Regression {
						flag = "REGRESSION"
					}
					fmt.Fprintf(w, "%s\t%g\t%g\t%+.2f%%\t%s\n", d.Key, d.Prev.LatencyMs, d.Curr.LatencyMs, d.ChangePct, flag)
				}
				if err := w.Flush(); err != nil {
					return err
				}
			}
			fmt.Fprintf(out, "%d configurations compared, %d regressions above %g%%\n", len(deltas), len(regressions), threshold)

			if fail && len(regressions) > 0 {
				return fmt.Errorf("%w: %d", errRegressions, len(regressions))
			}
			return nil
		},
	}
	cmd.Flags().Float64Var(&threshold, "threshold", 10, "percent latency increase flagged as a regression")
	cmd.Flags().BoolVar(&all, "all", false, "show every compared configuration, not only regressions")
	cmd.Flags().BoolVar(&fail, "fail", false, "exit non-zero when regressions are found")
	return cmd
}

func newConvertCmd(a *app) *cobra.Command {
	var unversioned bool
	cmd := &cobra.Command{
		Use:   "convert <input> <output>",
		Short: "Convert between CSV and .fhb snapshot formats",
		Long: `Convert reads a registry from input and writes it to output. The format of
each side follows its extension: .fhb for binary snapshots, anything else
for CSV.`,
		Example: `  fhe-bench convert benchmarks.csv benchmarks.fhb`,
		Args:    cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, err := a.loadFile(args[0])
			if err != nil {
				return err
			}
			mode := fhebench.Versioned
			if unversioned {
				mode = fhebench.Unversioned
			}
			if err := writeFile(args[1], reg, mode); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %d records to %s\n", reg.Len(), args[1])
			return nil
		},
	}
	cmd.Flags().BoolVar(&unversioned, "unversioned", false, "write snapshots without a record version tag")
	return cmd
}
