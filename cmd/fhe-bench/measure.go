package main

import (
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/luxfi/fhebench"
	"github.com/luxfi/fhebench/internal/profile"
	"github.com/luxfi/fhebench/measure"
)

func newMeasureCmd(a *app) *cobra.Command {
	var (
		out  string
		prof profile.Config
	)
	cmd := &cobra.Command{
		Use:   "measure",
		Short: "Time lattice kernels on this machine",
		Long: `Measure times the built-in lattice kernels (add, mul, neg) on the local
CPU for every configured bit width and prints the resulting records, or
writes them to --out as CSV or .fhb snapshot.`,
		Example: `  fhe-bench measure --bit-widths 8,16 --iterations 32
  fhe-bench measure --out local.fhb --cpuprofile cpu.prof`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) (err error) {
			if prof.Enabled() {
				p := profile.New(prof)
				if err := p.Start(); err != nil {
					return err
				}
				defer func() {
					err = errors.Join(err, p.Stop())
				}()
			}

			mcfg := a.cfg.MeasureConfig()
			slog.Info("measuring kernels",
				"log_n", mcfg.LogN,
				"iterations", mcfg.Iterations,
				"bit_widths", mcfg.BitWidths)
			start := time.Now()
			records, err := measure.Run(cmd.Context(), mcfg)
			if err != nil {
				return err
			}
			reg, err := fhebench.New(records)
			if err != nil {
				return err
			}
			slog.Info("measurement finished", "records", reg.Len(), "elapsed", time.Since(start))

			if out != "" {
				if err := writeFile(out, reg, fhebench.Versioned); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "wrote %d records to %s\n", reg.Len(), out)
				return nil
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "OPERATION\tBITS\tHARDWARE\tMODE\tLATENCY (ms)")
			for r := range reg.All() {
				fmt.Fprintf(w, "%s\t%d\t%s\t%s\t%s\n", r.Operation, r.BitWidth, r.Hardware, r.Mode,
					strconv.FormatFloat(r.LatencyMs, 'f', 4, 64))
			}
			return w.Flush()
		},
	}

	fs := cmd.Flags()
	fs.StringVar(&out, "out", "", "write records to this .csv or .fhb file")
	fs.Int("iterations", 0, "timed repetitions per kernel and width")
	fs.IntSlice("bit-widths", nil, "operand bit widths to measure")
	fs.StringSlice("operations", nil, "operations to measure (default all)")
	fs.String("hardware", "", "hardware descriptor recorded instead of the detected CPU")
	fs.StringVar(&prof.CPUProfile, "cpuprofile", "", "write a CPU profile to this file")
	fs.StringVar(&prof.MemProfile, "memprofile", "", "write a heap profile to this file")
	fs.StringVar(&prof.BlockProfile, "blockprofile", "", "write a block profile to this file")
	fs.StringVar(&prof.MutexProfile, "mutexprofile", "", "write a mutex profile to this file")
	return cmd
}
