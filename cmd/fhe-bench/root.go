package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/luxfi/fhebench"
	"github.com/luxfi/fhebench/internal/config"
	"github.com/luxfi/fhebench/internal/sqlstore"
	"github.com/luxfi/fhebench/internal/telemetry"
)

// app carries state shared by every subcommand of one invocation.
type app struct {
	v        *viper.Viper
	cfgFile  string
	cfg      *config.Config
	closeLog func() error
}

func newRootCmd() *cobra.Command {
	a := &app{v: viper.New()}

	root := &cobra.Command{
		Use:   "fhe-bench",
		Short: "Query and produce FHE operation latency benchmarks",
		Long: `fhe-bench works with registries of measured latencies of homomorphic
operations (add, mul, ...) per bit width, hardware and operand mode.

Registries are read from CSV files, binary .fhb snapshots or a SQLite
database, and can be produced locally with "fhe-bench measure" or by
workers through "fhe-bench enqueue".`,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: a.setup,
		PersistentPostRunE: func(*cobra.Command, []string) error {
			if a.closeLog != nil {
				return a.closeLog()
			}
			return nil
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&a.cfgFile, "config", "", "config file (default is ./fhebench.yaml)")
	pf.String("source", "", "registry source: .csv file or .fhb snapshot")
	pf.String("db", "", "SQLite database used instead of --source")
	pf.Uint64("size-limit", 0, "maximum snapshot body size in bytes, 0 disables the check (default 1 GiB)")
	pf.String("log-level", "", "log level: debug, info, warn, error")
	pf.String("log-format", "", "log format: text or json")
	pf.String("log-file", "", "write logs to this file instead of stderr")

	root.AddCommand(
		newQueryCmd(a),
		newListCmd(a),
		newSummaryCmd(a),
		newSpeedupCmd(a),
		newCompareCmd(a),
		newConvertCmd(a),
		newMeasureCmd(a),
		newEnqueueCmd(a),
		newJobCmd(a),
		newDBCmd(a),
	)
	return root
}

func (a *app) setup(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(a.v, a.cfgFile, cmd.Flags())
	if err != nil {
		return err
	}
	closeLog, err := telemetry.InitLogger(cfg.Log.Level, cfg.Log.Format, cfg.Log.File)
	if err != nil {
		return err
	}
	a.cfg, a.closeLog = cfg, closeLog
	return nil
}

// registry loads the configured source. A database takes precedence over
// a file source.
func (a *app) registry(ctx context.Context) (*fhebench.Registry, error) {
	if a.cfg.DB != "" {
		store, err := sqlstore.Open(a.cfg.DB)
		if err != nil {
			return nil, err
		}
		defer store.Close()
		return store.Registry(ctx)
	}
	return a.loadFile(a.cfg.Source)
}

// loadFile reads a CSV or snapshot file honoring the configured size limit.
func (a *app) loadFile(path string) (*fhebench.Registry, error) {
	if !isSnapshot(path) {
		return fhebench.LoadFile(path)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open source: %w", err)
	}
	defer f.Close()
	reg, err := fhebench.SafeDeserialize(f, a.cfg.DeserializationConfig())
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return reg, nil
}

// writeFile writes reg as CSV or as a snapshot depending on the extension
// of path.
func writeFile(path string, reg *fhebench.Registry, mode fhebench.VersioningMode) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	if isSnapshot(path) {
		cfg := fhebench.DefaultSerializationConfig()
		cfg.Mode = mode
		err = fhebench.SafeSerialize(f, reg, cfg)
	} else {
		err = fhebench.WriteCSV(f, reg.All())
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

func isSnapshot(path string) bool {
	return strings.EqualFold(filepath.Ext(path), fhebench.SnapshotExt)
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// filterFlags registers the record filter flags shared by list and summary.
func filterFlags(fs *pflag.FlagSet) {
	fs.String("operation", "", "only records of this operation")
	fs.Int("bit-width", 0, "only records of this bit width")
	fs.String("hardware", "", "only records measured on this hardware")
	fs.String("mode", "", "only records in this operand mode")
}

func parseFilter(fs *pflag.FlagSet) (fhebench.Filter, error) {
	var f fhebench.Filter
	var err error
	if f.Operation, err = fs.GetString("operation"); err != nil {
		return f, err
	}
	if f.BitWidth, err = fs.GetInt("bit-width"); err != nil {
		return f, err
	}
	if f.BitWidth < 0 {
		return f, fmt.Errorf("--bit-width must be positive, got %d", f.BitWidth)
	}
	if f.Hardware, err = fs.GetString("hardware"); err != nil {
		return f, err
	}
	mode, err := fs.GetString("mode")
	if err != nil {
		return f, err
	}
	if mode != "" {
		if f.Mode, err = fhebench.ParseOperandMode(mode); err != nil {
			return f, err
		}
	}
	return f, nil
}
