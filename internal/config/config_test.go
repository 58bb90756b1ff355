package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load(viper.New(), "", nil)
	require.NoError(t, err)

	assert.Equal(t, "benchmarks.csv", cfg.Source)
	assert.Equal(t, ":8449", cfg.HTTP.Addr)
	assert.Equal(t, 30*time.Second, cfg.HTTP.ReadTimeout)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	assert.Equal(t, 10, cfg.Measure.LogN)
	assert.Equal(t, uint64(0x7fff801), cfg.Measure.Q)
	assert.Equal(t, []int{8, 16, 32, 64}, cfg.Measure.BitWidths)
	assert.Equal(t, "text", cfg.Log.Format)

	m := cfg.MeasureConfig()
	assert.Equal(t, cfg.Measure.Iterations, m.Iterations)
	assert.Equal(t, "localhost:6379", cfg.RedisQueueConfig().Addr)
}

func TestLoadFileEnvAndFlags(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)

	path := filepath.Join(dir, "custom.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
source: results.fhb
http:
  addr: ":9000"
measure:
  iterations: 5
  bit_widths: [4, 8]
log:
  level: debug
`), 0600))

	t.Setenv("FHEBENCH_REDIS_ADDR", "redis:6380")

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.String("http-addr", "", "")
	flags.String("unrelated", "", "")
	require.NoError(t, flags.Parse([]string{"--http-addr=:7000"}))

	cfg, err := Load(viper.New(), path, flags)
	require.NoError(t, err)

	assert.Equal(t, "results.fhb", cfg.Source)
	assert.Equal(t, ":7000", cfg.HTTP.Addr, "flags override the file")
	assert.Equal(t, "redis:6380", cfg.Redis.Addr, "env overrides defaults")
	assert.Equal(t, 5, cfg.Measure.Iterations)
	assert.Equal(t, []int{4, 8}, cfg.Measure.BitWidths)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestLoadMissingExplicitFile(t *testing.T) {
	_, err := Load(viper.New(), filepath.Join(t.TempDir(), "nope.yaml"), nil)
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	t.Chdir(t.TempDir())
	cfg, err := Load(viper.New(), "", nil)
	require.NoError(t, err)

	bad := *cfg
	bad.Log.Format = "xml"
	assert.Error(t, bad.Validate())

	bad = *cfg
	bad.Worker.Count = 0
	assert.Error(t, bad.Validate())

	bad = *cfg
	bad.Measure.Iterations = -1
	assert.Error(t, bad.Validate())
}
