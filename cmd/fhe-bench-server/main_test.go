package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/luxfi/fhebench"
	"github.com/luxfi/fhebench/internal/config"
	"github.com/luxfi/fhebench/internal/sqlstore"
)

func testRegistry(t *testing.T) *fhebench.Registry {
	t.Helper()
	reg, err := fhebench.New([]fhebench.Record{
		{Operation: "add", BitWidth: 64, Hardware: "1xH100", Mode: fhebench.BothEncrypted, LatencyMs: 12.3},
		{Operation: "mul", BitWidth: 64, Hardware: "1xH100", Mode: fhebench.BothEncrypted, LatencyMs: 120},
	})
	require.NoError(t, err)
	return reg
}

func TestLoadRegistrySources(t *testing.T) {
	reg := testRegistry(t)
	dir := t.TempDir()

	var csvBuf bytes.Buffer
	require.NoError(t, fhebench.WriteCSV(&csvBuf, reg.All()))
	csvPath := filepath.Join(dir, "bench.csv")
	require.NoError(t, os.WriteFile(csvPath, csvBuf.Bytes(), 0o600))

	snap, err := reg.MarshalBinary()
	require.NoError(t, err)
	snapPath := filepath.Join(dir, "bench.FHB")
	require.NoError(t, os.WriteFile(snapPath, snap, 0o600))

	dbPath := filepath.Join(dir, "bench.sqlite")
	store, err := sqlstore.Open(dbPath)
	require.NoError(t, err)
	require.NoError(t, store.Save(t.Context(), reg.Records()))
	require.NoError(t, store.Close())

	tests := []struct {
		name string
		cfg  config.Config
		want string
	}{
		{"csv", config.Config{Source: csvPath}, csvPath},
		{"snapshot", config.Config{Source: snapPath, SizeLimit: fhebench.DefaultSizeLimit}, snapPath},
		{"database wins", config.Config{Source: csvPath, DB: dbPath}, dbPath},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, source, err := loadRegistry(&tc.cfg)
			require.NoError(t, err)
			assert.Equal(t, tc.want, source)
			assert.Equal(t, reg.Records(), got.Records())
		})
	}

	_, _, err = loadRegistry(&config.Config{Source: snapPath, SizeLimit: 8})
	assert.ErrorIs(t, err, fhebench.ErrSizeLimit)

	_, _, err = loadRegistry(&config.Config{Source: filepath.Join(dir, "missing.csv")})
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestRunRejectsBadFlags(t *testing.T) {
	t.Chdir(t.TempDir())
	assert.Error(t, run([]string{"--no-such-flag"}))
	assert.NoError(t, run([]string{"--help"}))
	assert.Error(t, run([]string{"--source", "missing.csv", "--log-level", "error"}))
}
