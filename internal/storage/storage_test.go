package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/luxfi/fhebench"
)

func testRegistry(t *testing.T) *fhebench.Registry {
	t.Helper()
	reg, err := fhebench.New([]fhebench.Record{
		{Operation: "add", BitWidth: 64, Hardware: "1xH100", Mode: fhebench.BothEncrypted, LatencyMs: 12.3},
		{Operation: "mul", BitWidth: 64, Hardware: "1xH100", Mode: fhebench.LeftEncryptedRightClear, LatencyMs: 40.5},
	})
	require.NoError(t, err)
	return reg
}

func TestDir(t *testing.T) {
	ctx := t.Context()
	root := t.TempDir()
	d, err := Open(filepath.Join(root, "snapshots"))
	require.NoError(t, err)
	defer d.Close()

	h, err := d.Store(ctx, []byte("snapshot"))
	require.NoError(t, err)
	assert.True(t, h.Valid())
	assert.Equal(t, ComputeHandle([]byte("snapshot")), h)
	assert.FileExists(t, filepath.Join(root, "snapshots", string(h[:2]), string(h)+fhebench.SnapshotExt))

	data, err := d.Load(ctx, h)
	require.NoError(t, err)
	assert.Equal(t, []byte("snapshot"), data)

	ok, err := d.Exists(ctx, h)
	require.NoError(t, err)
	assert.True(t, ok)

	other := ComputeHandle([]byte("other"))
	ok, err = d.Exists(ctx, other)
	require.NoError(t, err)
	assert.False(t, ok)
	_, err = d.Load(ctx, other)
	assert.ErrorIs(t, err, ErrNotFound)

	entries, err := os.ReadDir(filepath.Join(root, "snapshots", string(h[:2])))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temporary files may be left behind")
}

func TestInvalidHandle(t *testing.T) {
	d, err := Open(t.TempDir())
	require.NoError(t, err)

	for _, h := range []Handle{"", "../../etc/passwd", Handle(string(ComputeHandle(nil)[:63]) + "z")} {
		_, err := d.Load(t.Context(), h)
		assert.ErrorIs(t, err, ErrInvalidHandle, "handle %q", h)
		_, err = d.Exists(t.Context(), h)
		assert.ErrorIs(t, err, ErrInvalidHandle, "handle %q", h)
	}
}

type countingStorage struct {
	Storage
	stores int
}

func (s *countingStorage) Store(ctx context.Context, data []byte) (Handle, error) {
	s.stores++
	return s.Storage.Store(ctx, data)
}

func TestStoreRegistrySkipsExistingSnapshot(t *testing.T) {
	ctx := t.Context()
	d, err := Open(t.TempDir())
	require.NoError(t, err)
	s := &countingStorage{Storage: d}

	reg := testRegistry(t)
	first, err := StoreRegistry(ctx, s, reg)
	require.NoError(t, err)
	second, err := StoreRegistry(ctx, s, reg)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, s.stores)

	loaded, err := LoadRegistry(ctx, s, first)
	require.NoError(t, err)
	assert.Equal(t, reg.Records(), loaded.Records())
}

func TestLoadRegistryCorrupt(t *testing.T) {
	ctx := t.Context()
	d, err := Open(t.TempDir())
	require.NoError(t, err)

	h, err := d.Store(ctx, []byte("not a snapshot"))
	require.NoError(t, err)
	_, err = LoadRegistry(ctx, d, h)
	assert.ErrorContains(t, err, "decode snapshot "+string(h))
}
