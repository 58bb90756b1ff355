// Package storage keeps registry snapshots addressed by the blake3 hash of
// their bytes, so a worker and the CLI can hand snapshots over by handle.
package storage

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/zeebo/blake3"

	"github.com/luxfi/fhebench"
)

// Common errors.
var (
	ErrNotFound      = errors.New("snapshot not found")
	ErrInvalidHandle = errors.New("invalid snapshot handle")
)

// Handle is the hex blake3 digest of a snapshot.
type Handle string

// ComputeHandle returns the handle of snapshot bytes.
func ComputeHandle(data []byte) Handle {
	sum := blake3.Sum256(data)
	return Handle(hex.EncodeToString(sum[:]))
}

// Valid reports whether h looks like a ComputeHandle result. Only valid
// handles are turned into paths.
func (h Handle) Valid() bool {
	if len(h) != hex.EncodedLen(32) {
		return false
	}
	_, err := hex.DecodeString(string(h))
	return err == nil
}

// Storage holds snapshots by handle.
type Storage interface {
	Store(ctx context.Context, data []byte) (Handle, error)
	Load(ctx context.Context, handle Handle) ([]byte, error)
	Exists(ctx context.Context, handle Handle) (bool, error)
	Close() error
}

// StoreRegistry serializes reg and stores the snapshot unless a snapshot
// with identical bytes is already present.
func StoreRegistry(ctx context.Context, s Storage, reg *fhebench.Registry) (Handle, error) {
	data, err := reg.MarshalBinary()
	if err != nil {
		return "", fmt.Errorf("serialize registry: %w", err)
	}

	handle := ComputeHandle(data)
	ok, err := s.Exists(ctx, handle)
	if err != nil {
		return "", err
	}
	if ok {
		slog.DebugContext(ctx, "snapshot already stored", "snapshot", handle)
		return handle, nil
	}
	return s.Store(ctx, data)
}

// LoadRegistry fetches and decodes the snapshot stored under handle.
func LoadRegistry(ctx context.Context, s Storage, handle Handle) (*fhebench.Registry, error) {
	data, err := s.Load(ctx, handle)
	if err != nil {
		return nil, err
	}
	var reg fhebench.Registry
	if err := reg.UnmarshalBinary(data); err != nil {
		return nil, fmt.Errorf("decode snapshot %s: %w", handle, err)
	}
	return &reg, nil
}

// Dir stores snapshots as <root>/<h[:2]>/<h>.fhb.
type Dir struct {
	root string
}

// Open returns the snapshot directory at root, creating it if needed.
func Open(root string) (*Dir, error) {
	if err := os.MkdirAll(root, 0o750); err != nil {
		return nil, fmt.Errorf("create storage dir: %w", err)
	}
	return &Dir{root: root}, nil
}

func (d *Dir) path(h Handle) string {
	return filepath.Join(d.root, string(h[:2]), string(h)+fhebench.SnapshotExt)
}

// Store writes data through a temporary file so readers never see a
// partial snapshot.
func (d *Dir) Store(ctx context.Context, data []byte) (Handle, error) {
	h := ComputeHandle(data)
	path := d.path(h)
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return "", fmt.Errorf("create shard dir: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), "."+string(h[:8])+"-*")
	if err != nil {
		return "", fmt.Errorf("create temp snapshot: %w", err)
	}
	_, werr := tmp.Write(data)
	cerr := tmp.Close()
	if err := errors.Join(werr, cerr); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("write snapshot %s: %w", h, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("publish snapshot %s: %w", h, err)
	}
	return h, nil
}

func (d *Dir) Load(ctx context.Context, h Handle) ([]byte, error) {
	if !h.Valid() {
		return nil, ErrInvalidHandle
	}
	data, err := os.ReadFile(d.path(h))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read snapshot %s: %w", h, err)
	}
	return data, nil
}

func (d *Dir) Exists(ctx context.Context, h Handle) (bool, error) {
	if !h.Valid() {
		return false, ErrInvalidHandle
	}
	_, err := os.Stat(d.path(h))
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, fs.ErrNotExist):
		return false, nil
	default:
		return false, fmt.Errorf("stat snapshot %s: %w", h, err)
	}
}

func (d *Dir) Close() error { return nil }
