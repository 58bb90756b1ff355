// Copyright (c) 2025, Lux Industries Inc
// SPDX-License-Identifier: BSD-3-Clause

package fhebench

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/zeebo/blake3"
)

// SnapshotExt is the file extension of binary registry snapshots.
const SnapshotExt = ".fhb"

const (
	// SerializationVersion changes whenever the snapshot layout changes.
	SerializationVersion = "0.1"
	// VersioningVersion is the version of the body versioning scheme.
	VersioningVersion = "0.1"

	snapshotName      = "fhebench.Registry"
	headerLengthLimit = 1000

	// DefaultSizeLimit bounds snapshot bodies read with the default config.
	DefaultSizeLimit = 1 << 30
)

// VersioningMode tells whether a snapshot body carries a version tag.
type VersioningMode string

const (
	Versioned   VersioningMode = "versioned"
	Unversioned VersioningMode = "unversioned"
)

// ========== Header ==========

type snapshotHeader struct {
	HeaderVersion     string         `json:"header_version"`
	VersioningMode    VersioningMode `json:"versioning_mode"`
	VersioningVersion string         `json:"versioning_version"`
	Name              string         `json:"name"`
	BodyDigest        string         `json:"body_digest"`
}

func (h snapshotHeader) validate() error {
	if h.Name != snapshotName {
		return fmt.Errorf("%w: snapshot holds %q, expected %q", ErrCorrupt, h.Name, snapshotName)
	}
	switch h.VersioningMode {
	case Versioned:
		if h.VersioningVersion != VersioningVersion {
			return fmt.Errorf("%w: versioning scheme %s, expected %s", ErrUnsupportedVersion, h.VersioningVersion, VersioningVersion)
		}
	case Unversioned:
		// Unversioned bodies are only readable by the same serialization version.
		if h.HeaderVersion != SerializationVersion {
			return fmt.Errorf("%w: unversioned snapshot written by serialization %s, use versioned mode for backward compatibility",
				ErrUnsupportedVersion, h.HeaderVersion)
		}
	default:
		return fmt.Errorf("%w: unknown versioning mode %q", ErrCorrupt, h.VersioningMode)
	}
	return nil
}

// ========== Versioned body ==========

type versionedBody struct {
	Version string          `json:"version"`
	Records json.RawMessage `json:"records"`
}

// recordV0 is the first persisted record layout. New layouts get a new
// struct and an upgrade path in decodeBody.
type recordV0 struct {
	Operation string      `json:"operation"`
	BitWidth  int         `json:"bit_width"`
	Hardware  string      `json:"hardware"`
	Mode      OperandMode `json:"operand_mode"`
	LatencyMs float64     `json:"latency_ms"`
}

func (r recordV0) upgrade() Record {
	return Record(r)
}

func encodeBody(reg *Registry, mode VersioningMode) ([]byte, error) {
	recs := make([]recordV0, len(reg.records))
	for i, r := range reg.records {
		recs[i] = recordV0(r)
	}
	raw, err := json.Marshal(recs)
	if err != nil {
		return nil, fmt.Errorf("marshal records: %w", err)
	}
	if mode == Unversioned {
		return raw, nil
	}
	return json.Marshal(versionedBody{Version: "V0", Records: raw})
}

func decodeBody(data []byte, mode VersioningMode) ([]Record, error) {
	raw := json.RawMessage(data)
	if mode == Versioned {
		var vb versionedBody
		if err := json.Unmarshal(data, &vb); err != nil {
			return nil, fmt.Errorf("%w: decode body: %v", ErrCorrupt, err)
		}
		if vb.Version != "V0" {
			return nil, fmt.Errorf("%w: record version %q", ErrUnsupportedVersion, vb.Version)
		}
		raw = vb.Records
	}

	var recs []recordV0
	if err := json.Unmarshal(raw, &recs); err != nil {
		return nil, fmt.Errorf("%w: decode records: %v", ErrCorrupt, err)
	}
	out := make([]Record, len(recs))
	for i, r := range recs {
		out[i] = r.upgrade()
	}
	return out, nil
}

// ========== Configs ==========

// SerializationConfig controls SafeSerialize.
type SerializationConfig struct {
	Mode VersioningMode
	// SizeLimit is the maximum body size in bytes; 0 disables the check.
	SizeLimit uint64
}

// DefaultSerializationConfig returns a versioned config with DefaultSizeLimit.
func DefaultSerializationConfig() SerializationConfig {
	return SerializationConfig{Mode: Versioned, SizeLimit: DefaultSizeLimit}
}

// DeserializationConfig controls SafeDeserialize.
type DeserializationConfig struct {
	// SizeLimit is the maximum accepted body size in bytes; 0 disables the check.
	SizeLimit uint64
	// SkipDigest disables the body digest check.
	SkipDigest bool
	// SkipHeaderValidation accepts any snapshot name and serialization
	// version. The versioning mode must still be known to decode the body.
	SkipHeaderValidation bool
	// Conformance, if set, must accept every decoded record.
	Conformance func(Record) error
}

// DefaultDeserializationConfig returns a config with DefaultSizeLimit and
// digest verification enabled.
func DefaultDeserializationConfig() DeserializationConfig {
	return DeserializationConfig{SizeLimit: DefaultSizeLimit}
}

// ========== Safe serialization ==========

// SafeSerialize writes reg as a snapshot: a length-prefixed JSON header
// followed by a length-prefixed JSON body.
func SafeSerialize(w io.Writer, reg *Registry, cfg SerializationConfig) error {
	switch cfg.Mode {
	case "":
		cfg.Mode = Versioned
	case Versioned, Unversioned:
	default:
		return fmt.Errorf("%w: unknown versioning mode %q", ErrUnsupportedVersion, cfg.Mode)
	}
	body, err := encodeBody(reg, cfg.Mode)
	if err != nil {
		return err
	}
	if cfg.SizeLimit > 0 && uint64(len(body)) > cfg.SizeLimit {
		return fmt.Errorf("%w: body is %d bytes, limit %d", ErrSizeLimit, len(body), cfg.SizeLimit)
	}

	digest := blake3.Sum256(body)
	hdr := snapshotHeader{
		HeaderVersion:     SerializationVersion,
		VersioningMode:    cfg.Mode,
		VersioningVersion: VersioningVersion,
		Name:              snapshotName,
		BodyDigest:        hex.EncodeToString(digest[:]),
	}
	hdrBytes, err := json.Marshal(hdr)
	if err != nil {
		return fmt.Errorf("marshal header: %w", err)
	}

	if err := writeChunk(w, hdrBytes); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	if err := writeChunk(w, body); err != nil {
		return fmt.Errorf("write body: %w", err)
	}
	return nil
}

// SafeDeserialize reads a snapshot written by SafeSerialize and rebuilds the
// registry, re-checking every record invariant.
func SafeDeserialize(r io.Reader, cfg DeserializationConfig) (*Registry, error) {
	hdrBytes, err := readChunk(r, headerLengthLimit)
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	var hdr snapshotHeader
	if err := json.Unmarshal(hdrBytes, &hdr); err != nil {
		return nil, fmt.Errorf("%w: decode header: %v", ErrCorrupt, err)
	}
	switch {
	case !cfg.SkipHeaderValidation:
		if err := hdr.validate(); err != nil {
			return nil, err
		}
	case hdr.VersioningMode != Versioned && hdr.VersioningMode != Unversioned:
		return nil, fmt.Errorf("%w: unknown versioning mode %q", ErrCorrupt, hdr.VersioningMode)
	}

	body, err := readChunk(r, cfg.SizeLimit)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if !cfg.SkipDigest {
		digest := blake3.Sum256(body)
		if hex.EncodeToString(digest[:]) != hdr.BodyDigest {
			return nil, fmt.Errorf("%w: body digest mismatch", ErrCorrupt)
		}
	}

	recs, err := decodeBody(body, hdr.VersioningMode)
	if err != nil {
		return nil, err
	}
	if cfg.Conformance != nil {
		for _, r := range recs {
			if err := cfg.Conformance(r); err != nil {
				return nil, fmt.Errorf("%w: %s: %v", ErrNonConformant, r.Key(), err)
			}
		}
	}
	return New(recs)
}

// MarshalBinary serializes the registry with the default config.
func (reg *Registry) MarshalBinary() ([]byte, error) {
	var buf bytes.Buffer
	if err := SafeSerialize(&buf, reg, DefaultSerializationConfig()); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// UnmarshalBinary replaces reg with the registry decoded from data.
func (reg *Registry) UnmarshalBinary(data []byte) error {
	decoded, err := SafeDeserialize(bytes.NewReader(data), DefaultDeserializationConfig())
	if err != nil {
		return err
	}
	*reg = *decoded
	return nil
}

func writeChunk(w io.Writer, data []byte) error {
	if err := binary.Write(w, binary.LittleEndian, uint64(len(data))); err != nil {
		return err
	}
	_, err := w.Write(data)
	return err
}

func readChunk(r io.Reader, limit uint64) ([]byte, error) {
	var n uint64
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, fmt.Errorf("%w: truncated length prefix", ErrCorrupt)
		}
		return nil, err
	}
	if limit > 0 && n > limit {
		return nil, fmt.Errorf("%w: chunk is %d bytes, limit %d", ErrSizeLimit, n, limit)
	}
	if n > math.MaxInt64 {
		return nil, fmt.Errorf("%w: chunk length %d", ErrCorrupt, n)
	}
	// Allocation is bounded by the bytes actually present.
	data, err := io.ReadAll(io.LimitReader(r, int64(n)))
	if err != nil {
		return nil, err
	}
	if uint64(len(data)) != n {
		return nil, fmt.Errorf("%w: truncated chunk", ErrCorrupt)
	}
	return data, nil
}
