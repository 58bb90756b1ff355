// Copyright (c) 2025, Lux Industries Inc
// SPDX-License-Identifier: BSD-3-Clause

package fhebench

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSafeSerializeRoundTrip(t *testing.T) {
	reg := sampleRegistry(t)

	for _, mode := range []VersioningMode{Versioned, Unversioned} {
		t.Run(string(mode), func(t *testing.T) {
			var buf bytes.Buffer
			require.NoError(t, SafeSerialize(&buf, reg, SerializationConfig{Mode: mode, SizeLimit: DefaultSizeLimit}))

			got, err := SafeDeserialize(&buf, DefaultDeserializationConfig())
			require.NoError(t, err)
			assert.Equal(t, reg.Records(), got.Records())

			rec, err := got.Query("mul", 64, "8xH100", BothEncrypted)
			require.NoError(t, err)
			assert.Equal(t, 19.5, rec.LatencyMs)
		})
	}
}

func TestMarshalBinary(t *testing.T) {
	reg := sampleRegistry(t)
	data, err := reg.MarshalBinary()
	require.NoError(t, err)

	var got Registry
	require.NoError(t, got.UnmarshalBinary(data))
	assert.Equal(t, reg.Records(), got.Records())
	assert.Equal(t, reg.Operations(), got.Operations())
}

func TestSerializeSizeLimit(t *testing.T) {
	reg := sampleRegistry(t)

	var buf bytes.Buffer
	err := SafeSerialize(&buf, reg, SerializationConfig{Mode: Versioned, SizeLimit: 16})
	require.ErrorIs(t, err, ErrSizeLimit)

	buf.Reset()
	require.NoError(t, SafeSerialize(&buf, reg, DefaultSerializationConfig()))
	_, err = SafeDeserialize(bytes.NewReader(buf.Bytes()), DeserializationConfig{SizeLimit: 16})
	require.ErrorIs(t, err, ErrSizeLimit)

	// Zero disables the limit.
	_, err = SafeDeserialize(bytes.NewReader(buf.Bytes()), DeserializationConfig{})
	require.NoError(t, err)
}

// snapshotParts splits a snapshot into its decoded header and raw body.
func snapshotParts(t *testing.T, data []byte) (snapshotHeader, []byte) {
	t.Helper()
	r := bytes.NewReader(data)
	hdrBytes, err := readChunk(r, headerLengthLimit)
	require.NoError(t, err)
	var hdr snapshotHeader
	require.NoError(t, json.Unmarshal(hdrBytes, &hdr))
	body, err := readChunk(r, 0)
	require.NoError(t, err)
	return hdr, body
}

func assemble(t *testing.T, hdr snapshotHeader, body []byte) []byte {
	t.Helper()
	hdrBytes, err := json.Marshal(hdr)
	require.NoError(t, err)
	var buf bytes.Buffer
	require.NoError(t, writeChunk(&buf, hdrBytes))
	require.NoError(t, writeChunk(&buf, body))
	return buf.Bytes()
}

func TestDeserializeCorrupt(t *testing.T) {
	reg := sampleRegistry(t)
	data, err := reg.MarshalBinary()
	require.NoError(t, err)
	hdr, body := snapshotParts(t, data)

	t.Run("flipped body byte", func(t *testing.T) {
		bad := bytes.Clone(body)
		bad[len(bad)/2] ^= 0x01
		_, err := SafeDeserialize(bytes.NewReader(assemble(t, hdr, bad)), DefaultDeserializationConfig())
		assert.ErrorIs(t, err, ErrCorrupt)
	})

	t.Run("skip digest still validates records", func(t *testing.T) {
		var v versionedBody
		require.NoError(t, json.Unmarshal(body, &v))
		v.Records = json.RawMessage(`[{"operation":"add","bit_width":0,"hardware":"1xH100","operand_mode":"both_encrypted","latency_ms":1}]`)
		bad, err := json.Marshal(v)
		require.NoError(t, err)
		_, err = SafeDeserialize(bytes.NewReader(assemble(t, hdr, bad)), DeserializationConfig{SkipDigest: true})
		assert.ErrorIs(t, err, ErrInvalidRecord)
	})

	t.Run("truncated", func(t *testing.T) {
		for _, n := range []int{0, 4, 8, len(data) / 2, len(data) - 1} {
			_, err := SafeDeserialize(bytes.NewReader(data[:n]), DefaultDeserializationConfig())
			assert.ErrorIs(t, err, ErrCorrupt, "prefix of %d bytes", n)
		}
	})

	t.Run("oversized header", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, binary.Write(&buf, binary.LittleEndian, uint64(headerLengthLimit+1)))
		_, err := SafeDeserialize(&buf, DefaultDeserializationConfig())
		assert.ErrorIs(t, err, ErrSizeLimit)
	})

	t.Run("huge length prefix", func(t *testing.T) {
		var buf bytes.Buffer
		hdrBytes, err := json.Marshal(hdr)
		require.NoError(t, err)
		require.NoError(t, writeChunk(&buf, hdrBytes))
		require.NoError(t, binary.Write(&buf, binary.LittleEndian, uint64(1)<<62))
		_, err = SafeDeserialize(&buf, DeserializationConfig{})
		assert.ErrorIs(t, err, ErrCorrupt)
	})

	t.Run("wrong name", func(t *testing.T) {
		h := hdr
		h.Name = "fhe.Ciphertext"
		_, err := SafeDeserialize(bytes.NewReader(assemble(t, h, body)), DefaultDeserializationConfig())
		assert.ErrorIs(t, err, ErrCorrupt)
	})

	t.Run("unknown versioning mode", func(t *testing.T) {
		h := hdr
		h.VersioningMode = "compressed"
		_, err := SafeDeserialize(bytes.NewReader(assemble(t, h, body)), DefaultDeserializationConfig())
		assert.ErrorIs(t, err, ErrCorrupt)
	})
}

func TestSerializeUnknownMode(t *testing.T) {
	var buf bytes.Buffer
	err := SafeSerialize(&buf, sampleRegistry(t), SerializationConfig{Mode: "bogus"})
	assert.ErrorIs(t, err, ErrUnsupportedVersion)
	assert.Zero(t, buf.Len(), "nothing may be written for a rejected mode")
}

func TestDeserializeSkipHeaderValidation(t *testing.T) {
	reg := sampleRegistry(t)
	data, err := reg.MarshalBinary()
	require.NoError(t, err)
	hdr, body := snapshotParts(t, data)
	hdr.Name = "fhebench.Legacy"
	hdr.VersioningVersion = "9.9"
	renamed := assemble(t, hdr, body)

	_, err = SafeDeserialize(bytes.NewReader(renamed), DefaultDeserializationConfig())
	require.ErrorIs(t, err, ErrCorrupt)

	cfg := DefaultDeserializationConfig()
	cfg.SkipHeaderValidation = true
	got, err := SafeDeserialize(bytes.NewReader(renamed), cfg)
	require.NoError(t, err)
	assert.Equal(t, reg.Records(), got.Records())

	hdr.VersioningMode = "compressed"
	_, err = SafeDeserialize(bytes.NewReader(assemble(t, hdr, body)), cfg)
	assert.ErrorIs(t, err, ErrCorrupt)
}

func TestDeserializeConformance(t *testing.T) {
	reg := sampleRegistry(t)
	data, err := reg.MarshalBinary()
	require.NoError(t, err)

	cfg := DefaultDeserializationConfig()
	cfg.Conformance = func(r Record) error {
		if r.Hardware != "1xH100" {
			return errors.New("only single-GPU rows are accepted")
		}
		return nil
	}
	_, err = SafeDeserialize(bytes.NewReader(data), cfg)
	require.ErrorIs(t, err, ErrNonConformant)
	assert.ErrorContains(t, err, "2xH100")

	cfg.Conformance = func(r Record) error { return nil }
	got, err := SafeDeserialize(bytes.NewReader(data), cfg)
	require.NoError(t, err)
	assert.Equal(t, reg.Len(), got.Len())
}

func TestDeserializeVersions(t *testing.T) {
	reg := sampleRegistry(t)

	t.Run("future versioning scheme", func(t *testing.T) {
		data, err := reg.MarshalBinary()
		require.NoError(t, err)
		hdr, body := snapshotParts(t, data)
		hdr.VersioningVersion = "9.9"
		_, err = SafeDeserialize(bytes.NewReader(assemble(t, hdr, body)), DefaultDeserializationConfig())
		assert.ErrorIs(t, err, ErrUnsupportedVersion)
	})

	t.Run("unknown record version", func(t *testing.T) {
		data, err := reg.MarshalBinary()
		require.NoError(t, err)
		hdr, body := snapshotParts(t, data)
		var v versionedBody
		require.NoError(t, json.Unmarshal(body, &v))
		v.Version = "V7"
		bad, err := json.Marshal(v)
		require.NoError(t, err)
		_, err = SafeDeserialize(bytes.NewReader(assemble(t, hdr, bad)), DeserializationConfig{SkipDigest: true})
		assert.ErrorIs(t, err, ErrUnsupportedVersion)
	})

	t.Run("unversioned from another release", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, SafeSerialize(&buf, reg, SerializationConfig{Mode: Unversioned}))
		hdr, body := snapshotParts(t, buf.Bytes())
		hdr.HeaderVersion = "0.0"
		_, err := SafeDeserialize(bytes.NewReader(assemble(t, hdr, body)), DefaultDeserializationConfig())
		assert.ErrorIs(t, err, ErrUnsupportedVersion)
	})

	t.Run("versioned from another release", func(t *testing.T) {
		data, err := reg.MarshalBinary()
		require.NoError(t, err)
		hdr, body := snapshotParts(t, data)
		hdr.HeaderVersion = "0.0"
		got, err := SafeDeserialize(bytes.NewReader(assemble(t, hdr, body)), DefaultDeserializationConfig())
		require.NoError(t, err)
		assert.Equal(t, reg.Len(), got.Len())
	})
}

func BenchmarkSafeDeserialize(b *testing.B) {
	reg := sampleRegistry(b)
	data, err := reg.MarshalBinary()
	if err != nil {
		b.Fatal(err)
	}
	b.SetBytes(int64(len(data)))
	for b.Loop() {
		if _, err := SafeDeserialize(bytes.NewReader(data), DefaultDeserializationConfig()); err != nil {
			b.Fatal(err)
		}
	}
}
