// Copyright (c) 2025, Lux Industries Inc
// SPDX-License-Identifier: BSD-3-Clause

package fhebench

import (
	"errors"
	"slices"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleCSV = `operation,bit_width,hardware,operand_mode,latency_ms
add,64,1xH100,both_encrypted,12.3
add,64,2xH100,both_encrypted,8.2
add,64,1xH100,left_encrypted_right_clear,9.5
add,32,1xH100,both_encrypted,7
mul,64,1xH100,both_encrypted,120
mul,64,2xH100,both_encrypted,61
mul,64,8xH100,both_encrypted,19.5
`

func sampleRegistry(t testing.TB) *Registry {
	t.Helper()
	reg, err := Load(strings.NewReader(sampleCSV))
	require.NoError(t, err)
	return reg
}

func TestQueryExample(t *testing.T) {
	reg := sampleRegistry(t)

	rec, err := reg.Query("add", 64, "1xH100", BothEncrypted)
	require.NoError(t, err)
	assert.Equal(t, Record{Operation: "add", BitWidth: 64, Hardware: "1xH100", Mode: BothEncrypted, LatencyMs: 12.3}, rec)

	rec, err = reg.Query("add", 64, "1xH100", LeftEncryptedRightClear)
	require.NoError(t, err)
	assert.Equal(t, 9.5, rec.LatencyMs)
}

func TestQueryNotFound(t *testing.T) {
	reg := sampleRegistry(t)

	tests := []struct {
		name string
		key  Key
	}{
		{"unknown operation", Key{"div", 64, "1xH100", BothEncrypted}},
		{"unknown width", Key{"add", 128, "1xH100", BothEncrypted}},
		{"unknown hardware", Key{"add", 64, "4xH100", BothEncrypted}},
		{"unmeasured mode", Key{"mul", 64, "2xH100", LeftEncryptedRightClear}},
		{"case sensitive", Key{"ADD", 64, "1xH100", BothEncrypted}},
		{"wildcard mode", Key{"add", 64, "1xH100", AnyMode}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := reg.Query(tc.key.Operation, tc.key.BitWidth, tc.key.Hardware, tc.key.Mode)
			require.ErrorIs(t, err, ErrNotFound)
			assert.Contains(t, err.Error(), tc.key.String())
		})
	}
}

func TestQueryMatchesLookup(t *testing.T) {
	reg := sampleRegistry(t)
	for r := range reg.All() {
		got, err := reg.Query(r.Operation, r.BitWidth, r.Hardware, r.Mode)
		require.NoError(t, err)
		assert.Equal(t, r, got)

		got, ok := reg.Lookup(r.Key())
		require.True(t, ok)
		assert.Equal(t, r, got)
	}
}

func TestListFilter(t *testing.T) {
	reg := sampleRegistry(t)

	filters := []Filter{
		{},
		{Operation: "add"},
		{Hardware: "1xH100"},
		{BitWidth: 32},
		{Mode: LeftEncryptedRightClear},
		{Operation: "mul", Hardware: "2xH100"},
		{Operation: "mul", BitWidth: 64, Hardware: "8xH100", Mode: BothEncrypted},
		{Operation: "div"},
	}
	for _, f := range filters {
		var want []Record
		for _, r := range reg.Records() {
			if f.Match(r) {
				want = append(want, r)
			}
		}
		got := slices.Collect(reg.List(f))
		assert.Equal(t, want, got, "filter %+v", f)
	}

	assert.Len(t, slices.Collect(reg.All()), reg.Len())
	assert.Len(t, slices.Collect(reg.List(Filter{Operation: "add"})), 4)
	assert.Empty(t, slices.Collect(reg.List(Filter{Operation: "div"})))
}

func TestListRestartable(t *testing.T) {
	reg := sampleRegistry(t)
	seq := reg.List(Filter{Operation: "mul"})

	first := slices.Collect(seq)
	second := slices.Collect(seq)
	assert.Equal(t, first, second)

	n := 0
	for range seq {
		n++
		if n == 1 {
			break
		}
	}
	assert.Equal(t, 1, n)
	assert.Equal(t, first, slices.Collect(seq))
}

func TestRegistryOrder(t *testing.T) {
	reg := sampleRegistry(t)
	recs := reg.Records()
	assert.True(t, slices.IsSortedFunc(recs, compareRecords))

	// Records returns a copy.
	recs[0].LatencyMs = -1
	assert.NotEqual(t, -1.0, reg.Records()[0].LatencyMs)
}

func TestDistinct(t *testing.T) {
	reg := sampleRegistry(t)
	assert.Equal(t, []string{"add", "mul"}, reg.Operations())
	assert.Equal(t, []string{"1xH100", "2xH100", "8xH100"}, reg.Hardware())
	assert.Equal(t, []int{32, 64}, reg.BitWidths())

	empty, err := New(nil)
	require.NoError(t, err)
	assert.Equal(t, 0, empty.Len())
	assert.Empty(t, empty.Operations())
	assert.Empty(t, slices.Collect(empty.All()))
}

func TestNew(t *testing.T) {
	valid := Record{Operation: "add", BitWidth: 8, Hardware: "1xH100", Mode: BothEncrypted, LatencyMs: 1}

	reg, err := New([]Record{valid})
	require.NoError(t, err)
	assert.Equal(t, 1, reg.Len())

	_, err = New([]Record{valid, valid})
	var dup *DuplicateKeyError
	require.ErrorAs(t, err, &dup)
	assert.Equal(t, valid.Key(), dup.Key)

	invalid := []Record{
		{Operation: "", BitWidth: 8, Hardware: "1xH100", Mode: BothEncrypted},
		{Operation: " add", BitWidth: 8, Hardware: "1xH100", Mode: BothEncrypted},
		{Operation: "add", BitWidth: 0, Hardware: "1xH100", Mode: BothEncrypted},
		{Operation: "add", BitWidth: -8, Hardware: "1xH100", Mode: BothEncrypted},
		{Operation: "add", BitWidth: 8, Hardware: "", Mode: BothEncrypted},
		{Operation: "add", BitWidth: 8, Hardware: "1xH100", Mode: AnyMode},
		{Operation: "add", BitWidth: 8, Hardware: "1xH100", Mode: OperandMode(9)},
		{Operation: "add", BitWidth: 8, Hardware: "1xH100", Mode: BothEncrypted, LatencyMs: -1},
		{Operation: "#add", BitWidth: 8, Hardware: "1xH100", Mode: BothEncrypted},
		{Operation: "a\r\nb", BitWidth: 8, Hardware: "1xH100", Mode: BothEncrypted},
		{Operation: "add", BitWidth: 8, Hardware: "1x\rH100", Mode: BothEncrypted},
	}
	for _, r := range invalid {
		_, err := New([]Record{r})
		assert.ErrorIs(t, err, ErrInvalidRecord, "record %+v", r)
	}
}

func TestZeroLatencyAccepted(t *testing.T) {
	reg, err := New([]Record{{Operation: "not", BitWidth: 1, Hardware: "1xCPU", Mode: BothEncrypted}})
	require.NoError(t, err)
	rec, err := reg.Query("not", 1, "1xCPU", BothEncrypted)
	require.NoError(t, err)
	assert.Zero(t, rec.LatencyMs)
}

func TestParseOperandMode(t *testing.T) {
	tests := map[string]OperandMode{
		"both_encrypted":             BothEncrypted,
		"BOTH_ENCRYPTED":             BothEncrypted,
		"ct_ct":                      BothEncrypted,
		" encrypted ":                BothEncrypted,
		"left_encrypted_right_clear": LeftEncryptedRightClear,
		"scalar":                     LeftEncryptedRightClear,
		"ct_pt":                      LeftEncryptedRightClear,
	}
	for in, want := range tests {
		got, err := ParseOperandMode(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	for _, in := range []string{"", "any", "both", "right_encrypted"} {
		_, err := ParseOperandMode(in)
		assert.Error(t, err, in)
	}

	text, err := LeftEncryptedRightClear.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "left_encrypted_right_clear", string(text))
	_, err = AnyMode.MarshalText()
	assert.Error(t, err)
}

func TestParseErrorUnwrap(t *testing.T) {
	inner := errors.New("boom")
	err := &ParseError{Line: 3, Column: ColLatencyMs, Err: inner}
	assert.ErrorIs(t, err, inner)
	assert.Equal(t, "line 3: column latency_ms: boom", err.Error())
}

func BenchmarkQuery(b *testing.B) {
	reg := sampleRegistry(b)
	b.ReportAllocs()
	for b.Loop() {
		if _, err := reg.Query("mul", 64, "2xH100", BothEncrypted); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkList(b *testing.B) {
	reg := sampleRegistry(b)
	f := Filter{Operation: "add"}
	b.ReportAllocs()
	for b.Loop() {
		for range reg.List(f) {
		}
	}
}
