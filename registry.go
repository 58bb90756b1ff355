// Package fhebench catalogs measured latencies of homomorphic operations
// across CPU and GPU hardware configurations.
//
// A Registry is built once, from a CSV source, a binary snapshot or a
// measurement run, and is immutable afterwards:
//   - Query answers exact lookups by (operation, bit width, hardware, mode)
//   - List walks the records matching a partial Filter
//   - Summarize, Speedups and Compare derive tables from a registry
//
// Copyright (c) 2025, Lux Industries Inc
// SPDX-License-Identifier: BSD-3-Clause
package fhebench

import (
	"cmp"
	"fmt"
	"iter"
	"os"
	"path/filepath"
	"slices"
	"strings"
)

// Registry is an immutable set of benchmark records.
// It is safe for concurrent use by multiple goroutines.
type Registry struct {
	records []Record
	index   map[Key]int
}

// New builds a registry from records. Every record must be valid and keys
// must be unique.
func New(records []Record) (*Registry, error) {
	reg := &Registry{
		records: make([]Record, 0, len(records)),
		index:   make(map[Key]int, len(records)),
	}
	for _, r := range records {
		if err := r.Validate(); err != nil {
			return nil, fmt.Errorf("record %s: %w", r.Key(), err)
		}
		if _, dup := reg.index[r.Key()]; dup {
			return nil, &DuplicateKeyError{Key: r.Key()}
		}
		reg.index[r.Key()] = len(reg.records)
		reg.records = append(reg.records, r)
	}
	reg.sort()
	return reg, nil
}

func (reg *Registry) sort() {
	slices.SortFunc(reg.records, compareRecords)
	for i, r := range reg.records {
		reg.index[r.Key()] = i
	}
}

func compareRecords(a, b Record) int {
	return cmp.Or(
		cmp.Compare(a.Operation, b.Operation),
		cmp.Compare(a.Hardware, b.Hardware),
		cmp.Compare(a.Mode, b.Mode),
		cmp.Compare(a.BitWidth, b.BitWidth),
	)
}

// LoadFile loads a registry from path. Files ending in SnapshotExt are read
// as snapshots, everything else as CSV.
func LoadFile(path string) (*Registry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open source: %w", err)
	}
	defer f.Close()

	if strings.EqualFold(filepath.Ext(path), SnapshotExt) {
		return SafeDeserialize(f, DefaultDeserializationConfig())
	}
	return Load(f)
}

// Len returns the number of records.
func (reg *Registry) Len() int {
	return len(reg.records)
}

// Query returns the record for the exact configuration, or an error
// wrapping ErrNotFound.
func (reg *Registry) Query(operation string, bitWidth int, hardware string, mode OperandMode) (Record, error) {
	key := Key{Operation: operation, BitWidth: bitWidth, Hardware: hardware, Mode: mode}
	r, ok := reg.Lookup(key)
	if !ok {
		return Record{}, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	return r, nil
}

// Lookup returns the record stored under key.
func (reg *Registry) Lookup(key Key) (Record, bool) {
	i, ok := reg.index[key]
	if !ok {
		return Record{}, false
	}
	return reg.records[i], true
}

// List returns the records matching f. The sequence is lazy and may be
// ranged over any number of times.
func (reg *Registry) List(f Filter) iter.Seq[Record] {
	return func(yield func(Record) bool) {
		for _, r := range reg.records {
			if !f.Match(r) {
				continue
			}
			if !yield(r) {
				return
			}
		}
	}
}

// All is shorthand for List(Filter{}).
func (reg *Registry) All() iter.Seq[Record] {
	return reg.List(Filter{})
}

// Records returns a copy of all records in registry order.
func (reg *Registry) Records() []Record {
	return slices.Clone(reg.records)
}

// Operations returns the sorted distinct operation names.
func (reg *Registry) Operations() []string {
	return distinct(reg.records, func(r Record) string { return r.Operation })
}

// Hardware returns the sorted distinct hardware descriptors.
func (reg *Registry) Hardware() []string {
	return distinct(reg.records, func(r Record) string { return r.Hardware })
}

// BitWidths returns the sorted distinct bit widths.
func (reg *Registry) BitWidths() []int {
	return distinct(reg.records, func(r Record) int { return r.BitWidth })
}

func distinct[T cmp.Ordered](records []Record, field func(Record) T) []T {
	seen := make(map[T]struct{})
	out := make([]T, 0)
	for _, r := range records {
		v := field(r)
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	slices.Sort(out)
	return out
}
