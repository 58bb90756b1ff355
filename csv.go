// Copyright (c) 2025, Lux Industries Inc
// SPDX-License-Identifier: BSD-3-Clause

package fhebench

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"iter"
	"math"
	"slices"
	"strconv"
	"strings"
)

// Column names of the tabular source.
const (
	ColOperation   = "operation"
	ColBitWidth    = "bit_width"
	ColHardware    = "hardware"
	ColOperandMode = "operand_mode"
	ColLatencyMs   = "latency_ms"
)

var columns = []string{ColOperation, ColBitWidth, ColHardware, ColOperandMode, ColLatencyMs}

// Load parses CSV benchmark rows into a registry.
//
// The first non-comment row is a header naming the five columns in any
// order; extra columns are ignored. Lines starting with '#' and blank lines
// are skipped. Any malformed row fails the whole load with a *ParseError.
func Load(r io.Reader) (*Registry, error) {
	cr := csv.NewReader(r)
	cr.Comment = '#'
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true
	cr.ReuseRecord = true

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, &ParseError{Line: 1, Err: errors.New("missing header row")}
	}
	if err != nil {
		return nil, csvError(err)
	}
	pos, err := headerPositions(header)
	if err != nil {
		line, _ := cr.FieldPos(0)
		return nil, &ParseError{Line: line, Err: err}
	}

	reg := &Registry{index: make(map[Key]int)}
	lines := make(map[Key]int)
	for {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, csvError(err)
		}
		line, _ := cr.FieldPos(0)

		rec, err := parseRow(row, pos, line)
		if err != nil {
			return nil, err
		}
		if first, dup := lines[rec.Key()]; dup {
			return nil, &ParseError{Line: line, Err: &DuplicateKeyError{Key: rec.Key(), FirstLine: first, Line: line}}
		}
		lines[rec.Key()] = line
		reg.index[rec.Key()] = len(reg.records)
		reg.records = append(reg.records, rec)
	}

	reg.sort()
	return reg, nil
}

func csvError(err error) error {
	var pe *csv.ParseError
	if errors.As(err, &pe) {
		return &ParseError{Line: pe.Line, Err: pe.Err}
	}
	return fmt.Errorf("read csv: %w", err)
}

func headerPositions(header []string) (map[string]int, error) {
	pos := make(map[string]int, len(columns))
	for i, h := range header {
		name := strings.ToLower(strings.TrimSpace(h))
		if i == 0 {
			name = strings.TrimPrefix(name, "\ufeff")
		}
		if _, seen := pos[name]; seen {
			if slices.Contains(columns, name) {
				return nil, fmt.Errorf("header repeats column %q", name)
			}
			continue
		}
		pos[name] = i
	}
	for _, c := range columns {
		if _, ok := pos[c]; !ok {
			return nil, fmt.Errorf("header is missing column %q", c)
		}
	}
	return pos, nil
}

func parseRow(row []string, pos map[string]int, line int) (Record, error) {
	field := func(col string) (string, error) {
		i := pos[col]
		if i >= len(row) || strings.TrimSpace(row[i]) == "" {
			return "", &ParseError{Line: line, Column: col, Err: errors.New("missing value")}
		}
		return strings.TrimSpace(row[i]), nil
	}

	var rec Record
	var err error
	if rec.Operation, err = field(ColOperation); err != nil {
		return rec, err
	}
	if rec.Hardware, err = field(ColHardware); err != nil {
		return rec, err
	}

	s, err := field(ColBitWidth)
	if err != nil {
		return rec, err
	}
	rec.BitWidth, err = strconv.Atoi(s)
	if err != nil {
		return rec, &ParseError{Line: line, Column: ColBitWidth, Err: fmt.Errorf("not an integer: %q", s)}
	}
	if rec.BitWidth <= 0 {
		return rec, &ParseError{Line: line, Column: ColBitWidth, Err: fmt.Errorf("must be positive, got %d", rec.BitWidth)}
	}

	s, err = field(ColOperandMode)
	if err != nil {
		return rec, err
	}
	if rec.Mode, err = ParseOperandMode(s); err != nil {
		return rec, &ParseError{Line: line, Column: ColOperandMode, Err: err}
	}

	s, err = field(ColLatencyMs)
	if err != nil {
		return rec, err
	}
	rec.LatencyMs, err = strconv.ParseFloat(s, 64)
	if err != nil {
		return rec, &ParseError{Line: line, Column: ColLatencyMs, Err: fmt.Errorf("not a number: %q", s)}
	}
	if math.IsNaN(rec.LatencyMs) || math.IsInf(rec.LatencyMs, 0) || rec.LatencyMs < 0 {
		return rec, &ParseError{Line: line, Column: ColLatencyMs, Err: fmt.Errorf("must be a finite non-negative number, got %q", s)}
	}
	if err := rec.Validate(); err != nil {
		return rec, &ParseError{Line: line, Err: err}
	}

	return rec, nil
}

// WriteCSV writes records in the dialect read by Load. Latencies use the
// shortest representation that parses back to the same float64. Records that
// fail Validate are rejected, so Load reads back exactly what was written.
func WriteCSV(w io.Writer, records iter.Seq[Record]) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(columns); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	row := make([]string, len(columns))
	for r := range records {
		if err := r.Validate(); err != nil {
			return fmt.Errorf("write record %s: %w", r.Key(), err)
		}
		row[0] = r.Operation
		row[1] = strconv.Itoa(r.BitWidth)
		row[2] = r.Hardware
		row[3] = r.Mode.String()
		row[4] = strconv.FormatFloat(r.LatencyMs, 'g', -1, 64)
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("write record %s: %w", r.Key(), err)
		}
	}
	cw.Flush()
	return cw.Error()
}
