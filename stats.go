// Copyright (c) 2025, Lux Industries Inc
// SPDX-License-Identifier: BSD-3-Clause

package fhebench

import (
	"fmt"
	"iter"

	"github.com/montanaflynn/stats"
)

// Summary describes the latency distribution of a set of records.
type Summary struct {
	Count  int     `json:"count"`
	Min    float64 `json:"min_ms"`
	Max    float64 `json:"max_ms"`
	Mean   float64 `json:"mean_ms"`
	Median float64 `json:"median_ms"`
	P95    float64 `json:"p95_ms"`
	StdDev float64 `json:"stddev_ms"`
}

// Summarize computes latency statistics over records. It returns an error
// wrapping ErrNotFound when the sequence is empty.
func Summarize(records iter.Seq[Record]) (Summary, error) {
	var data stats.Float64Data
	for r := range records {
		data = append(data, r.LatencyMs)
	}
	if len(data) == 0 {
		return Summary{}, fmt.Errorf("%w: no records to summarize", ErrNotFound)
	}

	var (
		s   = Summary{Count: len(data)}
		err error
	)
	if s.Min, err = stats.Min(data); err != nil {
		return Summary{}, fmt.Errorf("min: %w", err)
	}
	if s.Max, err = stats.Max(data); err != nil {
		return Summary{}, fmt.Errorf("max: %w", err)
	}
	if s.Mean, err = stats.Mean(data); err != nil {
		return Summary{}, fmt.Errorf("mean: %w", err)
	}
	if s.Median, err = stats.Median(data); err != nil {
		return Summary{}, fmt.Errorf("median: %w", err)
	}
	if s.P95, err = stats.PercentileNearestRank(data, 95); err != nil {
		return Summary{}, fmt.Errorf("p95: %w", err)
	}
	if s.StdDev, err = stats.StandardDeviation(data); err != nil {
		return Summary{}, fmt.Errorf("stddev: %w", err)
	}
	return s, nil
}
