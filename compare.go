// Copyright (c) 2025, Lux Industries Inc
// SPDX-License-Identifier: BSD-3-Clause

package fhebench

import (
	"fmt"
	"math"
	"slices"
)

// Speedup relates the latency of one configuration on two hardware
// descriptors.
type Speedup struct {
	Operation string      `json:"operation"`
	BitWidth  int         `json:"bit_width"`
	Mode      OperandMode `json:"operand_mode"`
	Baseline  Record      `json:"baseline"`
	Candidate Record      `json:"candidate"`
	// Ratio is baseline/candidate latency; >1 means the candidate is faster.
	// Zero when the candidate latency is zero.
	Ratio float64 `json:"ratio"`
}

// Speedups pairs every (operation, bit width, mode) measured on both
// baseline and candidate hardware, e.g. "1xH100" against "2xH100".
func Speedups(reg *Registry, baseline, candidate string) []Speedup {
	var out []Speedup
	for b := range reg.List(Filter{Hardware: baseline}) {
		key := b.Key()
		key.Hardware = candidate
		c, ok := reg.Lookup(key)
		if !ok {
			continue
		}
		s := Speedup{
			Operation: b.Operation,
			BitWidth:  b.BitWidth,
			Mode:      b.Mode,
			Baseline:  b,
			Candidate: c,
		}
		if c.LatencyMs > 0 {
			s.Ratio = b.LatencyMs / c.LatencyMs
		}
		out = append(out, s)
	}
	return out
}

// Delta is the change of one configuration between two registries.
type Delta struct {
	Key  Key    `json:"-"`
	Prev Record `json:"prev"`
	Curr Record `json:"curr"`
	// ChangePct is the latency change in percent; positive means slower.
	// It is +Inf when a zero latency became non-zero.
	ChangePct  float64 `json:"change_pct"`
	Regression bool    `json:"regression"`
}

func (d Delta) String() string {
	return fmt.Sprintf("%s: %+.2f%% latency", d.Key, d.ChangePct)
}

// Compare returns a delta for every key present in both registries.
// A delta is flagged as a regression when latency grew by more than
// thresholdPct percent.
func Compare(prev, curr *Registry, thresholdPct float64) []Delta {
	var out []Delta
	for c := range curr.All() {
		p, ok := prev.Lookup(c.Key())
		if !ok {
			continue
		}
		d := Delta{Key: c.Key(), Prev: p, Curr: c}
		switch {
		case p.LatencyMs > 0:
			d.ChangePct = (c.LatencyMs - p.LatencyMs) / p.LatencyMs * 100
		case c.LatencyMs > 0:
			d.ChangePct = math.Inf(1)
		}
		d.Regression = d.ChangePct > thresholdPct
		out = append(out, d)
	}
	return out
}

// Regressions returns only the deltas flagged as regressions, worst first.
func Regressions(deltas []Delta) []Delta {
	var out []Delta
	for _, d := range deltas {
		if d.Regression {
			out = append(out, d)
		}
	}
	slices.SortStableFunc(out, func(a, b Delta) int {
		switch {
		case a.ChangePct > b.ChangePct:
			return -1
		case a.ChangePct < b.ChangePct:
			return 1
		}
		return 0
	})
	return out
}
