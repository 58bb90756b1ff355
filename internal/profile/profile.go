// Copyright (c) 2025, Lux Industries Inc
// SPDX-License-Identifier: BSD-3-Clause

// Package profile wraps runtime/pprof for profiling measurement runs.
//
// Analyze profiles with:
//
//	go tool pprof -http=:8080 cpu.prof
package profile

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"runtime/pprof"
	"time"
)

// Config selects the profiles to write. Empty paths disable a profile.
type Config struct {
	// CPUProfile enables CPU profiling to the specified file
	CPUProfile string
	// MemProfile writes a heap profile on Stop
	MemProfile string
	// BlockProfile enables block (contention) profiling
	BlockProfile string
	// MutexProfile enables mutex profiling
	MutexProfile string
}

// Enabled reports whether any profile is requested.
func (c Config) Enabled() bool {
	return c.CPUProfile != "" || c.MemProfile != "" || c.BlockProfile != "" || c.MutexProfile != ""
}

// Profiler wraps profiling functionality
type Profiler struct {
	config    Config
	cpuFile   *os.File
	startTime time.Time
}

// New creates a profiler with the given configuration
func New(config Config) *Profiler {
	return &Profiler{config: config}
}

// Start begins profiling
func (p *Profiler) Start() error {
	p.startTime = time.Now()

	if p.config.BlockProfile != "" {
		runtime.SetBlockProfileRate(1)
	}
	if p.config.MutexProfile != "" {
		runtime.SetMutexProfileFraction(1)
	}

	if p.config.CPUProfile != "" {
		f, err := os.Create(p.config.CPUProfile)
		if err != nil {
			return fmt.Errorf("create CPU profile: %w", err)
		}
		p.cpuFile = f
		if err := pprof.StartCPUProfile(f); err != nil {
			f.Close()
			p.cpuFile = nil
			return fmt.Errorf("start CPU profile: %w", err)
		}
	}

	return nil
}

// Stop ends profiling and writes all profile files. It attempts every
// requested profile and returns the joined errors.
func (p *Profiler) Stop() error {
	slog.Debug("profiling stopped", "duration", time.Since(p.startTime))

	var errs []error
	if p.cpuFile != nil {
		pprof.StopCPUProfile()
		if err := p.cpuFile.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close CPU profile: %w", err))
		}
		p.cpuFile = nil
		slog.Info("CPU profile written", "path", p.config.CPUProfile)
	}

	if p.config.MemProfile != "" {
		runtime.GC() // Get up-to-date statistics
		errs = append(errs, writeProfile(p.config.MemProfile, "heap"))
	}
	if p.config.BlockProfile != "" {
		errs = append(errs, writeProfile(p.config.BlockProfile, "block"))
		runtime.SetBlockProfileRate(0)
	}
	if p.config.MutexProfile != "" {
		errs = append(errs, writeProfile(p.config.MutexProfile, "mutex"))
		runtime.SetMutexProfileFraction(0)
	}

	return errors.Join(errs...)
}

func writeProfile(path, name string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s profile: %w", name, err)
	}
	defer f.Close()
	if err := pprof.Lookup(name).WriteTo(f, 0); err != nil {
		return fmt.Errorf("write %s profile: %w", name, err)
	}
	slog.Info("profile written", "kind", name, "path", path)
	return nil
}
