// Copyright (c) 2025, Lux Industries Inc
// SPDX-License-Identifier: BSD-3-Clause

// Package measure times lattice kernels on the local CPU and reports the
// results as benchmark records.
//
// Operands are encoded bitwise: a w-bit integer is w RLWE ciphertexts, one
// per bit, so the latency of a kernel at width w is the time to apply it to
// all w ciphertexts. No bootstrapping or carry propagation is performed.
package measure

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"slices"
	"strings"
	"time"

	"github.com/klauspost/cpuid/v2"
	"github.com/luxfi/lattice/v7/core/rlwe"
	"github.com/luxfi/lattice/v7/ring"

	"github.com/luxfi/fhebench"
)

// ErrInvalidConfig is returned by Run for unusable configurations.
var ErrInvalidConfig = errors.New("invalid measurement config")

// Upper bounds of a measurement. A w-bit operand holds 4w ciphertexts in
// memory for the whole run.
const (
	MaxBitWidth   = 512
	MaxBitWidths  = 32
	MaxIterations = 100_000
)

// Kernel is one timed operation in one operand mode.
type Kernel struct {
	Operation string
	Mode      fhebench.OperandMode
}

// Kernels lists every kernel the runner knows how to time.
var Kernels = []Kernel{
	{Operation: "add", Mode: fhebench.BothEncrypted},
	{Operation: "add", Mode: fhebench.LeftEncryptedRightClear},
	{Operation: "mul", Mode: fhebench.LeftEncryptedRightClear},
	{Operation: "neg", Mode: fhebench.BothEncrypted},
}

// Config holds measurement settings.
type Config struct {
	// LogN is log2 of the ring degree.
	LogN int
	// Q is the NTT-friendly ciphertext modulus.
	Q uint64
	// Iterations is the number of timed repetitions per kernel and width.
	Iterations int
	// BitWidths are the operand widths to measure.
	BitWidths []int
	// Operations restricts the kernels by operation name; empty means all.
	Operations []string
	// Hardware overrides the detected hardware descriptor.
	Hardware string
}

// DefaultConfig returns N=1024, Q=134215681 with 64 iterations over the
// usual integer widths.
func DefaultConfig() Config {
	return Config{
		LogN:       10,
		Q:          0x7fff801,
		Iterations: 64,
		BitWidths:  []int{8, 16, 32, 64},
	}
}

func (c Config) validate() error {
	switch {
	case c.LogN < 4 || c.LogN > 17:
		return fmt.Errorf("%w: LogN %d out of range [4, 17]", ErrInvalidConfig, c.LogN)
	case c.Q < 2:
		return fmt.Errorf("%w: modulus %d", ErrInvalidConfig, c.Q)
	case c.Iterations <= 0 || c.Iterations > MaxIterations:
		return fmt.Errorf("%w: iterations %d out of range [1, %d]", ErrInvalidConfig, c.Iterations, MaxIterations)
	case len(c.BitWidths) == 0:
		return fmt.Errorf("%w: no bit widths", ErrInvalidConfig)
	case len(c.BitWidths) > MaxBitWidths:
		return fmt.Errorf("%w: %d bit widths, at most %d", ErrInvalidConfig, len(c.BitWidths), MaxBitWidths)
	}
	for i, w := range c.BitWidths {
		if w <= 0 || w > MaxBitWidth {
			return fmt.Errorf("%w: bit width %d out of range [1, %d]", ErrInvalidConfig, w, MaxBitWidth)
		}
		if slices.Contains(c.BitWidths[:i], w) {
			return fmt.Errorf("%w: bit width %d listed twice", ErrInvalidConfig, w)
		}
	}
	if c.Hardware != "" {
		if err := fhebench.ValidateHardware(c.Hardware); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
		}
	}
	for _, op := range c.Operations {
		if !Supports(op) {
			return fmt.Errorf("%w: unknown operation %q", ErrInvalidConfig, op)
		}
	}
	return nil
}

// Supports reports whether some kernel times op.
func Supports(op string) bool {
	return slices.ContainsFunc(Kernels, func(k Kernel) bool { return k.Operation == op })
}

func (c Config) kernels() []Kernel {
	if len(c.Operations) == 0 {
		return Kernels
	}
	var out []Kernel
	for _, k := range Kernels {
		if slices.Contains(c.Operations, k.Operation) {
			out = append(out, k)
		}
	}
	return out
}

// Hardware describes the local CPU the way GPU rows are described in
// benchmark tables ("1xH100"): device count, then model.
func Hardware() string {
	brand := strings.Join(strings.Fields(cpuid.CPU.BrandName), " ")
	if brand == "" {
		brand = runtime.GOARCH
	}
	return "1x" + brand
}

// Run times every selected kernel at every configured bit width and returns
// one record per (kernel, width). It stops early when ctx is done.
func Run(ctx context.Context, cfg Config) ([]fhebench.Record, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	hw := cfg.Hardware
	if hw == "" {
		hw = Hardware()
	}

	b, err := newBench(cfg.LogN, cfg.Q)
	if err != nil {
		return nil, err
	}

	var records []fhebench.Record
	for _, width := range cfg.BitWidths {
		ops := b.operands(width)
		for _, k := range cfg.kernels() {
			d, err := b.time(ctx, k, ops, cfg.Iterations)
			if err != nil {
				return nil, err
			}
			rec := fhebench.Record{
				Operation: k.Operation,
				BitWidth:  width,
				Hardware:  hw,
				Mode:      k.Mode,
				LatencyMs: float64(d.Nanoseconds()) / 1e6,
			}
			slog.DebugContext(ctx, "kernel measured",
				"operation", rec.Operation,
				"bit_width", rec.BitWidth,
				"mode", rec.Mode,
				"latency_ms", rec.LatencyMs)
			records = append(records, rec)
		}
	}
	return records, nil
}

// bench holds the keys and ring shared by all kernels.
type bench struct {
	params rlwe.Parameters
	ringQ  *ring.Ring
	enc    *rlwe.Encryptor
	q      uint64
}

func newBench(logN int, q uint64) (*bench, error) {
	params, err := rlwe.NewParametersFromLiteral(rlwe.ParametersLiteral{
		LogN:    logN,
		Q:       []uint64{q},
		NTTFlag: true,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: parameters: %v", ErrInvalidConfig, err)
	}

	sk := rlwe.NewKeyGenerator(params).GenSecretKeyNew()
	return &bench{
		params: params,
		ringQ:  params.RingQ(),
		enc:    rlwe.NewEncryptor(params, sk),
		q:      q,
	}, nil
}

// operands holds the bitwise-encoded inputs and outputs for one width.
type operands struct {
	lhs, rhs []*rlwe.Ciphertext
	clear    []*rlwe.Plaintext
	out      []*rlwe.Ciphertext
}

func (b *bench) operands(width int) operands {
	ops := operands{
		lhs:   make([]*rlwe.Ciphertext, width),
		rhs:   make([]*rlwe.Ciphertext, width),
		clear: make([]*rlwe.Plaintext, width),
		out:   make([]*rlwe.Ciphertext, width),
	}
	for i := 0; i < width; i++ {
		ops.lhs[i] = b.encrypt(i%2 == 0)
		ops.rhs[i] = b.encrypt(i%3 == 0)
		ops.clear[i] = b.encode(i%3 == 0)
		ops.out[i] = rlwe.NewCiphertext(b.params, 1, b.params.MaxLevel())
	}
	return ops
}

// encode places a bit at ±Q/8 in the constant coefficient and moves the
// plaintext to the NTT domain.
func (b *bench) encode(bit bool) *rlwe.Plaintext {
	pt := rlwe.NewPlaintext(b.params, b.params.MaxLevel())
	if bit {
		pt.Value.Coeffs[0][0] = b.q / 8
	} else {
		pt.Value.Coeffs[0][0] = b.q - b.q/8
	}
	b.ringQ.NTT(pt.Value, pt.Value)
	return pt
}

func (b *bench) encrypt(bit bool) *rlwe.Ciphertext {
	ct := rlwe.NewCiphertext(b.params, 1, b.params.MaxLevel())
	if err := b.enc.Encrypt(b.encode(bit), ct); err != nil {
		panic(err) // Should not happen with valid parameters
	}
	return ct
}

// time returns the mean wall time of one application of k over all
// operands.
func (b *bench) time(ctx context.Context, k Kernel, ops operands, iterations int) (time.Duration, error) {
	apply, err := b.kernel(k, ops)
	if err != nil {
		return 0, err
	}

	// Warm-up pass, not timed.
	apply()

	var total time.Duration
	for i := 0; i < iterations; i++ {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		start := time.Now()
		apply()
		total += time.Since(start)
	}
	return total / time.Duration(iterations), nil
}

func (b *bench) kernel(k Kernel, ops operands) (func(), error) {
	r := b.ringQ
	switch k {
	case Kernel{"add", fhebench.BothEncrypted}:
		return func() {
			for i := range ops.lhs {
				r.Add(ops.lhs[i].Value[0], ops.rhs[i].Value[0], ops.out[i].Value[0])
				r.Add(ops.lhs[i].Value[1], ops.rhs[i].Value[1], ops.out[i].Value[1])
			}
		}, nil
	case Kernel{"add", fhebench.LeftEncryptedRightClear}:
		// A plaintext only shifts the body; the mask is copied through.
		level := b.params.MaxLevel()
		return func() {
			for i := range ops.lhs {
				r.Add(ops.lhs[i].Value[0], ops.clear[i].Value, ops.out[i].Value[0])
				ops.out[i].Value[1].CopyLvl(level, ops.lhs[i].Value[1])
			}
		}, nil
	case Kernel{"mul", fhebench.LeftEncryptedRightClear}:
		const scalar = 3
		return func() {
			for i := range ops.lhs {
				r.MulScalar(ops.lhs[i].Value[0], scalar, ops.out[i].Value[0])
				r.MulScalar(ops.lhs[i].Value[1], scalar, ops.out[i].Value[1])
			}
		}, nil
	case Kernel{"neg", fhebench.BothEncrypted}:
		return func() {
			for i := range ops.lhs {
				r.Neg(ops.lhs[i].Value[0], ops.out[i].Value[0])
				r.Neg(ops.lhs[i].Value[1], ops.out[i].Value[1])
			}
		}, nil
	}
	return nil, fmt.Errorf("%w: no kernel for %s/%s", ErrInvalidConfig, k.Operation, k.Mode)
}
