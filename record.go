// Copyright (c) 2025, Lux Industries Inc
// SPDX-License-Identifier: BSD-3-Clause

package fhebench

import (
	"fmt"
	"math"
	"strings"
)

// OperandMode says which operands of a binary operation are encrypted.
type OperandMode uint8

const (
	// AnyMode is the filter wildcard. It is never valid inside a Record.
	AnyMode OperandMode = iota
	// BothEncrypted: ciphertext op ciphertext.
	BothEncrypted
	// LeftEncryptedRightClear: ciphertext op plaintext scalar.
	LeftEncryptedRightClear
)

var operandModeNames = map[string]OperandMode{
	"both_encrypted":             BothEncrypted,
	"bothencrypted":              BothEncrypted,
	"encrypted":                  BothEncrypted,
	"ct_ct":                      BothEncrypted,
	"left_encrypted_right_clear": LeftEncryptedRightClear,
	"leftencryptedrightclear":    LeftEncryptedRightClear,
	"clear":                      LeftEncryptedRightClear,
	"scalar":                     LeftEncryptedRightClear,
	"ct_pt":                      LeftEncryptedRightClear,
}

// ParseOperandMode parses the textual form of an operand mode.
// Matching is case-insensitive and accepts the common aliases used in
// benchmark spreadsheets ("ct_ct", "scalar", ...).
func ParseOperandMode(s string) (OperandMode, error) {
	m, ok := operandModeNames[strings.ToLower(strings.TrimSpace(s))]
	if !ok {
		return AnyMode, fmt.Errorf("unknown operand mode %q", s)
	}
	return m, nil
}

// String returns the canonical snake_case form.
func (m OperandMode) String() string {
	switch m {
	case AnyMode:
		return "any"
	case BothEncrypted:
		return "both_encrypted"
	case LeftEncryptedRightClear:
		return "left_encrypted_right_clear"
	default:
		return fmt.Sprintf("OperandMode(%d)", uint8(m))
	}
}

// MarshalText implements encoding.TextMarshaler.
func (m OperandMode) MarshalText() ([]byte, error) {
	if m != BothEncrypted && m != LeftEncryptedRightClear {
		return nil, fmt.Errorf("cannot marshal operand mode %s", m)
	}
	return []byte(m.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (m *OperandMode) UnmarshalText(text []byte) error {
	v, err := ParseOperandMode(string(text))
	if err != nil {
		return err
	}
	*m = v
	return nil
}

// Key identifies one benchmark configuration. At most one Record per Key
// exists in a Registry.
type Key struct {
	Operation string
	BitWidth  int
	Hardware  string
	Mode      OperandMode
}

func (k Key) String() string {
	return fmt.Sprintf("%s/%d/%s/%s", k.Operation, k.BitWidth, k.Hardware, k.Mode)
}

// Record is one measured data point.
type Record struct {
	Operation string      `json:"operation"`
	BitWidth  int         `json:"bit_width"`
	Hardware  string      `json:"hardware"`
	Mode      OperandMode `json:"operand_mode"`
	LatencyMs float64     `json:"latency_ms"`
}

// Key returns the configuration key of the record.
func (r Record) Key() Key {
	return Key{
		Operation: r.Operation,
		BitWidth:  r.BitWidth,
		Hardware:  r.Hardware,
		Mode:      r.Mode,
	}
}

// Validate checks the data-model constraints of a single record.
func (r Record) Validate() error {
	switch {
	case r.Operation == "" || strings.TrimSpace(r.Operation) != r.Operation:
		return fmt.Errorf("%w: operation %q", ErrInvalidRecord, r.Operation)
	case strings.HasPrefix(r.Operation, "#"):
		// A leading '#' makes the CSV row a comment line.
		return fmt.Errorf("%w: operation %q starts with '#'", ErrInvalidRecord, r.Operation)
	case strings.ContainsRune(r.Operation, '\r'):
		return fmt.Errorf("%w: carriage return in operation %q", ErrInvalidRecord, r.Operation)
	case r.BitWidth <= 0:
		return fmt.Errorf("%w: bit width %d must be positive", ErrInvalidRecord, r.BitWidth)
	case r.Mode != BothEncrypted && r.Mode != LeftEncryptedRightClear:
		return fmt.Errorf("%w: operand mode %s", ErrInvalidRecord, r.Mode)
	case math.IsNaN(r.LatencyMs) || math.IsInf(r.LatencyMs, 0):
		return fmt.Errorf("%w: latency is not finite", ErrInvalidRecord)
	case r.LatencyMs < 0:
		return fmt.Errorf("%w: negative latency %g", ErrInvalidRecord, r.LatencyMs)
	}
	return ValidateHardware(r.Hardware)
}

// ValidateHardware checks a hardware descriptor: non-empty, no surrounding
// whitespace and no carriage returns.
func ValidateHardware(hw string) error {
	if hw == "" || strings.TrimSpace(hw) != hw || strings.ContainsRune(hw, '\r') {
		return fmt.Errorf("%w: hardware %q", ErrInvalidRecord, hw)
	}
	return nil
}

// Filter selects records by any subset of key fields. Zero-valued fields
// ("", 0, AnyMode) match everything.
type Filter struct {
	Operation string
	BitWidth  int
	Hardware  string
	Mode      OperandMode
}

// Match reports whether r satisfies every predicate set in f.
func (f Filter) Match(r Record) bool {
	if f.Operation != "" && f.Operation != r.Operation {
		return false
	}
	if f.BitWidth != 0 && f.BitWidth != r.BitWidth {
		return false
	}
	if f.Hardware != "" && f.Hardware != r.Hardware {
		return false
	}
	if f.Mode != AnyMode && f.Mode != r.Mode {
		return false
	}
	return true
}
