// Copyright (c) 2025, Lux Industries Inc
// SPDX-License-Identifier: BSD-3-Clause

package fhebench

import (
	"errors"
	"fmt"
)

// Common errors.
var (
	ErrNotFound           = errors.New("benchmark record not found")
	ErrInvalidRecord      = errors.New("invalid benchmark record")
	ErrSizeLimit          = errors.New("serialized size limit exceeded")
	ErrUnsupportedVersion = errors.New("unsupported serialization version")
	ErrCorrupt            = errors.New("corrupt snapshot")
	ErrNonConformant      = errors.New("snapshot record not conformant")
)

// ParseError reports a malformed row of a tabular source.
type ParseError struct {
	Line   int    // 1-based line in the source, 0 if unknown
	Column string // column name, empty for row-level problems
	Err    error
}

func (e *ParseError) Error() string {
	switch {
	case e.Line > 0 && e.Column != "":
		return fmt.Sprintf("line %d: column %s: %v", e.Line, e.Column, e.Err)
	case e.Line > 0:
		return fmt.Sprintf("line %d: %v", e.Line, e.Err)
	case e.Column != "":
		return fmt.Sprintf("column %s: %v", e.Column, e.Err)
	default:
		return e.Err.Error()
	}
}

func (e *ParseError) Unwrap() error { return e.Err }

// DuplicateKeyError reports two records for the same configuration key.
type DuplicateKeyError struct {
	Key       Key
	FirstLine int
	Line      int
}

func (e *DuplicateKeyError) Error() string {
	if e.FirstLine > 0 {
		return fmt.Sprintf("duplicate key %s (first defined on line %d)", e.Key, e.FirstLine)
	}
	return fmt.Sprintf("duplicate key %s", e.Key)
}
