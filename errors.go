// Copyright 2024 Bjørn Erik Pedersen
// SPDX-License-Identifier: MIT

package jp2meta

import (
	"errors"
	"fmt"

	"github.com/hashicorp/go-multierror"
)

// ErrInvalidFormat is matched by errors.Is for every StructuralError.
var ErrInvalidFormat = errors.New("jp2meta: invalid format")

// StructuralError is returned when the read position can no longer be trusted,
// e.g. a missing signature or a source that ends in the middle of a fixed-width field.
// Parsing stops when one is raised.
type StructuralError struct {
	// Offset is the absolute file offset where the problem was detected.
	Offset int64
	Err    error
}

func (e *StructuralError) Error() string {
	return fmt.Sprintf("jp2meta: invalid format at offset %d: %v", e.Offset, e.Err)
}

func (e *StructuralError) Unwrap() error {
	return e.Err
}

// Is reports whether target is ErrInvalidFormat.
func (e *StructuralError) Is(target error) bool {
	return target == ErrInvalidFormat
}

// IsStructuralError reports whether any error in err's tree is a *StructuralError.
func IsStructuralError(err error) bool {
	var se *StructuralError
	return errors.As(err, &se)
}

func newStructuralErrorf(offset int64, format string, args ...any) *StructuralError {
	return &StructuralError{Offset: offset, Err: fmt.Errorf(format, args...)}
}

// DiagnosticKind classifies a recoverable anomaly.
type DiagnosticKind int

const (
	// DiagnosticInvalidValue is a field value that is syntactically readable but not allowed.
	DiagnosticInvalidValue DiagnosticKind = iota
	// DiagnosticUnknownBox is a box type with no decoder.
	DiagnosticUnknownBox
	// DiagnosticUnknownMarker is a codestream marker with no decoder.
	DiagnosticUnknownMarker
	// DiagnosticLength is a declared length that overruns its container or
	// disagrees with the bytes its decoder consumed.
	DiagnosticLength
	// DiagnosticOutOfRange is an enumerated field outside its known range.
	DiagnosticOutOfRange
	// DiagnosticUnknownTag is an unrecognized TIFF tag.
	DiagnosticUnknownTag
	// DiagnosticUnknownDatatype is an unrecognized TIFF datatype.
	DiagnosticUnknownDatatype
	// DiagnosticTimestamp is a date/time that does not form a valid calendar value.
	DiagnosticTimestamp
	// DiagnosticTruncated is a payload that ended before its fixed fields did.
	DiagnosticTruncated
	// DiagnosticLimit is a configured limit that was hit.
	DiagnosticLimit
)

var diagnosticKindNames = map[DiagnosticKind]string{
	DiagnosticInvalidValue:    "invalid value",
	DiagnosticUnknownBox:      "unknown box",
	DiagnosticUnknownMarker:   "unknown marker",
	DiagnosticLength:          "length",
	DiagnosticOutOfRange:      "out of range",
	DiagnosticUnknownTag:      "unknown tag",
	DiagnosticUnknownDatatype: "unknown datatype",
	DiagnosticTimestamp:       "timestamp",
	DiagnosticTruncated:       "truncated",
	DiagnosticLimit:           "limit",
}

func (k DiagnosticKind) String() string {
	if s, ok := diagnosticKindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("DiagnosticKind(%d)", int(k))
}

// Diagnostic is a recoverable anomaly found while decoding.
type Diagnostic struct {
	Offset  int64
	Kind    DiagnosticKind
	Message string
}

func (d Diagnostic) Error() string {
	return fmt.Sprintf("offset %d: %s: %s", d.Offset, d.Kind, d.Message)
}

// Diagnostics is an ordered list of recoverable anomalies.
type Diagnostics []Diagnostic

// Err returns all diagnostics as one error, or nil if there are none.
func (d Diagnostics) Err() error {
	var err *multierror.Error
	for _, diag := range d {
		err = multierror.Append(err, diag)
	}
	return err.ErrorOrNil()
}

// Has reports whether any diagnostic is of the given kind.
func (d Diagnostics) Has(kind DiagnosticKind) bool {
	for _, diag := range d {
		if diag.Kind == kind {
			return true
		}
	}
	return false
}

// diagnoser collects diagnostics for one decode and forwards them to Warnf.
type diagnoser struct {
	diags Diagnostics
	warnf func(string, ...any)
}

func newDiagnoser(warnf func(string, ...any)) *diagnoser {
	if warnf == nil {
		warnf = func(string, ...any) {}
	}
	return &diagnoser{warnf: warnf}
}

func (d *diagnoser) addf(offset int64, kind DiagnosticKind, format string, args ...any) {
	diag := Diagnostic{Offset: offset, Kind: kind, Message: fmt.Sprintf(format, args...)}
	d.diags = append(d.diags, diag)
	d.warnf("jp2meta: %s", diag.Error())
}
