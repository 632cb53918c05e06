// Copyright 2024 Bjørn Erik Pedersen
// SPDX-License-Identifier: MIT

package jp2meta

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"path"
	"strconv"

	"github.com/hashicorp/go-multierror"
)

const (
	byteOrderBigEndian    = 0x4d4d
	byteOrderLittleEndian = 0x4949
	tiffMagic             = 42

	// Upper bound on chained top level directories (IFD0, IFD1, ...).
	maxChainedIFDs = 8
	// Upper bound on nested directory depth.
	maxIFDDepth = 4
)

// TIFFType is the datatype code of an IFD entry.
type TIFFType uint16

const (
	TIFFByte      TIFFType = 1
	TIFFASCII     TIFFType = 2
	TIFFShort     TIFFType = 3
	TIFFLong      TIFFType = 4
	TIFFRational  TIFFType = 5
	TIFFSByte     TIFFType = 6
	TIFFUndefined TIFFType = 7
	TIFFSShort    TIFFType = 8
	TIFFSLong     TIFFType = 9
	TIFFSRational TIFFType = 10
	TIFFFloat     TIFFType = 11
	TIFFDouble    TIFFType = 12
	TIFFIFD       TIFFType = 13
	TIFFLong8     TIFFType = 16
	TIFFSLong8    TIFFType = 17
	TIFFIFD8      TIFFType = 18
)

// Size in bytes of each type.
var tiffTypeSize = map[TIFFType]uint64{
	TIFFByte:      1,
	TIFFASCII:     1,
	TIFFShort:     2,
	TIFFLong:      4,
	TIFFRational:  8,
	TIFFSByte:     1,
	TIFFUndefined: 1,
	TIFFSShort:    2,
	TIFFSLong:     4,
	TIFFSRational: 8,
	TIFFFloat:     4,
	TIFFDouble:    8,
	TIFFIFD:       4,
	TIFFLong8:     8,
	TIFFSLong8:    8,
	TIFFIFD8:      8,
}

// TIFFDirectory is a decoded TIFF structure.
type TIFFDirectory struct {
	ByteOrder binary.ByteOrder

	// IFDs holds IFD0 followed by any chained directories (IFD1 is usually a thumbnail).
	IFDs []*IFD
}

// Get returns the value of the tag with the given name in IFD0.
func (t *TIFFDirectory) Get(name string) (any, bool) {
	if t == nil || len(t.IFDs) == 0 {
		return nil, false
	}
	return t.IFDs[0].Get(name)
}

// IFD is one Image File Directory.
type IFD struct {
	// Namespace is the path to this directory, e.g. "IFD0/ExifIFD".
	Namespace string
	// Offset is relative to the start of the TIFF header.
	Offset  int64
	Entries []IFDEntry
}

// IFDEntry is one decoded directory entry.
type IFDEntry struct {
	Tag   uint16
	Name  string
	Type  TIFFType
	Count uint32

	// Value is a scalar when Count is 1 and a typed slice otherwise.
	// ASCII is a string, UNDEFINED is a []byte, rationals are float64 quotients
	// and directory pointers hold the nested *IFD.
	Value any
}

// Get returns the value of the first entry with the given name.
func (d *IFD) Get(name string) (any, bool) {
	for _, e := range d.Entries {
		if e.Name == name {
			return e.Value, true
		}
	}
	return nil, false
}

// Lookup returns the entry with the given tag number.
func (d *IFD) Lookup(tag uint16) (IFDEntry, bool) {
	for _, e := range d.Entries {
		if e.Tag == tag {
			return e, true
		}
	}
	return IFDEntry{}, false
}

// Sub returns the nested directory stored in the entry with the given name.
func (d *IFD) Sub(name string) *IFD {
	v, _ := d.Get(name)
	sub, _ := v.(*IFD)
	return sub
}

// tagError is a problem scoped to a single IFD entry.
type tagError struct {
	offset int64
	kind   DiagnosticKind
	msg    string
}

func (e *tagError) Error() string {
	return e.msg
}

func newTagErrorf(offset int64, kind DiagnosticKind, format string, args ...any) *tagError {
	return &tagError{offset: offset, kind: kind, msg: fmt.Sprintf(format, args...)}
}

// DecodeTIFF decodes the TIFF structure in b.
// An unreadable byte order mark is a StructuralError;
// problems with individual entries are returned as diagnostics.
func DecodeTIFF(b []byte) (*TIFFDirectory, Diagnostics, error) {
	d := newDiagnoser(nil)
	t, err := decodeTIFF(b, 0, d)
	return t, d.diags, err
}

// decodeTIFF decodes the TIFF structure in b, which starts at the absolute file offset.
func decodeTIFF(b []byte, offset int64, d *diagnoser) (*TIFFDirectory, error) {
	dec := &metaDecoderTIFF{
		streamReader: newPayloadReader(b, offset),
		base:         offset,
		visited:      make(map[int64]bool),
	}
	t, err := dec.decode()
	if merr, ok := err.(*multierror.Error); ok {
		for _, e := range merr.Errors {
			var te *tagError
			if errors.As(e, &te) {
				d.addf(te.offset, te.kind, "%s", te.msg)
			} else {
				d.addf(offset, DiagnosticInvalidValue, "%s", e)
			}
		}
		return t, nil
	}
	return t, err
}

type metaDecoderTIFF struct {
	*streamReader

	// Absolute offset of the TIFF header; IFD offsets are relative to this.
	base    int64
	visited map[int64]bool
}

func (e *metaDecoderTIFF) decode() (t *TIFFDirectory, err error) {
	defer func() {
		if r := recover(); r != nil {
			if r != errPayloadStop {
				panic(r)
			}
			err = newStructuralErrorf(e.base, "TIFF header truncated: %v", e.readErr)
		}
	}()

	byteOrderTag := e.read2()
	switch byteOrderTag {
	case byteOrderBigEndian:
		e.byteOrder = binary.BigEndian
	case byteOrderLittleEndian:
		e.byteOrder = binary.LittleEndian
	default:
		return nil, newStructuralErrorf(e.base, "invalid TIFF byte order mark 0x%04x", byteOrderTag)
	}

	t = &TIFFDirectory{ByteOrder: e.byteOrder}

	var errs *multierror.Error

	if magic := e.read2(); magic != tiffMagic {
		errs = multierror.Append(errs, newTagErrorf(e.base+2, DiagnosticInvalidValue, "TIFF magic is %d, expected %d", magic, tiffMagic))
	}

	ifdOffset := int64(e.read4())
	for i := 0; ifdOffset != 0 && i < maxChainedIFDs; i++ {
		namespace := fmt.Sprintf("IFD%d", i)
		ifd, next, err := e.decodeIFD(namespace, ifdOffset, 0)
		errs = multierror.Append(errs, err)
		if ifd == nil {
			break
		}
		t.IFDs = append(t.IFDs, ifd)
		ifdOffset = next
	}

	return t, errs.ErrorOrNil()
}

// decodeIFD decodes the directory at the given offset relative to the TIFF header.
// It returns the offset of the next chained directory.
func (e *metaDecoderTIFF) decodeIFD(namespace string, offset int64, depth int) (ifd *IFD, next int64, err error) {
	abs := e.base + offset
	if e.visited[offset] {
		return nil, 0, newTagErrorf(abs, DiagnosticInvalidValue, "%s: directory at offset %d already visited", namespace, offset)
	}
	e.visited[offset] = true

	if offset < 8 || abs+2 > e.end {
		return nil, 0, newTagErrorf(abs, DiagnosticLength, "%s: directory offset %d out of range", namespace, offset)
	}

	e.seek(abs)
	numTags := int64(e.read2())
	if abs+2+numTags*12 > e.end {
		return nil, 0, newTagErrorf(abs, DiagnosticLength, "%s: %d entries extend past end of data", namespace, numTags)
	}

	ifd = &IFD{Namespace: namespace, Offset: offset}
	fields := fieldsForNamespace(namespace)

	var errs *multierror.Error
	for i := range numTags {
		entryPos := abs + 2 + i*12
		entry, ok, err := e.decodeEntry(namespace, fields, entryPos, depth)
		errs = multierror.Append(errs, err)
		if ok {
			ifd.Entries = append(ifd.Entries, entry)
		}
	}

	nextPos := abs + 2 + numTags*12
	if nextPos+4 <= e.end {
		e.seek(nextPos)
		next = int64(e.read4())
	}

	return ifd, next, errs.ErrorOrNil()
}

// A tag is represented in 12 bytes:
//   - 2 bytes for the tag ID
//   - 2 bytes for the data type
//   - 4 bytes for the number of data values of the specified type
//   - 4 bytes for the value itself, if it fits, otherwise for a pointer to another location where the data may be found;
//     this could be a pointer to the beginning of another IFD.
func (e *metaDecoderTIFF) decodeEntry(namespace string, fields map[uint16]string, entryPos int64, depth int) (entry IFDEntry, ok bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			if r != errPayloadStop {
				panic(r)
			}
			ok = false
			err = newTagErrorf(entryPos, DiagnosticTruncated, "%s: tag 0x%04x: value out of range: %v", namespace, entry.Tag, e.readErr)
		}
	}()

	e.seek(entryPos)
	entry.Tag = e.read2()
	entry.Type = TIFFType(e.read2())
	entry.Count = e.read4()

	var errs *multierror.Error

	name, known := fields[entry.Tag]
	if !known {
		name = strconv.Itoa(int(entry.Tag))
		errs = multierror.Append(errs, newTagErrorf(entryPos, DiagnosticUnknownTag, "%s: unknown tag %d", namespace, entry.Tag))
	}
	entry.Name = name

	size, found := tiffTypeSize[entry.Type]
	if !found {
		errs = multierror.Append(errs, newTagErrorf(entryPos, DiagnosticUnknownDatatype, "%s: tag %s: unknown datatype %d", namespace, name, entry.Type))
		return entry, false, errs.ErrorOrNil()
	}

	valLen := size * uint64(entry.Count)
	if valLen > 4 {
		valueOffset := int64(e.read4())
		if uint64(valueOffset)+valLen > uint64(e.end-e.base) {
			errs = multierror.Append(errs, newTagErrorf(entryPos, DiagnosticLength, "%s: tag %s: %d value bytes at offset %d extend past end of data", namespace, name, valLen, valueOffset))
			return entry, false, errs.ErrorOrNil()
		}
		e.seek(e.base + valueOffset)
	}

	entry.Value = e.readValues(entry.Type, int(entry.Count))

	if sub, isPointer := tiffIFDPointers[entry.Tag]; isPointer {
		subOffset, isOffset := entry.Value.(uint32)
		switch {
		case !isOffset:
			errs = multierror.Append(errs, newTagErrorf(entryPos, DiagnosticInvalidValue, "%s: tag %s: expected a single offset", namespace, name))
		case depth >= maxIFDDepth:
			errs = multierror.Append(errs, newTagErrorf(entryPos, DiagnosticLimit, "%s: tag %s: directories nested too deep", namespace, name))
		default:
			ifd, _, err := e.decodeIFD(path.Join(namespace, sub), int64(subOffset), depth+1)
			errs = multierror.Append(errs, err)
			if ifd != nil {
				entry.Value = ifd
			}
		}
	}

	return entry, true, errs.ErrorOrNil()
}

func (e *metaDecoderTIFF) readValues(typ TIFFType, count int) any {
	switch typ {
	case TIFFASCII:
		return string(trimBytesNulls(e.readBytes(count)))
	case TIFFUndefined:
		return e.readBytes(count)
	case TIFFByte:
		if count == 1 {
			return e.read1()
		}
		return e.readBytes(count)
	case TIFFSByte:
		return readN(count, e.read1s)
	case TIFFShort:
		return readN(count, e.read2)
	case TIFFSShort:
		return readN(count, func() int16 { return int16(e.read2()) })
	case TIFFLong, TIFFIFD:
		return readN(count, e.read4)
	case TIFFSLong:
		return readN(count, e.read4s)
	case TIFFRational:
		return readN(count, func() float64 {
			num, den := e.read4(), e.read4()
			return quotient(float64(num), float64(den))
		})
	case TIFFSRational:
		return readN(count, func() float64 {
			num, den := e.read4s(), e.read4s()
			return quotient(float64(num), float64(den))
		})
	case TIFFFloat:
		return readN(count, func() float32 { return math.Float32frombits(e.read4()) })
	case TIFFDouble:
		return readN(count, func() float64 { return math.Float64frombits(e.read8()) })
	case TIFFLong8, TIFFIFD8:
		return readN(count, e.read8)
	case TIFFSLong8:
		return readN(count, func() int64 { return int64(e.read8()) })
	default:
		panic(fmt.Sprintf("unhandled TIFF type %d", typ))
	}
}

// readN reads count values, returning a scalar for a count of 1 and a slice otherwise.
func readN[T any](count int, read func() T) any {
	if count == 1 {
		return read()
	}
	vals := make([]T, count)
	for i := range vals {
		vals[i] = read()
	}
	return vals
}

func quotient(num, den float64) float64 {
	if den == 0 {
		if num == 0 {
			return math.NaN()
		}
		return math.Inf(int(math.Copysign(1, num)))
	}
	return num / den
}

func baseNamespace(namespace string) string {
	return path.Base(namespace)
}
