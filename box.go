// Copyright 2024 Bjørn Erik Pedersen
// SPDX-License-Identifier: MIT

package jp2meta

import (
	"fmt"
	"math"
)

// BoxType is the four character tag of a box.
type BoxType FourCC

func (t BoxType) String() string {
	return printableFourCC(t[:])
}

// Box types defined by ISO/IEC 15444-1 and 15444-2.
var (
	BoxSignature            = BoxType{'j', 'P', ' ', ' '}
	BoxFileType             = BoxType{'f', 't', 'y', 'p'}
	BoxJP2Header            = BoxType{'j', 'p', '2', 'h'}
	BoxImageHeader          = BoxType{'i', 'h', 'd', 'r'}
	BoxBitsPerComponent     = BoxType{'b', 'p', 'c', 'c'}
	BoxColorSpecification   = BoxType{'c', 'o', 'l', 'r'}
	BoxPalette              = BoxType{'p', 'c', 'l', 'r'}
	BoxComponentMapping     = BoxType{'c', 'm', 'a', 'p'}
	BoxChannelDefinition    = BoxType{'c', 'd', 'e', 'f'}
	BoxResolution           = BoxType{'r', 'e', 's', ' '}
	BoxCaptureResolution    = BoxType{'r', 'e', 's', 'c'}
	BoxDisplayResolution    = BoxType{'r', 'e', 's', 'd'}
	BoxCodestream           = BoxType{'j', 'p', '2', 'c'}
	BoxIntellectualProperty = BoxType{'j', 'p', '2', 'i'}
	BoxXML                  = BoxType{'x', 'm', 'l', ' '}
	BoxUUID                 = BoxType{'u', 'u', 'i', 'd'}
	BoxUUIDInfo             = BoxType{'u', 'i', 'n', 'f'}
	BoxUUIDList             = BoxType{'u', 'l', 's', 't'}
	BoxURL                  = BoxType{'u', 'r', 'l', ' '}
	BoxAssociation          = BoxType{'a', 's', 'o', 'c'}
	BoxLabel                = BoxType{'l', 'b', 'l', ' '}
	BoxNumberList           = BoxType{'n', 'l', 's', 't'}
	BoxReaderRequirements   = BoxType{'r', 'r', 'e', 'q'}
	BoxCodestreamHeader     = BoxType{'j', 'p', 'c', 'h'}
	BoxCompositingLayer     = BoxType{'j', 'p', 'l', 'h'}
	BoxColorGroup           = BoxType{'c', 'g', 'r', 'p'}
	BoxFragmentTable        = BoxType{'f', 't', 'b', 'l'}
	BoxFragmentList         = BoxType{'f', 'l', 's', 't'}
	BoxDataReference        = BoxType{'d', 't', 'b', 'l'}
)

// superBoxes holds the box types whose payload is a plain list of boxes.
var superBoxes = map[BoxType]bool{
	BoxJP2Header:        true,
	BoxResolution:       true,
	BoxUUIDInfo:         true,
	BoxAssociation:      true,
	BoxCodestreamHeader: true,
	BoxCompositingLayer: true,
	BoxColorGroup:       true,
	BoxFragmentTable:    true,
}

// Box is a decoded box.
// The concrete type is one of the *...Box types in this package.
type Box interface {
	Header() BoxHeader

	// Children returns the child boxes of a superbox, nil for leaf boxes.
	Children() []Box
}

// BoxHeader holds the fields common to all boxes.
type BoxHeader struct {
	Type BoxType

	// Offset is the absolute file offset of the box header.
	Offset int64
	// Length is the total box length, including the header.
	Length int64
	// HeaderLength is 8, or 16 when an extended length is used.
	HeaderLength int
}

// Header returns h.
func (h BoxHeader) Header() BoxHeader {
	return h
}

func (h BoxHeader) Children() []Box {
	return nil
}

// PayloadOffset returns the absolute file offset of the box payload.
func (h BoxHeader) PayloadOffset() int64 {
	return h.Offset + int64(h.HeaderLength)
}

// PayloadLength returns the number of payload bytes.
func (h BoxHeader) PayloadLength() int64 {
	return h.Length - int64(h.HeaderLength)
}

// SuperBox is a box whose payload is a list of boxes, e.g. 'jp2h' or 'asoc'.
type SuperBox struct {
	BoxHeader
	Boxes []Box
}

func (b *SuperBox) Children() []Box {
	return b.Boxes
}

// Walk calls fn for each box in depth-first order.
// If fn returns false, the children of that box are skipped.
func Walk(boxes []Box, fn func(Box) bool) {
	for _, b := range boxes {
		if fn(b) {
			Walk(b.Children(), fn)
		}
	}
}

// FindBoxes returns all boxes of the given type, at any depth.
func FindBoxes(boxes []Box, typ BoxType) []Box {
	var found []Box
	Walk(boxes, func(b Box) bool {
		if b.Header().Type == typ {
			found = append(found, b)
		}
		return true
	})
	return found
}

// leafBox is a box decoded from a buffered payload.
type leafBox interface {
	Box
	decode(p *streamReader, d *diagnoser)
}

type boxReader struct {
	*streamReader
	opts Options
	d    *diagnoser

	// The first structural error. Once set, all walks stop.
	err error
}

// readBoxes reads the boxes in the absolute range [start, end).
func (r *boxReader) readBoxes(start, end int64, depth int) []Box {
	var boxes []Box
	pos := start
	for r.err == nil && pos < end {
		if end-pos < 8 {
			r.d.addf(pos, DiagnosticLength, "%d trailing bytes ignored", end-pos)
			break
		}
		b, ok := r.readBox(pos, end, depth)
		if b != nil {
			if depth == 0 && len(boxes) == 0 && r.err == nil {
				r.checkSignature(b)
			}
			boxes = append(boxes, b)
		}
		if !ok {
			break
		}
		h := b.Header()
		pos = h.Offset + h.Length
	}
	if depth == 0 && len(boxes) == 0 && r.err == nil {
		r.err = newStructuralErrorf(start, "no JP2 signature box found")
	}
	return boxes
}

// checkSignature verifies that the file starts with a valid signature box.
func (r *boxReader) checkSignature(b Box) {
	sig, ok := b.(*SignatureBox)
	if !ok {
		r.err = newStructuralErrorf(b.Header().Offset, "file does not start with a JP2 signature box, got %q", b.Header().Type)
		return
	}
	if !sig.Valid() {
		r.err = newStructuralErrorf(sig.Offset, "invalid JP2 signature 0x%x", sig.Signature)
	}
}

// readBox reads the box at pos in a list that ends at end.
// It returns ok=false if the list cannot be continued.
func (r *boxReader) readBox(pos, end int64, depth int) (b Box, ok bool) {
	defer func() {
		if rec := recover(); rec != nil {
			if rec != errStop {
				panic(rec)
			}
			r.err = &StructuralError{Offset: pos, Err: fmt.Errorf("box truncated: %w", r.readErr)}
			ok = false
		}
	}()

	r.seek(pos)
	length := int64(r.read4())
	h := BoxHeader{Type: BoxType(r.readFourCC()), Offset: pos, HeaderLength: 8}

	switch {
	case length == 1:
		if end-pos < 16 {
			r.d.addf(pos, DiagnosticLength, "%s box: extended length overruns container", h.Type)
			return nil, false
		}
		xl := r.read8()
		if xl < 16 {
			r.d.addf(pos, DiagnosticLength, "%s box: invalid extended length %d", h.Type, xl)
			return nil, false
		}
		if xl > math.MaxInt64 {
			xl = math.MaxInt64
		}
		length = int64(xl)
		h.HeaderLength = 16
	case length == 0:
		length = end - pos
	case length < 8:
		r.d.addf(pos, DiagnosticLength, "%s box: invalid length %d", h.Type, length)
		return nil, false
	}

	if length > end-pos {
		r.d.addf(pos, DiagnosticLength, "%s box: length %d overruns container by %d bytes", h.Type, length, length-(end-pos))
		length = end - pos
	}
	h.Length = length

	switch {
	case superBoxes[h.Type]:
		return r.readSuperBox(h, depth), true
	case h.Type == BoxDataReference:
		return r.readDataReference(h, depth), true
	case h.Type == BoxCodestream:
		return r.readCodestreamBox(h), true
	default:
		return r.readLeafBox(h), true
	}
}

func (r *boxReader) readSuperBox(h BoxHeader, depth int) *SuperBox {
	b := &SuperBox{BoxHeader: h}
	if depth+1 > r.opts.LimitBoxDepth {
		r.d.addf(h.Offset, DiagnosticLimit, "%s box: nesting depth limit %d reached", h.Type, r.opts.LimitBoxDepth)
		return b
	}
	b.Boxes = r.readBoxes(h.PayloadOffset(), h.Offset+h.Length, depth+1)
	return b
}

func (r *boxReader) readDataReference(h BoxHeader, depth int) *DataReferenceBox {
	b := &DataReferenceBox{BoxHeader: h}
	if h.PayloadLength() < 2 {
		r.d.addf(h.Offset, DiagnosticTruncated, "%s box: missing entry count", h.Type)
		return b
	}
	b.NumEntries = r.read2()
	if depth+1 > r.opts.LimitBoxDepth {
		r.d.addf(h.Offset, DiagnosticLimit, "%s box: nesting depth limit %d reached", h.Type, r.opts.LimitBoxDepth)
		return b
	}
	b.Boxes = r.readBoxes(h.PayloadOffset()+2, h.Offset+h.Length, depth+1)
	if len(b.Boxes) != int(b.NumEntries) {
		r.d.addf(h.Offset, DiagnosticInvalidValue, "%s box: declares %d entries, found %d", h.Type, b.NumEntries, len(b.Boxes))
	}
	return b
}

func (r *boxReader) readCodestreamBox(h BoxHeader) *ContiguousCodestreamBox {
	b := &ContiguousCodestreamBox{BoxHeader: h}
	cr := newCodestreamReader(r.streamReader, r.opts, r.d, h.PayloadOffset(), h.Offset+h.Length)
	var err error
	b.Codestream, err = cr.read()
	if err != nil {
		r.err = err
	}
	return b
}

func (r *boxReader) readLeafBox(h BoxHeader) Box {
	newBox, found := leafBoxes[h.Type]
	if !found {
		r.d.addf(h.Offset, DiagnosticUnknownBox, "unknown box type %q", h.Type)
		newBox = newUnknownBox
	}

	n := h.PayloadLength()
	if n > r.opts.LimitPayloadSize {
		r.d.addf(h.Offset, DiagnosticLimit, "%s box: payload of %d bytes exceeds limit, skipped", h.Type, n)
		return &UnknownBox{BoxHeader: h}
	}

	p := r.bufferedReader(n)
	b := newBox(h)
	r.decodePayload(b, p)
	return b
}

func (r *boxReader) decodePayload(b leafBox, p *streamReader) {
	typ := b.Header().Type
	defer func() {
		if rec := recover(); rec != nil {
			if rec != errPayloadStop {
				panic(rec)
			}
			r.d.addf(p.pos(), DiagnosticTruncated, "%s box: payload truncated: %v", typ, p.readErr)
		}
	}()

	b.decode(p, r.d)
	if rem := p.remaining(); rem > 0 {
		r.d.addf(p.pos(), DiagnosticLength, "%s box: %d payload bytes not consumed", typ, rem)
	}
}
