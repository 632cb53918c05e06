// Copyright 2024 Bjørn Erik Pedersen
// SPDX-License-Identifier: MIT

package jp2meta

import (
	"fmt"
)

// Marker is a codestream marker code.
type Marker uint16

const (
	MarkerCAP Marker = 0xff50
	MarkerSIZ Marker = 0xff51
	MarkerCOD Marker = 0xff52
	MarkerCOC Marker = 0xff53
	MarkerTLM Marker = 0xff55
	MarkerPLM Marker = 0xff57
	MarkerPLT Marker = 0xff58
	MarkerQCD Marker = 0xff5c
	MarkerQCC Marker = 0xff5d
	MarkerRGN Marker = 0xff5e
	MarkerPOC Marker = 0xff5f
	MarkerPPM Marker = 0xff60
	MarkerPPT Marker = 0xff61
	MarkerCRG Marker = 0xff63
	MarkerCOM Marker = 0xff64
	MarkerSOT Marker = 0xff90
	MarkerSOP Marker = 0xff91
	MarkerEPH Marker = 0xff92
	MarkerSOD Marker = 0xff93
	MarkerSOC Marker = 0xff4f
	MarkerEOC Marker = 0xffd9
)

var markerNames = map[Marker]string{
	MarkerCAP: "CAP",
	MarkerSIZ: "SIZ",
	MarkerCOD: "COD",
	MarkerCOC: "COC",
	MarkerTLM: "TLM",
	MarkerPLM: "PLM",
	MarkerPLT: "PLT",
	MarkerQCD: "QCD",
	MarkerQCC: "QCC",
	MarkerRGN: "RGN",
	MarkerPOC: "POC",
	MarkerPPM: "PPM",
	MarkerPPT: "PPT",
	MarkerCRG: "CRG",
	MarkerCOM: "COM",
	MarkerSOT: "SOT",
	MarkerSOP: "SOP",
	MarkerEPH: "EPH",
	MarkerSOD: "SOD",
	MarkerSOC: "SOC",
	MarkerEOC: "EOC",
}

func (m Marker) String() string {
	if s, ok := markerNames[m]; ok {
		return s
	}
	return fmt.Sprintf("0x%04X", uint16(m))
}

// hasNoLength reports whether m is a marker that may appear without a length
// field: the 0xFF30-0xFF3F range and a SOP found outside a packet stream.
func (m Marker) hasNoLength() bool {
	return (m >= 0xff30 && m <= 0xff3f) || m == MarkerSOP
}

// Codestream is a decoded JPEG 2000 codestream.
type Codestream struct {
	// Offset and Length give the absolute byte range of the codestream.
	Offset   int64
	Length   int64
	Segments []Segment
}

// SIZ returns the image and tile size segment, nil if missing.
func (c *Codestream) SIZ() *SIZSegment {
	for _, s := range c.Segments {
		if siz, ok := s.(*SIZSegment); ok {
			return siz
		}
	}
	return nil
}

// Find returns all segments with the given marker.
func (c *Codestream) Find(m Marker) []Segment {
	var found []Segment
	for _, s := range c.Segments {
		if s.Header().Marker == m {
			found = append(found, s)
		}
	}
	return found
}

// codestreamContext is the state carried from earlier segments to the decoders of later ones.
type codestreamContext struct {
	// From SIZ.
	numComponents int
	// From COD.
	sop bool
	eph bool
}

// componentIndexSize is the width of a component index field: 2 bytes when Csiz >= 257.
func (c codestreamContext) componentIndexSize() int {
	if c.numComponents < 257 {
		return 1
	}
	return 2
}

func (c *codestreamContext) update(s Segment) {
	switch s := s.(type) {
	case *SIZSegment:
		c.numComponents = int(s.Csiz)
	case *CODSegment:
		c.sop, c.eph = s.UsesSOP(), s.UsesEPH()
	}
}

type codestreamReader struct {
	*streamReader
	opts Options
	d    *diagnoser

	start, end int64
	cs         *Codestream

	// A structural error that stops the walk.
	err      error
	limitHit bool
}

func newCodestreamReader(br *streamReader, opts Options, d *diagnoser, start, end int64) *codestreamReader {
	return &codestreamReader{
		streamReader: br,
		opts:         opts,
		d:            d,
		start:        start,
		end:          end,
	}
}

// read walks the codestream. The returned Codestream holds the segments
// read so far also when err is non-nil.
func (r *codestreamReader) read() (*Codestream, error) {
	r.cs = &Codestream{Offset: r.start, Length: r.end - r.start}

	if r.end-r.start < 2 {
		return r.cs, newStructuralErrorf(r.start, "codestream of %d bytes", r.end-r.start)
	}
	r.seek(r.start)
	if m := Marker(r.read2()); m != MarkerSOC {
		return r.cs, newStructuralErrorf(r.start, "codestream starts with %s, expected SOC", m)
	}
	r.add(&DelimiterSegment{SegmentHeader{Marker: MarkerSOC, Offset: r.start}})

	var ctx codestreamContext
	for r.err == nil && !r.limitHit {
		pos := r.pos()
		if r.end-pos < 2 {
			if r.end > pos {
				r.d.addf(pos, DiagnosticLength, "%d trailing bytes in codestream", r.end-pos)
			}
			r.d.addf(pos, DiagnosticTruncated, "codestream ends without EOC")
			break
		}

		m := Marker(r.read2())
		switch m {
		case MarkerEOC:
			r.add(&DelimiterSegment{SegmentHeader{Marker: m, Offset: pos}})
			if rem := r.end - r.pos(); rem > 0 {
				r.d.addf(r.pos(), DiagnosticLength, "%d bytes after EOC", rem)
			}
			return r.cs, r.err
		case MarkerSOT:
			if r.opts.HeaderOnly {
				return r.cs, nil
			}
			r.readTilePart(pos, ctx)
		case MarkerSOD:
			r.add(&DelimiterSegment{SegmentHeader{Marker: m, Offset: pos}})
			r.d.addf(pos, DiagnosticInvalidValue, "SOD outside a tile-part header")
			return r.cs, nil
		case MarkerEPH:
			r.add(&DelimiterSegment{SegmentHeader{Marker: m, Offset: pos}})
		default:
			if s, ok := r.readSegment(pos, m, ctx); ok {
				r.add(s)
				ctx.update(s)
			}
		}
	}

	return r.cs, r.err
}

// add appends s and reports whether the segment limit allows more.
func (r *codestreamReader) add(s Segment) bool {
	if len(r.cs.Segments) >= r.opts.LimitNumSegments {
		if !r.limitHit {
			r.d.addf(s.Header().Offset, DiagnosticLimit, "codestream segment limit %d reached", r.opts.LimitNumSegments)
			r.limitHit = true
		}
		return false
	}
	r.cs.Segments = append(r.cs.Segments, s)
	return true
}

// readSegment reads the marker segment m whose marker code was read at pos.
// It returns ok=false if there is no segment to add; r.err is set if the walk must stop.
func (r *codestreamReader) readSegment(pos int64, m Marker, ctx codestreamContext) (Segment, bool) {
	newSegment, known := segmentDecoders[m]
	if !known {
		// 0xFF00 is a stuffed byte and 0xFFFF fill, neither starts a segment.
		if m <= 0xff00 || m == 0xffff {
			r.err = newStructuralErrorf(pos, "invalid marker 0x%04X", uint16(m))
			return nil, false
		}
		if m.hasNoLength() && r.end-r.pos() >= 2 {
			var next uint16
			r.preservePos(func() { next = r.read2() })
			if next>>8 == 0xff {
				r.d.addf(pos, DiagnosticUnknownMarker, "marker %s without a length field", m)
				return &GenericSegment{SegmentHeader: SegmentHeader{Marker: m, Offset: pos}}, true
			}
		}
		r.d.addf(pos, DiagnosticUnknownMarker, "unknown marker %s", m)
		newSegment = newGenericSegment
	}

	lpos := r.pos()
	if r.end-lpos < 2 {
		r.d.addf(pos, DiagnosticTruncated, "%s segment without a length field", m)
		r.seek(r.end)
		return nil, false
	}
	length := int64(r.read2())
	if length < 2 {
		r.err = newStructuralErrorf(lpos, "%s segment length %d", m, length)
		return nil, false
	}
	if length > r.end-lpos {
		r.d.addf(lpos, DiagnosticLength, "%s segment length %d overruns codestream by %d bytes", m, length, length-(r.end-lpos))
		length = r.end - lpos
	}

	s := newSegment(SegmentHeader{Marker: m, Offset: pos, Length: int(length)})
	p := r.bufferedReader(length - 2)
	r.decodePayload(s, p, ctx)

	return s, true
}

func (r *codestreamReader) decodePayload(s segmentDecoder, p *streamReader, ctx codestreamContext) {
	m := s.Header().Marker
	defer func() {
		if rec := recover(); rec != nil {
			if rec != errPayloadStop {
				panic(rec)
			}
			r.d.addf(p.pos(), DiagnosticTruncated, "%s segment truncated: %v", m, p.readErr)
		}
	}()

	s.decode(p, ctx, r.d)
	if rem := p.remaining(); rem > 0 {
		r.d.addf(p.pos(), DiagnosticLength, "%s segment: %d bytes not consumed", m, rem)
	}
}

// readTilePart reads the tile-part starting with the SOT marker at pos,
// and leaves the reader at the end of the tile-part.
func (r *codestreamReader) readTilePart(pos int64, ctx codestreamContext) {
	s, ok := r.readSegment(pos, MarkerSOT, ctx)
	if !ok {
		return
	}
	if !r.add(s) {
		return
	}
	sot := s.(*SOTSegment)

	tileEnd := pos + int64(sot.Psot)
	switch {
	case sot.Psot == 0:
		tileEnd = r.lastTileEnd(pos)
	case tileEnd > r.end:
		r.d.addf(pos, DiagnosticLength, "tile-part length %d overruns codestream by %d bytes", sot.Psot, tileEnd-r.end)
		tileEnd = r.end
	}
	if tileEnd < r.pos() {
		r.d.addf(pos, DiagnosticLength, "tile-part length %d is shorter than its SOT segment", sot.Psot)
		tileEnd = r.pos()
	}

	// A COD in the tile-part header overrides SOP/EPH use for this tile only.
	tctx := ctx
	psotIgnored := sot.Psot == 0
	for r.err == nil && !r.limitHit {
		hpos := r.pos()
		if tileEnd-hpos < 2 {
			r.d.addf(hpos, DiagnosticTruncated, "tile-part header without SOD")
			if hpos < tileEnd {
				r.seek(tileEnd)
			}
			return
		}
		m := Marker(r.read2())
		switch m {
		case MarkerSOD:
			r.add(&DelimiterSegment{SegmentHeader{Marker: m, Offset: hpos}})
			if tctx.sop || tctx.eph {
				r.scanPackets(r.pos(), tileEnd)
			}
			r.seek(tileEnd)
			return
		case MarkerEOC, MarkerSOT:
			r.d.addf(hpos, DiagnosticInvalidValue, "%s in tile-part header", m)
			r.seek(hpos)
			return
		default:
			if s, ok := r.readSegment(hpos, m, tctx); ok {
				r.add(s)
				tctx.update(s)
			}
			if r.err == nil && !psotIgnored && r.pos() > tileEnd {
				// Psot does not cover the header; the tile-part runs to the end of the codestream.
				r.d.addf(hpos, DiagnosticLength, "%s segment overruns tile-part length %d by %d bytes", m, sot.Psot, r.pos()-tileEnd)
				tileEnd = r.lastTileEnd(pos)
				psotIgnored = true
			}
		}
	}
}

// lastTileEnd returns the end of a tile-part at pos that extends to the
// end of the codestream, excluding a final EOC.
func (r *codestreamReader) lastTileEnd(pos int64) int64 {
	end := r.end
	if r.end-pos >= 4 {
		r.preservePos(func() {
			r.seek(r.end - 2)
			if Marker(r.read2()) == MarkerEOC {
				end = r.end - 2
			}
		})
	}
	return end
}
