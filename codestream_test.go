// Copyright 2024 Bjørn Erik Pedersen
// SPDX-License-Identifier: MIT

package jp2meta

import (
	"bytes"
	"testing"

	qt "github.com/frankban/quicktest"
)

func decodeCodestreamBytes(c *qt.C, b []byte, opts ...func(*Options)) (*Codestream, Diagnostics, error) {
	c.Helper()
	o := Options{R: bytes.NewReader(b)}
	for _, opt := range opts {
		opt(&o)
	}
	return DecodeCodestream(o)
}

// mainHeader returns SOC, a 4x4 single component SIZ, COD and QCD.
func mainHeader(scod uint8) []byte {
	return cat(marker(MarkerSOC), sizSegment(4, 4, 4, 4, 7), codSegment(scod), qcdSegment())
}

func TestCodestreamMainHeader(t *testing.T) {
	c := qt.New(t)

	cs, diags, err := decodeCodestreamBytes(c, minimalCodestream())
	c.Assert(err, qt.IsNil)
	c.Assert(diags, qt.HasLen, 0)
	c.Assert(cs.Offset, qt.Equals, int64(0))
	c.Assert(cs.Length, qt.Equals, int64(88))

	siz := cs.SIZ()
	c.Assert(siz.Components, qt.DeepEquals, []ComponentSize{{Depth: 7, XRsiz: 1, YRsiz: 1}})

	cod := cs.Find(MarkerCOD)[0].(*CODSegment)
	c.Assert(cod.ProgressionOrder, qt.Equals, LRCP)
	c.Assert(cod.Layers, qt.Equals, uint16(1))
	c.Assert(cod.MultipleComponentTransform, qt.Equals, uint8(0))
	c.Assert(cod.UsesSOP(), qt.IsFalse)
	c.Assert(cod.UsesEPH(), qt.IsFalse)
	c.Assert(cod.CodingStyle, qt.DeepEquals, CodingStyle{
		DecompositionLevels: 1,
		CodeBlockWidth:      64,
		CodeBlockHeight:     64,
		Transform:           Reversible53,
	})

	qcd := cs.Find(MarkerQCD)[0].(*QCDSegment)
	c.Assert(qcd.Style, qt.Equals, NoQuantization)
	c.Assert(qcd.GuardBits, qt.Equals, uint8(2))
	c.Assert(qcd.StepSizes, qt.DeepEquals, []StepSize{{Exponent: 8}, {Exponent: 9}, {Exponent: 9}, {Exponent: 10}})

	sot := cs.Find(MarkerSOT)[0].(*SOTSegment)
	c.Assert(sot.Isot, qt.Equals, uint16(0))
	c.Assert(sot.Psot, qt.Equals, uint32(18))
	c.Assert(sot.TPsot, qt.Equals, uint8(0))
	c.Assert(sot.TNsot, qt.Equals, uint8(1))

	c.Assert(cs.Find(MarkerPLT), qt.HasLen, 0)
}

func TestCodestreamPrecincts(t *testing.T) {
	c := qt.New(t)

	cod := segment(MarkerCOD, []byte{0x01, byte(RPCL)}, be16(3), []byte{1}, []byte{2, 4, 3, 0x40, byte(Irreversible97)}, []byte{0x77, 0x88, 0x89})
	cs, diags, err := decodeCodestreamBytes(c, cat(marker(MarkerSOC), sizSegment(4, 4, 4, 4, 7), cod, qcdSegment(), marker(MarkerEOC)))
	c.Assert(err, qt.IsNil)
	c.Assert(diags, qt.HasLen, 0)

	s := cs.Find(MarkerCOD)[0].(*CODSegment)
	c.Assert(s.ProgressionOrder, qt.Equals, RPCL)
	c.Assert(s.MultipleComponentTransform, qt.Equals, uint8(1))
	c.Assert(s.CodingStyle.CodeBlockWidth, qt.Equals, 64)
	c.Assert(s.CodingStyle.CodeBlockHeight, qt.Equals, 32)
	c.Assert(s.CodingStyle.CodeBlockStyle, qt.Equals, uint8(0x40))
	c.Assert(s.CodingStyle.Transform, qt.Equals, Irreversible97)
	c.Assert(s.CodingStyle.PrecinctSizes, qt.DeepEquals, []PrecinctSize{
		{Width: 128, Height: 128},
		{Width: 256, Height: 256},
		{Width: 512, Height: 256},
	})
}

func TestCodestreamCodingStyleAnomalies(t *testing.T) {
	c := qt.New(t)

	// Unknown progression order, zero layers, 40 levels, 2^(7+2) x 2^(7+2) code-blocks and transform 9.
	cod := segment(MarkerCOD, []byte{0, 7}, be16(0), []byte{0}, []byte{40, 7, 7, 0, 9})
	_, diags, err := decodeCodestreamBytes(c, cat(marker(MarkerSOC), sizSegment(4, 4, 4, 4, 7), cod, marker(MarkerEOC)))
	c.Assert(err, qt.IsNil)
	c.Assert(diagnosticKinds(diags), qt.DeepEquals, []DiagnosticKind{
		DiagnosticOutOfRange, DiagnosticInvalidValue, DiagnosticOutOfRange, DiagnosticOutOfRange, DiagnosticOutOfRange,
	})
}

func TestCodestreamSIZ(t *testing.T) {
	c := qt.New(t)

	decodeSIZ := func(c *qt.C, siz []byte) (*SIZSegment, Diagnostics) {
		cs, diags, err := decodeCodestreamBytes(c, cat(marker(MarkerSOC), siz, marker(MarkerEOC)))
		c.Assert(err, qt.IsNil)
		return cs.SIZ(), diags
	}

	c.Run("Too many tiles", func(c *qt.C) {
		siz, diags := decodeSIZ(c, sizSegment(70000, 1, 1, 1, 7))
		c.Assert(siz.NumTiles(), qt.Equals, int64(70000))
		c.Assert(diagnosticKinds(diags), qt.DeepEquals, []DiagnosticKind{DiagnosticInvalidValue})
	})

	c.Run("Tiles rounded up", func(c *qt.C) {
		siz, diags := decodeSIZ(c, sizSegment(1000, 500, 256, 256, 7, 7, 7))
		c.Assert(diags, qt.HasLen, 0)
		c.Assert(siz.NumTiles(), qt.Equals, int64(8))
		c.Assert(siz.Components, qt.HasLen, 3)
	})

	c.Run("Zero tile size", func(c *qt.C) {
		siz, diags := decodeSIZ(c, sizSegment(4, 4, 0, 4, 7))
		c.Assert(siz.NumTiles(), qt.Equals, int64(0))
		c.Assert(diagnosticKinds(diags), qt.DeepEquals, []DiagnosticKind{DiagnosticInvalidValue})
	})

	c.Run("No components", func(c *qt.C) {
		_, diags := decodeSIZ(c, sizSegment(4, 4, 4, 4))
		c.Assert(diagnosticKinds(diags), qt.DeepEquals, []DiagnosticKind{DiagnosticOutOfRange})
	})

	c.Run("Zero sub-sampling", func(c *qt.C) {
		siz := segment(MarkerSIZ, be16(0), be32(4), be32(4), be32(0), be32(0), be32(4), be32(4), be32(0), be32(0), be16(1), []byte{7, 0, 1})
		_, diags := decodeSIZ(c, siz)
		c.Assert(diagnosticKinds(diags), qt.DeepEquals, []DiagnosticKind{DiagnosticInvalidValue})
	})

	c.Run("Truncated", func(c *qt.C) {
		siz := segment(MarkerSIZ, be16(0), be32(4), be32(4))
		_, diags := decodeSIZ(c, siz)
		c.Assert(diagnosticKinds(diags), qt.DeepEquals, []DiagnosticKind{DiagnosticTruncated})
	})
}

func TestQuantization(t *testing.T) {
	c := qt.New(t)

	decode := func(b ...byte) (Quantization, Diagnostics) {
		d := newDiagnoser(nil)
		q := decodeQuantization(newPayloadReader(b, 0), d, 0, MarkerQCD)
		return q, d.diags
	}

	c.Run("No quantization round trip", func(c *qt.C) {
		for e := range uint8(32) {
			q, diags := decode(0x40, e<<3)
			c.Assert(diags, qt.HasLen, 0)
			c.Assert(q.StepSizes, qt.DeepEquals, []StepSize{{Exponent: e, Mantissa: 0}})
		}
	})

	c.Run("Scalar expounded", func(c *qt.C) {
		q, diags := decode(0x22, 9<<3|0x01, 0x23, 10<<3, 0x00)
		c.Assert(diags, qt.HasLen, 0)
		c.Assert(q.Style, qt.Equals, ScalarExpounded)
		c.Assert(q.GuardBits, qt.Equals, uint8(1))
		c.Assert(q.StepSizes, qt.DeepEquals, []StepSize{{Exponent: 9, Mantissa: 0x123}, {Exponent: 10, Mantissa: 0}})
	})

	c.Run("Scalar derived", func(c *qt.C) {
		q, diags := decode(0x41, 0x88, 0x00)
		c.Assert(diags, qt.HasLen, 0)
		c.Assert(q.Style, qt.Equals, ScalarDerived)
		c.Assert(q.StepSizes, qt.DeepEquals, []StepSize{{Exponent: 17, Mantissa: 0}})

		_, diags = decode(0x41, 0x88, 0x00, 0x88, 0x00)
		c.Assert(diagnosticKinds(diags), qt.DeepEquals, []DiagnosticKind{DiagnosticLength})
	})

	c.Run("Unknown style", func(c *qt.C) {
		q, diags := decode(0x43, 1, 2, 3)
		c.Assert(q.StepSizes, qt.IsNil)
		c.Assert(diagnosticKinds(diags), qt.DeepEquals, []DiagnosticKind{DiagnosticOutOfRange})
	})
}

func TestCodestreamComponentIndex(t *testing.T) {
	c := qt.New(t)

	coc := segment(MarkerCOC, []byte{1, 0}, []byte{1, 4, 4, 0, 1})
	qcc := segment(MarkerQCC, []byte{0, 0x40, 8 << 3})
	cs, diags, err := decodeCodestreamBytes(c, cat(mainHeader(0), coc, qcc, marker(MarkerEOC)))
	c.Assert(err, qt.IsNil)
	c.Assert(diagnosticKinds(diags), qt.DeepEquals, []DiagnosticKind{DiagnosticOutOfRange})
	c.Assert(cs.Find(MarkerCOC)[0].(*COCSegment).Component, qt.Equals, uint16(1))
	c.Assert(cs.Find(MarkerQCC)[0].(*QCCSegment).StepSizes, qt.HasLen, 1)

	// With 300 components, indices are 2 bytes wide.
	depths := bytes.Repeat([]byte{7}, 300)
	coc = segment(MarkerCOC, be16(299), []byte{0}, []byte{1, 4, 4, 0, 1})
	cs, diags, err = decodeCodestreamBytes(c, cat(marker(MarkerSOC), sizSegment(4, 4, 4, 4, depths...), coc, marker(MarkerEOC)))
	c.Assert(err, qt.IsNil)
	c.Assert(diags, qt.HasLen, 0)
	c.Assert(cs.Find(MarkerCOC)[0].(*COCSegment).Component, qt.Equals, uint16(299))
}

func TestCodestreamOptionalSegments(t *testing.T) {
	c := qt.New(t)

	capability := segment(MarkerCAP, be32(0x00020001), be16(1), be16(2))
	tlm := segment(MarkerTLM, []byte{0, 0x50}, []byte{0}, be32(100), []byte{1}, be32(200))
	crg := segment(MarkerCRG, be16(10), be16(20))
	poc := segment(MarkerPOC, []byte{0, 0}, be16(1), []byte{2, 1, byte(CPRL)})
	rgn := segment(MarkerRGN, []byte{0, 0, 3})
	ppm := segment(MarkerPPM, []byte{0, 1, 2, 3})
	plm := segment(MarkerPLM, []byte{0, 4, 5})
	com := segment(MarkerCOM, be16(CommentLatin), []byte("Pris: 10 \xa4"))
	comBinary := segment(MarkerCOM, be16(CommentBinary), []byte{0xff, 0x00})

	cs, diags, err := decodeCodestreamBytes(c, cat(marker(MarkerSOC), capability, sizSegment(4, 4, 4, 4, 7),
		codSegment(0), qcdSegment(), tlm, crg, poc, rgn, ppm, plm, com, comBinary, marker(MarkerEOC)))
	c.Assert(err, qt.IsNil)
	c.Assert(diags, qt.HasLen, 0)
	c.Assert(segmentMarkers(cs.Segments), qt.DeepEquals, []string{
		"SOC", "CAP", "SIZ", "COD", "QCD", "TLM", "CRG", "POC", "RGN", "PPM", "PLM", "COM", "COM", "EOC",
	})

	capSeg := cs.Find(MarkerCAP)[0].(*CAPSegment)
	c.Assert(capSeg.Pcap, qt.Equals, uint32(0x00020001))
	c.Assert(capSeg.Ccap, qt.DeepEquals, []uint16{1, 2})

	tlmSeg := cs.Find(MarkerTLM)[0].(*TLMSegment)
	c.Assert(tlmSeg.TileIndices, qt.DeepEquals, []uint16{0, 1})
	c.Assert(tlmSeg.TilePartLengths, qt.DeepEquals, []uint32{100, 200})

	c.Assert(cs.Find(MarkerCRG)[0].(*CRGSegment).Offsets, qt.DeepEquals, []RegistrationOffset{{X: 10, Y: 20}})

	c.Assert(cs.Find(MarkerPOC)[0].(*POCSegment).Changes, qt.DeepEquals, []ProgressionChange{
		{ResolutionStart: 0, ComponentStart: 0, LayerEnd: 1, ResolutionEnd: 2, ComponentEnd: 1, ProgressionOrder: CPRL},
	})

	rgnSeg := cs.Find(MarkerRGN)[0].(*RGNSegment)
	c.Assert(rgnSeg.SPrgn, qt.Equals, uint8(3))

	ppmSeg := cs.Find(MarkerPPM)[0].(*PPMSegment)
	c.Assert(ppmSeg.Data, qt.DeepEquals, []byte{1, 2, 3})

	plmSeg := cs.Find(MarkerPLM)[0].(*PLMSegment)
	c.Assert(plmSeg.Data, qt.DeepEquals, []byte{4, 5})

	coms := cs.Find(MarkerCOM)
	c.Assert(coms[0].(*COMSegment).Text, qt.Equals, "Pris: 10 €")
	c.Assert(coms[1].(*COMSegment).Text, qt.Equals, "")
	c.Assert(coms[1].(*COMSegment).Data, qt.DeepEquals, []byte{0xff, 0x00})
}

func TestCodestreamSegmentAnomalies(t *testing.T) {
	c := qt.New(t)

	for _, test := range []struct {
		name    string
		segment []byte
		kinds   []DiagnosticKind
	}{
		{"TLM tile index size", segment(MarkerTLM, []byte{0, 0x30}, be16(1)), []DiagnosticKind{DiagnosticOutOfRange}},
		{"POC order", segment(MarkerPOC, []byte{0, 0}, be16(1), []byte{2, 1, 5}), []DiagnosticKind{DiagnosticOutOfRange}},
		{"RGN style", segment(MarkerRGN, []byte{0, 1, 3}), []DiagnosticKind{DiagnosticOutOfRange}},
		{"COM registration", segment(MarkerCOM, be16(5), []byte("x")), []DiagnosticKind{DiagnosticOutOfRange}},
		{"Not consumed", segment(MarkerCRG, be16(10), be16(20), []byte{1}), []DiagnosticKind{DiagnosticLength}},
		{"Truncated", segment(MarkerCAP, be32(0x3), be16(1)), []DiagnosticKind{DiagnosticTruncated}},
	} {
		c.Run(test.name, func(c *qt.C) {
			_, diags, err := decodeCodestreamBytes(c, cat(mainHeader(0), test.segment, marker(MarkerEOC)))
			c.Assert(err, qt.IsNil)
			c.Assert(diagnosticKinds(diags), qt.DeepEquals, test.kinds)
		})
	}
}

func TestCodestreamUnknownMarkers(t *testing.T) {
	c := qt.New(t)

	cs, diags, err := decodeCodestreamBytes(c, cat(
		mainHeader(0),
		be16(0xff30), be16(4), []byte{0xaa, 0xbb},
		segment(0xff70, []byte{1, 2, 3}),
		marker(MarkerEOC),
	))
	c.Assert(err, qt.IsNil)
	c.Assert(diagnosticKinds(diags), qt.DeepEquals, []DiagnosticKind{DiagnosticUnknownMarker, DiagnosticUnknownMarker})
	c.Assert(segmentMarkers(cs.Segments), qt.DeepEquals, []string{"SOC", "SIZ", "COD", "QCD", "0xFF30", "0xFF70", "EOC"})

	g := cs.Segments[4].(*GenericSegment)
	c.Assert(g.Length, qt.Equals, 4)
	c.Assert(g.Data, qt.DeepEquals, []byte{0xaa, 0xbb})
	g = cs.Segments[5].(*GenericSegment)
	c.Assert(g.Data, qt.DeepEquals, []byte{1, 2, 3})
}

func TestCodestreamStructuralErrors(t *testing.T) {
	c := qt.New(t)

	for _, test := range []struct {
		name     string
		data     []byte
		segments int
	}{
		{"No SOC", cat(sizSegment(4, 4, 4, 4, 7), marker(MarkerEOC)), 0},
		{"Too short", []byte{0xff}, 0},
		{"Invalid marker", cat(marker(MarkerSOC), sizSegment(4, 4, 4, 4, 7), []byte{0x12, 0x34, 0, 0}), 2},
		{"Stuffed byte as marker", cat(marker(MarkerSOC), sizSegment(4, 4, 4, 4, 7), be16(0xff00), be16(4), []byte{1, 2}), 2},
		{"Fill as marker", cat(marker(MarkerSOC), sizSegment(4, 4, 4, 4, 7), be16(0xffff), be16(4), []byte{1, 2}), 2},
		{"Segment length below 2", cat(marker(MarkerSOC), marker(MarkerCOD), be16(1), marker(MarkerEOC)), 1},
	} {
		c.Run(test.name, func(c *qt.C) {
			cs, _, err := decodeCodestreamBytes(c, test.data)
			c.Assert(IsStructuralError(err), qt.IsTrue, qt.Commentf("%v", err))
			c.Assert(cs.Segments, qt.HasLen, test.segments)
		})
	}
}

func TestCodestreamTruncation(t *testing.T) {
	c := qt.New(t)

	c.Run("No EOC", func(c *qt.C) {
		cs, diags, err := decodeCodestreamBytes(c, mainHeader(0))
		c.Assert(err, qt.IsNil)
		c.Assert(cs.Segments, qt.HasLen, 4)
		c.Assert(diagnosticKinds(diags), qt.DeepEquals, []DiagnosticKind{DiagnosticTruncated})
	})

	c.Run("Trailing byte", func(c *qt.C) {
		_, diags, err := decodeCodestreamBytes(c, cat(mainHeader(0), []byte{0xff}))
		c.Assert(err, qt.IsNil)
		c.Assert(diagnosticKinds(diags), qt.DeepEquals, []DiagnosticKind{DiagnosticLength, DiagnosticTruncated})
	})

	c.Run("Segment overruns codestream", func(c *qt.C) {
		cs, diags, err := decodeCodestreamBytes(c, cat(mainHeader(0), marker(MarkerCOM), be16(100), be16(CommentBinary), []byte("abc")))
		c.Assert(err, qt.IsNil)
		c.Assert(diagnosticKinds(diags), qt.DeepEquals, []DiagnosticKind{DiagnosticLength, DiagnosticTruncated})
		com := cs.Find(MarkerCOM)[0].(*COMSegment)
		c.Assert(com.Length, qt.Equals, 7)
		c.Assert(string(com.Data), qt.Equals, "abc")
	})

	c.Run("Reader shorter than Size", func(c *qt.C) {
		b := mainHeader(0)
		_, _, err := decodeCodestreamBytes(c, b, func(o *Options) { o.Size = int64(len(b)) + 10 })
		c.Assert(IsStructuralError(err), qt.IsTrue)
		c.Assert(err.(*StructuralError).Offset, qt.Equals, int64(len(b)))
		c.Assert(err, qt.ErrorMatches, ".*unexpected end of data: EOF")
	})

	c.Run("Bytes after EOC", func(c *qt.C) {
		_, diags, err := decodeCodestreamBytes(c, cat(minimalCodestream(), []byte{0, 0, 0}))
		c.Assert(err, qt.IsNil)
		c.Assert(diagnosticKinds(diags), qt.DeepEquals, []DiagnosticKind{DiagnosticLength})
	})
}

func TestCodestreamTileParts(t *testing.T) {
	c := qt.New(t)

	c.Run("Two tile-parts", func(c *qt.C) {
		cs, diags, err := decodeCodestreamBytes(c, cat(
			marker(MarkerSOC), sizSegment(8, 4, 4, 4, 7), codSegment(0), qcdSegment(),
			tilePart(0, []byte{1, 2, 3}),
			tilePart(1, []byte{0xff, 0xd9, 0xff, 0x90}),
			marker(MarkerEOC),
		))
		c.Assert(err, qt.IsNil)
		c.Assert(diags, qt.HasLen, 0)
		c.Assert(segmentMarkers(cs.Segments), qt.DeepEquals, []string{"SOC", "SIZ", "COD", "QCD", "SOT", "SOD", "SOT", "SOD", "EOC"})
		sots := cs.Find(MarkerSOT)
		c.Assert(sots[1].(*SOTSegment).Isot, qt.Equals, uint16(1))
		c.Assert(sots[1].Header().Offset, qt.Equals, sots[0].Header().Offset+17)
	})

	c.Run("Psot zero", func(c *qt.C) {
		cs, diags, err := decodeCodestreamBytes(c, cat(
			mainHeader(0),
			segment(MarkerSOT, be16(0), be32(0), []byte{0, 1}), marker(MarkerSOD), []byte{0xff, 0x90, 1, 2},
			marker(MarkerEOC),
		))
		c.Assert(err, qt.IsNil)
		c.Assert(diags, qt.HasLen, 0)
		c.Assert(segmentMarkers(cs.Segments), qt.DeepEquals, []string{"SOC", "SIZ", "COD", "QCD", "SOT", "SOD", "EOC"})
	})

	c.Run("Psot overruns codestream", func(c *qt.C) {
		cs, diags, err := decodeCodestreamBytes(c, cat(
			mainHeader(0),
			segment(MarkerSOT, be16(0), be32(1000), []byte{0, 1}), marker(MarkerSOD), []byte{1, 2},
		))
		c.Assert(err, qt.IsNil)
		c.Assert(diagnosticKinds(diags), qt.DeepEquals, []DiagnosticKind{DiagnosticLength, DiagnosticTruncated})
		c.Assert(segmentMarkers(cs.Segments), qt.DeepEquals, []string{"SOC", "SIZ", "COD", "QCD", "SOT", "SOD"})
	})

	c.Run("Tile-part header segments", func(c *qt.C) {
		plt := segment(MarkerPLT, []byte{0}, []byte{0x81, 0x00, 0x05, 0x7f})
		ppt := segment(MarkerPPT, []byte{0}, []byte{9, 9})
		cs, diags, err := decodeCodestreamBytes(c, cat(
			mainHeader(0),
			tilePartWithHeader(0, cat(plt, ppt), []byte{1, 2, 3}),
			marker(MarkerEOC),
		))
		c.Assert(err, qt.IsNil)
		c.Assert(diags, qt.HasLen, 0)
		c.Assert(segmentMarkers(cs.Segments), qt.DeepEquals, []string{"SOC", "SIZ", "COD", "QCD", "SOT", "PLT", "PPT", "SOD", "EOC"})
		c.Assert(cs.Find(MarkerPLT)[0].(*PLTSegment).PacketLengths, qt.DeepEquals, []uint32{128, 5, 127})
		c.Assert(cs.Find(MarkerPPT)[0].(*PPTSegment).Data, qt.DeepEquals, []byte{9, 9})
	})

	c.Run("Incomplete packet length", func(c *qt.C) {
		plt := segment(MarkerPLT, []byte{0}, []byte{0x05, 0x81})
		_, diags, err := decodeCodestreamBytes(c, cat(mainHeader(0), tilePartWithHeader(0, plt, nil), marker(MarkerEOC)))
		c.Assert(err, qt.IsNil)
		c.Assert(diagnosticKinds(diags), qt.DeepEquals, []DiagnosticKind{DiagnosticTruncated})
	})

	c.Run("Missing SOD", func(c *qt.C) {
		sot := segment(MarkerSOT, be16(0), be32(12), []byte{0, 1})
		cs, diags, err := decodeCodestreamBytes(c, cat(mainHeader(0), sot, marker(MarkerEOC)))
		c.Assert(err, qt.IsNil)
		c.Assert(diagnosticKinds(diags), qt.DeepEquals, []DiagnosticKind{DiagnosticTruncated})
		c.Assert(segmentMarkers(cs.Segments), qt.DeepEquals, []string{"SOC", "SIZ", "COD", "QCD", "SOT", "EOC"})
	})

	c.Run("Header segment overruns Psot", func(c *qt.C) {
		sot := segment(MarkerSOT, be16(0), be32(16), []byte{0, 1})
		com := segment(MarkerCOM, be16(1), []byte("xy"))
		cs, diags, err := decodeCodestreamBytes(c, cat(mainHeader(0), sot, com, marker(MarkerSOD), []byte{1, 2}, marker(MarkerEOC)))
		c.Assert(err, qt.IsNil)
		c.Assert(diagnosticKinds(diags), qt.DeepEquals, []DiagnosticKind{DiagnosticLength})
		c.Assert(segmentMarkers(cs.Segments), qt.DeepEquals, []string{"SOC", "SIZ", "COD", "QCD", "SOT", "COM", "SOD", "EOC"})
		c.Assert(diags[0].Offset, qt.Equals, cs.Find(MarkerCOM)[0].Header().Offset)
		c.Assert(cs.Find(MarkerCOM)[0].(*COMSegment).Text, qt.Equals, "xy")
	})

	c.Run("EOC in tile-part header", func(c *qt.C) {
		sot := segment(MarkerSOT, be16(0), be32(100), []byte{0, 1})
		cs, diags, err := decodeCodestreamBytes(c, cat(mainHeader(0), sot, marker(MarkerEOC)))
		c.Assert(err, qt.IsNil)
		c.Assert(diagnosticKinds(diags), qt.DeepEquals, []DiagnosticKind{DiagnosticLength, DiagnosticInvalidValue})
		c.Assert(segmentMarkers(cs.Segments), qt.DeepEquals, []string{"SOC", "SIZ", "COD", "QCD", "SOT", "EOC"})
	})

	c.Run("Tile-part index", func(c *qt.C) {
		sot := segment(MarkerSOT, be16(0), be32(14), []byte{2, 1})
		_, diags, err := decodeCodestreamBytes(c, cat(mainHeader(0), sot, marker(MarkerSOD), marker(MarkerEOC)))
		c.Assert(err, qt.IsNil)
		c.Assert(diagnosticKinds(diags), qt.DeepEquals, []DiagnosticKind{DiagnosticInvalidValue})
	})

	c.Run("SOD outside tile-part", func(c *qt.C) {
		cs, diags, err := decodeCodestreamBytes(c, cat(mainHeader(0), marker(MarkerSOD), []byte{1, 2}, marker(MarkerEOC)))
		c.Assert(err, qt.IsNil)
		c.Assert(diagnosticKinds(diags), qt.DeepEquals, []DiagnosticKind{DiagnosticInvalidValue})
		c.Assert(segmentMarkers(cs.Segments), qt.DeepEquals, []string{"SOC", "SIZ", "COD", "QCD", "SOD"})
	})
}

func TestCodestreamPacketMarkers(t *testing.T) {
	c := qt.New(t)

	// Two packets, each with a SOP, a header ended by EPH and a body.
	packets := cat(
		sop(0), []byte{0x80, 0x00}, marker(MarkerEPH), []byte{0x01, 0x02},
		sop(1), []byte{0x00}, marker(MarkerEPH), []byte{0x03},
	)

	c.Run("Main header COD", func(c *qt.C) {
		data := cat(mainHeader(0x06), tilePart(0, packets), marker(MarkerEOC))
		cs, diags, err := decodeCodestreamBytes(c, data)
		c.Assert(err, qt.IsNil)
		c.Assert(diags, qt.HasLen, 0)
		c.Assert(segmentMarkers(cs.Segments), qt.DeepEquals, []string{
			"SOC", "SIZ", "COD", "QCD", "SOT", "SOD", "SOP", "EPH", "SOP", "EPH", "EOC",
		})

		bodyStart := cs.Find(MarkerSOD)[0].Header().Offset + 2
		sops := cs.Find(MarkerSOP)
		c.Assert(sops[0].Header().Offset, qt.Equals, bodyStart)
		c.Assert(sops[0].Header().Length, qt.Equals, 4)
		c.Assert(sops[0].(*SOPSegment).Nsop, qt.Equals, uint16(0))
		c.Assert(sops[1].Header().Offset, qt.Equals, bodyStart+12)
		c.Assert(sops[1].(*SOPSegment).Nsop, qt.Equals, uint16(1))
		c.Assert(cs.Find(MarkerEPH)[0].Header().Offset, qt.Equals, bodyStart+8)
	})

	c.Run("Not scanned without SOP or EPH", func(c *qt.C) {
		cs, diags, err := decodeCodestreamBytes(c, cat(mainHeader(0), tilePart(0, packets), marker(MarkerEOC)))
		c.Assert(err, qt.IsNil)
		c.Assert(diags, qt.HasLen, 0)
		c.Assert(cs.Find(MarkerSOP), qt.HasLen, 0)
	})

	c.Run("Tile-part COD", func(c *qt.C) {
		data := cat(mainHeader(0), tilePartWithHeader(0, codSegment(0x02), packets), marker(MarkerEOC))
		cs, diags, err := decodeCodestreamBytes(c, data)
		c.Assert(err, qt.IsNil)
		c.Assert(diags, qt.HasLen, 0)
		c.Assert(cs.Find(MarkerSOP), qt.HasLen, 2)
		c.Assert(cs.Find(MarkerCOD), qt.HasLen, 2)
	})

	c.Run("Across chunk boundary", func(c *qt.C) {
		body := cat(make([]byte, packetScanChunkSize-2), sop(7), make([]byte, 10), marker(MarkerEPH))
		data := cat(mainHeader(0x06), tilePart(0, body), marker(MarkerEOC))
		cs, diags, err := decodeCodestreamBytes(c, data)
		c.Assert(err, qt.IsNil)
		c.Assert(diags, qt.HasLen, 0)

		bodyStart := cs.Find(MarkerSOD)[0].Header().Offset + 2
		sops := cs.Find(MarkerSOP)
		c.Assert(sops, qt.HasLen, 1)
		c.Assert(sops[0].Header().Offset, qt.Equals, bodyStart+packetScanChunkSize-2)
		c.Assert(sops[0].(*SOPSegment).Nsop, qt.Equals, uint16(7))
		ephs := cs.Find(MarkerEPH)
		c.Assert(ephs, qt.HasLen, 1)
		c.Assert(ephs[0].Header().Offset, qt.Equals, bodyStart+int64(len(body))-2)
	})

	c.Run("Segment limit", func(c *qt.C) {
		data := cat(mainHeader(0x06), tilePart(0, packets), marker(MarkerEOC))
		cs, diags, err := decodeCodestreamBytes(c, data, func(o *Options) { o.LimitNumSegments = 7 })
		c.Assert(err, qt.IsNil)
		c.Assert(cs.Segments, qt.HasLen, 7)
		c.Assert(diagnosticKinds(diags), qt.DeepEquals, []DiagnosticKind{DiagnosticLimit})
	})
}
