// Copyright 2024 Bjørn Erik Pedersen
// SPDX-License-Identifier: MIT

package jp2meta

import (
	"math/bits"

	"golang.org/x/text/encoding/charmap"
)

// Segment is a decoded codestream marker segment.
// The concrete type is one of the *...Segment types in this package.
type Segment interface {
	Header() SegmentHeader
}

// SegmentHeader holds the fields common to all marker segments.
type SegmentHeader struct {
	Marker Marker
	// Offset is the absolute file offset of the marker code.
	Offset int64
	// Length is the value of the length field, which counts itself
	// but not the marker code. It is 0 for delimiting markers.
	Length int
}

// Header returns h.
func (h SegmentHeader) Header() SegmentHeader {
	return h
}

// segmentDecoder is a marker segment decoded from a buffered payload.
type segmentDecoder interface {
	Segment
	decode(p *streamReader, ctx codestreamContext, d *diagnoser)
}

var segmentDecoders = map[Marker]func(SegmentHeader) segmentDecoder{
	MarkerCAP: func(h SegmentHeader) segmentDecoder { return &CAPSegment{SegmentHeader: h} },
	MarkerSIZ: func(h SegmentHeader) segmentDecoder { return &SIZSegment{SegmentHeader: h} },
	MarkerCOD: func(h SegmentHeader) segmentDecoder { return &CODSegment{SegmentHeader: h} },
	MarkerCOC: func(h SegmentHeader) segmentDecoder { return &COCSegment{SegmentHeader: h} },
	MarkerTLM: func(h SegmentHeader) segmentDecoder { return &TLMSegment{SegmentHeader: h} },
	MarkerPLM: func(h SegmentHeader) segmentDecoder { return &PLMSegment{SegmentHeader: h} },
	MarkerPLT: func(h SegmentHeader) segmentDecoder { return &PLTSegment{SegmentHeader: h} },
	MarkerQCD: func(h SegmentHeader) segmentDecoder { return &QCDSegment{SegmentHeader: h} },
	MarkerQCC: func(h SegmentHeader) segmentDecoder { return &QCCSegment{SegmentHeader: h} },
	MarkerRGN: func(h SegmentHeader) segmentDecoder { return &RGNSegment{SegmentHeader: h} },
	MarkerPOC: func(h SegmentHeader) segmentDecoder { return &POCSegment{SegmentHeader: h} },
	MarkerPPM: func(h SegmentHeader) segmentDecoder { return &PPMSegment{SegmentHeader: h} },
	MarkerPPT: func(h SegmentHeader) segmentDecoder { return &PPTSegment{SegmentHeader: h} },
	MarkerCRG: func(h SegmentHeader) segmentDecoder { return &CRGSegment{SegmentHeader: h} },
	MarkerCOM: func(h SegmentHeader) segmentDecoder { return &COMSegment{SegmentHeader: h} },
	MarkerSOT: func(h SegmentHeader) segmentDecoder { return &SOTSegment{SegmentHeader: h} },
}

func newGenericSegment(h SegmentHeader) segmentDecoder {
	return &GenericSegment{SegmentHeader: h}
}

// DelimiterSegment is a marker without a payload: SOC, SOD, EOC or EPH.
type DelimiterSegment struct {
	SegmentHeader
}

// GenericSegment is a marker segment with no decoder.
type GenericSegment struct {
	SegmentHeader
	Data []byte
}

func (s *GenericSegment) decode(p *streamReader, ctx codestreamContext, d *diagnoser) {
	s.Data = p.readRemaining()
}

// ComponentSize is the per component part of SIZ.
type ComponentSize struct {
	Depth ComponentDepth
	XRsiz uint8
	YRsiz uint8
}

// SIZSegment is the image and tile size segment.
type SIZSegment struct {
	SegmentHeader
	Rsiz       uint16
	Xsiz       uint32
	Ysiz       uint32
	XOsiz      uint32
	YOsiz      uint32
	XTsiz      uint32
	YTsiz      uint32
	XTOsiz     uint32
	YTOsiz     uint32
	Csiz       uint16
	Components []ComponentSize
}

type sizLayout struct {
	Rsiz   uint16
	Xsiz   uint32
	Ysiz   uint32
	XOsiz  uint32
	YOsiz  uint32
	XTsiz  uint32
	YTsiz  uint32
	XTOsiz uint32
	YTOsiz uint32
	Csiz   uint16
}

const maxTiles = 65535

// NumTiles returns the number of tiles,
// ceil((Xsiz-XOsiz)/(XTsiz-XTOsiz)) * ceil((Ysiz-YOsiz)/(YTsiz-YTOsiz)).
// It returns 0 if any term is not positive.
func (s *SIZSegment) NumTiles() int64 {
	xn, xd := int64(s.Xsiz)-int64(s.XOsiz), int64(s.XTsiz)-int64(s.XTOsiz)
	yn, yd := int64(s.Ysiz)-int64(s.YOsiz), int64(s.YTsiz)-int64(s.YTOsiz)
	if xn <= 0 || xd <= 0 || yn <= 0 || yd <= 0 {
		return 0
	}
	return ceilDiv(xn, xd) * ceilDiv(yn, yd)
}

func (s *SIZSegment) decode(p *streamReader, ctx codestreamContext, d *diagnoser) {
	var l sizLayout
	p.readStruct(&l)
	s.Rsiz = l.Rsiz
	s.Xsiz, s.Ysiz, s.XOsiz, s.YOsiz = l.Xsiz, l.Ysiz, l.XOsiz, l.YOsiz
	s.XTsiz, s.YTsiz, s.XTOsiz, s.YTOsiz = l.XTsiz, l.YTsiz, l.XTOsiz, l.YTOsiz
	s.Csiz = l.Csiz

	if s.Csiz == 0 || s.Csiz > 16384 {
		d.addf(s.Offset, DiagnosticOutOfRange, "SIZ: %d components", s.Csiz)
	}
	if n := s.NumTiles(); n == 0 {
		d.addf(s.Offset, DiagnosticInvalidValue, "SIZ: image offset %dx%d, size %dx%d and tile offset %dx%d, size %dx%d give no tiles",
			s.XOsiz, s.YOsiz, s.Xsiz, s.Ysiz, s.XTOsiz, s.YTOsiz, s.XTsiz, s.YTsiz)
	} else if n > maxTiles {
		d.addf(s.Offset, DiagnosticInvalidValue, "SIZ: %d tiles exceeds %d", n, maxTiles)
	}

	for i := range int(s.Csiz) {
		c := ComponentSize{Depth: ComponentDepth(p.read1()), XRsiz: p.read1(), YRsiz: p.read1()}
		if c.XRsiz == 0 || c.YRsiz == 0 {
			d.addf(s.Offset, DiagnosticInvalidValue, "SIZ: component %d has sub-sampling %dx%d", i, c.XRsiz, c.YRsiz)
		}
		s.Components = append(s.Components, c)
	}
}

// ProgressionOrder is the packet progression order.
type ProgressionOrder uint8

const (
	LRCP ProgressionOrder = iota
	RLCP
	RPCL
	PCRL
	CPRL
)

var progressionOrderNames = [...]string{"LRCP", "RLCP", "RPCL", "PCRL", "CPRL"}

// Recognized reports whether o is one of the five defined orders.
func (o ProgressionOrder) Recognized() bool {
	return int(o) < len(progressionOrderNames)
}

func (o ProgressionOrder) String() string {
	if o.Recognized() {
		return progressionOrderNames[o]
	}
	return Unrecognized
}

// WaveletTransform is the wavelet filter of a coding style.
type WaveletTransform uint8

const (
	Irreversible97 WaveletTransform = 0
	Reversible53   WaveletTransform = 1
)

// Recognized reports whether t is one of the two defined filters.
func (t WaveletTransform) Recognized() bool {
	return t <= Reversible53
}

func (t WaveletTransform) String() string {
	switch t {
	case Irreversible97:
		return "9-7 irreversible"
	case Reversible53:
		return "5-3 reversible"
	default:
		return Unrecognized
	}
}

// PrecinctSize is the size of the precincts of one resolution level.
type PrecinctSize struct {
	Width  int
	Height int
}

// CodingStyle holds the SPcod/SPcoc parameters shared by COD and COC.
type CodingStyle struct {
	DecompositionLevels uint8
	CodeBlockWidth      int
	CodeBlockHeight     int
	CodeBlockStyle      uint8
	Transform           WaveletTransform

	// PrecinctSizes holds one entry per resolution level, lowest first.
	// It is nil when the default maximum precincts are used.
	PrecinctSizes []PrecinctSize
}

const (
	codingStylePrecincts = 0x01
	codingStyleSOP       = 0x02
	codingStyleEPH       = 0x04
)

func decodeCodingStyle(p *streamReader, d *diagnoser, offset int64, precincts bool) CodingStyle {
	var c CodingStyle
	c.DecompositionLevels = p.read1()
	xcb, ycb := p.read1(), p.read1()
	c.CodeBlockWidth, c.CodeBlockHeight = 4<<xcb, 4<<ycb
	c.CodeBlockStyle = p.read1()
	c.Transform = WaveletTransform(p.read1())

	if c.DecompositionLevels > 32 {
		d.addf(offset, DiagnosticOutOfRange, "%d decomposition levels", c.DecompositionLevels)
	}
	if xcb > 8 || ycb > 8 || xcb+ycb > 8 {
		d.addf(offset, DiagnosticOutOfRange, "code-block size exponents %d, %d", xcb+2, ycb+2)
	}
	if !c.Transform.Recognized() {
		d.addf(offset, DiagnosticOutOfRange, "unrecognized wavelet transform %d", uint8(c.Transform))
	}

	if precincts {
		for range int(c.DecompositionLevels) + 1 {
			b := p.read1()
			c.PrecinctSizes = append(c.PrecinctSizes, PrecinctSize{Width: 1 << (b & 0xf), Height: 1 << (b >> 4)})
		}
	}
	return c
}

// CODSegment is the coding style default segment.
type CODSegment struct {
	SegmentHeader
	Scod                       uint8
	ProgressionOrder           ProgressionOrder
	Layers                     uint16
	MultipleComponentTransform uint8
	CodingStyle                CodingStyle
}

// UsesSOP reports whether packets may start with SOP markers.
func (s *CODSegment) UsesSOP() bool {
	return s.Scod&codingStyleSOP != 0
}

// UsesEPH reports whether packet headers end with EPH markers.
func (s *CODSegment) UsesEPH() bool {
	return s.Scod&codingStyleEPH != 0
}

func (s *CODSegment) decode(p *streamReader, ctx codestreamContext, d *diagnoser) {
	s.Scod = p.read1()
	s.ProgressionOrder = ProgressionOrder(p.read1())
	s.Layers = p.read2()
	s.MultipleComponentTransform = p.read1()

	if !s.ProgressionOrder.Recognized() {
		d.addf(s.Offset, DiagnosticOutOfRange, "COD: unrecognized progression order %d", uint8(s.ProgressionOrder))
	}
	if s.Layers == 0 {
		d.addf(s.Offset, DiagnosticInvalidValue, "COD: zero layers")
	}

	s.CodingStyle = decodeCodingStyle(p, d, s.Offset, s.Scod&codingStylePrecincts != 0)
}

// readComponentIndex reads a component index and checks it against Csiz.
func readComponentIndex(p *streamReader, ctx codestreamContext, d *diagnoser, m Marker) uint16 {
	pos := p.pos()
	c := uint16(p.readUintN(ctx.componentIndexSize()))
	if ctx.numComponents > 0 && int(c) >= ctx.numComponents {
		d.addf(pos, DiagnosticOutOfRange, "%s: component %d, image has %d", m, c, ctx.numComponents)
	}
	return c
}

// COCSegment is the coding style component segment.
type COCSegment struct {
	SegmentHeader
	Component   uint16
	Scoc        uint8
	CodingStyle CodingStyle
}

func (s *COCSegment) decode(p *streamReader, ctx codestreamContext, d *diagnoser) {
	s.Component = readComponentIndex(p, ctx, d, s.Marker)
	s.Scoc = p.read1()
	s.CodingStyle = decodeCodingStyle(p, d, s.Offset, s.Scoc&codingStylePrecincts != 0)
}

// QuantizationStyle is the quantization style of QCD and QCC.
type QuantizationStyle uint8

const (
	NoQuantization  QuantizationStyle = 0
	ScalarDerived   QuantizationStyle = 1
	ScalarExpounded QuantizationStyle = 2
)

func (q QuantizationStyle) String() string {
	switch q {
	case NoQuantization:
		return "none"
	case ScalarDerived:
		return "scalar derived"
	case ScalarExpounded:
		return "scalar expounded"
	default:
		return Unrecognized
	}
}

// StepSize is a quantization step size.
type StepSize struct {
	Exponent uint8
	Mantissa uint16
}

// Quantization holds the parameters shared by QCD and QCC.
type Quantization struct {
	Style     QuantizationStyle
	GuardBits uint8
	// StepSizes holds one entry per subband, or a single entry for ScalarDerived.
	StepSizes []StepSize
}

func decodeQuantization(p *streamReader, d *diagnoser, offset int64, m Marker) Quantization {
	sq := p.read1()
	q := Quantization{Style: QuantizationStyle(sq & 0x1f), GuardBits: sq >> 5}

	switch q.Style {
	case NoQuantization:
		for p.remaining() > 0 {
			q.StepSizes = append(q.StepSizes, StepSize{Exponent: p.read1() >> 3})
		}
	case ScalarDerived, ScalarExpounded:
		for p.remaining() >= 2 {
			v := p.read2()
			q.StepSizes = append(q.StepSizes, StepSize{Exponent: uint8(v >> 11), Mantissa: v & 0x7ff})
		}
		if q.Style == ScalarDerived && len(q.StepSizes) != 1 {
			d.addf(offset, DiagnosticLength, "%s: %d step sizes for derived quantization", m, len(q.StepSizes))
		}
	default:
		d.addf(offset, DiagnosticOutOfRange, "%s: unrecognized quantization style %d", m, uint8(q.Style))
		p.skip(p.remaining())
	}
	return q
}

// QCDSegment is the quantization default segment.
type QCDSegment struct {
	SegmentHeader
	Quantization
}

func (s *QCDSegment) decode(p *streamReader, ctx codestreamContext, d *diagnoser) {
	s.Quantization = decodeQuantization(p, d, s.Offset, s.Marker)
}

// QCCSegment is the quantization component segment.
type QCCSegment struct {
	SegmentHeader
	Component uint16
	Quantization
}

func (s *QCCSegment) decode(p *streamReader, ctx codestreamContext, d *diagnoser) {
	s.Component = readComponentIndex(p, ctx, d, s.Marker)
	s.Quantization = decodeQuantization(p, d, s.Offset, s.Marker)
}

// RGNSegment is the region of interest segment.
type RGNSegment struct {
	SegmentHeader
	Component uint16
	Srgn      uint8
	SPrgn     uint8
}

func (s *RGNSegment) decode(p *streamReader, ctx codestreamContext, d *diagnoser) {
	s.Component = readComponentIndex(p, ctx, d, s.Marker)
	s.Srgn = p.read1()
	s.SPrgn = p.read1()
	if s.Srgn != 0 {
		d.addf(s.Offset, DiagnosticOutOfRange, "RGN: unrecognized ROI style %d", s.Srgn)
	}
}

// ProgressionChange is one progression order change.
type ProgressionChange struct {
	ResolutionStart  uint8
	ComponentStart   uint16
	LayerEnd         uint16
	ResolutionEnd    uint8
	ComponentEnd     uint16
	ProgressionOrder ProgressionOrder
}

// POCSegment is the progression order change segment.
type POCSegment struct {
	SegmentHeader
	Changes []ProgressionChange
}

func (s *POCSegment) decode(p *streamReader, ctx codestreamContext, d *diagnoser) {
	n := ctx.componentIndexSize()
	entrySize := int64(5 + 2*n)
	for p.remaining() >= entrySize {
		pos := p.pos()
		c := ProgressionChange{
			ResolutionStart:  p.read1(),
			ComponentStart:   uint16(p.readUintN(n)),
			LayerEnd:         p.read2(),
			ResolutionEnd:    p.read1(),
			ComponentEnd:     uint16(p.readUintN(n)),
			ProgressionOrder: ProgressionOrder(p.read1()),
		}
		if !c.ProgressionOrder.Recognized() {
			d.addf(pos, DiagnosticOutOfRange, "POC: unrecognized progression order %d", uint8(c.ProgressionOrder))
		}
		s.Changes = append(s.Changes, c)
	}
}

// PPMSegment is a packed packet headers segment in the main header.
type PPMSegment struct {
	SegmentHeader
	Index uint8
	Data  []byte
}

func (s *PPMSegment) decode(p *streamReader, ctx codestreamContext, d *diagnoser) {
	s.Index = p.read1()
	s.Data = p.readRemaining()
}

// PPTSegment is a packed packet headers segment in a tile-part header.
type PPTSegment struct {
	SegmentHeader
	Index uint8
	Data  []byte
}

func (s *PPTSegment) decode(p *streamReader, ctx codestreamContext, d *diagnoser) {
	s.Index = p.read1()
	s.Data = p.readRemaining()
}

// PLTSegment is the packet length segment of a tile-part header.
type PLTSegment struct {
	SegmentHeader
	Index         uint8
	PacketLengths []uint32
}

func (s *PLTSegment) decode(p *streamReader, ctx codestreamContext, d *diagnoser) {
	s.Index = p.read1()

	// Each length is a sequence of 7 bit groups, most significant first;
	// the high bit is set on all but the last byte.
	var v uint32
	var pending bool
	for p.remaining() > 0 {
		b := p.read1()
		v = v<<7 | uint32(b&0x7f)
		pending = b&0x80 != 0
		if !pending {
			s.PacketLengths = append(s.PacketLengths, v)
			v = 0
		}
	}
	if pending {
		d.addf(s.Offset, DiagnosticTruncated, "PLT: incomplete packet length")
	}
}

// PLMSegment is the packet length segment of the main header.
type PLMSegment struct {
	SegmentHeader
	Index uint8
	Data  []byte
}

func (s *PLMSegment) decode(p *streamReader, ctx codestreamContext, d *diagnoser) {
	s.Index = p.read1()
	s.Data = p.readRemaining()
}

// TLMSegment is the tile-part lengths segment.
type TLMSegment struct {
	SegmentHeader
	Index uint8
	Stlm  uint8
	// TileIndices is nil when tile-parts are in index order.
	TileIndices     []uint16
	TilePartLengths []uint32
}

func (s *TLMSegment) decode(p *streamReader, ctx codestreamContext, d *diagnoser) {
	s.Index = p.read1()
	s.Stlm = p.read1()

	st := int(s.Stlm>>4) & 0x3
	sp := 2
	if s.Stlm&0x40 != 0 {
		sp = 4
	}
	if st == 3 {
		d.addf(s.Offset, DiagnosticOutOfRange, "TLM: invalid tile index size")
		p.skip(p.remaining())
		return
	}

	entrySize := int64(st + sp)
	for p.remaining() >= entrySize {
		if st > 0 {
			s.TileIndices = append(s.TileIndices, uint16(p.readUintN(st)))
		}
		s.TilePartLengths = append(s.TilePartLengths, uint32(p.readUintN(sp)))
	}
}

// RegistrationOffset is the offset of one component in a CRG segment.
type RegistrationOffset struct {
	X uint16
	Y uint16
}

// CRGSegment is the component registration segment.
type CRGSegment struct {
	SegmentHeader
	Offsets []RegistrationOffset
}

func (s *CRGSegment) decode(p *streamReader, ctx codestreamContext, d *diagnoser) {
	n := int64(ctx.numComponents)
	if n == 0 {
		n = p.remaining() / 4
	}
	for range n {
		s.Offsets = append(s.Offsets, RegistrationOffset{X: p.read2(), Y: p.read2()})
	}
}

// COM registration values.
const (
	CommentBinary = 0
	CommentLatin  = 1
)

// COMSegment is the comment segment.
type COMSegment struct {
	SegmentHeader
	Registration uint16
	Data         []byte
	// Text is set for Latin (ISO 8859-15) comments.
	Text string
}

func (s *COMSegment) decode(p *streamReader, ctx codestreamContext, d *diagnoser) {
	s.Registration = p.read2()
	s.Data = p.readRemaining()
	switch s.Registration {
	case CommentBinary:
	case CommentLatin:
		text, err := charmap.ISO8859_15.NewDecoder().Bytes(s.Data)
		if err != nil {
			d.addf(s.Offset, DiagnosticInvalidValue, "COM: %v", err)
			return
		}
		s.Text = string(text)
	default:
		d.addf(s.Offset, DiagnosticOutOfRange, "COM: unrecognized registration %d", s.Registration)
	}
}

// SOTSegment is the start of tile-part segment.
type SOTSegment struct {
	SegmentHeader
	Isot uint16
	// Psot is the tile-part length from the SOT marker, 0 for the last tile-part of the codestream.
	Psot  uint32
	TPsot uint8
	TNsot uint8
}

type sotLayout struct {
	Isot  uint16
	Psot  uint32
	TPsot uint8
	TNsot uint8
}

func (s *SOTSegment) decode(p *streamReader, ctx codestreamContext, d *diagnoser) {
	var l sotLayout
	p.readStruct(&l)
	s.Isot, s.Psot, s.TPsot, s.TNsot = l.Isot, l.Psot, l.TPsot, l.TNsot
	if s.TNsot != 0 && s.TPsot >= s.TNsot {
		d.addf(s.Offset, DiagnosticInvalidValue, "SOT: tile-part %d of %d", s.TPsot, s.TNsot)
	}
}

// CAPSegment is the extended capabilities segment.
type CAPSegment struct {
	SegmentHeader
	Pcap uint32
	// Ccap holds one value per bit set in Pcap.
	Ccap []uint16
}

func (s *CAPSegment) decode(p *streamReader, ctx codestreamContext, d *diagnoser) {
	s.Pcap = p.read4()
	for range bits.OnesCount32(s.Pcap) {
		s.Ccap = append(s.Ccap, p.read2())
	}
}

// SOPSegment is a start of packet marker found in a tile-part's packet data.
type SOPSegment struct {
	SegmentHeader
	Nsop uint16
}
