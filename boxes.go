// Copyright 2024 Bjørn Erik Pedersen
// SPDX-License-Identifier: MIT

package jp2meta

import (
	"encoding/xml"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
)

// jp2Signature is the payload of the signature box.
var jp2Signature = [4]byte{0x0d, 0x0a, 0x87, 0x0a}

var knownBrands = map[FourCC]bool{
	{'j', 'p', '2', ' '}: true,
	{'j', 'p', 'x', ' '}: true,
	{'j', 'p', 'x', 'b'}: true,
	{'j', 'p', 'm', ' '}: true,
	{'m', 'j', 'p', '2'}: true,
	{'m', 'j', 'p', 's'}: true,
	{'j', 'p', 'h', ' '}: true,
}

// leafBoxes maps a box type to a constructor of its decoder.
// The box value is created before decoding so that a truncated
// payload still yields the fields read so far.
var leafBoxes = map[BoxType]func(BoxHeader) leafBox{
	BoxSignature:            func(h BoxHeader) leafBox { return &SignatureBox{BoxHeader: h} },
	BoxFileType:             func(h BoxHeader) leafBox { return &FileTypeBox{BoxHeader: h} },
	BoxImageHeader:          func(h BoxHeader) leafBox { return &ImageHeaderBox{BoxHeader: h} },
	BoxBitsPerComponent:     func(h BoxHeader) leafBox { return &BitsPerComponentBox{BoxHeader: h} },
	BoxColorSpecification:   func(h BoxHeader) leafBox { return &ColorSpecificationBox{BoxHeader: h} },
	BoxPalette:              func(h BoxHeader) leafBox { return &PaletteBox{BoxHeader: h} },
	BoxComponentMapping:     func(h BoxHeader) leafBox { return &ComponentMappingBox{BoxHeader: h} },
	BoxChannelDefinition:    func(h BoxHeader) leafBox { return &ChannelDefinitionBox{BoxHeader: h} },
	BoxCaptureResolution:    func(h BoxHeader) leafBox { return &ResolutionBox{BoxHeader: h} },
	BoxDisplayResolution:    func(h BoxHeader) leafBox { return &ResolutionBox{BoxHeader: h} },
	BoxIntellectualProperty: func(h BoxHeader) leafBox { return &IntellectualPropertyBox{BoxHeader: h} },
	BoxXML:                  func(h BoxHeader) leafBox { return &XMLBox{BoxHeader: h} },
	BoxUUID:                 func(h BoxHeader) leafBox { return &UUIDBox{BoxHeader: h} },
	BoxUUIDList:             func(h BoxHeader) leafBox { return &UUIDListBox{BoxHeader: h} },
	BoxURL:                  func(h BoxHeader) leafBox { return &DataEntryURLBox{BoxHeader: h} },
	BoxLabel:                func(h BoxHeader) leafBox { return &LabelBox{BoxHeader: h} },
	BoxNumberList:           func(h BoxHeader) leafBox { return &NumberListBox{BoxHeader: h} },
	BoxReaderRequirements:   func(h BoxHeader) leafBox { return &ReaderRequirementsBox{BoxHeader: h} },
	BoxFragmentList:         func(h BoxHeader) leafBox { return &FragmentListBox{BoxHeader: h} },
}

func newUnknownBox(h BoxHeader) leafBox {
	return &UnknownBox{BoxHeader: h}
}

// UnknownBox is a box with no decoder, or one whose payload was too large to read.
type UnknownBox struct {
	BoxHeader
	Data []byte
}

func (b *UnknownBox) decode(p *streamReader, d *diagnoser) {
	b.Data = p.readRemaining()
}

// SignatureBox is the 'jP  ' box that starts every JP2 family file.
type SignatureBox struct {
	BoxHeader
	Signature [4]byte
}

// Valid reports whether the signature is 0x0D0A870A.
func (b *SignatureBox) Valid() bool {
	return b.Signature == jp2Signature
}

func (b *SignatureBox) decode(p *streamReader, d *diagnoser) {
	copy(b.Signature[:], p.readBytesVolatile(4))
	if !b.Valid() {
		d.addf(b.Offset, DiagnosticInvalidValue, "invalid signature 0x%x", b.Signature)
	}
}

// FileTypeBox is the 'ftyp' box.
type FileTypeBox struct {
	BoxHeader
	Brand         FourCC
	MinorVersion  uint32
	Compatibility []FourCC
}

func (b *FileTypeBox) decode(p *streamReader, d *diagnoser) {
	b.Brand = p.readFourCC()
	b.MinorVersion = p.read4()
	if !knownBrands[b.Brand] {
		d.addf(b.PayloadOffset(), DiagnosticInvalidValue, "unrecognized brand %q", b.Brand)
	}
	for p.remaining() >= 4 {
		pos := p.pos()
		cl := p.readFourCC()
		if !knownBrands[cl] {
			d.addf(pos, DiagnosticInvalidValue, "unrecognized compatibility entry %q", cl)
		}
		b.Compatibility = append(b.Compatibility, cl)
	}
}

// ComponentDepth is a packed bit depth byte: bit depth minus one in the
// low 7 bits and a sign flag in the high bit.
type ComponentDepth uint8

// BitDepth returns the number of bits per sample.
func (c ComponentDepth) BitDepth() int {
	return int(c&0x7f) + 1
}

// Signed reports whether samples are signed.
func (c ComponentDepth) Signed() bool {
	return c&0x80 != 0
}

// Varies reports whether the depth is given per component in a 'bpcc' box.
func (c ComponentDepth) Varies() bool {
	return c == 0xff
}

func (c ComponentDepth) String() string {
	if c.Varies() {
		return "varies"
	}
	if c.Signed() {
		return fmt.Sprintf("%d bit signed", c.BitDepth())
	}
	return fmt.Sprintf("%d bit unsigned", c.BitDepth())
}

// ImageHeaderBox is the 'ihdr' box.
type ImageHeaderBox struct {
	BoxHeader
	Height           uint32
	Width            uint32
	NumComponents    uint16
	BitsPerComponent ComponentDepth

	// Compression is 7 for JPEG 2000.
	Compression          uint8
	ColorSpaceUnknown    bool
	IntellectualProperty bool
}

type imageHeaderLayout struct {
	Height        uint32
	Width         uint32
	NumComponents uint16
	BPC           uint8
	C             uint8
	UnkC          uint8
	IPR           uint8
}

func (b *ImageHeaderBox) decode(p *streamReader, d *diagnoser) {
	var l imageHeaderLayout
	p.readStruct(&l)

	b.Height, b.Width = l.Height, l.Width
	b.NumComponents = l.NumComponents
	b.BitsPerComponent = ComponentDepth(l.BPC)
	b.Compression = l.C
	b.ColorSpaceUnknown = l.UnkC != 0
	b.IntellectualProperty = l.IPR != 0

	pos := b.PayloadOffset()
	if b.Height == 0 || b.Width == 0 {
		d.addf(pos, DiagnosticInvalidValue, "image size %dx%d", b.Width, b.Height)
	}
	if b.NumComponents == 0 || b.NumComponents > 16384 {
		d.addf(pos+8, DiagnosticOutOfRange, "number of components %d", b.NumComponents)
	}
	if !b.BitsPerComponent.Varies() && b.BitsPerComponent.BitDepth() > 38 {
		d.addf(pos+10, DiagnosticOutOfRange, "bit depth %d", b.BitsPerComponent.BitDepth())
	}
	if b.Compression != 7 {
		d.addf(pos+11, DiagnosticOutOfRange, "compression type %d", b.Compression)
	}
	if l.UnkC > 1 || l.IPR > 1 {
		d.addf(pos+12, DiagnosticInvalidValue, "flag values %d, %d", l.UnkC, l.IPR)
	}
}

// BitsPerComponentBox is the 'bpcc' box.
type BitsPerComponentBox struct {
	BoxHeader
	Depths []ComponentDepth
}

func (b *BitsPerComponentBox) decode(p *streamReader, d *diagnoser) {
	for _, c := range p.readRemaining() {
		b.Depths = append(b.Depths, ComponentDepth(c))
	}
}

// EnumeratedColorSpace is the enumerated colour space of a 'colr' box with method 1.
type EnumeratedColorSpace uint32

const (
	ColorSpaceBilevel1  EnumeratedColorSpace = 0
	ColorSpaceYCbCr1    EnumeratedColorSpace = 1
	ColorSpaceYCbCr2    EnumeratedColorSpace = 3
	ColorSpaceYCbCr3    EnumeratedColorSpace = 4
	ColorSpacePhotoYCC  EnumeratedColorSpace = 9
	ColorSpaceCMY       EnumeratedColorSpace = 11
	ColorSpaceCMYK      EnumeratedColorSpace = 12
	ColorSpaceYCCK      EnumeratedColorSpace = 13
	ColorSpaceCIELab    EnumeratedColorSpace = 14
	ColorSpaceBilevel2  EnumeratedColorSpace = 15
	ColorSpaceSRGB      EnumeratedColorSpace = 16
	ColorSpaceGray      EnumeratedColorSpace = 17
	ColorSpaceSYCC      EnumeratedColorSpace = 18
	ColorSpaceCIEJab    EnumeratedColorSpace = 19
	ColorSpaceESRGB     EnumeratedColorSpace = 20
	ColorSpaceROMMRGB   EnumeratedColorSpace = 21
	ColorSpaceYPbPr1125 EnumeratedColorSpace = 22
	ColorSpaceYPbPr1250 EnumeratedColorSpace = 23
	ColorSpaceESYCC     EnumeratedColorSpace = 24
)

var enumeratedColorSpaceNames = map[EnumeratedColorSpace]string{
	ColorSpaceBilevel1:  "Bi-level",
	ColorSpaceYCbCr1:    "YCbCr(1)",
	ColorSpaceYCbCr2:    "YCbCr(2)",
	ColorSpaceYCbCr3:    "YCbCr(3)",
	ColorSpacePhotoYCC:  "PhotoYCC",
	ColorSpaceCMY:       "CMY",
	ColorSpaceCMYK:      "CMYK",
	ColorSpaceYCCK:      "YCCK",
	ColorSpaceCIELab:    "CIELab",
	ColorSpaceBilevel2:  "Bi-level(2)",
	ColorSpaceSRGB:      "sRGB",
	ColorSpaceGray:      "greyscale",
	ColorSpaceSYCC:      "sYCC",
	ColorSpaceCIEJab:    "CIEJab",
	ColorSpaceESRGB:     "e-sRGB",
	ColorSpaceROMMRGB:   "ROMM-RGB",
	ColorSpaceYPbPr1125: "YPbPr(1125/60)",
	ColorSpaceYPbPr1250: "YPbPr(1250/50)",
	ColorSpaceESYCC:     "e-sYCC",
}

// Recognized reports whether s is a colour space defined by ISO/IEC 15444-1 or -2.
func (s EnumeratedColorSpace) Recognized() bool {
	_, ok := enumeratedColorSpaceNames[s]
	return ok
}

func (s EnumeratedColorSpace) String() string {
	if name, ok := enumeratedColorSpaceNames[s]; ok {
		return name
	}
	return Unrecognized
}

// Colour specification methods.
const (
	ColorMethodEnumerated       = 1
	ColorMethodRestrictedICC    = 2
	ColorMethodAnyICC           = 3
	ColorMethodVendor           = 4
	ColorMethodParameterizedICC = 5
)

// ICCProfile is an ICC profile embedded in a 'colr' box.
type ICCProfile struct {
	Data []byte
	// Header is nil if Data is too short to hold a header.
	Header *ICCProfileHeader
}

// ColorSpecificationBox is the 'colr' box.
// Exactly one of ColorSpace and ICCProfile is set.
type ColorSpecificationBox struct {
	BoxHeader
	Method        uint8
	Precedence    int8
	Approximation uint8

	ColorSpace *EnumeratedColorSpace
	// EnumeratedParameters holds the raw trailing parameters of CIELab and CIEJab.
	EnumeratedParameters []byte

	ICCProfile *ICCProfile
}

func (b *ColorSpecificationBox) decode(p *streamReader, d *diagnoser) {
	b.Method = p.read1()
	b.Precedence = p.read1s()
	b.Approximation = p.read1()

	if b.Method == ColorMethodEnumerated {
		pos := p.pos()
		cs := EnumeratedColorSpace(p.read4())
		b.ColorSpace = &cs
		if !cs.Recognized() {
			d.addf(pos, DiagnosticOutOfRange, "unrecognized enumerated colour space %d", uint32(cs))
		}
		if cs == ColorSpaceCIELab || cs == ColorSpaceCIEJab {
			b.EnumeratedParameters = p.readRemaining()
		}
		return
	}

	if b.Method > ColorMethodParameterizedICC {
		d.addf(b.PayloadOffset(), DiagnosticOutOfRange, "unrecognized colour specification method %d", b.Method)
	}

	offset := p.pos()
	b.ICCProfile = &ICCProfile{Data: p.readRemaining()}
	h, err := decodeICCProfileHeader(b.ICCProfile.Data, offset, d)
	if err != nil {
		d.addf(offset, DiagnosticInvalidValue, "embedded ICC profile: %v", err)
		return
	}
	b.ICCProfile.Header = h
}

// PaletteColumn is one column of a palette.
type PaletteColumn struct {
	Depth ComponentDepth

	// Width is the stored size of each entry in bytes: 1, 2 or 4.
	Width  int
	Values []uint32
}

// PaletteBox is the 'pclr' box.
type PaletteBox struct {
	BoxHeader
	NumEntries uint16
	Columns    []PaletteColumn
}

func (b *PaletteBox) decode(p *streamReader, d *diagnoser) {
	b.NumEntries = p.read2()
	numColumns := int(p.read1())

	rowSize := 0
	for range numColumns {
		c := PaletteColumn{Depth: ComponentDepth(p.read1())}
		switch bits := c.Depth.BitDepth(); {
		case bits <= 8:
			c.Width = 1
		case bits <= 16:
			c.Width = 2
		case bits <= 32:
			c.Width = 4
		default:
			d.addf(b.PayloadOffset(), DiagnosticOutOfRange, "palette bit depth %d", bits)
			p.skip(p.remaining())
			return
		}
		rowSize += c.Width
		b.Columns = append(b.Columns, c)
	}

	if need := int64(b.NumEntries) * int64(rowSize); need > p.remaining() {
		d.addf(b.PayloadOffset(), DiagnosticLength, "palette needs %d bytes, got %d", need, p.remaining())
		p.skip(p.remaining())
		return
	}

	for i := range b.Columns {
		b.Columns[i].Values = make([]uint32, b.NumEntries)
	}
	for row := range int(b.NumEntries) {
		for i := range b.Columns {
			b.Columns[i].Values[row] = uint32(p.readUintN(b.Columns[i].Width))
		}
	}
}

// ComponentMapping maps a codestream component to an output channel.
type ComponentMapping struct {
	Component uint16

	// MappingType is 0 for direct use and 1 for a palette mapping.
	MappingType   uint8
	PaletteColumn uint8
}

// ComponentMappingBox is the 'cmap' box.
type ComponentMappingBox struct {
	BoxHeader
	Mappings []ComponentMapping
}

func (b *ComponentMappingBox) decode(p *streamReader, d *diagnoser) {
	for p.remaining() >= 4 {
		pos := p.pos()
		m := ComponentMapping{Component: p.read2(), MappingType: p.read1(), PaletteColumn: p.read1()}
		if m.MappingType > 1 {
			d.addf(pos+2, DiagnosticOutOfRange, "component mapping type %d", m.MappingType)
		}
		b.Mappings = append(b.Mappings, m)
	}
}

// ChannelDefinition describes one channel of a 'cdef' box.
type ChannelDefinition struct {
	Channel uint16

	// Type is 0 for colour, 1 for opacity, 2 for premultiplied opacity.
	Type        uint16
	Association uint16
}

// ChannelDefinitionBox is the 'cdef' box.
type ChannelDefinitionBox struct {
	BoxHeader
	Channels []ChannelDefinition
}

func (b *ChannelDefinitionBox) decode(p *streamReader, d *diagnoser) {
	n := int64(p.read2())
	if n*6 != p.remaining() {
		d.addf(b.PayloadOffset(), DiagnosticLength, "%d channel definitions in %d bytes", n, p.remaining())
		n = min(n, p.remaining()/6)
	}
	for range n {
		b.Channels = append(b.Channels, ChannelDefinition{Channel: p.read2(), Type: p.read2(), Association: p.read2()})
	}
}

// ResolutionBox is the 'resc' (capture) or 'resd' (default display) box.
type ResolutionBox struct {
	BoxHeader
	VerticalNumerator     uint16
	VerticalDenominator   uint16
	HorizontalNumerator   uint16
	HorizontalDenominator uint16
	VerticalExponent      int8
	HorizontalExponent    int8
}

type resolutionLayout struct {
	VRN uint16
	VRD uint16
	HRN uint16
	HRD uint16
	VRE int8
	HRE int8
}

// Vertical returns the vertical resolution in pixels per metre.
// It is NaN if the denominator is zero.
func (b *ResolutionBox) Vertical() float64 {
	return scaledRatio(b.VerticalNumerator, b.VerticalDenominator, b.VerticalExponent)
}

// Horizontal returns the horizontal resolution in pixels per metre.
// It is NaN if the denominator is zero.
func (b *ResolutionBox) Horizontal() float64 {
	return scaledRatio(b.HorizontalNumerator, b.HorizontalDenominator, b.HorizontalExponent)
}

func (b *ResolutionBox) decode(p *streamReader, d *diagnoser) {
	var l resolutionLayout
	p.readStruct(&l)
	b.VerticalNumerator, b.VerticalDenominator = l.VRN, l.VRD
	b.HorizontalNumerator, b.HorizontalDenominator = l.HRN, l.HRD
	b.VerticalExponent, b.HorizontalExponent = l.VRE, l.HRE
	if l.VRD == 0 || l.HRD == 0 {
		d.addf(b.PayloadOffset(), DiagnosticInvalidValue, "resolution with zero denominator")
	}
}

// XMLBox is the 'xml ' box.
type XMLBox struct {
	BoxHeader
	Text string
}

func (b *XMLBox) decode(p *streamReader, d *diagnoser) {
	b.Text = decodeXMLText(p, d)
}

// IntellectualPropertyBox is the 'jp2i' box, XML formatted rights information.
type IntellectualPropertyBox struct {
	BoxHeader
	Text string
}

func (b *IntellectualPropertyBox) decode(p *streamReader, d *diagnoser) {
	b.Text = decodeXMLText(p, d)
}

// decodeXMLText reads the rest of p as UTF-8 XML.
// Malformed text is kept and reported.
func decodeXMLText(p *streamReader, d *diagnoser) string {
	offset := p.pos()
	text := decodeUTF8Text(p, d)
	dec := xml.NewDecoder(strings.NewReader(text))
	for {
		_, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			d.addf(offset, DiagnosticInvalidValue, "malformed XML: %v", err)
			break
		}
	}
	return text
}

func decodeUTF8Text(p *streamReader, d *diagnoser) string {
	offset := p.pos()
	b := p.readRemaining()
	if !utf8.Valid(b) {
		d.addf(offset, DiagnosticInvalidValue, "text is not valid UTF-8")
	}
	return string(b)
}

// LabelBox is the 'lbl ' box.
type LabelBox struct {
	BoxHeader
	Text string
}

func (b *LabelBox) decode(p *streamReader, d *diagnoser) {
	b.Text = decodeUTF8Text(p, d)
}

// UUIDListBox is the 'ulst' box.
type UUIDListBox struct {
	BoxHeader
	IDs []uuid.UUID
}

func (b *UUIDListBox) decode(p *streamReader, d *diagnoser) {
	n := int64(p.read2())
	if n*16 != p.remaining() {
		d.addf(b.PayloadOffset(), DiagnosticLength, "%d UUIDs in %d bytes", n, p.remaining())
		n = min(n, p.remaining()/16)
	}
	for range n {
		b.IDs = append(b.IDs, p.readUUID())
	}
}

// DataEntryURLBox is the 'url ' box.
type DataEntryURLBox struct {
	BoxHeader
	Version  uint8
	Flags    uint32
	Location string
}

func (b *DataEntryURLBox) decode(p *streamReader, d *diagnoser) {
	b.Version = p.read1()
	b.Flags = p.read3()
	loc := p.readNullTerminatedBytes(int(p.remaining()))
	if !utf8.Valid(loc) {
		d.addf(b.PayloadOffset()+4, DiagnosticInvalidValue, "location is not valid UTF-8")
	}
	b.Location = string(loc)
}

// NumberListBox is the 'nlst' box.
type NumberListBox struct {
	BoxHeader
	// Numbers are association numbers: 0 is the whole file,
	// 0x01nnnnnn codestream n and 0x02nnnnnn compositing layer n.
	Numbers []uint32
}

func (b *NumberListBox) decode(p *streamReader, d *diagnoser) {
	for p.remaining() >= 4 {
		b.Numbers = append(b.Numbers, p.read4())
	}
}

// StandardFeature is a standard feature flag in a reader requirements box.
type StandardFeature struct {
	Feature uint16
	Mask    uint64
}

// VendorFeature is a vendor feature in a reader requirements box.
type VendorFeature struct {
	ID   uuid.UUID
	Mask uint64
}

// ReaderRequirementsBox is the 'rreq' box.
type ReaderRequirementsBox struct {
	BoxHeader
	// MaskLength is the width of all masks in bytes.
	MaskLength       uint8
	FullyUnderstand  uint64
	DecodeCompletely uint64
	StandardFeatures []StandardFeature
	VendorFeatures   []VendorFeature

	// Data holds the payload after MaskLength if the mask width is not supported.
	Data []byte
}

func (b *ReaderRequirementsBox) decode(p *streamReader, d *diagnoser) {
	b.MaskLength = p.read1()
	ml := int(b.MaskLength)
	if ml < 1 || ml > 8 {
		d.addf(b.PayloadOffset(), DiagnosticOutOfRange, "unsupported mask length %d", ml)
		b.Data = p.readRemaining()
		return
	}
	b.FullyUnderstand = p.readUintN(ml)
	b.DecodeCompletely = p.readUintN(ml)

	n := p.read2()
	for range n {
		b.StandardFeatures = append(b.StandardFeatures, StandardFeature{Feature: p.read2(), Mask: p.readUintN(ml)})
	}
	n = p.read2()
	for range n {
		b.VendorFeatures = append(b.VendorFeatures, VendorFeature{ID: p.readUUID(), Mask: p.readUintN(ml)})
	}
}

// Fragment is one entry of a fragment list.
type Fragment struct {
	Offset uint64
	Length uint32

	// DataReference is 0 for this file, else an index into the data reference box.
	DataReference uint16
}

// FragmentListBox is the 'flst' box.
type FragmentListBox struct {
	BoxHeader
	Fragments []Fragment
}

func (b *FragmentListBox) decode(p *streamReader, d *diagnoser) {
	n := int64(p.read2())
	if n*14 != p.remaining() {
		d.addf(b.PayloadOffset(), DiagnosticLength, "%d fragments in %d bytes", n, p.remaining())
		n = min(n, p.remaining()/14)
	}
	for range n {
		b.Fragments = append(b.Fragments, Fragment{Offset: p.read8(), Length: p.read4(), DataReference: p.read2()})
	}
}

// DataReferenceBox is the 'dtbl' box, a count followed by 'url ' boxes.
type DataReferenceBox struct {
	BoxHeader
	NumEntries uint16
	Boxes      []Box
}

func (b *DataReferenceBox) Children() []Box {
	return b.Boxes
}

// ContiguousCodestreamBox is the 'jp2c' box.
type ContiguousCodestreamBox struct {
	BoxHeader
	Codestream *Codestream
}

func (e *streamReader) readUUID() uuid.UUID {
	id, err := uuid.FromBytes(e.readBytesVolatile(16))
	if err != nil {
		e.stop(err)
	}
	return id
}
