// Copyright 2024 Bjørn Erik Pedersen
// SPDX-License-Identifier: MIT

package jp2meta

import (
	"fmt"
	"time"

	bst "github.com/mixcode/binarystruct"
)

const (
	iccHeaderSize      = 128
	iccFixedFieldsSize = 84
	iccProfileIDOffset = 84
	iccProfileIDSize   = 16
)

var iccSignatureAcsp = FourCC{'a', 'c', 's', 'p'}

// ICCUnrecognized is the String value of an enumerated ICC header field with an unknown code.
const ICCUnrecognized = Unrecognized

// ICCProfileHeader is the fixed 128 byte header of an ICC profile.
type ICCProfileHeader struct {
	Size             uint32
	PreferredCMMType FourCC
	Version          ICCVersion
	DeviceClass      ICCDeviceClass
	ColorSpace       ICCColorSpace
	ConnectionSpace  ICCColorSpace

	// Created is nil if the stored date/time is not a valid calendar value.
	Created *time.Time

	Signature       FourCC
	Platform        FourCC
	Flags           ICCFlags
	Manufacturer    FourCC
	Model           FourCC
	Attributes      uint64
	RenderingIntent ICCRenderingIntent

	// Illuminant is the XYZ of the PCS illuminant.
	Illuminant [3]float64
	Creator    FourCC

	// ProfileID is only set for version 4 profiles and later.
	ProfileID []byte
}

// ICCVersion is the profile format version.
type ICCVersion struct {
	Major  uint8
	Minor  uint8
	Bugfix uint8
}

func (v ICCVersion) String() string {
	return fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Bugfix)
}

// ICCFlags holds the profile flags.
type ICCFlags uint32

// Embedded reports whether the profile is embedded in a file.
func (f ICCFlags) Embedded() bool {
	return f&0x1 != 0
}

// EmbeddedOnly reports whether the profile cannot be used independently of the embedded color data.
func (f ICCFlags) EmbeddedOnly() bool {
	return f&0x2 != 0
}

// ICCDeviceClass is the profile/device class.
type ICCDeviceClass FourCC

var iccDeviceClassNames = map[ICCDeviceClass]string{
	{'s', 'c', 'n', 'r'}: "input device profile",
	{'m', 'n', 't', 'r'}: "display device profile",
	{'p', 'r', 't', 'r'}: "output device profile",
	{'l', 'i', 'n', 'k'}: "devicelink profile",
	{'s', 'p', 'a', 'c'}: "colorspace conversion profile",
	{'a', 'b', 's', 't'}: "abstract profile",
	{'n', 'm', 'c', 'l'}: "named color profile",
}

// Recognized reports whether c is one of the device classes defined by ICC.1.
func (c ICCDeviceClass) Recognized() bool {
	_, ok := iccDeviceClassNames[c]
	return ok
}

func (c ICCDeviceClass) String() string {
	if s, ok := iccDeviceClassNames[c]; ok {
		return s
	}
	return ICCUnrecognized
}

// ICCColorSpace is a data or connection color space signature.
type ICCColorSpace FourCC

var iccColorSpaceNames = map[ICCColorSpace]string{
	{'X', 'Y', 'Z', ' '}: "XYZ",
	{'L', 'a', 'b', ' '}: "CIELab",
	{'L', 'u', 'v', ' '}: "CIELuv",
	{'Y', 'C', 'b', 'r'}: "YCbCr",
	{'Y', 'x', 'y', ' '}: "CIEYxy",
	{'R', 'G', 'B', ' '}: "RGB",
	{'G', 'R', 'A', 'Y'}: "gray",
	{'H', 'S', 'V', ' '}: "HSV",
	{'H', 'L', 'S', ' '}: "HLS",
	{'C', 'M', 'Y', 'K'}: "CMYK",
	{'C', 'M', 'Y', ' '}: "CMY",
	{'2', 'C', 'L', 'R'}: "2 color",
	{'3', 'C', 'L', 'R'}: "3 color",
	{'4', 'C', 'L', 'R'}: "4 color",
	{'5', 'C', 'L', 'R'}: "5 color",
	{'6', 'C', 'L', 'R'}: "6 color",
	{'7', 'C', 'L', 'R'}: "7 color",
	{'8', 'C', 'L', 'R'}: "8 color",
	{'9', 'C', 'L', 'R'}: "9 color",
	{'A', 'C', 'L', 'R'}: "10 color",
	{'B', 'C', 'L', 'R'}: "11 color",
	{'C', 'C', 'L', 'R'}: "12 color",
	{'D', 'C', 'L', 'R'}: "13 color",
	{'E', 'C', 'L', 'R'}: "14 color",
	{'F', 'C', 'L', 'R'}: "15 color",
}

// Recognized reports whether s is one of the color spaces defined by ICC.1.
func (s ICCColorSpace) Recognized() bool {
	_, ok := iccColorSpaceNames[s]
	return ok
}

func (s ICCColorSpace) String() string {
	if n, ok := iccColorSpaceNames[s]; ok {
		return n
	}
	return ICCUnrecognized
}

// ICCRenderingIntent is the rendering intent stored in the header.
type ICCRenderingIntent uint32

const (
	ICCPerceptual ICCRenderingIntent = iota
	ICCMediaRelativeColorimetric
	ICCSaturation
	ICCAbsoluteColorimetric
)

// Recognized reports whether i is one of the four ICC rendering intents.
func (i ICCRenderingIntent) Recognized() bool {
	return i <= ICCAbsoluteColorimetric
}

func (i ICCRenderingIntent) String() string {
	switch i {
	case ICCPerceptual:
		return "perceptual"
	case ICCMediaRelativeColorimetric:
		return "media-relative colorimetric"
	case ICCSaturation:
		return "saturation"
	case ICCAbsoluteColorimetric:
		return "ICC-absolute colorimetric"
	default:
		return ICCUnrecognized
	}
}

// iccHeaderLayout is the wire layout of the fixed part of the header.
type iccHeaderLayout struct {
	Size            uint32
	CMMType         string `binary:"[4]byte"`
	Major           uint8
	MinorBugfix     uint8
	Reserved        uint16
	DeviceClass     string `binary:"[4]byte"`
	ColorSpace      string `binary:"[4]byte"`
	ConnectionSpace string `binary:"[4]byte"`
	Year            uint16
	Month           uint16
	Day             uint16
	Hour            uint16
	Minute          uint16
	Second          uint16
	Signature       string `binary:"[4]byte"`
	Platform        string `binary:"[4]byte"`
	Flags           uint32
	Manufacturer    string `binary:"[4]byte"`
	Model           string `binary:"[4]byte"`
	Attributes      uint64
	RenderingIntent uint32
	IlluminantX     int32
	IlluminantY     int32
	IlluminantZ     int32
	Creator         string `binary:"[4]byte"`
}

// DecodeICCProfileHeader decodes the header of the ICC profile in b.
// Enumerated fields with unknown codes and invalid creation dates are
// reported as diagnostics, never as errors.
func DecodeICCProfileHeader(b []byte) (ICCProfileHeader, Diagnostics, error) {
	d := newDiagnoser(nil)
	h, err := decodeICCProfileHeader(b, 0, d)
	if err != nil {
		return ICCProfileHeader{}, d.diags, err
	}
	return *h, d.diags, nil
}

// decodeICCProfileHeader decodes b, which starts at the absolute file offset.
func decodeICCProfileHeader(b []byte, offset int64, d *diagnoser) (*ICCProfileHeader, error) {
	if len(b) < iccHeaderSize {
		return nil, newStructuralErrorf(offset, "ICC profile header needs %d bytes, got %d", iccHeaderSize, len(b))
	}

	var l iccHeaderLayout
	if _, err := bst.Unmarshal(b[:iccFixedFieldsSize], bst.BigEndian, &l); err != nil {
		return nil, &StructuralError{Offset: offset, Err: err}
	}

	h := &ICCProfileHeader{
		Size:             l.Size,
		PreferredCMMType: toFourCC(l.CMMType),
		Version: ICCVersion{
			Major:  l.Major,
			Minor:  l.MinorBugfix >> 4,
			Bugfix: l.MinorBugfix & 0x0f,
		},
		DeviceClass:     ICCDeviceClass(toFourCC(l.DeviceClass)),
		ColorSpace:      ICCColorSpace(toFourCC(l.ColorSpace)),
		ConnectionSpace: ICCColorSpace(toFourCC(l.ConnectionSpace)),
		Signature:       toFourCC(l.Signature),
		Platform:        toFourCC(l.Platform),
		Flags:           ICCFlags(l.Flags),
		Manufacturer:    toFourCC(l.Manufacturer),
		Model:           toFourCC(l.Model),
		Attributes:      l.Attributes,
		RenderingIntent: ICCRenderingIntent(l.RenderingIntent),
		Illuminant: [3]float64{
			s15Fixed16(l.IlluminantX),
			s15Fixed16(l.IlluminantY),
			s15Fixed16(l.IlluminantZ),
		},
		Creator: toFourCC(l.Creator),
	}

	if h.Signature != iccSignatureAcsp {
		d.addf(offset+36, DiagnosticInvalidValue, "ICC profile signature is %q, expected %q", h.Signature, iccSignatureAcsp)
	}
	if !h.DeviceClass.Recognized() {
		d.addf(offset+12, DiagnosticOutOfRange, "unrecognized ICC device class %q", FourCC(h.DeviceClass))
	}
	if !h.ColorSpace.Recognized() {
		d.addf(offset+16, DiagnosticOutOfRange, "unrecognized ICC color space %q", FourCC(h.ColorSpace))
	}
	if !h.ConnectionSpace.Recognized() {
		d.addf(offset+20, DiagnosticOutOfRange, "unrecognized ICC connection space %q", FourCC(h.ConnectionSpace))
	}
	if !h.RenderingIntent.Recognized() {
		d.addf(offset+64, DiagnosticOutOfRange, "unrecognized ICC rendering intent %d", uint32(h.RenderingIntent))
	}

	if t, ok := calendarTime(int(l.Year), int(l.Month), int(l.Day), int(l.Hour), int(l.Minute), int(l.Second)); ok {
		h.Created = &t
	} else {
		d.addf(offset+24, DiagnosticTimestamp, "invalid ICC creation date %04d-%02d-%02d %02d:%02d:%02d",
			l.Year, l.Month, l.Day, l.Hour, l.Minute, l.Second)
	}

	if h.Version.Major >= 4 {
		h.ProfileID = append([]byte(nil), b[iccProfileIDOffset:iccProfileIDOffset+iccProfileIDSize]...)
	}

	return h, nil
}

// calendarTime returns the UTC time for the given fields if they form a valid date and time.
func calendarTime(year, month, day, hour, min, sec int) (time.Time, bool) {
	if month < 1 || month > 12 || day < 1 || hour > 23 || min > 59 || sec > 59 {
		return time.Time{}, false
	}
	t := time.Date(year, time.Month(month), day, hour, min, sec, 0, time.UTC)
	// time.Date normalizes e.g. February 30th into March.
	if t.Day() != day || int(t.Month()) != month {
		return time.Time{}, false
	}
	return t, true
}

func s15Fixed16(v int32) float64 {
	return float64(v) / 65536
}
