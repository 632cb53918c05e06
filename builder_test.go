// Copyright 2024 Bjørn Erik Pedersen
// SPDX-License-Identifier: MIT

package jp2meta

import (
	"bytes"
	"encoding/binary"
)

// Helpers to build JP2 files, codestreams and TIFF/ICC payloads in tests.

func be16(v uint16) []byte {
	return binary.BigEndian.AppendUint16(nil, v)
}

func be32(v uint32) []byte {
	return binary.BigEndian.AppendUint32(nil, v)
}

func be64(v uint64) []byte {
	return binary.BigEndian.AppendUint64(nil, v)
}

func cat(parts ...[]byte) []byte {
	return bytes.Join(parts, nil)
}

// box returns a box with a 32 bit length.
func box(typ string, payload ...[]byte) []byte {
	p := cat(payload...)
	return cat(be32(uint32(8+len(p))), []byte(typ), p)
}

// boxWithLength returns a box with the given length field, whatever the payload size.
func boxWithLength(length uint32, typ string, payload ...[]byte) []byte {
	return cat(be32(length), []byte(typ), cat(payload...))
}

// extendedBox returns a box with a 64 bit length.
func extendedBox(typ string, payload ...[]byte) []byte {
	p := cat(payload...)
	return cat(be32(1), []byte(typ), be64(uint64(16+len(p))), p)
}

func signatureBox() []byte {
	return box("jP  ", []byte{0x0d, 0x0a, 0x87, 0x0a})
}

func fileTypeBox() []byte {
	return box("ftyp", []byte("jp2 "), be32(0), []byte("jp2 "))
}

func imageHeaderBox(height, width uint32, numComponents uint16, bpc uint8) []byte {
	return box("ihdr", be32(height), be32(width), be16(numComponents), []byte{bpc, 7, 0, 0})
}

func enumeratedColorBox(cs EnumeratedColorSpace) []byte {
	return box("colr", []byte{1, 0, 0}, be32(uint32(cs)))
}

func marker(m Marker) []byte {
	return be16(uint16(m))
}

// segment returns a marker segment with a length field computed from the payload.
func segment(m Marker, payload ...[]byte) []byte {
	p := cat(payload...)
	return cat(marker(m), be16(uint16(2+len(p))), p)
}

func sizSegment(width, height, tileWidth, tileHeight uint32, depths ...uint8) []byte {
	p := cat(
		be16(0),
		be32(width), be32(height), be32(0), be32(0),
		be32(tileWidth), be32(tileHeight), be32(0), be32(0),
		be16(uint16(len(depths))),
	)
	for _, d := range depths {
		p = append(p, d, 1, 1)
	}
	return segment(MarkerSIZ, p)
}

// codSegment returns a COD with one decomposition level, 64x64 code-blocks and the 5-3 transform.
func codSegment(scod uint8) []byte {
	return segment(MarkerCOD, []byte{scod, byte(LRCP)}, be16(1), []byte{0}, []byte{1, 4, 4, 0, byte(Reversible53)})
}

// qcdSegment returns a QCD without quantization for one decomposition level.
func qcdSegment() []byte {
	return segment(MarkerQCD, []byte{2<<5 | byte(NoQuantization), 8 << 3, 9 << 3, 9 << 3, 10 << 3})
}

// tilePart returns SOT, SOD and body with a correct Psot.
func tilePart(tile uint16, body []byte) []byte {
	return tilePartWithHeader(tile, nil, body)
}

// tilePartWithHeader returns SOT, the tile-part header segments, SOD and body with a correct Psot.
func tilePartWithHeader(tile uint16, header, body []byte) []byte {
	psot := uint32(12 + len(header) + 2 + len(body))
	return cat(segment(MarkerSOT, be16(tile), be32(psot), []byte{0, 1}), header, marker(MarkerSOD), body)
}

// sop returns a SOP marker segment with the given packet sequence number.
func sop(n uint16) []byte {
	return cat(marker(MarkerSOP), be16(4), be16(n))
}

var testTileBody = []byte{0x00, 0x01, 0x02, 0x03}

// minimalCodestream is SOC, SIZ, COD, QCD, SOT, SOD and EOC for a 4x4 greyscale image.
func minimalCodestream() []byte {
	return cat(
		marker(MarkerSOC),
		sizSegment(4, 4, 4, 4, 7),
		codSegment(0),
		qcdSegment(),
		tilePart(0, testTileBody),
		marker(MarkerEOC),
	)
}

func jp2HeaderBox(children ...[]byte) []byte {
	if len(children) == 0 {
		children = [][]byte{imageHeaderBox(4, 4, 1, 7), enumeratedColorBox(ColorSpaceGray)}
	}
	return box("jp2h", children...)
}

// minimalJP2 is a complete greyscale JP2 file; extra boxes are appended at the top level.
func minimalJP2(extra ...[]byte) []byte {
	return cat(
		signatureBox(),
		fileTypeBox(),
		jp2HeaderBox(),
		box("jp2c", minimalCodestream()),
		cat(extra...),
	)
}

// tiffEntry is an IFD entry with an inline value or an offset.
type tiffEntry struct {
	tag   uint16
	typ   TIFFType
	count uint32
	value []byte
}

// tiffBytes returns a big-endian TIFF with one IFD holding entries.
// Values longer than 4 bytes are stored after the IFD.
func tiffBytes(entries ...tiffEntry) []byte {
	ifdSize := 2 + 12*len(entries) + 4
	dataOffset := 8 + ifdSize

	var ifd, data []byte
	ifd = append(ifd, be16(uint16(len(entries)))...)
	for _, e := range entries {
		ifd = append(ifd, be16(e.tag)...)
		ifd = append(ifd, be16(uint16(e.typ))...)
		ifd = append(ifd, be32(e.count)...)
		if len(e.value) <= 4 {
			v := make([]byte, 4)
			copy(v, e.value)
			ifd = append(ifd, v...)
		} else {
			ifd = append(ifd, be32(uint32(dataOffset+len(data)))...)
			data = append(data, e.value...)
		}
	}
	ifd = append(ifd, be32(0)...)

	return cat([]byte("MM"), be16(42), be32(8), ifd, data)
}

func exifUUIDBox(tiff []byte) []byte {
	return box("uuid", UUIDExif[:], []byte("Exif\x00\x00"), tiff)
}

// iccHeaderBytes returns a 128 byte ICC v2 display profile header with the given creation date.
func iccHeaderBytes(major uint8, year, month, day uint16) []byte {
	b := cat(
		be32(128), []byte("lcms"), []byte{major, 0x20, 0, 0},
		[]byte("mntr"), []byte("RGB "), []byte("XYZ "),
		be16(year), be16(month), be16(day), be16(10), be16(20), be16(30),
		[]byte("acsp"), []byte("APPL"), be32(0), []byte("none"), []byte("none"),
		be64(0), be32(0),
		be32(0xf6d6), be32(0x10000), be32(0xd32d),
		[]byte("lcms"),
	)
	b = append(b, make([]byte, 128-len(b))...)
	if major >= 4 {
		for i := range 16 {
			b[84+i] = byte(i + 1)
		}
	}
	return b
}
