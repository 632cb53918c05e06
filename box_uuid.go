// Copyright 2024 Bjørn Erik Pedersen
// SPDX-License-Identifier: MIT

package jp2meta

import (
	"github.com/google/uuid"
)

// Well known UUID box identifiers.
var (
	// UUIDExif marks a TIFF/Exif block, preceded by a 6 byte "Exif\0\0" marker.
	UUIDExif = uuid.UUID{'J', 'p', 'g', 'T', 'i', 'f', 'f', 'E', 'x', 'i', 'f', '-', '>', 'J', 'P', '2'}

	// UUIDXMP marks an XMP packet.
	UUIDXMP = uuid.MustParse("be7acfcb-97a9-42e8-9c71-999491e3afac")

	// UUIDGeoJP2 marks a degenerate GeoTIFF carrying georeferencing tags.
	UUIDGeoJP2 = uuid.MustParse("b14bf8bd-083d-4b43-a5ae-8cd7d5a6ce03")

	// UUIDIPTC marks IPTC IIM records.
	UUIDIPTC = uuid.MustParse("33c7a4d2-b81d-4723-a0ba-f1a3e097ad38")
)

const exifMarkerLength = 6

// UUIDBox is the 'uuid' box.
// Depending on ID, one of TIFF, XMP and IPTC is set; Data always holds the raw payload.
type UUIDBox struct {
	BoxHeader
	ID   uuid.UUID
	Data []byte

	// Text is the XMP packet.
	Text string
	XMP  []TagInfo

	// TIFF is set for Exif and GeoJP2 payloads.
	TIFF *TIFFDirectory

	IPTC []TagInfo
}

func (b *UUIDBox) decode(p *streamReader, d *diagnoser) {
	b.ID = p.readUUID()
	offset := p.pos()
	b.Data = p.readRemaining()

	switch b.ID {
	case UUIDExif:
		if len(b.Data) < exifMarkerLength {
			d.addf(offset, DiagnosticTruncated, "Exif payload of %d bytes", len(b.Data))
			return
		}
		b.decodeTIFF(b.Data[exifMarkerLength:], offset+exifMarkerLength, d)
	case UUIDGeoJP2:
		b.decodeTIFF(b.Data, offset, d)
	case UUIDXMP:
		b.Text = string(b.Data)
		b.XMP = decodeXMP(b.Text, offset, d)
	case UUIDIPTC:
		b.IPTC = decodeIPTC(b.Data, offset, d)
	}
}

func (b *UUIDBox) decodeTIFF(data []byte, offset int64, d *diagnoser) {
	t, err := decodeTIFF(data, offset, d)
	if err != nil {
		d.addf(offset, DiagnosticInvalidValue, "%s TIFF payload: %v", b.ID, err)
	}
	b.TIFF = t
}
