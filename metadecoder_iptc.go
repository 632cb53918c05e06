// Copyright 2024 Bjørn Erik Pedersen
// SPDX-License-Identifier: MIT

package jp2meta

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
)

const (
	iptcTagMarker         = 0x1C
	iptcCodedCharacterSet = 90
	iptcMetaDataBlockID   = 0x0404

	characterSetUTF8     = "UTF-8"
	characterSetISO88591 = "ISO-8859-1"
)

type iptcConverter func(s string) string

var iptcValueConverterMap = map[string]iptcConverter{
	"DateCreated":         convertIPTCDate,
	"DateSent":            convertIPTCDate,
	"ReleaseDate":         convertIPTCDate,
	"ExpirationDate":      convertIPTCDate,
	"DigitalCreationDate": convertIPTCDate,
	"TimeCreated":         convertIPTCTime,
	"TimeSent":            convertIPTCTime,
	"ReleaseTime":         convertIPTCTime,
	"ExpirationTime":      convertIPTCTime,
	"DigitalCreationTime": convertIPTCTime,
	"ProgramVersion": func(s string) string {
		return strings.TrimSuffix(s, ".0")
	},
}

// 20211020 => 2021:10:20
func convertIPTCDate(s string) string {
	if len(s) == 8 {
		return fmt.Sprintf("%s:%s:%s", s[:4], s[4:6], s[6:])
	}
	return s
}

// 111116 => 11:11:16
// 130444+1000 => 13:04:44+10:00
func convertIPTCTime(s string) string {
	switch len(s) {
	case 6:
		return fmt.Sprintf("%s:%s:%s", s[:2], s[2:4], s[4:])
	case 11:
		return fmt.Sprintf("%s:%s:%s%s:%s", s[:2], s[2:4], s[4:6], s[6:9], s[9:])
	}
	return s
}

// decodeIPTC decodes IPTC IIM records in b, which starts at the absolute file offset.
// b is either a plain sequence of 0x1C records or Photoshop 8BIM resource blocks.
func decodeIPTC(b []byte, offset int64, d *diagnoser) (tags []TagInfo) {
	dec := &metaDecoderIPTC{
		streamReader:           newPayloadReader(b, offset),
		iso88591CharsetDecoder: charmap.ISO8859_1.NewDecoder(),
		d:                      d,
		repeated:               make(map[string]int),
	}

	defer func() {
		if r := recover(); r != nil {
			if r != errPayloadStop {
				panic(r)
			}
			d.addf(dec.pos(), DiagnosticTruncated, "IPTC record truncated")
			tags = dec.tags
		}
	}()

	if len(b) >= 4 && string(b[:4]) == "8BIM" {
		dec.decodeBlocks()
	} else {
		dec.decodeRecords(dec.end)
	}

	return dec.tags
}

type metaDecoderIPTC struct {
	*streamReader

	charset                string
	iso88591CharsetDecoder *encoding.Decoder
	d                      *diagnoser

	tags []TagInfo
	// Index into tags of repeatable fields already seen.
	repeated map[string]int
}

// decodeRecords decodes the records delimited by 0x1C up to the absolute offset end.
func (e *metaDecoderIPTC) decodeRecords(end int64) {
	for e.pos() < end {
		if marker := e.read1(); marker != iptcTagMarker {
			return
		}
		e.decodeRecord()
	}
}

// decodeBlocks decodes the IPTC data from segments separated by 8BIM.
func (e *metaDecoderIPTC) decodeBlocks() {
	for e.remaining() >= 4 {
		if string(e.readBytesVolatile(4)) != "8BIM" {
			return
		}

		identifier := e.read2()

		// Pascal string, padded to an even length.
		nameLength := int64(e.read1())
		if nameLength%2 == 0 {
			nameLength++
		}
		e.skip(nameLength)

		dataSize := int64(e.read4())
		start := e.pos()
		if identifier == iptcMetaDataBlockID {
			e.decodeRecords(min(start+dataSize, e.end))
		}
		e.seek(min(start+dataSize+dataSize%2, e.end))
	}
}

func (e *metaDecoderIPTC) decodeRecord() {
	recordPos := e.pos() - 1
	recordType := e.read1()
	datasetNumber := e.read1()
	recordSize := int(e.read2())
	if recordSize&0x8000 != 0 {
		// Extended dataset; the low bits give the size of the length field.
		recordSize = int(e.readUintN(min(recordSize&0x7fff, 4)))
	}

	field, ok := iptcRecordFields[recordType][datasetNumber]
	if !ok {
		field = iptcField{
			name:   fmt.Sprintf("%d:%d", recordType, datasetNumber),
			format: iptcFormatString,
		}
		e.d.addf(recordPos, DiagnosticUnknownTag, "unknown IPTC dataset %d:%d", recordType, datasetNumber)
	}

	namespace, ok := iptcRecordNames[recordType]
	if !ok {
		namespace = fmt.Sprintf("IPTCUnknownRecord%d", recordType)
	}

	var v any
	switch {
	case field.format == iptcFormatShort && recordSize == 2:
		v = e.read2()
	case field.format == iptcFormatByte && recordSize == 1:
		v = e.read1()
	default:
		b := e.readBytes(recordSize)
		if recordType == 1 && datasetNumber == iptcCodedCharacterSet {
			e.charset = resolveCodedCharacterSet(b)
			if e.charset == "" {
				e.charset = characterSetUTF8
			}
			v = e.charset
			break
		}
		v = e.decodeString(b)
	}

	if s, isString := v.(string); isString {
		if convert, found := iptcValueConverterMap[field.name]; found {
			v = convert(s)
		}
	}

	if field.repeatable {
		if i, seen := e.repeated[field.name]; seen {
			e.tags[i].Value = append(e.tags[i].Value.([]string), toString(v))
			return
		}
		e.repeated[field.name] = len(e.tags)
		v = []string{toString(v)}
	}

	e.tags = append(e.tags, TagInfo{
		Source:    IPTC,
		Tag:       field.name,
		Namespace: namespace,
		Value:     v,
	})
}

func (e *metaDecoderIPTC) decodeString(b []byte) string {
	if e.charset != characterSetUTF8 && (e.charset == characterSetISO88591 || !utf8.Valid(b)) {
		if decoded, err := e.iso88591CharsetDecoder.Bytes(b); err == nil {
			b = decoded
		}
	}
	return strings.TrimSpace(string(trimBytesNulls(b)))
}

// resolveCodedCharacterSet resolves the coded character set from the IPTC data
// to be either UTF-8 or ISO-8859-1 or an empty string if it cannot be resolved.
func resolveCodedCharacterSet(b []byte) string {
	const (
		esc           = 0x1B
		percent       = 0x25
		latinCapitalG = 0x47
		dot           = 0x2E
		latinCapitalA = 0x41
		minus         = 0x2D
	)

	if len(b) > 2 && b[0] == esc && b[1] == percent && b[2] == latinCapitalG {
		return characterSetUTF8
	}

	if len(b) > 2 && b[0] == esc && (b[1] == dot || b[1] == minus) && b[2] == latinCapitalA {
		return characterSetISO88591
	}

	return ""
}
