// Copyright 2024 Bjørn Erik Pedersen
// SPDX-License-Identifier: MIT

package jp2meta

import (
	"encoding/xml"
	"fmt"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"
)

const xmpNamespaceExif = "http://ns.adobe.com/exif/1.0/"

var xmpSkipNamespaces = map[string]bool{
	"xmlns": true,
	"http://www.w3.org/1999/02/22-rdf-syntax-ns#": true,
	"http://purl.org/dc/elements/1.1/":            true,
}

type rdf struct {
	XMLName      xml.Name
	Descriptions []rdfDescription `xml:"Description"`
}

// Note: We currently only handle a subset of XMP tags,
// but a very common subset.
type rdfDescription struct {
	XMLName   xml.Name
	Attrs     []xml.Attr `xml:",any,attr"`
	Creator   seqList    `xml:"creator"`
	Publisher bagList    `xml:"publisher"`
	Subject   bagList    `xml:"subject"`
	Rights    altList    `xml:"rights"`

	// GPS and other simple child elements from exif namespace.
	GPSLatitude    string `xml:"GPSLatitude"`
	GPSLongitude   string `xml:"GPSLongitude"`
	GPSAltitude    string `xml:"GPSAltitude"`
	GPSAltitudeRef string `xml:"GPSAltitudeRef"`
}

type altList struct {
	XMLName xml.Name
	Alt     struct {
		Items []string `xml:"li"`
	} `xml:"Alt"`
}

type seqList struct {
	XMLName xml.Name
	Seq     struct {
		Items []string `xml:"li"`
	} `xml:"Seq"`
}

type bagList struct {
	XMLName xml.Name
	Bag     struct {
		Items []string `xml:"li"`
	} `xml:"Bag"`
}

type xmpmeta struct {
	XMLName xml.Name
	RDF     rdf `xml:"RDF"`
}

// decodeXMP decodes the RDF description attributes and the common child
// lists of the XMP packet in text.
func decodeXMP(text string, offset int64, d *diagnoser) []TagInfo {
	var meta xmpmeta
	if err := xml.NewDecoder(strings.NewReader(text)).Decode(&meta); err != nil {
		d.addf(offset, DiagnosticInvalidValue, "decoding XMP: %v", err)
		return nil
	}

	var tags []TagInfo
	add := func(tag, namespace string, v any) {
		tags = append(tags, TagInfo{
			Source:    XMP,
			Tag:       tag,
			Namespace: namespace,
			Value:     v,
		})
	}

	addList := func(name xml.Name, items []string) {
		if len(items) == 0 || name.Local == "" {
			return
		}
		// This is how ExifTool does it:
		if len(items) == 1 {
			add(firstUpper(name.Local), name.Space, items[0])
		} else {
			add(firstUpper(name.Local), name.Space, items)
		}
	}

	for _, desc := range meta.RDF.Descriptions {
		for _, attr := range desc.Attrs {
			if xmpSkipNamespaces[attr.Name.Space] {
				continue
			}
			add(firstUpper(attr.Name.Local), attr.Name.Space, attr.Value)
		}

		addList(desc.Creator.XMLName, desc.Creator.Seq.Items)
		addList(desc.Publisher.XMLName, desc.Publisher.Bag.Items)
		addList(desc.Subject.XMLName, desc.Subject.Bag.Items)
		addList(desc.Rights.XMLName, desc.Rights.Alt.Items)

		// GPS coordinates in XMP are typically in DMS format like "26,34.951N".
		for _, c := range []struct{ tag, v string }{
			{"GPSLatitude", desc.GPSLatitude},
			{"GPSLongitude", desc.GPSLongitude},
		} {
			if c.v == "" {
				continue
			}
			deg, err := parseXMPGPSCoordinate(c.v)
			if err != nil {
				d.addf(offset, DiagnosticInvalidValue, "XMP %s: %v", c.tag, err)
				continue
			}
			add(c.tag, xmpNamespaceExif, deg)
		}
	}

	return tags
}

func firstUpper(s string) string {
	if s == "" {
		return ""
	}
	r, n := utf8.DecodeRuneInString(s)
	return string(unicode.ToUpper(r)) + s[n:]
}

// parseXMPGPSCoordinate parses GPS coordinates from XMP format.
// XMP GPS coordinates can be in several formats:
// - DMS with direction: "26,34.951N" or "80,12.014W"
// - Decimal with direction: "26.5825N" or "80.2002W"
// - Pure decimal: "26.5825" or "-80.2002"
func parseXMPGPSCoordinate(s string) (float64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty coordinate")
	}

	// Check for direction suffix (N, S, E, W)
	var negative bool
	lastChar := s[len(s)-1]
	switch lastChar {
	case 'S', 's', 'W', 'w':
		negative = true
		s = s[:len(s)-1]
	case 'N', 'n', 'E', 'e':
		s = s[:len(s)-1]
	}

	var degrees float64

	// Check if it's in DMS format (contains comma)
	if idx := strings.Index(s, ","); idx != -1 {
		// Format: "degrees,minutes" e.g., "26,34.951"
		degStr := s[:idx]
		minStr := s[idx+1:]

		deg, err := strconv.ParseFloat(degStr, 64)
		if err != nil {
			return 0, fmt.Errorf("parsing degrees: %w", err)
		}

		min, err := strconv.ParseFloat(minStr, 64)
		if err != nil {
			return 0, fmt.Errorf("parsing minutes: %w", err)
		}

		degrees = deg + min/60.0
	} else {
		// Pure decimal format
		var err error
		degrees, err = strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, fmt.Errorf("parsing decimal: %w", err)
		}
	}

	if negative {
		degrees = -degrees
	}

	return degrees, nil
}
