// Copyright 2024 Bjørn Erik Pedersen
// SPDX-License-Identifier: MIT

package jp2meta

import (
	"testing"

	qt "github.com/frankban/quicktest"
)

const testXMP = `<?xpacket begin="" id="W5M0MpCehiHzreSzNTczkc9d"?>
<x:xmpmeta xmlns:x="adobe:ns:meta/">
 <rdf:RDF xmlns:rdf="http://www.w3.org/1999/02/22-rdf-syntax-ns#">
  <rdf:Description rdf:about=""
    xmlns:xmp="http://ns.adobe.com/xap/1.0/"
    xmlns:dc="http://purl.org/dc/elements/1.1/"
    xmlns:exif="http://ns.adobe.com/exif/1.0/"
    xmp:CreatorTool="jp2meta">
   <dc:creator><rdf:Seq><rdf:li>Jane Doe</rdf:li></rdf:Seq></dc:creator>
   <dc:subject><rdf:Bag><rdf:li>sea</rdf:li><rdf:li>sky</rdf:li></rdf:Bag></dc:subject>
   <exif:GPSLatitude>26,34.951N</exif:GPSLatitude>
   <exif:GPSLongitude>80,12.014W</exif:GPSLongitude>
  </rdf:Description>
 </rdf:RDF>
</x:xmpmeta>
<?xpacket end="w"?>`

func decodeXMPString(s string) ([]TagInfo, Diagnostics) {
	d := newDiagnoser(nil)
	tags := decodeXMP(s, 0, d)
	return tags, d.diags
}

func TestDecodeXMP(t *testing.T) {
	c := qt.New(t)

	tags, diags := decodeXMPString(testXMP)
	c.Assert(diags, qt.HasLen, 0)
	c.Assert(tags, eq, []TagInfo{
		{Source: XMP, Tag: "CreatorTool", Namespace: "http://ns.adobe.com/xap/1.0/", Value: "jp2meta"},
		{Source: XMP, Tag: "Creator", Namespace: "http://purl.org/dc/elements/1.1/", Value: "Jane Doe"},
		{Source: XMP, Tag: "Subject", Namespace: "http://purl.org/dc/elements/1.1/", Value: []string{"sea", "sky"}},
		{Source: XMP, Tag: "GPSLatitude", Namespace: xmpNamespaceExif, Value: 26.582516},
		{Source: XMP, Tag: "GPSLongitude", Namespace: xmpNamespaceExif, Value: -80.200233},
	})
}

func TestDecodeXMPErrors(t *testing.T) {
	c := qt.New(t)

	c.Run("Malformed", func(c *qt.C) {
		tags, diags := decodeXMPString(`<x:xmpmeta xmlns:x="adobe:ns:meta/"><rdf:RDF>`)
		c.Assert(tags, qt.IsNil)
		c.Assert(diagnosticKinds(diags), qt.DeepEquals, []DiagnosticKind{DiagnosticInvalidValue})
	})

	c.Run("GPS coordinate", func(c *qt.C) {
		tags, diags := decodeXMPString(`<x:xmpmeta xmlns:x="adobe:ns:meta/"><rdf:RDF xmlns:rdf="http://www.w3.org/1999/02/22-rdf-syntax-ns#">
<rdf:Description xmlns:exif="http://ns.adobe.com/exif/1.0/"><exif:GPSLatitude>north</exif:GPSLatitude><exif:GPSLongitude>-80.5</exif:GPSLongitude></rdf:Description>
</rdf:RDF></x:xmpmeta>`)
		c.Assert(diagnosticKinds(diags), qt.DeepEquals, []DiagnosticKind{DiagnosticInvalidValue})
		c.Assert(tags, qt.HasLen, 1)
		c.Assert(tags[0].Value, qt.Equals, -80.5)
	})
}

func TestParseXMPGPSCoordinate(t *testing.T) {
	c := qt.New(t)

	for _, test := range []struct {
		in   string
		want float64
	}{
		{"26,34.951N", 26.582516},
		{"26,34.951S", -26.582516},
		{"80.2002E", 80.2002},
		{"80.2002w", -80.2002},
		{" -12.5 ", -12.5},
	} {
		got, err := parseXMPGPSCoordinate(test.in)
		c.Assert(err, qt.IsNil)
		c.Assert(got, eq, test.want, qt.Commentf("%q", test.in))
	}

	for _, in := range []string{"", "N", "a,1N", "1,bN"} {
		_, err := parseXMPGPSCoordinate(in)
		c.Assert(err, qt.IsNotNil, qt.Commentf("%q", in))
	}
}
