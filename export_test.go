// Copyright 2024 Bjørn Erik Pedersen
// SPDX-License-Identifier: MIT

package jp2meta

// SeedsDecode returns JP2 files and raw codestreams to seed the Decode fuzzer.
func SeedsDecode() [][]byte {
	return [][]byte{
		minimalJP2(),
		minimalCodestream(),
		minimalJP2(
			exifUUIDBox(tiffBytes(testTIFFEntries...)),
			box("uuid", UUIDXMP[:], []byte(testXMP)),
			box("uuid", UUIDIPTC[:], iptcRecord(2, 105, []byte("Headline")), iptcRecord(2, 25, []byte("sea"))),
			box("asoc", box("lbl ", []byte("label")), box("xml ", []byte("<a/>"))),
		),
		cat(signatureBox(), fileTypeBox(), jp2HeaderBox(
			imageHeaderBox(4, 4, 3, 7),
			box("colr", []byte{2, 0, 0}, iccHeaderBytes(4, 2020, 1, 2)),
			box("pclr", be16(2), []byte{2, 7}, []byte{1, 2}),
			box("res ", box("resc", be16(1), be16(1), be16(1), be16(1), []byte{0, 0})),
		)),
		cat(mainHeader(0x06), tilePart(0, cat(sop(0), []byte{0x80}, marker(MarkerEPH), []byte{1})), marker(MarkerEOC)),
	}
}

// SeedsTIFF returns TIFF structures to seed the TIFF fuzzer.
func SeedsTIFF() [][]byte {
	return [][]byte{
		tiffBytes(testTIFFEntries...),
		tiffBytes(tiffEntry{tag: tagExifIFDPointer, typ: TIFFLong, count: 1, value: be32(8)}),
	}
}

// SeedsICC returns ICC profile headers to seed the ICC fuzzer.
func SeedsICC() [][]byte {
	return [][]byte{
		iccHeaderBytes(2, 2024, 3, 15),
		iccHeaderBytes(4, 2024, 2, 30),
	}
}
