// Copyright 2024 Bjørn Erik Pedersen
// SPDX-License-Identifier: MIT

package jp2meta

import (
	"encoding/binary"
)

const (
	packetScanChunkSize = 64 * 1024

	// Size of a SOP marker segment: marker, Lsop and Nsop.
	sopSegmentSize = 6
)

// scanPackets finds the SOP and EPH markers in the packet data in [start, end)
// and adds them as segments. The entropy coded data itself is not decoded.
//
// The data is read in chunks. The last sopSegmentSize-1 bytes of a chunk are
// carried over to the next so that markers spanning a chunk boundary are found.
func (r *codestreamReader) scanPackets(start, end int64) {
	r.seek(start)

	var carry []byte
	base := start // Absolute offset of carry[0].
	next := start // Absolute offset of the next byte to read.

	for !r.limitHit {
		n := min(int64(packetScanChunkSize), end-next)
		if n <= 0 && len(carry) == 0 {
			return
		}
		buf := carry
		if n > 0 {
			buf = append(buf, r.readBytes(int(n))...)
			next += n
		}
		final := next >= end

		limit := len(buf)
		if !final {
			limit -= sopSegmentSize - 1
		}

		i := 0
		for i < limit {
			if buf[i] != 0xff || i+1 >= len(buf) {
				i++
				continue
			}
			switch Marker(0xff00 | uint16(buf[i+1])) {
			case MarkerSOP:
				if i+sopSegmentSize > len(buf) {
					i++
					continue
				}
				r.add(&SOPSegment{
					SegmentHeader: SegmentHeader{Marker: MarkerSOP, Offset: base + int64(i), Length: 4},
					Nsop:          binary.BigEndian.Uint16(buf[i+4:]),
				})
				i += sopSegmentSize
			case MarkerEPH:
				r.add(&DelimiterSegment{SegmentHeader{Marker: MarkerEPH, Offset: base + int64(i)}})
				i += 2
			default:
				i++
			}
		}

		if final {
			return
		}
		carry = append([]byte(nil), buf[i:]...)
		base += int64(i)
	}
}
