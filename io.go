// Copyright 2024 Bjørn Erik Pedersen
// SPDX-License-Identifier: MIT

package jp2meta

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	bst "github.com/mixcode/binarystruct"
)

var (
	// Internal error to signal that the source is exhausted and we should stop any further processing.
	errStop = errors.New("stop")

	// Internal error to signal that a buffered payload was shorter than its decoder expected.
	errPayloadStop = errors.New("payload exhausted")

	errShortRead = errors.New("short read")
)

// FourCC is a four character code, e.g. a box type or an ICC signature.
type FourCC [4]byte

func (f FourCC) String() string {
	return printableFourCC(f[:])
}

// streamReader is a wrapper around a Reader that provides methods to read binary data.
// All positions are absolute file offsets, also for readers over a buffered payload.
// Note that this is not thread safe.
type streamReader struct {
	r         io.ReadSeeker
	byteOrder binary.ByteOrder

	buf []byte

	// The absolute offset of position 0 in r.
	readerOffset int64
	// The absolute end of the readable range.
	end int64

	// stopErr is the sentinel we panic with on short reads.
	stopErr error
	readErr error
	// stopPos is the absolute offset where the last failed read stopped.
	stopPos int64
}

func newStreamReader(r io.ReadSeeker, size int64) *streamReader {
	return &streamReader{
		r:         r,
		byteOrder: binary.BigEndian,
		end:       size,
		stopErr:   errStop,
	}
}

// newPayloadReader returns a reader over b, where b starts at the given absolute offset.
func newPayloadReader(b []byte, offset int64) *streamReader {
	return &streamReader{
		r:            bytes.NewReader(b),
		byteOrder:    binary.BigEndian,
		readerOffset: offset,
		end:          offset + int64(len(b)),
		stopErr:      errPayloadStop,
	}
}

// bufferedReader reads length bytes from the current position and returns a
// payload reader over a private copy of them.
func (e *streamReader) bufferedReader(length int64) *streamReader {
	offset := e.pos()
	b := e.readBytes(int(length))
	return newPayloadReader(b, offset)
}

func (e *streamReader) allocateBuf(length int) {
	if length > cap(e.buf) {
		e.buf = make([]byte, length)
	}
}

func (e *streamReader) pos() int64 {
	n, err := e.r.Seek(0, io.SeekCurrent)
	if err != nil {
		e.stop(err)
	}
	return n + e.readerOffset
}

// remaining returns the number of bytes left before the end of the readable range.
func (e *streamReader) remaining() int64 {
	n := e.end - e.pos()
	if n < 0 {
		return 0
	}
	return n
}

func (e *streamReader) read1() uint8 {
	const n = 1
	e.readNIntoBuf(n)
	return e.buf[0]
}

func (e *streamReader) read1s() int8 {
	return int8(e.read1())
}

func (e *streamReader) read2() uint16 {
	const n = 2
	e.readNIntoBuf(n)
	return e.byteOrder.Uint16(e.buf[:n])
}

// read3 reads a 24 bit unsigned integer.
func (e *streamReader) read3() uint32 {
	const n = 3
	e.readNIntoBuf(n)
	b := e.buf[:n]
	if e.byteOrder == binary.LittleEndian {
		return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16
	}
	return uint32(b[0])<<16 | uint32(b[1])<<8 | uint32(b[2])
}

func (e *streamReader) read4() uint32 {
	const n = 4
	e.readNIntoBuf(n)
	return e.byteOrder.Uint32(e.buf[:n])
}

func (e *streamReader) read4s() int32 {
	return int32(e.read4())
}

func (e *streamReader) read8() uint64 {
	const n = 8
	e.readNIntoBuf(n)
	return e.byteOrder.Uint64(e.buf[:n])
}

// readUintN reads an n byte (1 to 8) unsigned integer.
func (e *streamReader) readUintN(n int) uint64 {
	e.readNIntoBuf(n)
	var v uint64
	if e.byteOrder == binary.LittleEndian {
		for i := n - 1; i >= 0; i-- {
			v = v<<8 | uint64(e.buf[i])
		}
		return v
	}
	for _, b := range e.buf[:n] {
		v = v<<8 | uint64(b)
	}
	return v
}

// readStruct decodes the fixed big-endian layout v at the current position.
func (e *streamReader) readStruct(v any) {
	if _, err := bst.Read(e.r, bst.BigEndian, v); err != nil {
		e.stop(err)
	}
}

func (e *streamReader) readFourCC() FourCC {
	var f FourCC
	e.readNIntoBuf(4)
	copy(f[:], e.buf[:4])
	return f
}

// readBytes reads n bytes into a newly allocated slice.
func (e *streamReader) readBytes(n int) []byte {
	if n < 0 {
		e.stop(fmt.Errorf("negative read length %d", n))
	}
	if int64(n) > e.remaining() {
		e.stop(fmt.Errorf("reading %d bytes at offset %d: %w", n, e.pos(), errShortRead))
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(e.r, b); err != nil {
		e.stop(err)
	}
	return b
}

// readRemaining reads everything up to the end of the readable range.
func (e *streamReader) readRemaining() []byte {
	return e.readBytes(int(e.remaining()))
}

// readNullTerminatedBytes reads a slice of bytes from the stream
// until a null byte is encountered or max bytes are read.
// The null byte is consumed but not returned.
func (e *streamReader) readNullTerminatedBytes(max int) []byte {
	var b []byte
	for range max {
		c := e.read1()
		if c == 0 {
			return b
		}
		b = append(b, c)
	}
	return b
}

// readBytesVolatile reads a slice of bytes from the stream
// which is not guaranteed to be valid after the next read.
func (e *streamReader) readBytesVolatile(n int) []byte {
	e.readNIntoBuf(n)
	return e.buf[:n]
}

func (e *streamReader) readNIntoBuf(n int) {
	if err := e.readNIntoBufE(n); err != nil {
		e.stop(err)
	}
}

func (e *streamReader) readNIntoBufE(n int) error {
	if int64(n) > e.remaining() {
		return errShortRead
	}
	e.allocateBuf(n)
	n2, err := io.ReadFull(e.r, e.buf[:n])
	if err != nil {
		return err
	}
	if n != n2 {
		return errShortRead
	}
	return nil
}

func (e *streamReader) preservePos(f func()) {
	pos := e.pos()
	f()
	e.seek(pos)
}

// seek moves to the absolute offset pos.
func (e *streamReader) seek(pos int64) {
	_, err := e.r.Seek(pos-e.readerOffset, io.SeekStart)
	if err != nil {
		e.stop(err)
	}
}

func (e *streamReader) skip(n int64) {
	if _, err := e.r.Seek(n, io.SeekCurrent); err != nil {
		e.stop(err)
	}
}

func (e *streamReader) stop(err error) {
	if err != nil {
		e.readErr = err
	}
	e.stopPos = e.end
	if n, serr := e.r.Seek(0, io.SeekCurrent); serr == nil {
		e.stopPos = n + e.readerOffset
	}
	panic(e.stopErr)
}
