// Copyright 2024 Bjørn Erik Pedersen
// SPDX-License-Identifier: MIT

// Package jp2meta reads the file structure of JPEG 2000 files: the JP2/JPX box
// tree, the marker segments of the embedded codestream, and the ICC, Exif/TIFF,
// XMP and IPTC metadata carried in boxes.
package jp2meta

import (
	"fmt"
	"io"
)

const (
	// EXIF is the EXIF tag source.
	EXIF Source = 1 << iota
	// IPTC is the IPTC tag source.
	IPTC
	// XMP is the XMP tag source.
	XMP
)

// Unrecognized is the String value of an enumerated field with an unknown code.
const Unrecognized = "unrecognized"

const (
	defaultLimitBoxDepth    = 32
	defaultLimitPayloadSize = 10 * 1024 * 1024
	defaultLimitNumSegments = 1 << 20
)

// Options contains the options for the Decode functions.
type Options struct {
	// The Reader (typically a *os.File) to read from.
	// Offsets in the result are relative to its start.
	R io.ReadSeeker

	// Size is the number of bytes in R.
	// If not set, it is determined by seeking to the end.
	Size int64

	// If set, codestreams are read only up to the first tile-part.
	HeaderOnly bool

	// Warnf will be called for each diagnostic.
	Warnf func(string, ...any)

	// LimitBoxDepth is the maximum superbox nesting depth.
	// Default value is 32.
	LimitBoxDepth int

	// LimitPayloadSize is the maximum size in bytes of a box payload that is read into memory.
	// Larger payloads are skipped with a diagnostic.
	// Codestream boxes are not subject to this limit.
	// Default value is 10 MB.
	LimitPayloadSize int64

	// LimitNumSegments is the maximum number of segments read from one codestream.
	// Default value is 1048576.
	LimitNumSegments int
}

func (o *Options) init() error {
	if o.R == nil {
		return fmt.Errorf("no reader provided")
	}
	if o.Size == 0 {
		size, err := o.R.Seek(0, io.SeekEnd)
		if err != nil {
			return err
		}
		o.Size = size
	}
	if _, err := o.R.Seek(0, io.SeekStart); err != nil {
		return err
	}
	if o.LimitBoxDepth == 0 {
		o.LimitBoxDepth = defaultLimitBoxDepth
	}
	if o.LimitPayloadSize == 0 {
		o.LimitPayloadSize = defaultLimitPayloadSize
	}
	if o.LimitNumSegments == 0 {
		o.LimitNumSegments = defaultLimitNumSegments
	}
	return nil
}

// DecodeResult contains the result of a Decode operation.
type DecodeResult struct {
	// Boxes is the top level box list of a JP2/JPX file.
	Boxes []Box

	// Codestream is set when the input is a raw codestream (.j2k, .j2c) rather than a box file.
	// For box files, see ContiguousCodestreamBox.
	Codestream *Codestream

	// Diagnostics holds the recoverable anomalies found, in file order.
	Diagnostics Diagnostics
}

// Codestreams returns all codestreams in the result, in file order.
func (r DecodeResult) Codestreams() []*Codestream {
	if r.Codestream != nil {
		return []*Codestream{r.Codestream}
	}
	var streams []*Codestream
	Walk(r.Boxes, func(b Box) bool {
		if c, ok := b.(*ContiguousCodestreamBox); ok && c.Codestream != nil {
			streams = append(streams, c.Codestream)
		}
		return true
	})
	return streams
}

// Decode reads the structure of the JP2/JPX file or raw codestream in opts.R.
// The result is filled in as far as decoding got, also when err is non-nil.
// A non-nil err is a *StructuralError unless opts are invalid.
func Decode(opts Options) (result DecodeResult, err error) {
	if err := opts.init(); err != nil {
		return result, err
	}

	d := newDiagnoser(opts.Warnf)
	br := newStreamReader(opts.R, opts.Size)

	defer func() {
		result.Diagnostics = d.diags
		if r := recover(); r != nil {
			err = errFromRecover(r, br)
		}
	}()

	if opts.Size < 2 {
		return result, newStructuralErrorf(0, "file too short: %d bytes", opts.Size)
	}

	if br.read2() == uint16(MarkerSOC) {
		cr := newCodestreamReader(br, opts, d, 0, opts.Size)
		result.Codestream, err = cr.read()
		return
	}

	r := &boxReader{streamReader: br, opts: opts, d: d}
	result.Boxes = r.readBoxes(0, opts.Size, 0)
	err = r.err
	return
}

// DecodeCodestream reads the raw codestream in opts.R.
func DecodeCodestream(opts Options) (*Codestream, Diagnostics, error) {
	if err := opts.init(); err != nil {
		return nil, nil, err
	}
	d := newDiagnoser(opts.Warnf)
	br := newStreamReader(opts.R, opts.Size)
	cs, err := func() (cs *Codestream, err error) {
		defer func() {
			if r := recover(); r != nil {
				err = errFromRecover(r, br)
			}
		}()
		return newCodestreamReader(br, opts, d, 0, opts.Size).read()
	}()
	return cs, d.diags, err
}

// errFromRecover converts a recovered panic to an error.
func errFromRecover(r any, br *streamReader) error {
	if r == errStop {
		return &StructuralError{Offset: br.stopPos, Err: fmt.Errorf("unexpected end of data: %w", br.readErr)}
	}
	if err, ok := r.(error); ok {
		return err
	}
	return fmt.Errorf("unknown panic: %v", r)
}

// TagInfo contains information about a metadata tag.
type TagInfo struct {
	// The tag source.
	Source Source
	// The tag name.
	Tag string
	// The tag namespace.
	// For EXIF, this is the path to the IFD, e.g. "IFD0/ExifIFD".
	// For XMP, this is the namespace, e.g. "http://ns.adobe.com/exif/1.0/".
	// For IPTC, this is the record name, e.g. "IPTCApplication".
	Namespace string
	// The tag value.
	Value any
}

// Source is a bitmask of tag sources.
type Source uint32

func (t Source) String() string {
	switch t {
	case EXIF:
		return "EXIF"
	case IPTC:
		return "IPTC"
	case XMP:
		return "XMP"
	default:
		return fmt.Sprintf("Source(%d)", uint32(t))
	}
}

// Has returns true if the given source is set.
func (t Source) Has(source Source) bool {
	return t&source != 0
}

// Tags is a collection of tags grouped per source.
type Tags struct {
	exif map[string]TagInfo
	iptc map[string]TagInfo
	xmp  map[string]TagInfo
}

// Add adds a tag to the correct source.
// An existing tag with the same name is kept.
func (t *Tags) Add(tag TagInfo) {
	m := t.getSourceMap(tag.Source)
	if m == nil {
		return
	}
	if _, found := m[tag.Tag]; !found {
		m[tag.Tag] = tag
	}
}

// EXIF returns the EXIF tags.
func (t *Tags) EXIF() map[string]TagInfo {
	if t.exif == nil {
		t.exif = make(map[string]TagInfo)
	}
	return t.exif
}

// IPTC returns the IPTC tags.
func (t *Tags) IPTC() map[string]TagInfo {
	if t.iptc == nil {
		t.iptc = make(map[string]TagInfo)
	}
	return t.iptc
}

// XMP returns the XMP tags.
func (t *Tags) XMP() map[string]TagInfo {
	if t.xmp == nil {
		t.xmp = make(map[string]TagInfo)
	}
	return t.xmp
}

// All returns all tags in a map.
func (t *Tags) All() map[string]TagInfo {
	all := make(map[string]TagInfo)
	for _, m := range []map[string]TagInfo{t.EXIF(), t.IPTC(), t.XMP()} {
		for k, v := range m {
			all[k] = v
		}
	}
	return all
}

func (t *Tags) getSourceMap(source Source) map[string]TagInfo {
	switch source {
	case EXIF:
		return t.EXIF()
	case IPTC:
		return t.IPTC()
	case XMP:
		return t.XMP()
	default:
		return nil
	}
}

// Tags collects the Exif, GeoTIFF, IPTC and XMP tags found in UUID boxes.
// EXIF tags are taken from IFD0 and its sub-directories only.
func (r DecodeResult) Tags() Tags {
	var tags Tags
	Walk(r.Boxes, func(b Box) bool {
		u, ok := b.(*UUIDBox)
		if !ok {
			return true
		}
		if u.TIFF != nil && len(u.TIFF.IFDs) > 0 {
			addIFDTags(&tags, u.TIFF.IFDs[0])
		}
		for _, ti := range u.IPTC {
			tags.Add(ti)
		}
		for _, ti := range u.XMP {
			tags.Add(ti)
		}
		return true
	})
	return tags
}

func addIFDTags(tags *Tags, ifd *IFD) {
	for _, e := range ifd.Entries {
		if sub, ok := e.Value.(*IFD); ok {
			addIFDTags(tags, sub)
			continue
		}
		tags.Add(TagInfo{
			Source:    EXIF,
			Tag:       e.Name,
			Namespace: ifd.Namespace,
			Value:     e.Value,
		})
	}
}
