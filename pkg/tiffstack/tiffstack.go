// Package tiffstack writes assembled plane stacks as grayscale TIFF
// files: one single-strip classic TIFF per plane for stack export, or a
// single multi-page BigTIFF for volume export. Files are always
// little-endian and uncompressed, with resolution tags carrying the
// scan's pixel size.
package tiffstack

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"path/filepath"

	"txmconvert/pkg/volume"
)

const (
	tagImageWidth      = 256
	tagImageLength     = 257
	tagBitsPerSample   = 258
	tagCompression     = 259
	tagPhotometric     = 262
	tagStripOffsets    = 273
	tagSamplesPerPixel = 277
	tagRowsPerStrip    = 278
	tagStripByteCounts = 279
	tagXResolution     = 282
	tagYResolution     = 283
	tagResolutionUnit  = 296
	tagSampleFormat    = 339

	typeShort    = 3
	typeLong     = 4
	typeRational = 5
	typeLong8    = 16

	unitNone = 1
	unitInch = 2

	compressionNone  = 1
	photoBlackIsZero = 1

	sampleFormatUnsigned = 1
	sampleFormatSigned   = 2
	sampleFormatFloat    = 3
)

// inchMicrometers converts a micrometer pixel size into dots per inch
// for volume resolution tags.
const inchMicrometers = 25400.0

// entryCount is fixed: every file carries the same thirteen tags.
const entryCount = 13

// WriteStack writes one TIFF per plane into dir, named
// {base}_0000.tiff onward, and returns the written paths. The X and Y
// resolution tags carry the pixel size in micrometers with no absolute
// unit. If preview is non-nil it receives a copy of the middle plane
// just before that plane is written.
func WriteStack(dir, base string, s *volume.Stack, pixelSize float64, preview func(*volume.Plane)) ([]string, error) {
	if len(s.Planes) == 0 {
		return nil, fmt.Errorf("empty stack")
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}

	previewIndex := int(math.RoundToEven(float64(len(s.Planes)) / 2))
	paths := make([]string, 0, len(s.Planes))
	for i, p := range s.Planes {
		if i == previewIndex && preview != nil {
			preview(p.Clone())
		}

		path := filepath.Join(dir, fmt.Sprintf("%s_%04d.tiff", base, i))
		data := encodeClassic(p, s.Type, pixelSize)
		if err := os.WriteFile(path, data, 0644); err != nil {
			return nil, fmt.Errorf("writing %s: %w", path, err)
		}
		paths = append(paths, path)
	}
	return paths, nil
}

// WriteVolume writes the whole stack as one multi-page BigTIFF. The
// resolution tags are in dots per inch derived from the micrometer
// pixel size.
func WriteVolume(path string, s *volume.Stack, pixelSize float64) error {
	if len(s.Planes) == 0 {
		return fmt.Errorf("empty stack")
	}
	if pixelSize <= 0 {
		return fmt.Errorf("pixel size %v is not positive", pixelSize)
	}

	data := encodeBig(s, inchMicrometers/pixelSize)
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return nil
}

func bitsFor(t volume.PixelType) uint16 { return uint16(t.Bytes()) * 8 }

func sampleFormatFor(t volume.PixelType) uint16 {
	switch t {
	case volume.PixelInt16:
		return sampleFormatSigned
	case volume.PixelFloat32:
		return sampleFormatFloat
	default:
		return sampleFormatUnsigned
	}
}

// rational approximates v as a uint32 fraction. Four decimal places
// are kept where the numerator allows it.
func rational(v float64) (num, den uint32) {
	if v <= 0 {
		return 0, 1
	}
	if v < math.MaxUint32/10000 {
		return uint32(math.Round(v * 10000)), 10000
	}
	return uint32(math.Round(v)), 1
}

// pixelBytes serializes a plane row-major in the stack's sample type.
func pixelBytes(p *volume.Plane, t volume.PixelType) []byte {
	out := make([]byte, 0, p.Width*p.Height*t.Bytes())
	var scratch [4]byte
	for y := 0; y < p.Height; y++ {
		for x := 0; x < p.Width; x++ {
			v := p.At(x, y)
			switch t {
			case volume.PixelUint8:
				out = append(out, uint8(v))
			case volume.PixelInt16:
				binary.LittleEndian.PutUint16(scratch[:2], uint16(int16(v)))
				out = append(out, scratch[:2]...)
			case volume.PixelUint16:
				binary.LittleEndian.PutUint16(scratch[:2], uint16(v))
				out = append(out, scratch[:2]...)
			default:
				binary.LittleEndian.PutUint32(scratch[:4], math.Float32bits(float32(v)))
				out = append(out, scratch[:4]...)
			}
		}
	}
	return out
}

type entry struct {
	tag   uint16
	typ   uint16
	value uint64
}

// entries builds the shared tag set. stripOffset is a file position;
// xres and yres are raw value-field contents (classic TIFF stores an
// offset to the out-of-line rational, BigTIFF packs the rational
// inline).
func entries(p *volume.Plane, t volume.PixelType, stripLen int, stripOffset, xres, yres uint64, unit uint16) []entry {
	return []entry{
		{tagImageWidth, typeLong, uint64(p.Width)},
		{tagImageLength, typeLong, uint64(p.Height)},
		{tagBitsPerSample, typeShort, uint64(bitsFor(t))},
		{tagCompression, typeShort, compressionNone},
		{tagPhotometric, typeShort, photoBlackIsZero},
		{tagStripOffsets, typeLong, stripOffset},
		{tagSamplesPerPixel, typeShort, 1},
		{tagRowsPerStrip, typeLong, uint64(p.Height)},
		{tagStripByteCounts, typeLong, uint64(stripLen)},
		{tagXResolution, typeRational, xres},
		{tagYResolution, typeRational, yres},
		{tagResolutionUnit, typeShort, uint64(unit)},
		{tagSampleFormat, typeShort, uint64(sampleFormatFor(t))},
	}
}

// encodeClassic produces a single-image classic TIFF: header, IFD, the
// two out-of-line resolution rationals, then the pixel strip.
func encodeClassic(p *volume.Plane, t volume.PixelType, pixelSize float64) []byte {
	pix := pixelBytes(p, t)

	const ifdOffset = 8
	ifdSize := 2 + entryCount*12 + 4
	xresOffset := uint64(ifdOffset + ifdSize)
	yresOffset := xresOffset + 8
	stripOffset := yresOffset + 8

	var buf bytes.Buffer
	buf.WriteString("II")
	le16(&buf, 42)
	le32(&buf, ifdOffset)

	le16(&buf, entryCount)
	for _, e := range entries(p, t, len(pix), stripOffset, xresOffset, yresOffset, unitNone) {
		le16(&buf, e.tag)
		le16(&buf, e.typ)
		le32(&buf, 1)
		// SHORT values sit in the low half of the 4-byte value field.
		le32(&buf, uint32(e.value))
	}
	le32(&buf, 0) // no next IFD

	num, den := rational(pixelSize)
	le32(&buf, num)
	le32(&buf, den)
	le32(&buf, num)
	le32(&buf, den)

	buf.Write(pix)
	return buf.Bytes()
}

// encodeBig produces a multi-page BigTIFF with one chained IFD per
// plane, each followed by its pixel strip. A RATIONAL is 8 bytes, so
// the resolution values sit inline in the BigTIFF value fields.
func encodeBig(s *volume.Stack, dpi float64) []byte {
	const headerSize = 16
	ifdSize := uint64(8 + entryCount*20 + 8)

	var buf bytes.Buffer
	buf.WriteString("II")
	le16(&buf, 43)
	le16(&buf, 8) // offset width
	le16(&buf, 0)
	le64(&buf, headerSize)

	offset := uint64(headerSize)
	num, den := rational(dpi)
	res := uint64(num) | uint64(den)<<32
	for i, p := range s.Planes {
		pix := pixelBytes(p, s.Type)
		stripOffset := offset + ifdSize
		next := stripOffset + uint64(len(pix))

		le64(&buf, entryCount)
		for _, e := range entries(p, s.Type, len(pix), stripOffset, res, res, unitInch) {
			le16(&buf, e.tag)
			le16(&buf, e.typ)
			le64(&buf, 1)
			le64(&buf, e.value)
		}
		if i == len(s.Planes)-1 {
			le64(&buf, 0)
		} else {
			le64(&buf, next)
		}

		buf.Write(pix)
		offset = next
	}
	return buf.Bytes()
}

func le16(buf *bytes.Buffer, v uint16) {
	var b [2]byte
	binary.LittleEndian.PutUint16(b[:], v)
	buf.Write(b[:])
}

func le32(buf *bytes.Buffer, v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	buf.Write(b[:])
}

func le64(buf *bytes.Buffer, v uint64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	buf.Write(b[:])
}
