// Package volume assembles image planes from container pixel streams
// and rescales their intensities for export. Pixel streams are stored
// column-major; the assembled raster is transposed relative to the
// detector axes, matching every export this instrument family has ever
// produced.
package volume

import (
	"encoding/binary"
	"fmt"
	"math"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"txmconvert/pkg/metadata"
	"txmconvert/pkg/olefile"
)

// PixelType enumerates the sample encodings a container can carry.
type PixelType int

const (
	// PixelUint8 is one unsigned byte per sample (type code 3).
	PixelUint8 PixelType = iota
	// PixelInt16 is a little-endian signed 16-bit sample (type code 5).
	PixelInt16
	// PixelFloat32 is a little-endian IEEE 754 sample (type code 10).
	PixelFloat32
	// PixelUint16 is an unsigned 16-bit sample. Containers never carry
	// it; percentile rescaling produces it for export.
	PixelUint16
)

// PixelTypeFromCode maps the ImageInfo/DataType code to a PixelType.
func PixelTypeFromCode(code int) (PixelType, error) {
	switch code {
	case 3:
		return PixelUint8, nil
	case 5:
		return PixelInt16, nil
	case 10:
		return PixelFloat32, nil
	default:
		return 0, fmt.Errorf("unsupported pixel type code %d", code)
	}
}

// Bytes returns the per-sample width in bytes.
func (t PixelType) Bytes() int {
	switch t {
	case PixelUint8:
		return 1
	case PixelInt16, PixelUint16:
		return 2
	default:
		return 4
	}
}

func (t PixelType) String() string {
	switch t {
	case PixelUint8:
		return "uint8"
	case PixelInt16:
		return "int16"
	case PixelFloat32:
		return "float32"
	case PixelUint16:
		return "uint16"
	default:
		return fmt.Sprintf("pixeltype(%d)", int(t))
	}
}

// Plane is one image plane. Samples are kept in stream order, which is
// column-major with respect to the output raster: the sample at raster
// position (x, y) lives at index x*Height+y.
type Plane struct {
	Width  int
	Height int

	data []float64
}

// At returns the sample at raster position (x, y).
func (p *Plane) At(x, y int) float64 {
	return p.data[x*p.Height+y]
}

// Clone returns an independent copy of the plane.
func (p *Plane) Clone() *Plane {
	data := make([]float64, len(p.data))
	copy(data, p.data)
	return &Plane{Width: p.Width, Height: p.Height, data: data}
}

// Stack is an ordered set of equally-shaped planes from one container.
type Stack struct {
	Planes []*Plane
	Type   PixelType
}

// ShapeMismatchError reports a pixel stream whose byte length does not
// match the plane shape the container header declares.
type ShapeMismatchError struct {
	Stream string
	Want   int // expected byte length
	Got    int
}

func (e *ShapeMismatchError) Error() string {
	return fmt.Sprintf("stream %s: expected %d bytes for plane, got %d", e.Stream, e.Want, e.Got)
}

var streamNumber = regexp.MustCompile(`\d+`)

// sortKey extracts the plane index from the final path component of a
// pixel stream name. Streams without a numeric run sort after all
// numbered streams.
func sortKey(path string) float64 {
	last := path[strings.LastIndex(path, "/")+1:]
	if m := streamNumber.FindString(last); m != "" {
		n, err := strconv.Atoi(m)
		if err == nil {
			return float64(n)
		}
	}
	return math.Inf(1)
}

// planeStreams lists the container's pixel streams in plane order:
// every stream under a top-level storage whose name starts with
// ImageData, ordered by the numeric run in the stream name, ties kept
// in discovery order.
func planeStreams(src olefile.Source) []string {
	var streams []string
	for _, path := range src.ListStreams() {
		first := path
		if i := strings.Index(path, "/"); i >= 0 {
			first = path[:i]
		}
		if strings.HasPrefix(first, "ImageData") {
			streams = append(streams, path)
		}
	}
	sort.SliceStable(streams, func(i, j int) bool {
		return sortKey(streams[i]) < sortKey(streams[j])
	})
	return streams
}

// Assemble reads every pixel stream from the container and builds the
// plane stack. The raster is geometry-transposed: plane width is the
// detector row count and height the detector column count.
func Assemble(src olefile.Source, g *metadata.Geometry) (*Stack, error) {
	pt, err := PixelTypeFromCode(g.DataType)
	if err != nil {
		return nil, err
	}

	streams := planeStreams(src)
	if len(streams) == 0 {
		return nil, fmt.Errorf("container has no pixel streams")
	}

	stack := &Stack{Type: pt, Planes: make([]*Plane, 0, len(streams))}
	for _, stream := range streams {
		data, err := src.ReadStream(stream)
		if err != nil {
			return nil, fmt.Errorf("stream %s: %w", stream, err)
		}
		plane, err := decodePlane(stream, data, pt, g.Width, g.Height)
		if err != nil {
			return nil, err
		}
		stack.Planes = append(stack.Planes, plane)
	}
	return stack, nil
}

// AssembleSingle reads one named pixel stream as a single plane,
// used for projection files that carry exactly one image.
func AssembleSingle(src olefile.Source, stream string, g *metadata.Geometry) (*Stack, error) {
	pt, err := PixelTypeFromCode(g.DataType)
	if err != nil {
		return nil, err
	}
	data, err := src.ReadStream(stream)
	if err != nil {
		return nil, fmt.Errorf("stream %s: %w", stream, err)
	}
	plane, err := decodePlane(stream, data, pt, g.Width, g.Height)
	if err != nil {
		return nil, err
	}
	return &Stack{Type: pt, Planes: []*Plane{plane}}, nil
}

func decodePlane(stream string, data []byte, pt PixelType, cols, rows int) (*Plane, error) {
	samples := cols * rows
	want := samples * pt.Bytes()
	if len(data) != want {
		return nil, &ShapeMismatchError{Stream: stream, Want: want, Got: len(data)}
	}

	values := make([]float64, samples)
	switch pt {
	case PixelUint8:
		for i, b := range data {
			values[i] = float64(b)
		}
	case PixelInt16:
		for i := 0; i < samples; i++ {
			values[i] = float64(int16(binary.LittleEndian.Uint16(data[i*2:])))
		}
	case PixelFloat32:
		for i := 0; i < samples; i++ {
			values[i] = float64(math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:])))
		}
	}

	// Stream order is column-major for a rows-wide raster.
	return &Plane{Width: rows, Height: cols, data: values}, nil
}

// NewPlane builds a plane directly from column-major samples. The
// slice must hold width*height values and is retained, not copied.
func NewPlane(width, height int, samples []float64) *Plane {
	return &Plane{Width: width, Height: height, data: samples}
}
