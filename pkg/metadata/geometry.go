package metadata

import (
	"fmt"

	"txmconvert/pkg/field"
	"txmconvert/pkg/olefile"
)

// Geometry carries the handful of ImageInfo values the image pipeline
// needs before any plane stream is touched.
type Geometry struct {
	Width     int     // columns per plane
	Height    int     // rows per plane
	Planes    int     // planes recorded in the container
	PixelSize float64 // micrometers, rounded to 2 decimals
	DataType  int     // raw pixel-type code (3, 5 or 10)
}

// ReadGeometry reads the plane dimensions, count, pixel size and pixel
// type from a Versa container.
func ReadGeometry(src olefile.Source) (*Geometry, error) {
	g := &Geometry{}

	for _, dim := range []struct {
		stream string
		dst    *int
	}{
		{"ImageInfo/ImageWidth", &g.Width},
		{"ImageInfo/ImageHeight", &g.Height},
		{"ImageInfo/ImagesTaken", &g.Planes},
		{"ImageInfo/DataType", &g.DataType},
	} {
		v, err := readValue(src, loc{dim.stream, field.Layout{Kind: field.Uint32}})
		if err != nil {
			return nil, err
		}
		*dim.dst = int(v.(uint32))
	}

	if g.Width <= 0 || g.Height <= 0 {
		return nil, fmt.Errorf("stream ImageInfo/ImageWidth: %w: %dx%d plane", field.ErrMalformedField, g.Width, g.Height)
	}

	px, err := readFloat(src, loc{"ImageInfo/PixelSize", f32()})
	if err != nil {
		return nil, err
	}
	g.PixelSize = roundN(px, 2)
	return g, nil
}

// ReadProjectionGeometry reads the geometry of a single-projection
// container. Projection files reliably carry only the plane dimensions;
// the plane count, pixel type and pixel size streams may be absent and
// default to one int16 plane with no recorded pixel size.
func ReadProjectionGeometry(src olefile.Source) (*Geometry, error) {
	g := &Geometry{Planes: 1, DataType: 5}

	for _, dim := range []struct {
		stream string
		dst    *int
	}{
		{"ImageInfo/ImageWidth", &g.Width},
		{"ImageInfo/ImageHeight", &g.Height},
	} {
		v, err := readValue(src, loc{dim.stream, field.Layout{Kind: field.Uint32}})
		if err != nil {
			return nil, err
		}
		*dim.dst = int(v.(uint32))
	}
	if g.Width <= 0 || g.Height <= 0 {
		return nil, fmt.Errorf("stream ImageInfo/ImageWidth: %w: %dx%d plane", field.ErrMalformedField, g.Width, g.Height)
	}

	for _, opt := range []struct {
		stream string
		dst    *int
	}{
		{"ImageInfo/ImagesTaken", &g.Planes},
		{"ImageInfo/DataType", &g.DataType},
	} {
		if !src.Exists(opt.stream) {
			continue
		}
		v, err := readValue(src, loc{opt.stream, field.Layout{Kind: field.Uint32}})
		if err != nil {
			return nil, err
		}
		*opt.dst = int(v.(uint32))
	}

	if src.Exists("ImageInfo/PixelSize") {
		px, err := readFloat(src, loc{"ImageInfo/PixelSize", f32()})
		if err != nil {
			return nil, err
		}
		g.PixelSize = roundN(px, 2)
	}
	return g, nil
}
