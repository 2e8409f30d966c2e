// Package preview renders a single plane as a grayscale JPEG so a scan
// can be eyeballed mid-conversion without opening the TIFF output.
package preview

import (
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"math"
	"os"

	"txmconvert/pkg/volume"
)

// Renderer turns one plane into a viewable image.
type Renderer struct {
	plane *volume.Plane
	typ   volume.PixelType
}

// NewRenderer builds a renderer for a plane holding samples of the
// given type.
func NewRenderer(p *volume.Plane, t volume.PixelType) *Renderer {
	return &Renderer{plane: p, typ: t}
}

// Image renders the plane as a 16-bit grayscale image. Rescaled 8-bit
// and 16-bit planes map linearly onto the display range; raw planes
// are stretched over their own min and max.
func (r *Renderer) Image() image.Image {
	p := r.plane
	img := image.NewGray16(image.Rect(0, 0, p.Width, p.Height))

	var lo, span float64
	switch r.typ {
	case volume.PixelUint8:
		lo, span = 0, 255
	case volume.PixelUint16:
		lo, span = 0, 65535
	default:
		lo, span = planeBounds(p)
	}

	for y := 0; y < p.Height; y++ {
		for x := 0; x < p.Width; x++ {
			v := (p.At(x, y) - lo) / span * 65535
			value := uint16(math.Max(0, math.Min(65535, v)))
			img.SetGray16(x, y, color.Gray16{Y: value})
		}
	}
	return img
}

// Save writes the rendered plane as a JPEG.
func (r *Renderer) Save(path string) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating preview %s: %w", path, err)
	}
	defer file.Close()

	return jpeg.Encode(file, r.Image(), &jpeg.Options{Quality: 90})
}

func planeBounds(p *volume.Plane) (lo, span float64) {
	lo, hi := math.Inf(1), math.Inf(-1)
	for y := 0; y < p.Height; y++ {
		for x := 0; x < p.Width; x++ {
			v := p.At(x, y)
			lo = math.Min(lo, v)
			hi = math.Max(hi, v)
		}
	}
	span = hi - lo
	if span == 0 {
		span = 1
	}
	return lo, span
}
