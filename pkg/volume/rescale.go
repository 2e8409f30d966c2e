package volume

import (
	"errors"
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"
)

// ErrFlatVolume is returned when every sample in a stack holds the same
// value, leaving no intensity range to scale over.
var ErrFlatVolume = errors.New("volume has no intensity range")

// RescaleTo8Bit maps the full stack onto the 8-bit range using the
// global minimum and maximum. Stacks containing negative samples are
// shifted and sign-flipped before scaling, which inverts their
// contrast; existing archives were produced this way and new exports
// must match them plane for plane.
func RescaleTo8Bit(s *Stack) (*Stack, error) {
	lo, hi := bounds(s)

	var shift float64
	flip := lo < 0
	if flip {
		// Shift so the minimum lands at zero, then negate. The result
		// spans [-(hi+shift), 0].
		shift = math.Abs(lo)
		lo, hi = -(hi + shift), 0
	}
	if hi == lo {
		return nil, ErrFlatVolume
	}

	out := &Stack{Type: PixelUint8, Planes: make([]*Plane, 0, len(s.Planes))}
	span := hi - lo
	for _, p := range s.Planes {
		values := make([]float64, len(p.data))
		for i, v := range p.data {
			if flip {
				v = (v + shift) * -1
			}
			values[i] = float64(uint8((v - lo) / span * 255))
		}
		out.Planes = append(out.Planes, NewPlane(p.Width, p.Height, values))
	}
	return out, nil
}

func bounds(s *Stack) (lo, hi float64) {
	lo, hi = math.Inf(1), math.Inf(-1)
	for _, p := range s.Planes {
		for _, v := range p.data {
			lo = math.Min(lo, v)
			hi = math.Max(hi, v)
		}
	}
	return lo, hi
}

// RescalePercentile clips the stack to the [lowPct, highPct] intensity
// percentiles and stretches the clipped range onto uint16. Signed
// 16-bit samples are reinterpreted as unsigned before the percentiles
// are taken, wrapping negative values into the upper half of the
// range; projection archives carry this reinterpretation and it is
// kept.
func RescalePercentile(s *Stack, lowPct, highPct float64) (*Stack, error) {
	values := make([]float64, 0, totalSamples(s))
	for _, p := range s.Planes {
		for _, v := range p.data {
			values = append(values, wrapUnsigned(v, s.Type))
		}
	}
	sort.Float64s(values)

	lo := stat.Quantile(lowPct/100, stat.LinInterp, values, nil)
	hi := stat.Quantile(highPct/100, stat.LinInterp, values, nil)
	if hi == lo {
		return nil, ErrFlatVolume
	}

	out := &Stack{Type: PixelUint16, Planes: make([]*Plane, 0, len(s.Planes))}
	span := hi - lo
	for _, p := range s.Planes {
		scaled := make([]float64, len(p.data))
		for i, v := range p.data {
			u := wrapUnsigned(v, s.Type)
			if u < lo {
				u = lo
			} else if u > hi {
				u = hi
			}
			scaled[i] = float64(uint16((u - lo) / span * 65535))
		}
		out.Planes = append(out.Planes, NewPlane(p.Width, p.Height, scaled))
	}
	return out, nil
}

// WrapUint16 reinterprets the stack's samples as unsigned 16-bit
// values without scaling, for exports that skip intensity conversion.
// Signed samples wrap into the upper half of the range.
func WrapUint16(s *Stack) *Stack {
	out := &Stack{Type: PixelUint16, Planes: make([]*Plane, 0, len(s.Planes))}
	for _, p := range s.Planes {
		values := make([]float64, len(p.data))
		for i, v := range p.data {
			values[i] = float64(uint16(int64(v)))
		}
		out.Planes = append(out.Planes, NewPlane(p.Width, p.Height, values))
	}
	return out
}

func wrapUnsigned(v float64, t PixelType) float64 {
	if t == PixelInt16 && v < 0 {
		return v + 65536
	}
	return v
}

func totalSamples(s *Stack) int {
	n := 0
	for _, p := range s.Planes {
		n += len(p.data)
	}
	return n
}
