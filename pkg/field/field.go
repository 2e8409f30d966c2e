// Package field decodes fixed-layout binary fields extracted from
// container streams: little-endian scalars, offset-qualified scalars
// packed several to a stream, and fixed-trim legacy strings.
package field

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"golang.org/x/text/encoding/charmap"
)

// ErrMalformedField is returned when a stream's byte length does not
// match the requested layout.
var ErrMalformedField = errors.New("malformed field")

// Charset selects how a string field's bytes are decoded.
type Charset int

const (
	// ASCII decodes bytes as-is. The instrument writes plain ASCII into
	// most string streams.
	ASCII Charset = iota

	// CP855 decodes with the legacy IBM code page 855, used by the
	// objective-lens name stream.
	CP855
)

// Kind identifies a field layout.
type Kind int

const (
	Raw Kind = iota
	Uint32
	Int32
	Float32
	Bool
	String
)

// Layout describes how to interpret a stream's bytes.
//
// Plain scalar layouts demand an exact-length stream. Setting At makes
// the layout offset-qualified: the scalar is read starting at Offset
// inside a longer packed stream (position triples, exposure tables).
// Trim and Charset apply to String fields; trim lengths vary per field
// and are not self-describing, so every location table carries the exact
// value the instrument uses.
type Layout struct {
	Kind    Kind
	At      bool
	Offset  int
	Trim    int
	Charset Charset
}

// Decode interprets data according to the layout and returns one of
// []byte, uint32, int32, float32, bool or string.
func Decode(data []byte, l Layout) (any, error) {
	if l.At {
		switch l.Kind {
		case Uint32:
			return DecodeUint32At(data, l.Offset)
		case Int32:
			return DecodeInt32At(data, l.Offset)
		case Float32:
			return DecodeFloat32At(data, l.Offset)
		case Bool:
			return DecodeBoolAt(data, l.Offset)
		default:
			return nil, fmt.Errorf("%w: layout kind %d cannot be offset-qualified",
				ErrMalformedField, l.Kind)
		}
	}

	switch l.Kind {
	case Raw:
		return data, nil
	case Uint32:
		return DecodeUint32(data)
	case Int32:
		return DecodeInt32(data)
	case Float32:
		return DecodeFloat32(data)
	case Bool:
		return DecodeBool(data)
	case String:
		return DecodeString(data, l.Trim, l.Charset)
	default:
		return nil, fmt.Errorf("%w: unknown layout kind %d", ErrMalformedField, l.Kind)
	}
}

// DecodeUint32 reads a little-endian unsigned 32-bit integer from an
// exact 4-byte stream.
func DecodeUint32(data []byte) (uint32, error) {
	if len(data) != 4 {
		return 0, fmt.Errorf("%w: expected 4 bytes, stream has %d", ErrMalformedField, len(data))
	}
	return binary.LittleEndian.Uint32(data), nil
}

// DecodeInt32 reads a little-endian signed 32-bit integer from an exact
// 4-byte stream.
func DecodeInt32(data []byte) (int32, error) {
	v, err := DecodeUint32(data)
	return int32(v), err
}

// DecodeFloat32 reads a little-endian IEEE 754 float from an exact
// 4-byte stream.
func DecodeFloat32(data []byte) (float32, error) {
	v, err := DecodeUint32(data)
	return math.Float32frombits(v), err
}

// DecodeBool reads a boolean from an exact 1-byte stream.
func DecodeBool(data []byte) (bool, error) {
	if len(data) != 1 {
		return false, fmt.Errorf("%w: expected 1 byte, stream has %d", ErrMalformedField, len(data))
	}
	return data[0] != 0, nil
}

func checkAt(data []byte, offset, size int) error {
	if offset < 0 || offset+size > len(data) {
		return fmt.Errorf("%w: need %d bytes at offset %d, stream has %d",
			ErrMalformedField, size, offset, len(data))
	}
	return nil
}

// DecodeUint32At reads a little-endian unsigned 32-bit integer starting
// at offset inside a packed stream.
func DecodeUint32At(data []byte, offset int) (uint32, error) {
	if err := checkAt(data, offset, 4); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(data[offset:]), nil
}

// DecodeInt32At reads a little-endian signed 32-bit integer starting at
// offset inside a packed stream.
func DecodeInt32At(data []byte, offset int) (int32, error) {
	v, err := DecodeUint32At(data, offset)
	return int32(v), err
}

// DecodeFloat32At reads a little-endian IEEE 754 float starting at
// offset inside a packed stream.
func DecodeFloat32At(data []byte, offset int) (float32, error) {
	v, err := DecodeUint32At(data, offset)
	return math.Float32frombits(v), err
}

// DecodeBoolAt reads a single-byte boolean at offset inside a packed
// stream.
func DecodeBoolAt(data []byte, offset int) (bool, error) {
	if err := checkAt(data, offset, 1); err != nil {
		return false, err
	}
	return data[offset] != 0, nil
}

// DecodeString decodes a fixed-length string buffer, dropping trim bytes
// from the tail. A buffer shorter than the trim yields an empty string,
// mirroring how the originals slice past the end.
func DecodeString(data []byte, trim int, cs Charset) (string, error) {
	if trim < 0 {
		return "", fmt.Errorf("%w: negative trim %d", ErrMalformedField, trim)
	}
	if len(data) <= trim {
		return "", nil
	}
	data = data[:len(data)-trim]

	switch cs {
	case CP855:
		decoded, err := charmap.CodePage855.NewDecoder().Bytes(data)
		if err != nil {
			return "", fmt.Errorf("%w: code page 855 decode: %v", ErrMalformedField, err)
		}
		return string(decoded), nil
	default:
		return string(data), nil
	}
}
