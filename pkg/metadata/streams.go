package metadata

import (
	"fmt"

	"txmconvert/pkg/field"
	"txmconvert/pkg/olefile"
)

// loc binds a parameter to its stream path and binary layout. The
// per-variant tables are built from these.
type loc struct {
	stream string
	layout field.Layout
}

func readValue(src olefile.Source, l loc) (any, error) {
	data, err := src.ReadStream(l.stream)
	if err != nil {
		return nil, err
	}
	v, err := field.Decode(data, l.layout)
	if err != nil {
		return nil, fmt.Errorf("stream %s: %w", l.stream, err)
	}
	return v, nil
}

func readFloat(src olefile.Source, l loc) (float64, error) {
	v, err := readValue(src, l)
	if err != nil {
		return 0, err
	}
	f, ok := v.(float32)
	if !ok {
		return 0, fmt.Errorf("stream %s: not a float layout", l.stream)
	}
	return float64(f), nil
}

func readInt(src olefile.Source, l loc) (int, error) {
	v, err := readValue(src, l)
	if err != nil {
		return 0, err
	}
	switch t := v.(type) {
	case int32:
		return int(t), nil
	case uint32:
		return int(t), nil
	default:
		return 0, fmt.Errorf("stream %s: not an integer layout", l.stream)
	}
}

func readBool(src olefile.Source, l loc) (bool, error) {
	v, err := readValue(src, l)
	if err != nil {
		return false, err
	}
	b, ok := v.(bool)
	if !ok {
		return false, fmt.Errorf("stream %s: not a boolean layout", l.stream)
	}
	return b, nil
}

func readString(src olefile.Source, l loc) (string, error) {
	v, err := readValue(src, l)
	if err != nil {
		return "", err
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("stream %s: not a string layout", l.stream)
	}
	return s, nil
}

func readRaw(src olefile.Source, stream string) ([]byte, error) {
	return src.ReadStream(stream)
}

// Layout shorthands for table literals.
func f32() field.Layout { return field.Layout{Kind: field.Float32} }

func f32at(o int) field.Layout {
	return field.Layout{Kind: field.Float32, At: true, Offset: o}
}

func i32() field.Layout { return field.Layout{Kind: field.Int32} }

func boolean() field.Layout { return field.Layout{Kind: field.Bool} }

func str(trim int, cs field.Charset) field.Layout {
	return field.Layout{Kind: field.String, Trim: trim, Charset: cs}
}
