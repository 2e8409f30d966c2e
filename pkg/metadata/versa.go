package metadata

import (
	"fmt"
	"math"
	"strings"
	"time"

	"txmconvert/pkg/field"
	"txmconvert/pkg/olefile"
)

// Acquisition-mode classification constants. The wide-tomography label
// appears in .txrm mode strings; the numeric codes appear in .txm mode
// ints.
const (
	wideTomographyLabel = "Tomography Wide"
	acqModeCodeWide     = 17
	acqModeCodeNormal   = 10
)

// Stitch settings live at the same location in both Versa variants.
var (
	stitchEnabled  = loc{"ReconSettings/StitchParams/AutoStitchSettings/Enabled", boolean()}
	stitchSegments = loc{"ReconSettings/StitchParams/AutoStitchSettings/NumSegments", i32()}
)

// versaTable is the per-variant field-location table for the Versa
// family. Only the locations that differ between .txrm and .txm appear
// here; shared locations are inlined in readVersa.
type versaTable struct {
	projections loc
	rotation    *loc // .txm whole-span stream; nil derives from the angle pair
	startAngle  loc
	endAngle    loc
	exposure    loc
	filter      loc

	// .txm stores source/detector distances in micrometers (reported in
	// mm via /1000); .txrm stores signed mm (source reported as |abs|).
	distancesInMicrons bool

	acqModeString *loc // .txrm
	acqModeInt    *loc // .txm

	hart             *loc // .txrm only
	variableExposure *loc // .txrm only
}

var versaTables = map[Format]*versaTable{
	FormatTXRM: {
		projections:      loc{"ImageInfo/ImagesTaken", i32()},
		startAngle:       loc{"AcquisitionSettings/StartAngle", f32()},
		endAngle:         loc{"AcquisitionSettings/EndAngle", f32()},
		exposure:         loc{"AcquisitionSettings/ExpTime", f32()},
		filter:           loc{"AcquisitionSettings/SourceFilterName", str(257, field.ASCII)},
		acqModeString:    &loc{"AcquisitionSettings/AcqModeString", str(245, field.ASCII)},
		hart:             &loc{"AcquisitionSettings/VariableAngleMode", i32()},
		variableExposure: &loc{"AcquisitionSettings/VariableExposureTimeMode", i32()},
	},
	FormatTXM: {
		projections:        loc{"AutoRecon/NumOfProjects", i32()},
		rotation:           &loc{"AutoRecon/AngleSpan", f32()},
		exposure:           loc{"ImageInfo/ExpTimes", f32at(4)},
		filter:             loc{"ImageInfo/SourceFilterName", str(257, field.ASCII)},
		distancesInMicrons: true,
		acqModeInt:         &loc{"ImageInfo/AcquisitionMode", i32()},
	},
}

// ReadVersa extracts the scan-parameter record from a Versa container.
// fileName is the container's base name, recorded as the first
// parameter.
func ReadVersa(src olefile.Source, format Format, fileName string) (*Record, error) {
	table, ok := versaTables[format]
	if !ok {
		return nil, fmt.Errorf("format %s is not a Versa variant", format)
	}

	r := &Record{}
	r.add("file", "File", fileName)

	date, clock, err := versaTimestamp(src)
	if err != nil {
		return nil, err
	}
	r.add("date", "Date", date)
	r.add("time", "Time", clock)

	volts, err := readFloat(src, loc{"ImageInfo/Voltage", f32()})
	if err != nil {
		return nil, err
	}
	r.add("voltage", "kV", volts)

	current, err := readFloat(src, loc{"ImageInfo/Current", f32()})
	if err != nil {
		return nil, err
	}
	r.add("current", "uA", current)
	r.add("power", "Power (W)", roundN(volts*(current/1000), 1))

	proj, err := readInt(src, table.projections)
	if err != nil {
		return nil, err
	}
	r.add("projections", "Projections taken", proj)

	if table.rotation != nil {
		span, err := readFloat(src, *table.rotation)
		if err != nil {
			return nil, err
		}
		r.add("rotation", "Rotation (deg)", roundN(span, 0))
	} else {
		end, err := readFloat(src, table.endAngle)
		if err != nil {
			return nil, err
		}
		start, err := readFloat(src, table.startAngle)
		if err != nil {
			return nil, err
		}
		r.add("rotation", "Rotation (deg)", int(math.RoundToEven(math.Abs(end)+math.Abs(start))))
	}

	exposure, err := readFloat(src, table.exposure)
	if err != nil {
		return nil, err
	}
	r.add("exposure", "Exposure (secs)", roundN(exposure, 2))

	objective, err := readString(src, loc{"ImageInfo/ObjectiveName", str(256, field.CP855)})
	if err != nil {
		return nil, err
	}
	r.add("objective", "Objective lens", cutAtX(objective))

	filter, err := readString(src, table.filter)
	if err != nil {
		return nil, err
	}
	r.add("filter", "Filter", filter)

	pixelSize, err := readFloat(src, loc{"ImageInfo/PixelSize", f32()})
	if err != nil {
		return nil, err
	}
	r.add("voxelSize", "Voxel size (um)", roundN(pixelSize, 2))

	cone, err := readFloat(src, loc{"ImageInfo/ConeAngle", f32at(0)})
	if err != nil {
		return nil, err
	}
	r.add("coneAngle", "Cone angle (deg)", roundN(cone, 2))

	binning, err := readInt(src, loc{"ImageInfo/CameraBinning", i32()})
	if err != nil {
		return nil, err
	}
	r.add("binning", "Binning", binning)

	frames, err := readInt(src, loc{"ImageInfo/CameraNumberOfFramesPerImage", i32()})
	if err != nil {
		return nil, err
	}
	r.add("frameAveraging", "Frame Averaging", frames)

	bh, err := readFloat(src, loc{"ReconSettings/BeamHardening", f32()})
	if err != nil {
		return nil, err
	}
	r.add("beamHardening", "Beam Hardening", roundN(bh, 2))

	srcDist, err := readFloat(src, loc{"ImageInfo/StoRADistance", f32at(0)})
	if err != nil {
		return nil, err
	}
	detDist, err := readFloat(src, loc{"ImageInfo/DtoRADistance", f32at(0)})
	if err != nil {
		return nil, err
	}
	if table.distancesInMicrons {
		r.add("srcToObject", "Src-Obj distance (mm)", roundN(srcDist/1000, 2))
		r.add("detToObject", "Det-Obj distance (mm)", roundN(detDist/1000, 2))
	} else {
		r.add("srcToObject", "Src-Obj distance (mm)", roundN(math.Abs(srcDist), 2))
		r.add("detToObject", "Det-Obj distance (mm)", roundN(detDist, 2))
	}

	for _, axis := range []struct{ key, label, stream string }{
		{"xPosition", "X position (um)", "ImageInfo/XPosition"},
		{"yPosition", "Y position (um)", "ImageInfo/YPosition"},
		{"zPosition", "Z position (um)", "ImageInfo/ZPosition"},
	} {
		pos, err := readFloat(src, loc{axis.stream, f32at(0)})
		if err != nil {
			return nil, err
		}
		r.add(axis.key, axis.label, roundN(pos, 2))
	}

	if table.acqModeString != nil {
		modeStr, err := readString(src, *table.acqModeString)
		if err != nil {
			return nil, err
		}
		if err := addAcquisitionMode(r, src, modeStr == wideTomographyLabel); err != nil {
			return nil, err
		}
	}
	if table.acqModeInt != nil {
		mode, err := readInt(src, *table.acqModeInt)
		if err != nil {
			return nil, err
		}
		// Codes other than wide/normal leave the mode unreported, as the
		// instrument software does.
		switch mode {
		case acqModeCodeWide:
			if err := addAcquisitionMode(r, src, true); err != nil {
				return nil, err
			}
		case acqModeCodeNormal:
			if err := addAcquisitionMode(r, src, false); err != nil {
				return nil, err
			}
		}
	}

	if table.hart != nil {
		hart, err := readInt(src, *table.hart)
		if err != nil {
			return nil, err
		}
		r.add("hart", "HART", hart == 1)
	}
	if table.variableExposure != nil {
		vexp, err := readInt(src, *table.variableExposure)
		if err != nil {
			return nil, err
		}
		r.add("variableExposure", "Variable exposure", vexp == 1)
	}

	return r, nil
}

// addAcquisitionMode classifies the acquisition mode from the wide flag
// and the auto-stitch settings, then records the mode and segment count.
func addAcquisitionMode(r *Record, src olefile.Source, wide bool) error {
	enabled, err := readBool(src, stitchEnabled)
	if err != nil {
		return err
	}

	var mode string
	switch {
	case wide && enabled:
		mode = "Wide Stitch"
	case wide:
		mode = "Wide"
	case enabled:
		mode = "Stitch"
	default:
		mode = "Normal"
	}
	r.add("acquisitionMode", "Acquisition mode", mode)

	if enabled {
		segments, err := readInt(src, stitchSegments)
		if err != nil {
			return err
		}
		r.add("segments", "No. of segments", segments)
	} else {
		r.add("segments", "No. of segments", 1)
	}
	return nil
}

// versaTimestamp splits the ImageInfo/Date stream into the display date
// (reformatted day-first) and wall-clock time.
func versaTimestamp(src olefile.Source) (date, clock string, err error) {
	raw, err := readRaw(src, "ImageInfo/Date")
	if err != nil {
		return "", "", err
	}
	if len(raw) < 19 {
		return "", "", fmt.Errorf("stream ImageInfo/Date: %w: %d bytes", field.ErrMalformedField, len(raw))
	}
	parsed, err := time.Parse("01/02/2006", string(raw[:10]))
	if err != nil {
		return "", "", fmt.Errorf("stream ImageInfo/Date: %w: %v", field.ErrMalformedField, err)
	}
	return parsed.Format("02/01/2006"), string(raw[11:19]), nil
}

// cutAtX keeps the magnification prefix of an objective name up to and
// including the first 'X' ("4X CCD..." -> "4X"); names without an 'X'
// pass through whole.
func cutAtX(s string) string {
	if i := strings.Index(s, "X"); i >= 0 {
		return s[:i+1]
	}
	return s
}
