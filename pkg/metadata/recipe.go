package metadata

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"txmconvert/pkg/field"
	"txmconvert/pkg/olefile"
)

// Detector half-width in pixels used in the cone-angle derivation. The
// shipped reader uses 2042; an earlier build used 2048. Whether the
// difference is a hardware revision or a typo is unknown, so both are
// kept as selectable variants.
const (
	detectorHalfWidthRev2042 = 2042
	detectorHalfWidthRev2048 = 2048
)

// RecipeCount returns the number of recipe points in the container.
func RecipeCount(src olefile.Source) (int, error) {
	return readInt(src, loc{"NoOfTomoDataSets", i32()})
}

// ReadRecipe extracts one record per recipe point. fileName is the
// container's base name, recorded as the first parameter of every
// record.
func ReadRecipe(src olefile.Source, format Format, fileName string) ([]*Record, error) {
	var halfWidth float64
	switch format {
	case FormatRecipeRev2042:
		halfWidth = detectorHalfWidthRev2042
	case FormatRecipeRev2048:
		halfWidth = detectorHalfWidthRev2048
	default:
		return nil, fmt.Errorf("format %s is not a recipe variant", format)
	}

	count, err := RecipeCount(src)
	if err != nil {
		return nil, err
	}
	if count < 0 {
		return nil, fmt.Errorf("stream NoOfTomoDataSets: %w: negative count %d", field.ErrMalformedField, count)
	}

	records := make([]*Record, 0, count)
	for i := 0; i < count; i++ {
		rec, err := readRecipePoint(src, i, halfWidth, fileName)
		if err != nil {
			return nil, fmt.Errorf("recipe point %d: %w", i, err)
		}
		records = append(records, rec)
	}
	return records, nil
}

func readRecipePoint(src olefile.Source, index int, halfWidth float64, fileName string) (*Record, error) {
	point := fmt.Sprintf("RecipePoint%d", index)
	acq := point + "/AcquisitionSettings"

	r := &Record{}
	r.add("file", "File", fileName)

	name, err := readString(src, loc{point + "/PointName", str(1, field.ASCII)})
	if err != nil {
		return nil, err
	}
	r.add("recipe", "Recipe", name)

	date, clock, err := recipeTimestamp(src)
	if err != nil {
		return nil, err
	}
	r.add("date", "Date", date)
	r.add("time", "Time", clock)

	volts, err := readFloat(src, loc{acq + "/SrcVoltage", f32()})
	if err != nil {
		return nil, err
	}
	r.add("voltage", "kV", volts)

	watts, err := readFloat(src, loc{acq + "/SrcPower", f32()})
	if err != nil {
		return nil, err
	}
	r.add("power", "Power (W)", watts)

	// An unset source reports zero current rather than a division error.
	current := 0.0
	if volts != 0 && watts != 0 {
		current = roundN(watts*1000/volts, 1)
	}
	r.add("current", "uA", current)

	proj, err := readInt(src, loc{acq + "/TotalImages", i32()})
	if err != nil {
		return nil, err
	}
	r.add("projections", "Projections taken", proj)

	end, err := readFloat(src, loc{acq + "/EndAngle", f32()})
	if err != nil {
		return nil, err
	}
	start, err := readFloat(src, loc{acq + "/StartAngle", f32()})
	if err != nil {
		return nil, err
	}
	r.add("rotation", "Rotation (deg)", int(math.RoundToEven(math.Abs(end)+math.Abs(start))))

	exposure, err := readFloat(src, loc{acq + "/ExpTime", f32()})
	if err != nil {
		return nil, err
	}
	r.add("exposure", "Exposure (secs)", roundN(exposure, 2))

	mag, err := readString(src, loc{point + "/MagStr", str(1, field.ASCII)})
	if err != nil {
		return nil, err
	}
	r.add("objective", "Objective lens", mag)

	filter, err := readString(src, loc{acq + "/SourceFilterName", str(257, field.ASCII)})
	if err != nil {
		return nil, err
	}
	r.add("filter", "Filter", filter)

	binning, err := readInt(src, loc{acq + "/Binning", i32()})
	if err != nil {
		return nil, err
	}
	r.add("binning", "Binning", binning)

	frames, err := readInt(src, loc{acq + "/FramesPerImage", i32()})
	if err != nil {
		return nil, err
	}
	r.add("frameAveraging", "Frame Averaging", frames)

	bh, err := readFloat(src, loc{point + "/ReconSettings/BeamHardening", f32()})
	if err != nil {
		return nil, err
	}
	r.add("beamHardening", "Beam Hardening", roundN(bh, 2))

	positions := acq + "/InitialPositions"
	srcDist, err := readFloat(src, loc{positions, f32at(16)})
	if err != nil {
		return nil, err
	}
	r.add("srcToObject", "Src-Obj distance (mm)", roundN(math.Abs(srcDist), 2))

	detDist, err := readFloat(src, loc{positions, f32at(20)})
	if err != nil {
		return nil, err
	}
	r.add("detToObject", "Det-Obj distance (mm)", roundN(detDist, 2))

	ccd, err := readFloat(src, loc{acq + "/CCDPixelSize", f32()})
	if err != nil {
		return nil, err
	}
	voxel, cone, err := deriveOptics(mag, ccd, srcDist, detDist, binning, halfWidth)
	if err != nil {
		return nil, err
	}
	r.add("voxelSize", "Voxel size (um)", roundN(voxel, 2))
	r.add("coneAngle", "Cone angle (deg)", roundN(cone, 2))

	for _, axis := range []struct {
		key, label string
		offset     int
	}{
		{"xPosition", "X position (um)", 0},
		{"yPosition", "Y position (um)", 4},
		{"zPosition", "Z position (um)", 8},
	} {
		pos, err := readFloat(src, loc{positions, f32at(axis.offset)})
		if err != nil {
			return nil, err
		}
		r.add(axis.key, axis.label, roundN(pos, 2))
	}

	modeStr, err := readString(src, loc{acq + "/AcqModeString", str(245, field.ASCII)})
	if err != nil {
		return nil, err
	}
	wide := modeStr == wideTomographyLabel

	enabled, err := readBool(src, loc{point + "/AutoStitchSettings/Enabled", boolean()})
	if err != nil {
		return nil, err
	}
	switch {
	case wide && enabled:
		r.add("acquisitionMode", "Acquisition mode", "Wide Stitch")
	case wide:
		r.add("acquisitionMode", "Acquisition mode", "Wide")
	case enabled:
		r.add("acquisitionMode", "Acquisition mode", "Stitch")
	default:
		r.add("acquisitionMode", "Acquisition mode", "Normal")
	}
	if enabled {
		segments, err := readInt(src, loc{point + "/AutoStitchSettings/NumSegments", i32()})
		if err != nil {
			return nil, err
		}
		r.add("segments", "No. of segments", segments)
	} else {
		r.add("segments", "No. of segments", 1)
	}

	hart, err := readInt(src, loc{acq + "/VariableAngleMode", i32()})
	if err != nil {
		return nil, err
	}
	r.add("hart", "HART", hart == 1)

	vexp, err := readInt(src, loc{acq + "/VariableExposureTimeMode", i32()})
	if err != nil {
		return nil, err
	}
	r.add("variableExposure", "Variable exposure", vexp == 1)

	return r, nil
}

// deriveOptics computes the voxel size and cone angle from the raw
// geometry. The magnification string carries a trailing unit letter
// ("4X" -> 4). The cone angle is twice the detector half-angle; the
// value is in radians but has always been reported under a degree
// label, and that labeling is kept for continuity with existing
// records.
func deriveOptics(mag string, ccd, srcDist, detDist float64, binning int, halfWidth float64) (voxel, cone float64, err error) {
	if len(mag) < 2 {
		return 0, 0, derivationErr("voxel size", "magnification string %q too short", mag)
	}
	magVal, err := strconv.ParseFloat(strings.TrimSpace(mag[:len(mag)-1]), 64)
	if err != nil || magVal == 0 {
		return 0, 0, derivationErr("voxel size", "unparsable magnification %q", mag)
	}
	if srcDist == 0 {
		return 0, 0, derivationErr("voxel size", "zero source-to-object distance")
	}
	if binning == 0 {
		return 0, 0, derivationErr("cone angle", "zero binning")
	}

	geomMag := (math.Abs(srcDist) + detDist) / math.Abs(srcDist)
	voxel = ccd / magVal / geomMag * float64(binning)

	detRadius := voxel * (halfWidth / float64(binning))
	span := math.Abs(srcDist) + detDist
	slant := math.Sqrt(span*span + detRadius*detRadius)
	if slant == 0 {
		return 0, 0, derivationErr("cone angle", "degenerate geometry")
	}
	cone = 2 * math.Asin(detRadius/slant)
	return voxel, cone, nil
}

// recipeTimestamp splits the root TimeStamp stream, which is shared by
// every recipe point, into display date and time.
func recipeTimestamp(src olefile.Source) (date, clock string, err error) {
	raw, err := readRaw(src, "TimeStamp")
	if err != nil {
		return "", "", err
	}
	if len(raw) < 17 {
		return "", "", fmt.Errorf("stream TimeStamp: %w: %d bytes", field.ErrMalformedField, len(raw))
	}
	parsed, err := time.Parse("2006-01-02", string(raw[:10]))
	if err != nil {
		return "", "", fmt.Errorf("stream TimeStamp: %w: %v", field.ErrMalformedField, err)
	}
	wall, err := time.Parse("150405", string(raw[11:17]))
	if err != nil {
		return "", "", fmt.Errorf("stream TimeStamp: %w: %v", field.ErrMalformedField, err)
	}
	return parsed.Format("02/01/2006"), wall.Format("15:04:05"), nil
}
