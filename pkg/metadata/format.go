// Package metadata maps named container streams to typed scan-parameter
// records. Two container families are supported, each with two
// structural variants: the Versa scan containers (.txrm acquisitions and
// .txm reconstructions) and the recipe containers (.rcp, in the 2042 and
// 2048 detector revisions). Each variant carries its own field-location
// table; the variant is resolved once when a container is opened, never
// per field.
package metadata

import (
	"fmt"
	"path/filepath"
	"strings"
)

// Family groups the container variants by structure.
type Family int

const (
	// FamilyVersa containers describe a single scan.
	FamilyVersa Family = iota
	// FamilyRecipe containers embed any number of independent recipe
	// points, each yielding its own record.
	FamilyRecipe
)

// Format is the closed enumeration of container variants.
type Format int

const (
	// FormatTXRM is a Versa projection acquisition (.txrm).
	FormatTXRM Format = iota
	// FormatTXM is a Versa reconstructed volume (.txm).
	FormatTXM
	// FormatRecipeRev2042 is a recipe file read with the 2042-pixel
	// detector half-width constant (the shipped revision).
	FormatRecipeRev2042
	// FormatRecipeRev2048 is a recipe file read with the older
	// 2048-pixel constant. Whether the discrepancy with Rev2042 is a
	// hardware revision or a typo is unresolved; both are preserved.
	FormatRecipeRev2048
)

// Family returns the structural family of the format.
func (f Format) Family() Family {
	if f == FormatTXRM || f == FormatTXM {
		return FamilyVersa
	}
	return FamilyRecipe
}

func (f Format) String() string {
	switch f {
	case FormatTXRM:
		return "txrm"
	case FormatTXM:
		return "txm"
	case FormatRecipeRev2042:
		return "rcp (rev 2042)"
	case FormatRecipeRev2048:
		return "rcp (rev 2048)"
	default:
		return fmt.Sprintf("format(%d)", int(f))
	}
}

// DetectFormat picks the container variant from the filename suffix.
// Recipe files default to the 2042 revision; callers may substitute
// FormatRecipeRev2048 explicitly.
func DetectFormat(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".txrm":
		return FormatTXRM, nil
	case ".txm":
		return FormatTXM, nil
	case ".rcp":
		return FormatRecipeRev2042, nil
	default:
		return 0, fmt.Errorf("unrecognized container extension %q", filepath.Ext(path))
	}
}
