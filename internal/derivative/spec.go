// Package derivative produces the resized and re-encoded copies of an
// uploaded image. The matrix of outputs is fixed at compile time and the
// object key of every derivative is a pure function of the original key,
// so deletion and re-processing never need a lookup.
package derivative

import (
	"fmt"
	"path"

	"github.com/shopforge/shopforge/internal/locator"
)

// Size labels of the derivative matrix.
const (
	SizeThumb  = "thumb"
	SizeMedium = "medium"
	SizeLarge  = "large"
)

// Encoding formats of the derivative matrix.
const (
	FormatJPEG = "jpeg"
	FormatWebP = "webp"
	FormatAVIF = "avif"
)

// Spec describes one cell of the matrix.
type Spec struct {
	SizeLabel string
	MaxWidth  int
	MaxHeight int
	Format    string
	Quality   int
}

// Locator identifies one published derivative.
type Locator struct {
	SizeLabel string
	Format    string
	Key       string
	URL       string
}

// Set is the full output of one pipeline run, keyed by "{size}_{format}".
type Set map[string]Locator

// SetKey builds the map key for one matrix cell.
func SetKey(sizeLabel, format string) string {
	return sizeLabel + "_" + format
}

// URL returns the retrieval URL for a cell, "" when absent.
func (s Set) URL(sizeLabel, format string) string {
	return s[SetKey(sizeLabel, format)].URL
}

var sizes = []struct {
	label  string
	width  int
	height int
}{
	{SizeThumb, 200, 200},
	{SizeMedium, 600, 600},
	{SizeLarge, 1200, 1200},
}

var formats = []struct {
	name    string
	quality int
}{
	{FormatJPEG, 85},
	{FormatWebP, 80},
	{FormatAVIF, 50},
}

// Matrix returns the fixed 3x3 derivative matrix.
func Matrix() []Spec {
	specs := make([]Spec, 0, len(sizes)*len(formats))
	for _, size := range sizes {
		for _, format := range formats {
			specs = append(specs, Spec{
				SizeLabel: size.label,
				MaxWidth:  size.width,
				MaxHeight: size.height,
				Format:    format.name,
				Quality:   format.quality,
			})
		}
	}
	return specs
}

// Key derives the storage key for one cell:
// processed/{dir}/{base}_{sizeLabel}.{format}. Re-publishing the same
// original therefore overwrites instead of accumulating.
func Key(originalKey string, spec Spec) string {
	name := fmt.Sprintf("%s_%s.%s", locator.BaseName(originalKey), spec.SizeLabel, spec.Format)
	return path.Join(locator.ProcessedSegment, locator.SourceDir(originalKey), name)
}

// Keys enumerates every derivative key for an original. The deletion
// mirror uses this to remove a whole matrix without listing the bucket.
func Keys(originalKey string) []string {
	specs := Matrix()
	keys := make([]string, 0, len(specs))
	for _, spec := range specs {
		keys = append(keys, Key(originalKey, spec))
	}
	return keys
}

// ContentType returns the MIME type for a derivative format.
func ContentType(format string) string {
	return "image/" + format
}
