package derivative

import (
	"bytes"
	"fmt"
	"image"
	"io"

	"github.com/disintegration/imaging"
	"github.com/gen2brain/avif"
	"github.com/gen2brain/webp"

	_ "image/gif"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"
)

// Open decodes the downloaded original from disk, applying EXIF
// orientation so every derivative comes out upright.
func Open(path string) (image.Image, error) {
	img, err := imaging.Open(path, imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("decode original %s: %w", path, err)
	}
	return img, nil
}

// Decode decodes original bytes from a reader.
func Decode(r io.Reader) (image.Image, error) {
	img, err := imaging.Decode(r, imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("decode original: %w", err)
	}
	return img, nil
}

// Generate resizes the original to fit within the spec's bounding box and
// re-encodes it in the spec's format. The resize preserves aspect ratio
// and never upscales. Output depends only on the input pixels and the
// spec, which keeps re-runs of the pipeline idempotent.
func Generate(src image.Image, spec Spec) ([]byte, error) {
	resized := fitInside(src, spec.MaxWidth, spec.MaxHeight)
	var buf bytes.Buffer
	if err := encode(&buf, resized, spec); err != nil {
		return nil, fmt.Errorf("encode %s %s: %w", spec.SizeLabel, spec.Format, err)
	}
	return buf.Bytes(), nil
}

func fitInside(src image.Image, maxWidth, maxHeight int) image.Image {
	bounds := src.Bounds()
	if bounds.Dx() <= maxWidth && bounds.Dy() <= maxHeight {
		return src
	}
	return imaging.Fit(src, maxWidth, maxHeight, imaging.Lanczos)
}

func encode(w io.Writer, img image.Image, spec Spec) error {
	switch spec.Format {
	case FormatJPEG:
		return imaging.Encode(w, img, imaging.JPEG, imaging.JPEGQuality(spec.Quality))
	case FormatWebP:
		return webp.Encode(w, img, webp.Options{Quality: spec.Quality})
	case FormatAVIF:
		return avif.Encode(w, img, avif.Options{Quality: spec.Quality})
	default:
		return fmt.Errorf("unsupported format %q", spec.Format)
	}
}
