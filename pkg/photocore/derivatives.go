package photocore

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	_ "image/png" // registered for decoding uploaded PNGs
	"log/slog"
	"os"
	"path/filepath"

	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp" // registered for decoding uploaded WebPs

	"github.com/photoclub/photocore/pkg/photocore/assetkey"
)

// jpegQuality is the fixed encode quality for all derivatives.
const jpegQuality = 85

// DerivativeGenerator produces resized, re-encoded renditions of a primary
// asset and removes superseded ones. Derivative keys are a pure function
// of the primary key and the variant label, so regeneration is idempotent:
// re-running overwrites the same keys with dimensionally identical output.
type DerivativeGenerator struct {
	blobs  BlobStore
	logger *slog.Logger
}

// NewDerivativeGenerator creates a generator over the given backend.
func NewDerivativeGenerator(blobs BlobStore, logger *slog.Logger) *DerivativeGenerator {
	if logger == nil {
		logger = slog.Default()
	}
	return &DerivativeGenerator{blobs: blobs, logger: logger}
}

// Generate reads the primary object and writes one derivative per variant
// of the strategy. A corrupt or unreadable source fails the whole call
// with a *ProcessingError; storage failures propagate as *StorageError.
func (g *DerivativeGenerator) Generate(ctx context.Context, primaryKey string, strategy assetkey.Strategy) ([]string, error) {
	srcPath, err := g.blobs.Get(ctx, primaryKey)
	if err != nil {
		return nil, err
	}
	defer os.Remove(srcPath)

	src, err := decodeImage(srcPath)
	if err != nil {
		return nil, &ProcessingError{Key: primaryKey, Err: err}
	}

	var keys []string
	for _, variant := range strategy.Variants() {
		key := strategy.DerivativeKey(primaryKey, variant)
		if key == "" {
			continue
		}
		outPath, err := g.renderVariant(src, variant)
		if err != nil {
			return nil, &ProcessingError{Key: primaryKey, Err: err}
		}
		err = g.blobs.Put(ctx, key, outPath)
		os.Remove(outPath)
		if err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}
	return keys, nil
}

// Cleanup deletes every derivative derivable from the primary key. Called
// with the previous key before a replace; missing objects are no-ops.
func (g *DerivativeGenerator) Cleanup(ctx context.Context, primaryKey string, strategy assetkey.Strategy) error {
	if primaryKey == "" {
		return nil
	}
	var errs []error
	for _, key := range assetkey.DerivativeKeys(strategy, primaryKey) {
		if err := g.blobs.Delete(ctx, key); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// renderVariant resizes to fit inside the variant's bounding box without
// upscaling, preserving aspect ratio, and encodes to the fixed output
// codec. The result is written to a temp file for upload.
func (g *DerivativeGenerator) renderVariant(src image.Image, variant assetkey.Variant) (string, error) {
	dst := resizeToFit(src, variant.Size)

	out, err := os.CreateTemp("", "derivative-*.jpg")
	if err != nil {
		return "", err
	}
	defer out.Close()

	if err := jpeg.Encode(out, dst, &jpeg.Options{Quality: jpegQuality}); err != nil {
		os.Remove(out.Name())
		return "", fmt.Errorf("encode %s: %w", variant.Label, err)
	}
	return out.Name(), nil
}

func decodeImage(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", filepath.Base(path), err)
	}
	return img, nil
}

// resizeToFit scales the image proportionally so both dimensions fit
// within size pixels. Images already within bounds are returned as-is;
// derivatives never upscale beyond the original.
func resizeToFit(src image.Image, size int) image.Image {
	bounds := src.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	if w <= size && h <= size {
		return src
	}

	scale := float64(size) / float64(w)
	if h > w {
		scale = float64(size) / float64(h)
	}
	dw := int(float64(w)*scale + 0.5)
	dh := int(float64(h)*scale + 0.5)
	if dw < 1 {
		dw = 1
	}
	if dh < 1 {
		dh = 1
	}

	dst := image.NewRGBA(image.Rect(0, 0, dw, dh))
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, bounds, draw.Src, nil)
	return dst
}
