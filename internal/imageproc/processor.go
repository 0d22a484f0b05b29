// Package imageproc normalizes user photos into bounded JPEG payloads
// before they are sent for analysis.
package imageproc

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"
	"math"

	"github.com/disintegration/imaging"
	"github.com/rs/zerolog/log"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

const (
	DefaultMaxWidth  = 1280
	DefaultMaxHeight = 720
	DefaultMaxBytes  = 1_000_000

	// DefaultMaxSourcePixels caps the decoded size of an upload (50 MP).
	DefaultMaxSourcePixels = 50_000_000

	// Quality runs from 100 (1.0) down to the floor in steps of 10 (0.1).
	maxQuality   = 100
	qualityStep  = 10
	qualityFloor = 0
)

var (
	// ErrUnsupportedImage is returned when the input cannot be decoded.
	ErrUnsupportedImage = errors.New("unsupported image")
	// ErrImageTooLarge is returned in strict mode when the floor quality
	// still produces more than MaxBytes.
	ErrImageTooLarge = errors.New("image too large")
	// ErrImageDimensions is returned when the header declares more pixels
	// than MaxSourcePixels, before any pixel data is decoded.
	ErrImageDimensions = errors.New("image dimensions too large")
)

// Options bounds the processed output.
type Options struct {
	MaxWidth  int
	MaxHeight int
	MaxBytes  int
	// MaxSourcePixels bounds width*height of the input as declared by its header.
	MaxSourcePixels int
	// Strict makes an oversized result at the quality floor an error
	// instead of a best-effort payload.
	Strict bool
}

// DefaultOptions returns the 1280x720 / 1MB strict limits.
func DefaultOptions() Options {
	return Options{
		MaxWidth:        DefaultMaxWidth,
		MaxHeight:       DefaultMaxHeight,
		MaxBytes:        DefaultMaxBytes,
		MaxSourcePixels: DefaultMaxSourcePixels,
		Strict:          true,
	}
}

// Blob is a processed image ready for upload.
type Blob struct {
	Data    []byte
	Width   int
	Height  int
	Quality int // JPEG quality the data was encoded at, 0-100
}

// Processor resizes and recompresses images.
type Processor struct {
	opts Options
}

// NewProcessor creates a processor. Zero-valued limits fall back to defaults.
func NewProcessor(opts Options) *Processor {
	if opts.MaxWidth <= 0 {
		opts.MaxWidth = DefaultMaxWidth
	}
	if opts.MaxHeight <= 0 {
		opts.MaxHeight = DefaultMaxHeight
	}
	if opts.MaxBytes <= 0 {
		opts.MaxBytes = DefaultMaxBytes
	}
	if opts.MaxSourcePixels <= 0 {
		opts.MaxSourcePixels = DefaultMaxSourcePixels
	}
	return &Processor{opts: opts}
}

// Options returns the limits the processor enforces.
func (p *Processor) Options() Options {
	return p.opts
}

// Process decodes raw image bytes, scales them to fit the bounding box and
// encodes JPEG at decreasing quality until the size limit is met.
// EXIF orientation is applied before scaling.
func (p *Processor) Process(raw []byte) (*Blob, error) {
	cfg, format, err := image.DecodeConfig(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedImage, err)
	}
	if err := p.checkDimensions(cfg.Width, cfg.Height); err != nil {
		return nil, err
	}

	src, err := imaging.Decode(bytes.NewReader(raw), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedImage, err)
	}

	img := p.fit(src)
	bounds := img.Bounds()

	quality := maxQuality
	data, err := encodeJPEG(img, quality)
	if err != nil {
		return nil, err
	}
	for len(data) > p.opts.MaxBytes && quality > qualityFloor {
		quality -= qualityStep
		if data, err = encodeJPEG(img, quality); err != nil {
			return nil, err
		}
	}

	if len(data) > p.opts.MaxBytes {
		if p.opts.Strict {
			return nil, fmt.Errorf("%w: %d bytes at minimum quality exceeds limit of %d bytes", ErrImageTooLarge, len(data), p.opts.MaxBytes)
		}
		log.Warn().
			Int("bytes", len(data)).
			Int("limit", p.opts.MaxBytes).
			Msg("image still over size limit at minimum quality")
	}

	log.Debug().
		Str("format", format).
		Int("srcWidth", src.Bounds().Dx()).
		Int("srcHeight", src.Bounds().Dy()).
		Int("width", bounds.Dx()).
		Int("height", bounds.Dy()).
		Int("quality", quality).
		Int("bytes", len(data)).
		Msg("processed image")

	return &Blob{
		Data:    data,
		Width:   bounds.Dx(),
		Height:  bounds.Dy(),
		Quality: quality,
	}, nil
}

func (p *Processor) checkDimensions(w, h int) error {
	if w <= 0 || h <= 0 {
		return fmt.Errorf("%w: %dx%d", ErrUnsupportedImage, w, h)
	}
	if int64(w)*int64(h) > int64(p.opts.MaxSourcePixels) {
		return fmt.Errorf("%w: %dx%d exceeds %d pixels", ErrImageDimensions, w, h, p.opts.MaxSourcePixels)
	}
	return nil
}

// fit scales src to fit within the bounding box, preserving aspect ratio.
// Images already inside the box are returned unchanged.
func (p *Processor) fit(src image.Image) image.Image {
	w, h := FitSize(src.Bounds().Dx(), src.Bounds().Dy(), p.opts.MaxWidth, p.opts.MaxHeight)
	if w == src.Bounds().Dx() && h == src.Bounds().Dy() {
		return src
	}
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Src, nil)
	return dst
}

// FitSize returns the dimensions of a w x h image scaled by
// min(maxW/w, maxH/h), never enlarging and never below 1px.
func FitSize(w, h, maxW, maxH int) (int, int) {
	if w <= 0 || h <= 0 {
		return w, h
	}
	scale := min(float64(maxW)/float64(w), float64(maxH)/float64(h))
	if scale >= 1 {
		return w, h
	}
	nw := min(maxW, max(1, int(math.Round(float64(w)*scale))))
	nh := min(maxH, max(1, int(math.Round(float64(h)*scale))))
	return nw, nh
}

func encodeJPEG(img image.Image, quality int) ([]byte, error) {
	var buf bytes.Buffer
	// The encoder clamps quality below 1 to 1.
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, fmt.Errorf("failed to encode jpeg: %w", err)
	}
	return buf.Bytes(), nil
}
