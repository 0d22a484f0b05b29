package imageproc

import (
	"bytes"
	"encoding/binary"
	"errors"
	"hash/crc32"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func solidPNG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: 240, G: 180, B: 190, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

// noiseImage is incompressible enough that JPEG size tracks quality closely.
func noiseImage(w, h int) *image.RGBA {
	r := rand.New(rand.NewSource(42))
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for i := range img.Pix {
		if i%4 == 3 {
			img.Pix[i] = 255
			continue
		}
		img.Pix[i] = byte(r.Intn(256))
	}
	return img
}

func encodePNG(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestFitSize(t *testing.T) {
	tests := []struct {
		name         string
		w, h         int
		wantW, wantH int
	}{
		{"exact 2x landscape", 2560, 1440, 1280, 720},
		{"portrait bounded by height", 1000, 2000, 360, 720},
		{"wide bounded by width", 4000, 1000, 1280, 320},
		{"already inside box", 100, 50, 100, 50},
		{"exactly the box", 1280, 720, 1280, 720},
		{"extreme strip keeps 1px", 100000, 10, 1280, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, h := FitSize(tt.w, tt.h, 1280, 720)
			assert.Equal(t, tt.wantW, w)
			assert.Equal(t, tt.wantH, h)
		})
	}
}

func TestProcess_ScalesDownLargeImage(t *testing.T) {
	p := NewProcessor(DefaultOptions())

	blob, err := p.Process(solidPNG(t, 2560, 1440))
	require.NoError(t, err)

	assert.Equal(t, 1280, blob.Width)
	assert.Equal(t, 720, blob.Height)
	assert.LessOrEqual(t, len(blob.Data), DefaultMaxBytes)
	assert.Equal(t, 100, blob.Quality)

	cfg, err := jpeg.DecodeConfig(bytes.NewReader(blob.Data))
	require.NoError(t, err)
	assert.Equal(t, 1280, cfg.Width)
	assert.Equal(t, 720, cfg.Height)
}

func TestProcess_DoesNotEnlargeSmallImage(t *testing.T) {
	p := NewProcessor(DefaultOptions())

	blob, err := p.Process(solidPNG(t, 64, 48))
	require.NoError(t, err)

	assert.Equal(t, 64, blob.Width)
	assert.Equal(t, 48, blob.Height)
}

func TestProcess_ReducesQualityUntilUnderLimit(t *testing.T) {
	img := noiseImage(320, 240)
	var full bytes.Buffer
	require.NoError(t, jpeg.Encode(&full, img, &jpeg.Options{Quality: 100}))

	limit := full.Len() - 1
	p := NewProcessor(Options{MaxBytes: limit, Strict: true})

	blob, err := p.Process(encodePNG(t, img))
	require.NoError(t, err)

	assert.Less(t, blob.Quality, 100)
	assert.LessOrEqual(t, len(blob.Data), limit)
}

func TestProcess_LoopTerminatesAtFloor(t *testing.T) {
	raw := encodePNG(t, noiseImage(64, 64))

	t.Run("lenient returns best effort", func(t *testing.T) {
		p := NewProcessor(Options{MaxBytes: 1, Strict: false})
		blob, err := p.Process(raw)
		require.NoError(t, err)
		assert.Equal(t, 0, blob.Quality)
		assert.NotEmpty(t, blob.Data)
	})

	t.Run("strict fails explicitly", func(t *testing.T) {
		p := NewProcessor(Options{MaxBytes: 1, Strict: true})
		_, err := p.Process(raw)
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrImageTooLarge))
	})
}

func TestProcess_SizeBoundOrFloor(t *testing.T) {
	// For every input the result is either within the limit or was
	// produced at the quality floor.
	sizes := [][2]int{{16, 16}, {320, 200}, {1500, 900}, {900, 1500}}
	limits := []int{1, 2_000, 50_000, DefaultMaxBytes}

	for _, sz := range sizes {
		raw := encodePNG(t, noiseImage(sz[0], sz[1]))
		for _, limit := range limits {
			p := NewProcessor(Options{MaxBytes: limit, Strict: false})
			blob, err := p.Process(raw)
			require.NoError(t, err)
			if len(blob.Data) > limit {
				assert.Equal(t, 0, blob.Quality, "size %v limit %d", sz, limit)
			}
			assert.LessOrEqual(t, blob.Width, DefaultMaxWidth)
			assert.LessOrEqual(t, blob.Height, DefaultMaxHeight)
		}
	}
}

func TestProcess_RejectsGarbage(t *testing.T) {
	p := NewProcessor(DefaultOptions())

	_, err := p.Process([]byte("definitely not an image"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnsupportedImage))
}

func TestNewProcessor_ZeroOptionsUseDefaults(t *testing.T) {
	p := NewProcessor(Options{})
	opts := p.Options()
	assert.Equal(t, DefaultMaxWidth, opts.MaxWidth)
	assert.Equal(t, DefaultMaxHeight, opts.MaxHeight)
	assert.Equal(t, DefaultMaxBytes, opts.MaxBytes)
	assert.Equal(t, DefaultMaxSourcePixels, opts.MaxSourcePixels)
	assert.False(t, opts.Strict)
}

// pngWithHeader returns a grayscale PNG signature and IHDR chunk declaring
// w x h. Nothing past the header is needed to reject it.
func pngWithHeader(w, h uint32) []byte {
	ihdr := make([]byte, 0, 17)
	ihdr = append(ihdr, "IHDR"...)
	ihdr = binary.BigEndian.AppendUint32(ihdr, w)
	ihdr = binary.BigEndian.AppendUint32(ihdr, h)
	ihdr = append(ihdr, 8, 0, 0, 0, 0) // depth 8, gray, deflate, no filter, no interlace

	var buf bytes.Buffer
	buf.WriteString("\x89PNG\r\n\x1a\n")
	binary.Write(&buf, binary.BigEndian, uint32(len(ihdr)-4))
	buf.Write(ihdr)
	binary.Write(&buf, binary.BigEndian, crc32.ChecksumIEEE(ihdr))
	return buf.Bytes()
}

func TestProcess_RejectsHugeDeclaredDimensions(t *testing.T) {
	p := NewProcessor(DefaultOptions())

	_, err := p.Process(pngWithHeader(20000, 20000))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrImageDimensions)
	assert.NotErrorIs(t, err, ErrUnsupportedImage)
	assert.Contains(t, err.Error(), "20000x20000")
}

func TestProcess_PixelBudgetIsConfigurable(t *testing.T) {
	img := solidPNG(t, 20, 20)

	_, err := NewProcessor(Options{MaxSourcePixels: 399}).Process(img)
	assert.ErrorIs(t, err, ErrImageDimensions)

	blob, err := NewProcessor(Options{MaxSourcePixels: 400}).Process(img)
	require.NoError(t, err)
	assert.Equal(t, 20, blob.Width)
}

// withOrientation inserts an EXIF APP1 segment carrying only the
// orientation tag right after the JPEG SOI marker.
func withOrientation(t *testing.T, jpg []byte, orientation uint16) []byte {
	t.Helper()
	require.True(t, bytes.HasPrefix(jpg, []byte{0xFF, 0xD8}))

	var exif bytes.Buffer
	exif.WriteString("Exif\x00\x00")
	exif.WriteString("MM\x00\x2a")                        // big-endian TIFF header
	binary.Write(&exif, binary.BigEndian, uint32(8))      // offset of IFD0
	binary.Write(&exif, binary.BigEndian, uint16(1))      // one entry
	binary.Write(&exif, binary.BigEndian, uint16(0x0112)) // Orientation
	binary.Write(&exif, binary.BigEndian, uint16(3))      // SHORT
	binary.Write(&exif, binary.BigEndian, uint32(1))      // count
	binary.Write(&exif, binary.BigEndian, orientation)    // value
	binary.Write(&exif, binary.BigEndian, uint16(0))      // padding
	binary.Write(&exif, binary.BigEndian, uint32(0))      // no next IFD

	var out bytes.Buffer
	out.Write(jpg[:2])
	out.Write([]byte{0xFF, 0xE1})
	binary.Write(&out, binary.BigEndian, uint16(exif.Len()+2))
	out.Write(exif.Bytes())
	out.Write(jpg[2:])
	return out.Bytes()
}

func TestProcess_AppliesExifOrientation(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 40, 20)), nil))
	p := NewProcessor(DefaultOptions())

	upright, err := p.Process(buf.Bytes())
	require.NoError(t, err)
	assert.Equal(t, 40, upright.Width)
	assert.Equal(t, 20, upright.Height)

	// 6 = rotate 90 degrees clockwise to display.
	rotated, err := p.Process(withOrientation(t, buf.Bytes(), 6))
	require.NoError(t, err)
	assert.Equal(t, 20, rotated.Width)
	assert.Equal(t, 40, rotated.Height)
}
