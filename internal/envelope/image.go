package envelope

import (
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/HugoSmits86/nativewebp"
	"golang.org/x/image/draw"
)

// Heat maps v in [0,1] onto a black-red-yellow-white ramp.
func Heat(v float64) color.RGBA {
	if v < 0 {
		v = 0
	} else if v > 1 {
		v = 1
	}
	r := clamp8(v * 3 * 255)
	g := clamp8((v*3 - 1) * 255)
	b := clamp8((v*3 - 2) * 255)
	return color.RGBA{R: r, G: g, B: b, A: 255}
}

func clamp8(v float64) uint8 {
	if v <= 0 {
		return 0
	}
	if v >= 255 {
		return 255
	}
	return uint8(v + 0.5)
}

// Image renders z slice k of env with Heat, one pixel per sample and row j
// at y = ny-1-j so +y points up.
func Image(env Envelope, k int) (*image.RGBA, error) {
	if env.Empty() {
		return nil, fmt.Errorf("envelope: nothing to render")
	}
	nx, ny := env.Dims[0], env.Dims[1]
	if k < 0 || k >= env.Dims[2] {
		return nil, fmt.Errorf("envelope: slice %d out of range [0,%d)", k, env.Dims[2])
	}
	img := image.NewRGBA(image.Rect(0, 0, nx, ny))
	for j := 0; j < ny; j++ {
		for i := 0; i < nx; i++ {
			img.SetRGBA(i, ny-1-j, Heat(env.At(i, j, k)))
		}
	}
	return img, nil
}

// Scale resamples img to w x h with a Catmull-Rom filter.
func Scale(img image.Image, w, h int) *image.RGBA {
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, img.Bounds(), draw.Src, nil)
	return dst
}

// Encode writes img as "webp" or "png".
func Encode(w io.Writer, img image.Image, format string) error {
	switch strings.ToLower(format) {
	case "webp":
		if err := nativewebp.Encode(w, img, nil); err != nil {
			return fmt.Errorf("webp encode: %w", err)
		}
		return nil
	case "png":
		return png.Encode(w, img)
	}
	return fmt.Errorf("envelope: unsupported image format %q", format)
}

// WriteFile encodes img into path, picking the format from its extension.
func WriteFile(path string, img image.Image) (err error) {
	format := strings.TrimPrefix(filepath.Ext(path), ".")
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
	}()
	return Encode(f, img, format)
}
