package skull

import (
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/ftrvxmtrx/tga"
	"golang.org/x/image/tiff"
)

// LoadSliceStack builds a Volume from one image per axial slice. Files are
// ordered by name; slice k sits at Origin + k*Spacing.Z along the orientation's
// z axis. Gray levels (16-bit where the format allows) are the raw values that
// slope and intercept map to HU.
func LoadSliceStack(paths []string, geom Geometry, slope, intercept float64) (*Volume, error) {
	if len(paths) < 2 {
		return nil, fmt.Errorf("slice stack: need at least 2 slices, got %d", len(paths))
	}
	sorted := append([]string(nil), paths...)
	sort.Strings(sorted)

	var (
		raw    []float32
		width  int
		height int
	)
	for k, path := range sorted {
		img, err := decodeSlice(path)
		if err != nil {
			return nil, err
		}
		b := img.Bounds()
		if k == 0 {
			width, height = b.Dx(), b.Dy()
			raw = make([]float32, 0, width*height*len(sorted))
		} else if b.Dx() != width || b.Dy() != height {
			return nil, fmt.Errorf("slice stack: %s is %dx%d, expected %dx%d", path, b.Dx(), b.Dy(), width, height)
		}
		for y := b.Min.Y; y < b.Max.Y; y++ {
			for x := b.Min.X; x < b.Max.X; x++ {
				g := color.Gray16Model.Convert(img.At(x, y)).(color.Gray16)
				raw = append(raw, float32(g.Y))
			}
		}
	}
	return NewVolume([3]int{width, height, len(sorted)}, raw, geom, slope, intercept)
}

// GlobSlices expands pattern into a sorted slice list.
func GlobSlices(pattern string) ([]string, error) {
	paths, err := filepath.Glob(pattern)
	if err != nil {
		return nil, fmt.Errorf("slice stack: bad pattern %q: %w", pattern, err)
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("slice stack: no files match %q", pattern)
	}
	sort.Strings(paths)
	return paths, nil
}

// decodeSlice picks the decoder from the file extension. TGA has no magic
// number, so image.Decode cannot tell it apart from other formats.
func decodeSlice(path string) (image.Image, error) {
	var decode func(io.Reader) (image.Image, error)
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".png":
		decode = png.Decode
	case ".tif", ".tiff":
		decode = tiff.Decode
	case ".tga":
		decode = tga.Decode
	default:
		return nil, fmt.Errorf("slice stack: %s: unsupported extension %q", path, ext)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("slice stack: open %s: %w", path, err)
	}
	defer f.Close()
	img, err := decode(f)
	if err != nil {
		return nil, fmt.Errorf("slice stack: decode %s: %w", path, err)
	}
	return img, nil
}
