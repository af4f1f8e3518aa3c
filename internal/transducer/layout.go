package transducer

import (
	"bufio"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/spatial/r3"
)

var goldenAngle = math.Pi * (3 - math.Sqrt(5))

// Hemisphere spreads n active elements over a spherical cap of the given
// radius and full aperture angle, opening toward -z with the natural focus at
// the origin. Elements follow a Fibonacci spiral so density is uniform.
func Hemisphere(n int, radiusMm, apertureDeg, areaMm2 float64) (*Array, error) {
	if n < 1 {
		return nil, fmt.Errorf("transducer: element count %d", n)
	}
	if radiusMm <= 0 || apertureDeg <= 0 || apertureDeg > 360 {
		return nil, fmt.Errorf("transducer: bad cap radius %.1f or aperture %.1f", radiusMm, apertureDeg)
	}
	cosMax := math.Cos(apertureDeg / 2 * math.Pi / 180)
	elements := make([]Element, n)
	for k := range elements {
		cosTheta := 1 - (float64(k)+0.5)/float64(n)*(1-cosMax)
		sinTheta := math.Sqrt(1 - cosTheta*cosTheta)
		phi := float64(k) * goldenAngle
		dir := r3.Vec{X: sinTheta * math.Cos(phi), Y: sinTheta * math.Sin(phi), Z: cosTheta}
		elements[k] = Element{
			Position: r3.Scale(radiusMm, dir),
			Normal:   r3.Scale(-1, dir),
			Area:     areaMm2,
			Active:   true,
		}
	}
	return New(elements)
}

// Load reads a definition file with one element per line:
//
//	index x y z nx ny nz area [active]
//
// Blank lines and lines starting with # are skipped. active defaults to 1.
func Load(path string) (*Array, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("transducer: open %s: %w", path, err)
	}
	defer f.Close()
	arr, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("transducer: %s: %w", path, err)
	}
	return arr, nil
}

// Parse reads the Load format from r.
func Parse(r io.Reader) (*Array, error) {
	var elements []Element
	sc := bufio.NewScanner(r)
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		fields := strings.Fields(text)
		if len(fields) < 8 {
			return nil, fmt.Errorf("line %d: want at least 8 fields, got %d", line, len(fields))
		}
		var v [7]float64
		for i := range v {
			x, err := strconv.ParseFloat(fields[i+1], 64)
			if err != nil {
				return nil, fmt.Errorf("line %d: field %d: %w", line, i+2, err)
			}
			v[i] = x
		}
		active := true
		if len(fields) > 8 {
			flag, err := strconv.Atoi(fields[8])
			if err != nil {
				return nil, fmt.Errorf("line %d: active flag: %w", line, err)
			}
			active = flag != 0
		}
		elements = append(elements, Element{
			Position: r3.Vec{X: v[0], Y: v[1], Z: v[2]},
			Normal:   r3.Vec{X: v[3], Y: v[4], Z: v[5]},
			Area:     v[6],
			Active:   active,
		})
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return New(elements)
}
