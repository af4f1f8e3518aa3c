// Package envelope turns a raw oscillating pressure field into a displayable
// magnitude envelope with a spiral-phase quadrature transform.
package envelope

import (
	"errors"
	"fmt"
	"math"
	"math/cmplx"

	"gonum.org/v1/gonum/dsp/fourier"
)

// Envelope is a demodulated field normalised to [0,1]. Values are indexed
// (k*ny+j)*nx+i. Min and Max are the extremes before normalisation.
type Envelope struct {
	Dims     [3]int
	Values   []float64
	Min, Max float64
}

// Empty reports whether the envelope holds no samples.
func (e Envelope) Empty() bool { return len(e.Values) == 0 }

// At returns the normalised value at (i, j, k).
func (e Envelope) At(i, j, k int) float64 {
	return e.Values[(k*e.Dims[1]+j)*e.Dims[0]+i]
}

// Transform2D runs an in-place 2D FFT over data laid out row-major with cols
// values per row: a pass over every row, then over every column. The inverse
// divides each pass by its length. Any sizes are accepted.
func Transform2D(data []complex128, rows, cols int, inverse bool) error {
	if rows < 1 || cols < 1 || len(data) != rows*cols {
		return fmt.Errorf("envelope: %d samples for %dx%d", len(data), rows, cols)
	}
	rowFFT := fourier.NewCmplxFFT(cols)
	buf := make([]complex128, cols)
	for r := 0; r < rows; r++ {
		line := data[r*cols : (r+1)*cols]
		pass(rowFFT, buf, line, inverse)
		copy(line, buf)
	}

	colFFT := fourier.NewCmplxFFT(rows)
	line := make([]complex128, rows)
	buf = make([]complex128, rows)
	for c := 0; c < cols; c++ {
		for r := 0; r < rows; r++ {
			line[r] = data[r*cols+c]
		}
		pass(colFFT, buf, line, inverse)
		for r := 0; r < rows; r++ {
			data[r*cols+c] = buf[r]
		}
	}
	return nil
}

func pass(fft *fourier.CmplxFFT, dst, src []complex128, inverse bool) {
	if !inverse {
		fft.Coefficients(dst, src)
		return
	}
	fft.Sequence(dst, src)
	scale := complex(1/float64(len(src)), 0)
	for i := range dst {
		dst[i] *= scale
	}
}

// signedIndex re-centres a frequency index so the upper half is negative.
func signedIndex(i, n int) float64 {
	if i >= (n+1)/2 {
		return float64(i - n)
	}
	return float64(i)
}

// spiralMask multiplies every coefficient by (dx/r, dy/r); DC becomes zero.
func spiralMask(coeff []complex128, rows, cols int) {
	for r := 0; r < rows; r++ {
		dy := signedIndex(r, rows)
		for c := 0; c < cols; c++ {
			dx := signedIndex(c, cols)
			rad := math.Hypot(dx, dy)
			i := r*cols + c
			if rad == 0 {
				coeff[i] = 0
				continue
			}
			coeff[i] *= complex(dx/rad, dy/rad)
		}
	}
}

// Demodulate computes the envelope of field, which is laid out like
// Envelope.Values. Volumes are processed one z slice at a time; min and max
// are tracked over the whole volume. A constant result normalises to zeros.
func Demodulate(field []float32, dims [3]int) (Envelope, error) {
	nx, ny, nz := dims[0], dims[1], dims[2]
	if nx < 1 || ny < 1 || nz < 1 {
		return Envelope{}, fmt.Errorf("envelope: dimensions %v", dims)
	}
	if len(field) != nx*ny*nz {
		return Envelope{}, errors.New("envelope: field does not match dimensions")
	}
	env := Envelope{
		Dims:   dims,
		Values: make([]float64, len(field)),
		Min:    math.Inf(1),
		Max:    math.Inf(-1),
	}
	plane := nx * ny
	slice := make([]complex128, plane)
	for k := 0; k < nz; k++ {
		raw := field[k*plane : (k+1)*plane]
		for i, v := range raw {
			slice[i] = complex(float64(v), 0)
		}
		if err := Transform2D(slice, ny, nx, false); err != nil {
			return Envelope{}, err
		}
		spiralMask(slice, ny, nx)
		if err := Transform2D(slice, ny, nx, true); err != nil {
			return Envelope{}, err
		}
		out := env.Values[k*plane : (k+1)*plane]
		for i, v := range raw {
			m := math.Abs(float64(v)) + cmplx.Abs(slice[i])
			out[i] = m
			env.Min = math.Min(env.Min, m)
			env.Max = math.Max(env.Max, m)
		}
	}

	span := env.Max - env.Min
	for i, v := range env.Values {
		if span > 0 {
			env.Values[i] = (v - env.Min) / span
		} else {
			env.Values[i] = 0
		}
	}
	return env, nil
}
