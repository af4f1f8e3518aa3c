// Package transducer describes the geometry of a phased-array transducer.
package transducer

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/spatial/r3"
)

// Element is one radiating unit. Position is in mm relative to the natural
// focus; Normal is a unit vector along the element's firing direction.
type Element struct {
	Index    int
	Position r3.Vec
	Normal   r3.Vec
	Area     float64
	Active   bool
}

// Array is a fixed set of elements. The count never changes after
// construction; only the active flags are editable.
type Array struct {
	elements []Element
}

// New validates elements and takes ownership of a copy. Indices are
// reassigned to match slice order.
func New(elements []Element) (*Array, error) {
	if len(elements) == 0 {
		return nil, fmt.Errorf("transducer: no elements")
	}
	out := make([]Element, len(elements))
	for i, e := range elements {
		n := r3.Norm(e.Normal)
		if n == 0 || math.IsNaN(n) {
			return nil, fmt.Errorf("transducer: element %d has no normal", i)
		}
		if e.Area < 0 {
			return nil, fmt.Errorf("transducer: element %d has negative area", i)
		}
		e.Index = i
		e.Normal = r3.Scale(1/n, e.Normal)
		out[i] = e
	}
	return &Array{elements: out}, nil
}

// Len returns the element count.
func (a *Array) Len() int { return len(a.elements) }

// Element returns a copy of element i.
func (a *Array) Element(i int) Element { return a.elements[i] }

// Elements returns a copy of every element.
func (a *Array) Elements() []Element {
	return append([]Element(nil), a.elements...)
}

// ActiveCount returns the number of elements flagged active.
func (a *Array) ActiveCount() int {
	n := 0
	for _, e := range a.elements {
		if e.Active {
			n++
		}
	}
	return n
}

// SetActive toggles element i and reports whether the flag changed.
func (a *Array) SetActive(i int, active bool) (bool, error) {
	if i < 0 || i >= len(a.elements) {
		return false, fmt.Errorf("transducer: element %d out of range [0,%d)", i, len(a.elements))
	}
	if a.elements[i].Active == active {
		return false, nil
	}
	a.elements[i].Active = active
	return true, nil
}

// Tilted returns the elements rotated about the natural focus, first by
// tiltX degrees around the x axis, then by tiltY degrees around y.
func (a *Array) Tilted(tiltXDeg, tiltYDeg float64) []Element {
	out := a.Elements()
	if tiltXDeg == 0 && tiltYDeg == 0 {
		return out
	}
	ax := tiltXDeg * math.Pi / 180
	ay := tiltYDeg * math.Pi / 180
	xAxis := r3.Vec{X: 1}
	yAxis := r3.Vec{Y: 1}
	for i := range out {
		p, n := out[i].Position, out[i].Normal
		p, n = r3.Rotate(p, ax, xAxis), r3.Rotate(n, ax, xAxis)
		p, n = r3.Rotate(p, ay, yAxis), r3.Rotate(n, ay, yAxis)
		out[i].Position, out[i].Normal = p, n
	}
	return out
}
