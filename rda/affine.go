package rda

import (
	"fmt"
	"math"
)

// Affine maps pixel (col, row) to world coordinates:
//
//	x = A*col + B*row + C
//	y = D*col + E*row + F
type Affine struct {
	A, B, C float64
	D, E, F float64
}

// Identity is the affine transform that maps pixels to themselves.
var Identity = Affine{A: 1, E: 1}

// AffineFromGDAL builds a transform from GDAL geotransform ordering
// (translateX, scaleX, shearX, translateY, shearY, scaleY).
func AffineFromGDAL(c, a, b, f, d, e float64) Affine {
	return Affine{A: a, B: b, C: c, D: d, E: e, F: f}
}

// Apply maps pixel coordinates to world coordinates.
func (t Affine) Apply(col, row float64) (x, y float64) {
	return t.A*col + t.B*row + t.C, t.D*col + t.E*row + t.F
}

// Invert returns the transform from world to pixel coordinates.
func (t Affine) Invert() (Affine, error) {
	det := t.A*t.E - t.B*t.D
	if math.Abs(det) < 1e-15 {
		return Affine{}, fmt.Errorf("affine transform %v is not invertible", t)
	}
	ia := t.E / det
	ib := -t.B / det
	id := -t.D / det
	ie := t.A / det
	return Affine{
		A: ia, B: ib, C: -ia*t.C - ib*t.F,
		D: id, E: ie, F: -id*t.C - ie*t.F,
	}, nil
}

// Reverse maps world coordinates to the nearest pixel.
func (t Affine) Reverse(x, y float64) (col, row int, err error) {
	inv, err := t.Invert()
	if err != nil {
		return 0, 0, err
	}
	fc, fr := inv.Apply(x, y)
	return int(math.Round(fc)), int(math.Round(fr)), nil
}

// Translate returns the transform whose pixel (0, 0) is pixel (dx, dy) of t.
func (t Affine) Translate(dx, dy float64) Affine {
	out := t
	out.C = t.A*dx + t.B*dy + t.C
	out.F = t.D*dx + t.E*dy + t.F
	return out
}

// GDAL returns the transform in GDAL geotransform ordering.
func (t Affine) GDAL() [6]float64 {
	return [6]float64{t.C, t.A, t.B, t.F, t.D, t.E}
}

func (t Affine) String() string {
	return fmt.Sprintf("|%g, %g, %g|%g, %g, %g|", t.A, t.B, t.C, t.D, t.E, t.F)
}
