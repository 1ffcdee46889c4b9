package rda

import "fmt"

// PadWidth is the number of pixels added (positive) or removed (negative) before
// and after an axis.
type PadWidth [2]int

// PadWidths holds one PadWidth for each of the band, row, and column axes.
type PadWidths [3]PadWidth

func (p PadWidths) minmax() (lo, hi int) {
	lo, hi = p[0][0], p[0][0]
	for _, w := range p {
		for _, v := range w {
			lo = min(lo, v)
			hi = max(hi, v)
		}
	}
	return
}

// Pad grows or shrinks an array.  All widths non-negative pads with zeros, all
// widths non-positive crops, and mixing both signs is an error.
func Pad(a *Array, widths PadWidths) (*Array, error) {
	lo, hi := widths.minmax()
	switch {
	case lo >= 0:
		return padArray(a, widths), nil
	case hi <= 0:
		return cutArray(a, widths)
	default:
		return nil, &ShapeError{Name: "pad widths", Value: widths, Reason: "cannot pad and cut at the same time"}
	}
}

// PadTransform pads or crops an array like Pad and shifts the affine transform so
// pixels keep their world coordinates.
func PadTransform(a *Array, t Affine, widths PadWidths) (*Array, Affine, error) {
	out, err := Pad(a, widths)
	if err != nil {
		return nil, t, err
	}
	padY := float64(widths[1][0])
	padX := float64(widths[2][0])
	t.C -= padX * t.A
	t.F -= padY * t.E
	return out, t, nil
}

func padArray(a *Array, w PadWidths) *Array {
	out := NewArray(a.Bands+w[0][0]+w[0][1], a.Height+w[1][0]+w[1][1], a.Width+w[2][0]+w[2][1], a.Type)
	vb := a.Type.Bytes()
	for b := 0; b < a.Bands; b++ {
		for y := 0; y < a.Height; y++ {
			di := out.offset(b+w[0][0], y+w[1][0], w[2][0])
			copy(out.Data[di:di+a.Width*vb], a.Row(b, y))
		}
	}
	return out
}

func cutArray(a *Array, w PadWidths) (*Array, error) {
	b0, b1 := -w[0][0], a.Bands+w[0][1]
	y0, y1 := -w[1][0], a.Height+w[1][1]
	x0, x1 := -w[2][0], a.Width+w[2][1]
	if b0 >= b1 || y0 >= y1 || x0 >= x1 {
		return nil, &ShapeError{Name: "pad widths", Value: w, Reason: fmt.Sprintf("cut removes all of %s", a)}
	}
	out := NewArray(b1-b0, y1-y0, x1-x0, a.Type)
	vb := a.Type.Bytes()
	for b := b0; b < b1; b++ {
		for y := y0; y < y1; y++ {
			si := a.offset(b, y, x0)
			di := out.offset(b-b0, y-y0, 0)
			copy(out.Data[di:di+out.Width*vb], a.Data[si:si+out.Width*vb])
		}
	}
	return out, nil
}

// PadTo pads the far side of an array with fill so it reaches the given (rows, cols)
// size.  Arrays already at least that large are returned unchanged.
func PadTo(a *Array, size Shape2d, fill float64) *Array {
	padY := size.Rows() - a.Height
	padX := size.Cols() - a.Width
	if padY <= 0 && padX <= 0 {
		return a
	}
	out := NewArray(a.Bands, max(a.Height, size.Rows()), max(a.Width, size.Cols()), a.Type)
	if fill != 0 {
		out.Fill(-1, fill)
	}
	out.Paste(a, a.Bounds(), 0, 0)
	return out
}
