package rda

import "fmt"

// Array is a band-major raster of shape (Bands, Height, Width).  Values are stored
// little-endian in Data, one band plane after another.
type Array struct {
	Bands  int
	Height int
	Width  int
	Type   DataType
	Data   []byte
}

// NewArray allocates a zeroed array.
func NewArray(bands, height, width int, t DataType) *Array {
	return &Array{
		Bands:  bands,
		Height: height,
		Width:  width,
		Type:   t,
		Data:   make([]byte, bands*height*width*t.Bytes()),
	}
}

// Shape returns (bands, height, width).
func (a *Array) Shape() [3]int {
	return [3]int{a.Bands, a.Height, a.Width}
}

// Size2d returns the (rows, cols) extent of one band.
func (a *Array) Size2d() Shape2d {
	return Shape2d{a.Height, a.Width}
}

func (a *Array) String() string {
	return fmt.Sprintf("%s array (%d, %d, %d)", a.Type, a.Bands, a.Height, a.Width)
}

// Verify checks that the data length matches the shape.
func (a *Array) Verify() error {
	if a == nil {
		return fmt.Errorf("nil array")
	}
	if !a.Type.Valid() {
		return fmt.Errorf("array has unknown data type %d", uint8(a.Type))
	}
	want := a.Bands * a.Height * a.Width * a.Type.Bytes()
	if len(a.Data) != want {
		return fmt.Errorf("%s holds %d bytes, expected %d", a, len(a.Data), want)
	}
	return nil
}

func (a *Array) rowBytes() int {
	return a.Width * a.Type.Bytes()
}

func (a *Array) offset(band, y, x int) int {
	vb := a.Type.Bytes()
	return ((band*a.Height+y)*a.Width + x) * vb
}

// Row returns the bytes of row y in the given band.  The slice aliases Data.
func (a *Array) Row(band, y int) []byte {
	i := a.offset(band, y, 0)
	return a.Data[i : i+a.rowBytes()]
}

// Value returns the pixel value at (band, y, x) converted to float64.
func (a *Array) Value(band, y, x int) float64 {
	i := a.offset(band, y, x)
	return getValue(a.Type, a.Data[i:])
}

// SetValue stores v at (band, y, x), saturating integer types.
func (a *Array) SetValue(band, y, x int, v float64) {
	i := a.offset(band, y, x)
	putValue(a.Type, a.Data[i:], v)
}

// Fill sets every pixel of a band to v.  Use band < 0 for all bands.
func (a *Array) Fill(band int, v float64) {
	vb := a.Type.Bytes()
	pixel := make([]byte, vb)
	putValue(a.Type, pixel, v)
	lo, hi := 0, a.Bands
	if band >= 0 {
		lo, hi = band, band+1
	}
	for b := lo; b < hi; b++ {
		start := a.offset(b, 0, 0)
		end := start + a.Height*a.rowBytes()
		for i := start; i < end; i += vb {
			copy(a.Data[i:i+vb], pixel)
		}
	}
}

// Clone returns a deep copy.  Arrays held by a cache must be cloned before
// being modified.
func (a *Array) Clone() *Array {
	out := *a
	out.Data = make([]byte, len(a.Data))
	copy(out.Data, a.Data)
	return &out
}

// Bounds returns the window covering the whole array.
func (a *Array) Bounds() PixelWindow {
	return PixelWindow{0, 0, a.Width, a.Height}
}

// Subarray copies the pixels within win into a new array.  The window must lie
// within the array bounds.
func (a *Array) Subarray(win PixelWindow) (*Array, error) {
	if win.Empty() || win.Intersect(a.Bounds()) != win {
		return nil, &ShapeError{Name: "window", Value: win, Reason: fmt.Sprintf("not within %s", a.Bounds())}
	}
	out := NewArray(a.Bands, win.Height(), win.Width(), a.Type)
	out.Paste(a, win, 0, 0)
	return out, nil
}

// Paste copies the src pixels within srcWin into a, with the upper left corner of
// srcWin landing at (dstX, dstY).  Portions falling outside either array are
// clipped.  Both arrays must have the same data type and band count.
func (a *Array) Paste(src *Array, srcWin PixelWindow, dstX, dstY int) {
	srcWin = srcWin.Intersect(src.Bounds())
	if srcWin.Empty() {
		return
	}
	// Clip against destination.
	dstWin := PixelWindow{dstX, dstY, dstX + srcWin.Width(), dstY + srcWin.Height()}
	clipped := dstWin.Intersect(a.Bounds())
	if clipped.Empty() {
		return
	}
	srcWin.MinX += clipped.MinX - dstWin.MinX
	srcWin.MinY += clipped.MinY - dstWin.MinY
	vb := a.Type.Bytes()
	n := clipped.Width() * vb
	bands := min(a.Bands, src.Bands)
	for b := 0; b < bands; b++ {
		for y := 0; y < clipped.Height(); y++ {
			si := src.offset(b, srcWin.MinY+y, srcWin.MinX)
			di := a.offset(b, clipped.MinY+y, clipped.MinX)
			copy(a.Data[di:di+n], src.Data[si:si+n])
		}
	}
}

// SameLayout is true if both arrays have identical band count and data type.
func (a *Array) SameLayout(o *Array) bool {
	return a.Bands == o.Bands && a.Type == o.Type
}
