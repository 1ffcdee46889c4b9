package rda

import "fmt"

// Shape2d is a (rows, cols) extent in pixels, i.e., (y, x).
type Shape2d [2]int

// Square returns the shape (n, n).
func Square(n int) Shape2d {
	return Shape2d{n, n}
}

func (s Shape2d) Rows() int { return s[0] }
func (s Shape2d) Cols() int { return s[1] }

func (s Shape2d) String() string {
	return fmt.Sprintf("(%d, %d)", s[0], s[1])
}

// ParseShape2d resolves a shape argument given as an int (shorthand for a square),
// a two element int slice or array, or a Shape2d.  Every component must be positive.
func ParseShape2d(name string, v interface{}) (Shape2d, error) {
	var s Shape2d
	switch t := v.(type) {
	case int:
		s = Square(t)
	case int32:
		s = Square(int(t))
	case int64:
		s = Square(int(t))
	case Shape2d:
		s = t
	case [2]int:
		s = Shape2d(t)
	case []int:
		if len(t) != 2 {
			return s, &ShapeError{Name: name, Value: v, Reason: "expected two components"}
		}
		s = Shape2d{t[0], t[1]}
	default:
		return s, &ShapeError{Name: name, Value: v, Reason: fmt.Sprintf("unsupported type %T", v)}
	}
	if s[0] <= 0 || s[1] <= 0 {
		return s, &ShapeError{Name: name, Value: v, Reason: "components must be positive"}
	}
	return s, nil
}

// PixelWindow is a rectangle in pixel space.  The max side is exclusive: the window
// covers columns MinX..MaxX-1 and rows MinY..MaxY-1.
type PixelWindow struct {
	MinX, MinY, MaxX, MaxY int
}

// Window returns the window for an origin and a (rows, cols) size.
func Window(x, y int, size Shape2d) PixelWindow {
	return PixelWindow{x, y, x + size.Cols(), y + size.Rows()}
}

func (w PixelWindow) Width() int  { return w.MaxX - w.MinX }
func (w PixelWindow) Height() int { return w.MaxY - w.MinY }

// Size returns the (rows, cols) extent of the window.
func (w PixelWindow) Size() Shape2d {
	return Shape2d{w.Height(), w.Width()}
}

// Empty is true if the window covers no pixels.
func (w PixelWindow) Empty() bool {
	return w.MaxX <= w.MinX || w.MaxY <= w.MinY
}

// Intersect returns the overlap of two windows, which may be empty.
func (w PixelWindow) Intersect(o PixelWindow) PixelWindow {
	r := PixelWindow{
		MinX: max(w.MinX, o.MinX),
		MinY: max(w.MinY, o.MinY),
		MaxX: min(w.MaxX, o.MaxX),
		MaxY: min(w.MaxY, o.MaxY),
	}
	if r.Empty() {
		return PixelWindow{}
	}
	return r
}

// Translate shifts the window by (dx, dy).
func (w PixelWindow) Translate(dx, dy int) PixelWindow {
	return PixelWindow{w.MinX + dx, w.MinY + dy, w.MaxX + dx, w.MaxY + dy}
}

func (w PixelWindow) String() string {
	return fmt.Sprintf("[%d, %d, %d, %d]", w.MinX, w.MinY, w.MaxX, w.MaxY)
}

// ValidatePixelBox checks that a window starts inside an image of the given
// (rows, cols) shape and is not degenerate.  The far side may extend past the image;
// callers pad the missing part.
func ValidatePixelBox(w PixelWindow, shape Shape2d) error {
	if w.MinX < 0 || w.MinX >= shape.Cols() {
		return &ShapeError{Name: "pixel box", Value: w, Reason: fmt.Sprintf("minx outside [0, %d)", shape.Cols())}
	}
	if w.MinY < 0 || w.MinY >= shape.Rows() {
		return &ShapeError{Name: "pixel box", Value: w, Reason: fmt.Sprintf("miny outside [0, %d)", shape.Rows())}
	}
	if w.MinX >= w.MaxX || w.MinY >= w.MaxY {
		return &ShapeError{Name: "pixel box", Value: w, Reason: "min must be less than max"}
	}
	return nil
}
