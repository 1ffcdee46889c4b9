package patch

import (
	"fmt"
	"strings"

	"github.com/geogenius/rda/rda"
)

// MergeMethod decides which patch wins where patches overlap.
type MergeMethod string

const (
	// MergeFirst keeps pixels already written by an earlier row or column.
	MergeFirst MergeMethod = "first"
	// MergeLast lets each patch overwrite what is underneath it.
	MergeLast MergeMethod = "last"
)

// ParseMergeMethod accepts "first" or "last" in any case.
func ParseMergeMethod(s string) (MergeMethod, error) {
	switch m := MergeMethod(strings.ToLower(s)); m {
	case MergeFirst, MergeLast:
		return m, nil
	}
	return "", fmt.Errorf("%w: merge method %q is not one of first, last", rda.ErrUnsupportedMergeInput, s)
}

// Grid is a rows x cols index of patch arrays matching a SplitPlan.
type Grid struct {
	Rows  int
	Cols  int
	cells [][]*rda.Array
}

// NewGrid returns an empty grid.
func NewGrid(rows, cols int) *Grid {
	cells := make([][]*rda.Array, rows)
	for r := range cells {
		cells[r] = make([]*rda.Array, cols)
	}
	return &Grid{Rows: rows, Cols: cols, cells: cells}
}

// GridFor returns an empty grid shaped like a plan.
func GridFor(plan *SplitPlan) *Grid {
	rows, cols := plan.Grid()
	return NewGrid(rows, cols)
}

// Set stores the array of a cell.
func (g *Grid) Set(row, col int, a *rda.Array) {
	g.cells[row][col] = a
}

// At returns the array of a cell or nil if it was never set.
func (g *Grid) At(row, col int) *rda.Array {
	return g.cells[row][col]
}

// Missing lists the cells without an array.
func (g *Grid) Missing() [][2]int {
	var out [][2]int
	for r := 0; r < g.Rows; r++ {
		for c := 0; c < g.Cols; c++ {
			if g.cells[r][c] == nil {
				out = append(out, [2]int{r, c})
			}
		}
	}
	return out
}

// MergeOptions control how a grid is stitched.
type MergeOptions struct {
	Method  MergeMethod
	Padding int

	// Fill, if non-nil, is written into the area of any missing cell.  Without it a
	// missing cell fails the merge.
	Fill *float64
}

// Merge stitches a grid of patches into an array of the original shape.  Cell
// (row, col) is placed at (row*step rows, col*step cols).  With padding > 0 that many
// pixels are discarded from every side of each patch before placement.
func Merge(index *Grid, original, tile, step rda.Shape2d, opts MergeOptions) (*rda.Array, error) {
	for _, shape := range []struct {
		name string
		s    rda.Shape2d
	}{{"original shape", original}, {"tile", tile}, {"step", step}} {
		if _, err := rda.ParseShape2d(shape.name, shape.s); err != nil {
			return nil, err
		}
	}
	if opts.Padding < 0 {
		return nil, &rda.ShapeError{Name: "padding", Value: opts.Padding, Reason: "must not be negative"}
	}
	switch opts.Method {
	case MergeFirst, MergeLast:
	case "":
		opts.Method = MergeLast
	default:
		return nil, fmt.Errorf("%w: merge method %q", rda.ErrUnsupportedMergeInput, opts.Method)
	}
	if index == nil || index.Rows == 0 || index.Cols == 0 {
		return nil, fmt.Errorf("%w: empty patch grid", rda.ErrUnsupportedMergeInput)
	}
	ref, err := referencePatch(index, opts.Fill != nil)
	if err != nil {
		return nil, err
	}

	ty, tx := tile.Rows(), tile.Cols()
	sy, sx := step.Rows(), step.Cols()
	repY, repX := max(ty-sy, 0), max(tx-sx, 0)
	unionH := index.Rows*ty - (index.Rows-1)*(ty-sy)
	unionW := index.Cols*tx - (index.Cols-1)*(tx-sx)
	union := rda.NewArray(ref.Bands, unionH, unionW, ref.Type)
	timedLog := rda.NewTimeLog()
	pad := opts.Padding

	for row := 0; row < index.Rows; row++ {
		for col := 0; col < index.Cols; col++ {
			a := index.At(row, col)
			if a == nil {
				a = rda.NewArray(ref.Bands, ty, tx, ref.Type)
				if *opts.Fill != 0 {
					a.Fill(-1, *opts.Fill)
				}
			}
			minX, minY := col*sx, row*sy
			srcX, srcY := 0, 0
			if opts.Method == MergeFirst {
				if row != 0 && a.Height > repY {
					minY += repY
					srcY = repY
				}
				if col != 0 && a.Width > repX {
					minX += repX
					srcX = repX
				}
			}
			src := rda.PixelWindow{MinX: srcX + pad, MinY: srcY + pad, MaxX: a.Width - pad, MaxY: a.Height - pad}
			if src.Empty() {
				continue
			}
			union.Paste(a, src, minX+pad, minY+pad)
		}
	}

	out := union
	if union.Height != original.Rows() || union.Width != original.Cols() {
		out = rda.NewArray(ref.Bands, original.Rows(), original.Cols(), ref.Type)
		out.Paste(union, union.Bounds(), 0, 0)
	}
	timedLog.Debugf("merged %d x %d patches (%s, padding %d) into %s", index.Rows, index.Cols, opts.Method, pad, out)
	return out, nil
}

// referencePatch checks every present cell is a well formed raster of one layout and
// returns the first.
func referencePatch(index *Grid, allowMissing bool) (*rda.Array, error) {
	var ref *rda.Array
	for row := 0; row < index.Rows; row++ {
		for col := 0; col < index.Cols; col++ {
			a := index.At(row, col)
			if a == nil {
				if !allowMissing {
					return nil, fmt.Errorf("%w: patch (%d, %d) is missing", rda.ErrUnsupportedMergeInput, row, col)
				}
				continue
			}
			if err := a.Verify(); err != nil || a.Bands == 0 {
				return nil, fmt.Errorf("%w: patch (%d, %d) is not a raster: %v", rda.ErrUnsupportedMergeInput, row, col, err)
			}
			if ref == nil {
				ref = a
			} else if !ref.SameLayout(a) {
				return nil, fmt.Errorf("%w: patch (%d, %d) is %s, expected layout of %s",
					rda.ErrUnsupportedMergeInput, row, col, a, ref)
			}
		}
	}
	if ref == nil {
		return nil, fmt.Errorf("%w: no patch holds data", rda.ErrUnsupportedMergeInput)
	}
	return ref, nil
}

// SplitArray cuts an in-memory array along a plan, padding edge windows with fill.
// It is the local counterpart of loading a PatchSet.
func SplitArray(a *rda.Array, plan *SplitPlan, fill float64) (*Grid, error) {
	if a.Size2d() != plan.Total {
		return nil, &rda.ShapeError{Name: "array", Value: a.Size2d(),
			Reason: fmt.Sprintf("does not match split total %s", plan.Total)}
	}
	grid := GridFor(plan)
	for i := 0; i < plan.Len(); i++ {
		win := plan.Window(i)
		part, err := a.Subarray(win.Intersect(a.Bounds()))
		if err != nil {
			return nil, err
		}
		row, col := plan.Cell(i)
		grid.Set(row, col, rda.PadTo(part, win.Size(), fill))
	}
	return grid, nil
}
