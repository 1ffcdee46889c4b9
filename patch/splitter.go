package patch

import (
	"fmt"

	"github.com/geogenius/rda/rda"
)

// TileInfo locates one window of a plan.
type TileInfo struct {
	ParentShape rda.Shape2d
	IndexX      int
	IndexY      int
}

// SplitPlan is the immutable output of NewSplitter.
type SplitPlan struct {
	Total rda.Shape2d
	Tile  rda.Shape2d
	Step  rda.Shape2d

	windows []rda.PixelWindow
	info    []TileInfo
	rows    int
	cols    int
}

// NewSplitter partitions a total (rows, cols) extent into windows of the tile shape
// placed every step pixels.  Each shape may be an int, which means a square, a
// two-element int slice or array, or an rda.Shape2d.  Windows keep the full tile size
// even when the step is smaller, so consecutive windows overlap by tile - step, and a
// step larger than the tile leaves gaps.
func NewSplitter(total, tile, step interface{}) (*SplitPlan, error) {
	var p SplitPlan
	var err error
	if p.Total, err = rda.ParseShape2d("total shape", total); err != nil {
		return nil, err
	}
	if p.Tile, err = rda.ParseShape2d("tile shape", tile); err != nil {
		return nil, err
	}
	if p.Step, err = rda.ParseShape2d("step shape", step); err != nil {
		return nil, err
	}
	rows, cols := p.Total.Rows(), p.Total.Cols()
	ty, tx := p.Tile.Rows(), p.Tile.Cols()
	sy, sx := p.Step.Rows(), p.Step.Cols()
	for xi := 0; xi*sx < cols; xi++ {
		p.rows = 0
		for yi := 0; yi*sy < rows; yi++ {
			x0, y0 := xi*sx, yi*sy
			p.windows = append(p.windows, rda.PixelWindow{MinX: x0, MinY: y0, MaxX: x0 + tx, MaxY: y0 + ty})
			p.info = append(p.info, TileInfo{ParentShape: p.Total, IndexX: xi, IndexY: yi})
			p.rows++
		}
		p.cols++
	}
	return &p, nil
}

// Len returns the number of windows.
func (p *SplitPlan) Len() int {
	return len(p.windows)
}

// Windows returns a copy of the windows in plan order.
func (p *SplitPlan) Windows() []rda.PixelWindow {
	out := make([]rda.PixelWindow, len(p.windows))
	copy(out, p.windows)
	return out
}

// Window returns window i.
func (p *SplitPlan) Window(i int) rda.PixelWindow {
	return p.windows[i]
}

// Info returns the tile info of window i.
func (p *SplitPlan) Info(i int) TileInfo {
	return p.info[i]
}

// Grid returns the number of window rows and columns.
func (p *SplitPlan) Grid() (rows, cols int) {
	return p.rows, p.cols
}

// Cell maps a flat plan index onto its (row, col) grid cell.
func (p *SplitPlan) Cell(i int) (row, col int) {
	return i % p.rows, i / p.rows
}

// Overlap returns (tile - step) for rows and columns.  Negative values mean gaps.
func (p *SplitPlan) Overlap() rda.Shape2d {
	return rda.Shape2d{p.Tile.Rows() - p.Step.Rows(), p.Tile.Cols() - p.Step.Cols()}
}

func (p *SplitPlan) String() string {
	return fmt.Sprintf("split of %s into %d windows of %s every %s", p.Total, len(p.windows), p.Tile, p.Step)
}
