package patch

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/geogenius/rda/rda"
)

// Source is a raster that can be read by pixel window.
type Source interface {
	// Shape returns (bands, rows, cols).
	Shape() [3]int
	DataType() rda.DataType
	Read(ctx context.Context, win rda.PixelWindow) (*rda.Array, error)
}

// Options for a PatchSet.
type Options struct {
	// Fill is written into the part of an edge window lying outside the source.
	Fill float64
}

// PatchSet is a source split along a plan, each window loaded on first use.
type PatchSet struct {
	src     Source
	plan    *SplitPlan
	opts    Options
	patches [][]*rda.Lazy[*rda.Array]
}

// New checks the plan against the source and prepares one lazy patch per window.
// Nothing is read until Load, Index, Merge or Save, and each read runs under the
// context given to that call.  A read cut short by its context is retried on the
// next call.
func New(src Source, plan *SplitPlan, opts Options) (*PatchSet, error) {
	shape := src.Shape()
	if (rda.Shape2d{shape[1], shape[2]}) != plan.Total {
		return nil, &rda.ShapeError{Name: "split total", Value: plan.Total,
			Reason: fmt.Sprintf("image is %d x %d pixels", shape[1], shape[2])}
	}
	if plan.Step.Rows() > plan.Tile.Rows() || plan.Step.Cols() > plan.Tile.Cols() {
		return nil, &rda.ShapeError{Name: "step shape", Value: plan.Step,
			Reason: fmt.Sprintf("not allowed greater than tile shape %s", plan.Tile)}
	}
	ps := &PatchSet{src: src, plan: plan, opts: opts}
	rows, cols := plan.Grid()
	ps.patches = make([][]*rda.Lazy[*rda.Array], rows)
	for r := range ps.patches {
		ps.patches[r] = make([]*rda.Lazy[*rda.Array], cols)
	}
	for i := 0; i < plan.Len(); i++ {
		win := plan.Window(i)
		row, col := plan.Cell(i)
		ps.patches[row][col] = rda.NewLazy(func(ctx context.Context) (*rda.Array, error) {
			return ps.read(ctx, win)
		})
	}
	return ps, nil
}

// read fetches the part of win inside the source and pads it out to the full window.
func (ps *PatchSet) read(ctx context.Context, win rda.PixelWindow) (*rda.Array, error) {
	shape := ps.src.Shape()
	size := rda.Shape2d{shape[1], shape[2]}
	if err := rda.ValidatePixelBox(win, size); err != nil {
		return nil, err
	}
	clipped := win.Intersect(rda.PixelWindow{MaxX: size.Cols(), MaxY: size.Rows()})
	data, err := ps.src.Read(ctx, clipped)
	if err != nil {
		return nil, fmt.Errorf("reading patch %s: %w", win, err)
	}
	return rda.PadTo(data, win.Size(), ps.opts.Fill), nil
}

// Plan returns the split plan.
func (ps *PatchSet) Plan() *SplitPlan {
	return ps.plan
}

// Patch returns the lazy patch of a grid cell.
func (ps *PatchSet) Patch(row, col int) *rda.Lazy[*rda.Array] {
	return ps.patches[row][col]
}

// Load materializes every patch with at most workers concurrent reads.  The first
// failure cancels the reads in flight and is returned.
func (ps *PatchSet) Load(ctx context.Context, workers int) error {
	if workers <= 0 {
		workers = 1
	}
	timedLog := rda.NewTimeLog()
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for _, row := range ps.patches {
		for _, lazy := range row {
			g.Go(func() error {
				if err := gctx.Err(); err != nil {
					return err
				}
				_, err := lazy.Get(gctx)
				return err
			})
		}
	}
	if err := g.Wait(); err != nil {
		return err
	}
	timedLog.Infof("loaded %d patches with %d workers", ps.plan.Len(), workers)
	return nil
}

// Index returns the grid of loaded patches, loading any that are still pending.
func (ps *PatchSet) Index(ctx context.Context) (*Grid, error) {
	grid := GridFor(ps.plan)
	for r, row := range ps.patches {
		for c, lazy := range row {
			a, err := lazy.Get(ctx)
			if err != nil {
				return nil, err
			}
			grid.Set(r, c, a)
		}
	}
	return grid, nil
}

// Merge loads any pending patches and stitches them into the source shape.
func (ps *PatchSet) Merge(ctx context.Context, method MergeMethod, padding int) (*rda.Array, error) {
	grid, err := ps.Index(ctx)
	if err != nil {
		return nil, err
	}
	return Merge(grid, ps.plan.Total, ps.plan.Tile, ps.plan.Step, MergeOptions{Method: method, Padding: padding})
}
