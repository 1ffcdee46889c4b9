package raster

import (
	"fmt"
	"math"

	"github.com/geogenius/rda/rda"
)

// DefaultProj is assumed when metadata carries no georeference.
const DefaultProj = "EPSG:4326"

// GeoAdapter aligns tile-grid pixel space with the logical image.
type GeoAdapter struct {
	XShift int
	YShift int

	// Logical image bounds in grid array space, inclusive.
	MinX, MinY, MaxX, MaxY int

	// Transform maps grid array pixels to world coordinates.
	Transform rda.Affine
	SRS       string
}

// NewGeoAdapter derives the adapter of a metadata document.  Metadata without
// pixel bounds covers its whole tile grid.
func NewGeoAdapter(md *rda.ImageMetadata, defaultProj string) *GeoAdapter {
	im := md.Image
	g := &GeoAdapter{
		XShift: im.MinTileX * im.TileXSize,
		YShift: im.MinTileY * im.TileYSize,
		SRS:    defaultProj,
	}
	if im.MinX == 0 && im.MaxX == 0 && im.MinY == 0 && im.MaxY == 0 {
		shape := md.Shape()
		g.MaxX, g.MaxY = shape[2]-1, shape[1]-1
	} else {
		g.MinX, g.MaxX = im.MinX-g.XShift, im.MaxX-g.XShift
		g.MinY, g.MaxY = im.MinY-g.YShift, im.MaxY-g.YShift
	}
	if md.Georef != nil && md.Georef.SRSCode != "" {
		g.SRS = md.Georef.SRSCode
	}
	g.Transform = md.Georef.Transform().Translate(float64(g.XShift), float64(g.YShift))
	return g
}

// Window returns the logical image as a half-open window in grid array space.
func (g *GeoAdapter) Window() rda.PixelWindow {
	return rda.PixelWindow{MinX: g.MinX, MinY: g.MinY, MaxX: g.MaxX + 1, MaxY: g.MaxY + 1}
}

// Clone returns an independent copy.
func (g *GeoAdapter) Clone() *GeoAdapter {
	c := *g
	return &c
}

// Bounds are world coordinates (minx, miny, maxx, maxy).
type Bounds [4]float64

func (b Bounds) String() string {
	return fmt.Sprintf("[%g, %g, %g, %g]", b[0], b[1], b[2], b[3])
}

func (b Bounds) intersects(o Bounds) bool {
	return b[0] < o[2] && o[0] < b[2] && b[1] < o[3] && o[1] < b[3]
}

// worldBounds returns the world extent of a pixel window under t.
func worldBounds(t rda.Affine, win rda.PixelWindow) Bounds {
	b := Bounds{math.Inf(1), math.Inf(1), math.Inf(-1), math.Inf(-1)}
	for _, p := range [][2]int{{win.MinX, win.MinY}, {win.MaxX, win.MinY}, {win.MinX, win.MaxY}, {win.MaxX, win.MaxY}} {
		x, y := t.Apply(float64(p[0]), float64(p[1]))
		b[0], b[1] = math.Min(b[0], x), math.Min(b[1], y)
		b[2], b[3] = math.Max(b[2], x), math.Max(b[3], y)
	}
	return b
}

// pixelWindow returns the smallest window covering world bounds b under t.
func pixelWindow(t rda.Affine, b Bounds) (rda.PixelWindow, error) {
	inv, err := t.Invert()
	if err != nil {
		return rda.PixelWindow{}, err
	}
	minC, minR := math.Inf(1), math.Inf(1)
	maxC, maxR := math.Inf(-1), math.Inf(-1)
	for _, p := range [][2]float64{{b[0], b[1]}, {b[2], b[1]}, {b[0], b[3]}, {b[2], b[3]}} {
		c, r := inv.Apply(p[0], p[1])
		minC, minR = math.Min(minC, c), math.Min(minR, r)
		maxC, maxR = math.Max(maxC, c), math.Max(maxR, r)
	}
	return rda.PixelWindow{
		MinX: int(math.Floor(minC)),
		MinY: int(math.Floor(minR)),
		MaxX: int(math.Ceil(maxC)),
		MaxY: int(math.Ceil(maxR)),
	}, nil
}
