package raster

import (
	"context"
	"fmt"
	"math"

	"github.com/geogenius/rda/graph"
	"github.com/geogenius/rda/rda"
	"github.com/geogenius/rda/service"
	"github.com/geogenius/rda/tiles"
)

// Service is the part of the compute service an image needs.
type Service interface {
	Endpoint() string
	Register(ctx context.Context, root *graph.Node) (service.GraphID, error)
	GetGraph(ctx context.Context, id service.GraphID) (*graph.Graph, error)
	Metadata(ctx context.Context, id service.GraphID, node graph.NodeID) (*rda.ImageMetadata, error)
}

// TileFetcher retrieves decoded tiles by URL.
type TileFetcher interface {
	FetchAll(ctx context.Context, urls []string) ([]*rda.Array, error)
}

// Image is a window onto the output of one registered graph node.
type Image struct {
	client  *Client
	graphID service.GraphID
	nodeID  graph.NodeID
	node    *graph.Node // nil for images opened by graph id
	md      *rda.ImageMetadata
	geo     *GeoAdapter
	window  rda.PixelWindow // in grid array space
}

func (img *Image) String() string {
	return fmt.Sprintf("image %s/%s %s", img.graphID, img.nodeID, img.window)
}

func (img *Image) GraphID() service.GraphID     { return img.graphID }
func (img *Image) NodeID() graph.NodeID         { return img.nodeID }
func (img *Image) Node() *graph.Node            { return img.node }
func (img *Image) Metadata() *rda.ImageMetadata { return img.md }
func (img *Image) Geo() *GeoAdapter             { return img.geo }
func (img *Image) DataType() rda.DataType       { return img.md.Image.DataType }
func (img *Image) Window() rda.PixelWindow      { return img.window }

// Shape returns (bands, rows, cols).
func (img *Image) Shape() [3]int {
	return [3]int{img.md.Image.NumBands, img.window.Height(), img.window.Width()}
}

// Affine maps image pixels to world coordinates.
func (img *Image) Affine() rda.Affine {
	return img.geo.Transform.Translate(float64(img.window.MinX), float64(img.window.MinY))
}

// Proj returns the spatial reference of the image.
func (img *Image) Proj() string {
	return img.geo.SRS
}

// Bounds returns the world extent of the image.
func (img *Image) Bounds() Bounds {
	return worldBounds(img.geo.Transform, img.window)
}

// NTiles is the number of tiles needed to read the whole image.
func (img *Image) NTiles() int {
	size := float64(img.md.Image.TileXSize)
	shape := img.Shape()
	return int(math.Ceil(float64(shape[2])/size) * math.Ceil(float64(shape[1])/size))
}

// NoData returns the nodata value of a band.
func (img *Image) NoData(band int) (float64, error) {
	if band < 0 || band >= img.md.Image.NumBands {
		return 0, fmt.Errorf("band index %d is invalid for %s", band, img)
	}
	return img.md.NoDataValue(band)
}

// NoDataAll returns the nodata values of every band.
func (img *Image) NoDataAll() []float64 {
	out := make([]float64, img.md.Image.NumBands)
	for b := range out {
		out[b], _ = img.md.NoDataValue(b)
	}
	return out
}

// TileURLs lists the tile URLs covering a window given in image pixels.
func (img *Image) TileURLs(win rda.PixelWindow) ([]tiles.TileCoord, []string) {
	abs := win.Translate(img.window.MinX, img.window.MinY)
	coords := tiles.TilesForWindow(img.md, abs)
	urls := make([]string, len(coords))
	for i, c := range coords {
		urls[i] = tiles.URLFor(img.client.svc.Endpoint(), string(img.graphID), string(img.nodeID), c)
	}
	return coords, urls
}

// Read fetches the tiles covering win, given in image pixels, and assembles them
// into one array.  The window must lie within the image.
func (img *Image) Read(ctx context.Context, win rda.PixelWindow) (*rda.Array, error) {
	shape := img.Shape()
	full := rda.PixelWindow{MaxX: shape[2], MaxY: shape[1]}
	if win.Empty() || win.Intersect(full) != win {
		return nil, &rda.ShapeError{Name: "read window", Value: win, Reason: fmt.Sprintf("not within %s", img)}
	}
	timedLog := rda.NewTimeLog()
	abs := win.Translate(img.window.MinX, img.window.MinY)
	coords, urls := img.TileURLs(win)
	out := rda.NewArray(shape[0], win.Height(), win.Width(), img.DataType())
	if len(coords) == 0 {
		return out, nil
	}
	arrays, err := img.client.fetch.FetchAll(ctx, urls)
	if err != nil {
		return nil, err
	}
	for i, c := range coords {
		a := arrays[i]
		if a.Type != out.Type || a.Bands != out.Bands {
			return nil, fmt.Errorf("tile %s is %s, expected %d bands of %s", urls[i], a, out.Bands, out.Type)
		}
		tw := tiles.TileWindow(img.md, c)
		inter := tw.Intersect(abs)
		out.Paste(a, inter.Translate(-tw.MinX, -tw.MinY), inter.MinX-abs.MinX, inter.MinY-abs.MinY)
	}
	timedLog.Debugf("read %s of %s from %d tiles", win, img, len(coords))
	return out, nil
}

// ReadAll reads the whole image.
func (img *Image) ReadAll(ctx context.Context) (*rda.Array, error) {
	shape := img.Shape()
	return img.Read(ctx, rda.PixelWindow{MaxX: shape[2], MaxY: shape[1]})
}

// Crop returns the part of the image inside win, given in image pixels.  The result
// is clipped to the image.
func (img *Image) Crop(win rda.PixelWindow) (*Image, error) {
	shape := img.Shape()
	clipped := win.Intersect(rda.PixelWindow{MaxX: shape[2], MaxY: shape[1]})
	if clipped.Empty() {
		return nil, fmt.Errorf("%w: window %s misses %s", rda.ErrAoiDisjoint, win, img)
	}
	out := *img
	out.geo = img.geo.Clone()
	out.window = clipped.Translate(img.window.MinX, img.window.MinY)
	return &out, nil
}

// AOI crops the image to world bounds given in the image projection.
func (img *Image) AOI(b Bounds) (*Image, error) {
	if !img.Bounds().intersects(b) {
		return nil, fmt.Errorf("%w: %s not in %s", rda.ErrAoiDisjoint, b, img.Bounds())
	}
	win, err := pixelWindow(img.Affine(), b)
	if err != nil {
		return nil, err
	}
	return img.Crop(win)
}

// Shift returns a copy whose georeference is moved by (dx, dy) world units.
func (img *Image) Shift(dx, dy float64) *Image {
	out := *img
	out.geo = img.geo.Clone()
	out.geo.Transform.C += dx
	out.geo.Transform.F += dy
	return &out
}

// Derive applies an operator to the image node, registers the result, and opens it.
func (img *Image) Derive(ctx context.Context, op string, params map[string]interface{}) (*Image, error) {
	if img.node == nil {
		return nil, fmt.Errorf("%s was opened by id and cannot be extended", img)
	}
	n, err := graph.BuildOperation(op, []*graph.Node{img.node}, params)
	if err != nil {
		return nil, err
	}
	return img.client.Open(ctx, n)
}

// HistogramDRA returns the image with dynamic range adjustment applied.
func (img *Image) HistogramDRA(ctx context.Context) (*Image, error) {
	return img.Derive(ctx, graph.OpHistogramDRA, nil)
}

// HistogramEqualize returns the image with equalized histograms.
func (img *Image) HistogramEqualize(ctx context.Context) (*Image, error) {
	return img.Derive(ctx, graph.OpHistogramEqualize, nil)
}

// HistogramStretch returns the image stretched between the given percentiles.
func (img *Image) HistogramStretch(ctx context.Context, low, high float64) (*Image, error) {
	return img.Derive(ctx, graph.OpHistogramStretch, map[string]interface{}{"stretch": []float64{low, high}})
}

// BandSelect returns an image with the listed bands.
func (img *Image) BandSelect(ctx context.Context, bands []int) (*Image, error) {
	for _, b := range bands {
		if b < 0 || b >= img.md.Image.NumBands {
			return nil, fmt.Errorf("band index %d is invalid for %s", b, img)
		}
	}
	return img.Derive(ctx, graph.OpBandSelect, map[string]interface{}{"bandIndices": bands})
}
