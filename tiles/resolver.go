package tiles

import (
	"fmt"
	"sort"

	"github.com/geogenius/rda/rda"
)

// TileCoord addresses a tile in tile-grid units.
type TileCoord struct {
	Row int
	Col int
}

func (c TileCoord) String() string {
	return fmt.Sprintf("(%d, %d)", c.Row, c.Col)
}

func floorDiv(a, b int) int {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}

// TilesForWindow returns every tile of the grid intersecting win, in row-major
// order.  The window is in image pixel space whose origin is the upper left corner
// of tile (MinTileY, MinTileX).  A window outside the grid yields no tiles.
func TilesForWindow(md *rda.ImageMetadata, win rda.PixelWindow) []TileCoord {
	if win.Empty() {
		return nil
	}
	im := md.Image
	minCol := max(floorDiv(win.MinX, im.TileXSize)+im.MinTileX, im.MinTileX)
	maxCol := min(floorDiv(win.MaxX-1, im.TileXSize)+im.MinTileX, im.MaxTileX)
	minRow := max(floorDiv(win.MinY, im.TileYSize)+im.MinTileY, im.MinTileY)
	maxRow := min(floorDiv(win.MaxY-1, im.TileYSize)+im.MinTileY, im.MaxTileY)
	if minCol > maxCol || minRow > maxRow {
		return nil
	}
	coords := make([]TileCoord, 0, (maxRow-minRow+1)*(maxCol-minCol+1))
	for row := minRow; row <= maxRow; row++ {
		for col := minCol; col <= maxCol; col++ {
			coords = append(coords, TileCoord{row, col})
		}
	}
	return coords
}

// AllTiles returns every tile of the grid in row-major order.
func AllTiles(md *rda.ImageMetadata) []TileCoord {
	shape := md.Shape()
	return TilesForWindow(md, rda.PixelWindow{MaxX: shape[2], MaxY: shape[1]})
}

// TileWindow returns the pixel window covered by a tile in image pixel space.
func TileWindow(md *rda.ImageMetadata, c TileCoord) rda.PixelWindow {
	im := md.Image
	x := (c.Col - im.MinTileX) * im.TileXSize
	y := (c.Row - im.MinTileY) * im.TileYSize
	return rda.Window(x, y, md.TileSize())
}

// URLFor formats the tile read URL of a graph node.
func URLFor(endpoint, graphID, nodeID string, c TileCoord) string {
	return fmt.Sprintf("%s/rda/read/%s/%s/%d/%d.TIF", endpoint, graphID, nodeID, c.Col, c.Row)
}

// SortCoords orders coordinates row-major.
func SortCoords(coords []TileCoord) {
	sort.Slice(coords, func(i, j int) bool {
		if coords[i].Row != coords[j].Row {
			return coords[i].Row < coords[j].Row
		}
		return coords[i].Col < coords[j].Col
	})
}
