package tiles

import (
	"testing"

	"github.com/geogenius/rda/rda"
)

func testMetadata() *rda.ImageMetadata {
	return &rda.ImageMetadata{
		Image: rda.ImageInfo{
			NumBands:  3,
			TileXSize: 256,
			TileYSize: 256,
			MinTileX:  2,
			MaxTileX:  5,
			MinTileY:  10,
			MaxTileY:  12,
			DataType:  rda.T_uint16,
		},
	}
}

func TestTilesForWindow(t *testing.T) {
	md := testMetadata()
	coords := TilesForWindow(md, rda.PixelWindow{MinX: 0, MinY: 0, MaxX: 256, MaxY: 256})
	if len(coords) != 1 || coords[0] != (TileCoord{10, 2}) {
		t.Errorf("Expected single upper-left tile, got %v\n", coords)
	}
	coords = TilesForWindow(md, rda.PixelWindow{MinX: 200, MinY: 250, MaxX: 600, MaxY: 300})
	expected := []TileCoord{{10, 2}, {10, 3}, {10, 4}, {11, 2}, {11, 3}, {11, 4}}
	if len(coords) != len(expected) {
		t.Fatalf("Expected %d tiles, got %v\n", len(expected), coords)
	}
	for i := range expected {
		if coords[i] != expected[i] {
			t.Errorf("Tile %d: expected %s, got %s\n", i, expected[i], coords[i])
		}
	}

	// Clamped to the grid.
	coords = TilesForWindow(md, rda.PixelWindow{MinX: -500, MinY: -500, MaxX: 5000, MaxY: 5000})
	if len(coords) != 12 {
		t.Errorf("Expected whole grid of 12 tiles, got %d\n", len(coords))
	}
	if len(AllTiles(md)) != 12 {
		t.Errorf("Expected AllTiles to return 12 tiles\n")
	}
}

func TestTilesOutsideGrid(t *testing.T) {
	md := testMetadata()
	for _, win := range []rda.PixelWindow{
		{MinX: 1024, MinY: 0, MaxX: 2000, MaxY: 100},
		{MinX: -300, MinY: -300, MaxX: -1, MaxY: -1},
		{MinX: 10, MinY: 10, MaxX: 10, MaxY: 20},
	} {
		if coords := TilesForWindow(md, win); len(coords) != 0 {
			t.Errorf("Expected no tiles for %s, got %v\n", win, coords)
		}
	}
}

func TestTileWindowAndURL(t *testing.T) {
	md := testMetadata()
	win := TileWindow(md, TileCoord{Row: 11, Col: 3})
	if win != (rda.PixelWindow{MinX: 256, MinY: 256, MaxX: 512, MaxY: 512}) {
		t.Errorf("Bad tile window: %s\n", win)
	}
	url := URLFor("https://rda.example.com", "g1", "n1", TileCoord{Row: 11, Col: 3})
	if url != "https://rda.example.com/rda/read/g1/n1/3/11.TIF" {
		t.Errorf("Bad tile URL: %s\n", url)
	}
	coords := []TileCoord{{2, 1}, {1, 5}, {1, 2}}
	SortCoords(coords)
	if coords[0] != (TileCoord{1, 2}) || coords[2] != (TileCoord{2, 1}) {
		t.Errorf("Bad sort order: %v\n", coords)
	}
}
