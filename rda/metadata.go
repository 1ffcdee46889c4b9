package rda

import (
	"encoding/json"
	"fmt"
)

// Georef is the georeferencing block of image metadata.
type Georef struct {
	TranslateX float64 `json:"translateX"`
	ScaleX     float64 `json:"scaleX"`
	ShearX     float64 `json:"shearX"`
	TranslateY float64 `json:"translateY"`
	ShearY     float64 `json:"shearY"`
	ScaleY     float64 `json:"scaleY"`
	SRSCode    string  `json:"spatialReferenceSystemCode"`
}

// Transform returns the pixel to world affine transform.
func (g *Georef) Transform() Affine {
	if g == nil {
		return Identity
	}
	return AffineFromGDAL(g.TranslateX, g.ScaleX, g.ShearX, g.TranslateY, g.ShearY, g.ScaleY)
}

// ImageInfo describes the tile grid and pixel layout of a registered graph node.
// MinX..MaxY are inclusive pixel bounds of the logical image in tile-grid space.
type ImageInfo struct {
	NumBands  int       `json:"numBands"`
	TileXSize int       `json:"tileXSize"`
	TileYSize int       `json:"tileYSize"`
	MinTileX  int       `json:"minTileX"`
	MaxTileX  int       `json:"maxTileX"`
	MinTileY  int       `json:"minTileY"`
	MaxTileY  int       `json:"maxTileY"`
	MinX      int       `json:"minX"`
	MaxX      int       `json:"maxX"`
	MinY      int       `json:"minY"`
	MaxY      int       `json:"maxY"`
	Width     int       `json:"imageWidth,omitempty"`
	Height    int       `json:"imageHeight,omitempty"`
	DataType  DataType  `json:"dataType"`
	NoData    []float64 `json:"nodata"`
}

// ImageMetadata is the metadata the compute service returns for a graph node.
type ImageMetadata struct {
	Image  ImageInfo `json:"image"`
	Georef *Georef   `json:"georef"`
}

// ParseImageMetadata decodes and validates a metadata document.
func ParseImageMetadata(b []byte) (*ImageMetadata, error) {
	var md ImageMetadata
	if err := json.Unmarshal(b, &md); err != nil {
		return nil, fmt.Errorf("cannot decode image metadata: %v", err)
	}
	if err := md.Verify(); err != nil {
		return nil, err
	}
	return &md, nil
}

// Verify checks the tile grid is well formed.
func (md *ImageMetadata) Verify() error {
	im := md.Image
	if im.NumBands <= 0 {
		return &ShapeError{Name: "numBands", Value: im.NumBands, Reason: "must be positive"}
	}
	if im.TileXSize <= 0 || im.TileYSize <= 0 {
		return &ShapeError{Name: "tile size", Value: Shape2d{im.TileYSize, im.TileXSize}, Reason: "must be positive"}
	}
	if im.MaxTileX < im.MinTileX || im.MaxTileY < im.MinTileY {
		return &ShapeError{Name: "tile grid", Value: md.TileGrid(), Reason: "max tile before min tile"}
	}
	return nil
}

// TileSize returns the (rows, cols) size of one tile.
func (md *ImageMetadata) TileSize() Shape2d {
	return Shape2d{md.Image.TileYSize, md.Image.TileXSize}
}

// TileGrid returns the tile index range as a window in tile units.
func (md *ImageMetadata) TileGrid() PixelWindow {
	im := md.Image
	return PixelWindow{im.MinTileX, im.MinTileY, im.MaxTileX + 1, im.MaxTileY + 1}
}

// Shape returns (bands, rows, cols) of the full tile grid, always a whole number of tiles.
func (md *ImageMetadata) Shape() [3]int {
	im := md.Image
	return [3]int{
		im.NumBands,
		(im.MaxTileY - im.MinTileY + 1) * im.TileYSize,
		(im.MaxTileX - im.MinTileX + 1) * im.TileXSize,
	}
}

// NoDataValue returns the nodata value of a band, or 0 if none was given.
func (md *ImageMetadata) NoDataValue(band int) (float64, error) {
	if band < 0 || band >= md.Image.NumBands {
		return 0, fmt.Errorf("band index %d is invalid for %d bands", band, md.Image.NumBands)
	}
	if band >= len(md.Image.NoData) {
		return 0, nil
	}
	return md.Image.NoData[band], nil
}
