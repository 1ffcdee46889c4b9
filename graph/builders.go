package graph

import "fmt"

// Parameter names of the Reproject operator.
const (
	ParamSrcSRS       = "Source SRS Code"
	ParamDestSRS      = "Dest SRS Code"
	ParamSrcTransform = "Source pixel-to-world transform"
	ParamDstTransform = "Dest pixel-to-world transform"
	ParamKernel       = "Resampling Kernel"
	ParamBackground   = "Background Values"
)

// ReprojectOptions controls an optional reprojection of a source image.  Empty
// strings leave the choice to the service.
type ReprojectOptions struct {
	SrcSRS       string
	DestSRS      string
	SrcTransform string
	DstTransform string
	Kernel       string
	Background   string
}

func (opts ReprojectOptions) params() map[string]interface{} {
	kernel := opts.Kernel
	if kernel == "" {
		kernel = "INTERP_BILINEAR"
	}
	background := opts.Background
	if background == "" {
		background = "[0]"
	}
	return map[string]interface{}{
		ParamDstTransform: opts.DstTransform,
		ParamKernel:       kernel,
		ParamSrcSRS:       opts.SrcSRS,
		ParamSrcTransform: opts.SrcTransform,
		ParamDestSRS:      opts.DestSRS,
		ParamBackground:   background,
	}
}

// ImageRead returns a node reading a raster file from object storage.
func ImageRead(path string) (*Node, error) {
	if path == "" {
		return nil, fmt.Errorf("image read requires a path")
	}
	return BuildOperation(OpGdalImageRead, nil, map[string]interface{}{"path": path})
}

// Reproject wraps src in a reprojection to opts.DestSRS.
func Reproject(src *Node, opts ReprojectOptions) (*Node, error) {
	if opts.DestSRS == "" {
		return nil, fmt.Errorf("reprojection of %s requires a destination SRS", src)
	}
	return BuildOperation(OpReproject, []*Node{src}, opts.params())
}

// ObjectImage reads a single raster at path, reprojecting it if opts names a
// destination SRS.
func ObjectImage(path string, opts ReprojectOptions) (*Node, error) {
	n, err := ImageRead(path)
	if err != nil {
		return nil, err
	}
	if opts.DestSRS == "" {
		return n, nil
	}
	return Reproject(n, opts)
}

// Mosaic merges rasters at the given paths; pixelSelection picks which raster wins
// where they overlap and defaults to "first".
func Mosaic(paths []string, pixelSelection string) (*Node, error) {
	if len(paths) == 0 {
		return nil, fmt.Errorf("mosaic requires at least one path")
	}
	if pixelSelection == "" {
		pixelSelection = "first"
	}
	return BuildOperation(OpMosaic, nil, map[string]interface{}{
		"paths":           paths,
		"pixel_selection": pixelSelection,
	})
}

// HistogramDRA applies dynamic range adjustment, producing 8-bit output.
func HistogramDRA(src *Node) (*Node, error) {
	return BuildOperation(OpHistogramDRA, []*Node{src}, nil)
}

// BandSelect keeps the listed bands in order.
func BandSelect(src *Node, bands []int) (*Node, error) {
	if len(bands) == 0 {
		return nil, fmt.Errorf("band select of %s requires at least one band", src)
	}
	return BuildOperation(OpBandSelect, []*Node{src}, map[string]interface{}{"bandIndices": bands})
}
