package tiles

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	_ "image/jpeg"
	_ "image/png"
	"io"

	_ "golang.org/x/image/tiff"

	"github.com/geogenius/rda/rda"
)

// Decoder turns a tile body into a band-major array.
type Decoder interface {
	Decode(r io.ReaderAt, size int64) (*rda.Array, error)
}

// ImageDecoder decodes TIFF, PNG and JPEG tiles.  Multi-band TIFF rasters are read
// natively; other encodings go through the registered image codecs.
type ImageDecoder struct{}

func (ImageDecoder) Decode(r io.ReaderAt, size int64) (*rda.Array, error) {
	magic := make([]byte, 4)
	if _, err := r.ReadAt(magic, 0); err != nil {
		return nil, fmt.Errorf("unable to read tile header: %v", err)
	}
	if isTIFF(magic) {
		arr, err := decodeTIFF(r, size)
		if err == nil {
			return arr, nil
		}
		var unsupported tiffUnsupported
		if !errors.As(err, &unsupported) {
			return nil, err
		}
		rda.Debugf("falling back to image codec: %v\n", err)
	}
	cfg, _, err := image.DecodeConfig(io.NewSectionReader(r, 0, size))
	if err != nil {
		return nil, err
	}
	if cfg.Width > maxTIFFSide || cfg.Height > maxTIFFSide {
		return nil, fmt.Errorf("tile image has bad dimensions %d x %d", cfg.Width, cfg.Height)
	}
	img, _, err := image.Decode(io.NewSectionReader(r, 0, size))
	if err != nil {
		return nil, err
	}
	return FromImage(img), nil
}

// FromImage converts a decoded image into a band-major array.  Gray images give one
// band, YCbCr gives three and all other color models give four (RGBA).
func FromImage(img image.Image) *rda.Array {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	switch m := img.(type) {
	case *image.Gray:
		out := rda.NewArray(1, h, w, rda.T_uint8)
		for y := 0; y < h; y++ {
			i := m.PixOffset(b.Min.X, b.Min.Y+y)
			copy(out.Row(0, y), m.Pix[i:i+w])
		}
		return out
	case *image.Gray16:
		out := rda.NewArray(1, h, w, rda.T_uint16)
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				out.SetValue(0, y, x, float64(m.Gray16At(b.Min.X+x, b.Min.Y+y).Y))
			}
		}
		return out
	case *image.Paletted:
		out := rda.NewArray(1, h, w, rda.T_uint8)
		for y := 0; y < h; y++ {
			i := m.PixOffset(b.Min.X, b.Min.Y+y)
			copy(out.Row(0, y), m.Pix[i:i+w])
		}
		return out
	case *image.YCbCr:
		out := rda.NewArray(3, h, w, rda.T_uint8)
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				c := color.RGBAModel.Convert(m.At(b.Min.X+x, b.Min.Y+y)).(color.RGBA)
				out.SetValue(0, y, x, float64(c.R))
				out.SetValue(1, y, x, float64(c.G))
				out.SetValue(2, y, x, float64(c.B))
			}
		}
		return out
	case *image.RGBA64, *image.NRGBA64:
		out := rda.NewArray(4, h, w, rda.T_uint16)
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				c := color.NRGBA64Model.Convert(img.At(b.Min.X+x, b.Min.Y+y)).(color.NRGBA64)
				out.SetValue(0, y, x, float64(c.R))
				out.SetValue(1, y, x, float64(c.G))
				out.SetValue(2, y, x, float64(c.B))
				out.SetValue(3, y, x, float64(c.A))
			}
		}
		return out
	}
	out := rda.NewArray(4, h, w, rda.T_uint8)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			c := color.NRGBAModel.Convert(img.At(b.Min.X+x, b.Min.Y+y)).(color.NRGBA)
			out.SetValue(0, y, x, float64(c.R))
			out.SetValue(1, y, x, float64(c.G))
			out.SetValue(2, y, x, float64(c.B))
			out.SetValue(3, y, x, float64(c.A))
		}
	}
	return out
}

// ToImage converts 1 or 4 band arrays of uint8 or uint16 into a Go image, the
// inverse of FromImage.  Other arrays return nil.
func ToImage(a *rda.Array) image.Image {
	rect := image.Rect(0, 0, a.Width, a.Height)
	switch {
	case a.Bands == 1 && a.Type == rda.T_uint8:
		img := image.NewGray(rect)
		for y := 0; y < a.Height; y++ {
			copy(img.Pix[y*img.Stride:], a.Row(0, y))
		}
		return img
	case a.Bands == 1 && a.Type == rda.T_uint16:
		img := image.NewGray16(rect)
		for y := 0; y < a.Height; y++ {
			for x := 0; x < a.Width; x++ {
				v := uint16(a.Value(0, y, x))
				i := img.PixOffset(x, y)
				img.Pix[i], img.Pix[i+1] = byte(v>>8), byte(v)
			}
		}
		return img
	case a.Bands == 4 && a.Type == rda.T_uint8:
		img := image.NewNRGBA(rect)
		for y := 0; y < a.Height; y++ {
			for x := 0; x < a.Width; x++ {
				i := img.PixOffset(x, y)
				for b := 0; b < 4; b++ {
					img.Pix[i+b] = byte(a.Value(b, y, x))
				}
			}
		}
		return img
	case a.Bands == 4 && a.Type == rda.T_uint16:
		img := image.NewNRGBA64(rect)
		for y := 0; y < a.Height; y++ {
			for x := 0; x < a.Width; x++ {
				i := img.PixOffset(x, y)
				for b := 0; b < 4; b++ {
					v := uint16(a.Value(b, y, x))
					img.Pix[i+2*b], img.Pix[i+2*b+1] = byte(v>>8), byte(v)
				}
			}
		}
		return img
	}
	return nil
}
