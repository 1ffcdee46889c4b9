package tiles

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	gtiff "github.com/google/tiff"
	"github.com/klauspost/compress/zlib"
	"golang.org/x/image/tiff/lzw"

	"github.com/geogenius/rda/rda"
)

// Baseline TIFF tags used for multi-sample rasters.
const (
	tagImageWidth      = 256
	tagImageLength     = 257
	tagBitsPerSample   = 258
	tagCompression     = 259
	tagPhotometric     = 262
	tagStripOffsets    = 273
	tagSamplesPerPixel = 277
	tagRowsPerStrip    = 278
	tagStripByteCounts = 279
	tagPlanarConfig    = 284
	tagPredictor       = 317
	tagTileWidth       = 322
	tagTileLength      = 323
	tagTileOffsets     = 324
	tagTileByteCounts  = 325
	tagSampleFormat    = 339
)

const (
	compNone     = 1
	compLZW      = 5
	compDeflate  = 8
	compPackBits = 32773
	compDeflate2 = 32946
)

const (
	dtByte  = 1
	dtShort = 3
	dtLong  = 4
)

// typeSizes is the byte size of each TIFF field data type.
var typeSizes = map[uint16]int{dtByte: 1, dtShort: 2, dtLong: 4}

// Limits on what a tile header may declare.  Tiles are a few hundred pixels on a
// side, so anything near these is corrupt.
const (
	maxTIFFSide    = 1 << 15
	maxTIFFSamples = 1 << 10
	maxTIFFBytes   = 1 << 30
)

// tiffUnsupported marks a valid TIFF this reader cannot handle.
type tiffUnsupported string

func (e tiffUnsupported) Error() string { return "unsupported TIFF: " + string(e) }

func isTIFF(magic []byte) bool {
	return bytes.HasPrefix(magic, []byte("II*\x00")) || bytes.HasPrefix(magic, []byte("MM\x00*"))
}

type tiffDecoder struct {
	r     io.ReaderAt
	size  int64
	order binary.ByteOrder
	tags  map[uint16][]uint64
}

func (d *tiffDecoder) first(tag uint16, def uint64) uint64 {
	if v, found := d.tags[tag]; found && len(v) > 0 {
		return v[0]
	}
	return def
}

// parseTIFF reads the header and the integer tags of the first IFD.
func parseTIFF(r io.ReaderAt, size int64) (d *tiffDecoder, err error) {
	var magic [4]byte
	if n, _ := r.ReadAt(magic[:], 0); n < len(magic) || !isTIFF(magic[:]) {
		return nil, fmt.Errorf("not a TIFF file")
	}
	d = &tiffDecoder{r: r, size: size, order: binary.LittleEndian}
	if magic[0] == 'M' {
		d.order = binary.BigEndian
	}

	// The parser allocates tag values at the sizes the header declares.
	defer func() {
		if p := recover(); p != nil {
			d, err = nil, fmt.Errorf("corrupt TIFF header: %v", p)
		}
	}()
	tif, err := gtiff.Parse(io.NewSectionReader(r, 0, size), nil, nil)
	if err != nil {
		return nil, fmt.Errorf("parsing TIFF: %v", err)
	}
	ifds := tif.IFDs()
	if len(ifds) == 0 {
		return nil, fmt.Errorf("TIFF holds no image directory")
	}
	fields := ifds[0].Fields()
	d.tags = make(map[uint16][]uint64, len(fields))
	for _, fld := range fields {
		var nb int
		switch fld.Type().ID() {
		case dtByte:
			nb = 1
		case dtShort:
			nb = 2
		case dtLong:
			nb = 4
		default:
			continue
		}
		raw := fld.Value().Bytes()
		count := int(fld.Count())
		if len(raw) < count*nb {
			return nil, fmt.Errorf("tag %d holds %d bytes, expected %d", fld.Tag().ID(), len(raw), count*nb)
		}
		vals := make([]uint64, count)
		for j := range vals {
			switch nb {
			case 1:
				vals[j] = uint64(raw[j])
			case 2:
				vals[j] = uint64(d.order.Uint16(raw[2*j:]))
			case 4:
				vals[j] = uint64(d.order.Uint32(raw[4*j:]))
			}
		}
		d.tags[fld.Tag().ID()] = vals
	}
	return d, nil
}

func tiffDataType(bits, format uint64) (rda.DataType, error) {
	switch {
	case format == 1 && bits == 8:
		return rda.T_uint8, nil
	case format == 2 && bits == 8:
		return rda.T_int8, nil
	case format == 1 && bits == 16:
		return rda.T_uint16, nil
	case format == 2 && bits == 16:
		return rda.T_int16, nil
	case format == 1 && bits == 32:
		return rda.T_uint32, nil
	case format == 2 && bits == 32:
		return rda.T_int32, nil
	case format == 3 && bits == 32:
		return rda.T_float32, nil
	case format == 3 && bits == 64:
		return rda.T_float64, nil
	}
	return 0, tiffUnsupported(fmt.Sprintf("%d-bit samples with sample format %d", bits, format))
}

func (d *tiffDecoder) block(offset, count uint64, comp uint64, want int) ([]byte, error) {
	if count == 0 || offset >= uint64(d.size) || count > uint64(d.size)-offset {
		return nil, fmt.Errorf("TIFF block of %d bytes at %d lies outside the %d byte file", count, offset, d.size)
	}
	raw := make([]byte, count)
	if n, err := d.r.ReadAt(raw, int64(offset)); n < len(raw) {
		return nil, fmt.Errorf("reading TIFF block: %v", err)
	}
	var rd io.Reader
	switch comp {
	case compNone:
		rd = bytes.NewReader(raw)
	case compLZW:
		lr := lzw.NewReader(bytes.NewReader(raw), lzw.MSB, 8)
		defer lr.Close()
		rd = lr
	case compDeflate, compDeflate2:
		zr, err := zlib.NewReader(bytes.NewReader(raw))
		if err != nil {
			return nil, err
		}
		defer zr.Close()
		rd = zr
	case compPackBits:
		return unpackBits(raw, want)
	default:
		return nil, tiffUnsupported(fmt.Sprintf("compression %d", comp))
	}
	buf := make([]byte, want)
	if _, err := io.ReadFull(rd, buf); err != nil {
		return nil, fmt.Errorf("decompressing block: %v", err)
	}
	return buf, nil
}

func unpackBits(src []byte, want int) ([]byte, error) {
	dst := make([]byte, 0, want)
	br := bufio.NewReader(bytes.NewReader(src))
	for len(dst) < want {
		b, err := br.ReadByte()
		if err != nil {
			break
		}
		code := int(int8(b))
		switch {
		case code >= 0:
			lit := make([]byte, code+1)
			if _, err := io.ReadFull(br, lit); err != nil {
				return nil, err
			}
			dst = append(dst, lit...)
		case code != -128:
			v, err := br.ReadByte()
			if err != nil {
				return nil, err
			}
			for i := 0; i < 1-code; i++ {
				dst = append(dst, v)
			}
		}
	}
	if len(dst) < want {
		return nil, fmt.Errorf("packbits block holds %d bytes, expected %d", len(dst), want)
	}
	return dst[:want], nil
}

// undoPredictor reverses horizontal differencing on a block of rows.
func undoPredictor(buf []byte, order binary.ByteOrder, width, samples, nb int) {
	rowLen := width * samples * nb
	for start := 0; start+rowLen <= len(buf); start += rowLen {
		row := buf[start : start+rowLen]
		for i := samples * nb; i < rowLen; i += nb {
			prev := i - samples*nb
			switch nb {
			case 1:
				row[i] += row[prev]
			case 2:
				order.PutUint16(row[i:], order.Uint16(row[i:])+order.Uint16(row[prev:]))
			case 4:
				order.PutUint32(row[i:], order.Uint32(row[i:])+order.Uint32(row[prev:]))
			case 8:
				order.PutUint64(row[i:], order.Uint64(row[i:])+order.Uint64(row[prev:]))
			}
		}
	}
}

// decodeTIFF reads the first image of a TIFF file into a band-major array.  Any
// number of samples per pixel is supported for chunky or planar data stored in
// strips or tiles.
func decodeTIFF(r io.ReaderAt, size int64) (*rda.Array, error) {
	d, err := parseTIFF(r, size)
	if err != nil {
		return nil, err
	}
	width := int(d.first(tagImageWidth, 0))
	height := int(d.first(tagImageLength, 0))
	if width <= 0 || height <= 0 || width > maxTIFFSide || height > maxTIFFSide {
		return nil, fmt.Errorf("TIFF has bad dimensions %d x %d", width, height)
	}
	samples := int(d.first(tagSamplesPerPixel, 1))
	if samples <= 0 || samples > maxTIFFSamples {
		return nil, fmt.Errorf("TIFF has bad samples per pixel %d", samples)
	}
	bits := d.tags[tagBitsPerSample]
	if len(bits) == 0 {
		bits = []uint64{1}
	}
	for _, b := range bits[1:] {
		if b != bits[0] {
			return nil, tiffUnsupported("mixed bits per sample")
		}
	}
	dtype, err := tiffDataType(bits[0], d.first(tagSampleFormat, 1))
	if err != nil {
		return nil, err
	}
	if d.first(tagPhotometric, 1) == 3 {
		return nil, tiffUnsupported("palette images")
	}
	nb := dtype.Bytes()
	if total := int64(samples) * int64(height) * int64(width) * int64(nb); total > maxTIFFBytes {
		return nil, fmt.Errorf("TIFF declares %d bytes of samples, more than %d", total, maxTIFFBytes)
	}
	comp := d.first(tagCompression, compNone)
	predictor := d.first(tagPredictor, 1)
	if predictor != 1 && predictor != 2 {
		return nil, tiffUnsupported(fmt.Sprintf("predictor %d", predictor))
	}
	planar := d.first(tagPlanarConfig, 1) == 2

	var bw, bh int
	var offsets, counts []uint64
	tiled := false
	if _, found := d.tags[tagTileWidth]; found {
		tiled = true
		bw = int(d.first(tagTileWidth, 0))
		bh = int(d.first(tagTileLength, 0))
		offsets, counts = d.tags[tagTileOffsets], d.tags[tagTileByteCounts]
	} else {
		bw = width
		bh = int(d.first(tagRowsPerStrip, uint64(height)))
		if bh > height {
			bh = height
		}
		offsets, counts = d.tags[tagStripOffsets], d.tags[tagStripByteCounts]
	}
	if bw <= 0 || bh <= 0 || bw > maxTIFFSide || bh > maxTIFFSide {
		return nil, fmt.Errorf("TIFF has bad block size %d x %d", bw, bh)
	}
	across := (width + bw - 1) / bw
	down := (height + bh - 1) / bh
	planes, perPixel := 1, samples
	if planar {
		planes, perPixel = samples, 1
	}
	if blockBytes := int64(bw) * int64(bh) * int64(perPixel) * int64(nb); blockBytes > maxTIFFBytes {
		return nil, fmt.Errorf("TIFF block of %d x %d declares %d bytes, more than %d", bw, bh, blockBytes, maxTIFFBytes)
	}
	nblocks := across * down * planes
	if len(offsets) < nblocks || len(counts) < nblocks {
		return nil, fmt.Errorf("TIFF lists %d blocks, expected %d", len(offsets), nblocks)
	}

	out := rda.NewArray(samples, height, width, dtype)
	bigEndian := d.order == binary.BigEndian
	for plane := 0; plane < planes; plane++ {
		for by := 0; by < down; by++ {
			rows := bh
			if !tiled && (by+1)*bh > height {
				rows = height - by*bh
			}
			for bx := 0; bx < across; bx++ {
				i := plane*across*down + by*across + bx
				buf, err := d.block(offsets[i], counts[i], comp, bw*rows*perPixel*nb)
				if err != nil {
					return nil, err
				}
				if predictor == 2 {
					undoPredictor(buf, d.order, bw, perPixel, nb)
				}
				for r := 0; r < rows; r++ {
					y := by*bh + r
					if y >= height {
						break
					}
					for c := 0; c < bw; c++ {
						x := bx*bw + c
						if x >= width {
							break
						}
						for s := 0; s < perPixel; s++ {
							band := s
							if planar {
								band = plane
							}
							src := buf[((r*bw+c)*perPixel+s)*nb:]
							dst := out.Data[((band*height+y)*width+x)*nb:]
							copyElem(dst, src, nb, bigEndian)
						}
					}
				}
			}
		}
	}
	return out, nil
}

func copyElem(dst, src []byte, nb int, swap bool) {
	if !swap {
		copy(dst[:nb], src[:nb])
		return
	}
	for i := 0; i < nb; i++ {
		dst[i] = src[nb-1-i]
	}
}
