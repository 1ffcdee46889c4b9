package tiles

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"sort"

	"github.com/klauspost/compress/zlib"

	"github.com/geogenius/rda/rda"
)

type ifdField struct {
	tag  uint16
	typ  uint16
	vals []uint32
}

func sampleFormat(t rda.DataType) uint32 {
	switch t {
	case rda.T_int8, rda.T_int16, rda.T_int32:
		return 2
	case rda.T_float32, rda.T_float64:
		return 3
	}
	return 1
}

// EncodeTIFF writes a little-endian planar TIFF holding one strip per band.  Any
// band count and data type of the array is preserved, so the output can be read
// back by the tile decoder without loss.
func EncodeTIFF(w io.Writer, a *rda.Array, deflate bool) error {
	if err := a.Verify(); err != nil {
		return err
	}
	if a.Bands == 0 {
		return fmt.Errorf("cannot encode array without bands")
	}
	planeBytes := a.Height * a.Width * a.Type.Bytes()
	strips := make([][]byte, a.Bands)
	for b := 0; b < a.Bands; b++ {
		plane := a.Data[b*planeBytes : (b+1)*planeBytes]
		if !deflate {
			strips[b] = plane
			continue
		}
		var buf bytes.Buffer
		zw := zlib.NewWriter(&buf)
		if _, err := zw.Write(plane); err != nil {
			return err
		}
		if err := zw.Close(); err != nil {
			return err
		}
		strips[b] = buf.Bytes()
	}

	offset := uint32(8)
	stripOffsets := make([]uint32, a.Bands)
	stripCounts := make([]uint32, a.Bands)
	for b, s := range strips {
		stripOffsets[b] = offset
		stripCounts[b] = uint32(len(s))
		offset += uint32(len(s))
	}
	if offset%2 == 1 {
		offset++
	}
	comp := uint32(compNone)
	if deflate {
		comp = compDeflate
	}
	repeat := func(v uint32) []uint32 {
		out := make([]uint32, a.Bands)
		for i := range out {
			out[i] = v
		}
		return out
	}
	fields := []ifdField{
		{tagImageWidth, dtLong, []uint32{uint32(a.Width)}},
		{tagImageLength, dtLong, []uint32{uint32(a.Height)}},
		{tagBitsPerSample, dtShort, repeat(uint32(8 * a.Type.Bytes()))},
		{tagCompression, dtShort, []uint32{comp}},
		{tagPhotometric, dtShort, []uint32{1}},
		{tagStripOffsets, dtLong, stripOffsets},
		{tagSamplesPerPixel, dtShort, []uint32{uint32(a.Bands)}},
		{tagRowsPerStrip, dtLong, []uint32{uint32(a.Height)}},
		{tagStripByteCounts, dtLong, stripCounts},
		{tagPlanarConfig, dtShort, []uint32{2}},
		{tagSampleFormat, dtShort, repeat(sampleFormat(a.Type))},
	}
	sort.Slice(fields, func(i, j int) bool { return fields[i].tag < fields[j].tag })

	le := binary.LittleEndian
	ifdSize := 2 + 12*len(fields) + 4
	extraOffset := offset + uint32(ifdSize)
	var ifd, extra bytes.Buffer
	var scratch [4]byte
	le.PutUint16(scratch[:2], uint16(len(fields)))
	ifd.Write(scratch[:2])
	for _, f := range fields {
		size := typeSizes[f.typ]
		var entry [12]byte
		le.PutUint16(entry[0:], f.tag)
		le.PutUint16(entry[2:], f.typ)
		le.PutUint32(entry[4:], uint32(len(f.vals)))
		data := make([]byte, size*len(f.vals))
		for i, v := range f.vals {
			if f.typ == dtShort {
				le.PutUint16(data[2*i:], uint16(v))
			} else {
				le.PutUint32(data[4*i:], v)
			}
		}
		if len(data) <= 4 {
			copy(entry[8:], data)
		} else {
			le.PutUint32(entry[8:], extraOffset+uint32(extra.Len()))
			extra.Write(data)
		}
		ifd.Write(entry[:])
	}
	le.PutUint32(scratch[:], 0)
	ifd.Write(scratch[:])

	header := []byte{'I', 'I', 42, 0, 0, 0, 0, 0}
	le.PutUint32(header[4:], offset)
	if _, err := w.Write(header); err != nil {
		return err
	}
	written := uint32(8)
	for _, s := range strips {
		if _, err := w.Write(s); err != nil {
			return err
		}
		written += uint32(len(s))
	}
	if written < offset {
		if _, err := w.Write([]byte{0}); err != nil {
			return err
		}
	}
	if _, err := w.Write(ifd.Bytes()); err != nil {
		return err
	}
	_, err := w.Write(extra.Bytes())
	return err
}
