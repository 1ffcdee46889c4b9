package patch

import (
	"bufio"
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"strings"

	"github.com/blang/semver"
	"golang.org/x/image/tiff"

	"github.com/geogenius/rda/rda"
	"github.com/geogenius/rda/tiles"
)

const formatMagic = "RDAPATCH"

// Chunk size limits when reading a saved patch set.
const (
	maxHeaderChunk = 1 << 20
	maxPatchChunk  = 1 << 30
)

// FormatVersion is written at the head of every saved patch set.  Files with a
// different major version cannot be opened.
var FormatVersion = semver.MustParse("1.1.0")

type savedHeader struct {
	Total       rda.Shape2d `json:"total"`
	Tile        rda.Shape2d `json:"tile"`
	Step        rda.Shape2d `json:"step"`
	Rows        int         `json:"rows"`
	Cols        int         `json:"cols"`
	Compression string      `json:"compression"`
}

// Saved is a patch grid read back from storage.
type Saved struct {
	Version semver.Version
	Plan    *SplitPlan
	Index   *Grid
}

// Merge stitches the saved grid.
func (s *Saved) Merge(method MergeMethod, padding int) (*rda.Array, error) {
	return Merge(s.Index, s.Plan.Total, s.Plan.Tile, s.Plan.Step, MergeOptions{Method: method, Padding: padding})
}

// Save writes every patch of the set, loading pending ones first.
func (ps *PatchSet) Save(ctx context.Context, w io.Writer, compress rda.Compression) error {
	grid, err := ps.Index(ctx)
	if err != nil {
		return err
	}
	return WriteGrid(w, ps.plan, grid, compress)
}

// WriteGrid writes a plan and its patch grid in the versioned patch format.  Each
// patch is stored as a compressed, checksummed payload, row-major.
func WriteGrid(w io.Writer, plan *SplitPlan, grid *Grid, compress rda.Compression) error {
	rows, cols := plan.Grid()
	if grid.Rows != rows || grid.Cols != cols {
		return fmt.Errorf("grid is %d x %d but plan has %d x %d windows", grid.Rows, grid.Cols, rows, cols)
	}
	bw := bufio.NewWriter(w)
	if _, err := fmt.Fprintf(bw, "%s %s\n", formatMagic, FormatVersion); err != nil {
		return err
	}
	hdr, err := json.Marshal(savedHeader{
		Total: plan.Total, Tile: plan.Tile, Step: plan.Step,
		Rows: rows, Cols: cols, Compression: compress.String(),
	})
	if err != nil {
		return err
	}
	if err := writeChunk(bw, hdr); err != nil {
		return err
	}
	var written uint64
	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			a := grid.At(r, c)
			if a == nil {
				return fmt.Errorf("%w: patch (%d, %d) is missing", rda.ErrUnsupportedMergeInput, r, c)
			}
			payload := make([]byte, 16+len(a.Data))
			binary.LittleEndian.PutUint32(payload[0:], uint32(a.Bands))
			binary.LittleEndian.PutUint32(payload[4:], uint32(a.Height))
			binary.LittleEndian.PutUint32(payload[8:], uint32(a.Width))
			binary.LittleEndian.PutUint32(payload[12:], uint32(a.Type))
			copy(payload[16:], a.Data)
			ser, err := rda.SerializeData(payload, compress, rda.CRC32)
			if err != nil {
				return fmt.Errorf("serializing patch (%d, %d): %v", r, c, err)
			}
			if err := writeChunk(bw, ser); err != nil {
				return err
			}
			written += uint64(len(ser))
		}
	}
	rda.Debugf("wrote %d patches, %d payload bytes\n", rows*cols, written)
	return bw.Flush()
}

// Open reads a patch set written by Save or WriteGrid.
func Open(r io.Reader) (*Saved, error) {
	br := bufio.NewReader(r)
	line, err := br.ReadString('\n')
	if err != nil {
		return nil, fmt.Errorf("reading patch set header: %v", err)
	}
	fields := strings.Fields(line)
	if len(fields) != 2 || fields[0] != formatMagic {
		return nil, fmt.Errorf("not a saved patch set")
	}
	version, err := semver.Parse(fields[1])
	if err != nil {
		return nil, fmt.Errorf("bad patch set version %q: %v", fields[1], err)
	}
	if version.Major != FormatVersion.Major {
		return nil, fmt.Errorf("patch set version %s is incompatible with %s", version, FormatVersion)
	}
	hdrBytes, err := readChunk(br, maxHeaderChunk)
	if err != nil {
		return nil, err
	}
	var hdr savedHeader
	if err := json.Unmarshal(hdrBytes, &hdr); err != nil {
		return nil, fmt.Errorf("decoding patch set header: %v", err)
	}
	plan, err := NewSplitter(hdr.Total, hdr.Tile, hdr.Step)
	if err != nil {
		return nil, err
	}
	if rows, cols := plan.Grid(); rows != hdr.Rows || cols != hdr.Cols {
		return nil, fmt.Errorf("patch set header lists %d x %d patches, plan gives %d x %d", hdr.Rows, hdr.Cols, rows, cols)
	}
	grid := GridFor(plan)
	for row := 0; row < hdr.Rows; row++ {
		for col := 0; col < hdr.Cols; col++ {
			ser, err := readChunk(br, maxPatchChunk)
			if err != nil {
				return nil, fmt.Errorf("reading patch (%d, %d): %v", row, col, err)
			}
			payload, _, err := rda.DeserializeData(ser)
			if err != nil {
				return nil, fmt.Errorf("patch (%d, %d): %v", row, col, err)
			}
			if len(payload) < 16 {
				return nil, fmt.Errorf("patch (%d, %d) payload is truncated", row, col)
			}
			dtype := binary.LittleEndian.Uint32(payload[12:])
			if dtype > math.MaxUint8 || !rda.DataType(dtype).Valid() {
				return nil, fmt.Errorf("patch (%d, %d) has unknown data type %d", row, col, dtype)
			}
			a := &rda.Array{
				Bands:  int(binary.LittleEndian.Uint32(payload[0:])),
				Height: int(binary.LittleEndian.Uint32(payload[4:])),
				Width:  int(binary.LittleEndian.Uint32(payload[8:])),
				Type:   rda.DataType(dtype),
				Data:   payload[16:],
			}
			if err := a.Verify(); err != nil {
				return nil, fmt.Errorf("patch (%d, %d): %v", row, col, err)
			}
			grid.Set(row, col, a)
		}
	}
	return &Saved{Version: version, Plan: plan, Index: grid}, nil
}

func writeChunk(w io.Writer, b []byte) error {
	var n [4]byte
	binary.LittleEndian.PutUint32(n[:], uint32(len(b)))
	if _, err := w.Write(n[:]); err != nil {
		return err
	}
	_, err := w.Write(b)
	return err
}

// readChunk reads one length-prefixed chunk of at most limit bytes.  The buffer
// grows with the bytes actually read, not the declared length.
func readChunk(r io.Reader, limit int64) ([]byte, error) {
	var n [4]byte
	if _, err := io.ReadFull(r, n[:]); err != nil {
		return nil, err
	}
	size := int64(binary.LittleEndian.Uint32(n[:]))
	if size > limit {
		return nil, fmt.Errorf("chunk of %d bytes exceeds limit of %d", size, limit)
	}
	var buf bytes.Buffer
	if _, err := io.CopyN(&buf, r, size); err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return nil, err
	}
	return buf.Bytes(), nil
}

// ExportTIFF writes an array as a deflate-compressed TIFF.  Single-band and
// four-band uint8 or uint16 arrays are written as standard gray or RGBA images;
// everything else is written as a planar multi-sample TIFF.
func ExportTIFF(w io.Writer, a *rda.Array) error {
	if err := a.Verify(); err != nil {
		return err
	}
	img := tiles.ToImage(a)
	if img == nil {
		return tiles.EncodeTIFF(w, a, true)
	}
	return tiff.Encode(w, img, &tiff.Options{Compression: tiff.Deflate, Predictor: false})
}
