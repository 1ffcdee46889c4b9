package patch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/geogenius/rda/rda"
)

// arraySource serves windows of an in-memory array.
type arraySource struct {
	a     *rda.Array
	reads int32
	fail  rda.PixelWindow

	// wantValue, if set, must be carried by the context of every read.
	wantValue interface{}
}

type sourceKey struct{}

func (s *arraySource) Shape() [3]int          { return s.a.Shape() }
func (s *arraySource) DataType() rda.DataType { return s.a.Type }

func (s *arraySource) Read(ctx context.Context, win rda.PixelWindow) (*rda.Array, error) {
	atomic.AddInt32(&s.reads, 1)
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("read of %s: %w", win, err)
	}
	if s.wantValue != nil && ctx.Value(sourceKey{}) != s.wantValue {
		return nil, fmt.Errorf("read of %s ran under the wrong context", win)
	}
	if win == s.fail {
		return nil, fmt.Errorf("read of %s: %w", win, rda.ErrFetchExhausted)
	}
	return s.a.Subarray(win)
}

func TestPatchSetLoadAndMerge(t *testing.T) {
	src := &arraySource{a: makeRamp(3, 50, 37)}
	plan, err := NewSplitter([]int{50, 37}, 16, 12)
	if err != nil {
		t.Fatalf("Unable to split: %v\n", err)
	}
	ps, err := New(src, plan, Options{})
	if err != nil {
		t.Fatalf("Unable to create patch set: %v\n", err)
	}
	if n := atomic.LoadInt32(&src.reads); n != 0 {
		t.Errorf("Expected no reads before loading, got %d\n", n)
	}
	if err := ps.Load(context.Background(), 4); err != nil {
		t.Fatalf("Unable to load: %v\n", err)
	}
	if n := atomic.LoadInt32(&src.reads); int(n) != plan.Len() {
		t.Errorf("Expected %d reads, got %d\n", plan.Len(), n)
	}
	rows, cols := plan.Grid()
	edge, err := ps.Patch(rows-1, cols-1).Get(context.Background())
	if err != nil {
		t.Fatalf("Unable to get edge patch: %v\n", err)
	}
	if edge.Height != 16 || edge.Width != 16 {
		t.Errorf("Expected edge patch padded to 16x16, got %s\n", edge)
	}
	for _, method := range []MergeMethod{MergeFirst, MergeLast} {
		out, err := ps.Merge(context.Background(), method, 0)
		if err != nil {
			t.Fatalf("Unable to merge: %v\n", err)
		}
		if !bytes.Equal(out.Data, src.a.Data) {
			t.Errorf("Merged %s patch set differs from source\n", method)
		}
	}
	if n := atomic.LoadInt32(&src.reads); int(n) != plan.Len() {
		t.Errorf("Expected merges to reuse loaded patches, got %d reads\n", n)
	}
}

func TestPatchSetChecks(t *testing.T) {
	src := &arraySource{a: makeRamp(1, 20, 20)}
	plan, _ := NewSplitter(30, 10, 10)
	if _, err := New(src, plan, Options{}); !errors.Is(err, rda.ErrInvalidShape) {
		t.Errorf("Expected total shape mismatch to fail, got %v\n", err)
	}
	plan, _ = NewSplitter(20, 5, 10)
	if _, err := New(src, plan, Options{}); !errors.Is(err, rda.ErrInvalidShape) {
		t.Errorf("Expected step larger than tile to fail, got %v\n", err)
	}
}

func TestPatchSetLoadFailure(t *testing.T) {
	src := &arraySource{a: makeRamp(1, 20, 20), fail: rda.PixelWindow{MinX: 10, MinY: 10, MaxX: 20, MaxY: 20}}
	plan, _ := NewSplitter(20, 10, 10)
	ps, err := New(src, plan, Options{})
	if err != nil {
		t.Fatalf("Unable to create patch set: %v\n", err)
	}
	if err := ps.Load(context.Background(), 1); !errors.Is(err, rda.ErrFetchExhausted) {
		t.Errorf("Expected load to surface fetch failure, got %v\n", err)
	}
	if _, err := ps.Merge(context.Background(), MergeLast, 0); !errors.Is(err, rda.ErrFetchExhausted) {
		t.Errorf("Expected merge to fail rather than write undefined data, got %v\n", err)
	}
}

func TestPatchSetReadsUseCallContext(t *testing.T) {
	src := &arraySource{a: makeRamp(1, 20, 20), wantValue: "load"}
	plan, _ := NewSplitter(20, 10, 10)
	ps, err := New(src, plan, Options{})
	if err != nil {
		t.Fatalf("Unable to create patch set: %v\n", err)
	}

	cancelled, cancel := context.WithCancel(context.WithValue(context.Background(), sourceKey{}, "load"))
	cancel()
	if err := ps.Load(cancelled, 2); !errors.Is(err, context.Canceled) {
		t.Errorf("Expected cancelled load to fail with context.Canceled, got %v\n", err)
	}
	if ps.Patch(0, 0).Loaded() {
		t.Errorf("Cancelled load should leave patches pending\n")
	}

	ctx := context.WithValue(context.Background(), sourceKey{}, "load")
	if err := ps.Load(ctx, 2); err != nil {
		t.Fatalf("Expected load after cancellation to succeed: %v\n", err)
	}
	out, err := ps.Merge(ctx, MergeLast, 0)
	if err != nil {
		t.Fatalf("Unable to merge: %v\n", err)
	}
	if !bytes.Equal(out.Data, src.a.Data) {
		t.Errorf("Merged patch set differs from source\n")
	}
}

func TestSaveAndOpen(t *testing.T) {
	src := &arraySource{a: makeRamp(2, 30, 25)}
	plan, _ := NewSplitter([]int{30, 25}, 12, 10)
	ps, err := New(src, plan, Options{Fill: 5})
	if err != nil {
		t.Fatalf("Unable to create patch set: %v\n", err)
	}
	for _, compress := range []rda.Compression{rda.Uncompressed, rda.Snappy, rda.LZ4, rda.Zstd} {
		var buf bytes.Buffer
		if err := ps.Save(context.Background(), &buf, compress); err != nil {
			t.Fatalf("Unable to save with %s: %v\n", compress, err)
		}
		saved, err := Open(&buf)
		if err != nil {
			t.Fatalf("Unable to open %s patch set: %v\n", compress, err)
		}
		if !saved.Version.Equals(FormatVersion) {
			t.Errorf("Expected version %s, got %s\n", FormatVersion, saved.Version)
		}
		if saved.Plan.Len() != plan.Len() || saved.Plan.Step != plan.Step {
			t.Errorf("Reopened plan differs: %s\n", saved.Plan)
		}
		edge := saved.Index.At(2, 2)
		if edge == nil || edge.Value(0, 11, 11) != 5 {
			t.Errorf("Expected padded edge patch with fill 5\n")
		}
		out, err := saved.Merge(MergeFirst, 0)
		if err != nil {
			t.Fatalf("Unable to merge reopened set: %v\n", err)
		}
		if !bytes.Equal(out.Data, src.a.Data) {
			t.Errorf("Reopened %s patch set does not merge to the source\n", compress)
		}
	}

	if _, err := Open(bytes.NewBufferString("RDAPATCH 2.0.0\n")); err == nil {
		t.Errorf("Expected incompatible major version to fail\n")
	}
	if _, err := Open(bytes.NewBufferString("GARBAGE\n")); err == nil {
		t.Errorf("Expected bad magic to fail\n")
	}
}

func TestOpenCorrupt(t *testing.T) {
	plan, _ := NewSplitter(2, 2, 2)
	grid := GridFor(plan)
	grid.Set(0, 0, &rda.Array{Bands: 1, Height: 2, Width: 2, Type: rda.DataType(200)})
	var buf bytes.Buffer
	if err := WriteGrid(&buf, plan, grid, rda.Uncompressed); err != nil {
		t.Fatalf("Unable to write grid: %v\n", err)
	}
	if _, err := Open(&buf); err == nil {
		t.Errorf("Expected unknown data type to be rejected\n")
	}

	// A chunk claiming 4 GiB in a tiny file.
	huge := []byte("RDAPATCH " + FormatVersion.String() + "\n\xff\xff\xff\xff{}")
	if _, err := Open(bytes.NewReader(huge)); err == nil {
		t.Errorf("Expected oversized header chunk to be rejected\n")
	}
	short := []byte("RDAPATCH " + FormatVersion.String() + "\n\x10\x00\x00\x00{}")
	if _, err := Open(bytes.NewReader(short)); err == nil {
		t.Errorf("Expected truncated header chunk to be rejected\n")
	}
}

func TestExportTIFF(t *testing.T) {
	for _, a := range []*rda.Array{
		rda.NewArray(1, 4, 5, rda.T_uint8),
		rda.NewArray(4, 4, 5, rda.T_uint16),
		makeRamp(3, 4, 5),
	} {
		a.SetValue(0, 3, 4, 9)
		var buf bytes.Buffer
		if err := ExportTIFF(&buf, a); err != nil {
			t.Errorf("Unable to export %s: %v\n", a, err)
			continue
		}
		if !bytes.HasPrefix(buf.Bytes(), []byte("II*\x00")) {
			t.Errorf("Export of %s is not a little-endian TIFF\n", a)
		}
	}
}
