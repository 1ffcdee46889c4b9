package raster

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/geogenius/rda/graph"
	"github.com/geogenius/rda/patch"
	"github.com/geogenius/rda/rda"
	"github.com/geogenius/rda/service"
	"github.com/geogenius/rda/tiles"
)

// The test grid has 4x4 tiles, tile columns 1..3 and tile rows 2..3.  The logical
// image covers absolute pixels x in [6, 13] and y in [9, 14].
const rasterMetadata = `{
	"image": {
		"numBands": %d, "tileXSize": 4, "tileYSize": 4,
		"minTileX": 1, "maxTileX": 3, "minTileY": 2, "maxTileY": 3,
		"minX": 6, "maxX": 13, "minY": 9, "maxY": 14,
		"dataType": "UNSIGNED_SHORT", "nodata": [0, 65535]
	},
	"georef": {
		"translateX": 100, "scaleX": 2, "shearX": 0,
		"translateY": 50, "shearY": 0, "scaleY": -2,
		"spatialReferenceSystemCode": "EPSG:32650"
	}
}`

// pixelValue encodes absolute pixel coordinates so reads can be checked.
func pixelValue(band, y, x int) float64 {
	return float64(band*2000 + y*100 + x)
}

type computeService struct {
	t *testing.T

	mu     sync.Mutex
	graphs map[string]*graph.Graph
	tiles  int
}

func newComputeService(t *testing.T) *computeService {
	return &computeService{t: t, graphs: make(map[string]*graph.Graph)}
}

func (s *computeService) bands(gid string) int {
	if gid == "g-BandSelect" {
		return 1
	}
	return 2
}

func (s *computeService) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	switch {
	case r.URL.Path == "/graph" && r.Method == http.MethodPost:
		var g graph.Graph
		body, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(body, &g); err != nil || len(g.Nodes) == 0 {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		gid := "g-" + g.Nodes[0].Operator
		s.mu.Lock()
		s.graphs[gid] = &g
		s.mu.Unlock()
		w.WriteHeader(http.StatusCreated)
		fmt.Fprintf(w, `{"graphId":%q}`, gid)
	case len(parts) == 2 && parts[0] == "graph":
		s.mu.Lock()
		g, found := s.graphs[parts[1]]
		s.mu.Unlock()
		if !found {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		json.NewEncoder(w).Encode(g)
	case len(parts) >= 3 && parts[0] == "rda" && parts[1] == "meta":
		if parts[2] == "g-missing" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		fmt.Fprintf(w, rasterMetadata, s.bands(parts[2]))
	case len(parts) == 6 && parts[0] == "rda" && parts[1] == "read":
		var col, row int
		if _, err := fmt.Sscanf(parts[4]+" "+strings.TrimSuffix(parts[5], ".TIF"), "%d %d", &col, &row); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		s.mu.Lock()
		s.tiles++
		s.mu.Unlock()
		bands := s.bands(parts[2])
		a := rda.NewArray(bands, 4, 4, rda.T_uint16)
		for b := 0; b < bands; b++ {
			for y := 0; y < 4; y++ {
				for x := 0; x < 4; x++ {
					a.SetValue(b, y, x, pixelValue(b, row*4+y, col*4+x))
				}
			}
		}
		if err := tiles.EncodeTIFF(w, a, false); err != nil {
			s.t.Errorf("Unable to encode tile: %v\n", err)
		}
	case r.URL.Path == "/catalog/metadata":
		switch id := r.URL.Query().Get("dataId"); id {
		case "cat-a", "cat-b":
			fmt.Fprintf(w, `{"sourceType":"obs1","dataUrl":"obs://bucket/%s.tif"}`, id)
		case "cat-ftp":
			w.Write([]byte(`{"sourceType":"ftp","dataUrl":"ftp://x"}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	default:
		s.t.Errorf("Unexpected request %s %s\n", r.Method, r.URL)
		w.WriteHeader(http.StatusTeapot)
	}
}

func (s *computeService) tileRequests() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tiles
}

func (s *computeService) registered(gid string) *graph.Graph {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.graphs[gid]
}

func newTestClient(t *testing.T) (*Client, *computeService) {
	t.Helper()
	fake := newComputeService(t)
	ts := httptest.NewServer(fake)
	t.Cleanup(ts.Close)
	svc := service.NewClient(service.Config{Endpoint: ts.URL})
	if err := svc.Open(context.Background()); err != nil {
		t.Fatalf("Unable to open service client: %v\n", err)
	}
	t.Cleanup(func() { svc.Close() })
	fetcher := tiles.NewFetcher(tiles.Config{MaxRetries: 2, MinBackoff: time.Millisecond}, nil, nil)
	return NewClient(svc, svc, fetcher), fake
}

func openTestImage(t *testing.T) (*Image, *computeService) {
	t.Helper()
	c, fake := newTestClient(t)
	img, err := c.OBSImage(context.Background(), "obs://bucket/scene.tif", graph.ReprojectOptions{})
	if err != nil {
		t.Fatalf("Unable to open image: %v\n", err)
	}
	return img, fake
}

// checkPixels verifies a (rows, cols) array read at image offset (x0, y0) of an
// image whose upper left pixel is absolute (absX, absY).
func checkPixels(t *testing.T, a *rda.Array, absX, absY int) {
	t.Helper()
	for b := 0; b < a.Bands; b++ {
		for y := 0; y < a.Height; y++ {
			for x := 0; x < a.Width; x++ {
				expected := pixelValue(b, absY+y, absX+x)
				if got := a.Value(b, y, x); got != expected {
					t.Fatalf("Band %d pixel (%d, %d): expected %g, got %g\n", b, y, x, expected, got)
				}
			}
		}
	}
}

func TestOpenImage(t *testing.T) {
	img, _ := openTestImage(t)
	if img.GraphID() != "g-GdalImageRead" {
		t.Errorf("Unexpected graph id %q\n", img.GraphID())
	}
	if shape := img.Shape(); shape != [3]int{2, 6, 8} {
		t.Errorf("Expected shape [2 6 8], got %v\n", shape)
	}
	if img.DataType() != rda.T_uint16 {
		t.Errorf("Expected uint16 image, got %s\n", img.DataType())
	}
	if img.Proj() != "EPSG:32650" {
		t.Errorf("Unexpected projection %q\n", img.Proj())
	}
	if n := img.NTiles(); n != 4 {
		t.Errorf("Expected 4 tiles, got %d\n", n)
	}
	aff := img.Affine()
	if aff.C != 112 || aff.F != 32 || aff.A != 2 || aff.E != -2 {
		t.Errorf("Unexpected image transform %s\n", aff)
	}
	if b := img.Bounds(); b != (Bounds{112, 20, 128, 32}) {
		t.Errorf("Unexpected bounds %s\n", b)
	}
	if v, err := img.NoData(1); err != nil || v != 65535 {
		t.Errorf("Expected nodata 65535 for band 1, got %g, %v\n", v, err)
	}
	if _, err := img.NoData(2); err == nil {
		t.Errorf("Expected error for nodata of band 2\n")
	}
	if nd := img.NoDataAll(); len(nd) != 2 || nd[0] != 0 {
		t.Errorf("Unexpected nodata values %v\n", nd)
	}
}

func TestReadImage(t *testing.T) {
	img, fake := openTestImage(t)
	ctx := context.Background()

	a, err := img.ReadAll(ctx)
	if err != nil {
		t.Fatalf("Unable to read image: %v\n", err)
	}
	if a.Shape() != img.Shape() {
		t.Fatalf("Read returned shape %v, expected %v\n", a.Shape(), img.Shape())
	}
	checkPixels(t, a, 6, 9)
	if n := fake.tileRequests(); n != 6 {
		t.Errorf("Expected 6 tile requests, got %d\n", n)
	}

	// A sub-window inside one tile reuses the cached tile.
	a, err = img.Read(ctx, rda.PixelWindow{MinX: 3, MinY: 0, MaxX: 5, MaxY: 2})
	if err != nil {
		t.Fatalf("Unable to read window: %v\n", err)
	}
	checkPixels(t, a, 9, 9)
	if n := fake.tileRequests(); n != 6 {
		t.Errorf("Expected cached tiles to be reused, got %d requests\n", n)
	}

	_, err = img.Read(ctx, rda.PixelWindow{MinX: 4, MinY: 0, MaxX: 9, MaxY: 2})
	if !errors.Is(err, rda.ErrInvalidShape) {
		t.Errorf("Expected invalid shape reading past the image, got %v\n", err)
	}
}

func TestCropAndAOI(t *testing.T) {
	img, _ := openTestImage(t)
	ctx := context.Background()

	sub, err := img.AOI(Bounds{116, 24, 120, 28})
	if err != nil {
		t.Fatalf("Unable to crop to bounds: %v\n", err)
	}
	if shape := sub.Shape(); shape != [3]int{2, 2, 2} {
		t.Fatalf("Expected AOI shape [2 2 2], got %v\n", shape)
	}
	if b := sub.Bounds(); b != (Bounds{116, 24, 120, 28}) {
		t.Errorf("Unexpected AOI bounds %s\n", b)
	}
	a, err := sub.ReadAll(ctx)
	if err != nil {
		t.Fatalf("Unable to read AOI: %v\n", err)
	}
	checkPixels(t, a, 8, 11)

	if _, err := img.AOI(Bounds{0, 0, 10, 10}); !errors.Is(err, rda.ErrAoiDisjoint) {
		t.Errorf("Expected disjoint AOI error, got %v\n", err)
	}

	// Crops are clipped to the image and leave the original untouched.
	crop, err := img.Crop(rda.PixelWindow{MinX: 6, MinY: 4, MaxX: 20, MaxY: 20})
	if err != nil {
		t.Fatalf("Unable to crop: %v\n", err)
	}
	if shape := crop.Shape(); shape != [3]int{2, 2, 2} {
		t.Errorf("Expected clipped crop shape [2 2 2], got %v\n", shape)
	}
	if a, err = crop.ReadAll(ctx); err != nil {
		t.Fatalf("Unable to read crop: %v\n", err)
	}
	checkPixels(t, a, 12, 13)
	if shape := img.Shape(); shape != [3]int{2, 6, 8} {
		t.Errorf("Crop modified the original image: %v\n", shape)
	}
	if _, err := img.Crop(rda.PixelWindow{MinX: 8, MinY: 0, MaxX: 10, MaxY: 2}); !errors.Is(err, rda.ErrAoiDisjoint) {
		t.Errorf("Expected crop outside image to fail, got %v\n", err)
	}
}

func TestShift(t *testing.T) {
	img, _ := openTestImage(t)
	moved := img.Shift(10, -5)
	if aff := moved.Affine(); aff.C != 122 || aff.F != 27 {
		t.Errorf("Unexpected shifted transform %s\n", aff)
	}
	if aff := img.Affine(); aff.C != 112 || aff.F != 32 {
		t.Errorf("Shift modified the original image: %s\n", aff)
	}
}

func TestDerivedImages(t *testing.T) {
	img, fake := openTestImage(t)
	ctx := context.Background()

	dra, err := img.HistogramDRA(ctx)
	if err != nil {
		t.Fatalf("Unable to derive DRA image: %v\n", err)
	}
	g := fake.registered(string(dra.GraphID()))
	if g == nil || len(g.Nodes) != 2 || g.Nodes[0].Operator != graph.OpHistogramDRA || len(g.Edges) != 1 {
		t.Errorf("Unexpected DRA registration %+v\n", g)
	}

	bands, err := img.BandSelect(ctx, []int{1})
	if err != nil {
		t.Fatalf("Unable to select band: %v\n", err)
	}
	if bands.Shape()[0] != 1 {
		t.Errorf("Expected 1 band after selection, got %v\n", bands.Shape())
	}
	a, err := bands.Read(ctx, rda.PixelWindow{MaxX: 2, MaxY: 2})
	if err != nil {
		t.Fatalf("Unable to read selected band: %v\n", err)
	}
	checkPixels(t, a, 6, 9)
	if _, err := img.BandSelect(ctx, []int{2}); err == nil {
		t.Errorf("Expected error selecting band 2 of 2\n")
	}

	stretched, err := img.HistogramStretch(ctx, 2, 98)
	if err != nil {
		t.Fatalf("Unable to stretch: %v\n", err)
	}
	if p, _ := stretched.Node().Param("stretch"); p != "[2,98]" {
		t.Errorf("Unexpected stretch parameter %q\n", p)
	}
}

func TestFromGraph(t *testing.T) {
	c, _ := newTestClient(t)
	ctx := context.Background()
	img, err := c.OBSImage(ctx, "obs://bucket/scene.tif", graph.ReprojectOptions{DestSRS: "EPSG:3857"})
	if err != nil {
		t.Fatalf("Unable to open reprojected image: %v\n", err)
	}
	again, err := c.FromGraph(ctx, img.GraphID(), "")
	if err != nil {
		t.Fatalf("Unable to open image from graph id: %v\n", err)
	}
	if again.NodeID() != img.NodeID() {
		t.Errorf("Expected default node %s, got %s\n", img.NodeID(), again.NodeID())
	}
	if _, err := again.HistogramDRA(ctx); err == nil {
		t.Errorf("Expected image opened by id to refuse derivation\n")
	}
	if _, err := c.FromGraph(ctx, "g-missing", "n1"); !errors.Is(err, rda.ErrMetadataNotFound) {
		t.Errorf("Expected missing metadata error, got %v\n", err)
	}
}

func TestCatalogImages(t *testing.T) {
	c, fake := newTestClient(t)
	ctx := context.Background()

	img, err := c.CatalogImage(ctx, "cat-a", graph.ReprojectOptions{})
	if err != nil {
		t.Fatalf("Unable to open catalog image: %v\n", err)
	}
	if p, _ := img.Node().Param("path"); p != "obs://bucket/cat-a.tif" {
		t.Errorf("Unexpected catalog image path %q\n", p)
	}
	if _, err := c.CatalogImage(ctx, "cat-ftp", graph.ReprojectOptions{}); !errors.Is(err, rda.ErrBadRequest) {
		t.Errorf("Expected unsupported source type to fail, got %v\n", err)
	}
	if _, err := c.CatalogImage(ctx, "cat-none", graph.ReprojectOptions{}); !errors.Is(err, rda.ErrNotFound) {
		t.Errorf("Expected unknown catalog id to fail, got %v\n", err)
	}

	mosaic, err := c.MosaicImage(ctx, []string{"cat-a", "cat-b"}, []string{"obs://bucket/c.tif"}, "")
	if err != nil {
		t.Fatalf("Unable to open mosaic: %v\n", err)
	}
	g := fake.registered(string(mosaic.GraphID()))
	if g == nil || len(g.Nodes) != 1 {
		t.Fatalf("Unexpected mosaic registration %+v\n", g)
	}
	paths := g.Nodes[0].Parameters["paths"]
	if !strings.Contains(paths, "cat-a.tif") || !strings.Contains(paths, "cat-b.tif") || !strings.Contains(paths, "c.tif") {
		t.Errorf("Mosaic paths missing sources: %s\n", paths)
	}
	if strings.Index(paths, "cat-a") > strings.Index(paths, "bucket/c.tif") {
		t.Errorf("Expected catalog entries before paths: %s\n", paths)
	}

	noCatalog := NewClient(c.svc, nil, c.fetch)
	if _, err := noCatalog.CatalogImage(ctx, "cat-a", graph.ReprojectOptions{}); err == nil {
		t.Errorf("Expected catalog image without catalog to fail\n")
	}
}

func TestPatchSetFromImage(t *testing.T) {
	img, _ := openTestImage(t)
	ctx := context.Background()
	shape := img.Shape()
	plan, err := patch.NewSplitter(rda.Shape2d{shape[1], shape[2]}, 4, 3)
	if err != nil {
		t.Fatalf("Unable to split image: %v\n", err)
	}
	ps, err := patch.New(img, plan, patch.Options{})
	if err != nil {
		t.Fatalf("Unable to create patch set: %v\n", err)
	}
	if err := ps.Load(ctx, 3); err != nil {
		t.Fatalf("Unable to load patches: %v\n", err)
	}
	merged, err := ps.Merge(ctx, patch.MergeLast, 0)
	if err != nil {
		t.Fatalf("Unable to merge patches: %v\n", err)
	}
	if merged.Shape() != shape {
		t.Fatalf("Merged shape %v, expected %v\n", merged.Shape(), shape)
	}
	checkPixels(t, merged, 6, 9)
}
