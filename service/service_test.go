package service

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/geogenius/rda/graph"
	"github.com/geogenius/rda/rda"
)

const testMetadata = `{
	"image": {
		"numBands": 3, "tileXSize": 256, "tileYSize": 256,
		"minTileX": 0, "maxTileX": 3, "minTileY": 1, "maxTileY": 2,
		"minX": 0, "maxX": 1000, "minY": 256, "maxY": 700,
		"dataType": "UNSIGNED_SHORT", "nodata": [0, 0, 65535]
	},
	"georef": {
		"translateX": 100.0, "scaleX": 0.5, "shearX": 0,
		"translateY": 50.0, "shearY": 0, "scaleY": -0.5,
		"spatialReferenceSystemCode": "EPSG:4326"
	}
}`

type fakeService struct {
	t        *testing.T
	logins   int32
	metaHits int32
	reject   int32 // number of upcoming metadata requests answered 401

	mu     sync.Mutex
	tokens []string // headers seen on metadata requests
}

func (f *fakeService) lastToken() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.tokens) == 0 {
		return ""
	}
	return f.tokens[len(f.tokens)-1]
}

func (f *fakeService) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch {
	case r.URL.Path == "/users/credentials/login":
		n := atomic.AddInt32(&f.logins, 1)
		var m map[string]string
		body, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(body, &m); err != nil || m["ak"] != "ak1" || m["sk"] != "sk1" {
			w.WriteHeader(http.StatusUnauthorized)
			w.Write([]byte(`{"message":"bad credentials"}`))
			return
		}
		w.Write([]byte(`{"token":"tok` + string(rune('0'+n)) + `"}`))
	case r.URL.Path == "/users/credentials":
		if r.Header.Get(AuthHeader) == "" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.WriteHeader(http.StatusOK)
	case r.URL.Path == "/graph" && r.Method == http.MethodPost:
		var g graph.Graph
		body, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(body, &g); err != nil || len(g.Nodes) == 0 {
			w.WriteHeader(http.StatusBadRequest)
			w.Write([]byte(`{"message":"malformed graph"}`))
			return
		}
		if g.Nodes[0].Operator == "HistogramDRA" {
			w.WriteHeader(http.StatusBadRequest)
			w.Write([]byte(`{"message":"operator not allowed"}`))
			return
		}
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"graphId":"g-123"}`))
	case r.URL.Path == "/graph/g-123":
		w.Write([]byte(`{"nodes":[{"id":"n1","operator":"GdalImageRead","parameters":{"path":"a"}}],"edges":[]}`))
	case strings.HasPrefix(r.URL.Path, "/graph/"):
		w.WriteHeader(http.StatusNotFound)
	case strings.HasPrefix(r.URL.Path, "/rda/meta/g-123"):
		if atomic.LoadInt32(&f.reject) > 0 {
			atomic.AddInt32(&f.reject, -1)
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		atomic.AddInt32(&f.metaHits, 1)
		f.mu.Lock()
		f.tokens = append(f.tokens, r.Header.Get(AuthHeader))
		f.mu.Unlock()
		w.Write([]byte(testMetadata))
	case strings.HasPrefix(r.URL.Path, "/rda/meta/g-err"):
		w.Write([]byte(`{"message":"graph failed to compute"}`))
	case strings.HasPrefix(r.URL.Path, "/rda/meta/"):
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"message":"no such graph"}`))
	case r.URL.Path == "/catalog/metadata":
		switch r.URL.Query().Get("dataId") {
		case "cat-obs":
			w.Write([]byte(`{"sourceType":"OBS1","dataUrl":"obs://bucket/img.tif"}`))
		case "cat-other":
			w.Write([]byte(`{"sourceType":"ftp","dataUrl":"ftp://x"}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	default:
		f.t.Errorf("Unexpected request %s %s\n", r.Method, r.URL)
		w.WriteHeader(http.StatusTeapot)
	}
}

func openTestClient(t *testing.T) (*Client, *fakeService) {
	t.Helper()
	fake := &fakeService{t: t}
	ts := httptest.NewServer(fake)
	t.Cleanup(ts.Close)
	c := NewClient(Config{Endpoint: ts.URL, AccessKey: "ak1", SecretKey: "sk1"})
	if err := c.Open(context.Background()); err != nil {
		t.Fatalf("Unable to open client: %v\n", err)
	}
	t.Cleanup(func() { c.Close() })
	return c, fake
}

func TestOpenRequiresValidCredentials(t *testing.T) {
	ts := httptest.NewServer(&fakeService{t: t})
	defer ts.Close()
	c := NewClient(Config{Endpoint: ts.URL, AccessKey: "ak1", SecretKey: "wrong"})
	err := c.Open(context.Background())
	if !errors.Is(err, rda.ErrBadRequest) {
		t.Errorf("Expected bad credentials to fail open, got %v\n", err)
	}
	if _, err := NewClient(Config{}).Metadata(context.Background(), "g", ""); err == nil {
		t.Errorf("Expected unopened client to fail\n")
	}
}

func TestRegister(t *testing.T) {
	c, _ := openTestClient(t)
	ctx := context.Background()
	src, err := graph.ImageRead("obs://bucket/a.tif")
	if err != nil {
		t.Fatalf("Unable to build graph: %v\n", err)
	}
	id, err := c.Register(ctx, src)
	if err != nil {
		t.Fatalf("Unable to register graph: %v\n", err)
	}
	if id != "g-123" {
		t.Errorf("Expected graph id g-123, got %s\n", id)
	}

	dra, err := graph.HistogramDRA(src)
	if err != nil {
		t.Fatalf("Unable to build DRA: %v\n", err)
	}
	_, err = c.Register(ctx, dra)
	if !errors.Is(err, rda.ErrGraphRegistrationFailed) || !errors.Is(err, rda.ErrBadRequest) {
		t.Fatalf("Expected registration failure, got %v\n", err)
	}
	var serr *rda.ServiceError
	if !errors.As(err, &serr) || serr.Message != "operator not allowed" || serr.ID != string(dra.ID()) {
		t.Errorf("Expected server message and node id in error, got %+v\n", serr)
	}
}

func TestGetGraph(t *testing.T) {
	c, _ := openTestClient(t)
	g, err := c.GetGraph(context.Background(), "g-123")
	if err != nil {
		t.Fatalf("Unable to get graph: %v\n", err)
	}
	node, err := DefaultNode(g)
	if err != nil || node != "n1" {
		t.Errorf("Expected default node n1, got %s (%v)\n", node, err)
	}
	_, err = c.GetGraph(context.Background(), "missing")
	if !errors.Is(err, rda.ErrNotFound) || !errors.Is(err, rda.ErrMetadataNotFound) {
		t.Errorf("Expected not found for missing graph, got %v\n", err)
	}
}

func TestMetadataCached(t *testing.T) {
	c, fake := openTestClient(t)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		md, err := c.Metadata(ctx, "g-123", "")
		if err != nil {
			t.Fatalf("Unable to get metadata: %v\n", err)
		}
		if md.Shape() != [3]int{3, 512, 1024} {
			t.Errorf("Bad metadata shape %v\n", md.Shape())
		}
		if md.Image.DataType != rda.T_uint16 {
			t.Errorf("Bad data type %s\n", md.Image.DataType)
		}
		if v, _ := md.NoDataValue(2); v != 65535 {
			t.Errorf("Bad nodata %f\n", v)
		}
		if md.Georef == nil || md.Georef.SRSCode != "EPSG:4326" {
			t.Errorf("Bad georef %+v\n", md.Georef)
		}
	}
	if hits := atomic.LoadInt32(&fake.metaHits); hits != 1 {
		t.Errorf("Expected one metadata request, got %d\n", hits)
	}
	if c.MetadataCacheEntries() != 1 {
		t.Errorf("Expected one cache entry, got %d\n", c.MetadataCacheEntries())
	}
	if tok := fake.lastToken(); tok != "tok1" {
		t.Errorf("Expected session token on request, got %q\n", tok)
	}

	c.InvalidateMetadata("g-123", "")
	if _, err := c.Metadata(ctx, "g-123", ""); err != nil {
		t.Fatalf("Unable to refetch metadata: %v\n", err)
	}
	if hits := atomic.LoadInt32(&fake.metaHits); hits != 2 {
		t.Errorf("Expected refetch after invalidation, got %d requests\n", hits)
	}
}

func TestMetadataErrors(t *testing.T) {
	c, _ := openTestClient(t)
	ctx := context.Background()
	_, err := c.Metadata(ctx, "g-missing", "")
	if !errors.Is(err, rda.ErrMetadataNotFound) {
		t.Errorf("Expected metadata not found, got %v\n", err)
	}
	if err == nil || !strings.Contains(err.Error(), "g-missing") {
		t.Errorf("Expected graph id in error, got %v\n", err)
	}
	_, err = c.Metadata(ctx, "g-err", "")
	if !errors.Is(err, rda.ErrBadRequest) {
		t.Errorf("Expected bad request for error body, got %v\n", err)
	}
}

func TestUnauthorizedRefreshesToken(t *testing.T) {
	c, fake := openTestClient(t)
	atomic.StoreInt32(&fake.reject, 1)
	ctx := context.Background()
	if _, err := c.Metadata(ctx, "g-123", ""); err == nil {
		t.Fatalf("Expected 401 to surface\n")
	}
	if _, err := c.Metadata(ctx, "g-123", ""); err != nil {
		t.Fatalf("Unable to get metadata after refresh: %v\n", err)
	}
	if logins := atomic.LoadInt32(&fake.logins); logins != 2 {
		t.Errorf("Expected a second login after 401, got %d logins\n", logins)
	}
	if tok := fake.lastToken(); tok != "tok2" {
		t.Errorf("Expected refreshed token, got %q\n", tok)
	}
}

func TestCatalog(t *testing.T) {
	c, _ := openTestClient(t)
	ctx := context.Background()
	path, err := DataLocation(ctx, c, "cat-obs")
	if err != nil || path != "obs://bucket/img.tif" {
		t.Errorf("Bad data location %q: %v\n", path, err)
	}
	if _, err := DataLocation(ctx, c, "cat-other"); !errors.Is(err, rda.ErrBadRequest) {
		t.Errorf("Expected unsupported source type, got %v\n", err)
	}
	if _, err := DataLocation(ctx, c, "cat-none"); !errors.Is(err, rda.ErrNotFound) {
		t.Errorf("Expected not found, got %v\n", err)
	}
}

func TestTokenExpiry(t *testing.T) {
	// header {"alg":"none"}, payload {"exp":4102444800}
	tok := "eyJhbGciOiJub25lIn0.eyJleHAiOjQxMDI0NDQ4MDB9."
	if exp := tokenExpiry(tok); exp.Unix() != 4102444800 {
		t.Errorf("Expected JWT expiry 4102444800, got %d\n", exp.Unix())
	}
	if exp := tokenExpiry("opaque"); exp.IsZero() {
		t.Errorf("Expected default lifetime for opaque token\n")
	}
}
