package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image/png"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/cors"
	"github.com/zenazn/goji/web"
	"github.com/zenazn/goji/web/middleware"

	"github.com/geogenius/rda/graph"
	"github.com/geogenius/rda/rda"
	"github.com/geogenius/rda/service"
	"github.com/geogenius/rda/tiles"
)

// WebAPIPath is the prefix of every API endpoint.
const WebAPIPath = "/api/"

// DefaultNode in a URL selects the default output node of a graph.
const DefaultNode = "default"

const webHelp = `
rdatiles tile proxy

GET  /api/help
	Returns this help.

GET  /api/meta/<graph>/<node>
	Returns the image metadata of a node.  Use "default" for the graph's output node.

GET  /api/tile/<graph>/<node>/<col>/<row>[?format=png|tiff|raw]
	Returns one tile of a node.  PNG is available for 1 or 4 band uint8 and uint16
	images.  TIFF keeps every band and data type.  Raw returns band-major
	little-endian values with the shape in the X-Rda-Bands, X-Rda-Rows, X-Rda-Cols
	and X-Rda-Type headers.

GET  /api/cache
	Returns tile cache statistics as JSON.

DELETE /api/cache
	Empties the tile cache.
`

// MetadataSource supplies image metadata for graph nodes.
type MetadataSource interface {
	Endpoint() string
	Metadata(ctx context.Context, id service.GraphID, node graph.NodeID) (*rda.ImageMetadata, error)
}

// TileSource supplies decoded tiles.
type TileSource interface {
	Fetch(ctx context.Context, url string) (*rda.Array, error)
	Stats() tiles.CacheStats
	ClearCache()
}

// Server is the tile proxy.
type Server struct {
	cfg   *Config
	meta  MetadataSource
	tiles TileSource
	auth  *authorizer
	mux   *web.Mux

	httpServer *http.Server
}

// New returns a server with its routes installed.
func New(cfg *Config, meta MetadataSource, src TileSource) (*Server, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	auth, err := newAuthorizer(cfg.Auth)
	if err != nil {
		return nil, err
	}
	s := &Server{cfg: cfg, meta: meta, tiles: src, auth: auth}
	s.initRoutes()
	return s, nil
}

func (s *Server) initRoutes() {
	mux := web.New()
	mux.Use(middleware.RequestID)
	mux.Use(middleware.Recoverer)
	mux.Use(logRequests)
	if len(s.cfg.Server.CorsOrigins) != 0 {
		c := cors.New(cors.Options{
			AllowedOrigins:   s.cfg.Server.CorsOrigins,
			AllowedMethods:   []string{http.MethodGet, http.MethodHead, http.MethodDelete},
			AllowedHeaders:   []string{"Authorization", "Content-Type"},
			ExposedHeaders:   []string{"X-Rda-Bands", "X-Rda-Rows", "X-Rda-Cols", "X-Rda-Type"},
			AllowCredentials: true,
		})
		mux.Use(c.Handler)
	}
	if s.auth != nil {
		mux.Use(s.auth.middleware)
	}
	mux.Get(WebAPIPath+"help", helpHandler)
	mux.Get(WebAPIPath+"meta/:graph/:node", s.metaHandler)
	mux.Get(WebAPIPath+"tile/:graph/:node/:col/:row", s.tileHandler)
	mux.Get(WebAPIPath+"cache", s.cacheHandler)
	mux.Delete(WebAPIPath+"cache", s.clearCacheHandler)
	mux.NotFound(func(w http.ResponseWriter, r *http.Request) {
		NotFound(w, r, "no API endpoint at %s", r.URL.Path)
	})
	mux.Compile()
	s.mux = mux
}

// ServeHTTP lets the server be mounted or tested directly.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// Serve listens on the configured address until the context is done, then waits
// up to the shutdown delay for in-flight requests.
func (s *Server) Serve(ctx context.Context) error {
	address := s.cfg.Server.HTTPAddress
	if address == "" {
		address = DefaultWebAddress
	}
	s.httpServer = &http.Server{
		Addr:        address,
		Handler:     s,
		ReadTimeout: 1 * time.Hour,
	}
	rda.Infof("Web server listening at %s ...\n", address)
	errc := make(chan error, 1)
	go func() {
		errc <- s.httpServer.ListenAndServe()
	}()
	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	delay := time.Duration(s.cfg.Server.ShutdownDelay) * time.Second
	sctx, cancel := context.WithTimeout(context.Background(), delay)
	defer cancel()
	rda.Infof("Shutting down web server, waiting up to %s for requests...\n", delay)
	return s.httpServer.Shutdown(sctx)
}

func logRequests(h http.Handler) http.Handler {
	fn := func(w http.ResponseWriter, r *http.Request) {
		timedLog := rda.NewTimeLog()
		h.ServeHTTP(w, r)
		timedLog.Debugf("HTTP %s: %s", r.Method, r.URL)
	}
	return http.HandlerFunc(fn)
}

// BadRequest writes a 400 with the message and logs it.
func BadRequest(w http.ResponseWriter, r *http.Request, format string, args ...interface{}) {
	httpError(w, r, http.StatusBadRequest, format, args...)
}

// NotFound writes a 404 with the message and logs it.
func NotFound(w http.ResponseWriter, r *http.Request, format string, args ...interface{}) {
	httpError(w, r, http.StatusNotFound, format, args...)
}

// Unauthorized writes a 401 with the message and logs it.
func Unauthorized(w http.ResponseWriter, r *http.Request, format string, args ...interface{}) {
	httpError(w, r, http.StatusUnauthorized, format, args...)
}

// Forbidden writes a 403 with the message and logs it.
func Forbidden(w http.ResponseWriter, r *http.Request, format string, args ...interface{}) {
	httpError(w, r, http.StatusForbidden, format, args...)
}

func httpError(w http.ResponseWriter, r *http.Request, status int, format string, args ...interface{}) {
	message := fmt.Sprintf(format, args...)
	errorMsg := fmt.Sprintf("ERROR: %s (%s).", message, r.URL.Path)
	rda.Errorf("%s\n", errorMsg)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"message": message})
}

// errorStatus picks the response status for an error from the service side.
func errorStatus(err error) int {
	switch {
	case errors.Is(err, rda.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, rda.ErrFetchExhausted):
		return http.StatusBadGateway
	case errors.Is(err, rda.ErrBadRequest), errors.Is(err, rda.ErrInvalidShape):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, r *http.Request, v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		httpError(w, r, http.StatusInternalServerError, "cannot encode response: %v", err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(data)
}

func helpHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	fmt.Fprint(w, webHelp)
}

func nodeParam(c web.C) graph.NodeID {
	node := c.URLParams["node"]
	if node == DefaultNode {
		return ""
	}
	return graph.NodeID(node)
}

func (s *Server) metaHandler(c web.C, w http.ResponseWriter, r *http.Request) {
	gid := service.GraphID(c.URLParams["graph"])
	md, err := s.meta.Metadata(r.Context(), gid, nodeParam(c))
	if err != nil {
		httpError(w, r, errorStatus(err), "%v", err)
		return
	}
	writeJSON(w, r, md)
}

func (s *Server) tileHandler(c web.C, w http.ResponseWriter, r *http.Request) {
	gid := service.GraphID(c.URLParams["graph"])
	node := nodeParam(c)
	col, err := strconv.Atoi(c.URLParams["col"])
	if err != nil {
		BadRequest(w, r, "bad tile column %q", c.URLParams["col"])
		return
	}
	row, err := strconv.Atoi(c.URLParams["row"])
	if err != nil {
		BadRequest(w, r, "bad tile row %q", c.URLParams["row"])
		return
	}
	if node == "" {
		BadRequest(w, r, "tile requests must name a node of graph %s", gid)
		return
	}
	format := r.URL.Query().Get("format")
	if format == "" {
		format = s.cfg.Server.TileFormat
	}
	if format != "png" && format != "tiff" && format != "raw" {
		BadRequest(w, r, "unknown tile format %q", format)
		return
	}

	md, err := s.meta.Metadata(r.Context(), gid, node)
	if err != nil {
		httpError(w, r, errorStatus(err), "%v", err)
		return
	}
	grid := md.TileGrid()
	if col < grid.MinX || col >= grid.MaxX || row < grid.MinY || row >= grid.MaxY {
		NotFound(w, r, "tile (%d, %d) is outside tile grid %s of graph %s", col, row, grid, gid)
		return
	}
	url := tiles.URLFor(s.meta.Endpoint(), string(gid), string(node), tiles.TileCoord{Row: row, Col: col})
	a, err := s.tiles.Fetch(r.Context(), url)
	if err != nil {
		httpError(w, r, errorStatus(err), "%v", err)
		return
	}
	switch format {
	case "raw":
		w.Header().Set("Content-Type", "application/octet-stream")
		w.Header().Set("X-Rda-Bands", strconv.Itoa(a.Bands))
		w.Header().Set("X-Rda-Rows", strconv.Itoa(a.Height))
		w.Header().Set("X-Rda-Cols", strconv.Itoa(a.Width))
		w.Header().Set("X-Rda-Type", a.Type.String())
		w.Write(a.Data)
	case "tiff":
		var buf bytes.Buffer
		if err := tiles.EncodeTIFF(&buf, a, true); err != nil {
			httpError(w, r, http.StatusInternalServerError, "cannot encode tile: %v", err)
			return
		}
		w.Header().Set("Content-Type", "image/tiff")
		w.Write(buf.Bytes())
	default:
		img := tiles.ToImage(a)
		if img == nil {
			BadRequest(w, r, "tile of %s cannot be sent as PNG, use format=raw or format=tiff", a)
			return
		}
		var buf bytes.Buffer
		if err := png.Encode(&buf, img); err != nil {
			httpError(w, r, http.StatusInternalServerError, "cannot encode tile: %v", err)
			return
		}
		w.Header().Set("Content-Type", "image/png")
		w.Write(buf.Bytes())
	}
}

func (s *Server) cacheHandler(w http.ResponseWriter, r *http.Request) {
	stats := s.tiles.Stats()
	writeJSON(w, r, map[string]interface{}{
		"entries": stats.Entries,
		"hits":    stats.Hits,
		"misses":  stats.Misses,
		"bytes":   stats.Bytes,
	})
}

func (s *Server) clearCacheHandler(w http.ResponseWriter, r *http.Request) {
	s.tiles.ClearCache()
	rda.Infof("Tile cache cleared by request from %s\n", r.RemoteAddr)
	w.WriteHeader(http.StatusOK)
}
