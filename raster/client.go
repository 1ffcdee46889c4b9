package raster

import (
	"context"
	"fmt"

	"github.com/geogenius/rda/graph"
	"github.com/geogenius/rda/rda"
	"github.com/geogenius/rda/service"
)

// Client opens images from the compute service.
type Client struct {
	svc   Service
	cat   service.Catalog
	fetch TileFetcher

	// DefaultProj is used for images whose metadata has no georeference.
	DefaultProj string
}

// NewClient returns a client.  The catalog may be nil if catalog images are not
// needed.
func NewClient(svc Service, cat service.Catalog, fetch TileFetcher) *Client {
	return &Client{svc: svc, cat: cat, fetch: fetch, DefaultProj: DefaultProj}
}

// Open registers the graph rooted at node and returns its image.
func (c *Client) Open(ctx context.Context, node *graph.Node) (*Image, error) {
	gid, err := c.svc.Register(ctx, node)
	if err != nil {
		return nil, err
	}
	img, err := c.open(ctx, gid, node.ID())
	if err != nil {
		return nil, err
	}
	img.node = node
	return img, nil
}

// FromGraph opens an already registered graph.  If nodeID is empty, the graph's
// last node is used.
func (c *Client) FromGraph(ctx context.Context, gid service.GraphID, nodeID graph.NodeID) (*Image, error) {
	if nodeID == "" {
		g, err := c.svc.GetGraph(ctx, gid)
		if err != nil {
			return nil, err
		}
		if nodeID, err = service.DefaultNode(g); err != nil {
			return nil, err
		}
	}
	return c.open(ctx, gid, nodeID)
}

func (c *Client) open(ctx context.Context, gid service.GraphID, nodeID graph.NodeID) (*Image, error) {
	md, err := c.svc.Metadata(ctx, gid, nodeID)
	if err != nil {
		return nil, err
	}
	proj := c.DefaultProj
	if proj == "" {
		proj = DefaultProj
	}
	geo := NewGeoAdapter(md, proj)
	img := &Image{
		client:  c,
		graphID: gid,
		nodeID:  nodeID,
		md:      md,
		geo:     geo,
		window:  geo.Window(),
	}
	if img.window.Empty() {
		return nil, &rda.ShapeError{Name: "image bounds", Value: img.window, Reason: "image has no pixels"}
	}
	rda.Debugf("Opened %s, shape %v\n", img, img.Shape())
	return img, nil
}

// OBSImage opens a raster stored in object storage, optionally reprojected.
func (c *Client) OBSImage(ctx context.Context, path string, opts graph.ReprojectOptions) (*Image, error) {
	n, err := graph.ObjectImage(path, opts)
	if err != nil {
		return nil, err
	}
	return c.Open(ctx, n)
}

// CatalogImage opens the raster behind a catalog entry.
func (c *Client) CatalogImage(ctx context.Context, id string, opts graph.ReprojectOptions) (*Image, error) {
	if c.cat == nil {
		return nil, fmt.Errorf("no catalog configured to resolve %q", id)
	}
	path, err := service.DataLocation(ctx, c.cat, id)
	if err != nil {
		return nil, err
	}
	return c.OBSImage(ctx, path, opts)
}

// MosaicImage mosaics catalog entries and object storage paths.  Catalog entries
// come first.
func (c *Client) MosaicImage(ctx context.Context, ids, paths []string, pixelSelection string) (*Image, error) {
	all := make([]string, 0, len(ids)+len(paths))
	if len(ids) != 0 && c.cat == nil {
		return nil, fmt.Errorf("no catalog configured to resolve %v", ids)
	}
	for _, id := range ids {
		p, err := service.DataLocation(ctx, c.cat, id)
		if err != nil {
			return nil, err
		}
		all = append(all, p)
	}
	all = append(all, paths...)
	n, err := graph.Mosaic(all, pixelSelection)
	if err != nil {
		return nil, err
	}
	return c.Open(ctx, n)
}
