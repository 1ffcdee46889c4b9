package service

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/coocood/freecache"
	"github.com/geogenius/rda/graph"
	"github.com/geogenius/rda/rda"
)

const metadataSchema = `{
	"type": "object",
	"required": ["image"],
	"properties": {
		"image": {
			"type": "object",
			"required": ["numBands", "tileXSize", "tileYSize", "minTileX", "maxTileX", "minTileY", "maxTileY", "dataType"],
			"properties": {
				"numBands": {"type": "integer", "minimum": 1},
				"tileXSize": {"type": "integer", "minimum": 1},
				"tileYSize": {"type": "integer", "minimum": 1},
				"minTileX": {"type": "integer"},
				"maxTileX": {"type": "integer"},
				"minTileY": {"type": "integer"},
				"maxTileY": {"type": "integer"},
				"dataType": {"type": "string"},
				"nodata": {"type": ["array", "null"], "items": {"type": ["number", "null"]}}
			}
		},
		"georef": {
			"type": ["object", "null"],
			"properties": {
				"spatialReferenceSystemCode": {"type": "string"},
				"scaleX": {"type": "number"},
				"scaleY": {"type": "number"}
			}
		}
	}
}`

func metaKey(id GraphID, node graph.NodeID) []byte {
	return []byte(string(id) + "/" + string(node))
}

// Metadata returns the image metadata of a node of a registered graph.  An empty
// node selects the graph's default output.  Results are cached; repeated calls do
// not reach the service.
func (c *Client) Metadata(ctx context.Context, id GraphID, node graph.NodeID) (*rda.ImageMetadata, error) {
	_, cache, err := c.state()
	if err != nil {
		return nil, err
	}
	key := metaKey(id, node)
	if b, err := cache.Get(key); err == nil {
		return rda.ParseImageMetadata(b)
	} else if err != freecache.ErrNotFound {
		rda.Warningf("Metadata cache error for %s: %v\n", key, err)
	}

	url := fmt.Sprintf("%s/rda/meta/%s", c.Endpoint(), id)
	if node != "" {
		url += "/" + string(node)
	}
	status, data, err := c.do(ctx, http.MethodGet, url, nil, "")
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		class := rda.ErrBadRequest
		if status == http.StatusNotFound {
			class = rda.ErrNotFound
		}
		return nil, &rda.ServiceError{
			Kind:    rda.ErrMetadataNotFound,
			Class:   class,
			Op:      "metadata",
			ID:      string(id),
			Status:  status,
			Message: errorMessage(data),
		}
	}
	md, err := c.decodeMetadata(id, data)
	if err != nil {
		return nil, err
	}
	// Cache the normalized form so hits skip schema validation.
	norm, err := json.Marshal(md)
	if err == nil {
		err = cache.Set(key, norm, metaCacheExpire)
	}
	if err != nil {
		rda.Warningf("Unable to cache metadata for graph %s: %v\n", id, err)
	}
	return md, nil
}

// decodeMetadata validates a 200 response body.  A body carrying an error
// message instead of an image is a bad request.
func (c *Client) decodeMetadata(id GraphID, data []byte) (*rda.ImageMetadata, error) {
	var doc interface{}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, &rda.ServiceError{Kind: rda.ErrMetadataNotFound, Class: rda.ErrBadRequest,
			Op: "metadata", ID: string(id), Status: http.StatusOK, Message: "response is not JSON"}
	}
	if m, ok := doc.(map[string]interface{}); ok {
		if _, hasImage := m["image"]; !hasImage {
			return nil, &rda.ServiceError{Kind: rda.ErrMetadataNotFound, Class: rda.ErrBadRequest,
				Op: "metadata", ID: string(id), Status: http.StatusOK, Message: errorMessage(data)}
		}
	}
	if err := c.schema.Validate(doc); err != nil {
		return nil, &rda.ServiceError{Kind: rda.ErrMetadataNotFound, Class: rda.ErrBadRequest,
			Op: "metadata", ID: string(id), Status: http.StatusOK, Message: err.Error()}
	}
	md, err := rda.ParseImageMetadata(data)
	if err != nil {
		return nil, fmt.Errorf("metadata for graph %s: %w", id, err)
	}
	return md, nil
}

// InvalidateMetadata drops a cached metadata entry.
func (c *Client) InvalidateMetadata(id GraphID, node graph.NodeID) {
	if _, cache, err := c.state(); err == nil {
		cache.Del(metaKey(id, node))
	}
}

// MetadataCacheEntries returns the number of cached metadata documents.
func (c *Client) MetadataCacheEntries() int64 {
	_, cache, err := c.state()
	if err != nil {
		return 0
	}
	return cache.EntryCount()
}
