package service

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/geogenius/rda/rda"
)

// CatalogRecord is the catalog entry of a stored image.
type CatalogRecord struct {
	ID         string                 `json:"dataId,omitempty"`
	SourceType string                 `json:"sourceType"`
	DataURL    string                 `json:"dataUrl"`
	Boundary   string                 `json:"boundary,omitempty"`
	Properties map[string]interface{} `json:"metadataProperties,omitempty"`
}

// Catalog resolves catalog identifiers into fetchable storage paths.
type Catalog interface {
	Lookup(ctx context.Context, id string) (*CatalogRecord, error)
}

// Lookup implements Catalog against the manager endpoint.
func (c *Client) Lookup(ctx context.Context, id string) (*CatalogRecord, error) {
	u := fmt.Sprintf("%s/catalog/metadata?dataId=%s", c.cfg.manager(), url.QueryEscape(id))
	status, data, err := c.do(ctx, http.MethodGet, u, nil, "")
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		class := rda.ErrBadRequest
		if status == http.StatusNotFound {
			class = rda.ErrNotFound
		}
		return nil, &rda.ServiceError{Class: class, Op: "catalog lookup", ID: id, Status: status, Message: errorMessage(data)}
	}
	var rec CatalogRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("cannot decode catalog record %s: %v", id, err)
	}
	if rec.ID == "" {
		rec.ID = id
	}
	return &rec, nil
}

// DataLocation returns the storage path of a catalog entry.  Only object storage
// sources ("obs1") can be read.
func DataLocation(ctx context.Context, cat Catalog, id string) (string, error) {
	rec, err := cat.Lookup(ctx, id)
	if err != nil {
		return "", err
	}
	if strings.ToLower(rec.SourceType) != "obs1" {
		return "", &rda.ServiceError{Class: rda.ErrBadRequest, Op: "catalog lookup", ID: id,
			Message: fmt.Sprintf("source type %q is not supported", rec.SourceType)}
	}
	if rec.DataURL == "" {
		return "", &rda.ServiceError{Class: rda.ErrNotFound, Op: "catalog lookup", ID: id,
			Message: "no data associated with catalog entry"}
	}
	return rec.DataURL, nil
}
