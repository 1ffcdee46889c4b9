package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/geogenius/rda/graph"
	"github.com/geogenius/rda/rda"
)

// GraphID is the identity the service assigns a registered graph.
type GraphID string

// Register sends the pipeline rooted at root to the service and returns the
// assigned graph id.  The service deduplicates identical graphs.
func (c *Client) Register(ctx context.Context, root *graph.Node) (GraphID, error) {
	if root == nil {
		return "", fmt.Errorf("cannot register nil graph")
	}
	body, err := json.Marshal(root.Graph())
	if err != nil {
		return "", fmt.Errorf("cannot encode graph %s: %v", root.ID(), err)
	}
	url := c.cfg.manager() + "/graph"
	status, data, err := c.do(ctx, http.MethodPost, url, bytes.NewReader(body), "application/json")
	if err != nil {
		return "", err
	}
	if status != http.StatusCreated {
		return "", &rda.ServiceError{
			Kind:    rda.ErrGraphRegistrationFailed,
			Class:   rda.ErrBadRequest,
			Op:      "register",
			ID:      string(root.ID()),
			Status:  status,
			Message: errorMessage(data),
		}
	}
	var m struct {
		GraphID string `json:"graphId"`
	}
	if err := json.Unmarshal(data, &m); err != nil || m.GraphID == "" {
		return "", &rda.ServiceError{
			Kind:    rda.ErrGraphRegistrationFailed,
			Class:   rda.ErrBadRequest,
			Op:      "register",
			ID:      string(root.ID()),
			Status:  status,
			Message: "response holds no graphId",
		}
	}
	rda.Infof("Registered graph rooted at %s as %s (%d nodes)\n", root, m.GraphID, len(root.Nodes()))
	return GraphID(m.GraphID), nil
}

// GetGraph retrieves a registered graph.
func (c *Client) GetGraph(ctx context.Context, id GraphID) (*graph.Graph, error) {
	url := fmt.Sprintf("%s/graph/%s", c.cfg.manager(), id)
	status, data, err := c.do(ctx, http.MethodGet, url, nil, "")
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, &rda.ServiceError{
			Kind:    rda.ErrMetadataNotFound,
			Class:   rda.ErrNotFound,
			Op:      "graph lookup",
			ID:      string(id),
			Status:  status,
			Message: "no graph found matching id",
		}
	}
	return graph.ParseGraph(data)
}

// DefaultNode picks the output node of a registered graph: the single node no
// edge consumes, or the last listed node when that is ambiguous.
func DefaultNode(g *graph.Graph) (graph.NodeID, error) {
	if roots := g.Root(); len(roots) == 1 {
		return roots[0], nil
	}
	return g.LastNode()
}
