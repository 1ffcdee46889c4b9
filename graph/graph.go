package graph

import (
	"encoding/json"
	"fmt"
)

// Edge connects an operand (Source) to the node consuming it (Destination).  Index
// is the 1-based operand position at the destination.
type Edge struct {
	ID          string `json:"id"`
	Index       int    `json:"index"`
	Source      NodeID `json:"source"`
	Destination NodeID `json:"destination"`
}

func newEdge(index int, src, dst NodeID) (Edge, error) {
	id, err := contentID(map[string]interface{}{
		"index":       index,
		"source":      string(src),
		"destination": string(dst),
	})
	if err != nil {
		return Edge{}, fmt.Errorf("cannot hash edge %s -> %s: %v", src, dst, err)
	}
	return Edge{ID: id, Index: index, Source: src, Destination: dst}, nil
}

// WireNode is the form of a node sent to the registration service.  Ancestors are
// expressed only through edges.
type WireNode struct {
	ID         NodeID `json:"id"`
	Operator   string `json:"operator"`
	Parameters Params `json:"parameters"`
}

// Graph is the registration document for a pipeline.
type Graph struct {
	Edges []Edge     `json:"edges"`
	Nodes []WireNode `json:"nodes"`
}

// Graph returns the registration document for the pipeline rooted at n.
func (n *Node) Graph() *Graph {
	g := &Graph{
		Edges: n.Edges(),
		Nodes: make([]WireNode, len(n.nodes)),
	}
	if g.Edges == nil {
		g.Edges = []Edge{}
	}
	for i, an := range n.nodes {
		g.Nodes[i] = WireNode{ID: an.id, Operator: an.operator, Parameters: an.Params()}
	}
	return g
}

// Node returns the wire node with the given id.
func (g *Graph) Node(id NodeID) (WireNode, bool) {
	for _, n := range g.Nodes {
		if n.ID == id {
			return n, true
		}
	}
	return WireNode{}, false
}

// LastNode returns the id of the final node listed, which services treat as the
// default output of a registered graph.
func (g *Graph) LastNode() (NodeID, error) {
	if len(g.Nodes) == 0 {
		return "", fmt.Errorf("graph has no nodes")
	}
	return g.Nodes[len(g.Nodes)-1].ID, nil
}

// Root returns the nodes that are not the source of any edge.
func (g *Graph) Root() []NodeID {
	sources := make(map[NodeID]struct{}, len(g.Edges))
	for _, e := range g.Edges {
		sources[e.Source] = struct{}{}
	}
	var roots []NodeID
	for _, n := range g.Nodes {
		if _, found := sources[n.ID]; !found {
			roots = append(roots, n.ID)
		}
	}
	return roots
}

// ParseGraph decodes a graph document as returned by the graph lookup service.
func ParseGraph(b []byte) (*Graph, error) {
	var g Graph
	if err := json.Unmarshal(b, &g); err != nil {
		return nil, fmt.Errorf("cannot decode graph: %v", err)
	}
	return &g, nil
}
