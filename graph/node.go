package graph

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/twinj/uuid"
)

// NodeID is the content-derived identity of a node.
type NodeID string

// Params are the canonical string parameters of a node.
type Params map[string]string

// Keys returns the parameter names in sorted order.
func (p Params) Keys() []string {
	keys := make([]string, 0, len(p))
	for k := range p {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Node is one operation of a pipeline.  It must be constructed through
// BuildOperation or a Registry and is never modified afterwards.
type Node struct {
	id        NodeID
	operator  string
	params    Params
	ancestors []NodeID

	// union of this node and all ancestors, this node first
	nodes []*Node
	edges []Edge
}

func (n *Node) ID() NodeID       { return n.id }
func (n *Node) Operator() string { return n.operator }

// Param returns a single parameter value.
func (n *Node) Param(key string) (string, bool) {
	v, found := n.params[key]
	return v, found
}

// Params returns a copy of the node parameters.
func (n *Node) Params() Params {
	p := make(Params, len(n.params))
	for k, v := range n.params {
		p[k] = v
	}
	return p
}

// Ancestors returns the ids of the direct operands in operand order.
func (n *Node) Ancestors() []NodeID {
	return append([]NodeID(nil), n.ancestors...)
}

// Nodes returns this node followed by every ancestor node, each once.
func (n *Node) Nodes() []*Node {
	return append([]*Node(nil), n.nodes...)
}

// Edges returns every edge of the pipeline rooted at this node.
func (n *Node) Edges() []Edge {
	return append([]Edge(nil), n.edges...)
}

func (n *Node) String() string {
	return fmt.Sprintf("%s(%s)", n.operator, n.id)
}

// CanonicalParams converts parameter values to strings.  Strings are kept as is and
// anything else is JSON encoded with sorted map keys.
func CanonicalParams(params map[string]interface{}) (Params, error) {
	out := make(Params, len(params))
	for k, v := range params {
		if s, ok := v.(string); ok {
			out[k] = s
			continue
		}
		b, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("cannot encode parameter %q: %v", k, err)
		}
		out[k] = string(b)
	}
	return out, nil
}

// contentID digests a canonical JSON document and folds the hex digest into a
// version 5 UUID in the DNS namespace.
func contentID(doc map[string]interface{}) (string, error) {
	// encoding/json writes map keys in sorted order
	b, err := json.Marshal(doc)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(b)
	return uuid.NewV5(uuid.NameSpaceDNS, hex.EncodeToString(sum[:])).String(), nil
}

func newNode(operator string, params Params, operands []*Node) (*Node, error) {
	ancestors := make([]string, len(operands))
	for i, op := range operands {
		if op == nil {
			return nil, fmt.Errorf("operand %d of %s is nil", i, operator)
		}
		ancestors[i] = string(op.id)
	}
	id, err := contentID(map[string]interface{}{
		"operator":   operator,
		"parameters": map[string]string(params),
		"_ancestors": ancestors,
	})
	if err != nil {
		return nil, fmt.Errorf("cannot hash node %s: %v", operator, err)
	}
	n := &Node{
		id:       NodeID(id),
		operator: operator,
		params:   params,
	}
	for _, op := range operands {
		n.ancestors = append(n.ancestors, op.id)
	}

	// Union of ancestor nodes and edges, keeping first occurrence.
	seenNode := map[NodeID]struct{}{n.id: {}}
	n.nodes = []*Node{n}
	for _, op := range operands {
		for _, an := range op.nodes {
			if _, seen := seenNode[an.id]; !seen {
				seenNode[an.id] = struct{}{}
				n.nodes = append(n.nodes, an)
			}
		}
	}
	seenEdge := map[string]struct{}{}
	for i, op := range operands {
		e, err := newEdge(i+1, op.id, n.id)
		if err != nil {
			return nil, err
		}
		seenEdge[e.ID] = struct{}{}
		n.edges = append(n.edges, e)
	}
	for _, op := range operands {
		for _, e := range op.edges {
			if _, seen := seenEdge[e.ID]; !seen {
				seenEdge[e.ID] = struct{}{}
				n.edges = append(n.edges, e)
			}
		}
	}
	return n, nil
}
