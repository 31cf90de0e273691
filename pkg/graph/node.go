// Package graph provides the in-memory, memory-bounded graph held by the
// streaming engine: the node/edge store, the importance-based eviction
// policy, the per-node adjacency index, and the change-event stream the
// rendering layer subscribes to.
//
// The Store is the single owner of node and edge lifetime. Every other
// component reads through it and mutates only via its public operations
// (MergeBatch, EvictToCapacity, Clear, ...).
package graph

import "github.com/x448/float16"

// Node is one paper in the citation graph. Position and cluster come from
// the external embedding pipeline; Degree is the citation count used for
// LOD filtering and importance scoring.
type Node struct {
	ID      string  `json:"id"`
	X       float32 `json:"x"`
	Y       float32 `json:"y"`
	Degree  int     `json:"degree"`
	Cluster int     `json:"cluster"`
	Label   string  `json:"label,omitempty"`

	Enrichment EnrichmentState `json:"enrichment"`
}

// EnrichmentState tracks the per-node edge-loading lifecycle:
// Unseen -> BackboneLoaded -> (optionally) Enriched. HasBackboneEdges is
// set at merge time, HasExtraEdges only after a successful enrichment
// response naming this node.
type EnrichmentState struct {
	HasBackboneEdges    bool `json:"has_backbone_edges"`
	HasExtraEdges       bool `json:"has_extra_edges"`
	EnrichmentRequested bool `json:"enrichment_requested"`
}

// Edge is a directed citation edge. Backbone edges belong to the
// precomputed near-acyclic spanning subgraph and are loaded atomically
// with their endpoints; extra edges are additive enrichment.
type Edge struct {
	Source   string  `json:"source"`
	Target   string  `json:"target"`
	Weight   float32 `json:"weight,omitempty"`
	Backbone bool    `json:"backbone"`
}

// Key returns the identity of the edge in the store's edge map.
func (e Edge) Key() EdgeKey {
	return EdgeKey{Source: e.Source, Target: e.Target}
}

// EdgeKey identifies an edge by its ordered endpoint pair.
type EdgeKey struct {
	Source string
	Target string
}

// nodeRec is the internal storage form of a Node. With compact positions
// enabled the coordinates live in two float16 words instead of the Node
// struct, halving position memory under the global budget.
type nodeRec struct {
	node    Node
	px, py  uint16
	compact bool
}

func newNodeRec(n Node, compact bool) *nodeRec {
	r := &nodeRec{node: n, compact: compact}
	if compact {
		r.px = float16.Fromfloat32(n.X).Bits()
		r.py = float16.Fromfloat32(n.Y).Bits()
		r.node.X, r.node.Y = 0, 0
	}
	return r
}

// materialize returns the externally visible Node value, reconstructing
// the position when stored compactly.
func (r *nodeRec) materialize() Node {
	n := r.node
	if r.compact {
		n.X = float16.Frombits(r.px).Float32()
		n.Y = float16.Frombits(r.py).Float32()
	}
	return n
}

func (r *nodeRec) pos() (float64, float64) {
	if r.compact {
		return float64(float16.Frombits(r.px).Float32()), float64(float16.Frombits(r.py).Float32())
	}
	return float64(r.node.X), float64(r.node.Y)
}
