package server

import (
	"github.com/citescape/citescape/pkg/engine"
	"github.com/citescape/citescape/pkg/graph"
	"github.com/citescape/citescape/pkg/source"
)

// NodesBoxResponse is the payload of GET /api/nodes/box.
type NodesBoxResponse struct {
	Nodes []graph.Node `json:"nodes"`
}

// EdgesRequest selects edges by their endpoint nodes.
type EdgesRequest struct {
	NodeIDs  []string `json:"node_ids"`
	MaxEdges int      `json:"max_edges,omitempty"`
}

// BackboneEdgesResponse is the payload of POST /api/edges/backbone.
type BackboneEdgesResponse struct {
	Edges []graph.Edge `json:"edges"`
}

// ExtraEdgesResponse is the payload of POST /api/edges/extra. Enriched
// flags which requested nodes had all their extra edges returned.
type ExtraEdgesResponse struct {
	Edges    []graph.Edge    `json:"edges"`
	Enriched map[string]bool `json:"enriched"`
}

// SearchResponse is the payload of GET /api/search.
type SearchResponse struct {
	Query   string                `json:"query"`
	Results []source.SearchResult `json:"results"`
}

// StatsResponse combines live engine state with the dataset summary.
type StatsResponse struct {
	Engine  engine.Stats    `json:"engine"`
	Dataset *source.Summary `json:"dataset,omitempty"`
}

// ClientErrorReport is what the frontend posts when its renderer fails.
type ClientErrorReport struct {
	Message   string `json:"message"`
	Stack     string `json:"stack,omitempty"`
	URL       string `json:"url,omitempty"`
	UserAgent string `json:"user_agent,omitempty"`
}
