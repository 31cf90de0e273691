// Package mcp exposes the citation graph to MCP clients, so an agent
// can search papers and probe regions of the map through the same
// query layer the renderer uses.
package mcp

import (
	"github.com/citescape/citescape/pkg/engine"
	"github.com/citescape/citescape/pkg/source"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

func NewMCPServer(eng *engine.Engine, db *source.SQLiteSource) *mcp.Server {
	service := NewService(eng, db)

	s := mcp.NewServer(&mcp.Implementation{
		Name:    "Citescape Explorer",
		Version: "0.3.0",
	}, nil)

	// Register Tools using the Generic AddTool which inspects structs!

	mcp.AddTool(s, &mcp.Tool{
		Name:        "search_papers",
		Description: "Search papers by title, ranked by match quality and citation degree. Returns ids and map coordinates.",
	}, service.SearchPapers)

	mcp.AddTool(s, &mcp.Tool{
		Name:        "graph_stats",
		Description: "Report dataset size, bounds, degree distribution and the live streaming engine state.",
	}, service.GraphStats)

	mcp.AddTool(s, &mcp.Tool{
		Name:        "nodes_in_region",
		Description: "List the highest-degree papers inside a rectangular region of the map.",
	}, service.NodesInRegion)

	mcp.AddTool(s, &mcp.Tool{
		Name:        "paper_neighbors",
		Description: "List the citation edges (backbone and extra) touching one paper.",
	}, service.PaperNeighbors)

	return s
}
