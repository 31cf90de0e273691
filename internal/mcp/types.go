package mcp

// --- Tool Arguments ---

type SearchPapersArgs struct {
	Query     string `json:"query" jsonschema:"Title text to search for,required"`
	Limit     int    `json:"limit,omitempty" jsonschema:"Max number of results (default 10)"`
	MinDegree int    `json:"min_degree,omitempty" jsonschema:"Only return papers with at least this citation degree"`
	YearFrom  int    `json:"year_from,omitempty" jsonschema:"Earliest publication year"`
	YearTo    int    `json:"year_to,omitempty" jsonschema:"Latest publication year"`
}

type SearchPapersResult struct {
	Results []string `json:"results"` // Formatted strings for the LLM
}

type GraphStatsArgs struct{}

type GraphStatsResult struct {
	Dataset string `json:"dataset"`
	Engine  string `json:"engine"`
}

type NodesInRegionArgs struct {
	MinX      float64 `json:"min_x" jsonschema:"required"`
	MaxX      float64 `json:"max_x" jsonschema:"required"`
	MinY      float64 `json:"min_y" jsonschema:"required"`
	MaxY      float64 `json:"max_y" jsonschema:"required"`
	Limit     int     `json:"limit,omitempty" jsonschema:"Max papers to return (default 25)"`
	MinDegree int     `json:"min_degree,omitempty" jsonschema:"Degree floor, mirrors the LOD filter"`
}

type NodesInRegionResult struct {
	Papers []string `json:"papers"`
}

type PaperNeighborsArgs struct {
	PaperID  string `json:"paper_id" jsonschema:"The paper whose citation edges to list,required"`
	MaxEdges int    `json:"max_edges,omitempty" jsonschema:"Cap on returned edges (default 50)"`
}

type PaperNeighborsResult struct {
	Backbone []string `json:"backbone"`
	Extra    []string `json:"extra"`
}
