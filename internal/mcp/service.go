package mcp

import (
	"context"
	"fmt"

	"github.com/citescape/citescape/pkg/engine"
	"github.com/citescape/citescape/pkg/source"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

type Service struct {
	engine *engine.Engine
	db     *source.SQLiteSource
}

func NewService(eng *engine.Engine, db *source.SQLiteSource) *Service {
	return &Service{
		engine: eng,
		db:     db,
	}
}

// --- Tool Handlers ---

func (s *Service) SearchPapers(ctx context.Context, req *mcp.CallToolRequest, args SearchPapersArgs) (*mcp.CallToolResult, SearchPapersResult, error) {
	if s.db == nil {
		return nil, SearchPapersResult{}, fmt.Errorf("no local database attached")
	}
	limit := args.Limit
	if limit <= 0 {
		limit = 10
	}
	hits, err := s.db.SearchPapers(ctx, args.Query, source.SearchOptions{
		Limit:     limit,
		MinDegree: args.MinDegree,
		YearFrom:  args.YearFrom,
		YearTo:    args.YearTo,
	})
	if err != nil {
		return nil, SearchPapersResult{}, fmt.Errorf("search error: %w", err)
	}

	out := make([]string, 0, len(hits))
	for _, h := range hits {
		out = append(out, fmt.Sprintf("[%s] %q (year %d, degree %d) at (%.2f, %.2f)",
			h.ID, h.Title, h.Year, h.Degree, h.X, h.Y))
	}
	if len(out) == 0 {
		out = append(out, fmt.Sprintf("no papers matching %q", args.Query))
	}
	return nil, SearchPapersResult{Results: out}, nil
}

func (s *Service) GraphStats(ctx context.Context, req *mcp.CallToolRequest, args GraphStatsArgs) (*mcp.CallToolResult, GraphStatsResult, error) {
	res := GraphStatsResult{}

	st := s.engine.Stats()
	res.Engine = fmt.Sprintf(
		"tier %s, state %s, %d nodes and %d+%d edges in memory, %d evicted, cache hit ratio %.0f%%",
		st.Tier, st.State, st.Nodes, st.BackboneEdges, st.ExtraEdges,
		st.EvictedTotal, st.CacheHitRatio*100)

	if s.db != nil {
		sum, err := s.db.Summarize(ctx)
		if err != nil {
			return nil, GraphStatsResult{}, fmt.Errorf("summary error: %w", err)
		}
		res.Dataset = fmt.Sprintf(
			"%s; bounds x [%.2f, %.2f] y [%.2f, %.2f]; degree p50=%.0f p90=%.0f p99=%.0f max=%.0f",
			sum, sum.MinX, sum.MaxX, sum.MinY, sum.MaxY,
			sum.DegreeP50, sum.DegreeP90, sum.DegreeP99, sum.DegreeMax)
	}
	return nil, res, nil
}

func (s *Service) NodesInRegion(ctx context.Context, req *mcp.CallToolRequest, args NodesInRegionArgs) (*mcp.CallToolResult, NodesInRegionResult, error) {
	if s.db == nil {
		return nil, NodesInRegionResult{}, fmt.Errorf("no local database attached")
	}
	box := engine.BoundingBox{MinX: args.MinX, MaxX: args.MaxX, MinY: args.MinY, MaxY: args.MaxY}
	if err := box.Validate(); err != nil {
		return nil, NodesInRegionResult{}, err
	}
	limit := args.Limit
	if limit <= 0 {
		limit = 25
	}
	nodes, err := s.db.FetchNodesInBox(ctx, box, limit, args.MinDegree, 0, limit)
	if err != nil {
		return nil, NodesInRegionResult{}, fmt.Errorf("region query error: %w", err)
	}

	out := make([]string, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, fmt.Sprintf("[%s] %q (degree %d, cluster %d) at (%.2f, %.2f)",
			n.ID, n.Label, n.Degree, n.Cluster, n.X, n.Y))
	}
	return nil, NodesInRegionResult{Papers: out}, nil
}

func (s *Service) PaperNeighbors(ctx context.Context, req *mcp.CallToolRequest, args PaperNeighborsArgs) (*mcp.CallToolResult, PaperNeighborsResult, error) {
	if s.db == nil {
		return nil, PaperNeighborsResult{}, fmt.Errorf("no local database attached")
	}
	if args.PaperID == "" {
		return nil, PaperNeighborsResult{}, fmt.Errorf("paper_id is required")
	}
	maxEdges := args.MaxEdges
	if maxEdges <= 0 {
		maxEdges = 50
	}

	res := PaperNeighborsResult{}

	// The backbone query constrains both endpoints, so widen it by
	// asking for the paper's direct tree partners instead.
	rows, err := s.db.DB().QueryContext(ctx,
		`SELECT src, dst FROM tree_edges WHERE src = ? OR dst = ? LIMIT ?`,
		args.PaperID, args.PaperID, maxEdges)
	if err != nil {
		return nil, PaperNeighborsResult{}, fmt.Errorf("backbone query error: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var src, dst string
		if err := rows.Scan(&src, &dst); err != nil {
			return nil, PaperNeighborsResult{}, err
		}
		res.Backbone = append(res.Backbone, fmt.Sprintf("%s -> %s", src, dst))
	}
	if err := rows.Err(); err != nil {
		return nil, PaperNeighborsResult{}, err
	}

	extra, _, err := s.db.FetchExtraEdgesForNodes(ctx, []string{args.PaperID}, maxEdges)
	if err != nil {
		return nil, PaperNeighborsResult{}, fmt.Errorf("extra edge query error: %w", err)
	}
	for _, e := range extra {
		res.Extra = append(res.Extra, fmt.Sprintf("%s -> %s (weight %.2f)", e.Source, e.Target, e.Weight))
	}
	return nil, res, nil
}
