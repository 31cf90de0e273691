// Package source implements the query layers the streaming engine can
// run against: a local SQLite database with an R-tree spatial index (the
// normal case) and a rate-limited HTTP client for remote deployments.
// Both satisfy engine.Source.
package source

import (
	"fmt"
	"math"
	"strings"
)

// SearchOptions filters a title search. Zero values mean no filter.
type SearchOptions struct {
	Limit     int `json:"limit"`
	MinDegree int `json:"min_degree"`
	YearFrom  int `json:"year_from"`
	YearTo    int `json:"year_to"`
}

// SearchResult is one ranked hit of a paper search.
type SearchResult struct {
	ID        string  `json:"id"`
	Title     string  `json:"title"`
	Year      int     `json:"year,omitempty"`
	X         float32 `json:"x"`
	Y         float32 `json:"y"`
	Cluster   int     `json:"cluster"`
	Degree    int     `json:"degree"`
	Relevance float64 `json:"relevance"`
}

// Summary describes the dataset behind the query layer, for the debug
// overlay and the MCP stats tool.
type Summary struct {
	Papers     int64   `json:"papers"`
	TreeEdges  int64   `json:"tree_edges"`
	ExtraEdges int64   `json:"extra_edges"`
	MinX       float64 `json:"min_x"`
	MaxX       float64 `json:"max_x"`
	MinY       float64 `json:"min_y"`
	MaxY       float64 `json:"max_y"`
	DegreeP50  float64 `json:"degree_p50"`
	DegreeP90  float64 `json:"degree_p90"`
	DegreeP99  float64 `json:"degree_p99"`
	DegreeMax  float64 `json:"degree_max"`
}

// placeholders returns "?,?,..." with n slots.
func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.Repeat("?,", n-1) + "?"
}

// args converts ids to a driver argument slice, optionally repeated.
func args(ids []string, times int) []any {
	out := make([]any, 0, len(ids)*times)
	for i := 0; i < times; i++ {
		for _, id := range ids {
			out = append(out, id)
		}
	}
	return out
}

// relevance ranks a title hit: exact match dominates, then prefix, then
// substring, with a degree term breaking ties between equal match kinds.
func relevance(title, query string, degree int) float64 {
	t, q := strings.ToLower(title), strings.ToLower(query)
	var match float64
	switch {
	case t == q:
		match = 100
	case strings.HasPrefix(t, q):
		match = 60
	case strings.Contains(t, q):
		match = 30
	}
	return match + math.Log1p(float64(degree))*10
}

func (s Summary) String() string {
	return fmt.Sprintf("%d papers, %d tree edges, %d extra edges", s.Papers, s.TreeEdges, s.ExtraEdges)
}
