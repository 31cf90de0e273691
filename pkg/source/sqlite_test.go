package source

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/citescape/citescape/pkg/engine"
)

func openTestDB(t *testing.T) *SQLiteSource {
	t.Helper()
	s, err := OpenSQLite(filepath.Join(t.TempDir(), "test.db"), nil)
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func addPaper(t *testing.T, s *SQLiteSource, id, title string, year int, x, y float64, degree int) {
	t.Helper()
	db := s.DB()
	if _, err := db.Exec(
		`INSERT INTO papers (paper_id, title, year, x, y, cluster_id, degree) VALUES (?,?,?,?,?,0,?)`,
		id, title, year, x, y, degree); err != nil {
		t.Fatalf("insert paper: %v", err)
	}
	res, err := db.Exec(`INSERT INTO papers_rtree_map (paper_id) VALUES (?)`, id)
	if err != nil {
		t.Fatalf("insert rtree map: %v", err)
	}
	rid, _ := res.LastInsertId()
	if _, err := db.Exec(
		`INSERT INTO papers_rtree (id, min_x, max_x, min_y, max_y) VALUES (?,?,?,?,?)`,
		rid, x, x, y, y); err != nil {
		t.Fatalf("insert rtree: %v", err)
	}
}

func addTreeEdge(t *testing.T, s *SQLiteSource, src, dst string) {
	t.Helper()
	if _, err := s.DB().Exec(`INSERT INTO tree_edges (src, dst) VALUES (?,?)`, src, dst); err != nil {
		t.Fatalf("insert tree edge: %v", err)
	}
}

func addExtraEdge(t *testing.T, s *SQLiteSource, src, dst string, weight float64) {
	t.Helper()
	if _, err := s.DB().Exec(`INSERT INTO extra_edges (src, dst, weight) VALUES (?,?,?)`, src, dst, weight); err != nil {
		t.Fatalf("insert extra edge: %v", err)
	}
}

func TestDatasetBounds(t *testing.T) {
	s := openTestDB(t)
	ctx := context.Background()

	if _, err := s.DatasetBounds(ctx); !errors.Is(err, ErrEmptyDataset) {
		t.Errorf("empty db err = %v, want ErrEmptyDataset", err)
	}

	addPaper(t, s, "p1", "a", 2020, -3, 2, 1)
	addPaper(t, s, "p2", "b", 2021, 7, -5, 1)

	b, err := s.DatasetBounds(ctx)
	if err != nil {
		t.Fatal(err)
	}
	want := engine.BoundingBox{MinX: -3, MaxX: 7, MinY: -5, MaxY: 2}
	if b != want {
		t.Errorf("bounds = %+v, want %+v", b, want)
	}
}

func TestFetchNodesInBox(t *testing.T) {
	s := openTestDB(t)
	ctx := context.Background()

	addPaper(t, s, "in_hi", "t", 2020, 1, 1, 50)
	addPaper(t, s, "in_mid", "t", 2020, 2, 2, 20)
	addPaper(t, s, "in_lo", "t", 2020, 3, 3, 2)
	addPaper(t, s, "outside", "t", 2020, 100, 100, 99)

	box := engine.BoundingBox{MinX: 0, MaxX: 10, MinY: 0, MaxY: 10}

	nodes, err := s.FetchNodesInBox(ctx, box, 100, 0, 0, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(nodes) != 3 {
		t.Fatalf("nodes = %d, want 3 inside box", len(nodes))
	}
	if nodes[0].ID != "in_hi" || nodes[2].ID != "in_lo" {
		t.Errorf("not degree-descending: %s ... %s", nodes[0].ID, nodes[2].ID)
	}

	// Degree floor.
	nodes, err = s.FetchNodesInBox(ctx, box, 100, 10, 0, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(nodes) != 2 {
		t.Errorf("nodes with degree >= 10 = %d, want 2", len(nodes))
	}

	// Paging.
	page, err := s.FetchNodesInBox(ctx, box, 100, 0, 1, 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(page) != 1 || page[0].ID != "in_mid" {
		t.Errorf("page offset 1 = %+v, want in_mid", page)
	}

	// Tier cap clamps the window.
	capped, err := s.FetchNodesInBox(ctx, box, 2, 0, 0, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(capped) != 2 {
		t.Errorf("capped fetch = %d nodes, want 2", len(capped))
	}
	if more, _ := s.FetchNodesInBox(ctx, box, 2, 0, 2, 10); len(more) != 0 {
		t.Errorf("fetch past cap = %d nodes, want 0", len(more))
	}
}

func TestFetchBackboneEdgesForNodes(t *testing.T) {
	s := openTestDB(t)
	ctx := context.Background()

	addTreeEdge(t, s, "a", "b")
	addTreeEdge(t, s, "a", "c")
	addTreeEdge(t, s, "x", "y")

	edges, err := s.FetchBackboneEdgesForNodes(ctx, []string{"a", "b", "y"})
	if err != nil {
		t.Fatal(err)
	}
	// Only a->b has both endpoints in the set; a->c and x->y do not.
	if len(edges) != 1 {
		t.Fatalf("edges = %d, want 1", len(edges))
	}
	if edges[0].Source != "a" || edges[0].Target != "b" || !edges[0].Backbone {
		t.Errorf("edge = %+v, want backbone a->b", edges[0])
	}

	if edges, err := s.FetchBackboneEdgesForNodes(ctx, nil); err != nil || edges != nil {
		t.Errorf("empty ids: edges=%v err=%v, want nil/nil", edges, err)
	}
}

func TestFetchExtraEdgesForNodes(t *testing.T) {
	s := openTestDB(t)
	ctx := context.Background()

	addExtraEdge(t, s, "a", "z1", 5)
	addExtraEdge(t, s, "z2", "a", 3)
	addExtraEdge(t, s, "b", "z3", 1)
	addExtraEdge(t, s, "u", "v", 9) // touches neither

	edges, flags, err := s.FetchExtraEdgesForNodes(ctx, []string{"a", "b", "c"}, 100)
	if err != nil {
		t.Fatal(err)
	}
	if len(edges) != 3 {
		t.Fatalf("edges = %d, want 3 touching the set", len(edges))
	}
	if edges[0].Weight != 5 {
		t.Errorf("first edge weight = %v, want heaviest first", edges[0].Weight)
	}
	for _, id := range []string{"a", "b", "c"} {
		if !flags[id] {
			t.Errorf("node %s not flagged enriched on a complete response", id)
		}
	}
}

func TestFetchExtraEdgesTruncationFlags(t *testing.T) {
	s := openTestDB(t)
	ctx := context.Background()

	addExtraEdge(t, s, "a", "z1", 5)
	addExtraEdge(t, s, "a", "z2", 4)
	addExtraEdge(t, s, "b", "z3", 3)

	// Budget of 2 returns a's two edges and truncates b's.
	edges, flags, err := s.FetchExtraEdgesForNodes(ctx, []string{"a", "b"}, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(edges) != 2 {
		t.Fatalf("edges = %d, want 2 (budget)", len(edges))
	}
	if !flags["a"] {
		t.Error("a has all its edges returned, should be enriched")
	}
	if flags["b"] {
		t.Error("b was truncated, must stay eligible for a later fetch")
	}
}

func TestSearchPapers(t *testing.T) {
	s := openTestDB(t)
	ctx := context.Background()

	addPaper(t, s, "p1", "Attention Is All You Need", 2017, 0, 0, 900)
	addPaper(t, s, "p2", "Attention and Memory in Deep Learning", 2016, 1, 1, 100)
	addPaper(t, s, "p3", "Sparse Attention Patterns", 2020, 2, 2, 400)
	addPaper(t, s, "p4", "Graph Convolutions", 2019, 3, 3, 800)

	results, err := s.SearchPapers(ctx, "attention", SearchOptions{Limit: 10})
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 3 {
		t.Fatalf("results = %d, want 3 title matches", len(results))
	}
	// Prefix matches outrank the substring match regardless of degree.
	if results[0].ID == "p3" {
		t.Errorf("substring match ranked first: %+v", results[0])
	}
	for _, r := range results {
		if r.Relevance <= 0 {
			t.Errorf("result %s has non-positive relevance", r.ID)
		}
	}

	// Filters.
	filtered, err := s.SearchPapers(ctx, "attention", SearchOptions{Limit: 10, YearFrom: 2017})
	if err != nil {
		t.Fatal(err)
	}
	if len(filtered) != 2 {
		t.Errorf("year-filtered results = %d, want 2", len(filtered))
	}

	if r, err := s.SearchPapers(ctx, "", SearchOptions{}); err != nil || r != nil {
		t.Errorf("empty query: results=%v err=%v, want nil/nil", r, err)
	}
}

func TestSummarize(t *testing.T) {
	s := openTestDB(t)
	ctx := context.Background()

	for i, deg := range []int{1, 2, 3, 4, 100} {
		addPaper(t, s, string(rune('a'+i)), "t", 2020, float64(i), float64(i), deg)
	}
	addTreeEdge(t, s, "a", "b")
	addExtraEdge(t, s, "a", "c", 1)
	addExtraEdge(t, s, "b", "c", 2)

	sum, err := s.Summarize(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if sum.Papers != 5 || sum.TreeEdges != 1 || sum.ExtraEdges != 2 {
		t.Errorf("counts = %v, want 5/1/2", sum)
	}
	if sum.DegreeMax != 100 {
		t.Errorf("degree max = %v, want 100", sum.DegreeMax)
	}
	if sum.DegreeP50 <= 0 || sum.DegreeP50 > sum.DegreeP99 {
		t.Errorf("quantiles out of order: p50=%v p99=%v", sum.DegreeP50, sum.DegreeP99)
	}
	if sum.MaxX != 4 {
		t.Errorf("bounds max x = %v, want 4", sum.MaxX)
	}
}
