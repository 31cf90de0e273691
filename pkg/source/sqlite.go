package source

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/citescape/citescape/pkg/engine"
	"github.com/citescape/citescape/pkg/graph"
	"gonum.org/v1/gonum/stat"
	_ "modernc.org/sqlite"
)

// Schema is the citescape database layout. Papers carry the layout
// coordinates; papers_rtree indexes them spatially (points stored as
// degenerate boxes, joined through papers_rtree_map because the R-tree
// only keys on integers). tree_edges is the backbone, extra_edges the
// enrichment set.
const Schema = `
CREATE TABLE IF NOT EXISTS papers (
	paper_id   TEXT PRIMARY KEY,
	title      TEXT NOT NULL DEFAULT '',
	year       INTEGER NOT NULL DEFAULT 0,
	x          REAL NOT NULL,
	y          REAL NOT NULL,
	cluster_id INTEGER NOT NULL DEFAULT 0,
	degree     INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_papers_degree ON papers(degree DESC);

CREATE VIRTUAL TABLE IF NOT EXISTS papers_rtree USING rtree(
	id, min_x, max_x, min_y, max_y
);
CREATE TABLE IF NOT EXISTS papers_rtree_map (
	rtree_id INTEGER PRIMARY KEY,
	paper_id TEXT NOT NULL UNIQUE
);

CREATE TABLE IF NOT EXISTS tree_edges (
	src TEXT NOT NULL,
	dst TEXT NOT NULL,
	PRIMARY KEY (src, dst)
) WITHOUT ROWID;
CREATE INDEX IF NOT EXISTS idx_tree_edges_dst ON tree_edges(dst);

CREATE TABLE IF NOT EXISTS extra_edges (
	src    TEXT NOT NULL,
	dst    TEXT NOT NULL,
	weight REAL NOT NULL DEFAULT 1,
	PRIMARY KEY (src, dst)
) WITHOUT ROWID;
CREATE INDEX IF NOT EXISTS idx_extra_edges_dst ON extra_edges(dst);
`

// ErrEmptyDataset is returned by DatasetBounds when no papers exist.
var ErrEmptyDataset = errors.New("dataset is empty")

// SQLiteSource serves the engine from a local citescape database.
type SQLiteSource struct {
	db  *sql.DB
	log *slog.Logger
}

var _ engine.Source = (*SQLiteSource)(nil)

// OpenSQLite opens (and if needed initializes) a citescape database.
func OpenSQLite(path string, log *slog.Logger) (*SQLiteSource, error) {
	if log == nil {
		log = slog.Default()
	}
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database %s: %w", path, err)
	}
	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return &SQLiteSource{db: db, log: log}, nil
}

// DB exposes the handle for the importer, which shares the connection.
func (s *SQLiteSource) DB() *sql.DB { return s.db }

func (s *SQLiteSource) Close() error { return s.db.Close() }

// DatasetBounds returns the extent of all paper positions.
func (s *SQLiteSource) DatasetBounds(ctx context.Context) (engine.BoundingBox, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT MIN(x), MAX(x), MIN(y), MAX(y) FROM papers`)
	var minX, maxX, minY, maxY sql.NullFloat64
	if err := row.Scan(&minX, &maxX, &minY, &maxY); err != nil {
		return engine.BoundingBox{}, fmt.Errorf("query bounds: %w", err)
	}
	if !minX.Valid {
		return engine.BoundingBox{}, ErrEmptyDataset
	}
	return engine.BoundingBox{
		MinX: minX.Float64, MaxX: maxX.Float64,
		MinY: minY.Float64, MaxY: maxY.Float64,
	}, nil
}

// FetchNodesInBox returns one degree-descending page of papers inside
// the box, filtered by the tier's degree floor. The R-tree narrows the
// candidate set before the degree sort.
func (s *SQLiteSource) FetchNodesInBox(ctx context.Context, box engine.BoundingBox, maxNodes, minDegree, offset, limit int) ([]graph.Node, error) {
	if maxNodes > 0 {
		if offset >= maxNodes {
			return nil, nil
		}
		if remaining := maxNodes - offset; limit > remaining {
			limit = remaining
		}
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT p.paper_id, p.title, p.x, p.y, p.cluster_id, p.degree
		FROM papers_rtree r
		JOIN papers_rtree_map m ON m.rtree_id = r.id
		JOIN papers p ON p.paper_id = m.paper_id
		WHERE r.min_x >= ? AND r.max_x <= ? AND r.min_y >= ? AND r.max_y <= ?
		  AND p.degree >= ?
		ORDER BY p.degree DESC, p.paper_id
		LIMIT ? OFFSET ?`,
		box.MinX, box.MaxX, box.MinY, box.MaxY, minDegree, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("query nodes in box: %w", err)
	}
	defer rows.Close()

	var out []graph.Node
	for rows.Next() {
		var n graph.Node
		if err := rows.Scan(&n.ID, &n.Label, &n.X, &n.Y, &n.Cluster, &n.Degree); err != nil {
			return nil, fmt.Errorf("scan node: %w", err)
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

// FetchBackboneEdgesForNodes returns the tree edges with BOTH endpoints
// among ids, so every returned edge is drawable against the page it
// belongs to.
func (s *SQLiteSource) FetchBackboneEdgesForNodes(ctx context.Context, ids []string) ([]graph.Edge, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	ph := placeholders(len(ids))
	rows, err := s.db.QueryContext(ctx,
		fmt.Sprintf(`SELECT src, dst FROM tree_edges WHERE src IN (%s) AND dst IN (%s)`, ph, ph),
		args(ids, 2)...)
	if err != nil {
		return nil, fmt.Errorf("query backbone edges: %w", err)
	}
	defer rows.Close()

	var out []graph.Edge
	for rows.Next() {
		e := graph.Edge{Backbone: true}
		if err := rows.Scan(&e.Source, &e.Target); err != nil {
			return nil, fmt.Errorf("scan backbone edge: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// FetchExtraEdgesForNodes returns up to maxEdges extra edges touching
// any of ids, heaviest first. A node is flagged enriched only when every
// one of its incident extra edges made it into the result, so truncated
// responses leave it eligible for a later fetch.
func (s *SQLiteSource) FetchExtraEdgesForNodes(ctx context.Context, ids []string, maxEdges int) ([]graph.Edge, map[string]bool, error) {
	if len(ids) == 0 {
		return nil, nil, nil
	}
	if maxEdges <= 0 {
		maxEdges = 500
	}
	ph := placeholders(len(ids))
	rows, err := s.db.QueryContext(ctx,
		fmt.Sprintf(`SELECT src, dst, weight FROM extra_edges
			WHERE src IN (%s) OR dst IN (%s)
			ORDER BY weight DESC, src, dst LIMIT ?`, ph, ph),
		append(args(ids, 2), maxEdges)...)
	if err != nil {
		return nil, nil, fmt.Errorf("query extra edges: %w", err)
	}
	defer rows.Close()

	requested := make(map[string]bool, len(ids))
	for _, id := range ids {
		requested[id] = true
	}
	returned := make(map[string]int)
	var edges []graph.Edge
	for rows.Next() {
		var e graph.Edge
		if err := rows.Scan(&e.Source, &e.Target, &e.Weight); err != nil {
			return nil, nil, fmt.Errorf("scan extra edge: %w", err)
		}
		edges = append(edges, e)
		if requested[e.Source] {
			returned[e.Source]++
		}
		if requested[e.Target] {
			returned[e.Target]++
		}
	}
	if err := rows.Err(); err != nil {
		return nil, nil, err
	}

	totals, err := s.extraEdgeCounts(ctx, ids)
	if err != nil {
		return nil, nil, err
	}
	flags := make(map[string]bool, len(ids))
	for _, id := range ids {
		flags[id] = returned[id] == totals[id]
	}
	return edges, flags, nil
}

// extraEdgeCounts returns, per id, how many extra edges touch it.
func (s *SQLiteSource) extraEdgeCounts(ctx context.Context, ids []string) (map[string]int, error) {
	ph := placeholders(len(ids))
	rows, err := s.db.QueryContext(ctx,
		fmt.Sprintf(`SELECT id, COUNT(*) FROM (
			SELECT src AS id FROM extra_edges WHERE src IN (%s)
			UNION ALL
			SELECT dst AS id FROM extra_edges WHERE dst IN (%s)
		) GROUP BY id`, ph, ph),
		args(ids, 2)...)
	if err != nil {
		return nil, fmt.Errorf("count extra edges: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int, len(ids))
	for rows.Next() {
		var id string
		var n int
		if err := rows.Scan(&id, &n); err != nil {
			return nil, err
		}
		counts[id] = n
	}
	return counts, rows.Err()
}

// SearchPapers runs a ranked title search. Matching is a case-blind
// substring LIKE; ranking favors exact and prefix matches, then degree.
func (s *SQLiteSource) SearchPapers(ctx context.Context, query string, opts SearchOptions) ([]SearchResult, error) {
	if query == "" {
		return nil, nil
	}
	limit := opts.Limit
	if limit <= 0 {
		limit = 20
	}
	where := `title LIKE ? ESCAPE '\'`
	sqlArgs := []any{"%" + escapeLike(query) + "%"}
	if opts.MinDegree > 0 {
		where += ` AND degree >= ?`
		sqlArgs = append(sqlArgs, opts.MinDegree)
	}
	if opts.YearFrom > 0 {
		where += ` AND year >= ?`
		sqlArgs = append(sqlArgs, opts.YearFrom)
	}
	if opts.YearTo > 0 {
		where += ` AND year <= ?`
		sqlArgs = append(sqlArgs, opts.YearTo)
	}
	// Over-fetch by degree, rank in memory, trim to limit.
	sqlArgs = append(sqlArgs, limit*5)
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT paper_id, title, year, x, y, cluster_id, degree
		FROM papers WHERE %s
		ORDER BY degree DESC LIMIT ?`, where), sqlArgs...)
	if err != nil {
		return nil, fmt.Errorf("search papers: %w", err)
	}
	defer rows.Close()

	var results []SearchResult
	for rows.Next() {
		var r SearchResult
		if err := rows.Scan(&r.ID, &r.Title, &r.Year, &r.X, &r.Y, &r.Cluster, &r.Degree); err != nil {
			return nil, fmt.Errorf("scan search result: %w", err)
		}
		r.Relevance = relevance(r.Title, query, r.Degree)
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	sort.SliceStable(results, func(i, j int) bool { return results[i].Relevance > results[j].Relevance })
	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

// Summarize reports table counts, bounds and the degree distribution.
func (s *SQLiteSource) Summarize(ctx context.Context) (Summary, error) {
	var sum Summary
	for _, q := range []struct {
		dst   *int64
		query string
	}{
		{&sum.Papers, `SELECT COUNT(*) FROM papers`},
		{&sum.TreeEdges, `SELECT COUNT(*) FROM tree_edges`},
		{&sum.ExtraEdges, `SELECT COUNT(*) FROM extra_edges`},
	} {
		if err := s.db.QueryRowContext(ctx, q.query).Scan(q.dst); err != nil {
			return Summary{}, fmt.Errorf("summarize: %w", err)
		}
	}
	if sum.Papers == 0 {
		return sum, nil
	}

	b, err := s.DatasetBounds(ctx)
	if err != nil {
		return Summary{}, err
	}
	sum.MinX, sum.MaxX, sum.MinY, sum.MaxY = b.MinX, b.MaxX, b.MinY, b.MaxY

	rows, err := s.db.QueryContext(ctx, `SELECT degree FROM papers ORDER BY degree`)
	if err != nil {
		return Summary{}, fmt.Errorf("summarize degrees: %w", err)
	}
	defer rows.Close()
	var degrees []float64
	for rows.Next() {
		var d float64
		if err := rows.Scan(&d); err != nil {
			return Summary{}, err
		}
		degrees = append(degrees, d)
	}
	if err := rows.Err(); err != nil {
		return Summary{}, err
	}
	if len(degrees) > 0 {
		sum.DegreeP50 = stat.Quantile(0.50, stat.Empirical, degrees, nil)
		sum.DegreeP90 = stat.Quantile(0.90, stat.Empirical, degrees, nil)
		sum.DegreeP99 = stat.Quantile(0.99, stat.Empirical, degrees, nil)
		sum.DegreeMax = degrees[len(degrees)-1]
	}
	return sum, nil
}

func escapeLike(s string) string {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '%', '_', '\\':
			out = append(out, '\\')
		}
		out = append(out, s[i])
	}
	return string(out)
}
