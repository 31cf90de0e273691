// Package importer builds the citescape SQLite database from the CSV
// artifacts of the layout pipeline: papers.csv with positions and
// degrees, tree_edges.csv with the backbone, extra_edges.csv with the
// weighted enrichment set.
package importer

import (
	"context"
	"database/sql"
	"encoding/csv"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"

	"github.com/citescape/citescape/pkg/source"
	"golang.org/x/sync/errgroup"
)

// Report is what one import run did.
type Report struct {
	Papers         int
	TreeEdges      int
	ExtraEdges     int
	DuplicateEdges int
	DanglingEdges  int
	Warnings       []string
}

type paperRow struct {
	id      string
	title   string
	year    int
	x, y    float64
	cluster int
	degree  int
}

type edgeRow struct {
	src, dst string
	weight   float64
}

// Importer loads CSVs into an open citescape database.
type Importer struct {
	db  *source.SQLiteSource
	log *slog.Logger
}

func New(db *source.SQLiteSource, log *slog.Logger) *Importer {
	if log == nil {
		log = slog.Default()
	}
	return &Importer{db: db, log: log}
}

// Run imports papers.csv, tree_edges.csv and extra_edges.csv from dir.
// The two edge files are parsed concurrently while papers are written;
// edges naming unknown papers are skipped and counted, never fatal.
func (im *Importer) Run(ctx context.Context, dir string) (Report, error) {
	var rep Report

	papers, err := readPapers(filepath.Join(dir, "papers.csv"))
	if err != nil {
		return rep, err
	}

	var treeEdges, extraEdges []edgeRow
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		treeEdges, err = readEdges(filepath.Join(dir, "tree_edges.csv"), false)
		return err
	})
	g.Go(func() error {
		var err error
		extraEdges, err = readEdges(filepath.Join(dir, "extra_edges.csv"), true)
		return err
	})
	g.Go(func() error {
		return im.writePapers(gctx, papers)
	})
	if err := g.Wait(); err != nil {
		return rep, err
	}
	rep.Papers = len(papers)

	known := make(map[string]bool, len(papers))
	for _, p := range papers {
		known[p.id] = true
	}

	rep.TreeEdges, err = im.writeEdges(ctx, "tree_edges", treeEdges, known, &rep)
	if err != nil {
		return rep, err
	}
	rep.ExtraEdges, err = im.writeEdges(ctx, "extra_edges", extraEdges, known, &rep)
	if err != nil {
		return rep, err
	}

	// A spanning backbone of n papers has at most n-1 edges; more means
	// the tree extraction upstream produced cycles.
	if rep.Papers > 0 && rep.TreeEdges >= rep.Papers {
		w := fmt.Sprintf("backbone has %d edges for %d papers, expected a forest", rep.TreeEdges, rep.Papers)
		rep.Warnings = append(rep.Warnings, w)
		im.log.Warn(w)
	}
	if rep.DanglingEdges > 0 {
		w := fmt.Sprintf("skipped %d edges naming unknown papers", rep.DanglingEdges)
		rep.Warnings = append(rep.Warnings, w)
		im.log.Warn(w)
	}

	im.log.Info("import complete",
		"papers", rep.Papers, "tree_edges", rep.TreeEdges, "extra_edges", rep.ExtraEdges,
		"duplicates", rep.DuplicateEdges, "dangling", rep.DanglingEdges)
	return rep, nil
}

func readPapers(path string) ([]paperRow, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = 7
	header := true
	var out []paperRow
	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
		if header {
			header = false
			if rec[0] == "paper_id" {
				continue
			}
		}
		p := paperRow{id: rec[0], title: rec[1]}
		p.year, _ = strconv.Atoi(rec[2])
		if p.x, err = strconv.ParseFloat(rec[3], 64); err != nil {
			return nil, fmt.Errorf("%s: paper %s: bad x %q", path, p.id, rec[3])
		}
		if p.y, err = strconv.ParseFloat(rec[4], 64); err != nil {
			return nil, fmt.Errorf("%s: paper %s: bad y %q", path, p.id, rec[4])
		}
		p.cluster, _ = strconv.Atoi(rec[5])
		p.degree, _ = strconv.Atoi(rec[6])
		out = append(out, p)
	}
	return out, nil
}

func readEdges(path string, weighted bool) ([]edgeRow, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	if weighted {
		r.FieldsPerRecord = 3
	} else {
		r.FieldsPerRecord = 2
	}
	header := true
	var out []edgeRow
	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
		if header {
			header = false
			if rec[0] == "src" {
				continue
			}
		}
		e := edgeRow{src: rec[0], dst: rec[1], weight: 1}
		if weighted {
			if e.weight, err = strconv.ParseFloat(rec[2], 64); err != nil {
				return nil, fmt.Errorf("%s: edge %s->%s: bad weight %q", path, e.src, e.dst, rec[2])
			}
		}
		out = append(out, e)
	}
	return out, nil
}

// writePapers inserts papers plus their R-tree entries in one
// transaction, replacing any previous import.
func (im *Importer) writePapers(ctx context.Context, papers []paperRow) error {
	db := im.db.DB()
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, table := range []string{"papers_rtree", "papers_rtree_map", "papers", "tree_edges", "extra_edges"} {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("clear %s: %w", table, err)
		}
	}

	insPaper, err := tx.PrepareContext(ctx,
		`INSERT INTO papers (paper_id, title, year, x, y, cluster_id, degree) VALUES (?,?,?,?,?,?,?)`)
	if err != nil {
		return err
	}
	defer insPaper.Close()
	insMap, err := tx.PrepareContext(ctx, `INSERT INTO papers_rtree_map (paper_id) VALUES (?)`)
	if err != nil {
		return err
	}
	defer insMap.Close()
	insRtree, err := tx.PrepareContext(ctx,
		`INSERT INTO papers_rtree (id, min_x, max_x, min_y, max_y) VALUES (?,?,?,?,?)`)
	if err != nil {
		return err
	}
	defer insRtree.Close()

	for _, p := range papers {
		if _, err := insPaper.ExecContext(ctx, p.id, p.title, p.year, p.x, p.y, p.cluster, p.degree); err != nil {
			return fmt.Errorf("insert paper %s: %w", p.id, err)
		}
		res, err := insMap.ExecContext(ctx, p.id)
		if err != nil {
			return fmt.Errorf("insert rtree map %s: %w", p.id, err)
		}
		rid, err := res.LastInsertId()
		if err != nil {
			return err
		}
		if _, err := insRtree.ExecContext(ctx, rid, p.x, p.x, p.y, p.y); err != nil {
			return fmt.Errorf("insert rtree %s: %w", p.id, err)
		}
	}
	return tx.Commit()
}

// writeEdges inserts one edge table, skipping duplicates and edges that
// name papers absent from papers.csv.
func (im *Importer) writeEdges(ctx context.Context, table string, edges []edgeRow, known map[string]bool, rep *Report) (int, error) {
	db := im.db.DB()
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	var stmt string
	if table == "extra_edges" {
		stmt = `INSERT OR IGNORE INTO extra_edges (src, dst, weight) VALUES (?,?,?)`
	} else {
		stmt = `INSERT OR IGNORE INTO tree_edges (src, dst) VALUES (?,?)`
	}
	ins, err := tx.PrepareContext(ctx, stmt)
	if err != nil {
		return 0, err
	}
	defer ins.Close()

	written := 0
	for _, e := range edges {
		if !known[e.src] || !known[e.dst] {
			rep.DanglingEdges++
			continue
		}
		var res sql.Result
		if table == "extra_edges" {
			res, err = ins.ExecContext(ctx, e.src, e.dst, e.weight)
		} else {
			res, err = ins.ExecContext(ctx, e.src, e.dst)
		}
		if err != nil {
			return written, fmt.Errorf("insert %s %s->%s: %w", table, e.src, e.dst, err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			rep.DuplicateEdges++
			continue
		}
		written++
	}
	return written, tx.Commit()
}
