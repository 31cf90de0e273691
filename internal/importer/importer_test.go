package importer

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/citescape/citescape/pkg/source"
)

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func runImport(t *testing.T, papers, tree, extra string) (Report, *source.SQLiteSource) {
	t.Helper()
	dir := t.TempDir()
	writeFile(t, dir, "papers.csv", papers)
	if tree != "" {
		writeFile(t, dir, "tree_edges.csv", tree)
	}
	if extra != "" {
		writeFile(t, dir, "extra_edges.csv", extra)
	}

	db, err := source.OpenSQLite(filepath.Join(dir, "out.db"), nil)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })

	rep, err := New(db, nil).Run(context.Background(), dir)
	if err != nil {
		t.Fatal(err)
	}
	return rep, db
}

const samplePapers = `paper_id,title,year,x,y,cluster_id,degree
p1,Attention Is All You Need,2017,1.5,-2.0,0,40
p2,Deep Residual Learning,2016,3.0,4.0,1,35
p3,Batch Normalization,2015,-1.0,0.5,1,12
`

func TestImportBuildsQueryableDatabase(t *testing.T) {
	rep, db := runImport(t, samplePapers,
		"src,dst\np1,p2\np2,p3\n",
		"src,dst,weight\np1,p3,2.5\n")

	if rep.Papers != 3 || rep.TreeEdges != 2 || rep.ExtraEdges != 1 {
		t.Fatalf("report = %+v, want 3 papers, 2 tree, 1 extra", rep)
	}

	sum, err := db.Summarize(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if sum.Papers != 3 || sum.TreeEdges != 2 || sum.ExtraEdges != 1 {
		t.Errorf("summary = %+v", sum)
	}
	if sum.MinX != -1.0 || sum.MaxX != 3.0 {
		t.Errorf("bounds x = [%v, %v], want [-1, 3]", sum.MinX, sum.MaxX)
	}

	// The R-tree must answer box queries after the import.
	bounds, err := db.DatasetBounds(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	nodes, err := db.FetchNodesInBox(context.Background(), bounds, 100, 0, 0, 100)
	if err != nil {
		t.Fatal(err)
	}
	if len(nodes) != 3 {
		t.Fatalf("nodes in full box = %d, want 3", len(nodes))
	}
	if nodes[0].ID != "p1" {
		t.Errorf("highest degree first, got %s", nodes[0].ID)
	}
}

func TestImportSkipsDanglingAndDuplicateEdges(t *testing.T) {
	rep, _ := runImport(t, samplePapers,
		"src,dst\np1,p2\np1,p2\np1,ghost\n",
		"src,dst,weight\nghost,p2,1.0\n")

	if rep.TreeEdges != 1 {
		t.Errorf("tree edges = %d, want 1", rep.TreeEdges)
	}
	if rep.DuplicateEdges != 1 {
		t.Errorf("duplicates = %d, want 1", rep.DuplicateEdges)
	}
	if rep.DanglingEdges != 2 {
		t.Errorf("dangling = %d, want 2", rep.DanglingEdges)
	}
	found := false
	for _, w := range rep.Warnings {
		if strings.Contains(w, "unknown papers") {
			found = true
		}
	}
	if !found {
		t.Errorf("warnings = %v, want dangling warning", rep.Warnings)
	}
}

func TestImportWarnsOnCyclicBackbone(t *testing.T) {
	// 3 papers with 3 tree edges form a cycle, not a forest.
	rep, _ := runImport(t, samplePapers,
		"src,dst\np1,p2\np2,p3\np3,p1\n", "")

	found := false
	for _, w := range rep.Warnings {
		if strings.Contains(w, "forest") {
			found = true
		}
	}
	if !found {
		t.Errorf("warnings = %v, want forest warning", rep.Warnings)
	}
}

func TestImportReplacesPreviousData(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "papers.csv", samplePapers)
	writeFile(t, dir, "tree_edges.csv", "src,dst\np1,p2\n")

	db, err := source.OpenSQLite(filepath.Join(dir, "out.db"), nil)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })

	im := New(db, nil)
	if _, err := im.Run(context.Background(), dir); err != nil {
		t.Fatal(err)
	}
	// Re-run with a smaller papers file; old rows must not linger.
	writeFile(t, dir, "papers.csv", "paper_id,title,year,x,y,cluster_id,degree\np9,Lone Paper,2020,0,0,0,1\n")
	rep, err := im.Run(context.Background(), dir)
	if err != nil {
		t.Fatal(err)
	}
	if rep.Papers != 1 || rep.TreeEdges != 0 {
		t.Errorf("report after re-import = %+v, want 1 paper, 0 tree edges", rep)
	}
	sum, err := db.Summarize(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if sum.Papers != 1 {
		t.Errorf("papers after re-import = %d, want 1", sum.Papers)
	}
}

func TestImportMissingPapersFileFails(t *testing.T) {
	dir := t.TempDir()
	db, err := source.OpenSQLite(filepath.Join(dir, "out.db"), nil)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })

	if _, err := New(db, nil).Run(context.Background(), dir); err == nil {
		t.Error("expected error for missing papers.csv")
	}
}
