package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/citescape/citescape/pkg/engine"
	"github.com/citescape/citescape/pkg/source"
	"github.com/gorilla/websocket"
)

func newTestServer(t *testing.T, token string) (*Server, *httptest.Server) {
	t.Helper()

	db, err := source.OpenSQLite(filepath.Join(t.TempDir(), "test.db"), nil)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	seedTestData(t, db)

	opts := engine.DefaultOptions()
	opts.Debounce = 0
	opts.DwellDelay = engine.Duration(time.Hour)
	eng := engine.New(db, opts, nil)
	t.Cleanup(func() { eng.Close() })
	if err := eng.Start(context.Background()); err != nil {
		t.Fatal(err)
	}

	srv, err := NewServer(eng, db, Config{Listen: ":0", AuthToken: token})
	if err != nil {
		t.Fatal(err)
	}
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return srv, ts
}

func seedTestData(t *testing.T, db *source.SQLiteSource) {
	t.Helper()
	for i := 0; i < 20; i++ {
		id := fmt.Sprintf("p%d", i)
		x, y := float64(i), float64(i)
		if _, err := db.DB().Exec(
			`INSERT INTO papers (paper_id, title, year, x, y, cluster_id, degree) VALUES (?,?,?,?,?,0,?)`,
			id, fmt.Sprintf("Paper number %d on citation graphs", i), 2020, x, y, i+1); err != nil {
			t.Fatal(err)
		}
		res, err := db.DB().Exec(`INSERT INTO papers_rtree_map (paper_id) VALUES (?)`, id)
		if err != nil {
			t.Fatal(err)
		}
		rid, _ := res.LastInsertId()
		if _, err := db.DB().Exec(
			`INSERT INTO papers_rtree (id, min_x, max_x, min_y, max_y) VALUES (?,?,?,?,?)`,
			rid, x, x, y, y); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := db.DB().Exec(`INSERT INTO tree_edges (src, dst) VALUES ('p0','p1'), ('p1','p2')`); err != nil {
		t.Fatal(err)
	}
	if _, err := db.DB().Exec(`INSERT INTO extra_edges (src, dst, weight) VALUES ('p0','p5',2.5)`); err != nil {
		t.Fatal(err)
	}
}

func getJSON(t *testing.T, url, token string, out any) int {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		t.Fatal(err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if out != nil && resp.StatusCode == http.StatusOK {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatal(err)
		}
	}
	return resp.StatusCode
}

func TestHealthzOpenWithoutToken(t *testing.T) {
	_, ts := newTestServer(t, "secret")
	if code := getJSON(t, ts.URL+"/healthz", "", nil); code != http.StatusOK {
		t.Errorf("healthz = %d, want 200", code)
	}
}

func TestAPIRequiresToken(t *testing.T) {
	_, ts := newTestServer(t, "secret")

	if code := getJSON(t, ts.URL+"/api/bounds", "", nil); code != http.StatusUnauthorized {
		t.Errorf("no token = %d, want 401", code)
	}
	if code := getJSON(t, ts.URL+"/api/bounds", "wrong", nil); code != http.StatusUnauthorized {
		t.Errorf("bad token = %d, want 401", code)
	}

	var bounds engine.BoundingBox
	if code := getJSON(t, ts.URL+"/api/bounds", "secret", &bounds); code != http.StatusOK {
		t.Fatalf("good token = %d, want 200", code)
	}
	if bounds.MaxX != 19 {
		t.Errorf("bounds = %+v, want max_x 19", bounds)
	}
}

func TestNodesBoxEndpoint(t *testing.T) {
	_, ts := newTestServer(t, "")

	var resp NodesBoxResponse
	url := ts.URL + "/api/nodes/box?min_x=0&max_x=5&min_y=0&max_y=5&limit=100"
	if code := getJSON(t, url, "", &resp); code != http.StatusOK {
		t.Fatalf("status = %d, want 200", code)
	}
	if len(resp.Nodes) != 6 {
		t.Errorf("nodes = %d, want 6 (p0..p5)", len(resp.Nodes))
	}

	// Inverted box is a validation error.
	bad := ts.URL + "/api/nodes/box?min_x=5&max_x=0&min_y=0&max_y=5"
	if code := getJSON(t, bad, "", nil); code != http.StatusBadRequest {
		t.Errorf("inverted box = %d, want 400", code)
	}
	// Missing params parse to NaN and fail validation the same way.
	if code := getJSON(t, ts.URL+"/api/nodes/box", "", nil); code != http.StatusBadRequest {
		t.Errorf("missing params = %d, want 400", code)
	}
}

func TestSearchEndpoint(t *testing.T) {
	_, ts := newTestServer(t, "")

	var resp SearchResponse
	if code := getJSON(t, ts.URL+"/api/search?q=citation&limit=5", "", &resp); code != http.StatusOK {
		t.Fatalf("status = %d, want 200", code)
	}
	if len(resp.Results) != 5 {
		t.Errorf("results = %d, want 5 (limit)", len(resp.Results))
	}
	if code := getJSON(t, ts.URL+"/api/search", "", nil); code != http.StatusBadRequest {
		t.Errorf("missing q = %d, want 400", code)
	}
}

func TestExtraEdgesEndpoint(t *testing.T) {
	_, ts := newTestServer(t, "")

	body, _ := json.Marshal(EdgesRequest{NodeIDs: []string{"p0", "p3"}, MaxEdges: 10})
	resp, err := http.Post(ts.URL+"/api/edges/extra", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var out ExtraEdgesResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatal(err)
	}
	if len(out.Edges) != 1 {
		t.Errorf("edges = %d, want 1", len(out.Edges))
	}
	if !out.Enriched["p0"] || !out.Enriched["p3"] {
		t.Errorf("enriched flags = %v, want both true", out.Enriched)
	}
}

func TestClientErrorEndpoint(t *testing.T) {
	_, ts := newTestServer(t, "")

	body, _ := json.Marshal(ClientErrorReport{Message: "renderer exploded", URL: "/"})
	resp, err := http.Post(ts.URL+"/api/client-error", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Errorf("status = %d, want 202", resp.StatusCode)
	}

	empty, err := http.Post(ts.URL+"/api/client-error", "application/json", strings.NewReader(`{}`))
	if err != nil {
		t.Fatal(err)
	}
	empty.Body.Close()
	if empty.StatusCode != http.StatusBadRequest {
		t.Errorf("empty report = %d, want 400", empty.StatusCode)
	}
}

func TestStatsEndpoint(t *testing.T) {
	_, ts := newTestServer(t, "")

	var resp StatsResponse
	if code := getJSON(t, ts.URL+"/api/stats", "", &resp); code != http.StatusOK {
		t.Fatalf("status = %d, want 200", code)
	}
	if resp.Engine.State != engine.StateIdle {
		t.Errorf("engine state = %s, want idle before any viewport", resp.Engine.State)
	}
	if resp.Dataset == nil || resp.Dataset.Papers != 20 {
		t.Errorf("dataset summary = %+v, want 20 papers", resp.Dataset)
	}
}

func TestStreamDrivesEngine(t *testing.T) {
	_, ts := newTestServer(t, "")

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/stream"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	var init wsFrame
	if err := conn.ReadJSON(&init); err != nil {
		t.Fatal(err)
	}
	if init.Type != "init" {
		t.Fatalf("first frame = %q, want init", init.Type)
	}
	if init.Bounds == nil || init.Bounds.MaxX != 19 {
		t.Errorf("init bounds = %+v", init.Bounds)
	}

	// Drive a viewport over the dataset; node_added events follow.
	err = conn.WriteJSON(wsInbound{Type: "viewport", Camera: engine.Camera{
		CenterX: 10, CenterY: 10, Ratio: 0.4, ScreenW: 100, ScreenH: 100,
	}})
	if err != nil {
		t.Fatal(err)
	}

	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	sawNode := false
	for i := 0; i < 100 && !sawNode; i++ {
		var f wsFrame
		if err := conn.ReadJSON(&f); err != nil {
			t.Fatalf("read frame: %v", err)
		}
		if f.Type == "node_added" && f.Node != nil {
			sawNode = true
		}
	}
	if !sawNode {
		t.Error("no node_added frame after viewport update")
	}

	// An invalid camera comes back as an error frame.
	conn.WriteJSON(wsInbound{Type: "viewport", Camera: engine.Camera{Ratio: -1}})
	for i := 0; i < 100; i++ {
		var f wsFrame
		if err := conn.ReadJSON(&f); err != nil {
			t.Fatalf("read frame: %v", err)
		}
		if f.Type == "error" {
			if !strings.Contains(f.Error, "invalid viewport bounds") {
				t.Errorf("error frame = %q", f.Error)
			}
			return
		}
	}
	t.Error("no error frame for invalid camera")
}
