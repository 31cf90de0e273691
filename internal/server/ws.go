package server

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/citescape/citescape/pkg/engine"
	"github.com/citescape/citescape/pkg/graph"
	"github.com/citescape/citescape/pkg/metrics"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// Local single-user tool; the browser UI is served from this same
	// process, so cross-origin upgrades are fine.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// wsInbound is a frame from the renderer. Only viewport frames exist.
type wsInbound struct {
	Type   string        `json:"type"`
	Camera engine.Camera `json:"camera"`
}

// wsFrame is one server-to-renderer message. Type is either "init",
// "stats", "error", or a store event name (node_added, edge_removed, ...).
type wsFrame struct {
	Type   string              `json:"type"`
	Node   *graph.Node         `json:"node,omitempty"`
	Edge   *graph.Edge         `json:"edge,omitempty"`
	Nodes  []graph.Node        `json:"nodes,omitempty"`
	Edges  []graph.Edge        `json:"edges,omitempty"`
	Bounds *engine.BoundingBox `json:"bounds,omitempty"`
	Stats  *engine.Stats       `json:"stats,omitempty"`
	Error  string              `json:"error,omitempty"`
}

// handleStream is the render loop: the client sends camera frames, the
// server streams back the store mutations they cause, plus a stats frame
// every second.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	if s.authToken != "" {
		token := r.URL.Query().Get("token")
		if token == "" {
			token = strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		}
		if token != s.authToken {
			s.writeHTTPError(w, http.StatusUnauthorized, "invalid or missing token")
			return
		}
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("websocket upgrade failed", "error", err, "ip", r.RemoteAddr)
		return
	}
	defer conn.Close()
	metrics.WSClients.Inc()
	defer metrics.WSClients.Dec()
	slog.Info("stream client connected", "ip", r.RemoteAddr)

	store := s.Engine.Store()
	sub := store.Subscribe(1024)
	defer sub.Close()

	// Sync the fresh client with everything already materialized.
	nodes, edges := store.Snapshot()
	bounds := s.Engine.Bounds()
	stats := s.Engine.Stats()
	if err := conn.WriteJSON(wsFrame{
		Type: "init", Nodes: nodes, Edges: edges, Bounds: &bounds, Stats: &stats,
	}); err != nil {
		return
	}

	// Reader: camera frames in. Rejected cameras go back as error
	// frames through outbound so only one goroutine ever writes.
	outbound := make(chan wsFrame, 16)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			var in wsInbound
			if err := conn.ReadJSON(&in); err != nil {
				return
			}
			if in.Type != "viewport" {
				continue
			}
			if err := s.Engine.UpdateViewport(in.Camera); err != nil {
				select {
				case outbound <- wsFrame{Type: "error", Error: err.Error()}:
				default:
				}
			}
		}
	}()

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			slog.Info("stream client disconnected", "ip", r.RemoteAddr)
			return
		case f := <-outbound:
			if conn.WriteJSON(f) != nil {
				return
			}
		case ev, ok := <-sub.C:
			if !ok {
				return
			}
			f := wsFrame{Type: ev.Type.String()}
			switch ev.Type {
			case graph.EventNodeAdded, graph.EventNodeUpdated, graph.EventNodeRemoved:
				n := ev.Node
				f.Node = &n
			case graph.EventEdgeAdded, graph.EventEdgeRemoved:
				e := ev.Edge
				f.Edge = &e
			}
			if conn.WriteJSON(f) != nil {
				return
			}
		case <-ticker.C:
			st := s.Engine.Stats()
			if conn.WriteJSON(wsFrame{Type: "stats", Stats: &st}) != nil {
				return
			}
		}
	}
}
