package server

import (
	"encoding/json"
	"log/slog"
	"math"
	"net/http"
	"strconv"

	"github.com/citescape/citescape/pkg/engine"
	"github.com/citescape/citescape/pkg/metrics"
	"github.com/citescape/citescape/pkg/source"
)

// registerHTTPHandlers sets up the REST API routes.
func (s *Server) registerHTTPHandlers(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/bounds", s.handleBounds)
	mux.HandleFunc("GET /api/stats", s.handleStats)
	mux.HandleFunc("GET /api/search", s.handleSearch)
	mux.HandleFunc("GET /api/nodes/box", s.handleNodesBox)
	mux.HandleFunc("POST /api/edges/backbone", s.handleBackboneEdges)
	mux.HandleFunc("POST /api/edges/extra", s.handleExtraEdges)
	mux.HandleFunc("POST /api/client-error", s.handleClientError)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	s.writeHTTPResponse(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleBounds(w http.ResponseWriter, r *http.Request) {
	s.writeHTTPResponse(w, http.StatusOK, s.Engine.Bounds())
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	resp := StatsResponse{Engine: s.Engine.Stats()}
	if s.db != nil {
		if sum, err := s.db.Summarize(r.Context()); err == nil {
			resp.Dataset = &sum
		} else {
			slog.Warn("dataset summary failed", "error", err)
		}
	}
	s.writeHTTPResponse(w, http.StatusOK, resp)
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	if s.db == nil {
		s.writeHTTPError(w, http.StatusServiceUnavailable, "no local database")
		return
	}
	q := r.URL.Query().Get("q")
	if q == "" {
		s.writeHTTPError(w, http.StatusBadRequest, "missing query parameter 'q'")
		return
	}
	opts := source.SearchOptions{
		Limit:     queryInt(r, "limit", 20),
		MinDegree: queryInt(r, "min_degree", 0),
		YearFrom:  queryInt(r, "year_from", 0),
		YearTo:    queryInt(r, "year_to", 0),
	}
	results, err := s.db.SearchPapers(r.Context(), q, opts)
	if err != nil {
		s.writeHTTPError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeHTTPResponse(w, http.StatusOK, SearchResponse{Query: q, Results: results})
}

// handleNodesBox is the raw query-layer passthrough used by tooling and
// by remote engines; the local engine talks to the database directly.
func (s *Server) handleNodesBox(w http.ResponseWriter, r *http.Request) {
	if s.db == nil {
		s.writeHTTPError(w, http.StatusServiceUnavailable, "no local database")
		return
	}
	box := engine.BoundingBox{
		MinX: queryFloat(r, "min_x"),
		MaxX: queryFloat(r, "max_x"),
		MinY: queryFloat(r, "min_y"),
		MaxY: queryFloat(r, "max_y"),
	}
	if err := box.Validate(); err != nil {
		s.writeHTTPError(w, http.StatusBadRequest, err.Error())
		return
	}
	nodes, err := s.db.FetchNodesInBox(r.Context(), box,
		queryInt(r, "max_nodes", 5000),
		queryInt(r, "min_degree", 0),
		queryInt(r, "offset", 0),
		queryInt(r, "limit", 1000))
	if err != nil {
		s.writeHTTPError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeHTTPResponse(w, http.StatusOK, NodesBoxResponse{Nodes: nodes})
}

func (s *Server) handleBackboneEdges(w http.ResponseWriter, r *http.Request) {
	if s.db == nil {
		s.writeHTTPError(w, http.StatusServiceUnavailable, "no local database")
		return
	}
	var req EdgesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeHTTPError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}
	edges, err := s.db.FetchBackboneEdgesForNodes(r.Context(), req.NodeIDs)
	if err != nil {
		s.writeHTTPError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeHTTPResponse(w, http.StatusOK, BackboneEdgesResponse{Edges: edges})
}

func (s *Server) handleExtraEdges(w http.ResponseWriter, r *http.Request) {
	if s.db == nil {
		s.writeHTTPError(w, http.StatusServiceUnavailable, "no local database")
		return
	}
	var req EdgesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeHTTPError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}
	edges, enriched, err := s.db.FetchExtraEdgesForNodes(r.Context(), req.NodeIDs, req.MaxEdges)
	if err != nil {
		s.writeHTTPError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeHTTPResponse(w, http.StatusOK, ExtraEdgesResponse{Edges: edges, Enriched: enriched})
}

// handleClientError logs frontend failures server-side, where the logs
// actually get read.
func (s *Server) handleClientError(w http.ResponseWriter, r *http.Request) {
	var report ClientErrorReport
	if err := json.NewDecoder(r.Body).Decode(&report); err != nil {
		s.writeHTTPError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}
	if report.Message == "" {
		s.writeHTTPError(w, http.StatusBadRequest, "missing error message")
		return
	}
	slog.Warn("client error report",
		"message", report.Message,
		"url", report.URL,
		"user_agent", report.UserAgent,
		"stack", report.Stack,
	)
	metrics.ClientErrors.Inc()
	s.writeHTTPResponse(w, http.StatusAccepted, map[string]string{"status": "logged"})
}

// --- HTTP response helpers ---

func (s *Server) writeHTTPResponse(w http.ResponseWriter, statusCode int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(payload)
}

func (s *Server) writeHTTPError(w http.ResponseWriter, statusCode int, message string) {
	s.writeHTTPResponse(w, statusCode, map[string]string{"error": message})
}

func queryInt(r *http.Request, name string, def int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return v
}

// queryFloat returns NaN for a missing or malformed parameter, which
// box validation then rejects with a 400.
func queryFloat(r *http.Request, name string) float64 {
	v, err := strconv.ParseFloat(r.URL.Query().Get(name), 64)
	if err != nil {
		return math.NaN()
	}
	return v
}
