package source

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/citescape/citescape/pkg/engine"
	"github.com/citescape/citescape/pkg/graph"
	"golang.org/x/time/rate"
)

// APIError is a non-2xx response from a remote citescape server.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error (status %d): %s", e.StatusCode, e.Message)
}

// HTTPSource runs the engine against a remote citescape server instead
// of a local database. Requests are rate limited; failures surface to
// the engine unretried, since its load cycle owns the failure policy.
type HTTPSource struct {
	baseURL string
	token   string
	http    *http.Client
	limiter *rate.Limiter
}

var _ engine.Source = (*HTTPSource)(nil)

// NewHTTPSource creates a client for the server at baseURL. rps caps
// outgoing requests per second; <= 0 means 20.
func NewHTTPSource(baseURL, token string, rps float64) *HTTPSource {
	if rps <= 0 {
		rps = 20
	}
	return &HTTPSource{
		baseURL: baseURL,
		token:   token,
		http:    &http.Client{Timeout: 15 * time.Second},
		limiter: rate.NewLimiter(rate.Limit(rps), int(rps)),
	}
}

func (c *HTTPSource) DatasetBounds(ctx context.Context) (engine.BoundingBox, error) {
	var box engine.BoundingBox
	err := c.doJSON(ctx, http.MethodGet, "/api/bounds", nil, &box)
	return box, err
}

func (c *HTTPSource) FetchNodesInBox(ctx context.Context, box engine.BoundingBox, maxNodes, minDegree, offset, limit int) ([]graph.Node, error) {
	q := url.Values{}
	q.Set("min_x", strconv.FormatFloat(box.MinX, 'f', -1, 64))
	q.Set("max_x", strconv.FormatFloat(box.MaxX, 'f', -1, 64))
	q.Set("min_y", strconv.FormatFloat(box.MinY, 'f', -1, 64))
	q.Set("max_y", strconv.FormatFloat(box.MaxY, 'f', -1, 64))
	q.Set("max_nodes", strconv.Itoa(maxNodes))
	q.Set("min_degree", strconv.Itoa(minDegree))
	q.Set("offset", strconv.Itoa(offset))
	q.Set("limit", strconv.Itoa(limit))

	var resp struct {
		Nodes []graph.Node `json:"nodes"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/api/nodes/box?"+q.Encode(), nil, &resp); err != nil {
		return nil, err
	}
	return resp.Nodes, nil
}

func (c *HTTPSource) FetchBackboneEdgesForNodes(ctx context.Context, ids []string) ([]graph.Edge, error) {
	req := map[string]any{"node_ids": ids}
	var resp struct {
		Edges []graph.Edge `json:"edges"`
	}
	if err := c.doJSON(ctx, http.MethodPost, "/api/edges/backbone", req, &resp); err != nil {
		return nil, err
	}
	return resp.Edges, nil
}

func (c *HTTPSource) FetchExtraEdgesForNodes(ctx context.Context, ids []string, maxEdges int) ([]graph.Edge, map[string]bool, error) {
	req := map[string]any{"node_ids": ids, "max_edges": maxEdges}
	var resp struct {
		Edges    []graph.Edge    `json:"edges"`
		Enriched map[string]bool `json:"enriched"`
	}
	if err := c.doJSON(ctx, http.MethodPost, "/api/edges/extra", req, &resp); err != nil {
		return nil, nil, err
	}
	return resp.Edges, resp.Enriched, nil
}

// doJSON runs one rate-limited request, decoding a JSON body into out
// and turning non-2xx statuses into *APIError.
func (c *HTTPSource) doJSON(ctx context.Context, method, path string, body, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(buf)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var apiErr struct {
			Error string `json:"error"`
		}
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		msg := string(raw)
		if json.Unmarshal(raw, &apiErr) == nil && apiErr.Error != "" {
			msg = apiErr.Error
		}
		return &APIError{StatusCode: resp.StatusCode, Message: msg}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
