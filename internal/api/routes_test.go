package api

import (
	"bytes"
	"encoding/json"
	"image/png"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/taxodash/server/internal/artifactstore"
	"github.com/taxodash/server/internal/cache"
	"github.com/taxodash/server/internal/dataset"
	"github.com/taxodash/server/internal/render"
	"github.com/taxodash/server/internal/service"
	"github.com/taxodash/server/internal/web"
)

const testTSV = `# cell table
	sample	supercluster_name	cluster_name	subcluster_name	cluster_bootstrapping_probability	umap1	umap2	n_genes
c1	S1	X	A	a1	0.9	0.0	0.0	100
c2	S1	X	A	a2	0.8	1.0	1.0	200
c3	S2	X	B	b1	0.7	2.0	0.5	300
c4	S2	Y	C	c1	0.6	3.0	2.5	400
c5	S1	Y	B	b2	0.5	3.0	2.0	NA
c6	S2	NA	NA	NA	NA	4.0	3.0	600
`

// testServer holds the test server and its dependencies
type testServer struct {
	server  *httptest.Server
	client  *http.Client
	service *service.DashboardService
	store   *artifactstore.SQLiteStore
}

// setupTestServer initializes all components and returns a test server
func setupTestServer(t *testing.T) *testServer {
	t.Helper()

	tbl, err := dataset.Load(strings.NewReader(testTSV), dataset.LoadOptions{IndexColumn: true})
	if err != nil {
		t.Fatalf("Failed to load dataset: %v", err)
	}

	store, err := artifactstore.NewSQLiteStore(filepath.Join(t.TempDir(), "artifacts.sqlite"))
	if err != nil {
		t.Fatalf("Failed to open artifact store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	cacheManager, err := cache.NewManager(cache.Config{
		PlotCacheSizeMB:  16,
		PlotTTL:          1 * time.Minute,
		OptionsCacheSize: 10,
	})
	if err != nil {
		t.Fatalf("Failed to initialize cache: %v", err)
	}
	t.Cleanup(func() { cacheManager.Close() })

	svc := service.NewDashboardService(service.DashboardServiceConfig{
		Table:      tbl,
		Aggregates: cache.NewAggregateCache(store, ""),
		Cache:      cacheManager,
		Renderer:   render.NewPlotRenderer(render.Config{Width: 64, Height: 64}),
	})

	pages, err := web.NewRenderer()
	if err != nil {
		t.Fatalf("Failed to parse templates: %v", err)
	}

	router := NewRouter(RouterConfig{
		Service:     svc,
		Artifacts:   store,
		Pages:       pages,
		Title:       "Test cells",
		CORSOrigins: []string{"*"},
	})
	server := httptest.NewServer(router)
	t.Cleanup(server.Close)

	return &testServer{server: server, client: newCookieClient(t), service: svc, store: store}
}

func newCookieClient(t *testing.T) *http.Client {
	t.Helper()
	jar, err := cookiejar.New(nil)
	if err != nil {
		t.Fatalf("cookiejar: %v", err)
	}
	return &http.Client{Jar: jar}
}

func (ts *testServer) do(t *testing.T, method, path, body string) *http.Response {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, ts.server.URL+path, r)
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	resp, err := ts.client.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func (ts *testServer) getJSON(t *testing.T, method, path, body string, out interface{}) {
	t.Helper()
	resp := ts.do(t, method, path, body)
	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(resp.Body)
		t.Fatalf("%s %s: expected status 200, got %d: %s", method, path, resp.StatusCode, data)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		t.Fatalf("%s %s: failed to decode response: %v", method, path, err)
	}
}

func TestHealthEndpoint(t *testing.T) {
	ts := setupTestServer(t)
	resp := ts.do(t, http.MethodGet, "/health", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", resp.StatusCode)
	}
	body, _ := io.ReadAll(resp.Body)
	if string(body) != "OK" {
		t.Errorf("Expected body 'OK', got '%s'", string(body))
	}
}

func TestOverviewPage(t *testing.T) {
	ts := setupTestServer(t)
	resp := ts.do(t, http.MethodGet, "/?rows=2", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/html") {
		t.Errorf("Expected HTML, got %s", ct)
	}
	body, _ := io.ReadAll(resp.Body)
	out := string(body)
	if !strings.Contains(out, "Test cells") || !strings.Contains(out, "<th>c2</th>") || strings.Contains(out, "<th>c3</th>") {
		t.Errorf("unexpected overview page:\n%s", out)
	}

	if resp := ts.do(t, http.MethodGet, "/?rows=abc", ""); resp.StatusCode != http.StatusBadRequest {
		t.Errorf("Expected status 400 for bad rows, got %d", resp.StatusCode)
	}
}

func TestDatasetEndpoint(t *testing.T) {
	ts := setupTestServer(t)
	var info service.DatasetInfo
	ts.getJSON(t, http.MethodGet, "/api/dataset", "", &info)
	if info.Rows != 6 || info.Fingerprint == "" || len(info.Columns) != 8 {
		t.Errorf("unexpected dataset info %+v", info)
	}

	var preview service.Preview
	ts.getJSON(t, http.MethodGet, "/api/preview?rows=500", "", &preview)
	if len(preview.Rows) != 6 {
		t.Errorf("expected all 6 rows, got %d", len(preview.Rows))
	}
}

func TestSelectionFlow(t *testing.T) {
	ts := setupTestServer(t)

	var snap service.SelectionSnapshot
	ts.getJSON(t, http.MethodPut, "/api/contexts/umap/levels/supercluster", `["X","nope"]`, &snap)
	if snap.Active != "supercluster" || len(snap.Levels[0].Selected) != 1 {
		t.Fatalf("unexpected snapshot %+v", snap)
	}
	if got := strings.Join(snap.Levels[1].Options, ","); got != "A,B" {
		t.Fatalf("expected cluster options A,B, got %s", got)
	}

	ts.getJSON(t, http.MethodPost, "/api/contexts/umap/levels/subcluster?values=a1,b1", "", &snap)
	ts.getJSON(t, http.MethodPut, "/api/contexts/umap/levels/cluster", `{"values":["A"]}`, &snap)
	if got := strings.Join(snap.Levels[2].Selected, ","); got != "a1" {
		t.Fatalf("expected subcluster pruned to a1, got %s", got)
	}

	var opts struct {
		Level   string   `json:"level"`
		Options []string `json:"options"`
	}
	ts.getJSON(t, http.MethodGet, "/api/contexts/umap/levels/subcluster/options", "", &opts)
	if strings.Join(opts.Options, ",") != "a1,a2" {
		t.Fatalf("unexpected subcluster options %v", opts.Options)
	}

	// Another context of the same session is independent.
	var other service.SelectionSnapshot
	ts.getJSON(t, http.MethodGet, "/api/contexts/tsna/", "", &other)
	if other.Active != "none" {
		t.Fatalf("expected an untouched context, got %+v", other)
	}

	var contexts struct {
		Contexts []string `json:"contexts"`
	}
	ts.getJSON(t, http.MethodGet, "/api/contexts", "", &contexts)
	if strings.Join(contexts.Contexts, ",") != "tsna,umap" {
		t.Fatalf("unexpected contexts %v", contexts.Contexts)
	}

	var part service.PartitionSummary
	ts.getJSON(t, http.MethodGet, "/api/contexts/umap/partition", "", &part)
	if part.Active != "subcluster" || part.SelectedRows != 1 || part.OtherRows != 5 {
		t.Fatalf("unexpected partition %+v", part)
	}

	ts.getJSON(t, http.MethodPost, "/api/contexts/umap/reset", "", &snap)
	if snap.Active != "none" {
		t.Fatalf("expected reset context, got %+v", snap)
	}
}

func TestSessionsAreIsolated(t *testing.T) {
	ts := setupTestServer(t)
	var snap service.SelectionSnapshot
	ts.getJSON(t, http.MethodPut, "/api/contexts/page/levels/cluster", `["B"]`, &snap)

	stranger := &testServer{server: ts.server, client: newCookieClient(t)}
	stranger.getJSON(t, http.MethodGet, "/api/contexts/page/", "", &snap)
	if snap.Active != "none" {
		t.Fatalf("expected a fresh session to see no selection, got %+v", snap)
	}
}

func TestBadRequests(t *testing.T) {
	ts := setupTestServer(t)
	cases := []struct {
		method, path, body string
	}{
		{http.MethodGet, "/api/contexts/page/levels/family/options", ""},
		{http.MethodPut, "/api/contexts/page/levels/cluster", ""},
		{http.MethodPut, "/api/contexts/page/levels/cluster", `{"values":`},
		{http.MethodGet, "/api/summary/numeric/n_genes?bins=many", ""},
		{http.MethodGet, "/api/plots/samples.png?seed=-1", ""},
		{http.MethodGet, "/api/contexts/page/embedding/pca.png", ""},
	}
	for _, c := range cases {
		resp := ts.do(t, c.method, c.path, c.body)
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("%s %s: expected status 400, got %d", c.method, c.path, resp.StatusCode)
		}
	}
}

func TestAggregateEndpoints(t *testing.T) {
	ts := setupTestServer(t)

	var counts struct {
		GroupBy []string `json:"group_by"`
		Rows    []struct {
			Keys  []string `json:"keys"`
			Count int      `json:"count"`
		} `json:"rows"`
	}
	ts.getJSON(t, http.MethodGet, "/api/aggregates/counts/cluster", "", &counts)
	if len(counts.Rows) != 3 || counts.Rows[0].Keys[0] != "A" || counts.Rows[0].Count != 2 {
		t.Fatalf("unexpected counts %+v", counts)
	}

	ts.getJSON(t, http.MethodGet, "/api/aggregates/label-fractions", "", &counts)
	ts.getJSON(t, http.MethodGet, "/api/aggregates/counts/cluster/B/samples", "", &counts)
	if len(counts.Rows) != 2 {
		t.Fatalf("unexpected sample counts %+v", counts)
	}

	var listing struct {
		Keys     []string               `json:"keys"`
		Computes int64                  `json:"computes"`
		Stored   []*artifactstore.Entry `json:"stored"`
	}
	ts.getJSON(t, http.MethodGet, "/api/artifacts", "", &listing)
	if len(listing.Keys) != 3 || len(listing.Stored) != 3 {
		t.Fatalf("expected 3 artifacts, got %+v", listing)
	}
	if listing.Computes != 3 {
		t.Fatalf("expected 3 computations, got %d", listing.Computes)
	}

	// Served from the cache, so the counter does not move.
	ts.getJSON(t, http.MethodGet, "/api/aggregates/counts/cluster", "", &counts)
	ts.getJSON(t, http.MethodGet, "/api/artifacts", "", &listing)
	if listing.Computes != 3 {
		t.Fatalf("expected cached read to skip computation, got %d", listing.Computes)
	}

	resp := ts.do(t, http.MethodDelete, "/api/artifacts/counts_per_cluster_name", "")
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("Expected status 204, got %d", resp.StatusCode)
	}
	ts.getJSON(t, http.MethodGet, "/api/artifacts", "", &listing)
	if len(listing.Keys) != 2 {
		t.Fatalf("expected 2 artifacts after reset, got %v", listing.Keys)
	}
}

func TestNotices(t *testing.T) {
	ts := setupTestServer(t)

	var body struct {
		Notice *notice `json:"notice"`
	}
	ts.getJSON(t, http.MethodGet, "/api/summary/categorical/missing", "", &body)
	if body.Notice == nil || body.Notice.Kind != "column_missing" {
		t.Fatalf("expected a column_missing notice, got %+v", body.Notice)
	}

	body.Notice = nil
	ts.getJSON(t, http.MethodGet, "/api/aggregates/counts/cluster/nope/samples", "", &body)
	if body.Notice == nil || body.Notice.Kind != "empty" {
		t.Fatalf("expected an empty notice, got %+v", body.Notice)
	}

	resp := ts.do(t, http.MethodGet, "/api/contexts/page/embedding/tsna.png", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", resp.StatusCode)
	}
	if !strings.HasPrefix(resp.Header.Get("X-Notice"), "column_missing") {
		t.Fatalf("expected an X-Notice header, got %q", resp.Header.Get("X-Notice"))
	}
}

func TestPlotEndpoints(t *testing.T) {
	ts := setupTestServer(t)
	paths := []string{
		"/api/contexts/page/embedding/umap.png",
		"/api/plots/color/n_genes.png?colormap=magma",
		"/api/plots/color/sample.png",
		"/api/plots/samples.png?seed=3",
	}
	for _, p := range paths {
		resp := ts.do(t, http.MethodGet, p, "")
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("GET %s: expected status 200, got %d", p, resp.StatusCode)
		}
		if ct := resp.Header.Get("Content-Type"); ct != "image/png" {
			t.Fatalf("GET %s: expected image/png, got %s", p, ct)
		}
		data, _ := io.ReadAll(resp.Body)
		if _, err := png.Decode(bytes.NewReader(data)); err != nil {
			t.Fatalf("GET %s: invalid PNG: %v", p, err)
		}
		if n := resp.Header.Get("X-Notice"); n != "" {
			t.Fatalf("GET %s: unexpected notice %q", p, n)
		}
	}

	var legend struct {
		Column string              `json:"column"`
		Legend []service.LegendItem `json:"legend"`
	}
	ts.getJSON(t, http.MethodGet, "/api/plots/legend/sample", "", &legend)
	if len(legend.Legend) != 2 || legend.Legend[0].Label != "S1" {
		t.Fatalf("unexpected legend %+v", legend)
	}
}
