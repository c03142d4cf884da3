package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/voyagen/livevault/internal/config"
	"github.com/voyagen/livevault/internal/models"
	"github.com/voyagen/livevault/internal/prefs"
	"github.com/voyagen/livevault/internal/service"
	"github.com/voyagen/livevault/internal/store"
)

const playlist = `#EXTM3U
#EXTINF:-1 tvg-id="bbc1" group-title="News",BBC One
http://stream/bbc1
#EXTINF:-1 tvg-id="cnn" group-title="News",CNN
http://stream/cnn
#EXTINF:-1 group-title="Sports",Sky Sports
http://stream/sky
`

type stubProber struct {
	aliveFunc func(ctx context.Context, url string) bool
}

func (p *stubProber) Alive(ctx context.Context, url string) bool { return p.aliveFunc(ctx, url) }

type stubLogos struct{ mapping models.LogoMapping }

func (l *stubLogos) FetchLogos(context.Context) (models.LogoMapping, error) { return l.mapping, nil }

type testEnv struct {
	srv     *httptest.Server
	server  *Server
	store   *store.Memory
	catalog *service.Catalog
	jobs    *service.Dispatcher
	prober  *stubProber
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	log := zerolog.Nop()
	mem := store.NewMemory()
	state := service.NewState()
	prober := &stubProber{aliveFunc: func(context.Context, string) bool { return true }}
	logos := &stubLogos{mapping: models.LogoMapping{"cnn": "http://logo/cnn.png"}}

	catalog := service.NewCatalog(mem, &prefs.Memory{},
		service.NewEnricher(mem, logos, log),
		service.NewScanner(mem, prober, state, service.ScannerOptions{Workers: 1, Logger: log}),
		state, service.CatalogOptions{Logger: log})
	jobs := service.NewDispatcher(context.Background(), catalog, nil, log)
	s := New(catalog, jobs, config.Default(), log)
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(func() {
		s.Close()
		srv.Close()
		jobs.Wait()
		catalog.Close()
	})
	return &testEnv{srv: srv, server: s, store: mem, catalog: catalog, jobs: jobs, prober: prober}
}

func (e *testEnv) do(t *testing.T, method, path, body string) *http.Response {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, e.srv.URL+path, r)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return v
}

func (e *testEnv) upload(t *testing.T) {
	t.Helper()
	resp := e.do(t, http.MethodPost, "/api/playlists/upload", playlist)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("upload status = %d", resp.StatusCode)
	}
	e.catalog.Wait()
}

func TestHealthAndStatus(t *testing.T) {
	e := newTestEnv(t)
	if resp := e.do(t, http.MethodGet, "/api/health", ""); resp.StatusCode != http.StatusOK {
		t.Errorf("health = %d", resp.StatusCode)
	}
	resp := e.do(t, http.MethodGet, "/api/status", "")
	st := decode[service.Status](t, resp)
	if st.Loading || st.Scanning {
		t.Errorf("status = %+v", st)
	}
}

func TestUploadAndList(t *testing.T) {
	e := newTestEnv(t)

	resp := e.do(t, http.MethodPost, "/api/playlists/upload", playlist)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	res := decode[service.ImportResult](t, resp)
	if res.Parsed != 3 || res.Inserted != 3 {
		t.Errorf("import result = %+v", res)
	}
	e.catalog.Wait()

	tests := []struct {
		name  string
		path  string
		count int
	}{
		{"all", "/api/channels", 3},
		{"group", "/api/channels?group=News", 2},
		{"search", "/api/channels?search=sky", 1},
		{"favorite", "/api/channels?favorite=true", 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := e.do(t, http.MethodGet, tt.path, "")
			if resp.StatusCode != http.StatusOK {
				t.Fatalf("status = %d", resp.StatusCode)
			}
			body := decode[struct {
				Channels []models.Channel `json:"channels"`
				Total    int              `json:"total"`
			}](t, resp)
			if body.Total != tt.count || len(body.Channels) != tt.count {
				t.Errorf("got %d channels, want %d", body.Total, tt.count)
			}
		})
	}

	if resp := e.do(t, http.MethodGet, "/api/channels?favorite=maybe", ""); resp.StatusCode != http.StatusBadRequest {
		t.Errorf("bad favorite filter = %d", resp.StatusCode)
	}

	groups := decode[[]models.Group](t, e.do(t, http.MethodGet, "/api/groups", ""))
	if len(groups) != 2 || groups[0].Name != "News" || groups[0].Count != 2 {
		t.Errorf("groups = %+v", groups)
	}

	ch := decode[models.Channel](t, e.do(t, http.MethodGet, "/api/channels/2", ""))
	if ch.LogoURL == nil || *ch.LogoURL != "http://logo/cnn.png" {
		t.Errorf("logo not backfilled after upload: %+v", ch)
	}
}

func TestImportURL(t *testing.T) {
	e := newTestEnv(t)
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/list.m3u" {
			http.NotFound(w, r)
			return
		}
		io.WriteString(w, playlist)
	}))
	defer upstream.Close()

	tests := []struct {
		name   string
		body   string
		status int
	}{
		{"ok", `{"url":"` + upstream.URL + `/list.m3u"}`, http.StatusCreated},
		{"upstream 404", `{"url":"` + upstream.URL + `/missing"}`, http.StatusBadGateway},
		{"bad scheme", `{"url":"ftp://example.com/list.m3u"}`, http.StatusBadRequest},
		{"missing url", `{}`, http.StatusBadRequest},
		{"bad json", `{`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := e.do(t, http.MethodPost, "/api/playlists", tt.body)
			if resp.StatusCode != tt.status {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.status)
			}
			if resp.StatusCode >= 400 {
				apiErr := decode[APIError](t, resp)
				if apiErr.Status != tt.status || apiErr.Detail == "" {
					t.Errorf("error envelope = %+v", apiErr)
				}
			}
		})
	}
}

func TestImportWhileLoading(t *testing.T) {
	e := newTestEnv(t)
	e.catalog.State().BeginLoading()
	defer e.catalog.State().EndLoading()
	if resp := e.do(t, http.MethodPost, "/api/playlists/upload", playlist); resp.StatusCode != http.StatusConflict {
		t.Errorf("status = %d, want 409", resp.StatusCode)
	}
}

func TestChannelActions(t *testing.T) {
	e := newTestEnv(t)
	e.upload(t)

	resp := e.do(t, http.MethodPatch, "/api/channels/1/favorite", "")
	fav := decode[map[string]any](t, resp)
	if fav["favorite"] != true {
		t.Errorf("toggle response = %v", fav)
	}
	favs := decode[[]models.Channel](t, e.do(t, http.MethodGet, "/api/channels/favorites", ""))
	if len(favs) != 1 || favs[0].ID != 1 {
		t.Errorf("favorites = %+v", favs)
	}

	e.store.ClearHistory(context.Background())
	if resp := e.do(t, http.MethodPost, "/api/channels/3/watched", ""); resp.StatusCode != http.StatusNoContent {
		t.Errorf("watched = %d", resp.StatusCode)
	}
	recent := decode[[]models.Channel](t, e.do(t, http.MethodGet, "/api/channels/recent?limit=10", ""))
	if len(recent) != 1 || recent[0].ID != 3 {
		t.Errorf("recent = %+v", recent)
	}
	if resp := e.do(t, http.MethodGet, "/api/channels/recent?limit=-1", ""); resp.StatusCode != http.StatusBadRequest {
		t.Errorf("bad limit = %d", resp.StatusCode)
	}

	if resp := e.do(t, http.MethodDelete, "/api/favorites", ""); resp.StatusCode != http.StatusNoContent {
		t.Errorf("clear favorites = %d", resp.StatusCode)
	}
	if resp := e.do(t, http.MethodDelete, "/api/history", ""); resp.StatusCode != http.StatusNoContent {
		t.Errorf("clear history = %d", resp.StatusCode)
	}
	recent = decode[[]models.Channel](t, e.do(t, http.MethodGet, "/api/channels/recent", ""))
	if len(recent) != 0 {
		t.Errorf("recent after clear = %d", len(recent))
	}

	if resp := e.do(t, http.MethodDelete, "/api/channels/2", ""); resp.StatusCode != http.StatusNoContent {
		t.Errorf("delete = %d", resp.StatusCode)
	}
	if resp := e.do(t, http.MethodGet, "/api/channels/2", ""); resp.StatusCode != http.StatusNotFound {
		t.Errorf("get deleted = %d", resp.StatusCode)
	}
	if resp := e.do(t, http.MethodPatch, "/api/channels/99/favorite", ""); resp.StatusCode != http.StatusNotFound {
		t.Errorf("toggle missing = %d", resp.StatusCode)
	}
	if resp := e.do(t, http.MethodGet, "/api/channels/abc", ""); resp.StatusCode != http.StatusBadRequest {
		t.Errorf("bad id = %d", resp.StatusCode)
	}

	if resp := e.do(t, http.MethodDelete, "/api/channels", ""); resp.StatusCode != http.StatusNoContent {
		t.Errorf("delete all = %d", resp.StatusCode)
	}
	all, _ := e.store.Snapshot(context.Background())
	if len(all) != 0 {
		t.Errorf("catalog not empty: %d", len(all))
	}
}

func TestScanEndpoints(t *testing.T) {
	e := newTestEnv(t)
	e.upload(t)
	e.prober.aliveFunc = func(_ context.Context, url string) bool { return url != "http://stream/cnn" }

	resp := e.do(t, http.MethodPost, "/api/scan", "")
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("scan = %d", resp.StatusCode)
	}
	job := decode[map[string]any](t, resp)
	if job["kind"] != "cleanup" || job["id"] == "" {
		t.Errorf("job = %v", job)
	}
	e.jobs.Wait()

	all, _ := e.store.Snapshot(context.Background())
	if len(all) != 2 {
		t.Errorf("after scan: %d channels, want 2", len(all))
	}

	e.catalog.State().BeginScan()
	if resp := e.do(t, http.MethodPost, "/api/scan", ""); resp.StatusCode != http.StatusConflict {
		t.Errorf("scan while scanning = %d", resp.StatusCode)
	}
	e.catalog.State().EndScan()

	cancelled := decode[map[string]bool](t, e.do(t, http.MethodDelete, "/api/scan", ""))
	if cancelled["cancelled"] {
		t.Error("cancel reported a running scan")
	}
}

func TestRefreshLogos(t *testing.T) {
	e := newTestEnv(t)
	e.store.InsertChannels(context.Background(), []models.Channel{{Name: "CNN", URL: "u", TvgID: "cnn"}})
	body := decode[map[string]int](t, e.do(t, http.MethodPost, "/api/logos/refresh", ""))
	if body["updated"] != 1 {
		t.Errorf("updated = %d", body["updated"])
	}
}

func TestEvents(t *testing.T) {
	e := newTestEnv(t)
	wsURL := "ws" + strings.TrimPrefix(e.srv.URL, "http") + "/api/events"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	var st service.Status
	if err := conn.ReadJSON(&st); err != nil {
		t.Fatalf("read initial: %v", err)
	}
	if st.Scanning {
		t.Errorf("initial status = %+v", st)
	}

	e.catalog.State().BeginScan()
	if err := conn.ReadJSON(&st); err != nil {
		t.Fatalf("read update: %v", err)
	}
	if !st.Scanning {
		t.Errorf("update status = %+v", st)
	}
	e.catalog.State().EndScan()
}

func TestMetricsAndDocs(t *testing.T) {
	e := newTestEnv(t)
	e.upload(t)

	resp := e.do(t, http.MethodGet, "/metrics", "")
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), "livevault_channels_imported_total") {
		t.Error("metrics missing livevault_channels_imported_total")
	}

	if resp := e.do(t, http.MethodGet, "/api/docs", ""); resp.StatusCode != http.StatusOK {
		t.Errorf("docs = %d", resp.StatusCode)
	}
	resp = e.do(t, http.MethodGet, "/api/docs/openapi.yaml", "")
	spec, _ := io.ReadAll(resp.Body)
	if !strings.HasPrefix(string(spec), "openapi:") {
		t.Errorf("openapi.yaml does not start with openapi: %q", string(spec[:min(len(spec), 40)]))
	}
}

func TestCORSPreflight(t *testing.T) {
	e := newTestEnv(t)
	resp := e.do(t, http.MethodOptions, "/api/channels", "")
	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("preflight = %d", resp.StatusCode)
	}
	if resp.Header.Get("Access-Control-Allow-Origin") != "*" {
		t.Error("missing CORS header")
	}
}
