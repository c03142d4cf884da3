package server

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/voyagen/livevault/api"
	"github.com/voyagen/livevault/internal/cache"
	"github.com/voyagen/livevault/internal/config"
	"github.com/voyagen/livevault/internal/models"
	"github.com/voyagen/livevault/internal/service"
	"github.com/voyagen/livevault/internal/store"
)

// maxUploadBytes bounds playlist uploads.
const maxUploadBytes = 64 << 20

// Jobs schedules background catalog work. *service.Dispatcher implements it.
type Jobs interface {
	Submit(ctx context.Context, kind string) (cache.Job, error)
}

// Server holds dependencies for the HTTP API.
type Server struct {
	catalog *service.Catalog
	jobs    Jobs
	cfg     *config.Config
	log     zerolog.Logger
	mux     *http.ServeMux

	closing   chan struct{}
	closeOnce sync.Once
}

// New creates a Server and registers routes.
func New(c *service.Catalog, jobs Jobs, cfg *config.Config, log zerolog.Logger) *Server {
	srv := &Server{
		catalog: c,
		jobs:    jobs,
		cfg:     cfg,
		log:     log.With().Str("component", "http").Logger(),
		mux:     http.NewServeMux(),
		closing: make(chan struct{}),
	}
	srv.routes()
	return srv
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /api/health", s.handleHealth)
	s.mux.HandleFunc("GET /api/status", s.handleStatus)
	s.mux.HandleFunc("GET /api/events", s.handleEvents)

	// Playlists
	s.mux.HandleFunc("POST /api/playlists", s.handleImportURL)
	s.mux.HandleFunc("POST /api/playlists/upload", s.handleImportUpload)

	// Channels
	s.mux.HandleFunc("GET /api/channels", s.handleListChannels)
	s.mux.HandleFunc("DELETE /api/channels", s.handleDeleteAll)
	s.mux.HandleFunc("GET /api/channels/favorites", s.handleListFavorites)
	s.mux.HandleFunc("GET /api/channels/recent", s.handleListRecent)
	s.mux.HandleFunc("GET /api/channels/{id}", s.handleGetChannel)
	s.mux.HandleFunc("DELETE /api/channels/{id}", s.handleDeleteChannel)
	s.mux.HandleFunc("PATCH /api/channels/{id}/favorite", s.handleToggleFavorite)
	s.mux.HandleFunc("POST /api/channels/{id}/watched", s.handleMarkWatched)
	s.mux.HandleFunc("DELETE /api/favorites", s.handleClearFavorites)
	s.mux.HandleFunc("DELETE /api/history", s.handleClearHistory)

	// Groups
	s.mux.HandleFunc("GET /api/groups", s.handleListGroups)

	// Maintenance
	s.mux.HandleFunc("POST /api/scan", s.handleStartScan)
	s.mux.HandleFunc("DELETE /api/scan", s.handleCancelScan)
	s.mux.HandleFunc("POST /api/logos/refresh", s.handleRefreshLogos)

	s.mux.Handle("GET /metrics", promhttp.Handler())

	// Docs
	s.mux.HandleFunc("GET /api/docs", handleSwaggerUI)
	s.mux.HandleFunc("GET /api/docs/openapi.yaml", handleOpenAPISpec)
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// Handler returns the full handler chain (CORS and access logging around the routes).
func (s *Server) Handler() http.Handler {
	return withCORS(s.withLogging(s))
}

// ListenAndServe starts the HTTP server on the configured port.
// It blocks until the server is shut down or ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context) error {
	addr := ":" + s.cfg.ServerPort
	httpServer := &http.Server{
		Addr:         addr,
		Handler:      s.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 10 * time.Minute,
		IdleTimeout:  120 * time.Second,
	}

	// Graceful shutdown on context cancellation.
	go func() {
		<-ctx.Done()
		s.Close()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			s.log.Error().Err(err).Msg("server shutdown")
		}
	}()

	s.log.Info().Str("addr", addr).Msg("listening")
	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("ListenAndServe: %w", err)
	}
	return nil
}

// Close ends open event streams. Hijacked websocket connections are not
// tracked by http.Server.Shutdown.
func (s *Server) Close() {
	s.closeOnce.Do(func() { close(s.closing) })
}

// --- handlers ---

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.catalog.State().Current())
}

// --- playlist handlers ---

type importURLRequest struct {
	URL string `json:"url"`
}

func (s *Server) handleImportURL(w http.ResponseWriter, r *http.Request) {
	var req importURLRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeErr(w, http.StatusBadRequest, fmt.Errorf("invalid JSON: %w", err))
		return
	}
	if req.URL == "" {
		s.writeErr(w, http.StatusBadRequest, fmt.Errorf("url is required"))
		return
	}

	res, err := s.catalog.ImportURL(r.Context(), req.URL)
	if err != nil {
		s.writeImportErr(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, res)
}

func (s *Server) handleImportUpload(w http.ResponseWriter, r *http.Request) {
	body := http.MaxBytesReader(w, r.Body, maxUploadBytes)
	res, err := s.catalog.ImportReader(r.Context(), body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.writeErr(w, http.StatusRequestEntityTooLarge, err)
			return
		}
		s.writeImportErr(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, res)
}

func (s *Server) writeImportErr(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, service.ErrInvalidPlaylistURL):
		s.writeErr(w, http.StatusBadRequest, err)
	case errors.Is(err, service.ErrImportInProgress):
		s.writeErr(w, http.StatusConflict, err)
	case errors.Is(err, context.Canceled):
		s.writeErr(w, http.StatusServiceUnavailable, err)
	default:
		s.writeErr(w, http.StatusBadGateway, fmt.Errorf("import: %w", err))
	}
}

// --- channel handlers ---

func (s *Server) handleListChannels(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := store.ChannelFilter{
		Group:  q.Get("group"),
		Search: q.Get("search"),
	}
	if v := q.Get("favorite"); v != "" {
		switch v {
		case "true", "1":
			fav := true
			filter.Favorite = &fav
		case "false", "0":
			fav := false
			filter.Favorite = &fav
		default:
			s.writeErr(w, http.StatusBadRequest, fmt.Errorf("invalid favorite: %s (use true or false)", v))
			return
		}
	}

	channels, err := s.catalog.Channels(r.Context(), filter)
	if err != nil {
		s.writeErr(w, http.StatusInternalServerError, err)
		return
	}
	if channels == nil {
		channels = []models.Channel{}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"channels": channels,
		"total":    len(channels),
	})
}

func (s *Server) handleListFavorites(w http.ResponseWriter, r *http.Request) {
	channels, err := s.catalog.Favorites(r.Context())
	if err != nil {
		s.writeErr(w, http.StatusInternalServerError, err)
		return
	}
	if channels == nil {
		channels = []models.Channel{}
	}
	s.writeJSON(w, http.StatusOK, channels)
}

func (s *Server) handleListRecent(w http.ResponseWriter, r *http.Request) {
	limit := models.DefaultRecentLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			s.writeErr(w, http.StatusBadRequest, fmt.Errorf("invalid limit: %s", v))
			return
		}
		limit = min(n, 200)
	}
	channels, err := s.catalog.Recent(r.Context(), limit)
	if err != nil {
		s.writeErr(w, http.StatusInternalServerError, err)
		return
	}
	if channels == nil {
		channels = []models.Channel{}
	}
	s.writeJSON(w, http.StatusOK, channels)
}

func (s *Server) handleGetChannel(w http.ResponseWriter, r *http.Request) {
	channelID, err := parseID(r, "id")
	if err != nil {
		s.writeErr(w, http.StatusBadRequest, err)
		return
	}
	ch, err := s.catalog.Channel(r.Context(), channelID)
	if err != nil {
		s.writeChannelErr(w, channelID, err)
		return
	}
	s.writeJSON(w, http.StatusOK, ch)
}

func (s *Server) handleToggleFavorite(w http.ResponseWriter, r *http.Request) {
	channelID, err := parseID(r, "id")
	if err != nil {
		s.writeErr(w, http.StatusBadRequest, err)
		return
	}
	ch, err := s.catalog.ToggleFavorite(r.Context(), channelID)
	if err != nil {
		s.writeChannelErr(w, channelID, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"channel_id": channelID,
		"favorite":   ch.Favorite,
	})
}

func (s *Server) handleMarkWatched(w http.ResponseWriter, r *http.Request) {
	channelID, err := parseID(r, "id")
	if err != nil {
		s.writeErr(w, http.StatusBadRequest, err)
		return
	}
	if err := s.catalog.MarkWatched(r.Context(), channelID); err != nil {
		s.writeChannelErr(w, channelID, err)
		return
	}
	writeNoContent(w)
}

func (s *Server) handleDeleteChannel(w http.ResponseWriter, r *http.Request) {
	channelID, err := parseID(r, "id")
	if err != nil {
		s.writeErr(w, http.StatusBadRequest, err)
		return
	}
	if err := s.catalog.Delete(r.Context(), channelID); err != nil {
		s.writeChannelErr(w, channelID, err)
		return
	}
	writeNoContent(w)
}

func (s *Server) handleDeleteAll(w http.ResponseWriter, r *http.Request) {
	if err := s.catalog.DeleteAll(r.Context()); err != nil {
		s.writeErr(w, http.StatusInternalServerError, err)
		return
	}
	writeNoContent(w)
}

func (s *Server) handleClearFavorites(w http.ResponseWriter, r *http.Request) {
	if err := s.catalog.ClearFavorites(r.Context()); err != nil {
		s.writeErr(w, http.StatusInternalServerError, err)
		return
	}
	writeNoContent(w)
}

func (s *Server) handleClearHistory(w http.ResponseWriter, r *http.Request) {
	if err := s.catalog.ClearHistory(r.Context()); err != nil {
		s.writeErr(w, http.StatusInternalServerError, err)
		return
	}
	writeNoContent(w)
}

func (s *Server) writeChannelErr(w http.ResponseWriter, channelID int64, err error) {
	if errors.Is(err, store.ErrNotFound) {
		s.writeErr(w, http.StatusNotFound, fmt.Errorf("channel %d not found", channelID))
		return
	}
	s.writeErr(w, http.StatusInternalServerError, err)
}

// --- group handlers ---

func (s *Server) handleListGroups(w http.ResponseWriter, r *http.Request) {
	groups, err := s.catalog.Groups(r.Context())
	if err != nil {
		s.writeErr(w, http.StatusInternalServerError, err)
		return
	}
	if groups == nil {
		groups = []models.Group{}
	}
	s.writeJSON(w, http.StatusOK, groups)
}

// --- maintenance handlers ---

// handleStartScan queues a cleanup job. The scan runs in the background
// because large catalogs take far longer than the HTTP write timeout.
func (s *Server) handleStartScan(w http.ResponseWriter, r *http.Request) {
	job, err := s.jobs.Submit(r.Context(), cache.JobCleanup)
	if errors.Is(err, service.ErrScanInProgress) {
		s.writeErr(w, http.StatusConflict, err)
		return
	}
	if err != nil {
		s.writeErr(w, http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(w, http.StatusAccepted, job)
}

func (s *Server) handleCancelScan(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]bool{"cancelled": s.catalog.CancelCleanup()})
}

func (s *Server) handleRefreshLogos(w http.ResponseWriter, r *http.Request) {
	n, err := s.catalog.Enrich(r.Context())
	if err != nil {
		s.writeErr(w, http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]int{"updated": n})
}

// --- middleware ---

// withCORS adds CORS headers to every response and handles preflight OPTIONS requests.
func withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PATCH, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Max-Age", "86400")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// statusWriter wraps http.ResponseWriter to capture the status code.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

// Hijack passes through to the underlying writer so websocket upgrades work
// behind the logging middleware.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	return h.Hijack()
}

// withLogging wraps a handler and logs each request with method, path, status, and duration.
func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)

		var ev *zerolog.Event
		switch {
		case sw.status >= 500:
			ev = s.log.Error()
		case sw.status >= 400:
			ev = s.log.Warn()
		default:
			ev = s.log.Info()
		}
		ev = ev.Str("method", r.Method).Str("path", r.URL.Path)
		if r.URL.RawQuery != "" {
			ev = ev.Str("query", r.URL.RawQuery)
		}
		ev.Int("status", sw.status).Str("took", formatDuration(time.Since(start))).Msg("request")
	})
}

func formatDuration(d time.Duration) string {
	switch {
	case d < time.Millisecond:
		return fmt.Sprintf("%dus", d.Microseconds())
	case d < time.Second:
		return fmt.Sprintf("%dms", d.Milliseconds())
	default:
		return fmt.Sprintf("%.2fs", d.Seconds())
	}
}

// --- helpers ---

// APIError is the standard error envelope for all error responses.
type APIError struct {
	Status int    `json:"status"`
	Error  string `json:"error"`
	Detail string `json:"detail,omitempty"`
}

// parseID extracts a path parameter by name and parses it as int64.
func parseID(r *http.Request, param string) (int64, error) {
	v := r.PathValue(param)
	id, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %s", param, v)
	}
	return id, nil
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Warn().Err(err).Msg("writeJSON")
	}
}

func writeNoContent(w http.ResponseWriter) {
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) writeErr(w http.ResponseWriter, status int, err error) {
	if status >= 500 {
		s.log.Error().Err(err).Int("status", status).Msg("request failed")
	}
	s.writeJSON(w, status, APIError{
		Status: status,
		Error:  http.StatusText(status),
		Detail: err.Error(),
	})
}

// --- docs handlers ---

func handleOpenAPISpec(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/yaml")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(api.OpenAPISpec)
}

func handleSwaggerUI(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprint(w, swaggerUIHTML)
}

const swaggerUIHTML = `<!DOCTYPE html>
<html lang="en">
<head>
  <meta charset="UTF-8">
  <title>LiveVault API Docs</title>
  <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css">
  <style>html{box-sizing:border-box;overflow-y:scroll}*,*:before,*:after{box-sizing:inherit}body{margin:0;background:#fafafa}</style>
</head>
<body>
  <div id="swagger-ui"></div>
  <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js"></script>
  <script>
    SwaggerUIBundle({
      url: "/api/docs/openapi.yaml",
      dom_id: "#swagger-ui",
      presets: [SwaggerUIBundle.presets.apis, SwaggerUIBundle.SwaggerUIStandalonePreset],
      layout: "BaseLayout",
    });
  </script>
</body>
</html>`
