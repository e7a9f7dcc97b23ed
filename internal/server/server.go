// Package server exposes the lip-sync engine, viseme segmenter and WAV
// encoder over HTTP and WebSocket.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/normanking/lipsync/internal/bus"
	"github.com/normanking/lipsync/internal/config"
	"github.com/normanking/lipsync/internal/lipsync"
	"github.com/normanking/lipsync/internal/logging"
	"github.com/normanking/lipsync/internal/metrics"
	"github.com/normanking/lipsync/internal/tts"
	"github.com/normanking/lipsync/internal/viseme"
)

// Version is reported by /health.
var Version = "dev"

// Speaker synthesizes speech with word timing.
type Speaker interface {
	SpeakWithTimestamps(ctx context.Context, req tts.SpeechRequest) (tts.LipSyncAudio, error)
}

// LogHistory returns the most recent log entries, oldest first.
type LogHistory interface {
	GetHistory(limit int) []logging.LogEntry
}

// Deps are the collaborators of a Server. Transcriber, Speaker and History
// may be nil; the endpoints that need them then answer 503.
type Deps struct {
	Engine      *lipsync.Engine
	Segmenter   *viseme.Segmenter
	Transcriber lipsync.Transcriber
	Speaker     Speaker
	History     LogHistory
	Bus         *bus.EventBus
	Metrics     *metrics.Metrics
	Gatherer    prometheus.Gatherer
	Logger      zerolog.Logger
}

// Server represents the HTTP server
type Server struct {
	cfg         config.ServerConfig
	pcm         config.LipSyncConfig
	unitMs      float64
	engine      *lipsync.Engine
	segmenter   *viseme.Segmenter
	transcriber lipsync.Transcriber
	speaker     Speaker
	history     LogHistory
	bus         *bus.EventBus
	metrics     *metrics.Metrics
	upgrader    websocket.Upgrader
	httpServer  *http.Server
	startTime   time.Time
	logger      zerolog.Logger
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status    string          `json:"status"`
	Version   string          `json:"version"`
	Uptime    string          `json:"uptime"`
	Services  map[string]bool `json:"services"`
	Languages []string        `json:"languages"`
	Timestamp string          `json:"timestamp"`
}

// New creates a new HTTP server
func New(cfg *config.Config, deps Deps) *Server {
	if deps.Engine == nil {
		deps.Engine = lipsync.NewEngine(cfg.LipSync.Options(), deps.Logger)
	}
	if deps.Segmenter == nil {
		deps.Segmenter = viseme.NewSegmenter(nil, deps.Logger)
	}
	if deps.Bus == nil {
		deps.Bus = bus.NewEventBus()
	}

	s := &Server{
		cfg:         cfg.Server,
		pcm:         cfg.LipSync,
		unitMs:      cfg.Viseme.UnitMs,
		engine:      deps.Engine,
		segmenter:   deps.Segmenter,
		transcriber: deps.Transcriber,
		speaker:     deps.Speaker,
		history:     deps.History,
		bus:         deps.Bus,
		metrics:     deps.Metrics,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		startTime: time.Now(),
		logger:    deps.Logger.With().Str("component", "server").Logger(),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.healthHandler)
	mux.HandleFunc("/v1/timing/approximate", s.approximateHandler)
	mux.HandleFunc("/v1/timing/precise", s.preciseHandler)
	mux.HandleFunc("/v1/timing/alignment", s.alignmentHandler)
	mux.HandleFunc("/v1/visemes", s.visemesHandler)
	mux.HandleFunc("/v1/speech/timestamped", s.speechHandler)
	mux.HandleFunc("/v1/wav", s.wavHandler)
	mux.HandleFunc("/v1/ws", s.wsHandler)
	mux.HandleFunc("/v1/logs", s.logsHandler)
	if deps.Gatherer != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{}))
	} else {
		mux.Handle("/metrics", promhttp.Handler())
	}

	s.httpServer = &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      s.requestID(s.logRequests(mux)),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	return s
}

// Handler returns the root handler with middleware applied.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start listens until Shutdown. It never returns http.ErrServerClosed.
func (s *Server) Start() error {
	s.logger.Info().Str("addr", s.httpServer.Addr).Msg("HTTP server starting")
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	writeJSON(w, http.StatusOK, HealthResponse{
		Status:  "healthy",
		Version: Version,
		Uptime:  time.Since(s.startTime).Round(time.Second).String(),
		Services: map[string]bool{
			"transcriber": s.transcriber != nil,
			"speech":      s.speaker != nil,
		},
		Languages: s.segmenter.Registry().Languages(),
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

// LogsResponse is the body of /v1/logs.
type LogsResponse struct {
	Entries []logging.LogEntry `json:"entries"`
}

const defaultLogLimit = 100

// logsHandler serves the in-memory log history. limit=0 returns all of it.
func (s *Server) logsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if s.history == nil {
		writeError(w, http.StatusServiceUnavailable, "log history not configured")
		return
	}

	limit := defaultLogLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	writeJSON(w, http.StatusOK, LogsResponse{Entries: s.history.GetHistory(limit)})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// ErrorResponse is the body of every non-2xx JSON reply.
type ErrorResponse struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg})
}
