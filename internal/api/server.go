// Package api serves evaluations, alerts and trends over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"silofy/internal/acks"
	"silofy/internal/config"
	"silofy/internal/engine"
	"silofy/internal/inventory"
	"silofy/internal/model"
	"silofy/internal/snapshots"
	"silofy/internal/validation"
)

// Engine is the part of *engine.Engine the API drives.
type Engine interface {
	Query(filter model.Filter) model.Evaluation
	Evaluate(ctx context.Context, filter model.Filter) model.Evaluation
	Acknowledge(ctx context.Context, bagID, note string) (model.Acknowledgement, error)
	Trend(ctx context.Context, bagID string) ([]model.TrendPoint, error)
	Filters() (crops, sites []string)
	Reset()
	Inventory() *inventory.Store
	Snapshots() *snapshots.Store
	Acks() *acks.Store
	StartedAt() time.Time
}

type Server struct {
	cfg     *config.Manager
	engine  Engine
	logger  *slog.Logger
	version string
}

type statusResponse struct {
	Status     string       `json:"status"`
	Time       string       `json:"time"`
	StartedAt  string       `json:"started_at"`
	Version    string       `json:"version"`
	ConfigPath string       `json:"config_path"`
	Bags       int          `json:"bags"`
	Ingest     ingestStatus `json:"ingest"`
	API        apiStatus    `json:"api"`
	Storage    string       `json:"storage"`
	Publish    bool         `json:"publish"`
}

type ingestStatus struct {
	REST      bool `json:"rest"`
	FileTail  bool `json:"file_tail"`
	TCPStream bool `json:"tcp_stream"`
	Kafka     bool `json:"kafka"`
	MQTT      bool `json:"mqtt"`
}

type apiStatus struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr"`
}

func NewServer(cfg *config.Manager, eng Engine, logger *slog.Logger, version string) *Server {
	return &Server{cfg: cfg, engine: eng, logger: logger, version: version}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(15 * time.Second))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/status", s.handleStatus)
	r.Get("/filters", s.handleFilters)
	r.Get("/bags", s.handleBags)
	r.Get("/kpis", s.handleKPIs)
	r.Get("/alerts", s.handleAlerts)
	r.Post("/alerts/{bagID}/ack", s.handleAcknowledge)
	r.Get("/acks", s.handleAcks)
	r.Get("/evaluation", s.handleEvaluation)
	r.Post("/evaluation", s.handleRunEvaluation)
	r.Get("/trend", s.handleTrend)
	r.Get("/snapshots", s.handleSnapshots)
	r.Route("/admin", func(r chi.Router) {
		r.Post("/clear", s.handleClear)
		r.Post("/reset", s.handleReset)
	})
	return r
}

func Start(ctx context.Context, cfg *config.Manager, eng Engine, logger *slog.Logger, version string) *http.Server {
	if cfg == nil {
		return nil
	}
	current := cfg.Get().API
	if !current.Enabled {
		if logger != nil {
			logger.Info("api disabled")
		}
		return nil
	}
	if logger != nil {
		logger.Info("api enabled", "addr", current.Addr)
	}
	server := NewServer(cfg, eng, logger, version)
	httpServer := &http.Server{Addr: current.Addr, Handler: server.Router(), ReadHeaderTimeout: 10 * time.Second}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(ctxShutdown)
	}()
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			if logger != nil {
				logger.Error("api server error", "err", err)
			}
		}
	}()
	return httpServer
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.logger == nil {
			next.ServeHTTP(w, r)
			return
		}
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug("api request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	cfg := s.cfg.Get()
	storage := "disabled"
	if cfg.Storage.Enabled {
		storage = cfg.Storage.Driver
	}
	writeJSON(w, http.StatusOK, statusResponse{
		Status:     "ok",
		Time:       time.Now().UTC().Format(time.RFC3339Nano),
		StartedAt:  s.engine.StartedAt().Format(time.RFC3339Nano),
		Version:    s.version,
		ConfigPath: s.cfg.Path(),
		Bags:       s.engine.Inventory().Len(),
		Ingest: ingestStatus{
			REST:      cfg.Ingest.REST.Enabled,
			FileTail:  cfg.Ingest.FileTail.Enabled,
			TCPStream: cfg.Ingest.TCPStream.Enabled,
			Kafka:     cfg.Ingest.Kafka.Enabled,
			MQTT:      cfg.Ingest.MQTT.Enabled,
		},
		API:     apiStatus{Enabled: cfg.API.Enabled, Addr: cfg.API.Addr},
		Storage: storage,
		Publish: cfg.Publish.Kafka.Enabled,
	})
}

func (s *Server) handleFilters(w http.ResponseWriter, _ *http.Request) {
	crops, sites := s.engine.Filters()
	writeJSON(w, http.StatusOK, map[string]any{
		"crops":            append([]string{model.AllValues}, crops...),
		"sites":            append([]string{model.AllValues}, sites...),
		"default_campaign": s.cfg.Get().Evaluation.DefaultCampaign,
	})
}

func filterFromQuery(r *http.Request) model.Filter {
	q := r.URL.Query()
	return model.Filter{
		Campaign: strings.TrimSpace(q.Get("campaign")),
		Crop:     strings.TrimSpace(q.Get("crop")),
		Site:     strings.TrimSpace(q.Get("site")),
	}
}

func (s *Server) handleBags(w http.ResponseWriter, r *http.Request) {
	ev := s.engine.Query(filterFromQuery(r))
	writeJSON(w, http.StatusOK, map[string]any{
		"filter":   ev.Filter,
		"bags":     ev.Bags,
		"rejected": ev.Rejected,
		"count":    len(ev.Bags),
	})
}

func (s *Server) handleKPIs(w http.ResponseWriter, r *http.Request) {
	ev := s.engine.Query(filterFromQuery(r))
	writeJSON(w, http.StatusOK, map[string]any{
		"filter":           ev.Filter,
		"kpis":             ev.KPIs,
		"at_risk_severity": ev.AtRiskSeverity,
	})
}

func (s *Server) handleAlerts(w http.ResponseWriter, r *http.Request) {
	ev := s.engine.Query(filterFromQuery(r))
	writeJSON(w, http.StatusOK, map[string]any{
		"filter": ev.Filter,
		"alerts": ev.Alerts,
		"causes": ev.Causes,
		"count":  len(ev.Alerts),
	})
}

func (s *Server) handleEvaluation(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.engine.Query(filterFromQuery(r)))
}

// handleRunEvaluation runs a full evaluation cycle: the result is kept as a
// snapshot, persisted and published.
func (s *Server) handleRunEvaluation(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.engine.Evaluate(r.Context(), filterFromQuery(r)))
}

func (s *Server) handleAcknowledge(w http.ResponseWriter, r *http.Request) {
	bagID := chi.URLParam(r, "bagID")
	var req struct {
		Note string `json:"note"`
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
	if err != nil {
		writeError(w, validation.New("body", nil, err.Error()))
		return
	}
	if len(strings.TrimSpace(string(body))) > 0 {
		if err := json.Unmarshal(body, &req); err != nil {
			writeError(w, validation.New("body", nil, "invalid JSON"))
			return
		}
	}
	ack, err := s.engine.Acknowledge(r.Context(), bagID, strings.TrimSpace(req.Note))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ack)
}

func (s *Server) handleAcks(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			limit = n
		}
	}
	var list []model.Acknowledgement
	if sinceStr := r.URL.Query().Get("since"); sinceStr != "" {
		ts, err := time.Parse(time.RFC3339, sinceStr)
		if err != nil {
			writeError(w, validation.New("since", sinceStr, "must be an RFC3339 timestamp"))
			return
		}
		list = s.engine.Acks().Since(ts)
	} else {
		list = s.engine.Acks().List(limit)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"acks":  list,
		"count": len(list),
	})
}

func (s *Server) handleTrend(w http.ResponseWriter, r *http.Request) {
	bagID := strings.TrimSpace(r.URL.Query().Get("bag"))
	series, err := s.engine.Trend(r.Context(), bagID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"bag":    bagID,
		"points": series,
	})
}

func (s *Server) handleSnapshots(w http.ResponseWriter, _ *http.Request) {
	list := s.engine.Snapshots().List()
	writeJSON(w, http.StatusOK, map[string]any{
		"snapshots": list,
		"count":     len(list),
	})
}

func (s *Server) handleClear(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
	var req struct {
		Target string `json:"target"`
	}
	_ = json.Unmarshal(body, &req)
	target := strings.ToLower(strings.TrimSpace(req.Target))
	if target == "" {
		target = "all"
	}
	switch target {
	case "all":
		s.engine.Snapshots().Clear()
		s.engine.Acks().Clear()
	case "snapshots":
		s.engine.Snapshots().Clear()
	case "acks":
		s.engine.Acks().Clear()
	default:
		writeError(w, validation.New("target", target, "must be all, snapshots or acks"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "target": target})
}

func (s *Server) handleReset(w http.ResponseWriter, _ *http.Request) {
	s.engine.Reset()
	if s.logger != nil {
		s.logger.Info("engine state reset")
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case validation.Is(err):
		status = http.StatusBadRequest
	case errors.Is(err, engine.ErrUnknownBag), errors.Is(err, engine.ErrNoActiveAlert):
		status = http.StatusNotFound
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
