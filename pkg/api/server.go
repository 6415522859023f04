// Package api provides the admin HTTP endpoints for inspecting and
// managing a running icon cache.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"image"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/objectfs/iconcache/internal/metrics"
	"github.com/objectfs/iconcache/pkg/errors"
	"github.com/objectfs/iconcache/pkg/health"
	"github.com/objectfs/iconcache/pkg/iconcache"
	"github.com/objectfs/iconcache/pkg/types"
	"github.com/objectfs/iconcache/pkg/utils"
)

const defaultListLimit = 10

// Server provides HTTP API endpoints for a Provider
type Server struct {
	httpServer *http.Server
	provider   *iconcache.Provider
	metrics    *metrics.Collector
	config     ServerConfig
	logger     logrus.FieldLogger
}

// ServerConfig configures the API server
type ServerConfig struct {
	// Address to bind the server to (e.g., "127.0.0.1:8089")
	Address string `yaml:"address" json:"address"`

	// ReadTimeout is the maximum duration for reading the entire request
	ReadTimeout time.Duration `yaml:"read_timeout" json:"read_timeout"`

	// WriteTimeout is the maximum duration for writing the response
	WriteTimeout time.Duration `yaml:"write_timeout" json:"write_timeout"`

	// IdleTimeout is the maximum duration to wait for the next request
	IdleTimeout time.Duration `yaml:"idle_timeout" json:"idle_timeout"`

	// EnableCORS enables Cross-Origin Resource Sharing
	EnableCORS bool `yaml:"enable_cors" json:"enable_cors"`
}

// DefaultServerConfig returns default server configuration
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Address:      "127.0.0.1:8089",
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}

// preloadRequest is the body of POST /preload.
type preloadRequest struct {
	Names []string `json:"names"`
	Size  int      `json:"size"`
	State int      `json:"state"`
}

// NewServer creates a new API server. collector may be nil, in which
// case /metrics is not served.
func NewServer(config ServerConfig, provider *iconcache.Provider, collector *metrics.Collector, logger logrus.FieldLogger) *Server {
	if logger == nil {
		logger = utils.DiscardLogger()
	}
	s := &Server{
		provider: provider,
		metrics:  collector,
		config:   config,
		logger:   logger.WithField("component", "api"),
	}

	s.httpServer = &http.Server{
		Addr:         config.Address,
		Handler:      s.Handler(),
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
		IdleTimeout:  config.IdleTimeout,
	}

	return s
}

// Handler returns the routed handler with middleware applied.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// Health endpoints
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/health/components", s.handleHealthComponents)
	mux.HandleFunc("/health/live", s.handleLiveness)
	mux.HandleFunc("/health/ready", s.handleReadiness)

	// Cache endpoints
	mux.HandleFunc("/stats", s.handleStats)
	mux.HandleFunc("/stats/reset", s.handleResetStats)
	mux.HandleFunc("/cache", s.handleCacheAll)
	mux.HandleFunc("/cache/", s.handleCacheTier)

	// Usage endpoints
	mux.HandleFunc("/usage", s.handleUsage)
	mux.HandleFunc("/usage/top", s.handleUsageList)
	mux.HandleFunc("/usage/recent", s.handleUsageList)

	// Preload endpoints
	mux.HandleFunc("/preload", s.handlePreload)
	mux.HandleFunc("/preload/auto", s.handleAutoPreload)
	mux.HandleFunc("/preload/", s.handlePreloadJob)

	if s.metrics != nil {
		mux.Handle("/metrics", s.metrics.Handler())
	}

	mux.HandleFunc("/info", s.handleInfo)

	handler := s.loggingMiddleware(mux)
	if s.config.EnableCORS {
		handler = s.corsMiddleware(handler)
	}
	return handler
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.logger.WithField("address", s.config.Address).Info("Starting API server")
	return s.httpServer.ListenAndServe()
}

// StartBackground starts the server in a background goroutine
func (s *Server) StartBackground() {
	go func() {
		if err := s.Start(); err != nil && err != http.ErrServerClosed {
			s.logger.WithError(err).Error("API server error")
		}
	}()
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down API server")
	return s.httpServer.Shutdown(ctx)
}

// Health endpoint handlers

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if !s.allow(w, r, http.MethodGet) {
		return
	}

	report := s.provider.Health()
	response := map[string]interface{}{
		"status":     report.Status.String(),
		"timestamp":  time.Now(),
		"components": len(report.Components),
	}

	statusCode := http.StatusOK
	switch report.Status {
	case health.StateUnavailable:
		statusCode = http.StatusServiceUnavailable
	case health.StateDegraded, health.StateReadOnly:
		statusCode = http.StatusPartialContent
	}

	s.respondJSON(w, statusCode, response)
}

func (s *Server) handleHealthComponents(w http.ResponseWriter, r *http.Request) {
	if !s.allow(w, r, http.MethodGet) {
		return
	}
	s.respondJSON(w, http.StatusOK, s.provider.Health().Components)
}

func (s *Server) handleLiveness(w http.ResponseWriter, r *http.Request) {
	if !s.allow(w, r, http.MethodGet) {
		return
	}

	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"alive":     true,
		"timestamp": time.Now(),
	})
}

func (s *Server) handleReadiness(w http.ResponseWriter, r *http.Request) {
	if !s.allow(w, r, http.MethodGet) {
		return
	}

	overallHealth := s.provider.HealthTracker().GetOverallHealth()
	ready := overallHealth != health.StateUnavailable

	statusCode := http.StatusOK
	if !ready {
		statusCode = http.StatusServiceUnavailable
	}

	s.respondJSON(w, statusCode, map[string]interface{}{
		"ready":     ready,
		"status":    overallHealth.String(),
		"timestamp": time.Now(),
	})
}

// Cache endpoint handlers

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if !s.allow(w, r, http.MethodGet) {
		return
	}
	s.respondJSON(w, http.StatusOK, s.provider.Stats())
}

func (s *Server) handleResetStats(w http.ResponseWriter, r *http.Request) {
	if !s.allow(w, r, http.MethodPost) {
		return
	}
	s.provider.ResetStats()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleCacheAll(w http.ResponseWriter, r *http.Request) {
	if !s.allow(w, r, http.MethodDelete) {
		return
	}
	if err := s.provider.ClearAllCaches(); err != nil {
		s.respondErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleCacheTier serves /cache/{memory,gpu,disk}. GET returns the tier
// counters, DELETE clears the tier and PUT applies the "budget" and, for
// the disk tier, "enabled" query parameters.
func (s *Server) handleCacheTier(w http.ResponseWriter, r *http.Request) {
	tier := strings.TrimPrefix(r.URL.Path, "/cache/")
	if tier != "memory" && tier != "gpu" && tier != "disk" {
		s.respondError(w, http.StatusNotFound, fmt.Sprintf("Unknown cache tier: %s", tier))
		return
	}

	switch r.Method {
	case http.MethodGet:
		stats := s.provider.Stats()
		switch tier {
		case "memory":
			s.respondJSON(w, http.StatusOK, stats.Memory)
		case "gpu":
			s.respondJSON(w, http.StatusOK, stats.Gpu)
		default:
			s.respondJSON(w, http.StatusOK, stats.Disk)
		}

	case http.MethodDelete:
		switch tier {
		case "memory":
			s.provider.ClearMemoryCache()
		case "gpu":
			s.provider.ClearGpuCache()
		default:
			if err := s.provider.ClearDiskCache(); err != nil {
				s.respondErr(w, err)
				return
			}
		}
		w.WriteHeader(http.StatusNoContent)

	case http.MethodPut:
		s.updateTier(w, r, tier)

	default:
		s.respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

func (s *Server) updateTier(w http.ResponseWriter, r *http.Request, tier string) {
	q := r.URL.Query()
	changed := false

	if v := q.Get("budget"); v != "" {
		budget, err := utils.ParseBytes(v)
		if err != nil || budget <= 0 {
			s.respondError(w, http.StatusBadRequest, fmt.Sprintf("Invalid budget: %s", v))
			return
		}
		switch tier {
		case "memory":
			s.provider.SetMemoryBudget(budget)
		case "gpu":
			s.provider.SetGpuBudget(budget)
		default:
			s.provider.SetDiskCacheMaxSize(budget)
		}
		changed = true
	}

	if v := q.Get("enabled"); v != "" {
		if tier != "disk" {
			s.respondError(w, http.StatusBadRequest, "Only the disk tier can be enabled or disabled")
			return
		}
		enabled, err := strconv.ParseBool(v)
		if err != nil {
			s.respondError(w, http.StatusBadRequest, fmt.Sprintf("Invalid enabled value: %s", v))
			return
		}
		s.provider.SetDiskCacheEnabled(enabled)
		changed = true
	}

	if !changed {
		s.respondError(w, http.StatusBadRequest, "Nothing to update")
		return
	}

	s.logger.WithFields(logrus.Fields{
		"tier":  tier,
		"query": r.URL.RawQuery,
	}).Info("Cache tier updated")
	w.WriteHeader(http.StatusNoContent)
}

// Usage endpoint handlers

func (s *Server) handleUsage(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		entries := s.provider.UsageEntries()
		s.respondJSON(w, http.StatusOK, map[string]interface{}{
			"entries":   entries,
			"count":     len(entries),
			"tracking":  s.provider.UsageTracking(),
			"timestamp": time.Now(),
		})
	case http.MethodDelete:
		if err := s.provider.ClearUsageStats(); err != nil {
			s.respondErr(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	case http.MethodPut:
		enabled, err := strconv.ParseBool(r.URL.Query().Get("enabled"))
		if err != nil {
			s.respondError(w, http.StatusBadRequest, "enabled must be true or false")
			return
		}
		s.provider.SetUsageTracking(enabled)
		w.WriteHeader(http.StatusNoContent)
	default:
		s.respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

func (s *Server) handleUsageList(w http.ResponseWriter, r *http.Request) {
	if !s.allow(w, r, http.MethodGet) {
		return
	}

	limit, ok := s.limit(w, r)
	if !ok {
		return
	}

	var icons []string
	if strings.HasSuffix(r.URL.Path, "/top") {
		icons = s.provider.TopUsedIcons(limit)
	} else {
		icons = s.provider.RecentlyUsedIcons(limit)
	}
	if icons == nil {
		icons = []string{}
	}

	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"icons": icons,
		"count": len(icons),
		"limit": limit,
	})
}

// Preload endpoint handlers

func (s *Server) handlePreload(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		limit, ok := s.limit(w, r)
		if !ok {
			return
		}
		active, history := s.provider.PreloadJobs(limit)
		s.respondJSON(w, http.StatusOK, map[string]interface{}{
			"running":      s.provider.IsPreloading(),
			"active":       active,
			"history":      history,
			"auto_enabled": s.provider.AutoPreload(),
			"auto_count":   s.provider.AutoPreloadCount(),
		})

	case http.MethodPost:
		var req preloadRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.respondError(w, http.StatusBadRequest, fmt.Sprintf("Invalid request body: %v", err))
			return
		}
		state := types.IconState(req.State)
		if !state.Valid() {
			s.respondError(w, http.StatusBadRequest, fmt.Sprintf("Invalid state: %d", req.State))
			return
		}
		job, err := s.provider.PreloadIcons(req.Names, squareSize(req.Size), state)
		if err != nil {
			s.respondErr(w, err)
			return
		}
		s.respondJSON(w, http.StatusAccepted, map[string]interface{}{
			"job_id": job.ID(),
			"total":  job.Total(),
		})

	case http.MethodDelete:
		s.provider.CancelPreload()
		w.WriteHeader(http.StatusNoContent)

	default:
		s.respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

// handleAutoPreload triggers an automatic preload on POST and changes the
// settings on PUT through the "enabled" and "count" query parameters.
func (s *Server) handleAutoPreload(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		job := s.provider.TriggerAutoPreload()
		if job == nil {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		s.respondJSON(w, http.StatusAccepted, map[string]interface{}{
			"job_id": job.ID(),
			"total":  job.Total(),
		})

	case http.MethodPut:
		q := r.URL.Query()
		if v := q.Get("enabled"); v != "" {
			enabled, err := strconv.ParseBool(v)
			if err != nil {
				s.respondError(w, http.StatusBadRequest, fmt.Sprintf("Invalid enabled value: %s", v))
				return
			}
			s.provider.SetAutoPreload(enabled)
		}
		if v := q.Get("count"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				s.respondError(w, http.StatusBadRequest, fmt.Sprintf("Invalid count: %s", v))
				return
			}
			s.provider.SetAutoPreloadCount(n)
		}
		s.respondJSON(w, http.StatusOK, map[string]interface{}{
			"auto_enabled": s.provider.AutoPreload(),
			"auto_count":   s.provider.AutoPreloadCount(),
		})

	default:
		s.respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

func (s *Server) handlePreloadJob(w http.ResponseWriter, r *http.Request) {
	if !s.allow(w, r, http.MethodGet) {
		return
	}

	id := strings.TrimPrefix(r.URL.Path, "/preload/")
	if id == "" {
		s.respondError(w, http.StatusBadRequest, "Job ID required")
		return
	}

	op, err := s.provider.PreloadJob(id)
	if err != nil {
		s.respondError(w, http.StatusNotFound, fmt.Sprintf("Job not found: %s", id))
		return
	}
	s.respondJSON(w, http.StatusOK, op)
}

// Info endpoint

func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	if !s.allow(w, r, http.MethodGet) {
		return
	}

	endpoints := []string{
		"/health",
		"/health/components",
		"/health/live",
		"/health/ready",
		"/stats",
		"/stats/reset",
		"/cache",
		"/cache/{memory,gpu,disk}",
		"/usage",
		"/usage/top",
		"/usage/recent",
		"/preload",
		"/preload/auto",
		"/preload/{id}",
		"/info",
	}
	if s.metrics != nil {
		endpoints = append(endpoints, "/metrics")
	}

	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"service":   "iconcache",
		"timestamp": time.Now(),
		"endpoints": endpoints,
	})
}

// Middleware

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.WithFields(logrus.Fields{
			"method":   r.Method,
			"path":     r.URL.Path,
			"duration": time.Since(start),
		}).Debug("API request")
	})
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// Helper methods

func (s *Server) allow(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method != method {
		s.respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return false
	}
	return true
}

// limit reads the "limit" query parameter, defaulting to 10.
func (s *Server) limit(w http.ResponseWriter, r *http.Request) (int, bool) {
	v := r.URL.Query().Get("limit")
	if v == "" {
		return defaultListLimit, true
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		s.respondError(w, http.StatusBadRequest, fmt.Sprintf("Invalid limit: %s", v))
		return 0, false
	}
	return n, true
}

func squareSize(n int) (size image.Point) {
	if n > 0 {
		size = image.Pt(n, n)
	}
	return size
}

func (s *Server) respondJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.WithError(err).Warn("Error encoding JSON response")
	}
}

func (s *Server) respondError(w http.ResponseWriter, statusCode int, message string) {
	s.respondJSON(w, statusCode, map[string]interface{}{
		"error":     message,
		"timestamp": time.Now(),
	})
}

// respondErr maps an error code onto an HTTP status.
func (s *Server) respondErr(w http.ResponseWriter, err error) {
	statusCode := http.StatusInternalServerError
	code, _ := errors.CodeOf(err)
	switch code {
	case errors.ErrCodePreloadBusy:
		statusCode = http.StatusConflict
	case errors.ErrCodeValidationFailed, errors.ErrCodeInvalidConfig:
		statusCode = http.StatusBadRequest
	case errors.ErrCodeOperationNotFound:
		statusCode = http.StatusNotFound
	case errors.ErrCodeComponentStopped, errors.ErrCodeStorageUnavailable:
		statusCode = http.StatusServiceUnavailable
	}

	body := map[string]interface{}{
		"error":     err.Error(),
		"timestamp": time.Now(),
	}
	if code != "" {
		body["code"] = code
	}
	s.respondJSON(w, statusCode, body)
}
