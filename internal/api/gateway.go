// Package api exposes the retention engine over HTTP for the platform UI
// and notification layers.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/cors"

	"github.com/boxpulse/retention/internal/health"
	"github.com/boxpulse/retention/internal/store"
	"github.com/boxpulse/retention/pkg/models"
)

// RiskEngine interface for risk score operations
type RiskEngine interface {
	ComputeRiskScore(ctx context.Context, boxID, membershipID string) (models.RiskScore, error)
	RecalculateRisk(ctx context.Context, boxID, membershipID string) (models.RiskScore, error)
	SweepBox(ctx context.Context, boxID string) (models.SweepSummary, error)
}

// AlertEngine interface for alert generation operations
type AlertEngine interface {
	Evaluate(ctx context.Context, score models.RiskScore) (*models.Alert, error)
	SweepBox(ctx context.Context, boxID string) (models.SweepSummary, error)
}

// EscalationEngine interface for escalation operations
type EscalationEngine interface {
	SweepBox(ctx context.Context, boxID string) (models.SweepSummary, error)
	EscalateManually(ctx context.Context, alertID string, target models.AlertSeverity, reason string) (models.Alert, error)
}

// OutcomeTracker interface for intervention outcome operations
type OutcomeTracker interface {
	MeasureOutcome(ctx context.Context, interventionID string) (models.InterventionOutcome, error)
	SweepDue(ctx context.Context) (models.SweepSummary, error)
}

// EfficiencyReporter interface for escalation efficiency reports
type EfficiencyReporter interface {
	BoxEfficiency(ctx context.Context, boxID string, since time.Time) (models.EscalationEfficiency, error)
}

// Config represents gateway configuration.
type Config struct {
	Host           string        `yaml:"host"`
	Port           int           `yaml:"port"`
	ReadTimeout    time.Duration `yaml:"read_timeout"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`
	IdleTimeout    time.Duration `yaml:"idle_timeout"`
	EnableCORS     bool          `yaml:"enable_cors"`
	AllowedOrigins []string      `yaml:"allowed_origins"`
}

// DefaultConfig returns default gateway configuration.
func DefaultConfig() Config {
	return Config{
		Host:           "0.0.0.0",
		Port:           8080,
		ReadTimeout:    30 * time.Second,
		WriteTimeout:   30 * time.Second,
		IdleTimeout:    120 * time.Second,
		EnableCORS:     true,
		AllowedOrigins: []string{"*"},
	}
}

// Deps bundles everything the gateway serves.
type Deps struct {
	Retention  store.RetentionStore
	Risk       RiskEngine
	Alerts     AlertEngine
	Escalation EscalationEngine
	Outcomes   OutcomeTracker
	Reporter   EfficiencyReporter
	Health     *health.HealthChecker

	// MetricsProviders feed the /metrics endpoint, keyed by component name.
	MetricsProviders map[string]func() interface{}
}

// GatewayMetrics represents gateway request metrics.
type GatewayMetrics struct {
	RequestsTotal    int64            `json:"requests_total"`
	RequestsByPath   map[string]int64 `json:"requests_by_path"`
	RequestsByMethod map[string]int64 `json:"requests_by_method"`
	RequestsByStatus map[int]int64    `json:"requests_by_status"`
	AverageLatency   time.Duration    `json:"average_latency"`
	LastRequest      time.Time        `json:"last_request"`
	mu               sync.Mutex
}

// Gateway represents the retention API gateway.
type Gateway struct {
	server  *http.Server
	router  *mux.Router
	deps    Deps
	config  Config
	metrics *GatewayMetrics
}

// NewGateway creates a new API gateway.
func NewGateway(config Config, deps Deps) *Gateway {
	router := mux.NewRouter()

	gateway := &Gateway{
		router: router,
		deps:   deps,
		config: config,
		metrics: &GatewayMetrics{
			RequestsByPath:   make(map[string]int64),
			RequestsByMethod: make(map[string]int64),
			RequestsByStatus: make(map[int]int64),
		},
	}

	gateway.setupRoutes()
	gateway.setupMiddleware()

	gateway.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", config.Host, config.Port),
		Handler:      router,
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
		IdleTimeout:  config.IdleTimeout,
	}

	return gateway
}

// setupRoutes configures all API routes
func (g *Gateway) setupRoutes() {
	api := g.router.PathPrefix("/api/v1").Subrouter()

	// Risk score routes
	boxes := api.PathPrefix("/boxes/{boxId}").Subrouter()
	boxes.HandleFunc("/risk-scores", g.handleListRiskScores).Methods("GET")
	boxes.HandleFunc("/members/{membershipId}/risk-score", g.handleGetRiskScore).Methods("GET")
	boxes.HandleFunc("/members/{membershipId}/risk-score/recalculate", g.handleRecalculateRisk).Methods("POST")

	// Alert routes
	boxes.HandleFunc("/alerts", g.handleListActiveAlerts).Methods("GET")
	alerts := api.PathPrefix("/alerts").Subrouter()
	alerts.HandleFunc("/{id}", g.handleGetAlert).Methods("GET")
	alerts.HandleFunc("/{id}/acknowledge", g.handleAcknowledgeAlert).Methods("POST")
	alerts.HandleFunc("/{id}/resolve", g.handleResolveAlert).Methods("POST")
	alerts.HandleFunc("/{id}/snooze", g.handleSnoozeAlert).Methods("POST")
	alerts.HandleFunc("/{id}/escalate", g.handleEscalateAlert).Methods("POST")
	alerts.HandleFunc("/{id}/escalations", g.handleListEscalations).Methods("GET")
	api.HandleFunc("/members/{membershipId}/alerts", g.handleListMemberAlerts).Methods("GET")

	// Sweep triggers
	boxes.HandleFunc("/sweeps/retention", g.handleRetentionSweep).Methods("POST")
	api.HandleFunc("/sweeps/outcomes", g.handleOutcomeSweep).Methods("POST")

	// Intervention outcomes
	interventions := api.PathPrefix("/interventions").Subrouter()
	interventions.HandleFunc("/{id}/outcome", g.handleGetOutcome).Methods("GET")
	interventions.HandleFunc("/{id}/outcome", g.handleMeasureOutcome).Methods("POST")

	// Escalation efficiency
	boxes.HandleFunc("/efficiency", g.handleGetEfficiency).Methods("GET")

	// Health and metrics
	if g.deps.Health != nil {
		api.HandleFunc("/health", g.deps.Health.HTTPHandler()).Methods("GET")
	}
	api.HandleFunc("/metrics", g.handleMetrics).Methods("GET")
}

// setupMiddleware configures HTTP middleware
func (g *Gateway) setupMiddleware() {
	if g.config.EnableCORS {
		c := cors.New(cors.Options{
			AllowedOrigins:   g.config.AllowedOrigins,
			AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders:   []string{"*"},
			AllowCredentials: true,
		})
		g.router.Use(c.Handler)
	}

	g.router.Use(g.metricsMiddleware)
}

// Start starts the API gateway
func (g *Gateway) Start() error {
	log.Printf("Starting API gateway on %s", g.server.Addr)
	return g.server.ListenAndServe()
}

// Stop stops the API gateway
func (g *Gateway) Stop(ctx context.Context) error {
	log.Printf("Stopping API gateway")
	return g.server.Shutdown(ctx)
}

// GetMetrics returns a copy of the gateway metrics.
func (g *Gateway) GetMetrics() GatewayMetrics {
	g.metrics.mu.Lock()
	defer g.metrics.mu.Unlock()
	out := GatewayMetrics{
		RequestsTotal:    g.metrics.RequestsTotal,
		AverageLatency:   g.metrics.AverageLatency,
		LastRequest:      g.metrics.LastRequest,
		RequestsByPath:   make(map[string]int64, len(g.metrics.RequestsByPath)),
		RequestsByMethod: make(map[string]int64, len(g.metrics.RequestsByMethod)),
		RequestsByStatus: make(map[int]int64, len(g.metrics.RequestsByStatus)),
	}
	for k, v := range g.metrics.RequestsByPath {
		out.RequestsByPath[k] = v
	}
	for k, v := range g.metrics.RequestsByMethod {
		out.RequestsByMethod[k] = v
	}
	for k, v := range g.metrics.RequestsByStatus {
		out.RequestsByStatus[k] = v
	}
	return out
}

// Response envelope

type APIResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   *APIError   `json:"error,omitempty"`
	Meta    *APIMeta    `json:"meta,omitempty"`
}

type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

type APIMeta struct {
	Total int `json:"total,omitempty"`
}

func writeJSONResponse(w http.ResponseWriter, status int, response APIResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(response); err != nil {
		log.Printf("Failed to encode response: %v", err)
	}
}

func writeErrorResponse(w http.ResponseWriter, status int, code, message, details string) {
	writeJSONResponse(w, status, APIResponse{
		Success: false,
		Error: &APIError{
			Code:    code,
			Message: message,
			Details: details,
		},
	})
}

func writeSuccessResponse(w http.ResponseWriter, data interface{}, meta *APIMeta) {
	writeJSONResponse(w, http.StatusOK, APIResponse{
		Success: true,
		Data:    data,
		Meta:    meta,
	})
}

func parseRequestBody(r *http.Request, target interface{}) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(target)
}

// Metrics middleware

type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (g *Gateway) metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(wrapped, r)
		g.updateMetrics(r, wrapped.statusCode, time.Since(start))
	})
}

func (g *Gateway) updateMetrics(r *http.Request, statusCode int, duration time.Duration) {
	g.metrics.mu.Lock()
	defer g.metrics.mu.Unlock()

	g.metrics.RequestsTotal++
	g.metrics.RequestsByPath[r.URL.Path]++
	g.metrics.RequestsByMethod[r.Method]++
	g.metrics.RequestsByStatus[statusCode]++
	g.metrics.LastRequest = time.Now()

	if g.metrics.AverageLatency == 0 {
		g.metrics.AverageLatency = duration
	} else {
		g.metrics.AverageLatency = (g.metrics.AverageLatency + duration) / 2
	}
}
