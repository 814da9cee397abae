package main

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"github.com/edumetrics/funnelcast/internal/api"
	"github.com/edumetrics/funnelcast/internal/attribution"
	"github.com/edumetrics/funnelcast/internal/cache"
	"github.com/edumetrics/funnelcast/internal/elasticity"
	"github.com/edumetrics/funnelcast/internal/metrics"
	"github.com/edumetrics/funnelcast/internal/montecarlo"
	"github.com/edumetrics/funnelcast/internal/pipeline"
	"github.com/edumetrics/funnelcast/internal/store"
	"github.com/edumetrics/funnelcast/internal/wal"
	"github.com/edumetrics/funnelcast/pkg/otel"
)

type Server struct {
	runner      *pipeline.Runner
	stateStore  store.StateStore
	ingestWAL   *wal.IngestWAL
	metrics     *metrics.Metrics
	limiter     *rate.Limiter
	metricsAuth struct {
		enabled  bool
		user     string
		password string
	}
}

func main() {
	// Setup state store
	stateBackend := getEnv("STATE_BACKEND", "memory")
	var stateStore store.StateStore
	var err error

	switch stateBackend {
	case "memory":
		snapshotPath := getEnv("STATE_SNAPSHOT", "data/state.json")
		stateStore = store.NewMemoryStore(snapshotPath)
	case "redis":
		redisAddr := getEnv("REDIS_ADDR", "localhost:6379")
		redisPass := getEnv("REDIS_PASSWORD", "")
		redisDB := getEnvInt("REDIS_DB", 0)
		stateStore, err = store.NewRedisStore(redisAddr, redisPass, redisDB)
		if err != nil {
			log.Fatalf("Failed to create Redis store: %v", err)
		}
	case "postgres":
		connStr := getEnv("POSTGRES_CONN", "")
		stateStore, err = store.NewPostgresStore(connStr)
		if err != nil {
			log.Fatalf("Failed to create Postgres store: %v", err)
		}
	default:
		log.Fatalf("Unknown STATE_BACKEND: %s", stateBackend)
	}

	// Setup WAL
	walDir := getEnv("WAL_DIR", "data/wal")
	ingestWAL, err := wal.NewIngestWAL(walDir)
	if err != nil {
		log.Fatalf("Failed to create ingest WAL: %v", err)
	}

	// Model cache
	cacheSize := getEnvInt("MODEL_CACHE_SIZE", 64)
	modelCache, err := cache.NewModelCache(cacheSize, 24*time.Hour)
	if err != nil {
		log.Fatalf("Failed to create model cache: %v", err)
	}

	// Setup metrics
	m := metrics.New()
	kpis := metrics.NewCampaignKPITracker()

	// Optional tracing
	ctx := context.Background()
	var tracerProvider interface{ Shutdown(context.Context) error }
	if getEnv("OTEL_ENABLED", "") == "true" {
		cfg := otel.DefaultConfig("funnelcast")
		cfg.CollectorEndpoint = getEnv("OTEL_ENDPOINT", cfg.CollectorEndpoint)
		tp, err := otel.InitTracer(ctx, cfg)
		if err != nil {
			log.Fatalf("Failed to init tracing: %v", err)
		}
		tracerProvider = tp
	}

	// Rate limiter
	tokenRate := getEnvInt("TOKEN_RATE", 100)
	limiter := rate.NewLimiter(rate.Limit(tokenRate), tokenRate*2)

	// Create server
	srv := &Server{
		runner: &pipeline.Runner{
			Store:  stateStore,
			Models: modelCache,
			Met:    m,
			KPIs:   kpis,
		},
		stateStore: stateStore,
		ingestWAL:  ingestWAL,
		metrics:    m,
		limiter:    limiter,
	}

	// Metrics auth
	srv.metricsAuth.enabled = getEnv("METRICS_USER", "") != ""
	srv.metricsAuth.user = getEnv("METRICS_USER", "")
	srv.metricsAuth.password = getEnv("METRICS_PASS", "")

	// Setup HTTP routes
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/forecast", srv.handleForecast)
	mux.HandleFunc("/v1/simulate", srv.handleSimulate)
	mux.HandleFunc("/v1/attribution", srv.handleAttribution)
	mux.HandleFunc("/v1/elasticity", srv.handleElasticity)
	mux.HandleFunc("/v1/calibration/feedback", srv.handleCalibrationFeedback)
	mux.Handle("/metrics", srv.metricsHandler())
	mux.HandleFunc("/health", handleHealth)

	// HTTP server
	port := getEnv("PORT", "8080")
	httpServer := &http.Server{
		Addr:         ":" + port,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	go func() {
		log.Printf("Starting server on port %s", port)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	<-shutdown
	log.Println("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server shutdown error: %v", err)
	}

	// Close resources
	if err := ingestWAL.Close(); err != nil {
		log.Printf("Error closing WAL: %v", err)
	}
	if err := stateStore.Close(); err != nil {
		log.Printf("Error closing state store: %v", err)
	}
	if tracerProvider != nil {
		if err := tracerProvider.Shutdown(shutdownCtx); err != nil {
			log.Printf("Error shutting down tracer: %v", err)
		}
	}

	log.Println("Server stopped")
}

// readBody enforces the size limit, rate limit and WAL-before-parse
// contract shared by every ingest endpoint. Returns nil when a
// response has already been written.
func (s *Server) readBody(w http.ResponseWriter, r *http.Request) []byte {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return nil
	}

	// Rate limiting
	if !s.limiter.Allow() {
		s.metrics.RateLimited.Inc()
		w.Header().Set("Retry-After", "10")
		http.Error(w, "Too many requests", http.StatusTooManyRequests)
		return nil
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, 4<<20)) // 4MB limit
	if err != nil {
		http.Error(w, "Failed to read body", http.StatusBadRequest)
		return nil
	}

	// Append to WAL BEFORE parsing (fault tolerance)
	if err := s.ingestWAL.Append(r.URL.Path, body); err != nil {
		log.Printf("WAL append error: %v", err)
		s.metrics.WALErrors.Inc()
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return nil
	}

	return body
}

func (s *Server) handleForecast(w http.ResponseWriter, r *http.Request) {
	body := s.readBody(w, r)
	if body == nil {
		return
	}

	var req pipeline.Request
	if err := json.Unmarshal(body, &req); err != nil {
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return
	}

	ctx, span := otel.StartSpan(r.Context(), "funnelcast", "forecast",
		otel.ForecastAttributes(req.Brand, req.Metric, "", len(req.Series), req.Campaign.TimeRatio())...)
	defer span.End()

	report, err := s.runner.Forecast(ctx, req)
	if err != nil {
		otel.RecordError(span, err, "forecast failed")
		respondWithError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, report)
}

type simulateRequest struct {
	Base        api.Projection    `json:"base"`
	Config      montecarlo.Config `json:"config"`
	Target      float64           `json:"target,omitempty"`
	Percentiles []float64         `json:"percentiles,omitempty"`
}

type simulateResponse struct {
	Mean            float64            `json:"mean"`
	Std             float64            `json:"std"`
	Percentiles     map[string]float64 `json:"percentiles"`
	ProbBelowTarget float64            `json:"prob_below_target,omitempty"`
	Interval        api.Projection     `json:"interval"`
}

func (s *Server) handleSimulate(w http.ResponseWriter, r *http.Request) {
	body := s.readBody(w, r)
	if body == nil {
		return
	}

	s.metrics.SimulationTotal.Inc()
	start := time.Now()

	var req simulateRequest
	if err := json.Unmarshal(body, &req); err != nil {
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return
	}
	if req.Config.NSimulations == 0 {
		req.Config = montecarlo.DefaultConfig()
	}

	result, err := montecarlo.Simulate(req.Base, req.Config)
	if err != nil {
		respondWithError(w, err)
		return
	}
	s.metrics.SimulationDuration.Observe(time.Since(start).Seconds())

	pcts := req.Percentiles
	if len(pcts) == 0 {
		pcts = []float64{10, 50, 90}
	}
	resp := simulateResponse{
		Mean:        result.Mean(),
		Std:         result.Std(),
		Percentiles: make(map[string]float64, len(pcts)),
		Interval:    result.Interval(2.5, 97.5),
	}
	for _, p := range pcts {
		resp.Percentiles[strconv.FormatFloat(p, 'g', -1, 64)] = result.Percentile(p)
	}
	if req.Target > 0 {
		resp.ProbBelowTarget = result.ProbabilityBelow(req.Target)
	}

	respondJSON(w, http.StatusOK, resp)
}

type attributionRequest struct {
	Journeys []attribution.Journey `json:"journeys"`
	Model    string                `json:"model"`
	Params   api.EngineParams      `json:"params"`
}

func (s *Server) handleAttribution(w http.ResponseWriter, r *http.Request) {
	body := s.readBody(w, r)
	if body == nil {
		return
	}

	s.metrics.AttributionTotal.Inc()

	var req attributionRequest
	if err := json.Unmarshal(body, &req); err != nil {
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return
	}
	if req.Model == "" {
		req.Model = attribution.ModelLinear
	}
	if req.Params.HalfLifeDays <= 0 {
		req.Params = api.DefaultEngineParams()
	}

	result, err := attribution.Attribute(req.Journeys, req.Model, req.Params)
	if err != nil {
		respondWithError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, result)
}

type elasticityRequest struct {
	Series api.Series `json:"series"`
}

func (s *Server) handleElasticity(w http.ResponseWriter, r *http.Request) {
	body := s.readBody(w, r)
	if body == nil {
		return
	}

	var req elasticityRequest
	if err := json.Unmarshal(body, &req); err != nil {
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return
	}

	respondJSON(w, http.StatusOK, elasticity.EstimateSeries(req.Series))
}

type feedbackRequest struct {
	Brand     string           `json:"brand"`
	Metric    string           `json:"metric"`
	Intervals []api.Projection `json:"intervals"`
	Realized  []float64        `json:"realized"`
	Params    api.EngineParams `json:"params"`
}

func (s *Server) handleCalibrationFeedback(w http.ResponseWriter, r *http.Request) {
	body := s.readBody(w, r)
	if body == nil {
		return
	}

	var req feedbackRequest
	if err := json.Unmarshal(body, &req); err != nil {
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return
	}
	if req.Metric == "" {
		req.Metric = "enrollments"
	}

	state, err := s.runner.CalibrateFeedback(r.Context(), req.Brand, req.Metric, req.Intervals, req.Realized, req.Params)
	if err != nil {
		respondWithError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, state)
}

func (s *Server) metricsHandler() http.Handler {
	handler := promhttp.Handler()

	if !s.metricsAuth.enabled {
		return handler
	}

	// Wrap with Basic Auth
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok || user != s.metricsAuth.user || pass != s.metricsAuth.password {
			w.Header().Set("WWW-Authenticate", `Basic realm="Metrics"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		handler.ServeHTTP(w, r)
	})
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

func respondJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// respondWithError maps the engine error taxonomy onto HTTP statuses:
// bad parameters and inputs are the caller's fault (400), series too
// short to estimate are unprocessable (422).
func respondWithError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case api.IsKind(err, api.KindInvalidParameter), api.IsKind(err, api.KindInvalidInput):
		status = http.StatusBadRequest
	case api.IsKind(err, api.KindInsufficientData):
		status = http.StatusUnprocessableEntity
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}
