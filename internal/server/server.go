// internal/server/server.go
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/ThinkInAIXYZ/go-mcp/protocol"

	"meal-scan/internal/auth"
	"meal-scan/internal/models"
	"meal-scan/internal/nutrition"
	"meal-scan/internal/vision"
)

const maxBodyBytes = 10 << 20

type Config struct {
	Host    string
	Port    int
	Version string
}

// Describer fetches the raw model reply for a photo.
type Describer interface {
	Describe(ctx context.Context, image []byte, shape vision.Shape) (string, error)
}

type BarcodeLookup interface {
	LookupBarcode(ctx context.Context, code string) (nutrition.Record, error)
}

type MealLog interface {
	AppendMeal(ctx context.Context, meal *models.Meal) error
	ListMeals(ctx context.Context, q models.MealQuery) ([]*models.Meal, error)
}

// Deps are the collaborators the server is built from.
type Deps struct {
	Vision   Describer
	Pipeline *nutrition.Pipeline
	Barcodes BarcodeLookup
	Meals    MealLog
	Auth     *auth.Service
	Logger   *slog.Logger
}

type MealScanServer struct {
	httpServer *http.Server
	handler    http.Handler
	vision     Describer
	pipeline   *nutrition.Pipeline
	barcodes   BarcodeLookup
	meals      MealLog
	auth       *auth.Service
	logger     *slog.Logger
	info       protocol.Implementation
	tools      map[string]toolHandler
	config     *Config
}

func NewMealScanServer(cfg *Config, deps Deps) (*MealScanServer, error) {
	switch {
	case deps.Vision == nil:
		return nil, errors.New("vision client is required")
	case deps.Pipeline == nil:
		return nil, errors.New("normalization pipeline is required")
	case deps.Barcodes == nil || deps.Meals == nil || deps.Auth == nil:
		return nil, errors.New("barcode, meal and auth collaborators are required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	version := cfg.Version
	if version == "" {
		version = "dev"
	}

	s := &MealScanServer{
		vision:   deps.Vision,
		pipeline: deps.Pipeline,
		barcodes: deps.Barcodes,
		meals:    deps.Meals,
		auth:     deps.Auth,
		logger:   logger,
		info: protocol.Implementation{
			Name:    "meal-scan",
			Version: version,
		},
		config: cfg,
	}
	s.registerTools()

	mux := http.NewServeMux()
	mux.HandleFunc("GET /ping", s.handlePing)
	mux.HandleFunc("POST /analyze", s.handleAnalyze(vision.ShapeObject))
	mux.HandleFunc("POST /analyze/meal", s.handleAnalyze(vision.ShapeTable))
	mux.HandleFunc("GET /barcode/{code}", s.handleBarcode)
	mux.HandleFunc("POST /barcode", s.handleBarcode)
	mux.HandleFunc("POST /register", s.handleRegister)
	mux.HandleFunc("POST /login", s.handleLogin)
	mux.HandleFunc("POST /meals", s.handleLogMeal)
	mux.HandleFunc("GET /meals", s.handleGetMeals)
	mux.HandleFunc("GET /mcp", s.handleMCPInfo)
	mux.HandleFunc("POST /mcp", s.handleMCP)

	s.handler = s.withCORS(s.withLogging(mux))
	s.httpServer = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return s, nil
}

// Handler exposes the routed handler, mainly for tests.
func (s *MealScanServer) Handler() http.Handler {
	return s.handler
}

func (s *MealScanServer) Addr() string {
	return s.httpServer.Addr
}

func (s *MealScanServer) Start(ctx context.Context) error {
	s.logger.Info("starting meal scan server", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *MealScanServer) Stop(ctx context.Context) error {
	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}

func (s *MealScanServer) withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *MealScanServer) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.logger.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration", time.Since(start),
		)
	})
}
