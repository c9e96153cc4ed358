package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	_ "github.com/lib/pq"

	"github.com/liamcoop/annotations/annotations"
	"github.com/liamcoop/annotations/engine"
	"github.com/liamcoop/annotations/internal/config"
	"github.com/liamcoop/annotations/internal/logger"
	"github.com/liamcoop/annotations/ownerengine"
)

const maxBodyBytes = 1 << 20

type Server struct {
	db            *sql.DB
	store         engine.Store
	engineManager *ownerengine.Manager
	parser        *annotations.Parser
	slowRequest   time.Duration
	router        *chi.Mux
}

// NewServer connects to the configured database and cache and loads every owner.
func NewServer(ctx context.Context, cfg *config.Config) (*Server, error) {
	if cfg.Database.URL == "" {
		return nil, errors.New("database url is required (set DATABASE_URL)")
	}

	db, err := sql.Open("postgres", cfg.Database.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	cacheConfig := engine.CacheConfig{TTL: cfg.Cache.TTL}
	var cache engine.Cache = engine.NewInMemoryCache(cacheConfig)
	if cfg.Cache.RedisAddr != "" {
		redisCache, err := engine.NewRedisCache(ctx, cfg.Cache.RedisAddr, cacheConfig)
		if err != nil {
			db.Close()
			return nil, err
		}
		logger.Info("using redis annotation cache", "addr", cfg.Cache.RedisAddr)
		cache = redisCache
	}

	s, err := newServer(ctx, db, engine.NewPostgresStore(db),
		engine.WithCache(cache),
		engine.WithMetrics(engine.NewMetricsRecorder()),
	)
	if err != nil {
		db.Close()
		return nil, err
	}
	s.slowRequest = cfg.Server.SlowRequestThreshold

	return s, nil
}

// NewServerWithDB builds a server on an open database with default settings.
func NewServerWithDB(db *sql.DB) (*Server, error) {
	return newServer(context.Background(), db, engine.NewPostgresStore(db))
}

// NewServerWithStore builds a server without a database, e.g. on an
// engine.InMemoryStore.
func NewServerWithStore(ctx context.Context, store engine.Store, opts ...engine.Option) (*Server, error) {
	return newServer(ctx, nil, store, opts...)
}

func newServer(ctx context.Context, db *sql.DB, store engine.Store, opts ...engine.Option) (*Server, error) {
	engineManager := ownerengine.NewManager(store, opts...)

	logger.Info("loading owners from store")
	if err := engineManager.LoadAllOwners(ctx); err != nil {
		return nil, fmt.Errorf("failed to load owners: %w", err)
	}

	s := &Server{
		db:            db,
		store:         store,
		engineManager: engineManager,
		parser:        annotations.NewParser(nil),
		slowRequest:   config.Default().Server.SlowRequestThreshold,
	}

	s.setupRoutes()

	return s, nil
}

func (s *Server) setupRoutes() {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	// Health and introspection
	r.Get("/api/v1/health", s.handleHealth)
	r.Get("/api/v1/stats", s.handleStats)
	r.Get("/api/v1/functions", s.handleListFunctions)

	r.Post("/api/v1/annotations/validate", s.handleValidate)

	// Evaluation
	r.Post("/api/v1/evaluate", s.handleEvaluate)

	// Owner annotations
	r.Route("/api/v1/owners", func(r chi.Router) {
		r.Get("/", s.handleListOwners)

		r.Route("/{kind}/{ownerId}/annotations", func(r chi.Router) {
			r.Use(s.ownerCtx)

			r.Get("/", s.handleListAnnotations)
			r.Post("/", s.handleCreateAnnotation)
			r.Get("/{annotationId}", s.handleGetAnnotation)
			r.Put("/{annotationId}", s.handleUpdateAnnotation)
			r.Delete("/{annotationId}", s.handleDeleteAnnotation)
		})
	})

	s.router = r
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// requestLogger logs each request at debug level and slow ones as warnings
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()

		next.ServeHTTP(ww, r)

		elapsed := time.Since(start)
		attrs := []any{
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", float64(elapsed.Microseconds()) / 1000,
			"request_id", middleware.GetReqID(r.Context()),
		}

		if s.slowRequest > 0 && elapsed > s.slowRequest {
			logger.WarnSlowRequest("slow request", attrs...)
			return
		}
		logger.Debug("request", attrs...)
	})
}

type ownerKey struct{}

// ownerCtx validates the owner in the URL and stores it in the request context
func (s *Server) ownerCtx(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		owner := engine.Owner{
			Kind: engine.OwnerKind(chi.URLParam(r, "kind")),
			ID:   chi.URLParam(r, "ownerId"),
		}
		if err := ownerengine.ValidateOwner(owner); err != nil {
			respondError(w, http.StatusBadRequest, "invalid owner", err)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ownerKey{}, owner)))
	})
}

func ownerFrom(r *http.Request) engine.Owner {
	owner, _ := r.Context().Value(ownerKey{}).(engine.Owner)
	return owner
}

// Health check handler
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	owners := len(s.engineManager.ListOwners())

	if s.db != nil {
		if err := s.db.PingContext(r.Context()); err != nil {
			respondJSON(w, http.StatusServiceUnavailable, HealthResponse{
				Status:       "unhealthy",
				OwnersLoaded: owners,
				Error:        err.Error(),
			})
			return
		}
	}

	respondJSON(w, http.StatusOK, HealthResponse{
		Status:       "healthy",
		OwnersLoaded: owners,
	})
}

// Stats handler exposes the process log counters
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, logger.Snapshot())
}

// List functions handler
func (s *Server) handleListFunctions(w http.ResponseWriter, r *http.Request) {
	fns := s.parser.Registry().Functions()

	resp := FunctionsListResponse{Functions: make([]FunctionResponse, 0, len(fns))}
	for _, fn := range fns {
		resp.Functions = append(resp.Functions, FunctionResponse{Name: fn.Name, Arity: fn.Arity})
	}

	respondJSON(w, http.StatusOK, resp)
}

// Validate handler parses an annotation without storing it
func (s *Server) handleValidate(w http.ResponseWriter, r *http.Request) {
	var raw json.RawMessage
	if err := decodeBody(w, r, &raw); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	a, err := s.parser.ParseJSON(raw)
	if err != nil {
		respondError(w, http.StatusBadRequest, "annotation validation failed", err)
		return
	}

	respondJSON(w, http.StatusOK, ValidateResponse{
		Valid:      true,
		Type:       a.Type(),
		Annotation: a,
	})
}

// Evaluation handler
func (s *Server) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	var req EvaluateRequest
	if err := decodeBody(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	if len(req.Owners) == 0 {
		respondError(w, http.StatusBadRequest, "owners are required", nil)
		return
	}
	if req.Event == nil {
		respondError(w, http.StatusBadRequest, "event is required", nil)
		return
	}
	for _, owner := range req.Owners {
		if err := ownerengine.ValidateOwner(owner); err != nil {
			respondError(w, http.StatusBadRequest, "invalid owner", err)
			return
		}
	}
	if err := ownerengine.ValidateEvent(req.Event); err != nil {
		respondError(w, http.StatusBadRequest, "invalid event", err)
		return
	}

	startTime := time.Now()

	decision, err := s.engineManager.Decide(r.Context(), req.Event, req.Owners...)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "evaluation failed", err)
		return
	}

	respondJSON(w, http.StatusOK, EvaluateResponse{
		Decision:       decision,
		EvaluationTime: time.Since(startTime).String(),
	})
}

// List owners handler
func (s *Server) handleListOwners(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, OwnersListResponse{
		Owners: s.engineManager.ListOwners(),
	})
}

// List annotations handler
func (s *Server) handleListAnnotations(w http.ResponseWriter, r *http.Request) {
	owner := ownerFrom(r)

	records := []*engine.Record{}
	en, err := s.engineManager.GetEngine(owner)
	if err == nil {
		records, err = en.ListRecords(r.Context())
		if err != nil {
			respondError(w, http.StatusInternalServerError, "failed to list annotations", err)
			return
		}
	} else if !errors.Is(err, ownerengine.ErrOwnerNotLoaded) {
		respondError(w, http.StatusInternalServerError, "failed to list annotations", err)
		return
	}

	respondJSON(w, http.StatusOK, AnnotationsListResponse{
		Owner:       owner,
		Annotations: records,
	})
}

// Create annotation handler
func (s *Server) handleCreateAnnotation(w http.ResponseWriter, r *http.Request) {
	owner := ownerFrom(r)

	var req CreateAnnotationRequest
	if err := decodeBody(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	if len(req.Definition) == 0 {
		respondError(w, http.StatusBadRequest, "definition is required", nil)
		return
	}
	if req.ID != "" {
		if _, err := uuid.Parse(req.ID); err != nil {
			respondError(w, http.StatusBadRequest, "id must be a UUID", err)
			return
		}
	}

	en, err := s.engineManager.GetOrCreateEngine(r.Context(), owner)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to load owner", err)
		return
	}

	record := &engine.Record{
		ID:         req.ID,
		Owner:      owner,
		Definition: req.Definition,
		Active:     req.Active == nil || *req.Active,
	}

	// AddRecord validates the definition before storing it
	if err := en.AddRecord(r.Context(), record); err != nil {
		respondRecordError(w, "failed to add annotation", err)
		return
	}

	respondJSON(w, http.StatusCreated, record)
}

// Get annotation handler
func (s *Server) handleGetAnnotation(w http.ResponseWriter, r *http.Request) {
	owner := ownerFrom(r)
	annotationID, ok := annotationIDParam(w, r)
	if !ok {
		return
	}

	record, err := s.store.Get(r.Context(), annotationID)
	if err == nil && record.Owner != owner {
		err = fmt.Errorf("annotation %s: %w", annotationID, engine.ErrNotFound)
	}
	if err != nil {
		respondRecordError(w, "annotation not found", err)
		return
	}

	respondJSON(w, http.StatusOK, record)
}

// Update annotation handler
func (s *Server) handleUpdateAnnotation(w http.ResponseWriter, r *http.Request) {
	owner := ownerFrom(r)
	annotationID, ok := annotationIDParam(w, r)
	if !ok {
		return
	}

	var req UpdateAnnotationRequest
	if err := decodeBody(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	if len(req.Definition) == 0 {
		respondError(w, http.StatusBadRequest, "definition is required", nil)
		return
	}

	en, err := s.engineManager.GetEngine(owner)
	if err != nil {
		respondError(w, http.StatusNotFound, "annotation not found", err)
		return
	}

	active := true
	if req.Active != nil {
		active = *req.Active
	}
	record := &engine.Record{
		ID:         annotationID,
		Owner:      owner,
		Definition: req.Definition,
		Active:     active,
	}

	if err := en.UpdateRecord(r.Context(), record); err != nil {
		respondRecordError(w, "failed to update annotation", err)
		return
	}

	respondJSON(w, http.StatusOK, record)
}

// Delete annotation handler
func (s *Server) handleDeleteAnnotation(w http.ResponseWriter, r *http.Request) {
	owner := ownerFrom(r)
	annotationID, ok := annotationIDParam(w, r)
	if !ok {
		return
	}

	en, err := s.engineManager.GetEngine(owner)
	if err != nil {
		respondError(w, http.StatusNotFound, "annotation not found", err)
		return
	}

	if err := en.DeleteRecord(r.Context(), annotationID); err != nil {
		respondRecordError(w, "failed to delete annotation", err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// Helper functions

// annotationIDParam reads the annotation ID from the URL. IDs are UUIDs, so
// anything else cannot name a stored annotation.
func annotationIDParam(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := chi.URLParam(r, "annotationId")
	if _, err := uuid.Parse(id); err != nil {
		respondError(w, http.StatusNotFound, "annotation not found", err)
		return "", false
	}
	return id, true
}

// decodeBody decodes a size-limited JSON body, keeping numbers as json.Number
func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.UseNumber()
	return dec.Decode(v)
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Debug("failed to write response", "error", err)
	}
}

func respondError(w http.ResponseWriter, status int, message string, err error) {
	response := ErrorResponse{Error: message}
	if err != nil {
		response.Details = err.Error()
	}

	var ae *annotations.AnnotationError
	if errors.As(err, &ae) {
		response.Kind = string(ae.Kind)
		response.Field = ae.Field
		response.Function = ae.Function
	}

	if status >= http.StatusInternalServerError {
		logger.ErrorHttp5xx(message, "status", status, "error", err)
	} else {
		logger.WarnHttp4xx(status, message, "error", err)
	}

	respondJSON(w, status, response)
}

// respondRecordError maps engine and parser errors to HTTP statuses
func respondRecordError(w http.ResponseWriter, message string, err error) {
	var ae *annotations.AnnotationError
	switch {
	case errors.As(err, &ae):
		respondError(w, http.StatusBadRequest, message, err)
	case errors.Is(err, engine.ErrNotFound):
		respondError(w, http.StatusNotFound, message, err)
	case errors.Is(err, engine.ErrExists):
		respondError(w, http.StatusConflict, message, err)
	default:
		respondError(w, http.StatusInternalServerError, message, err)
	}
}

func main() {
	cfg, err := config.FromEnv()
	if err != nil {
		logger.Fatal("failed to load config", "error", err)
	}
	if err := logger.Configure(cfg.Log.Level, cfg.Log.ErrorSampleRate); err != nil {
		logger.Warn("invalid log level, keeping default", "error", err)
	}

	ctx := context.Background()

	server, err := NewServer(ctx, cfg)
	if err != nil {
		logger.Fatal("failed to create server", "error", err)
	}
	defer server.db.Close()

	logger.Info("owners loaded", "owners", len(server.engineManager.ListOwners()))

	httpServer := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      server,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Graceful shutdown handling
	go func() {
		logger.Info("server starting", "port", cfg.Server.Port)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed to start", "error", err)
		}
	}()

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(ctx, cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", "error", err)
	}

	logger.Info("server stopped")
}
