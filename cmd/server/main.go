package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/liamcoop/formrules/formmanager"
	"github.com/liamcoop/formrules/internal/config"
	"github.com/liamcoop/formrules/internal/logger"
	"github.com/liamcoop/formrules/internal/metrics"
	"github.com/liamcoop/formrules/rules"
	"github.com/liamcoop/formrules/session"
	_ "github.com/lib/pq"
)

type Server struct {
	db           *sql.DB // nil when forms are kept in memory
	sessionStore session.Store
	manager      *formmanager.Manager
	sessions     *session.Service
	metrics      *metrics.Metrics
	config       *config.Config
	router       *chi.Mux
}

// NewServer connects the stores named by cfg: PostgreSQL for forms when a database
// URL is set, Redis for sessions when an address is set, memory otherwise
func NewServer(cfg *config.Config) (*Server, error) {
	var (
		db          *sql.DB
		schemaStore rules.SchemaStore
	)

	if cfg.Database.URL != "" {
		var err error
		db, err = sql.Open("postgres", cfg.Database.URL)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}
		db.SetMaxOpenConns(cfg.Database.MaxOpenConns)

		if err := db.Ping(); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to ping database: %w", err)
		}
		schemaStore = rules.NewPostgresSchemaStore(db)
	} else {
		logger.Warn("no database configured, forms are kept in memory")
		schemaStore = rules.NewInMemorySchemaStore()
	}

	var sessionStore session.Store
	if cfg.Redis.Addr != "" {
		rs := session.NewRedisStore(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB,
			session.WithPrefix(cfg.Redis.Prefix),
			session.WithTTL(cfg.Redis.SessionTTL),
		)
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := rs.Ping(ctx); err != nil {
			if db != nil {
				db.Close()
			}
			return nil, fmt.Errorf("failed to ping redis: %w", err)
		}
		sessionStore = rs
	} else {
		sessionStore = session.NewMemoryStore()
	}

	return NewServerWithStores(cfg, schemaStore, sessionStore, db)
}

// NewServerWithStores builds the server over existing stores. db may be nil.
func NewServerWithStores(cfg *config.Config, schemaStore rules.SchemaStore, sessionStore session.Store, db *sql.DB) (*Server, error) {
	engine, err := rules.NewEngine()
	if err != nil {
		return nil, fmt.Errorf("failed to create rules engine: %w", err)
	}

	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.New(cfg.Metrics.Namespace)
	}

	manager := formmanager.NewManager(schemaStore, engine, m, formmanager.Config{
		StrictValidation: cfg.Forms.StrictValidation,
		Cache:            rules.CacheConfig{TTL: cfg.Forms.CacheTTL},
	})

	logger.Info("loading forms")
	if err := manager.LoadAll(); err != nil {
		return nil, fmt.Errorf("failed to load forms: %w", err)
	}

	s := &Server{
		db:           db,
		sessionStore: sessionStore,
		manager:      manager,
		sessions:     session.NewService(manager, sessionStore, m),
		metrics:      m,
		config:       cfg,
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
	r.Use(middleware.Timeout(s.config.Server.RequestTimeout))
	r.Use(middleware.RequestSize(s.config.Server.MaxBodyBytes))

	r.Get("/api/v1/health", s.handleHealth)
	if s.metrics != nil {
		r.Handle(s.config.Metrics.Path, s.metrics.Handler())
	}

	// Form management
	r.Route("/api/v1/forms", func(r chi.Router) {
		r.Get("/", s.handleListForms)
		r.Post("/", s.handleCreateForm)

		r.Route("/{formId}", func(r chi.Router) {
			r.Get("/", s.handleGetForm)
			r.Put("/", s.handleUpdateForm)
			r.Delete("/", s.handleDeleteForm)

			r.Post("/evaluate", s.handleEvaluate)
			r.Post("/validate", s.handleValidate)
			r.Post("/sessions", s.handleStartSession)
		})
	})

	// Respondent sessions
	r.Route("/api/v1/sessions/{sessionId}", func(r chi.Router) {
		r.Get("/", s.handleGetSession)
		r.Delete("/", s.handleDeleteSession)
		r.Put("/answers/{fieldId}", s.handleSetAnswer)
		r.Post("/next", s.handleNext)
		r.Post("/prev", s.handlePrev)
		r.Post("/goto/{step}", s.handleGoTo)
		r.Post("/submit", s.handleSubmit)
	})

	s.router = r
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Close releases the database and Redis connections
func (s *Server) Close() error {
	var errs []error
	if s.db != nil {
		errs = append(errs, s.db.Close())
	}
	if c, ok := s.sessionStore.(io.Closer); ok {
		errs = append(errs, c.Close())
	}
	return errors.Join(errs...)
}

// requestLogger counts failed and slow requests for the metrics endpoint
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()

		next.ServeHTTP(ww, r)

		elapsed := time.Since(start)
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}

		switch {
		case status >= 500:
			logger.ErrorHttp5xx()
		case status >= 400:
			logger.WarnHttp4xx(status)
		}

		if elapsed > s.config.Server.SlowRequestThreshold {
			logger.WarnSlowRequest()
			logger.Warn("slow request",
				"method", r.Method,
				"path", r.URL.Path,
				"duration_ms", elapsed.Milliseconds(),
				"request_id", middleware.GetReqID(r.Context()),
			)
		}

		logger.Debug("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", status,
			"duration_ms", elapsed.Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

// Health check handler
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{
		Status:       "healthy",
		FormsLoaded:  len(s.manager.LoadedForms()),
		FormStore:    "memory",
		SessionStore: "memory",
	}

	if s.db != nil {
		resp.FormStore = "postgres"
		if err := s.db.PingContext(r.Context()); err != nil {
			resp.Status, resp.Error = "unhealthy", err.Error()
			respondJSON(w, http.StatusServiceUnavailable, resp)
			return
		}
		if stats := s.db.Stats(); stats.MaxOpenConnections > 0 && stats.InUse >= stats.MaxOpenConnections {
			logger.WarnConnPool(stats.InUse, stats.MaxOpenConnections)
		}
	}

	if rs, ok := s.sessionStore.(*session.RedisStore); ok {
		resp.SessionStore = "redis"
		if err := rs.Ping(r.Context()); err != nil {
			resp.Status, resp.Error = "unhealthy", err.Error()
			respondJSON(w, http.StatusServiceUnavailable, resp)
			return
		}
	}

	respondJSON(w, http.StatusOK, resp)
}

// List forms handler
func (s *Server) handleListForms(w http.ResponseWriter, r *http.Request) {
	list, err := s.manager.ListForms()
	if err != nil {
		respondServiceError(w, err)
		return
	}

	forms := make([]FormSummary, 0, len(list))
	for _, schema := range list {
		forms = append(forms, summarize(schema))
	}
	respondJSON(w, http.StatusOK, FormsListResponse{Forms: forms})
}

// Create form handler
func (s *Server) handleCreateForm(w http.ResponseWriter, r *http.Request) {
	schema, err := decodeSchema(r)
	if err != nil {
		respondBodyError(w, err)
		return
	}

	created, err := s.manager.CreateForm(schema)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, created)
}

// Get form handler
func (s *Server) handleGetForm(w http.ResponseWriter, r *http.Request) {
	schema, err := s.manager.GetForm(chi.URLParam(r, "formId"))
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, schema)
}

// Update form handler. The new schema replaces the old one without downtime.
func (s *Server) handleUpdateForm(w http.ResponseWriter, r *http.Request) {
	formID := chi.URLParam(r, "formId")

	schema, err := decodeSchema(r)
	if err != nil {
		respondBodyError(w, err)
		return
	}
	if schema.ID != "" && schema.ID != formID {
		respondError(w, http.StatusBadRequest, "form id in body does not match the URL", nil)
		return
	}
	schema.ID = formID

	if err := s.manager.UpdateFormSchema(schema); err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, schema)
}

// Delete form handler
func (s *Server) handleDeleteForm(w http.ResponseWriter, r *http.Request) {
	if err := s.manager.DeleteForm(chi.URLParam(r, "formId")); err != nil {
		respondServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Evaluation handler
func (s *Server) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	var req EvaluateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		respondBodyError(w, err)
		return
	}

	mode := req.Mode
	if mode == "" {
		mode = rules.ModeRuntime
	}
	if mode != rules.ModeRuntime && mode != rules.ModeBuilder {
		respondError(w, http.StatusBadRequest, fmt.Sprintf("unknown mode %q", req.Mode), nil)
		return
	}

	start := time.Now()
	res, err := s.manager.Evaluate(chi.URLParam(r, "formId"), req.Answers, mode)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, EvaluateResponse{
		States:         res.States,
		Messages:       res.Messages,
		Warnings:       res.Warnings,
		EvaluationTime: time.Since(start).String(),
	})
}

// Validate handler. A request body is validated as a draft of the form;
// without one the stored form is checked.
func (s *Server) handleValidate(w http.ResponseWriter, r *http.Request) {
	formID := chi.URLParam(r, "formId")

	schema, err := decodeSchema(r)
	switch {
	case errors.Is(err, errEmptyBody):
		schema, err = s.manager.GetForm(formID)
		if err != nil {
			respondServiceError(w, err)
			return
		}
	case err != nil:
		respondBodyError(w, err)
		return
	default:
		schema.ID = formID
	}

	resp := ValidateResponse{Valid: true, Errors: []*formmanager.ValidationError{}}
	if err := s.manager.Validate(schema); err != nil {
		problems := formmanager.Problems(err)
		if problems == nil {
			problems = []*formmanager.ValidationError{{Reason: err.Error()}}
		}
		resp.Valid, resp.Errors = false, problems
	}
	respondJSON(w, http.StatusOK, resp)
}

// Start session handler
func (s *Server) handleStartSession(w http.ResponseWriter, r *http.Request) {
	view, err := s.sessions.Start(r.Context(), chi.URLParam(r, "formId"))
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, view)
}

// Get session handler
func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	s.respondView(w)(s.sessions.View(r.Context(), chi.URLParam(r, "sessionId")))
}

// Delete session handler
func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	if err := s.sessions.Delete(r.Context(), chi.URLParam(r, "sessionId")); err != nil {
		respondServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Set answer handler
func (s *Server) handleSetAnswer(w http.ResponseWriter, r *http.Request) {
	var req SetAnswerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondBodyError(w, err)
		return
	}

	s.respondView(w)(s.sessions.SetAnswer(r.Context(), chi.URLParam(r, "sessionId"), chi.URLParam(r, "fieldId"), req.Value))
}

func (s *Server) handleNext(w http.ResponseWriter, r *http.Request) {
	s.respondView(w)(s.sessions.Next(r.Context(), chi.URLParam(r, "sessionId")))
}

func (s *Server) handlePrev(w http.ResponseWriter, r *http.Request) {
	s.respondView(w)(s.sessions.Prev(r.Context(), chi.URLParam(r, "sessionId")))
}

func (s *Server) handleGoTo(w http.ResponseWriter, r *http.Request) {
	step, err := strconv.Atoi(chi.URLParam(r, "step"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "step must be an integer", err)
		return
	}
	s.respondView(w)(s.sessions.GoTo(r.Context(), chi.URLParam(r, "sessionId"), step))
}

// Submit handler
func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	sub, err := s.sessions.Submit(r.Context(), chi.URLParam(r, "sessionId"))
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, sub)
}

func (s *Server) respondView(w http.ResponseWriter) func(*session.View, error) {
	return func(view *session.View, err error) {
		if err != nil {
			respondServiceError(w, err)
			return
		}
		respondJSON(w, http.StatusOK, view)
	}
}

var errEmptyBody = errors.New("request body is empty")

func decodeSchema(r *http.Request) (*rules.Schema, error) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read body: %w", err)
	}
	if len(body) == 0 {
		return nil, errEmptyBody
	}
	return rules.ParseSchema(body)
}

// respondBodyError answers 413 when the body hit the size limit and 400 otherwise
func respondBodyError(w http.ResponseWriter, err error) {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		respondError(w, http.StatusRequestEntityTooLarge, "request body too large", err)
		return
	}
	respondError(w, http.StatusBadRequest, "invalid request body", err)
}

// Helper functions
func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string, err error) {
	response := ErrorResponse{Error: message}
	if err != nil {
		response.Details = err.Error()
	}
	respondJSON(w, status, response)
}

// respondServiceError maps domain errors to HTTP statuses
func respondServiceError(w http.ResponseWriter, err error) {
	var incomplete *session.IncompleteError
	if errors.As(err, &incomplete) {
		respondJSON(w, http.StatusUnprocessableEntity, ErrorResponse{
			Error:   session.ErrStepIncomplete.Error(),
			Missing: incomplete.Missing,
		})
		return
	}

	if problems := formmanager.Problems(err); problems != nil {
		respondJSON(w, http.StatusUnprocessableEntity, ErrorResponse{
			Error:    "form schema is invalid",
			Problems: problems,
		})
		return
	}

	switch {
	case errors.Is(err, rules.ErrSchemaNotFound):
		respondError(w, http.StatusNotFound, "form not found", err)
	case errors.Is(err, session.ErrSessionNotFound):
		respondError(w, http.StatusNotFound, "session not found", err)
	case errors.Is(err, session.ErrUnknownField):
		respondError(w, http.StatusNotFound, "field not found", err)
	case errors.Is(err, rules.ErrSchemaExists),
		errors.Is(err, session.ErrStaleRevision),
		errors.Is(err, session.ErrSubmitted),
		errors.Is(err, session.ErrFieldDisabled),
		errors.Is(err, session.ErrFieldHidden),
		errors.Is(err, session.ErrNotLastStep):
		respondError(w, http.StatusConflict, err.Error(), nil)
	default:
		logger.Error("request failed", "error", err)
		respondError(w, http.StatusInternalServerError, "internal error", nil)
	}
}

func main() {
	configPath := flag.String("config", os.Getenv("FORMRULES_CONFIG"), "Path to YAML configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatal("failed to load configuration", "error", err)
	}
	if err := logger.Configure(cfg.Logging.Level, cfg.Logging.SampleRate); err != nil {
		logger.Fatal("invalid logging configuration", "error", err)
	}

	server, err := NewServer(cfg)
	if err != nil {
		logger.Fatal("failed to create server", "error", err)
	}

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

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutting down server")
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error("server shutdown error", "error", err)
	}
	if err := server.Close(); err != nil {
		logger.Error("failed to close stores", "error", err)
	}

	logger.Info("server stopped")
	if err := logger.Shutdown(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "failed to flush logs: %v\n", err)
	}
}
