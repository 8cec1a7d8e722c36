package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kalendo/automation/action"
	"github.com/kalendo/automation/audit"
	"github.com/kalendo/automation/config"
	"github.com/kalendo/automation/engine"
	"github.com/kalendo/automation/entity"
	"github.com/kalendo/automation/internal/logger"
	"github.com/kalendo/automation/rule"
)

// Server hosts the automation engine's management surface and the inbound
// lifecycle hook. Every route maps 1:1 onto a pipeline or store operation.
type Server struct {
	cfg      config.Config
	db       *sql.DB // nil when running in-memory
	rules    rule.Store
	entities entity.Store
	actions  *action.Registry
	auditLog audit.Log
	engine   *engine.Engine
	registry *prometheus.Registry
	router   *chi.Mux
}

// NewServer wires stores, registry and engine. With a database URL the rule
// and audit stores are Postgres-backed; without one everything runs
// in-memory, which is how the test and demo deployments run.
func NewServer(cfg config.Config) (*Server, error) {
	s := &Server{cfg: cfg}

	entities := entity.NewInMemoryStore()
	s.entities = entities

	if cfg.DatabaseURL != "" {
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}
		if err := db.Ping(); err != nil {
			return nil, fmt.Errorf("failed to ping database: %w", err)
		}
		s.db = db
		s.rules = rule.NewPostgresStore(db)
		s.auditLog = audit.NewPostgresLog(db, cfg.AuditEntryCap)
		logger.Info("using postgres stores")
	} else {
		s.rules = rule.NewInMemoryStore()
		s.auditLog = audit.NewMemoryLog(cfg.AuditEntryCap)
		logger.Info("using in-memory stores")
	}

	s.actions = action.NewRegistry()
	if err := action.RegisterBuiltins(s.actions, s.entities); err != nil {
		return nil, fmt.Errorf("failed to register built-in actions: %w", err)
	}

	s.registry = prometheus.NewRegistry()
	s.registry.MustRegister(collectors.NewGoCollector())

	s.engine = engine.New(engine.Config{
		Rules:         s.rules,
		Cache:         rule.NewInMemoryCache(rule.CacheConfig{TTL: cfg.RuleCacheTTL}),
		Entities:      s.entities,
		Actions:       s.actions,
		Audit:         s.auditLog,
		Metrics:       engine.NewMetrics(s.registry),
		RetroCooldown: cfg.RetroCooldown,
		TickInterval:  cfg.TickInterval,
	})

	s.setupRoutes()
	return s, nil
}

func (s *Server) setupRoutes() {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Get("/api/v1/health", s.handleHealth)
	r.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))

	// Inbound lifecycle hook from the calendar CRUD service.
	r.Post("/api/v1/events/hook", s.handleLifecycleHook)

	r.Route("/api/v1/users/{userId}/rules", func(r chi.Router) {
		r.Get("/", s.handleListRules)
		r.Post("/", s.handleCreateRule)

		r.Route("/{ruleId}", func(r chi.Router) {
			r.Get("/", s.handleGetRule)
			r.Put("/", s.handleUpdateRule)
			r.Delete("/", s.handleDeleteRule)
			r.Post("/enable", s.handleSetEnabled(true))
			r.Post("/disable", s.handleSetEnabled(false))
			r.Post("/run", s.handleRunNow)
			r.Get("/audit", s.handleListAudit)
			r.Get("/audit/{entryId}", s.handleGetAuditEntry)
		})
	})

	s.router = r
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	if s.db != nil {
		if err := s.db.Ping(); err != nil {
			respondJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status": "unhealthy",
				"error":  err.Error(),
			})
			return
		}
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

// handleLifecycleHook delivers a lifecycle notification into the engine.
// The response is always 202: the originating CRUD operation has already
// committed, so nothing the pipeline does can fail this request.
func (s *Server) handleLifecycleHook(w http.ResponseWriter, r *http.Request) {
	var req LifecycleHookRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	transition := entity.Transition(req.Transition)
	switch transition {
	case entity.TransitionCreated, entity.TransitionUpdated, entity.TransitionDeleted:
	default:
		respondError(w, http.StatusBadRequest, fmt.Sprintf("unknown transition %q", req.Transition), nil)
		return
	}

	ev := eventFromBody(req.Event)
	at := req.Timestamp
	if at.IsZero() {
		at = time.Now()
	}

	// Mirror the snapshot into the local entity store so actions and
	// retroactive runs see current state.
	switch transition {
	case entity.TransitionDeleted:
		if mem, ok := s.entities.(*entity.InMemoryStore); ok {
			mem.Delete(ev.ID)
		}
	default:
		if mem, ok := s.entities.(*entity.InMemoryStore); ok {
			mem.Put(ev)
		}
	}

	// Non-blocking handoff: the hook returns before dispatch completes.
	go s.engine.OnLifecycleEvent(context.WithoutCancel(r.Context()), ev, transition, at)

	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleListRules(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userId")

	rules, err := s.rules.ListByOwner(userID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to list rules", err)
		return
	}

	responses := make([]RuleResponse, 0, len(rules))
	for _, rl := range rules {
		responses = append(responses, toRuleResponse(rl))
	}
	respondJSON(w, http.StatusOK, map[string]any{"rules": responses})
}

func (s *Server) handleCreateRule(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userId")

	var req CreateRuleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	enabled := true
	if req.Enabled != nil {
		enabled = *req.Enabled
	}

	rl := &rule.Rule{
		ID:         uuid.NewString(),
		OwnerID:    userID,
		Name:       req.Name,
		Trigger:    req.Trigger,
		Conditions: req.Conditions,
		Actions:    req.Actions,
		Enabled:    enabled,
	}

	if err := rule.Validate(rl, s.actions.Known); err != nil {
		respondError(w, http.StatusBadRequest, "rule validation failed", err)
		return
	}

	if err := s.rules.Add(rl); err != nil {
		respondError(w, http.StatusInternalServerError, "failed to create rule", err)
		return
	}
	s.engine.InvalidateRuleCache()

	respondJSON(w, http.StatusCreated, toRuleResponse(rl))
}

// ownedRule fetches the rule and enforces the ownership boundary: rules are
// only visible under their owner's path.
func (s *Server) ownedRule(w http.ResponseWriter, r *http.Request) (*rule.Rule, bool) {
	userID := chi.URLParam(r, "userId")
	ruleID := chi.URLParam(r, "ruleId")

	rl, err := s.rules.Get(ruleID)
	if err != nil || rl.OwnerID != userID {
		respondError(w, http.StatusNotFound, "rule not found", nil)
		return nil, false
	}
	return rl, true
}

func (s *Server) handleGetRule(w http.ResponseWriter, r *http.Request) {
	rl, ok := s.ownedRule(w, r)
	if !ok {
		return
	}
	respondJSON(w, http.StatusOK, toRuleResponse(rl))
}

func (s *Server) handleUpdateRule(w http.ResponseWriter, r *http.Request) {
	rl, ok := s.ownedRule(w, r)
	if !ok {
		return
	}

	var req UpdateRuleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	rl.Name = req.Name
	rl.Trigger = req.Trigger
	rl.Conditions = req.Conditions
	rl.Actions = req.Actions
	if req.Enabled != nil {
		rl.Enabled = *req.Enabled
	}

	if err := rule.Validate(rl, s.actions.Known); err != nil {
		respondError(w, http.StatusBadRequest, "rule validation failed", err)
		return
	}

	if err := s.rules.Update(rl); err != nil {
		respondError(w, http.StatusInternalServerError, "failed to update rule", err)
		return
	}
	s.engine.InvalidateRuleCache()

	respondJSON(w, http.StatusOK, toRuleResponse(rl))
}

func (s *Server) handleDeleteRule(w http.ResponseWriter, r *http.Request) {
	rl, ok := s.ownedRule(w, r)
	if !ok {
		return
	}

	if err := s.rules.Delete(rl.ID); err != nil {
		respondError(w, http.StatusInternalServerError, "failed to delete rule", err)
		return
	}
	if err := s.auditLog.DropRule(rl.ID); err != nil {
		logger.Warn("failed to drop audit entries for deleted rule", "rule_id", rl.ID, "error", err)
	}
	s.engine.InvalidateRuleCache()

	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSetEnabled(enabled bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rl, ok := s.ownedRule(w, r)
		if !ok {
			return
		}

		rl.Enabled = enabled
		if err := s.rules.Update(rl); err != nil {
			respondError(w, http.StatusInternalServerError, "failed to update rule", err)
			return
		}
		s.engine.InvalidateRuleCache()

		respondJSON(w, http.StatusOK, toRuleResponse(rl))
	}
}

func (s *Server) handleRunNow(w http.ResponseWriter, r *http.Request) {
	rl, ok := s.ownedRule(w, r)
	if !ok {
		return
	}

	var req RunNowRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondError(w, http.StatusBadRequest, "invalid request body", err)
			return
		}
	}

	window := entity.Window{}
	if req.From != nil {
		window.From = *req.From
	}
	if req.To != nil {
		window.To = *req.To
	}

	summary, err := s.engine.RunNow(r.Context(), rl.ID, window)
	if err != nil {
		switch {
		case errors.Is(err, engine.ErrRateLimited):
			respondError(w, http.StatusTooManyRequests, "retroactive run rate limited", err)
		case errors.Is(err, engine.ErrRuleDisabled):
			respondError(w, http.StatusConflict, "rule is disabled", err)
		default:
			respondError(w, http.StatusInternalServerError, "retroactive run failed", err)
		}
		return
	}

	respondJSON(w, http.StatusOK, summary)
}

func (s *Server) handleListAudit(w http.ResponseWriter, r *http.Request) {
	rl, ok := s.ownedRule(w, r)
	if !ok {
		return
	}

	page := queryInt(r, "page", 1)
	perPage := queryInt(r, "per_page", s.cfg.AuditPageSize)

	entries, total, err := s.auditLog.List(rl.ID, page, perPage)
	if err != nil {
		respondError(w, http.StatusBadRequest, "failed to list audit entries", err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"entries":  entries,
		"total":    total,
		"page":     page,
		"per_page": perPage,
	})
}

func (s *Server) handleGetAuditEntry(w http.ResponseWriter, r *http.Request) {
	rl, ok := s.ownedRule(w, r)
	if !ok {
		return
	}
	entryID := chi.URLParam(r, "entryId")

	entry, err := s.auditLog.Get(rl.ID, entryID)
	if err != nil {
		respondError(w, http.StatusNotFound, "audit entry not found", err)
		return
	}
	respondJSON(w, http.StatusOK, entry)
}

func eventFromBody(b EventBody) *entity.Event {
	return &entity.Event{
		ID:           b.ID,
		OwnerID:      b.OwnerID,
		CalendarID:   b.CalendarID,
		CalendarName: b.CalendarName,
		Title:        b.Title,
		Description:  b.Description,
		Location:     b.Location,
		Notes:        b.Notes,
		Color:        b.Color,
		Status:       b.Status,
		AllDay:       b.AllDay,
		Start:        b.Start,
		End:          b.End,
	}
}

func queryInt(r *http.Request, key string, fallback int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 1 {
		return fallback
	}
	return v
}

func respondJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logger.Error("failed to encode response", "error", err)
	}
}

func respondError(w http.ResponseWriter, status int, message string, err error) {
	if err != nil {
		message = fmt.Sprintf("%s: %v", message, err)
	}
	respondJSON(w, status, ErrorResponse{Error: message})
}

func main() {
	configPath := flag.String("config", "", "Path to YAML config file (optional)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatal("failed to load configuration", "error", err)
	}
	if level, err := logger.ParseLevel(cfg.LogLevel); err == nil {
		logger.SetLevel(level)
	}

	server, err := NewServer(cfg)
	if err != nil {
		logger.Fatal("failed to initialize server", "error", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go server.engine.Scheduler().Run(ctx)

	httpServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler: server,
	}

	go func() {
		logger.Info("automation server listening", "port", cfg.HTTPPort)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("http server failed", "error", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown failed", "error", err)
	}
	if server.db != nil {
		_ = server.db.Close()
	}
	_ = logger.Shutdown(shutdownCtx)
}
