package api

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"health-diary/backend/internal/advice"
	"health-diary/backend/internal/ai"
	"health-diary/backend/internal/flow"
	"health-diary/backend/internal/followup"
	"health-diary/backend/internal/metrics"
	"health-diary/backend/internal/report"
	"health-diary/backend/internal/store"
	"health-diary/backend/internal/trend"
)

// Config defines server dependencies.
type Config struct {
	DBPath          string
	SilentDB        bool
	AllowedOrigins  []string
	CatalogPath     string
	Threshold       int
	MaxQuestions    int
	ContextTriggers bool
	SessionTTL      time.Duration
	Location        *time.Location
	Suggester       ai.Suggester
	AIRetries       int
	AIBackoff       time.Duration
	Metrics         *metrics.Metrics
}

// Server wires HTTP handlers with persistence, the rule engine and live report sessions.
type Server struct {
	db             *store.Database
	bank           *report.Bank
	engine         *followup.Engine
	evaluator      *meteredEvaluator
	advisor        *advice.Advisor
	tracker        *trend.Tracker
	sessions       *flow.Registry
	suggester      ai.Suggester
	aiRetries      int
	aiBackoff      time.Duration
	allowedOrigins []string
	location       *time.Location
	metrics        *metrics.Metrics
	notifier       *Notifier
}

const (
	defaultAIRetries = 3
	defaultAIBackoff = 500 * time.Millisecond
	aiMaxBackoff     = 5 * time.Second
)

// NewServer constructs the API server.
func NewServer(cfg Config) (*Server, error) {
	if cfg.DBPath == "" {
		return nil, errors.New("db path required")
	}

	catalog := followup.DefaultCatalog()
	if path := strings.TrimSpace(cfg.CatalogPath); path != "" {
		loaded, err := followup.LoadCatalog(path)
		if err != nil {
			return nil, fmt.Errorf("follow-up catalog: %w", err)
		}
		catalog = loaded
		logrus.WithFields(logrus.Fields{"path": path, "rules": len(loaded.Rules())}).Info("loaded follow-up catalog")
	}

	db, err := store.Open(cfg.DBPath, cfg.SilentDB)
	if err != nil {
		return nil, err
	}

	engine := followup.New(
		followup.WithCatalog(catalog),
		followup.WithThreshold(cfg.Threshold),
		followup.WithMaxQuestions(cfg.MaxQuestions),
		followup.WithContextTriggers(cfg.ContextTriggers),
	)

	loc := cfg.Location
	if loc == nil {
		loc = time.UTC
	}
	retries := cfg.AIRetries
	if retries <= 0 {
		retries = defaultAIRetries
	}
	backoff := cfg.AIBackoff
	if backoff <= 0 {
		backoff = defaultAIBackoff
	}

	suggester := cfg.Suggester
	if suggester != nil && !suggester.Enabled() {
		suggester = nil
	}
	if suggester == nil {
		logrus.Info("AI follow-up suggestions disabled")
	}

	s := &Server{
		db:             db,
		bank:           report.DefaultBank(),
		engine:         engine,
		evaluator:      &meteredEvaluator{engine: engine, metrics: cfg.Metrics},
		advisor:        advice.New(),
		tracker:        trend.NewTracker(db),
		suggester:      suggester,
		aiRetries:      retries,
		aiBackoff:      backoff,
		allowedOrigins: cfg.AllowedOrigins,
		location:       loc,
		metrics:        cfg.Metrics,
		notifier:       NewNotifier(),
	}
	s.sessions = flow.NewRegistry(s.buildController, cfg.SessionTTL)

	logrus.WithFields(logrus.Fields{
		"threshold":        engine.Threshold(),
		"max_questions":    engine.MaxQuestions(),
		"context_triggers": engine.ContextTriggers(),
		"ai":               suggester != nil,
	}).Info("follow-up engine ready")
	return s, nil
}

// DB exposes the store for background jobs.
func (s *Server) DB() *store.Database { return s.db }

// Sessions exposes the live report sessions for background jobs.
func (s *Server) Sessions() *flow.Registry { return s.sessions }

// Close releases the database.
func (s *Server) Close() error { return s.db.Close() }

// Router configures gin routes.
func (s *Server) Router() (*gin.Engine, error) {
	r := gin.Default()

	corsCfg := cors.DefaultConfig()
	corsCfg.AllowCredentials = true
	if len(s.allowedOrigins) == 0 {
		corsCfg.AllowAllOrigins = true
		corsCfg.AllowCredentials = false
	} else {
		corsCfg.AllowOrigins = s.allowedOrigins
	}
	corsCfg.AllowHeaders = []string{"Origin", "Content-Type", "Accept"}
	corsCfg.AllowMethods = []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}
	r.Use(cors.New(corsCfg))

	r.GET("/api/healthz", s.handleHealth)
	r.GET("/api/config", s.handleConfig)
	r.GET("/metrics", gin.WrapH(s.metrics.Handler()))

	api := r.Group("/api")
	{
		api.GET("/questions", s.handleQuestions)
		api.POST("/followups/evaluate", s.handleEvaluate)
		api.POST("/followups/suggest", s.handleSuggest)

		api.POST("/sessions", s.handleCreateSession)
		api.GET("/sessions/stream", s.handleStream)
		api.GET("/sessions/:id", s.handleGetSession)
		api.DELETE("/sessions/:id", s.handleDeleteSession)
		api.PUT("/sessions/:id/answers/:key", s.handleAnswer)
		api.POST("/sessions/:id/advance", s.handleAdvance)
		api.POST("/sessions/:id/submit", s.handleSubmit)

		api.GET("/entries", s.handleListEntries)
		api.GET("/entries/:date", s.handleGetEntry)
		api.DELETE("/entries/:date", s.handleDeleteEntry)
		api.GET("/entries/:date/advice", s.handleGetAdvice)
		api.POST("/entries/:date/advice", s.handleGenerateAdvice)

		api.GET("/insights", s.handleInsights)

		api.GET("/trends", s.handleTrends)
		api.POST("/trends/refresh", s.handleRefreshTrends)
	}

	return r, nil
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) handleConfig(c *gin.Context) {
	entries, err := s.db.CountEntries()
	if err != nil {
		s.renderError(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusOK, ConfigResponse{
		Threshold:       s.engine.Threshold(),
		MaxQuestions:    s.engine.MaxQuestions(),
		ContextTriggers: s.engine.ContextTriggers(),
		AIEnabled:       s.suggester != nil,
		Timezone:        s.location.String(),
		Entries:         entries,
		LiveSessions:    s.sessions.Len(),
	})
}

func (s *Server) handleQuestions(c *gin.Context) {
	c.JSON(http.StatusOK, QuestionsResponse{
		Questions: s.bank.Questions(),
		FollowUps: s.engine.Catalog().Questions(),
	})
}

func (s *Server) renderError(c *gin.Context, status int, err error) {
	c.JSON(status, gin.H{"error": err.Error()})
}

func parseIntQuery(c *gin.Context, name string, fallback, max int) (int, error) {
	raw := strings.TrimSpace(c.Query(name))
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return 0, fmt.Errorf("invalid %s: %s", name, raw)
	}
	if max > 0 && v > max {
		v = max
	}
	return v, nil
}
