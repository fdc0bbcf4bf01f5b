package http

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ritwikmohanty/aegis-audit-sub001/internal/config"
	"github.com/ritwikmohanty/aegis-audit-sub001/internal/domain"
	"github.com/ritwikmohanty/aegis-audit-sub001/internal/infra/artifacts"
	"github.com/ritwikmohanty/aegis-audit-sub001/internal/infra/contracts"
	"github.com/ritwikmohanty/aegis-audit-sub001/internal/infra/db"
	"github.com/ritwikmohanty/aegis-audit-sub001/internal/infra/events"
	"github.com/ritwikmohanty/aegis-audit-sub001/internal/infra/ledger/ledgermem"
	"github.com/ritwikmohanty/aegis-audit-sub001/internal/infra/ledger/ledgerpg"
	"github.com/ritwikmohanty/aegis-audit-sub001/internal/infra/policy"
	"github.com/ritwikmohanty/aegis-audit-sub001/internal/infra/ratelimit"
	"github.com/ritwikmohanty/aegis-audit-sub001/internal/infra/runmem"
	"github.com/ritwikmohanty/aegis-audit-sub001/internal/infra/toolrun"
	"github.com/ritwikmohanty/aegis-audit-sub001/internal/usecase"
)

type Server struct {
	cfg    config.Config
	r      *gin.Engine
	logger *slog.Logger
	mode   string

	orc       *usecase.Orchestrator
	trail     *usecase.TrailService
	runs      usecase.RunRepository
	auditLog  usecase.AuditLog
	artifacts usecase.ArtifactStore
	bus       *events.Bus

	apiKey  string
	initErr error

	rateLimiter         domain.RateLimiter
	rateLimitRequests   int
	rateLimitWindow     time.Duration
	rateLimitFailClosed bool
}

// NewServer wires the daemon from config: Postgres-backed run store and
// ledger when a DSN is configured, in-memory otherwise.
func NewServer(cfg config.Config, store *db.Store) *Server {
	r := gin.New()
	r.Use(gin.Recovery())

	s := &Server{cfg: cfg, r: r, logger: slog.Default()}
	s.initDeps(store)
	s.routes()
	return s
}

type ServerDeps struct {
	Orchestrator *usecase.Orchestrator
	Trail        *usecase.TrailService
	Runs         usecase.RunRepository
	Log          usecase.AuditLog
	Artifacts    usecase.ArtifactStore
	Bus          *events.Bus
	APIKey       string
	RateLimiter  domain.RateLimiter
	Logger       *slog.Logger
}

func NewServerWithDeps(cfg config.Config, deps ServerDeps) *Server {
	r := gin.New()
	r.Use(gin.Recovery())

	s := &Server{
		cfg:       cfg,
		r:         r,
		logger:    deps.Logger,
		mode:      "memory",
		orc:       deps.Orchestrator,
		trail:     deps.Trail,
		runs:      deps.Runs,
		auditLog:  deps.Log,
		artifacts: deps.Artifacts,
		bus:       deps.Bus,
		apiKey:    deps.APIKey,
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	s.initRateLimit(deps.RateLimiter)
	s.routes()
	return s
}

func (s *Server) initDeps(store *db.Store) {
	s.apiKey = s.cfg.APIKey
	s.mode = "memory"

	var runs usecase.RunRepository
	if store != nil && store.DB != nil {
		if err := store.AutoMigrate(); err != nil {
			s.initErr = fmt.Errorf("migrate run store: %w", err)
			return
		}
		runs = db.NewRunRepository(store)
		s.mode = "postgres"
	} else {
		runs = runmem.New()
	}

	var auditLog usecase.AuditLog
	if s.cfg.PostgresDSN != "" {
		pool, err := pgxpool.New(context.Background(), s.cfg.PostgresDSN)
		if err != nil {
			s.initErr = fmt.Errorf("ledger pool: %w", err)
			return
		}
		ledger := ledgerpg.New(pool)
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := ledger.EnsureSchema(ctx); err != nil {
			s.initErr = fmt.Errorf("ledger schema: %w", err)
			return
		}
		auditLog = ledger
	} else {
		auditLog = ledgermem.New()
	}

	var artifactStore usecase.ArtifactStore
	var err error
	if s.cfg.ArtifactBackend == "minio" {
		artifactStore, err = artifacts.NewMinioStore(artifacts.MinioOptions{
			Endpoint:  s.cfg.MinioEndpoint,
			AccessKey: s.cfg.MinioAccessKey,
			SecretKey: s.cfg.MinioSecretKey,
			Region:    s.cfg.MinioRegion,
			Bucket:    s.cfg.MinioBucket,
			UseSSL:    s.cfg.MinioUseSSL,
		})
	} else {
		artifactStore, err = artifacts.NewFSStore(s.cfg.ArtifactDir)
	}
	if err != nil {
		s.initErr = fmt.Errorf("artifact store: %w", err)
		return
	}

	stages := config.DefaultStages()
	if s.cfg.StagesFile != "" {
		stages, err = config.LoadStages(s.cfg.StagesFile)
		if err != nil {
			s.initErr = fmt.Errorf("load stages: %w", err)
			return
		}
	}

	var admission usecase.AdmissionEngine
	if s.cfg.PolicyPath != "" {
		engine, err := policy.NewEngineFromPath(context.Background(), s.cfg.PolicyPath)
		if err != nil {
			s.initErr = fmt.Errorf("admission policy: %w", err)
			return
		}
		admission = engine
	}

	bus := events.NewBus()
	orc, err := usecase.NewOrchestrator(usecase.OrchestratorConfig{
		Runs:             runs,
		Log:              auditLog,
		Invoker:          toolrun.New(s.cfg.ToolTimeout(), s.cfg.MaxStdoutBytes()),
		Artifacts:        artifactStore,
		Resolver:         contracts.NewResolver(s.cfg.ContractsDir, s.cfg.MaxContractBytes()),
		Admission:        admission,
		Events:           bus,
		Logger:           s.logger,
		Stages:           stages,
		AnalysisTopic:    s.cfg.TopicAnalysis,
		RemediationTopic: s.cfg.TopicRemediation,
		WorkDir:          s.cfg.WorkDir,
		StoreTimeout:     s.cfg.StoreTimeout(),
		LedgerTimeout:    s.cfg.LedgerTimeout(),
	})
	if err != nil {
		s.initErr = err
		return
	}

	s.runs = runs
	s.auditLog = auditLog
	s.artifacts = artifactStore
	s.bus = bus
	s.orc = orc
	s.trail = &usecase.TrailService{
		Runs:             runs,
		Log:              auditLog,
		RemediationTopic: s.cfg.TopicRemediation,
	}
	s.initRateLimit(nil)
}

func (s *Server) initRateLimit(override domain.RateLimiter) {
	if override != nil {
		s.rateLimiter = override
	}
	if s.rateLimiter == nil && s.cfg.RateLimitRequests > 0 {
		if s.cfg.RedisAddr != "" {
			if limiter, err := ratelimit.NewRedisLimiter(s.cfg.RedisAddr, s.cfg.RedisPassword, s.cfg.RedisDB, nil); err == nil {
				s.rateLimiter = limiter
			}
		}
		if s.rateLimiter == nil {
			s.rateLimiter = ratelimit.NewMemoryLimiter(ratelimit.MemoryLimiterConfig{
				MaxKeys: s.cfg.RateLimitMaxKeys,
			})
		}
	}
	s.rateLimitRequests = s.cfg.RateLimitRequests
	if s.cfg.RateLimitWindowSeconds > 0 {
		s.rateLimitWindow = time.Duration(s.cfg.RateLimitWindowSeconds) * time.Second
	}
	s.rateLimitFailClosed = s.cfg.RateLimitFailClosed
}

func (s *Server) routes() {
	s.r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "mode": s.mode})
	})

	v1 := s.r.Group("/v1")
	{
		v1.POST("/runs", s.handleSubmitRun)
		v1.GET("/runs", s.handleListRuns)
		v1.GET("/runs/:run_id", s.handleGetRun)
		v1.POST("/runs/:run_id/cancel", s.handleCancelRun)
		v1.GET("/runs/:run_id/trail", s.handleRunTrail)
		v1.GET("/runs/:run_id/verify", s.handleVerifyRun)
		v1.GET("/runs/:run_id/artifacts/:stage", s.handleGetArtifact)
		v1.GET("/runs/:run_id/stream", s.handleStreamRun)

		v1.GET("/topics/:topic/entries", s.handleTopicEntries)
		v1.GET("/topics/:topic/checkpoint", s.handleTopicCheckpoint)
		v1.GET("/topics/:topic/proof", s.handleTopicProof)
		v1.GET("/topics/:topic/verify", s.handleTopicVerify)
	}

	s.r.NoRoute(func(c *gin.Context) {
		writeErrorCode(c, http.StatusNotFound, "NOT_FOUND", "route not found")
	})
}

func (s *Server) Run() error {
	if s.initErr != nil {
		return s.initErr
	}
	return s.r.Run(s.cfg.HTTPAddr)
}

// Handler exposes the router for httptest.
func (s *Server) Handler() http.Handler {
	return s.r
}

// Close releases the event bus so stream subscribers shut down.
func (s *Server) Close() {
	if s.bus != nil {
		s.bus.Close()
	}
}
