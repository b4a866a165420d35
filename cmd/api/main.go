package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"go.uber.org/zap"

	"github.com/govmatrix/backend/internal/agent"
	"github.com/govmatrix/backend/internal/api/handlers"
	"github.com/govmatrix/backend/internal/cache/redis"
	"github.com/govmatrix/backend/internal/metrics"
	"github.com/govmatrix/backend/internal/middleware/auth"
	"github.com/govmatrix/backend/internal/middleware/ratelimit"
	"github.com/govmatrix/backend/internal/middleware/security"
	"github.com/govmatrix/backend/internal/pipeline"
	"github.com/govmatrix/backend/internal/storage/sqlite"
	"github.com/govmatrix/backend/pkg/config"
	appLogger "github.com/govmatrix/backend/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	err = appLogger.Init(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.OutputPath)
	if err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer appLogger.Sync()

	appLogger.Info("Starting GovMatrix API Server")

	metrics.Init()

	sqliteClient, err := sqlite.NewClient(cfg.SQLite.Path)
	if err != nil {
		appLogger.Fatal("Failed to create SQLite client", zap.Error(err))
	}
	defer sqliteClient.Close()

	err = sqliteClient.InitSchema()
	if err != nil {
		appLogger.Fatal("Failed to initialize schema", zap.Error(err))
	}

	// Score caching is optional; the API serves straight from SQLite
	// when Redis is disabled or unreachable at startup.
	var cache *redis.Client
	if cfg.Redis.Enabled {
		cache, err = redis.NewClient(
			cfg.Redis.Host,
			cfg.Redis.Port,
			cfg.Redis.Password,
			cfg.Redis.DB,
			time.Duration(cfg.Redis.TTLSec)*time.Second,
		)
		if err != nil {
			appLogger.Warn("Redis unavailable, score caching disabled", zap.Error(err))
			cache = nil
		} else {
			defer cache.Close()
		}
	}

	agentClient := agent.NewClient(
		cfg.Agent.BaseURL,
		time.Duration(cfg.Agent.RiskTimeoutSec)*time.Second,
		time.Duration(cfg.Agent.ControlsTimeoutSec)*time.Second,
		time.Duration(cfg.Agent.GovernanceTimeoutSec)*time.Second,
	)

	orchestrator := pipeline.NewPipeline(sqliteClient, agentClient, cache)

	app := fiber.New(fiber.Config{
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		BodyLimit:    cfg.Server.BodyLimit,
	})

	app.Use(recover.New())
	app.Use(logger.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowHeaders: "Origin, Content-Type, Accept, Authorization, X-User-ID",
		AllowMethods: "GET, POST, PUT, DELETE, OPTIONS",
	}))
	app.Use(security.Headers(security.HeadersConfig{}))

	limiter := ratelimit.New(cfg.RateLimit.MaxRequestsPerMinute)
	defer limiter.Stop()

	questionnaireHandler := handlers.NewQuestionnaireHandler(orchestrator, sqliteClient)
	controlHandler := handlers.NewControlHandler(sqliteClient, orchestrator)
	governanceHandler := handlers.NewGovernanceHandler(sqliteClient, cache, orchestrator)
	riskHandler := handlers.NewRiskHandler(sqliteClient)

	api := app.Group("/api/v1")
	api.Use(limiter.Middleware())
	api.Use(auth.RequireUser())

	api.Post("/questionnaire/process", questionnaireHandler.ProcessQuestionnaire)
	api.Get("/questionnaire/status/:sessionId", questionnaireHandler.GetSessionStatus)
	api.Get("/questionnaire/questions", questionnaireHandler.ListQuestions)

	api.Put("/controls/:id", controlHandler.UpdateControl)
	api.Delete("/controls/:id", controlHandler.DeleteControl)
	api.Get("/controls/project/:projectId", controlHandler.ListControls)

	api.Get("/governance/statistics", governanceHandler.GetStatistics)
	api.Get("/governance/:projectId/scores", governanceHandler.GetScores)
	api.Get("/governance/:projectId/history", governanceHandler.GetScoreHistory)
	api.Post("/governance/:projectId/recalculate", governanceHandler.Recalculate)

	api.Get("/risks/statistics", riskHandler.GetStatistics)
	api.Get("/risks/project/:projectId", riskHandler.ListByProject)
	api.Delete("/risks/:id", riskHandler.DeleteRisk)

	app.Get("/metrics", metrics.MetricsHandler())

	app.Get("/api/v1/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status": "healthy",
			"time":   time.Now().Unix(),
		})
	})

	app.Get("/api/v1/ready", func(c *fiber.Ctx) error {
		if err := sqliteClient.Ping(); err != nil {
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
				"status": "not ready",
			})
		}
		return c.JSON(fiber.Map{
			"status": "ready",
		})
	})

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	appLogger.Info("Server starting", zap.String("address", addr))

	go func() {
		if err := app.Listen(addr); err != nil {
			appLogger.Fatal("Server failed to start", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	appLogger.Info("Server shutting down gracefully...")
	app.Shutdown()
	appLogger.Info("Server stopped")
}
