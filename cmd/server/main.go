package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"

	"github.com/ksred/tradewarden/internal/auth"
	"github.com/ksred/tradewarden/internal/config"
	"github.com/ksred/tradewarden/internal/database"
	"github.com/ksred/tradewarden/internal/engine"
	"github.com/ksred/tradewarden/internal/exchange"
	"github.com/ksred/tradewarden/internal/governor"
	"github.com/ksred/tradewarden/pkg/middleware"

	"github.com/gin-gonic/gin"
)

// init configures the application logging based on environment settings
// In development mode, it enables pretty printing with timestamps
// Debug logging can be enabled via DEBUG environment variable
func init() {
	if os.Getenv("ENV") != "production" {
		output := zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: time.RFC3339,
		}
		zlog.Logger = zerolog.New(output).With().Timestamp().Logger()
	}

	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if os.Getenv("DEBUG") == "true" {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}
}

// main initializes and runs the execution API server with graceful shutdown
// support. It wires the exchange adapter, the submission engine, the sweeper
// and the confidence governor.
func main() {
	// .env is optional; real deployments set the environment directly
	_ = godotenv.Load()
	cfg := config.Load()

	db, err := database.NewDatabase(cfg.DatabasePath)
	if err != nil {
		zlog.Fatal().Err(err).Msg("Failed to initialize database")
	}

	// The trading client is injected here and nowhere else; there is no
	// package-level exchange singleton.
	var (
		trading    exchange.TradingClient
		marketData exchange.MarketDataClient
	)
	if cfg.ExchangeBaseURL != "" {
		trading = exchange.NewRESTClient(cfg.ExchangeBaseURL, cfg.ExchangeAPIKey, cfg.ExchangeAPISecret)
		marketData = exchange.NewMarketDataREST(cfg.ExchangeBaseURL)
	} else {
		zlog.Warn().Msg("EXCHANGE_BASE_URL not set, running against the mock exchange")
		trading = exchange.NewMockExchange()
	}

	router := gin.Default()

	authService := auth.NewService(cfg.JWTSecret)
	authHandlers := auth.NewGinHandlers(authService)
	authService.RegisterAPICredentials(cfg.APIKey, cfg.APISecret)

	execEngine := engine.NewEngine(db, trading, engine.Config{
		SubmitTTL:            cfg.SubmitTTL,
		ReconcileMaxAttempts: cfg.ReconcileMaxAttempts,
		NotFoundGrace:        cfg.NotFoundGrace,
	})
	sweeper := engine.NewSweeper(execEngine, cfg.SweepInterval, cfg.SweepStaleAge)

	governorService := governor.NewService(db)
	governorHandlers := governor.NewGinHandlers(governorService)

	engineHandlers := engine.NewGinHandlers(execEngine, sweeper, governorService, marketData)

	// Background schedulers
	schedulerCtx, schedulerCancel := context.WithCancel(context.Background())
	defer schedulerCancel()

	go sweeper.Start(schedulerCtx)
	go governorService.Start(schedulerCtx, cfg.GovernorInterval)

	router.Use(middleware.RateLimit())

	setupRoutes(router, cfg.JWTSecret, authHandlers, engineHandlers, governorHandlers)

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	// Graceful shutdown setup
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zlog.Fatal().Err(err).Msg("listen")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	zlog.Info().Msg("Shutting down server...")

	// Give outstanding operations 5 seconds to complete
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		zlog.Fatal().Err(err).Msg("Server forced to shutdown")
	}

	zlog.Info().Msg("Server exiting")
}

// setupRoutes configures all API endpoints and their handlers
// It groups routes by functionality and applies appropriate middleware:
// - Auth routes: Public endpoints for authentication
// - Execution routes: Protected by JWT authentication
// - Internal routes: Protected by internal network authentication
func setupRoutes(
	router *gin.Engine,
	jwtSecret string,
	authHandlers *auth.GinHandlers,
	engineHandlers *engine.GinHandlers,
	governorHandlers *governor.GinHandlers,
) {
	v1 := router.Group("/api/v1")
	{
		// Auth routes
		authGroup := v1.Group("/auth")
		{
			authGroup.POST("/token", authHandlers.GenerateTokenHandler())
		}

		// Execution routes
		executions := v1.Group("/executions")
		executions.Use(middleware.JWTAuth(jwtSecret))
		{
			executions.POST("", engineHandlers.CreateExecutionHandler())
			executions.POST("/:execution_id/submit", engineHandlers.SubmitExecutionHandler())
			executions.GET("/:execution_id", engineHandlers.GetExecutionHandler())
		}

		// Policy routes
		policy := v1.Group("/policy")
		policy.Use(middleware.JWTAuth(jwtSecret))
		{
			policy.GET("", governorHandlers.GetPolicyHandler())
		}

		// Internal routes (should be protected by internal network)
		internal := v1.Group("/internal")
		internal.Use(middleware.InternalAuth(jwtSecret))
		{
			internal.POST("/reconcile/:execution_id", engineHandlers.ReconcileHandler())
			internal.POST("/sweep", engineHandlers.SweepHandler())
			internal.POST("/governor/:user_id", governorHandlers.CheckAndPromoteHandler())
		}
	}
}
