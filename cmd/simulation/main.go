package main

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gin-gonic/gin"
	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/ksred/tradewarden/internal/auth"
	"github.com/ksred/tradewarden/internal/database"
	"github.com/ksred/tradewarden/internal/engine"
	"github.com/ksred/tradewarden/internal/exchange"
	"github.com/ksred/tradewarden/internal/governor"
	"github.com/ksred/tradewarden/internal/types"
	"github.com/ksred/tradewarden/pkg/middleware"
)

const (
	numWorkers    = 4
	ordersPerUser = 30
	serverAddress = "http://localhost:8080"
	jwtSecret     = "simulation-secret-key"
	apiKey        = "sim-api-key"
	apiSecret     = "sim-api-secret"
)

var (
	symbols = []string{"BTC-USD", "ETH-USD", "SOL-USD", "ADA-USD"}
	sides   = []string{"BUY", "SELL"}

	errTransport = fmt.Errorf("connection reset by peer")
	errExchange  = fmt.Errorf("exchange unavailable: 503")
	errBalance   = fmt.Errorf("insufficient balance for order")
)

// init configures the logger for the simulation with pretty printing and timestamp
func init() {
	output := zerolog.ConsoleWriter{
		Out:        os.Stdout,
		TimeFormat: time.RFC3339,
	}
	log.Logger = zerolog.New(output).With().Timestamp().Logger()
}

// apiEnvelope mirrors the server's standard response wrapper.
type apiEnvelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// simulationClient drives the execution API over HTTP.
type simulationClient struct {
	client *resty.Client
}

func newSimulationClient() (*simulationClient, error) {
	sc := &simulationClient{
		client: resty.New().
			SetBaseURL(serverAddress).
			SetTimeout(10 * time.Second),
	}

	var env apiEnvelope
	resp, err := sc.client.R().
		SetBody(auth.Credentials{APIKey: apiKey, APISecret: apiSecret}).
		SetResult(&env).
		Post("/api/v1/auth/token")
	if err != nil {
		return nil, fmt.Errorf("authenticate: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("authenticate: status %d", resp.StatusCode())
	}

	var token auth.TokenResponse
	if err := json.Unmarshal(env.Data, &token); err != nil {
		return nil, err
	}
	sc.client.SetAuthToken(token.Token)
	return sc, nil
}

func (sc *simulationClient) post(path string, body, out interface{}) error {
	var env apiEnvelope
	req := sc.client.R().SetResult(&env)
	if body != nil {
		req.SetBody(body)
	}
	resp, err := req.Post(path)
	if err != nil {
		return err
	}
	if resp.IsError() {
		if env.Error != nil {
			return fmt.Errorf("%s: %s", env.Error.Code, env.Error.Message)
		}
		return fmt.Errorf("%s: status %d", path, resp.StatusCode())
	}
	if out != nil {
		return json.Unmarshal(env.Data, out)
	}
	return nil
}

func (sc *simulationClient) createExecution(req engine.CreateExecutionRequest) (*types.ExecutionClaim, error) {
	var claim types.ExecutionClaim
	if err := sc.post("/api/v1/executions", req, &claim); err != nil {
		return nil, err
	}
	return &claim, nil
}

func (sc *simulationClient) submitExecution(executionID string) (*types.SubmitResult, error) {
	var result types.SubmitResult
	if err := sc.post("/api/v1/executions/"+executionID+"/submit", nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (sc *simulationClient) checkAndPromote(userID string) (*governor.PromotionResult, error) {
	var result governor.PromotionResult
	if err := sc.post("/api/v1/internal/governor/"+userID, nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// submitUntilTerminal retries submission with exponential backoff until the
// claim reaches a terminal result code.
func (sc *simulationClient) submitUntilTerminal(executionID string) (*types.SubmitResult, error) {
	backoffCfg := backoff.NewExponentialBackOff()
	backoffCfg.InitialInterval = 50 * time.Millisecond
	backoffCfg.MaxInterval = 2 * time.Second

	deadline := time.Now().Add(30 * time.Second)
	for {
		result, err := sc.submitExecution(executionID)
		if err != nil {
			return nil, err
		}
		if result.Code != types.ResultSubmittingInProgress && result.Code != types.ResultError {
			return result, nil
		}
		if time.Now().After(deadline) {
			return result, nil
		}

		sleep := backoffCfg.NextBackOff()
		if sleep == backoff.Stop {
			sleep = 2 * time.Second
		}
		time.Sleep(sleep)
	}
}

// runWorker drives one user's orders through the full lifecycle, injecting
// the three failure modes the engine has to absorb.
func runWorker(workerID int, mock *exchange.MockExchange, sc *simulationClient, results chan<- string) {
	for i := 0; i < ordersPerUser; i++ {
		req := engine.CreateExecutionRequest{
			ExecutionID: uuid.New().String(),
			Symbol:      symbols[rand.Intn(len(symbols))],
			Side:        sides[rand.Intn(len(sides))],
			OrderType:   "LIMIT",
			Quantity:    decimal.NewFromFloat(float64(rand.Intn(5) + 1)),
			Price:       decimal.NewFromFloat(float64(rand.Intn(15) + 5)),
		}

		claim, err := sc.createExecution(req)
		if err != nil {
			log.Error().Err(err).Int("worker_id", workerID).Msg("Failed to create execution")
			results <- "create_failed"
			continue
		}

		// Inject failures: response dropped after acceptance, plain
		// transient rejection, or authoritative rejection.
		switch roll := rand.Float64(); {
		case roll < 0.15:
			mock.FailNext(errTransport, true)
		case roll < 0.25:
			mock.FailNext(errExchange, false)
		case roll < 0.30:
			mock.FailNext(errBalance, false)
		}

		result, err := sc.submitUntilTerminal(claim.ExecutionID)
		if err != nil {
			log.Error().Err(err).Int("worker_id", workerID).Msg("Failed to submit execution")
			results <- "submit_failed"
			continue
		}

		log.Info().
			Int("worker_id", workerID).
			Str("execution_id", claim.ExecutionID).
			Str("code", result.Code).
			Str("status", result.Status).
			Str("exchange_order_id", result.ExchangeOrderID).
			Msg("Execution finished")
		results <- result.Code

		time.Sleep(time.Duration(rand.Intn(200)) * time.Millisecond)
	}
}

func main() {
	mock := exchange.NewMockExchange()
	mock.MinLatency = 5 * time.Millisecond
	mock.MaxLatency = 40 * time.Millisecond

	go func() {
		if err := startServer(mock); err != nil {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()
	time.Sleep(500 * time.Millisecond)

	sc, err := newSimulationClient()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to authenticate")
	}

	start := time.Now()
	results := make(chan string, numWorkers*ordersPerUser)

	var wg sync.WaitGroup
	for w := 0; w < numWorkers; w++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			runWorker(id, mock, sc, results)
		}(w)
	}
	wg.Wait()
	close(results)

	counts := make(map[string]int)
	total := 0
	for code := range results {
		counts[code]++
		total++
	}

	promotion, err := sc.checkAndPromote(apiKey)
	if err != nil {
		log.Error().Err(err).Msg("Governor check failed")
	}

	printSummary(counts, total, promotion, time.Since(start))
}

func printSummary(counts map[string]int, total int, promotion *governor.PromotionResult, duration time.Duration) {
	fmt.Println("\n" + strings.Repeat("=", 80))
	fmt.Printf(`
Execution Simulation Summary
----------------------------
Total Executions: %d
Duration:         %v

Result Distribution
-------------------
`, total, duration.Round(time.Millisecond))

	for code, count := range counts {
		barLength := count * 20 / total
		bar := strings.Repeat("#", barLength)
		fmt.Printf("%-24s: %s (%d)\n", code, bar, count)
	}

	if promotion != nil {
		fmt.Printf(`
Confidence Governor
-------------------
Level:         %s
Promoted:      %v
Executions:    %d
Success rate:  %.2f%%
Recovery rate: %.2f%%
`, promotion.FromLevel, promotion.Promoted,
			promotion.Metrics.TotalExecutions,
			promotion.Metrics.SuccessRate*100,
			promotion.Metrics.RecoveryRate*100)
		if promotion.Reason != "" {
			fmt.Printf("Reason:        %s\n", promotion.Reason)
		}
	}

	fmt.Println("\n" + strings.Repeat("=", 80))
}

// startServer runs an in-process API server against the given mock exchange.
// Short recovery bounds keep the simulation quick.
func startServer(mock *exchange.MockExchange) error {
	db, err := database.NewDatabase("simulation.db")
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}

	authService := auth.NewService(jwtSecret)
	authService.RegisterAPICredentials(apiKey, apiSecret)

	execEngine := engine.NewEngine(db, mock, engine.Config{
		SubmitTTL:            2 * time.Second,
		ReconcileMaxAttempts: 12,
		NotFoundGrace:        0,
	})
	sweeper := engine.NewSweeper(execEngine, 5*time.Second, 2*time.Second)
	governorService := governor.NewService(db)

	go sweeper.Start(context.Background())

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()

	authHandlers := auth.NewGinHandlers(authService)
	engineHandlers := engine.NewGinHandlers(execEngine, sweeper, governorService, nil)
	governorHandlers := governor.NewGinHandlers(governorService)

	setupRoutes(router, authHandlers, engineHandlers, governorHandlers)

	return router.Run(":8080")
}

// setupRoutes configures the endpoints used by the simulation, with the
// same auth middleware the real server applies.
func setupRoutes(
	router *gin.Engine,
	authHandlers *auth.GinHandlers,
	engineHandlers *engine.GinHandlers,
	governorHandlers *governor.GinHandlers,
) {
	v1 := router.Group("/api/v1")
	{
		authGroup := v1.Group("/auth")
		{
			authGroup.POST("/token", authHandlers.GenerateTokenHandler())
		}

		executions := v1.Group("/executions")
		executions.Use(middleware.JWTAuth(jwtSecret))
		{
			executions.POST("", engineHandlers.CreateExecutionHandler())
			executions.POST("/:execution_id/submit", engineHandlers.SubmitExecutionHandler())
			executions.GET("/:execution_id", engineHandlers.GetExecutionHandler())
		}

		policy := v1.Group("/policy")
		policy.Use(middleware.JWTAuth(jwtSecret))
		{
			policy.GET("", governorHandlers.GetPolicyHandler())
		}

		internal := v1.Group("/internal")
		internal.Use(middleware.InternalAuth(jwtSecret))
		{
			internal.POST("/reconcile/:execution_id", engineHandlers.ReconcileHandler())
			internal.POST("/sweep", engineHandlers.SweepHandler())
			internal.POST("/governor/:user_id", governorHandlers.CheckAndPromoteHandler())
		}
	}
}
