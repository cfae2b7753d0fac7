package engine

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/ksred/tradewarden/internal/auth"
	"github.com/ksred/tradewarden/internal/exchange"
	"github.com/ksred/tradewarden/internal/types"
	"github.com/ksred/tradewarden/pkg/response"
	"github.com/shopspring/decimal"
)

// OrderLimiter supplies the per-user order-size ceiling maintained by the
// confidence governor. Proposals above the ceiling are rejected before a
// claim is created.
type OrderLimiter interface {
	OrderLimit(userID string) (decimal.Decimal, error)
}

// GinHandlers contains HTTP handlers for the execution endpoints. The
// market-data client is optional and read-only; it prices market orders for
// the limit check and can never place orders.
type GinHandlers struct {
	engine  *Engine
	sweeper *Sweeper
	limits  OrderLimiter
	prices  exchange.MarketDataClient
}

func NewGinHandlers(engine *Engine, sweeper *Sweeper, limits OrderLimiter, prices exchange.MarketDataClient) *GinHandlers {
	return &GinHandlers{
		engine:  engine,
		sweeper: sweeper,
		limits:  limits,
		prices:  prices,
	}
}

// CreateExecutionRequest carries one trade proposal. The execution id is
// caller-assigned; when omitted one is generated so simple callers still
// get idempotent retries by echoing it back.
type CreateExecutionRequest struct {
	ExecutionID string          `json:"execution_id"`
	Symbol      string          `json:"symbol" binding:"required"`
	Side        string          `json:"side" binding:"required,oneof=BUY SELL"`
	OrderType   string          `json:"order_type" binding:"required,oneof=MARKET LIMIT"`
	Quantity    decimal.Decimal `json:"quantity"`
	Price       decimal.Decimal `json:"price"`
}

// orderValue is the money at risk for limit checking: notional for priced
// orders. Market orders are priced off the ticker when a market-data client
// is available, otherwise the raw quantity is used as a floor.
func (h *GinHandlers) orderValue(c *gin.Context, req *CreateExecutionRequest) decimal.Decimal {
	if req.Price.IsPositive() {
		return req.Quantity.Mul(req.Price)
	}
	if h.prices != nil {
		if last, err := h.prices.Ticker(c.Request.Context(), req.Symbol); err == nil && last.IsPositive() {
			return req.Quantity.Mul(last)
		}
	}
	return req.Quantity
}

// CreateExecutionHandler handles POST requests to create execution claims.
// The claim starts in PENDING with its client order id already derived.
func (h *GinHandlers) CreateExecutionHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, exists := c.Get("claims")
		if !exists {
			response.Unauthorized(c, "Missing authentication claims")
			return
		}
		userID := auth.GetClientID(claims)
		if userID == "" {
			response.Unauthorized(c, "Invalid client ID in token")
			return
		}

		var req CreateExecutionRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, err.Error())
			return
		}
		if !req.Quantity.IsPositive() {
			response.BadRequest(c, "quantity must be positive")
			return
		}
		if req.OrderType == "LIMIT" && !req.Price.IsPositive() {
			response.BadRequest(c, "limit orders require a positive price")
			return
		}

		if h.limits != nil {
			limit, err := h.limits.OrderLimit(userID)
			if err != nil {
				response.InternalError(c, err.Error())
				return
			}
			if h.orderValue(c, &req).GreaterThan(limit) {
				response.BadRequest(c, "order value exceeds the confidence limit "+limit.String())
				return
			}
		}

		if req.ExecutionID == "" {
			req.ExecutionID = uuid.New().String()
		}

		claim := types.ExecutionClaim{
			ExecutionID: req.ExecutionID,
			UserID:      userID,
			Symbol:      req.Symbol,
			Side:        req.Side,
			OrderType:   req.OrderType,
			Quantity:    req.Quantity,
			Price:       req.Price,
		}
		if err := h.engine.DB().CreateClaim(&claim); err != nil {
			response.Handle(c, nil, err)
			return
		}

		response.Success(c, claim)
	}
}

// SubmitExecutionHandler handles POST requests to submit (or retry) a claim.
func (h *GinHandlers) SubmitExecutionHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, exists := c.Get("claims")
		if !exists {
			response.Unauthorized(c, "Missing authentication claims")
			return
		}
		userID := auth.GetClientID(claims)
		if userID == "" {
			response.Unauthorized(c, "Invalid client ID in token")
			return
		}

		executionID := c.Param("execution_id")
		if executionID == "" {
			response.BadRequest(c, "Execution ID is required")
			return
		}

		claim, err := h.engine.DB().GetClaim(executionID)
		if err != nil {
			response.InternalError(c, err.Error())
			return
		}
		if claim == nil || claim.UserID != userID {
			response.NotFound(c, "Execution not found")
			return
		}

		result, err := h.engine.SubmitOrRetry(c.Request.Context(), executionID, userID)
		if err != nil {
			response.InternalError(c, err.Error())
			return
		}

		response.Success(c, result)
	}
}

// GetExecutionHandler handles GET requests for a claim and its event trail.
func (h *GinHandlers) GetExecutionHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, exists := c.Get("claims")
		if !exists {
			response.Unauthorized(c, "Missing authentication claims")
			return
		}
		userID := auth.GetClientID(claims)

		executionID := c.Param("execution_id")
		claim, err := h.engine.DB().GetClaim(executionID)
		if err != nil {
			response.InternalError(c, err.Error())
			return
		}
		if claim == nil || claim.UserID != userID {
			response.NotFound(c, "Execution not found")
			return
		}

		events, err := h.engine.DB().GetEvents(executionID)
		if err != nil {
			response.InternalError(c, err.Error())
			return
		}

		response.Success(c, gin.H{
			"execution": claim,
			"events":    events,
		})
	}
}

// ReconcileHandler handles internal POST requests to reconcile one claim.
func (h *GinHandlers) ReconcileHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		executionID := c.Param("execution_id")
		if executionID == "" {
			response.BadRequest(c, "Execution ID is required")
			return
		}

		claim, err := h.engine.DB().GetClaim(executionID)
		if err != nil {
			response.InternalError(c, err.Error())
			return
		}
		if claim == nil {
			response.NotFound(c, "Execution not found")
			return
		}

		result, err := h.engine.ReconcileByClientOrderID(c.Request.Context(), executionID, claim.UserID)
		if err != nil {
			response.InternalError(c, err.Error())
			return
		}
		response.Success(c, result)
	}
}

// SweepHandler handles internal POST requests to run one sweep pass now.
func (h *GinHandlers) SweepHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		report, err := h.sweeper.Sweep(c.Request.Context())
		if err != nil {
			response.InternalError(c, err.Error())
			return
		}
		response.Success(c, report)
	}
}
