package exchange

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// ErrOrderNotFound is returned by FindOrderByClientOrderID when the exchange
// has no record of the idempotency key.
var ErrOrderNotFound = errors.New("order not found on exchange")

// Order is the exchange's view of a placed order.
type Order struct {
	OrderID       string          `json:"order_id"`
	ClientOrderID string          `json:"client_order_id"`
	Symbol        string          `json:"symbol"`
	Side          string          `json:"side"`
	OrderType     string          `json:"order_type"`
	Quantity      decimal.Decimal `json:"quantity"`
	Price         decimal.Decimal `json:"price"`
	Status        string          `json:"status"` // NEW, FILLED, CANCELLED, ...
	CreatedAt     time.Time       `json:"created_at"`
}

// PlaceOrderRequest carries one order submission. ClientOrderID is the
// idempotency field: re-sending the same value never creates a second order.
type PlaceOrderRequest struct {
	Symbol        string
	Side          string
	OrderType     string
	Quantity      decimal.Decimal
	Price         decimal.Decimal // ignored for MARKET orders
	ClientOrderID string
}

// TradingClient is the capability that can move money. It deliberately has
// no market-data methods: code holding only a MarketDataClient can never
// acquire order placement, the type system enforces the separation.
type TradingClient interface {
	PlaceOrder(ctx context.Context, req PlaceOrderRequest) (*Order, error)
	CancelOrder(ctx context.Context, symbol, orderID string) error
	FindOrderByClientOrderID(ctx context.Context, clientOrderID string) (*Order, error)
}

// MarketDataClient is the read-only observation capability.
type MarketDataClient interface {
	Ticker(ctx context.Context, symbol string) (decimal.Decimal, error)
}

// APIError is an authoritative response from the exchange with a non-2xx
// status. The classifier uses the status code to decide HARD vs SOFT.
type APIError struct {
	StatusCode int    `json:"-"`
	Code       string `json:"code"`
	Message    string `json:"message"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("exchange api error %d (%s): %s", e.StatusCode, e.Code, e.Message)
}
