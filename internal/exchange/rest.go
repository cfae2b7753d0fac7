package exchange

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

// RESTClient talks to the exchange's signed REST API. It implements
// TradingClient; market-data reads live on a separate client so that code
// observing prices can never hold trading credentials.
type RESTClient struct {
	client    *resty.Client
	apiKey    string
	apiSecret []byte
}

// NewRESTClient builds a trading client for the given exchange endpoint.
// Retries are enabled only for the idempotent lookup path; placing an order
// is never retried at the transport level, the reconciler owns recovery.
func NewRESTClient(baseURL, apiKey, apiSecret string) *RESTClient {
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(15 * time.Second).
		SetRetryCount(3).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(5 * time.Second).
		AddRetryCondition(func(resp *resty.Response, err error) bool {
			if resp == nil || resp.Request == nil {
				return false
			}
			if resp.Request.Method != http.MethodGet {
				return false
			}
			return err != nil || resp.StatusCode() >= http.StatusInternalServerError
		})

	return &RESTClient{
		client:    client,
		apiKey:    apiKey,
		apiSecret: []byte(apiSecret),
	}
}

// sign computes the request signature over the canonical query string plus
// the millisecond timestamp, per the exchange's HMAC-SHA256 convention.
func (c *RESTClient) sign(params url.Values, timestamp string) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	payload := ""
	for _, k := range keys {
		if payload != "" {
			payload += "&"
		}
		payload += k + "=" + params.Get(k)
	}
	payload += "&timestamp=" + timestamp

	mac := hmac.New(sha256.New, c.apiSecret)
	mac.Write([]byte(payload))
	return hex.EncodeToString(mac.Sum(nil))
}

func (c *RESTClient) signedRequest(ctx context.Context, params url.Values) *resty.Request {
	timestamp := strconv.FormatInt(time.Now().UnixMilli(), 10)
	return c.client.R().
		SetContext(ctx).
		SetHeader("X-API-Key", c.apiKey).
		SetHeader("X-Timestamp", timestamp).
		SetHeader("X-Signature", c.sign(params, timestamp))
}

// PlaceOrder submits an order carrying the client order id as the exchange's
// idempotency field. MARKET orders omit the price parameter entirely.
func (c *RESTClient) PlaceOrder(ctx context.Context, req PlaceOrderRequest) (*Order, error) {
	params := url.Values{}
	params.Set("symbol", req.Symbol)
	params.Set("side", req.Side)
	params.Set("type", req.OrderType)
	params.Set("quantity", req.Quantity.String())
	params.Set("newClientOrderId", req.ClientOrderID)
	if req.OrderType != "MARKET" {
		params.Set("price", req.Price.String())
	}

	var (
		order  Order
		apiErr APIError
	)
	resp, err := c.signedRequest(ctx, params).
		SetFormDataFromValues(params).
		SetResult(&order).
		SetError(&apiErr).
		Post("/api/v1/order")
	if err != nil {
		return nil, fmt.Errorf("place order: %w", err)
	}
	if resp.IsError() {
		apiErr.StatusCode = resp.StatusCode()
		return nil, &apiErr
	}

	log.Debug().
		Str("component", "exchange_rest").
		Str("client_order_id", req.ClientOrderID).
		Str("exchange_order_id", order.OrderID).
		Msg("order placed")
	return &order, nil
}

// CancelOrder cancels an open order by exchange order id.
func (c *RESTClient) CancelOrder(ctx context.Context, symbol, orderID string) error {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("orderId", orderID)

	var apiErr APIError
	resp, err := c.signedRequest(ctx, params).
		SetQueryParamsFromValues(params).
		SetError(&apiErr).
		Delete("/api/v1/order")
	if err != nil {
		return fmt.Errorf("cancel order: %w", err)
	}
	if resp.IsError() {
		apiErr.StatusCode = resp.StatusCode()
		return &apiErr
	}
	return nil
}

// FindOrderByClientOrderID asks the exchange whether it ever saw the
// idempotency key. This read is the one capability the whole recovery design
// depends on.
func (c *RESTClient) FindOrderByClientOrderID(ctx context.Context, clientOrderID string) (*Order, error) {
	params := url.Values{}
	params.Set("origClientOrderId", clientOrderID)

	var (
		order  Order
		apiErr APIError
	)
	resp, err := c.signedRequest(ctx, params).
		SetQueryParamsFromValues(params).
		SetResult(&order).
		SetError(&apiErr).
		Get("/api/v1/order")
	if err != nil {
		return nil, fmt.Errorf("find order: %w", err)
	}
	if resp.StatusCode() == http.StatusNotFound {
		return nil, ErrOrderNotFound
	}
	if resp.IsError() {
		apiErr.StatusCode = resp.StatusCode()
		return nil, &apiErr
	}
	return &order, nil
}

// MarketDataREST is the read-only price client. It carries no credentials
// beyond the public key and cannot place or cancel orders.
type MarketDataREST struct {
	client *resty.Client
}

func NewMarketDataREST(baseURL string) *MarketDataREST {
	return &MarketDataREST{
		client: resty.New().
			SetBaseURL(baseURL).
			SetTimeout(10 * time.Second).
			SetRetryCount(3),
	}
}

func (m *MarketDataREST) Ticker(ctx context.Context, symbol string) (decimal.Decimal, error) {
	var out struct {
		Price string `json:"price"`
	}
	resp, err := m.client.R().
		SetContext(ctx).
		SetQueryParam("symbol", symbol).
		SetResult(&out).
		Get("/api/v1/ticker")
	if err != nil {
		return decimal.Zero, fmt.Errorf("ticker: %w", err)
	}
	if resp.IsError() {
		return decimal.Zero, fmt.Errorf("ticker %s: status %d", symbol, resp.StatusCode())
	}
	return decimal.NewFromString(out.Price)
}
