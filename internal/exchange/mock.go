package exchange

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

type injectedFailure struct {
	err         error
	recordOrder bool
}

// MockExchange is an in-memory exchange used by the simulation and tests.
// It honors client order id idempotency the way a real venue does: placing
// the same key twice returns the original order instead of creating another.
//
// Failure injection covers the two cases the engine has to survive: a plain
// rejection, and the nastier "order recorded but response lost" where the
// exchange keeps the order while the caller sees a transport error.
type MockExchange struct {
	mu         sync.Mutex
	orders     map[string]*Order // keyed by client order id
	placeCalls map[string]int
	failures   []injectedFailure
	seq        int64

	MinLatency time.Duration
	MaxLatency time.Duration
}

func NewMockExchange() *MockExchange {
	return &MockExchange{
		orders:     make(map[string]*Order),
		placeCalls: make(map[string]int),
	}
}

// FailNext makes the next PlaceOrder call return err. If recordOrder is
// true the order is still created first, simulating a response lost on the
// wire after the exchange accepted it.
func (m *MockExchange) FailNext(err error, recordOrder bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures = append(m.failures, injectedFailure{err: err, recordOrder: recordOrder})
}

func (m *MockExchange) simulateLatency() {
	if m.MaxLatency <= m.MinLatency {
		return
	}
	span := m.MaxLatency - m.MinLatency
	time.Sleep(m.MinLatency + time.Duration(rand.Int63n(int64(span))))
}

func (m *MockExchange) PlaceOrder(ctx context.Context, req PlaceOrderRequest) (*Order, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.simulateLatency()

	m.mu.Lock()
	defer m.mu.Unlock()

	m.placeCalls[req.ClientOrderID]++

	// Idempotent accept on a repeated key.
	if existing, ok := m.orders[req.ClientOrderID]; ok {
		copied := *existing
		return &copied, nil
	}

	var failure *injectedFailure
	if len(m.failures) > 0 {
		failure = &m.failures[0]
		m.failures = m.failures[1:]
	}

	if failure != nil && !failure.recordOrder {
		log.Debug().
			Str("component", "mock_exchange").
			Str("client_order_id", req.ClientOrderID).
			Err(failure.err).
			Msg("injected rejection")
		return nil, failure.err
	}

	m.seq++
	order := &Order{
		OrderID:       fmt.Sprintf("MOCK-%d", m.seq),
		ClientOrderID: req.ClientOrderID,
		Symbol:        req.Symbol,
		Side:          req.Side,
		OrderType:     req.OrderType,
		Quantity:      req.Quantity,
		Price:         req.Price,
		Status:        "NEW",
		CreatedAt:     time.Now(),
	}
	m.orders[req.ClientOrderID] = order

	if failure != nil {
		// Order recorded but the response never reaches the caller.
		log.Debug().
			Str("component", "mock_exchange").
			Str("client_order_id", req.ClientOrderID).
			Err(failure.err).
			Msg("order recorded, response dropped")
		return nil, failure.err
	}

	copied := *order
	return &copied, nil
}

func (m *MockExchange) CancelOrder(ctx context.Context, symbol, orderID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, order := range m.orders {
		if order.OrderID == orderID && order.Symbol == symbol {
			order.Status = "CANCELLED"
			return nil
		}
	}
	return ErrOrderNotFound
}

func (m *MockExchange) FindOrderByClientOrderID(ctx context.Context, clientOrderID string) (*Order, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	order, ok := m.orders[clientOrderID]
	if !ok {
		return nil, ErrOrderNotFound
	}
	copied := *order
	return &copied, nil
}

// SetOrderStatus overrides a stored order's status, used to drive the
// FILLED and CANCELLED mapping paths.
func (m *MockExchange) SetOrderStatus(clientOrderID, status string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if order, ok := m.orders[clientOrderID]; ok {
		order.Status = status
	}
}

// OrderCount reports how many distinct orders exist for a client order id.
// By construction it is 0 or 1; the exactly-once tests assert on it.
func (m *MockExchange) OrderCount(clientOrderID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.orders[clientOrderID]; ok {
		return 1
	}
	return 0
}

// PlaceCalls reports how many PlaceOrder attempts were made for a key.
func (m *MockExchange) PlaceCalls(clientOrderID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.placeCalls[clientOrderID]
}
