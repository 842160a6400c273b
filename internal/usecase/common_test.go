package usecase

import (
	"context"
	"errors"
	"math"
	"sync"

	"github.com/vitos/crypto_dip_bot/internal/domain"
)

type MockExchange struct {
	mu sync.Mutex

	Price    float64
	PriceErr error

	// BuyErr / SellErr make the order a no-op.
	BuyErr  error
	SellErr error
	// ZeroFill returns a buy order with nothing executed.
	ZeroFill bool
	// SellStep floors sold quantities to a lot-size step.
	SellStep float64

	Buys  []float64
	Sells []float64

	// block, when set, holds CurrentPrice until released.
	entered chan struct{}
	release chan struct{}
}

func (m *MockExchange) SetPrice(p float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Price = p
}

func (m *MockExchange) Block() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entered = make(chan struct{}, 1)
	m.release = make(chan struct{})
}

func (m *MockExchange) CurrentPrice(ctx context.Context, symbol string) (float64, error) {
	m.mu.Lock()
	entered, release := m.entered, m.release
	price, err := m.Price, m.PriceErr
	m.mu.Unlock()

	if entered != nil {
		entered <- struct{}{}
		<-release
	}
	return price, err
}

func (m *MockExchange) MarketBuy(ctx context.Context, symbol string, quoteAmount float64) (*domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.BuyErr != nil {
		return nil, m.BuyErr
	}
	m.Buys = append(m.Buys, quoteAmount)
	if m.ZeroFill {
		return &domain.Order{ID: "zero", Symbol: symbol, Side: domain.SideBuy, Status: "EXPIRED"}, nil
	}
	qty := quoteAmount / m.Price
	return &domain.Order{
		ID:               "buy",
		Symbol:           symbol,
		Side:             domain.SideBuy,
		Status:           "FILLED",
		ExecutedQuantity: qty,
		CumulativeQuote:  quoteAmount,
		Fills:            []domain.Fill{{Price: m.Price, Quantity: qty}},
	}, nil
}

func (m *MockExchange) MarketSell(ctx context.Context, symbol string, quantity float64) (*domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.SellErr != nil {
		return nil, m.SellErr
	}
	m.Sells = append(m.Sells, quantity)
	if m.SellStep > 0 {
		quantity = math.Floor(quantity/m.SellStep) * m.SellStep
	}
	return &domain.Order{
		ID:               "sell",
		Symbol:           symbol,
		Side:             domain.SideSell,
		Status:           "FILLED",
		ExecutedQuantity: quantity,
		CumulativeQuote:  quantity * m.Price,
		Fills:            []domain.Fill{{Price: m.Price, Quantity: quantity}},
	}, nil
}

type MockNotifier struct {
	mu sync.Mutex

	BuyEvents  []domain.BuyEvent
	SellEvents []domain.SellEvent

	RestartCalls int
	// RestartFailures is how many NotifyRestart calls fail before one succeeds.
	RestartFailures int
}

func (m *MockNotifier) NotifyBuy(ctx context.Context, ev domain.BuyEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.BuyEvents = append(m.BuyEvents, ev)
}

func (m *MockNotifier) NotifySell(ctx context.Context, ev domain.SellEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.SellEvents = append(m.SellEvents, ev)
}

func (m *MockNotifier) NotifyRestart(ctx context.Context, symbol string, openLots int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.RestartCalls++
	if m.RestartCalls <= m.RestartFailures {
		return errors.New("chat unreachable")
	}
	return nil
}

func (m *MockNotifier) restartCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.RestartCalls
}

type MockStateRepo struct {
	mu      sync.Mutex
	State   *domain.State
	Saves   int
	SaveErr error
}

func (m *MockStateRepo) Load(ctx context.Context) (*domain.State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.State == nil {
		return nil, nil
	}
	return m.State.Clone(), nil
}

func (m *MockStateRepo) Save(ctx context.Context, st *domain.State) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Saves++
	if m.SaveErr != nil {
		return m.SaveErr
	}
	m.State = st.Clone()
	return nil
}

func (m *MockStateRepo) saved() *domain.State {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.State == nil {
		return nil
	}
	return m.State.Clone()
}

type MockTradeRepo struct {
	Trades  []*domain.Trade
	History []*domain.PositionHistory
}

func (m *MockTradeRepo) SaveTrade(ctx context.Context, trade *domain.Trade) error {
	m.Trades = append(m.Trades, trade)
	return nil
}

func (m *MockTradeRepo) ListTrades(ctx context.Context, limit int) ([]*domain.Trade, error) {
	return m.Trades, nil
}

func (m *MockTradeRepo) SavePositionHistory(ctx context.Context, history *domain.PositionHistory) error {
	m.History = append(m.History, history)
	return nil
}

func (m *MockTradeRepo) ListPositionHistory(ctx context.Context, limit int) ([]*domain.PositionHistory, error) {
	return m.History, nil
}

func ptr(v float64) *float64 { return &v }
