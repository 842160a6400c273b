package exchange

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	BinanceWSURL        = "wss://stream.binance.com:9443/ws"
	BinanceTestnetWSURL = "wss://stream.testnet.binance.vision/ws"

	reconnectDelay = 5 * time.Second
)

type streamPrice struct {
	price float64
	at    time.Time
}

// PriceStream keeps the last miniTicker close price per symbol. It
// reconnects on read errors and re-subscribes to everything it tracked.
type PriceStream struct {
	wsURL  string
	logger *zap.Logger

	mu        sync.Mutex
	conn      *websocket.Conn
	symbols   map[string]struct{}
	prices    map[string]streamPrice
	callbacks []func(symbol string, price float64)
	nextID    atomic.Int64
}

func NewPriceStream(wsURL string, logger *zap.Logger) *PriceStream {
	return &PriceStream{
		wsURL:   wsURL,
		logger:  logger,
		symbols: make(map[string]struct{}),
		prices:  make(map[string]streamPrice),
	}
}

func (p *PriceStream) OnPriceUpdate(callback func(symbol string, price float64)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.callbacks = append(p.callbacks, callback)
}

// LastPrice implements PriceSource.
func (p *PriceStream) LastPrice(symbol string) (float64, time.Time, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	sp, ok := p.prices[strings.ToUpper(symbol)]
	return sp.price, sp.at, ok
}

// Subscribe adds symbols to the stream. Before Run connects they are only
// recorded.
func (p *PriceStream) Subscribe(symbols ...string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var fresh []string
	for _, s := range symbols {
		s = strings.ToUpper(s)
		if _, ok := p.symbols[s]; ok {
			continue
		}
		p.symbols[s] = struct{}{}
		fresh = append(fresh, s)
	}
	if p.conn == nil || len(fresh) == 0 {
		return nil
	}
	return p.send("SUBSCRIBE", fresh)
}

// Unsubscribe drops symbols and their cached prices.
func (p *PriceStream) Unsubscribe(symbols ...string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var gone []string
	for _, s := range symbols {
		s = strings.ToUpper(s)
		if _, ok := p.symbols[s]; !ok {
			continue
		}
		delete(p.symbols, s)
		delete(p.prices, s)
		gone = append(gone, s)
	}
	if p.conn == nil || len(gone) == 0 {
		return nil
	}
	return p.send("UNSUBSCRIBE", gone)
}

// send must be called with p.mu held.
func (p *PriceStream) send(method string, symbols []string) error {
	params := make([]string, len(symbols))
	for i, s := range symbols {
		params[i] = strings.ToLower(s) + "@miniTicker"
	}
	msg := map[string]interface{}{
		"method": method,
		"params": params,
		"id":     p.nextID.Add(1),
	}
	return p.conn.WriteJSON(msg)
}

// Run connects and reads until ctx is cancelled, reconnecting after errors.
func (p *PriceStream) Run(ctx context.Context) error {
	for {
		if err := p.connect(ctx); err != nil {
			p.logger.Warn("Price stream connect failed", zap.String("url", p.wsURL), zap.Error(err))
		} else {
			p.readLoop(ctx)
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(reconnectDelay):
		}
	}
}

func (p *PriceStream) connect(ctx context.Context) error {
	c, _, err := websocket.DefaultDialer.DialContext(ctx, p.wsURL, nil)
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.conn = c

	symbols := make([]string, 0, len(p.symbols))
	for s := range p.symbols {
		symbols = append(symbols, s)
	}
	if len(symbols) > 0 {
		if err := p.send("SUBSCRIBE", symbols); err != nil {
			c.Close()
			p.conn = nil
			return err
		}
	}
	p.logger.Info("Price stream connected", zap.Strings("symbols", symbols))
	return nil
}

type miniTicker struct {
	Event  string `json:"e"`
	Symbol string `json:"s"`
	Close  string `json:"c"`
}

func (p *PriceStream) readLoop(ctx context.Context) {
	p.mu.Lock()
	conn := p.conn
	p.mu.Unlock()

	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()
	defer func() {
		conn.Close()
		p.mu.Lock()
		if p.conn == conn {
			p.conn = nil
		}
		p.mu.Unlock()
	}()

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				p.logger.Warn("Price stream read error", zap.Error(err))
			}
			return
		}

		var ev miniTicker
		if err := json.Unmarshal(message, &ev); err != nil {
			p.logger.Debug("Price stream unmarshal error", zap.Error(err))
			continue
		}
		// Subscription acks carry no event type.
		if ev.Event != "24hrMiniTicker" || ev.Symbol == "" {
			continue
		}
		price, err := strconv.ParseFloat(ev.Close, 64)
		if err != nil || price <= 0 {
			continue
		}

		p.mu.Lock()
		if _, tracked := p.symbols[ev.Symbol]; !tracked {
			p.mu.Unlock()
			continue
		}
		p.prices[ev.Symbol] = streamPrice{price: price, at: time.Now()}
		callbacks := make([]func(string, float64), len(p.callbacks))
		copy(callbacks, p.callbacks)
		p.mu.Unlock()

		for _, cb := range callbacks {
			cb(ev.Symbol, price)
		}
	}
}

// Follow keeps the stream subscribed to exactly the symbol returned by
// current, checking every interval until ctx is cancelled.
func (p *PriceStream) Follow(ctx context.Context, interval time.Duration, current func() string) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		p.follow(strings.ToUpper(current()))

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (p *PriceStream) follow(symbol string) {
	p.mu.Lock()
	var stale []string
	_, tracked := p.symbols[symbol]
	for s := range p.symbols {
		if s != symbol {
			stale = append(stale, s)
		}
	}
	p.mu.Unlock()

	if len(stale) > 0 {
		p.logger.Info("Unsubscribing from symbols", zap.Strings("symbols", stale))
		if err := p.Unsubscribe(stale...); err != nil {
			p.logger.Error("Failed to unsubscribe", zap.Error(err))
		}
	}
	if symbol != "" && !tracked {
		p.logger.Info("Subscribing to symbol", zap.String("symbol", symbol))
		if err := p.Subscribe(symbol); err != nil {
			p.logger.Error("Failed to subscribe", zap.Error(err))
		}
	}
}
