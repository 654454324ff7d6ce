package exchange

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	liveWSBaseURL    = "wss://stream.binance.com:9443"
	testnetWSBaseURL = "wss://testnet.binance.vision"

	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	redialWait = 5 * time.Second
)

// PriceFeed maintains one aggTrade stream per watched symbol and caches the
// last traded price. It exists so that callers still have a price when the
// REST path is failing.
type PriceFeed struct {
	baseURL string
	logger  *zap.SugaredLogger

	mu      sync.RWMutex
	prices  map[string]float64
	watched map[string]bool
	stopCh  chan struct{}
	closed  bool
}

// NewPriceFeed creates an idle feed; streams start as symbols are watched.
func NewPriceFeed(testnet bool, logger *zap.SugaredLogger) *PriceFeed {
	baseURL := liveWSBaseURL
	if testnet {
		baseURL = testnetWSBaseURL
	}
	return &PriceFeed{
		baseURL: baseURL,
		logger:  logger,
		prices:  make(map[string]float64),
		watched: make(map[string]bool),
		stopCh:  make(chan struct{}),
	}
}

// Watch starts a stream for the symbol if one is not already running.
func (f *PriceFeed) Watch(symbol string) {
	f.mu.Lock()
	if f.closed || f.watched[symbol] {
		f.mu.Unlock()
		return
	}
	f.watched[symbol] = true
	f.mu.Unlock()

	go f.streamLoop(symbol)
}

// Price returns the cached last trade price for the symbol.
func (f *PriceFeed) Price(symbol string) (float64, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	p, ok := f.prices[symbol]
	return p, ok
}

// Close stops all streams.
func (f *PriceFeed) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	f.closed = true
	close(f.stopCh)
}

// streamLoop keeps the symbol's stream connected, redialing after errors.
func (f *PriceFeed) streamLoop(symbol string) {
	url := fmt.Sprintf("%s/ws/%s@aggTrade", f.baseURL, strings.ToLower(symbol))
	for {
		select {
		case <-f.stopCh:
			return
		default:
		}

		conn, _, err := websocket.DefaultDialer.Dial(url, nil)
		if err != nil {
			f.logger.Warnw("price feed dial failed", "symbol", symbol, "error", err)
			select {
			case <-f.stopCh:
				return
			case <-time.After(redialWait):
				continue
			}
		}

		if err := f.readMessages(symbol, conn); err != nil {
			f.logger.Debugw("price feed disconnected", "symbol", symbol, "error", err)
		}
		conn.Close()

		select {
		case <-f.stopCh:
			return
		case <-time.After(redialWait):
		}
	}
}

// readMessages consumes one established connection until it breaks,
// maintaining the ping/pong keepalive.
func (f *PriceFeed) readMessages(symbol string, conn *websocket.Conn) error {
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	pingTicker := time.NewTicker(pingPeriod)
	defer pingTicker.Stop()

	pingStop := make(chan struct{})
	defer close(pingStop)

	go func() {
		for {
			select {
			case <-pingTicker.C:
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			case <-pingStop:
				return
			case <-f.stopCh:
				return
			}
		}
	}()

	for {
		select {
		case <-f.stopCh:
			conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return nil
		default:
			_, message, err := conn.ReadMessage()
			if err != nil {
				return fmt.Errorf("read failed: %w", err)
			}

			var trade struct {
				Price json.Number `json:"p"`
			}
			if err := json.Unmarshal(message, &trade); err != nil {
				continue
			}
			price, err := trade.Price.Float64()
			if err != nil || price <= 0 {
				continue
			}

			f.mu.Lock()
			f.prices[symbol] = price
			f.mu.Unlock()
		}
	}
}
