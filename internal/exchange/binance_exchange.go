package exchange

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"elysium-trading-go/internal/models"

	"github.com/adshao/go-binance/v2"
	"github.com/adshao/go-binance/v2/futures"
	"go.uber.org/zap"
)

const requestTimeout = 10 * time.Second

// BinanceExchange implements Connector against Binance spot and USDT-M
// futures. Spot endpoints serve plain limit orders, the futures client
// serves the perpetual variants and leverage control.
type BinanceExchange struct {
	mu        sync.RWMutex
	spot      *binance.Client
	fut       *futures.Client
	feed      *PriceFeed
	locker    *SymbolLocker
	logger    *zap.SugaredLogger
	testnet   bool
	connected bool
}

// NewBinanceExchange creates an unconnected Binance connector.
func NewBinanceExchange(testnet bool, logger *zap.SugaredLogger) *BinanceExchange {
	return &BinanceExchange{
		locker:  NewSymbolLocker(),
		logger:  logger,
		testnet: testnet,
	}
}

// Connect builds the API clients, verifies reachability and starts the
// websocket price feed.
func (e *BinanceExchange) Connect(creds models.Credentials) error {
	binance.UseTestnet = e.testnet
	futures.UseTestnet = e.testnet

	spot := binance.NewClient(creds.APIKey, creds.SecretKey)
	fut := futures.NewClient(creds.APIKey, creds.SecretKey)

	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()
	if err := spot.NewPingService().Do(ctx); err != nil {
		return &models.ConnectivityError{Reason: fmt.Sprintf("ping failed: %v", err)}
	}

	e.mu.Lock()
	e.spot = spot
	e.fut = fut
	e.feed = NewPriceFeed(e.testnet, e.logger)
	e.connected = true
	e.mu.Unlock()

	e.logger.Infow("connected to Binance", "testnet", e.testnet)
	return nil
}

// IsConnected reports whether Connect has succeeded.
func (e *BinanceExchange) IsConnected() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.connected
}

// IsTestnet reports whether the connector targets the testnet.
func (e *BinanceExchange) IsTestnet() bool {
	return e.testnet
}

// Close shuts down the price feed. The REST clients hold no connections of
// their own.
func (e *BinanceExchange) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.feed != nil {
		e.feed.Close()
	}
	e.connected = false
}

// normalizeSymbol converts "BTC/USDT" style pairs into the venue's
// concatenated form.
func normalizeSymbol(symbol string) string {
	return strings.ToUpper(strings.ReplaceAll(symbol, "/", ""))
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// GetMarketData returns last price, best bid/ask and a mid price for the
// symbol. REST values are preferred; the websocket feed's last trade price
// backstops a failing REST path so monitors keep a usable price.
func (e *BinanceExchange) GetMarketData(symbol string) (*models.MarketData, error) {
	e.mu.RLock()
	spot, feed, connected := e.spot, e.feed, e.connected
	e.mu.RUnlock()
	if !connected {
		return nil, &models.ConnectivityError{Reason: "not connected"}
	}

	sym := normalizeSymbol(symbol)
	feed.Watch(sym)

	md := &models.MarketData{Symbol: symbol}

	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	prices, err := spot.NewListPricesService().Symbol(sym).Do(ctx)
	if err == nil && len(prices) > 0 {
		if last, perr := strconv.ParseFloat(prices[0].Price, 64); perr == nil {
			md.LastPrice = last
		}
	}

	depth, derr := spot.NewDepthService().Symbol(sym).Limit(5).Do(ctx)
	if derr == nil {
		if len(depth.Bids) > 0 {
			md.BestBid, _ = strconv.ParseFloat(depth.Bids[0].Price, 64)
		}
		if len(depth.Asks) > 0 {
			md.BestAsk, _ = strconv.ParseFloat(depth.Asks[0].Price, 64)
		}
	}
	if md.BestBid > 0 && md.BestAsk > 0 {
		md.MidPrice = (md.BestBid + md.BestAsk) / 2
	}

	// Feed cache as the last fallback when both REST calls failed.
	if md.MidPrice == 0 && md.BestBid == 0 && md.BestAsk == 0 && md.LastPrice == 0 {
		if cached, ok := feed.Price(sym); ok {
			md.LastPrice = cached
		}
	}

	if md.MidPrice == 0 && md.BestBid == 0 && md.BestAsk == 0 && md.LastPrice == 0 {
		if err == nil {
			err = derr
		}
		return nil, &models.ConnectivityError{Reason: fmt.Sprintf("no market data for %s: %v", symbol, err)}
	}
	return md, nil
}

// LimitBuy places a resting spot limit buy.
func (e *BinanceExchange) LimitBuy(symbol string, quantity, price float64) (*models.OrderResult, error) {
	return e.spotLimitOrder(symbol, binance.SideTypeBuy, quantity, price)
}

// LimitSell places a resting spot limit sell.
func (e *BinanceExchange) LimitSell(symbol string, quantity, price float64) (*models.OrderResult, error) {
	return e.spotLimitOrder(symbol, binance.SideTypeSell, quantity, price)
}

func (e *BinanceExchange) spotLimitOrder(symbol string, side binance.SideType, quantity, price float64) (*models.OrderResult, error) {
	e.mu.RLock()
	spot, connected := e.spot, e.connected
	e.mu.RUnlock()
	if !connected {
		return nil, &models.ConnectivityError{Reason: "not connected"}
	}

	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	resp, err := spot.NewCreateOrderService().
		Symbol(normalizeSymbol(symbol)).
		Side(side).
		Type(binance.OrderTypeLimit).
		TimeInForce(binance.TimeInForceTypeGTC).
		Quantity(formatFloat(quantity)).
		Price(formatFloat(price)).
		Do(ctx)
	if err != nil {
		return nil, err
	}

	executed, _ := strconv.ParseFloat(resp.ExecutedQuantity, 64)
	return &models.OrderResult{
		OrderID:     resp.OrderID,
		Status:      mapOrderStatus(string(resp.Status)),
		Price:       price,
		ExecutedQty: executed,
	}, nil
}

// PerpLimitBuy places a perpetual limit buy after serializing the leverage
// change for the symbol.
func (e *BinanceExchange) PerpLimitBuy(symbol string, quantity, price float64, leverage int) (*models.OrderResult, error) {
	return e.perpLimitOrder(symbol, futures.SideTypeBuy, quantity, price, leverage)
}

// PerpLimitSell places a perpetual limit sell after serializing the leverage
// change for the symbol.
func (e *BinanceExchange) PerpLimitSell(symbol string, quantity, price float64, leverage int) (*models.OrderResult, error) {
	return e.perpLimitOrder(symbol, futures.SideTypeSell, quantity, price, leverage)
}

func (e *BinanceExchange) perpLimitOrder(symbol string, side futures.SideType, quantity, price float64, leverage int) (*models.OrderResult, error) {
	e.mu.RLock()
	fut, connected := e.fut, e.connected
	e.mu.RUnlock()
	if !connected {
		return nil, &models.ConnectivityError{Reason: "not connected"}
	}

	sym := normalizeSymbol(symbol)

	// Leverage mutation and the dependent submission must not interleave
	// with another goroutine trading the same symbol.
	e.locker.Lock(sym)
	defer e.locker.Unlock(sym)

	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	if leverage > 0 {
		if _, err := fut.NewChangeLeverageService().Symbol(sym).Leverage(leverage).Do(ctx); err != nil {
			e.logger.Warnw("leverage change failed, submitting anyway", "symbol", symbol, "leverage", leverage, "error", err)
		}
	}

	resp, err := fut.NewCreateOrderService().
		Symbol(sym).
		Side(side).
		Type(futures.OrderTypeLimit).
		TimeInForce(futures.TimeInForceTypeGTC).
		Quantity(formatFloat(quantity)).
		Price(formatFloat(price)).
		Do(ctx)
	if err != nil {
		return nil, err
	}

	executed, _ := strconv.ParseFloat(resp.ExecutedQuantity, 64)
	return &models.OrderResult{
		OrderID:     resp.OrderID,
		Status:      mapOrderStatus(string(resp.Status)),
		Price:       price,
		ExecutedQty: executed,
	}, nil
}

// GetOrderStatus polls the venue-side state of an order.
func (e *BinanceExchange) GetOrderStatus(symbol string, orderID int64, isPerp bool) (*models.OrderResult, error) {
	e.mu.RLock()
	spot, fut, connected := e.spot, e.fut, e.connected
	e.mu.RUnlock()
	if !connected {
		return nil, &models.ConnectivityError{Reason: "not connected"}
	}

	sym := normalizeSymbol(symbol)
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	if isPerp {
		order, err := fut.NewGetOrderService().Symbol(sym).OrderID(orderID).Do(ctx)
		if err != nil {
			return nil, err
		}
		price, _ := strconv.ParseFloat(order.Price, 64)
		executed, _ := strconv.ParseFloat(order.ExecutedQuantity, 64)
		return &models.OrderResult{
			OrderID:     order.OrderID,
			Status:      mapOrderStatus(string(order.Status)),
			Price:       price,
			ExecutedQty: executed,
		}, nil
	}

	order, err := spot.NewGetOrderService().Symbol(sym).OrderID(orderID).Do(ctx)
	if err != nil {
		return nil, err
	}
	price, _ := strconv.ParseFloat(order.Price, 64)
	executed, _ := strconv.ParseFloat(order.ExecutedQuantity, 64)
	return &models.OrderResult{
		OrderID:     order.OrderID,
		Status:      mapOrderStatus(string(order.Status)),
		Price:       price,
		ExecutedQty: executed,
	}, nil
}

// CancelOrder cancels one resting order.
func (e *BinanceExchange) CancelOrder(symbol string, orderID int64, isPerp bool) error {
	e.mu.RLock()
	spot, fut, connected := e.spot, e.fut, e.connected
	e.mu.RUnlock()
	if !connected {
		return &models.ConnectivityError{Reason: "not connected"}
	}

	sym := normalizeSymbol(symbol)
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	if isPerp {
		_, err := fut.NewCancelOrderService().Symbol(sym).OrderID(orderID).Do(ctx)
		return err
	}
	_, err := spot.NewCancelOrderService().Symbol(sym).OrderID(orderID).Do(ctx)
	return err
}

// SetLeverage changes the futures leverage for a symbol.
func (e *BinanceExchange) SetLeverage(symbol string, leverage int) error {
	e.mu.RLock()
	fut, connected := e.fut, e.connected
	e.mu.RUnlock()
	if !connected {
		return &models.ConnectivityError{Reason: "not connected"}
	}

	sym := normalizeSymbol(symbol)
	e.locker.Lock(sym)
	defer e.locker.Unlock(sym)

	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()
	_, err := fut.NewChangeLeverageService().Symbol(sym).Leverage(leverage).Do(ctx)
	return err
}

// mapOrderStatus folds venue order states into the runtime's three-way
// result status.
func mapOrderStatus(status string) models.OrderResultStatus {
	switch status {
	case "NEW", "PARTIALLY_FILLED":
		return models.OrderResting
	case "FILLED":
		return models.OrderFilledNow
	default: // CANCELED, EXPIRED, REJECTED
		return models.OrderRejected
	}
}
