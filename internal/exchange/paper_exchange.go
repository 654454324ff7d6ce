package exchange

import (
	"strconv"
	"sync"

	"elysium-trading-go/internal/models"

	"go.uber.org/zap"
)

func formatID(id int64) string {
	return strconv.FormatInt(id, 10)
}

// paperOrder is one simulated resting order.
type paperOrder struct {
	id       int64
	symbol   string
	side     models.Side
	quantity float64
	price    float64
	isPerp   bool
	status   models.OrderResultStatus
}

// PaperExchange is an in-memory Connector used by tests and paper-trading
// runs. Orders rest in a simulated book and fill when the driven price
// crosses them.
type PaperExchange struct {
	mu        sync.Mutex
	logger    *zap.SugaredLogger
	connected bool
	spread    float64 // half-spread applied around the driven price
	prices    map[string]float64
	orders    map[int64]*paperOrder
	leverage  map[string]int
	nextID    int64
}

// NewPaperExchange creates a disconnected paper connector.
func NewPaperExchange(logger *zap.SugaredLogger) *PaperExchange {
	return &PaperExchange{
		logger:   logger,
		spread:   0.0005,
		prices:   make(map[string]float64),
		orders:   make(map[int64]*paperOrder),
		leverage: make(map[string]int),
		nextID:   1000,
	}
}

// Connect marks the connector usable. Credentials are ignored.
func (p *PaperExchange) Connect(models.Credentials) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.connected = true
	return nil
}

// IsConnected reports whether Connect has been called.
func (p *PaperExchange) IsConnected() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.connected
}

// IsTestnet always reports true for the simulation.
func (p *PaperExchange) IsTestnet() bool { return true }

// SetPrice drives the simulated market price for a symbol and fills any
// resting orders the new price crosses.
func (p *PaperExchange) SetPrice(symbol string, price float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.prices[symbol] = price

	for _, o := range p.orders {
		if o.symbol != symbol || o.status != models.OrderResting {
			continue
		}
		if (o.side == models.Buy && price <= o.price) ||
			(o.side == models.Sell && price >= o.price) {
			o.status = models.OrderFilledNow
		}
	}
}

// GetMarketData reports the driven price as mid with a synthetic spread.
func (p *PaperExchange) GetMarketData(symbol string) (*models.MarketData, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.connected {
		return nil, &models.ConnectivityError{Reason: "not connected"}
	}
	price, ok := p.prices[symbol]
	if !ok {
		return nil, &models.ConnectivityError{Reason: "no price set for " + symbol}
	}
	return &models.MarketData{
		Symbol:    symbol,
		MidPrice:  price,
		BestBid:   price * (1 - p.spread),
		BestAsk:   price * (1 + p.spread),
		LastPrice: price,
	}, nil
}

func (p *PaperExchange) place(symbol string, side models.Side, quantity, price float64, isPerp bool) (*models.OrderResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.connected {
		return nil, &models.ConnectivityError{Reason: "not connected"}
	}

	p.nextID++
	o := &paperOrder{
		id:       p.nextID,
		symbol:   symbol,
		side:     side,
		quantity: quantity,
		price:    price,
		isPerp:   isPerp,
		status:   models.OrderResting,
	}

	// A marketable limit order fills immediately at its limit price.
	if market, ok := p.prices[symbol]; ok {
		if (side == models.Buy && market <= price) ||
			(side == models.Sell && market >= price) {
			o.status = models.OrderFilledNow
		}
	}
	p.orders[o.id] = o

	executed := 0.0
	if o.status == models.OrderFilledNow {
		executed = quantity
	}
	return &models.OrderResult{
		OrderID:     o.id,
		Status:      o.status,
		Price:       price,
		ExecutedQty: executed,
	}, nil
}

// LimitBuy places a simulated spot limit buy.
func (p *PaperExchange) LimitBuy(symbol string, quantity, price float64) (*models.OrderResult, error) {
	return p.place(symbol, models.Buy, quantity, price, false)
}

// LimitSell places a simulated spot limit sell.
func (p *PaperExchange) LimitSell(symbol string, quantity, price float64) (*models.OrderResult, error) {
	return p.place(symbol, models.Sell, quantity, price, false)
}

// PerpLimitBuy places a simulated perpetual limit buy.
func (p *PaperExchange) PerpLimitBuy(symbol string, quantity, price float64, leverage int) (*models.OrderResult, error) {
	p.mu.Lock()
	p.leverage[symbol] = leverage
	p.mu.Unlock()
	return p.place(symbol, models.Buy, quantity, price, true)
}

// PerpLimitSell places a simulated perpetual limit sell.
func (p *PaperExchange) PerpLimitSell(symbol string, quantity, price float64, leverage int) (*models.OrderResult, error) {
	p.mu.Lock()
	p.leverage[symbol] = leverage
	p.mu.Unlock()
	return p.place(symbol, models.Sell, quantity, price, true)
}

// GetOrderStatus reports the simulated state of an order.
func (p *PaperExchange) GetOrderStatus(symbol string, orderID int64, isPerp bool) (*models.OrderResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	o, ok := p.orders[orderID]
	if !ok {
		return nil, &models.NotFoundError{Kind: "order", ID: formatID(orderID)}
	}
	executed := 0.0
	if o.status == models.OrderFilledNow {
		executed = o.quantity
	}
	return &models.OrderResult{
		OrderID:     o.id,
		Status:      o.status,
		Price:       o.price,
		ExecutedQty: executed,
	}, nil
}

// CancelOrder cancels a resting simulated order. Cancelling a filled order
// fails the way a venue would reject it.
func (p *PaperExchange) CancelOrder(symbol string, orderID int64, isPerp bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	o, ok := p.orders[orderID]
	if !ok {
		return &models.NotFoundError{Kind: "order", ID: formatID(orderID)}
	}
	if o.status != models.OrderResting {
		return &models.StateError{ID: formatID(orderID), Reason: "order is not open"}
	}
	o.status = models.OrderRejected
	return nil
}

// SetLeverage records the requested leverage.
func (p *PaperExchange) SetLeverage(symbol string, leverage int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.connected {
		return &models.ConnectivityError{Reason: "not connected"}
	}
	p.leverage[symbol] = leverage
	return nil
}

// Leverage returns the last leverage recorded for the symbol.
func (p *PaperExchange) Leverage(symbol string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.leverage[symbol]
}
