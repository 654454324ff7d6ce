package strategy

import (
	"math"
	"sync"
	"time"

	"elysium-trading-go/internal/models"
)

// PureMM quotes a single symbol with one bid and one ask around the mid
// price and refreshes the pair on a fixed interval. Each cycle cancels the
// previous quotes before placing new ones.
type PureMM struct {
	deps Deps

	symbol    string
	quantity  float64
	bidSpread float64 // percent below mid
	askSpread float64 // percent above mid
	refresh   time.Duration
	tickSize  float64 // quote prices snap to this grid
	isPerp    bool
	leverage  int

	mu      sync.Mutex
	running bool
	stopped bool // sticky: a stop before Start must not be lost
	stopCh  chan struct{}
	quotes  []int64
}

// PureMMInfo describes the strategy and its parameter schema.
func PureMMInfo() models.StrategyInfo {
	return models.StrategyInfo{
		ID:          "pure_mm",
		Name:        "Pure Market Making",
		Description: "Quotes a bid and an ask around the mid price and refreshes them on a fixed interval.",
		DefaultParams: models.ParamSchema{
			"symbol":           {Value: "BTC/USDT", Type: "string", Description: "Trading pair to quote"},
			"order_quantity":   {Value: 0.001, Type: "float", Description: "Size of each quote"},
			"bid_spread":       {Value: 0.1, Type: "float", Description: "Bid distance below mid, percent"},
			"ask_spread":       {Value: 0.1, Type: "float", Description: "Ask distance above mid, percent"},
			"refresh_interval": {Value: 10, Type: "int", Description: "Seconds between quote refreshes"},
			"tick_size":        {Value: 0.01, Type: "float", Description: "Price increment quotes are rounded to"},
			"is_perp":          {Value: false, Type: "bool", Description: "Quote the perpetual market"},
			"leverage":         {Value: 1, Type: "int", Description: "Leverage for perpetual quoting"},
		},
	}
}

// NewPureMM validates the parameters and builds an instance.
func NewPureMM(deps Deps, params map[string]any) (Strategy, error) {
	symbol, err := stringParam(params, "symbol", "BTC/USDT")
	if err != nil {
		return nil, err
	}
	quantity, err := floatParam(params, "order_quantity", 0.001)
	if err != nil {
		return nil, err
	}
	bidSpread, err := floatParam(params, "bid_spread", 0.1)
	if err != nil {
		return nil, err
	}
	askSpread, err := floatParam(params, "ask_spread", 0.1)
	if err != nil {
		return nil, err
	}
	refresh, err := intParam(params, "refresh_interval", 10)
	if err != nil {
		return nil, err
	}
	tickSize, err := floatParam(params, "tick_size", 0.01)
	if err != nil {
		return nil, err
	}
	isPerp, err := boolParam(params, "is_perp", false)
	if err != nil {
		return nil, err
	}
	leverage, err := intParam(params, "leverage", 1)
	if err != nil {
		return nil, err
	}

	if quantity <= 0 {
		return nil, &models.ValidationError{Reason: "order_quantity must be positive"}
	}
	if bidSpread <= 0 || askSpread <= 0 {
		return nil, &models.ValidationError{Reason: "spreads must be positive"}
	}
	if refresh <= 0 {
		return nil, &models.ValidationError{Reason: "refresh_interval must be positive"}
	}
	if tickSize <= 0 {
		return nil, &models.ValidationError{Reason: "tick_size must be positive"}
	}

	return &PureMM{
		deps:      deps,
		symbol:    symbol,
		quantity:  quantity,
		bidSpread: bidSpread,
		askSpread: askSpread,
		refresh:   time.Duration(refresh) * time.Second,
		tickSize:  tickSize,
		isPerp:    isPerp,
		leverage:  leverage,
		stopCh:    make(chan struct{}),
	}, nil
}

// Info returns the strategy descriptor.
func (s *PureMM) Info() models.StrategyInfo { return PureMMInfo() }

// IsRunning reports whether the run loop is live.
func (s *PureMM) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Stop signals the run loop. It never blocks, and the signal sticks: a stop
// delivered before Start makes Start return immediately.
func (s *PureMM) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	s.stopped = true
	s.running = false
	close(s.stopCh)
}

// Start runs the quote loop until stopped. Open quotes are cancelled on the
// way out.
func (s *PureMM) Start() error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	if s.running {
		s.mu.Unlock()
		return &models.StateError{ID: "pure_mm", Reason: "already running"}
	}
	s.running = true
	stopCh := s.stopCh
	s.mu.Unlock()

	log := s.deps.Logger
	log.Infow("pure mm started", "symbol", s.symbol, "refresh", s.refresh)

	ticker := time.NewTicker(s.refresh)
	defer ticker.Stop()
	defer s.cancelQuotes()

	// Quote immediately, then on every tick.
	s.refreshQuotes()
	for {
		select {
		case <-stopCh:
			log.Infow("pure mm stopping", "symbol", s.symbol)
			return nil
		case <-ticker.C:
			s.refreshQuotes()
		}
	}
}

// refreshQuotes replaces the working bid/ask pair.
func (s *PureMM) refreshQuotes() {
	log := s.deps.Logger
	s.cancelQuotes()

	md, err := s.deps.Connector.GetMarketData(s.symbol)
	if err != nil {
		log.Warnw("quote refresh skipped, no market data", "symbol", s.symbol, "error", err)
		return
	}
	mid := md.MidPrice
	if mid <= 0 && md.BestBid > 0 && md.BestAsk > 0 {
		mid = (md.BestBid + md.BestAsk) / 2
	}
	if mid <= 0 {
		mid = md.LastPrice
	}
	if mid <= 0 {
		log.Warnw("quote refresh skipped, no usable price", "symbol", s.symbol)
		return
	}

	// Round the bid down and the ask up so rounding never narrows the spread.
	bidPrice := math.Floor(mid*(1-s.bidSpread/100)/s.tickSize) * s.tickSize
	askPrice := math.Ceil(mid*(1+s.askSpread/100)/s.tickSize) * s.tickSize

	var placed []int64
	if res, err := s.placeQuote(models.Buy, bidPrice); err != nil {
		log.Errorw("bid placement failed", "symbol", s.symbol, "price", bidPrice, "error", err)
	} else {
		placed = append(placed, res.OrderID)
	}
	if res, err := s.placeQuote(models.Sell, askPrice); err != nil {
		log.Errorw("ask placement failed", "symbol", s.symbol, "price", askPrice, "error", err)
	} else {
		placed = append(placed, res.OrderID)
	}

	s.mu.Lock()
	s.quotes = placed
	s.mu.Unlock()
	log.Debugw("quotes refreshed", "symbol", s.symbol, "mid", mid, "bid", bidPrice, "ask", askPrice)
}

func (s *PureMM) placeQuote(side models.Side, price float64) (*models.OrderResult, error) {
	if s.isPerp {
		if side == models.Buy {
			return s.deps.Connector.PerpLimitBuy(s.symbol, s.quantity, price, s.leverage)
		}
		return s.deps.Connector.PerpLimitSell(s.symbol, s.quantity, price, s.leverage)
	}
	if side == models.Buy {
		return s.deps.Connector.LimitBuy(s.symbol, s.quantity, price)
	}
	return s.deps.Connector.LimitSell(s.symbol, s.quantity, price)
}

// cancelQuotes pulls the working pair, best effort.
func (s *PureMM) cancelQuotes() {
	s.mu.Lock()
	quotes := s.quotes
	s.quotes = nil
	s.mu.Unlock()

	for _, id := range quotes {
		if err := s.deps.Connector.CancelOrder(s.symbol, id, s.isPerp); err != nil {
			s.deps.Logger.Debugw("quote cancel failed", "symbol", s.symbol, "order", id, "error", err)
		}
	}
}
