package grid

import (
	"fmt"
	"sync"
	"time"

	"elysium-trading-go/internal/exchange"
	"elysium-trading-go/internal/models"

	"github.com/jxskiss/base62"
	"go.uber.org/zap"
)

// Recorder receives every fill and lifecycle transition the engine observes.
// Implementations must not block; the journal satisfies this with a buffered
// channel.
type Recorder interface {
	RecordFill(fill models.Fill)
	RecordEvent(gridID, event string)
}

// Options are the engine's tuning knobs.
type Options struct {
	MonitorInterval   time.Duration // poll interval of each grid monitor
	OrderPace         time.Duration // delay between consecutive submissions
	PriceFailureLimit int           // consecutive market-data failures before a grid is marked error
}

// DefaultOptions returns the production defaults.
func DefaultOptions() Options {
	return Options{
		MonitorInterval:   5 * time.Second,
		OrderPace:         500 * time.Millisecond,
		PriceFailureLimit: 5,
	}
}

// Engine owns every grid in the process. Active and completed grids live in
// two maps guarded by one RWMutex; all lifecycle transitions happen under
// that lock while network I/O happens outside it, so long connector calls
// never block status reads.
type Engine struct {
	connector exchange.Connector
	recorder  Recorder
	opts      Options
	logger    *zap.SugaredLogger

	mu        sync.RWMutex
	active    map[string]*models.Grid
	completed map[string]*models.Grid
	monitors  map[string]chan struct{}
	starting  map[string]bool
	stopping  map[string]bool
	idCounter int64
}

// NewEngine creates a grid engine. recorder may be nil.
func NewEngine(connector exchange.Connector, recorder Recorder, opts Options, logger *zap.SugaredLogger) *Engine {
	if opts.MonitorInterval <= 0 {
		opts.MonitorInterval = DefaultOptions().MonitorInterval
	}
	if opts.PriceFailureLimit <= 0 {
		opts.PriceFailureLimit = DefaultOptions().PriceFailureLimit
	}
	return &Engine{
		connector: connector,
		recorder:  recorder,
		opts:      opts,
		logger:    logger,
		active:    make(map[string]*models.Grid),
		completed: make(map[string]*models.Grid),
		monitors:  make(map[string]chan struct{}),
		starting:  make(map[string]bool),
		stopping:  make(map[string]bool),
	}
}

// CreateGridParams are the inputs to CreateGrid.
type CreateGridParams struct {
	Symbol          string
	UpperPrice      float64
	LowerPrice      float64
	NumGrids        int
	TotalInvestment float64
	IsPerp          bool
	Leverage        int
	TakeProfit      *float64
	StopLoss        *float64
}

// CreateGrid validates the parameters and stores a new grid with status
// created. Validation failures have no side effects.
func (e *Engine) CreateGrid(p CreateGridParams) (string, error) {
	if p.UpperPrice <= p.LowerPrice {
		return "", &models.ValidationError{Reason: "upper price must be greater than lower price"}
	}
	if p.NumGrids < 2 {
		return "", &models.ValidationError{Reason: "number of grids must be at least 2"}
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.idCounter++
	id := fmt.Sprintf("grid_%s_%d", base62.FormatInt(time.Now().UnixMilli()), e.idCounter)

	g := &models.Grid{
		ID:                id,
		Symbol:            p.Symbol,
		UpperPrice:        p.UpperPrice,
		LowerPrice:        p.LowerPrice,
		NumGrids:          p.NumGrids,
		PriceInterval:     (p.UpperPrice - p.LowerPrice) / float64(p.NumGrids-1),
		TotalInvestment:   p.TotalInvestment,
		InvestmentPerGrid: p.TotalInvestment / float64(p.NumGrids),
		IsPerp:            p.IsPerp,
		Leverage:          p.Leverage,
		TakeProfit:        p.TakeProfit,
		StopLoss:          p.StopLoss,
		CreatedAt:         time.Now(),
		Status:            models.GridCreated,
		BuyOnlyMode:       true,
	}
	e.active[id] = g

	e.logger.Infow("created grid", "grid", id, "symbol", p.Symbol,
		"range", fmt.Sprintf("%.4f-%.4f", p.LowerPrice, p.UpperPrice), "levels", p.NumGrids)
	e.recordEvent(id, string(models.GridCreated))
	return id, nil
}

// recordEvent forwards a lifecycle transition to the recorder, if any.
func (e *Engine) recordEvent(gridID, event string) {
	if e.recorder != nil {
		e.recorder.RecordEvent(gridID, event)
	}
}

// StartGrid resolves the current price, submits a resting buy at every
// ladder level strictly below it (best effort, ascending, paced) and spawns
// the grid's monitor. Sell orders are never placed at start time.
func (e *Engine) StartGrid(gridID string) (*models.StartGridResult, error) {
	e.mu.Lock()
	g, ok := e.active[gridID]
	if !ok {
		e.mu.Unlock()
		return nil, &models.NotFoundError{Kind: "grid", ID: gridID}
	}
	if g.Status == models.GridActive || e.starting[gridID] {
		e.mu.Unlock()
		return nil, &models.StateError{ID: gridID, Reason: "grid is already active"}
	}
	if !e.connector.IsConnected() {
		e.mu.Unlock()
		return nil, &models.ConnectivityError{Reason: "connector is not connected"}
	}
	e.starting[gridID] = true
	symbol := g.Symbol
	lower, upper := g.LowerPrice, g.UpperPrice
	levels := g.Levels()
	perGrid := g.InvestmentPerGrid
	isPerp := g.IsPerp
	leverage := g.Leverage
	e.mu.Unlock()

	clearStarting := func() {
		e.mu.Lock()
		delete(e.starting, gridID)
		e.mu.Unlock()
	}

	currentPrice, err := e.resolvePrice(symbol)
	if err != nil {
		e.mu.Lock()
		g.LastError = err.Error()
		delete(e.starting, gridID)
		e.mu.Unlock()
		return nil, err
	}

	warning := ""
	if currentPrice < lower || currentPrice > upper {
		warning = fmt.Sprintf("current price %.4f is outside grid range %.4f-%.4f", currentPrice, lower, upper)
		e.logger.Warnw("starting grid outside its range", "grid", gridID, "price", currentPrice)
	}

	// Buy-only phase: one resting buy per level strictly below the current
	// price, submitted in ascending price order. Failures are counted, never
	// escalated.
	var orders []models.GridOrder
	attempted, placed := 0, 0
	for i, level := range levels {
		if level >= currentPrice {
			continue
		}
		attempted++
		quantity := perGrid / level

		var res *models.OrderResult
		var oerr error
		if isPerp {
			res, oerr = e.connector.PerpLimitBuy(symbol, quantity, level, leverage)
		} else {
			res, oerr = e.connector.LimitBuy(symbol, quantity, level)
		}
		if oerr != nil || res.Status == models.OrderRejected {
			e.logger.Errorw("buy submission failed", "grid", gridID, "price", level, "error", oerr)
		} else {
			placed++
			orders = append(orders, models.GridOrder{
				OrderID:  res.OrderID,
				Level:    i,
				Price:    level,
				Quantity: quantity,
				Side:     models.Buy,
				Status:   models.OrderOpen,
			})
			e.logger.Infow("placed buy order", "grid", gridID, "order", res.OrderID, "price", level, "qty", quantity)
		}

		// Pace submissions to respect venue rate limits.
		if e.opts.OrderPace > 0 {
			time.Sleep(e.opts.OrderPace)
		}
	}

	stopCh := make(chan struct{})

	e.mu.Lock()
	g.Orders = orders
	g.CurrentPrice = currentPrice
	g.Status = models.GridActive
	g.BuyOnlyMode = true
	e.monitors[gridID] = stopCh
	e.mu.Unlock()
	clearStarting()
	e.recordEvent(gridID, string(models.GridActive))

	go e.runMonitor(gridID, stopCh)

	if failed := attempted - placed; failed > 0 {
		e.logger.Warnw("grid started with partial failures", "grid", gridID,
			"partial", (&models.PartialFailure{Op: "start_grid", Attempted: attempted, Succeeded: placed, Failed: failed}).Error())
	} else {
		e.logger.Infow("grid started", "grid", gridID, "buy_orders", placed, "price", currentPrice)
	}

	return &models.StartGridResult{
		GridID:          gridID,
		OrdersAttempted: attempted,
		OrdersPlaced:    placed,
		BuyOrders:       placed,
		SellOrders:      0,
		CurrentPrice:    currentPrice,
		Warning:         warning,
	}, nil
}

// resolvePrice applies the market-data fallback order: mid price, average of
// best bid/ask, best bid, best ask, last trade.
func (e *Engine) resolvePrice(symbol string) (float64, error) {
	md, err := e.connector.GetMarketData(symbol)
	if err != nil {
		return 0, &models.ConnectivityError{Reason: fmt.Sprintf("market data for %s: %v", symbol, err)}
	}
	if p := priceFromMarketData(md); p > 0 {
		return p, nil
	}
	return 0, &models.ConnectivityError{Reason: "could not determine current price for " + symbol}
}

// StopGrid cancels the grid's locally open orders (best effort), signals the
// monitor and moves the grid into the completed set with status stopped.
func (e *Engine) StopGrid(gridID string) (*models.StopGridResult, error) {
	return e.stopGrid(gridID, models.GridStopped)
}

func (e *Engine) stopGrid(gridID string, final models.GridStatus) (*models.StopGridResult, error) {
	e.mu.Lock()
	g, ok := e.active[gridID]
	if !ok {
		if _, done := e.completed[gridID]; done {
			e.mu.Unlock()
			return nil, &models.StateError{ID: gridID, Reason: "grid is not active"}
		}
		e.mu.Unlock()
		return nil, &models.NotFoundError{Kind: "grid", ID: gridID}
	}
	if g.Status != models.GridActive && g.Status != models.GridError {
		e.mu.Unlock()
		return nil, &models.StateError{ID: gridID, Reason: "grid is not active"}
	}
	if e.stopping[gridID] {
		e.mu.Unlock()
		return nil, &models.StateError{ID: gridID, Reason: "stop already in progress"}
	}
	e.stopping[gridID] = true

	// Signal the monitor before cancelling so it stops submitting.
	if stopCh, running := e.monitors[gridID]; running {
		close(stopCh)
		delete(e.monitors, gridID)
	}

	symbol, isPerp := g.Symbol, g.IsPerp
	var open []models.GridOrder
	for _, o := range g.Orders {
		if o.Status == models.OrderOpen {
			open = append(open, o)
		}
	}
	e.mu.Unlock()

	// Best-effort cancellation outside the lock.
	cancelled := 0
	cancelledIDs := make(map[int64]bool, len(open))
	for _, o := range open {
		if err := e.connector.CancelOrder(symbol, o.OrderID, isPerp); err != nil {
			e.logger.Errorw("cancel failed", "grid", gridID, "order", o.OrderID, "error", err)
			continue
		}
		cancelled++
		cancelledIDs[o.OrderID] = true
	}

	e.mu.Lock()
	for i := range g.Orders {
		if cancelledIDs[g.Orders[i].OrderID] {
			g.Orders[i].Status = models.OrderCancelled
		}
	}
	g.Status = final
	delete(e.active, gridID)
	e.completed[gridID] = g
	delete(e.stopping, gridID)
	pnl := g.ProfitLoss
	e.mu.Unlock()
	e.recordEvent(gridID, string(final))

	failed := len(open) - cancelled
	if failed > 0 {
		e.logger.Warnw("grid stopped with cancel failures", "grid", gridID,
			"partial", (&models.PartialFailure{Op: "stop_grid", Attempted: len(open), Succeeded: cancelled, Failed: failed}).Error())
	} else {
		e.logger.Infow("grid stopped", "grid", gridID, "cancelled", cancelled, "status", final)
	}

	return &models.StopGridResult{
		GridID:           gridID,
		CancelsAttempted: len(open),
		Cancelled:        cancelled,
		CancelsFailed:    failed,
		ProfitLoss:       pnl,
	}, nil
}

// GetGridStatus returns a snapshot copy of the grid from whichever set
// holds it.
func (e *Engine) GetGridStatus(gridID string) (*models.Grid, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if g, ok := e.active[gridID]; ok {
		return copyGrid(g), nil
	}
	if g, ok := e.completed[gridID]; ok {
		return copyGrid(g), nil
	}
	return nil, &models.NotFoundError{Kind: "grid", ID: gridID}
}

// ListGrids returns snapshot copies of all grids.
func (e *Engine) ListGrids() *models.GridList {
	e.mu.RLock()
	defer e.mu.RUnlock()

	list := &models.GridList{
		Active:    make([]models.Grid, 0, len(e.active)),
		Completed: make([]models.Grid, 0, len(e.completed)),
	}
	for _, g := range e.active {
		list.Active = append(list.Active, *copyGrid(g))
	}
	for _, g := range e.completed {
		list.Completed = append(list.Completed, *copyGrid(g))
	}
	return list
}

// StopAll stops every active grid; used during shutdown.
func (e *Engine) StopAll() {
	e.mu.RLock()
	ids := make([]string, 0, len(e.active))
	for id, g := range e.active {
		if g.Status == models.GridActive || g.Status == models.GridError {
			ids = append(ids, id)
		}
	}
	e.mu.RUnlock()

	for _, id := range ids {
		if _, err := e.StopGrid(id); err != nil {
			e.logger.Warnw("stop during shutdown failed", "grid", id, "error", err)
		}
	}
}

// copyGrid deep-copies a grid so callers can read it without the lock.
func copyGrid(g *models.Grid) *models.Grid {
	cp := *g
	cp.Orders = make([]models.GridOrder, len(g.Orders))
	copy(cp.Orders, g.Orders)
	cp.FilledOrders = make([]models.Fill, len(g.FilledOrders))
	copy(cp.FilledOrders, g.FilledOrders)
	if g.TakeProfit != nil {
		tp := *g.TakeProfit
		cp.TakeProfit = &tp
	}
	if g.StopLoss != nil {
		sl := *g.StopLoss
		cp.StopLoss = &sl
	}
	return &cp
}
