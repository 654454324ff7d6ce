package strategy

import (
	"sync"
	"time"

	"elysium-trading-go/internal/grid"
	"elysium-trading-go/internal/models"
)

// SequentialGrid drives one grid through the grid engine: it creates and
// starts the grid when the strategy starts, then watches it until the grid
// finishes or the strategy is stopped. Stopping the strategy stops the grid.
type SequentialGrid struct {
	deps   Deps
	params grid.CreateGridParams

	mu      sync.Mutex
	running bool
	stopped bool // sticky: a stop before Start must not be lost
	stopCh  chan struct{}
	gridID  string
}

// SequentialGridInfo describes the strategy and its parameter schema.
func SequentialGridInfo() models.StrategyInfo {
	return models.StrategyInfo{
		ID:          "sequential_grid",
		Name:        "Sequential Grid",
		Description: "Runs a buy-only price ladder that promotes each filled buy into a paired sell one level above.",
		DefaultParams: models.ParamSchema{
			"symbol":           {Value: "BTC/USDT", Type: "string", Description: "Trading pair"},
			"upper_price":      {Value: 0.0, Type: "float", Description: "Top of the ladder"},
			"lower_price":      {Value: 0.0, Type: "float", Description: "Bottom of the ladder"},
			"num_grids":        {Value: 10, Type: "int", Description: "Number of ladder levels"},
			"total_investment": {Value: 1000.0, Type: "float", Description: "Quote currency split evenly across levels"},
			"is_perp":          {Value: false, Type: "bool", Description: "Trade the perpetual market"},
			"leverage":         {Value: 1, Type: "int", Description: "Leverage for perpetual grids"},
			"take_profit":      {Value: 0.0, Type: "float", Description: "Auto-complete at this PnL percent of investment, 0 disables"},
			"stop_loss":        {Value: 0.0, Type: "float", Description: "Auto-complete at this loss percent of investment, 0 disables"},
		},
	}
}

// NewSequentialGrid validates the parameters and builds an instance. Grid
// creation is deferred to Start so a failed construction has no side
// effects.
func NewSequentialGrid(deps Deps, params map[string]any) (Strategy, error) {
	symbol, err := stringParam(params, "symbol", "BTC/USDT")
	if err != nil {
		return nil, err
	}
	upper, err := floatParam(params, "upper_price", 0)
	if err != nil {
		return nil, err
	}
	lower, err := floatParam(params, "lower_price", 0)
	if err != nil {
		return nil, err
	}
	numGrids, err := intParam(params, "num_grids", 10)
	if err != nil {
		return nil, err
	}
	investment, err := floatParam(params, "total_investment", 1000)
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
	takeProfit, err := floatParam(params, "take_profit", 0)
	if err != nil {
		return nil, err
	}
	stopLoss, err := floatParam(params, "stop_loss", 0)
	if err != nil {
		return nil, err
	}

	if upper <= lower {
		return nil, &models.ValidationError{Reason: "upper_price must be greater than lower_price"}
	}
	if numGrids < 2 {
		return nil, &models.ValidationError{Reason: "num_grids must be at least 2"}
	}
	if investment <= 0 {
		return nil, &models.ValidationError{Reason: "total_investment must be positive"}
	}

	p := grid.CreateGridParams{
		Symbol:          symbol,
		UpperPrice:      upper,
		LowerPrice:      lower,
		NumGrids:        numGrids,
		TotalInvestment: investment,
		IsPerp:          isPerp,
		Leverage:        leverage,
	}
	if takeProfit > 0 {
		p.TakeProfit = &takeProfit
	}
	if stopLoss > 0 {
		p.StopLoss = &stopLoss
	}

	return &SequentialGrid{
		deps:   deps,
		params: p,
		stopCh: make(chan struct{}),
	}, nil
}

// Info returns the strategy descriptor.
func (s *SequentialGrid) Info() models.StrategyInfo { return SequentialGridInfo() }

// IsRunning reports whether the run loop is live.
func (s *SequentialGrid) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Stop signals the run loop. It never blocks, and the signal sticks: a stop
// delivered before Start makes Start return immediately.
func (s *SequentialGrid) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	s.stopped = true
	s.running = false
	close(s.stopCh)
}

// GridID returns the id of the grid this instance created, once started.
func (s *SequentialGrid) GridID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gridID
}

// Start creates and starts the grid, then watches it until it completes or
// the strategy is stopped.
func (s *SequentialGrid) Start() error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	if s.running {
		s.mu.Unlock()
		return &models.StateError{ID: "sequential_grid", Reason: "already running"}
	}
	s.running = true
	stopCh := s.stopCh
	s.mu.Unlock()

	log := s.deps.Logger

	gridID, err := s.deps.Grids.CreateGrid(s.params)
	if err != nil {
		s.markStopped()
		return err
	}
	s.mu.Lock()
	s.gridID = gridID
	s.mu.Unlock()

	result, err := s.deps.Grids.StartGrid(gridID)
	if err != nil {
		s.markStopped()
		return err
	}
	log.Infow("sequential grid running", "grid", gridID,
		"buy_orders", result.BuyOrders, "price", result.CurrentPrice)

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-stopCh:
			if _, err := s.deps.Grids.StopGrid(gridID); err != nil {
				log.Warnw("grid stop on shutdown failed", "grid", gridID, "error", err)
			}
			return nil
		case <-ticker.C:
			g, err := s.deps.Grids.GetGridStatus(gridID)
			if err != nil {
				s.markStopped()
				return err
			}
			switch g.Status {
			case models.GridActive, models.GridError:
				// Error grids stay up for the operator; keep watching.
			default:
				log.Infow("grid finished", "grid", gridID, "status", g.Status, "pnl", g.ProfitLoss)
				s.markStopped()
				return nil
			}
		}
	}
}

func (s *SequentialGrid) markStopped() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running = false
}
