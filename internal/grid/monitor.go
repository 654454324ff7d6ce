package grid

import (
	"time"

	"elysium-trading-go/internal/models"
)

// runMonitor is the per-grid background loop. Each tick it refreshes the
// current price, polls the grid's open orders and promotes buy fills into
// paired sell orders. It exits when the grid leaves the active state or when
// its stop channel is signalled.
func (e *Engine) runMonitor(gridID string, stopCh chan struct{}) {
	ticker := time.NewTicker(e.opts.MonitorInterval)
	defer ticker.Stop()

	failures := 0
	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			if !e.monitorTick(gridID, stopCh, &failures) {
				return
			}
		}
	}
}

// monitorSnapshot is the part of grid state one tick works on, copied under
// the read lock so connector calls never hold it.
type monitorSnapshot struct {
	symbol     string
	isPerp     bool
	leverage   int
	interval   float64
	investment float64
	takeProfit *float64
	stopLoss   *float64
	openOrders []models.GridOrder
}

// monitorTick runs one poll cycle. It returns false when the monitor should
// exit.
func (e *Engine) monitorTick(gridID string, stopCh chan struct{}, failures *int) bool {
	snap, ok := e.snapshotForTick(gridID)
	if !ok {
		return false
	}

	md, err := e.connector.GetMarketData(snap.symbol)
	if err != nil {
		*failures++
		e.logger.Warnw("market data failed", "grid", gridID, "consecutive", *failures, "error", err)
		if *failures >= e.opts.PriceFailureLimit {
			e.markGridError(gridID, "market data unavailable: "+err.Error())
			return false
		}
		return true
	}
	*failures = 0

	price := priceFromMarketData(md)
	if price > 0 {
		e.mu.Lock()
		if g, live := e.active[gridID]; live {
			g.CurrentPrice = price
		}
		e.mu.Unlock()
	}

	for _, o := range snap.openOrders {
		if stopped(stopCh) {
			return false
		}
		res, oerr := e.connector.GetOrderStatus(snap.symbol, o.OrderID, snap.isPerp)
		if oerr != nil {
			e.logger.Debugw("order status poll failed", "grid", gridID, "order", o.OrderID, "error", oerr)
			continue
		}
		if res.Status == models.OrderFilledNow {
			e.handleFill(gridID, snap, o, stopCh)
		}
	}

	if snap.takeProfit != nil || snap.stopLoss != nil {
		if done := e.checkExitTargets(gridID, snap, price); done {
			return false
		}
	}
	return true
}

func (e *Engine) snapshotForTick(gridID string) (monitorSnapshot, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	g, ok := e.active[gridID]
	if !ok || g.Status != models.GridActive {
		return monitorSnapshot{}, false
	}
	snap := monitorSnapshot{
		symbol:     g.Symbol,
		isPerp:     g.IsPerp,
		leverage:   g.Leverage,
		interval:   g.PriceInterval,
		investment: g.TotalInvestment,
		takeProfit: g.TakeProfit,
		stopLoss:   g.StopLoss,
	}
	for _, o := range g.Orders {
		if o.Status == models.OrderOpen {
			snap.openOrders = append(snap.openOrders, o)
		}
	}
	return snap, true
}

// handleFill records a fill exactly once and, for buys, places the paired
// sell one interval above the filled level.
func (e *Engine) handleFill(gridID string, snap monitorSnapshot, o models.GridOrder, stopCh chan struct{}) {
	e.mu.Lock()
	g, ok := e.active[gridID]
	if !ok {
		e.mu.Unlock()
		return
	}
	recorded := false
	for i := range g.Orders {
		if g.Orders[i].OrderID != o.OrderID {
			continue
		}
		// A fill may be observed on several ticks; only the first one counts.
		if g.Orders[i].Status != models.OrderOpen {
			e.mu.Unlock()
			return
		}
		g.Orders[i].Status = models.OrderFilled
		recorded = true
		break
	}
	if !recorded {
		e.mu.Unlock()
		return
	}

	fill := models.Fill{
		GridID:   gridID,
		Level:    o.Level,
		Side:     o.Side,
		Price:    o.Price,
		Quantity: o.Quantity,
		Time:     time.Now(),
	}
	if o.Side == models.Sell {
		// The paired buy sat one interval below, same quantity.
		fill.Profit = snap.interval * o.Quantity
		g.ProfitLoss += fill.Profit
	}
	g.FilledOrders = append(g.FilledOrders, fill)
	e.mu.Unlock()

	if e.recorder != nil {
		e.recorder.RecordFill(fill)
	}
	e.logger.Infow("order filled", "grid", gridID, "side", o.Side, "price", o.Price,
		"qty", o.Quantity, "profit", fill.Profit)

	if o.Side != models.Buy || stopped(stopCh) {
		return
	}

	// Promote the filled buy: a sell one interval above closes out the level.
	sellPrice := o.Price + snap.interval
	var res *models.OrderResult
	var err error
	if snap.isPerp {
		res, err = e.connector.PerpLimitSell(snap.symbol, o.Quantity, sellPrice, snap.leverage)
	} else {
		res, err = e.connector.LimitSell(snap.symbol, o.Quantity, sellPrice)
	}
	if err != nil || res.Status == models.OrderRejected {
		e.logger.Errorw("paired sell failed", "grid", gridID, "price", sellPrice, "error", err)
		return
	}

	// The grid may have been stopped while the sell was in flight. Track the
	// order only if the grid is still live and not mid-stop; otherwise the
	// stop's cancel pass has already run without it, so pull it back.
	e.mu.Lock()
	if g, ok := e.active[gridID]; ok && !e.stopping[gridID] {
		g.Orders = append(g.Orders, models.GridOrder{
			OrderID:  res.OrderID,
			Level:    o.Level,
			Price:    sellPrice,
			Quantity: o.Quantity,
			Side:     models.Sell,
			Status:   models.OrderOpen,
		})
		g.BuyOnlyMode = false
		e.mu.Unlock()
		e.logger.Infow("placed paired sell", "grid", gridID, "order", res.OrderID, "price", sellPrice)
		return
	}
	e.mu.Unlock()

	if cerr := e.connector.CancelOrder(snap.symbol, res.OrderID, snap.isPerp); cerr != nil {
		e.logger.Warnw("could not cancel sell placed while stopping", "grid", gridID, "order", res.OrderID, "error", cerr)
	} else {
		e.logger.Infow("cancelled sell placed while stopping", "grid", gridID, "order", res.OrderID)
	}
}

// checkExitTargets evaluates the grid's take-profit / stop-loss thresholds
// against current PnL and, when one is hit, winds the grid down with status
// completed. Returns true when the monitor should exit.
func (e *Engine) checkExitTargets(gridID string, snap monitorSnapshot, price float64) bool {
	e.mu.RLock()
	g, ok := e.active[gridID]
	if !ok || g.Status != models.GridActive {
		e.mu.RUnlock()
		return true
	}
	pnl := g.ProfitLoss
	if price > 0 {
		// Mark open buy positions (filled buys whose paired sell has not
		// filled) to the current price.
		sold := make(map[int]bool)
		for _, f := range g.FilledOrders {
			if f.Side == models.Sell {
				sold[f.Level] = true
			}
		}
		for _, f := range g.FilledOrders {
			if f.Side == models.Buy && !sold[f.Level] {
				pnl += (price - f.Price) * f.Quantity
			}
		}
	}
	e.mu.RUnlock()

	if snap.investment <= 0 {
		return false
	}
	pct := pnl / snap.investment * 100

	triggered := ""
	if snap.takeProfit != nil && pct >= *snap.takeProfit {
		triggered = "take-profit"
	} else if snap.stopLoss != nil && pct <= -*snap.stopLoss {
		triggered = "stop-loss"
	}
	if triggered == "" {
		return false
	}

	e.logger.Infow("exit target hit", "grid", gridID, "trigger", triggered, "pnl_pct", pct)
	if _, err := e.stopGrid(gridID, models.GridCompleted); err != nil {
		e.logger.Warnw("auto-stop failed", "grid", gridID, "error", err)
	}
	return true
}

// markGridError flags a grid whose market data has been failing and leaves
// it in the active set for the operator to stop.
func (e *Engine) markGridError(gridID string, reason string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	g, ok := e.active[gridID]
	if !ok {
		return
	}
	g.Status = models.GridError
	g.LastError = reason
	delete(e.monitors, gridID)
	e.logger.Errorw("grid entered error state", "grid", gridID, "reason", reason)
	e.recordEvent(gridID, string(models.GridError))
}

func stopped(stopCh chan struct{}) bool {
	select {
	case <-stopCh:
		return true
	default:
		return false
	}
}

// priceFromMarketData applies the same fallback order the engine uses at
// start time.
func priceFromMarketData(md *models.MarketData) float64 {
	switch {
	case md.MidPrice > 0:
		return md.MidPrice
	case md.BestBid > 0 && md.BestAsk > 0:
		return (md.BestBid + md.BestAsk) / 2
	case md.BestBid > 0:
		return md.BestBid
	case md.BestAsk > 0:
		return md.BestAsk
	default:
		return md.LastPrice
	}
}
