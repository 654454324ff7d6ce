package grid

import (
	"errors"
	"sync"
	"testing"
	"time"

	"elysium-trading-go/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// mockConnector is a scriptable in-memory Connector for engine tests.
type mockConnector struct {
	sync.Mutex
	connected  bool
	marketData *models.MarketData
	marketErr  error
	placeErr   error
	nextID     int64
	orders     map[int64]*mockOrder
	cancelled  []int64
	cancelFail map[int64]bool
	sellHook   func() // fires once, after the next sell rests, outside the mock lock
}

type mockOrder struct {
	symbol   string
	side     models.Side
	quantity float64
	price    float64
	status   models.OrderResultStatus
}

func newMockConnector() *mockConnector {
	return &mockConnector{
		connected:  true,
		nextID:     100,
		orders:     make(map[int64]*mockOrder),
		cancelFail: make(map[int64]bool),
	}
}

func (m *mockConnector) Connect(models.Credentials) error { return nil }

func (m *mockConnector) IsConnected() bool {
	m.Lock()
	defer m.Unlock()
	return m.connected
}

func (m *mockConnector) IsTestnet() bool { return true }

func (m *mockConnector) GetMarketData(symbol string) (*models.MarketData, error) {
	m.Lock()
	defer m.Unlock()
	if m.marketErr != nil {
		return nil, m.marketErr
	}
	md := *m.marketData
	md.Symbol = symbol
	return &md, nil
}

func (m *mockConnector) place(symbol string, side models.Side, quantity, price float64) (*models.OrderResult, error) {
	m.Lock()
	if m.placeErr != nil {
		m.Unlock()
		return nil, m.placeErr
	}
	m.nextID++
	id := m.nextID
	m.orders[id] = &mockOrder{
		symbol:   symbol,
		side:     side,
		quantity: quantity,
		price:    price,
		status:   models.OrderResting,
	}
	var hook func()
	if side == models.Sell && m.sellHook != nil {
		hook = m.sellHook
		m.sellHook = nil
	}
	m.Unlock()
	// The hook may call back into the engine, which calls back into the
	// mock, so it must run without the lock.
	if hook != nil {
		hook()
	}
	return &models.OrderResult{OrderID: id, Status: models.OrderResting, Price: price}, nil
}

func (m *mockConnector) LimitBuy(symbol string, quantity, price float64) (*models.OrderResult, error) {
	return m.place(symbol, models.Buy, quantity, price)
}

func (m *mockConnector) LimitSell(symbol string, quantity, price float64) (*models.OrderResult, error) {
	return m.place(symbol, models.Sell, quantity, price)
}

func (m *mockConnector) PerpLimitBuy(symbol string, quantity, price float64, leverage int) (*models.OrderResult, error) {
	return m.place(symbol, models.Buy, quantity, price)
}

func (m *mockConnector) PerpLimitSell(symbol string, quantity, price float64, leverage int) (*models.OrderResult, error) {
	return m.place(symbol, models.Sell, quantity, price)
}

func (m *mockConnector) GetOrderStatus(symbol string, orderID int64, isPerp bool) (*models.OrderResult, error) {
	m.Lock()
	defer m.Unlock()
	o, ok := m.orders[orderID]
	if !ok {
		return nil, errors.New("order not found")
	}
	return &models.OrderResult{OrderID: orderID, Status: o.status, Price: o.price}, nil
}

func (m *mockConnector) CancelOrder(symbol string, orderID int64, isPerp bool) error {
	m.Lock()
	defer m.Unlock()
	if m.cancelFail[orderID] {
		return errors.New("cancel rejected")
	}
	if o, ok := m.orders[orderID]; ok {
		o.status = models.OrderRejected
	}
	m.cancelled = append(m.cancelled, orderID)
	return nil
}

func (m *mockConnector) SetLeverage(symbol string, leverage int) error { return nil }

// fillOrderAt marks the resting order at the given price as filled.
func (m *mockConnector) fillOrderAt(price float64) {
	m.Lock()
	defer m.Unlock()
	for _, o := range m.orders {
		if o.price == price && o.status == models.OrderResting {
			o.status = models.OrderFilledNow
		}
	}
}

// restingAt reports whether any resting order sits at the given price and side.
func (m *mockConnector) restingAt(side models.Side, price float64) bool {
	m.Lock()
	defer m.Unlock()
	for _, o := range m.orders {
		if o.side == side && o.price == price && o.status == models.OrderResting {
			return true
		}
	}
	return false
}

func (m *mockConnector) cancelCount() int {
	m.Lock()
	defer m.Unlock()
	return len(m.cancelled)
}

func newTestEngine(conn *mockConnector) *Engine {
	return NewEngine(conn, nil, Options{
		MonitorInterval:   10 * time.Millisecond,
		OrderPace:         0,
		PriceFailureLimit: 3,
	}, zap.NewNop().Sugar())
}

func defaultParams() CreateGridParams {
	return CreateGridParams{
		Symbol:          "BTC/USDT",
		UpperPrice:      110,
		LowerPrice:      90,
		NumGrids:        5,
		TotalInvestment: 1000,
	}
}

func TestCreateGridValidation(t *testing.T) {
	engine := newTestEngine(newMockConnector())

	p := defaultParams()
	p.UpperPrice = 90
	p.LowerPrice = 110
	_, err := engine.CreateGrid(p)
	var verr *models.ValidationError
	require.ErrorAs(t, err, &verr, "inverted range should fail validation")

	p = defaultParams()
	p.NumGrids = 1
	_, err = engine.CreateGrid(p)
	require.ErrorAs(t, err, &verr, "single level should fail validation")

	// Failed creations must leave no trace.
	list := engine.ListGrids()
	assert.Empty(t, list.Active)
	assert.Empty(t, list.Completed)
}

func TestCreateGridComputesLadder(t *testing.T) {
	engine := newTestEngine(newMockConnector())

	id, err := engine.CreateGrid(defaultParams())
	require.NoError(t, err)

	g, err := engine.GetGridStatus(id)
	require.NoError(t, err)
	assert.Equal(t, models.GridCreated, g.Status)
	assert.Equal(t, 5.0, g.PriceInterval, "interval should be (110-90)/(5-1)")
	assert.Equal(t, 200.0, g.InvestmentPerGrid)
	assert.Equal(t, []float64{90, 95, 100, 105, 110}, g.Levels())
	assert.True(t, g.BuyOnlyMode)
}

func TestStartGridPlacesBuysBelowCurrentPrice(t *testing.T) {
	conn := newMockConnector()
	conn.marketData = &models.MarketData{MidPrice: 102}
	engine := newTestEngine(conn)

	id, err := engine.CreateGrid(defaultParams())
	require.NoError(t, err)

	result, err := engine.StartGrid(id)
	require.NoError(t, err)
	assert.Equal(t, 3, result.OrdersAttempted, "levels 90, 95 and 100 sit below 102")
	assert.Equal(t, 3, result.OrdersPlaced)
	assert.Equal(t, 0, result.SellOrders, "no sells are placed at start")
	assert.Equal(t, 102.0, result.CurrentPrice)
	assert.Empty(t, result.Warning)

	for _, price := range []float64{90, 95, 100} {
		assert.True(t, conn.restingAt(models.Buy, price), "expected resting buy at %.0f", price)
	}
	assert.False(t, conn.restingAt(models.Buy, 105))

	g, err := engine.GetGridStatus(id)
	require.NoError(t, err)
	assert.Equal(t, models.GridActive, g.Status)
	require.Len(t, g.Orders, 3)
	for _, o := range g.Orders {
		assert.Equal(t, models.Buy, o.Side)
		assert.Equal(t, models.OrderOpen, o.Status)
		assert.InDelta(t, 200.0/o.Price, o.Quantity, 1e-9, "quantity is investment-per-grid over level price")
	}

	engine.StopAll()
}

func TestStartGridErrors(t *testing.T) {
	conn := newMockConnector()
	conn.marketData = &models.MarketData{MidPrice: 102}
	engine := newTestEngine(conn)

	var nferr *models.NotFoundError
	_, err := engine.StartGrid("grid_missing")
	require.ErrorAs(t, err, &nferr)

	id, err := engine.CreateGrid(defaultParams())
	require.NoError(t, err)
	_, err = engine.StartGrid(id)
	require.NoError(t, err)

	var serr *models.StateError
	_, err = engine.StartGrid(id)
	require.ErrorAs(t, err, &serr, "starting an active grid should fail")

	engine.StopAll()

	conn.Lock()
	conn.connected = false
	conn.Unlock()
	id2, err := engine.CreateGrid(defaultParams())
	require.NoError(t, err)
	var cerr *models.ConnectivityError
	_, err = engine.StartGrid(id2)
	require.ErrorAs(t, err, &cerr, "disconnected connector should fail the start")
}

func TestStartGridPriceFallback(t *testing.T) {
	conn := newMockConnector()
	conn.marketData = &models.MarketData{BestBid: 99, BestAsk: 103}
	engine := newTestEngine(conn)

	id, err := engine.CreateGrid(defaultParams())
	require.NoError(t, err)
	result, err := engine.StartGrid(id)
	require.NoError(t, err)
	assert.Equal(t, 101.0, result.CurrentPrice, "without a mid the bid/ask average is used")
	engine.StopAll()

	conn2 := newMockConnector()
	conn2.marketData = &models.MarketData{BestBid: 97}
	engine2 := newTestEngine(conn2)
	id2, err := engine2.CreateGrid(defaultParams())
	require.NoError(t, err)
	result2, err := engine2.StartGrid(id2)
	require.NoError(t, err)
	assert.Equal(t, 97.0, result2.CurrentPrice, "a lone bid is the last resort before the ask")
	engine2.StopAll()
}

func TestStartGridOutsideRangeWarns(t *testing.T) {
	conn := newMockConnector()
	conn.marketData = &models.MarketData{MidPrice: 120}
	engine := newTestEngine(conn)

	id, err := engine.CreateGrid(defaultParams())
	require.NoError(t, err)
	result, err := engine.StartGrid(id)
	require.NoError(t, err, "an out-of-range price degrades, it does not fail")
	assert.NotEmpty(t, result.Warning)
	assert.Equal(t, 5, result.OrdersPlaced, "every level sits below 120")
	engine.StopAll()
}

func TestStartGridPartialFailure(t *testing.T) {
	conn := newMockConnector()
	conn.marketData = &models.MarketData{MidPrice: 102}
	conn.placeErr = errors.New("venue rejected")
	engine := newTestEngine(conn)

	id, err := engine.CreateGrid(defaultParams())
	require.NoError(t, err)
	result, err := engine.StartGrid(id)
	require.NoError(t, err, "submission failures never abort the batch")
	assert.Equal(t, 3, result.OrdersAttempted)
	assert.Equal(t, 0, result.OrdersPlaced)

	g, err := engine.GetGridStatus(id)
	require.NoError(t, err)
	assert.Equal(t, models.GridActive, g.Status, "the grid still activates")
	engine.StopAll()
}

func TestBuyFillPromotesToSell(t *testing.T) {
	conn := newMockConnector()
	conn.marketData = &models.MarketData{MidPrice: 102}
	engine := newTestEngine(conn)

	id, err := engine.CreateGrid(defaultParams())
	require.NoError(t, err)
	_, err = engine.StartGrid(id)
	require.NoError(t, err)

	conn.fillOrderAt(100)

	require.Eventually(t, func() bool {
		return conn.restingAt(models.Sell, 105)
	}, time.Second, 5*time.Millisecond, "the filled buy at 100 should spawn a sell at 105")

	g, err := engine.GetGridStatus(id)
	require.NoError(t, err)
	assert.False(t, g.BuyOnlyMode, "the first fill ends buy-only mode")
	require.Len(t, g.FilledOrders, 1)
	assert.Equal(t, models.Buy, g.FilledOrders[0].Side)
	assert.Equal(t, 100.0, g.FilledOrders[0].Price)
	assert.Equal(t, 0.0, g.FilledOrders[0].Profit, "buy fills carry no profit")

	engine.StopAll()
}

func TestSellFillRealizesProfit(t *testing.T) {
	conn := newMockConnector()
	conn.marketData = &models.MarketData{MidPrice: 102}
	engine := newTestEngine(conn)

	id, err := engine.CreateGrid(defaultParams())
	require.NoError(t, err)
	_, err = engine.StartGrid(id)
	require.NoError(t, err)

	conn.fillOrderAt(100)
	require.Eventually(t, func() bool {
		return conn.restingAt(models.Sell, 105)
	}, time.Second, 5*time.Millisecond)

	conn.fillOrderAt(105)
	require.Eventually(t, func() bool {
		g, gerr := engine.GetGridStatus(id)
		return gerr == nil && g.ProfitLoss > 0
	}, time.Second, 5*time.Millisecond, "the sell fill should realize profit")

	g, err := engine.GetGridStatus(id)
	require.NoError(t, err)
	quantity := 200.0 / 100.0
	assert.InDelta(t, 5.0*quantity, g.ProfitLoss, 1e-9, "profit is one interval times the level quantity")

	engine.StopAll()
}

func TestStopGridCancelsOnlyOpenOrders(t *testing.T) {
	conn := newMockConnector()
	conn.marketData = &models.MarketData{MidPrice: 102}
	engine := newTestEngine(conn)

	id, err := engine.CreateGrid(defaultParams())
	require.NoError(t, err)
	_, err = engine.StartGrid(id)
	require.NoError(t, err)

	// Fill two buys so the grid holds one open buy plus two promoted sells.
	conn.fillOrderAt(95)
	conn.fillOrderAt(100)
	require.Eventually(t, func() bool {
		return conn.restingAt(models.Sell, 100) && conn.restingAt(models.Sell, 105)
	}, time.Second, 5*time.Millisecond)

	result, err := engine.StopGrid(id)
	require.NoError(t, err)
	assert.Equal(t, 3, result.CancelsAttempted, "one open buy and two open sells")
	assert.Equal(t, 3, result.Cancelled)
	assert.Equal(t, 0, result.CancelsFailed)
	assert.Equal(t, 3, conn.cancelCount())

	g, err := engine.GetGridStatus(id)
	require.NoError(t, err)
	assert.Equal(t, models.GridStopped, g.Status)

	list := engine.ListGrids()
	assert.Empty(t, list.Active)
	require.Len(t, list.Completed, 1)
}

func TestStopGridTwiceFails(t *testing.T) {
	conn := newMockConnector()
	conn.marketData = &models.MarketData{MidPrice: 102}
	engine := newTestEngine(conn)

	id, err := engine.CreateGrid(defaultParams())
	require.NoError(t, err)
	_, err = engine.StartGrid(id)
	require.NoError(t, err)
	_, err = engine.StopGrid(id)
	require.NoError(t, err)

	before := conn.cancelCount()
	var serr *models.StateError
	_, err = engine.StopGrid(id)
	require.ErrorAs(t, err, &serr, "a stopped grid is no longer active")
	assert.Equal(t, before, conn.cancelCount(), "the failed stop must not cancel anything")

	var nferr *models.NotFoundError
	_, err = engine.StopGrid("grid_missing")
	require.ErrorAs(t, err, &nferr)
}

func TestStopGridCountsCancelFailures(t *testing.T) {
	conn := newMockConnector()
	conn.marketData = &models.MarketData{MidPrice: 102}
	engine := newTestEngine(conn)

	id, err := engine.CreateGrid(defaultParams())
	require.NoError(t, err)
	_, err = engine.StartGrid(id)
	require.NoError(t, err)

	g, err := engine.GetGridStatus(id)
	require.NoError(t, err)
	require.NotEmpty(t, g.Orders)
	conn.Lock()
	conn.cancelFail[g.Orders[0].OrderID] = true
	conn.Unlock()

	result, err := engine.StopGrid(id)
	require.NoError(t, err, "cancel failures never abort the stop")
	assert.Equal(t, 3, result.CancelsAttempted)
	assert.Equal(t, 2, result.Cancelled)
	assert.Equal(t, 1, result.CancelsFailed)
}

func TestSellPlacedDuringStopIsCancelled(t *testing.T) {
	conn := newMockConnector()
	conn.marketData = &models.MarketData{MidPrice: 102}
	engine := newTestEngine(conn)

	id, err := engine.CreateGrid(defaultParams())
	require.NoError(t, err)
	_, err = engine.StartGrid(id)
	require.NoError(t, err)

	// Stop the grid while the paired sell submission is still in flight, so
	// the stop's cancel pass runs before the sell is tracked.
	type stopOutcome struct {
		result *models.StopGridResult
		err    error
	}
	stopped := make(chan stopOutcome, 1)
	conn.Lock()
	conn.sellHook = func() {
		res, serr := engine.StopGrid(id)
		stopped <- stopOutcome{result: res, err: serr}
	}
	conn.Unlock()

	conn.fillOrderAt(100)

	var outcome stopOutcome
	select {
	case outcome = <-stopped:
	case <-time.After(time.Second):
		t.Fatal("the stop never ran")
	}
	require.NoError(t, outcome.err)
	assert.Equal(t, 2, outcome.result.CancelsAttempted, "only the open buys at 90 and 95 were known at stop time")

	require.Eventually(t, func() bool {
		return !conn.restingAt(models.Sell, 105)
	}, time.Second, 5*time.Millisecond, "the in-flight sell is pulled once the stop is noticed")

	g, err := engine.GetGridStatus(id)
	require.NoError(t, err)
	assert.Equal(t, models.GridStopped, g.Status)
	for _, o := range g.Orders {
		assert.NotEqual(t, models.Sell, o.Side, "the stray sell must not be tracked after the stop")
	}
}

func TestMarketDataFailuresMarkGridError(t *testing.T) {
	conn := newMockConnector()
	conn.marketData = &models.MarketData{MidPrice: 102}
	engine := newTestEngine(conn)

	id, err := engine.CreateGrid(defaultParams())
	require.NoError(t, err)
	_, err = engine.StartGrid(id)
	require.NoError(t, err)

	conn.Lock()
	conn.marketErr = errors.New("venue unreachable")
	conn.Unlock()

	require.Eventually(t, func() bool {
		g, gerr := engine.GetGridStatus(id)
		return gerr == nil && g.Status == models.GridError
	}, time.Second, 5*time.Millisecond, "repeated market-data failures should flag the grid")

	g, err := engine.GetGridStatus(id)
	require.NoError(t, err)
	assert.NotEmpty(t, g.LastError)

	// An error grid can still be stopped for cleanup.
	_, err = engine.StopGrid(id)
	require.NoError(t, err)
}

func TestTakeProfitCompletesGrid(t *testing.T) {
	conn := newMockConnector()
	conn.marketData = &models.MarketData{MidPrice: 102}
	engine := newTestEngine(conn)

	tp := 0.5 // percent of investment; one cycle earns 10 on 1000
	p := defaultParams()
	p.TakeProfit = &tp
	id, err := engine.CreateGrid(p)
	require.NoError(t, err)
	_, err = engine.StartGrid(id)
	require.NoError(t, err)

	conn.fillOrderAt(100)
	require.Eventually(t, func() bool {
		return conn.restingAt(models.Sell, 105)
	}, time.Second, 5*time.Millisecond)
	conn.fillOrderAt(105)

	require.Eventually(t, func() bool {
		g, gerr := engine.GetGridStatus(id)
		return gerr == nil && g.Status == models.GridCompleted
	}, time.Second, 5*time.Millisecond, "hitting take-profit should auto-complete the grid")

	list := engine.ListGrids()
	assert.Empty(t, list.Active)
	require.Len(t, list.Completed, 1)
	assert.Equal(t, models.GridCompleted, list.Completed[0].Status)
}

func TestGetGridStatusReturnsSnapshot(t *testing.T) {
	conn := newMockConnector()
	conn.marketData = &models.MarketData{MidPrice: 102}
	engine := newTestEngine(conn)

	id, err := engine.CreateGrid(defaultParams())
	require.NoError(t, err)
	_, err = engine.StartGrid(id)
	require.NoError(t, err)

	g1, err := engine.GetGridStatus(id)
	require.NoError(t, err)
	require.NotEmpty(t, g1.Orders)
	g1.Orders[0].Status = models.OrderCancelled
	g1.Symbol = "mutated"

	g2, err := engine.GetGridStatus(id)
	require.NoError(t, err)
	assert.Equal(t, "BTC/USDT", g2.Symbol, "mutating a snapshot must not touch engine state")
	assert.Equal(t, models.OrderOpen, g2.Orders[0].Status)

	engine.StopAll()
}
