package runtime

import (
	"testing"
	"time"

	"elysium-trading-go/internal/exchange"
	"elysium-trading-go/internal/grid"
	"elysium-trading-go/internal/models"
	"elysium-trading-go/internal/strategy"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestRuntime(t *testing.T) (*Runtime, *exchange.PaperExchange) {
	t.Helper()
	log := zap.NewNop().Sugar()

	paper := exchange.NewPaperExchange(log)
	require.NoError(t, paper.Connect(models.Credentials{}))

	engine := grid.NewEngine(paper, nil, grid.Options{
		MonitorInterval:   10 * time.Millisecond,
		OrderPace:         0,
		PriceFailureLimit: 3,
	}, log)

	registry := strategy.NewRegistry(strategy.Deps{
		Connector: paper,
		Grids:     engine,
		Logger:    log,
	}, time.Second, log)
	require.NoError(t, registry.Register(strategy.SequentialGridInfo(), strategy.NewSequentialGrid))
	require.NoError(t, registry.Register(strategy.PureMMInfo(), strategy.NewPureMM))

	return New(engine, registry, log), paper
}

func TestGridLifecycleEnvelopes(t *testing.T) {
	rt, paper := newTestRuntime(t)
	paper.SetPrice("BTC/USDT", 102)

	resp := rt.CreateGrid(grid.CreateGridParams{
		Symbol: "BTC/USDT", UpperPrice: 90, LowerPrice: 110, NumGrids: 5, TotalInvestment: 1000,
	})
	assert.Equal(t, models.StatusError, resp.Status, "validation failures map to error envelopes")

	resp = rt.CreateGrid(grid.CreateGridParams{
		Symbol: "BTC/USDT", UpperPrice: 110, LowerPrice: 90, NumGrids: 5, TotalInvestment: 1000,
	})
	require.Equal(t, models.StatusSuccess, resp.Status)
	data, ok := resp.Data.(map[string]any)
	require.True(t, ok)
	gridID, ok := data["grid_id"].(string)
	require.True(t, ok)

	resp = rt.StartGrid(gridID)
	require.Equal(t, models.StatusSuccess, resp.Status, resp.Message)
	result, ok := resp.Data.(*models.StartGridResult)
	require.True(t, ok)
	assert.Equal(t, 3, result.OrdersPlaced)

	resp = rt.GetGridStatus(gridID)
	require.Equal(t, models.StatusSuccess, resp.Status)
	g, ok := resp.Data.(*models.Grid)
	require.True(t, ok)
	assert.Equal(t, models.GridActive, g.Status)

	resp = rt.StopGrid(gridID)
	require.Equal(t, models.StatusSuccess, resp.Status, resp.Message)

	resp = rt.StopGrid(gridID)
	assert.Equal(t, models.StatusError, resp.Status, "the second stop reports not active")

	resp = rt.ListGrids()
	require.Equal(t, models.StatusSuccess, resp.Status)
	list, ok := resp.Data.(*models.GridList)
	require.True(t, ok)
	assert.Empty(t, list.Active)
	assert.Len(t, list.Completed, 1)
}

func TestStartGridWarningEnvelope(t *testing.T) {
	rt, paper := newTestRuntime(t)
	paper.SetPrice("BTC/USDT", 120)

	resp := rt.CreateGrid(grid.CreateGridParams{
		Symbol: "BTC/USDT", UpperPrice: 110, LowerPrice: 90, NumGrids: 5, TotalInvestment: 1000,
	})
	require.Equal(t, models.StatusSuccess, resp.Status)
	gridID := resp.Data.(map[string]any)["grid_id"].(string)

	resp = rt.StartGrid(gridID)
	assert.Equal(t, models.StatusWarning, resp.Status, "an out-of-range start price downgrades the response")
	assert.NotEmpty(t, resp.Message)

	rt.StopGrid(gridID)
}

func TestStrategyEnvelopes(t *testing.T) {
	rt, paper := newTestRuntime(t)
	paper.SetPrice("BTC/USDT", 102)

	resp := rt.ListStrategies()
	require.Equal(t, models.StatusSuccess, resp.Status)
	infos := resp.Data.([]models.StrategyInfo)
	require.Len(t, infos, 2)
	assert.Equal(t, "sequential_grid", infos[0].ID)

	resp = rt.GetStrategyParams("pure_mm")
	require.Equal(t, models.StatusSuccess, resp.Status)

	resp = rt.GetStrategyParams("missing")
	assert.Equal(t, models.StatusError, resp.Status)

	resp = rt.StopStrategy()
	assert.Equal(t, models.StatusError, resp.Status, "no incumbent to stop")

	resp = rt.StartStrategy("sequential_grid", map[string]any{
		"symbol": "BTC/USDT", "upper_price": 110.0, "lower_price": 90.0,
		"num_grids": 5, "total_investment": 1000.0,
	})
	require.Equal(t, models.StatusSuccess, resp.Status, resp.Message)

	resp = rt.ActiveStrategy()
	require.Equal(t, models.StatusSuccess, resp.Status)
	snap, ok := resp.Data.(*models.ActiveStrategy)
	require.True(t, ok)
	assert.Equal(t, "sequential_grid", snap.ID)

	resp = rt.StopStrategy()
	require.Equal(t, models.StatusSuccess, resp.Status, resp.Message)

	resp = rt.ActiveStrategy()
	require.Equal(t, models.StatusSuccess, resp.Status)
	assert.Nil(t, resp.Data)
}

func TestPanicsBecomeErrorEnvelopes(t *testing.T) {
	log := zap.NewNop().Sugar()
	// A facade over a nil engine panics on first touch; the guard must turn
	// that into an error response instead of killing the caller.
	rt := New(nil, strategy.NewRegistry(strategy.Deps{Logger: log}, time.Second, log), log)

	resp := rt.ListGrids()
	assert.Equal(t, models.StatusError, resp.Status)
	assert.Contains(t, resp.Message, "internal error")
}
