package models

import "time"

// Config holds the runtime configuration loaded from the JSON config file.
type Config struct {
	IsTestnet         bool           `json:"is_testnet"`
	JournalPath       string         `json:"journal_path"`        // BadgerDB directory for the fill journal; empty disables journaling
	MonitorIntervalMs int            `json:"monitor_interval_ms"` // poll interval of each grid monitor
	OrderPaceMs       int            `json:"order_pace_ms"`       // delay between consecutive order submissions
	StopWaitSec       int            `json:"stop_wait_sec"`       // bounded wait for a strategy to observe its stop signal
	PriceFailureLimit int            `json:"price_failure_limit"` // consecutive market-data failures before a grid is marked error
	Strategy          string         `json:"strategy,omitempty"`  // strategy id to auto-start, optional
	StrategyParams    map[string]any `json:"strategy_params,omitempty"`
	LogConfig         LogConfig      `json:"log"`
}

// LogConfig defines the logging configuration.
type LogConfig struct {
	Level      string `json:"level"`       // "debug", "info", "warn", "error"
	Output     string `json:"output"`      // "console", "file", "both"
	File       string `json:"file"`        // log file path
	MaxSize    int    `json:"max_size"`    // max size of a single log file (MB)
	MaxBackups int    `json:"max_backups"` // max number of rotated files to keep
	MaxAge     int    `json:"max_age"`     // max age of rotated files (days)
	Compress   bool   `json:"compress"`    // compress rotated files
}

// Credentials are the exchange API credentials, read from the environment.
type Credentials struct {
	APIKey    string
	SecretKey string
}

// Side is the direction of an order.
type Side string

const (
	Buy  Side = "buy"
	Sell Side = "sell"
)

// GridStatus is the lifecycle state of a grid.
type GridStatus string

const (
	GridCreated   GridStatus = "created"
	GridActive    GridStatus = "active"
	GridStopped   GridStatus = "stopped"
	GridCompleted GridStatus = "completed"
	GridError     GridStatus = "error"
)

// OrderState is the locally tracked state of a grid order.
type OrderState string

const (
	OrderOpen      OrderState = "open"
	OrderFilled    OrderState = "filled"
	OrderCancelled OrderState = "cancelled"
)

// GridOrder is one order belonging to a grid, tracked in local state.
type GridOrder struct {
	OrderID  int64      `json:"order_id"`
	Level    int        `json:"level"` // index into the grid's price ladder
	Price    float64    `json:"price"`
	Quantity float64    `json:"quantity"`
	Side     Side       `json:"side"`
	Status   OrderState `json:"status"`
}

// Fill records one observed fill on a grid.
type Fill struct {
	GridID   string    `json:"grid_id"`
	Level    int       `json:"level"`
	Side     Side      `json:"side"`
	Price    float64   `json:"price"`
	Quantity float64   `json:"quantity"`
	Profit   float64   `json:"profit"` // realized profit for sell fills, 0 for buys
	Time     time.Time `json:"time"`
}

// Grid is a sequential price-ladder strategy instance. A Grid is only ever
// mutated while the engine's lock is held; callers receive snapshot copies.
type Grid struct {
	ID                string      `json:"id"`
	Symbol            string      `json:"symbol"`
	UpperPrice        float64     `json:"upper_price"`
	LowerPrice        float64     `json:"lower_price"`
	NumGrids          int         `json:"num_grids"`
	PriceInterval     float64     `json:"price_interval"`
	TotalInvestment   float64     `json:"total_investment"`
	InvestmentPerGrid float64     `json:"investment_per_grid"`
	IsPerp            bool        `json:"is_perp"`
	Leverage          int         `json:"leverage"`
	TakeProfit        *float64    `json:"take_profit,omitempty"` // percent of total investment
	StopLoss          *float64    `json:"stop_loss,omitempty"`   // percent of total investment
	CreatedAt         time.Time   `json:"created_at"`
	Status            GridStatus  `json:"status"`
	BuyOnlyMode       bool        `json:"buy_only_mode"`
	Orders            []GridOrder `json:"orders"`
	FilledOrders      []Fill      `json:"filled_orders"`
	ProfitLoss        float64     `json:"profit_loss"`
	CurrentPrice      float64     `json:"current_price"`
	LastError         string      `json:"last_error,omitempty"`
}

// Levels returns the grid's price ladder, lowest first. The ladder is evenly
// spaced: lower + i*interval for i in [0, NumGrids).
func (g *Grid) Levels() []float64 {
	levels := make([]float64, g.NumGrids)
	for i := 0; i < g.NumGrids; i++ {
		levels[i] = g.LowerPrice + float64(i)*g.PriceInterval
	}
	return levels
}

// MarketData is the snapshot returned by the connector. A zero field means
// the venue did not provide that value.
type MarketData struct {
	Symbol    string  `json:"symbol"`
	MidPrice  float64 `json:"mid_price,omitempty"`
	BestBid   float64 `json:"best_bid,omitempty"`
	BestAsk   float64 `json:"best_ask,omitempty"`
	LastPrice float64 `json:"last_price,omitempty"`
}

// OrderResultStatus distinguishes how the venue disposed of a submission.
type OrderResultStatus string

const (
	OrderResting   OrderResultStatus = "resting"
	OrderFilledNow OrderResultStatus = "filled"
	OrderRejected  OrderResultStatus = "rejected"
)

// OrderResult is the structured result of a limit order submission.
type OrderResult struct {
	OrderID     int64             `json:"order_id"`
	Status      OrderResultStatus `json:"status"`
	Price       float64           `json:"price"`
	ExecutedQty float64           `json:"executed_qty"`
}

// StartGridResult reports the outcome of starting a grid, including the
// best-effort submission counts.
type StartGridResult struct {
	GridID          string  `json:"grid_id"`
	OrdersAttempted int     `json:"orders_attempted"`
	OrdersPlaced    int     `json:"orders_placed"`
	BuyOrders       int     `json:"buy_orders"`
	SellOrders      int     `json:"sell_orders"` // always 0 at start time
	CurrentPrice    float64 `json:"current_price"`
	Warning         string  `json:"warning,omitempty"`
}

// StopGridResult reports the outcome of stopping a grid.
type StopGridResult struct {
	GridID           string  `json:"grid_id"`
	CancelsAttempted int     `json:"cancels_attempted"`
	Cancelled        int     `json:"cancelled"`
	CancelsFailed    int     `json:"cancels_failed"`
	ProfitLoss       float64 `json:"profit_loss"`
}

// GridList is the snapshot returned by list_grids.
type GridList struct {
	Active    []Grid `json:"active"`
	Completed []Grid `json:"completed"`
}

// StrategyInfo describes a registered strategy.
type StrategyInfo struct {
	ID            string      `json:"id"`
	Name          string      `json:"name"`
	Description   string      `json:"description"`
	DefaultParams ParamSchema `json:"default_params"`
}

// ParamSpec declares one strategy parameter with its default value.
type ParamSpec struct {
	Value       any    `json:"value"`
	Type        string `json:"type"`
	Description string `json:"description"`
}

// ParamSchema maps parameter names to their declared specs.
type ParamSchema map[string]ParamSpec

// Values flattens the schema into a name -> default value map.
func (s ParamSchema) Values() map[string]any {
	out := make(map[string]any, len(s))
	for name, spec := range s {
		out[name] = spec.Value
	}
	return out
}

// ActiveStrategy is a read-only snapshot of the currently running strategy.
type ActiveStrategy struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Params    map[string]any `json:"params"`
	StartedAt time.Time      `json:"started_at"`
	Running   bool           `json:"running"`
}

// ResponseStatus is the outcome class of a public operation.
type ResponseStatus string

const (
	StatusSuccess ResponseStatus = "success"
	StatusError   ResponseStatus = "error"
	StatusWarning ResponseStatus = "warning"
)

// Response is the envelope every exposed operation returns to front-ends.
type Response struct {
	Status  ResponseStatus `json:"status"`
	Message string         `json:"message"`
	Data    any            `json:"data,omitempty"`
}
