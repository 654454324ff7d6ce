package exchange

import "elysium-trading-go/internal/models"

// Connector is the contract the runtime consumes from an exchange
// integration. All calls are synchronous and may fail transiently; callers
// must tolerate individual failures without aborting unrelated work.
// Timeout enforcement belongs to the implementation, not to callers.
type Connector interface {
	Connect(creds models.Credentials) error
	IsConnected() bool
	IsTestnet() bool

	GetMarketData(symbol string) (*models.MarketData, error)

	LimitBuy(symbol string, quantity, price float64) (*models.OrderResult, error)
	LimitSell(symbol string, quantity, price float64) (*models.OrderResult, error)
	PerpLimitBuy(symbol string, quantity, price float64, leverage int) (*models.OrderResult, error)
	PerpLimitSell(symbol string, quantity, price float64, leverage int) (*models.OrderResult, error)

	// GetOrderStatus reports the venue-side state of a previously submitted
	// order. The grid monitor polls this to detect fills.
	GetOrderStatus(symbol string, orderID int64, isPerp bool) (*models.OrderResult, error)
	CancelOrder(symbol string, orderID int64, isPerp bool) error
	SetLeverage(symbol string, leverage int) error
}
