package strategy

import (
	"elysium-trading-go/internal/exchange"
	"elysium-trading-go/internal/grid"
	"elysium-trading-go/internal/models"

	"go.uber.org/zap"
)

// Strategy is the capability contract every runnable strategy satisfies.
// Start blocks until the strategy's run loop exits; Stop only signals and
// never waits. Stop must be safe to call at any time, including before Start
// and more than once.
type Strategy interface {
	Start() error
	Stop()
	IsRunning() bool
	Info() models.StrategyInfo
}

// Deps are the shared services handed to every strategy instance.
type Deps struct {
	Connector exchange.Connector
	Grids     *grid.Engine
	Config    *models.Config
	Logger    *zap.SugaredLogger
}

// Factory builds a strategy instance from merged parameters. A factory must
// validate its parameters and return an error without side effects when they
// are unusable.
type Factory func(deps Deps, params map[string]any) (Strategy, error)
