package runtime

import (
	"fmt"

	"elysium-trading-go/internal/grid"
	"elysium-trading-go/internal/models"
	"elysium-trading-go/internal/strategy"

	"go.uber.org/zap"
)

// Runtime is the facade front-ends talk to. Every operation returns a
// Response envelope and never panics: failures inside an operation are
// caught and reported as an error response so one bad call cannot take the
// process down.
type Runtime struct {
	grids    *grid.Engine
	registry *strategy.Registry
	logger   *zap.SugaredLogger
}

// New wires the facade over the grid engine and the strategy registry.
func New(grids *grid.Engine, registry *strategy.Registry, logger *zap.SugaredLogger) *Runtime {
	return &Runtime{grids: grids, registry: registry, logger: logger}
}

// guard runs fn with panic recovery.
func (rt *Runtime) guard(op string, fn func() *models.Response) (resp *models.Response) {
	defer func() {
		if r := recover(); r != nil {
			rt.logger.Errorw("unhandled panic in operation", "op", op, "panic", r)
			resp = errorResponse(fmt.Sprintf("internal error in %s: %v", op, r))
		}
	}()
	return fn()
}

func errorResponse(msg string) *models.Response {
	return &models.Response{Status: models.StatusError, Message: msg}
}

func successResponse(msg string, data any) *models.Response {
	return &models.Response{Status: models.StatusSuccess, Message: msg, Data: data}
}

func warningResponse(msg string, data any) *models.Response {
	return &models.Response{Status: models.StatusWarning, Message: msg, Data: data}
}

// CreateGrid validates and stores a new grid.
func (rt *Runtime) CreateGrid(params grid.CreateGridParams) *models.Response {
	return rt.guard("create_grid", func() *models.Response {
		id, err := rt.grids.CreateGrid(params)
		if err != nil {
			return errorResponse(err.Error())
		}
		return successResponse("grid created", map[string]any{"grid_id": id})
	})
}

// StartGrid places the grid's initial buy ladder and starts its monitor.
// Partial submission failures and an out-of-range start price downgrade the
// response to a warning.
func (rt *Runtime) StartGrid(gridID string) *models.Response {
	return rt.guard("start_grid", func() *models.Response {
		result, err := rt.grids.StartGrid(gridID)
		if err != nil {
			return errorResponse(err.Error())
		}
		if result.Warning != "" {
			return warningResponse(result.Warning, result)
		}
		if result.OrdersPlaced < result.OrdersAttempted {
			return warningResponse(fmt.Sprintf("grid started, %d of %d orders failed",
				result.OrdersAttempted-result.OrdersPlaced, result.OrdersAttempted), result)
		}
		return successResponse("grid started", result)
	})
}

// StopGrid cancels the grid's open orders and retires it.
func (rt *Runtime) StopGrid(gridID string) *models.Response {
	return rt.guard("stop_grid", func() *models.Response {
		result, err := rt.grids.StopGrid(gridID)
		if err != nil {
			return errorResponse(err.Error())
		}
		if result.CancelsFailed > 0 {
			return warningResponse(fmt.Sprintf("grid stopped, %d of %d cancels failed",
				result.CancelsFailed, result.CancelsAttempted), result)
		}
		return successResponse("grid stopped", result)
	})
}

// GetGridStatus returns a snapshot of one grid.
func (rt *Runtime) GetGridStatus(gridID string) *models.Response {
	return rt.guard("get_grid_status", func() *models.Response {
		g, err := rt.grids.GetGridStatus(gridID)
		if err != nil {
			return errorResponse(err.Error())
		}
		return successResponse("grid status", g)
	})
}

// ListGrids returns snapshots of all grids.
func (rt *Runtime) ListGrids() *models.Response {
	return rt.guard("list_grids", func() *models.Response {
		return successResponse("grids", rt.grids.ListGrids())
	})
}

// ListStrategies returns the strategy catalog.
func (rt *Runtime) ListStrategies() *models.Response {
	return rt.guard("list_strategies", func() *models.Response {
		return successResponse("strategies", rt.registry.List())
	})
}

// GetStrategyParams returns one strategy's parameter schema.
func (rt *Runtime) GetStrategyParams(id string) *models.Response {
	return rt.guard("get_strategy_params", func() *models.Response {
		schema, err := rt.registry.GetParams(id)
		if err != nil {
			return errorResponse(err.Error())
		}
		return successResponse("strategy parameters", schema)
	})
}

// StartStrategy starts (or replaces with) the named strategy.
func (rt *Runtime) StartStrategy(id string, params map[string]any) *models.Response {
	return rt.guard("start_strategy", func() *models.Response {
		snap, err := rt.registry.StartStrategy(id, params)
		if err != nil {
			return errorResponse(err.Error())
		}
		return successResponse("strategy started", snap)
	})
}

// StopStrategy stops the running strategy.
func (rt *Runtime) StopStrategy() *models.Response {
	return rt.guard("stop_strategy", func() *models.Response {
		snap, err := rt.registry.StopStrategy()
		if err != nil {
			return errorResponse(err.Error())
		}
		return successResponse("strategy stopped", snap)
	})
}

// ActiveStrategy returns the running-strategy snapshot.
func (rt *Runtime) ActiveStrategy() *models.Response {
	return rt.guard("active_strategy", func() *models.Response {
		snap := rt.registry.ActiveStrategy()
		if snap == nil {
			return successResponse("no strategy is running", nil)
		}
		return successResponse("active strategy", snap)
	})
}
