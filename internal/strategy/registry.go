package strategy

import (
	"fmt"
	"sync"
	"time"

	"elysium-trading-go/internal/models"

	"go.uber.org/zap"
)

// runningStrategy tracks the single live strategy instance.
type runningStrategy struct {
	id        string
	strat     Strategy
	params    map[string]any
	startedAt time.Time
	done      chan struct{}
}

// Registry holds the static strategy catalog and enforces that at most one
// strategy runs at a time. Starting a new strategy replaces the incumbent:
// the registry stops it first and waits a bounded time for it to exit.
type Registry struct {
	deps     Deps
	stopWait time.Duration
	logger   *zap.SugaredLogger

	mu      sync.Mutex
	entries map[string]Factory
	infos   map[string]models.StrategyInfo
	order   []string
	current *runningStrategy
}

// NewRegistry creates an empty registry. stopWait bounds how long a stop
// blocks on the outgoing strategy.
func NewRegistry(deps Deps, stopWait time.Duration, logger *zap.SugaredLogger) *Registry {
	if stopWait <= 0 {
		stopWait = 5 * time.Second
	}
	return &Registry{
		deps:     deps,
		stopWait: stopWait,
		logger:   logger,
		entries:  make(map[string]Factory),
		infos:    make(map[string]models.StrategyInfo),
	}
}

// Register adds a strategy to the catalog. The catalog is built once at
// startup; duplicate ids are a programming error.
func (r *Registry) Register(info models.StrategyInfo, factory Factory) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.entries[info.ID]; exists {
		return &models.ValidationError{Reason: fmt.Sprintf("strategy %s already registered", info.ID)}
	}
	r.entries[info.ID] = factory
	r.infos[info.ID] = info
	r.order = append(r.order, info.ID)
	return nil
}

// List returns the registered strategies in registration order.
func (r *Registry) List() []models.StrategyInfo {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]models.StrategyInfo, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.infos[id])
	}
	return out
}

// GetParams returns the declared parameter schema of a strategy.
func (r *Registry) GetParams(id string) (models.ParamSchema, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	info, ok := r.infos[id]
	if !ok {
		return nil, &models.NotFoundError{Kind: "strategy", ID: id}
	}
	return info.DefaultParams, nil
}

// StartStrategy starts the named strategy with the caller's parameters
// merged over the declared defaults. The catalog lookup and the connectivity
// check happen before the incumbent is touched, so an unknown id leaves the
// running strategy undisturbed; once those pass, the incumbent is stopped
// before the replacement is constructed.
func (r *Registry) StartStrategy(id string, params map[string]any) (*models.ActiveStrategy, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	factory, ok := r.entries[id]
	if !ok {
		return nil, &models.NotFoundError{Kind: "strategy", ID: id}
	}
	if r.deps.Connector != nil && !r.deps.Connector.IsConnected() {
		return nil, &models.ConnectivityError{Reason: "connector is not connected"}
	}

	merged := r.infos[id].DefaultParams.Values()
	for k, v := range params {
		merged[k] = v
	}

	if r.current != nil {
		r.logger.Infow("replacing running strategy", "outgoing", r.current.id, "incoming", id)
		r.stopCurrentLocked()
	}

	strat, err := factory(r.deps, merged)
	if err != nil {
		return nil, err
	}

	handle := &runningStrategy{
		id:        id,
		strat:     strat,
		params:    merged,
		startedAt: time.Now(),
		done:      make(chan struct{}),
	}
	r.current = handle

	go func() {
		defer close(handle.done)
		defer func() {
			if rec := recover(); rec != nil {
				r.logger.Errorw("strategy panicked", "strategy", handle.id, "panic", rec)
			}
		}()
		if err := strat.Start(); err != nil {
			r.logger.Errorw("strategy exited with error", "strategy", handle.id, "error", err)
		} else {
			r.logger.Infow("strategy exited", "strategy", handle.id)
		}
	}()

	r.logger.Infow("started strategy", "strategy", id, "params", merged)
	snap := snapshotOf(handle)
	snap.Running = true // the run goroutine may not have been scheduled yet
	return snap, nil
}

// StopStrategy stops the running strategy and waits a bounded time for its
// run loop to exit. The slot is cleared even if the strategy overruns the
// wait.
func (r *Registry) StopStrategy() (*models.ActiveStrategy, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.current == nil {
		return nil, &models.StateError{ID: "strategy", Reason: "no strategy is running"}
	}
	snap := snapshotOf(r.current)
	snap.Running = false
	r.stopCurrentLocked()
	return snap, nil
}

func (r *Registry) stopCurrentLocked() {
	handle := r.current
	handle.strat.Stop()
	select {
	case <-handle.done:
		r.logger.Infow("strategy stopped", "strategy", handle.id)
	case <-time.After(r.stopWait):
		r.logger.Warnw("strategy did not stop within the wait bound, abandoning",
			"strategy", handle.id, "wait", r.stopWait)
	}
	r.current = nil
}

// ActiveStrategy returns a snapshot of the running strategy, or nil when the
// slot is empty.
func (r *Registry) ActiveStrategy() *models.ActiveStrategy {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.current == nil {
		return nil
	}
	return snapshotOf(r.current)
}

func snapshotOf(h *runningStrategy) *models.ActiveStrategy {
	params := make(map[string]any, len(h.params))
	for k, v := range h.params {
		params[k] = v
	}
	return &models.ActiveStrategy{
		ID:        h.id,
		Name:      h.strat.Info().Name,
		Params:    params,
		StartedAt: h.startedAt,
		Running:   h.strat.IsRunning(),
	}
}
