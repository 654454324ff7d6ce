package exchange

import "sync"

// SymbolLocker serializes leverage changes and the order submissions that
// depend on them for a single symbol. Several grids or strategies may share
// one connector; without this, two goroutines can interleave
// SetLeverage/PlaceOrder pairs on the same symbol.
type SymbolLocker struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewSymbolLocker returns an empty lock table.
func NewSymbolLocker() *SymbolLocker {
	return &SymbolLocker{locks: make(map[string]*sync.Mutex)}
}

// Lock acquires the mutex for symbol, creating it on first use.
func (l *SymbolLocker) Lock(symbol string) {
	l.mu.Lock()
	m, ok := l.locks[symbol]
	if !ok {
		m = &sync.Mutex{}
		l.locks[symbol] = m
	}
	l.mu.Unlock()
	m.Lock()
}

// Unlock releases the mutex for symbol. It panics if Lock was never called
// for the symbol, which indicates a caller bug.
func (l *SymbolLocker) Unlock(symbol string) {
	l.mu.Lock()
	m := l.locks[symbol]
	l.mu.Unlock()
	m.Unlock()
}
