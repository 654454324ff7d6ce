package journal

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"elysium-trading-go/internal/models"

	"github.com/dgraph-io/badger/v3"
	"go.uber.org/zap"
)

const (
	fillPrefix  = "fill/"
	eventPrefix = "event/"
)

// Event is one recorded lifecycle transition of a grid.
type Event struct {
	GridID string    `json:"grid_id"`
	Event  string    `json:"event"`
	Time   time.Time `json:"time"`
}

// entry is what the write loop persists: either a fill or an event.
type entry struct {
	fill  *models.Fill
	event *Event
}

// Journal is an append-only record of fills and grid lifecycle events backed
// by BadgerDB. Writes go through a buffered channel and a single background
// goroutine so that recording never blocks a monitor loop. The journal is
// history, not recovery state: nothing reads it back at startup.
type Journal struct {
	db     *badger.DB
	logger *zap.SugaredLogger

	writeCh chan entry
	quit    chan struct{}
	wg      sync.WaitGroup

	mu     sync.Mutex
	closed bool
	seq    uint64
}

// Open opens (or creates) the journal at path and starts the write loop.
func Open(path string, logger *zap.SugaredLogger) (*Journal, error) {
	opts := badger.DefaultOptions(path)
	// Badger's own logging is too chatty for a journal; errors still surface
	// from the operations themselves.
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open journal at %s: %w", path, err)
	}

	j := &Journal{
		db:      db,
		logger:  logger,
		writeCh: make(chan entry, 256),
		quit:    make(chan struct{}),
		seq:     uint64(time.Now().UnixNano()),
	}
	j.wg.Add(1)
	go j.writeLoop()
	return j, nil
}

// RecordFill enqueues a fill for persistence. If the queue is full the fill
// is dropped with a warning rather than blocking the caller.
func (j *Journal) RecordFill(fill models.Fill) {
	j.enqueue(entry{fill: &fill}, fill.GridID)
}

// RecordEvent enqueues a grid lifecycle event for persistence.
func (j *Journal) RecordEvent(gridID, event string) {
	j.enqueue(entry{event: &Event{GridID: gridID, Event: event, Time: time.Now()}}, gridID)
}

func (j *Journal) enqueue(en entry, gridID string) {
	j.mu.Lock()
	if j.closed {
		j.mu.Unlock()
		return
	}
	j.mu.Unlock()

	select {
	case j.writeCh <- en:
	default:
		j.logger.Warnw("journal queue full, entry dropped", "grid", gridID)
	}
}

func (j *Journal) writeLoop() {
	defer j.wg.Done()
	for {
		select {
		case en := <-j.writeCh:
			j.persist(en)
		case <-j.quit:
			// Drain whatever is still queued before shutting down.
			for {
				select {
				case en := <-j.writeCh:
					j.persist(en)
				default:
					return
				}
			}
		}
	}
}

func (j *Journal) persist(en entry) {
	j.mu.Lock()
	j.seq++
	seq := j.seq
	j.mu.Unlock()

	var key string
	var payload any
	var gridID string
	switch {
	case en.fill != nil:
		gridID = en.fill.GridID
		key = fmt.Sprintf("%s%s/%020d", fillPrefix, gridID, seq)
		payload = en.fill
	case en.event != nil:
		gridID = en.event.GridID
		key = fmt.Sprintf("%s%s/%020d", eventPrefix, gridID, seq)
		payload = en.event
	default:
		return
	}

	value, err := json.Marshal(payload)
	if err != nil {
		j.logger.Errorw("journal marshal failed", "grid", gridID, "error", err)
		return
	}
	err = j.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), value)
	})
	if err != nil {
		j.logger.Errorw("journal write failed", "grid", gridID, "error", err)
	}
}

// Fills returns the recorded fills for one grid in write order.
func (j *Journal) Fills(gridID string) ([]models.Fill, error) {
	var fills []models.Fill
	err := j.scan(fillPrefix+gridID+"/", func(val []byte) error {
		var fill models.Fill
		if uerr := json.Unmarshal(val, &fill); uerr != nil {
			return uerr
		}
		fills = append(fills, fill)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return fills, nil
}

// Events returns the recorded lifecycle events for one grid in write order.
func (j *Journal) Events(gridID string) ([]Event, error) {
	var events []Event
	err := j.scan(eventPrefix+gridID+"/", func(val []byte) error {
		var ev Event
		if uerr := json.Unmarshal(val, &ev); uerr != nil {
			return uerr
		}
		events = append(events, ev)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return events, nil
}

func (j *Journal) scan(prefix string, visit func(val []byte) error) error {
	p := []byte(prefix)
	return j.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = p
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(p); it.ValidForPrefix(p); it.Next() {
			if err := it.Item().Value(visit); err != nil {
				return err
			}
		}
		return nil
	})
}

// Close flushes queued fills and closes the database.
func (j *Journal) Close() error {
	j.mu.Lock()
	if j.closed {
		j.mu.Unlock()
		return nil
	}
	j.closed = true
	j.mu.Unlock()

	close(j.quit)
	j.wg.Wait()
	return j.db.Close()
}
