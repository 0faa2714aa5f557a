// Package dispatch tracks connected worker services by category and assigns
// work to them round-robin.
//
// It is not a work queue. Dispatch to an empty pool fails immediately with
// ErrNoWorkers and the payload is dropped.
package dispatch

import (
	"errors"
	"fmt"
	"sync"

	"github.com/musink/musink/pkg/envelope"
)

// Category names a worker pool.
type Category string

const (
	MutualPlaylist Category = "MutualPlaylist"
	Other          Category = "Other"
)

// Categories lists every pool in a stable order.
var Categories = []Category{MutualPlaylist, Other}

// ParseCategory maps a worker's self-declared category string onto a pool.
// Anything unrecognised lands in Other.
func ParseCategory(s string) Category {
	if s == string(MutualPlaylist) {
		return MutualPlaylist
	}
	return Other
}

var (
	// ErrNoWorkers is returned by Dispatch when the pool is empty.
	ErrNoWorkers = errors.New("dispatch: no workers available")

	// ErrAlreadyRegistered is returned when a connection is already in a pool.
	ErrAlreadyRegistered = errors.New("dispatch: worker already registered")
)

// Sender delivers an encoded message to a worker. Implementations must not block.
type Sender interface {
	Send(data []byte) error
}

type worker struct {
	id     envelope.ConnID
	sender Sender
}

type pool struct {
	mu      sync.Mutex
	workers []worker
}

// Dispatcher owns one pool per Category. Each pool has its own lock; the
// index of which pool a connection is in has another. Lock order is
// d.mu then pool.mu.
type Dispatcher struct {
	pools map[Category]*pool

	mu    sync.Mutex
	index map[envelope.ConnID]Category

	obsMu     sync.RWMutex
	observers []func(Category, int)
}

// New creates a Dispatcher with an empty pool for every Category.
func New() *Dispatcher {
	d := &Dispatcher{
		pools: make(map[Category]*pool, len(Categories)),
		index: make(map[envelope.ConnID]Category),
	}
	for _, c := range Categories {
		d.pools[c] = &pool{}
	}
	return d
}

// OnChange registers fn to be called with a category and its new pool size
// whenever a worker joins or leaves. fn runs after all locks are released.
func (d *Dispatcher) OnChange(fn func(Category, int)) {
	d.obsMu.Lock()
	d.observers = append(d.observers, fn)
	d.obsMu.Unlock()
}

func (d *Dispatcher) notify(cat Category, size int) {
	d.obsMu.RLock()
	obs := d.observers
	d.obsMu.RUnlock()
	for _, fn := range obs {
		fn(cat, size)
	}
}

func (d *Dispatcher) pool(cat Category) *pool {
	if p, ok := d.pools[cat]; ok {
		return p
	}
	return d.pools[Other]
}

// Register appends the worker to the back of cat's pool.
func (d *Dispatcher) Register(cat Category, id envelope.ConnID, s Sender) error {
	p := d.pool(cat)
	if _, ok := d.pools[cat]; !ok {
		cat = Other
	}

	d.mu.Lock()
	if existing, ok := d.index[id]; ok {
		d.mu.Unlock()
		return fmt.Errorf("%w: conn %d in %s", ErrAlreadyRegistered, id, existing)
	}
	d.index[id] = cat
	p.mu.Lock()
	p.workers = append(p.workers, worker{id: id, sender: s})
	size := len(p.workers)
	p.mu.Unlock()
	d.mu.Unlock()

	d.notify(cat, size)
	return nil
}

// Dispatch sends payload to the worker at the front of cat's pool and moves
// that worker to the back. The rotation happens even if the send fails, so a
// broken worker does not pin the front of the pool. It returns the id of the
// worker chosen.
func (d *Dispatcher) Dispatch(cat Category, payload []byte) (envelope.ConnID, error) {
	p := d.pool(cat)

	p.mu.Lock()
	if len(p.workers) == 0 {
		p.mu.Unlock()
		return 0, fmt.Errorf("%w: %s", ErrNoWorkers, cat)
	}
	w := p.workers[0]
	copy(p.workers, p.workers[1:])
	p.workers[len(p.workers)-1] = w
	p.mu.Unlock()

	if err := w.sender.Send(payload); err != nil {
		return w.id, fmt.Errorf("dispatch: send to worker %d: %w", w.id, err)
	}
	return w.id, nil
}

// Unregister removes id from whichever pool holds it. It reports the
// category and whether the connection was found.
func (d *Dispatcher) Unregister(id envelope.ConnID) (Category, bool) {
	d.mu.Lock()
	cat, ok := d.index[id]
	if !ok {
		d.mu.Unlock()
		return "", false
	}
	delete(d.index, id)
	p := d.pools[cat]
	p.mu.Lock()
	for i, w := range p.workers {
		if w.id == id {
			p.workers = append(p.workers[:i], p.workers[i+1:]...)
			break
		}
	}
	size := len(p.workers)
	p.mu.Unlock()
	d.mu.Unlock()

	d.notify(cat, size)
	return cat, true
}

// Size returns the number of workers in cat's pool.
func (d *Dispatcher) Size(cat Category) int {
	p, ok := d.pools[cat]
	if !ok {
		return 0
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.workers)
}

// Workers returns every pool's connection ids in rotation order.
func (d *Dispatcher) Workers() map[Category][]envelope.ConnID {
	out := make(map[Category][]envelope.ConnID, len(d.pools))
	for cat, p := range d.pools {
		p.mu.Lock()
		ids := make([]envelope.ConnID, len(p.workers))
		for i, w := range p.workers {
			ids[i] = w.id
		}
		p.mu.Unlock()
		out[cat] = ids
	}
	return out
}
