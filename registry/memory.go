package registry

import (
	"sync"
	"time"
)

// MemoryConfig configures a MemoryRegistry.
type MemoryConfig struct {
	// TTL is how long an entry lives without being registered again.
	// Zero keeps entries until they are deregistered.
	TTL time.Duration
}

// MemoryRegistry keeps the directory in process memory. It backs the body
// when no JetStream directory is available and serves as the test double.
type MemoryRegistry struct {
	ttl time.Duration

	mu        sync.RWMutex
	cells     map[string]CellInfo
	bySubject map[string]map[string]struct{} // subject -> cell IDs
	watchers  []chan Event
	closed    bool
	done      chan struct{}
}

// NewMemoryRegistry creates a registry. With a TTL, a background sweep
// removes expired entries and reports them as EventRemoved.
func NewMemoryRegistry(cfg MemoryConfig) *MemoryRegistry {
	r := &MemoryRegistry{
		ttl:       cfg.TTL,
		cells:     make(map[string]CellInfo),
		bySubject: make(map[string]map[string]struct{}),
		done:      make(chan struct{}),
	}
	if r.ttl > 0 {
		go r.sweep()
	}
	return r
}

// Register records info and stamps LastSeen. An empty Status is recorded as
// serving.
func (r *MemoryRegistry) Register(info CellInfo) error {
	if err := ValidateCellInfo(info); err != nil {
		return err
	}
	info = stamp(info)

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrClosed
	}

	ev := EventAdded
	if prev, ok := r.cells[info.ID]; ok {
		ev = EventUpdated
		r.unindex(prev)
	}
	r.cells[info.ID] = info
	r.index(info)
	r.broadcast(Event{Type: ev, Cell: info})
	return nil
}

// Deregister removes the cell. Unknown IDs return ErrNotFound.
func (r *MemoryRegistry) Deregister(id string) error {
	if id == "" {
		return ErrInvalidID
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrClosed
	}

	cell, ok := r.cells[id]
	if !ok {
		return ErrNotFound
	}
	r.remove(cell)
	return nil
}

// Get returns the cell's entry. Expired entries are reported as missing
// even before the sweep removes them.
func (r *MemoryRegistry) Get(id string) (*CellInfo, error) {
	if id == "" {
		return nil, ErrInvalidID
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return nil, ErrClosed
	}

	cell, ok := r.cells[id]
	if !ok || r.expired(cell, time.Now()) {
		return nil, ErrNotFound
	}
	return &cell, nil
}

// List returns the live cells matching filter, sorted by ID.
func (r *MemoryRegistry) List(filter *Filter) ([]CellInfo, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return nil, ErrClosed
	}

	if filter != nil && filter.Subject != "" {
		return r.collect(r.bySubject[filter.Subject], filter), nil
	}

	ids := make(map[string]struct{}, len(r.cells))
	for id := range r.cells {
		ids[id] = struct{}{}
	}
	return r.collect(ids, filter), nil
}

// FindBySubject returns the live cells serving subject, sorted by ID.
func (r *MemoryRegistry) FindBySubject(subject string) ([]CellInfo, error) {
	return r.List(&Filter{Subject: subject})
}

// Watch returns a buffered event channel. Events are dropped for a watcher
// that falls 64 events behind. The channel closes with the registry.
func (r *MemoryRegistry) Watch() (<-chan Event, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, ErrClosed
	}

	ch := make(chan Event, 64)
	r.watchers = append(r.watchers, ch)
	return ch, nil
}

// Close stops the sweep and closes every watch channel. It is idempotent.
func (r *MemoryRegistry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}

	r.closed = true
	close(r.done)
	for _, ch := range r.watchers {
		close(ch)
	}
	r.watchers = nil
	return nil
}

// collect returns the live entries among ids that match filter. Caller
// holds r.mu.
func (r *MemoryRegistry) collect(ids map[string]struct{}, filter *Filter) []CellInfo {
	now := time.Now()
	out := make([]CellInfo, 0, len(ids))
	for id := range ids {
		cell := r.cells[id]
		if r.expired(cell, now) || !MatchesFilter(cell, filter) {
			continue
		}
		out = append(out, cell)
	}
	sortByID(out)
	return out
}

func (r *MemoryRegistry) expired(cell CellInfo, now time.Time) bool {
	return r.ttl > 0 && now.Sub(cell.LastSeen) > r.ttl
}

// index, unindex, remove and broadcast expect r.mu held for writing.

func (r *MemoryRegistry) index(cell CellInfo) {
	for _, s := range cell.Subjects {
		ids := r.bySubject[s]
		if ids == nil {
			ids = make(map[string]struct{})
			r.bySubject[s] = ids
		}
		ids[cell.ID] = struct{}{}
	}
}

func (r *MemoryRegistry) unindex(cell CellInfo) {
	for _, s := range cell.Subjects {
		delete(r.bySubject[s], cell.ID)
		if len(r.bySubject[s]) == 0 {
			delete(r.bySubject, s)
		}
	}
}

func (r *MemoryRegistry) remove(cell CellInfo) {
	r.unindex(cell)
	delete(r.cells, cell.ID)
	r.broadcast(Event{Type: EventRemoved, Cell: cell})
}

func (r *MemoryRegistry) broadcast(ev Event) {
	for _, ch := range r.watchers {
		select {
		case ch <- ev:
		default:
		}
	}
}

// sweep removes expired entries every half TTL until Close.
func (r *MemoryRegistry) sweep() {
	ticker := time.NewTicker(r.ttl / 2)
	defer ticker.Stop()

	for {
		select {
		case <-r.done:
			return
		case now := <-ticker.C:
			r.mu.Lock()
			if !r.closed {
				for _, cell := range r.cells {
					if r.expired(cell, now) {
						r.remove(cell)
					}
				}
			}
			r.mu.Unlock()
		}
	}
}
