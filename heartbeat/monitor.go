package heartbeat

import (
	"slices"
	"sync"
	"time"

	"github.com/vinayprograms/cellbus/registry"
)

type tracked struct {
	cell     registry.CellInfo
	reported bool // reported dead since the last refresh
}

// Monitor follows a directory and reports cells that stop refreshing.
type Monitor struct {
	dir     registry.Registry
	timeout time.Duration
	every   time.Duration
	now     func() time.Time

	mu     sync.RWMutex
	cells  map[string]*tracked
	onDead []func(registry.CellInfo)

	life sync.Mutex // guards stop and done
	stop chan struct{}
	done chan struct{}
}

// NewMonitor creates a monitor. Zero durations take the defaults.
func NewMonitor(cfg MonitorConfig) (*Monitor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	def := DefaultMonitorConfig()
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.CheckInterval <= 0 {
		cfg.CheckInterval = def.CheckInterval
	}
	return &Monitor{
		dir:     cfg.Registry,
		timeout: cfg.Timeout,
		every:   cfg.CheckInterval,
		now:     time.Now,
		cells:   make(map[string]*tracked),
	}, nil
}

// Start seeds the monitor with the directory's current cells and follows
// its events until Stop or until the directory closes.
func (m *Monitor) Start() error {
	m.life.Lock()
	defer m.life.Unlock()
	if m.stop != nil {
		return ErrAlreadyStarted
	}

	events, err := m.dir.Watch()
	if err != nil {
		return err
	}
	cells, err := m.dir.List(nil)
	if err != nil {
		return err
	}
	for _, cell := range cells {
		m.refresh(cell)
	}

	m.stop = make(chan struct{})
	m.done = make(chan struct{})
	go m.loop(events, m.stop, m.done)
	return nil
}

// Stop ends monitoring and waits for the loop to exit.
func (m *Monitor) Stop() error {
	m.life.Lock()
	defer m.life.Unlock()
	if m.stop == nil {
		return ErrNotStarted
	}
	close(m.stop)
	<-m.done
	m.stop, m.done = nil, nil
	return nil
}

func (m *Monitor) loop(events <-chan registry.Event, stop, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(m.every)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			m.checkDead()
		case ev, ok := <-events:
			if !ok {
				return
			}
			if ev.Type == registry.EventRemoved {
				m.forget(ev.Cell.ID)
			} else {
				m.refresh(ev.Cell)
			}
		}
	}
}

func (m *Monitor) refresh(cell registry.CellInfo) {
	if cell.LastSeen.IsZero() {
		cell.LastSeen = m.now()
	}
	m.mu.Lock()
	m.cells[cell.ID] = &tracked{cell: cell}
	m.mu.Unlock()
}

func (m *Monitor) forget(id string) {
	m.mu.Lock()
	delete(m.cells, id)
	m.mu.Unlock()
}

// checkDead reports each cell once when it falls behind the timeout.
// Callbacks run outside the lock.
func (m *Monitor) checkDead() {
	cutoff := m.now().Add(-m.timeout)

	m.mu.Lock()
	var dead []registry.CellInfo
	for _, tr := range m.cells {
		if !tr.reported && tr.cell.LastSeen.Before(cutoff) {
			tr.reported = true
			dead = append(dead, tr.cell)
		}
	}
	callbacks := slices.Clone(m.onDead)
	m.mu.Unlock()

	for _, cell := range dead {
		for _, cb := range callbacks {
			cb(cell)
		}
	}
}

// IsAlive reports whether the cell refreshed within the timeout.
func (m *Monitor) IsAlive(id string) bool {
	cell, ok := m.LastSeen(id)
	return ok && m.now().Sub(cell.LastSeen) <= m.timeout
}

// LastSeen returns the latest entry seen for the cell.
func (m *Monitor) LastSeen(id string) (registry.CellInfo, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if tr, ok := m.cells[id]; ok {
		return tr.cell, true
	}
	return registry.CellInfo{}, false
}

// OnDead registers a callback for cells presumed dead.
func (m *Monitor) OnDead(callback func(cell registry.CellInfo)) {
	m.mu.Lock()
	m.onDead = append(m.onDead, callback)
	m.mu.Unlock()
}
