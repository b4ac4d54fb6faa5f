package heartbeat

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vinayprograms/cellbus/logging"
	"github.com/vinayprograms/cellbus/registry"
)

// Sender keeps directory entries alive by registering them again every
// interval.
type Sender struct {
	dir      registry.Registry
	interval time.Duration
	logger   *logging.Logger

	mu    sync.RWMutex
	cells map[string]registry.CellInfo

	rounds atomic.Uint64

	life   sync.Mutex // guards cancel and done
	cancel context.CancelFunc
	done   chan struct{}
}

// NewSender creates a sender. A zero interval takes the default.
func NewSender(cfg SenderConfig) (*Sender, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultSenderConfig().Interval
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Nop()
	}
	return &Sender{
		dir:      cfg.Registry,
		interval: cfg.Interval,
		logger:   cfg.Logger,
		cells:    make(map[string]registry.CellInfo),
	}, nil
}

// Add registers info now and includes it in every later refresh.
func (s *Sender) Add(info registry.CellInfo) error {
	if err := s.dir.Register(info); err != nil {
		return err
	}
	s.mu.Lock()
	s.cells[info.ID] = info
	s.mu.Unlock()
	return nil
}

// Remove stops refreshing the cell. Its entry is left to expire or to be
// deregistered by the caller.
func (s *Sender) Remove(id string) {
	s.mu.Lock()
	delete(s.cells, id)
	s.mu.Unlock()
}

// Cells returns the IDs being refreshed, sorted.
func (s *Sender) Cells() []string {
	s.mu.RLock()
	ids := make([]string, 0, len(s.cells))
	for id := range s.cells {
		ids = append(ids, id)
	}
	s.mu.RUnlock()
	sort.Strings(ids)
	return ids
}

// Start refreshes in the background until Stop or until ctx is done.
func (s *Sender) Start(ctx context.Context) error {
	s.life.Lock()
	defer s.life.Unlock()
	if s.cancel != nil {
		return ErrAlreadyStarted
	}
	if ctx == nil {
		ctx = context.Background()
	}

	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})
	go s.loop(ctx, s.done)
	return nil
}

// Stop ends refreshing and waits for a round in progress. It is safe after
// the context given to Start is done.
func (s *Sender) Stop() error {
	s.life.Lock()
	defer s.life.Unlock()
	if s.cancel == nil {
		return ErrNotStarted
	}
	s.cancel()
	<-s.done
	s.cancel, s.done = nil, nil
	return nil
}

// Beats returns how many refresh rounds have run.
func (s *Sender) Beats() uint64 { return s.rounds.Load() }

func (s *Sender) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.refreshAll()
		}
	}
}

func (s *Sender) refreshAll() {
	s.mu.RLock()
	batch := make([]registry.CellInfo, 0, len(s.cells))
	for _, info := range s.cells {
		batch = append(batch, info)
	}
	s.mu.RUnlock()

	for _, info := range batch {
		if err := s.dir.Register(info); err != nil {
			s.logger.Warn("directory refresh failed", map[string]interface{}{
				"cell":  info.ID,
				"error": err.Error(),
			})
		}
	}
	s.rounds.Add(1)
}
