package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// DefaultBucket is the KV bucket holding the cell directory.
const DefaultBucket = "cbs-cells"

// kvKey matches the keys JetStream KV accepts.
var kvKey = regexp.MustCompile(`^[-/_=\.a-zA-Z0-9]+$`)

// NATSRegistryConfig configures a NATSRegistry.
type NATSRegistryConfig struct {
	BucketName string

	// TTL is the bucket's max age. Entries not re-registered within it
	// disappear. Zero keeps entries forever.
	TTL time.Duration

	// Replicas is clamped to at least 1.
	Replicas int

	// OpTimeout bounds each KV call.
	OpTimeout time.Duration
}

// DefaultNATSRegistryConfig uses bucket cbs-cells with a 30s TTL.
func DefaultNATSRegistryConfig() NATSRegistryConfig {
	return NATSRegistryConfig{
		BucketName: DefaultBucket,
		TTL:        30 * time.Second,
		Replicas:   1,
		OpTimeout:  5 * time.Second,
	}
}

// NATSRegistry shares one directory between every process attached to the
// same NATS server, stored as JSON CellInfo values keyed by cell ID.
type NATSRegistry struct {
	conn *nats.Conn
	kv   jetstream.KeyValue
	cfg  NATSRegistryConfig

	mu       sync.RWMutex
	watchers []chan Event
	last     map[string]CellInfo // latest value per key, for removal events
	closed   bool

	stopWatch context.CancelFunc
	watchDone chan struct{}
}

// NewNATSRegistry opens, or creates, the bucket on conn and starts
// following its updates. conn stays owned by the caller.
func NewNATSRegistry(conn *nats.Conn, cfg NATSRegistryConfig) (*NATSRegistry, error) {
	if conn == nil {
		return nil, errors.New("registry: nil NATS connection")
	}
	def := DefaultNATSRegistryConfig()
	if cfg.BucketName == "" {
		cfg.BucketName = def.BucketName
	}
	if cfg.Replicas < 1 {
		cfg.Replicas = 1
	}
	if cfg.OpTimeout <= 0 {
		cfg.OpTimeout = def.OpTimeout
	}

	js, err := jetstream.New(conn)
	if err != nil {
		return nil, fmt.Errorf("jetstream: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.OpTimeout)
	defer cancel()
	kv, err := js.CreateOrUpdateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:      cfg.BucketName,
		Description: "Cell Body System directory",
		TTL:         cfg.TTL,
		Replicas:    cfg.Replicas,
	})
	if err != nil {
		return nil, fmt.Errorf("open bucket %s: %w", cfg.BucketName, err)
	}

	watchCtx, stop := context.WithCancel(context.Background())
	r := &NATSRegistry{
		conn:      conn,
		kv:        kv,
		cfg:       cfg,
		last:      make(map[string]CellInfo),
		stopWatch: stop,
		watchDone: make(chan struct{}),
	}
	go r.follow(watchCtx)
	return r, nil
}

// Conn returns the connection the registry was opened on.
func (r *NATSRegistry) Conn() *nats.Conn { return r.conn }

// Register stores info under its ID. IDs must be valid KV keys.
func (r *NATSRegistry) Register(info CellInfo) error {
	if err := r.check(info.ID); err != nil {
		return err
	}

	data, err := json.Marshal(stamp(info))
	if err != nil {
		return fmt.Errorf("encode %s: %w", info.ID, err)
	}

	ctx, cancel := r.op()
	defer cancel()
	if _, err := r.kv.Put(ctx, info.ID, data); err != nil {
		return fmt.Errorf("put %s: %w", info.ID, err)
	}
	return nil
}

// Deregister deletes the entry. Unknown IDs return ErrNotFound.
func (r *NATSRegistry) Deregister(id string) error {
	if err := r.check(id); err != nil {
		return err
	}

	ctx, cancel := r.op()
	defer cancel()
	if _, err := r.kv.Get(ctx, id); err != nil {
		return notFound(id, err)
	}
	if err := r.kv.Delete(ctx, id); err != nil {
		return fmt.Errorf("delete %s: %w", id, err)
	}
	return nil
}

// Get reads one entry.
func (r *NATSRegistry) Get(id string) (*CellInfo, error) {
	if err := r.check(id); err != nil {
		return nil, err
	}

	ctx, cancel := r.op()
	defer cancel()
	entry, err := r.kv.Get(ctx, id)
	if err != nil {
		return nil, notFound(id, err)
	}
	info, err := decode(entry.Value())
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", id, err)
	}
	return &info, nil
}

// List reads every entry and returns those matching filter, sorted by ID.
// Entries deleted or rewritten as garbage mid-scan are skipped.
func (r *NATSRegistry) List(filter *Filter) ([]CellInfo, error) {
	if r.isClosed() {
		return nil, ErrClosed
	}

	ctx, cancel := r.op()
	defer cancel()
	keys, err := r.kv.Keys(ctx)
	if errors.Is(err, jetstream.ErrNoKeysFound) {
		return []CellInfo{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("list keys: %w", err)
	}

	out := make([]CellInfo, 0, len(keys))
	for _, key := range keys {
		entry, err := r.kv.Get(ctx, key)
		if err != nil {
			continue
		}
		info, err := decode(entry.Value())
		if err != nil || !MatchesFilter(info, filter) {
			continue
		}
		out = append(out, info)
	}
	sortByID(out)
	return out, nil
}

// FindBySubject returns the cells serving subject, sorted by ID.
func (r *NATSRegistry) FindBySubject(subject string) ([]CellInfo, error) {
	return r.List(&Filter{Subject: subject})
}

// Watch returns a channel of changes made by any process on the bucket.
// A watcher that falls 64 events behind misses events.
func (r *NATSRegistry) Watch() (<-chan Event, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, ErrClosed
	}
	ch := make(chan Event, 64)
	r.watchers = append(r.watchers, ch)
	return ch, nil
}

// Close stops following the bucket and closes every watch channel. The
// connection stays open.
func (r *NATSRegistry) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	r.mu.Unlock()

	r.stopWatch()
	<-r.watchDone

	r.mu.Lock()
	for _, ch := range r.watchers {
		close(ch)
	}
	r.watchers = nil
	r.mu.Unlock()
	return nil
}

func (r *NATSRegistry) op() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), r.cfg.OpTimeout)
}

func (r *NATSRegistry) isClosed() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.closed
}

func validateKey(id string) error {
	if !kvKey.MatchString(id) {
		return ErrInvalidID
	}
	return nil
}

// check validates id as a KV key and fails once the registry is closed.
func (r *NATSRegistry) check(id string) error {
	if err := validateKey(id); err != nil {
		return err
	}
	if r.isClosed() {
		return ErrClosed
	}
	return nil
}

func notFound(id string, err error) error {
	if errors.Is(err, jetstream.ErrKeyNotFound) {
		return ErrNotFound
	}
	return fmt.Errorf("get %s: %w", id, err)
}

func decode(data []byte) (CellInfo, error) {
	var info CellInfo
	err := json.Unmarshal(data, &info)
	return info, err
}

// follow turns bucket updates into events until ctx is canceled.
func (r *NATSRegistry) follow(ctx context.Context) {
	defer close(r.watchDone)

	w, err := r.kv.WatchAll(ctx)
	if err != nil {
		return
	}
	defer w.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case entry, ok := <-w.Updates():
			if !ok {
				return
			}
			// A nil entry ends the replay of current values.
			if entry == nil {
				continue
			}
			if ev, ok := r.event(entry); ok {
				r.broadcast(ev)
			}
		}
	}
}

func (r *NATSRegistry) event(entry jetstream.KeyValueEntry) (Event, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := entry.Key()
	switch entry.Operation() {
	case jetstream.KeyValuePut:
		info, err := decode(entry.Value())
		if err != nil {
			return Event{}, false
		}
		typ := EventAdded
		if _, seen := r.last[key]; seen {
			typ = EventUpdated
		}
		r.last[key] = info
		return Event{Type: typ, Cell: info}, true

	case jetstream.KeyValueDelete, jetstream.KeyValuePurge:
		info, seen := r.last[key]
		if !seen {
			info = CellInfo{ID: key}
		}
		delete(r.last, key)
		return Event{Type: EventRemoved, Cell: info}, true
	}
	return Event{}, false
}

func (r *NATSRegistry) broadcast(ev Event) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return
	}
	for _, ch := range r.watchers {
		select {
		case ch <- ev:
		default:
		}
	}
}
