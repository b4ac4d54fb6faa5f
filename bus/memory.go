package bus

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"sync/atomic"
)

// MemoryBus implements MessageBus with in-process channels.
// Used by tests and single-process deployments.
type MemoryBus struct {
	config Config

	mu          sync.RWMutex
	subs        map[string][]*memorySub
	queueGroups map[string]map[string]*queueGroup // subject -> queue -> members
	closed      atomic.Bool

	// For request/reply
	replyMu   sync.Mutex
	replySubs map[string]chan *Message
	replySeq  atomic.Uint64
}

type queueGroup struct {
	members []*memorySub
	next    atomic.Uint64
}

type memorySub struct {
	subject string
	queue   string
	bus     *MemoryBus

	ch   chan *Message
	done chan struct{} // closed first on unsubscribe, releases blocked senders
	once sync.Once

	mu     sync.RWMutex // held for reading while sending on ch
	closed bool
}

// NewMemoryBus creates a new in-memory message bus.
func NewMemoryBus(cfg Config) *MemoryBus {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = DefaultConfig().BufferSize
	}

	return &MemoryBus{
		config:      cfg,
		subs:        make(map[string][]*memorySub),
		queueGroups: make(map[string]map[string]*queueGroup),
		replySubs:   make(map[string]chan *Message),
	}
}

// Publish sends data to all subscribers.
func (b *MemoryBus) Publish(subject string, data []byte) error {
	return b.PublishMsg(&Message{Subject: subject, Data: data})
}

// PublishMsg sends a message to all subscribers, one member of each queue
// group, and any request waiting on the subject as its reply inbox. It
// blocks while a receiving subscription's buffer is full.
func (b *MemoryBus) PublishMsg(msg *Message) error {
	if err := ValidateSubject(msg.Subject); err != nil {
		return err
	}
	if b.closed.Load() {
		return ErrClosed
	}

	b.deliver(context.Background(), msg)
	b.deliverToReply(msg)
	return nil
}

// groupTurn is one queue group's members in the order to try them.
type groupTurn []*memorySub

// deliver hands msg to plain subscribers and to one member per queue group.
// Targets are picked under the lock; the sends happen outside it so a full
// subscriber never blocks Subscribe, Unsubscribe or Close. Returns the
// number of subscriptions that accepted msg.
func (b *MemoryBus) deliver(ctx context.Context, msg *Message) int {
	b.mu.RLock()
	plain := append([]*memorySub(nil), b.subs[msg.Subject]...)
	turns := make([]groupTurn, 0, len(b.queueGroups[msg.Subject]))
	for _, group := range b.queueGroups[msg.Subject] {
		if t := group.turn(); len(t) > 0 {
			turns = append(turns, t)
		}
	}
	b.mu.RUnlock()

	delivered := 0
	for _, sub := range plain {
		if sub.send(ctx, msg) {
			delivered++
		}
	}
	for _, t := range turns {
		if t.send(ctx, msg) {
			delivered++
		}
	}
	return delivered
}

// hasInterest reports whether anything is subscribed to subject.
func (b *MemoryBus) hasInterest(subject string) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if len(b.subs[subject]) > 0 {
		return true
	}
	for _, group := range b.queueGroups[subject] {
		if len(group.members) > 0 {
			return true
		}
	}
	return false
}

// trySend delivers msg only if the buffer has room.
func (s *memorySub) trySend(msg *Message) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return false
	}
	select {
	case s.ch <- msg:
		return true
	default:
		return false
	}
}

// send waits for buffer room until the subscription closes or ctx is done.
func (s *memorySub) send(ctx context.Context, msg *Message) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return false
	}
	select {
	case s.ch <- msg:
		return true
	case <-s.done:
		return false
	case <-ctx.Done():
		return false
	}
}

// turn returns the members rotated to start at the next one in line.
// Caller holds bus.mu.
func (g *queueGroup) turn() groupTurn {
	n := uint64(len(g.members))
	if n == 0 {
		return nil
	}
	start := g.next.Add(1) - 1
	t := make(groupTurn, 0, n)
	for i := uint64(0); i < n; i++ {
		t = append(t, g.members[(start+i)%n])
	}
	return t
}

// send gives msg to the first member with room, or waits on the member
// whose turn it is when every buffer is full.
func (t groupTurn) send(ctx context.Context, msg *Message) bool {
	for _, sub := range t {
		if sub.trySend(msg) {
			return true
		}
	}
	return t[0].send(ctx, msg)
}

// deliverToReply completes a pending Request whose inbox is msg.Subject.
func (b *MemoryBus) deliverToReply(msg *Message) {
	b.replyMu.Lock()
	ch, ok := b.replySubs[msg.Subject]
	if ok {
		delete(b.replySubs, msg.Subject)
	}
	b.replyMu.Unlock()

	if ok {
		ch <- msg // buffered, capacity 1
		close(ch)
	}
}

// Subscribe creates a subscription to a subject.
func (b *MemoryBus) Subscribe(subject string) (Subscription, error) {
	return b.QueueSubscribe(subject, "")
}

// QueueSubscribe creates a queue subscription. An empty queue name creates a
// plain subscription.
func (b *MemoryBus) QueueSubscribe(subject, queue string) (Subscription, error) {
	if err := ValidateSubject(subject); err != nil {
		return nil, err
	}

	sub := &memorySub{
		subject: subject,
		queue:   queue,
		ch:      make(chan *Message, b.config.BufferSize),
		done:    make(chan struct{}),
		bus:     b,
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed.Load() {
		return nil, ErrClosed
	}

	if queue == "" {
		b.subs[subject] = append(b.subs[subject], sub)
		return sub, nil
	}

	if b.queueGroups[subject] == nil {
		b.queueGroups[subject] = make(map[string]*queueGroup)
	}
	group := b.queueGroups[subject][queue]
	if group == nil {
		group = &queueGroup{}
		b.queueGroups[subject][queue] = group
	}
	group.members = append(group.members, sub)

	return sub, nil
}

// Request sends msg and waits for a reply. With no subscriber on the subject
// it fails immediately with ErrNoResponders, like a NATS server does.
func (b *MemoryBus) Request(ctx context.Context, msg *Message) (*Message, error) {
	if err := ValidateSubject(msg.Subject); err != nil {
		return nil, err
	}
	if b.closed.Load() {
		return nil, ErrClosed
	}
	if !b.hasInterest(msg.Subject) {
		return nil, ErrNoResponders
	}

	inbox := b.createReplySubject()
	replyCh := make(chan *Message, 1)

	b.replyMu.Lock()
	b.replySubs[inbox] = replyCh
	b.replyMu.Unlock()

	req := &Message{
		Subject: msg.Subject,
		Reply:   inbox,
		Data:    msg.Data,
		Header:  msg.Header,
	}
	b.deliver(ctx, req)

	select {
	case reply, ok := <-replyCh:
		if !ok {
			return nil, ErrClosed
		}
		return reply, nil
	case <-ctx.Done():
		b.replyMu.Lock()
		delete(b.replySubs, inbox)
		b.replyMu.Unlock()
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, ErrTimeout
		}
		return nil, ctx.Err()
	}
}

// createReplySubject generates a unique reply subject.
func (b *MemoryBus) createReplySubject() string {
	return "_INBOX." + strconv.FormatUint(b.replySeq.Add(1), 10)
}

// IsConnected reports true until Close is called.
func (b *MemoryBus) IsConnected() bool {
	return !b.closed.Load()
}

// Close shuts down the bus, closing every subscription and failing every
// pending request with ErrClosed.
func (b *MemoryBus) Close() error {
	if b.closed.Swap(true) {
		return nil
	}

	b.mu.Lock()
	var all []*memorySub
	for _, subs := range b.subs {
		all = append(all, subs...)
	}
	for _, queues := range b.queueGroups {
		for _, group := range queues {
			all = append(all, group.members...)
		}
	}
	b.subs = map[string][]*memorySub{}
	b.queueGroups = map[string]map[string]*queueGroup{}
	b.mu.Unlock()

	for _, sub := range all {
		sub.close()
	}

	b.replyMu.Lock()
	for inbox, ch := range b.replySubs {
		close(ch)
		delete(b.replySubs, inbox)
	}
	b.replyMu.Unlock()

	return nil
}

// close releases blocked senders, then closes the channel once none is
// sending on it.
func (s *memorySub) close() {
	s.once.Do(func() { close(s.done) })
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
}

// Subject returns the subscribed subject.
func (s *memorySub) Subject() string {
	return s.subject
}

// Messages returns the message channel.
func (s *memorySub) Messages() <-chan *Message {
	return s.ch
}

// Unsubscribe cancels the subscription.
func (s *memorySub) Unsubscribe() error {
	s.bus.mu.Lock()
	if s.queue == "" {
		s.bus.removeSub(s.subject, s)
	} else {
		s.bus.removeQueueSub(s.subject, s.queue, s)
	}
	s.bus.mu.Unlock()

	s.close()
	return nil
}

// removeSub removes a plain subscription.
func (b *MemoryBus) removeSub(subject string, target *memorySub) {
	subs := b.subs[subject]
	for i, sub := range subs {
		if sub == target {
			b.subs[subject] = append(subs[:i:i], subs[i+1:]...)
			break
		}
	}
	if len(b.subs[subject]) == 0 {
		delete(b.subs, subject)
	}
}

// removeQueueSub removes a queue subscription.
func (b *MemoryBus) removeQueueSub(subject, queue string, target *memorySub) {
	group := b.queueGroups[subject][queue]
	if group == nil {
		return
	}
	for i, sub := range group.members {
		if sub == target {
			group.members = append(group.members[:i:i], group.members[i+1:]...)
			break
		}
	}
	if len(group.members) == 0 {
		delete(b.queueGroups[subject], queue)
		if len(b.queueGroups[subject]) == 0 {
			delete(b.queueGroups, subject)
		}
	}
}
