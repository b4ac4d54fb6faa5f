package transport

import (
	"sync"
	"time"

	"github.com/vinayprograms/cellbus/envelope"
)

// queue is the channel plumbing shared by every transport: an inbound
// channel the reader fills, an outbound channel one writer drains, and a
// done channel closed exactly once.
type queue struct {
	in   chan *envelope.Envelope
	out  chan *envelope.Envelope
	done chan struct{}
	once sync.Once
}

func newQueue(cfg Config) *queue {
	return &queue{
		in:   make(chan *envelope.Envelope, cfg.RecvBufferSize),
		out:  make(chan *envelope.Envelope, cfg.SendBufferSize),
		done: make(chan struct{}),
	}
}

func (q *queue) Recv() <-chan *envelope.Envelope { return q.in }

func (q *queue) stopped() bool {
	select {
	case <-q.done:
		return true
	default:
		return false
	}
}

// Send queues env for the writer. It blocks while the queue is full and
// returns ErrClosed once the transport stops.
func (q *queue) Send(env *envelope.Envelope) error {
	if q.stopped() {
		return ErrClosed
	}
	select {
	case q.out <- env:
		return nil
	case <-q.done:
		return ErrClosed
	}
}

// Close stops the transport. Envelopes already queued are still written.
func (q *queue) Close() error {
	q.once.Do(func() { close(q.done) })
	return nil
}

// accept routes one raw inbound frame: a valid request goes to Recv, a bad
// one is answered with BadRequest. It reports false once the transport
// stopped.
func (q *queue) accept(frame []byte) bool {
	env, err := ParseInbound(frame)
	if err != nil {
		q.Send(rejectFrame(frame, err))
		return !q.stopped()
	}
	select {
	case q.in <- env:
		return true
	case <-q.done:
		return false
	}
}

// drain runs the writer until Close, then flushes what is left. tick may
// be nil; each tick calls ping.
func (q *queue) drain(write func(*envelope.Envelope), tick <-chan time.Time, ping func()) {
	for {
		select {
		case env := <-q.out:
			write(env)
		case <-tick:
			ping()
		case <-q.done:
			for {
				select {
				case env := <-q.out:
					write(env)
				default:
					return
				}
			}
		}
	}
}
