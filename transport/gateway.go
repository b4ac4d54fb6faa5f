package transport

import (
	"context"
	"sync"

	"golang.org/x/time/rate"

	"github.com/vinayprograms/cellbus/body"
	"github.com/vinayprograms/cellbus/envelope"
	"github.com/vinayprograms/cellbus/logging"
)

// DefaultMaxInFlight bounds concurrent bus requests per client.
const DefaultMaxInFlight = 64

// Gateway forwards request envelopes from a client transport onto a bus and
// sends each reply back on the same transport.
type Gateway struct {
	bus         body.Bus
	logger      *logging.Logger
	maxInFlight int

	// Per-session request rate; zero means unlimited.
	limit rate.Limit
	burst int
}

// GatewayOption configures a Gateway.
type GatewayOption func(*Gateway)

// WithLogger sets the gateway logger. Default: discard.
func WithLogger(l *logging.Logger) GatewayOption {
	return func(g *Gateway) {
		g.logger = l
	}
}

// WithMaxInFlight bounds concurrent requests per client.
func WithMaxInFlight(n int) GatewayOption {
	return func(g *Gateway) {
		g.maxInFlight = n
	}
}

// WithRateLimit throttles each session to perSecond requests with the given
// burst. Excess requests wait rather than fail.
func WithRateLimit(perSecond float64, burst int) GatewayOption {
	return func(g *Gateway) {
		g.limit = rate.Limit(perSecond)
		g.burst = burst
	}
}

// NewGateway creates a gateway onto b.
func NewGateway(b body.Bus, opts ...GatewayOption) *Gateway {
	g := &Gateway{
		bus:         b,
		logger:      logging.Nop(),
		maxInFlight: DefaultMaxInFlight,
	}
	for _, opt := range opts {
		opt(g)
	}
	if g.maxInFlight <= 0 {
		g.maxInFlight = DefaultMaxInFlight
	}
	if g.limit > 0 && g.burst <= 0 {
		g.burst = 1
	}
	return g
}

// Serve runs t and answers its requests until the client goes away or ctx
// is done. Requests already in flight are answered before t shuts down.
func (g *Gateway) Serve(ctx context.Context, t Transport) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	runErr := make(chan error, 1)
	go func() {
		runErr <- t.Run(ctx)
	}()

	sem := make(chan struct{}, g.maxInFlight)
	var wg sync.WaitGroup

	var limiter *rate.Limiter
	if g.limit > 0 {
		limiter = rate.NewLimiter(g.limit, g.burst)
	}

loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case req, ok := <-t.Recv():
			if !ok {
				break loop
			}
			if limiter != nil {
				if err := limiter.Wait(ctx); err != nil {
					break loop
				}
			}
			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				break loop
			}
			wg.Add(1)
			go func() {
				defer wg.Done()
				defer func() { <-sem }()
				g.forward(ctx, t, req)
			}()
		}
	}

	wg.Wait()
	cancel()
	return <-runErr
}

func (g *Gateway) forward(ctx context.Context, t Transport, req *envelope.Envelope) {
	var reply *envelope.Envelope
	payload, err := g.bus.Request(ctx, req)
	if err != nil {
		reply = envelope.ErrorTo(req, err)
	} else {
		reply = envelope.ResponseTo(req, payload)
	}

	if err := t.Send(reply); err != nil {
		g.logger.Debug("gateway reply dropped", map[string]interface{}{
			"id":      req.ID,
			"subject": req.Subject(),
			"error":   err.Error(),
		})
	}
}
