package transport

import (
	"bufio"
	"bytes"
	"context"
	"io"

	"github.com/vinayprograms/cellbus/envelope"
)

// StdioTransport carries one envelope per line over a reader/writer pair,
// typically stdin and stdout.
type StdioTransport struct {
	*queue

	r       io.Reader
	w       io.Writer
	maxLine int
}

var _ Transport = (*StdioTransport)(nil)

// NewStdioTransport reads requests from r and writes replies to w.
func NewStdioTransport(r io.Reader, w io.Writer, cfg Config) *StdioTransport {
	cfg = cfg.withDefaults()
	return &StdioTransport{
		queue:   newQueue(cfg),
		r:       r,
		w:       w,
		maxLine: cfg.MaxFrameSize,
	}
}

// Run blocks until ctx is done or Close is called. Recv closes at end of
// input. A read blocked on r cannot be interrupted, so Run only waits for
// the writer to flush.
func (t *StdioTransport) Run(ctx context.Context) error {
	go t.scan()

	flushed := make(chan struct{})
	go func() {
		defer close(flushed)
		t.drain(t.writeLine, nil, nil)
	}()

	select {
	case <-ctx.Done():
		t.Close()
	case <-t.done:
	}
	<-flushed
	return nil
}

func (t *StdioTransport) scan() {
	defer close(t.in)

	sc := bufio.NewScanner(t.r)
	sc.Buffer(make([]byte, 0, 64*1024), t.maxLine)
	for sc.Scan() {
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		if !t.accept(line) {
			return
		}
	}
}

func (t *StdioTransport) writeLine(env *envelope.Envelope) {
	data, err := MarshalOutbound(env)
	if err != nil {
		return
	}
	t.w.Write(append(data, '\n'))
}
