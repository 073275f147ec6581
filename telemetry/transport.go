//go:build !(rp2040 || rp2350)

package telemetry

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"
)

// Transport is a pluggable telemetry link: something that can be
// (re)opened and written to, with TransportSink supervising reconnects
// around it.
type Transport interface {
	Open(ctx context.Context) (io.WriteCloser, error)
	String() string
}

type transportFactory func(any) (Transport, error)

var (
	regMu    sync.RWMutex
	registry = map[string]transportFactory{}
)

// RegisterTransport lets platform code add transports ("uart", "tcp",
// ...) without this package importing their drivers.
func RegisterTransport(name string, f func(any) (Transport, error)) {
	regMu.Lock()
	defer regMu.Unlock()
	registry[name] = f
}

func newTransport(kind string, cfg any) (Transport, error) {
	regMu.RLock()
	f, ok := registry[kind]
	regMu.RUnlock()
	if !ok {
		return nil, errors.New("telemetry: unknown transport " + kind)
	}
	return f(cfg)
}

func init() {
	RegisterTransport("line", func(cfg any) (Transport, error) {
		w, ok := cfg.(io.WriteCloser)
		if !ok {
			return nil, errors.New(`telemetry: "line" transport requires an io.WriteCloser config`)
		}
		return &lineTransport{w: w}, nil
	})
}

// lineTransport is the host telemetry transport: it writes encoded lines
// straight to an already-open io.WriteCloser (a file, stdout, a socket),
// so Open never actually dials anything.
type lineTransport struct{ w io.WriteCloser }

func (l *lineTransport) Open(context.Context) (io.WriteCloser, error) { return l.w, nil }
func (l *lineTransport) String() string                               { return "line" }

const (
	queueCap   = 64
	minBackoff = 100 * time.Millisecond
	maxBackoff = 5 * time.Second
)

// TransportSink is a Sink (router.go) backed by a Transport,
// reconnected with exponential backoff. Writes are asynchronous:
// TrySend queues the line and returns immediately; rejection means this
// internal queue (distinct from the Router's own per-channel queues) is
// full.
type TransportSink struct {
	kind string
	cfg  any

	lines chan []byte
}

// NewTransportSink constructs a Sink backed by the named registered
// transport. Run must be started in its own goroutine before any
// telemetry reaches the transport.
func NewTransportSink(kind string, cfg any) *TransportSink {
	return &TransportSink{kind: kind, cfg: cfg, lines: make(chan []byte, queueCap)}
}

// TrySend implements Sink.
func (s *TransportSink) TrySend(line []byte) bool {
	select {
	case s.lines <- line:
		return true
	default:
		return false
	}
}

// Run owns the transport's lifetime: open it, write every queued line,
// and reconnect with backoff on write failure, until ctx is cancelled.
func (s *TransportSink) Run(ctx context.Context) {
	tr, err := newTransport(s.kind, s.cfg)
	if err != nil {
		return
	}
	backoff := minBackoff
	for {
		w, err := tr.Open(ctx)
		if err != nil {
			if !sleepCtx(ctx, backoff) {
				return
			}
			backoff = nextBackoff(backoff)
			continue
		}
		backoff = minBackoff
		if !s.drainInto(ctx, w) {
			return
		}
	}
}

func (s *TransportSink) drainInto(ctx context.Context, w io.WriteCloser) bool {
	for {
		select {
		case <-ctx.Done():
			_ = w.Close()
			return false
		case line := <-s.lines:
			if _, err := w.Write(line); err != nil {
				return true // reconnect
			}
		}
	}
}

func nextBackoff(d time.Duration) time.Duration {
	d *= 2
	if d > maxBackoff {
		d = maxBackoff
	}
	return d
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
