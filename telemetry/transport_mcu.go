//go:build rp2040 || rp2350

package telemetry

import (
	"context"
	"errors"
	"io"

	"github.com/jangala-dev/tinygo-uartx"
	"machine"

	"cellcycler-go/x/shmring"
)

func init() {
	RegisterTransport("uart", func(cfg any) (Transport, error) {
		c, ok := cfg.(UARTConfig)
		if !ok {
			return nil, errors.New("telemetry: \"uart\" transport requires a UARTConfig")
		}
		return &uartTransport{cfg: c}, nil
	})
}

// UARTConfig configures the MCU-side telemetry transport: a direct,
// always-on UART link off the device.
type UARTConfig struct {
	UART     *uartx.UART
	BaudRate uint32
	TX, RX   machine.Pin
}

type uartTransport struct{ cfg UARTConfig }

// Open configures the UART on first use and hands back a WriteCloser;
// there is nothing to dial, so Open cannot fail the way a socket's can.
func (u *uartTransport) Open(context.Context) (io.WriteCloser, error) {
	u.cfg.UART.Configure(uartx.UARTConfig{
		BaudRate: u.cfg.BaudRate,
		TX:       u.cfg.TX,
		RX:       u.cfg.RX,
	})
	return uartWriteCloser{u.cfg.UART}, nil
}

func (u *uartTransport) String() string { return "uart" }

type uartWriteCloser struct{ u *uartx.UART }

func (w uartWriteCloser) Write(p []byte) (int, error) { return w.u.Write(p) }
func (w uartWriteCloser) Close() error                { return nil }

// RingSink is the MCU-side Sink implementation: encoded lines are copied
// into a shmring.Ring instead of queued as separate []byte values, so
// telemetry buffering stays allocation-free after start-up, the same
// discipline x/fmtx and x/strconvx hold to on this build target. Exactly
// one producer (the Channel Supervisor goroutine calling TrySend) and
// one consumer (Run's own goroutine) is the SPSC contract shmring.Ring
// requires.
type RingSink struct {
	ring *shmring.Ring
	tr   Transport
}

// NewRingSink constructs a RingSink with a power-of-two byte capacity,
// backed by tr.
func NewRingSink(capacity int, tr Transport) *RingSink {
	return &RingSink{ring: shmring.New(capacity), tr: tr}
}

// TrySend implements Sink. A line that doesn't fit whole is rejected
// rather than partially written, so a reader on the other end never sees
// a truncated record.
func (s *RingSink) TrySend(line []byte) bool {
	if len(line) > s.ring.Space() {
		return false
	}
	return s.ring.TryWriteFrom(line) == len(line)
}

// Run drains the ring into tr until ctx is cancelled, reconnecting is not
// attempted here: a UART link has no notion of "down" the way a dialled
// transport does.
func (s *RingSink) Run(ctx context.Context) {
	w, err := s.tr.Open(ctx)
	if err != nil {
		return
	}
	buf := make([]byte, 256)
	for {
		select {
		case <-ctx.Done():
			_ = w.Close()
			return
		case <-s.ring.Readable():
		}
		for {
			n := s.ring.TryReadInto(buf)
			if n == 0 {
				break
			}
			_, _ = w.Write(buf[:n])
		}
	}
}
