// Package arbiter provides a single-holder exclusive lock over the
// shared I²C line, FIFO across the four channel Samplers, with a
// bounded maximum hold time. It wraps a tinygo.org/x/drivers.I2C handle;
// the actual ADC conversion sequence lives behind the Sampler's
// RawSource interface, so the Arbiter only mediates who may touch the
// bus and for how long.
package arbiter

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"tinygo.org/x/drivers"

	"cellcycler-go/errcode"
	"cellcycler-go/x/strconvx"
)

// ErrAbandoned is returned (via Transaction.Abandoned) when a transaction
// was force-released after exceeding the hold timeout.
var ErrAbandoned = errors.New("arbiter: transaction abandoned after hold timeout")

const defaultHoldTimeout = 20 * time.Millisecond

// FaultFunc reports a bus fault for the channel that held the lock when
// the fault occurred.
type FaultFunc func(channel int, detail string)

// Arbiter serializes access to one shared I²C bus.
type Arbiter struct {
	I2C drivers.I2C

	holdTimeout time.Duration
	onFault     FaultFunc

	mu    sync.Mutex
	held  bool
	queue []chan struct{}

	tmu      sync.Mutex
	timeouts map[int]int
}

// New constructs an Arbiter over i2c. holdTimeout<=0 means 20ms.
func New(i2c drivers.I2C, holdTimeout time.Duration, onFault FaultFunc) *Arbiter {
	if holdTimeout <= 0 {
		holdTimeout = defaultHoldTimeout
	}
	return &Arbiter{
		I2C:         i2c,
		holdTimeout: holdTimeout,
		onFault:     onFault,
		timeouts:    map[int]int{},
	}
}

// Transaction represents exclusive ownership of the bus for one channel.
// It must be released promptly; if the hold timeout elapses first, the
// arbiter force-releases it to the next waiter and reports a bus fault.
type Transaction struct {
	a         *Arbiter
	channel   int
	once      sync.Once
	timer     *time.Timer
	abandoned atomic.Bool
}

// Acquire blocks, in FIFO order across all callers, until the bus is free
// for this channel or ctx is cancelled.
func (a *Arbiter) Acquire(ctx context.Context, channel int) (*Transaction, error) {
	a.mu.Lock()
	if !a.held {
		a.held = true
		a.mu.Unlock()
		return a.begin(channel), nil
	}
	turn := make(chan struct{})
	a.queue = append(a.queue, turn)
	a.mu.Unlock()

	select {
	case <-turn:
		return a.begin(channel), nil
	case <-ctx.Done():
		a.dequeue(turn)
		return nil, ctx.Err()
	}
}

func (a *Arbiter) begin(channel int) *Transaction {
	t := &Transaction{a: a, channel: channel}
	t.timer = time.AfterFunc(a.holdTimeout, func() { a.abandon(t) })
	return t
}

func (a *Arbiter) dequeue(turn chan struct{}) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for i, c := range a.queue {
		if c == turn {
			a.queue = append(a.queue[:i], a.queue[i+1:]...)
			return
		}
	}
}

// Release hands the bus to the next queued waiter (or marks it idle). A
// Transaction that was already abandoned by the hold-time watchdog is a
// no-op here.
func (t *Transaction) Release() {
	t.once.Do(func() {
		t.timer.Stop()
		t.a.handoff()
	})
}

// Abandoned reports whether this transaction was force-released because
// the caller held the bus longer than the configured timeout. The caller
// must not perform any further bus I/O with this transaction once true.
func (t *Transaction) Abandoned() bool { return t.abandoned.Load() }

func (a *Arbiter) abandon(t *Transaction) {
	t.once.Do(func() {
		t.abandoned.Store(true)
		n := a.recordTimeout(t.channel)
		if a.onFault != nil {
			e := &errcode.E{C: errcode.FaultBus, Op: "bus lock hold timeout",
				Msg: string(errcode.Timeout) + ": exceeded (" + ordinal(n) + " this session)"}
			a.onFault(t.channel, e.Error())
		}
		a.handoff()
	})
}

// ordinal renders n as "1st"/"2nd"/"3rd"/"4th"... for the fault detail
// string.
func ordinal(n int) string {
	suffix := "th"
	switch n % 10 {
	case 1:
		if n%100 != 11 {
			suffix = "st"
		}
	case 2:
		if n%100 != 12 {
			suffix = "nd"
		}
	case 3:
		if n%100 != 13 {
			suffix = "rd"
		}
	}
	return strconvx.Itoa(n) + suffix
}

func (a *Arbiter) handoff() {
	a.mu.Lock()
	if len(a.queue) > 0 {
		next := a.queue[0]
		a.queue = a.queue[1:]
		a.mu.Unlock()
		close(next)
		return
	}
	a.held = false
	a.mu.Unlock()
}

func (a *Arbiter) recordTimeout(channel int) int {
	a.tmu.Lock()
	defer a.tmu.Unlock()
	a.timeouts[channel]++
	return a.timeouts[channel]
}

// TimeoutCount returns the number of hold-timeout abandonments recorded
// for channel so far, for inclusion in fault telemetry detail.
func (a *Arbiter) TimeoutCount(channel int) int {
	a.tmu.Lock()
	defer a.tmu.Unlock()
	return a.timeouts[channel]
}
