package channel

import (
	"context"
	"time"

	"cellcycler-go/arbiter"
	"cellcycler-go/bus"
	"cellcycler-go/errcode"
	"cellcycler-go/model"
)

// Point identifies one of the three measurement points the Sampler
// sweeps per channel.
type Point int

const (
	PointVBatt Point = iota
	PointICh
	PointIDch
)

// RawSource is the external ADC collaborator: it yields a raw ADC
// count for one channel/point pair, or an error on a
// bus/conversion failure. Implementations are free to multiplex one ADC
// across channels or use independent ADCs.
type RawSource interface {
	ReadRaw(ctx context.Context, channel int, point Point) (int32, error)
}

// Sampler drives one channel's acquisition: every period, it takes the
// bus arbiter's lock, sweeps the channel's three measurement
// points, converts raw counts to physical units with the channel's
// calibration, and emits a Sample. It retries a single bus failure before
// reporting a sampler fault to the Channel Supervisor — never to the
// Event Deriver, which only ever sees physical samples.
type Sampler struct {
	Channel int
	Arbiter *arbiter.Arbiter
	Source  RawSource

	Period time.Duration
	Cal    model.Calibration

	OnSample func(model.Sample)
	OnFault  func(kind model.FaultKind, detail string)

	conn *bus.Connection
}

// NewSampler constructs a Sampler. conn, if non-nil, is used to
// subscribe to late period updates published under "config/...".
func NewSampler(channel int, a *arbiter.Arbiter, src RawSource, period time.Duration, cal model.Calibration, conn *bus.Connection) *Sampler {
	return &Sampler{
		Channel: channel,
		Arbiter: a,
		Source:  src,
		Period:  period,
		Cal:     cal,
		conn:    conn,
	}
}

// Run drives the periodic sampling loop until ctx is cancelled. It is
// meant to be started in its own goroutine by the Channel Supervisor,
// one per channel.
func (s *Sampler) Run(ctx context.Context) {
	var cfgSub *bus.Subscription
	if s.conn != nil {
		cfgSub = s.conn.Subscribe(bus.T("config", "channel", s.Channel, "period_ms"))
		defer s.conn.Unsubscribe(cfgSub)
	}

	tick := time.NewTicker(s.Period)
	defer tick.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-tick.C:
			s.sweep(ctx, now.UnixMicro())
		case msg := <-s.subChannel(cfgSub):
			if ms, ok := msg.Payload.(float64); ok && ms > 0 {
				s.Period = time.Duration(ms) * time.Millisecond
				tick.Reset(s.Period)
			}
		}
	}
}

// subChannel returns sub's delivery channel, or a nil channel (which
// blocks forever in a select) when no config connection was supplied.
func (s *Sampler) subChannel(sub *bus.Subscription) <-chan *bus.Message {
	if sub == nil {
		return nil
	}
	return sub.Channel()
}

func (s *Sampler) sweep(ctx context.Context, nowUs int64) {
	txn, err := s.Arbiter.Acquire(ctx, s.Channel)
	if err != nil {
		return // context cancelled; caller is shutting down
	}
	defer txn.Release()

	vRaw, err := s.readWithRetry(ctx, PointVBatt)
	if err == nil && !txn.Abandoned() {
		var iChRaw, iDchRaw int32
		iChRaw, err = s.readWithRetry(ctx, PointICh)
		if err == nil && !txn.Abandoned() {
			iDchRaw, err = s.readWithRetry(ctx, PointIDch)
		}
		if err == nil && !txn.Abandoned() {
			s.emit(nowUs, vRaw, iChRaw, iDchRaw)
			return
		}
	}
	if txn.Abandoned() {
		return // the arbiter already raised a bus fault for this abandonment
	}
	if s.OnFault != nil {
		e := &errcode.E{C: errcode.FaultSampler, Op: "read after retry", Err: err,
			Msg: string(errcode.MapDriverErr(err)) + ": " + err.Error()}
		s.OnFault(model.FaultSampler, e.Error())
	}
}

// readWithRetry retries a failed read exactly once; the caller reports
// a sampler fault on the second failure.
func (s *Sampler) readWithRetry(ctx context.Context, p Point) (int32, error) {
	v, err := s.Source.ReadRaw(ctx, s.Channel, p)
	if err == nil {
		return v, nil
	}
	return s.Source.ReadRaw(ctx, s.Channel, p)
}

func (s *Sampler) emit(nowUs int64, vRaw, iChRaw, iDchRaw int32) {
	sample := model.Sample{
		ChannelID: s.Channel,
		TMonoUs:   nowUs,
		VBattMV:   s.Cal.VBatt.Apply(vRaw),
		IChMA:     s.Cal.ICh.Apply(iChRaw),
		IDchMA:    s.Cal.IDch.Apply(iDchRaw),
	}
	if s.OnSample != nil {
		s.OnSample(sample)
	}
}
