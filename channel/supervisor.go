package channel

import (
	"context"
	"time"

	"cellcycler-go/arbiter"
	"cellcycler-go/bus"
	"cellcycler-go/config"
	"cellcycler-go/errcode"
	"cellcycler-go/model"
	"cellcycler-go/x/timex"
)

// TelemetrySink is the subset of the Telemetry Router's behaviour the
// Supervisor needs. Kept as an interface, the way IntegratorControl
// decouples bcfsm.go from integrator.go's concrete type, so this package
// never imports telemetry and there is no import cycle to reason about.
type TelemetrySink interface {
	Offer(ctx context.Context, channel int, kind model.RecordKind, payload any)
}

// Supervisor binds one channel together: it owns the channel's
// Sampler, Event Deriver, BC-FSM, Coulomb Integrator and
// SoC-FSM, wires their callbacks together, dispatches operator commands
// to the right FSM, and forwards every telemetry-worthy event to the
// Telemetry Router.
type Supervisor struct {
	Channel int

	Sampler    *Sampler
	Deriver    *EventDeriver
	BC         *BCFSM
	Integrator *Integrator
	SoC        *SoCFSM

	telemetry  TelemetrySink
	decimation int

	conn *bus.Connection
	ctx  context.Context

	sampleCount int
}

// NewSupervisor wires a full channel. The Coulomb Integrator's
// sample-gap tolerance is fixed at five sample periods.
func NewSupervisor(channel int, sw SwitchSink, src RawSource, arb *arbiter.Arbiter,
	cal model.Calibration, timing config.Timing, th config.Thresholds,
	conn *bus.Connection, sink TelemetrySink) *Supervisor {

	integ := NewIntegrator(int64(timing.TsMs) * 5 * 1000)
	bc := NewBCFSM(channel, sw, integ)
	deriver := NewEventDeriver(channel, th)
	deriver.BCState = bc.State
	soc := NewSoCFSM(channel, bc, timing.MaxCycles, int64(timing.TRestS)*1_000_000)

	period := time.Duration(timing.TsMs) * time.Millisecond
	sampler := NewSampler(channel, arb, src, period, cal, conn)

	s := &Supervisor{
		Channel:    channel,
		Sampler:    sampler,
		Deriver:    deriver,
		BC:         bc,
		Integrator: integ,
		SoC:        soc,
		telemetry:  sink,
		decimation: th.TelemetryDecimation,
		conn:       conn,
	}

	sampler.OnSample = s.onSample
	sampler.OnFault = s.onFault
	bc.OnFault = s.onFault
	bc.Subscribe(s.onBCTransition)
	soc.Subscribe(s.onSoCTransition)
	soc.OnResult(s.onSoCResult)
	soc.OnFault(s.onFault)

	return s
}

// DisableNow implements command.Disabler: the synchronous broadcast
// disable path, bypassing the bus and the per-channel command queue
// entirely.
func (s *Supervisor) DisableNow(nowUs int64) {
	s.BC.HandleOperator(model.OperatorEvent{Channel: s.Channel, Tag: model.OpDisable}, nowUs)
}

// Run starts the Sampler and the per-channel command subscription; it
// blocks until ctx is cancelled.
func (s *Supervisor) Run(ctx context.Context) {
	s.ctx = ctx
	go s.Sampler.Run(ctx)

	sub := s.conn.Subscribe(commandTopic(s.Channel))
	defer s.conn.Unsubscribe(sub)

	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-sub.Channel():
			if ev, ok := msg.Payload.(model.OperatorEvent); ok {
				s.handleCommand(ev, timex.NowMs()*1000)
			}
		}
	}
}

// commandTopic mirrors command.Topic (bus.T("command", "channel", n));
// the two must stay identical for commands to reach this Supervisor.
func commandTopic(channel int) bus.Topic { return bus.T("command", "channel", channel) }

func (s *Supervisor) onSample(sample model.Sample) {
	edges := s.Deriver.Evaluate(sample)
	s.Integrator.Observe(sample)
	s.SoC.Observe(sample)
	s.SoC.Tick(sample.TMonoUs)
	for _, e := range edges {
		s.BC.HandleEdge(e)
	}

	s.sampleCount++
	if s.decimation <= 0 || s.sampleCount%s.decimation == 0 {
		s.telemetry.Offer(s.ctx, s.Channel, model.KindSample, model.SampleRecord{
			Channel: s.Channel,
			TUs:     sample.TMonoUs,
			VMV:     sample.VBattMV,
			IChMA:   sample.IChMA,
			IDchMA:  sample.IDchMA,
		})
	}
}

func (s *Supervisor) onBCTransition(rec model.BCTransitionRecord) {
	s.telemetry.Offer(s.ctx, s.Channel, model.KindBCTransition, rec)
}

func (s *Supervisor) onSoCTransition(rec model.SoCTransitionRecord) {
	s.telemetry.Offer(s.ctx, s.Channel, model.KindSoCTransition, rec)
}

func (s *Supervisor) onSoCResult(rec model.SoCResultRecord) {
	s.telemetry.Offer(s.ctx, s.Channel, model.KindSoCResult, rec)
}

func (s *Supervisor) onFault(kind model.FaultKind, detail string) {
	s.telemetry.Offer(s.ctx, s.Channel, model.KindFault, model.FaultRecord{
		Channel: s.Channel,
		TUs:     timex.NowMs() * 1000,
		Kind:    kind,
		Detail:  detail,
	})
}

// handleCommand dispatches one operator command: charge and discharge
// address the SoC-FSM when it is armed (the normal case — see
// SoCFSM.Armed), everything else addresses the BC-FSM directly.
// disable/init are exempt from misuse detection, being always-available
// resets; every other command that leaves both FSMs' state unchanged is
// reported as a command_misuse fault.
func (s *Supervisor) handleCommand(ev model.OperatorEvent, nowUs int64) {
	if ev.Tag == model.OpSetID && !validSetID(ev.SetID) {
		s.reportMisuse(ev, nowUs, errcode.InvalidSetID, "set_id must be 1-32 bytes")
		return
	}

	beforeBC, beforeSoC := s.BC.State(), s.SoC.State()

	switch ev.Tag {
	case model.OpDisable, model.OpInit:
		s.BC.HandleOperator(ev, nowUs)
		return
	case model.OpCharge, model.OpDischarge:
		if s.SoC.Armed {
			if !s.SoC.HandleOperator(ev, nowUs) {
				s.reportMisuse(ev, nowUs, errcode.CommandMisuse, misuseDetail(ev, beforeBC, beforeSoC))
			}
			return
		}
		s.BC.HandleOperator(ev, nowUs)
	case model.OpCancel, model.OpAck:
		if !s.SoC.HandleOperator(ev, nowUs) {
			s.reportMisuse(ev, nowUs, errcode.CommandMisuse, misuseDetail(ev, beforeBC, beforeSoC))
		}
		return
	default:
		s.BC.HandleOperator(ev, nowUs)
	}

	if s.BC.State() == beforeBC && s.SoC.State() == beforeSoC {
		s.reportMisuse(ev, nowUs, errcode.CommandMisuse, misuseDetail(ev, beforeBC, beforeSoC))
	}
}

func (s *Supervisor) reportMisuse(ev model.OperatorEvent, nowUs int64, code errcode.Code, detail string) {
	s.telemetry.Offer(s.ctx, s.Channel, model.KindFault, model.FaultRecord{
		Channel: s.Channel,
		TUs:     nowUs,
		Kind:    model.FaultCommand,
		Detail:  string(ev.Tag) + " " + string(code) + ": " + detail,
	})
}

func validSetID(id string) bool { return len(id) > 0 && len(id) <= 32 }

// misuseDetail renders the BC/SoC state pair that caused a rejection,
// so the telemetry line is actionable off-device.
func misuseDetail(ev model.OperatorEvent, bc model.BCState, soc model.SoCState) string {
	return string(ev.Tag) + " rejected: BC in " + string(bc) + ", SoC in " + string(soc)
}
