package channel

import (
	"cellcycler-go/errcode"
	"cellcycler-go/model"
)

// SoCFSM drives a multi-cycle capacity measurement by issuing commands
// to the BC-FSM and observing its state, never touching hardware
// directly. The coupling is one-way: BC does not know SoC exists, so
// SoCFSM holds a read-only handle to BC plus a command-send capability,
// and subscribes to BC's transition notifications rather than the
// reverse.
type SoCFSM struct {
	Channel      int
	BC           *BCFSM
	MaxCycles    int
	RestDuration int64 // microseconds

	// Armed reports whether this channel's operator `charge` commands
	// should be routed to the SoC-FSM to drive the full protocol, versus
	// straight through to BC-FSM for direct single-leg manual control.
	// Every channel's SoC-FSM defaults to armed.
	Armed bool

	state     model.SoCState
	numCycles int

	restDeadlineUs int64

	runStartedUs int64
	lastVBattMV  int32

	pendingRestStartVmV int32
	pendingRestEndVmV   int32

	cycles []model.SoCResult

	listeners []func(model.SoCTransitionRecord)
	onResult  func(model.SoCResultRecord)
	onFault   func(kind model.FaultKind, detail string)
}

// NewSoCFSM constructs a SoC-FSM bound to bc, starting in READY.
func NewSoCFSM(channel int, bc *BCFSM, maxCycles int, restDurationUs int64) *SoCFSM {
	f := &SoCFSM{
		Channel:      channel,
		BC:           bc,
		MaxCycles:    maxCycles,
		RestDuration: restDurationUs,
		Armed:        true,
		state:        model.SoCReady,
	}
	bc.Subscribe(f.onBCTransition)
	return f
}

// State returns the SoC-FSM's current state.
func (f *SoCFSM) State() model.SoCState { return f.state }

// NumCycles returns the number of completed charge-phase increments in
// the current (or just-finished) run.
func (f *SoCFSM) NumCycles() int { return f.numCycles }

// Subscribe registers fn to be called after every SoC-FSM transition.
func (f *SoCFSM) Subscribe(fn func(model.SoCTransitionRecord)) {
	f.listeners = append(f.listeners, fn)
}

// OnResult registers the callback invoked once per run, on entry to
// COMPLETE, CANCEL or ERROR.
func (f *SoCFSM) OnResult(fn func(model.SoCResultRecord)) { f.onResult = fn }

// OnFault registers the callback invoked when SoC-FSM observes a
// protocol violation.
func (f *SoCFSM) OnFault(fn func(kind model.FaultKind, detail string)) { f.onFault = fn }

// Observe feeds the latest Sample's battery voltage to the SoC-FSM,
// which needs it only for the rest_start_v_mV/rest_end_v_mV fields of a
// cycle result — it never drives FSM logic.
func (f *SoCFSM) Observe(s model.Sample) { f.lastVBattMV = s.VBattMV }

// HandleOperator processes an operator command addressed to the SoC
// layer. It returns false if ev.Tag is not one SoC-FSM owns in the
// current state, signalling the Channel Supervisor to route the command
// elsewhere (or reject it).
func (f *SoCFSM) HandleOperator(ev model.OperatorEvent, nowUs int64) bool {
	switch ev.Tag {
	case model.OpCharge:
		if !f.Armed {
			return false
		}
		if f.state != model.SoCReady && f.state != model.SoCComplete && f.state != model.SoCCancel {
			return false
		}
		return f.start(nowUs)
	case model.OpCancel:
		return f.cancel(nowUs)
	case model.OpAck:
		if f.state != model.SoCError {
			return false
		}
		f.enter(model.SoCReady, nowUs)
		return true
	default:
		return false
	}
}

// Tick drives the REST_CH/REST_DCH timers. The Channel Supervisor calls
// it once per sample period; outside a rest state it is a no-op.
func (f *SoCFSM) Tick(nowUs int64) {
	if f.state != model.SoCRestCh && f.state != model.SoCRestDch {
		return
	}
	if nowUs < f.restDeadlineUs {
		return
	}
	switch f.state {
	case model.SoCRestCh:
		f.pendingRestEndVmV = f.lastVBattMV
		f.enter(model.SoCDischarging, nowUs)
		f.BC.HandleOperator(model.OperatorEvent{Channel: f.Channel, Tag: model.OpDischarge}, nowUs)
	case model.SoCRestDch:
		f.enter(model.SoCCharging, nowUs)
		f.BC.HandleOperator(model.OperatorEvent{Channel: f.Channel, Tag: model.OpCharge}, nowUs)
	}
}

func (f *SoCFSM) start(nowUs int64) bool {
	if f.BC.State() != model.BCBatID {
		return false
	}
	f.numCycles = 0
	f.runStartedUs = nowUs
	f.cycles = nil
	f.pendingRestStartVmV, f.pendingRestEndVmV = 0, 0
	f.enter(model.SoCCharging1st, nowUs)
	f.BC.HandleOperator(model.OperatorEvent{Channel: f.Channel, Tag: model.OpCharge}, nowUs)
	return true
}

func (f *SoCFSM) cancel(nowUs int64) bool {
	switch f.state {
	case model.SoCCharging1st, model.SoCCharging, model.SoCDischarging, model.SoCRestCh, model.SoCRestDch:
	default:
		return false
	}
	f.enter(model.SoCCancel, nowUs)
	f.BC.HandleOperator(model.OperatorEvent{Channel: f.Channel, Tag: model.OpPause}, nowUs)
	f.BC.HandleOperator(model.OperatorEvent{Channel: f.Channel, Tag: model.OpResetMetrics}, nowUs)
	f.publishResult(model.OutcomeCanceled, nowUs)
	return true
}

// onBCTransition observes BC transitions read-only and reacts when
// they complete the phase the SoC-FSM is currently waiting on, or flags
// an unexpected BC state as a protocol violation.
func (f *SoCFSM) onBCTransition(rec model.BCTransitionRecord) {
	expected := f.state.ExpectedBC()
	if expected == nil {
		return
	}
	if !bcStateIn(expected, rec.To) {
		f.toError(rec.TUs, "unexpected BC state "+string(rec.To)+" while SoC in "+string(f.state))
		return
	}
	switch f.state {
	case model.SoCCharging1st:
		if rec.To == model.BCCharged {
			// The priming charge is not a cycle metric; only the rest
			// that follows it is recorded, by the next cycle.
			f.pendingRestStartVmV = f.lastVBattMV
			f.enter(model.SoCRestCh, rec.TUs)
			f.startRest(rec.TUs)
			f.BC.HandleOperator(model.OperatorEvent{Channel: f.Channel, Tag: model.OpResetMetrics}, rec.TUs)
		}
	case model.SoCDischarging:
		if rec.To == model.BCDischarged {
			f.openCycle(rec.TUs)
			f.enter(model.SoCRestDch, rec.TUs)
			f.startRest(rec.TUs)
			f.BC.HandleOperator(model.OperatorEvent{Channel: f.Channel, Tag: model.OpResetMetrics}, rec.TUs)
		}
	case model.SoCCharging:
		if rec.To == model.BCCharged {
			f.closeCycle(rec.TUs)
			f.numCycles++
			// Transition before issuing reset_metrics: that command
			// triggers a nested BC→BAT_ID notification synchronously,
			// and it must be checked against the *next* SoC state, not
			// CHARGING's (BAT_ID is not in CHARGING's expected set).
			complete := f.numCycles == f.MaxCycles
			if complete {
				f.enter(model.SoCComplete, rec.TUs)
			} else {
				f.pendingRestStartVmV = f.lastVBattMV
				f.enter(model.SoCRestCh, rec.TUs)
				f.startRest(rec.TUs)
			}
			f.BC.HandleOperator(model.OperatorEvent{Channel: f.Channel, Tag: model.OpResetMetrics}, rec.TUs)
			if complete {
				f.publishResult(model.OutcomeComplete, rec.TUs)
			}
		}
	}
}

func (f *SoCFSM) startRest(nowUs int64) {
	f.restDeadlineUs = nowUs + f.RestDuration
}

// openCycle starts a new cycle record from the just-completed discharge
// phase: its metrics, plus the voltages of the rest that preceded it. A
// cycle is a discharge-then-charge pair; the charge half is filled in by
// closeCycle when the following charge phase completes.
func (f *SoCFSM) openCycle(nowUs int64) {
	acc := f.BC.Integrator.Snapshot()
	f.cycles = append(f.cycles, model.SoCResult{
		CycleIndex:   len(f.cycles),
		DischargeMAh: acc.DischargeMAh,
		DischargeMWh: acc.DischargeMWh,
		TDischargeS:  float64(nowUs-f.BC.DischargeStartedUs()) / 1_000_000,
		RestStartVmV: f.pendingRestStartVmV,
		RestEndVmV:   f.pendingRestEndVmV,
	})
}

// closeCycle fills the open cycle's charge half from the charge phase
// that just completed.
func (f *SoCFSM) closeCycle(nowUs int64) {
	if len(f.cycles) == 0 {
		return
	}
	c := &f.cycles[len(f.cycles)-1]
	acc := f.BC.Integrator.Snapshot()
	c.ChargeMAh = acc.ChargeMAh
	c.ChargeMWh = acc.ChargeMWh
	c.TChargeS = float64(nowUs-f.BC.ChargeStartedUs()) / 1_000_000
}

func (f *SoCFSM) toError(nowUs int64, detail string) {
	f.enter(model.SoCError, nowUs)
	if f.onFault != nil {
		e := &errcode.E{C: errcode.FaultProtocol, Msg: detail}
		f.onFault(model.FaultProtocol, e.Error())
	}
	f.publishResult(model.OutcomeError, nowUs)
}

func (f *SoCFSM) publishResult(outcome model.RunOutcome, nowUs int64) {
	if f.onResult == nil {
		return
	}
	f.onResult(model.SoCResultRecord{
		Channel:    f.Channel,
		BatteryID:  f.BC.BatteryID(),
		StartedUs:  f.runStartedUs,
		FinishedUs: nowUs,
		Outcome:    outcome,
		Cycles:     f.cycles,
	})
}

func (f *SoCFSM) enter(to model.SoCState, nowUs int64) {
	from := f.state
	f.state = to
	for _, fn := range f.listeners {
		fn(model.SoCTransitionRecord{
			Channel:   f.Channel,
			TUs:       nowUs,
			From:      from,
			To:        to,
			NumCycles: f.numCycles,
			MaxCycles: f.MaxCycles,
		})
	}
}

func bcStateIn(states []model.BCState, s model.BCState) bool {
	for _, x := range states {
		if x == s {
			return true
		}
	}
	return false
}
