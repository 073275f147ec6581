package channel

import (
	"cellcycler-go/errcode"
	"cellcycler-go/model"
	"cellcycler-go/x/strconvx"
)

// bcEventTag is the BC-FSM's internal input alphabet: operator commands
// and edge events normalized to the transition table's event names.
type bcEventTag string

const (
	evDisable      bcEventTag = "disable"
	evInit         bcEventTag = "init"
	evVJump        bcEventTag = "v_jump"
	evVDrop        bcEventTag = "v_drop"
	evGetID        bcEventTag = "get_id"
	evSetID        bcEventTag = "set_id"
	evCharge       bcEventTag = "charge"
	evDischarge    bcEventTag = "discharge"
	evPause        bcEventTag = "pause"
	evResume       bcEventTag = "resume"
	evChDrop       bcEventTag = "ch_drop"
	evChDone       bcEventTag = "ch_done"
	evDchDrop      bcEventTag = "dch_drop"
	evDchDone      bcEventTag = "dch_done"
	evReset        bcEventTag = "reset"
	evResetMetrics bcEventTag = "reset_metrics"
)

type bcAction func(f *BCFSM, nowUs int64, setID string)

type bcTransition struct {
	to     model.BCState
	action bcAction
}

// bcTable is the transition table, keyed by (from, event).
// A (state, event) pair absent from this table is a silent no-op, except
// that evDisable is handled unconditionally in apply before this table is
// consulted.
var bcTable = map[model.BCState]map[bcEventTag]bcTransition{
	model.BCDisabled: {
		evInit: {model.BCNoBat, actionInit},
	},
	model.BCNoBat: {
		evVJump: {model.BCBatNoID, actionGenerateID},
	},
	model.BCBatNoID: {
		evVDrop: {model.BCYanked, nil},
		evGetID: {model.BCGetID, nil},
	},
	model.BCGetID: {
		evSetID: {model.BCBatID, actionBindID},
		evVDrop: {model.BCYanked, nil},
	},
	model.BCBatID: {
		evCharge:    {model.BCCharge, actionChargeOn},
		evDischarge: {model.BCDischarge, actionDischargeOn},
		evVDrop:     {model.BCYanked, nil},
	},
	model.BCCharge: {
		evChDrop: {model.BCYanked, actionSealCharge},
		evPause:  {model.BCChargePause, actionSealCharge},
		evChDone: {model.BCCharged, actionSealCharge},
	},
	model.BCChargePause: {
		evResume:       {model.BCCharge, actionChargeOn},
		evResetMetrics: {model.BCBatID, actionResetAccum},
		evVDrop:        {model.BCYanked, nil},
	},
	model.BCCharged: {
		evResetMetrics: {model.BCBatID, actionResetAccum},
		evVDrop:        {model.BCYanked, nil},
	},
	model.BCDischarge: {
		evDchDrop: {model.BCYanked, actionSealDischarge},
		evPause:   {model.BCDischargePause, actionSealDischarge},
		evDchDone: {model.BCDischarged, actionSealDischarge},
	},
	model.BCDischargePause: {
		evResume:       {model.BCDischarge, actionDischargeOn},
		evResetMetrics: {model.BCBatID, actionResetAccum},
		evVDrop:        {model.BCYanked, nil},
	},
	model.BCDischarged: {
		evResetMetrics: {model.BCBatID, actionResetAccum},
		evVDrop:        {model.BCYanked, nil},
	},
	model.BCYanked: {
		evReset: {model.BCNoBat, actionClearBattery},
		evVJump: {model.BCBatNoID, actionGenerateID},
	},
}

// BCFSM is the Battery Controller FSM: the single source
// of truth for one channel's hardware state. No other component may
// assert the channel's MOSFETs.
type BCFSM struct {
	Channel    int
	Switch     SwitchSink
	Integrator IntegratorControl
	OnFault    func(kind model.FaultKind, detail string)

	listeners []func(model.BCTransitionRecord)

	state     model.BCState
	battery   model.BatteryRecord
	idCounter int
	faulted   bool

	tChargeStartUs    int64
	tDischargeStartUs int64
}

// NewBCFSM constructs a BC-FSM at its pre-init state. Callers must send
// an OpInit event (directly or via HandleOperator) to reach NOBAT; until
// then the FSM behaves as DISABLED for the purpose of MOSFET assertion.
func NewBCFSM(channel int, sw SwitchSink, integ IntegratorControl) *BCFSM {
	return &BCFSM{
		Channel:    channel,
		Switch:     sw,
		Integrator: integ,
		state:      model.BCDisabled,
	}
}

// State returns the FSM's current state.
func (f *BCFSM) State() model.BCState { return f.state }

// BatteryID returns the currently bound battery id, or "" if none.
func (f *BCFSM) BatteryID() string { return f.battery.BatteryID }

// Battery returns the current battery record (zero value if none bound).
func (f *BCFSM) Battery() model.BatteryRecord { return f.battery }

// ChargeStartedUs returns the timestamp of the most recent entry into
// CHARGE, for the SoC-FSM's per-cycle duration bookkeeping.
func (f *BCFSM) ChargeStartedUs() int64 { return f.tChargeStartUs }

// DischargeStartedUs returns the timestamp of the most recent entry into
// DISCHARGE.
func (f *BCFSM) DischargeStartedUs() int64 { return f.tDischargeStartUs }

// Subscribe registers fn to be called, in order, after every transition
// (including no-op-suppressed disables that still change state). The
// SoC-FSM and the Channel Supervisor's telemetry emission subscribe
// here; the coupling is one-way, BC never learns who listens.
func (f *BCFSM) Subscribe(fn func(model.BCTransitionRecord)) {
	f.listeners = append(f.listeners, fn)
}

// HandleOperator feeds an operator command into the FSM. Only the tags
// this FSM recognizes (disable, init, get_id, set_id, charge, discharge,
// pause, resume, reset, reset_metrics) have any effect; cancel is
// SoC-FSM-only and charge/discharge may instead be routed to the SoC-FSM
// by the Channel Supervisor before ever reaching here.
func (f *BCFSM) HandleOperator(ev model.OperatorEvent, nowUs int64) {
	switch ev.Tag {
	case model.OpDisable:
		f.apply(evDisable, nowUs, "")
	case model.OpInit:
		f.apply(evInit, nowUs, "")
	case model.OpGetID:
		f.apply(evGetID, nowUs, "")
	case model.OpSetID:
		f.apply(evSetID, nowUs, ev.SetID)
	case model.OpCharge:
		f.apply(evCharge, nowUs, "")
	case model.OpDischarge:
		f.apply(evDischarge, nowUs, "")
	case model.OpPause:
		f.apply(evPause, nowUs, "")
	case model.OpResume:
		f.apply(evResume, nowUs, "")
	case model.OpReset:
		f.apply(evReset, nowUs, "")
	case model.OpResetMetrics:
		f.apply(evResetMetrics, nowUs, "")
	}
}

// HandleEdge feeds a derived edge event into the FSM. Ordering of
// same-tick current-edge-before-voltage-edge events is the Event
// Deriver's responsibility; it is what makes the
// ch_drop/dch_drop-over-v_drop tie-break hold without
// any special-casing here: by the time a same-tick v_drop is applied,
// the FSM is already in YANKED and v_drop from YANKED is a no-op.
func (f *BCFSM) HandleEdge(ev model.EdgeEvent) {
	switch ev.Tag {
	case model.VJump:
		f.apply(evVJump, ev.TMonoUs, "")
	case model.VDrop:
		f.apply(evVDrop, ev.TMonoUs, "")
	case model.ChDrop:
		f.apply(evChDrop, ev.TMonoUs, "")
	case model.DchDrop:
		f.apply(evDchDrop, ev.TMonoUs, "")
	case model.ChDone:
		f.apply(evChDone, ev.TMonoUs, "")
	case model.DchDone:
		f.apply(evDchDone, ev.TMonoUs, "")
	}
}

func (f *BCFSM) apply(ev bcEventTag, nowUs int64, setID string) {
	if ev == evDisable {
		f.enter(model.BCDisabled, ev, nowUs, setID, actionDisable)
		return
	}
	row, ok := bcTable[f.state]
	if !ok {
		return
	}
	tr, ok := row[ev]
	if !ok {
		return
	}
	f.enter(tr.to, ev, nowUs, setID, tr.action)
}

func (f *BCFSM) enter(to model.BCState, ev bcEventTag, nowUs int64, setID string, action bcAction) {
	from := f.state
	f.faulted = false
	if action != nil {
		action(f, nowUs, setID)
	}
	if f.faulted {
		return // hardwareFault already forced DISABLED and notified
	}
	f.assertMosfets(to)
	if f.faulted {
		return
	}
	f.state = to
	f.notify(from, to, ev, nowUs)
}

// assertMosfets re-asserts the MOSFET invariant for state on every
// entry, in case an earlier entry's explicit action failed to apply.
func (f *BCFSM) assertMosfets(state model.BCState) {
	if err := f.Switch.Set(f.Channel, ChargeLeg, state.ChargeAsserted()); err != nil {
		f.hardwareFault("set charge leg", err)
	}
	if err := f.Switch.Set(f.Channel, DischargeLeg, state.DischargeAsserted()); err != nil {
		f.hardwareFault("set discharge leg", err)
	}
}

// hardwareFault forces DISABLED, reports once, and leaves recovery to
// the operator. It does not re-invoke
// Switch.Set, which just failed. op names the MOSFET/monitor operation
// that failed, folded into the reported errcode.FaultSwitch detail.
func (f *BCFSM) hardwareFault(op string, err error) {
	f.faulted = true
	if f.OnFault != nil {
		e := &errcode.E{C: errcode.FaultSwitch, Op: op, Err: err, Msg: err.Error()}
		f.OnFault(model.FaultSwitch, e.Error())
	}
	if f.state == model.BCDisabled {
		return
	}
	from := f.state
	f.state = model.BCDisabled
	f.notify(from, model.BCDisabled, "hardware_fault", 0)
}

func (f *BCFSM) notify(from, to model.BCState, ev bcEventTag, nowUs int64) {
	rec := model.BCTransitionRecord{
		Channel:      f.Channel,
		TUs:          nowUs,
		From:         from,
		To:           to,
		Event:        string(ev),
		BatteryID:    f.battery.BatteryID,
		ChargeMAh:    0,
		DischargeMAh: 0,
	}
	if f.Integrator != nil {
		acc := f.Integrator.Snapshot()
		rec.ChargeMAh = acc.ChargeMAh
		rec.DischargeMAh = acc.DischargeMAh
	}
	for _, fn := range f.listeners {
		fn(rec)
	}
}

func actionDisable(f *BCFSM, nowUs int64, setID string) {
	if err := f.Switch.SetMonitor(f.Channel, false); err != nil {
		f.hardwareFault("set monitor off", err)
	}
}

func actionInit(f *BCFSM, nowUs int64, setID string) {
	f.battery = model.BatteryRecord{}
}

func actionClearBattery(f *BCFSM, nowUs int64, setID string) {
	f.battery = model.BatteryRecord{}
}

func actionGenerateID(f *BCFSM, nowUs int64, setID string) {
	f.idCounter++
	f.battery = model.BatteryRecord{
		BatteryID: "auto-" + strconvx.Itoa(f.idCounter),
		IDSource:  model.IDGenerated,
		BoundAtUs: nowUs,
	}
}

func actionBindID(f *BCFSM, nowUs int64, setID string) {
	f.battery = model.BatteryRecord{
		BatteryID: setID,
		IDSource:  model.IDOperator,
		BoundAtUs: nowUs,
	}
	if err := f.Switch.ResetMonitor(f.Channel); err != nil {
		f.hardwareFault("reset monitor", err)
	}
	if f.Integrator != nil {
		f.Integrator.Reset(nowUs)
	}
}

func actionChargeOn(f *BCFSM, nowUs int64, setID string) {
	f.tChargeStartUs = nowUs
	if f.Integrator != nil {
		f.Integrator.Arm(DirCharge, nowUs)
	}
}

func actionDischargeOn(f *BCFSM, nowUs int64, setID string) {
	f.tDischargeStartUs = nowUs
	if f.Integrator != nil {
		f.Integrator.Arm(DirDischarge, nowUs)
	}
}

// actionSealCharge handles every way CHARGE is left (ch_drop, pause,
// ch_done): seal the current integration window. Re-entry via resume
// re-arms without clearing the accumulator.
func actionSealCharge(f *BCFSM, nowUs int64, setID string) {
	if f.Integrator != nil {
		f.Integrator.Disarm(nowUs)
	}
}

func actionSealDischarge(f *BCFSM, nowUs int64, setID string) {
	if f.Integrator != nil {
		f.Integrator.Disarm(nowUs)
	}
}

func actionResetAccum(f *BCFSM, nowUs int64, setID string) {
	if f.Integrator != nil {
		f.Integrator.Reset(nowUs)
	}
}
