package channel

import (
	"context"
	"strings"
	"testing"

	"cellcycler-go/arbiter"
	"cellcycler-go/bus"
	"cellcycler-go/config"
	"cellcycler-go/model"
)

type sinkRec struct {
	channel int
	kind    model.RecordKind
	payload any
}

// recordingSink collects everything the Supervisor offers to the
// Telemetry Router, for assertion. Tests drive the Supervisor's
// callbacks synchronously on one goroutine, so no locking.
type recordingSink struct {
	recs []sinkRec
}

func (r *recordingSink) Offer(ctx context.Context, channel int, kind model.RecordKind, payload any) {
	r.recs = append(r.recs, sinkRec{channel: channel, kind: kind, payload: payload})
}

func (r *recordingSink) byKind(kind model.RecordKind) []sinkRec {
	var out []sinkRec
	for _, rec := range r.recs {
		if rec.kind == kind {
			out = append(out, rec)
		}
	}
	return out
}

func newTestSupervisor(t *testing.T, timing config.Timing, th config.Thresholds) (*Supervisor, *recordingSink, *fakeSwitch) {
	t.Helper()
	sw := &fakeSwitch{}
	sink := &recordingSink{}
	arb := arbiter.New(nil, 0, nil)
	conn := bus.NewBus(4).NewConnection("test")
	s := NewSupervisor(1, sw, nil, arb, model.Calibration{}, timing, th, conn, sink)
	s.ctx = context.Background()
	return s, sink, sw
}

func defaultTestConfig() (config.Timing, config.Thresholds) {
	timing, th := config.Defaults()
	timing.TRestS = 1
	return timing, th
}

func TestSupervisor_ChargeRoutesToSoCWhenArmed(t *testing.T) {
	timing, th := defaultTestConfig()
	s, sink, sw := newTestSupervisor(t, timing, th)
	bindBatID(s.BC, "A1")

	s.handleCommand(model.OperatorEvent{Channel: 1, Tag: model.OpCharge}, 100)

	if s.SoC.State() != model.SoCCharging1st {
		t.Fatalf("SoC state = %v, want CHARGING_1ST", s.SoC.State())
	}
	if s.BC.State() != model.BCCharge {
		t.Fatalf("BC state = %v, want CHARGE", s.BC.State())
	}
	if !sw.chargeOn {
		t.Fatal("charge leg must be on")
	}
	if len(sink.byKind(model.KindSoCTransition)) == 0 {
		t.Fatal("expected a soc_transition record")
	}
	if len(sink.byKind(model.KindBCTransition)) == 0 {
		t.Fatal("expected a bc_transition record")
	}
	if len(sink.byKind(model.KindFault)) != 0 {
		t.Fatalf("unexpected fault records: %v", sink.byKind(model.KindFault))
	}
}

func TestSupervisor_ChargeFromNoBatIsCommandMisuse(t *testing.T) {
	timing, th := defaultTestConfig()
	s, sink, _ := newTestSupervisor(t, timing, th)
	s.BC.HandleOperator(model.OperatorEvent{Tag: model.OpInit}, 0)

	s.handleCommand(model.OperatorEvent{Channel: 1, Tag: model.OpCharge}, 100)

	if s.BC.State() != model.BCNoBat {
		t.Fatalf("BC state = %v, want NOBAT unchanged", s.BC.State())
	}
	faults := sink.byKind(model.KindFault)
	if len(faults) != 1 {
		t.Fatalf("fault records = %d, want 1", len(faults))
	}
	fr := faults[0].payload.(model.FaultRecord)
	if fr.Kind != model.FaultCommand {
		t.Fatalf("fault kind = %v, want command", fr.Kind)
	}
	if !strings.Contains(fr.Detail, "NOBAT") {
		t.Fatalf("fault detail %q should name the rejecting BC state", fr.Detail)
	}
}

func TestSupervisor_InvalidSetIDRejected(t *testing.T) {
	timing, th := defaultTestConfig()
	s, sink, _ := newTestSupervisor(t, timing, th)
	s.BC.HandleOperator(model.OperatorEvent{Tag: model.OpInit}, 0)
	s.BC.HandleEdge(model.EdgeEvent{Tag: model.VJump, TMonoUs: 1})
	s.BC.HandleOperator(model.OperatorEvent{Tag: model.OpGetID}, 2)

	long := strings.Repeat("x", 33)
	s.handleCommand(model.OperatorEvent{Channel: 1, Tag: model.OpSetID, SetID: long}, 100)

	if s.BC.State() != model.BCGetID {
		t.Fatalf("BC state = %v, want GET_ID unchanged", s.BC.State())
	}
	faults := sink.byKind(model.KindFault)
	if len(faults) != 1 {
		t.Fatalf("fault records = %d, want 1", len(faults))
	}
	fr := faults[0].payload.(model.FaultRecord)
	if !strings.Contains(fr.Detail, "invalid_set_id") {
		t.Fatalf("fault detail %q should carry the invalid_set_id code", fr.Detail)
	}

	sink.recs = nil
	s.handleCommand(model.OperatorEvent{Channel: 1, Tag: model.OpSetID, SetID: ""}, 200)
	if len(sink.byKind(model.KindFault)) != 1 {
		t.Fatal("empty set_id must also be rejected")
	}
}

func TestSupervisor_PauseAddressesBC(t *testing.T) {
	timing, th := defaultTestConfig()
	s, sink, sw := newTestSupervisor(t, timing, th)
	bindBatID(s.BC, "A1")
	s.handleCommand(model.OperatorEvent{Channel: 1, Tag: model.OpCharge}, 100)

	s.handleCommand(model.OperatorEvent{Channel: 1, Tag: model.OpPause}, 200)

	if s.BC.State() != model.BCChargePause {
		t.Fatalf("BC state = %v, want CHARGE_PAUSE", s.BC.State())
	}
	if sw.chargeOn {
		t.Fatal("charge leg must be off while paused")
	}
	// SoC stays in CHARGING_1ST: CHARGE_PAUSE is in its expected set.
	if s.SoC.State() != model.SoCCharging1st {
		t.Fatalf("SoC state = %v, want CHARGING_1ST", s.SoC.State())
	}
	if len(sink.byKind(model.KindFault)) != 0 {
		t.Fatalf("unexpected fault records: %v", sink.byKind(model.KindFault))
	}
}

func TestSupervisor_ResumeWithoutPauseIsMisuse(t *testing.T) {
	timing, th := defaultTestConfig()
	s, sink, _ := newTestSupervisor(t, timing, th)
	bindBatID(s.BC, "A1")

	s.handleCommand(model.OperatorEvent{Channel: 1, Tag: model.OpResume}, 100)

	if s.BC.State() != model.BCBatID {
		t.Fatalf("BC state = %v, want BAT_ID unchanged", s.BC.State())
	}
	if len(sink.byKind(model.KindFault)) != 1 {
		t.Fatal("expected one command-misuse fault")
	}
}

func TestSupervisor_SampleDecimation(t *testing.T) {
	timing, th := defaultTestConfig()
	th.TelemetryDecimation = 2
	s, sink, _ := newTestSupervisor(t, timing, th)
	s.BC.HandleOperator(model.OperatorEvent{Tag: model.OpInit}, 0)

	for i := 0; i < 4; i++ {
		s.onSample(model.Sample{ChannelID: 1, TMonoUs: int64(i+1) * 50_000, VBattMV: 3700})
	}

	samples := sink.byKind(model.KindSample)
	if len(samples) != 2 {
		t.Fatalf("sample records = %d, want 2 (decimation 2 over 4 samples)", len(samples))
	}
	sr := samples[0].payload.(model.SampleRecord)
	if sr.Channel != 1 || sr.VMV != 3700 {
		t.Fatalf("unexpected sample record %+v", sr)
	}
}

func TestSupervisor_DisableNow(t *testing.T) {
	timing, th := defaultTestConfig()
	s, _, sw := newTestSupervisor(t, timing, th)
	bindBatID(s.BC, "A1")
	s.handleCommand(model.OperatorEvent{Channel: 1, Tag: model.OpCharge}, 100)

	s.DisableNow(200)

	if s.BC.State() != model.BCDisabled {
		t.Fatalf("BC state = %v, want DISABLED", s.BC.State())
	}
	if sw.chargeOn || sw.dischargeOn {
		t.Fatal("both MOSFETs must be off in DISABLED")
	}
}

// TestSupervisor_YankDuringDischargeRun walks the full pipeline through
// a mid-run yank: samples in, edges derived, BC yanked via dch_drop (not
// v_drop — the tie-break), SoC to ERROR, fault and error-result records
// out. The rest timer is driven by the sample timestamps themselves.
func TestSupervisor_YankDuringDischargeRun(t *testing.T) {
	timing, th := defaultTestConfig()
	s, sink, sw := newTestSupervisor(t, timing, th)
	bindBatID(s.BC, "B2")

	s.handleCommand(model.OperatorEvent{Channel: 1, Tag: model.OpCharge}, 100)
	s.BC.HandleEdge(model.EdgeEvent{Tag: model.ChDone, TMonoUs: 1_000_000})
	if s.SoC.State() != model.SoCRestCh {
		t.Fatalf("SoC state = %v, want REST_CH", s.SoC.State())
	}

	// A sample past the 1s rest deadline flips SoC to DISCHARGING.
	base := int64(3_000_000)
	s.onSample(model.Sample{ChannelID: 1, TMonoUs: base, VBattMV: 3700})
	if s.SoC.State() != model.SoCDischarging {
		t.Fatalf("SoC state = %v, want DISCHARGING", s.SoC.State())
	}
	if s.BC.State() != model.BCDischarge {
		t.Fatalf("BC state = %v, want DISCHARGE", s.BC.State())
	}

	for i := int64(1); i <= 4; i++ {
		s.onSample(model.Sample{ChannelID: 1, TMonoUs: base + i*50_000, VBattMV: 3700, IDchMA: 300})
	}
	// Yank: current and voltage collapse on the same tick.
	s.onSample(model.Sample{ChannelID: 1, TMonoUs: base + 5*50_000, VBattMV: 500, IDchMA: 0})

	if s.BC.State() != model.BCYanked {
		t.Fatalf("BC state = %v, want YANKED", s.BC.State())
	}
	if sw.dischargeOn {
		t.Fatal("discharge leg must be off after yank")
	}
	if s.SoC.State() != model.SoCError {
		t.Fatalf("SoC state = %v, want ERROR", s.SoC.State())
	}

	var protocolFaults int
	for _, rec := range sink.byKind(model.KindFault) {
		if rec.payload.(model.FaultRecord).Kind == model.FaultProtocol {
			protocolFaults++
		}
	}
	if protocolFaults != 1 {
		t.Fatalf("protocol fault records = %d, want 1", protocolFaults)
	}
	results := sink.byKind(model.KindSoCResult)
	if len(results) != 1 {
		t.Fatalf("soc_result records = %d, want 1", len(results))
	}
	if rr := results[0].payload.(model.SoCResultRecord); rr.Outcome != model.OutcomeError {
		t.Fatalf("result outcome = %v, want error", rr.Outcome)
	}

	// Operator reset returns BC to NOBAT with the id cleared; SoC stays
	// in ERROR until acknowledged.
	s.handleCommand(model.OperatorEvent{Channel: 1, Tag: model.OpReset}, base+6*50_000)
	if s.BC.State() != model.BCNoBat || s.BC.BatteryID() != "" {
		t.Fatalf("BC state = %v id = %q, want NOBAT with cleared id", s.BC.State(), s.BC.BatteryID())
	}
	if s.SoC.State() != model.SoCError {
		t.Fatalf("SoC state = %v, want ERROR until acknowledged", s.SoC.State())
	}
	s.handleCommand(model.OperatorEvent{Channel: 1, Tag: model.OpAck}, base+7*50_000)
	if s.SoC.State() != model.SoCReady {
		t.Fatalf("SoC state = %v, want READY after ack", s.SoC.State())
	}
}
