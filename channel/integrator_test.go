package channel

import (
	"math"
	"testing"

	"cellcycler-go/model"
)

const usPerSec = int64(1_000_000)

// Tests sample at 1Hz for readability, so the gap tolerance is 5*T_s
// with T_s = 1s.
const testMaxGapUs = 5 * usPerSec

func TestIntegrator_AccumulatesChargeTrapezoidal(t *testing.T) {
	in := NewIntegrator(testMaxGapUs)
	in.Arm(DirCharge, 0)

	// 500 mA for 60s: constant current, so the trapezoid sum is exact.
	var tUs int64
	for i := 0; i <= 60; i++ {
		in.Observe(model.Sample{TMonoUs: tUs, IChMA: 500, VBattMV: 3800})
		tUs += usPerSec
	}

	acc := in.Snapshot()
	want := 500.0 * 60.0 / 3600.0 // 8.333 mAh
	if math.Abs(acc.ChargeMAh-want) > 1e-6 {
		t.Fatalf("ChargeMAh = %v, want %v", acc.ChargeMAh, want)
	}
	wantMWh := 3800.0 * 500.0 * 60.0 / 3600.0 / 1000.0
	if math.Abs(acc.ChargeMWh-wantMWh) > 1e-6 {
		t.Fatalf("ChargeMWh = %v, want %v", acc.ChargeMWh, wantMWh)
	}
	if acc.DischargeMAh != 0 {
		t.Fatalf("DischargeMAh = %v, want 0", acc.DischargeMAh)
	}
}

func TestIntegrator_PauseResumePreservesAccumulator(t *testing.T) {
	in := NewIntegrator(testMaxGapUs)
	in.Arm(DirCharge, 0)

	var tUs int64
	for i := 0; i < 10; i++ {
		in.Observe(model.Sample{TMonoUs: tUs, IChMA: 500, VBattMV: 3800})
		tUs += usPerSec
	}
	mid := in.Snapshot().ChargeMAh
	if mid <= 0 {
		t.Fatal("expected nonzero accumulation before pause")
	}

	in.Disarm(tUs) // BC-FSM pause

	// Samples while disarmed must not move the accumulator.
	for i := 0; i < 5; i++ {
		in.Observe(model.Sample{TMonoUs: tUs, IChMA: 0, VBattMV: 3800})
		tUs += usPerSec
	}
	if in.Snapshot().ChargeMAh != mid {
		t.Fatalf("accumulator changed while disarmed: %v -> %v", mid, in.Snapshot().ChargeMAh)
	}

	in.Arm(DirCharge, tUs) // BC-FSM resume

	for i := 0; i < 10; i++ {
		in.Observe(model.Sample{TMonoUs: tUs, IChMA: 500, VBattMV: 3800})
		tUs += usPerSec
	}
	if in.Snapshot().ChargeMAh <= mid {
		t.Fatal("expected accumulator to continue growing after resume")
	}
}

func TestIntegrator_ResetZeroes(t *testing.T) {
	in := NewIntegrator(testMaxGapUs)
	in.Arm(DirCharge, 0)
	in.Observe(model.Sample{TMonoUs: 0, IChMA: 500, VBattMV: 3800})
	in.Observe(model.Sample{TMonoUs: usPerSec, IChMA: 500, VBattMV: 3800})
	if in.Snapshot().ChargeMAh == 0 {
		t.Fatal("expected nonzero accumulation before reset")
	}

	in.Reset(2 * usPerSec)
	acc := in.Snapshot()
	if acc.ChargeMAh != 0 || acc.ChargeMWh != 0 || acc.DischargeMAh != 0 || acc.DischargeMWh != 0 {
		t.Fatalf("accumulator not zeroed: %+v", acc)
	}
}

func TestIntegrator_DropsNegativeCurrent(t *testing.T) {
	in := NewIntegrator(testMaxGapUs)
	in.Arm(DirCharge, 0)
	in.Observe(model.Sample{TMonoUs: 0, IChMA: 500, VBattMV: 3800})
	in.Observe(model.Sample{TMonoUs: usPerSec, IChMA: -10, VBattMV: 3800})
	// The negative sample is dropped outright; it must not poison lastIMA.
	in.Observe(model.Sample{TMonoUs: 2 * usPerSec, IChMA: 500, VBattMV: 3800})
	if in.Snapshot().ChargeMAh <= 0 {
		t.Fatal("expected accumulation to continue across a dropped negative sample")
	}
}

func TestIntegrator_DropsLargeGap(t *testing.T) {
	in := NewIntegrator(testMaxGapUs)
	in.Arm(DirCharge, 0)
	in.Observe(model.Sample{TMonoUs: 0, IChMA: 500, VBattMV: 3800})
	// Gap exceeding 5*T_s: must not integrate across it.
	gapTUs := 10 * usPerSec
	in.Observe(model.Sample{TMonoUs: gapTUs, IChMA: 500, VBattMV: 3800})
	if in.Snapshot().ChargeMAh != 0 {
		t.Fatalf("ChargeMAh = %v, want 0 (gap must not be integrated)", in.Snapshot().ChargeMAh)
	}
	// But the sample after the gap establishes a fresh baseline.
	in.Observe(model.Sample{TMonoUs: gapTUs + usPerSec, IChMA: 500, VBattMV: 3800})
	if in.Snapshot().ChargeMAh <= 0 {
		t.Fatal("expected accumulation to resume after the gap")
	}
}

func TestIntegrator_DisarmedObserveIsNoop(t *testing.T) {
	in := NewIntegrator(testMaxGapUs)
	in.Observe(model.Sample{TMonoUs: 0, IChMA: 500, VBattMV: 3800})
	in.Observe(model.Sample{TMonoUs: usPerSec, IChMA: 500, VBattMV: 3800})
	if in.Snapshot().ChargeMAh != 0 {
		t.Fatal("expected no accumulation while never armed")
	}
}
