package channel

import (
	"cellcycler-go/config"
	"cellcycler-go/model"
	"testing"
)

func defaultThresholds() config.Thresholds {
	_, th := config.Defaults()
	return th
}

func hasTag(events []model.EdgeEvent, tag model.EdgeTag) bool {
	for _, e := range events {
		if e.Tag == tag {
			return true
		}
	}
	return false
}

func TestEventDeriver_VJump(t *testing.T) {
	d := NewEventDeriver(1, defaultThresholds())
	d.BCState = func() model.BCState { return model.BCNoBat }

	d.Evaluate(model.Sample{TMonoUs: 0, VBattMV: 0})
	events := d.Evaluate(model.Sample{TMonoUs: 100_000, VBattMV: 3700})
	if !hasTag(events, model.VJump) {
		t.Fatalf("expected v_jump, got %+v", events)
	}
}

func TestEventDeriver_VJump_DebouncedWithinWindow(t *testing.T) {
	d := NewEventDeriver(1, defaultThresholds())
	d.BCState = func() model.BCState { return model.BCNoBat }

	d.Evaluate(model.Sample{TMonoUs: 0, VBattMV: 0})
	events := d.Evaluate(model.Sample{TMonoUs: 100_000, VBattMV: 3700})
	if !hasTag(events, model.VJump) {
		t.Fatal("expected initial v_jump")
	}
	// Still within the 300ms debounce window: must not refire even though
	// the jump condition still holds against the stale minimum.
	events = d.Evaluate(model.Sample{TMonoUs: 150_000, VBattMV: 3700})
	if hasTag(events, model.VJump) {
		t.Fatal("expected v_jump to be suppressed within debounce window")
	}
}

func TestEventDeriver_VDrop(t *testing.T) {
	d := NewEventDeriver(1, defaultThresholds())
	d.BCState = func() model.BCState { return model.BCBatID }

	d.Evaluate(model.Sample{TMonoUs: 0, VBattMV: 3700})
	events := d.Evaluate(model.Sample{TMonoUs: 100_000, VBattMV: 500})
	if !hasTag(events, model.VDrop) {
		t.Fatalf("expected v_drop, got %+v", events)
	}
}

func TestEventDeriver_ChDropBeforeVDropOrdering(t *testing.T) {
	d := NewEventDeriver(1, defaultThresholds())
	d.BCState = func() model.BCState { return model.BCCharge }

	d.Evaluate(model.Sample{TMonoUs: 0, VBattMV: 3700, IChMA: 500})
	// Both the current leg and the voltage collapse in the same tick.
	events := d.Evaluate(model.Sample{TMonoUs: 50_000, VBattMV: 500, IChMA: 0})

	if !hasTag(events, model.ChDrop) || !hasTag(events, model.VDrop) {
		t.Fatalf("expected both ch_drop and v_drop, got %+v", events)
	}
	var chIdx, vIdx = -1, -1
	for i, e := range events {
		if e.Tag == model.ChDrop {
			chIdx = i
		}
		if e.Tag == model.VDrop {
			vIdx = i
		}
	}
	if !(chIdx < vIdx) {
		t.Fatalf("expected ch_drop before v_drop in %+v", events)
	}
}

func TestEventDeriver_ChDone_RequiresBothConditions(t *testing.T) {
	th := defaultThresholds()
	d := NewEventDeriver(1, th)
	state := model.BCCharge
	d.BCState = func() model.BCState { return state }

	// Current under threshold for 30s but voltage never reaches V_full:
	// must not fire.
	var tUs int64
	for i := 0; i < 31; i++ {
		events := d.Evaluate(model.Sample{TMonoUs: tUs, IChMA: 10, VBattMV: 4000})
		if hasTag(events, model.ChDone) {
			t.Fatal("ch_done fired without voltage condition")
		}
		tUs += 1_000_000
	}

	// Now voltage condition also holds: next sample after 30s continuous
	// low current must fire.
	events := d.Evaluate(model.Sample{TMonoUs: tUs, IChMA: 10, VBattMV: 4200})
	if !hasTag(events, model.ChDone) {
		t.Fatal("expected ch_done once both conditions hold")
	}
}

func TestEventDeriver_ChDone_VoltageAloneInsufficient(t *testing.T) {
	th := defaultThresholds()
	d := NewEventDeriver(1, th)
	d.BCState = func() model.BCState { return model.BCCharge }

	// High voltage from the start, but current never drops below
	// threshold: must not fire.
	var tUs int64
	for i := 0; i < 40; i++ {
		events := d.Evaluate(model.Sample{TMonoUs: tUs, IChMA: 500, VBattMV: 4200})
		if hasTag(events, model.ChDone) {
			t.Fatal("ch_done fired without sustained low current")
		}
		tUs += 1_000_000
	}
}

func TestEventDeriver_DchDone_Sustained(t *testing.T) {
	th := defaultThresholds()
	d := NewEventDeriver(1, th)
	d.BCState = func() model.BCState { return model.BCDischarge }

	var tUs int64
	events := d.Evaluate(model.Sample{TMonoUs: tUs, VBattMV: 2700})
	if hasTag(events, model.DchDone) {
		t.Fatal("dch_done must not fire immediately")
	}
	tUs += 2_100_000 // > 2s hold
	events = d.Evaluate(model.Sample{TMonoUs: tUs, VBattMV: 2700})
	if !hasTag(events, model.DchDone) {
		t.Fatal("expected dch_done after sustained low voltage")
	}
}

func TestEventDeriver_DoneGatedOnBCState(t *testing.T) {
	th := defaultThresholds()
	d := NewEventDeriver(1, th)
	d.BCState = func() model.BCState { return model.BCBatID } // not CHARGE

	var tUs int64
	for i := 0; i < 40; i++ {
		events := d.Evaluate(model.Sample{TMonoUs: tUs, IChMA: 10, VBattMV: 4200})
		if hasTag(events, model.ChDone) {
			t.Fatal("ch_done must not fire outside CHARGE")
		}
		tUs += 1_000_000
	}
}
