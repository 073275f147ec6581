package channel

import "cellcycler-go/model"

const microsecondsPerHour = 3_600_000_000.0

// Integrator is the per-channel coulomb counter: trapezoidal
// integration of charge and instantaneous integration of energy over
// consecutive sample intervals, armed/disarmed by the BC-FSM's entry and
// exit actions.
type Integrator struct {
	maxGapUs int64

	armed bool
	dir   Direction

	haveLast bool
	lastTUs  int64
	lastIMA  int32

	acc model.Accumulator
}

// NewIntegrator constructs an Integrator that drops sample pairs more
// than maxGapUs apart rather than interpolate across the gap.
func NewIntegrator(maxGapUs int64) *Integrator {
	return &Integrator{maxGapUs: maxGapUs}
}

// Arm starts (or resumes) accumulation in dir. Resuming via this call
// after a prior Disarm appends a new window without clearing the
// accumulator; the first sample after
// Arm never contributes a Δq, since there is no prior sample in this
// window to interpolate from.
func (in *Integrator) Arm(dir Direction, nowUs int64) {
	in.armed = true
	in.dir = dir
	in.haveLast = false
}

// Disarm seals the current partial window. The accumulator itself is
// left untouched; only Reset zeroes it.
func (in *Integrator) Disarm(nowUs int64) {
	in.armed = false
	in.haveLast = false
}

// Reset zeroes the accumulator (operator reset_metrics command).
func (in *Integrator) Reset(nowUs int64) {
	in.acc = model.Accumulator{WindowStartedUs: nowUs}
	in.haveLast = false
}

// Snapshot returns the current accumulator value.
func (in *Integrator) Snapshot() model.Accumulator { return in.acc }

// Observe feeds one sample into the integrator. It is called every
// sample period regardless of BC-FSM state and is a no-op while
// disarmed, so the Channel Supervisor need not gate the call itself.
func (in *Integrator) Observe(s model.Sample) {
	if !in.armed {
		return
	}
	i := in.currentFor(s)
	if i < 0 {
		return
	}
	if !in.haveLast {
		in.lastTUs, in.lastIMA, in.haveLast = s.TMonoUs, i, true
		return
	}

	dtUs := s.TMonoUs - in.lastTUs
	if dtUs <= 0 || dtUs > in.maxGapUs {
		in.lastTUs, in.lastIMA = s.TMonoUs, i
		return
	}
	dtH := float64(dtUs) / microsecondsPerHour

	dQmAh := (float64(in.lastIMA) + float64(i)) / 2 * dtH
	dEmWh := float64(s.VBattMV) * float64(i) * dtH / 1000

	switch in.dir {
	case DirCharge:
		in.acc.ChargeMAh += dQmAh
		in.acc.ChargeMWh += dEmWh
	case DirDischarge:
		in.acc.DischargeMAh += dQmAh
		in.acc.DischargeMWh += dEmWh
	}

	in.lastTUs, in.lastIMA = s.TMonoUs, i
}

func (in *Integrator) currentFor(s model.Sample) int32 {
	if in.dir == DirCharge {
		return s.IChMA
	}
	return s.IDchMA
}
