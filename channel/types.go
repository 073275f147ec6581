// Package channel implements the per-channel measurement pipeline: the
// Sampler, Event Deriver, BC-FSM, Coulomb Integrator, SoC-FSM and the
// Channel Supervisor that binds them. Each channel owns its own
// instances; nothing in this package is shared across channel
// boundaries except through the external interfaces defined here.
package channel

import "cellcycler-go/model"

// Leg identifies which MOSFET leg a switch command addresses.
type Leg string

const (
	ChargeLeg    Leg = "charge"
	DischargeLeg Leg = "discharge"
)

// SwitchSink is the external per-channel MOSFET and monitor control.
// Set must be idempotent and complete within 5ms; a returned error is
// treated as a hardware fault and forces the channel's BC-FSM to
// DISABLED.
type SwitchSink interface {
	Set(channel int, leg Leg, on bool) error
	SetMonitor(channel int, on bool) error
	ResetMonitor(channel int) error
}

// Direction distinguishes the charge and discharge current-flow states
// that the Coulomb Integrator accumulates separately.
type Direction int

const (
	DirCharge Direction = iota
	DirDischarge
)

// IntegratorControl is the subset of the Coulomb Integrator's behaviour
// that the BC-FSM drives directly on entry/exit actions. Kept as an
// interface so bcfsm.go has no file-ordering dependency on
// integrator.go's concrete type.
type IntegratorControl interface {
	Arm(dir Direction, nowUs int64)
	Disarm(nowUs int64)
	Reset(nowUs int64)
	Snapshot() model.Accumulator
}
