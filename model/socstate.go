package model

// SoCState is the State-of-Charge FSM's state.
type SoCState string

const (
	SoCReady       SoCState = "READY"
	SoCCharging1st SoCState = "CHARGING_1ST"
	SoCCharging    SoCState = "CHARGING"
	SoCRestCh      SoCState = "REST_CH"
	SoCDischarging SoCState = "DISCHARGING"
	SoCRestDch     SoCState = "REST_DCH"
	SoCComplete    SoCState = "COMPLETE"
	SoCCancel      SoCState = "CANCEL"
	SoCError       SoCState = "ERROR"
)

// ExpectedBC lists the BC states that are not a protocol violation while
// the SoC-FSM is in this state.
// A zero-length (nil) result means "no constraint" (e.g. READY, COMPLETE,
// CANCEL, ERROR, where the SoC-FSM is not actively driving BC).
func (s SoCState) ExpectedBC() []BCState {
	switch s {
	case SoCCharging1st, SoCCharging:
		return []BCState{BCCharge, BCChargePause, BCCharged}
	case SoCDischarging:
		return []BCState{BCDischarge, BCDischargePause, BCDischarged}
	case SoCRestCh, SoCRestDch:
		return []BCState{BCBatID}
	default:
		return nil
	}
}

// SoCResult is the per-cycle outcome recorded by the SoC-FSM.
type SoCResult struct {
	CycleIndex      int
	ChargeMAh       float64
	DischargeMAh    float64
	ChargeMWh       float64
	DischargeMWh    float64
	TChargeS        float64
	TDischargeS     float64
	RestStartVmV    int32
	RestEndVmV      int32
}

// RunOutcome is the terminal classification of a SoC run.
type RunOutcome string

const (
	OutcomeComplete RunOutcome = "complete"
	OutcomeCanceled RunOutcome = "canceled"
	OutcomeError    RunOutcome = "error"
)
