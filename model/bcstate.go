package model

// BCState is the Battery Controller FSM's state.
type BCState string

const (
	BCDisabled       BCState = "DISABLED"
	BCNoBat          BCState = "NOBAT"
	BCBatNoID        BCState = "BAT_NOID"
	BCGetID          BCState = "GET_ID"
	BCBatID          BCState = "BAT_ID"
	BCCharge         BCState = "CHARGE"
	BCChargePause    BCState = "CHARGE_PAUSE"
	BCCharged        BCState = "CHARGED"
	BCDischarge      BCState = "DISCHARGE"
	BCDischargePause BCState = "DISCHARGE_PAUSE"
	BCDischarged     BCState = "DISCHARGED"
	BCYanked         BCState = "YANKED"
)

// ChargeAsserted reports whether the charge MOSFET must be on in this state.
func (s BCState) ChargeAsserted() bool { return s == BCCharge }

// DischargeAsserted reports whether the discharge MOSFET must be on.
func (s BCState) DischargeAsserted() bool { return s == BCDischarge }

// RequiresBatteryID reports states in which a non-empty battery_id is a
// standing invariant.
func (s BCState) RequiresBatteryID() bool {
	switch s {
	case BCBatID, BCCharge, BCChargePause, BCCharged,
		BCDischarge, BCDischargePause, BCDischarged:
		return true
	default:
		return false
	}
}

// IDSource records how a BatteryRecord's id was obtained.
type IDSource string

const (
	IDGenerated IDSource = "generated"
	IDOperator  IDSource = "operator"
)

// BatteryRecord is created on entry to BAT_NOID or BAT_ID (operator) and
// destroyed on entry to NOBAT.
type BatteryRecord struct {
	BatteryID string
	IDSource  IDSource
	BoundAtUs int64
}

// Accumulator is the per-channel measurement accumulator.
// It is monotonically non-decreasing within a single measurement window.
type Accumulator struct {
	ChargeMAh       float64
	ChargeMWh       float64
	DischargeMAh    float64
	DischargeMWh    float64
	WindowStartedUs int64
}

// Reset zeroes the accumulator, as on a reset_metrics command.
func (a *Accumulator) Reset(nowUs int64) {
	*a = Accumulator{WindowStartedUs: nowUs}
}
