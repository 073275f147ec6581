package model

// RecordKind names one telemetry record kind.
type RecordKind string

const (
	KindSample        RecordKind = "sample"
	KindBCTransition  RecordKind = "bc_transition"
	KindSoCTransition RecordKind = "soc_transition"
	KindSoCResult     RecordKind = "soc_result"
	KindFault         RecordKind = "fault"
)

// FaultKind classifies a fault record.
type FaultKind string

const (
	FaultSampler  FaultKind = "sampler"
	FaultSwitch   FaultKind = "switch"
	FaultBus      FaultKind = "bus"
	FaultCommand  FaultKind = "command"
	FaultProtocol FaultKind = "protocol"
)

// SampleRecord is the decimated telemetry form of a Sample.
type SampleRecord struct {
	Channel int   `json:"channel"`
	TUs     int64 `json:"t"`
	VMV     int32 `json:"v_mV"`
	IChMA   int32 `json:"i_ch_mA"`
	IDchMA  int32 `json:"i_dch_mA"`
}

// BCTransitionRecord is emitted on every BC-FSM transition.
type BCTransitionRecord struct {
	Channel         int     `json:"channel"`
	TUs             int64   `json:"t"`
	From            BCState `json:"from"`
	To              BCState `json:"to"`
	Event           string  `json:"event"`
	BatteryID       string  `json:"battery_id,omitempty"`
	ChargeMAh       float64 `json:"mAh_charge"`
	DischargeMAh    float64 `json:"mAh_discharge"`
}

// SoCTransitionRecord is emitted on every SoC-FSM transition.
type SoCTransitionRecord struct {
	Channel   int      `json:"channel"`
	TUs       int64    `json:"t"`
	From      SoCState `json:"from"`
	To        SoCState `json:"to"`
	NumCycles int      `json:"num_cycles"`
	MaxCycles int      `json:"max_cycles"`
}

// SoCResultRecord is emitted once per SoC run, on COMPLETE/CANCEL/ERROR.
type SoCResultRecord struct {
	Channel    int         `json:"channel"`
	BatteryID  string      `json:"battery_id"`
	StartedUs  int64       `json:"started_at"`
	FinishedUs int64       `json:"finished_at"`
	Outcome    RunOutcome  `json:"outcome"`
	Cycles     []SoCResult `json:"cycles"`
}

// FaultRecord reports a hardware fault, protocol violation, or rejected
// command.
type FaultRecord struct {
	Channel int       `json:"channel"`
	TUs     int64     `json:"t"`
	Kind    FaultKind `json:"kind"`
	Detail  string    `json:"detail"`
}
