package model

// EdgeTag identifies one kind of derived edge event.
type EdgeTag string

const (
	VJump   EdgeTag = "v_jump"
	VDrop   EdgeTag = "v_drop"
	ChJump  EdgeTag = "ch_jump"
	ChDrop  EdgeTag = "ch_drop"
	DchJump EdgeTag = "dch_jump"
	DchDrop EdgeTag = "dch_drop"
	ChDone  EdgeTag = "ch_done"
	DchDone EdgeTag = "dch_done"
)

// EdgeEvent is produced by the Event Deriver and consumed by the BC-FSM.
type EdgeEvent struct {
	Tag     EdgeTag
	TMonoUs int64
	Sample  Sample
}

// OperatorTag identifies one operator command.
type OperatorTag string

const (
	OpDisable      OperatorTag = "disable"
	OpInit         OperatorTag = "init"
	OpGetID        OperatorTag = "get_id"
	OpSetID        OperatorTag = "set_id"
	OpCharge       OperatorTag = "charge"
	OpDischarge    OperatorTag = "discharge"
	OpPause        OperatorTag = "pause"
	OpResume       OperatorTag = "resume"
	OpReset        OperatorTag = "reset"
	OpResetMetrics OperatorTag = "reset_metrics"
	OpCancel       OperatorTag = "cancel"

	// OpAck acknowledges a SoC-FSM ERROR state, returning it to READY.
	// It is distinct from "reset": BC's reset runs YANKED to NOBAT
	// without clearing SoC's ERROR.
	OpAck OperatorTag = "ack"
)

// Broadcast is the channel-id sentinel meaning "all channels" (used only
// with OpDisable).
const Broadcast = -1

// OperatorEvent is delivered by the Command Router to a channel's
// Supervisor (or, for OpDisable with Channel==Broadcast, to all of them).
type OperatorEvent struct {
	Channel int
	Tag     OperatorTag
	SetID   string // only meaningful for OpSetID; non-empty, <=32 bytes
}
