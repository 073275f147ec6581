// Package model holds the data types shared by every component of a
// channel's measurement pipeline: samples, the events derived from them,
// the states both FSMs live in, and the records a channel publishes.
package model

import "cellcycler-go/x/mathx"

// Sample is one timestamped reading of a channel's three measurement
// points. ICh and IDch are always non-negative and mutually exclusive:
// the charge and discharge MOSFETs can never both be conducting.
type Sample struct {
	ChannelID int
	TMonoUs   int64 // monotonic microseconds, not wall clock
	VBattMV   int32
	IChMA     int32
	IDchMA    int32
}

// CalPoint is the affine calibration applied to one ADC measurement
// point: physical = offset + raw*gain/1000.
type CalPoint struct {
	OffsetMV     int32
	GainUVPerLSB int32
}

// Calibration holds the three per-channel calibration points named in
// (battery terminal, charge shunt, discharge shunt).
type Calibration struct {
	VBatt CalPoint
	ICh   CalPoint
	IDch  CalPoint
}

// applyCeilingMV bounds a converted reading to what this hardware can ever
// legitimately produce; a raw count paired with a corrupt calibration
// point can otherwise yield a wildly out-of-range physical value.
const applyCeilingMV = 100_000

// Apply converts a raw ADC count to a physical value in the point's unit,
// clamped to [0, applyCeilingMV].
func (c CalPoint) Apply(raw int32) int32 {
	v := c.OffsetMV + (raw*c.GainUVPerLSB)/1000
	return mathx.Clamp(v, 0, applyCeilingMV)
}
