package channel

import (
	"cellcycler-go/config"
	"cellcycler-go/model"
)

const minRingWindowUs = 600_000

// EventDeriver converts a channel's sample stream into discrete edge
// events for the BC-FSM. It is stateless with
// respect to BC state except for ch_done/dch_done, which read BC state
// as a read-only input through BCState.
type EventDeriver struct {
	channel int
	th      config.Thresholds

	ring        []model.Sample
	maxWindowUs int64

	vJumpSuppressUntilUs   int64
	vDropSuppressUntilUs   int64
	chJumpSuppressUntilUs  int64
	chDropSuppressUntilUs  int64
	dchJumpSuppressUntilUs int64
	dchDropSuppressUntilUs int64

	chBelowActive  bool
	chBelowSinceUs int64
	chDoneFired    bool

	dchBelowActive  bool
	dchBelowSinceUs int64
	dchDoneFired    bool

	// BCState reports the current BC-FSM state. Must be set before
	// Evaluate is called; ch_done/dch_done never fire while it is nil.
	BCState func() model.BCState
}

// NewEventDeriver constructs a deriver holding at least 600ms of ring
// history, widened if any configured window exceeds that.
func NewEventDeriver(channel int, th config.Thresholds) *EventDeriver {
	windowUs := int64(th.VDropWindowMs) * 1000
	if w := int64(th.VJumpWindowMs) * 1000; w > windowUs {
		windowUs = w
	}
	if w := int64(th.IEdgeWindowMs) * 1000; w > windowUs {
		windowUs = w
	}
	if windowUs < minRingWindowUs {
		windowUs = minRingWindowUs
	}
	return &EventDeriver{channel: channel, th: th, maxWindowUs: windowUs}
}

// Evaluate pushes s into the ring and returns the edge events it
// triggers, current-edge events ordered before voltage-edge events so
// that a same-tick yank during CHARGE surfaces to the BC-FSM as ch_drop
// rather than v_drop.
func (d *EventDeriver) Evaluate(s model.Sample) []model.EdgeEvent {
	d.push(s)

	var events []model.EdgeEvent
	emit := func(tag model.EdgeTag) {
		events = append(events, model.EdgeEvent{Tag: tag, TMonoUs: s.TMonoUs, Sample: s})
	}

	iWindowUs := int64(d.th.IEdgeWindowMs) * 1000
	if d.checkJump(s.TMonoUs, fieldICh, iWindowUs, d.th.IEdgeMA, &d.chJumpSuppressUntilUs) {
		emit(model.ChJump)
	}
	if d.checkDrop(s.TMonoUs, fieldICh, iWindowUs, d.th.IEdgeMA, &d.chDropSuppressUntilUs) {
		emit(model.ChDrop)
	}
	if d.checkJump(s.TMonoUs, fieldIDch, iWindowUs, d.th.IEdgeMA, &d.dchJumpSuppressUntilUs) {
		emit(model.DchJump)
	}
	if d.checkDrop(s.TMonoUs, fieldIDch, iWindowUs, d.th.IEdgeMA, &d.dchDropSuppressUntilUs) {
		emit(model.DchDrop)
	}

	if d.evaluateChDone(s) {
		emit(model.ChDone)
	}
	if d.evaluateDchDone(s) {
		emit(model.DchDone)
	}

	if d.checkJump(s.TMonoUs, fieldVBatt, int64(d.th.VJumpWindowMs)*1000, d.th.VJumpMV, &d.vJumpSuppressUntilUs) {
		emit(model.VJump)
	}
	if d.checkDrop(s.TMonoUs, fieldVBatt, int64(d.th.VDropWindowMs)*1000, d.th.VDropMV, &d.vDropSuppressUntilUs) {
		emit(model.VDrop)
	}

	return events
}

func fieldVBatt(s model.Sample) int32 { return s.VBattMV }
func fieldICh(s model.Sample) int32   { return s.IChMA }
func fieldIDch(s model.Sample) int32  { return s.IDchMA }

func (d *EventDeriver) push(s model.Sample) {
	d.ring = append(d.ring, s)
	cutoff := s.TMonoUs - d.maxWindowUs
	i := 0
	for i < len(d.ring) && d.ring[i].TMonoUs < cutoff {
		i++
	}
	if i > 0 {
		d.ring = append(d.ring[:0], d.ring[i:]...)
	}
}

func (d *EventDeriver) checkJump(nowUs int64, field func(model.Sample) int32, windowUs int64, thresh int32, suppressUntil *int64) bool {
	if nowUs < *suppressUntil {
		return false
	}
	minV, ok := d.extremeInWindow(nowUs, windowUs, field, true)
	if !ok {
		return false
	}
	now := field(d.ring[len(d.ring)-1])
	if now-minV >= thresh {
		*suppressUntil = nowUs + windowUs
		return true
	}
	return false
}

func (d *EventDeriver) checkDrop(nowUs int64, field func(model.Sample) int32, windowUs int64, thresh int32, suppressUntil *int64) bool {
	if nowUs < *suppressUntil {
		return false
	}
	maxV, ok := d.extremeInWindow(nowUs, windowUs, field, false)
	if !ok {
		return false
	}
	now := field(d.ring[len(d.ring)-1])
	if maxV-now >= thresh {
		*suppressUntil = nowUs + windowUs
		return true
	}
	return false
}

// extremeInWindow returns the min (wantMin) or max value of field over
// ring entries within windowUs of nowUs.
func (d *EventDeriver) extremeInWindow(nowUs int64, windowUs int64, field func(model.Sample) int32, wantMin bool) (int32, bool) {
	cutoff := nowUs - windowUs
	var (
		best  int32
		found bool
	)
	for _, s := range d.ring {
		if s.TMonoUs < cutoff {
			continue
		}
		v := field(s)
		if !found {
			best, found = v, true
			continue
		}
		if wantMin && v < best {
			best = v
		}
		if !wantMin && v > best {
			best = v
		}
	}
	return best, found
}

func (d *EventDeriver) evaluateChDone(s model.Sample) bool {
	if d.BCState == nil || d.BCState() != model.BCCharge {
		d.chBelowActive = false
		d.chDoneFired = false
		return false
	}
	if s.IChMA >= d.th.ITermChMA {
		d.chBelowActive = false
		d.chDoneFired = false
		return false
	}
	if !d.chBelowActive {
		d.chBelowActive = true
		d.chBelowSinceUs = s.TMonoUs
	}
	if d.chDoneFired {
		return false
	}
	held := s.TMonoUs-d.chBelowSinceUs >= int64(d.th.ChDoneHoldS)*1_000_000
	if held && s.VBattMV >= d.th.VFullMV {
		d.chDoneFired = true
		return true
	}
	return false
}

func (d *EventDeriver) evaluateDchDone(s model.Sample) bool {
	if d.BCState == nil || d.BCState() != model.BCDischarge {
		d.dchBelowActive = false
		d.dchDoneFired = false
		return false
	}
	if s.VBattMV > d.th.VEmptyMV {
		d.dchBelowActive = false
		d.dchDoneFired = false
		return false
	}
	if !d.dchBelowActive {
		d.dchBelowActive = true
		d.dchBelowSinceUs = s.TMonoUs
	}
	if d.dchDoneFired {
		return false
	}
	if s.TMonoUs-d.dchBelowSinceUs >= int64(d.th.DchDoneHoldS)*1_000_000 {
		d.dchDoneFired = true
		return true
	}
	return false
}
