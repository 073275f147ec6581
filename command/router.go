// Package command receives operator events from the operator source
// (a UI or a remote console) and delivers each to the addressed
// channel's Supervisor. Per-channel delivery goes over the bus, like
// every other inter-service wiring in this repo; broadcast `disable` is
// the one exception, delivered synchronously, so it bypasses the bus
// and calls each bound channel directly.
package command

import (
	"cellcycler-go/bus"
	"cellcycler-go/errcode"
	"cellcycler-go/model"
	"cellcycler-go/x/strconvx"
)

// Topic returns the bus topic a channel's Supervisor subscribes to for
// operator commands addressed to it.
func Topic(channel int) bus.Topic { return bus.T("command", "channel", channel) }

// Disabler is the synchronous fast path a channel exposes for
// broadcast disable, which must reach every channel immediately rather
// than be queued like every other command.
type Disabler interface {
	DisableNow(nowUs int64)
}

// Router delivers operator events to the addressed channel.
type Router struct {
	conn        *bus.Connection
	disablers   []Disabler
	numChannels int
	onReject    func(detail string)
}

// NewRouter constructs a Router that publishes per-channel commands over
// conn, addressed to channels 0..numChannels-1.
func NewRouter(conn *bus.Connection, numChannels int) *Router {
	return &Router{conn: conn, numChannels: numChannels}
}

// OnReject registers fn to be called whenever Route rejects a command
// addressed to a channel this device doesn't have (errcode.UnknownChannel).
func (r *Router) OnReject(fn func(detail string)) { r.onReject = fn }

// BindDisabler registers channel's synchronous broadcast-disable
// target.
func (r *Router) BindDisabler(channel int, d Disabler) {
	for len(r.disablers) <= channel {
		r.disablers = append(r.disablers, nil)
	}
	r.disablers[channel] = d
}

// Route delivers ev, either to one addressed channel (via the bus,
// async) or, for a broadcast disable only, synchronously to every bound
// channel. Any other broadcast tag is silently dropped, the same
// posture the BC-FSM takes toward events its current state does not
// list.
func (r *Router) Route(ev model.OperatorEvent, nowUs int64) {
	if ev.Channel == model.Broadcast {
		if ev.Tag != model.OpDisable {
			return
		}
		for _, d := range r.disablers {
			if d != nil {
				d.DisableNow(nowUs)
			}
		}
		return
	}
	if ev.Channel < 0 || ev.Channel >= r.numChannels {
		if r.onReject != nil {
			e := &errcode.E{C: errcode.UnknownChannel, Op: "route",
				Msg: "channel " + strconvx.Itoa(ev.Channel)}
			r.onReject(e.Error())
		}
		return
	}
	r.conn.Publish(r.conn.NewMessage(Topic(ev.Channel), ev, false))
}
