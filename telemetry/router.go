// Package telemetry accepts structured records from every channel and
// forwards them to an external Sink: sample records are dropped
// oldest-first under back-pressure, state-transition and run-result
// records never are.
package telemetry

import (
	"context"

	"cellcycler-go/model"
)

// Sink is the external telemetry collaborator; its only contract is
// TrySend(record) -> accepted or rejected. A Transport
// (transport.go) is the concrete, swappable implementation this repo
// supplies; any other encoder/exporter can implement Sink directly.
type Sink interface {
	TrySend(line []byte) bool
}

// Record is one telemetry record bound for a channel. Payload is one of
// the model.*Record types; encodeLine rejects anything else.
type Record struct {
	Channel int
	Kind    model.RecordKind
	Payload any
}

const (
	priorityQueueCap = 8 // bc_transition, soc_transition, soc_result, fault
	sampleQueueCap   = 4 // decimated sample records only
)

type perChannel struct {
	priority chan Record
	sample   chan Record
}

// Router multiplexes per-channel records to the external sink.
type Router struct {
	sink   Sink
	queues map[int]*perChannel
}

// NewRouter constructs a Router forwarding to sink, with one set of
// per-channel queues pre-registered for each of channels 0..n-1.
func NewRouter(sink Sink, channels int) *Router {
	r := &Router{sink: sink, queues: make(map[int]*perChannel, channels)}
	for c := 0; c < channels; c++ {
		r.queues[c] = &perChannel{
			priority: make(chan Record, priorityQueueCap),
			sample:   make(chan Record, sampleQueueCap),
		}
	}
	return r
}

func isPriority(k model.RecordKind) bool { return k != model.KindSample }

// Offer hands rec to the router. Priority records (every kind but
// `sample`) are never dropped: the send blocks, and the Channel
// Supervisor is expected to suspend here. Sample records use a
// non-blocking send and, if the queue is full, drop the oldest queued
// sample to make room.
func (r *Router) Offer(ctx context.Context, channel int, kind model.RecordKind, payload any) {
	q := r.queues[channel]
	if q == nil {
		return
	}
	rec := Record{Channel: channel, Kind: kind, Payload: payload}
	if isPriority(kind) {
		select {
		case q.priority <- rec:
		case <-ctx.Done():
		}
		return
	}
	select {
	case q.sample <- rec:
		return
	default:
	}
	select {
	case <-q.sample:
	default:
	}
	select {
	case q.sample <- rec:
	default:
	}
}

// Run drains every channel's queues, priority records ahead of sample
// records, forwarding each to the Sink until ctx is cancelled.
func (r *Router) Run(ctx context.Context) {
	done := make(chan struct{})
	for _, q := range r.queues {
		go func(q *perChannel) {
			r.drain(ctx, q)
			done <- struct{}{}
		}(q)
	}
	for range r.queues {
		<-done
	}
}

func (r *Router) drain(ctx context.Context, q *perChannel) {
	for {
		select {
		case rec := <-q.priority:
			r.send(rec)
			continue
		default:
		}
		select {
		case <-ctx.Done():
			return
		case rec := <-q.priority:
			r.send(rec)
		case rec := <-q.sample:
			r.send(rec)
		}
	}
}

func (r *Router) send(rec Record) {
	line := encodeLine(rec)
	if line == nil {
		return
	}
	r.sink.TrySend(line)
}
