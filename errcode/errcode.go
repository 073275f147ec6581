// Package errcode gives every rejected command and reported fault a
// stable, bus-facing identifier.
package errcode

import (
	"context"
	"errors"
)

// Code is a stable, bus-facing error identifier.
// It is a string newtype, comparable, allocation-free, and implements error.
type Code string

func (c Code) Error() string { return string(c) }

// Canonical codes (short, stable): a command addressed to a state that
// does not accept it, a malformed set_id payload, or one of the fault
// kinds a channel can report.
const (
	OK Code = "ok"

	CommandMisuse  Code = "command_misuse"  // rejected by current FSM state
	InvalidSetID   Code = "invalid_set_id"  // set_id empty or >32 bytes
	UnknownChannel Code = "unknown_channel" // command addressed to a channel this device doesn't have

	FaultSwitch   Code = "fault_switch"
	FaultSampler  Code = "fault_sampler"
	FaultBus      Code = "fault_bus"
	FaultProtocol Code = "fault_protocol"

	Timeout Code = "timeout"

	Error Code = "error" // generic fallback
)

// Optional wrapper when we want to keep context and a cause.
type E struct {
	C   Code
	Op  string
	Msg string
	Err error
}

func (e *E) Error() string {
	s := string(e.C)
	if e.Op != "" {
		s += ": " + e.Op
	}
	if e.Msg != "" {
		s += ": " + e.Msg
	}
	return s
}
func (e *E) Unwrap() error { return e.Err }
func (e *E) Code() Code    { return e.C }

// Of extracts a Code from an error, defaulting to Error.
func Of(err error) Code {
	if err == nil {
		return OK
	}
	if c, ok := err.(Code); ok {
		return c
	}
	type coder interface{ Code() Code }
	if x, ok := err.(coder); ok {
		return x.Code()
	}
	return Error
}

// MapDriverErr maps a low-level driver/transport error to a Code. An error
// that already carries a Code (via Of) keeps it; otherwise context
// cancellation heuristics apply, falling back to the generic Error code.
// Extend the heuristics per platform/driver.
func MapDriverErr(err error) Code {
	if err == nil {
		return OK
	}
	if c := Of(err); c != Error {
		return c
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return Timeout
	}
	return Error
}
