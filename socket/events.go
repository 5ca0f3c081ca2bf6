package socket

import "github.com/phederal/sio/pkg/events"

// StrictEventEmitter separates the reserved lifecycle events emitted by the
// library (EmitReserved) from the user events received over the wire
// (EmitUntyped). Both share one listener table; the split exists so call
// sites state which side of the contract they are on.
type StrictEventEmitter struct {
	events.EventEmitter
}

func NewStrictEventEmitter() *StrictEventEmitter {
	return &StrictEventEmitter{EventEmitter: events.New()}
}

// EmitReserved emits a lifecycle event such as "connection" or "disconnect".
func (e *StrictEventEmitter) EmitReserved(ev string, args ...any) {
	e.EventEmitter.Emit(ev, args...)
}

// EmitUntyped emits an event received from the remote side.
func (e *StrictEventEmitter) EmitUntyped(ev string, args ...any) {
	e.EventEmitter.Emit(ev, args...)
}
