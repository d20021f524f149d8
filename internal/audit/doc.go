// Package audit relays security events to a sink off the request path.
//
// The [Dispatcher] buffers events and hands them to a [Sink] from a single
// goroutine. When DropIfFull is set a full buffer drops the event and
// counts it; otherwise Emit waits for room or for the caller's context.
//
// Which events to emit is decided by the engine, never here.
package audit
