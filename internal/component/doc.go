// Package component implements the asynchronous command and buffer-exchange
// engine of a software video decoder component.
//
// A Component owns an input port (compressed bitstream) and an output port
// (decoded frames), a buffer registry per port, and a single worker
// goroutine. Client calls and decode-engine callbacks only push events onto
// three queues (commands, output, input); the worker drains them in that
// priority order, runs every state transition and bookkeeping step, and
// invokes client callbacks. State, flush and port commands block the caller
// until the worker has processed them; buffer submission never blocks.
//
// The lifecycle follows the LOADED → IDLE → EXECUTING state machine:
// LOADED→IDLE completes once both ports are populated, EXECUTING→IDLE
// flushes both ports before acknowledging, IDLE→LOADED completes once both
// ports are unpopulated, and a fatal engine error moves the component to
// INVALID for good.
//
// Dynamic output reconfiguration is driven by the engine: it raises a
// reconfiguration event, the client disables the output port (which
// flushes it), releases and re-registers buffers at the new geometry, and
// re-enables the port, at which point the engine is restarted once.
package component
