package omx

// Client receives component callbacks. All methods are invoked on the
// component's worker goroutine, one at a time. Implementations must not
// call back into the component synchronously; hand the work to another
// goroutine instead.
type Client interface {
	// OnCommandComplete acknowledges a command. For CmdStateSet, param is
	// the new State; for the port commands it is the PortIndex.
	OnCommandComplete(cmd Command, param int)
	// OnError reports an asynchronous failure. Every failure on the worker
	// goroutine produces exactly one call.
	OnError(code Error)
	// OnInputReturned hands a consumed input buffer back to the client.
	OnInputReturned(buf *BufferHeader)
	// OnOutputReturned hands a filled (or flushed, zero-length) output
	// buffer back to the client.
	OnOutputReturned(buf *BufferHeader)
	// OnEndOfStream reports that an end-of-stream flag reached a port.
	OnEndOfStream(port PortIndex, flags Flags)
	// OnPortSettingsChanged asks the client to reconfigure a port.
	OnPortSettingsChanged(port PortIndex)
	// OnOutputCropChanged reports a new visible rectangle without a
	// change in buffer geometry.
	OnOutputCropChanged(crop Crop)
}
