// ABOUTME: Audio output interface definition
// ABOUTME: A device clock plus buffers scheduled at exact frame positions
package output

// Device is an audio output whose clock advances on its own as frames are
// rendered. Buffers are placed on that clock at absolute frame positions.
type Device interface {
	// SampleRate returns the device rate in frames per second
	SampleRate() int

	// Clock returns the number of frames rendered since the device opened
	Clock() int64

	// Schedule places mono samples at frame position at. onEnded is invoked
	// once the last frame has rendered, unless the voice was halted first.
	Schedule(samples []float32, at int64, onEnded func()) (Voice, error)

	// Close releases output resources
	Close() error
}

// Voice is one scheduled buffer
type Voice interface {
	// Halt silences the voice immediately; its ended callback never fires
	Halt()
}

// Dispatcher delivers device callbacks onto the caller's event loop
type Dispatcher func(func())
