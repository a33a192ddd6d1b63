// Package screenbeam streams a captured region of the local display to a
// DLNA-capable media renderer over the local network.
package screenbeam

// FrameSink consumes raw video frames. Write blocks until the frame has
// been handed off downstream; a slow consumer throttles the producer.
type FrameSink interface {
	// Write delivers one raw frame. It returns an error once the sink can
	// no longer accept frames, after which the producer must stop.
	Write(frame []byte) error
}

// Controller drives playback on a remote media renderer. Every method
// reports success as a boolean and never panics past its own boundary;
// callers must check the result.
type Controller interface {
	// SetAVTransportURI tells the renderer where to pull the media from.
	SetAVTransportURI(mediaURL string) bool
	// Play starts playback at normal speed.
	Play() bool
	// Stop halts playback.
	Stop() bool
}
