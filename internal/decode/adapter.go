package decode

// Adapter is the Decoder Adapter contract from spec.md §4.2.
type Adapter interface {
	// Open opens a demux/decode session for url. If preferHW is set, the
	// adapter tries the hardware decoder for the negotiated codec first and
	// falls back to software on failure.
	Open(url string, preferHW bool) error

	// Pull returns the next frame event. It never blocks indefinitely: on
	// "no frame ready yet" it returns an Again event after a short bounded
	// wait.
	Pull() FrameEvent

	// Codec returns the codec negotiated by the most recent Open call.
	Codec() Codec

	// UsingHardware reports whether the hardware decoder element is active.
	UsingHardware() bool

	// Close releases the codec, format and packet buffers. Idempotent.
	Close() error
}
