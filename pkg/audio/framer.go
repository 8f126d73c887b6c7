package audio

import "time"

// Framer regroups a stream of interleaved samples of arbitrary length into
// frames of a fixed window. Device backends whose drivers deliver variable
// period sizes use it to present a steady cadence.
//
// A Framer is not safe for concurrent use; it belongs to one device callback.
type Framer struct {
	format  Format
	window  int // sample instants per frame
	pending []float32
	emitted int64
}

// NewFramer returns a Framer emitting window sample instants per frame.
func NewFramer(f Format, window int) *Framer {
	if f.Channels <= 0 {
		f.Channels = 1
	}
	if window <= 0 {
		window = 1
	}
	return &Framer{
		format:  f,
		window:  window,
		pending: make([]float32, 0, window*f.Channels*2),
	}
}

// Push appends samples and calls emit for every complete window. Each
// emitted frame owns its sample slice.
func (fr *Framer) Push(samples []float32, emit func(Frame)) {
	fr.pending = append(fr.pending, samples...)
	size := fr.window * fr.format.Channels
	for len(fr.pending) >= size {
		out := make([]float32, size)
		copy(out, fr.pending[:size])
		fr.pending = append(fr.pending[:0], fr.pending[size:]...)

		ts := time.Duration(fr.emitted * int64(time.Second) / int64(max(fr.format.SampleRate, 1)))
		fr.emitted += int64(fr.window)
		emit(Frame{
			Samples:    out,
			SampleRate: fr.format.SampleRate,
			Channels:   fr.format.Channels,
			Timestamp:  ts,
		})
	}
}
