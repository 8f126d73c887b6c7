package audio

import "time"

// Frame is one callback's worth of captured audio. Samples are interleaved
// floating-point amplitudes in [-1.0, 1.0]. A Frame is never modified after
// the input device hands it out.
type Frame struct {
	// Samples holds interleaved amplitudes, Channels values per sample instant.
	Samples []float32

	// SampleRate in Hz (e.g. 16000 for microphone capture, 24000 for playback).
	SampleRate int

	// Channels: 1 for mono, 2 for stereo.
	Channels int

	// Timestamp marks when this frame was captured, relative to stream start.
	Timestamp time.Duration
}

// Duration returns the playback length of f.
func (f Frame) Duration() time.Duration {
	return samplesDuration(len(f.Samples), f.SampleRate, f.Channels)
}

// Chunk is an encoded unit of linear PCM16 (signed, little-endian) audio.
// Chunks carry no sequence number: their order is the order in which they
// are delivered. A Chunk is handed from one pipeline stage to the next and
// must not be retained by the sender.
type Chunk struct {
	Data       []byte
	SampleRate int
	Channels   int
}

// Duration returns the playback length of c.
func (c Chunk) Duration() time.Duration {
	return samplesDuration(len(c.Data)/2, c.SampleRate, c.Channels)
}

func samplesDuration(n, rate, channels int) time.Duration {
	if rate <= 0 {
		return 0
	}
	if channels <= 0 {
		channels = 1
	}
	return time.Duration(int64(n/channels) * int64(time.Second) / int64(rate))
}
