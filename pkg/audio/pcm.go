package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// ErrMalformed reports a single buffer that cannot be encoded or decoded.
// It is local to that buffer: callers drop the unit and carry on.
var ErrMalformed = errors.New("audio: malformed buffer")

// Quantize clamps s to [-1, 1] and maps it onto the int16 range using
// round(s * 32767).
func Quantize(s float32) int16 {
	v := float64(s)
	switch {
	case math.IsNaN(v):
		return 0
	case v > 1:
		v = 1
	case v < -1:
		v = -1
	}
	return int16(math.Round(v * 32767))
}

// Dequantize is the inverse of [Quantize]: int16 / 32768.
func Dequantize(v int16) float32 {
	return float32(v) / 32768.0
}

// EncodePCM16 quantizes samples and packs them as little-endian int16.
func EncodePCM16(samples []float32) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(Quantize(s)))
	}
	return out
}

// DecodePCM16 unpacks little-endian int16 PCM into float samples. An odd
// byte count is reported as [ErrMalformed].
func DecodePCM16(pcm []byte) ([]float32, error) {
	if len(pcm)%2 != 0 {
		return nil, fmt.Errorf("%w: odd byte count %d", ErrMalformed, len(pcm))
	}
	out := make([]float32, len(pcm)/2)
	for i := range out {
		out[i] = Dequantize(int16(binary.LittleEndian.Uint16(pcm[i*2:])))
	}
	return out, nil
}

// Encode converts a captured frame into a PCM16 chunk of the same format.
func Encode(f Frame) (Chunk, error) {
	if f.SampleRate <= 0 || f.Channels <= 0 {
		return Chunk{}, fmt.Errorf("%w: format %s", ErrMalformed, formatString(f.SampleRate, f.Channels))
	}
	if len(f.Samples)%f.Channels != 0 {
		return Chunk{}, fmt.Errorf("%w: %d samples not divisible by %d channels", ErrMalformed, len(f.Samples), f.Channels)
	}
	return Chunk{
		Data:       EncodePCM16(f.Samples),
		SampleRate: f.SampleRate,
		Channels:   f.Channels,
	}, nil
}

// Decode converts a PCM16 chunk back into float samples.
func Decode(c Chunk) (Frame, error) {
	if c.SampleRate <= 0 || c.Channels <= 0 {
		return Frame{}, fmt.Errorf("%w: format %s", ErrMalformed, formatString(c.SampleRate, c.Channels))
	}
	samples, err := DecodePCM16(c.Data)
	if err != nil {
		return Frame{}, err
	}
	return Frame{Samples: samples, SampleRate: c.SampleRate, Channels: c.Channels}, nil
}
