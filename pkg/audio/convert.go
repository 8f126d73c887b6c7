package audio

import (
	"fmt"
	"log/slog"
	"sync"
)

// Format describes the sample rate and channel count of an audio stream.
type Format struct {
	SampleRate int
	Channels   int
}

// String returns a human-readable form such as "16000Hz mono".
func (f Format) String() string { return formatString(f.SampleRate, f.Channels) }

// FormatConverter converts captured frames to a target format. It logs a
// warning the first time a mismatch is seen. Create one per stream; it is
// not designed for shared use across goroutines.
type FormatConverter struct {
	Target         Format
	warnedMismatch sync.Once
}

// Convert converts f to the target format. If f already matches, it is
// returned unchanged without allocating.
// Channels are folded down first so the resampler only runs on mono data.
func (c *FormatConverter) Convert(f Frame) Frame {
	if f.SampleRate == c.Target.SampleRate && f.Channels == c.Target.Channels {
		return f
	}

	c.warnedMismatch.Do(func() {
		slog.Warn("audio format mismatch: converting",
			"from", formatString(f.SampleRate, f.Channels),
			"to", c.Target.String(),
		)
	})

	samples := f.Samples
	channels := f.Channels

	if channels > 1 && c.Target.Channels == 1 {
		samples = Downmix(samples, channels)
		channels = 1
	} else if channels == 1 && c.Target.Channels == 2 {
		samples = MonoToStereo(samples)
		channels = 2
	}

	rate := f.SampleRate
	if rate != c.Target.SampleRate && channels == 1 {
		samples = ResampleMono(samples, rate, c.Target.SampleRate)
		rate = c.Target.SampleRate
	}

	return Frame{
		Samples:    samples,
		SampleRate: rate,
		Channels:   channels,
		Timestamp:  f.Timestamp,
	}
}

// MonoToStereo duplicates each mono sample into an L+R pair.
func MonoToStereo(samples []float32) []float32 {
	out := make([]float32, len(samples)*2)
	for i, s := range samples {
		out[i*2] = s
		out[i*2+1] = s
	}
	return out
}

// Downmix averages each group of interleaved channel samples into one mono
// sample. Trailing samples that do not form a whole group are discarded.
func Downmix(samples []float32, channels int) []float32 {
	if channels <= 1 {
		return samples
	}
	frames := len(samples) / channels
	out := make([]float32, frames)
	for i := range frames {
		var sum float32
		for ch := range channels {
			sum += samples[i*channels+ch]
		}
		out[i] = sum / float32(channels)
	}
	return out
}

// ResampleMono resamples mono samples from srcRate to dstRate using linear
// interpolation. If the rates match, the input is returned unchanged.
func ResampleMono(samples []float32, srcRate, dstRate int) []float32 {
	if srcRate <= 0 || dstRate <= 0 || srcRate == dstRate || len(samples) == 0 {
		return samples
	}
	dstLen := int(int64(len(samples)) * int64(dstRate) / int64(srcRate))
	if dstLen == 0 {
		return nil
	}

	out := make([]float32, dstLen)
	ratio := float64(srcRate) / float64(dstRate)
	for i := range dstLen {
		pos := float64(i) * ratio
		idx := int(pos)
		frac := float32(pos - float64(idx))

		s0 := samples[idx]
		s1 := s0
		if idx+1 < len(samples) {
			s1 = samples[idx+1]
		}
		out[i] = s0*(1-frac) + s1*frac
	}
	return out
}

// formatString returns a human-readable string for a sample rate and channel count,
// e.g. "48000Hz stereo".
func formatString(rate, channels int) string {
	ch := "mono"
	if channels == 2 {
		ch = "stereo"
	} else if channels > 2 {
		ch = fmt.Sprintf("%dch", channels)
	}
	return fmt.Sprintf("%dHz %s", rate, ch)
}
