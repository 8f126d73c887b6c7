package audio_test

import (
	"testing"
	"time"

	"github.com/gastromaster/livevoice/pkg/audio"
)

func TestFramer_FixedWindows(t *testing.T) {
	t.Parallel()

	fr := audio.NewFramer(audio.Format{SampleRate: 1000, Channels: 1}, 4)
	var frames []audio.Frame
	emit := func(f audio.Frame) { frames = append(frames, f) }

	fr.Push([]float32{1, 2, 3}, emit)
	if len(frames) != 0 {
		t.Fatalf("emitted %d frames from a partial window", len(frames))
	}
	fr.Push([]float32{4, 5, 6, 7, 8, 9}, emit)
	if len(frames) != 2 {
		t.Fatalf("emitted %d frames, want 2", len(frames))
	}
	if frames[0].Samples[0] != 1 || frames[1].Samples[3] != 8 {
		t.Errorf("frames = %v, %v", frames[0].Samples, frames[1].Samples)
	}
	if frames[1].Timestamp != 4*time.Millisecond {
		t.Errorf("second frame timestamp = %v, want 4ms", frames[1].Timestamp)
	}

	// Emitted frames must not alias the framer's internal buffer.
	fr.Push([]float32{10, 11, 12}, emit)
	if frames[1].Samples[0] != 5 {
		t.Errorf("frame was mutated after emission: %v", frames[1].Samples)
	}
}
