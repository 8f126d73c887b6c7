package audio_test

import (
	"encoding/binary"
	"errors"
	"io"
	"math"
	"testing"
	"time"

	"github.com/gastromaster/livevoice/pkg/audio"
)

// readSamples pulls n mono sample instants from tl and decodes them.
func readSamples(t *testing.T, tl *audio.Timeline, n int) []float32 {
	t.Helper()
	buf := make([]byte, n*4)
	got, err := tl.Read(buf)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if got != len(buf) {
		t.Fatalf("Read returned %d bytes, want %d", got, len(buf))
	}
	out := make([]float32, n)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
	}
	return out
}

func ones(n int, v float32) []float32 {
	s := make([]float32, n)
	for i := range s {
		s[i] = v
	}
	return s
}

func TestTimeline_ClockAdvancesWithReads(t *testing.T) {
	t.Parallel()

	tl := audio.NewTimeline(audio.Format{SampleRate: 1000, Channels: 1})
	if got := tl.Now(); got != 0 {
		t.Fatalf("Now() = %v, want 0", got)
	}
	readSamples(t, tl, 250)
	if got := tl.Now(); got != 250*time.Millisecond {
		t.Errorf("Now() = %v, want 250ms", got)
	}
}

func TestTimeline_RendersScheduledSpansAndSilence(t *testing.T) {
	t.Parallel()

	tl := audio.NewTimeline(audio.Format{SampleRate: 1000, Channels: 1})
	// [0,2) silence, [2,4) 0.5, [4,5) silence, [5,7) -0.5
	if err := tl.Schedule(5*time.Millisecond, ones(2, -0.5)); err != nil {
		t.Fatalf("Schedule: %v", err)
	}
	if err := tl.Schedule(2*time.Millisecond, ones(2, 0.5)); err != nil {
		t.Fatalf("Schedule: %v", err)
	}

	got := readSamples(t, tl, 8)
	want := []float32{0, 0, 0.5, 0.5, 0, -0.5, -0.5, 0}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sample %d = %v, want %v", i, got[i], want[i])
		}
	}
	if n := tl.Pending(); n != 0 {
		t.Errorf("Pending() = %d after rendering everything, want 0", n)
	}
}

func TestTimeline_SpanAcrossReads(t *testing.T) {
	t.Parallel()

	tl := audio.NewTimeline(audio.Format{SampleRate: 1000, Channels: 1})
	if err := tl.Schedule(0, []float32{0.1, 0.2, 0.3, 0.4}); err != nil {
		t.Fatalf("Schedule: %v", err)
	}
	first := readSamples(t, tl, 3)
	if first[2] != 0.3 {
		t.Errorf("first read tail = %v, want 0.3", first[2])
	}
	if n := tl.Pending(); n != 1 {
		t.Fatalf("Pending() = %d mid-span, want 1", n)
	}
	second := readSamples(t, tl, 2)
	if second[0] != 0.4 || second[1] != 0 {
		t.Errorf("second read = %v, want [0.4 0]", second)
	}
}

func TestTimeline_LateSpanIsClipped(t *testing.T) {
	t.Parallel()

	tl := audio.NewTimeline(audio.Format{SampleRate: 1000, Channels: 1})
	readSamples(t, tl, 2)
	if err := tl.Schedule(0, []float32{0.1, 0.2, 0.3}); err != nil {
		t.Fatalf("Schedule: %v", err)
	}
	got := readSamples(t, tl, 2)
	if got[0] != 0.3 || got[1] != 0 {
		t.Errorf("got %v, want [0.3 0]", got)
	}
}

func TestTimeline_Stereo(t *testing.T) {
	t.Parallel()

	tl := audio.NewTimeline(audio.Format{SampleRate: 1000, Channels: 2})
	if err := tl.Schedule(0, []float32{0.1, 0.2}); err != nil {
		t.Fatalf("Schedule: %v", err)
	}
	if err := tl.Schedule(0, []float32{0.1}); !errors.Is(err, audio.ErrMalformed) {
		t.Errorf("ragged stereo err = %v, want ErrMalformed", err)
	}
	buf := make([]byte, 8)
	if _, err := tl.Read(buf); err != nil {
		t.Fatalf("Read: %v", err)
	}
	l := math.Float32frombits(binary.LittleEndian.Uint32(buf[0:]))
	r := math.Float32frombits(binary.LittleEndian.Uint32(buf[4:]))
	if l != 0.1 || r != 0.2 {
		t.Errorf("frame = (%v, %v), want (0.1, 0.2)", l, r)
	}
	if got := tl.Now(); got != time.Millisecond {
		t.Errorf("Now() = %v, want 1ms", got)
	}
}

func TestTimeline_Close(t *testing.T) {
	t.Parallel()

	tl := audio.NewTimeline(audio.Format{SampleRate: 1000, Channels: 1})
	_ = tl.Schedule(0, ones(10, 1))
	if err := tl.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, err := tl.Read(make([]byte, 4)); !errors.Is(err, io.EOF) {
		t.Errorf("Read after Close err = %v, want io.EOF", err)
	}
	if err := tl.Schedule(0, ones(1, 1)); !errors.Is(err, audio.ErrDeviceClosed) {
		t.Errorf("Schedule after Close err = %v, want ErrDeviceClosed", err)
	}
	if err := tl.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
}
