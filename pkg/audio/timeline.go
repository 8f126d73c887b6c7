package audio

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"sort"
	"sync"
	"time"
)

var _ OutputDevice = (*Timeline)(nil)

// bytesPerSample is the width of one rendered float32 sample.
const bytesPerSample = 4

type span struct {
	start   int64 // first sample instant
	samples []float32
}

func (s span) end(channels int) int64 { return s.start + int64(len(s.samples)/channels) }

// Timeline renders scheduled buffers into a pull-based stream of float32
// little-endian samples. Its clock is the number of sample instants that
// have been read, which makes it suitable as the source of a sound card
// player: the card pulls, and Now advances as it does.
//
// Gaps between scheduled buffers render as silence. A buffer scheduled
// behind the read position loses the part that is already in the past.
//
// All methods are safe for concurrent use.
type Timeline struct {
	format Format

	mu      sync.Mutex
	pos     int64
	pending []span
	closed  bool
}

// NewTimeline returns an empty Timeline positioned at zero.
func NewTimeline(f Format) *Timeline {
	if f.Channels <= 0 {
		f.Channels = 1
	}
	return &Timeline{format: f}
}

// Format reports the timeline's sample format.
func (t *Timeline) Format() Format { return t.format }

// Now returns the current read position as a duration.
func (t *Timeline) Now() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.toDuration(t.pos)
}

// Schedule places samples so they begin at the absolute position at.
func (t *Timeline) Schedule(at time.Duration, samples []float32) error {
	if len(samples)%t.format.Channels != 0 {
		return fmt.Errorf("%w: %d samples not divisible by %d channels", ErrMalformed, len(samples), t.format.Channels)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return ErrDeviceClosed
	}
	s := span{start: t.toInstant(at), samples: samples}
	i := sort.Search(len(t.pending), func(i int) bool { return t.pending[i].start > s.start })
	t.pending = append(t.pending, span{})
	copy(t.pending[i+1:], t.pending[i:])
	t.pending[i] = s
	return nil
}

// Pending returns the number of buffers that have not finished rendering.
func (t *Timeline) Pending() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pending)
}

// Read renders the next whole sample instants that fit into p and advances
// the clock. It returns io.EOF once the timeline is closed.
func (t *Timeline) Read(p []byte) (int, error) {
	frameBytes := bytesPerSample * t.format.Channels
	n := int64(len(p) / frameBytes)

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return 0, io.EOF
	}
	if n == 0 {
		return 0, nil
	}

	ch := t.format.Channels
	from, to := t.pos, t.pos+n
	out := p[:n*int64(frameBytes)]
	clear(out)

	keep := t.pending[:0]
	for _, s := range t.pending {
		if s.start >= to {
			keep = append(keep, s)
			continue
		}
		lo := max(s.start, from)
		hi := min(s.end(ch), to)
		for k := lo; k < hi; k++ {
			src := s.samples[(k-s.start)*int64(ch):]
			dst := out[(k-from)*int64(frameBytes):]
			for c := range ch {
				binary.LittleEndian.PutUint32(dst[c*bytesPerSample:], math.Float32bits(src[c]))
			}
		}
		if s.end(ch) > to {
			keep = append(keep, s)
		}
	}
	clear(t.pending[len(keep):])
	t.pending = keep
	t.pos = to
	return len(out), nil
}

// Close discards pending buffers and makes further reads return io.EOF.
func (t *Timeline) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	t.pending = nil
	return nil
}

func (t *Timeline) toInstant(d time.Duration) int64 {
	return int64(math.Round(d.Seconds() * float64(t.format.SampleRate)))
}

func (t *Timeline) toDuration(instant int64) time.Duration {
	if t.format.SampleRate <= 0 {
		return 0
	}
	return time.Duration(instant * int64(time.Second) / int64(t.format.SampleRate))
}
