package audiohook

import "time"

// speakerBuffer accumulates decoded PCM for one channel (agent or customer)
// between flushes, per the buffering policy in §4.9.
type speakerBuffer struct {
	speaker    string
	sampleRate int
	pcm        []byte
	lastFlush  time.Time
}

func newSpeakerBuffer(speaker string, sampleRate int, now time.Time) *speakerBuffer {
	return &speakerBuffer{speaker: speaker, sampleRate: sampleRate, lastFlush: now}
}

func (b *speakerBuffer) append(pcm []byte) {
	b.pcm = append(b.pcm, pcm...)
}

func (b *speakerBuffer) durationMS() int {
	if b.sampleRate == 0 {
		return 0
	}
	samples := len(b.pcm) / 2
	return samples * 1000 / b.sampleRate
}

func (b *speakerBuffer) empty() bool { return len(b.pcm) == 0 }

// flushPolicy holds the three configurable thresholds from §4.9.
type flushPolicy struct {
	minChunkMS    int
	flushInterval time.Duration
	maxChunkMS    int
}

func defaultFlushPolicy() flushPolicy {
	return flushPolicy{minChunkMS: 300, flushInterval: 750 * time.Millisecond, maxChunkMS: 2000}
}

// shouldFlush reports whether b should be flushed now under p: either the
// buffer has reached the minimum chunk duration and the flush interval has
// elapsed, or it has reached the hard maximum duration regardless of
// interval.
func (p flushPolicy) shouldFlush(b *speakerBuffer, now time.Time) bool {
	if b.empty() {
		return false
	}
	dur := b.durationMS()
	if dur >= p.maxChunkMS {
		return true
	}
	return dur >= p.minChunkMS && now.Sub(b.lastFlush) >= p.flushInterval
}

// drain returns the buffered PCM and resets the buffer for the next chunk.
func (b *speakerBuffer) drain(now time.Time) []byte {
	pcm := b.pcm
	b.pcm = nil
	b.lastFlush = now
	return pcm
}
