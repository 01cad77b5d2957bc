package audiohook

import (
	"testing"
	"time"
)

func pcm16(ms, sampleRate int) []byte {
	return make([]byte, (sampleRate*ms/1000)*2)
}

func TestShouldFlushOnMinDurationAndInterval(t *testing.T) {
	now := time.Now()
	b := newSpeakerBuffer(speakerAgent, 16000, now)
	b.append(pcm16(350, 16000))

	p := flushPolicy{minChunkMS: 300, flushInterval: 750 * time.Millisecond, maxChunkMS: 2000}
	if p.shouldFlush(b, now) {
		t.Fatal("should not flush before the interval has elapsed even past min duration")
	}
	if !p.shouldFlush(b, now.Add(800*time.Millisecond)) {
		t.Fatal("expected flush once both min duration and interval are satisfied")
	}
}

func TestShouldFlushOnMaxDurationRegardlessOfInterval(t *testing.T) {
	now := time.Now()
	b := newSpeakerBuffer(speakerAgent, 16000, now)
	b.append(pcm16(2100, 16000))

	p := flushPolicy{minChunkMS: 300, flushInterval: 750 * time.Millisecond, maxChunkMS: 2000}
	if !p.shouldFlush(b, now) {
		t.Fatal("expected immediate flush once max duration is reached")
	}
}

func TestShouldNotFlushEmptyBuffer(t *testing.T) {
	now := time.Now()
	b := newSpeakerBuffer(speakerAgent, 16000, now)
	p := defaultFlushPolicy()
	if p.shouldFlush(b, now.Add(time.Hour)) {
		t.Fatal("an empty buffer should never be flushed")
	}
}

func TestDrainResetsBufferAndLastFlush(t *testing.T) {
	now := time.Now()
	b := newSpeakerBuffer(speakerAgent, 16000, now)
	b.append(pcm16(400, 16000))

	later := now.Add(time.Second)
	pcm := b.drain(later)
	if len(pcm) == 0 {
		t.Fatal("expected drained pcm to be non-empty")
	}
	if !b.empty() {
		t.Fatal("expected buffer to be empty after drain")
	}
	if b.lastFlush != later {
		t.Fatalf("expected lastFlush updated to %v, got %v", later, b.lastFlush)
	}
}
