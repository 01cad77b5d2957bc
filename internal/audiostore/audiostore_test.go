package audiostore_test

import (
	"encoding/binary"
	"testing"
	"time"

	"github.com/MrWong99/realtime-telemetry/internal/audiostore"
)

// pcmChunk returns durationMs worth of silence at the given sample rate,
// mono, 16-bit.
func pcmChunk(durationMs int, sampleRate int) []byte {
	samples := sampleRate * durationMs / 1000
	return make([]byte, samples*2)
}

func TestAudioBufferRotation(t *testing.T) {
	// spec.md §8 scenario 4: window=1s, sample_rate=16000, channels=1, six
	// 400ms chunks appended. Expect duration in [1.0, 1.4]s, chunk_count<=3,
	// oldest evicted.
	s := audiostore.New(1)
	now := time.Now()

	var lastID string
	for i := 0; i < 6; i++ {
		id, err := s.Append("RT-2", pcmChunk(400, 16000), 16000, 1, now.Add(time.Duration(i)*400*time.Millisecond))
		if err != nil {
			t.Fatalf("Append %d: %v", i, err)
		}
		lastID = id
	}

	snap := s.Snapshot("RT-2")
	if !snap.Available {
		t.Fatalf("expected buffer to be available")
	}
	if snap.DurationS < 1.0 || snap.DurationS > 1.4 {
		t.Fatalf("expected duration in [1.0, 1.4], got %v", snap.DurationS)
	}
	if snap.ChunkCount > 3 {
		t.Fatalf("expected chunk_count <= 3, got %d", snap.ChunkCount)
	}
	if snap.LastChunkID != lastID {
		t.Fatalf("expected last_chunk_id %q, got %q", lastID, snap.LastChunkID)
	}
}

func TestSnapshotUnavailableWhenEmpty(t *testing.T) {
	s := audiostore.New(300)
	snap := s.Snapshot("missing")
	if snap.Available {
		t.Fatalf("expected unavailable snapshot for unknown call")
	}
	if snap.DurationS != 0 || snap.SampleRate != 0 {
		t.Fatalf("expected zeroed fields, got %+v", snap)
	}
	if snap.WindowSeconds != 300 {
		t.Fatalf("expected window_seconds echoed even when empty, got %v", snap.WindowSeconds)
	}
}

func TestFormatChangeStartsFreshBuffer(t *testing.T) {
	s := audiostore.New(300)
	now := time.Now()

	if _, err := s.Append("RT-1", pcmChunk(100, 8000), 8000, 1, now); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if _, err := s.Append("RT-1", pcmChunk(100, 16000), 16000, 1, now.Add(time.Second)); err != nil {
		t.Fatalf("Append: %v", err)
	}

	snap := s.Snapshot("RT-1")
	if snap.SampleRate != 16000 {
		t.Fatalf("expected buffer to restart at new sample rate, got %d", snap.SampleRate)
	}
	if snap.ChunkCount != 1 {
		t.Fatalf("expected old buffer discarded, got chunk_count=%d", snap.ChunkCount)
	}
}

func TestRenderWAVNoBufferReturnsErr(t *testing.T) {
	s := audiostore.New(300)
	if _, err := s.RenderWAV("missing"); err != audiostore.ErrNoBuffer {
		t.Fatalf("expected ErrNoBuffer, got %v", err)
	}
}

func TestRenderWAVHeaderIsCanonical(t *testing.T) {
	s := audiostore.New(300)
	now := time.Now()
	pcm := pcmChunk(250, 8000) // 2000 bytes
	if _, err := s.Append("RT-1", pcm, 8000, 1, now); err != nil {
		t.Fatalf("Append: %v", err)
	}

	wav, err := s.RenderWAV("RT-1")
	if err != nil {
		t.Fatalf("RenderWAV: %v", err)
	}
	if len(wav) != 44+len(pcm) {
		t.Fatalf("expected header+payload length %d, got %d", 44+len(pcm), len(wav))
	}
	if string(wav[0:4]) != "RIFF" || string(wav[8:12]) != "WAVE" {
		t.Fatalf("missing RIFF/WAVE markers")
	}
	if string(wav[12:16]) != "fmt " || string(wav[36:40]) != "data" {
		t.Fatalf("missing fmt /data subchunk markers")
	}
	if fmtTag := binary.LittleEndian.Uint16(wav[20:22]); fmtTag != 1 {
		t.Fatalf("expected PCM format tag 1, got %d", fmtTag)
	}
	if bits := binary.LittleEndian.Uint16(wav[34:36]); bits != 16 {
		t.Fatalf("expected bits_per_sample 16, got %d", bits)
	}
	if dataSize := binary.LittleEndian.Uint32(wav[40:44]); dataSize != uint32(len(pcm)) {
		t.Fatalf("expected data chunk size %d, got %d", len(pcm), dataSize)
	}
}

type recordingMirror struct {
	calls int
}

func (m *recordingMirror) MirrorChunk(callID string, sampleRate, channels int, c audiostore.PersistedChunk) {
	m.calls++
}

func TestMirrorIsInvokedOnAppend(t *testing.T) {
	s := audiostore.New(300)
	m := &recordingMirror{}
	s.SetMirror(m)

	if _, err := s.Append("RT-1", pcmChunk(100, 8000), 8000, 1, time.Now()); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if m.calls != 1 {
		t.Fatalf("expected mirror invoked once, got %d", m.calls)
	}
}
