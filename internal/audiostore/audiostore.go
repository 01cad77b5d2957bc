// Package audiostore implements the rolling per-call PCM ring (C2): a
// bounded, append-only buffer of raw audio chunks that can be rendered back
// out as a WAV file or summarised as a snapshot. It is the audio analogue of
// the realtime repository — in-memory primary, with an optional on-disk
// mirror for crash recovery that correctness never depends on.
package audiostore

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"sync"
	"time"
)

const sampleWidthBytes = 2 // PCM S16LE, always two bytes per sample.

// chunk is one retained append, never mutated once stored.
type chunk struct {
	id         string
	pcm        []byte
	durationS  float64
	receivedAt time.Time
}

// buffer is the rolling window for a single call_id.
type buffer struct {
	sampleRate int
	channels   int
	chunks     []chunk
	seq        int64
	updatedAt  time.Time
}

func (b *buffer) durationS() float64 {
	var total float64
	for _, c := range b.chunks {
		total += c.durationS
	}
	return total
}

// Store is a thread-safe rolling audio store keyed by call_id. The zero
// value is not ready to use; construct with [New].
type Store struct {
	mu            sync.Mutex
	windowSeconds float64
	buffers       map[string]*buffer
	mirror        Mirror
}

// Mirror optionally persists chunk metadata and payloads for crash
// recovery. Failures are logged by the implementation, never returned:
// correctness of the rolling window never depends on the mirror succeeding.
type Mirror interface {
	MirrorChunk(callID string, sampleRate, channels int, c PersistedChunk)
}

// PersistedChunk is the exported view of an appended chunk handed to a
// [Mirror], decoupled from the package-private chunk representation.
type PersistedChunk struct {
	ID         string
	PCM        []byte
	DurationS  float64
	ReceivedAt time.Time
}

// New returns a [Store] with the given rolling window size in seconds.
func New(windowSeconds float64) *Store {
	if windowSeconds <= 0 {
		windowSeconds = 300
	}
	return &Store{
		windowSeconds: windowSeconds,
		buffers:       make(map[string]*buffer),
	}
}

// SetMirror attaches an optional durable mirror. Call once at startup.
func (s *Store) SetMirror(m Mirror) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mirror = m
}

// Append adds one PCM chunk to call_id's rolling buffer, returning the
// allocated chunk_id. If an existing buffer's sample_rate or channels
// differ from this append, the old buffer is discarded and a fresh one
// started — a media-format change is only legal at chunk boundaries.
func (s *Store) Append(callID string, pcm []byte, sampleRate, channels int, now time.Time) (string, error) {
	if sampleRate <= 0 || channels <= 0 {
		return "", fmt.Errorf("audiostore: invalid sample_rate=%d channels=%d", sampleRate, channels)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.buffers[callID]
	if !ok || b.sampleRate != sampleRate || b.channels != channels {
		b = &buffer{sampleRate: sampleRate, channels: channels}
		s.buffers[callID] = b
	}

	b.seq++
	id := fmt.Sprintf("%d_%d", now.UnixMilli(), b.seq)
	durationS := float64(len(pcm)) / float64(sampleRate*channels*sampleWidthBytes)

	c := chunk{id: id, pcm: pcm, durationS: durationS, receivedAt: now}
	b.chunks = append(b.chunks, c)
	b.updatedAt = now

	// Eviction: drop from the front, but only while the front chunk is pure
	// overhang — i.e. the window still holds without it. This keeps the
	// buffer at window_seconds plus at most one chunk's worth of spill,
	// rather than collapsing it down near window_seconds minus a chunk.
	for len(b.chunks) > 1 && b.durationS()-b.chunks[0].durationS > s.windowSeconds {
		b.chunks = b.chunks[1:]
	}

	if s.mirror != nil {
		s.mirror.MirrorChunk(callID, sampleRate, channels, PersistedChunk{
			ID: c.id, PCM: c.pcm, DurationS: c.durationS, ReceivedAt: c.receivedAt,
		})
	}
	return id, nil
}

// Snapshot is the metadata contract of the rolling buffer, independent of
// the realtime model package to keep audiostore free of that dependency;
// callers map this into model.AudioSnapshot.
type Snapshot struct {
	Available     bool
	DurationS     float64
	SampleRate    int
	Channels      int
	SampleWidth   int
	ChunkCount    int
	UpdatedAt     time.Time
	LastChunkID   string
	WindowSeconds float64
}

// Snapshot reports call_id's rolling buffer metadata. Available is false
// with zeroed fields when no buffer exists; WindowSeconds is still reported.
func (s *Store) Snapshot(callID string) Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.buffers[callID]
	if !ok || len(b.chunks) == 0 {
		return Snapshot{WindowSeconds: s.windowSeconds}
	}

	return Snapshot{
		Available:     true,
		DurationS:     b.durationS(),
		SampleRate:    b.sampleRate,
		Channels:      b.channels,
		SampleWidth:   sampleWidthBytes,
		ChunkCount:    len(b.chunks),
		UpdatedAt:     b.updatedAt,
		LastChunkID:   b.chunks[len(b.chunks)-1].id,
		WindowSeconds: s.windowSeconds,
	}
}

// ErrNoBuffer is returned by RenderWAV when call_id has no rolling buffer.
var ErrNoBuffer = fmt.Errorf("audiostore: no buffer for call")

// RenderWAV materializes the current rolling buffer as a canonical 44-byte
// header PCM WAV file. Returns ErrNoBuffer if nothing has been appended.
func (s *Store) RenderWAV(callID string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.buffers[callID]
	if !ok || len(b.chunks) == 0 {
		return nil, ErrNoBuffer
	}

	var pcm bytes.Buffer
	for _, c := range b.chunks {
		pcm.Write(c.pcm)
	}
	return encodeWAV(pcm.Bytes(), b.sampleRate, b.channels), nil
}

// encodeWAV wraps raw little-endian PCM S16LE samples in a canonical
// 44-byte RIFF/WAVE header.
func encodeWAV(pcm []byte, sampleRate, channels int) []byte {
	const bitsPerSample = 16
	byteRate := sampleRate * channels * bitsPerSample / 8
	blockAlign := channels * bitsPerSample / 8
	dataSize := uint32(len(pcm))

	out := bytes.NewBuffer(make([]byte, 0, 44+len(pcm)))
	out.WriteString("RIFF")
	writeUint32(out, 36+dataSize)
	out.WriteString("WAVE")

	out.WriteString("fmt ")
	writeUint32(out, 16) // PCM fmt chunk size
	writeUint16(out, 1)  // format tag 1 = PCM
	writeUint16(out, uint16(channels))
	writeUint32(out, uint32(sampleRate))
	writeUint32(out, uint32(byteRate))
	writeUint16(out, uint16(blockAlign))
	writeUint16(out, uint16(bitsPerSample))

	out.WriteString("data")
	writeUint32(out, dataSize)
	out.Write(pcm)

	return out.Bytes()
}

func writeUint32(buf *bytes.Buffer, v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	buf.Write(b[:])
}

func writeUint16(buf *bytes.Buffer, v uint16) {
	var b [2]byte
	binary.LittleEndian.PutUint16(b[:], v)
	buf.Write(b[:])
}
