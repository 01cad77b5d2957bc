package codec

import (
	"encoding/binary"
	"testing"
)

func TestParseEncodingCaseInsensitive(t *testing.T) {
	cases := map[string]Encoding{
		"pcmu": PCMU,
		"PCMU": PCMU,
		"PcmA": PCMA,
		"l16":  L16,
	}
	for in, want := range cases {
		got, ok := ParseEncoding(in)
		if !ok || got != want {
			t.Fatalf("ParseEncoding(%q) = %q, %v; want %q, true", in, got, ok, want)
		}
	}
	if _, ok := ParseEncoding("opus"); ok {
		t.Fatalf("ParseEncoding(opus) should not be recognised")
	}
}

func TestDecodeUnsupportedEncoding(t *testing.T) {
	_, err := Decode("OPUS", []byte{1, 2, 3}, true)
	if err == nil {
		t.Fatalf("expected error for unsupported encoding")
	}
}

func TestL16RoundTripBitExact(t *testing.T) {
	samples := []int16{0, 1, -1, 32767, -32768, 12345, -12345}
	payload := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.BigEndian.PutUint16(payload[i*2:], uint16(s))
	}

	decoded, err := Decode(L16, payload, true)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(decoded) != len(payload) {
		t.Fatalf("length mismatch: got %d want %d", len(decoded), len(payload))
	}
	for i, want := range samples {
		got := int16(binary.LittleEndian.Uint16(decoded[i*2:]))
		if got != want {
			t.Fatalf("sample %d: got %d want %d", i, got, want)
		}
	}
}

func TestPCMURoundTripWithinTolerance(t *testing.T) {
	const tolerance = 256 // companding is lossy; allow quantization error
	samples := []int16{0, 100, -100, 1000, -1000, 30000, -30000}

	for _, want := range samples {
		pcm := make([]byte, 2)
		binary.LittleEndian.PutUint16(pcm, uint16(want))
		encoded := EncodeMuLaw(pcm)
		decoded, err := Decode(PCMU, encoded, false)
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		got := int16(binary.LittleEndian.Uint16(decoded))
		diff := int(got) - int(want)
		if diff < 0 {
			diff = -diff
		}
		if diff > tolerance {
			t.Fatalf("sample %d decoded to %d, diff %d exceeds tolerance %d", want, got, diff, tolerance)
		}
	}
}

func TestPCMARoundTripWithinTolerance(t *testing.T) {
	const tolerance = 256
	samples := []int16{0, 100, -100, 1000, -1000, 30000, -30000}

	for _, want := range samples {
		pcm := make([]byte, 2)
		binary.LittleEndian.PutUint16(pcm, uint16(want))
		encoded := EncodeALaw(pcm)
		decoded, err := Decode(PCMA, encoded, false)
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		got := int16(binary.LittleEndian.Uint16(decoded))
		diff := int(got) - int(want)
		if diff < 0 {
			diff = -diff
		}
		if diff > tolerance {
			t.Fatalf("sample %d decoded to %d, diff %d exceeds tolerance %d", want, got, diff, tolerance)
		}
	}
}

func TestDecodePCMUSampleCount(t *testing.T) {
	payload := []byte{0xFF, 0x7F, 0x00, 0x80}
	decoded, err := Decode(PCMU, payload, false)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(decoded) != len(payload)*2 {
		t.Fatalf("expected %d bytes, got %d", len(payload)*2, len(decoded))
	}
}
