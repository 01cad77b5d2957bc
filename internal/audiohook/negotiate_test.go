package audiohook

import "testing"

func TestNegotiatePrefersL16Over8kCodecs(t *testing.T) {
	offered := []mediaFormat{
		{Type: "audio", Format: "PCMU", Rate: 8000},
		{Type: "audio", Format: "L16", Rate: 16000},
		{Type: "audio", Format: "PCMA", Rate: 8000},
	}
	chosen, enc, ok := negotiate(offered)
	if !ok || chosen.Format != "L16" || enc != "L16" {
		t.Fatalf("expected L16 to win, got %+v enc=%v ok=%v", chosen, enc, ok)
	}
}

func TestNegotiateFallsBackToPCMU(t *testing.T) {
	offered := []mediaFormat{
		{Type: "audio", Format: "PCMA", Rate: 8000},
		{Type: "audio", Format: "PCMU", Rate: 8000},
	}
	chosen, _, ok := negotiate(offered)
	if !ok || chosen.Format != "PCMU" {
		t.Fatalf("expected PCMU fallback, got %+v ok=%v", chosen, ok)
	}
}

func TestNegotiateNoAcceptableFormat(t *testing.T) {
	offered := []mediaFormat{{Type: "audio", Format: "OPUS", Rate: 48000}}
	if _, _, ok := negotiate(offered); ok {
		t.Fatal("expected negotiation to fail for an unsupported format")
	}
}
