package audiohook

import "github.com/MrWong99/realtime-telemetry/internal/codec"

// preference is tried in order; the AudioHook negotiation tie-break order is
// not canonical upstream, so this is a safe recommendation rather than a
// reverse-engineered requirement, per §9.
var preference = []mediaFormat{
	{Type: "audio", Format: "L16", Rate: 16000},
	{Type: "audio", Format: "PCMU", Rate: 8000},
	{Type: "audio", Format: "PCMA", Rate: 8000},
}

// negotiate picks the first preference entry present in offered, returning
// the chosen format and its decode encoding. ok is false if none match.
func negotiate(offered []mediaFormat) (mediaFormat, codec.Encoding, bool) {
	for _, want := range preference {
		for _, got := range offered {
			if got.Type == want.Type && got.Format == want.Format && got.Rate == want.Rate {
				enc, ok := codec.ParseEncoding(got.Format)
				if !ok {
					continue
				}
				return got, enc, true
			}
		}
	}
	return mediaFormat{}, "", false
}
