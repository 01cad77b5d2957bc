package audiohook

import "encoding/json"

// connState is the per-connection lifecycle state, per §4.9:
//
//	accept -> open_pending -> open -> streaming <-> paused -> closing -> closed
//	                          \-> error -> closed
type connState string

const (
	stateAccept      connState = "accept"
	stateOpenPending connState = "open_pending"
	stateOpen        connState = "open"
	stateStreaming   connState = "streaming"
	statePaused      connState = "paused"
	stateClosing     connState = "closing"
	stateClosed      connState = "closed"
	stateError       connState = "error"
)

// message is the envelope for every AudioHook JSON control frame.
type message struct {
	Version    string          `json:"version,omitempty"`
	Type       string          `json:"type"`
	Seq        int             `json:"seq,omitempty"`
	ID         string          `json:"id,omitempty"`
	Parameters json.RawMessage `json:"parameters,omitempty"`
}

const (
	typeOpen   = "open"
	typeOpened = "opened"
	typePing   = "ping"
	typePong   = "pong"
	typeEvent  = "event"
	typeClose  = "close"
	typeClosed = "closed"
	typeError  = "error"
)

// mediaFormat is one entry of an open negotiation's offered/accepted media.
type mediaFormat struct {
	Type     string   `json:"type"`
	Format   string   `json:"format"`
	Rate     int      `json:"rate"`
	Channels []string `json:"channels"`
}

type openParameters struct {
	ConversationID string        `json:"conversationId"`
	Participant    participant   `json:"participant"`
	Media          []mediaFormat `json:"media"`
}

type participant struct {
	ID       string `json:"id"`
	AgentID  string `json:"agentId,omitempty"`
	ANI      string `json:"ani,omitempty"`
}

type openedParameters struct {
	Media       []mediaFormat `json:"media"`
	StartPaused bool          `json:"startPaused"`
}

type closeParameters struct {
	Reason string `json:"reason"`
}

type eventParameters struct {
	Entities []eventEntity `json:"entities"`
}

type eventEntity struct {
	Type string         `json:"type"`
	Data map[string]any `json:"data"`
}
