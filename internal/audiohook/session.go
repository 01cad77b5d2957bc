package audiohook

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/MrWong99/realtime-telemetry/internal/codec"
)

// speakerAgent and speakerCustomer are the two fixed channels AudioHook
// streams: agent on the left, customer on the right, per §4.9.
const (
	speakerAgent    = "agent"
	speakerCustomer = "customer"
)

// sessionConfig carries everything a session needs that is shared across
// connections on a [Listener].
type sessionConfig struct {
	policy        flushPolicy
	audio         *forwarder
	events        *forwarder
	l16BigEndian  bool
	dryRun        bool
	readTimeout   time.Duration
}

// session drives one AudioHook connection's protocol state machine and
// per-speaker buffering.
type session struct {
	conn   *websocket.Conn
	cfg    sessionConfig
	connID string

	state          connState
	callID         string
	sampleRate     int
	encoding       codec.Encoding
	buffers        map[string]*speakerBuffer

	forwardedChunks atomic.Int64
	forwardedEvents atomic.Int64
	droppedFrames   atomic.Int64
}

func newSession(conn *websocket.Conn, connID string, cfg sessionConfig) *session {
	return &session{
		conn:    conn,
		cfg:     cfg,
		connID:  connID,
		state:   stateAccept,
		buffers: make(map[string]*speakerBuffer),
	}
}

// run drives the session until the websocket closes, ctx is cancelled, or
// a close/error transitions it to closed. It blocks until the connection
// ends.
func (s *session) run(ctx context.Context) {
	defer s.conn.Close()

	ctx, cancel := context.WithCancel(ctx)

	flushTicker := time.NewTicker(100 * time.Millisecond)
	defer flushTicker.Stop()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			select {
			case <-flushTicker.C:
				s.flushDue(ctx, time.Now())
			case <-ctx.Done():
				return
			}
		}
	}()
	defer func() { cancel(); <-done }()

	for {
		if s.cfg.readTimeout > 0 {
			s.conn.SetReadDeadline(time.Now().Add(s.cfg.readTimeout))
		}
		msgType, data, err := s.conn.ReadMessage()
		if err != nil {
			if s.state != stateClosing && s.state != stateClosed {
				slog.Warn("audiohook: connection read error", "conn_id", s.connID, "error", err)
			}
			s.flushAll(ctx, time.Now())
			return
		}

		switch msgType {
		case websocket.TextMessage:
			s.handleControl(ctx, data)
		case websocket.BinaryMessage:
			s.handleBinary(ctx, data)
		}

		if s.state == stateClosed {
			return
		}
	}
}

func (s *session) handleControl(ctx context.Context, data []byte) {
	var msg message
	if err := json.Unmarshal(data, &msg); err != nil {
		s.droppedFrames.Add(1)
		slog.Warn("audiohook: malformed control frame dropped", "conn_id", s.connID, "error", err)
		return
	}

	switch msg.Type {
	case typeOpen:
		s.handleOpen(msg)
	case typePing:
		s.writeJSON(message{Type: typePong, ID: msg.ID})
	case typeEvent:
		s.handleEvent(ctx, msg)
	case typeClose:
		s.handleClose(ctx, msg)
	default:
		s.droppedFrames.Add(1)
		slog.Warn("audiohook: unrecognised control frame type dropped", "conn_id", s.connID, "type", msg.Type)
	}
}

func (s *session) handleOpen(msg message) {
	var params openParameters
	if err := json.Unmarshal(msg.Parameters, &params); err != nil {
		s.fail(msg.ID, "malformed open parameters")
		return
	}

	chosen, enc, ok := negotiate(params.Media)
	if !ok {
		s.fail(msg.ID, "no acceptable media format offered")
		return
	}

	s.callID = params.ConversationID
	s.sampleRate = chosen.Rate
	s.encoding = enc
	now := time.Now()
	s.buffers[speakerAgent] = newSpeakerBuffer(speakerAgent, chosen.Rate, now)
	s.buffers[speakerCustomer] = newSpeakerBuffer(speakerCustomer, chosen.Rate, now)
	s.state = stateOpen

	s.writeJSON(message{
		Type: typeOpened,
		ID:   msg.ID,
		Parameters: mustJSON(openedParameters{
			Media: []mediaFormat{chosen},
		}),
	})
	s.state = stateStreaming
}

func (s *session) handleEvent(ctx context.Context, msg message) {
	var params eventParameters
	if err := json.Unmarshal(msg.Parameters, &params); err != nil {
		s.droppedFrames.Add(1)
		return
	}
	for _, e := range params.Entities {
		payload := eventPayload{
			Provider:  "genesys-audiohook",
			CallID:    s.callID,
			EventType: e.Type,
			Timestamp: time.Now().UTC().Format(time.RFC3339),
			Metadata:  e.Data,
		}
		s.deliverEvent(ctx, payload)
	}
}

func (s *session) handleClose(ctx context.Context, msg message) {
	s.state = stateClosing
	s.flushAll(ctx, time.Now())

	s.deliverEvent(ctx, eventPayload{
		Provider:  "genesys-audiohook",
		CallID:    s.callID,
		EventType: "end",
		Status:    "ended",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})

	s.writeJSON(message{Type: typeClosed, ID: msg.ID})
	s.state = stateClosed
}

// handleBinary routes a binary media frame through the negotiated codec and
// appends it to the appropriate speaker buffer. The frame is split evenly
// in half: the first half is the agent (left) channel, the second half the
// customer (right) channel — the dual-channel framing convention is a safe
// recommendation rather than a reverse-engineered wire requirement.
func (s *session) handleBinary(ctx context.Context, data []byte) {
	if s.state != stateStreaming && s.state != statePaused {
		s.droppedFrames.Add(1)
		return
	}
	if s.state == statePaused {
		return
	}

	half := len(data) / 2
	agentRaw, customerRaw := data[:half], data[half:]

	agentPCM, err := codec.Decode(s.encoding, agentRaw, s.cfg.l16BigEndian)
	if err != nil {
		s.droppedFrames.Add(1)
		return
	}
	customerPCM, err := codec.Decode(s.encoding, customerRaw, s.cfg.l16BigEndian)
	if err != nil {
		s.droppedFrames.Add(1)
		return
	}

	s.buffers[speakerAgent].append(agentPCM)
	s.buffers[speakerCustomer].append(customerPCM)
	s.flushDue(ctx, time.Now())
}

func (s *session) flushDue(ctx context.Context, now time.Time) {
	for _, speaker := range []string{speakerAgent, speakerCustomer} {
		buf := s.buffers[speaker]
		if buf == nil {
			continue
		}
		if s.cfg.policy.shouldFlush(buf, now) {
			s.flushBuffer(ctx, buf, now)
		}
	}
}

func (s *session) flushAll(ctx context.Context, now time.Time) {
	for _, speaker := range []string{speakerAgent, speakerCustomer} {
		buf := s.buffers[speaker]
		if buf != nil && !buf.empty() {
			s.flushBuffer(ctx, buf, now)
		}
	}
}

func (s *session) flushBuffer(ctx context.Context, buf *speakerBuffer, now time.Time) {
	pcm := buf.drain(now)
	if len(pcm) == 0 {
		return
	}
	if s.cfg.dryRun {
		slog.Info("audiohook: dry-run, not forwarding chunk", "conn_id", s.connID, "speaker", buf.speaker, "bytes", len(pcm))
		return
	}
	payload := encodeAudioChunk(s.callID, buf.speaker, pcm, buf.sampleRate)
	if err := s.cfg.audio.post(ctx, payload); err != nil {
		s.droppedFrames.Add(1)
		slog.Error("audiohook: audio forward exhausted retries", "conn_id", s.connID, "speaker", buf.speaker, "error", err)
		return
	}
	s.forwardedChunks.Add(1)
}

func (s *session) deliverEvent(ctx context.Context, payload eventPayload) {
	if s.cfg.dryRun {
		slog.Info("audiohook: dry-run, not forwarding event", "conn_id", s.connID, "event_type", payload.EventType)
		return
	}
	if err := s.cfg.events.post(ctx, payload); err != nil {
		slog.Error("audiohook: event forward exhausted retries", "conn_id", s.connID, "error", err)
		return
	}
	s.forwardedEvents.Add(1)
}

func (s *session) fail(correlationID, reason string) {
	s.state = stateError
	s.writeJSON(message{Type: typeError, ID: correlationID, Parameters: mustJSON(map[string]string{"reason": reason})})
	s.state = stateClosed
}

func (s *session) writeJSON(msg message) {
	data, err := json.Marshal(msg)
	if err != nil {
		slog.Error("audiohook: encode outbound message", "conn_id", s.connID, "error", err)
		return
	}
	if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		slog.Warn("audiohook: write outbound message", "conn_id", s.connID, "error", err)
	}
}

func mustJSON(v any) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		return json.RawMessage(fmt.Sprintf("%q", err.Error()))
	}
	return data
}
