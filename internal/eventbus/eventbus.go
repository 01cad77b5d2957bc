// Package eventbus implements the per-call topic pub/sub fan-out (C5) that
// feeds the SSE streamer. Delivery is best-effort and non-blocking: a full
// subscriber channel has its oldest pending envelope dropped rather than
// stalling the publisher, so one slow browser tab can never back up event
// ingestion for every other call.
package eventbus

import (
	"encoding/json"
	"sync"
	"time"
)

// Envelope type tags, per §4.5.
const (
	TypeRealtimeEvent      = "realtime_event"
	TypeSupervisorAlert    = "supervisor_alert"
	TypeSupervisorAlertAck = "supervisor_alert_ack"
	TypeStatus             = "status"
	TypeHeartbeat          = "heartbeat"
)

// Envelope is the JSON message shape emitted on the SSE stream: a "type"
// discriminator plus the type-specific payload fields flattened alongside
// it.
type Envelope struct {
	Type      string
	Payload   map[string]any
	Timestamp time.Time
}

// MarshalJSON flattens Payload's keys alongside "type" and "timestamp" at
// the top level, matching the {type, ...payload} shape callers expect on
// the wire.
func (e Envelope) MarshalJSON() ([]byte, error) {
	m := make(map[string]any, len(e.Payload)+2)
	for k, v := range e.Payload {
		m[k] = v
	}
	m["type"] = e.Type
	if !e.Timestamp.IsZero() {
		m["timestamp"] = e.Timestamp
	}
	return json.Marshal(m)
}

func newEnvelope(typ string, payload map[string]any, now time.Time) Envelope {
	return Envelope{Type: typ, Payload: payload, Timestamp: now}
}

// defaultSubscriberBuffer matches the per-subscriber channel capacity in
// §5 ("Backpressure").
const defaultSubscriberBuffer = 64

// defaultHeartbeatInterval is the maximum silence period before a
// heartbeat envelope is emitted, per §4.5.
const defaultHeartbeatInterval = 20 * time.Second

// Bus is an in-process, topic-per-call_id publish/subscribe fan-out.
type Bus struct {
	mu                sync.Mutex
	topics            map[string]map[*subscription]struct{}
	subscriberBuffer  int
	heartbeatInterval time.Duration
}

// New returns a ready-to-use [Bus] with default buffer size and heartbeat
// interval.
func New() *Bus {
	return &Bus{
		topics:            make(map[string]map[*subscription]struct{}),
		subscriberBuffer:  defaultSubscriberBuffer,
		heartbeatInterval: defaultHeartbeatInterval,
	}
}

// subscription is one subscriber's delivery channel plus the plumbing to
// stop its heartbeat goroutine on teardown.
type subscription struct {
	callID string
	ch     chan Envelope
	stop   chan struct{}
	once   sync.Once
}

// Subscription is the caller-facing handle returned by [Bus.Subscribe].
type Subscription struct {
	C    <-chan Envelope
	bus  *Bus
	sub  *subscription
}

// Subscribe registers a new subscriber for callID and starts its
// heartbeat ticker. The caller must call Close when done to release
// resources.
func (b *Bus) Subscribe(callID string) *Subscription {
	sub := &subscription{
		callID: callID,
		ch:     make(chan Envelope, b.subscriberBuffer),
		stop:   make(chan struct{}),
	}

	b.mu.Lock()
	if b.topics[callID] == nil {
		b.topics[callID] = make(map[*subscription]struct{})
	}
	b.topics[callID][sub] = struct{}{}
	b.mu.Unlock()

	go b.heartbeatLoop(sub)

	return &Subscription{C: sub.ch, bus: b, sub: sub}
}

// Close unsubscribes and releases the subscriber's resources. Safe to call
// more than once.
func (s *Subscription) Close() {
	s.sub.once.Do(func() {
		close(s.sub.stop)
		s.bus.mu.Lock()
		if subs := s.bus.topics[s.sub.callID]; subs != nil {
			delete(subs, s.sub)
			if len(subs) == 0 {
				delete(s.bus.topics, s.sub.callID)
			}
		}
		s.bus.mu.Unlock()
	})
}

func (b *Bus) heartbeatLoop(sub *subscription) {
	ticker := time.NewTicker(b.heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-sub.stop:
			return
		case now := <-ticker.C:
			deliver(sub.ch, newEnvelope(TypeHeartbeat, nil, now))
		}
	}
}

// publish sends env to every current subscriber of callID, dropping the
// oldest pending envelope for any subscriber whose channel is full.
func (b *Bus) publish(callID string, env Envelope) {
	b.mu.Lock()
	subs := make([]*subscription, 0, len(b.topics[callID]))
	for s := range b.topics[callID] {
		subs = append(subs, s)
	}
	b.mu.Unlock()

	for _, s := range subs {
		deliver(s.ch, env)
	}
}

// deliver is a non-blocking send that drops the oldest queued envelope
// when ch is full, then retries once.
func deliver(ch chan Envelope, env Envelope) {
	select {
	case ch <- env:
		return
	default:
	}
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- env:
	default:
		// Another goroutine raced us and refilled the channel; the
		// subscriber simply misses this envelope, which is within the
		// best-effort delivery contract.
	}
}

// PublishRealtimeEvent publishes a realtime_event envelope for callID.
func (b *Bus) PublishRealtimeEvent(callID string, payload map[string]any, now time.Time) {
	b.publish(callID, newEnvelope(TypeRealtimeEvent, payload, now))
}

// PublishSupervisorAlert publishes a supervisor_alert envelope for callID.
func (b *Bus) PublishSupervisorAlert(callID string, payload map[string]any, now time.Time) {
	b.publish(callID, newEnvelope(TypeSupervisorAlert, payload, now))
}

// PublishSupervisorAlertAck publishes a supervisor_alert_ack envelope for
// callID.
func (b *Bus) PublishSupervisorAlertAck(callID string, payload map[string]any, now time.Time) {
	b.publish(callID, newEnvelope(TypeSupervisorAlertAck, payload, now))
}

// PublishStatus publishes a status envelope for callID.
func (b *Bus) PublishStatus(callID string, payload map[string]any, now time.Time) {
	b.publish(callID, newEnvelope(TypeStatus, payload, now))
}

// SubscriberCount returns the number of active subscribers for callID,
// chiefly for tests and metrics.
func (b *Bus) SubscriberCount(callID string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.topics[callID])
}
