package connector

import (
	"strings"
	"time"
)

// notification is one frame delivered over a Genesys notification channel
// websocket: a topic name plus an opaque, topic-specific event body.
type notification struct {
	TopicName string         `json:"topicName"`
	EventBody map[string]any `json:"eventBody"`
}

// heartbeatTopic is the well-known topic Genesys uses for channel keep-alives.
const heartbeatTopic = "channel.metadata"

// isHeartbeat reports whether n is a channel keep-alive rather than a
// subscribed topic event.
func (n notification) isHeartbeat() bool {
	return n.TopicName == heartbeatTopic
}

// eventPayload mirrors internal/realtime/ingestapi's inbound event JSON
// shape so the connector can POST directly to /api/realtime/events without
// importing that package.
type eventPayload struct {
	Provider   string         `json:"provider"`
	CallID     string         `json:"call_id"`
	EventType  string         `json:"event_type"`
	Speaker    string         `json:"speaker,omitempty"`
	Text       string         `json:"text,omitempty"`
	Status     string         `json:"status,omitempty"`
	Timestamp  string         `json:"timestamp,omitempty"`
	AgentID    string         `json:"agent_id,omitempty"`
	CustomerID string         `json:"customer_id,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// normalize maps one Genesys notification into the realtime event payload
// schema. ok is false when the message should be logged and dropped rather
// than forwarded (no recoverable call_id).
//
// Only conversation topics (v2.conversations.*, v2.users.*.conversations,
// v2.routing.queues.*.conversations) get a best-effort participant-state
// mapping; the exact Genesys→RealtimeEvent mapping for other topics
// (routing estimates, presence) is unspecified upstream, so they pass
// through as event_type "custom" with the raw body preserved.
func normalize(n notification, now time.Time) (eventPayload, bool) {
	payload := eventPayload{
		Provider:  "genesys",
		Timestamp: now.UTC().Format(time.RFC3339),
	}

	id, _ := n.EventBody["id"].(string)
	if id == "" {
		return eventPayload{}, false
	}
	payload.CallID = id

	if !isConversationTopic(n.TopicName) {
		payload.EventType = "custom"
		payload.Metadata = map[string]any{
			"topic_name": n.TopicName,
			"raw":        n.EventBody,
		}
		return payload, true
	}

	participants, _ := n.EventBody["participants"].([]any)
	agentID, customerID, terminal := "", "", false
	for _, p := range participants {
		part, ok := p.(map[string]any)
		if !ok {
			continue
		}
		purpose, _ := part["purpose"].(string)
		partID, _ := part["id"].(string)
		state, _ := part["state"].(string)

		switch purpose {
		case "agent":
			agentID = partID
		case "customer", "external":
			customerID = partID
		}
		if state == "disconnected" || state == "terminated" {
			terminal = true
		}
	}

	payload.AgentID = agentID
	payload.CustomerID = customerID
	payload.Metadata = map[string]any{"topic_name": n.TopicName}

	if terminal {
		payload.EventType = "end"
		payload.Status = "ended"
	} else {
		payload.EventType = "status"
		payload.Status = "active"
	}
	return payload, true
}

func isConversationTopic(topic string) bool {
	return strings.Contains(topic, ".conversations")
}
