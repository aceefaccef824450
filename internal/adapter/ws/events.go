package ws

import (
	"context"
	"encoding/json"
)

// sessionScoped is implemented by payloads that belong to one flow.
type sessionScoped interface {
	FlowSessionID() string
}

// BroadcastEvent marshals payload and broadcasts it. Payloads carrying a
// session ID only reach clients watching that flow or all flows.
func (h *Hub) BroadcastEvent(ctx context.Context, eventType string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		h.log.Error("marshal ws event payload", "type", eventType, "error", err)
		return
	}

	var sessionID string
	if s, ok := payload.(sessionScoped); ok {
		sessionID = s.FlowSessionID()
	}

	h.Broadcast(ctx, sessionID, Message{
		Type:    eventType,
		Payload: json.RawMessage(data),
	})
}
