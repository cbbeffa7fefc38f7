package ws

import (
	"time"

	"walletchat/internal/domain"
)

// Inbound event types.
const (
	evtSendMessage = "send_message"
	evtJoinGroup   = "join_group"
	evtLeaveGroup  = "leave_group"
	evtTyping      = "typing"
	evtStopTyping  = "stop_typing"
)

// Outbound event types.
const (
	evtNewMessage     = "new_message"
	evtMessageRead    = "message_read"
	evtUserOnline     = "user_online"
	evtUserOffline    = "user_offline"
	evtUserTyping     = "user_typing"
	evtUserStopTyping = "user_stop_typing"
	evtError          = "error"
)

type inboundEvent struct {
	Type    string       `json:"type"`
	To      string       `json:"to,omitempty"`
	GroupID string       `json:"group_id,omitempty"`
	Message *messageBody `json:"message,omitempty"`
}

type messageBody struct {
	Type      domain.MessageType `json:"type"`
	Content   string             `json:"content,omitempty"`
	File      *domain.FileInfo   `json:"file,omitempty"`
	Encrypted bool               `json:"encrypted,omitempty"`
	ReplyTo   *string            `json:"reply_to,omitempty"`
}

func newMessagePayload(m *domain.Message) map[string]any {
	p := map[string]any{
		"type":    evtNewMessage,
		"message": m,
		"from":    m.From,
	}
	if peer, ok := m.Scope.Peer(); ok {
		p["to"] = peer
	}
	if groupID, ok := m.Scope.Group(); ok {
		p["group_id"] = groupID
	}
	return p
}

func messageReadPayload(m *domain.Message, reader string, at time.Time) map[string]any {
	return map[string]any{
		"type":       evtMessageRead,
		"message_id": m.ID,
		"reader":     reader,
		"read_at":    at,
	}
}

func errorPayload(msg string) map[string]any {
	return map[string]any{
		"type":    evtError,
		"message": msg,
	}
}
